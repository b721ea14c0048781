// Copyright (c) 2018 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btclog"
	"github.com/davecgh/go-spew/spew"
	flags "github.com/jessevdk/go-flags"

	"github.com/sken77/bitcoin-s-core/psbt"
)

const (
	cmdDecode   = "decode"
	cmdCreate   = "create"
	cmdCombine  = "combine"
	cmdFinalize = "finalize"
	cmdExtract  = "extract"
)

var usageCommands = strings.Join([]string{
	cmdDecode, cmdCreate, cmdCombine, cmdFinalize, cmdExtract,
}, "|")

type config struct {
	Input      string `short:"i" long:"input" description:"Read the packet from this file instead of stdin"`
	Output     string `short:"o" long:"output" description:"Write the result to this file instead of stdout"`
	Hex        bool   `long:"hex" description:"Emit results hex encoded instead of base64"`
	DebugLevel string `short:"d" long:"debuglevel" default:"off" description:"Logging level {off, trace, debug, info, warn, error, critical}"`
}

var cfg = config{}

// readSource returns the contents of the configured input file, or stdin
// when no file was given.
func readSource() (string, error) {
	if cfg.Input != "" {
		raw, err := os.ReadFile(cfg.Input)
		if err != nil {
			return "", err
		}
		return string(raw), nil
	}

	raw, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// writeResult emits the result to the configured output file or stdout.
func writeResult(s string) error {
	if cfg.Output != "" {
		return os.WriteFile(cfg.Output, []byte(s+"\n"), 0644)
	}

	_, err := fmt.Println(s)
	return err
}

// encodePacket renders a packet in the configured text encoding.
func encodePacket(p *psbt.Packet) (string, error) {
	if cfg.Hex {
		return p.HexEncode()
	}
	return p.B64Encode()
}

// loadPacket parses a packet from text, accepting hex or base64.
func loadPacket(s string) (*psbt.Packet, error) {
	return psbt.NewFromString(s)
}

func decodeCommand() error {
	src, err := readSource()
	if err != nil {
		return err
	}

	p, err := loadPacket(src)
	if err != nil {
		return err
	}

	return writeResult(spew.Sdump(p))
}

func createCommand() error {
	src, err := readSource()
	if err != nil {
		return err
	}

	rawTx, err := hex.DecodeString(strings.TrimSpace(src))
	if err != nil {
		return err
	}

	tx := wire.NewMsgTx(2)
	if err := tx.Deserialize(bytes.NewReader(rawTx)); err != nil {
		return err
	}

	p, err := psbt.NewFromUnsignedTx(tx)
	if err != nil {
		return err
	}

	out, err := encodePacket(p)
	if err != nil {
		return err
	}
	return writeResult(out)
}

func combineCommand(sources []string) error {
	if len(sources) < 2 {
		return fmt.Errorf("combine needs at least two packet files")
	}

	var combined *psbt.Packet
	for _, source := range sources {
		raw, err := os.ReadFile(source)
		if err != nil {
			return err
		}
		p, err := loadPacket(string(raw))
		if err != nil {
			return fmt.Errorf("%s: %w", source, err)
		}

		if combined == nil {
			combined = p
			continue
		}
		combined, err = combined.Combine(p)
		if err != nil {
			return fmt.Errorf("%s: %w", source, err)
		}
	}

	out, err := encodePacket(combined)
	if err != nil {
		return err
	}
	return writeResult(out)
}

func finalizeCommand() error {
	src, err := readSource()
	if err != nil {
		return err
	}

	p, err := loadPacket(src)
	if err != nil {
		return err
	}

	if err := psbt.MaybeFinalizeAll(p); err != nil {
		return err
	}

	out, err := encodePacket(p)
	if err != nil {
		return err
	}
	return writeResult(out)
}

func extractCommand() error {
	src, err := readSource()
	if err != nil {
		return err
	}

	p, err := loadPacket(src)
	if err != nil {
		return err
	}

	finalTx, err := psbt.Extract(p)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := finalTx.Serialize(&buf); err != nil {
		return err
	}
	return writeResult(hex.EncodeToString(buf.Bytes()))
}

// setupLogging wires the package loggers to stderr at the requested level.
func setupLogging() error {
	if cfg.DebugLevel == "off" {
		return nil
	}

	level, ok := btclog.LevelFromString(cfg.DebugLevel)
	if !ok {
		return fmt.Errorf("invalid debuglevel %q", cfg.DebugLevel)
	}

	backend := btclog.NewBackend(os.Stderr)
	logger := backend.Logger("PSBT")
	logger.SetLevel(level)
	psbt.UseLogger(logger)

	return nil
}

func realMain() error {
	parser := flags.NewParser(&cfg, flags.Default)
	parser.Usage = fmt.Sprintf("[OPTIONS] <%s> [files...]", usageCommands)

	remaining, err := parser.Parse()
	if err != nil {
		if e, ok := err.(*flags.Error); ok &&
			e.Type == flags.ErrHelp {

			return nil
		}
		return err
	}
	if len(remaining) < 1 {
		return fmt.Errorf("missing command, expected one of: %s",
			usageCommands)
	}

	if err := setupLogging(); err != nil {
		return err
	}

	command := remaining[0]
	switch command {
	case cmdDecode:
		return decodeCommand()
	case cmdCreate:
		return createCommand()
	case cmdCombine:
		return combineCommand(remaining[1:])
	case cmdFinalize:
		return finalizeCommand()
	case cmdExtract:
		return extractCommand()
	default:
		return fmt.Errorf("unknown command %q, expected one of: %s",
			command, usageCommands)
	}
}

func main() {
	if err := realMain(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
