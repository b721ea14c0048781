// Copyright (c) 2018 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package psbt is an implementation of Partially Signed Bitcoin
// Transactions (PSBT). The format is defined in BIP 174:
// https://github.com/bitcoin/bips/blob/master/bip-0174.mediawiki
package psbt

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"io"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
)

// psbtMagicLength is the length of the magic bytes used to signal the start of
// a serialized PSBT packet.
const psbtMagicLength = 5

var (
	// psbtMagic is the separator.
	psbtMagic = [psbtMagicLength]byte{0x70,
		0x73, 0x62, 0x74, 0xff, // = "psbt" + 0xff sep
	}
)

// MaxPsbtValueLength is the size of the largest transaction serialization
// that could be passed in a NonWitnessUtxo field. This is definitely
// less than 4M.
const MaxPsbtValueLength = 4000000

// MaxPsbtKeyLength is the length of the largest key that we'll successfully
// deserialize from the wire. Anything more will return ErrInvalidKeyData.
const MaxPsbtKeyLength = 10000

// hexMagicPrefix and base64MagicPrefix are what the psbt magic bytes look
// like in the two text encodings; they are used to sniff the encoding of a
// packet handed over as a string.
const (
	hexMagicPrefix    = "70736274ff"
	base64MagicPrefix = "cHNidP8"
)

// Packet is the actual psbt representation. It is a set of 1 + N + M
// key-value pair lists, 1 global, defining the unsigned transaction structure
// with N inputs and M outputs.  These key-value pairs can contain scripts,
// signatures, key derivations and other transaction-defining data.
type Packet struct {
	// UnsignedTx is the decoded unsigned transaction for this PSBT.
	UnsignedTx *wire.MsgTx // Deserialization of unsigned tx

	// Inputs contains all the information needed to properly sign this
	// target input within the above transaction.
	Inputs []PInput

	// Outputs contains all information required to spend any outputs
	// produced by this PSBT.
	Outputs []POutput

	// XPubs is a list of extended public keys that can be used to derive
	// public keys used in the inputs and outputs of this transaction. It
	// should be the public key at the highest hardened derivation index so
	// that the unhardened child keys used in the transaction can be
	// derived.
	XPubs []*XPub

	// Version is the global version number of this PSBT. A packet without
	// an explicit version record is version zero, and a zero version is
	// not serialized as a record.
	Version uint32

	// Unknowns are the set of custom types (global only) within this PSBT.
	Unknowns []*Unknown
}

// validateUnsignedTX returns true if the transaction is unsigned.  Note that
// more basic sanity requirements, such as the presence of inputs and outputs,
// is implicitly checked in the call to MsgTx.Deserialize().
func validateUnsignedTX(tx *wire.MsgTx) bool {
	for _, tin := range tx.TxIn {
		if len(tin.SignatureScript) != 0 || len(tin.Witness) != 0 {
			return false
		}
	}

	return true
}

// NewFromUnsignedTx creates a new Psbt struct, without any signatures (i.e.
// only the global section is non-empty) using the passed unsigned transaction.
func NewFromUnsignedTx(tx *wire.MsgTx) (*Packet, error) {
	if !validateUnsignedTX(tx) {
		return nil, ErrInvalidRawTxSigned
	}

	inSlice := make([]PInput, len(tx.TxIn))
	outSlice := make([]POutput, len(tx.TxOut))
	xPubSlice := make([]*XPub, 0)
	unknownSlice := make([]*Unknown, 0)

	return &Packet{
		UnsignedTx: tx,
		Inputs:     inSlice,
		Outputs:    outSlice,
		XPubs:      xPubSlice,
		Unknowns:   unknownSlice,
	}, nil
}

// NewFromRawBytes returns a new instance of a Packet struct created by reading
// from a byte slice. If the format is invalid, an error is returned. If the
// argument b64 is true, the passed byte slice is decoded from base64 encoding
// before processing.
//
// NOTE: To create a Packet from one's own data, rather than reading in a
// serialization from a counterparty, one should use NewFromUnsignedTx.
func NewFromRawBytes(r io.Reader, b64 bool) (*Packet, error) {
	// If the PSBT is encoded in bas64, then we'll create a new wrapper
	// reader that'll allow us to incrementally decode the contents of the
	// io.Reader.
	if b64 {
		based64EncodedReader := r
		r = base64.NewDecoder(base64.StdEncoding, based64EncodedReader)
	}

	// The Packet struct does not store the fixed magic bytes, but they
	// must be present or the serialization must be explicitly rejected.
	var magic [5]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, ErrInvalidMagicBytes
	}
	if magic != psbtMagic {
		return nil, ErrInvalidMagicBytes
	}

	// Next we parse the GLOBAL section. All records up to the first 0x00
	// separator belong to it; the unsigned transaction record must be
	// among them, and its input/output counts dictate the number of map
	// sections that follow.
	globalRecords, err := readRawRecords(r)
	if err != nil {
		return nil, err
	}

	var (
		msgTx        *wire.MsgTx
		xPubSlice    []*XPub
		version      uint32
		unknownSlice []*Unknown
	)
	for _, rec := range globalRecords {
		keyData := rec.key[1:]
		value := rec.value

		switch GlobalType(rec.key[0]) {
		case UnsignedTxType:
			if len(keyData) != 0 {
				return nil, ErrInvalidKeyData
			}

			tx := wire.NewMsgTx(2)

			// BIP-0174 states: "The transaction must be in the old
			// serialization format (without witnesses)."
			err := tx.DeserializeNoWitness(bytes.NewReader(value))
			if err != nil {
				return nil, ErrInvalidPsbtFormat
			}
			if !validateUnsignedTX(tx) {
				return nil, ErrInvalidRawTxSigned
			}
			msgTx = tx

		case XPubType:
			xPub, err := ReadXPub(keyData, value)
			if err != nil {
				return nil, err
			}
			xPubSlice = append(xPubSlice, xPub)

		case VersionType:
			if len(keyData) != 0 {
				return nil, ErrInvalidKeyData
			}
			if len(value) != 4 {
				return nil, ErrInvalidPsbtFormat
			}
			version = binary.LittleEndian.Uint32(value)

		default:
			unknownSlice = append(unknownSlice, &Unknown{
				Key:   rec.key,
				Value: value,
			})
		}
	}

	// A PSBT without its unsigned transaction is meaningless; duplicate
	// records were already ruled out by the raw record reader.
	if msgTx == nil {
		return nil, ErrInvalidPsbtFormat
	}

	// Next we parse the INPUT section.
	inSlice := make([]PInput, len(msgTx.TxIn))
	for i := range msgTx.TxIn {
		input := PInput{}
		err = input.deserialize(r)
		if err != nil {
			return nil, err
		}

		inSlice[i] = input
	}

	// Next we parse the OUTPUT section.
	outSlice := make([]POutput, len(msgTx.TxOut))
	for i := range msgTx.TxOut {
		output := POutput{}
		err = output.deserialize(r)
		if err != nil {
			return nil, err
		}

		outSlice[i] = output
	}

	// The final output map section must end the stream; anything after it
	// means the map count does not line up with the unsigned transaction.
	var trailing [1]byte
	if _, err := r.Read(trailing[:]); err != io.EOF {
		return nil, ErrStructuralMismatch
	}

	// Populate the new Packet object.
	newPsbt := Packet{
		UnsignedTx: msgTx,
		Inputs:     inSlice,
		Outputs:    outSlice,
		XPubs:      xPubSlice,
		Version:    version,
		Unknowns:   unknownSlice,
	}

	// Extended sanity checking is applied here to make sure the
	// externally-passed Packet follows all the rules.
	if err = newPsbt.SanityCheck(); err != nil {
		return nil, err
	}

	return &newPsbt, nil
}

// NewFromString creates a Packet from its text form, accepting either the
// hex or the base64 encoding of the binary serialization and sniffing the
// encoding from the magic prefix.
func NewFromString(s string) (*Packet, error) {
	s = strings.TrimSpace(s)

	switch {
	case strings.HasPrefix(strings.ToLower(s), hexMagicPrefix):
		raw, err := hex.DecodeString(s)
		if err != nil {
			return nil, ErrInvalidPsbtFormat
		}
		return NewFromRawBytes(bytes.NewReader(raw), false)

	case strings.HasPrefix(s, base64MagicPrefix):
		return NewFromRawBytes(strings.NewReader(s), true)

	default:
		return nil, ErrInvalidMagicBytes
	}
}

// globalRecords flattens the global section back into raw key-value pairs.
func (p *Packet) globalRecords() ([]rawRecord, error) {
	var records []rawRecord

	// We prep to write out the unsigned transaction by first serializing
	// it into an intermediate buffer.
	serializedTx := bytes.NewBuffer(
		make([]byte, 0, p.UnsignedTx.SerializeSize()),
	)
	if err := p.UnsignedTx.SerializeNoWitness(serializedTx); err != nil {
		return nil, err
	}
	records = append(records, rawRecord{
		key:   makeKey(uint8(UnsignedTxType), nil),
		value: serializedTx.Bytes(),
	})

	for _, xPub := range p.XPubs {
		pathBytes := SerializeBIP32Derivation(
			xPub.MasterKeyFingerprint, xPub.Bip32Path,
		)
		records = append(records, rawRecord{
			key:   makeKey(uint8(XPubType), xPub.ExtendedKey),
			value: pathBytes,
		})
	}

	if p.Version != 0 {
		var versionBytes [4]byte
		binary.LittleEndian.PutUint32(versionBytes[:], p.Version)
		records = append(records, rawRecord{
			key:   makeKey(uint8(VersionType), nil),
			value: versionBytes[:],
		})
	}

	// Unknown is a special case; we don't have a key type, only a key and
	// a value field
	for _, kv := range p.Unknowns {
		records = append(records, rawRecord{
			key:   kv.Key,
			value: kv.Value,
		})
	}

	return records, nil
}

// Serialize creates a binary serialization of the referenced Packet struct
// with lexicographical ordering (by key) of the subsections.
func (p *Packet) Serialize(w io.Writer) error {
	// First we write out the precise set of magic bytes that identify a
	// valid PSBT transaction.
	if _, err := w.Write(psbtMagic[:]); err != nil {
		return err
	}

	globalRecords, err := p.globalRecords()
	if err != nil {
		return err
	}
	if err := serializeRawRecords(w, globalRecords); err != nil {
		return err
	}

	// With that our global section is done, so we'll write out the
	// separator.
	separator := []byte{0x00}
	if _, err := w.Write(separator); err != nil {
		return err
	}

	for i := range p.Inputs {
		err := p.Inputs[i].serialize(w)
		if err != nil {
			return err
		}

		if _, err := w.Write(separator); err != nil {
			return err
		}
	}

	for i := range p.Outputs {
		err := p.Outputs[i].serialize(w)
		if err != nil {
			return err
		}

		if _, err := w.Write(separator); err != nil {
			return err
		}
	}

	return nil
}

// B64Encode returns the base64 encoding of the serialization of
// the current PSBT, or an error if the encoding fails.
func (p *Packet) B64Encode() (string, error) {
	var b bytes.Buffer
	if err := p.Serialize(&b); err != nil {
		return "", err
	}

	return base64.StdEncoding.EncodeToString(b.Bytes()), nil
}

// HexEncode returns the lowercase hex encoding of the serialization of the
// current PSBT, or an error if the encoding fails.
func (p *Packet) HexEncode() (string, error) {
	var b bytes.Buffer
	if err := p.Serialize(&b); err != nil {
		return "", err
	}

	return hex.EncodeToString(b.Bytes()), nil
}

// IsComplete returns true only if all of the inputs are
// finalized; this is particularly important in that it decides
// whether the final extraction to a network serialized signed
// transaction will be possible.
func (p *Packet) IsComplete() bool {
	for i := 0; i < len(p.UnsignedTx.TxIn); i++ {
		if !isFinalized(p, i) {
			return false
		}
	}
	return true
}

// SanityCheck checks conditions on a PSBT to ensure that it obeys the
// rules of BIP174, and returns nil if so, or the error naming the broken
// rule if not.
func (p *Packet) SanityCheck() error {
	if !validateUnsignedTX(p.UnsignedTx) {
		return ErrInvalidRawTxSigned
	}

	for i := range p.Inputs {
		if !p.Inputs[i].IsSane() {
			return ErrConflictingUtxo
		}
	}

	return nil
}

// GetTxFee returns the transaction fee.  An error is returned if a transaction
// input does not contain any UTXO information.
func (p *Packet) GetTxFee() (btcutil.Amount, error) {
	sumInputs, err := SumUtxoInputValues(p)
	if err != nil {
		return 0, err
	}

	var sumOutputs int64
	for _, txOut := range p.UnsignedTx.TxOut {
		sumOutputs += txOut.Value
	}

	fee := sumInputs - sumOutputs
	return btcutil.Amount(fee), nil
}
