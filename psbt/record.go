// Copyright (c) 2018 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package psbt

import (
	"bytes"
	"errors"
	"io"
	"sort"

	"github.com/btcsuite/btcd/wire"
)

// rawRecord is a single key-value pair as it appears on the wire, before
// any scope-specific typing is applied. The key holds the type byte
// followed by any key data; two records within one map section may never
// share the same full key.
type rawRecord struct {
	key   []byte
	value []byte
}

// Unknown is a struct encapsulating a key-value pair for which the key type is
// unknown by this package; these fields are allowed in the 'Global', the
// 'Input' and the 'Output' section of a PSBT.
type Unknown struct {
	Key   []byte
	Value []byte
}

// makeKey builds a full record key from a type byte and optional key data.
func makeKey(keyType uint8, keyData []byte) []byte {
	key := make([]byte, 0, 1+len(keyData))
	key = append(key, keyType)
	return append(key, keyData...)
}

// readKey reads the key of the next key-value pair from r. A nil key with a
// nil error signals that the 0x00 section separator was consumed instead.
func readKey(r io.Reader) ([]byte, error) {
	count, err := wire.ReadVarInt(r, 0)
	if err != nil {
		if errors.Is(err, io.EOF) ||
			errors.Is(err, io.ErrUnexpectedEOF) {

			return nil, ErrTruncatedPsbt
		}
		return nil, ErrInvalidPsbtFormat
	}

	// A zero length key is the marker that ends the current map section.
	if count == 0 {
		return nil, nil
	}

	if count > MaxPsbtKeyLength {
		return nil, ErrInvalidKeyData
	}

	key := make([]byte, count)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, ErrTruncatedPsbt
	}

	return key, nil
}

// readRawRecords reads key-value pairs from r until the 0x00 separator that
// terminates the current map section, consuming the separator. The records
// are returned in wire order and checked for duplicate full keys.
func readRawRecords(r io.Reader) ([]rawRecord, error) {
	var records []rawRecord
	for {
		key, err := readKey(r)
		if err != nil {
			return nil, err
		}
		if key == nil {
			break
		}

		value, err := wire.ReadVarBytes(
			r, 0, MaxPsbtValueLength, "PSBT value",
		)
		if err != nil {
			if errors.Is(err, io.EOF) ||
				errors.Is(err, io.ErrUnexpectedEOF) {

				return nil, ErrTruncatedPsbt
			}
			return nil, ErrInvalidPsbtFormat
		}

		records = append(records, rawRecord{key: key, value: value})
	}

	if err := checkDuplicateKeys(records); err != nil {
		return nil, err
	}

	return records, nil
}

// checkDuplicateKeys returns ErrDuplicateKey if any two records share the
// same full key bytes.
func checkDuplicateKeys(records []rawRecord) error {
	for i := range records {
		for j := i + 1; j < len(records); j++ {
			if bytes.Equal(records[i].key, records[j].key) {
				return ErrDuplicateKey
			}
		}
	}
	return nil
}

// distinctByKey deduplicates records by their full key, keeping the first
// occurrence of each key. The relative order of the survivors is preserved.
func distinctByKey(records []rawRecord) []rawRecord {
	out := make([]rawRecord, 0, len(records))
	for _, rec := range records {
		dup := false
		for _, kept := range out {
			if bytes.Equal(kept.key, rec.key) {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, rec)
		}
	}
	return out
}

// sortByKey orders records ascending by their full key bytes, which is the
// canonical ordering for serialization.
func sortByKey(records []rawRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		return bytes.Compare(records[i].key, records[j].key) < 0
	})
}

// serializeRawRecords writes the records to w in canonical (key sorted)
// order. The caller is responsible for the 0x00 section separator.
func serializeRawRecords(w io.Writer, records []rawRecord) error {
	sorted := make([]rawRecord, len(records))
	copy(sorted, records)
	sortByKey(sorted)

	for _, rec := range sorted {
		if err := serializeKVpair(w, rec.key, rec.value); err != nil {
			return err
		}
	}

	return nil
}

// serializeKVpair writes out a kv pair in a psbt; the key and value are
// VarBytes, i.e. their lengths are encoded as compact size integer prefixes.
func serializeKVpair(w io.Writer, key []byte, value []byte) error {
	if err := wire.WriteVarBytes(w, 0, key); err != nil {
		return err
	}

	return wire.WriteVarBytes(w, 0, value)
}

// serializeKVPairWithType writes out a kv pair whose key is composed of a
// type byte followed by arbitrary key data.
func serializeKVPairWithType(w io.Writer, kt uint8, keydata []byte,
	value []byte) error {

	return serializeKVpair(w, makeKey(kt, keydata), value)
}
