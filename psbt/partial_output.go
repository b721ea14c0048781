// Copyright (c) 2018 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package psbt

import (
	"io"
	"sort"
)

// POutput is a struct encapsulating all the data that can be attached
// to any specific output of the PSBT.
type POutput struct {
	RedeemScript    []byte
	WitnessScript   []byte
	Bip32Derivation []*Bip32Derivation
	Unknowns        []*Unknown
}

// NewPsbtOutput creates an instance of PsbtOutput; the three parameters
// redeemScript, witnessScript and Bip32Derivation are all allowed to be
// `nil`.
func NewPsbtOutput(redeemScript []byte, witnessScript []byte,
	bip32Derivation []*Bip32Derivation) *POutput {
	return &POutput{
		RedeemScript:    redeemScript,
		WitnessScript:   witnessScript,
		Bip32Derivation: bip32Derivation,
	}
}

// decodePOutput rebuilds the typed output structure from a set of raw
// records that have already been checked for duplicate keys.
func decodePOutput(records []rawRecord) (*POutput, error) {
	po := &POutput{}
	for _, rec := range records {
		keyData := rec.key[1:]
		value := rec.value

		switch OutputType(rec.key[0]) {
		case RedeemScriptOutputType:
			if len(keyData) != 0 {
				return nil, ErrInvalidKeyData
			}
			po.RedeemScript = value

		case WitnessScriptOutputType:
			if len(keyData) != 0 {
				return nil, ErrInvalidKeyData
			}
			po.WitnessScript = value

		case Bip32DerivationOutputType:
			if !validatePubkey(keyData) {
				return nil, ErrInvalidKeyData
			}
			master, derivationPath, err := ReadBip32Derivation(
				value,
			)
			if err != nil {
				return nil, err
			}

			po.Bip32Derivation = append(
				po.Bip32Derivation,
				&Bip32Derivation{
					PubKey:               keyData,
					MasterKeyFingerprint: master,
					Bip32Path:            derivationPath,
				},
			)

		default:
			po.Unknowns = append(po.Unknowns, &Unknown{
				Key:   rec.key,
				Value: value,
			})
		}
	}

	return po, nil
}

// records flattens the typed output structure back into the raw key-value
// pairs it serializes to.
func (po *POutput) records() []rawRecord {
	var records []rawRecord

	add := func(kt OutputType, keyData, value []byte) {
		records = append(records, rawRecord{
			key:   makeKey(uint8(kt), keyData),
			value: value,
		})
	}

	if po.RedeemScript != nil {
		add(RedeemScriptOutputType, nil, po.RedeemScript)
	}

	if po.WitnessScript != nil {
		add(WitnessScriptOutputType, nil, po.WitnessScript)
	}

	sort.Sort(Bip32Sorter(po.Bip32Derivation))
	for _, kd := range po.Bip32Derivation {
		add(
			Bip32DerivationOutputType, kd.PubKey,
			SerializeBIP32Derivation(
				kd.MasterKeyFingerprint, kd.Bip32Path,
			),
		)
	}

	for _, unknown := range po.Unknowns {
		records = append(records, rawRecord{
			key:   unknown.Key,
			value: unknown.Value,
		})
	}

	return records
}

// deserialize attempts to recover the contents of an output map section
// from r, consuming the trailing 0x00 separator.
func (po *POutput) deserialize(r io.Reader) error {
	records, err := readRawRecords(r)
	if err != nil {
		return err
	}

	decoded, err := decodePOutput(records)
	if err != nil {
		return err
	}

	*po = *decoded
	return nil
}

// serialize attempts to write out the target POutput to w. The section
// separator is the caller's responsibility.
func (po *POutput) serialize(w io.Writer) error {
	return serializeRawRecords(w, po.records())
}
