// Copyright (c) 2018 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package psbt

import (
	"bytes"
	"encoding/binary"
	"io"
	"sort"

	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// PInput is a struct encapsulating all the data that can be attached to any
// specific input of the PSBT.
type PInput struct {
	NonWitnessUtxo     *wire.MsgTx
	WitnessUtxo        *wire.TxOut
	PartialSigs        []*PartialSig
	SighashType        txscript.SigHashType
	RedeemScript       []byte
	WitnessScript      []byte
	Bip32Derivation    []*Bip32Derivation
	FinalScriptSig     []byte
	FinalScriptWitness []byte
	PorCommitment      []byte
	Unknowns           []*Unknown
}

// NewPsbtInput creates an instance of PsbtInput given either a nonWitnessUtxo
// or a witnessUtxo (only one should be non-nil). No sighash type is set.
func NewPsbtInput(nonWitnessUtxo *wire.MsgTx,
	witnessUtxo *wire.TxOut) *PInput {

	return &PInput{
		NonWitnessUtxo:     nonWitnessUtxo,
		WitnessUtxo:        witnessUtxo,
		PartialSigs:        []*PartialSig{},
		SighashType:        0,
		RedeemScript:       nil,
		WitnessScript:      nil,
		Bip32Derivation:    []*Bip32Derivation{},
		FinalScriptSig:     nil,
		FinalScriptWitness: nil,
	}
}

// IsSane returns true only if there are no conflicting values in the Psbt
// PInput. For segwit v0 no checks are currently implemented.
func (pi *PInput) IsSane() bool {
	// TODO(guggero): Implement sanity checks for segwit v1. For segwit v0
	// it is possible to have a witness utxo without any of the scripts.

	if pi.NonWitnessUtxo != nil && pi.WitnessUtxo != nil {
		return false
	}

	return true
}

// isFinalized considers this input finalized if it contains at least one of
// the FinalScriptSig or FinalScriptWitness are filled (which only occurs in a
// successful call to Finalize*).
func (pi *PInput) isFinalized() bool {
	return pi.FinalScriptSig != nil || pi.FinalScriptWitness != nil
}

// decodePInput rebuilds the typed input structure from a set of raw records
// that have already been checked for duplicate keys.
func decodePInput(records []rawRecord) (*PInput, error) {
	pi := &PInput{}
	for _, rec := range records {
		keyData := rec.key[1:]
		value := rec.value

		switch InputType(rec.key[0]) {
		case NonWitnessUtxoType:
			if len(keyData) != 0 {
				return nil, ErrInvalidKeyData
			}
			tx := wire.NewMsgTx(2)

			err := tx.Deserialize(bytes.NewReader(value))
			if err != nil {
				return nil, ErrInvalidPsbtFormat
			}
			pi.NonWitnessUtxo = tx

		case WitnessUtxoType:
			if len(keyData) != 0 {
				return nil, ErrInvalidKeyData
			}
			txOut, err := readTxOut(value)
			if err != nil {
				return nil, err
			}
			pi.WitnessUtxo = txOut

		case PartialSigType:
			newPartialSig := PartialSig{
				PubKey:    keyData,
				Signature: value,
			}
			if !newPartialSig.checkValid() {
				return nil, ErrInvalidPsbtFormat
			}
			pi.PartialSigs = append(pi.PartialSigs, &newPartialSig)

		case SighashType:
			if len(keyData) != 0 {
				return nil, ErrInvalidKeyData
			}
			if len(value) != 4 {
				return nil, ErrInvalidPsbtFormat
			}
			shtype := txscript.SigHashType(
				binary.LittleEndian.Uint32(value),
			)
			pi.SighashType = shtype

		case RedeemScriptInputType:
			if len(keyData) != 0 {
				return nil, ErrInvalidKeyData
			}
			pi.RedeemScript = value

		case WitnessScriptInputType:
			if len(keyData) != 0 {
				return nil, ErrInvalidKeyData
			}
			pi.WitnessScript = value

		case Bip32DerivationInputType:
			if !validatePubkey(keyData) {
				return nil, ErrInvalidKeyData
			}
			master, derivationPath, err := ReadBip32Derivation(
				value,
			)
			if err != nil {
				return nil, err
			}

			pi.Bip32Derivation = append(
				pi.Bip32Derivation,
				&Bip32Derivation{
					PubKey:               keyData,
					MasterKeyFingerprint: master,
					Bip32Path:            derivationPath,
				},
			)

		case FinalScriptSigType:
			if len(keyData) != 0 {
				return nil, ErrInvalidKeyData
			}
			pi.FinalScriptSig = value

		case FinalScriptWitnessType:
			if len(keyData) != 0 {
				return nil, ErrInvalidKeyData
			}
			pi.FinalScriptWitness = value

		case PorCommitmentType:
			if len(keyData) != 0 {
				return nil, ErrInvalidKeyData
			}
			pi.PorCommitment = value

		default:
			pi.Unknowns = append(pi.Unknowns, &Unknown{
				Key:   rec.key,
				Value: value,
			})
		}
	}

	if !pi.IsSane() {
		return nil, ErrConflictingUtxo
	}

	return pi, nil
}

// records flattens the typed input structure back into the raw key-value
// pairs it serializes to. The returned records are not yet in canonical
// order.
func (pi *PInput) records() ([]rawRecord, error) {
	var records []rawRecord

	add := func(kt InputType, keyData, value []byte) {
		records = append(records, rawRecord{
			key:   makeKey(uint8(kt), keyData),
			value: value,
		})
	}

	if pi.NonWitnessUtxo != nil {
		var buf bytes.Buffer
		err := pi.NonWitnessUtxo.Serialize(&buf)
		if err != nil {
			return nil, err
		}
		add(NonWitnessUtxoType, nil, buf.Bytes())
	}

	if pi.WitnessUtxo != nil {
		add(WitnessUtxoType, nil, writeTxOut(pi.WitnessUtxo))
	}

	sort.Sort(PartialSigSorter(pi.PartialSigs))
	for _, ps := range pi.PartialSigs {
		add(PartialSigType, ps.PubKey, ps.Signature)
	}

	if pi.SighashType != 0 {
		var shtBytes [4]byte
		binary.LittleEndian.PutUint32(
			shtBytes[:], uint32(pi.SighashType),
		)
		add(SighashType, nil, shtBytes[:])
	}

	if pi.RedeemScript != nil {
		add(RedeemScriptInputType, nil, pi.RedeemScript)
	}

	if pi.WitnessScript != nil {
		add(WitnessScriptInputType, nil, pi.WitnessScript)
	}

	sort.Sort(Bip32Sorter(pi.Bip32Derivation))
	for _, kd := range pi.Bip32Derivation {
		add(
			Bip32DerivationInputType, kd.PubKey,
			SerializeBIP32Derivation(
				kd.MasterKeyFingerprint, kd.Bip32Path,
			),
		)
	}

	if pi.FinalScriptSig != nil {
		add(FinalScriptSigType, nil, pi.FinalScriptSig)
	}

	if pi.FinalScriptWitness != nil {
		add(FinalScriptWitnessType, nil, pi.FinalScriptWitness)
	}

	if pi.PorCommitment != nil {
		add(PorCommitmentType, nil, pi.PorCommitment)
	}

	for _, unknown := range pi.Unknowns {
		records = append(records, rawRecord{
			key:   unknown.Key,
			value: unknown.Value,
		})
	}

	return records, nil
}

// deserialize attempts to recover the contents of an input map section from
// r, consuming the trailing 0x00 separator.
func (pi *PInput) deserialize(r io.Reader) error {
	records, err := readRawRecords(r)
	if err != nil {
		return err
	}

	decoded, err := decodePInput(records)
	if err != nil {
		return err
	}

	*pi = *decoded
	return nil
}

// serialize attempts to write out the target PInput to w. The section
// separator is the caller's responsibility.
func (pi *PInput) serialize(w io.Writer) error {
	if !pi.IsSane() {
		return ErrConflictingUtxo
	}

	records, err := pi.records()
	if err != nil {
		return err
	}

	return serializeRawRecords(w, records)
}
