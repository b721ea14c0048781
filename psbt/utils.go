// Copyright (c) 2018 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package psbt

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
)

// hash160 is RIPEMD160 over SHA256, the hash scripts commit to pubkeys
// with.
func hash160(b []byte) []byte {
	return btcutil.Hash160(b)
}

// readTxOut decodes a transaction output from the value of a WitnessUtxo
// record: an 8 byte little endian amount followed by the var-bytes encoded
// pkScript.
func readTxOut(txout []byte) (*wire.TxOut, error) {
	if len(txout) < 9 {
		return nil, ErrInvalidPsbtFormat
	}

	value := int64(binary.LittleEndian.Uint64(txout[:8]))
	pkScript, err := wire.ReadVarBytes(
		bytes.NewReader(txout[8:]), 0, MaxPsbtValueLength,
		"pkScript",
	)
	if err != nil {
		return nil, ErrInvalidPsbtFormat
	}

	return wire.NewTxOut(value, pkScript), nil
}

// writeTxOut encodes a transaction output into the WitnessUtxo record value
// form. This is the inverse of readTxOut.
func writeTxOut(txout *wire.TxOut) []byte {
	var buf bytes.Buffer

	var amt [8]byte
	binary.LittleEndian.PutUint64(amt[:], uint64(txout.Value))
	buf.Write(amt[:])

	// The buffer write cannot fail, so neither can WriteVarBytes.
	_ = wire.WriteVarBytes(&buf, 0, txout.PkScript)

	return buf.Bytes()
}

// writeTxWitness is a A utility function due to non-exported witness
// serialization (writeTxWitness encodes the bitcoin protocol encoding for a
// transaction input's witness into w).
func writeTxWitness(w io.Writer, wit [][]byte) error {
	if err := wire.WriteVarInt(w, 0, uint64(len(wit))); err != nil {
		return err
	}

	for _, item := range wit {
		err := wire.WriteVarBytes(w, 0, item)
		if err != nil {
			return err
		}
	}
	return nil
}

// serializeTxWitness returns the record value encoding of the passed witness
// stack.
func serializeTxWitness(wit wire.TxWitness) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeTxWitness(&buf, wit); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// readTxWitness decodes a FinalScriptWitness record value back into a
// witness stack.
func readTxWitness(witness []byte) (wire.TxWitness, error) {
	r := bytes.NewReader(witness)

	count, err := wire.ReadVarInt(r, 0)
	if err != nil {
		return nil, ErrInvalidPsbtFormat
	}

	stack := make(wire.TxWitness, count)
	for i := uint64(0); i < count; i++ {
		item, err := wire.ReadVarBytes(
			r, 0, MaxPsbtValueLength, "witness item",
		)
		if err != nil {
			return nil, ErrInvalidPsbtFormat
		}
		stack[i] = item
	}

	if r.Len() != 0 {
		return nil, ErrInvalidPsbtFormat
	}

	return stack, nil
}

// SumUtxoInputValues tries to extract the sum of all inputs specified in
// the UTXO fields of the PSBT. An error is returned if an input is malformed
// or misses required UTXO information.
func SumUtxoInputValues(packet *Packet) (int64, error) {
	// We take the TX ins of the unsigned TX as the truth for how many
	// inputs there should be, as the fields in the extra data part of the
	// PSBT can be empty.
	if len(packet.UnsignedTx.TxIn) != len(packet.Inputs) {
		return 0, fmt.Errorf("%w: invalid PSBT, expected %d inputs",
			ErrStructuralMismatch, len(packet.UnsignedTx.TxIn))
	}

	inputSum := int64(0)
	for idx, in := range packet.Inputs {
		switch {
		case in.WitnessUtxo != nil:
			// Witness UTXOs only need to reference the TxOut.
			inputSum += in.WitnessUtxo.Value

		case in.NonWitnessUtxo != nil:
			// Non-witness UTXOs reference to the whole transaction
			// the UTXO resides in.
			utxOuts := in.NonWitnessUtxo.TxOut
			txIn := packet.UnsignedTx.TxIn[idx]
			opIdx := txIn.PreviousOutPoint.Index
			if opIdx >= uint32(len(utxOuts)) {
				return 0, fmt.Errorf("%w: input %d",
					ErrInvalidPrevOutIndex, idx)
			}

			inputSum += utxOuts[opIdx].Value

		default:
			return 0, fmt.Errorf("%w: utxo for input %d",
				ErrMissingRecord, idx)
		}
	}

	return inputSum, nil
}

// VerifyInputOutputLen makes sure a packet is non-nil, contains a non-nil
// wire transaction and that the wire input/output lengths match the partial
// input/output lengths. A caller also can specify if they expect any inputs
// and/or outputs to be contained in the packet.
func VerifyInputOutputLen(packet *Packet, needInputs, needOutputs bool) error {
	if packet == nil || packet.UnsignedTx == nil {
		return fmt.Errorf("%w: packet or unsigned tx missing",
			ErrInvalidPsbtFormat)
	}

	if len(packet.UnsignedTx.TxIn) != len(packet.Inputs) {
		return fmt.Errorf("%w: invalid PSBT, expected %d inputs",
			ErrStructuralMismatch, len(packet.UnsignedTx.TxIn))
	}
	if len(packet.UnsignedTx.TxOut) != len(packet.Outputs) {
		return fmt.Errorf("%w: invalid PSBT, expected %d outputs",
			ErrStructuralMismatch, len(packet.UnsignedTx.TxOut))
	}

	if needInputs && len(packet.UnsignedTx.TxIn) == 0 {
		return fmt.Errorf("%w: PSBT has no inputs",
			ErrInvalidPsbtFormat)
	}
	if needOutputs && len(packet.UnsignedTx.TxOut) == 0 {
		return fmt.Errorf("%w: PSBT has no outputs",
			ErrInvalidPsbtFormat)
	}

	return nil
}
