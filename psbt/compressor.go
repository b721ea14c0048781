// Copyright (c) 2018 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package psbt

import (
	"fmt"

	"github.com/btcsuite/btcd/wire"

	"github.com/sken77/bitcoin-s-core/scriptpattern"
)

// CompressInput replaces the NonWitnessUtxo record of the input at inIndex
// with the equivalent WitnessUtxo record when the spent output is a segwit
// script, either natively or wrapped in P2SH with a witness program redeem
// script. A segwit input's sighash does not commit to the full previous
// transaction, so the replacement never invalidates existing signatures;
// it shrinks the packet and lets segwit-only consumers process it.
//
// Inputs that are already finalized, carry no NonWitnessUtxo, or spend a
// non-segwit output are left untouched.
func CompressInput(p *Packet, inIndex int) error {
	if inIndex < 0 || inIndex >= len(p.Inputs) {
		return fmt.Errorf("%w: input index %d out of range",
			ErrInvalidPsbtFormat, inIndex)
	}

	pInput := &p.Inputs[inIndex]
	if pInput.isFinalized() || pInput.NonWitnessUtxo == nil {
		return nil
	}

	vout := p.UnsignedTx.TxIn[inIndex].PreviousOutPoint.Index
	utxOuts := pInput.NonWitnessUtxo.TxOut
	if vout >= uint32(len(utxOuts)) {
		return fmt.Errorf("%w: input %d", ErrInvalidPrevOutIndex,
			inIndex)
	}
	spent := utxOuts[vout]

	segwit := scriptpattern.IsWitnessProgram(spent.PkScript)
	if !segwit {
		// A P2SH output qualifies when the known redeem script is a
		// witness program.
		_, isP2SH := scriptpattern.Classify(
			spent.PkScript,
		).(*scriptpattern.P2SH)
		segwit = isP2SH && pInput.RedeemScript != nil &&
			scriptpattern.IsWitnessProgram(pInput.RedeemScript)
	}
	if !segwit {
		return nil
	}

	newInput := *pInput
	newInput.NonWitnessUtxo = nil
	newInput.WitnessUtxo = wire.NewTxOut(spent.Value, spent.PkScript)
	p.Inputs[inIndex] = newInput

	log.Tracef("compressed input %d to witness utxo form", inIndex)

	return nil
}

// CompressAll applies CompressInput to every input of the packet.
func CompressAll(p *Packet) error {
	for i := range p.Inputs {
		if err := CompressInput(p, i); err != nil {
			return err
		}
	}
	return nil
}
