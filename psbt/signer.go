// Copyright (c) 2018 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package psbt

import (
	"fmt"

	"github.com/btcsuite/btcd/wire"
)

// SigComponent carries the scripts an external signer produced for a single
// input: the fully assembled scriptSig, the witness stack when the spend
// crosses a segwit layer, the index of the input within the transaction,
// and the transaction that was signed. This package never touches private
// key material; signature production lives entirely behind the Signer
// contract.
type SigComponent struct {
	// ScriptSig is the final signature script for the input.
	ScriptSig []byte

	// Witness is the final witness stack for the input, or nil for a
	// non-segwit spend.
	Witness wire.TxWitness

	// InputIndex is the index of the signed input within Tx.
	InputIndex int

	// Tx is the transaction the component was produced for.
	Tx *wire.MsgTx
}

// SigComponentResult is the pair of a produced component and the error that
// may have prevented its production.
type SigComponentResult struct {
	Component *SigComponent
	Err       error
}

// FutureSigComponent is a future promise to deliver the result of an
// asynchronous signing operation.
type FutureSigComponent chan *SigComponentResult

// Receive waits for the result promised by the future and returns the
// produced signature component.
func (f FutureSigComponent) Receive() (*SigComponent, error) {
	res := <-f
	if res.Err != nil {
		return nil, res.Err
	}

	return res.Component, nil
}

// Signer produces signature components for packet inputs. Implementations
// hold the key material; the dummy flag requests a correctly shaped but
// unverifiable component, which callers use for fee estimation.
type Signer interface {
	// SignAsync starts producing a signature component for the input at
	// inputIndex of the packet's unsigned transaction and returns a
	// future promise to deliver it.
	SignAsync(p *Packet, inputIndex int, dummy bool) FutureSigComponent
}

// ApplySigComponent installs a signer-produced component into the packet,
// replacing the input's intermediate records with the finalized scripts the
// component carries. Nothing is written unless every check passes, so an
// abandoned or failed signing attempt leaves the packet untouched.
func ApplySigComponent(p *Packet, sc *SigComponent) error {
	idx := sc.InputIndex
	if idx < 0 || idx >= len(p.Inputs) {
		return fmt.Errorf("%w: input index %d out of range",
			ErrInvalidPsbtFormat, idx)
	}
	if p.Inputs[idx].isFinalized() {
		return ErrInputAlreadyFinalized
	}

	if len(sc.ScriptSig) == 0 && sc.Witness == nil {
		return ErrInvalidSignatureForInput
	}

	var witnessBytes []byte
	if sc.Witness != nil {
		var err error
		witnessBytes, err = serializeTxWitness(sc.Witness)
		if err != nil {
			return err
		}
	}

	pInput := &p.Inputs[idx]
	newInput := PInput{
		NonWitnessUtxo: pInput.NonWitnessUtxo,
		WitnessUtxo:    pInput.WitnessUtxo,
		Unknowns:       pInput.Unknowns,
	}
	if len(sc.ScriptSig) > 0 {
		newInput.FinalScriptSig = sc.ScriptSig
	}
	newInput.FinalScriptWitness = witnessBytes

	p.Inputs[idx] = newInput
	return nil
}
