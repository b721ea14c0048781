// Copyright (c) 2018 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package psbt

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/wire"

	"github.com/sken77/bitcoin-s-core/scriptpattern"
)

// isFinalized considers this input finalized if it contains at least one of
// the FinalScriptSig or FinalScriptWitness are filled (which only occurs in
// a successful call to Finalize*).
func isFinalized(p *Packet, inIndex int) bool {
	input := p.Inputs[inIndex]
	return input.isFinalized()
}

// finalizedScripts is what the recursive descent through a script template
// produces: the scriptSig satisfying the current template, plus a witness
// stack once a segwit layer has been crossed.
type finalizedScripts struct {
	sigScript []byte
	witness   wire.TxWitness
}

// MaybeFinalize attempts to finalize the input at index inIndex in the PSBT
// p, returning true with no error if it succeeds, OR if the input has
// already been finalized.
func MaybeFinalize(p *Packet, inIndex int) (bool, error) {
	if isFinalized(p, inIndex) {
		return true, nil
	}

	if err := Finalize(p, inIndex); err != nil {
		return false, err
	}

	return true, nil
}

// MaybeFinalizeAll attempts to finalize all inputs of the psbt.Packet that
// are not already finalized, and returns an error if it fails to do so.
func MaybeFinalizeAll(p *Packet) error {
	for i := range p.UnsignedTx.TxIn {
		success, err := MaybeFinalize(p, i)
		if err != nil || !success {
			return err
		}
	}

	return nil
}

// FinalizeAll attempts to finalize every input independently. The returned
// slice is index aligned with the inputs; a nil entry means the input was
// finalized (or already was), a non-nil entry carries that input's
// failure. A failed input is left untouched.
func FinalizeAll(p *Packet) []error {
	results := make([]error, len(p.Inputs))
	for i := range p.Inputs {
		_, results[i] = MaybeFinalize(p, i)
	}
	return results
}

// inputScriptPubKey resolves the script pubkey the input at inIndex is
// spending: the witness utxo's script when present, otherwise the script of
// the referenced output of the non-witness utxo transaction.
func inputScriptPubKey(p *Packet, inIndex int) ([]byte, error) {
	pInput := &p.Inputs[inIndex]

	switch {
	case pInput.WitnessUtxo != nil:
		return pInput.WitnessUtxo.PkScript, nil

	case pInput.NonWitnessUtxo != nil:
		vout := p.UnsignedTx.TxIn[inIndex].PreviousOutPoint.Index
		utxOuts := pInput.NonWitnessUtxo.TxOut
		if vout >= uint32(len(utxOuts)) {
			return nil, fmt.Errorf("%w: input %d",
				ErrInvalidPrevOutIndex, inIndex)
		}
		return utxOuts[vout].PkScript, nil

	default:
		return nil, fmt.Errorf("%w: utxo for input %d",
			ErrMissingRecord, inIndex)
	}
}

// Finalize assumes that the provided psbt.Packet struct has all partial
// signatures and redeem scripts/witness scripts already prepared for the
// input at inIndex, and so removes all temporary data and replaces them
// with completed scriptSig and witness fields, which are stored in key
// types 07 and 08. The witness utxo and non-witness utxo records, along
// with any unrecognized records, are carried over untouched. If the input
// is already finalized the call is the identity. On failure the input map
// is left exactly as it was.
func Finalize(p *Packet, inIndex int) error {
	if inIndex < 0 || inIndex >= len(p.Inputs) {
		return fmt.Errorf("%w: input index %d out of range",
			ErrInvalidPsbtFormat, inIndex)
	}

	pInput := &p.Inputs[inIndex]
	if pInput.isFinalized() {
		return nil
	}

	script, err := inputScriptPubKey(p, inIndex)
	if err != nil {
		return err
	}

	result, err := finalizeScript(
		pInput, scriptpattern.Classify(script), 0,
	)
	if err != nil {
		return err
	}

	log.Tracef("finalized input %d: sigScript=%x witnessItems=%d",
		inIndex, result.sigScript, len(result.witness))

	// The replacement input map holds the utxo records, the unrecognized
	// records, and the finalized scripts. Everything else served its
	// purpose and is dropped.
	newInput := PInput{
		NonWitnessUtxo: pInput.NonWitnessUtxo,
		WitnessUtxo:    pInput.WitnessUtxo,
		Unknowns:       pInput.Unknowns,
	}

	if len(result.sigScript) > 0 {
		newInput.FinalScriptSig = result.sigScript
	}
	if result.witness != nil {
		witnessBytes, err := serializeTxWitness(result.witness)
		if err != nil {
			return err
		}
		newInput.FinalScriptWitness = witnessBytes
	}

	p.Inputs[inIndex] = newInput
	return nil
}

// exactlyOneSig fetches the single partial signature templates like P2PK,
// P2PKH and P2WPKH are satisfied by.
func exactlyOneSig(pi *PInput) (*PartialSig, error) {
	switch len(pi.PartialSigs) {
	case 0:
		return nil, fmt.Errorf("%w: partial signature",
			ErrMissingRecord)
	case 1:
		return pi.PartialSigs[0], nil
	default:
		return nil, ErrNotFinalizable
	}
}

// orderedMultiSigSigs selects the signatures satisfying a multisig
// template, ordered by the index of their pubkey within the template's key
// list as OP_CHECKMULTISIG demands.
func orderedMultiSigSigs(pi *PInput,
	ms *scriptpattern.MultiSig) ([][]byte, error) {

	sigs := make([][]byte, 0, ms.Required)
	for _, pubKey := range ms.PubKeys {
		for _, ps := range pi.PartialSigs {
			if bytes.Equal(ps.PubKey, pubKey) {
				sigs = append(sigs, ps.Signature)
				break
			}
		}
	}

	if len(sigs) < ms.Required {
		return nil, fmt.Errorf("%w: %d of %d multisig signatures",
			ErrMissingRecord, len(sigs), ms.Required)
	}

	// Surplus signatures are legal after a combine; the first Required of
	// them in key order already satisfy the script.
	return sigs[:ms.Required], nil
}

// finalizeScript recursively satisfies the script template, descending
// through script hash, witness and conditional layers until a terminal
// template is reached.
func finalizeScript(pi *PInput, pattern scriptpattern.Pattern,
	depth int) (*finalizedScripts, error) {

	if depth > scriptpattern.MaxNestingDepth {
		return nil, fmt.Errorf("%w: script nesting exceeds %d levels",
			ErrUnsupportedScriptType, scriptpattern.MaxNestingDepth)
	}

	switch t := pattern.(type) {
	case *scriptpattern.Empty:
		return &finalizedScripts{
			sigScript: scriptpattern.TrivialTrueScriptSig(),
		}, nil

	case *scriptpattern.P2PK:
		sig, err := exactlyOneSig(pi)
		if err != nil {
			return nil, err
		}
		sigScript, err := scriptpattern.P2PKScriptSig(sig.Signature)
		if err != nil {
			return nil, err
		}
		return &finalizedScripts{sigScript: sigScript}, nil

	case *scriptpattern.P2PKH:
		sig, err := exactlyOneSig(pi)
		if err != nil {
			return nil, err
		}
		sigScript, err := scriptpattern.P2PKHScriptSig(
			sig.Signature, sig.PubKey,
		)
		if err != nil {
			return nil, err
		}
		return &finalizedScripts{sigScript: sigScript}, nil

	case *scriptpattern.MultiSig:
		sigs, err := orderedMultiSigSigs(pi, t)
		if err != nil {
			return nil, err
		}
		sigScript, err := scriptpattern.MultiSigScriptSig(sigs)
		if err != nil {
			return nil, err
		}
		return &finalizedScripts{sigScript: sigScript}, nil

	case *scriptpattern.P2SH:
		if pi.RedeemScript == nil {
			return nil, fmt.Errorf("%w: redeem script",
				ErrMissingRecord)
		}
		nested, err := finalizeScript(
			pi, scriptpattern.Classify(pi.RedeemScript), depth+1,
		)
		if err != nil {
			return nil, err
		}
		sigScript, err := scriptpattern.P2SHScriptSig(
			nested.sigScript, pi.RedeemScript,
		)
		if err != nil {
			return nil, err
		}
		return &finalizedScripts{
			sigScript: sigScript,
			witness:   nested.witness,
		}, nil

	case *scriptpattern.P2WPKH:
		sig, err := exactlyOneSig(pi)
		if err != nil {
			return nil, err
		}
		return &finalizedScripts{
			witness: wire.TxWitness{sig.Signature, sig.PubKey},
		}, nil

	case *scriptpattern.P2WSH:
		if pi.WitnessScript == nil {
			return nil, fmt.Errorf("%w: witness script",
				ErrMissingRecord)
		}
		nested, err := finalizeScript(
			pi, scriptpattern.Classify(pi.WitnessScript), depth+1,
		)
		if err != nil {
			return nil, err
		}
		if nested.witness != nil {
			return nil, fmt.Errorf("%w: witness program nested "+
				"inside witness script",
				ErrUnsupportedScriptType)
		}

		stack, err := scriptpattern.WitnessStackFromSigScript(
			nested.sigScript,
		)
		if err != nil {
			return nil, fmt.Errorf("%w: %v",
				ErrUnsupportedScriptType, err)
		}
		return &finalizedScripts{
			witness: append(stack, pi.WitnessScript),
		}, nil

	case *scriptpattern.CLTV:
		return finalizeScript(pi, t.Nested, depth+1)

	case *scriptpattern.CSV:
		return finalizeScript(pi, t.Nested, depth+1)

	case *scriptpattern.P2PKWithTimeout:
		sig, err := exactlyOneSig(pi)
		if err != nil {
			return nil, err
		}

		var beforeTimeout bool
		switch {
		case bytes.Equal(sig.PubKey, t.PubKey):
			beforeTimeout = true
		case bytes.Equal(sig.PubKey, t.TimeoutPubKey):
			beforeTimeout = false
		default:
			return nil, ErrUnsatisfiableBranch
		}

		base, err := scriptpattern.P2PKScriptSig(sig.Signature)
		if err != nil {
			return nil, err
		}
		return &finalizedScripts{
			sigScript: scriptpattern.ConditionalScriptSig(
				base, []bool{beforeTimeout},
			),
		}, nil

	case *scriptpattern.Conditional:
		return finalizeConditional(pi, t, depth)

	default:
		// NonStandard, WitnessCommitment, UnassignedWitness.
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedScriptType,
			pattern)
	}
}

// conditionalLeaf is one satisfiable endpoint of a conditional tree: the
// branch selectors that reach it (outermost first), the pubkey hashes its
// template requires signatures for, and the template itself.
type conditionalLeaf struct {
	path     []bool
	required [][]byte
	pattern  scriptpattern.Pattern
}

// flattenConditional walks a conditional tree and collects its leaves in
// depth first, true branch first order. Locktime wrappers are descended
// through; a P2PKWithTimeout contributes one leaf per key since either key
// can satisfy it.
func flattenConditional(pattern scriptpattern.Pattern, path []bool,
	depth int) ([]conditionalLeaf, error) {

	if depth > scriptpattern.MaxNestingDepth {
		return nil, fmt.Errorf("%w: conditional nesting exceeds %d "+
			"levels", ErrUnsupportedScriptType,
			scriptpattern.MaxNestingDepth)
	}

	clonePath := func(extra ...bool) []bool {
		next := make([]bool, 0, len(path)+len(extra))
		next = append(next, path...)
		return append(next, extra...)
	}

	switch t := pattern.(type) {
	case *scriptpattern.Conditional:
		trueLeaves, err := flattenConditional(
			t.TrueBranch, clonePath(true), depth+1,
		)
		if err != nil {
			return nil, err
		}
		falseLeaves, err := flattenConditional(
			t.FalseBranch, clonePath(false), depth+1,
		)
		if err != nil {
			return nil, err
		}
		return append(trueLeaves, falseLeaves...), nil

	case *scriptpattern.CLTV:
		return flattenConditional(t.Nested, path, depth+1)

	case *scriptpattern.CSV:
		return flattenConditional(t.Nested, path, depth+1)

	case *scriptpattern.P2PKWithTimeout:
		return []conditionalLeaf{
			{
				path:     clonePath(),
				required: [][]byte{hash160(t.PubKey)},
				pattern:  t,
			},
			{
				path:     clonePath(),
				required: [][]byte{hash160(t.TimeoutPubKey)},
				pattern:  t,
			},
		}, nil

	default:
		return []conditionalLeaf{{
			path:     clonePath(),
			required: requiredKeyHashes(pattern),
			pattern:  pattern,
		}}, nil
	}
}

// requiredKeyHashes lists the pubkey hashes a terminal template demands
// signatures for. A zero-required multisig demands none, which makes its
// leaf the designated no-signature branch of a conditional tree.
func requiredKeyHashes(pattern scriptpattern.Pattern) [][]byte {
	switch t := pattern.(type) {
	case *scriptpattern.P2PK:
		return [][]byte{hash160(t.PubKey)}

	case *scriptpattern.P2PKH:
		return [][]byte{t.PubKeyHash}

	case *scriptpattern.MultiSig:
		if t.Required == 0 {
			return nil
		}
		hashes := make([][]byte, len(t.PubKeys))
		for i, pubKey := range t.PubKeys {
			hashes[i] = hash160(pubKey)
		}
		return hashes

	default:
		return nil
	}
}

// finalizeConditional resolves which leaf of a conditional tree the
// provided signatures satisfy, finalizes that leaf, and wraps its
// scriptSig with the branch selectors leading to it.
func finalizeConditional(pi *PInput, cond *scriptpattern.Conditional,
	depth int) (*finalizedScripts, error) {

	leaves, err := flattenConditional(cond, nil, depth)
	if err != nil {
		return nil, err
	}

	provided := make([][]byte, len(pi.PartialSigs))
	for i, ps := range pi.PartialSigs {
		provided[i] = ps.pubKeyHash()
	}

	containsHash := func(hash []byte) bool {
		for _, p := range provided {
			if bytes.Equal(p, hash) {
				return true
			}
		}
		return false
	}

	var chosen *conditionalLeaf
	for i := range leaves {
		leaf := &leaves[i]

		// With no signatures at hand only a leaf that needs none can
		// be taken; with signatures, a leaf qualifies when every hash
		// it requires is covered.
		if len(provided) == 0 {
			if len(leaf.required) == 0 {
				chosen = leaf
				break
			}
			continue
		}

		if len(leaf.required) == 0 {
			continue
		}
		satisfied := true
		for _, hash := range leaf.required {
			if !containsHash(hash) {
				satisfied = false
				break
			}
		}
		if satisfied {
			chosen = leaf
			break
		}
	}
	if chosen == nil {
		return nil, ErrUnsatisfiableBranch
	}

	nested, err := finalizeScript(pi, chosen.pattern, depth+1)
	if err != nil {
		return nil, err
	}

	return &finalizedScripts{
		sigScript: scriptpattern.ConditionalScriptSig(
			nested.sigScript, chosen.path,
		),
		witness: nested.witness,
	}, nil
}
