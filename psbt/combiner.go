// Copyright (c) 2018 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package psbt

import (
	"bytes"
)

// Combine merges two packets that negotiate the same unsigned transaction
// into a single packet holding the union of their records. Records are
// united by their full key; when both sides carry a record under the same
// key, the first argument's record is kept. The version of the result is
// the higher of the two versions. Neither argument is modified.
func Combine(a, b *Packet) (*Packet, error) {
	var bufA, bufB bytes.Buffer
	if err := a.UnsignedTx.SerializeNoWitness(&bufA); err != nil {
		return nil, err
	}
	if err := b.UnsignedTx.SerializeNoWitness(&bufB); err != nil {
		return nil, err
	}
	if !bytes.Equal(bufA.Bytes(), bufB.Bytes()) {
		return nil, ErrCombineMismatch
	}

	// The higher version wins; the loser's version record is dropped
	// before the merge, so equal versions simply collapse.
	version := a.Version
	if b.Version > version {
		version = b.Version
	}

	// Global xpubs unite by their extended key.
	xPubs := make([]*XPub, 0, len(a.XPubs)+len(b.XPubs))
	xPubs = append(xPubs, a.XPubs...)
	for _, xPub := range b.XPubs {
		dup := false
		for _, kept := range xPubs {
			if bytes.Equal(kept.ExtendedKey, xPub.ExtendedKey) {
				dup = true
				break
			}
		}
		if !dup {
			xPubs = append(xPubs, xPub)
		}
	}

	unknowns := combineUnknowns(a.Unknowns, b.Unknowns)

	inputs := make([]PInput, len(a.Inputs))
	for i := range a.Inputs {
		merged, err := combineInput(&a.Inputs[i], &b.Inputs[i])
		if err != nil {
			return nil, err
		}
		inputs[i] = *merged
	}

	outputs := make([]POutput, len(a.Outputs))
	for i := range a.Outputs {
		merged, err := combineOutput(&a.Outputs[i], &b.Outputs[i])
		if err != nil {
			return nil, err
		}
		outputs[i] = *merged
	}

	combined := &Packet{
		UnsignedTx: a.UnsignedTx.Copy(),
		Inputs:     inputs,
		Outputs:    outputs,
		XPubs:      xPubs,
		Version:    version,
		Unknowns:   unknowns,
	}

	if err := combined.SanityCheck(); err != nil {
		return nil, err
	}

	log.Debugf("combined packets: %d inputs, %d outputs, version %d",
		len(inputs), len(outputs), version)

	return combined, nil
}

// Combine returns a new packet holding the union of the receiver's and the
// other packet's records, with the receiver's records winning collisions.
func (p *Packet) Combine(other *Packet) (*Packet, error) {
	return Combine(p, other)
}

// combineUnknowns unites two unknown record lists by full key, keeping the
// left side's record on collision.
func combineUnknowns(a, b []*Unknown) []*Unknown {
	out := make([]*Unknown, 0, len(a)+len(b))
	out = append(out, a...)
	for _, unknown := range b {
		dup := false
		for _, kept := range out {
			if bytes.Equal(kept.Key, unknown.Key) {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, unknown)
		}
	}
	return out
}

// combineInput merges two input maps record by record. The merge works on
// the raw record form so the key-union semantics are exactly those of the
// wire format, and the merged set is re-decoded so every map invariant is
// checked again on the result.
func combineInput(a, b *PInput) (*PInput, error) {
	recordsA, err := a.records()
	if err != nil {
		return nil, err
	}
	recordsB, err := b.records()
	if err != nil {
		return nil, err
	}

	merged := distinctByKey(append(recordsA, recordsB...))
	return decodePInput(merged)
}

// combineOutput merges two output maps record by record, in the same way
// combineInput does.
func combineOutput(a, b *POutput) (*POutput, error) {
	merged := distinctByKey(append(a.records(), b.records()...))
	return decodePOutput(merged)
}
