// Copyright (c) 2018 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package psbt

import (
	"bytes"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
)

// PartialSig encapsulate a (BTC public key, ECDSA signature)
// pair, note that the fields are stored as byte slices, not
// btcec.PublicKey or btcec.Signature (because manipulations will
// be with the former not the latter, here); compliance with consensus
// serialization is enforced with .checkValid()
type PartialSig struct {
	PubKey    []byte
	Signature []byte
}

// PartialSigSorter implements sort.Interface for PartialSig.
type PartialSigSorter []*PartialSig

func (s PartialSigSorter) Len() int { return len(s) }

func (s PartialSigSorter) Swap(i, j int) { s[i], s[j] = s[j], s[i] }

func (s PartialSigSorter) Less(i, j int) bool {
	return bytes.Compare(s[i].PubKey, s[j].PubKey) < 0
}

// pubKeyHash returns the HASH160 of the signer's serialized public key,
// which is how signatures are matched against script branches during
// finalization.
func (ps *PartialSig) pubKeyHash() []byte {
	return btcutil.Hash160(ps.PubKey)
}

// validatePubkey checks if pubKey is *any* valid pubKey serialization in a
// Bitcoin context (compressed/uncomp. OK).
func validatePubkey(pubKey []byte) bool {
	_, err := btcec.ParsePubKey(pubKey)
	return err == nil
}

// validateSignature checks that the passed byte slice is a valid DER-encoded
// ECDSA signature followed by a single sighash flag byte.  It does *not* of
// course validate the signature against any message or public key.
func validateSignature(sig []byte) bool {
	if len(sig) < 2 {
		return false
	}

	// The final byte is the sighash flag and is not part of the DER
	// encoded body.
	_, err := ecdsa.ParseDERSignature(sig[:len(sig)-1])
	return err == nil
}

// checkValid checks that both the pubkey and sig are valid. See the methods
// (PartialSig, validatePubkey, validateSignature) for more details.
func (ps *PartialSig) checkValid() bool {
	return validatePubkey(ps.PubKey) && validateSignature(ps.Signature)
}
