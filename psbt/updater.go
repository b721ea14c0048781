// Copyright (c) 2018 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package psbt

import (
	"bytes"

	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// Updater encapsulates the role 'Updater' as specified in BIP174; it accepts
// Psbt structs and has methods to add fields to the inputs and outputs.
type Updater struct {
	Upsbt *Packet
}

// NewUpdater returns a new instance of Updater, if the passed Psbt struct
// passes the sanity check, else an error is returned.
func NewUpdater(p *Packet) (*Updater, error) {
	if err := p.SanityCheck(); err != nil {
		return nil, err
	}

	return &Updater{Upsbt: p}, nil
}

// AddInNonWitnessUtxo adds the utxo information for an input which is
// non-witness. This requires provision of a full transaction (which is the
// source of the corresponding prevOut), and the input index. If addition of
// this key-value pair to the Psbt fails, an error is returned.
func (u *Updater) AddInNonWitnessUtxo(tx *wire.MsgTx, inIndex int) error {
	if inIndex > len(u.Upsbt.UnsignedTx.TxIn)-1 {
		return ErrInvalidPrevOutNonWitnessTransaction
	}

	// The transaction provided must actually be the previous transaction
	// this input spends.
	txHash := tx.TxHash()
	prevHash := u.Upsbt.UnsignedTx.TxIn[inIndex].PreviousOutPoint.Hash
	if !bytes.Equal(txHash[:], prevHash[:]) {
		return ErrInvalidPrevOutNonWitnessTransaction
	}

	if u.Upsbt.Inputs[inIndex].WitnessUtxo != nil {
		return ErrConflictingUtxo
	}

	u.Upsbt.Inputs[inIndex].NonWitnessUtxo = tx

	return nil
}

// AddInWitnessUtxo adds the utxo information for an input which is witness.
// This requires provision of a full transaction output (which is the source
// of the corresponding prevOut); not the full transaction because BIP143
// means the output information is sufficient, and the input index. If
// addition of this key-value pair to the Psbt fails, an error is returned.
func (u *Updater) AddInWitnessUtxo(txout *wire.TxOut, inIndex int) error {
	if inIndex > len(u.Upsbt.UnsignedTx.TxIn)-1 {
		return ErrInvalidPsbtFormat
	}

	if u.Upsbt.Inputs[inIndex].NonWitnessUtxo != nil {
		return ErrConflictingUtxo
	}

	u.Upsbt.Inputs[inIndex].WitnessUtxo = txout

	return nil
}

// AddPartialSignature allows the Updater role to insert fields of type
// partial signature into a Psbt, consisting of both the pubkey (as keydata)
// and the ECDSA signature (as value). The sighash flag byte trailing the
// signature must agree with any sighash type record already present on the
// input.
func (u *Updater) AddPartialSignature(inIndex int, sig []byte,
	pubKey []byte) error {

	if inIndex > len(u.Upsbt.UnsignedTx.TxIn)-1 {
		return ErrInvalidPsbtFormat
	}

	partialSig := PartialSig{
		PubKey: pubKey, Signature: sig,
	}

	// First validate the passed (sig, pub).
	if !partialSig.checkValid() {
		return ErrInvalidPsbtFormat
	}

	pInput := &u.Upsbt.Inputs[inIndex]

	// First check; don't add duplicates.
	for _, x := range pInput.PartialSigs {
		if bytes.Equal(x.PubKey, partialSig.PubKey) {
			return ErrDuplicateKey
		}
	}

	// Next check; we can't add a partial signature to an already finalized
	// input.
	if pInput.isFinalized() {
		return ErrInputAlreadyFinalized
	}

	// The sighash flag appended to the signature must match a sighash
	// type record if one was attached to the input.
	if pInput.SighashType != 0 {
		flag := txscript.SigHashType(sig[len(sig)-1])
		if flag != pInput.SighashType {
			return ErrInvalidSigHashFlags
		}
	}

	pInput.PartialSigs = append(pInput.PartialSigs, &partialSig)

	return nil
}

// AddInSighashType adds the sighash type information for an input.  The
// sighash type is passed as a 32 bit unsigned integer, along with the index
// for the input.
func (u *Updater) AddInSighashType(sighashType txscript.SigHashType,
	inIndex int) error {

	if inIndex > len(u.Upsbt.UnsignedTx.TxIn)-1 {
		return ErrInvalidPsbtFormat
	}

	u.Upsbt.Inputs[inIndex].SighashType = sighashType

	return nil
}

// AddInRedeemScript adds the redeem script information for an input.  The
// redeem script is passed serialized, as a byte slice, along with the index
// of the input.
func (u *Updater) AddInRedeemScript(redeemScript []byte,
	inIndex int) error {

	if inIndex > len(u.Upsbt.UnsignedTx.TxIn)-1 {
		return ErrInvalidPsbtFormat
	}

	u.Upsbt.Inputs[inIndex].RedeemScript = redeemScript

	return nil
}

// AddInWitnessScript adds the witness script information for an input.  The
// witness script is passed serialized, as a byte slice, along with the index
// of the input.
func (u *Updater) AddInWitnessScript(witnessScript []byte,
	inIndex int) error {

	if inIndex > len(u.Upsbt.UnsignedTx.TxIn)-1 {
		return ErrInvalidPsbtFormat
	}

	u.Upsbt.Inputs[inIndex].WitnessScript = witnessScript

	return nil
}

// AddInBip32Derivation takes a master key fingerprint as defined in BIP32,
// a BIP32 path as a slice of uint32 values, and a serialized pubkey as a
// byte slice, along with the integer index of the input, and inserts this
// data into that input.
//
// NOTE: This can be called multiple times for the same input.  An error is
// returned if addition of this key-value pair to the Psbt fails.
func (u *Updater) AddInBip32Derivation(masterKeyFingerprint uint32,
	bip32Path []uint32, pubKeyData []byte, inIndex int) error {

	if inIndex > len(u.Upsbt.UnsignedTx.TxIn)-1 {
		return ErrInvalidPsbtFormat
	}

	bip32Derivation := Bip32Derivation{
		PubKey:               pubKeyData,
		MasterKeyFingerprint: masterKeyFingerprint,
		Bip32Path:            bip32Path,
	}

	if !validatePubkey(bip32Derivation.PubKey) {
		return ErrInvalidPsbtFormat
	}

	// Don't allow duplicate keys
	for _, x := range u.Upsbt.Inputs[inIndex].Bip32Derivation {
		if bytes.Equal(x.PubKey, bip32Derivation.PubKey) {
			return ErrDuplicateKey
		}
	}

	u.Upsbt.Inputs[inIndex].Bip32Derivation = append(
		u.Upsbt.Inputs[inIndex].Bip32Derivation, &bip32Derivation,
	)

	return nil
}

// AddOutBip32Derivation takes a master key fingerprint as defined in BIP32,
// a BIP32 path as a slice of uint32 values, and a serialized pubkey as a
// byte slice, along with the integer index of the output, and inserts this
// data into that output.
//
// NOTE: That this can be called multiple times for the same output.  An
// error is returned if addition of this key-value pair to the Psbt fails.
func (u *Updater) AddOutBip32Derivation(masterKeyFingerprint uint32,
	bip32Path []uint32, pubKeyData []byte, outIndex int) error {

	if outIndex > len(u.Upsbt.UnsignedTx.TxOut)-1 {
		return ErrInvalidPsbtFormat
	}

	bip32Derivation := Bip32Derivation{
		PubKey:               pubKeyData,
		MasterKeyFingerprint: masterKeyFingerprint,
		Bip32Path:            bip32Path,
	}

	if !validatePubkey(bip32Derivation.PubKey) {
		return ErrInvalidPsbtFormat
	}

	// Don't allow duplicate keys
	for _, x := range u.Upsbt.Outputs[outIndex].Bip32Derivation {
		if bytes.Equal(x.PubKey, bip32Derivation.PubKey) {
			return ErrDuplicateKey
		}
	}

	u.Upsbt.Outputs[outIndex].Bip32Derivation = append(
		u.Upsbt.Outputs[outIndex].Bip32Derivation, &bip32Derivation,
	)

	return nil
}

// AddOutRedeemScript takes a redeem script as a byte slice and appends it
// to the output at index outIndex.
func (u *Updater) AddOutRedeemScript(redeemScript []byte,
	outIndex int) error {

	if outIndex > len(u.Upsbt.UnsignedTx.TxOut)-1 {
		return ErrInvalidPsbtFormat
	}

	u.Upsbt.Outputs[outIndex].RedeemScript = redeemScript

	return nil
}

// AddOutWitnessScript takes a witness script as a byte slice and appends it
// to the output at index outIndex.
func (u *Updater) AddOutWitnessScript(witnessScript []byte,
	outIndex int) error {

	if outIndex > len(u.Upsbt.UnsignedTx.TxOut)-1 {
		return ErrInvalidPsbtFormat
	}

	u.Upsbt.Outputs[outIndex].WitnessScript = witnessScript

	return nil
}

// AddGlobalXPub adds an extended public key and the derivation leading to
// it to the global section.
func (u *Updater) AddGlobalXPub(xPub *XPub) error {
	if len(xPub.ExtendedKey) != bip32KeyLength {
		return ErrInvalidKeyData
	}

	// Don't allow duplicate keys
	for _, x := range u.Upsbt.XPubs {
		if bytes.Equal(x.ExtendedKey, xPub.ExtendedKey) {
			return ErrDuplicateKey
		}
	}

	u.Upsbt.XPubs = append(u.Upsbt.XPubs, xPub)

	return nil
}

// SetVersion sets the global version of the packet. Versions only ratchet
// upwards; lowering the version is rejected.
func (u *Updater) SetVersion(version uint32) error {
	if version < u.Upsbt.Version {
		return ErrInvalidPsbtFormat
	}

	u.Upsbt.Version = version

	return nil
}

// AddGlobalUnknown appends an unrecognized key-value record to the global
// section. The key must not collide with a known global type or an already
// present unknown record.
func (u *Updater) AddGlobalUnknown(key, value []byte) error {
	if len(key) == 0 {
		return ErrInvalidKeyData
	}
	switch GlobalType(key[0]) {
	case UnsignedTxType, XPubType, VersionType:
		return ErrInvalidKeyData
	}

	for _, x := range u.Upsbt.Unknowns {
		if bytes.Equal(x.Key, key) {
			return ErrDuplicateKey
		}
	}

	u.Upsbt.Unknowns = append(
		u.Upsbt.Unknowns, &Unknown{Key: key, Value: value},
	)

	return nil
}

// AddInUnknown appends an unrecognized key-value record to the input at
// inIndex.
func (u *Updater) AddInUnknown(key, value []byte, inIndex int) error {
	if inIndex > len(u.Upsbt.UnsignedTx.TxIn)-1 {
		return ErrInvalidPsbtFormat
	}
	if len(key) == 0 || InputType(key[0]) <= PorCommitmentType {
		return ErrInvalidKeyData
	}

	pInput := &u.Upsbt.Inputs[inIndex]
	for _, x := range pInput.Unknowns {
		if bytes.Equal(x.Key, key) {
			return ErrDuplicateKey
		}
	}

	pInput.Unknowns = append(
		pInput.Unknowns, &Unknown{Key: key, Value: value},
	)

	return nil
}

// AddOutUnknown appends an unrecognized key-value record to the output at
// outIndex.
func (u *Updater) AddOutUnknown(key, value []byte, outIndex int) error {
	if outIndex > len(u.Upsbt.UnsignedTx.TxOut)-1 {
		return ErrInvalidPsbtFormat
	}
	if len(key) == 0 || OutputType(key[0]) <= Bip32DerivationOutputType {
		return ErrInvalidKeyData
	}

	pOutput := &u.Upsbt.Outputs[outIndex]
	for _, x := range pOutput.Unknowns {
		if bytes.Equal(x.Key, key) {
			return ErrDuplicateKey
		}
	}

	pOutput.Unknowns = append(
		pOutput.Unknowns, &Unknown{Key: key, Value: value},
	)

	return nil
}
