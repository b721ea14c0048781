// Copyright (c) 2018 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package psbt

import (
	"bytes"
	"testing"

	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

func TestUpdaterUtxoRecords(t *testing.T) {
	t.Parallel()

	_, pub := testKey(t, 1)
	spk := p2pkhScript(t, hash160(pub))

	p, prevTx := singleInputPacket(t, spk)
	u, err := NewUpdater(p)
	require.NoError(t, err)

	// A non-witness utxo whose hash doesn't match the prevout must be
	// refused.
	bogusTx := testPrevTx(t, spk, spk)
	require.ErrorIs(
		t, u.AddInNonWitnessUtxo(bogusTx, 0),
		ErrInvalidPrevOutNonWitnessTransaction,
	)

	require.NoError(t, u.AddInNonWitnessUtxo(prevTx, 0))

	// The two utxo kinds are mutually exclusive through the updater as
	// well.
	require.ErrorIs(
		t, u.AddInWitnessUtxo(wire.NewTxOut(100_000, spk), 0),
		ErrConflictingUtxo,
	)
}

func TestUpdaterPartialSignature(t *testing.T) {
	t.Parallel()

	priv, pub := testKey(t, 2)
	spk := p2pkhScript(t, hash160(pub))

	p, prevTx := singleInputPacket(t, spk)
	u, err := NewUpdater(p)
	require.NoError(t, err)
	require.NoError(t, u.AddInNonWitnessUtxo(prevTx, 0))

	sig, err := txscript.RawTxInSignature(
		p.UnsignedTx, 0, spk, txscript.SigHashAll, priv,
	)
	require.NoError(t, err)

	// A garbage signature is refused.
	require.ErrorIs(
		t, u.AddPartialSignature(0, []byte{0xde, 0xad}, pub),
		ErrInvalidPsbtFormat,
	)

	// A sighash record that disagrees with the signature's flag is
	// refused.
	require.NoError(t, u.AddInSighashType(txscript.SigHashSingle, 0))
	require.ErrorIs(
		t, u.AddPartialSignature(0, sig, pub), ErrInvalidSigHashFlags,
	)

	require.NoError(t, u.AddInSighashType(txscript.SigHashAll, 0))
	require.NoError(t, u.AddPartialSignature(0, sig, pub))

	// No duplicates under the same pubkey.
	require.ErrorIs(
		t, u.AddPartialSignature(0, sig, pub), ErrDuplicateKey,
	)

	// Once the input is finalized, signatures are refused.
	require.NoError(t, Finalize(p, 0))
	_, otherPub := testKey(t, 3)
	require.ErrorIs(
		t, u.AddPartialSignature(0, sig, otherPub),
		ErrInputAlreadyFinalized,
	)
}

func TestUpdaterScriptsAndDerivations(t *testing.T) {
	t.Parallel()

	_, pub := testKey(t, 4)
	spk := p2pkhScript(t, hash160(pub))

	prevTx := testPrevTx(t, spk)
	tx := testUnsignedTx(t, []*wire.MsgTx{prevTx}, []uint32{0})
	p, err := NewFromUnsignedTx(tx)
	require.NoError(t, err)
	u, err := NewUpdater(p)
	require.NoError(t, err)

	redeemScript := multiSigScript(t, 1, pub)
	require.NoError(t, u.AddInRedeemScript(redeemScript, 0))
	require.NoError(t, u.AddInWitnessScript(redeemScript, 0))
	require.NoError(
		t, u.AddInBip32Derivation(0x01020304, []uint32{44, 0}, pub, 0),
	)
	require.ErrorIs(
		t, u.AddInBip32Derivation(0x01020304, []uint32{44, 0}, pub, 0),
		ErrDuplicateKey,
	)

	require.NoError(t, u.AddOutRedeemScript(redeemScript, 0))
	require.NoError(t, u.AddOutWitnessScript(redeemScript, 0))
	require.NoError(
		t, u.AddOutBip32Derivation(0x0A0B0C0D, []uint32{44, 1}, pub, 0),
	)

	// Out of range indices are refused.
	require.ErrorIs(
		t, u.AddInRedeemScript(redeemScript, 5), ErrInvalidPsbtFormat,
	)

	// Everything added must survive a round trip.
	raw := serializePacket(t, p)
	parsed, err := NewFromRawBytes(bytes.NewReader(raw), false)
	require.NoError(t, err)
	require.Equal(t, raw, serializePacket(t, parsed))
}

func TestUpdaterGlobals(t *testing.T) {
	t.Parallel()

	_, pub := testKey(t, 5)
	spk := p2pkhScript(t, hash160(pub))
	p, _ := singleInputPacket(t, spk)
	u, err := NewUpdater(p)
	require.NoError(t, err)

	xPub := &XPub{
		ExtendedKey:          bytes.Repeat([]byte{0xCD}, bip32KeyLength),
		MasterKeyFingerprint: 0x11223344,
		Bip32Path:            []uint32{44, 0, 0},
	}
	require.NoError(t, u.AddGlobalXPub(xPub))
	require.ErrorIs(t, u.AddGlobalXPub(xPub), ErrDuplicateKey)
	require.ErrorIs(t, u.AddGlobalXPub(&XPub{
		ExtendedKey: []byte{0x01},
	}), ErrInvalidKeyData)

	require.NoError(t, u.SetVersion(2))
	require.ErrorIs(t, u.SetVersion(1), ErrInvalidPsbtFormat)

	// Unknown records must not shadow registered types.
	require.ErrorIs(
		t, u.AddGlobalUnknown([]byte{byte(UnsignedTxType)}, nil),
		ErrInvalidKeyData,
	)
	require.NoError(t, u.AddGlobalUnknown([]byte{0xF0}, []byte{0x01}))
	require.ErrorIs(
		t, u.AddGlobalUnknown([]byte{0xF0}, []byte{0x02}),
		ErrDuplicateKey,
	)

	require.ErrorIs(
		t, u.AddInUnknown([]byte{byte(PartialSigType)}, nil, 0),
		ErrInvalidKeyData,
	)
	require.NoError(t, u.AddInUnknown([]byte{0xF1}, []byte{0x01}, 0))
	require.NoError(t, u.AddOutUnknown([]byte{0xF2}, nil, 0))

	raw := serializePacket(t, p)
	parsed, err := NewFromRawBytes(bytes.NewReader(raw), false)
	require.NoError(t, err)
	require.Equal(t, uint32(2), parsed.Version)
	require.Len(t, parsed.XPubs, 1)
	require.Equal(t, raw, serializePacket(t, parsed))
}
