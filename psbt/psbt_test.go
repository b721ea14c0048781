// Copyright (c) 2018 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package psbt

import (
	"bytes"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

// testKey derives a deterministic private key from a single seed byte and
// returns it along with the compressed serialization of its public key.
func testKey(t *testing.T, seed byte) (*btcec.PrivateKey, []byte) {
	t.Helper()

	if seed == 0 {
		t.Fatal("zero seed produces an invalid private key")
	}
	priv, pub := btcec.PrivKeyFromBytes(bytes.Repeat([]byte{seed}, 32))
	return priv, pub.SerializeCompressed()
}

// p2pkhScript builds a canonical pay-to-pubkey-hash script.
func p2pkhScript(t *testing.T, pubKeyHash []byte) []byte {
	t.Helper()

	script, err := txscript.NewScriptBuilder().
		AddOp(txscript.OP_DUP).
		AddOp(txscript.OP_HASH160).
		AddData(pubKeyHash).
		AddOp(txscript.OP_EQUALVERIFY).
		AddOp(txscript.OP_CHECKSIG).
		Script()
	require.NoError(t, err)
	return script
}

// p2shScript builds a canonical pay-to-script-hash script.
func p2shScript(t *testing.T, scriptHash []byte) []byte {
	t.Helper()

	script, err := txscript.NewScriptBuilder().
		AddOp(txscript.OP_HASH160).
		AddData(scriptHash).
		AddOp(txscript.OP_EQUAL).
		Script()
	require.NoError(t, err)
	return script
}

// witnessV0Script builds a version 0 witness program script from a 20 or
// 32 byte program.
func witnessV0Script(t *testing.T, program []byte) []byte {
	t.Helper()

	script, err := txscript.NewScriptBuilder().
		AddOp(txscript.OP_0).
		AddData(program).
		Script()
	require.NoError(t, err)
	return script
}

// multiSigScript builds a bare m-of-n multisig script over the given
// serialized pubkeys.
func multiSigScript(t *testing.T, required int, pubKeys ...[]byte) []byte {
	t.Helper()

	builder := txscript.NewScriptBuilder().
		AddInt64(int64(required))
	for _, pubKey := range pubKeys {
		builder.AddData(pubKey)
	}
	script, err := builder.
		AddInt64(int64(len(pubKeys))).
		AddOp(txscript.OP_CHECKMULTISIG).
		Script()
	require.NoError(t, err)
	return script
}

// testPrevTx builds a previous transaction with the given output scripts,
// each holding 100_000 sats more than the last.
func testPrevTx(t *testing.T, pkScripts ...[]byte) *wire.MsgTx {
	t.Helper()

	prevTx := wire.NewMsgTx(2)
	var fakeHash chainhash.Hash
	fakeHash[0] = 0x55
	prevTx.AddTxIn(wire.NewTxIn(
		wire.NewOutPoint(&fakeHash, 0), nil, nil,
	))
	for i, pkScript := range pkScripts {
		prevTx.AddTxOut(wire.NewTxOut(
			int64(100_000*(i+1)), pkScript,
		))
	}
	return prevTx
}

// testUnsignedTx builds an unsigned transaction spending the given outputs
// of the given previous transactions, paying to a throwaway P2PKH output.
func testUnsignedTx(t *testing.T, prevTxs []*wire.MsgTx,
	vouts []uint32) *wire.MsgTx {

	t.Helper()

	tx := wire.NewMsgTx(2)
	for i, prevTx := range prevTxs {
		prevHash := prevTx.TxHash()
		tx.AddTxIn(wire.NewTxIn(
			wire.NewOutPoint(&prevHash, vouts[i]), nil, nil,
		))
	}

	_, destPub := testKey(t, 9)
	tx.AddTxOut(wire.NewTxOut(
		90_000, p2pkhScript(t, hash160(destPub)),
	))
	return tx
}

// serializePacket renders the packet to its binary form, failing the test
// on error.
func serializePacket(t *testing.T, p *Packet) []byte {
	t.Helper()

	var buf bytes.Buffer
	require.NoError(t, p.Serialize(&buf))
	return buf.Bytes()
}

// TestNewFromUnsignedTx checks the creator role: wrapping a raw unsigned
// transaction must yield a packet with one empty input map per input, one
// empty output map per output, and the transaction in the global section.
func TestNewFromUnsignedTx(t *testing.T) {
	t.Parallel()

	_, pub := testKey(t, 1)
	prevTx := testPrevTx(
		t, p2pkhScript(t, hash160(pub)), p2pkhScript(t, hash160(pub)),
	)
	tx := testUnsignedTx(
		t, []*wire.MsgTx{prevTx, prevTx}, []uint32{0, 1},
	)
	tx.AddTxOut(wire.NewTxOut(5_000, p2pkhScript(t, hash160(pub))))

	p, err := NewFromUnsignedTx(tx)
	require.NoError(t, err)
	require.Len(t, p.Inputs, 2)
	require.Len(t, p.Outputs, 2)

	// The binary form must round-trip through the parser and come back
	// byte identical.
	raw := serializePacket(t, p)
	parsed, err := NewFromRawBytes(bytes.NewReader(raw), false)
	require.NoError(t, err)
	require.Equal(t, raw, serializePacket(t, parsed))

	// A signed transaction must be rejected by the creator.
	signedTx := tx.Copy()
	signedTx.TxIn[0].SignatureScript = []byte{txscript.OP_TRUE}
	_, err = NewFromUnsignedTx(signedTx)
	require.ErrorIs(t, err, ErrInvalidRawTxSigned)
}

// TestStringEncodingSniffing checks that NewFromString accepts both text
// forms of the same packet and rejects text in neither form.
func TestStringEncodingSniffing(t *testing.T) {
	t.Parallel()

	_, pub := testKey(t, 2)
	prevTx := testPrevTx(t, p2pkhScript(t, hash160(pub)))
	tx := testUnsignedTx(t, []*wire.MsgTx{prevTx}, []uint32{0})
	p, err := NewFromUnsignedTx(tx)
	require.NoError(t, err)

	b64, err := p.B64Encode()
	require.NoError(t, err)
	hexForm, err := p.HexEncode()
	require.NoError(t, err)

	fromB64, err := NewFromString(b64)
	require.NoError(t, err)
	fromHex, err := NewFromString(hexForm)
	require.NoError(t, err)

	require.Equal(
		t, serializePacket(t, fromB64), serializePacket(t, fromHex),
	)

	_, err = NewFromString("definitely not a psbt")
	require.ErrorIs(t, err, ErrInvalidMagicBytes)
}

// TestBadMagic checks that a packet whose magic prefix is off by one byte
// is rejected outright.
func TestBadMagic(t *testing.T) {
	t.Parallel()

	_, pub := testKey(t, 3)
	prevTx := testPrevTx(t, p2pkhScript(t, hash160(pub)))
	tx := testUnsignedTx(t, []*wire.MsgTx{prevTx}, []uint32{0})
	p, err := NewFromUnsignedTx(tx)
	require.NoError(t, err)

	raw := serializePacket(t, p)
	raw[4] ^= 0x01

	_, err = NewFromRawBytes(bytes.NewReader(raw), false)
	require.ErrorIs(t, err, ErrInvalidMagicBytes)
}

// TestTruncatedInput checks that serializations cut off mid-section are
// reported as truncated rather than some other malformation.
func TestTruncatedInput(t *testing.T) {
	t.Parallel()

	_, pub := testKey(t, 3)
	prevTx := testPrevTx(t, p2pkhScript(t, hash160(pub)))
	tx := testUnsignedTx(t, []*wire.MsgTx{prevTx}, []uint32{0})
	p, err := NewFromUnsignedTx(tx)
	require.NoError(t, err)

	raw := serializePacket(t, p)

	// Both maps are empty, so the last two bytes are the input and output
	// map separators; chopping them leaves the input map unterminated.
	_, err = NewFromRawBytes(bytes.NewReader(raw[:len(raw)-2]), false)
	require.ErrorIs(t, err, ErrTruncatedPsbt)
}

// TestStructuralMismatch checks that extra map sections beyond what the
// unsigned transaction declares are rejected.
func TestStructuralMismatch(t *testing.T) {
	t.Parallel()

	_, pub := testKey(t, 4)
	prevTx := testPrevTx(t, p2pkhScript(t, hash160(pub)))
	tx := testUnsignedTx(t, []*wire.MsgTx{prevTx}, []uint32{0})
	p, err := NewFromUnsignedTx(tx)
	require.NoError(t, err)

	// An extra empty map section after the declared ones.
	raw := append(serializePacket(t, p), 0x00)

	_, err = NewFromRawBytes(bytes.NewReader(raw), false)
	require.ErrorIs(t, err, ErrStructuralMismatch)
}

// TestDuplicateKeyRejected checks that two records with identical full
// keys within one map section fail the parse.
func TestDuplicateKeyRejected(t *testing.T) {
	t.Parallel()

	_, pub := testKey(t, 5)
	prevTx := testPrevTx(t, p2pkhScript(t, hash160(pub)))
	tx := testUnsignedTx(t, []*wire.MsgTx{prevTx}, []uint32{0})
	p, err := NewFromUnsignedTx(tx)
	require.NoError(t, err)
	p.Inputs[0].RedeemScript = []byte{txscript.OP_TRUE}

	raw := serializePacket(t, p)

	// Duplicate the redeem script record by splicing a second copy in
	// front of the original: key length 1, key 0x04, value length 1,
	// OP_TRUE. The search starts at the input section so a chance match
	// inside the global transaction bytes cannot mislead it.
	var globalBuf bytes.Buffer
	globalRecords, err := p.globalRecords()
	require.NoError(t, err)
	require.NoError(t, serializeRawRecords(&globalBuf, globalRecords))
	sectionStart := psbtMagicLength + globalBuf.Len() + 1

	rec := []byte{0x01, 0x04, 0x01, txscript.OP_TRUE}
	idx := bytes.Index(raw[sectionStart:], rec)
	require.GreaterOrEqual(t, idx, 0)
	idx += sectionStart

	spliced := make([]byte, 0, len(raw)+len(rec))
	spliced = append(spliced, raw[:idx]...)
	spliced = append(spliced, rec...)
	spliced = append(spliced, raw[idx:]...)

	_, err = NewFromRawBytes(bytes.NewReader(spliced), false)
	require.ErrorIs(t, err, ErrDuplicateKey)
}

// TestConflictingUtxoRejected checks that an input map carrying both utxo
// record kinds cannot be parsed.
func TestConflictingUtxoRejected(t *testing.T) {
	t.Parallel()

	_, pub := testKey(t, 6)
	spk := p2pkhScript(t, hash160(pub))
	prevTx := testPrevTx(t, spk)
	tx := testUnsignedTx(t, []*wire.MsgTx{prevTx}, []uint32{0})

	p, err := NewFromUnsignedTx(tx)
	require.NoError(t, err)

	// Assembling the conflicting input directly and serializing must
	// already fail.
	p.Inputs[0].NonWitnessUtxo = prevTx
	p.Inputs[0].WitnessUtxo = wire.NewTxOut(100_000, spk)

	var buf bytes.Buffer
	require.ErrorIs(t, p.Serialize(&buf), ErrConflictingUtxo)

	// Now splice the witness utxo record into a valid serialization by
	// hand and make sure the parser catches it.
	p.Inputs[0].WitnessUtxo = nil
	raw := serializePacket(t, p)

	var recBuf bytes.Buffer
	require.NoError(t, serializeKVPairWithType(
		&recBuf, uint8(WitnessUtxoType), nil,
		writeTxOut(wire.NewTxOut(100_000, spk)),
	))

	// The input section starts right after the magic, the global records
	// and the global separator; inserting there keeps the section well
	// formed.
	var globalBuf bytes.Buffer
	globalRecords, err := p.globalRecords()
	require.NoError(t, err)
	require.NoError(t, serializeRawRecords(&globalBuf, globalRecords))
	sectionStart := psbtMagicLength + globalBuf.Len() + 1

	spliced := make([]byte, 0, len(raw)+recBuf.Len())
	spliced = append(spliced, raw[:sectionStart]...)
	spliced = append(spliced, recBuf.Bytes()...)
	spliced = append(spliced, raw[sectionStart:]...)

	_, err = NewFromRawBytes(bytes.NewReader(spliced), false)
	require.ErrorIs(t, err, ErrConflictingUtxo)
}

// TestVersionAndUnknownRoundTrip checks that a global version record and
// unknown records in every scope survive a serialization round trip.
func TestVersionAndUnknownRoundTrip(t *testing.T) {
	t.Parallel()

	_, pub := testKey(t, 7)
	prevTx := testPrevTx(t, p2pkhScript(t, hash160(pub)))
	tx := testUnsignedTx(t, []*wire.MsgTx{prevTx}, []uint32{0})

	p, err := NewFromUnsignedTx(tx)
	require.NoError(t, err)

	p.Version = 7
	p.Unknowns = append(p.Unknowns, &Unknown{
		Key:   []byte{0xF0, 0xAA},
		Value: []byte{0x01, 0x02, 0x03},
	})
	p.Inputs[0].Unknowns = append(p.Inputs[0].Unknowns, &Unknown{
		Key:   []byte{0xF1},
		Value: []byte{0x04},
	})
	p.Outputs[0].Unknowns = append(p.Outputs[0].Unknowns, &Unknown{
		Key:   []byte{0xF2},
		Value: nil,
	})

	raw := serializePacket(t, p)
	parsed, err := NewFromRawBytes(bytes.NewReader(raw), false)
	require.NoError(t, err)

	require.Equal(t, uint32(7), parsed.Version)
	require.Len(t, parsed.Unknowns, 1)
	require.Equal(t, []byte{0xF0, 0xAA}, parsed.Unknowns[0].Key)
	require.Len(t, parsed.Inputs[0].Unknowns, 1)
	require.Len(t, parsed.Outputs[0].Unknowns, 1)
	require.Equal(t, raw, serializePacket(t, parsed))
}

// TestGetTxFee checks the fee computation over both utxo record kinds.
func TestGetTxFee(t *testing.T) {
	t.Parallel()

	_, pub := testKey(t, 8)
	spk := p2pkhScript(t, hash160(pub))
	prevTx := testPrevTx(t, spk)
	tx := testUnsignedTx(t, []*wire.MsgTx{prevTx}, []uint32{0})

	p, err := NewFromUnsignedTx(tx)
	require.NoError(t, err)

	// No utxo record at all: fee cannot be known.
	_, err = p.GetTxFee()
	require.ErrorIs(t, err, ErrMissingRecord)

	p.Inputs[0].WitnessUtxo = wire.NewTxOut(100_000, spk)
	fee, err := p.GetTxFee()
	require.NoError(t, err)
	require.EqualValues(t, 10_000, fee)

	p.Inputs[0].WitnessUtxo = nil
	p.Inputs[0].NonWitnessUtxo = prevTx
	fee, err = p.GetTxFee()
	require.NoError(t, err)
	require.EqualValues(t, 10_000, fee)
}
