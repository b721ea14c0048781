// Copyright (c) 2018 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package scriptpattern

import (
	"bytes"
	"testing"

	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

// fakeSig produces a byte string shaped like a DER signature push; the
// builders do not care about its cryptographic validity.
func fakeSig(fill byte) []byte {
	return bytes.Repeat([]byte{fill}, 71)
}

func TestMultiSigScriptSig(t *testing.T) {
	t.Parallel()

	sigA := fakeSig(0x01)
	sigB := fakeSig(0x02)

	script, err := MultiSigScriptSig([][]byte{sigA, sigB})
	require.NoError(t, err)

	expected, err := txscript.NewScriptBuilder().
		AddOp(txscript.OP_0).
		AddData(sigA).
		AddData(sigB).
		Script()
	require.NoError(t, err)
	require.Equal(t, expected, script)

	// Zero signatures still leave the bug eater OP_0.
	script, err = MultiSigScriptSig(nil)
	require.NoError(t, err)
	require.Equal(t, []byte{txscript.OP_0}, script)
}

func TestP2SHScriptSigWrapsRedeemPush(t *testing.T) {
	t.Parallel()

	redeem := bytes.Repeat([]byte{0x51}, 30)
	nested, err := P2PKScriptSig(fakeSig(0x03))
	require.NoError(t, err)

	script, err := P2SHScriptSig(nested, redeem)
	require.NoError(t, err)

	// The wrapped form is the nested scriptSig followed by a canonical
	// push of the redeem script.
	require.True(t, bytes.HasPrefix(script, nested))
	redeemPush, err := txscript.NewScriptBuilder().AddData(redeem).
		Script()
	require.NoError(t, err)
	require.Equal(t, redeemPush, script[len(nested):])
}

func TestConditionalScriptSigSelectors(t *testing.T) {
	t.Parallel()

	nested, err := P2PKScriptSig(fakeSig(0x04))
	require.NoError(t, err)

	// Path [true, false]: the outermost selector (true) must be the very
	// last byte so it sits on top of the stack.
	script := ConditionalScriptSig(nested, []bool{true, false})
	require.True(t, bytes.HasPrefix(script, nested))
	require.Equal(t, byte(txscript.OP_FALSE), script[len(script)-2])
	require.Equal(t, byte(txscript.OP_TRUE), script[len(script)-1])

	// The empty path adds nothing.
	require.Equal(t, nested, ConditionalScriptSig(nested, nil))
}

func TestWitnessStackFromSigScript(t *testing.T) {
	t.Parallel()

	sigA := fakeSig(0x05)
	sigB := fakeSig(0x06)

	sigScript, err := MultiSigScriptSig([][]byte{sigA, sigB})
	require.NoError(t, err)

	stack, err := WitnessStackFromSigScript(sigScript)
	require.NoError(t, err)
	require.Equal(t, wire.TxWitness{{}, sigA, sigB}, stack)

	// Small ints become their minimal encodings.
	stack, err = WitnessStackFromSigScript([]byte{
		txscript.OP_TRUE, txscript.OP_16, txscript.OP_1NEGATE,
	})
	require.NoError(t, err)
	require.Equal(t, wire.TxWitness{
		{0x01}, {0x10}, {0x81},
	}, stack)

	// Operational opcodes have no witness form.
	_, err = WitnessStackFromSigScript([]byte{txscript.OP_DUP})
	require.ErrorIs(t, err, ErrNonPushOnly)
}

func TestTrivialTrueScriptSig(t *testing.T) {
	t.Parallel()

	require.Equal(t, []byte{txscript.OP_TRUE}, TrivialTrueScriptSig())
}

func TestIsWitnessProgram(t *testing.T) {
	t.Parallel()

	program := make([]byte, 20)
	script, err := txscript.NewScriptBuilder().
		AddOp(txscript.OP_0).AddData(program).Script()
	require.NoError(t, err)
	require.True(t, IsWitnessProgram(script))

	require.False(t, IsWitnessProgram([]byte{txscript.OP_TRUE}))
	require.False(t, IsWitnessProgram(nil))
}
