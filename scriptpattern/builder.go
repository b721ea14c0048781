// Copyright (c) 2018 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package scriptpattern

import (
	"errors"

	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// ErrNonPushOnly is returned when a scriptSig that must consist solely of
// data pushes contains an operational opcode.
var ErrNonPushOnly = errors.New("script is not push only")

// P2PKScriptSig builds the scriptSig spending a pay-to-pubkey output: a
// single signature push.
func P2PKScriptSig(sig []byte) ([]byte, error) {
	return txscript.NewScriptBuilder().AddData(sig).Script()
}

// P2PKHScriptSig builds the scriptSig spending a pay-to-pubkey-hash
// output: the signature push followed by the pubkey push.
func P2PKHScriptSig(sig []byte, pubKey []byte) ([]byte, error) {
	return txscript.NewScriptBuilder().AddData(sig).AddData(pubKey).
		Script()
}

// MultiSigScriptSig builds the canonical multisig scriptSig: a leading
// OP_0 (consumed by the off-by-one bug in OP_CHECKMULTISIG) followed by
// the signatures, which the caller must already have ordered by the index
// of their pubkey within the multisig script.
func MultiSigScriptSig(sigs [][]byte) ([]byte, error) {
	builder := txscript.NewScriptBuilder().AddOp(txscript.OP_0)
	for _, sig := range sigs {
		builder.AddData(sig)
	}
	return builder.Script()
}

// P2SHScriptSig wraps the scriptSig satisfying a redeem script into the
// pay-to-script-hash form: the nested scriptSig followed by a push of the
// serialized redeem script itself.
func P2SHScriptSig(nestedSig []byte, redeemScript []byte) ([]byte, error) {
	redeemPush, err := txscript.NewScriptBuilder().
		AddData(redeemScript).Script()
	if err != nil {
		return nil, err
	}

	sig := make([]byte, 0, len(nestedSig)+len(redeemPush))
	sig = append(sig, nestedSig...)
	return append(sig, redeemPush...), nil
}

// ConditionalScriptSig wraps the scriptSig of the chosen leaf with the
// branch selectors that steer execution to it. branchPath holds the
// conditions outermost first; selectors are appended innermost first so
// the outermost condition ends up on top of the stack.
func ConditionalScriptSig(nestedSig []byte, branchPath []bool) []byte {
	sig := make([]byte, 0, len(nestedSig)+len(branchPath))
	sig = append(sig, nestedSig...)
	for i := len(branchPath) - 1; i >= 0; i-- {
		if branchPath[i] {
			sig = append(sig, txscript.OP_TRUE)
		} else {
			sig = append(sig, txscript.OP_FALSE)
		}
	}
	return sig
}

// TrivialTrueScriptSig is the scriptSig spending an empty script pubkey.
func TrivialTrueScriptSig() []byte {
	return []byte{txscript.OP_TRUE}
}

// WitnessStackFromSigScript converts a push only scriptSig into the
// equivalent witness stack, one stack element per push. Small int opcodes
// are converted to their minimal data encodings.
func WitnessStackFromSigScript(sigScript []byte) (wire.TxWitness, error) {
	tokens, ok := tokenize(sigScript)
	if !ok {
		return nil, ErrNonPushOnly
	}

	stack := make(wire.TxWitness, 0, len(tokens))
	for _, tok := range tokens {
		switch {
		case tok.op == txscript.OP_0:
			stack = append(stack, []byte{})

		case tok.op <= txscript.OP_PUSHDATA4:
			stack = append(stack, tok.data)

		case tok.op >= txscript.OP_1 && tok.op <= txscript.OP_16:
			stack = append(
				stack, []byte{byte(asSmallInt(tok.op))},
			)

		case tok.op == txscript.OP_1NEGATE:
			stack = append(stack, []byte{0x81})

		default:
			return nil, ErrNonPushOnly
		}
	}

	return stack, nil
}

// IsWitnessProgram reports whether the script is any witness program,
// assigned or not.
func IsWitnessProgram(script []byte) bool {
	_, _, ok := extractWitnessProgramInfo(script)
	return ok
}
