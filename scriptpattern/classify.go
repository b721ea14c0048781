// Copyright (c) 2018 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package scriptpattern

import (
	"github.com/btcsuite/btcd/txscript"
)

// MaxNestingDepth is how deeply conditionals and locktime wrappers may be
// nested before classification gives up and reports NonStandard. It bounds
// the recursion of both the classifier and any finalizer walking the
// resulting template tree.
const MaxNestingDepth = 10

// token is a single parsed script element: an opcode plus, for data
// pushes, the pushed bytes. start and end delimit the element within the
// raw script so sub scripts can be sliced back out.
type token struct {
	op    byte
	data  []byte
	start int
	end   int
}

// tokenize splits a script into its elements. It returns false if the
// script is not even parseable, in which case no template applies.
func tokenize(script []byte) ([]token, bool) {
	var tokens []token

	tokenizer := txscript.MakeScriptTokenizer(0, script)
	start := 0
	for tokenizer.Next() {
		end := int(tokenizer.ByteIndex())
		tokens = append(tokens, token{
			op:    tokenizer.Opcode(),
			data:  tokenizer.Data(),
			start: start,
			end:   end,
		})
		start = end
	}
	if tokenizer.Err() != nil {
		return nil, false
	}

	return tokens, true
}

// isSmallInt returns whether the opcode directly encodes an integer.
func isSmallInt(op byte) bool {
	return op == txscript.OP_0 ||
		(op >= txscript.OP_1 && op <= txscript.OP_16)
}

// asSmallInt returns the integer an OP_0/OP_1..OP_16 opcode encodes.
func asSmallInt(op byte) int {
	if op == txscript.OP_0 {
		return 0
	}
	return int(op - txscript.OP_1 + 1)
}

// scriptNumValue decodes a script number from raw push data: little
// endian with a sign bit in the high bit of the last byte. Lock values
// are limited to 5 bytes.
func scriptNumValue(data []byte) (int64, bool) {
	if len(data) == 0 {
		return 0, true
	}
	if len(data) > 5 {
		return 0, false
	}

	var v int64
	for i, b := range data {
		v |= int64(b) << (8 * uint(i))
	}

	if data[len(data)-1]&0x80 != 0 {
		v &^= int64(0x80) << (8 * uint(len(data)-1))
		v = -v
	}

	return v, true
}

// numberFromToken decodes a lock value from either a small int opcode or a
// data push.
func numberFromToken(tok token) (int64, bool) {
	if tok.data != nil {
		return scriptNumValue(tok.data)
	}
	if isSmallInt(tok.op) {
		return int64(asSmallInt(tok.op)), true
	}
	if tok.op == txscript.OP_1NEGATE {
		return -1, true
	}
	return 0, false
}

// isPushToken reports whether the token pushes data (including the empty
// push) onto the stack.
func isPushToken(tok token) bool {
	return tok.op <= txscript.OP_PUSHDATA4 || isSmallInt(tok.op) ||
		tok.op == txscript.OP_1NEGATE
}

// isPubKeyBytes performs a cheap shape check on a serialized public key:
// 33 bytes starting 0x02/0x03, or 65 bytes starting 0x04/0x06/0x07.
func isPubKeyBytes(b []byte) bool {
	switch len(b) {
	case 33:
		return b[0] == 0x02 || b[0] == 0x03
	case 65:
		return b[0] == 0x04 || b[0] == 0x06 || b[0] == 0x07
	default:
		return false
	}
}

// extractWitnessProgramInfo returns the version and program of a witness
// program script, or false if the script is not a witness program. A
// witness program is a small int version opcode followed by a single
// 2 to 40 byte data push that spans the rest of the script.
func extractWitnessProgramInfo(script []byte) (int, []byte, bool) {
	if len(script) < 4 || len(script) > 42 {
		return 0, nil, false
	}
	if !isSmallInt(script[0]) {
		return 0, nil, false
	}
	if int(script[1]) != len(script)-2 {
		return 0, nil, false
	}

	program := script[2:]
	if len(program) < 2 || len(program) > 40 {
		return 0, nil, false
	}

	return asSmallInt(script[0]), program, true
}

// extractPubKeyHash extracts the hash from a canonical
// OP_DUP OP_HASH160 <20 bytes> OP_EQUALVERIFY OP_CHECKSIG script.
func extractPubKeyHash(script []byte) []byte {
	if len(script) == 25 &&
		script[0] == txscript.OP_DUP &&
		script[1] == txscript.OP_HASH160 &&
		script[2] == txscript.OP_DATA_20 &&
		script[23] == txscript.OP_EQUALVERIFY &&
		script[24] == txscript.OP_CHECKSIG {

		return script[3:23]
	}

	return nil
}

// extractScriptHash extracts the hash from a canonical
// OP_HASH160 <20 bytes> OP_EQUAL script.
func extractScriptHash(script []byte) []byte {
	if len(script) == 23 &&
		script[0] == txscript.OP_HASH160 &&
		script[1] == txscript.OP_DATA_20 &&
		script[22] == txscript.OP_EQUAL {

		return script[1+1 : 22]
	}

	return nil
}

// witnessCommitmentHeader is the 4 byte header that tags the coinbase
// witness commitment output defined in BIP141.
var witnessCommitmentHeader = []byte{0xaa, 0x21, 0xa9, 0xed}

// isWitnessCommitment detects the OP_RETURN output carrying the witness
// merkle root commitment.
func isWitnessCommitment(script []byte) bool {
	if len(script) < 38 ||
		script[0] != txscript.OP_RETURN ||
		script[1] != txscript.OP_DATA_36 {

		return false
	}

	for i, b := range witnessCommitmentHeader {
		if script[2+i] != b {
			return false
		}
	}

	return true
}

// extractMultiSig matches a bare multisig script: a small int count of
// required signatures, one or more pubkey pushes, a small int total that
// matches the pubkey count, and a closing OP_CHECKMULTISIG.
func extractMultiSig(script []byte, tokens []token) *MultiSig {
	// The smallest multisig is OP_N <pubkey> OP_N OP_CHECKMULTISIG.
	if len(tokens) < 4 {
		return nil
	}
	if !isSmallInt(tokens[0].op) {
		return nil
	}

	last := tokens[len(tokens)-1]
	total := tokens[len(tokens)-2]
	if last.op != txscript.OP_CHECKMULTISIG || last.end != len(script) {
		return nil
	}
	if !isSmallInt(total.op) {
		return nil
	}

	var pubKeys [][]byte
	for _, tok := range tokens[1 : len(tokens)-2] {
		if !isPubKeyBytes(tok.data) {
			return nil
		}
		pubKeys = append(pubKeys, tok.data)
	}

	required := asSmallInt(tokens[0].op)
	if asSmallInt(total.op) != len(pubKeys) || required > len(pubKeys) {
		return nil
	}

	return &MultiSig{
		script:   script,
		Required: required,
		PubKeys:  pubKeys,
	}
}

// extractP2PKWithTimeout matches the fixed 9 element shape of the two key
// timeout script described on the P2PKWithTimeout type.
func extractP2PKWithTimeout(script []byte,
	tokens []token) *P2PKWithTimeout {

	if len(tokens) != 9 {
		return nil
	}
	if tokens[0].op != txscript.OP_IF ||
		tokens[2].op != txscript.OP_ELSE ||
		tokens[5].op != txscript.OP_DROP ||
		tokens[7].op != txscript.OP_ENDIF ||
		tokens[8].op != txscript.OP_CHECKSIG {

		return nil
	}
	if !isPubKeyBytes(tokens[1].data) || !isPubKeyBytes(tokens[6].data) {
		return nil
	}

	var usesCsv bool
	switch tokens[4].op {
	case txscript.OP_CHECKSEQUENCEVERIFY:
		usesCsv = true
	case txscript.OP_CHECKLOCKTIMEVERIFY:
		usesCsv = false
	default:
		return nil
	}

	lockValue, ok := numberFromToken(tokens[3])
	if !ok {
		return nil
	}

	return &P2PKWithTimeout{
		script:        script,
		PubKey:        tokens[1].data,
		TimeoutPubKey: tokens[6].data,
		LockValue:     lockValue,
		UsesCsv:       usesCsv,
	}
}

// splitConditional locates the top level OP_ELSE and trailing OP_ENDIF of
// a script that starts with OP_IF, returning the raw bytes of the two
// branches.
func splitConditional(script []byte, tokens []token) ([]byte, []byte, bool) {
	if len(tokens) < 3 || tokens[0].op != txscript.OP_IF {
		return nil, nil, false
	}

	last := tokens[len(tokens)-1]
	if last.op != txscript.OP_ENDIF || last.end != len(script) {
		return nil, nil, false
	}

	depth := 1
	elseIdx := -1
	for i := 1; i < len(tokens)-1; i++ {
		switch tokens[i].op {
		case txscript.OP_IF, txscript.OP_NOTIF:
			depth++
		case txscript.OP_ENDIF:
			depth--
			if depth == 0 {
				// The outer OP_ENDIF must be the final token.
				return nil, nil, false
			}
		case txscript.OP_ELSE:
			if depth == 1 {
				if elseIdx != -1 {
					return nil, nil, false
				}
				elseIdx = i
			}
		}
	}
	if elseIdx == -1 {
		return nil, nil, false
	}

	trueBranch := script[tokens[0].end:tokens[elseIdx].start]
	falseBranch := script[tokens[elseIdx].end:last.start]
	return trueBranch, falseBranch, true
}

// Classify pattern matches a raw script pubkey into its spending template.
// Scripts that parse but fit no template classify as NonStandard; scripts
// that do not parse at all also classify as NonStandard.
func Classify(script []byte) Pattern {
	return classify(script, 0)
}

func classify(script []byte, depth int) Pattern {
	if len(script) == 0 {
		return &Empty{script: script}
	}
	if depth > MaxNestingDepth {
		return &NonStandard{script: script}
	}

	if isWitnessCommitment(script) {
		return &WitnessCommitment{script: script}
	}

	if version, program, ok := extractWitnessProgramInfo(script); ok {
		switch {
		case version == 0 && len(program) == 20:
			return &P2WPKH{script: script, Program: program}
		case version == 0 && len(program) == 32:
			return &P2WSH{script: script, Program: program}
		default:
			return &UnassignedWitness{
				script:  script,
				Version: version,
				Program: program,
			}
		}
	}

	if hash := extractPubKeyHash(script); hash != nil {
		return &P2PKH{script: script, PubKeyHash: hash}
	}

	if hash := extractScriptHash(script); hash != nil {
		return &P2SH{script: script, ScriptHash: hash}
	}

	tokens, ok := tokenize(script)
	if !ok {
		return &NonStandard{script: script}
	}

	if len(tokens) == 2 &&
		tokens[1].op == txscript.OP_CHECKSIG &&
		isPubKeyBytes(tokens[0].data) {

		return &P2PK{script: script, PubKey: tokens[0].data}
	}

	if ms := extractMultiSig(script, tokens); ms != nil {
		return ms
	}

	// Locktime wrappers: <num> OP_CLTV/OP_CSV OP_DROP <nested>.
	if len(tokens) > 3 && isPushToken(tokens[0]) &&
		tokens[2].op == txscript.OP_DROP {

		if lockValue, ok := numberFromToken(tokens[0]); ok {
			nested := script[tokens[2].end:]
			switch tokens[1].op {
			case txscript.OP_CHECKLOCKTIMEVERIFY:
				return &CLTV{
					script:   script,
					LockTime: lockValue,
					Nested:   classify(nested, depth+1),
				}
			case txscript.OP_CHECKSEQUENCEVERIFY:
				return &CSV{
					script:       script,
					LockSequence: lockValue,
					Nested:       classify(nested, depth+1),
				}
			}
		}
	}

	if pkt := extractP2PKWithTimeout(script, tokens); pkt != nil {
		return pkt
	}

	if trueBranch, falseBranch, ok := splitConditional(
		script, tokens,
	); ok {
		return &Conditional{
			script:      script,
			TrueBranch:  classify(trueBranch, depth+1),
			FalseBranch: classify(falseBranch, depth+1),
		}
	}

	return &NonStandard{script: script}
}
