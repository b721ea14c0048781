// Copyright (c) 2018 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package psbt

import "errors"

var (
	// ErrInvalidPsbtFormat is a generic error for any situation in which a
	// provided Psbt serialization does not conform to the rules of BIP174.
	ErrInvalidPsbtFormat = errors.New("Invalid PSBT serialization format")

	// ErrDuplicateKey indicates that a passed Psbt serialization is invalid
	// due to having the same key repeated in the same key-value pair.
	ErrDuplicateKey = errors.New("Invalid Psbt due to duplicate key")

	// ErrInvalidKeyData indicates that a key-value pair in the PSBT
	// serialization contains data in the key which is not valid.
	ErrInvalidKeyData = errors.New("Invalid key data")

	// ErrInvalidMagicBytes indicates that a passed Psbt serialization is
	// invalid due to having incorrect magic bytes.
	ErrInvalidMagicBytes = errors.New("Invalid Psbt due to incorrect " +
		"magic bytes")

	// ErrTruncatedPsbt indicates that the serialization ended in the middle
	// of a map section, before the 0x00 separator was seen.
	ErrTruncatedPsbt = errors.New("Invalid Psbt due to truncated input")

	// ErrStructuralMismatch indicates that the number of input or output
	// map sections present in the serialization does not agree with the
	// input and output counts of the unsigned transaction, or that
	// unexpected bytes trail the final map section.
	ErrStructuralMismatch = errors.New("Invalid Psbt due to map count " +
		"mismatch with the unsigned transaction")

	// ErrConflictingUtxo indicates that an input map carries both a
	// witness utxo and a non-witness utxo entry, which BIP174 forbids.
	ErrConflictingUtxo = errors.New("Invalid Psbt due to conflicting " +
		"witness and non-witness utxo entries")

	// ErrCombineMismatch indicates that two packets being combined do not
	// share the same unsigned transaction.
	ErrCombineMismatch = errors.New("Cannot combine PSBTs with different " +
		"unsigned transactions")

	// ErrMissingRecord indicates that finalization required a record (a
	// utxo entry, redeem script, witness script or partial signature) that
	// is absent from the input map. The returned error wraps this
	// sentinel together with the kind of record that was missing.
	ErrMissingRecord = errors.New("Required record missing from input map")

	// ErrUnsatisfiableBranch indicates that the provided partial
	// signatures do not fit any spending branch of a conditional or
	// timeout script.
	ErrUnsatisfiableBranch = errors.New("Signatures do not satisfy any " +
		"script branch")

	// ErrInvalidRawTxSigned indicates that the raw serialized transaction
	// in the global section of the passed Psbt serialization is invalid
	// because it contains scriptSigs/witnesses (i.e. is fully or partially
	// signed), which is not allowed by BIP174.
	ErrInvalidRawTxSigned = errors.New("Invalid Psbt, raw transaction " +
		"must be unsigned.")

	// ErrInvalidPrevOutNonWitnessTransaction indicates that the
	// transaction hash (i.e. SHA256^2) of the fully serialized previous
	// transaction provided in the NonWitnessUtxo key-value field doesn't
	// match the prevout hash in the UnsignedTx field in the PSBT itself.
	ErrInvalidPrevOutNonWitnessTransaction = errors.New("Prevout hash " +
		"does not match the provided non-witness utxo serialization")

	// ErrInvalidSignatureForInput indicates that the signature the user is
	// trying to append to the PSBT is invalid, either because it does
	// not correspond to the previous transaction hash, or redeem script,
	// or witness script.
	// NOTE this does not include ECDSA signature checking.
	ErrInvalidSignatureForInput = errors.New("Signature does not " +
		"correspond to this input")

	// ErrInputAlreadyFinalized indicates that an input already contains
	// the finalized scriptSig or witness, so no partial signature or
	// signer component can be added to it.
	ErrInputAlreadyFinalized = errors.New("Cannot finalize PSBT, " +
		"finalized scriptSig or scriptWitnes already exists")

	// ErrIncompletePSBT indicates that the Extractor object
	// was unable to successfully extract the passed Psbt struct because
	// it is not complete
	ErrIncompletePSBT = errors.New("PSBT cannot be extracted as it is " +
		"incomplete")

	// ErrNotFinalizable indicates that the PSBT struct does not have
	// sufficient data (e.g. signatures) for finalization
	ErrNotFinalizable = errors.New("PSBT is not finalizable")

	// ErrInvalidSigHashFlags indicates that a signature added to the PSBT
	// uses Sighash flags that disagree with the input's sighash type
	// record. Without such a record any flag is accepted.
	ErrInvalidSigHashFlags = errors.New("Invalid Sighash Flags")

	// ErrUnsupportedScriptType indicates that the redeem script or
	// script witness given is not supported by this codebase, or is
	// otherwise not valid.
	ErrUnsupportedScriptType = errors.New("Unsupported script type")

	// ErrInvalidPrevOutIndex indicates that a prevout index recorded in
	// the unsigned transaction points past the end of the output list of
	// the referenced previous transaction.
	ErrInvalidPrevOutIndex = errors.New("Prevout index exceeds the " +
		"output count of the referenced transaction")
)
