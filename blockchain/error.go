package blockchain

import "fmt"

// ErrorCode identifies a specific kind of block or header validation error,
// grouped under the coarse kinds of spec.md §7 (RuleError is always the
// INVALID kind unless CorruptionPossible is set, in which case a reader
// should treat it the way spec.md calls CORRUPTION_POSSIBLE: the block is
// re-requestable, not permanently failed).
type ErrorCode int

const (
	// ErrDuplicateBlock indicates a block with the same hash has already
	// been accepted.
	ErrDuplicateBlock ErrorCode = iota

	// ErrBlockTooBig indicates the serialized block size exceeds the
	// maximum allowed size.
	ErrBlockTooBig

	// ErrBlockVersionTooOld indicates the block version is lower than the
	// height-activated floor (spec.md §4.H).
	ErrBlockVersionTooOld

	// ErrInvalidTime indicates the block time is not representable.
	ErrInvalidTime

	// ErrTimeTooOld indicates the block time is at or before the median
	// time of the last several blocks.
	ErrTimeTooOld

	// ErrTimeTooNew indicates the block time is too far in the future.
	ErrTimeTooNew

	// ErrDifficultyTooLow indicates the difficulty for the block is lower
	// than the difficulty required by the most recent checkpoint.
	ErrDifficultyTooLow

	// ErrUnexpectedDifficulty indicates the difficulty for the block
	// doesn't match the expected value either as a result of the
	// difficulty algorithm or a block with a smaller difficulty greater
	// than the proof of work limit.
	ErrUnexpectedDifficulty

	// ErrHighHash indicates the block does not have sufficient proof of
	// work (its hash exceeds the claimed target).
	ErrHighHash

	// ErrBadMerkleRoot indicates the calculated merkle root does not
	// match the expected value.
	ErrBadMerkleRoot

	// ErrBadCheckpoint indicates a block that is expected to be at a
	// checkpoint height does not match the expected hash.
	ErrBadCheckpoint

	// ErrForkTooOld indicates a block that would cause a reorganize to a
	// chain that is strictly before a checkpoint.
	ErrForkTooOld

	// ErrNoTransactions indicates the block does not have a least one
	// transaction (the coinbase).
	ErrNoTransactions

	// ErrNoTxInputs indicates a transaction does not have any inputs.
	ErrNoTxInputs

	// ErrNoTxOutputs indicates a transaction does not have any outputs.
	ErrNoTxOutputs

	// ErrBadTxOutValue indicates an output value is negative or exceeds
	// MaxSatoshi.
	ErrBadTxOutValue

	// ErrDuplicateTxInputs indicates a transaction references the same
	// output more than once.
	ErrDuplicateTxInputs

	// ErrBadTxInput indicates a transaction input references a null
	// outpoint outside a coinbase.
	ErrBadTxInput

	// ErrMissingTxOut indicates a transaction output referenced by an
	// input cannot be found.
	ErrMissingTxOut

	// ErrUnfinalizedTx indicates a transaction has not been finalized and
	// is thus not yet allowed into a block.
	ErrUnfinalizedTx

	// ErrDuplicateTx indicates a block contains an identical transaction
	// (by id) to one already in the UTXO set, violating BIP30.
	ErrDuplicateTx

	// ErrOverwriteTx indicates a block would overwrite an existing,
	// unspent transaction outside the BIP30 carve-out.
	ErrOverwriteTx

	// ErrImmatureSpend indicates a transaction spends a coinbase output
	// that hasn't yet reached the required maturity (spec.md §3, §8.4).
	ErrImmatureSpend

	// ErrSpendTooHigh indicates a transaction spends more than its
	// inputs provide.
	ErrSpendTooHigh

	// ErrBadFees indicates the total fees for a block are invalid (a
	// negative value or overflow).
	ErrBadFees

	// ErrTooManySigOps indicates a transaction or block exceeds the
	// maximum allowed signature operations.
	ErrTooManySigOps

	// ErrFirstTxNotCoinbase indicates the first transaction in a block is
	// not a coinbase.
	ErrFirstTxNotCoinbase

	// ErrMultipleCoinbases indicates a block has more than one coinbase.
	ErrMultipleCoinbases

	// ErrBadCoinbaseScriptLen indicates the length of the signature
	// script for a coinbase transaction is not in the valid range.
	ErrBadCoinbaseScriptLen

	// ErrBadCoinbaseValue indicates the amount of a coinbase value does
	// not match the expected value of the subsidy plus the sum of all
	// fees.
	ErrBadCoinbaseValue

	// ErrBadCoinbaseHeight indicates the BIP34 serialized coinbase height
	// does not match the height of the block it's contained in.
	ErrBadCoinbaseHeight

	// ErrMissingParent indicates a block's parent header is not present
	// in the block index.
	ErrMissingParent

	// ErrPreviousBlockUnknown indicates a block's parent is not known.
	ErrPreviousBlockUnknown

	// ErrInvalidAncestorBlock indicates a block's parent chain contains
	// an invalid block (spec.md §3's FAILED_CHILD).
	ErrInvalidAncestorBlock

	// ErrPrevBlockNotBest indicates a block's parent is not the current
	// view's best block, violating connect's precondition.
	ErrPrevBlockNotBest

	// ErrBadSequenceLock indicates a transaction's relative lock-time
	// inputs are not yet satisfied by the block being connected (spec.md
	// §4.E.7, §4.F.4).
	ErrBadSequenceLock

	// ErrScriptValidation indicates a script failed verification.
	ErrScriptValidation

	// ErrCheckpoint indicates a fork would occur strictly below the
	// latest hard-coded checkpoint height (spec.md §4.H).
	ErrCheckpoint
)

var errorCodeStrings = map[ErrorCode]string{
	ErrDuplicateBlock:        "ErrDuplicateBlock",
	ErrBlockTooBig:           "ErrBlockTooBig",
	ErrBlockVersionTooOld:    "ErrBlockVersionTooOld",
	ErrInvalidTime:           "ErrInvalidTime",
	ErrTimeTooOld:            "ErrTimeTooOld",
	ErrTimeTooNew:            "ErrTimeTooNew",
	ErrDifficultyTooLow:      "ErrDifficultyTooLow",
	ErrUnexpectedDifficulty:  "ErrUnexpectedDifficulty",
	ErrHighHash:              "ErrHighHash",
	ErrBadMerkleRoot:         "ErrBadMerkleRoot",
	ErrBadCheckpoint:         "ErrBadCheckpoint",
	ErrForkTooOld:            "ErrForkTooOld",
	ErrNoTransactions:        "ErrNoTransactions",
	ErrNoTxInputs:            "ErrNoTxInputs",
	ErrNoTxOutputs:           "ErrNoTxOutputs",
	ErrBadTxOutValue:         "ErrBadTxOutValue",
	ErrDuplicateTxInputs:     "ErrDuplicateTxInputs",
	ErrBadTxInput:            "ErrBadTxInput",
	ErrMissingTxOut:          "ErrMissingTxOut",
	ErrUnfinalizedTx:         "ErrUnfinalizedTx",
	ErrDuplicateTx:           "ErrDuplicateTx",
	ErrOverwriteTx:           "ErrOverwriteTx",
	ErrImmatureSpend:         "ErrImmatureSpend",
	ErrSpendTooHigh:          "ErrSpendTooHigh",
	ErrBadFees:               "ErrBadFees",
	ErrTooManySigOps:         "ErrTooManySigOps",
	ErrFirstTxNotCoinbase:    "ErrFirstTxNotCoinbase",
	ErrMultipleCoinbases:     "ErrMultipleCoinbases",
	ErrBadCoinbaseScriptLen:  "ErrBadCoinbaseScriptLen",
	ErrBadCoinbaseValue:      "ErrBadCoinbaseValue",
	ErrBadCoinbaseHeight:     "ErrBadCoinbaseHeight",
	ErrMissingParent:         "ErrMissingParent",
	ErrPreviousBlockUnknown:  "ErrPreviousBlockUnknown",
	ErrInvalidAncestorBlock:  "ErrInvalidAncestorBlock",
	ErrPrevBlockNotBest:      "ErrPrevBlockNotBest",
	ErrBadSequenceLock:       "ErrBadSequenceLock",
	ErrScriptValidation:      "ErrScriptValidation",
	ErrCheckpoint:            "ErrCheckpoint",
}

// String returns the ErrorCode as a human-readable name.
func (e ErrorCode) String() string {
	if s, ok := errorCodeStrings[e]; ok {
		return s
	}
	return fmt.Sprintf("ErrorCode(%d)", int(e))
}

// RuleError identifies a rule violation.  It carries additional information
// such as the corruption status (spec.md §7's CORRUPTION_POSSIBLE flag,
// which leaves the offending index re-requestable rather than permanently
// FAILED_VALID) and a ban score suggestion for the caller's peer scoring.
type RuleError struct {
	ErrorCode          ErrorCode
	Description        string
	CorruptionPossible bool
	BanScore           uint32
}

// Error satisfies the error interface.
func (e RuleError) Error() string {
	return e.Description
}

// ruleError creates a RuleError given a set of arguments, defaulting to a
// consensus-invalid ban score of 100 unless overridden with banScore.
func ruleError(c ErrorCode, desc string) RuleError {
	return RuleError{ErrorCode: c, Description: desc, BanScore: 100}
}

// ruleErrorCorrupt creates a RuleError marked CorruptionPossible, matching
// spec.md §7: a Merkle-root mutation or similar leaves the block
// re-requestable rather than permanently failed.
func ruleErrorCorrupt(c ErrorCode, desc string) RuleError {
	return RuleError{ErrorCode: c, Description: desc, CorruptionPossible: true, BanScore: 0}
}

// IsRuleError reports whether err is a blockchain.RuleError of the given
// code.
func IsRuleError(err error, code ErrorCode) bool {
	rerr, ok := err.(RuleError)
	if !ok {
		return false
	}
	return rerr.ErrorCode == code
}
