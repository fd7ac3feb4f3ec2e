package mempool

import "fmt"

// RejectCode identifies which admission stage rejected a transaction,
// following the teacher's typed-error-code convention
// (blockchain.RuleError's ErrorCode) rather than bare strings.
type RejectCode int

const (
	// ErrInvalid covers every consensus-level or malformed-transaction
	// rejection that isn't one of the more specific codes below.
	ErrInvalid RejectCode = iota

	// ErrMissingInputs indicates at least one referenced output could not
	// be resolved in the combined UTXO/mempool view, distinct from
	// ErrInvalid so the caller knows the transaction may become valid
	// once its missing ancestor arrives (spec.md §4.E item 6).
	ErrMissingInputs

	// ErrAlreadyKnown indicates the transaction (by id) is already in the
	// pool or already spent in the confirmed UTXO set.
	ErrAlreadyKnown

	// ErrConflict indicates an input is already spent by another pool
	// transaction.
	ErrConflict

	// ErrNonStandard indicates the transaction fails a standardness
	// policy check (script template, dust, version).
	ErrNonStandard

	// ErrInsufficientFee indicates the transaction's fee rate is below
	// the node's current dynamic minimum or exhausts the free-relay
	// allowance.
	ErrInsufficientFee

	// ErrTooManyAncestors/ErrTooManyDescendants indicate the transaction
	// would push an in-pool package over the ancestor/descendant
	// (count, size) limits of spec.md §4.E item 9.
	ErrTooManyAncestors
	ErrTooManyDescendants
)

var rejectCodeStrings = map[RejectCode]string{
	ErrInvalid:             "ErrInvalid",
	ErrMissingInputs:       "ErrMissingInputs",
	ErrAlreadyKnown:        "ErrAlreadyKnown",
	ErrConflict:            "ErrConflict",
	ErrNonStandard:         "ErrNonStandard",
	ErrInsufficientFee:     "ErrInsufficientFee",
	ErrTooManyAncestors:    "ErrTooManyAncestors",
	ErrTooManyDescendants:  "ErrTooManyDescendants",
}

// String returns the RejectCode in human-readable form.
func (c RejectCode) String() string {
	if s, ok := rejectCodeStrings[c]; ok {
		return s
	}
	return fmt.Sprintf("Unknown RejectCode (%d)", int(c))
}

// TxRuleError identifies a rule violation encountered while attempting to
// admit a transaction into the mempool, pairing a RejectCode with a
// ban-score suggestion the same way blockchain.RuleError does for blocks
// (spec.md §4.E: "any failure returns a typed rejection with a ban-score
// suggestion").
type TxRuleError struct {
	RejectCode  RejectCode
	Description string
	BanScore    uint32
}

// Error satisfies the error interface.
func (e TxRuleError) Error() string {
	return e.Description
}

// txRuleError creates a TxRuleError with the ban score appropriate to its
// code: policy-only rejections (non-standard, fee, ancestor limits) score
// 0, mild malformation scores 10, anything consensus-invalid scores 100 —
// spec.md §4.E's "0 = policy, 10 = mildly malformed, 100 = consensus-invalid".
func txRuleError(c RejectCode, desc string) TxRuleError {
	banScore := uint32(100)
	switch c {
	case ErrNonStandard, ErrInsufficientFee, ErrTooManyAncestors, ErrTooManyDescendants:
		banScore = 0
	case ErrAlreadyKnown, ErrMissingInputs, ErrConflict:
		banScore = 10
	}
	return TxRuleError{RejectCode: c, Description: desc, BanScore: banScore}
}

// IsTxRuleError reports whether err is a TxRuleError with the given code.
func IsTxRuleError(err error, code RejectCode) bool {
	ruleErr, ok := err.(TxRuleError)
	return ok && ruleErr.RejectCode == code
}
