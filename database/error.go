package database

import "fmt"

// ErrorKind identifies a class of database error, following the same
// typed-error-code convention the rest of the module uses for
// blockchain.RuleError and mempool.TxRuleError (spec.md §7).
type ErrorKind string

const (
	// ErrDbNotOpen indicates a database instance is accessed before it is
	// opened or after it has been closed.
	ErrDbNotOpen = ErrorKind("ErrDbNotOpen")

	// ErrTxClosed indicates an attempt to commit or rollback a
	// transaction that has already been committed or rolled back.
	ErrTxClosed = ErrorKind("ErrTxClosed")

	// ErrTxNotWritable indicates an attempt to write to a read-only
	// transaction.
	ErrTxNotWritable = ErrorKind("ErrTxNotWritable")

	// ErrDiskFull indicates a pre-allocation or write failed because
	// available space minus the safety margin was insufficient (spec.md
	// §4.D's find_pos contract).
	ErrDiskFull = ErrorKind("ErrDiskFull")

	// ErrCorruption indicates on-disk data failed an integrity check (a
	// bad undo checksum or truncated record), spec.md §7's
	// CORRUPTION_POSSIBLE classification.
	ErrCorruption = ErrorKind("ErrCorruption")

	// ErrDriverSpecific indicates an error specific to the particular
	// backend driver (leveldb) that doesn't otherwise map to one of the
	// above.
	ErrDriverSpecific = ErrorKind("ErrDriverSpecific")
)

func (e ErrorKind) String() string { return string(e) }

// Error satisfies the error interface and carries additional information
// useful for debugging (the Description field) plus Err for drilling into
// the underlying driver error, if any.
type Error struct {
	Err         error
	Description string
	Kind        ErrorKind
}

func (e Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Description, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Description)
}

// Unwrap returns the underlying driver error, if any, so callers can use
// errors.Is/errors.As against it.
func (e Error) Unwrap() error { return e.Err }

// NewErr is a convenience constructor for an Error with no wrapped driver
// error.
func NewErr(kind ErrorKind, description string) Error {
	return Error{Kind: kind, Description: description}
}

// IsErrorCode returns whether err is a database.Error of the given kind.
func IsErrorCode(err error, kind ErrorKind) bool {
	dbErr, ok := err.(Error)
	if !ok {
		return false
	}
	return dbErr.Kind == kind
}
