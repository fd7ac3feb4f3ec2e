package database

// Cursor provides ordered iteration over the key/value pairs in a bucket, the
// mechanism the block-index loader (chainio.go, spec.md §4.I) uses to replay
// every persisted BlockIndex entry in key order at startup.
type Cursor interface {
	// Next advances the cursor one key/value pair and reports whether
	// there's another, used to iterate the entire bucket.
	Next() bool

	// Key returns the current key the cursor is positioned at.
	Key() []byte

	// Value returns the current value the cursor is positioned at.
	Value() []byte
}

// Bucket represents a collection of key/value pairs, mirroring the teacher's
// (commented-out) nested-bucket model: the block-index store, chain-state
// bucket, and UTXO-set bucket are each a named top-level Bucket.
type Bucket interface {
	// Bucket retrieves a nested bucket with the given key, or nil if it
	// doesn't exist.
	Bucket(key []byte) Bucket

	// CreateBucketIfNotExists creates and returns a new nested bucket with
	// the given key, returning the existing one if it's already there.
	CreateBucketIfNotExists(key []byte) (Bucket, error)

	// Get returns the value for the given key, or nil if it doesn't exist.
	Get(key []byte) []byte

	// Put sets the value for the given key, overwriting any existing
	// value.
	Put(key, value []byte) error

	// Delete removes the given key, a no-op if it doesn't exist.
	Delete(key []byte) error

	// Cursor returns a new cursor positioned before the bucket's first
	// key/value pair.
	Cursor() Cursor
}

// Tx represents a database transaction.  It can either be read-only (View) or
// read-write (Update); see DB for details.  Per spec.md §5, the validation
// thread never holds a Tx across a suspension point other than the store's
// own batch write.
type Tx interface {
	// Metadata returns the top-level bucket holding block-index,
	// chain-state, and file-info records (spec.md §6's persistent
	// block-index store).
	Metadata() Bucket

	// Commit commits the transaction if it's read-write, a no-op for
	// read-only transactions.
	Commit() error

	// Rollback aborts the transaction, discarding any writes.
	Rollback() error
}

// DB provides a generic interface used to store block-index metadata and
// related state.  This interface is intentionally agnostic to the actual
// storage mechanism so the validation core can be exercised against an
// in-memory implementation in tests and a leveldb-backed one (database/ffldb)
// in production — block body and undo storage themselves are handled
// separately by database/ffldb's flat-file manager (spec.md §4.D), which
// this interface does not cover.
type DB interface {
	// Type returns the database driver type the current instance was
	// created with ("ffldb" for the leveldb-backed implementation).
	Type() string

	// Begin starts a transaction which is either read-only or read-write
	// depending on the specified flag.  Multiple read-only transactions
	// can run simultaneously while only a single read-write transaction
	// can be open at a time.
	//
	// The returned transaction MUST be closed by calling Rollback or
	// Commit on it when it is no longer needed.
	Begin(writable bool) (Tx, error)

	// View invokes fn in the context of a managed read-only transaction.
	// Any error fn returns is returned from View.
	View(fn func(tx Tx) error) error

	// Update invokes fn in the context of a managed read-write
	// transaction.  Any error fn returns rolls the transaction back; a nil
	// return commits it.
	Update(fn func(tx Tx) error) error

	// Close cleanly shuts the database down, blocking until all
	// transactions have finalized.
	Close() error
}
