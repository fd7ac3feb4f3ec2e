// Package ffldb implements the flat-file block/undo store (spec.md §4.D)
// backing the validation core, alongside a leveldb-backed implementation of
// database.DB for block-index metadata (spec.md §6's "persistent block-index
// store").  The name and split mirror the teacher's own ffldb package:
// blocks and undo data live in flat files for sequential-write throughput;
// everything else — the block index, chain state, file info, and the UTXO
// records — lives in the KV store.  UTXO keys are stored as plain
// (txid, index) bytes; no key obfuscation is applied.
package ffldb

import (
	"bytes"
	"sync"

	"github.com/acbcd/acbcd/database"
	"github.com/acbcd/acbcd/log"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// bucketSeparator delimits a bucket's prefix from its keys, and a parent
// bucket's prefix from a nested bucket's name, so sibling buckets whose
// names happen to share a prefix don't alias each other's keys.
var bucketSeparator = []byte{0x00}

// db is the leveldb-backed database.DB implementation.  Buckets are emulated
// as key prefixes over the single flat leveldb keyspace, the same technique
// the corpus's goleveldb-backed stores (Qitmeer, utreexo) use instead of a
// nested B-tree store.
type db struct {
	writeLock sync.Mutex // only one read-write transaction at a time
	closeLock sync.RWMutex
	closed    bool
	ldb       *leveldb.DB
}

// Open opens (creating if necessary) a leveldb database at dbPath to back
// block-index metadata.  Block and undo bodies are handled separately by the
// blockStore in blockio.go.
func Open(dbPath string) (database.DB, error) {
	ldb, err := leveldb.OpenFile(dbPath, nil)
	if err != nil {
		return nil, convertErr("Open", err)
	}
	return &db{ldb: ldb}, nil
}

func (d *db) Type() string { return "ffldb" }

func (d *db) Close() error {
	d.closeLock.Lock()
	defer d.closeLock.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	return convertErr("Close", d.ldb.Close())
}

func (d *db) Begin(writable bool) (database.Tx, error) {
	d.closeLock.RLock()
	if d.closed {
		d.closeLock.RUnlock()
		return nil, database.NewErr(database.ErrDbNotOpen, "database is closed")
	}

	if writable {
		d.writeLock.Lock()
		return &transaction{db: d, writable: true, batch: new(leveldb.Batch)}, nil
	}

	snap, err := d.ldb.GetSnapshot()
	if err != nil {
		d.closeLock.RUnlock()
		return nil, convertErr("Begin", err)
	}
	return &transaction{db: d, writable: false, snap: snap}, nil
}

func (d *db) View(fn func(tx database.Tx) error) error {
	tx, err := d.Begin(false)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	return fn(tx)
}

func (d *db) Update(fn func(tx database.Tx) error) error {
	tx, err := d.Begin(true)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// transaction implements database.Tx.  A read-only transaction reads through
// a leveldb snapshot; a read-write transaction buffers writes in a
// leveldb.Batch and applies them atomically on Commit, matching spec.md §5's
// "persistent store's batch write" suspension point.
type transaction struct {
	db       *db
	writable bool
	done     bool
	snap     *leveldb.Snapshot
	batch    *leveldb.Batch
}

func (tx *transaction) Metadata() database.Bucket {
	return &bucket{tx: tx, prefix: nil}
}

func (tx *transaction) Commit() error {
	if tx.done {
		return database.NewErr(database.ErrTxClosed, "transaction already closed")
	}
	tx.done = true
	if !tx.writable {
		tx.snap.Release()
		tx.db.closeLock.RUnlock()
		return nil
	}
	defer tx.db.closeLock.RUnlock()
	defer tx.db.writeLock.Unlock()
	if err := tx.db.ldb.Write(tx.batch, nil); err != nil {
		return convertErr("Commit", err)
	}
	return nil
}

func (tx *transaction) Rollback() error {
	if tx.done {
		return nil
	}
	tx.done = true
	if tx.writable {
		tx.db.writeLock.Unlock()
		tx.db.closeLock.RUnlock()
		return nil
	}
	tx.snap.Release()
	tx.db.closeLock.RUnlock()
	return nil
}

func (tx *transaction) get(key []byte) []byte {
	if tx.writable {
		// A batch has no direct read-back; callers of Update that need
		// read-your-writes semantics read through the underlying db
		// directly, matching leveldb.Batch's own write-only contract.
		v, err := tx.db.ldb.Get(key, nil)
		if err != nil {
			return nil
		}
		return v
	}
	v, err := tx.snap.Get(key, nil)
	if err != nil {
		return nil
	}
	return v
}

func (tx *transaction) put(key, value []byte) error {
	if !tx.writable {
		return database.NewErr(database.ErrTxNotWritable, "put on a read-only transaction")
	}
	tx.batch.Put(key, value)
	return nil
}

func (tx *transaction) del(key []byte) error {
	if !tx.writable {
		return database.NewErr(database.ErrTxNotWritable, "delete on a read-only transaction")
	}
	tx.batch.Delete(key)
	return nil
}

// bucket emulates a nested KV namespace as a key prefix over the flat
// leveldb keyspace.
type bucket struct {
	tx     *transaction
	prefix []byte
}

func (b *bucket) key(k []byte) []byte {
	full := make([]byte, 0, len(b.prefix)+len(bucketSeparator)+len(k))
	full = append(full, b.prefix...)
	full = append(full, bucketSeparator...)
	full = append(full, k...)
	return full
}

func (b *bucket) Bucket(key []byte) database.Bucket {
	child := &bucket{tx: b.tx, prefix: b.key(append([]byte("b:"), key...))}
	if b.tx.get(child.key([]byte("\x01exists"))) == nil {
		return nil
	}
	return child
}

func (b *bucket) CreateBucketIfNotExists(key []byte) (database.Bucket, error) {
	child := &bucket{tx: b.tx, prefix: b.key(append([]byte("b:"), key...))}
	marker := child.key([]byte("\x01exists"))
	if err := b.tx.put(marker, []byte{1}); err != nil {
		return nil, err
	}
	return child, nil
}

func (b *bucket) Get(key []byte) []byte {
	return b.tx.get(b.key(key))
}

func (b *bucket) Put(key, value []byte) error {
	return b.tx.put(b.key(key), value)
}

func (b *bucket) Delete(key []byte) error {
	return b.tx.del(b.key(key))
}

func (b *bucket) Cursor() database.Cursor {
	prefix := b.key(nil)
	var it iteratorLike
	if b.tx.writable {
		it = b.tx.db.ldb.NewIterator(util.BytesPrefix(prefix), nil)
	} else {
		it = b.tx.snap.NewIterator(util.BytesPrefix(prefix), nil)
	}
	return &cursor{it: it, prefix: prefix}
}

// iteratorLike is the subset of leveldb.Iterator both *leveldb.DB and
// *leveldb.Snapshot iterators satisfy.
type iteratorLike interface {
	Next() bool
	Key() []byte
	Value() []byte
	Release()
}

type cursor struct {
	it     iteratorLike
	prefix []byte
}

func (c *cursor) Next() bool {
	return c.it.Next()
}

func (c *cursor) Key() []byte {
	k := c.it.Key()
	return bytes.TrimPrefix(k, c.prefix)
}

func (c *cursor) Value() []byte {
	return c.it.Value()
}

func convertErr(fn string, err error) error {
	if err == nil {
		return nil
	}
	log.FfdbLog.Errorf("%s: %v", fn, err)
	return database.NewErr(database.ErrDriverSpecific, err.Error())
}
