package blockchain

import (
	"encoding/binary"

	"github.com/acbcd/acbcd/chaincfg"
	"github.com/acbcd/acbcd/chaincfg/chainhash"
	"github.com/acbcd/acbcd/database"
	"github.com/acbcd/acbcd/wire"
)

// utxoSetBucketName is the database bucket (key prefix, per the ffldb
// bucket emulation) the UTXO set lives under, spec.md §4.B's CoinView
// backing store.
var (
	utxoSetBucketName   = []byte("utxoset")
	utxoSetStateKeyName = []byte("bestblock")
)

// CoinView is the read-through, write-back persistent backing store behind
// a UtxoViewpoint: every access, have, or spend that misses the overlay
// cache falls through to the database (spec.md §4.B).  Unlike the overlay,
// the CoinView only ever stores live (unspent) entries — a spend deletes the
// database key outright rather than tombstoning it.
type CoinView struct {
	db     database.DB
	params *chaincfg.Params
}

// NewCoinView returns a CoinView backed by db.
func NewCoinView(db database.DB, params *chaincfg.Params) *CoinView {
	return &CoinView{db: db, params: params}
}

// outpointKey serializes an outpoint as hash(32) || index(varint-ish, here
// fixed 4 bytes LE for simplicity and fixed-width iteration order) to use
// as the utxo set's database key.
func outpointKey(outpoint wire.OutPoint) []byte {
	key := make([]byte, chainhash.HashSize+4)
	copy(key, outpoint.Hash[:])
	binary.LittleEndian.PutUint32(key[chainhash.HashSize:], outpoint.Index)
	return key
}

// serializeUtxoEntry encodes a UtxoEntry as height(varint) || coinbase(1) ||
// amount(8, LE) || scriptLen(varint) || script, the on-disk counterpart to
// spec.md §4.B's Coin.
func serializeUtxoEntry(entry *UtxoEntry) []byte {
	heightBuf := make([]byte, binary.MaxVarintLen32)
	hn := binary.PutUvarint(heightBuf, uint64(entry.BlockHeight()))

	buf := make([]byte, 0, hn+1+8+binary.MaxVarintLen64+len(entry.PkScript()))
	buf = append(buf, heightBuf[:hn]...)
	if entry.IsCoinBase() {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}

	var amountBuf [8]byte
	binary.LittleEndian.PutUint64(amountBuf[:], uint64(entry.Amount()))
	buf = append(buf, amountBuf[:]...)

	scriptLenBuf := make([]byte, binary.MaxVarintLen64)
	sn := binary.PutUvarint(scriptLenBuf, uint64(len(entry.PkScript())))
	buf = append(buf, scriptLenBuf[:sn]...)
	buf = append(buf, entry.PkScript()...)
	return buf
}

// deserializeUtxoEntry is the inverse of serializeUtxoEntry.
func deserializeUtxoEntry(serialized []byte) (*UtxoEntry, error) {
	height, n := binary.Uvarint(serialized)
	if n <= 0 {
		return nil, database.NewErr(database.ErrCorruption, "corrupt utxo entry: bad height")
	}
	offset := n

	if offset >= len(serialized) {
		return nil, database.NewErr(database.ErrCorruption, "corrupt utxo entry: truncated")
	}
	isCoinBase := serialized[offset] != 0
	offset++

	if offset+8 > len(serialized) {
		return nil, database.NewErr(database.ErrCorruption, "corrupt utxo entry: truncated amount")
	}
	amount := int64(binary.LittleEndian.Uint64(serialized[offset : offset+8]))
	offset += 8

	scriptLen, sn := binary.Uvarint(serialized[offset:])
	if sn <= 0 {
		return nil, database.NewErr(database.ErrCorruption, "corrupt utxo entry: bad script length")
	}
	offset += sn

	if offset+int(scriptLen) > len(serialized) {
		return nil, database.NewErr(database.ErrCorruption, "corrupt utxo entry: truncated script")
	}
	pkScript := make([]byte, scriptLen)
	copy(pkScript, serialized[offset:offset+int(scriptLen)])

	return newUtxoEntry(amount, pkScript, int32(height), isCoinBase), nil
}

// FetchEntry returns the unspent output for outpoint from the database, or
// nil if it doesn't exist or has already been spent (spec.md §4.B's
// "access" operation).
func (cv *CoinView) FetchEntry(outpoint wire.OutPoint) (*UtxoEntry, error) {
	var entry *UtxoEntry
	err := cv.db.View(func(tx database.Tx) error {
		bucket := tx.Metadata().Bucket(utxoSetBucketName)
		if bucket == nil {
			return nil
		}
		serialized := bucket.Get(outpointKey(outpoint))
		if serialized == nil {
			return nil
		}
		var err error
		entry, err = deserializeUtxoEntry(serialized)
		return err
	})
	return entry, err
}

// HaveEntry reports whether outpoint is unspent according to the database
// (spec.md §4.B's "have" operation).
func (cv *CoinView) HaveEntry(outpoint wire.OutPoint) (bool, error) {
	entry, err := cv.FetchEntry(outpoint)
	return entry != nil, err
}

// BestBlock returns the hash and height of the block the coin view was last
// flushed to, the persisted counterpart of spec.md §4.B's "best_block".
func (cv *CoinView) BestBlock() (chainhash.Hash, int32, error) {
	var hash chainhash.Hash
	var height int32
	err := cv.db.View(func(tx database.Tx) error {
		bucket := tx.Metadata().Bucket(utxoSetBucketName)
		if bucket == nil {
			return nil
		}
		serialized := bucket.Get(utxoSetStateKeyName)
		if serialized == nil || len(serialized) < chainhash.HashSize+4 {
			return nil
		}
		copy(hash[:], serialized[:chainhash.HashSize])
		height = int32(binary.LittleEndian.Uint32(serialized[chainhash.HashSize:]))
		return nil
	})
	return hash, height, err
}

// setBestBlock persists the hash/height the coin view represents, spec.md
// §4.B's "set_best_block", always performed atomically with the entry
// mutations of the same Flush call.
func (cv *CoinView) setBestBlock(tx database.Tx, hash chainhash.Hash, height int32) error {
	bucket, err := tx.Metadata().CreateBucketIfNotExists(utxoSetBucketName)
	if err != nil {
		return err
	}
	serialized := make([]byte, chainhash.HashSize+4)
	copy(serialized, hash[:])
	binary.LittleEndian.PutUint32(serialized[chainhash.HashSize:], uint32(height))
	return bucket.Put(utxoSetStateKeyName, serialized)
}

// Flush commits every modified entry in the view to the database in a
// single transaction and records the view's best hash/height, implementing
// spec.md §4.B's "flush": spent entries are deleted outright (the database
// never stores tombstones), and the view's in-memory cache is trimmed via
// commit() once the data is durable.
func (cv *CoinView) Flush(view *UtxoViewpoint, height int32) error {
	err := cv.db.Update(func(tx database.Tx) error {
		bucket, err := tx.Metadata().CreateBucketIfNotExists(utxoSetBucketName)
		if err != nil {
			return err
		}

		for outpoint, entry := range view.Entries() {
			if entry == nil {
				continue
			}
			key := outpointKey(outpoint)
			if entry.packedFlags&utxoFlags(tfSpent) != 0 {
				if entry.packedFlags&utxoFlagFresh != 0 {
					// Never hit the database; nothing to delete.
					continue
				}
				if err := bucket.Delete(key); err != nil {
					return err
				}
				continue
			}
			if entry.packedFlags&utxoFlagModified == 0 {
				continue
			}
			if err := bucket.Put(key, serializeUtxoEntry(entry)); err != nil {
				return err
			}
		}

		return cv.setBestBlock(tx, *view.BestHash(), height)
	})
	if err != nil {
		return err
	}

	view.commit()
	return nil
}

// CacheSizeBytes estimates the overlay view's memory footprint for the
// cache-eviction policy referenced by spec.md §4.B ("cache_size_bytes"):
// roughly the serialized entry size plus the outpoint key and per-entry map
// overhead.
func CacheSizeBytes(view *UtxoViewpoint) uint64 {
	const perEntryOverhead = 64
	var total uint64
	for _, entry := range view.Entries() {
		if entry == nil {
			continue
		}
		total += uint64(len(entry.PkScript())) + perEntryOverhead
	}
	return total
}
