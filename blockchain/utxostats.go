package blockchain

import (
	"github.com/acbcd/acbcd/chaincfg/chainhash"
	"github.com/acbcd/acbcd/database"
)

// UtxoStats summarizes the confirmed UTXO set, the Go counterpart of the
// original's coins.cpp GetStats (spec.md §7's supplemented "Coin
// statistics"): a cheap, whole-set cross-check independent of the
// block-by-block accounting connectBlock/disconnectBlock maintain.
type UtxoStats struct {
	// Height and BestHash identify the block the set was computed against.
	Height   int32
	BestHash chainhash.Hash

	// Transactions is the number of distinct transaction ids with at least
	// one unspent output.
	Transactions uint64

	// TxOuts is the total number of unspent outputs across the set.
	TxOuts uint64

	// SerializedSize is the total on-disk byte size of every stored entry
	// (key and value), a proxy for the set's storage footprint.
	SerializedSize uint64

	// TotalAmount is the sum of every unspent output's value, which must
	// equal the chain's total subsidy issued to date minus any provably
	// burned (OP_RETURN-style) outputs (a deliberately approximate
	// cross-check — this module doesn't classify scripts to exclude
	// unspendable ones).
	TotalAmount int64
}

// FetchUtxoStats walks every entry in the coin view's backing bucket and
// accumulates UtxoStats, used by verify_db's level-1 pass and available for
// any other offline consistency audit (spec.md §7).
func (cv *CoinView) FetchUtxoStats() (*UtxoStats, error) {
	stats := &UtxoStats{}
	seenTxns := make(map[chainhash.Hash]struct{})

	bestHash, height, err := cv.BestBlock()
	if err != nil {
		return nil, err
	}
	stats.BestHash = bestHash
	stats.Height = height

	err = cv.db.View(func(tx database.Tx) error {
		bucket := tx.Metadata().Bucket(utxoSetBucketName)
		if bucket == nil {
			return nil
		}

		cursor := bucket.Cursor()
		for cursor.Next() {
			key := cursor.Key()
			if len(key) == len(utxoSetStateKeyName) &&
				string(key) == string(utxoSetStateKeyName) {
				continue
			}
			if len(key) != chainhash.HashSize+4 {
				continue
			}

			value := cursor.Value()
			entry, err := deserializeUtxoEntry(value)
			if err != nil {
				return err
			}

			var txHash chainhash.Hash
			copy(txHash[:], key[:chainhash.HashSize])
			seenTxns[txHash] = struct{}{}

			stats.TxOuts++
			stats.TotalAmount += entry.Amount()
			stats.SerializedSize += uint64(len(key) + len(value))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	stats.Transactions = uint64(len(seenTxns))
	return stats, nil
}
