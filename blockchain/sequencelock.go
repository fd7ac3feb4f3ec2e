package blockchain

import (
	"github.com/acbcd/acbcd/acbcutil"
	"github.com/acbcd/acbcd/wire"
)

// UnminedHeight is the height used for the BlockHeight of a UtxoEntry that
// hasn't been mined yet, i.e. one whose only home is a mempool transaction's
// output (spec.md §4.E item 6's combined UTXO ∪ mempool view).
const UnminedHeight = 0x7fffffff

// SequenceLock represents the minimum height and median time past at/after
// which a transaction may be included in a block, computed from the
// relative lock-times (BIP68) of its inputs (spec.md §4.E item 7).
type SequenceLock struct {
	Seconds     int64
	BlockHeight int32
}

// CalcSequenceLock computes tx's sequence lock relative to the block that
// would be built on top of node, given the block heights the referenced
// outputs were mined at (via view). The lock-point returned is the maximum
// across every input, so the transaction is admissible only once every
// input's relative lock is individually satisfied (spec.md §4.E item 7's
// "lock-point (height, time, max-input block)").
func CalcSequenceLock(node *blockNode, tx *acbcutil.Tx, view *UtxoViewpoint) (*SequenceLock, error) {
	lock := &SequenceLock{Seconds: -1, BlockHeight: -1}

	msgTx := tx.MsgTx()
	if IsCoinBaseTx(msgTx) {
		return lock, nil
	}
	if msgTx.Version < 2 {
		return lock, nil
	}

	nextHeight := node.height + 1

	for _, txIn := range msgTx.TxIn {
		if txIn.Sequence&wire.SequenceLockTimeDisabled == wire.SequenceLockTimeDisabled {
			continue
		}

		entry := view.LookupEntry(txIn.PreviousOutPoint)
		if entry == nil {
			str := "output " + txIn.PreviousOutPoint.String() +
				" referenced from transaction " + tx.Hash().String() +
				" either does not exist or has already been spent"
			return nil, ruleError(ErrMissingTxOut, str)
		}

		inputHeight := entry.BlockHeight()
		if inputHeight == UnminedHeight {
			inputHeight = nextHeight
		}

		relativeLock := int64(txIn.Sequence & wire.SequenceLockTimeMask)
		if txIn.Sequence&wire.SequenceLockTimeIsSeconds == wire.SequenceLockTimeIsSeconds {
			ancestor := node.Ancestor(inputHeight - 1)
			var medianTime int64
			if ancestor != nil {
				medianTime = ancestor.CalcPastMedianTime().Unix()
			}
			timeLock := medianTime + (relativeLock << wire.SequenceLockTimeGranularity) - 1
			if timeLock > lock.Seconds {
				lock.Seconds = timeLock
			}
		} else {
			heightLock := inputHeight + int32(relativeLock) - 1
			if heightLock > lock.BlockHeight {
				lock.BlockHeight = heightLock
			}
		}
	}

	return lock, nil
}

// SequenceLockActive reports whether lock is satisfied by a block at
// blockHeight whose parent's median time past is medianTimePast (spec.md
// §4.E item 7: "admissible if the next block satisfies them").
func SequenceLockActive(lock *SequenceLock, blockHeight int32, medianTimePast int64) bool {
	return lock.Seconds < medianTimePast && lock.BlockHeight < blockHeight
}
