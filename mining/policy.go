package mining

import (
	"time"

	"github.com/acbcd/acbcd/acbcutil"
	"github.com/acbcd/acbcd/wire"
)

// UnminedHeight is the height used for the "block" height field of the
// contextual transaction information provided in a transaction store when it
// has not yet been mined into a block.
const UnminedHeight = 0x7fffffff

// MinHighPriority is the minimum priority value that allows a transaction
// to be considered high priority, i.e. one old/large enough in coin-age
// terms to bypass the dynamic minimum relay fee (spec.md §4.E item 8). It
// is the priority of a 1-BTC output confirmed 144 blocks (a day) ago,
// the reference threshold.
const MinHighPriority = acbcutil.SatoshiPerBitcoin * 144 / 250

// Policy houses the policy (configuration parameters) used to control
// generation of block templates and, by extension, the priority/fee
// thresholds the mempool consults when admitting transactions.
type Policy struct {
	// BlockMinWeight is the minimum block weight to be used when
	// generating a block template.
	BlockMinWeight uint32

	// BlockMaxWeight is the maximum block weight to be used when
	// generating a block template.
	BlockMaxWeight uint32

	// BlockPrioritySize is the size in bytes for high-priority / low-fee
	// transactions to be used when generating a block template.
	BlockPrioritySize uint32

	// TxMinFreeFee is the minimum fee in Satoshi/1000 bytes that is
	// required for a transaction to be treated as free for mining
	// purposes (block template generation).
	TxMinFreeFee acbcutil.Amount
}

// TxDesc is a descriptor about a transaction in a transaction source along
// with additional metadata.
type TxDesc struct {
	// Tx is the transaction associated with the entry.
	Tx *acbcutil.Tx

	// Added is the time when the entry was added to the source pool.
	Added time.Time

	// Height is the block height when the entry was added to the source
	// pool, or UnminedHeight if it has not been confirmed.
	Height int32

	// Fee is the total fee the transaction associated with the entry pays.
	Fee int64

	// FeePerKB is the fee the transaction pays in Satoshi per 1000 bytes.
	FeePerKB int64
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// calcInputValueAge sums each input's value multiplied by its number of
// confirmations since being mined (or zero if the input itself is still
// unconfirmed), following the reference priority formula.
func calcInputValueAge(tx *wire.MsgTx, utxoLookup func(wire.OutPoint) (amount int64, height int32, ok bool), nextBlockHeight int32) float64 {
	var totalInputAge float64
	for _, txIn := range tx.TxIn {
		amount, originHeight, ok := utxoLookup(txIn.PreviousOutPoint)
		if !ok {
			continue
		}

		var inputAge int32
		if originHeight == UnminedHeight {
			inputAge = 0
		} else {
			inputAge = nextBlockHeight - originHeight
		}

		totalInputAge += float64(amount * int64(inputAge))
	}
	return totalInputAge
}

// CalcPriority returns a transaction priority given a transaction and the sum
// of each of its input values multiplied by their age (# of confirmations):
//
//	sum(inputValue * inputAge) / adjustedTxSize
//
// utxoLookup resolves a prevout to its coin amount and origin height,
// matching the (amount, height) pair blockchain.UtxoEntry exposes without
// this package importing blockchain directly.
func CalcPriority(tx *wire.MsgTx, utxoLookup func(wire.OutPoint) (amount int64, height int32, ok bool), nextBlockHeight int32) float64 {
	// Don't count the constant overhead for each input, nor enough bytes
	// of signature script to cover a P2SH redemption with a compressed
	// pubkey, matching the reference implementation so additional inputs
	// don't depress the priority of otherwise-old-coin transactions.
	overhead := 0
	for _, txIn := range tx.TxIn {
		overhead += 41 + minInt(110, len(txIn.SignatureScript))
	}

	serializedTxSize := tx.SerializeSize()
	if overhead >= serializedTxSize {
		return 0.0
	}

	inputValueAge := calcInputValueAge(tx, utxoLookup, nextBlockHeight)
	return inputValueAge / float64(serializedTxSize-overhead)
}
