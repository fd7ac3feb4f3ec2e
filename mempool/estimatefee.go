package mempool

import (
	"errors"
	"sort"
	"sync"

	"github.com/acbcd/acbcd/chaincfg/chainhash"
)

const (
	// estimateFeeDepth is the maximum number of blocks before a transaction
	// is confirmed that we want to track.
	estimateFeeDepth = 25
)

// SatoshiPerByte is number with units of satoshis per byte.
type SatoshiPerByte float64

// observedTransaction represents an observed transaction and some
// additional data required for the fee estimation algorithm.
type observedTransaction struct {
	// A transaction hash.
	hash chainhash.Hash

	// The fee per byte of the transaction in satoshis.
	feeRate SatoshiPerByte

	// The block height when it was observed.
	observed int32

	// The height of the block in which it was mined.
	// If the transaction has not yet been mined, it is zero.
	mined int32
}

// registeredBlock holds the transactions a registered block mined which had
// been previously observed by the FeeEstimator; RegisterBlock leaves hash
// unset.  EstimateFee draws its confirmation history from the retained
// registeredBlocks.
type registeredBlock struct {
	hash         chainhash.Hash
	transactions []*observedTransaction
}

// FeeEstimator manages the data necessary to create
// fee estimations. It is safe for concurrent access.
type FeeEstimator struct {
	maxRollback uint32
	binSize     int32

	// The maximum number of replacements that can be made in a single
	// bin per block. No code path sets or reads it.
	maxReplacements int32

	// The minimum number of blocks that can be registered with the fee
	// estimator before it will provide answers.
	minRegisteredBlocks uint32

	// The last known height.
	lastKnownHeight int32

	// The number of blocks that have been registered.
	numBlocksRegistered uint32

	mtx      sync.RWMutex
	observed map[chainhash.Hash]*observedTransaction
	bin      [estimateFeeDepth][]*observedTransaction

	// The cached estimates.
	cached []SatoshiPerByte

	// The confirmed transactions of the most recent (at most maxRollback)
	// registered blocks, the history EstimateFee reads. A registered block
	// cannot be reverted.
	dropped []*registeredBlock
}

// NewFeeEstimator returns an estimator that requires minRegisteredBlocks
// blocks to be registered before EstimateFee starts answering, and keeps the
// confirmations of up to maxRollback most recent registered blocks as its
// history (spec.md §7's supplemented fee estimator feature).
func NewFeeEstimator(maxRollback, minRegisteredBlocks uint32) *FeeEstimator {
	return &FeeEstimator{
		maxRollback:         maxRollback,
		binSize:             1,
		minRegisteredBlocks: minRegisteredBlocks,
		observed:            make(map[chainhash.Hash]*observedTransaction),
	}
}

// ObserveTransaction records txDesc's fee rate at the moment it's admitted
// to the mempool, the starting point EstimateFee's confirmation-time
// history is built from.
func (ef *FeeEstimator) ObserveTransaction(txDesc *TxDesc) {
	ef.mtx.Lock()
	defer ef.mtx.Unlock()

	hash := *txDesc.Tx.Hash()
	if _, exists := ef.observed[hash]; exists {
		return
	}

	size := txDesc.Tx.MsgTx().SerializeSize()
	if size <= 0 {
		return
	}

	ot := &observedTransaction{
		hash:     hash,
		feeRate:  SatoshiPerByte(float64(txDesc.Fee) / float64(size)),
		observed: ef.lastKnownHeight + 1,
	}
	ef.observed[hash] = ot
	ef.bin[0] = append(ef.bin[0], ot)
}

// RegisterBlock advances the estimator's window by one block: every
// transaction mined in the block at height is marked confirmed there, and
// every still-unconfirmed observed transaction ages one bin deeper, falling
// out of tracking once it has gone estimateFeeDepth blocks without
// confirming.
func (ef *FeeEstimator) RegisterBlock(height int32, minedTxHashes []chainhash.Hash) {
	ef.mtx.Lock()
	defer ef.mtx.Unlock()

	var confirmed []*observedTransaction
	for _, hash := range minedTxHashes {
		ot, ok := ef.observed[hash]
		if !ok {
			continue
		}
		ot.mined = height
		confirmed = append(confirmed, ot)
		delete(ef.observed, hash)
	}

	var nextBin [estimateFeeDepth][]*observedTransaction
	for depth, bucket := range ef.bin {
		for _, ot := range bucket {
			if ot.mined != 0 {
				// Confirmed this round; already moved to confirmed above.
				continue
			}
			nextDepth := depth + 1
			if nextDepth >= estimateFeeDepth {
				delete(ef.observed, ot.hash)
				continue
			}
			nextBin[nextDepth] = append(nextBin[nextDepth], ot)
		}
	}
	ef.bin = nextBin

	ef.dropped = append(ef.dropped, &registeredBlock{transactions: confirmed})
	if uint32(len(ef.dropped)) > ef.maxRollback {
		ef.dropped = ef.dropped[1:]
	}

	ef.lastKnownHeight = height
	ef.numBlocksRegistered++
	ef.cached = nil
}

// errNotEnoughData is returned by EstimateFee before minRegisteredBlocks
// blocks have been registered, or when no transaction in the retained
// history confirmed within the requested window.
var errNotEnoughData = errors.New("not enough blocks have been observed to estimate a fee")

// EstimateFee returns the fee rate, in satoshis/byte, that historically
// would have confirmed a transaction within numBlocks blocks: the median
// fee rate among every tracked transaction whose observed-to-mined gap was
// at most numBlocks.
func (ef *FeeEstimator) EstimateFee(numBlocks int32) (SatoshiPerByte, error) {
	ef.mtx.RLock()
	defer ef.mtx.RUnlock()

	if ef.numBlocksRegistered < ef.minRegisteredBlocks {
		return 0, errNotEnoughData
	}

	var rates []SatoshiPerByte
	for _, block := range ef.dropped {
		for _, ot := range block.transactions {
			if ot.mined-ot.observed <= numBlocks {
				rates = append(rates, ot.feeRate)
			}
		}
	}
	if len(rates) == 0 {
		return 0, errNotEnoughData
	}

	sort.Slice(rates, func(i, j int) bool { return rates[i] < rates[j] })
	return rates[len(rates)/2], nil
}
