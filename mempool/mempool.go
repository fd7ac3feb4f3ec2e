package mempool

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/acbcd/acbcd/acbcutil"
	"github.com/acbcd/acbcd/blockchain"
	"github.com/acbcd/acbcd/chaincfg"
	"github.com/acbcd/acbcd/chaincfg/chainhash"
	"github.com/acbcd/acbcd/log"
	"github.com/acbcd/acbcd/mining"
	"github.com/acbcd/acbcd/wire"
)

const (
	// DefaultBlockPrioritySize is the default size in bytes for high-
	// priority / low-fee transactions.  It is used to help determine which
	// are allowed into the mempool and consequently affects their relay and
	// inclusion when generating block templates.
	DefaultBlockPrioritySize = 50000

	// orphanExpireScanInterval is the minimum amount of time that must pass
	// before a scan of the orphan pool is attempted in order to evict
	// orphans.  This is NOT a hard deadline as the scan will only run when
	// an orphan is added to the pool as opposed to on an unconditional
	// timer.
	orphanExpireScanInterval = time.Minute * 5

	// orphanTTL is how long an orphan transaction may sit in the orphan
	// pool before limitNumOrphans evicts it (spec.md §4.E's "Expiration"
	// applied to not-yet-admissible transactions).
	orphanTTL = time.Minute * 15

	// freeRelayHalfLife is the half-life, in seconds, of the decaying
	// free-relay counter of spec.md §4.E item 8.
	freeRelayHalfLife = 10 * 60

	// DefaultMaxMempoolBytes is the default byte budget the pool trims
	// itself down to once an admission pushes it over (spec.md §4.E's
	// "insert, then trim").
	DefaultMaxMempoolBytes = 300 * 1000 * 1000

	// DefaultMempoolExpiry is how long a pool entry may sit unconfirmed
	// before an admission attempt sweeps it out (spec.md §4.E's
	// "Expiration").
	DefaultMempoolExpiry = 336 * time.Hour

	// rollingFeeHalfLife is the half-life, in seconds, the rolling minimum
	// relay fee decays with once trimming has stopped (spec.md §4.E's
	// dynamic minimum fee, mirrored on the same decay idiom limitFreeTx
	// already uses for the free-relay counter).
	rollingFeeHalfLife = 12 * 60 * 60

	// rollingFeeMinRate is the feerate, in satoshi/kB, below which the
	// rolling minimum is considered decayed away entirely.
	rollingFeeMinRate = 1000
)

// Policy houses the policy (configuration parameters) which are used to
// control the mempool.
type Policy struct {
	// MaxTxVersion is not read by the admission pipeline: the
	// standardness check rejects versions above the package constant
	// maxStandardVersion (2) regardless of this field.
	MaxTxVersion int32

	// DisableRelayPriority defines whether to relay free or low-fee
	// transactions that do not have enough priority to be relayed.
	DisableRelayPriority bool

	// FreeTxRelayLimit defines the given amount in thousands of bytes
	// per minute that transactions with no fee are rate limited to.
	FreeTxRelayLimit float64

	// MaxOrphanTxs is the maximum number of orphan transactions
	// that can be queued.
	MaxOrphanTxs int

	// MinRelayTxFee defines the minimum transaction fee in satoshi/kB to be
	// considered a non-zero fee.
	MinRelayTxFee acbcutil.Amount

	// MaxMempoolBytes is the maxmempool config key: the byte budget the
	// pool trims itself down to, lowest feerate first, once an admission
	// pushes total pool size over it (spec.md §4.E's "insert, then
	// trim"). Zero disables trimming.
	MaxMempoolBytes int64

	// MempoolExpiry is the mempoolexpiry config key: how long an entry
	// may sit unconfirmed before an admission attempt evicts it (spec.md
	// §4.E's "Expiration"). Zero disables the sweep.
	MempoolExpiry time.Duration
}

// TxDesc is a descriptor containing a transaction in the mempool along with
// additional metadata.
type TxDesc struct {
	mining.TxDesc

	// StartingPriority is the priority of the transaction when it was added
	// to the pool.
	StartingPriority float64
}

// orphanTx is a normal transaction that references an ancestor transaction
// that is not yet available.  It also contains additional information
// related to it such as an expiration time to help prevent caching the
// orphan forever.
type orphanTx struct {
	tx         *acbcutil.Tx
	expiration time.Time
}

// Config is the configuration a TxPool is created with (spec.md §4.E). It
// exposes the chain state the admission pipeline consults as function
// values rather than a direct *blockchain.BlockChain field, keeping the
// mempool package decoupled from blockchain's internals and independently
// testable with stand-in closures.
type Config struct {
	// Policy houses the policy (configuration parameters) which is used
	// to control the mempool.
	Policy Policy

	// ChainParams identifies which chain parameters the mempool is
	// associated with.
	ChainParams *chaincfg.Params

	// FetchUtxoView returns a view populated with the outputs tx's inputs
	// reference that currently exist in the confirmed UTXO set (spec.md
	// §4.E item 6, the confirmed half of the combined UTXO ∪ mempool
	// view).
	FetchUtxoView func(tx *acbcutil.Tx) (*blockchain.UtxoViewpoint, error)

	// BestHeight returns the height of the current best chain tip.
	BestHeight func() int32

	// MedianTimePast returns the median time past of the current best
	// chain tip.
	MedianTimePast func() time.Time

	// CalcSequenceLock computes tx's BIP68 sequence lock relative to the
	// current best chain tip (spec.md §4.E item 7).
	CalcSequenceLock func(tx *acbcutil.Tx, view *blockchain.UtxoViewpoint) (*blockchain.SequenceLock, error)

	// CheckTransactionScripts validates every input script of tx against
	// view (spec.md §4.E item 10).
	CheckTransactionScripts func(tx *acbcutil.Tx, view *blockchain.UtxoViewpoint) error

	// FeeEstimator records each admitted transaction's fee rate for later
	// confirmation-time estimation (spec.md §7's supplemented fee
	// estimator). Nil disables fee tracking.
	FeeEstimator *FeeEstimator

	// OnEvict, when non-nil, is called for every transaction trimToSize or
	// expireOldTransactions removes, so a UTXO cache layered in front of
	// the confirmed view can uncache the outpoints it speculatively added
	// for the transaction's own outputs (spec.md §4.E's "remembering
	// evicted outpoints for the UTXO cache").
	OnEvict func(tx *acbcutil.Tx)
}

// TxPool is used as a source of transactions that need to be mined into blocks
// and relayed to other peers.  It is safe for concurrent access from multiple
// peers.
type TxPool struct {
	// The following variables must only be used atomically.
	lastUpdated int64 // last time pool was updated

	mtx           sync.RWMutex
	cfg           Config
	pool          map[chainhash.Hash]*TxDesc
	orphans       map[chainhash.Hash]*orphanTx
	orphansByPrev map[wire.OutPoint]map[chainhash.Hash]*acbcutil.Tx
	outpoints     map[wire.OutPoint]*acbcutil.Tx
	pennyTotal    float64 // exponentially decaying total for penny spends.
	lastPennyUnix int64   // unix time of last ``penny spend''

	// nextExpireScan is the time after which the orphan pool will be
	// scanned in order to evict orphans.  This is NOT a hard deadline as
	// the scan will only run when an orphan is added to the pool as opposed
	// to on an unconditional timer.
	nextExpireScan time.Time

	// poolSize is the running total serialized size, in bytes, of every
	// transaction currently in pool, kept incrementally so trimToSize
	// doesn't need to re-sum the pool on every admission.
	poolSize int64

	// rollingMinFeeRate/rollingMinFeeUnix implement spec.md §4.E's dynamic
	// minimum fee: trimToSize doubles rollingMinFeeRate whenever it has to
	// evict, and currentMinRequiredTxRelayFee decays it back down with a
	// half-life the longer trimming stays idle.
	rollingMinFeeRate float64
	rollingMinFeeUnix int64
}

// New returns a new memory pool for validating and storing standalone
// transactions until they are mined into a block.
func New(cfg *Config) *TxPool {
	return &TxPool{
		cfg:            *cfg,
		pool:           make(map[chainhash.Hash]*TxDesc),
		orphans:        make(map[chainhash.Hash]*orphanTx),
		orphansByPrev:  make(map[wire.OutPoint]map[chainhash.Hash]*acbcutil.Tx),
		outpoints:      make(map[wire.OutPoint]*acbcutil.Tx),
		nextExpireScan: time.Now().Add(orphanExpireScanInterval),
	}
}

// removeOrphan removes the passed orphan transaction from the orphan pool
// and updates any dependency tracking.  This function must be called with
// the mempool lock held (for writes).
func (mp *TxPool) removeOrphan(tx *acbcutil.Tx) {
	txHash := *tx.Hash()
	otx, exists := mp.orphans[txHash]
	if !exists {
		return
	}

	for _, txIn := range otx.tx.MsgTx().TxIn {
		orphans, exists := mp.orphansByPrev[txIn.PreviousOutPoint]
		if !exists {
			continue
		}
		delete(orphans, txHash)
		if len(orphans) == 0 {
			delete(mp.orphansByPrev, txIn.PreviousOutPoint)
		}
	}

	delete(mp.orphans, txHash)
}

// RemoveOrphan removes the passed orphan transaction from the orphan pool
// and updates any dependency tracking.
func (mp *TxPool) RemoveOrphan(tx *acbcutil.Tx) {
	mp.mtx.Lock()
	mp.removeOrphan(tx)
	mp.mtx.Unlock()
}

// limitNumOrphans first evicts any orphan past its expiration time, then
// evicts an arbitrary orphan if the pool would still exceed MaxOrphanTxs
// (spec.md §4.E's "Expiration" applied to not-yet-admissible transactions).
// This function must be called with the mempool lock held (for writes).
func (mp *TxPool) limitNumOrphans() {
	if now := time.Now(); now.After(mp.nextExpireScan) {
		origNumOrphans := len(mp.orphans)
		for _, otx := range mp.orphans {
			if now.After(otx.expiration) {
				mp.removeOrphan(otx.tx)
			}
		}
		if numExpired := origNumOrphans - len(mp.orphans); numExpired > 0 {
			log.MpolLog.Debugf("expired %d orphans (remaining: %d)",
				numExpired, len(mp.orphans))
		}
		mp.nextExpireScan = now.Add(orphanExpireScanInterval)
	}

	if len(mp.orphans)+1 <= mp.cfg.Policy.MaxOrphanTxs {
		return
	}

	for _, otx := range mp.orphans {
		mp.removeOrphan(otx.tx)
		break
	}
}

// addOrphan adds an orphan transaction to the orphan pool (spec.md §4.E
// item 6: a missing-inputs rejection becomes an orphan rather than a
// permanent reject so it can be reconsidered once its ancestor arrives).
// This function must be called with the mempool lock held (for writes).
func (mp *TxPool) addOrphan(tx *acbcutil.Tx) {
	if mp.cfg.Policy.MaxOrphanTxs <= 0 {
		return
	}

	mp.limitNumOrphans()

	mp.orphans[*tx.Hash()] = &orphanTx{
		tx:         tx,
		expiration: time.Now().Add(orphanTTL),
	}
	for _, txIn := range tx.MsgTx().TxIn {
		if _, exists := mp.orphansByPrev[txIn.PreviousOutPoint]; !exists {
			mp.orphansByPrev[txIn.PreviousOutPoint] = make(map[chainhash.Hash]*acbcutil.Tx)
		}
		mp.orphansByPrev[txIn.PreviousOutPoint][*tx.Hash()] = tx
	}

	log.MpolLog.Debugf("stored orphan transaction %v (total: %d)", tx.Hash(),
		len(mp.orphans))
}

// isTransactionInPool returns whether the passed transaction already exists
// in the main pool.  This function must be called with the mempool lock
// held (for reads).
func (mp *TxPool) isTransactionInPool(hash *chainhash.Hash) bool {
	_, exists := mp.pool[*hash]
	return exists
}

// IsTransactionInPool returns whether the passed transaction already exists
// in the main pool.
func (mp *TxPool) IsTransactionInPool(hash *chainhash.Hash) bool {
	mp.mtx.RLock()
	defer mp.mtx.RUnlock()
	return mp.isTransactionInPool(hash)
}

// isOrphanInPool returns whether the passed transaction already exists in
// the orphan pool.  This function must be called with the mempool lock held
// (for reads).
func (mp *TxPool) isOrphanInPool(hash *chainhash.Hash) bool {
	_, exists := mp.orphans[*hash]
	return exists
}

// IsOrphanInPool returns whether the passed transaction already exists in
// the orphan pool.
func (mp *TxPool) IsOrphanInPool(hash *chainhash.Hash) bool {
	mp.mtx.RLock()
	defer mp.mtx.RUnlock()
	return mp.isOrphanInPool(hash)
}

// haveTransaction returns whether the passed transaction already exists in
// the main pool or in the orphan pool.  This function must be called with
// the mempool lock held (for reads).
func (mp *TxPool) haveTransaction(hash *chainhash.Hash) bool {
	return mp.isTransactionInPool(hash) || mp.isOrphanInPool(hash)
}

// HaveTransaction returns whether the passed transaction already exists in
// the main pool or in the orphan pool.
func (mp *TxPool) HaveTransaction(hash *chainhash.Hash) bool {
	mp.mtx.RLock()
	defer mp.mtx.RUnlock()
	return mp.haveTransaction(hash)
}

// removeTransaction is the internal function which implements the public
// RemoveTransaction.  This function must be called with the mempool lock
// held (for writes).
func (mp *TxPool) removeTransaction(tx *acbcutil.Tx, removeRedeemers bool) {
	mp.removeTransactionCollect(tx, removeRedeemers, nil)
}

// removeTransactionCollect is removeTransaction's implementation, optionally
// appending every transaction actually removed (tx itself plus any redeemer
// pulled in recursively) to evicted, so trimToSize and expireOldTransactions
// can report each one through cfg.OnEvict.  This function must be called
// with the mempool lock held (for writes).
func (mp *TxPool) removeTransactionCollect(tx *acbcutil.Tx, removeRedeemers bool, evicted *[]*acbcutil.Tx) {
	txHash := *tx.Hash()
	if removeRedeemers {
		prevOut := wire.OutPoint{Hash: txHash}
		for i := range tx.MsgTx().TxOut {
			prevOut.Index = uint32(i)
			if txRedeemer, exists := mp.outpoints[prevOut]; exists {
				mp.removeTransactionCollect(txRedeemer, true, evicted)
			}
		}
	}

	if txDesc, exists := mp.pool[txHash]; exists {
		for _, txIn := range txDesc.Tx.MsgTx().TxIn {
			delete(mp.outpoints, txIn.PreviousOutPoint)
		}
		delete(mp.pool, txHash)
		mp.poolSize -= int64(txDesc.Tx.MsgTx().SerializeSize())
		atomic.StoreInt64(&mp.lastUpdated, time.Now().Unix())
		if evicted != nil {
			*evicted = append(*evicted, tx)
		}
	}
}

// RemoveTransaction removes the passed transaction from the mempool.  When
// the removeRedeemers flag is set, any transactions that redeem outputs
// from the removed transaction are also removed recursively, since they
// would otherwise become orphaned.
func (mp *TxPool) RemoveTransaction(tx *acbcutil.Tx, removeRedeemers bool) {
	mp.mtx.Lock()
	mp.removeTransaction(tx, removeRedeemers)
	mp.mtx.Unlock()
}

// RemoveDoubleSpends removes all transactions which spend outputs also
// spent by tx, used when a block confirms one of a set of conflicting
// spends and the losers can no longer be reconciled with the new chain
// state (spec.md §3's "no two entries spend the same outpoint" invariant,
// enforced here after the fact on connect).
func (mp *TxPool) RemoveDoubleSpends(tx *acbcutil.Tx) {
	mp.mtx.Lock()
	for _, txIn := range tx.MsgTx().TxIn {
		if txRedeemer, ok := mp.outpoints[txIn.PreviousOutPoint]; ok {
			if !txRedeemer.Hash().IsEqual(tx.Hash()) {
				mp.removeTransaction(txRedeemer, true)
			}
		}
	}
	mp.mtx.Unlock()
}

// addTransaction adds the passed transaction to the memory pool.  It
// doesn't perform any validation, which is the caller's responsibility
// (maybeAcceptTransaction).  This function must be called with the
// mempool lock held (for writes).
func (mp *TxPool) addTransaction(utxoView *blockchain.UtxoViewpoint, tx *acbcutil.Tx, height int32, fee int64) *TxDesc {
	txDesc := &TxDesc{
		TxDesc: mining.TxDesc{
			Tx:       tx,
			Added:    time.Now(),
			Height:   height,
			Fee:      fee,
			FeePerKB: fee * 1000 / int64(tx.MsgTx().SerializeSize()),
		},
		StartingPriority: calcPriority(tx, utxoView, height+1),
	}

	mp.pool[*tx.Hash()] = txDesc
	for _, txIn := range tx.MsgTx().TxIn {
		mp.outpoints[txIn.PreviousOutPoint] = tx
	}
	mp.poolSize += int64(tx.MsgTx().SerializeSize())
	atomic.StoreInt64(&mp.lastUpdated, time.Now().Unix())

	if mp.cfg.FeeEstimator != nil {
		mp.cfg.FeeEstimator.ObserveTransaction(txDesc)
	}

	return txDesc
}

// calcPriority adapts mining.CalcPriority's utxoLookup-function signature to
// a blockchain.UtxoViewpoint.
func calcPriority(tx *acbcutil.Tx, utxoView *blockchain.UtxoViewpoint, nextBlockHeight int32) float64 {
	lookup := func(op wire.OutPoint) (int64, int32, bool) {
		entry := utxoView.LookupEntry(op)
		if entry == nil {
			return 0, 0, false
		}
		return entry.Amount(), entry.BlockHeight(), true
	}
	return mining.CalcPriority(tx.MsgTx(), lookup, nextBlockHeight)
}

// checkPoolDoubleSpend checks whether any of the passed transaction's
// inputs are already spent by another transaction in the mempool (spec.md
// §4.E item 5's "Conflict").  This function must be called with the
// mempool lock held (for reads).
func (mp *TxPool) checkPoolDoubleSpend(tx *acbcutil.Tx) error {
	for _, txIn := range tx.MsgTx().TxIn {
		if txR, exists := mp.outpoints[txIn.PreviousOutPoint]; exists {
			str := fmt.Sprintf("output %v already spent by transaction %v "+
				"in the memory pool", txIn.PreviousOutPoint, txR.Hash())
			return txRuleError(ErrConflict, str)
		}
	}
	return nil
}

// fetchInputUtxos loads the UTXO entries every input of tx references,
// layering the mempool's own not-yet-confirmed outputs on top of the
// confirmed view cfg.FetchUtxoView returns (spec.md §4.E item 6's
// "combined (UTXO ∪ mempool) view"). This function must be called with the
// mempool lock held (for reads).
func (mp *TxPool) fetchInputUtxos(tx *acbcutil.Tx) (*blockchain.UtxoViewpoint, error) {
	utxoView, err := mp.cfg.FetchUtxoView(tx)
	if err != nil {
		return nil, err
	}

	for _, txIn := range tx.MsgTx().TxIn {
		if utxoView.LookupEntry(txIn.PreviousOutPoint) != nil {
			continue
		}
		if poolTxDesc, exists := mp.pool[txIn.PreviousOutPoint.Hash]; exists {
			utxoView.AddTxOuts(poolTxDesc.Tx, mining.UnminedHeight)
		}
	}

	return utxoView, nil
}

// limitFreeTx enforces spec.md §4.E item 8's decaying free-relay allowance:
// a transaction paying below the dynamic minimum fee is still admitted as
// long as cumulative low-fee bytes, decayed with a 10-minute half-life,
// stay under the configured FreeTxRelayLimit per minute.
func (mp *TxPool) limitFreeTx(tx *acbcutil.Tx) error {
	nowUnix := time.Now().Unix()
	if mp.lastPennyUnix != 0 {
		elapsed := float64(nowUnix - mp.lastPennyUnix)
		mp.pennyTotal *= math.Pow(2, -elapsed/freeRelayHalfLife)
	}
	mp.lastPennyUnix = nowUnix

	size := float64(tx.MsgTx().SerializeSize())
	if mp.pennyTotal+size >= mp.cfg.Policy.FreeTxRelayLimit*10*1000 {
		str := fmt.Sprintf("transaction %v has insufficient priority to "+
			"bypass the free-relay limit", tx.Hash())
		return txRuleError(ErrInsufficientFee, str)
	}
	mp.pennyTotal += size

	return nil
}

// trimToSize evicts the lowest-feerate transaction (and any descendants
// that would otherwise be left spending a removed output) repeatedly until
// the pool's total size is at or below cfg.Policy.MaxMempoolBytes, bumping
// the rolling minimum relay fee on each round (spec.md §4.E's "insert, then
// trim"). This function must be called with the mempool lock held (for
// writes).
func (mp *TxPool) trimToSize() {
	maxBytes := mp.cfg.Policy.MaxMempoolBytes
	if maxBytes <= 0 {
		return
	}

	for mp.poolSize > maxBytes && len(mp.pool) > 0 {
		var worstHash chainhash.Hash
		var worstFeePerKB int64
		found := false
		for hash, txDesc := range mp.pool {
			if !found || txDesc.FeePerKB < worstFeePerKB {
				worstHash, worstFeePerKB, found = hash, txDesc.FeePerKB, true
			}
		}
		if !found {
			break
		}

		worstTx := mp.pool[worstHash].Tx
		var evicted []*acbcutil.Tx
		mp.removeTransactionCollect(worstTx, true, &evicted)
		for _, tx := range evicted {
			if mp.cfg.OnEvict != nil {
				mp.cfg.OnEvict(tx)
			}
		}
		mp.bumpRollingMinFee(worstFeePerKB)

		log.MpolLog.Debugf("evicted %d transaction(s) at feerate %d sat/kB "+
			"trimming mempool toward %d bytes (currently %d)",
			len(evicted), worstFeePerKB, maxBytes, mp.poolSize)
	}
}

// bumpRollingMinFee raises the rolling minimum relay fee to twice the
// feerate of a transaction just evicted by trimToSize, spec.md §4.E's
// dynamic minimum fee ("doubles on eviction").
func (mp *TxPool) bumpRollingMinFee(evictedFeePerKB int64) {
	newRate := float64(evictedFeePerKB) * 2
	if newRate > mp.rollingMinFeeRate {
		mp.rollingMinFeeRate = newRate
	}
	mp.rollingMinFeeUnix = time.Now().Unix()
}

// currentMinRequiredTxRelayFee returns the minimum fee a transaction of
// serializedSize bytes must pay, the greater of the static
// cfg.Policy.MinRelayTxFee floor and the rolling minimum trimToSize has
// raised, decayed toward zero with a half-life once trimming has been idle
// (spec.md §4.E's dynamic minimum fee, "decays otherwise"). This function
// must be called with the mempool lock held (for writes), since it updates
// the decay state as a side effect.
func (mp *TxPool) currentMinRequiredTxRelayFee(serializedSize int64) int64 {
	static := calcMinRequiredTxRelayFee(serializedSize, mp.cfg.Policy.MinRelayTxFee)

	if mp.rollingMinFeeRate <= 0 {
		return static
	}

	elapsed := float64(time.Now().Unix() - mp.rollingMinFeeUnix)
	mp.rollingMinFeeRate *= math.Pow(0.5, elapsed/rollingFeeHalfLife)
	mp.rollingMinFeeUnix = time.Now().Unix()
	if mp.rollingMinFeeRate < rollingFeeMinRate {
		mp.rollingMinFeeRate = 0
		return static
	}

	dynamic := int64(mp.rollingMinFeeRate * float64(serializedSize) / 1000)
	if dynamic > static {
		return dynamic
	}
	return static
}

// descendantStats walks forward from an in-pool transaction identified by
// hash through mp.outpoints, returning the count and total serialized size
// of every transaction that transitively spends one of its outputs — the
// descendant half of spec.md §4.E item 9's ancestor/descendant package
// limits. This function must be called with the mempool lock held (for
// reads).
func (mp *TxPool) descendantStats(hash chainhash.Hash) (int, int) {
	seen := make(map[chainhash.Hash]struct{})
	var totalSize int
	var walk func(h chainhash.Hash)
	walk = func(h chainhash.Hash) {
		txDesc, exists := mp.pool[h]
		if !exists {
			return
		}
		prevOut := wire.OutPoint{Hash: h}
		for i := range txDesc.Tx.MsgTx().TxOut {
			prevOut.Index = uint32(i)
			child, exists := mp.outpoints[prevOut]
			if !exists {
				continue
			}
			childHash := *child.Hash()
			if _, ok := seen[childHash]; ok {
				continue
			}
			seen[childHash] = struct{}{}
			if childDesc, ok := mp.pool[childHash]; ok {
				totalSize += childDesc.Tx.MsgTx().SerializeSize()
			}
			walk(childHash)
		}
	}
	walk(hash)
	return len(seen), totalSize
}

// expireOldTransactions evicts every pool entry added more than
// cfg.Policy.MempoolExpiry ago, along with any descendant that would
// otherwise be left spending a removed output, swept on each admission
// attempt (spec.md §4.E's "Expiration"). This function must be called with
// the mempool lock held (for writes).
func (mp *TxPool) expireOldTransactions() {
	expiry := mp.cfg.Policy.MempoolExpiry
	if expiry <= 0 {
		return
	}

	cutoff := time.Now().Add(-expiry)
	var stale []*acbcutil.Tx
	for _, txDesc := range mp.pool {
		if txDesc.Added.Before(cutoff) {
			stale = append(stale, txDesc.Tx)
		}
	}

	var evicted []*acbcutil.Tx
	for _, tx := range stale {
		if !mp.isTransactionInPool(tx.Hash()) {
			continue
		}
		mp.removeTransactionCollect(tx, true, &evicted)
	}
	for _, tx := range evicted {
		if mp.cfg.OnEvict != nil {
			mp.cfg.OnEvict(tx)
		}
	}

	if len(evicted) > 0 {
		log.MpolLog.Debugf("expired %d transaction(s) older than %s from the mempool",
			len(evicted), expiry)
	}
}

// maybeAcceptTransaction is the internal function which implements the
// public ProcessTransaction's admission logic.  It runs the eleven-stage
// pipeline of spec.md §4.E in order, returning the ids of any missing
// parents distinctly from a hard rejection (stage 6), or the new TxDesc on
// success.  This function must be called with the mempool lock held (for
// writes).
func (mp *TxPool) maybeAcceptTransaction(tx *acbcutil.Tx, rateLimit bool) ([]*chainhash.Hash, *TxDesc, error) {
	txHash := tx.Hash()

	// Stage 1: context-free checks.
	msgTx := tx.MsgTx()
	if err := blockchain.CheckTransactionSanity(tx); err != nil {
		return nil, nil, err
	}
	if blockchain.IsCoinBaseTx(msgTx) {
		str := fmt.Sprintf("transaction %v is an individual coinbase", txHash)
		return nil, nil, txRuleError(ErrInvalid, str)
	}
	serializedSize := msgTx.SerializeSize()
	if serializedSize > blockchain.MaxTxSize {
		str := fmt.Sprintf("transaction %v is too large: %d > %d",
			txHash, serializedSize, blockchain.MaxTxSize)
		return nil, nil, txRuleError(ErrInvalid, str)
	}
	sigOps := 0
	for _, txOut := range msgTx.TxOut {
		sigOps += blockchain.CountSigOps(txOut.PkScript, false)
	}
	if sigOps > blockchain.MaxTxSigOps {
		str := fmt.Sprintf("transaction %v has too many sigops: %d > %d",
			txHash, sigOps, blockchain.MaxTxSigOps)
		return nil, nil, txRuleError(ErrInvalid, str)
	}

	// Stage 2: standardness.
	if err := checkTransactionStandard(tx, mp.cfg.Policy.MinRelayTxFee); err != nil {
		return nil, nil, err
	}

	// Stage 3: contextual final-tx check against the next block.
	nextBlockHeight := mp.cfg.BestHeight() + 1
	medianTimePast := mp.cfg.MedianTimePast()
	if !isFinalizedTransaction(tx, nextBlockHeight, medianTimePast) {
		str := fmt.Sprintf("transaction %v is not finalized", txHash)
		return nil, nil, txRuleError(ErrInvalid, str)
	}

	// Stage 4: already-known.
	if mp.haveTransaction(txHash) {
		str := fmt.Sprintf("already have transaction %v", txHash)
		return nil, nil, txRuleError(ErrAlreadyKnown, str)
	}

	// Stage 5: conflict.
	if err := mp.checkPoolDoubleSpend(tx); err != nil {
		return nil, nil, err
	}

	// Stage 6: inputs available.
	utxoView, err := mp.fetchInputUtxos(tx)
	if err != nil {
		return nil, nil, err
	}
	var missingParents []*chainhash.Hash
	for _, txIn := range msgTx.TxIn {
		if utxoView.LookupEntry(txIn.PreviousOutPoint) == nil {
			hash := txIn.PreviousOutPoint.Hash
			missingParents = append(missingParents, &hash)
		}
	}
	if len(missingParents) > 0 {
		return missingParents, nil, nil
	}

	// Stage 7: sequence locks (BIP68).
	seqLock, err := mp.cfg.CalcSequenceLock(tx, utxoView)
	if err != nil {
		return nil, nil, err
	}
	if !blockchain.SequenceLockActive(seqLock, nextBlockHeight, medianTimePast.Unix()) {
		str := fmt.Sprintf("transaction %v's sequence locks on inputs are not met", txHash)
		return nil, nil, txRuleError(ErrInvalid, str)
	}

	// Stage 8: fees and priority.
	var totalIn int64
	for _, txIn := range msgTx.TxIn {
		totalIn += utxoView.LookupEntry(txIn.PreviousOutPoint).Amount()
	}
	var totalOut int64
	for _, txOut := range msgTx.TxOut {
		totalOut += txOut.Value
	}
	txFee := totalIn - totalOut
	if txFee < 0 {
		str := fmt.Sprintf("transaction %v spends more than its inputs provide", txHash)
		return nil, nil, txRuleError(ErrInvalid, str)
	}

	minFee := mp.currentMinRequiredTxRelayFee(int64(serializedSize))
	if txFee < minFee {
		priority := calcPriority(tx, utxoView, nextBlockHeight)
		if mp.cfg.Policy.DisableRelayPriority || priority <= mining.MinHighPriority {
			str := fmt.Sprintf("transaction %v has insufficient fee: %d < %d",
				txHash, txFee, minFee)
			return nil, nil, txRuleError(ErrInsufficientFee, str)
		}
		if rateLimit {
			if err := mp.limitFreeTx(tx); err != nil {
				return nil, nil, err
			}
		}
	}

	// Stage 9: ancestor limits.
	if err := mp.checkAncestorLimits(tx); err != nil {
		return nil, nil, err
	}

	// Stage 10: script checks, a single pass through the injected
	// CheckTransactionScripts.  It takes no flag set, so there is no
	// separate policy-flag and consensus-flag pass.
	if err := mp.cfg.CheckTransactionScripts(tx, utxoView); err != nil {
		return nil, nil, err
	}

	// Stage 11: insert, then trim.
	txDesc := mp.addTransaction(utxoView, tx, mp.cfg.BestHeight(), txFee)

	mp.expireOldTransactions()
	mp.trimToSize()

	if !mp.isTransactionInPool(txHash) {
		str := fmt.Sprintf("transaction %v was evicted by the mempool's own "+
			"trim-to-size policy immediately after admission", txHash)
		return nil, nil, txRuleError(ErrInsufficientFee, str)
	}

	log.MpolLog.Debugf("accepted transaction %v (pool size: %d)", txHash,
		len(mp.pool))

	return nil, txDesc, nil
}

// checkAncestorLimits enforces spec.md §4.E item 9's ancestor/descendant
// package limits: a transaction may not pull in an in-pool ancestor package
// whose combined (count, size) already exceeds the default limits, nor
// leave any pre-existing ancestor with more than (25, 101 kB) descendants
// once the new transaction is counted among them.
func (mp *TxPool) checkAncestorLimits(tx *acbcutil.Tx) error {
	const maxAncestorCount = 25
	const maxAncestorSize = 101 * 1000
	const maxDescendantCount = 25
	const maxDescendantSize = 101 * 1000

	newTxSize := tx.MsgTx().SerializeSize()

	seen := make(map[chainhash.Hash]struct{})
	var totalSize int
	var walk func(h chainhash.Hash) error
	walk = func(h chainhash.Hash) error {
		if _, ok := seen[h]; ok {
			return nil
		}
		txDesc, exists := mp.pool[h]
		if !exists {
			return nil
		}
		seen[h] = struct{}{}
		totalSize += txDesc.Tx.MsgTx().SerializeSize()
		if len(seen) > maxAncestorCount || totalSize > maxAncestorSize {
			return txRuleError(ErrTooManyAncestors, fmt.Sprintf(
				"transaction %v would exceed the ancestor package limits", tx.Hash()))
		}

		descCount, descSize := mp.descendantStats(h)
		if descCount+1 > maxDescendantCount || descSize+newTxSize > maxDescendantSize {
			return txRuleError(ErrTooManyDescendants, fmt.Sprintf(
				"transaction %v would push ancestor %v over the descendant package limits",
				tx.Hash(), h))
		}

		for _, txIn := range txDesc.Tx.MsgTx().TxIn {
			if err := walk(txIn.PreviousOutPoint.Hash); err != nil {
				return err
			}
		}
		return nil
	}

	for _, txIn := range tx.MsgTx().TxIn {
		if err := walk(txIn.PreviousOutPoint.Hash); err != nil {
			return err
		}
	}
	return nil
}

// calcMinRequiredTxRelayFee returns the minimum transaction fee required
// for a transaction with the passed serialized size to be accepted, scaled
// linearly from minRelayTxFee per 1000 bytes.
func calcMinRequiredTxRelayFee(serializedSize int64, minRelayTxFee acbcutil.Amount) int64 {
	fee := int64(minRelayTxFee) * serializedSize / 1000
	if fee == 0 && minRelayTxFee > 0 {
		fee = int64(minRelayTxFee)
	}
	if fee < 0 || fee > acbcutil.MaxSatoshi {
		fee = acbcutil.MaxSatoshi
	}
	return fee
}

// isFinalizedTransaction determines whether a transaction is finalized as
// of blockHeight/blockTime, the same nLockTime scope blockchain's own
// (unexported) copy of this check enforces at block-connect time.
func isFinalizedTransaction(tx *acbcutil.Tx, blockHeight int32, blockTime time.Time) bool {
	msgTx := tx.MsgTx()
	if msgTx.LockTime == 0 {
		return true
	}

	const lockTimeThreshold = 500000000
	blockTimeOrHeight := int64(blockHeight)
	if msgTx.LockTime >= lockTimeThreshold {
		blockTimeOrHeight = blockTime.Unix()
	}
	if int64(msgTx.LockTime) < blockTimeOrHeight {
		return true
	}

	for _, txIn := range msgTx.TxIn {
		if txIn.Sequence != wire.MaxTxInSequenceNum {
			return false
		}
	}
	return true
}

// ProcessTransaction is the main workhorse for handling insertion of new
// free-standing transactions into the memory pool.  It includes
// functionality such as rejecting duplicate transactions, ensuring
// transactions follow all rules, orphan transaction handling, and insertion
// into the memory pool.
//
// It returns a slice of transactions added to the mempool.  When allowOrphan
// is true and the transaction's inputs aren't all available yet, it is
// queued in the orphan pool and a nil slice is returned with a nil error.
func (mp *TxPool) ProcessTransaction(tx *acbcutil.Tx, allowOrphan, rateLimit bool) ([]*TxDesc, error) {
	mp.mtx.Lock()
	defer mp.mtx.Unlock()

	missingParents, txDesc, err := mp.maybeAcceptTransaction(tx, rateLimit)
	if err != nil {
		return nil, err
	}

	if len(missingParents) == 0 {
		accepted := []*TxDesc{txDesc}
		accepted = append(accepted, mp.processOrphans(tx)...)
		return accepted, nil
	}

	if allowOrphan {
		mp.limitNumOrphans()
		mp.addOrphan(tx)
		return nil, nil
	}

	str := fmt.Sprintf("transaction %v references outputs of unknown or "+
		"fully-spent transaction %v", tx.Hash(), missingParents[0])
	return nil, txRuleError(ErrMissingInputs, str)
}

// processOrphans determines if there are any orphans which depend on the
// passed transaction hash (it is possible that they are no longer orphans)
// and potentially accepts them into the memory pool.  It repeats the
// process for the newly accepted transactions to detect further
// descendants until there are no more.  This function must be called with
// the mempool lock held (for writes).
func (mp *TxPool) processOrphans(acceptedTx *acbcutil.Tx) []*TxDesc {
	var acceptedTxns []*TxDesc

	processList := []*acbcutil.Tx{acceptedTx}
	for len(processList) > 0 {
		firstTx := processList[0]
		processList = processList[1:]

		prevOut := wire.OutPoint{Hash: *firstTx.Hash()}
		for txOutIdx := range firstTx.MsgTx().TxOut {
			prevOut.Index = uint32(txOutIdx)
			orphans, exists := mp.orphansByPrev[prevOut]
			if !exists {
				continue
			}

			for _, tx := range orphans {
				// Hide tx's own orphan entry while it is re-checked, so the
				// already-known stage does not reject it as a duplicate.
				orphanHash := *tx.Hash()
				otx := mp.orphans[orphanHash]
				delete(mp.orphans, orphanHash)
				missing, txDesc, err := mp.maybeAcceptTransaction(tx, true)
				mp.orphans[orphanHash] = otx
				if err != nil {
					mp.removeOrphan(tx)
					break
				}
				if len(missing) > 0 {
					continue
				}

				acceptedTxns = append(acceptedTxns, txDesc)
				mp.removeOrphan(tx)
				processList = append(processList, tx)
				break
			}
		}
	}

	return acceptedTxns
}

// Count returns the number of transactions in the main pool.
func (mp *TxPool) Count() int {
	mp.mtx.RLock()
	defer mp.mtx.RUnlock()
	return len(mp.pool)
}

// TxHashes returns a slice of hashes for all of the transactions in the
// memory pool.
func (mp *TxPool) TxHashes() []*chainhash.Hash {
	mp.mtx.RLock()
	defer mp.mtx.RUnlock()

	hashes := make([]*chainhash.Hash, 0, len(mp.pool))
	for hash := range mp.pool {
		hashCopy := hash
		hashes = append(hashes, &hashCopy)
	}
	return hashes
}

// LastUpdated returns the last time a transaction was added to or removed
// from the main pool.
func (mp *TxPool) LastUpdated() time.Time {
	return time.Unix(atomic.LoadInt64(&mp.lastUpdated), 0)
}
