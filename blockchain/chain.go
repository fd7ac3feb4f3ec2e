package blockchain

import (
	"fmt"
	"sync"

	"github.com/acbcd/acbcd/acbcutil"
	"github.com/acbcd/acbcd/chaincfg"
	"github.com/acbcd/acbcd/chaincfg/chainhash"
	"github.com/acbcd/acbcd/database/ffldb"
	"github.com/acbcd/acbcd/log"
	"github.com/acbcd/acbcd/wire"
)

// Config houses the runtime-configurable parameters a BlockChain instance is
// created with, populated by the caller from the keys spec.md §6 enumerates
// (the P2P/RPC layer that parses them is out of this module's scope).
type Config struct {
	// DBCache is the dbcache config key (spec.md §6). New does not read
	// it: connectBlock flushes the coin view on every block, so no cache
	// budget applies.
	DBCache uint64

	// Par is the par config key. New does not read it: the script-check
	// pool always starts runtime.NumCPU() workers, capped at the number of
	// inputs being checked.
	Par int

	// Prune is the prune config key: target flat-file retention in MiB, 0
	// to disable pruning.
	Prune uint64

	// AssumeValid, when non-zero, names a block hash below which script
	// checks are skipped for any ancestor block once its header chain
	// validates (spec.md §4.F.2).
	AssumeValid chainhash.Hash

	// Checkpoints, when non-nil, overrides ChainParams.Checkpoints.
	Checkpoints []chaincfg.Checkpoint
}

// BestState houses information about the current best block and other info
// related to the state of the main chain as it exists from the point of view
// of the current best block (spec.md §3's "Chain" plus the rolled-up
// aggregate fields a caller typically wants in one read).
type BestState struct {
	Hash        chainhash.Hash
	PrevHash    chainhash.Hash
	Height      int32
	Bits        uint32
	BlockSize   uint64
	NumTxns     uint64
	TotalTxns   uint64
	MedianTime  int64
}

func newBestState(node *blockNode, blockSize uint64, numTxns, totalTxns uint64) *BestState {
	return &BestState{
		Hash:       node.hash,
		PrevHash:   node.Header().PrevBlock,
		Height:     node.height,
		Bits:       node.bits,
		BlockSize:  blockSize,
		NumTxns:    numTxns,
		TotalTxns:  totalTxns,
		MedianTime: node.CalcPastMedianTime().Unix(),
	}
}

// BlockChain provides functions for working with the bitcoin-style block
// chain.  It includes functionality such as rejecting duplicate blocks,
// ensuring blocks follow all rules, candidate-tip handling, and best chain
// selection with reorganization (spec.md §2's components C, F, G, H, I, J).
type BlockChain struct {
	// The following fields are set when the instance is created and
	// can't be changed afterwards, so there is no need to protect them
	// with a separate mutex.
	checkpoints         []chaincfg.Checkpoint
	checkpointsByHeight map[int32]*chaincfg.Checkpoint
	store               *ffldb.Store
	coinView            *CoinView
	chainParams         *chaincfg.Params
	timeSource          MedianTimeSource
	sigCache            *SigCache
	sigChecker          SigChecker

	// chainLock protects concurrent access to the vast majority of the
	// fields in this struct below this point (spec.md §5: the "logical
	// validation thread" is whichever goroutine holds this for writing).
	chainLock sync.RWMutex

	// index houses the entire block index in memory (spec.md §3's
	// arena), and bestChain is an efficient view into it for the active
	// chain.
	index     *blockIndex
	bestChain *chainView

	// nextCheckpoint/checkpointNode are not read or written by any code
	// path; findPreviousCheckpoint walks the checkpoint list on every call.
	nextCheckpoint *chaincfg.Checkpoint
	checkpointNode *blockNode

	// stateLock protects stateSnapshot using a copy-on-write scheme: any
	// time a new block becomes the best block, the pointer is swapped for
	// a new struct so readers never observe a partially-updated value.
	stateLock     sync.RWMutex
	stateSnapshot *BestState

	// warningCaches/deploymentCaches cache the per-window threshold state
	// computed by versionbits.go for every possible, respectively every
	// actually defined, deployment.
	warningCaches      []thresholdStateCache
	deploymentCaches   []thresholdStateCache
	unknownRulesWarned bool

	notificationsLock sync.RWMutex
	notifications     []NotificationCallback

	// prune is the target flat-file retention in MiB from Config.Prune, 0
	// to disable automatic pruning (spec.md §4.D).
	prune uint64

	// assumeValid is the Config.AssumeValid block hash below which
	// checkConnectBlock skips script verification for ancestors whose
	// header chain already validates (spec.md §4.F.2).  The zero hash
	// disables the optimization.
	assumeValid chainhash.Hash
}

// New returns a BlockChain instance using the provided configuration
// details, opened against db/store for persistent state.
func New(cfg *Config, store *ffldb.Store, params *chaincfg.Params, sigChecker SigChecker) (*BlockChain, error) {
	checkpoints := cfg.Checkpoints
	if checkpoints == nil {
		checkpoints = params.Checkpoints
	}

	checkpointsByHeight := make(map[int32]*chaincfg.Checkpoint)
	for i := range checkpoints {
		checkpointsByHeight[checkpoints[i].Height] = &checkpoints[i]
	}

	b := &BlockChain{
		checkpoints:         checkpoints,
		checkpointsByHeight: checkpointsByHeight,
		store:               store,
		coinView:            NewCoinView(store.MetadataDB(), params),
		chainParams:         params,
		timeSource:          NewMedianTime(),
		sigCache:            NewSigCache(100000),
		sigChecker:          sigChecker,
		index:               newBlockIndex(),
		warningCaches:       newThresholdCaches(32),
		deploymentCaches:    newThresholdCaches(chaincfg.DefinedDeployments),
		prune:               cfg.Prune,
		assumeValid:         cfg.AssumeValid,
	}

	if err := b.initChainState(); err != nil {
		return nil, err
	}

	return b, nil
}

// BestSnapshot returns information about the current best chain block and
// related state as of the time the call was made (spec.md §3's read-only
// Chain view, the MVCC-style accessor from the teacher's commented notes).
func (b *BlockChain) BestSnapshot() *BestState {
	b.stateLock.RLock()
	snapshot := b.stateSnapshot
	b.stateLock.RUnlock()
	return snapshot
}

// setStateSnapshot atomically replaces the best-state snapshot, observed by
// concurrent readers of BestSnapshot without any lock contention against the
// validation thread's chainLock.
func (b *BlockChain) setStateSnapshot(snapshot *BestState) {
	b.stateLock.Lock()
	b.stateSnapshot = snapshot
	b.stateLock.Unlock()
}

// BlockHashByHeight returns the hash of the block at the given height in the
// main chain.
//
// This function is safe for concurrent access.
func (b *BlockChain) BlockHashByHeight(blockHeight int32) (*chainhash.Hash, error) {
	node := b.bestChain.NodeByHeight(blockHeight)
	if node == nil {
		str := fmt.Sprintf("no block at height %d exists", blockHeight)
		return nil, errNotInMainChain(str)
	}

	return &node.hash, nil
}

// HaveBlock returns whether the chain instance has the block represented by
// the passed hash, either in the main chain or any side chain.
func (b *BlockChain) HaveBlock(hash *chainhash.Hash) bool {
	return b.index.HaveBlock(hash)
}

// ChainParams returns the network parameters the chain was created with,
// consulted by mempool admission for subsidy/coinbase-maturity/BIP0034
// lookups (spec.md §4.E item 1).
func (b *BlockChain) ChainParams() *chaincfg.Params {
	return b.chainParams
}

// TimeSource returns the chain's adjusted-time source, the same clock
// accept_header uses, for mempool's own timestamp-adjacent policy checks.
func (b *BlockChain) TimeSource() MedianTimeSource {
	return b.timeSource
}

// SigChecker returns the script-check primitive the chain was created with,
// so mempool admission's script-check stage (spec.md §4.E item 10) can run
// the identical verification connectBlock uses.
func (b *BlockChain) SigChecker() SigChecker {
	return b.sigChecker
}

// SigCache returns the chain's signature-verification cache, for a SigChecker
// implementation to consult before doing its own elliptic-curve verification
// and to populate after a successful one (spec.md §7's supplemented
// signature cache, shared across the mempool-then-block validation of the
// same transaction rather than kept per-call).
func (b *BlockChain) SigCache() *SigCache {
	return b.sigCache
}

// FetchUtxoView loads a UtxoViewpoint populated with every output tx's
// inputs reference that currently exists in the confirmed UTXO set (spec.md
// §4.E item 6's "combined (UTXO ∪ mempool) view" — the UTXO half; the caller
// layers mempool outputs in on top).
func (b *BlockChain) FetchUtxoView(tx *acbcutil.Tx) (*UtxoViewpoint, error) {
	view := NewUtxoViewpoint()
	if tip := b.bestChain.Tip(); tip != nil {
		view.SetBestHash(&tip.hash)
	}

	block := acbcutil.NewBlock(wireBlockFromTx(tx))
	if tip := b.bestChain.Tip(); tip != nil {
		block.SetHeight(tip.height + 1)
	}
	if err := view.FetchInputUtxos(b.coinView, block); err != nil {
		return nil, err
	}

	prevOut := wire.OutPoint{Hash: *tx.Hash()}
	for txOutIdx := range tx.MsgTx().TxOut {
		prevOut.Index = uint32(txOutIdx)
		entry, err := view.FetchUtxoEntry(b.coinView, prevOut)
		if err != nil {
			return nil, err
		}
		if entry != nil {
			view.Entries()[prevOut] = entry
		}
	}

	return view, nil
}

// CalcSequenceLock computes tx's BIP68 sequence lock relative to the
// current best chain tip (spec.md §4.E item 7), delegating to the same
// calculation the block-connect path would use against a candidate block
// extending the tip. Before the CSV deployment has activated on this chain,
// relative lock-times are not yet consensus rules, so every transaction's
// lock is reported as already satisfied (spec.md §7's versionbits gating).
func (b *BlockChain) CalcSequenceLock(tx *acbcutil.Tx, view *UtxoViewpoint) (*SequenceLock, error) {
	tip := b.bestChain.Tip()

	active, err := b.csvActive(tip)
	if err != nil {
		return nil, err
	}
	if !active {
		return &SequenceLock{Seconds: -1, BlockHeight: -1}, nil
	}

	return CalcSequenceLock(tip, tx, view)
}

// csvActive reports whether the CSV (BIP68/112/113 relative lock-time)
// deployment is ThresholdActive for the block that would extend node.
func (b *BlockChain) csvActive(node *blockNode) (bool, error) {
	deployment := &b.chainParams.Deployments[chaincfg.DeploymentCSV]
	cache := &b.deploymentCaches[chaincfg.DeploymentCSV]

	state, err := thresholdState(node, b.chainParams, deployment, cache)
	if err != nil {
		return false, err
	}
	return state == ThresholdActive, nil
}

// wireBlockFromTx wraps a single transaction in a throwaway MsgBlock so the
// block-oriented FetchInputUtxos helper can be reused for a lone mempool
// candidate. A placeholder occupies index 0 since fetchInputUtxos always
// treats that slot as the coinbase and skips fetching its inputs.
func wireBlockFromTx(tx *acbcutil.Tx) *wire.MsgBlock {
	placeholder := &wire.MsgTx{Version: 1}
	return &wire.MsgBlock{Transactions: []*wire.MsgTx{placeholder, tx.MsgTx()}}
}

// connectBlock handles connecting the passed node/block to the end of the
// main chain, spec.md §4.F's connect operation.  It flushes the block's
// UtxoViewpoint to the UTXO set, writes the resulting undo record, and
// marks the node VALID_SCRIPTS once scripts have been checked by the
// caller.  The BIP30 duplicate-txid check is not done here; the caller's
// checkConnectBlock runs checkBIP30 before this point.
func (b *BlockChain) connectBlock(node *blockNode, block *acbcutil.Block, view *UtxoViewpoint, stxos []SpentTxOut) error {
	if node.parent != nil && !node.parent.hash.IsEqual(&view.bestHash) {
		return AssertError("connectBlock must be called with a view that has " +
			"already been updated for the parent block")
	}

	if !node.hash.IsEqual(block.Hash()) {
		return AssertError("connectBlock's notion of the block being connected " +
			"doesn't match the provided node")
	}

	numTxns := uint64(len(block.MsgBlock().Transactions))
	blockSize := uint64(block.MsgBlock().SerializeSize())

	if err := b.coinView.Flush(view, node.height); err != nil {
		return err
	}

	if len(stxos) > 0 {
		undoBytes := serializeUndoData(stxos)
		loc, err := b.store.WriteUndo(node.parent.hash, undoBytes)
		if err != nil {
			return err
		}
		node.undoFileNum = loc.FileNum
		node.undoOffset = loc.Offset
		node.undoLen = loc.Len
		b.index.SetStatusFlags(node, statusUndoStored)
	}

	node.nTx = uint32(numTxns)
	parentChainTx := uint64(0)
	if node.parent != nil {
		parentChainTx = node.parent.nChainTx
	}
	node.nChainTx = parentChainTx + numTxns
	b.index.SetStatusFlags(node, statusValidChain|statusValidScripts)

	b.bestChain.SetTip(node)
	b.index.pruneWorseCandidates(node)

	if err := b.flushDirtyNodes(); err != nil {
		return err
	}

	totalTxns := b.stateSnapshotSafeTotalTxns() + numTxns
	b.setStateSnapshot(newBestState(node, blockSize, numTxns, totalTxns))

	b.sendNotification(NTBlockConnected, block)
	log.ValdLog.Debugf("connected block %s at height %d", node.hash, node.height)

	b.maybePrune()

	return nil
}

// stateSnapshotSafeTotalTxns returns the running transaction-count total
// from the current snapshot, or zero before the chain has any state yet.
func (b *BlockChain) stateSnapshotSafeTotalTxns() uint64 {
	snap := b.BestSnapshot()
	if snap == nil {
		return 0
	}
	return snap.TotalTxns
}

// disconnectBlock handles disconnecting the passed node/block, the end of
// the main chain, using the provided stxos retrieved from the block's undo
// record (spec.md §4.F's disconnect operation — the exact inverse of
// connectBlock).
func (b *BlockChain) disconnectBlock(node *blockNode, block *acbcutil.Block, view *UtxoViewpoint) error {
	if !node.hash.IsEqual(&view.bestHash) {
		return AssertError("disconnectBlock must be called with the view at " +
			"the block being disconnected")
	}

	var stxos []SpentTxOut
	if node.status.HaveUndo() {
		loc := ffldb.BlockLocation{FileNum: node.undoFileNum, Offset: node.undoOffset, Len: node.undoLen}
		undoBytes, err := b.store.ReadUndo(loc, node.parent.hash)
		if err != nil {
			return err
		}
		stxos, err = deserializeUndoData(undoBytes)
		if err != nil {
			return err
		}
	}

	if err := view.disconnectTransactions(block, stxos); err != nil {
		return err
	}

	if err := b.coinView.Flush(view, node.height-1); err != nil {
		return err
	}

	b.bestChain.SetTip(node.parent)

	totalTxns := b.stateSnapshotSafeTotalTxns() - uint64(len(block.MsgBlock().Transactions))
	prevNode := node.parent
	prevBlock, err := b.loadBlock(prevNode)
	if err != nil {
		return err
	}
	prevBlockSize := uint64(prevBlock.MsgBlock().SerializeSize())
	b.setStateSnapshot(newBestState(prevNode, prevBlockSize, uint64(prevNode.nTx), totalTxns))

	b.sendNotification(NTBlockDisconnected, block)
	log.ValdLog.Debugf("disconnected block %s at height %d", node.hash, node.height)
	return nil
}

// errNotInMainChain signifies that a block hash or height that is not in the
// main chain was requested.
type errNotInMainChain string

// Error implements the error interface.
func (e errNotInMainChain) Error() string {
	return string(e)
}
