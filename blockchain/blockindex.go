package blockchain

import (
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/acbcd/acbcd/chaincfg/chainhash"
	"github.com/acbcd/acbcd/wire"
)

// blockStatus is a bit field representing the validation state of a block,
// spec.md §3's BlockIndex status bits.
type blockStatus byte

const (
	// statusDataStored indicates the block's payload is stored on disk.
	statusDataStored blockStatus = 1 << iota

	// statusUndoStored indicates the block's undo data is stored on disk.
	statusUndoStored

	// statusValidTree indicates the block's header chain up to and
	// including this block has passed context-free checks.
	statusValidTree

	// statusValidTransactions indicates the block's transactions have
	// passed context-free checks (but inputs haven't necessarily been
	// verified).
	statusValidTransactions

	// statusValidChain indicates the full chain up to this block,
	// including input/fee checks, is valid.
	statusValidChain

	// statusValidScripts indicates all scripts for the block (and its
	// ancestors) have been verified.
	statusValidScripts

	// statusFailed indicates the block itself failed validation.
	statusFailed

	// statusFailedChild indicates an ancestor of this block failed
	// validation, so this block can never become valid.
	statusFailedChild
)

// HaveData returns whether the block's full data is stored.
func (s blockStatus) HaveData() bool { return s&statusDataStored != 0 }

// HaveUndo returns whether the block's undo data is stored.
func (s blockStatus) HaveUndo() bool { return s&statusUndoStored != 0 }

// KnownValid returns whether the block is known to be fully valid.
func (s blockStatus) KnownValid() bool { return s&statusValidChain != 0 }

// KnownInvalid returns whether the block, or an ancestor, is known to be
// invalid.
func (s blockStatus) KnownInvalid() bool {
	return s&(statusFailed|statusFailedChild) != 0
}

// blockNode represents a block within the block chain and is primarily used
// to aid in selecting the best chain to be the main chain, spec.md §3's
// BlockIndex.  The chain view (chainview.go) builds the height-indexed
// active-chain vector out of these.
type blockNode struct {
	// parent is the parent block for this node.
	parent *blockNode

	// skip is an ancestor of this node at a logarithmically-chosen
	// height, used by Ancestor to walk the tree in O(log n).
	skip *blockNode

	// hash is the double sha256 of the block this node represents.
	hash chainhash.Hash

	// height is this node's height in the block chain.
	height int32

	// workSum is the total amount of work in the chain up to and
	// including this node.
	workSum *big.Int

	// Fields duplicated from the block header to avoid holding the
	// entire header in memory.
	version    int32
	bits       uint32
	nonce      uint32
	timestamp  int64
	merkleRoot chainhash.Hash

	// status is a bitfield representing the validation state of the
	// block (spec.md §3).
	status blockStatus

	// fileNum/fileOffset locate this block's body, and undoFileNum/
	// undoOffset/undoLen its undo record, on disk once HaveData/HaveUndo
	// are set (spec.md §4.D).
	fileNum     uint32
	fileOffset  uint32
	fileLen     uint32
	undoFileNum uint32
	undoOffset  uint32
	undoLen     uint32

	// nTx is the number of transactions in this block.
	nTx uint32

	// nChainTx is the number of transactions in the chain up to and
	// including this block.  Zero means the parent chain isn't fully
	// known yet (spec.md §3).
	nChainTx uint64

	// sequence is the order in which full block data first arrived,
	// used as the tie-break in the candidate-tip ordering (spec.md §3)
	// and mutated (to a decreasing counter) by "precious block"
	// (spec.md §4.G).
	sequence int32
}

// newBlockNode returns a new block node for the given header and parent,
// with the header-derived fields already populated.  The caller fills in
// status/height bookkeeping that depends on the parent.
func newBlockNode(header *wire.BlockHeader, parent *blockNode) *blockNode {
	node := &blockNode{
		hash:       header.BlockHash(),
		workSum:    calcWork(header.Bits),
		version:    header.Version,
		bits:       header.Bits,
		nonce:      header.Nonce,
		timestamp:  header.Timestamp.Unix(),
		merkleRoot: header.MerkleRoot,
		parent:     parent,
	}
	if parent != nil {
		node.height = parent.height + 1
		node.workSum = node.workSum.Add(parent.workSum, node.workSum)
	}
	return node
}

// Header reconstructs the wire.BlockHeader for this node from its cached
// fields.
func (node *blockNode) Header() wire.BlockHeader {
	var prevHash chainhash.Hash
	if node.parent != nil {
		prevHash = node.parent.hash
	}
	return wire.BlockHeader{
		Version:    node.version,
		PrevBlock:  prevHash,
		MerkleRoot: node.merkleRoot,
		Timestamp:  time.Unix(node.timestamp, 0),
		Bits:       node.bits,
		Nonce:      node.nonce,
	}
}

// Ancestor returns the ancestor block node at the provided height by
// walking the skip-list, an O(log n) operation (spec.md §4.C).
func (node *blockNode) Ancestor(height int32) *blockNode {
	if height < 0 || height > node.height {
		return nil
	}

	n := node
	for n.height > height {
		skipHeight := n.skip.height
		if skipHeight == height || (skipHeight > height &&
			!(skipHeight < n.height-1 && n.skip.skip.height >= height)) {
			// Walk via skip since it doesn't overshoot.
			n = n.skip
			continue
		}
		n = n.parent
	}
	return n
}

// RelativeAncestor is a convenience wrapper around Ancestor that returns the
// ancestor distance blocks before this node.
func (node *blockNode) RelativeAncestor(distance int32) *blockNode {
	return node.Ancestor(node.height - distance)
}

// buildSkip computes and sets node's skip pointer following the logarithmic
// height selection rule from the original Bitcoin Core skiplist design so
// Ancestor is O(log n).
func buildSkip(node *blockNode) {
	if node.parent == nil {
		return
	}
	node.skip = node.parent.Ancestor(calcSkipHeight(node.height))
}

// calcSkipHeight computes the skip height for a given height using the
// standard CSkipList algorithm: strip the lowest set bit(s) so the skip
// distance roughly doubles as height grows, giving O(log n) ancestor walks
// while keeping the common case (recent blocks) cheap.
func calcSkipHeight(height int32) int32 {
	if height < 2 {
		return 0
	}
	// Determine which height to jump back to: if the height is even,
	// keep the bit pattern; if odd, invert the low bits, following the
	// reference implementation's bit trick for choosing a pseudorandom
	// but deterministic and well-distributed skip target.
	if height&1 != 0 {
		return invertLowestOne(invertLowestOne(height-1)) + 1
	}
	return invertLowestOne(height)
}

func invertLowestOne(n int32) int32 {
	return n & (n - 1)
}

// calcWork returns a work value (chain work) for the given proof of work
// bits: roughly 2^256 / (target+1), the metric spec.md's GLOSSARY defines
// chain work as.
func calcWork(bits uint32) *big.Int {
	target := compactToBig(bits)
	if target.Sign() <= 0 {
		return big.NewInt(0)
	}
	// (2^256 / (target+1)).
	denominator := new(big.Int).Add(target, bigOne)
	return new(big.Int).Div(oneLsh256, denominator)
}

var (
	bigOne    = big.NewInt(1)
	oneLsh256 = new(big.Int).Lsh(bigOne, 256)
)

// compactToBig converts a compact-form target (nBits) to a big.Int,
// following the standard mantissa*256^(exponent-3) encoding.
func compactToBig(compact uint32) *big.Int {
	mantissa := compact & 0x007fffff
	exponent := compact >> 24

	var bn *big.Int
	if exponent <= 3 {
		mantissa >>= 8 * (3 - exponent)
		bn = big.NewInt(int64(mantissa))
	} else {
		bn = big.NewInt(int64(mantissa))
		bn.Lsh(bn, uint(8*(exponent-3)))
	}

	if compact&0x00800000 != 0 {
		bn = bn.Neg(bn)
	}
	return bn
}

// medianTimePastWindow is the number of preceding blocks (inclusive of this
// one) whose timestamps are medianed to compute median-time-past (spec.md
// §8.5's GLOSSARY entry).
const medianTimePastWindow = 11

// CalcPastMedianTime calculates the median time of the previous
// medianTimePastWindow blocks ending at (and including) node.
func (node *blockNode) CalcPastMedianTime() time.Time {
	timestamps := make([]int64, 0, medianTimePastWindow)
	n := node
	for i := 0; i < medianTimePastWindow && n != nil; i++ {
		timestamps = append(timestamps, n.timestamp)
		n = n.parent
	}

	sort.Slice(timestamps, func(i, j int) bool { return timestamps[i] < timestamps[j] })
	return time.Unix(timestamps[len(timestamps)/2], 0)
}

// blockIndex provides facilities for keeping track of an in-memory indexed
// view of the block chain, spec.md §3's "never destroyed until process
// exit" arena, plus the candidate-tip set and unlinked map of §3/§4.J.
type blockIndex struct {
	sync.RWMutex

	index map[chainhash.Hash]*blockNode

	// candidates holds every node with VALID_TRANSACTIONS, nChainTx != 0,
	// and chain work >= the active tip's (spec.md §3's CandidateTipSet,
	// §4.J's insertion rule).
	candidates map[*blockNode]struct{}

	// unlinked maps a parent hash to the children whose body we have but
	// whose parent chain isn't fully connected yet (spec.md §3's
	// UnlinkedMap).
	unlinked map[chainhash.Hash][]*blockNode

	// nextSequence and nextPreciousSequence back the sequence-id /
	// tie-break counters of spec.md §3, §4.G ("Precious block").
	nextSequence         int32
	nextPreciousSequence int32

	dirty map[*blockNode]struct{}

	// fileMaxHeight/nodesByFile track, per flat-file number, the highest
	// block height stored there and the nodes whose body/undo data live in
	// it, so pruning (spec.md §4.D) can find whole files safely below its
	// horizon without scanning the entire index.
	fileMaxHeight map[uint32]int32
	nodesByFile   map[uint32][]*blockNode
}

func newBlockIndex() *blockIndex {
	return &blockIndex{
		index:         make(map[chainhash.Hash]*blockNode),
		candidates:    make(map[*blockNode]struct{}),
		unlinked:      make(map[chainhash.Hash][]*blockNode),
		dirty:         make(map[*blockNode]struct{}),
		fileMaxHeight: make(map[uint32]int32),
		nodesByFile:   make(map[uint32][]*blockNode),
	}
}

// HaveBlock returns whether a node for the given hash exists in the index.
func (bi *blockIndex) HaveBlock(hash *chainhash.Hash) bool {
	bi.RLock()
	_, ok := bi.index[*hash]
	bi.RUnlock()
	return ok
}

// LookupNode returns the block node identified by hash, or nil.
func (bi *blockIndex) LookupNode(hash *chainhash.Hash) *blockNode {
	bi.RLock()
	node := bi.index[*hash]
	bi.RUnlock()
	return node
}

// AddNode registers node in the index and marks it dirty for the next index
// flush.  The node's sequence id is left unchanged.
func (bi *blockIndex) AddNode(node *blockNode) {
	bi.Lock()
	bi.addNodeLocked(node)
	bi.Unlock()
}

func (bi *blockIndex) addNodeLocked(node *blockNode) {
	bi.index[node.hash] = node
	bi.dirty[node] = struct{}{}
}

// SetStatusFlags ORs the given flags into node's status and marks it dirty
// for the next index flush.
func (bi *blockIndex) SetStatusFlags(node *blockNode, flags blockStatus) {
	bi.Lock()
	node.status |= flags
	bi.dirty[node] = struct{}{}
	bi.Unlock()
}

// UnsetStatusFlags clears the given flags from node's status.
func (bi *blockIndex) UnsetStatusFlags(node *blockNode, flags blockStatus) {
	bi.Lock()
	node.status &^= flags
	bi.dirty[node] = struct{}{}
	bi.Unlock()
}

// nextNodeSequence returns the next full-block-arrival sequence id.
func (bi *blockIndex) nextNodeSequence() int32 {
	bi.nextSequence++
	return bi.nextSequence
}

// nextPrecious returns the next (decreasing) precious-block sequence id,
// spec.md §4.G's tie-break override.
func (bi *blockIndex) nextPrecious() int32 {
	bi.nextPreciousSequence--
	return bi.nextPreciousSequence
}

// candidateLess implements the CandidateTipSet order of spec.md §3:
// (chain_work desc, sequence_id asc, then block hash asc in place of
// pointer identity) — the earliest observed block wins a tie, which deters
// header-withholding races.
func candidateLess(a, b *blockNode) bool {
	cmp := a.workSum.Cmp(b.workSum)
	if cmp != 0 {
		return cmp > 0
	}
	if a.sequence != b.sequence {
		return a.sequence < b.sequence
	}
	return a.hash.Less(&b.hash)
}

// maybeAddCandidate inserts node into the candidate set if it qualifies
// (spec.md §4.J): VALID_TRANSACTIONS, nChainTx != 0, chain work >= tipWork.
func (bi *blockIndex) maybeAddCandidate(node *blockNode, tipWork *big.Int) bool {
	if node.status&statusValidTransactions == 0 || node.nChainTx == 0 {
		return false
	}
	if tipWork != nil && node.workSum.Cmp(tipWork) < 0 {
		return false
	}
	bi.Lock()
	bi.candidates[node] = struct{}{}
	bi.Unlock()
	return true
}

// removeCandidate drops node (and, via the caller's walk, its descendants)
// from the candidate set.
func (bi *blockIndex) removeCandidate(node *blockNode) {
	bi.Lock()
	delete(bi.candidates, node)
	bi.Unlock()
}

// bestCandidate returns the maximum of the candidate set under
// candidateLess, or nil if the set is empty (spec.md §4.G step 1).
func (bi *blockIndex) bestCandidate() *blockNode {
	bi.RLock()
	defer bi.RUnlock()
	var best *blockNode
	for n := range bi.candidates {
		if best == nil || candidateLess(n, best) {
			best = n
		}
	}
	return best
}

// candidateNodes returns a snapshot slice of the current candidate set, for
// callers that need to iterate without holding the lock across mutation.
func (bi *blockIndex) candidateNodes() []*blockNode {
	bi.RLock()
	defer bi.RUnlock()
	out := make([]*blockNode, 0, len(bi.candidates))
	for n := range bi.candidates {
		out = append(out, n)
	}
	return out
}

// pruneWorseCandidates removes every candidate whose work is strictly less
// than tip's, except tip itself (spec.md §4.G step 3: "prune the candidate
// set of entries strictly worse than the new tip, never remove the tip
// itself").
func (bi *blockIndex) pruneWorseCandidates(tip *blockNode) {
	bi.Lock()
	defer bi.Unlock()
	for n := range bi.candidates {
		if n != tip && n.workSum.Cmp(tip.workSum) < 0 {
			delete(bi.candidates, n)
		}
	}
}

// addUnlinked registers node as a not-yet-connectable child of its parent
// hash (spec.md §3's UnlinkedMap).
func (bi *blockIndex) addUnlinked(node *blockNode) {
	bi.Lock()
	parentHash := node.parent.hash
	bi.unlinked[parentHash] = append(bi.unlinked[parentHash], node)
	bi.Unlock()
}

// takeUnlinkedChildren removes and returns the children waiting on
// parentHash, used when that parent's body arrives or its validity changes
// (spec.md §4.J's propagation walk).
func (bi *blockIndex) takeUnlinkedChildren(parentHash chainhash.Hash) []*blockNode {
	bi.Lock()
	defer bi.Unlock()
	children := bi.unlinked[parentHash]
	delete(bi.unlinked, parentHash)
	return children
}

// markFailed marks node FAILED_VALID (or, for a descendant, FAILED_CHILD)
// and recursively propagates FAILED_CHILD to every descendant reachable
// through the unlinked map and the index itself, removing all of them from
// the candidate set (spec.md §4.G: "any ancestor marked FAILED_* removes the
// entire subtree from the candidate set").
func (bi *blockIndex) markFailed(node *blockNode, isRoot bool) {
	bi.Lock()
	if isRoot {
		node.status |= statusFailed
	} else {
		node.status |= statusFailedChild
	}
	delete(bi.candidates, node)
	bi.dirty[node] = struct{}{}
	children := bi.unlinked[node.hash]
	bi.Unlock()

	for _, child := range children {
		bi.markFailed(child, false)
	}
	for _, n := range bi.allNodesSnapshot() {
		if n.parent == node {
			bi.markFailed(n, false)
		}
	}
}

// allNodesSnapshot returns every node currently tracked, used by the
// (infrequent) failure-propagation walk above.
func (bi *blockIndex) allNodesSnapshot() []*blockNode {
	bi.RLock()
	defer bi.RUnlock()
	out := make([]*blockNode, 0, len(bi.index))
	for _, n := range bi.index {
		out = append(out, n)
	}
	return out
}

// clearFailed clears FAILED_VALID/FAILED_CHILD from node and every
// descendant, re-admitting qualifying members to the candidate set (spec.md
// §4.G's "Reconsider").
func (bi *blockIndex) clearFailed(node *blockNode, tipWork *big.Int) {
	bi.Lock()
	node.status &^= statusFailed | statusFailedChild
	bi.dirty[node] = struct{}{}
	bi.Unlock()

	bi.maybeAddCandidate(node, tipWork)

	for _, n := range bi.allNodesSnapshot() {
		if n.parent == node {
			bi.clearFailed(n, tipWork)
		}
	}
}

// dirtyNodes returns and clears the set of nodes mutated since the last
// flush, for chainio.go's persistence batch writer.
func (bi *blockIndex) dirtyNodes() []*blockNode {
	bi.Lock()
	defer bi.Unlock()
	out := make([]*blockNode, 0, len(bi.dirty))
	for n := range bi.dirty {
		out = append(out, n)
	}
	bi.dirty = make(map[*blockNode]struct{})
	return out
}

// recordFileHeight registers that node's body (and, once written, its undo
// record) live in node.fileNum, keeping the per-file high-water mark used by
// prunableFiles.  Called once, right after a block's location fields are
// first populated.
func (bi *blockIndex) recordFileHeight(node *blockNode) {
	bi.Lock()
	defer bi.Unlock()
	if cur, ok := bi.fileMaxHeight[node.fileNum]; !ok || node.height > cur {
		bi.fileMaxHeight[node.fileNum] = node.height
	}
	bi.nodesByFile[node.fileNum] = append(bi.nodesByFile[node.fileNum], node)
}

// prunableFiles returns, and stops tracking, every flat-file number whose
// highest contained block height is at or below maxHeight, along with the
// nodes whose data lives there (spec.md §4.D: "enumerate files whose highest
// contained block height ≤ H").
func (bi *blockIndex) prunableFiles(maxHeight int32) map[uint32][]*blockNode {
	bi.Lock()
	defer bi.Unlock()
	out := make(map[uint32][]*blockNode)
	for fileNum, height := range bi.fileMaxHeight {
		if height > maxHeight {
			continue
		}
		out[fileNum] = bi.nodesByFile[fileNum]
		delete(bi.fileMaxHeight, fileNum)
		delete(bi.nodesByFile, fileNum)
	}
	return out
}

// clearFileLocation clears node's HAVE_DATA/HAVE_UNDO status bits and zeroes
// its file/pos fields, the per-entry half of spec.md §4.D's pruning
// operation ("rewrite every BlockIndex that points into it to clear
// HAVE_DATA|HAVE_UNDO and zero file/pos fields").
func (bi *blockIndex) clearFileLocation(node *blockNode) {
	bi.Lock()
	defer bi.Unlock()
	node.status &^= statusDataStored | statusUndoStored
	node.fileNum = 0
	node.fileOffset = 0
	node.fileLen = 0
	node.undoFileNum = 0
	node.undoOffset = 0
	node.undoLen = 0
	bi.dirty[node] = struct{}{}
}
