package blockchain

import (
	"bytes"
	"fmt"
	"math/big"
	"time"

	"github.com/acbcd/acbcd/acbcutil"
	"github.com/acbcd/acbcd/log"
	"github.com/acbcd/acbcd/wire"
)

// BehaviorFlags is a bitmask defining tweaks to the normal behavior when
// performing chain processing and consensus rules checks.
type BehaviorFlags uint32

const (
	// BFFastAdd makes maybeAcceptBlock process the block's body regardless
	// of its chain work or height (e.g. blocks loaded from a trusted
	// database dump).  No check is skipped because of it.
	BFFastAdd BehaviorFlags = 1 << iota

	// BFNoPoWCheck skips acceptHeader's header checks: proof of work, the
	// future-timestamp bound, the expected difficulty, the median-time-past
	// rule and the version floor.  Used in tests and regression-network
	// chains.
	BFNoPoWCheck
)

// acceptHeader implements spec.md §4.H's accept_header: reject if known
// failed; verify proof-of-work and the retarget rule; enforce the
// timestamp, version, and checkpoint-fork rules; then register a new
// blockNode in the index on success.
func (b *BlockChain) acceptHeader(header *wire.BlockHeader, diffCalc DifficultyCalculator, flags BehaviorFlags) (*blockNode, error) {
	hash := header.BlockHash()

	if node := b.index.LookupNode(&hash); node != nil {
		if node.status.KnownInvalid() {
			return nil, ruleError(ErrInvalidAncestorBlock, "header previously failed validation")
		}
		return node, nil
	}

	prevNode := b.index.LookupNode(&header.PrevBlock)
	if prevNode == nil {
		str := fmt.Sprintf("previous block %s is not known", header.PrevBlock)
		return nil, ruleError(ErrPreviousBlockUnknown, str)
	}
	if prevNode.status.KnownInvalid() {
		return nil, ruleError(ErrInvalidAncestorBlock, "previous block failed validation")
	}

	if flags&BFNoPoWCheck == 0 {
		if err := checkBlockHeaderSanity(header, b.chainParams.PowLimit, b.timeSource); err != nil {
			return nil, err
		}
		if err := checkBlockHeaderContext(header, prevNode, diffCalc); err != nil {
			return nil, err
		}
	}

	if violates, err := b.forkViolatesCheckpoint(prevNode); err != nil {
		return nil, err
	} else if violates {
		str := "fork point is too far in the past relative to the latest checkpoint"
		return nil, ruleError(ErrForkTooOld, str)
	}
	if !b.verifyCheckpoint(prevNode.height+1, &hash) {
		str := "block does not match checkpoint hash"
		return nil, ruleError(ErrBadCheckpoint, str)
	}

	newNode := newBlockNode(header, prevNode)
	newNode.status |= statusValidTree
	buildSkip(newNode)
	b.index.AddNode(newNode)

	b.warnUnknownVersionBits(newNode)

	return newNode, nil
}

// maybeAcceptBlock implements accept_block's body-processing decision and,
// when the body is processed, the full block-level check (spec.md §4.H):
// mandatory if the caller requested it or the block is new with chain work
// at least the tip's and height within MinBlocksToKeep of it; otherwise the
// body is dropped (the header alone is still retained in the index).
func (b *BlockChain) maybeAcceptBlock(block *acbcutil.Block, node *blockNode, flags BehaviorFlags) (bool, error) {
	tip := b.bestChain.Tip()

	mandatory := flags&BFFastAdd != 0
	if tip != nil {
		mandatory = mandatory ||
			(node.workSum.Cmp(tip.workSum) >= 0 && node.height <= tip.height+MinBlocksToKeep)
	} else {
		mandatory = true
	}

	if !mandatory {
		return false, nil
	}

	if err := checkBlockSanity(block, b.chainParams.PowLimit, b.timeSource); err != nil {
		b.index.markFailed(node, true)
		return false, err
	}

	if err := b.checkBlockContext(block, node); err != nil {
		b.index.markFailed(node, true)
		return false, err
	}

	raw, err := serializeBlock(block)
	if err != nil {
		return false, err
	}
	loc, err := b.store.WriteBlock(raw)
	if err != nil {
		return false, err
	}
	node.fileNum = loc.FileNum
	node.fileOffset = loc.Offset
	node.fileLen = loc.Len
	node.nTx = uint32(len(block.MsgBlock().Transactions))
	node.sequence = b.index.nextNodeSequence()
	b.index.SetStatusFlags(node, statusDataStored|statusValidTransactions)
	b.index.recordFileHeight(node)

	if node.parent == nil || node.parent.nChainTx != 0 {
		parentChainTx := uint64(0)
		if node.parent != nil {
			parentChainTx = node.parent.nChainTx
		}
		node.nChainTx = parentChainTx + uint64(node.nTx)

		var workFloor *big.Int
		if tip != nil {
			workFloor = tip.workSum
		}
		b.index.maybeAddCandidate(node, workFloor)
		b.propagateUnlinkedChildren(node)
	} else {
		// The parent's own body hasn't been linked back to a chain-tx
		// count yet (it's itself still waiting on an ancestor), so this
		// node can't be admitted as a candidate until that resolves.
		// Queue it the same way propagateUnlinkedChildren queues a
		// still-bodyless child, so the parent's eventual linking walks
		// forward into this node too.
		b.index.addUnlinked(node)
	}

	b.sendNotification(NTBlockAccepted, &BlockAcceptedNotifyData{Block: block})
	if tip != nil && node.parent == tip {
		log.ValdLog.Debugf("accepted block %s at height %d extending tip", node.hash, node.height)
	}

	return true, nil
}

// propagateUnlinkedChildren walks forward through the unlinked map once
// node's body has arrived, admitting every descendant that now qualifies
// for VALID_TRANSACTIONS/candidate status (spec.md §4.J's propagation).
func (b *BlockChain) propagateUnlinkedChildren(node *blockNode) {
	children := b.index.takeUnlinkedChildren(node.hash)
	tip := b.bestChain.Tip()
	var tipWork *big.Int
	if tip != nil {
		tipWork = tip.workSum
	}
	for _, child := range children {
		child.sequence = b.index.nextNodeSequence()
		if child.status.HaveData() {
			child.status |= statusValidTransactions
			child.nChainTx = node.nChainTx + uint64(child.nTx)
			b.index.maybeAddCandidate(child, tipWork)
			b.propagateUnlinkedChildren(child)
		} else {
			b.index.addUnlinked(child)
		}
	}
}

// checkBlockContext enforces the contextual transaction rules of spec.md
// §4.F step 1 / §4.H ("contextual rules including BIP34 coinbase-height
// prefix and §4.F BIP68 scope") that don't require the UTXO view: every
// transaction must be final as of (node.height, parent's median-time-past),
// and post-BIP34 the coinbase must commit to the block's height.
func (b *BlockChain) checkBlockContext(block *acbcutil.Block, node *blockNode) error {
	var medianTime time.Time
	if node.parent != nil {
		medianTime = node.parent.CalcPastMedianTime()
	}

	for _, tx := range block.Transactions() {
		if !isFinalizedTransaction(tx, node.height, medianTime) {
			str := "block contains unfinalized transaction"
			return ruleError(ErrUnfinalizedTx, str)
		}
	}

	if node.height >= b.chainParams.BIP0034Height {
		coinbaseTx := block.Transactions()[0]
		if err := checkSerializedHeight(coinbaseTx, node.height); err != nil {
			return err
		}
	}

	return nil
}

// serializeBlock wire-encodes block for storage in the flat block file.
func serializeBlock(block *acbcutil.Block) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(block.MsgBlock().SerializeSize())
	if err := block.MsgBlock().Serialize(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// lockTimeThreshold distinguishes a LockTime interpreted as a block height
// (below threshold) from one interpreted as a Unix timestamp (at or above),
// the standard consensus-wide cutover value.
const lockTimeThreshold = 500000000

// isFinalizedTransaction determines whether a transaction is finalized as
// of blockHeight/blockTime, the nLockTime scope spec.md §4.E item 3 and
// §4.H both require (a zero LockTime, or every input's sequence at the
// final-sequence sentinel, is always final).
func isFinalizedTransaction(tx *acbcutil.Tx, blockHeight int32, blockTime time.Time) bool {
	msgTx := tx.MsgTx()
	if msgTx.LockTime == 0 {
		return true
	}

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

// ProcessBlock is the entry point for handling a new block: it runs
// acceptHeader then maybeAcceptBlock, and when the body was processed,
// activates the best chain if the new block might have changed it (spec.md
// §2's top-level data flow: "H validates... D writes... F connects... G
// loops").
func (b *BlockChain) ProcessBlock(block *acbcutil.Block, diffCalc DifficultyCalculator, flags BehaviorFlags) (bool, error) {
	b.chainLock.Lock()
	defer b.chainLock.Unlock()

	hash := block.Hash()
	if node := b.index.LookupNode(hash); node != nil && node.status.HaveData() {
		return false, ruleError(ErrDuplicateBlock, "already have block")
	}

	node, err := b.acceptHeader(&block.MsgBlock().Header, diffCalc, flags)
	if err != nil {
		return false, err
	}

	processed, err := b.maybeAcceptBlock(block, node, flags)
	if err != nil {
		return false, err
	}
	if !processed {
		return false, nil
	}

	isMainChainTip, err := b.activateBestChain(diffCalc)
	if err != nil {
		return false, err
	}

	return isMainChainTip, nil
}
