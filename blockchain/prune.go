package blockchain

import (
	"github.com/acbcd/acbcd/chaincfg/chainhash"
	"github.com/acbcd/acbcd/log"
)

// approxBlockFileSizeBytes mirrors ffldb's unexported maxBlockFileSize, used
// here only to translate the prune config key's MiB budget into an
// approximate block-count retention window; it is not a promise that any
// individual flat file is exactly this size.
const approxBlockFileSizeBytes = 128 * 1024 * 1024

// PruneBlockFiles deletes every blk<NNNNN>.dat/rev<NNNNN>.dat pair whose
// highest contained block height is at or below min(targetHeight, tip
// height - MinBlocksToKeep), clearing HAVE_DATA/HAVE_UNDO (and the
// file/pos fields) on every BlockIndex entry that pointed into them first
// (spec.md §4.D's pruning operation, invariant 7's "no BlockIndex with
// HAVE_DATA refers to a missing file"). It is safe to call at any time,
// including when nothing is prunable yet.
func (b *BlockChain) PruneBlockFiles(targetHeight int32) error {
	b.chainLock.Lock()
	defer b.chainLock.Unlock()
	return b.pruneBlockFilesLocked(targetHeight)
}

// pruneBlockFilesLocked is PruneBlockFiles' implementation. The caller must
// already hold chainLock, so connectBlock's automatic prune (maybePrune) can
// call it directly without re-acquiring the (non-reentrant) lock it already
// holds.
func (b *BlockChain) pruneBlockFilesLocked(targetHeight int32) error {
	tip := b.bestChain.Tip()
	if tip == nil {
		return nil
	}

	maxHeight := tip.height - MinBlocksToKeep
	if targetHeight < maxHeight {
		maxHeight = targetHeight
	}
	if maxHeight < 0 {
		return nil
	}

	for fileNum, nodes := range b.index.prunableFiles(maxHeight) {
		for _, node := range nodes {
			b.index.clearFileLocation(node)
		}
		if err := b.store.DeleteBlockFiles(fileNum); err != nil {
			return err
		}
		log.ValdLog.Infof("pruned block file pair %05d (heights <= %d)", fileNum, maxHeight)
	}

	return b.flushDirtyNodes()
}

// maybePrune runs the automatic pruning pass connectBlock triggers once
// Config.Prune (a MiB retention budget) is non-zero, translating that
// budget into an equivalent block-height retention window before delegating
// to pruneBlockFilesLocked. The caller must already hold chainLock.
func (b *BlockChain) maybePrune() {
	if b.prune == 0 {
		return
	}

	tip := b.bestChain.Tip()
	if tip == nil {
		return
	}

	keepBlocks := int32((b.prune * 1024 * 1024) / approxBlockFileSizeBytes)
	if keepBlocks < MinBlocksToKeep {
		keepBlocks = MinBlocksToKeep
	}

	if err := b.pruneBlockFilesLocked(tip.height - keepBlocks); err != nil {
		log.ValdLog.Warnf("automatic prune failed: %v", err)
	}
}

// assumeValidCovers reports whether node is node.height-or-below an ancestor
// of the configured AssumeValid hash whose header chain has already
// validated, spec.md §4.F.2's "skip signature verification for
// assumed-valid ancestors" optimization. AssumeValid's zero-value disables
// the optimization entirely.
func (b *BlockChain) assumeValidCovers(node *blockNode) bool {
	var zeroHash chainhash.Hash
	if b.assumeValid == zeroHash {
		return false
	}

	target := b.index.LookupNode(&b.assumeValid)
	if target == nil || target.status&statusValidTree == 0 {
		return false
	}
	if node.height > target.height {
		return false
	}

	return target.Ancestor(node.height) == node
}
