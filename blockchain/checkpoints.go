package blockchain

import (
	"github.com/acbcd/acbcd/chaincfg"
	"github.com/acbcd/acbcd/chaincfg/chainhash"
)

// Checkpoints returns a slice of checkpoints (regardless of whether they are
// already known).  When checkpoints are disabled (chainParams.Checkpoints is
// nil), an empty slice is returned.
func (b *BlockChain) Checkpoints() []chaincfg.Checkpoint {
	return b.checkpoints
}

// latestCheckpoint returns the most recent checkpoint (regardless of whether
// it has been reached) by height, or nil if there aren't any.
func (b *BlockChain) latestCheckpoint() *chaincfg.Checkpoint {
	if len(b.checkpoints) == 0 {
		return nil
	}
	return &b.checkpoints[len(b.checkpoints)-1]
}

// verifyCheckpoint returns whether the passed height and hash combination
// match the hard-coded checkpoint data, if any, at the given height.  If
// there is no checkpoint at the given height, true is returned, matching
// checkpoints.cpp's CheckAgainstCheckpoint behavior of accepting any height
// without a checkpoint entry (spec.md §4.H's checkpoint rule).
func (b *BlockChain) verifyCheckpoint(height int32, hash *chainhash.Hash) bool {
	if len(b.checkpoints) == 0 {
		return true
	}

	checkpoint, exists := b.checkpointsByHeight[height]
	if !exists {
		return true
	}

	return checkpoint.Hash.IsEqual(hash)
}

// findPreviousCheckpoint returns the node of the most recent checkpoint
// that the best chain already contains.  It returns nil when no checkpoints
// have been defined, or when none of them is in the best chain yet.
func (b *BlockChain) findPreviousCheckpoint() (*blockNode, error) {
	if len(b.checkpoints) == 0 {
		return nil, nil
	}

	checkpoint := b.latestCheckpoint()
	checkpointNode := b.index.LookupNode(checkpoint.Hash)
	if checkpointNode != nil && b.bestChain.Contains(checkpointNode) {
		return checkpointNode, nil
	}

	for i := len(b.checkpoints) - 1; i >= 0; i-- {
		node := b.index.LookupNode(b.checkpoints[i].Hash)
		if node != nil && b.bestChain.Contains(node) {
			return node, nil
		}
	}

	return nil, nil
}

// forkViolatesCheckpoint reports whether forkNode's height lies strictly
// below the node returned by findPreviousCheckpoint, used by
// accept_header's "ErrForkTooOld" rule: a fork point below the most recent
// checkpoint already accepted into the best chain is rejected outright
// (spec.md §4.H).
func (b *BlockChain) forkViolatesCheckpoint(forkNode *blockNode) (bool, error) {
	checkpointNode, err := b.findPreviousCheckpoint()
	if err != nil {
		return false, err
	}
	if checkpointNode == nil || forkNode == nil {
		return false, nil
	}

	return forkNode.height < checkpointNode.height, nil
}
