package blockchain

import (
	"github.com/acbcd/acbcd/acbcutil"
	"github.com/acbcd/acbcd/database/ffldb"
	"github.com/acbcd/acbcd/log"
)

// loadBlock reads and wire-decodes the stored block body for node, setting
// its height so downstream code (view.connectTransaction's subsidy lookup,
// checkConnectInputs) can use acbcutil.Block.Height() without threading the
// height through separately.
func (b *BlockChain) loadBlock(node *blockNode) (*acbcutil.Block, error) {
	loc := blockLocationOf(node)
	raw, err := b.store.ReadBlock(loc)
	if err != nil {
		return nil, err
	}
	block, err := acbcutil.NewBlockFromBytes(raw)
	if err != nil {
		return nil, err
	}
	block.SetHeight(node.height)
	return block, nil
}

// checkConnectBlock runs the contextual, UTXO-dependent checks spec.md
// §4.F's connect operation requires before a block may actually be applied:
// BIP30, every input's existence/maturity and the fee/subsidy/sigop budget,
// and finally script validation via the injected SigChecker — skipped
// entirely for an ancestor the configured AssumeValid hash already covers
// (spec.md §4.F.2). view must already be warmed with every input the
// block's transactions reference (FetchInputUtxos) and must not yet have
// connectTransactions applied.
func (b *BlockChain) checkConnectBlock(node *blockNode, block *acbcutil.Block, view *UtxoViewpoint) error {
	if err := checkBIP30(block, view, b.coinView); err != nil {
		return err
	}

	if _, err := checkConnectInputs(block, node, view, b.chainParams); err != nil {
		return err
	}

	if b.assumeValidCovers(node) {
		return nil
	}

	flags := ScriptFlags(0)
	if err := ValidateTransactionScripts(block, view, flags, b.sigChecker); err != nil {
		return err
	}

	return nil
}

// connectBestChain is the low-level reorg engine: it disconnects down to
// the fork point with target, then connects target's ancestor chain back up
// to it, checking and applying each block along the way (spec.md §4.G's
// "Reconsider"/"Activate" loop, done here for one candidate at a time).
func (b *BlockChain) connectBestChain(target *blockNode) error {
	tip := b.bestChain.Tip()
	fork := b.bestChain.FindFork(target)

	var detachNodes []*blockNode
	for n := tip; n != nil && n != fork; n = n.parent {
		detachNodes = append(detachNodes, n)
	}

	var attachNodes []*blockNode
	for n := target; n != nil && n != fork; n = n.parent {
		attachNodes = append(attachNodes, n)
	}
	for i, j := 0, len(attachNodes)-1; i < j; i, j = i+1, j-1 {
		attachNodes[i], attachNodes[j] = attachNodes[j], attachNodes[i]
	}

	for _, n := range detachNodes {
		block, err := b.loadBlock(n)
		if err != nil {
			return err
		}

		view := NewUtxoViewpoint()
		view.SetBestHash(&n.hash)

		if err := b.disconnectBlock(n, block, view); err != nil {
			return err
		}
	}

	for _, n := range attachNodes {
		block, err := b.loadBlock(n)
		if err != nil {
			return err
		}

		view := NewUtxoViewpoint()
		if n.parent != nil {
			view.SetBestHash(&n.parent.hash)
		}
		if err := view.FetchInputUtxos(b.coinView, block); err != nil {
			return err
		}

		if err := b.checkConnectBlock(n, block, view); err != nil {
			b.index.markFailed(n, true)
			return err
		}

		var stxos []SpentTxOut
		if err := view.connectTransactions(block, &stxos); err != nil {
			return err
		}

		if err := b.connectBlock(n, block, view, stxos); err != nil {
			return err
		}
	}

	return nil
}

// activateBestChain implements spec.md §4.G: repeatedly reorganize onto the
// highest-work candidate whose chain is free of known-invalid ancestors,
// retrying with the next-best candidate whenever connecting one fails,
// until the active tip is itself the best candidate (or none remain).
func (b *BlockChain) activateBestChain(diffCalc DifficultyCalculator) (bool, error) {
	startTip := b.bestChain.Tip()

	for {
		candidate := b.index.bestCandidate()
		if candidate == nil {
			break
		}
		if tip := b.bestChain.Tip(); tip == candidate {
			break
		}

		if err := b.connectBestChain(candidate); err != nil {
			if _, ok := err.(RuleError); ok {
				log.ValdLog.Warnf("candidate chain tip %s rejected: %v", candidate.hash, err)
				continue
			}
			return false, err
		}
	}

	newTip := b.bestChain.Tip()
	return newTip != nil && newTip != startTip, nil
}

// blockLocationOf reconstructs the ffldb location descriptor a blockNode
// tracks for its stored body, the read-side counterpart of the fields
// maybeAcceptBlock populates after WriteBlock.
func blockLocationOf(node *blockNode) ffldb.BlockLocation {
	return ffldb.BlockLocation{FileNum: node.fileNum, Offset: node.fileOffset, Len: node.fileLen}
}
