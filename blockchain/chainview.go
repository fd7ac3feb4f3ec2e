package blockchain

import (
	"sync"

	"github.com/acbcd/acbcd/chaincfg/chainhash"
)

// chainView provides a flat view of a specific branch of the block chain from
// its tip back to the genesis block and provides various convenience functions
// for comparing chains.
//
// For example, assume a block chain with a side chain as depicted below:
//   genesis -> 1 -> 2 -> 3 -> 4  -> 5 ->  6  -> 7  -> 8
//                         \-> 4a -> 5a -> 6a
//
// The chain view for the branch ending in 6a consists of:
//   genesis -> 1 -> 2 -> 3 -> 4a -> 5a -> 6a
type chainView struct {
	mtx   sync.Mutex
	nodes []*blockNode
}

// newChainView returns a new chain view rooted at the given tip, or an empty
// view if tip is nil.
func newChainView(tip *blockNode) *chainView {
	c := &chainView{}
	c.setTip(tip)
	return c
}

// nodeByHeight returns the block node at the specified height.  Nil will be
// returned if the height does not exist.  This only differs from the exported
// version in that it is up to the caller to ensure the lock is held.
//
// This function MUST be called with the view mutex locked (for reads).
func (c *chainView) nodeByHeight(height int32) *blockNode {
	if height < 0 || height >= int32(len(c.nodes)) {
		return nil
	}

	return c.nodes[height]
}

// NodeByHeight returns the block node at the specified height.  Nil will be
// returned if the height does not exist.
//
// This function is safe for concurrent access.
func (c *chainView) NodeByHeight(height int32) *blockNode {
	c.mtx.Lock()
	node := c.nodeByHeight(height)
	c.mtx.Unlock()
	return node
}

// setTip sets the view to use the provided block node as the current tip and
// rebuilds the height-indexed node slice accordingly.  This only differs
// from the exported version in that it is up to the caller to ensure the
// lock is held.
func (c *chainView) setTip(node *blockNode) {
	if node == nil {
		c.nodes = nil
		return
	}

	needed := node.height + 1
	nodes := make([]*blockNode, needed)
	n := node
	for i := needed - 1; i >= 0 && n != nil; i-- {
		nodes[i] = n
		n = n.parent
	}
	c.nodes = nodes
}

// SetTip sets the view to use the provided block node as the current tip.
//
// This function is safe for concurrent access.
func (c *chainView) SetTip(node *blockNode) {
	c.mtx.Lock()
	c.setTip(node)
	c.mtx.Unlock()
}

// genesis returns the genesis block for the chain view, or nil if it has no
// nodes.
func (c *chainView) genesis() *blockNode {
	if len(c.nodes) == 0 {
		return nil
	}
	return c.nodes[0]
}

// tip returns the current tip block node for the chain view.  This only
// differs from the exported version in that it is up to the caller to
// ensure the lock is held.
func (c *chainView) tip() *blockNode {
	if len(c.nodes) == 0 {
		return nil
	}
	return c.nodes[len(c.nodes)-1]
}

// Tip returns the current tip block node for the chain view.
//
// This function is safe for concurrent access.
func (c *chainView) Tip() *blockNode {
	c.mtx.Lock()
	node := c.tip()
	c.mtx.Unlock()
	return node
}

// height returns the height of the chain view tip, or -1 if the view has no
// nodes.  This only differs from the exported version in that it is up to
// the caller to ensure the lock is held.
func (c *chainView) height() int32 {
	return int32(len(c.nodes) - 1)
}

// Height returns the height of the chain view tip.
//
// This function is safe for concurrent access.
func (c *chainView) Height() int32 {
	c.mtx.Lock()
	h := c.height()
	c.mtx.Unlock()
	return h
}

// contains returns whether node is contained in the chain view, i.e. whether
// it is an ancestor of (or equal to) the tip at its own height.  This only
// differs from the exported version in that it is up to the caller to
// ensure the lock is held.
func (c *chainView) contains(node *blockNode) bool {
	return c.nodeByHeight(node.height) == node
}

// Contains returns whether node is part of the main chain the view
// represents, i.e. the block at node's height in the active chain is node
// itself (spec.md §4.C).
//
// This function is safe for concurrent access.
func (c *chainView) Contains(node *blockNode) bool {
	c.mtx.Lock()
	res := c.contains(node)
	c.mtx.Unlock()
	return res
}

// next returns the successor to the provided node in the chain view, or nil
// if there isn't one (node is the tip, or isn't contained in the view).
// This only differs from the exported version in that it is up to the
// caller to ensure the lock is held.
func (c *chainView) next(node *blockNode) *blockNode {
	if node == nil || !c.contains(node) {
		return nil
	}
	return c.nodeByHeight(node.height + 1)
}

// Next returns the successor to the provided node in the chain view
// (spec.md §4.C).
//
// This function is safe for concurrent access.
func (c *chainView) Next(node *blockNode) *blockNode {
	c.mtx.Lock()
	n := c.next(node)
	c.mtx.Unlock()
	return n
}

// findFork returns the final common block between the chain view and the
// provided node, walking the node's ancestors up to the point it's also an
// ancestor of the view's tip.  This only differs from the exported version
// in that it is up to the caller to ensure the lock is held.
func (c *chainView) findFork(node *blockNode) *blockNode {
	if node == nil {
		return nil
	}
	if node.height > c.height() {
		node = node.Ancestor(c.height())
	}
	for node != nil && !c.contains(node) {
		node = node.parent
	}
	return node
}

// FindFork returns the final common block between the chain view and the
// provided node (spec.md §4.C's fork-finding support).
//
// This function is safe for concurrent access.
func (c *chainView) FindFork(node *blockNode) *blockNode {
	c.mtx.Lock()
	fork := c.findFork(node)
	c.mtx.Unlock()
	return fork
}

// BlockLocator is a sparse list of block hashes, used to find a common fork
// point between two chains in a bandwidth-efficient manner (spec.md §4.C).
type BlockLocator []*chainhash.Hash

// blockLocator returns a block locator for the given node, or for the tip if
// node is nil.  This only differs from the exported version in that it is
// up to the caller to ensure the lock is held.
//
// The locator contains the requested block's hash followed by a sparse list
// of hashes at exponentially-growing depths: the ten most recent blocks,
// then doubling the step between entries, ending at genesis.
func (c *chainView) blockLocator(node *blockNode) BlockLocator {
	if node == nil {
		node = c.tip()
		if node == nil {
			return nil
		}
	}

	maxEntries := 27
	locator := make(BlockLocator, 0, maxEntries)

	step := int32(1)
	for node != nil {
		hash := node.hash
		locator = append(locator, &hash)

		if node.height == 0 {
			break
		}

		height := node.height - step
		if height < 0 {
			height = 0
		}

		if c.contains(node) {
			node = c.nodeByHeight(height)
		} else {
			node = node.Ancestor(height)
		}

		if len(locator) > 10 {
			step *= 2
		}
	}
	return locator
}

// BlockLocator returns a block locator for the given node, or for the
// current tip if node is nil.
//
// This function is safe for concurrent access.
func (c *chainView) BlockLocator(node *blockNode) BlockLocator {
	c.mtx.Lock()
	locator := c.blockLocator(node)
	c.mtx.Unlock()
	return locator
}
