package blockchain

import (
	"github.com/acbcd/acbcd/chaincfg"
	"github.com/acbcd/acbcd/log"
)

// versionBitsTopMask/versionBitsTopBits identify a header using the BIP9
// versionbits signaling scheme: the top three bits of Version read 001.
const (
	versionBitsTopMask = int32(-0x20000000)
	versionBitsTopBits = int32(0x20000000)
	versionBitsNumBits = 29
	warningWindow      = 100
	warningThreshold   = 50
)

// ThresholdState defines the various threshold states used when voting on
// consensus rule changes, a Go port of versionbits.h's state machine
// (spec.md's supplemented-feature list).
type ThresholdState byte

const (
	// ThresholdDefined is the first state for each deployment and is the
	// state for the genesis block has by definition for all deployments.
	ThresholdDefined ThresholdState = iota

	// ThresholdStarted is the state for a deployment once its start time
	// has been reached.
	ThresholdStarted

	// ThresholdLockedIn is the state for a deployment during the retarget
	// period which follows the retarget period where the condition has
	// been met.
	ThresholdLockedIn

	// ThresholdActive is the state for a deployment for all blocks after
	// the LockedIn retarget period.
	ThresholdActive

	// ThresholdFailed is the state for a deployment once its expiration
	// time has been reached without the rule change activating.
	ThresholdFailed
)

var thresholdStateStrings = map[ThresholdState]string{
	ThresholdDefined:   "ThresholdDefined",
	ThresholdStarted:   "ThresholdStarted",
	ThresholdLockedIn:  "ThresholdLockedIn",
	ThresholdActive:    "ThresholdActive",
	ThresholdFailed:    "ThresholdFailed",
}

// String returns the ThresholdState as a human-readable name.
func (t ThresholdState) String() string {
	if s, ok := thresholdStateStrings[t]; ok {
		return s
	}
	return "unknown"
}

// thresholdStateCache is a map of block hashes to cached threshold state
// for a given deployment, the "warningCaches"/"deploymentCaches" the
// teacher's commented-out BlockChain struct refers to.
type thresholdStateCache struct {
	entries map[[32]byte]ThresholdState
}

func newThresholdCaches(numCaches int) []thresholdStateCache {
	caches := make([]thresholdStateCache, numCaches)
	for i := range caches {
		caches[i] = thresholdStateCache{entries: make(map[[32]byte]ThresholdState)}
	}
	return caches
}

// calcWindowStart returns the ancestor of node that begins the retarget
// window node belongs to.
func calcWindowStart(node *blockNode, confirmationWindow int32) *blockNode {
	if node == nil {
		return nil
	}
	offset := ((node.height + 1) % confirmationWindow) - confirmationWindow
	return node.RelativeAncestor(-offset - 1)
}

// thresholdState returns the current rule change threshold state for the
// block after the given node, following the deployment's start/expire time
// window semantics (spec.md's BIP9-style generalization of the original
// versionbits.h state machine).
func thresholdState(node *blockNode, params *chaincfg.Params, deployment *chaincfg.ConsensusDeployment, cache *thresholdStateCache) (ThresholdState, error) {
	confirmationWindow := int32(params.MinerConfirmationWindow)
	if confirmationWindow == 0 {
		return ThresholdFailed, nil
	}

	if node == nil || (node.height+1) < confirmationWindow {
		return ThresholdDefined, nil
	}

	prevNode := node.RelativeAncestor(int32(node.height+1) % confirmationWindow)

	var states []*blockNode
	for prevNode != nil {
		if cached, ok := cache.entries[prevNode.hash]; ok {
			return finishThresholdWalk(states, cached, params, deployment, confirmationWindow, cache)
		}
		medianTime := prevNode.CalcPastMedianTime()
		if uint64(medianTime.Unix()) < deployment.StartTime {
			return finishThresholdWalk(states, ThresholdDefined, params, deployment, confirmationWindow, cache)
		}
		states = append(states, prevNode)
		if prevNode.height < confirmationWindow {
			break
		}
		prevNode = prevNode.RelativeAncestor(confirmationWindow)
	}

	return finishThresholdWalk(states, ThresholdDefined, params, deployment, confirmationWindow, cache)
}

// finishThresholdWalk replays the per-window transitions forward from state,
// starting at the oldest unresolved window in states (nearest to genesis
// last), caching each intermediate result.
func finishThresholdWalk(states []*blockNode, state ThresholdState, params *chaincfg.Params, deployment *chaincfg.ConsensusDeployment, confirmationWindow int32, cache *thresholdStateCache) (ThresholdState, error) {
	for i := len(states) - 1; i >= 0; i-- {
		prevNode := states[i]

		switch state {
		case ThresholdDefined:
			medianTime := prevNode.CalcPastMedianTime()
			if uint64(medianTime.Unix()) >= deployment.ExpireTime {
				state = ThresholdFailed
			} else if uint64(medianTime.Unix()) >= deployment.StartTime {
				state = ThresholdStarted
			}

		case ThresholdStarted:
			medianTime := prevNode.CalcPastMedianTime()
			if uint64(medianTime.Unix()) >= deployment.ExpireTime {
				state = ThresholdFailed
				break
			}

			count := int32(0)
			countNode := prevNode
			for j := int32(0); j < confirmationWindow && countNode != nil; j++ {
				if countNode.version&0x20000000 != 0 &&
					(countNode.version>>deployment.BitNumber)&1 != 0 {
					count++
				}
				countNode = countNode.parent
			}

			if count >= int32(params.RuleChangeActivationThreshold) {
				state = ThresholdLockedIn
			}

		case ThresholdLockedIn:
			state = ThresholdActive
		}

		cache.entries[prevNode.hash] = state
	}

	return state, nil
}

// isKnownDeploymentBit reports whether bit is the signaling bit of one of
// params' actually-defined deployments, exempting it from the "unknown new
// rules" warning below.
func isKnownDeploymentBit(bit uint8, params *chaincfg.Params) bool {
	for i := range params.Deployments {
		if params.Deployments[i].BitNumber == bit {
			return true
		}
	}
	return false
}

// countBitSignaling counts how many of the warningWindow blocks ending at
// node (inclusive) signal bit via the versionbits top-bits encoding.
func countBitSignaling(node *blockNode, bit uint8) int {
	count := 0
	n := node
	for i := 0; i < warningWindow && n != nil; i++ {
		if n.version&versionBitsTopMask == versionBitsTopBits &&
			n.version&(1<<bit) != 0 {
			count++
		}
		n = n.parent
	}
	return count
}

// warnUnknownVersionBits logs once if a supermajority of the last
// warningWindow blocks signal a versionbits bit this chain's parameters
// don't assign to any deployment, the Go counterpart of the original's
// "unknown new rules activated" warning (spec.md's supplemented versionbits
// feature, using the warningCaches the teacher's commented BlockChain struct
// names). Nothing is checked unless node's own version uses the
// versionbits top-bits encoding; the count then covers node and its
// ancestors within warningWindow.
func (b *BlockChain) warnUnknownVersionBits(node *blockNode) {
	if node.version&versionBitsTopMask != versionBitsTopBits {
		return
	}

	for bit := uint8(0); bit < versionBitsNumBits; bit++ {
		if isKnownDeploymentBit(bit, b.chainParams) {
			continue
		}

		cache := &b.warningCaches[bit]
		if _, alreadyCounted := cache.entries[node.hash]; alreadyCounted {
			continue
		}
		cache.entries[node.hash] = ThresholdDefined

		if countBitSignaling(node, bit) > warningThreshold && !b.unknownRulesWarned {
			log.ValdLog.Warnf("unknown new rules are being signaled on this "+
				"network (versionbit %d); this software may be out of date", bit)
			b.unknownRulesWarned = true
		}
	}
}
