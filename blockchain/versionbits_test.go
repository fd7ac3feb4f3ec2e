package blockchain

import (
	"testing"
	"time"

	"github.com/acbcd/acbcd/chaincfg"
	"github.com/acbcd/acbcd/wire"
)

// buildVersionedChain builds a chain of n nodes (genesis plus n-1 descendants),
// one block apart in time, using versionOf(height) for each non-genesis
// header's version field.
func buildVersionedChain(n int, versionOf func(height int32) int32) []*blockNode {
	nodes := make([]*blockNode, 0, n)
	var parent *blockNode
	baseTime := int64(1600000000)

	for height := 0; height < n; height++ {
		version := int32(1)
		if versionOf != nil {
			version = versionOf(int32(height))
		}
		header := &wire.BlockHeader{
			Version:   version,
			Timestamp: time.Unix(baseTime+int64(height)*600, 0),
			Bits:      0x207fffff,
		}
		if parent != nil {
			header.PrevBlock = parent.hash
		}
		node := newBlockNode(header, parent)
		buildSkip(node)
		nodes = append(nodes, node)
		parent = node
	}

	return nodes
}

func testCSVParams() (*chaincfg.Params, *chaincfg.ConsensusDeployment) {
	params := &chaincfg.Params{
		RuleChangeActivationThreshold: 8,
		MinerConfirmationWindow:       10,
		Deployments: [chaincfg.DefinedDeployments]chaincfg.ConsensusDeployment{
			chaincfg.DeploymentCSV: {BitNumber: 0, StartTime: 0, ExpireTime: 9999999999},
		},
	}
	deployment := &params.Deployments[chaincfg.DeploymentCSV]
	return params, deployment
}

func TestThresholdStateDefinedBeforeFirstWindow(t *testing.T) {
	params, deployment := testCSVParams()
	chain := buildVersionedChain(5, nil)
	cache := newThresholdCaches(1)[0]

	state, err := thresholdState(chain[4], params, deployment, &cache)
	if err != nil {
		t.Fatalf("thresholdState: %v", err)
	}
	if state != ThresholdDefined {
		t.Fatalf("got %v, want ThresholdDefined before the first full window", state)
	}
}

func TestThresholdStateProgression(t *testing.T) {
	const signalBit = 0
	const signalVersion = int32(versionBitsTopBits) | (1 << signalBit)

	versionOf := func(height int32) int32 {
		// Blocks 10-18 (9 of the 10 blocks in the second window) signal;
		// every other window stays silent.
		if height >= 10 && height <= 18 {
			return signalVersion
		}
		return 1
	}

	chain := buildVersionedChain(31, versionOf)
	params, deployment := testCSVParams()
	cache := newThresholdCaches(1)[0]

	state, err := thresholdState(chain[9], params, deployment, &cache)
	if err != nil {
		t.Fatalf("thresholdState at height 9: %v", err)
	}
	if state != ThresholdStarted {
		t.Fatalf("got %v at height 9, want ThresholdStarted", state)
	}

	state, err = thresholdState(chain[19], params, deployment, &cache)
	if err != nil {
		t.Fatalf("thresholdState at height 19: %v", err)
	}
	if state != ThresholdLockedIn {
		t.Fatalf("got %v at height 19, want ThresholdLockedIn", state)
	}

	state, err = thresholdState(chain[29], params, deployment, &cache)
	if err != nil {
		t.Fatalf("thresholdState at height 29: %v", err)
	}
	if state != ThresholdActive {
		t.Fatalf("got %v at height 29, want ThresholdActive", state)
	}
}

func TestThresholdStateNeverLocksInWithoutSignal(t *testing.T) {
	chain := buildVersionedChain(21, nil)
	params, deployment := testCSVParams()
	cache := newThresholdCaches(1)[0]

	state, err := thresholdState(chain[19], params, deployment, &cache)
	if err != nil {
		t.Fatalf("thresholdState: %v", err)
	}
	if state != ThresholdStarted {
		t.Fatalf("got %v, want ThresholdStarted to persist without a miner supermajority", state)
	}
}

func TestThresholdStateExpires(t *testing.T) {
	params, deployment := testCSVParams()
	deployment.ExpireTime = uint64(1600000300)

	chain := buildVersionedChain(21, nil)
	cache := newThresholdCaches(1)[0]

	state, err := thresholdState(chain[19], params, deployment, &cache)
	if err != nil {
		t.Fatalf("thresholdState: %v", err)
	}
	if state != ThresholdFailed {
		t.Fatalf("got %v, want ThresholdFailed once the expiration time has passed", state)
	}
}

func TestIsKnownDeploymentBit(t *testing.T) {
	params, _ := testCSVParams()

	if !isKnownDeploymentBit(0, params) {
		t.Fatalf("bit 0 is CSV's bit and should be known")
	}
	if isKnownDeploymentBit(5, params) {
		t.Fatalf("bit 5 is not assigned to any deployment in this test's params")
	}
}

func TestCountBitSignaling(t *testing.T) {
	const signalBit = 3
	signalVersion := int32(versionBitsTopBits) | (1 << signalBit)

	versionOf := func(height int32) int32 {
		if height%2 == 0 {
			return signalVersion
		}
		return 1
	}

	chain := buildVersionedChain(101, versionOf)
	tip := chain[len(chain)-1]

	count := countBitSignaling(tip, signalBit)
	if count != warningWindow/2 {
		t.Fatalf("got %d signaling blocks in the last %d, want %d", count, warningWindow, warningWindow/2)
	}

	if got := countBitSignaling(tip, signalBit+1); got != 0 {
		t.Fatalf("got %d blocks signaling an unset bit, want 0", got)
	}
}
