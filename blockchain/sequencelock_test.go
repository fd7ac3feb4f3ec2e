package blockchain

import (
	"testing"
	"time"

	"github.com/acbcd/acbcd/acbcutil"
	"github.com/acbcd/acbcd/wire"
)

// buildTestChain returns a chain of n blockNodes rooted at a synthetic
// genesis, each header timestamped secondsPerBlock apart, with skip
// pointers built the way acceptHeader builds them for every real node.
func buildTestChain(n int, secondsPerBlock int64) []*blockNode {
	nodes := make([]*blockNode, 0, n)
	var parent *blockNode
	baseTime := int64(1600000000)

	for i := 0; i < n; i++ {
		header := &wire.BlockHeader{
			Version:   1,
			Timestamp: time.Unix(baseTime+int64(i)*secondsPerBlock, 0),
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

func TestCalcSequenceLockDisabled(t *testing.T) {
	chain := buildTestChain(5, 600)
	tip := chain[len(chain)-1]

	view := NewUtxoViewpoint()
	prevOut := wire.OutPoint{Index: 0}
	view.addTxOut(prevOut, &wire.TxOut{Value: 1e8}, false, 1)

	msgTx := wire.NewMsgTx(2)
	msgTx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: prevOut,
		Sequence:         wire.SequenceLockTimeDisabled | 5,
	})
	msgTx.AddTxOut(&wire.TxOut{Value: 1e8})
	tx := acbcutil.NewTx(msgTx)

	lock, err := CalcSequenceLock(tip, tx, view)
	if err != nil {
		t.Fatalf("CalcSequenceLock: %v", err)
	}
	if lock.Seconds != -1 || lock.BlockHeight != -1 {
		t.Fatalf("disabled sequence should impose no lock, got %+v", lock)
	}
	if !SequenceLockActive(lock, tip.height+1, tip.CalcPastMedianTime().Unix()) {
		t.Fatalf("disabled sequence lock should always be active")
	}
}

func TestCalcSequenceLockHeight(t *testing.T) {
	chain := buildTestChain(10, 600)
	tip := chain[len(chain)-1]

	view := NewUtxoViewpoint()
	prevOut := wire.OutPoint{Index: 0}
	const inputHeight = int32(3)
	view.addTxOut(prevOut, &wire.TxOut{Value: 1e8}, false, inputHeight)

	msgTx := wire.NewMsgTx(2)
	msgTx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: prevOut,
		Sequence:         4,
	})
	msgTx.AddTxOut(&wire.TxOut{Value: 1e8})
	tx := acbcutil.NewTx(msgTx)

	lock, err := CalcSequenceLock(tip, tx, view)
	if err != nil {
		t.Fatalf("CalcSequenceLock: %v", err)
	}

	wantHeight := inputHeight + 4 - 1
	if lock.BlockHeight != wantHeight {
		t.Fatalf("got BlockHeight %d, want %d", lock.BlockHeight, wantHeight)
	}

	if SequenceLockActive(lock, wantHeight, tip.CalcPastMedianTime().Unix()) {
		t.Fatalf("lock should not be active at its own lock height")
	}
	if !SequenceLockActive(lock, wantHeight+1, tip.CalcPastMedianTime().Unix()) {
		t.Fatalf("lock should be active one block past its lock height")
	}
}

func TestCalcSequenceLockTime(t *testing.T) {
	chain := buildTestChain(20, 600)
	tip := chain[len(chain)-1]

	view := NewUtxoViewpoint()
	prevOut := wire.OutPoint{Index: 0}
	const inputHeight = int32(5)
	view.addTxOut(prevOut, &wire.TxOut{Value: 1e8}, false, inputHeight)

	// One 512-second unit, the smallest nonzero time-based relative lock.
	msgTx := wire.NewMsgTx(2)
	msgTx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: prevOut,
		Sequence:         wire.SequenceLockTimeIsSeconds | 1,
	})
	msgTx.AddTxOut(&wire.TxOut{Value: 1e8})
	tx := acbcutil.NewTx(msgTx)

	lock, err := CalcSequenceLock(tip, tx, view)
	if err != nil {
		t.Fatalf("CalcSequenceLock: %v", err)
	}

	ancestor := tip.Ancestor(inputHeight - 1)
	if ancestor == nil {
		t.Fatalf("expected an ancestor at height %d", inputHeight-1)
	}
	wantSeconds := ancestor.CalcPastMedianTime().Unix() + (1 << wire.SequenceLockTimeGranularity) - 1
	if lock.Seconds != wantSeconds {
		t.Fatalf("got Seconds %d, want %d", lock.Seconds, wantSeconds)
	}

	if SequenceLockActive(lock, tip.height+1, lock.Seconds) {
		t.Fatalf("lock should not be active when median time equals the lock-point")
	}
	if !SequenceLockActive(lock, tip.height+1, lock.Seconds+1) {
		t.Fatalf("lock should be active once median time passes the lock-point")
	}
}

func TestCalcSequenceLockCoinbaseExempt(t *testing.T) {
	chain := buildTestChain(3, 600)
	tip := chain[len(chain)-1]

	view := NewUtxoViewpoint()
	msgTx := wire.NewMsgTx(2)
	msgTx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: wire.OutPoint{Index: 0xffffffff},
		Sequence:         0,
	})
	msgTx.AddTxOut(&wire.TxOut{Value: 50e8})
	tx := acbcutil.NewTx(msgTx)

	lock, err := CalcSequenceLock(tip, tx, view)
	if err != nil {
		t.Fatalf("CalcSequenceLock: %v", err)
	}
	if lock.Seconds != -1 || lock.BlockHeight != -1 {
		t.Fatalf("coinbase should bypass sequence locks entirely, got %+v", lock)
	}
}

func TestCalcSequenceLockPreBIP68Version(t *testing.T) {
	chain := buildTestChain(3, 600)
	tip := chain[len(chain)-1]

	view := NewUtxoViewpoint()
	prevOut := wire.OutPoint{Index: 0}
	view.addTxOut(prevOut, &wire.TxOut{Value: 1e8}, false, 1)

	msgTx := wire.NewMsgTx(1)
	msgTx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: prevOut,
		Sequence:         4,
	})
	msgTx.AddTxOut(&wire.TxOut{Value: 1e8})
	tx := acbcutil.NewTx(msgTx)

	lock, err := CalcSequenceLock(tip, tx, view)
	if err != nil {
		t.Fatalf("CalcSequenceLock: %v", err)
	}
	if lock.Seconds != -1 || lock.BlockHeight != -1 {
		t.Fatalf("version-1 transactions predate BIP68, got %+v", lock)
	}
}

func TestCalcSequenceLockMissingInput(t *testing.T) {
	chain := buildTestChain(2, 600)
	tip := chain[len(chain)-1]

	view := NewUtxoViewpoint()
	msgTx := wire.NewMsgTx(2)
	msgTx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: wire.OutPoint{Index: 7},
		Sequence:         4,
	})
	msgTx.AddTxOut(&wire.TxOut{Value: 1e8})
	tx := acbcutil.NewTx(msgTx)

	if _, err := CalcSequenceLock(tip, tx, view); err == nil {
		t.Fatalf("expected an error for a missing input, got nil")
	}
}
