package mempool

import (
	"testing"
	"time"

	"github.com/acbcd/acbcd/acbcutil"
	"github.com/acbcd/acbcd/blockchain"
	"github.com/acbcd/acbcd/chaincfg"
	"github.com/acbcd/acbcd/chaincfg/chainhash"
	"github.com/acbcd/acbcd/wire"
)

// newTestPool returns a TxPool whose Config closures are backed by a single
// confirmed funding transaction, so admission tests don't need a real
// blockchain.BlockChain behind them.
func newTestPool(t *testing.T, fundingTx *acbcutil.Tx, fundingHeight int32) *TxPool {
	t.Helper()
	return newTestPoolWithConfig(t, fundingTx, fundingHeight, nil)
}

// newTestPoolWithConfig is newTestPool with an optional hook to override
// Policy fields (MaxMempoolBytes, MempoolExpiry, OnEvict) the default
// pool leaves at their zero value.
func newTestPoolWithConfig(t *testing.T, fundingTx *acbcutil.Tx, fundingHeight int32, mutate func(cfg *Config)) *TxPool {
	t.Helper()

	cfg := &Config{
		Policy: Policy{
			MaxTxVersion:         2,
			DisableRelayPriority: true,
			FreeTxRelayLimit:     15,
			MaxOrphanTxs:         10,
			MinRelayTxFee:        DefaultMinRelayTxFee,
		},
		ChainParams: &chaincfg.RegressionNetParams,
		FetchUtxoView: func(tx *acbcutil.Tx) (*blockchain.UtxoViewpoint, error) {
			view := blockchain.NewUtxoViewpoint()
			view.AddTxOuts(fundingTx, fundingHeight)
			return view, nil
		},
		BestHeight:     func() int32 { return fundingHeight + 10 },
		MedianTimePast: func() time.Time { return time.Now() },
		CalcSequenceLock: func(tx *acbcutil.Tx, view *blockchain.UtxoViewpoint) (*blockchain.SequenceLock, error) {
			return &blockchain.SequenceLock{Seconds: -1, BlockHeight: -1}, nil
		},
		CheckTransactionScripts: func(tx *acbcutil.Tx, view *blockchain.UtxoViewpoint) error {
			return nil
		},
	}
	if mutate != nil {
		mutate(cfg)
	}

	return New(cfg)
}

// multiOutputSpendingTx spends prevOut into len(outValues) new outputs, used
// to build a single in-pool ancestor with many independent descendants.
func multiOutputSpendingTx(prevOut wire.OutPoint, outValues ...int64) *acbcutil.Tx {
	msgTx := wire.NewMsgTx(1)
	msgTx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: prevOut,
		Sequence:         wire.MaxTxInSequenceNum,
	})
	for _, v := range outValues {
		msgTx.AddTxOut(&wire.TxOut{Value: v, PkScript: p2pkhScript()})
	}
	return acbcutil.NewTx(msgTx)
}

func newFundingTx(values ...int64) *acbcutil.Tx {
	msgTx := wire.NewMsgTx(1)
	msgTx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: wire.OutPoint{Index: 0xffffffff},
		SignatureScript:  []byte{0x00, 0x00},
		Sequence:         wire.MaxTxInSequenceNum,
	})
	for _, v := range values {
		msgTx.AddTxOut(&wire.TxOut{Value: v, PkScript: p2pkhScript()})
	}
	return acbcutil.NewTx(msgTx)
}

func spendingTx(prevOut wire.OutPoint, outValue int64) *acbcutil.Tx {
	msgTx := wire.NewMsgTx(1)
	msgTx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: prevOut,
		Sequence:         wire.MaxTxInSequenceNum,
	})
	msgTx.AddTxOut(&wire.TxOut{Value: outValue, PkScript: p2pkhScript()})
	return acbcutil.NewTx(msgTx)
}

func TestProcessTransactionAccepts(t *testing.T) {
	funding := newFundingTx(5000000, 5000000)
	mp := newTestPool(t, funding, 1)

	tx := spendingTx(wire.OutPoint{Hash: *funding.Hash(), Index: 0}, 4990000)

	accepted, err := mp.ProcessTransaction(tx, true, true)
	if err != nil {
		t.Fatalf("ProcessTransaction: %v", err)
	}
	if len(accepted) != 1 || !accepted[0].Tx.Hash().IsEqual(tx.Hash()) {
		t.Fatalf("expected exactly the submitted tx to be accepted, got %+v", accepted)
	}
	if !mp.IsTransactionInPool(tx.Hash()) {
		t.Fatalf("expected the accepted tx to be in the pool")
	}
	if mp.Count() != 1 {
		t.Fatalf("got pool size %d, want 1", mp.Count())
	}
}

func TestProcessTransactionMissingInputsBecomesOrphan(t *testing.T) {
	funding := newFundingTx(5000000)
	mp := newTestPool(t, funding, 1)

	unknownPrevOut := wire.OutPoint{Hash: chainhash.Hash{0xee}, Index: 0}
	tx := spendingTx(unknownPrevOut, 100000)

	accepted, err := mp.ProcessTransaction(tx, true, true)
	if err != nil {
		t.Fatalf("ProcessTransaction: %v", err)
	}
	if accepted != nil {
		t.Fatalf("expected no accepted transactions for an orphan, got %+v", accepted)
	}
	if !mp.IsOrphanInPool(tx.Hash()) {
		t.Fatalf("expected the tx to be queued as an orphan")
	}
	if mp.Count() != 0 {
		t.Fatalf("an orphan must not be in the main pool")
	}
}

func TestProcessTransactionMissingInputsRejectedWithoutOrphan(t *testing.T) {
	funding := newFundingTx(5000000)
	mp := newTestPool(t, funding, 1)

	unknownPrevOut := wire.OutPoint{Hash: chainhash.Hash{0xee}, Index: 0}
	tx := spendingTx(unknownPrevOut, 100000)

	_, err := mp.ProcessTransaction(tx, false, true)
	if !IsTxRuleError(err, ErrMissingInputs) {
		t.Fatalf("expected ErrMissingInputs, got %v", err)
	}
}

func TestProcessTransactionAlreadyKnown(t *testing.T) {
	funding := newFundingTx(5000000)
	mp := newTestPool(t, funding, 1)
	tx := spendingTx(wire.OutPoint{Hash: *funding.Hash(), Index: 0}, 4990000)

	if _, err := mp.ProcessTransaction(tx, true, true); err != nil {
		t.Fatalf("first submission: %v", err)
	}

	_, err := mp.ProcessTransaction(tx, true, true)
	if !IsTxRuleError(err, ErrAlreadyKnown) {
		t.Fatalf("expected ErrAlreadyKnown on resubmission, got %v", err)
	}
}

func TestProcessTransactionConflict(t *testing.T) {
	funding := newFundingTx(5000000)
	mp := newTestPool(t, funding, 1)
	prevOut := wire.OutPoint{Hash: *funding.Hash(), Index: 0}

	tx1 := spendingTx(prevOut, 4990000)
	if _, err := mp.ProcessTransaction(tx1, true, true); err != nil {
		t.Fatalf("tx1 submission: %v", err)
	}

	tx2 := spendingTx(prevOut, 4980000)
	_, err := mp.ProcessTransaction(tx2, true, true)
	if !IsTxRuleError(err, ErrConflict) {
		t.Fatalf("expected ErrConflict for a double spend, got %v", err)
	}
}

func TestProcessTransactionInsufficientFee(t *testing.T) {
	funding := newFundingTx(5000000)
	mp := newTestPool(t, funding, 1)

	// Spends nearly the entire input as an output, leaving a fee far below
	// the minimum relay fee rate, with DisableRelayPriority forcing
	// rejection rather than a high-priority bypass.
	tx := spendingTx(wire.OutPoint{Hash: *funding.Hash(), Index: 0}, 4999999)

	_, err := mp.ProcessTransaction(tx, true, true)
	if !IsTxRuleError(err, ErrInsufficientFee) {
		t.Fatalf("expected ErrInsufficientFee, got %v", err)
	}
}

func TestProcessTransactionRejectsCoinbase(t *testing.T) {
	funding := newFundingTx(5000000)
	mp := newTestPool(t, funding, 1)

	_, err := mp.ProcessTransaction(funding, true, true)
	if !IsTxRuleError(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid for a standalone coinbase, got %v", err)
	}
}

func TestRemoveTransaction(t *testing.T) {
	funding := newFundingTx(5000000)
	mp := newTestPool(t, funding, 1)
	tx := spendingTx(wire.OutPoint{Hash: *funding.Hash(), Index: 0}, 4990000)

	if _, err := mp.ProcessTransaction(tx, true, true); err != nil {
		t.Fatalf("ProcessTransaction: %v", err)
	}

	mp.RemoveTransaction(tx, false)
	if mp.IsTransactionInPool(tx.Hash()) {
		t.Fatalf("expected the tx to be gone after RemoveTransaction")
	}
	if mp.Count() != 0 {
		t.Fatalf("got pool size %d, want 0", mp.Count())
	}
}

func TestProcessOrphanResolvesOnParentArrival(t *testing.T) {
	funding := newFundingTx(5000000)
	mp := newTestPool(t, funding, 1)
	parent := spendingTx(wire.OutPoint{Hash: *funding.Hash(), Index: 0}, 4990000)
	child := spendingTx(wire.OutPoint{Hash: *parent.Hash(), Index: 0}, 4980000)

	// The child arrives first: its parent isn't confirmed, so it becomes
	// an orphan.
	accepted, err := mp.ProcessTransaction(child, true, true)
	if err != nil {
		t.Fatalf("ProcessTransaction(child): %v", err)
	}
	if accepted != nil {
		t.Fatalf("expected the child to be orphaned, not accepted directly")
	}
	if !mp.IsOrphanInPool(child.Hash()) {
		t.Fatalf("expected the child to be queued as an orphan")
	}

	// Once the parent is accepted, the orphan should cascade in.
	accepted, err = mp.ProcessTransaction(parent, true, true)
	if err != nil {
		t.Fatalf("ProcessTransaction(parent): %v", err)
	}
	if len(accepted) != 2 {
		t.Fatalf("expected parent and child to both be accepted, got %d", len(accepted))
	}
	if mp.IsOrphanInPool(child.Hash()) {
		t.Fatalf("expected the child to be removed from the orphan pool")
	}
	if !mp.IsTransactionInPool(child.Hash()) {
		t.Fatalf("expected the child to now be in the main pool")
	}
}

func TestTrimToSizeEvictsLowestFeerate(t *testing.T) {
	funding := newFundingTx(5000000, 5000000)
	lowFeeTx := spendingTx(wire.OutPoint{Hash: *funding.Hash(), Index: 0}, 4990000)  // fee 10000
	highFeeTx := spendingTx(wire.OutPoint{Hash: *funding.Hash(), Index: 1}, 4900000) // fee 100000

	maxBytes := int64(lowFeeTx.MsgTx().SerializeSize()) + 10

	var evicted []*chainhash.Hash
	mp := newTestPoolWithConfig(t, funding, 1, func(cfg *Config) {
		cfg.Policy.MaxMempoolBytes = maxBytes
		cfg.OnEvict = func(tx *acbcutil.Tx) { evicted = append(evicted, tx.Hash()) }
	})

	if _, err := mp.ProcessTransaction(lowFeeTx, true, true); err != nil {
		t.Fatalf("lowFeeTx submission: %v", err)
	}
	if _, err := mp.ProcessTransaction(highFeeTx, true, true); err != nil {
		t.Fatalf("highFeeTx submission: %v", err)
	}

	if mp.IsTransactionInPool(lowFeeTx.Hash()) {
		t.Fatalf("expected the low-feerate transaction to be trimmed")
	}
	if !mp.IsTransactionInPool(highFeeTx.Hash()) {
		t.Fatalf("expected the high-feerate transaction to survive trimming")
	}
	if len(evicted) != 1 || !evicted[0].IsEqual(lowFeeTx.Hash()) {
		t.Fatalf("expected OnEvict to report the trimmed low-feerate tx, got %v", evicted)
	}
}

func TestCheckAncestorLimitsTooManyDescendants(t *testing.T) {
	funding := newFundingTx(200000000)
	ancestorOutputs := make([]int64, 26)
	for i := range ancestorOutputs {
		ancestorOutputs[i] = 6000000
	}
	ancestor := multiOutputSpendingTx(wire.OutPoint{Hash: *funding.Hash(), Index: 0}, ancestorOutputs...)

	mp := newTestPool(t, funding, 1)
	if _, err := mp.ProcessTransaction(ancestor, true, true); err != nil {
		t.Fatalf("ancestor submission: %v", err)
	}

	for i := 0; i < 25; i++ {
		desc := spendingTx(wire.OutPoint{Hash: *ancestor.Hash(), Index: uint32(i)}, 5990000)
		if _, err := mp.ProcessTransaction(desc, true, true); err != nil {
			t.Fatalf("descendant %d submission: %v", i, err)
		}
	}

	overflow := spendingTx(wire.OutPoint{Hash: *ancestor.Hash(), Index: 25}, 5990000)
	_, err := mp.ProcessTransaction(overflow, true, true)
	if !IsTxRuleError(err, ErrTooManyDescendants) {
		t.Fatalf("expected ErrTooManyDescendants, got %v", err)
	}
}

func TestExpireOldTransactionsSweepsStaleEntries(t *testing.T) {
	funding := newFundingTx(5000000, 5000000)
	stale := spendingTx(wire.OutPoint{Hash: *funding.Hash(), Index: 0}, 4990000)
	fresh := spendingTx(wire.OutPoint{Hash: *funding.Hash(), Index: 1}, 4990000)

	var evicted []*chainhash.Hash
	mp := newTestPoolWithConfig(t, funding, 1, func(cfg *Config) {
		cfg.Policy.MempoolExpiry = time.Hour
		cfg.OnEvict = func(tx *acbcutil.Tx) { evicted = append(evicted, tx.Hash()) }
	})

	if _, err := mp.ProcessTransaction(stale, true, true); err != nil {
		t.Fatalf("stale submission: %v", err)
	}

	mp.mtx.Lock()
	mp.pool[*stale.Hash()].Added = time.Now().Add(-2 * time.Hour)
	mp.mtx.Unlock()

	if _, err := mp.ProcessTransaction(fresh, true, true); err != nil {
		t.Fatalf("fresh submission: %v", err)
	}

	if mp.IsTransactionInPool(stale.Hash()) {
		t.Fatalf("expected the stale transaction to have expired")
	}
	if !mp.IsTransactionInPool(fresh.Hash()) {
		t.Fatalf("expected the fresh transaction to remain")
	}
	if len(evicted) != 1 || !evicted[0].IsEqual(stale.Hash()) {
		t.Fatalf("expected OnEvict to report the expired stale tx, got %v", evicted)
	}
}
