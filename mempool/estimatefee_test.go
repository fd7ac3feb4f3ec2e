package mempool

import (
	"testing"

	"github.com/acbcd/acbcd/acbcutil"
	"github.com/acbcd/acbcd/chaincfg/chainhash"
	"github.com/acbcd/acbcd/mining"
	"github.com/acbcd/acbcd/wire"
)

func txDescWithFee(fee int64) *TxDesc {
	msgTx := wire.NewMsgTx(1)
	msgTx.AddTxIn(&wire.TxIn{PreviousOutPoint: wire.OutPoint{Index: 0}})
	msgTx.AddTxOut(&wire.TxOut{Value: 100000, PkScript: p2pkhScript()})
	tx := acbcutil.NewTx(msgTx)

	return &TxDesc{
		TxDesc: mining.TxDesc{
			Tx:  tx,
			Fee: fee,
		},
	}
}

func TestFeeEstimatorNotEnoughData(t *testing.T) {
	ef := NewFeeEstimator(10, 3)
	ef.ObserveTransaction(txDescWithFee(1000))

	if _, err := ef.EstimateFee(1); err != errNotEnoughData {
		t.Fatalf("expected errNotEnoughData before minRegisteredBlocks, got %v", err)
	}
}

func TestFeeEstimatorTracksConfirmedFeeRate(t *testing.T) {
	ef := NewFeeEstimator(10, 1)

	td := txDescWithFee(2500)
	ef.ObserveTransaction(td)

	ef.RegisterBlock(1, []chainhash.Hash{*td.Tx.Hash()})

	rate, err := ef.EstimateFee(2)
	if err != nil {
		t.Fatalf("EstimateFee: %v", err)
	}
	if rate <= 0 {
		t.Fatalf("expected a positive fee rate, got %v", rate)
	}

	if _, exists := ef.observed[*td.Tx.Hash()]; exists {
		t.Fatalf("expected the confirmed transaction to be removed from the observed set")
	}
}

func TestFeeEstimatorAgesOutUnconfirmed(t *testing.T) {
	ef := NewFeeEstimator(10, 1)

	td := txDescWithFee(1000)
	ef.ObserveTransaction(td)

	for height := int32(1); height <= estimateFeeDepth; height++ {
		ef.RegisterBlock(height, nil)
	}

	if _, exists := ef.observed[*td.Tx.Hash()]; exists {
		t.Fatalf("expected an unconfirmed transaction to age out after %d blocks", estimateFeeDepth)
	}
}
