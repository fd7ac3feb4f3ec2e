package blockchain

import (
	"testing"

	"github.com/acbcd/acbcd/chaincfg"
	"github.com/acbcd/acbcd/chaincfg/chainhash"
	"github.com/acbcd/acbcd/database/ffldb"
	"github.com/acbcd/acbcd/wire"
)

func openTestCoinView(t *testing.T) *CoinView {
	t.Helper()
	db, err := ffldb.Open(t.TempDir())
	if err != nil {
		t.Fatalf("ffldb.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewCoinView(db, &chaincfg.MainNetParams)
}

func TestFetchUtxoStatsEmpty(t *testing.T) {
	cv := openTestCoinView(t)

	stats, err := cv.FetchUtxoStats()
	if err != nil {
		t.Fatalf("FetchUtxoStats: %v", err)
	}
	if stats.Transactions != 0 || stats.TxOuts != 0 || stats.TotalAmount != 0 {
		t.Fatalf("expected an empty set to report zero everything, got %+v", stats)
	}
}

func TestFetchUtxoStats(t *testing.T) {
	cv := openTestCoinView(t)

	view := NewUtxoViewpoint()
	txHashA := chainhash.Hash{0x01}
	txHashB := chainhash.Hash{0x02}

	view.addTxOut(wire.OutPoint{Hash: txHashA, Index: 0}, &wire.TxOut{Value: 1000, PkScript: []byte{0x51}}, false, 10)
	view.addTxOut(wire.OutPoint{Hash: txHashA, Index: 1}, &wire.TxOut{Value: 2000, PkScript: []byte{0x51}}, false, 10)
	view.addTxOut(wire.OutPoint{Hash: txHashB, Index: 0}, &wire.TxOut{Value: 5000, PkScript: []byte{0x51}}, true, 11)

	bestHash := chainhash.Hash{0xaa}
	view.SetBestHash(&bestHash)

	if err := cv.Flush(view, 11); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	stats, err := cv.FetchUtxoStats()
	if err != nil {
		t.Fatalf("FetchUtxoStats: %v", err)
	}

	if stats.Transactions != 2 {
		t.Fatalf("got %d distinct transactions, want 2", stats.Transactions)
	}
	if stats.TxOuts != 3 {
		t.Fatalf("got %d outputs, want 3", stats.TxOuts)
	}
	if stats.TotalAmount != 8000 {
		t.Fatalf("got total amount %d, want 8000", stats.TotalAmount)
	}
	if stats.Height != 11 {
		t.Fatalf("got height %d, want 11", stats.Height)
	}
	if stats.BestHash != bestHash {
		t.Fatalf("got best hash %s, want %s", stats.BestHash, bestHash)
	}
}
