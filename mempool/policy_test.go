package mempool

import (
	"bytes"
	"testing"

	"github.com/acbcd/acbcd/acbcutil"
	"github.com/acbcd/acbcd/wire"
)

func p2pkhScript() []byte {
	script := make([]byte, 25)
	script[0] = 0x76
	script[1] = 0xa9
	script[2] = 0x14
	script[23] = 0x88
	script[24] = 0xac
	return script
}

func p2shScript() []byte {
	script := make([]byte, 23)
	script[0] = 0xa9
	script[1] = 0x14
	script[22] = 0x87
	return script
}

func TestClassifyScript(t *testing.T) {
	tests := []struct {
		name   string
		script []byte
		want   scriptClass
	}{
		{"p2pkh", p2pkhScript(), scriptPubKeyHash},
		{"p2sh", p2shScript(), scriptScriptHash},
		{"nulldata", []byte{0x6a, 0x02, 0xde, 0xad}, scriptNullData},
		{"unknown", bytes.Repeat([]byte{0xff}, 10), scriptUnknown},
		{"empty", nil, scriptUnknown},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := classifyScript(tc.script); got != tc.want {
				t.Fatalf("classifyScript(%s) = %v, want %v", tc.name, got, tc.want)
			}
		})
	}
}

func TestIsDust(t *testing.T) {
	out := &wire.TxOut{Value: 1, PkScript: p2pkhScript()}
	if !isDust(out, DefaultMinRelayTxFee) {
		t.Fatalf("a 1-satoshi output should be dust")
	}

	out = &wire.TxOut{Value: 1000000, PkScript: p2pkhScript()}
	if isDust(out, DefaultMinRelayTxFee) {
		t.Fatalf("a 0.01 BTC output should not be dust")
	}

	nullData := &wire.TxOut{Value: 0, PkScript: []byte{0x6a, 0x00}}
	if isDust(nullData, DefaultMinRelayTxFee) {
		t.Fatalf("a null-data output is never dust regardless of value")
	}
}

func TestCheckTransactionStandard(t *testing.T) {
	newTx := func(version int32, pkScript []byte, value int64) *acbcutil.Tx {
		msgTx := wire.NewMsgTx(version)
		msgTx.AddTxIn(&wire.TxIn{PreviousOutPoint: wire.OutPoint{Index: 0}})
		msgTx.AddTxOut(&wire.TxOut{Value: value, PkScript: pkScript})
		return acbcutil.NewTx(msgTx)
	}

	if err := checkTransactionStandard(newTx(1, p2pkhScript(), 100000), DefaultMinRelayTxFee); err != nil {
		t.Fatalf("expected a standard transaction to pass, got %v", err)
	}

	err := checkTransactionStandard(newTx(3, p2pkhScript(), 100000), DefaultMinRelayTxFee)
	if !IsTxRuleError(err, ErrNonStandard) {
		t.Fatalf("expected ErrNonStandard for an out-of-range version, got %v", err)
	}

	err = checkTransactionStandard(newTx(1, bytes.Repeat([]byte{0xff}, 10), 100000), DefaultMinRelayTxFee)
	if !IsTxRuleError(err, ErrNonStandard) {
		t.Fatalf("expected ErrNonStandard for an unrecognized script template, got %v", err)
	}

	err = checkTransactionStandard(newTx(1, p2pkhScript(), 1), DefaultMinRelayTxFee)
	if !IsTxRuleError(err, ErrNonStandard) {
		t.Fatalf("expected ErrNonStandard for a dust output, got %v", err)
	}

	oversized := make([]byte, maxStandardScriptSize+1)
	err = checkTransactionStandard(newTx(1, oversized, 100000), DefaultMinRelayTxFee)
	if !IsTxRuleError(err, ErrNonStandard) {
		t.Fatalf("expected ErrNonStandard for an oversized script, got %v", err)
	}
}
