package mempool

import (
	"github.com/acbcd/acbcd/acbcutil"
	"github.com/acbcd/acbcd/wire"
)

const (
	// DefaultMinRelayTxFee is the minimum fee in satoshi that is required
	// for a transaction to be treated as free for relay and mining
	// purposes.  It is also used to help determine if a transaction is
	// considered dust and as a base for calculating minimum required fees
	// for larger transactions.  This value is in Satoshi/1000 bytes.
	DefaultMinRelayTxFee = acbcutil.Amount(1000)

	// maxStandardVersion is the highest transaction version number
	// admitted by the standardness check (spec.md §4.E item 2's "version
	// allow-list").
	maxStandardVersion = 2

	// maxStandardScriptSize is the maximum length, in bytes, a
	// scriptPubKey may have and still be considered standard.
	maxStandardScriptSize = 1650
)

// scriptClass identifies the shape of a scriptPubKey the standardness
// whitelist recognizes (spec.md §4.E item 2's "script templates in a
// whitelist"). Real opcode parsing is out of this module's scope (the
// injected blockchain.SigChecker owns that); this is a coarse shape test
// sufficient to reject obviously non-standard output scripts.
type scriptClass int

const (
	scriptUnknown scriptClass = iota
	scriptPubKeyHash
	scriptScriptHash
	scriptPubKey
	scriptNullData
)

// classifyScript returns the template pkScript matches by its well-known
// opcode prefix, or scriptUnknown if none apply.
func classifyScript(pkScript []byte) scriptClass {
	switch {
	case len(pkScript) == 25 && pkScript[0] == 0x76 && pkScript[1] == 0xa9 &&
		pkScript[2] == 0x14 && pkScript[23] == 0x88 && pkScript[24] == 0xac:
		return scriptPubKeyHash
	case len(pkScript) == 23 && pkScript[0] == 0xa9 && pkScript[1] == 0x14 &&
		pkScript[22] == 0x87:
		return scriptScriptHash
	case len(pkScript) == 35 && pkScript[0] == 0x21 && pkScript[34] == 0xac:
		return scriptPubKey
	case len(pkScript) > 0 && pkScript[0] == 0x6a:
		return scriptNullData
	default:
		return scriptUnknown
	}
}

// isDust reports whether txOut's value is so small that spending it back
// would cost more in fees than it's worth at the given relay fee rate
// (spec.md §4.E item 2's "dust threshold"), following the reference
// calculation: 3x the fee a minimal spending input/output pair would pay at
// minRelayTxFee.
func isDust(txOut *wire.TxOut, minRelayTxFee acbcutil.Amount) bool {
	if classifyScript(txOut.PkScript) == scriptNullData {
		return false
	}

	totalSize := 8 + wire.VarIntSerializeSize(uint64(len(txOut.PkScript))) +
		len(txOut.PkScript)
	totalSize += 32 + 4 + 1 + 107 + 4

	byteFee := int64(minRelayTxFee) * int64(totalSize) / 1000
	return txOut.Value < 3*byteFee
}

// checkTransactionStandard enforces spec.md §4.E item 2: every output
// script matches a known template and isn't dust, and the transaction
// version falls within the allow-list.
func checkTransactionStandard(tx *acbcutil.Tx, minRelayTxFee acbcutil.Amount) error {
	msgTx := tx.MsgTx()

	if msgTx.Version > maxStandardVersion {
		return txRuleError(ErrNonStandard, "transaction version is too high")
	}

	for _, txOut := range msgTx.TxOut {
		if len(txOut.PkScript) > maxStandardScriptSize {
			return txRuleError(ErrNonStandard, "output script is too large")
		}
		if classifyScript(txOut.PkScript) == scriptUnknown {
			return txRuleError(ErrNonStandard, "output script is not a standard template")
		}
		if isDust(txOut, minRelayTxFee) {
			return txRuleError(ErrNonStandard, "output value is dust")
		}
	}

	return nil
}
