package blockchain

import (
	"github.com/acbcd/acbcd/acbcutil"
	"github.com/acbcd/acbcd/chaincfg"
	"github.com/acbcd/acbcd/wire"
)

// Legacy opcodes relevant to signature-operation counting (spec.md §4.F.4's
// "MAX_BLOCK_SIGOPS_PER_MB-scaled limit").  These mirror the standard
// Bitcoin script opcode values; the validation core doesn't otherwise need
// an opcode table, so the handful used here are declared locally rather
// than pulling in a full script-interpreter dependency.
const (
	opFalse               = 0x00
	op1                   = 0x51
	op16                  = 0x60
	opCheckSig            = 0xac
	opCheckSigVerify      = 0xad
	opCheckMultiSig       = 0xae
	opCheckMultiSigVerify = 0xaf
)

// CountSigOps returns the number of signature operations in script,
// following Bitcoin's legacy (non-precise) counting rule: every
// CHECKSIG(VERIFY) counts once, every CHECKMULTISIG(VERIFY) counts twenty
// unless accurate is true and it's immediately preceded by a small-integer
// push, in which case it counts that many. Exported so mempool admission can
// apply the same per-transaction sigop budget the block connect path does.
func CountSigOps(script []byte, accurate bool) int {
	numSigOps := 0
	prevOp := -1
	for i := 0; i < len(script); i++ {
		op := int(script[i])
		switch {
		case op == opCheckSig || op == opCheckSigVerify:
			numSigOps++
		case op == opCheckMultiSig || op == opCheckMultiSigVerify:
			if accurate && prevOp >= op1 && prevOp <= op16 {
				numSigOps += prevOp - (op1 - 1)
			} else {
				numSigOps += 20
			}
		case op > opFalse && op < op1:
			// Data push; skip the pushed bytes so they're never
			// misread as opcodes.
			i += op
		}
		prevOp = op
	}
	return numSigOps
}

// blockSigOpCount returns the total legacy signature-operation count across
// every transaction in the block, counting both the scriptSig (accurately,
// since it may push the exact CHECKMULTISIG operand count) and the scriptPubKey
// of whatever it spends via view.
func blockSigOpCount(block *acbcutil.Block, view *UtxoViewpoint) (int, error) {
	total := 0
	for _, tx := range block.Transactions() {
		msgTx := tx.MsgTx()
		for _, txOut := range msgTx.TxOut {
			total += CountSigOps(txOut.PkScript, false)
		}
		if IsCoinBaseTx(msgTx) {
			continue
		}
		for _, txIn := range msgTx.TxIn {
			entry := view.LookupEntry(txIn.PreviousOutPoint)
			if entry == nil {
				str := "output " + txIn.PreviousOutPoint.String() +
					" referenced from transaction " + tx.Hash().String() +
					" either does not exist or has already been spent"
				return 0, ruleError(ErrMissingTxOut, str)
			}
			total += CountSigOps(entry.PkScript(), true)
		}
	}
	return total, nil
}

// checkBIP30 enforces that none of the block's transactions creates an
// output whose txid collides with an existing, still-unspent output (spec.md
// §4.F's historical BIP30 duplicate-transaction-id rule).  The two
// historical exceptions (the BIP30-violating pre-BIP34 coinbases at heights
// 91842 and 91880 on the reference network) are deliberately not modeled —
// this build is a distilled single-network core, not a full mainnet replay.
func checkBIP30(block *acbcutil.Block, view *UtxoViewpoint, cv *CoinView) error {
	for _, tx := range block.Transactions() {
		prevOut := wire.OutPoint{Hash: *tx.Hash()}
		for txOutIdx := range tx.MsgTx().TxOut {
			prevOut.Index = uint32(txOutIdx)
			entry, err := view.FetchUtxoEntry(cv, prevOut)
			if err != nil {
				return err
			}
			if entry != nil {
				str := "tried to overwrite transaction " + tx.Hash().String() +
					" that is not fully spent"
				return ruleError(ErrOverwriteTx, str)
			}
		}
	}
	return nil
}

// checkConnectInputs enforces the rules of spec.md §4.F step 3 that depend
// on the UTXO view being fully populated: every spent output must exist and
// not be immature, and the block's total fees plus the fixed subsidy must
// cover (or exceed) what the coinbase actually pays out.  It returns the
// total fees collected, which the caller may use for the coinbase-value
// check or for mempool priority accounting.
func checkConnectInputs(block *acbcutil.Block, node *blockNode, view *UtxoViewpoint, params *chaincfg.Params) (int64, error) {
	var totalFees int64

	transactions := block.Transactions()
	for _, tx := range transactions[1:] {
		msgTx := tx.MsgTx()

		var totalIn int64
		for _, txIn := range msgTx.TxIn {
			entry := view.LookupEntry(txIn.PreviousOutPoint)
			if entry == nil {
				str := "unable to find unspent output " +
					txIn.PreviousOutPoint.String() + " referenced from transaction " +
					tx.Hash().String()
				return 0, ruleError(ErrMissingTxOut, str)
			}

			if entry.IsCoinBase() {
				originHeight := entry.BlockHeight()
				blocksSincePrev := node.height - originHeight
				if blocksSincePrev < CoinbaseMaturity {
					str := "tried to spend coinbase transaction output " +
						txIn.PreviousOutPoint.String() + " from height " +
						"before required maturity"
					return 0, ruleError(ErrImmatureSpend, str)
				}
			}

			totalIn += entry.Amount()
			if totalIn < 0 || totalIn > acbcutil.MaxSatoshi {
				str := "total value of all transaction inputs overflows"
				return 0, ruleError(ErrBadTxOutValue, str)
			}
		}

		var totalOut int64
		for _, txOut := range msgTx.TxOut {
			totalOut += txOut.Value
		}

		if totalIn < totalOut {
			str := "transaction " + tx.Hash().String() +
				" spends more than its inputs provide"
			return 0, ruleError(ErrSpendTooHigh, str)
		}

		totalFees += totalIn - totalOut
		if totalFees < 0 || totalFees > acbcutil.MaxSatoshi {
			str := "total fees for block overflows"
			return 0, ruleError(ErrBadFees, str)
		}
	}

	var coinbaseOut int64
	for _, txOut := range transactions[0].MsgTx().TxOut {
		coinbaseOut += txOut.Value
	}
	expectedSubsidy := params.TotalSubsidy(node.height)
	if coinbaseOut > expectedSubsidy+totalFees {
		str := "coinbase pays too much"
		return 0, ruleError(ErrBadCoinbaseValue, str)
	}

	sigOps, err := blockSigOpCount(block, view)
	if err != nil {
		return 0, err
	}
	sizeMB := (block.MsgBlock().SerializeSize() + 999999) / 1000000
	if sizeMB < 1 {
		sizeMB = 1
	}
	if sigOps > sizeMB*MaxBlockSigOpsPerMB {
		str := "block contains too many signature operations"
		return 0, ruleError(ErrTooManySigOps, str)
	}

	return totalFees, nil
}
