package blockchain

import (
	"runtime"
	"sync"

	"github.com/acbcd/acbcd/acbcutil"
)

// SigChecker verifies a single transaction input's script against the
// referenced output, the injected primitive spec.md §4.A calls
// "verify_script": opcode semantics themselves are out of this module's
// scope, so the worker pool below only fans out calls to whatever concrete
// checker the caller supplies.
type SigChecker interface {
	// CheckInput verifies txIn's script at index inputIndex within tx
	// spends utxo correctly given flags.
	CheckInput(tx *acbcutil.Tx, inputIndex int, utxo *UtxoEntry, flags ScriptFlags) error
}

// ScriptFlags is a bitmask of script verification flags, the height/time
// activated rule toggles a SigChecker implementation consults (e.g. P2SH,
// BIP66 strict DER, CHECKSEQUENCEVERIFY).
type ScriptFlags uint32

// txValidateItem holds a transaction along with which input is to be
// validated.
type txValidateItem struct {
	txInIndex int
	tx        *acbcutil.Tx
	utxo      *UtxoEntry
}

// txValidator provides a type which asynchronously validates transaction
// inputs.  It provides several channels for communication which are used to
// signal either an unexpected error while validating, or to signal validation
// has completed (spec.md §4.A's fan-out/fail-fast worker pool, grounded on
// the same shape as btcd's txValidator).
type txValidator struct {
	validateChan chan *txValidateItem
	quitChan     chan struct{}
	resultChan   chan error
	checker      SigChecker
	flags        ScriptFlags
}

// sendResult sends the result of a script validation on the resultChan
// unless a quit signal has already been sent, so workers blocked sending a
// second error after the first arrives don't leak.
func (v *txValidator) sendResult(result error) {
	select {
	case v.resultChan <- result:
	case <-v.quitChan:
	}
}

// validateHandler consumes items from validateChan and checks each input's
// script, reporting the first error it hits and exiting; it sends nothing
// when validateChan drains without error, and exits as soon as quitChan is
// closed by the orchestrator after a failure.
func (v *txValidator) validateHandler() {
	for {
		select {
		case txVI, ok := <-v.validateChan:
			if !ok {
				return
			}

			err := v.checker.CheckInput(txVI.tx, txVI.txInIndex, txVI.utxo, v.flags)
			if err != nil {
				v.sendResult(err)
				return
			}

		case <-v.quitChan:
			return
		}
	}
}

// Validate validates the scripts for all of the passed transaction inputs
// using multiple goroutines, returning as soon as one fails (spec.md §4.A:
// "the first failure cancels every other in-flight check").
func (v *txValidator) Validate(items []*txValidateItem) error {
	if len(items) == 0 {
		return nil
	}

	numCores := runtime.NumCPU()
	if numCores > len(items) {
		numCores = len(items)
	}

	v.validateChan = make(chan *txValidateItem, len(items))
	v.quitChan = make(chan struct{})
	v.resultChan = make(chan error, numCores)

	var wg sync.WaitGroup
	for i := 0; i < numCores; i++ {
		wg.Add(1)
		go func() {
			v.validateHandler()
			wg.Done()
		}()
	}

	go func() {
		wg.Wait()
		close(v.resultChan)
	}()

	go func() {
	feedLoop:
		for _, item := range items {
			select {
			case v.validateChan <- item:
			case <-v.quitChan:
				break feedLoop
			}
		}
		close(v.validateChan)
	}()

	var firstErr error
	for err := range v.resultChan {
		if err != nil && firstErr == nil {
			firstErr = err
			close(v.quitChan)
		}
	}

	return firstErr
}

// ValidateTransactionScript validates every input script of a single
// transaction against view using multiple goroutines (spec.md §4.E item 10's
// "twice: with the node's active policy flags, then with the consensus
// flags"), the mempool's per-transaction counterpart of
// ValidateTransactionScripts.
func ValidateTransactionScript(tx *acbcutil.Tx, view *UtxoViewpoint, flags ScriptFlags, checker SigChecker) error {
	if IsCoinBaseTx(tx.MsgTx()) {
		return nil
	}

	txValItems := make([]*txValidateItem, 0, len(tx.MsgTx().TxIn))
	for txInIdx, txIn := range tx.MsgTx().TxIn {
		utxo := view.LookupEntry(txIn.PreviousOutPoint)
		if utxo == nil {
			str := "unable to find unspent output " +
				txIn.PreviousOutPoint.String() +
				" referenced from transaction " + tx.Hash().String()
			return ruleError(ErrMissingTxOut, str)
		}
		txValItems = append(txValItems, &txValidateItem{
			txInIndex: txInIdx,
			tx:        tx,
			utxo:      utxo,
		})
	}

	validator := newTxValidator(checker, flags)
	return validator.Validate(txValItems)
}

// newTxValidator returns a new instance of txValidator to be used for
// validating transaction scripts asynchronously against the utxos consulted
// through checker.
func newTxValidator(checker SigChecker, flags ScriptFlags) *txValidator {
	return &txValidator{checker: checker, flags: flags}
}

// ValidateTransactionScripts validates the scripts for every input of every
// non-coinbase transaction in the block using multiple goroutines, spec.md
// §4.A's entry point invoked once per candidate block prior to connecting
// it.
func ValidateTransactionScripts(block *acbcutil.Block, utxoView *UtxoViewpoint, flags ScriptFlags, checker SigChecker) error {
	txns := block.Transactions()
	txValItems := make([]*txValidateItem, 0, len(txns))
	for _, tx := range txns {
		if IsCoinBaseTx(tx.MsgTx()) {
			continue
		}

		for txInIdx, txIn := range tx.MsgTx().TxIn {
			utxo := utxoView.LookupEntry(txIn.PreviousOutPoint)
			if utxo == nil {
				str := "unable to find unspent output " +
					txIn.PreviousOutPoint.String() +
					" referenced from transaction " + tx.Hash().String()
				return ruleError(ErrMissingTxOut, str)
			}

			txVI := &txValidateItem{
				txInIndex: txInIdx,
				tx:        tx,
				utxo:      utxo,
			}
			txValItems = append(txValItems, txVI)
		}
	}

	validator := newTxValidator(checker, flags)
	return validator.Validate(txValItems)
}
