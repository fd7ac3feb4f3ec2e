package blockchain

import (
	"github.com/acbcd/acbcd/acbcutil"
	"github.com/acbcd/acbcd/chaincfg/chainhash"
	"github.com/acbcd/acbcd/wire"
)

// utxoFlags tracks the in-memory dirty/fresh/spent bookkeeping a UtxoEntry
// needs so UtxoViewpoint can flush only what changed (spec.md §4.B).
type utxoFlags uint8

const (
	// utxoFlagModified indicates the entry has been changed since it was
	// loaded from the coin view.
	utxoFlagModified utxoFlags = 1 << iota

	// utxoFlagFresh indicates the entry is unknown to the backing coin
	// view, so a flush can skip straight to an insert and never needs to
	// issue a lookup first.
	utxoFlagFresh
)

// UtxoEntry houses details about an individual unspent transaction output,
// spec.md §4.B's Coin: the output's value and script, whether it originated
// from a coinbase transaction (for maturity checks), the height it was
// created at, and whether it has since been spent.
type UtxoEntry struct {
	amount      int64
	pkScript    []byte
	blockHeight int32

	packedFlags utxoFlags
}

// tfCoinBase and tfSpent occupy the bits above utxoFlagModified and
// utxoFlagFresh in the same packedFlags byte.
const (
	tfCoinBase = 1 << (iota + 2)
	tfSpent
)

func newUtxoEntry(amount int64, pkScript []byte, blockHeight int32, isCoinBase bool) *UtxoEntry {
	entry := &UtxoEntry{
		amount:      amount,
		pkScript:    pkScript,
		blockHeight: blockHeight,
	}
	if isCoinBase {
		entry.packedFlags |= utxoFlags(tfCoinBase)
	}
	return entry
}

// IsCoinBase returns whether the output was contained in a coinbase
// transaction (spec.md §3's GLOSSARY, used for maturity enforcement).
func (entry *UtxoEntry) IsCoinBase() bool {
	return entry.packedFlags&utxoFlags(tfCoinBase) != 0
}

// BlockHeight returns the height of the block containing the output.
func (entry *UtxoEntry) BlockHeight() int32 {
	return entry.blockHeight
}

// Amount returns the amount of the output.
func (entry *UtxoEntry) Amount() int64 {
	return entry.amount
}

// PkScript returns the public key script for the output.
func (entry *UtxoEntry) PkScript() []byte {
	return entry.pkScript
}

// Clone returns a deep copy of the entry, used when a view needs to modify
// an entry it doesn't own (e.g. one shared with a parent view).
func (entry *UtxoEntry) Clone() *UtxoEntry {
	if entry == nil {
		return nil
	}
	script := make([]byte, len(entry.pkScript))
	copy(script, entry.pkScript)
	return &UtxoEntry{
		amount:      entry.amount,
		pkScript:    script,
		blockHeight: entry.blockHeight,
		packedFlags: entry.packedFlags,
	}
}

// UtxoViewpoint represents a view into the set of unspent transaction
// outputs, spec.md §4.B: an overlay cache addressed by OutPoint sitting in
// front of the CoinView's on-disk backing store.  Entries mutate in place
// (spend sets the tfSpent flag rather than removing the map entry) until a
// flush discards spent, unmodified entries.
type UtxoViewpoint struct {
	entries  map[wire.OutPoint]*UtxoEntry
	bestHash chainhash.Hash
}

// NewUtxoViewpoint returns a new empty unspent transaction output view.
func NewUtxoViewpoint() *UtxoViewpoint {
	return &UtxoViewpoint{
		entries: make(map[wire.OutPoint]*UtxoEntry),
	}
}

// BestHash returns the hash of the best block in the chain the view
// currently represents.
func (view *UtxoViewpoint) BestHash() *chainhash.Hash {
	return &view.bestHash
}

// SetBestHash sets the hash of the best block in the chain the view
// currently represents.
func (view *UtxoViewpoint) SetBestHash(hash *chainhash.Hash) {
	view.bestHash = *hash
}

// LookupEntry returns information about a given transaction output according
// to the current state of the view, or nil if the output doesn't exist in
// the view (which may mean it's fully spent, or simply not cached yet).
func (view *UtxoViewpoint) LookupEntry(outpoint wire.OutPoint) *UtxoEntry {
	return view.entries[outpoint]
}

// addTxOut adds the specified output if it is not provably unspendable,
// marking it fresh when it isn't already known to the view (spec.md §4.B's
// "add" operation, invoked once per output when a transaction is connected).
func (view *UtxoViewpoint) addTxOut(outpoint wire.OutPoint, txOut *wire.TxOut, isCoinBase bool, blockHeight int32) {
	if IsUnspendable(txOut.PkScript) {
		return
	}

	entry := view.entries[outpoint]
	if entry == nil {
		entry = new(UtxoEntry)
		view.entries[outpoint] = entry
	}

	entry.amount = txOut.Value
	entry.pkScript = txOut.PkScript
	entry.blockHeight = blockHeight
	entry.packedFlags = utxoFlagModified | utxoFlagFresh
	if isCoinBase {
		entry.packedFlags |= utxoFlags(tfCoinBase)
	}
}

// AddTxOuts adds all outputs in the passed transaction to the view (spec.md
// §4.F: connect adds every output of every transaction before it attempts to
// spend any of them, matching the whole-block-atomic semantics).
func (view *UtxoViewpoint) AddTxOuts(tx *acbcutil.Tx, blockHeight int32) {
	isCoinBase := IsCoinBaseTx(tx.MsgTx())
	prevOut := wire.OutPoint{Hash: *tx.Hash()}
	for txOutIdx, txOut := range tx.MsgTx().TxOut {
		prevOut.Index = uint32(txOutIdx)
		view.addTxOut(prevOut, txOut, isCoinBase, blockHeight)
	}
}

// connectTransaction updates the view by marking each input the transaction
// spends as spent, and adding all of its outputs as new unspent outputs
// (spec.md §4.F's connect step for a single transaction).  When stxos is
// non-nil, the spent entries are appended to it so the caller can persist an
// undo record.
func (view *UtxoViewpoint) connectTransaction(tx *acbcutil.Tx, blockHeight int32, stxos *[]SpentTxOut) error {
	if IsCoinBaseTx(tx.MsgTx()) {
		view.AddTxOuts(tx, blockHeight)
		return nil
	}

	for _, txIn := range tx.MsgTx().TxIn {
		entry := view.entries[txIn.PreviousOutPoint]
		if entry == nil {
			return ruleError(ErrMissingTxOut, "view is missing input "+
				txIn.PreviousOutPoint.String())
		}

		if stxos != nil {
			*stxos = append(*stxos, SpentTxOut{
				Amount:     entry.Amount(),
				PkScript:   entry.PkScript(),
				Height:     entry.BlockHeight(),
				IsCoinBase: entry.IsCoinBase(),
			})
		}

		entry.packedFlags |= utxoFlagModified | utxoFlags(tfSpent)
	}

	view.AddTxOuts(tx, blockHeight)
	return nil
}

// connectTransactions updates the view by adding all new utxos created by
// the transactions in the block, spending the referenced utxos, and setting
// the best hash for the view to the passed block (spec.md §4.F).
func (view *UtxoViewpoint) connectTransactions(block *acbcutil.Block, stxos *[]SpentTxOut) error {
	for _, tx := range block.Transactions() {
		if err := view.connectTransaction(tx, block.Height(), stxos); err != nil {
			return err
		}
	}

	blockHash := block.Hash()
	view.SetBestHash(blockHash)
	return nil
}

// disconnectTransactions updates the view by removing all of the transactions
// created by the passed block, restoring all utxos the transactions spent by
// using the provided spent transaction output (stxo) data, and setting the
// best hash for the view to the block's parent (spec.md §4.F's disconnect,
// the inverse operation fed by the flat-file undo record).
func (view *UtxoViewpoint) disconnectTransactions(block *acbcutil.Block, stxos []SpentTxOut) error {
	if len(stxos) != countSpentOutputs(block) {
		return AssertError("disconnectTransactions called with bad stxo data")
	}

	transactions := block.Transactions()
	stxoIdx := len(stxos) - 1
	for txIdx := len(transactions) - 1; txIdx > -1; txIdx-- {
		tx := transactions[txIdx]

		prevOut := wire.OutPoint{Hash: *tx.Hash()}
		for txOutIdx := range tx.MsgTx().TxOut {
			prevOut.Index = uint32(txOutIdx)
			delete(view.entries, prevOut)
		}

		if txIdx == 0 {
			continue
		}

		txIn := tx.MsgTx().TxIn
		for txInIdx := len(txIn) - 1; txInIdx > -1; txInIdx-- {
			stxo := &stxos[stxoIdx]
			stxoIdx--

			originOut := txIn[txInIdx].PreviousOutPoint
			entry := view.entries[originOut]
			if entry == nil {
				entry = new(UtxoEntry)
				view.entries[originOut] = entry
			}

			entry.amount = stxo.Amount
			entry.pkScript = stxo.PkScript
			entry.blockHeight = stxo.Height
			entry.packedFlags = utxoFlagModified
			if stxo.IsCoinBase {
				entry.packedFlags |= utxoFlags(tfCoinBase)
			}
		}
	}

	view.SetBestHash(&block.MsgBlock().Header.PrevBlock)
	return nil
}

// SpentTxOut contains a spent transaction output and potential additional
// data such as whether it was contained in a coinbase transaction, the
// height of the block it was included, and whether it was spent to satisfy
// the undo-record layout of spec.md §6.
type SpentTxOut struct {
	Amount     int64
	PkScript   []byte
	Height     int32
	IsCoinBase bool
}

// countSpentOutputs returns the number of utxos the passed block spends.
func countSpentOutputs(block *acbcutil.Block) int {
	numSpent := 0
	for _, tx := range block.MsgBlock().Transactions[1:] {
		numSpent += len(tx.TxIn)
	}
	return numSpent
}

// fetchUtxoEntry returns the requested unspent transaction output from the
// view, falling back to the coin view's on-disk backing store and caching
// the result, mirroring spec.md §4.B's "access" operation (overlay-then-
// backing-store lookup).
func (view *UtxoViewpoint) fetchUtxoEntry(cv *CoinView, outpoint wire.OutPoint) (*UtxoEntry, error) {
	entry, exists := view.entries[outpoint]
	if exists {
		return entry, nil
	}

	entry, err := cv.FetchEntry(outpoint)
	if err != nil {
		return nil, err
	}
	view.entries[outpoint] = entry
	return entry, nil
}

// FetchUtxoEntry loads and returns the requested unspent transaction output
// from the view's overlay cache, or the backing CoinView if it isn't cached.
// The returned entry (if any) should not be modified by the caller.
func (view *UtxoViewpoint) FetchUtxoEntry(cv *CoinView, outpoint wire.OutPoint) (*UtxoEntry, error) {
	return view.fetchUtxoEntry(cv, outpoint)
}

// fetchInputUtxos loads the unspent transaction outputs for every input
// referenced by the block's transactions that isn't already in the view,
// skipping outputs created within the same block (spec.md §4.E/§4.F: a
// transaction may spend an output created earlier in the same block).
func (view *UtxoViewpoint) fetchInputUtxos(cv *CoinView, block *acbcutil.Block) error {
	txInFlight := map[chainhash.Hash]int{}
	transactions := block.Transactions()
	for i, tx := range transactions {
		txInFlight[*tx.Hash()] = i
	}

	neededSet := make(map[wire.OutPoint]struct{})
	for i, tx := range transactions {
		if i == 0 {
			continue
		}
		for _, txIn := range tx.MsgTx().TxIn {
			if inFlightIndex, ok := txInFlight[txIn.PreviousOutPoint.Hash]; ok &&
				i > inFlightIndex {
				originTx := transactions[inFlightIndex]
				view.AddTxOuts(originTx, block.Height())
				continue
			}
			if _, exists := view.entries[txIn.PreviousOutPoint]; !exists {
				neededSet[txIn.PreviousOutPoint] = struct{}{}
			}
		}
	}

	for outpoint := range neededSet {
		entry, err := cv.FetchEntry(outpoint)
		if err != nil {
			return err
		}
		view.entries[outpoint] = entry
	}
	return nil
}

// FetchInputUtxos is the exported wrapper around fetchInputUtxos, used by
// the block connection path (spec.md §4.F) to warm the view before scripts
// are validated.
func (view *UtxoViewpoint) FetchInputUtxos(cv *CoinView, block *acbcutil.Block) error {
	return view.fetchInputUtxos(cv, block)
}

// Entries returns the underlying map of the view's utxo cache.
func (view *UtxoViewpoint) Entries() map[wire.OutPoint]*UtxoEntry {
	return view.entries
}

// commit prunes fully spent and unmodified entries whose information would
// be of little value to future callers after a flush (spec.md §4.B's "the
// overlay only needs to retain entries a later lookup could still need").
func (view *UtxoViewpoint) commit() {
	for outpoint, entry := range view.entries {
		if entry == nil || (entry.packedFlags&utxoFlags(tfSpent) != 0 &&
			entry.packedFlags&utxoFlagModified == 0) {
			delete(view.entries, outpoint)
			continue
		}

		entry.packedFlags &^= utxoFlagModified | utxoFlagFresh
	}
}

// IsUnspendable determines whether a script is provably unspendable, i.e. an
// OP_RETURN output, so views never bother to cache it (spec.md §4.B).
func IsUnspendable(pkScript []byte) bool {
	return len(pkScript) > 0 && pkScript[0] == 0x6a // OP_RETURN
}

// IsCoinBaseTx determines whether a transaction is a coinbase, i.e. it has a
// single input with a previous output of zero hash and max uint32 index.
func IsCoinBaseTx(msgTx *wire.MsgTx) bool {
	if len(msgTx.TxIn) != 1 {
		return false
	}

	prevOut := &msgTx.TxIn[0].PreviousOutPoint
	return prevOut.Index == ^uint32(0) && prevOut.Hash == zeroHash
}

var zeroHash chainhash.Hash

// AssertError identifies an error that indicates an internal code
// consistency issue and should be treated as a non-recoverable bug, the
// panic-worthy invariant violations spec.md §8 describes as "should never
// happen if the preconditions above hold."
type AssertError string

// Error returns the assertion error as a human-readable string.
func (e AssertError) Error() string {
	return "assertion failed: " + string(e)
}
