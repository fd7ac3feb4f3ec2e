package blockchain

import (
	"fmt"
	"math/big"
	"time"

	"github.com/acbcd/acbcd/acbcutil"
	"github.com/acbcd/acbcd/chaincfg/chainhash"
	"github.com/acbcd/acbcd/wire"
)

// DifficultyCalculator is the injected proof-of-work retarget primitive
// (spec.md §1: "proof-of-work difficulty retargeting primitive... assumed
// as a primitive"). checkBlockHeaderContext consults it rather than
// reimplementing any particular retarget algorithm.
type DifficultyCalculator interface {
	// CalcNextRequiredDifficulty returns the nBits value required of the
	// block that extends lastNode, given newBlockTime.
	CalcNextRequiredDifficulty(lastNode *blockNode, newBlockTime time.Time) (uint32, error)
}

// checkProofOfWork verifies the block hash satisfies the claimed difficulty
// target and that the target itself doesn't exceed the network's
// proof-of-work limit (spec.md §4.H's "proof-of-work matches claimed nBits").
func checkProofOfWork(header *wire.BlockHeader, powLimit *big.Int) error {
	target := compactToBig(header.Bits)

	if target.Sign() <= 0 {
		str := "block target difficulty is too low"
		return ruleError(ErrUnexpectedDifficulty, str)
	}
	if target.Cmp(powLimit) > 0 {
		str := "block target difficulty is higher than max allowed"
		return ruleError(ErrUnexpectedDifficulty, str)
	}

	hash := header.BlockHash()
	hashNum := hashToBig(&hash)
	if hashNum.Cmp(target) > 0 {
		str := fmt.Sprintf("block hash of %064x is higher than expected max of %064x",
			hashNum, target)
		return ruleError(ErrHighHash, str)
	}

	return nil
}

// checkBlockHeaderSanity performs context-free checks against a block
// header: proof-of-work, and an upper bound on its timestamp (spec.md §4.H).
func checkBlockHeaderSanity(header *wire.BlockHeader, powLimit *big.Int, timeSource MedianTimeSource) error {
	if err := checkProofOfWork(header, powLimit); err != nil {
		return err
	}

	maxTimestamp := timeSource.AdjustedTime().Add(MaxTimeOffsetDuration)
	if header.Timestamp.After(maxTimestamp) {
		str := "block timestamp of too far in the future"
		return ruleError(ErrTimeTooNew, str)
	}

	return nil
}

// checkBlockHeaderContext enforces accept_header's contextual rules (spec.md
// §4.H): the claimed difficulty must match the retarget rule, the timestamp
// must exceed the parent's median-time-past, and the version must meet the
// height-activated floor.
func checkBlockHeaderContext(header *wire.BlockHeader, prevNode *blockNode, diffCalc DifficultyCalculator) error {
	expectedDifficulty, err := diffCalc.CalcNextRequiredDifficulty(prevNode, header.Timestamp)
	if err != nil {
		return err
	}
	if header.Bits != expectedDifficulty {
		str := fmt.Sprintf("block difficulty of %d is not the expected value of %d",
			header.Bits, expectedDifficulty)
		return ruleError(ErrUnexpectedDifficulty, str)
	}

	medianTime := prevNode.CalcPastMedianTime()
	if !header.Timestamp.After(medianTime) {
		str := "block timestamp is not after expected"
		return ruleError(ErrTimeTooOld, str)
	}

	if blockVersionFloor(prevNode.height+1) > header.Version {
		str := fmt.Sprintf("new blocks with version %d are no longer valid",
			header.Version)
		return ruleError(ErrBlockVersionTooOld, str)
	}

	return nil
}

// blockVersionFloor is the minimum block version accepted at height, a
// placeholder for any BIP9-unrelated version-bump soft fork (e.g. BIP34);
// none is modeled here beyond the trivial floor of 1.
func blockVersionFloor(height int32) int32 {
	return 1
}

// checkBlockSanity performs context-free checks against an entire block:
// the header, then Merkle root, coinbase shape, and every transaction's own
// context-free checks (spec.md §4.F step 1, §4.H's "full block-level
// check").
func checkBlockSanity(block *acbcutil.Block, powLimit *big.Int, timeSource MedianTimeSource) error {
	msgBlock := block.MsgBlock()
	header := &msgBlock.Header
	if err := checkBlockHeaderSanity(header, powLimit, timeSource); err != nil {
		return err
	}

	numTx := len(msgBlock.Transactions)
	if numTx == 0 {
		return ruleError(ErrNoTransactions, "block does not contain any transactions")
	}

	serializedSize := msgBlock.SerializeSize()
	if serializedSize > MaxBlockSize {
		str := "serialized block is too big"
		return ruleError(ErrBlockTooBig, str)
	}

	transactions := block.Transactions()
	if !IsCoinBaseTx(transactions[0].MsgTx()) {
		return ruleError(ErrFirstTxNotCoinbase, "first transaction in block is not a coinbase")
	}

	for _, tx := range transactions[1:] {
		if IsCoinBaseTx(tx.MsgTx()) {
			return ruleError(ErrMultipleCoinbases, "block contains second coinbase")
		}
	}

	for _, tx := range transactions {
		if err := CheckTransactionSanity(tx); err != nil {
			return err
		}
	}

	existingTxHashes := make(map[chainhash.Hash]struct{}, numTx)
	txLeaves := make([]chainhash.Hash, 0, numTx)
	for _, tx := range transactions {
		h := *tx.Hash()
		if _, dup := existingTxHashes[h]; dup {
			return ruleErrorCorrupt(ErrBadMerkleRoot, "block contains duplicate transaction")
		}
		existingTxHashes[h] = struct{}{}
		txLeaves = append(txLeaves, h)
	}

	calculatedRoot := calcMerkleRoot(txLeaves)
	if !header.MerkleRoot.IsEqual(&calculatedRoot) {
		str := "block merkle root is invalid"
		return ruleErrorCorrupt(ErrBadMerkleRoot, str)
	}

	return nil
}

// CheckTransactionSanity performs context-free checks against a single
// transaction (spec.md §4.E item 1, reused by §4.F step 1's per-tx
// re-check): non-empty vin/vout, each output in [0, MaxSatoshi], no
// overflow, no duplicate inputs, no null prevouts outside a coinbase.
// Exported for mempool's own context-free admission stage.
func CheckTransactionSanity(tx *acbcutil.Tx) error {
	msgTx := tx.MsgTx()

	if len(msgTx.TxIn) == 0 {
		return ruleError(ErrNoTxInputs, "transaction has no inputs")
	}
	if len(msgTx.TxOut) == 0 {
		return ruleError(ErrNoTxOutputs, "transaction has no outputs")
	}

	var totalSatoshi int64
	for _, txOut := range msgTx.TxOut {
		if txOut.Value < 0 {
			str := "transaction output has negative value"
			return ruleError(ErrBadTxOutValue, str)
		}
		if txOut.Value > acbcutil.MaxSatoshi {
			str := "transaction output value exceeds max allowed"
			return ruleError(ErrBadTxOutValue, str)
		}

		totalSatoshi += txOut.Value
		if totalSatoshi < 0 || totalSatoshi > acbcutil.MaxSatoshi {
			str := "total value of all transaction outputs overflows"
			return ruleError(ErrBadTxOutValue, str)
		}
	}

	existingOutpoints := make(map[wire.OutPoint]struct{}, len(msgTx.TxIn))
	for _, txIn := range msgTx.TxIn {
		if _, dup := existingOutpoints[txIn.PreviousOutPoint]; dup {
			return ruleError(ErrDuplicateTxInputs, "transaction contains duplicate inputs")
		}
		existingOutpoints[txIn.PreviousOutPoint] = struct{}{}
	}

	isCoinBase := IsCoinBaseTx(msgTx)
	if isCoinBase {
		slen := len(msgTx.TxIn[0].SignatureScript)
		if slen < 2 || slen > 100 {
			str := "coinbase transaction script length is out of range"
			return ruleError(ErrBadCoinbaseScriptLen, str)
		}
	} else {
		for _, txIn := range msgTx.TxIn {
			if isNullOutpoint(&txIn.PreviousOutPoint) {
				str := "transaction input refers to previous output that is null"
				return ruleError(ErrBadTxInput, str)
			}
		}
	}

	return nil
}

func isNullOutpoint(outpoint *wire.OutPoint) bool {
	return outpoint.Index == ^uint32(0) && outpoint.Hash == zeroHash
}

// calcMerkleRoot builds a bitcoin-style binary Merkle tree over leaves
// (double sha256, odd level duplicates the final node) and returns its
// root.
func calcMerkleRoot(leaves []chainhash.Hash) chainhash.Hash {
	if len(leaves) == 0 {
		return chainhash.Hash{}
	}

	level := make([]chainhash.Hash, len(leaves))
	copy(level, leaves)

	for len(level) > 1 {
		if len(level)%2 != 0 {
			level = append(level, level[len(level)-1])
		}
		next := make([]chainhash.Hash, len(level)/2)
		for i := range next {
			var buf [chainhash.HashSize * 2]byte
			copy(buf[:chainhash.HashSize], level[i*2][:])
			copy(buf[chainhash.HashSize:], level[i*2+1][:])
			next[i] = chainhash.DoubleHashH(buf[:])
		}
		level = next
	}

	return level[0]
}

// hashToBig interprets a block hash as a big-endian-reversed big.Int, the
// conventional way a double-sha256 digest's "numeric value" is derived for
// proof-of-work comparison against a compact target.
func hashToBig(hash *chainhash.Hash) *big.Int {
	buf := *hash
	for i := 0; i < len(buf)/2; i++ {
		buf[i], buf[len(buf)-1-i] = buf[len(buf)-1-i], buf[i]
	}
	return new(big.Int).SetBytes(buf[:])
}

// checkSerializedHeight verifies the BIP34 coinbase-height commitment: the
// coinbase signature script must begin with a direct data push whose
// little-endian value is the block height (spec.md §4.H's "BIP34
// coinbase-height prefix").  Whether that push is minimal is not checked.
func checkSerializedHeight(coinbaseTx *acbcutil.Tx, wantHeight int32) error {
	sigScript := coinbaseTx.MsgTx().TxIn[0].SignatureScript
	serializedHeight, err := extractCoinbaseHeight(sigScript)
	if err != nil {
		return err
	}
	if serializedHeight != wantHeight {
		str := "block height mismatch in coinbase"
		return ruleError(ErrBadCoinbaseHeight, str)
	}
	return nil
}

// extractCoinbaseHeight parses the height pushed at the start of a
// coinbase's signature script: OP_0 for zero, or a direct push of 1-75
// bytes read as a little-endian integer.
func extractCoinbaseHeight(sigScript []byte) (int32, error) {
	if len(sigScript) < 1 {
		return 0, ruleError(ErrBadCoinbaseHeight, "coinbase signature script is too short")
	}

	opcode := sigScript[0]
	if opcode == 0x00 {
		return 0, nil
	}
	if opcode >= 0x01 && opcode <= 0x4b {
		if len(sigScript) < int(opcode)+1 {
			return 0, ruleError(ErrBadCoinbaseHeight, "coinbase signature script is malformed")
		}
		var height int64
		for i := int(opcode) - 1; i >= 0; i-- {
			height = height<<8 | int64(sigScript[1+i])
		}
		return int32(height), nil
	}

	return 0, ruleError(ErrBadCoinbaseHeight, "block height is not minimally encoded")
}
