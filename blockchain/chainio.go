package blockchain

import (
	"encoding/binary"
	"time"

	"github.com/acbcd/acbcd/acbcutil"
	"github.com/acbcd/acbcd/chaincfg/chainhash"
	"github.com/acbcd/acbcd/database"
	"github.com/acbcd/acbcd/database/ffldb"
	"github.com/acbcd/acbcd/wire"
)

// blockIndexBucketName is the bucket every persisted blockNode lives under,
// keyed by block hash (spec.md §3's BlockIndex, §4.I's "replay the entire
// index at startup").
var blockIndexBucketName = []byte("blockindex")

// blockIndexRecord is the on-disk shape of a blockNode: the header fields
// needed to recompute hash/height/workSum once the parent chain is known,
// plus the validation/storage bookkeeping that isn't derivable from the
// header alone.
type blockIndexRecord struct {
	prevHash    chainhash.Hash
	version     int32
	bits        uint32
	nonce       uint32
	timestamp   int64
	merkleRoot  chainhash.Hash
	status      blockStatus
	fileNum     uint32
	fileOffset  uint32
	fileLen     uint32
	undoFileNum uint32
	undoOffset  uint32
	undoLen     uint32
	nTx         uint32
	nChainTx    uint64
}

// serializeBlockIndexRecord encodes a blockNode's persisted fields (spec.md
// §4.I). The hash itself is the bucket key, not part of the value.
func serializeBlockIndexRecord(node *blockNode) []byte {
	buf := make([]byte, 0, 128)
	parentHash := node.parentHashOrZero()
	buf = append(buf, parentHash[:]...)
	buf = appendUint32(buf, uint32(node.version))
	buf = appendUint32(buf, node.bits)
	buf = appendUint32(buf, node.nonce)
	buf = appendUint64(buf, uint64(node.timestamp))
	buf = append(buf, node.merkleRoot[:]...)
	buf = append(buf, byte(node.status))
	buf = appendUint32(buf, node.fileNum)
	buf = appendUint32(buf, node.fileOffset)
	buf = appendUint32(buf, node.fileLen)
	buf = appendUint32(buf, node.undoFileNum)
	buf = appendUint32(buf, node.undoOffset)
	buf = appendUint32(buf, node.undoLen)
	buf = appendUint32(buf, node.nTx)
	buf = appendUint64(buf, node.nChainTx)
	return buf
}

func appendUint32(buf []byte, v uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return append(buf, b[:]...)
}

func appendUint64(buf []byte, v uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return append(buf, b[:]...)
}

// parentHashOrZero returns the parent's hash, or the zero hash for the
// genesis node (whose wire.BlockHeader.PrevBlock is itself the zero hash).
func (node *blockNode) parentHashOrZero() chainhash.Hash {
	if node.parent == nil {
		return chainhash.Hash{}
	}
	return node.parent.hash
}

// deserializeBlockIndexRecord is the inverse of serializeBlockIndexRecord.
func deserializeBlockIndexRecord(serialized []byte) (blockIndexRecord, error) {
	const fixedLen = chainhash.HashSize + 4 + 4 + 4 + 8 + chainhash.HashSize + 1 +
		4 + 4 + 4 + 4 + 4 + 4 + 4 + 8
	if len(serialized) != fixedLen {
		return blockIndexRecord{}, AssertError("corrupt block index record: bad length")
	}

	var rec blockIndexRecord
	off := 0
	copy(rec.prevHash[:], serialized[off:off+chainhash.HashSize])
	off += chainhash.HashSize
	rec.version = int32(binary.LittleEndian.Uint32(serialized[off:]))
	off += 4
	rec.bits = binary.LittleEndian.Uint32(serialized[off:])
	off += 4
	rec.nonce = binary.LittleEndian.Uint32(serialized[off:])
	off += 4
	rec.timestamp = int64(binary.LittleEndian.Uint64(serialized[off:]))
	off += 8
	copy(rec.merkleRoot[:], serialized[off:off+chainhash.HashSize])
	off += chainhash.HashSize
	rec.status = blockStatus(serialized[off])
	off++
	rec.fileNum = binary.LittleEndian.Uint32(serialized[off:])
	off += 4
	rec.fileOffset = binary.LittleEndian.Uint32(serialized[off:])
	off += 4
	rec.fileLen = binary.LittleEndian.Uint32(serialized[off:])
	off += 4
	rec.undoFileNum = binary.LittleEndian.Uint32(serialized[off:])
	off += 4
	rec.undoOffset = binary.LittleEndian.Uint32(serialized[off:])
	off += 4
	rec.undoLen = binary.LittleEndian.Uint32(serialized[off:])
	off += 4
	rec.nTx = binary.LittleEndian.Uint32(serialized[off:])
	off += 4
	rec.nChainTx = binary.LittleEndian.Uint64(serialized[off:])

	return rec, nil
}

// persistNode writes node's current record to the block index bucket,
// called whenever a node's status or storage location changes.
func (b *BlockChain) persistNode(tx database.Tx, node *blockNode) error {
	bucket, err := tx.Metadata().CreateBucketIfNotExists(blockIndexBucketName)
	if err != nil {
		return err
	}
	key := node.hash
	return bucket.Put(key[:], serializeBlockIndexRecord(node))
}

// flushDirtyNodes persists every node the index has marked dirty since the
// last flush (spec.md §4.D's "the index itself is durable metadata, flushed
// alongside the coin cache").
func (b *BlockChain) flushDirtyNodes() error {
	dirty := b.index.dirtyNodes()
	if len(dirty) == 0 {
		return nil
	}
	return b.store.MetadataDB().Update(func(tx database.Tx) error {
		for _, node := range dirty {
			if err := b.persistNode(tx, node); err != nil {
				return err
			}
		}
		return nil
	})
}

// loadBlockIndex replays every persisted blockIndexRecord into a fresh
// in-memory block index, wiring parent pointers up in height order (spec.md
// §4.I: "rebuild chain_work, time_max, and nChainTx... in height order").
// It returns false if the bucket doesn't exist yet (a brand new database).
func (b *BlockChain) loadBlockIndex() (bool, error) {
	records := make(map[chainhash.Hash]blockIndexRecord)

	err := b.store.MetadataDB().View(func(tx database.Tx) error {
		bucket := tx.Metadata().Bucket(blockIndexBucketName)
		if bucket == nil {
			return nil
		}
		cursor := bucket.Cursor()
		for cursor.Next() {
			var hash chainhash.Hash
			copy(hash[:], cursor.Key())
			rec, err := deserializeBlockIndexRecord(cursor.Value())
			if err != nil {
				return err
			}
			records[hash] = rec
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	if len(records) == 0 {
		return false, nil
	}

	resolved := make(map[chainhash.Hash]*blockNode, len(records))
	remaining := records
	for len(remaining) > 0 {
		progressed := false
		for hash, rec := range remaining {
			var parent *blockNode
			if rec.prevHash != (chainhash.Hash{}) {
				var ok bool
				parent, ok = resolved[rec.prevHash]
				if !ok {
					continue
				}
			}

			header := blockNodeHeader(rec)
			node := newBlockNode(header, parent)
			node.status = rec.status
			node.fileNum = rec.fileNum
			node.fileOffset = rec.fileOffset
			node.fileLen = rec.fileLen
			node.undoFileNum = rec.undoFileNum
			node.undoOffset = rec.undoOffset
			node.undoLen = rec.undoLen
			node.nTx = rec.nTx
			node.nChainTx = rec.nChainTx
			node.sequence = b.index.nextNodeSequence()
			buildSkip(node)

			b.index.AddNode(node)
			resolved[hash] = node
			delete(remaining, hash)
			progressed = true
		}
		if !progressed {
			return false, AssertError("block index contains an unresolvable parent chain")
		}
	}

	for _, node := range resolved {
		b.index.maybeAddCandidate(node, nil)
	}

	return true, nil
}

// blockNodeHeader reconstructs the wire.BlockHeader a blockIndexRecord
// carries, for feeding back through newBlockNode during load.
func blockNodeHeader(rec blockIndexRecord) *wire.BlockHeader {
	return &wire.BlockHeader{
		Version:    rec.version,
		PrevBlock:  rec.prevHash,
		MerkleRoot: rec.merkleRoot,
		Timestamp:  time.Unix(rec.timestamp, 0),
		Bits:       rec.bits,
		Nonce:      rec.nonce,
	}
}

// initChainState loads persisted chain state at startup, or bootstraps a
// brand-new database with the genesis block (spec.md §4.I).
func (b *BlockChain) initChainState() error {
	hadIndex, err := b.loadBlockIndex()
	if err != nil {
		return err
	}

	if !hadIndex {
		return b.createGenesisState()
	}

	bestHash, _, err := b.coinView.BestBlock()
	if err != nil {
		return err
	}

	tip := b.index.LookupNode(&bestHash)
	if tip == nil {
		return AssertError("coin view best block is not present in the block index")
	}

	b.bestChain = newChainView(tip)
	b.index.pruneWorseCandidates(tip)

	rawBlock, err := b.loadBlock(tip)
	if err != nil {
		return err
	}
	blockSize := uint64(rawBlock.MsgBlock().SerializeSize())
	b.setStateSnapshot(newBestState(tip, blockSize, uint64(tip.nTx), tip.nChainTx))

	return nil
}

// VerifyDBErrorCode distinguishes an on-disk inconsistency detected by
// VerifyDB from the plumbing (I/O) failures that can also surface from it
// (spec.md §4.I's "Exit codes from verify_db": 0 success, 1 inconsistency
// detected, 2 I/O error).
type VerifyDBErrorCode int

const (
	// VerifyDBOK indicates verification completed with no inconsistency.
	VerifyDBOK VerifyDBErrorCode = iota

	// VerifyDBInconsistent indicates a cross-check failed: a stored block's
	// hash didn't match its index entry, an undo record didn't deserialize,
	// or a disconnect/reconnect round-trip left the chain in a different
	// state than it started in.
	VerifyDBInconsistent

	// VerifyDBIOError indicates reading a block or undo record from the
	// flat-file store failed outright.
	VerifyDBIOError
)

// VerifyDBError reports which of VerifyDB's cross-checks failed and why.
type VerifyDBError struct {
	Code VerifyDBErrorCode
	Err  error
}

func (e *VerifyDBError) Error() string { return e.Err.Error() }
func (e *VerifyDBError) Unwrap() error { return e.Err }

// VerifyDB replays up to depth blocks below the active tip with cross-checks
// at four increasing levels of thoroughness (spec.md §4.I):
//
//  1. re-check each block's stored bytes against its index entry
//  2. re-read each block's undo record
//  3. disconnect each block in memory and immediately reconnect it
//  4. disconnect the entire range, then reconnect it forward to the tip
//
// Level n implies every check at level < n. depth is clamped to the active
// chain's height; level below 1 or above 4 is clamped into range.
func (b *BlockChain) VerifyDB(depth int32, level int, diffCalc DifficultyCalculator) *VerifyDBError {
	if level < 1 {
		level = 1
	}
	if level > 4 {
		level = 4
	}

	tip := b.bestChain.Tip()
	if tip == nil {
		return nil
	}
	if depth > tip.height {
		depth = tip.height
	}

	var nodes []*blockNode
	for n := tip; n != nil && tip.height-n.height < depth; n = n.parent {
		nodes = append(nodes, n)
	}

	stats, err := b.coinView.FetchUtxoStats()
	if err != nil {
		return &VerifyDBError{VerifyDBIOError, err}
	}
	if !stats.BestHash.IsEqual(&tip.hash) || stats.Height != tip.height {
		return &VerifyDBError{VerifyDBInconsistent, AssertError(
			"coin view best block does not match the active chain tip")}
	}

	for _, node := range nodes {
		block, err := b.loadBlock(node)
		if err != nil {
			return &VerifyDBError{VerifyDBIOError, err}
		}
		if !block.Hash().IsEqual(&node.hash) {
			return &VerifyDBError{VerifyDBInconsistent, AssertError(
				"stored block for " + node.hash.String() + " deserialized to a different hash")}
		}
		if err := checkBlockSanity(block, b.chainParams.PowLimit, b.timeSource); err != nil {
			return &VerifyDBError{VerifyDBInconsistent, err}
		}

		if level < 2 {
			continue
		}
		if node.status.HaveUndo() {
			loc := ffldb.BlockLocation{FileNum: node.undoFileNum, Offset: node.undoOffset, Len: node.undoLen}
			parentHash := node.parentHashOrZero()
			undoBytes, err := b.store.ReadUndo(loc, parentHash)
			if err != nil {
				return &VerifyDBError{VerifyDBIOError, err}
			}
			if _, err := deserializeUndoData(undoBytes); err != nil {
				return &VerifyDBError{VerifyDBInconsistent, err}
			}
		}
	}

	if level < 3 || len(nodes) == 0 {
		return nil
	}

	for _, node := range nodes {
		if node.parent == nil {
			continue
		}
		if err := b.roundTripDisconnectReconnect(node); err != nil {
			return &VerifyDBError{VerifyDBInconsistent, err}
		}
	}
	if level == 3 {
		return nil
	}

	deepest := nodes[len(nodes)-1]
	if deepest.parent == nil {
		return nil
	}
	startTip := tip
	for i := 0; i < len(nodes); i++ {
		node := nodes[i]
		block, err := b.loadBlock(node)
		if err != nil {
			return &VerifyDBError{VerifyDBIOError, err}
		}
		view := NewUtxoViewpoint()
		view.SetBestHash(&node.hash)
		if err := b.disconnectBlock(node, block, view); err != nil {
			return &VerifyDBError{VerifyDBInconsistent, err}
		}
	}

	if _, err := b.activateBestChain(diffCalc); err != nil {
		return &VerifyDBError{VerifyDBInconsistent, err}
	}
	if newTip := b.bestChain.Tip(); newTip == nil || !newTip.hash.IsEqual(&startTip.hash) {
		return &VerifyDBError{VerifyDBInconsistent, AssertError(
			"chain tip after verify_db's forward replay does not match the original tip")}
	}

	return nil
}

// roundTripDisconnectReconnect disconnects node and immediately reconnects
// it, verifying the tip ends up exactly where it started (spec.md §4.I
// level 3's "disconnect in memory and reconnect").
func (b *BlockChain) roundTripDisconnectReconnect(node *blockNode) error {
	block, err := b.loadBlock(node)
	if err != nil {
		return err
	}

	disconnectView := NewUtxoViewpoint()
	disconnectView.SetBestHash(&node.hash)
	if err := b.disconnectBlock(node, block, disconnectView); err != nil {
		return err
	}

	reconnectView := NewUtxoViewpoint()
	reconnectView.SetBestHash(&node.parent.hash)
	if err := reconnectView.FetchInputUtxos(b.coinView, block); err != nil {
		return err
	}
	if err := b.checkConnectBlock(node, block, reconnectView); err != nil {
		return err
	}
	var stxos []SpentTxOut
	if err := reconnectView.connectTransactions(block, &stxos); err != nil {
		return err
	}
	return b.connectBlock(node, block, reconnectView, stxos)
}

// createGenesisState bootstraps an empty database: the genesis block is
// written to the flat file, its index entry persisted, and its coinbase
// output added to the UTXO set, becoming the chain's sole block (spec.md
// §4.I's degenerate "height 0" case).
func (b *BlockChain) createGenesisState() error {
	genesisMsg := b.chainParams.GenesisBlock
	genesisBlock := acbcutil.NewBlock(genesisMsg)
	genesisBlock.SetHeight(0)

	node := newBlockNode(&genesisMsg.Header, nil)
	node.status = statusDataStored | statusValidTree | statusValidTransactions |
		statusValidChain | statusValidScripts
	node.nTx = uint32(len(genesisMsg.Transactions))
	node.nChainTx = uint64(node.nTx)
	node.sequence = b.index.nextNodeSequence()
	b.index.AddNode(node)

	raw, err := serializeBlock(genesisBlock)
	if err != nil {
		return err
	}
	loc, err := b.store.WriteBlock(raw)
	if err != nil {
		return err
	}
	node.fileNum = loc.FileNum
	node.fileOffset = loc.Offset
	node.fileLen = loc.Len

	view := NewUtxoViewpoint()
	view.AddTxOuts(genesisBlock.Transactions()[0], 0)
	view.SetBestHash(&node.hash)
	if err := b.coinView.Flush(view, 0); err != nil {
		return err
	}

	if err := b.flushDirtyNodes(); err != nil {
		return err
	}

	b.bestChain = newChainView(node)
	b.index.maybeAddCandidate(node, nil)

	blockSize := uint64(genesisMsg.SerializeSize())
	b.setStateSnapshot(newBestState(node, blockSize, uint64(node.nTx), node.nChainTx))

	return nil
}
