package ffldb

import (
	"github.com/acbcd/acbcd/chaincfg/chainhash"
	"github.com/acbcd/acbcd/database"
	"github.com/acbcd/acbcd/wire"
)

// BlockLocation identifies where a block or undo record lives on disk: the
// flat file number and the byte offset its {magic, length} record header
// starts at (spec.md §4.D, §6).  The validation core persists one of these
// per blockNode once HAVE_DATA/HAVE_UNDO is set.
type BlockLocation struct {
	FileNum uint32
	Offset  uint32
	Len     uint32
}

func toInternal(loc BlockLocation) blockLocation {
	return blockLocation{blockFileNum: loc.FileNum, fileOffset: loc.Offset, blockLen: loc.Len}
}

func fromInternal(loc blockLocation) BlockLocation {
	return BlockLocation{FileNum: loc.blockFileNum, Offset: loc.fileOffset, Len: loc.blockLen}
}

// Store is the combined flat-file block/undo store and leveldb-backed
// metadata database a BlockChain instance opens at startup (spec.md §4.D
// and §6).  It composes the package's three lower-level pieces — db,
// blockStore, undoStore — behind one facade so blockchain.chainio.go never
// needs to reach into ffldb's unexported internals.
type Store struct {
	metaDB database.DB
	blocks *blockStore
	undo   *undoStore
}

// OpenStore opens (creating if necessary) the metadata database and flat
// files rooted at dbPath, tagging every record with network's magic.
func OpenStore(dbPath string, network wire.BitcoinNet) (*Store, error) {
	metaDB, err := Open(dbPath)
	if err != nil {
		return nil, err
	}
	return &Store{
		metaDB: metaDB,
		blocks: newBlockStore(dbPath, network),
		undo:   newUndoStore(dbPath, network),
	}, nil
}

// MetadataDB returns the leveldb-backed database.DB used for the block
// index, chain state, and UTXO set (spec.md §6).
func (s *Store) MetadataDB() database.DB {
	return s.metaDB
}

// WriteBlock appends a serialized block to the active block file (spec.md
// §4.D's "append-only, sequential write" contract).
func (s *Store) WriteBlock(raw []byte) (BlockLocation, error) {
	loc, err := s.blocks.writeBlock(raw)
	return fromInternal(loc), err
}

// ReadBlock reads a serialized block back from the location previously
// returned by WriteBlock.
func (s *Store) ReadBlock(loc BlockLocation) ([]byte, error) {
	return s.blocks.readBlock(toInternal(loc))
}

// WriteUndo appends a serialized undo record, checksummed against
// prevBlockHash, to the active undo file (spec.md §6).
func (s *Store) WriteUndo(prevBlockHash chainhash.Hash, undo []byte) (BlockLocation, error) {
	loc, err := s.undo.writeUndo(prevBlockHash, undo)
	return fromInternal(loc), err
}

// ReadUndo reads a serialized undo record back and verifies its checksum
// against prevBlockHash.
func (s *Store) ReadUndo(loc BlockLocation, prevBlockHash chainhash.Hash) ([]byte, error) {
	return s.undo.readUndo(toInternal(loc), prevBlockHash)
}

// FlushBlockFile truncates and fsyncs the active block file without closing
// it, the connect-block checkpoint of spec.md §4.D.
func (s *Store) FlushBlockFile() error {
	return s.blocks.flushBlockFile()
}

// Close closes the metadata database.  The flat files themselves have no
// persistent handle to close beyond the active write file, which
// FlushBlockFile already syncs.
func (s *Store) Close() error {
	return s.metaDB.Close()
}

// DeleteBlockFiles removes the blk<fileNum>.dat/rev<fileNum>.dat pair,
// spec.md §4.D's pruning operation's file-deletion step. The caller is
// responsible for first clearing HAVE_DATA/HAVE_UNDO (and the location
// fields) on every BlockIndex entry that pointed into fileNum, so no entry
// ever refers to a file this call has removed.
func (s *Store) DeleteBlockFiles(fileNum uint32) error {
	if err := s.blocks.deleteFileFunc(fileNum); err != nil {
		return err
	}
	return s.undo.deleteFile(fileNum)
}
