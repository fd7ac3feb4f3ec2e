package ffldb

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	"github.com/acbcd/acbcd/chaincfg/chainhash"
	"github.com/acbcd/acbcd/database"
	"github.com/acbcd/acbcd/wire"
)

// undoStore manages the companion rev<NNNNN>.dat files (spec.md §6's undo
// file format).  It shares the {magic, length} record-header convention and
// the roll/preallocate discipline of blockStore but, because undo data is
// read far less often than block data (only on disconnect), it forgoes the
// read-file LRU cache in favor of opening a handle per read.
type undoStore struct {
	network          wire.BitcoinNet
	basePath         string
	maxUndoFileSize  uint32
	writeCursor      *writeCursor
	openWriteFileFunc func(fileNum uint32) (filer, error)
}

func undoFilePath(basePath string, fileNum uint32) string {
	return filepath.Join(basePath, fmt.Sprintf("rev%05d.dat", fileNum))
}

func newUndoStore(basePath string, network wire.BitcoinNet) *undoStore {
	s := &undoStore{
		network:         network,
		basePath:        basePath,
		maxUndoFileSize: maxBlockFileSize,
		writeCursor:     &writeCursor{},
	}
	s.openWriteFileFunc = s.openWriteFile
	return s
}

func (s *undoStore) openWriteFile(fileNum uint32) (filer, error) {
	f, err := os.OpenFile(undoFilePath(s.basePath, fileNum), os.O_RDWR|os.O_CREATE, 0666)
	if err != nil {
		return nil, database.NewErr(database.ErrDriverSpecific, err.Error())
	}
	return f, nil
}

func (s *undoStore) findPos(sizeNeeded uint32) (uint32, uint32, error) {
	wc := s.writeCursor
	wc.Lock()
	defer wc.Unlock()

	if wc.curFile == nil || wc.curOffset+sizeNeeded > s.maxUndoFileSize {
		if wc.curFile != nil {
			if err := wc.curFile.file.Truncate(int64(wc.curOffset)); err != nil {
				return 0, 0, database.NewErr(database.ErrDriverSpecific, err.Error())
			}
			if err := wc.curFile.file.Sync(); err != nil {
				return 0, 0, database.NewErr(database.ErrDriverSpecific, err.Error())
			}
			wc.curFile.file.Close()
			wc.curFileNum++
			wc.curOffset = 0
		}
		nf, err := s.openWriteFileFunc(wc.curFileNum)
		if err != nil {
			return 0, 0, err
		}
		wc.curFile = &lockableFile{file: nf}
	}

	needed := int64(wc.curOffset) + int64(sizeNeeded)
	if err := preallocate(wc.curFile.file, needed, undoPreallocChunk); err != nil {
		return 0, 0, err
	}

	fileNum := wc.curFileNum
	offset := wc.curOffset
	wc.curOffset += sizeNeeded
	return fileNum, offset, nil
}

// writeUndo serializes undoBytes to the active undo file as
// magic(4) | length(4, LE) | undo_bytes | sha256d(prevBlockHash || undo_bytes),
// exactly the layout spec.md §6 requires for compatibility.
func (s *undoStore) writeUndo(prevBlockHash chainhash.Hash, undoBytes []byte) (blockLocation, error) {
	checksum := chainhash.DoubleHashB(append(prevBlockHash.CloneBytes(), undoBytes...))
	fullLen := uint32(8 + len(undoBytes) + len(checksum))

	fileNum, offset, err := s.findPos(fullLen)
	if err != nil {
		return blockLocation{}, err
	}

	s.writeCursor.RLock()
	f := s.writeCursor.curFile.file
	s.writeCursor.RUnlock()

	if err := writeRecordHeader(f, int64(offset), s.network, uint32(len(undoBytes))); err != nil {
		return blockLocation{}, database.NewErr(database.ErrDriverSpecific, err.Error())
	}
	if _, err := f.WriteAt(undoBytes, int64(offset)+8); err != nil {
		return blockLocation{}, database.NewErr(database.ErrDriverSpecific, err.Error())
	}
	if _, err := f.WriteAt(checksum, int64(offset)+8+int64(len(undoBytes))); err != nil {
		return blockLocation{}, database.NewErr(database.ErrDriverSpecific, err.Error())
	}

	return blockLocation{blockFileNum: fileNum, fileOffset: offset, blockLen: uint32(len(undoBytes))}, nil
}

// readUndo reads back the undo bytes at loc, verifying the record header and
// the trailing checksum against prevBlockHash.  A checksum mismatch or short
// read is reported as database.ErrCorruption so the caller can distinguish
// an UNCLEAN disconnect from a FAILED one (spec.md §4.F).
func (s *undoStore) readUndo(loc blockLocation, prevBlockHash chainhash.Hash) ([]byte, error) {
	f, err := os.Open(undoFilePath(s.basePath, loc.blockFileNum))
	if err != nil {
		return nil, database.NewErr(database.ErrCorruption, err.Error())
	}
	defer f.Close()

	var hdr [8]byte
	if _, err := f.ReadAt(hdr[:], int64(loc.fileOffset)); err != nil {
		return nil, database.NewErr(database.ErrCorruption, "short undo record header: "+err.Error())
	}
	net := wire.BitcoinNet(binary.LittleEndian.Uint32(hdr[0:4]))
	length := binary.LittleEndian.Uint32(hdr[4:8])
	if net != s.network {
		return nil, database.NewErr(database.ErrCorruption, "undo record has wrong network magic")
	}
	if length != loc.blockLen {
		return nil, database.NewErr(database.ErrCorruption, "undo record length mismatch")
	}

	undoBytes := make([]byte, length)
	if _, err := f.ReadAt(undoBytes, int64(loc.fileOffset)+8); err != nil {
		return nil, database.NewErr(database.ErrCorruption, "truncated undo record: "+err.Error())
	}

	checksum := make([]byte, chainhash.HashSize)
	if _, err := f.ReadAt(checksum, int64(loc.fileOffset)+8+int64(length)); err != nil {
		return nil, database.NewErr(database.ErrCorruption, "truncated undo checksum: "+err.Error())
	}
	want := chainhash.DoubleHashB(append(prevBlockHash.CloneBytes(), undoBytes...))
	if !bytesEqual(checksum, want) {
		return nil, database.NewErr(database.ErrCorruption, "undo checksum mismatch")
	}

	return undoBytes, nil
}

// deleteFile removes the rev<fileNum>.dat file, used by pruning (spec.md
// §4.D). A file number that was never written (the pairing held only block
// data, no undo data) is not an error.
func (s *undoStore) deleteFile(fileNum uint32) error {
	if err := os.Remove(undoFilePath(s.basePath, fileNum)); err != nil && !os.IsNotExist(err) {
		return database.NewErr(database.ErrDriverSpecific, err.Error())
	}
	return nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
