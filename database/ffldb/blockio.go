package ffldb

import (
	"container/list"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/acbcd/acbcd/database"
	"github.com/acbcd/acbcd/log"
	"github.com/acbcd/acbcd/wire"
	"golang.org/x/sys/unix"
)

// filer is an interface which acts very similar to a *os.File and is typically
// implemented by it.  It exists so the test code can provide mock files for
// properly testing corruption and file system issues.
type filer interface {
	io.Closer
	io.WriterAt
	io.ReaderAt
	Truncate(size int64) error
	Sync() error
}

// lockableFile represents a block file on disk that has been opened for either
// read or read/write access.  It also contains a read-write mutex to support
// multiple concurrent readers.
type lockableFile struct {
	sync.RWMutex
	file filer
}

// writeCursor represents the current file and offset of the block file on disk
// for performing all writes. It also contains a read-write mutex to support
// multiple concurrent readers which can reuse the file handle.
type writeCursor struct {
	sync.RWMutex

	// curFile is the current block file that will be appended to when
	// writing new blocks.
	curFile *lockableFile

	// curFileNum is the current block file number and is used to allow
	// readers to use the same open file handle.
	curFileNum uint32

	// curOffset is the offset in the current write block file where the
	// next new block will be written.
	curOffset uint32
}

const (
	// maxOpenFiles is the max number of read-only block files that will be
	// held open simultaneously.  This value should probably be set to
	// help reduce the number of small allocations.
	maxOpenFiles = 25

	// maxBlockFileSize is the maximum size, in bytes, for a block file
	// (spec.md §4.D's MAX_BLOCKFILE_SIZE).
	maxBlockFileSize = 128 * 1024 * 1024

	// blockPreallocChunk is the pre-allocation granularity for block
	// files (spec.md §4.D).
	blockPreallocChunk = 16 * 1024 * 1024

	// undoPreallocChunk is the pre-allocation granularity for undo files
	// (spec.md §4.D).
	undoPreallocChunk = 1 * 1024 * 1024

	// diskSafetyMargin is the minimum free space, beyond what's needed for
	// the write itself, find_pos requires before it will proceed (spec.md
	// §4.D).
	diskSafetyMargin = 50 * 1024 * 1024
)

// blockStore houses information used to handle reading and writing blocks (and
// part of blocks) into flat files with support for multiple concurrent readers.
type blockStore struct {
	// network is the specific network to use in the flat files for each
	// block.
	network wire.BitcoinNet

	// basePath is the base path used for the flat block files and metadata.
	basePath string

	// maxBlockFileSize is the maximum size for each file used to store
	// blocks.  It is defined on the store so the whitebox tests can
	// override the value.
	maxBlockFileSize uint32

	// The following fields are related to the flat files which hold the
	// actual blocks.   The number of open files is limited by maxOpenFiles.
	//
	// obfMutex protects concurrent access to the openBlockFiles map.  It is
	// a RWMutex so multiple readers can simultaneously access open files.
	//
	// openBlockFiles houses the open file handles for existing block files
	// which have been opened read-only along with an individual RWMutex.
	// This scheme allows multiple concurrent readers to the same file while
	// preventing the file from being closed out from under them.
	//
	// lruMutex protects concurrent access to the least recently used list
	// and lookup map.
	//
	// openBlocksLRU tracks how the open files are refenced by pushing the
	// most recently used files to the front of the list thereby trickling
	// the least recently used files to end of the list.  When a file needs
	// to be closed due to exceeding the the max number of allowed open
	// files, the one at the end of the list is closed.
	//
	// fileNumToLRUElem is a mapping between a specific block file number
	// and the associated list element on the least recently used list.
	//
	// Thus, with the combination of these fields, the database supports
	// concurrent non-blocking reads across multiple and individual files
	// along with intelligently limiting the number of open file handles by
	// closing the least recently used files as needed.
	//
	// NOTE: The locking order used throughout is well-defined and MUST be
	// followed.  Failure to do so could lead to deadlocks.  In particular,
	// the locking order is as follows:
	//   1) obfMutex
	//   2) lruMutex
	//   3) writeCursor mutex
	//   4) specific file mutexes
	//
	// None of the mutexes are required to be locked at the same time, and
	// often aren't.  However, if they are to be locked simultaneously, they
	// MUST be locked in the order previously specified.
	//
	// Due to the high performance and multi-read concurrency requirements,
	// write locks should only be held for the minimum time necessary.
	obfMutex         sync.RWMutex
	lruMutex         sync.Mutex
	openBlocksLRU    *list.List // Contains uint32 block file numbers.
	fileNumToLRUElem map[uint32]*list.Element
	openBlockFiles   map[uint32]*lockableFile

	// writeCursor houses the state for the current file and location that
	// new blocks are written to.
	writeCursor *writeCursor

	// These functions are set to openFile, openWriteFile, and deleteFile by
	// default, but are exposed here to allow the whitebox tests to replace
	// them when working with mock files.
	openFileFunc      func(fileNum uint32) (*lockableFile, error)
	openWriteFileFunc func(fileNum uint32) (filer, error)
	deleteFileFunc    func(fileNum uint32) error
}

// blockLocation identifies a particular block file and location within it.
type blockLocation struct {
	blockFileNum uint32
	fileOffset   uint32
	blockLen     uint32
}

func blockFilePath(basePath string, fileNum uint32) string {
	return filepath.Join(basePath, fmt.Sprintf("blk%05d.dat", fileNum))
}

// newBlockStore returns a new blockStore rooted at basePath, ready to append
// blocks tagged with the given network magic (spec.md §6's block file
// format).
func newBlockStore(basePath string, network wire.BitcoinNet) *blockStore {
	s := &blockStore{
		network:          network,
		basePath:         basePath,
		maxBlockFileSize: maxBlockFileSize,
		openBlocksLRU:    list.New(),
		fileNumToLRUElem: make(map[uint32]*list.Element),
		openBlockFiles:   make(map[uint32]*lockableFile),
		writeCursor:      &writeCursor{curFileNum: 0, curOffset: 0},
	}
	s.openFileFunc = s.openFile
	s.openWriteFileFunc = s.openWriteFile
	s.deleteFileFunc = s.deleteFile
	return s
}

func (s *blockStore) openWriteFile(fileNum uint32) (filer, error) {
	filePath := blockFilePath(s.basePath, fileNum)
	file, err := os.OpenFile(filePath, os.O_RDWR|os.O_CREATE, 0666)
	if err != nil {
		return nil, database.NewErr(database.ErrDriverSpecific, err.Error())
	}
	return file, nil
}

func (s *blockStore) openFile(fileNum uint32) (*lockableFile, error) {
	filePath := blockFilePath(s.basePath, fileNum)
	file, err := os.Open(filePath)
	if err != nil {
		return nil, database.NewErr(database.ErrDriverSpecific, err.Error())
	}
	blockFile := &lockableFile{file: file}

	s.lruMutex.Lock()
	s.openBlockFiles[fileNum] = blockFile
	s.fileNumToLRUElem[fileNum] = s.openBlocksLRU.PushFront(fileNum)

	// Close the least recently used file when the max number of open
	// files is exceeded.
	if s.openBlocksLRU.Len() > maxOpenFiles {
		lruList := s.openBlocksLRU
		elem := lruList.Back()
		if elem != nil {
			fnum := lruList.Remove(elem).(uint32)
			delete(s.fileNumToLRUElem, fnum)

			lruFile := s.openBlockFiles[fnum]
			delete(s.openBlockFiles, fnum)

			lruFile.Lock()
			lruFile.file.Close()
			lruFile.Unlock()
		}
	}
	s.lruMutex.Unlock()

	return blockFile, nil
}

// deleteFile removes the blk<fileNum>.dat file, used by pruning (spec.md
// §4.D). A file number that was never opened for writing in this store
// (e.g. because the number belongs to the companion undo file only) is not
// an error.
func (s *blockStore) deleteFile(fileNum uint32) error {
	s.lruMutex.Lock()
	if elem, ok := s.fileNumToLRUElem[fileNum]; ok {
		s.openBlocksLRU.Remove(elem)
		delete(s.fileNumToLRUElem, fileNum)
	}
	if lf, ok := s.openBlockFiles[fileNum]; ok {
		lf.Lock()
		lf.file.Close()
		lf.Unlock()
		delete(s.openBlockFiles, fileNum)
	}
	s.lruMutex.Unlock()

	filePath := blockFilePath(s.basePath, fileNum)
	if err := os.Remove(filePath); err != nil && !os.IsNotExist(err) {
		return database.NewErr(database.ErrDriverSpecific, err.Error())
	}
	return nil
}

// blockFile returns the handle to the block file for the given file number,
// opening it if it isn't already open.  When fileNum is the current write
// file, that handle is returned instead of an independently opened read
// handle.  The handle is returned unlocked; callers take its lock.
func (s *blockStore) blockFile(fileNum uint32) (*lockableFile, error) {
	wc := s.writeCursor
	wc.RLock()
	if fileNum == wc.curFileNum && wc.curFile != nil {
		obf := wc.curFile
		wc.RUnlock()
		return obf, nil
	}
	wc.RUnlock()

	s.obfMutex.RLock()
	if obf, ok := s.openBlockFiles[fileNum]; ok {
		s.lruMutex.Lock()
		s.openBlocksLRU.MoveToFront(s.fileNumToLRUElem[fileNum])
		s.lruMutex.Unlock()
		s.obfMutex.RUnlock()
		return obf, nil
	}
	s.obfMutex.RUnlock()

	return s.openFileFunc(fileNum)
}

// findPos returns the file number and offset at which sizeNeeded bytes can
// be written, rolling to a new file when the current one would exceed
// maxBlockFileSize and pre-allocating disk space in chunkSize-sized
// increments ahead of the write.  It fails with database.ErrDiskFull when
// free space minus diskSafetyMargin is insufficient (spec.md §4.D).
func (s *blockStore) findPos(sizeNeeded uint32, chunkSize int64) (uint32, uint32, error) {
	wc := s.writeCursor
	wc.Lock()
	defer wc.Unlock()

	if wc.curFile == nil || wc.curOffset+sizeNeeded > s.maxBlockFileSize {
		if wc.curFile != nil {
			if err := s.finalizeWriteFileLocked(); err != nil {
				return 0, 0, err
			}
			wc.curFileNum++
			wc.curOffset = 0
		}
		newFile, err := s.openWriteFileFunc(wc.curFileNum)
		if err != nil {
			return 0, 0, err
		}
		wc.curFile = &lockableFile{file: newFile}
	}

	if err := s.checkDiskSpace(int64(sizeNeeded) + diskSafetyMargin); err != nil {
		return 0, 0, err
	}

	needed := int64(wc.curOffset) + int64(sizeNeeded)
	if err := preallocate(wc.curFile.file, needed, chunkSize); err != nil {
		return 0, 0, err
	}

	fileNum := wc.curFileNum
	offset := wc.curOffset
	wc.curOffset += sizeNeeded
	return fileNum, offset, nil
}

// checkDiskSpace consults the filesystem the store lives on and returns
// database.ErrDiskFull if free space is below needed.
func (s *blockStore) checkDiskSpace(needed int64) error {
	var stat unix.Statfs_t
	if err := unix.Statfs(s.basePath, &stat); err != nil {
		// Can't determine free space (e.g. path doesn't exist yet);
		// let the subsequent write surface any real problem.
		return nil
	}
	free := int64(stat.Bavail) * int64(stat.Bsize)
	if free < needed {
		return database.NewErr(database.ErrDiskFull, fmt.Sprintf(
			"insufficient free space: have %d bytes, need %d", free, needed))
	}
	return nil
}

// preallocate extends f to at least needed bytes in chunkSize increments,
// avoiding a pre-allocation on every single small write.
func preallocate(f filer, needed, chunkSize int64) error {
	rounded := ((needed + chunkSize - 1) / chunkSize) * chunkSize
	return f.Truncate(rounded)
}

// finalizeWriteFileLocked truncates the active write file down to its
// logical size and fsyncs it, called when rolling to a new file (spec.md
// §4.D's flush_block_file(finalize=true)).  The caller must hold
// writeCursor's lock.
func (s *blockStore) finalizeWriteFileLocked() error {
	wc := s.writeCursor
	if err := wc.curFile.file.Truncate(int64(wc.curOffset)); err != nil {
		return database.NewErr(database.ErrDriverSpecific, err.Error())
	}
	if err := wc.curFile.file.Sync(); err != nil {
		return database.NewErr(database.ErrDriverSpecific, err.Error())
	}
	return wc.curFile.file.Close()
}

// flushBlockFile truncates the active write file to its logical size and
// fsyncs it without closing it, used at connect-block checkpoints so a crash
// leaves a recoverable, non-truncated tail (spec.md §4.D).
func (s *blockStore) flushBlockFile() error {
	wc := s.writeCursor
	wc.RLock()
	defer wc.RUnlock()
	if wc.curFile == nil {
		return nil
	}
	if err := wc.curFile.file.Truncate(int64(wc.curOffset)); err != nil {
		return database.NewErr(database.ErrDriverSpecific, err.Error())
	}
	return wc.curFile.file.Sync()
}

// writeRecordHeader writes the {magic(4), length(4, LE)} prefix of every
// block or undo record (spec.md §6).
func writeRecordHeader(f filer, offset int64, network wire.BitcoinNet, length uint32) error {
	var hdr [8]byte
	binary.LittleEndian.PutUint32(hdr[0:4], uint32(network))
	binary.LittleEndian.PutUint32(hdr[4:8], length)
	_, err := f.WriteAt(hdr[:], offset)
	return err
}

// writeBlock appends the serialized block bytes to the active block file,
// preceded by the {magic, length} record header, returning the location it
// was written at.
func (s *blockStore) writeBlock(rawBlock []byte) (blockLocation, error) {
	fullLen := uint32(8 + len(rawBlock))
	fileNum, offset, err := s.findPos(fullLen, blockPreallocChunk)
	if err != nil {
		return blockLocation{}, err
	}

	lf, err := s.blockFile(fileNum)
	if err != nil {
		return blockLocation{}, err
	}
	lf.Lock()
	defer lf.Unlock()

	if err := writeRecordHeader(lf.file, int64(offset), s.network, uint32(len(rawBlock))); err != nil {
		return blockLocation{}, database.NewErr(database.ErrDriverSpecific, err.Error())
	}
	if _, err := lf.file.WriteAt(rawBlock, int64(offset)+8); err != nil {
		return blockLocation{}, database.NewErr(database.ErrDriverSpecific, err.Error())
	}

	atomic.AddUint64(&bytesWritten, uint64(fullLen))
	log.FfdbLog.Tracef("wrote block of %d bytes to blk%05d.dat @ %d", len(rawBlock), fileNum, offset)

	return blockLocation{blockFileNum: fileNum, fileOffset: offset, blockLen: uint32(len(rawBlock))}, nil
}

// readBlock reads the raw block bytes at loc back from disk, verifying the
// record header's magic and length before returning the payload.  A
// truncated tail (length prefix present but payload short) surfaces as
// ErrCorruption, matching the "crash mid-write, recoverable on startup"
// contract of spec.md §6.
func (s *blockStore) readBlock(loc blockLocation) ([]byte, error) {
	lf, err := s.blockFile(loc.blockFileNum)
	if err != nil {
		return nil, err
	}
	lf.RLock()
	defer lf.RUnlock()

	var hdr [8]byte
	if _, err := lf.file.ReadAt(hdr[:], int64(loc.fileOffset)); err != nil {
		return nil, database.NewErr(database.ErrCorruption, "short block record header: "+err.Error())
	}
	net := wire.BitcoinNet(binary.LittleEndian.Uint32(hdr[0:4]))
	length := binary.LittleEndian.Uint32(hdr[4:8])
	if net != s.network {
		return nil, database.NewErr(database.ErrCorruption, "block record has wrong network magic")
	}
	if length != loc.blockLen {
		return nil, database.NewErr(database.ErrCorruption, "block record length mismatch")
	}

	buf := make([]byte, length)
	if _, err := lf.file.ReadAt(buf, int64(loc.fileOffset)+8); err != nil {
		return nil, database.NewErr(database.ErrCorruption, "truncated block record: "+err.Error())
	}
	return buf, nil
}

// bytesWritten is a process-wide counter of bytes appended across all block
// stores, surfaced for diagnostics only.
var bytesWritten uint64
