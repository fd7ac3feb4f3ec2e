package wire

import (
	"io"
	"time"

	"github.com/acbcd/acbcd/chaincfg/chainhash"
)

// BlockVersion is the current latest supported block version.
const BlockVersion = 4

// BlockHeader defines information about a block and is used in the bitcoin
// block (MsgBlock) and headers (MsgHeaders) messages.
type BlockHeader struct {
	// Version of the block.  This is not the same as the protocol version.
	Version int32

	// Hash of the previous block header in the block chain.
	PrevBlock chainhash.Hash

	// Merkle tree reference to hash of all transactions for the block.
	MerkleRoot chainhash.Hash

	// Time the block was created.  This is, unfortunately, encoded as a
	// uint32 on the wire and therefore is limited to 2106.
	Timestamp time.Time

	// Difficulty target for the block.
	Bits uint32

	// Nonce used to generate the block.
	Nonce uint32
}

// blockHeaderLen is a constant that represents the number of bytes for a
// block header.
const blockHeaderLen = 80

// BlockHash computes the block identifier hash for the given block header.
func (h *BlockHeader) BlockHash() chainhash.Hash {
	buf := make([]byte, 0, blockHeaderLen)
	w := &sliceWriter{buf: buf}
	_ = writeBlockHeader(w, h)
	return chainhash.DoubleHashH(w.buf)
}

// Deserialize decodes a block header from r.
func (h *BlockHeader) Deserialize(r io.Reader) error {
	return readBlockHeader(r, h)
}

// Serialize encodes a block header to w.
func (h *BlockHeader) Serialize(w io.Writer) error {
	return writeBlockHeader(w, h)
}

func readBlockHeader(r io.Reader, h *BlockHeader) error {
	var sec uint32
	if err := readElement(r, &h.Version); err != nil {
		return err
	}
	if err := readElement(r, &h.PrevBlock); err != nil {
		return err
	}
	if err := readElement(r, &h.MerkleRoot); err != nil {
		return err
	}
	if err := readElement(r, &sec); err != nil {
		return err
	}
	h.Timestamp = time.Unix(int64(sec), 0)
	if err := readElement(r, &h.Bits); err != nil {
		return err
	}
	return readElement(r, &h.Nonce)
}

func writeBlockHeader(w io.Writer, h *BlockHeader) error {
	sec := uint32(h.Timestamp.Unix())
	if err := writeElement(w, h.Version); err != nil {
		return err
	}
	if err := writeElement(w, h.PrevBlock); err != nil {
		return err
	}
	if err := writeElement(w, h.MerkleRoot); err != nil {
		return err
	}
	if err := writeElement(w, sec); err != nil {
		return err
	}
	if err := writeElement(w, h.Bits); err != nil {
		return err
	}
	return writeElement(w, h.Nonce)
}

// NewBlockHeader returns a new BlockHeader using the provided previous block
// hash, merkle root hash, difficulty bits, and nonce used to generate the
// block with defaults for the remaining fields.
func NewBlockHeader(version int32, prevHash, merkleRootHash *chainhash.Hash,
	bits uint32, nonce uint32) *BlockHeader {

	return &BlockHeader{
		Version:    version,
		PrevBlock:  *prevHash,
		MerkleRoot: *merkleRootHash,
		Timestamp:  time.Unix(time.Now().Unix(), 0),
		Bits:       bits,
		Nonce:      nonce,
	}
}

// sliceWriter is a minimal io.Writer over a growable byte slice, used where a
// header needs to be hashed without round-tripping through a bytes.Buffer.
type sliceWriter struct {
	buf []byte
}

func (s *sliceWriter) Write(p []byte) (int, error) {
	s.buf = append(s.buf, p...)
	return len(p), nil
}
