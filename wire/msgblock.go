package wire

import (
	"bytes"
	"fmt"
	"io"

	"github.com/acbcd/acbcd/chaincfg/chainhash"
)

// defaultTransactionAlloc is the default size used for the initial allocation
// of a transaction slice when reading a block, chosen to avoid repeated
// reallocation for typical block sizes without being wasteful for small ones.
const defaultTransactionAlloc = 2048

// MaxBlocksPerMsg is the maximum number of blocks allowed per message.
const MaxBlocksPerMsg = 500

// MaxBlockPayload is the maximum bytes a block message can be in bytes. This
// matches the network-relay ceiling used by the rest of the corpus; block
// validation itself enforces the much smaller consensus max block weight
// independently.
const MaxBlockPayload = 4000000

// TxLoc holds locator data for the offset and length of where a transaction
// is located within a raw block it was deserialized from.
type TxLoc struct {
	TxStart int
	TxLen   int
}

// MsgBlock implements the Message interface and represents a bitcoin
// block message.  It is used to deliver block and transaction information in
// response to a getdata message (MsgGetData) for a given block hash, and is
// the type the database and chain packages persist and operate on.
type MsgBlock struct {
	Header       BlockHeader
	Transactions []*MsgTx
}

// AddTransaction adds a transaction to the message.
func (msg *MsgBlock) AddTransaction(tx *MsgTx) {
	msg.Transactions = append(msg.Transactions, tx)
}

// ClearTransactions removes all transactions from the message.
func (msg *MsgBlock) ClearTransactions() {
	msg.Transactions = make([]*MsgTx, 0, defaultTransactionAlloc)
}

// BlockHash computes the block identifier hash for this block.
func (msg *MsgBlock) BlockHash() chainhash.Hash {
	return msg.Header.BlockHash()
}

// Deserialize decodes a block from r into the receiver.
func (msg *MsgBlock) Deserialize(r io.Reader) error {
	if err := msg.Header.Deserialize(r); err != nil {
		return err
	}

	txCount, err := ReadVarInt(r)
	if err != nil {
		return err
	}

	if txCount > MaxBlockPayload {
		return messageError("MsgBlock.Deserialize", fmt.Sprintf(
			"too many transactions to fit into a block [count %d]", txCount))
	}

	msg.Transactions = make([]*MsgTx, 0, txCount)
	for i := uint64(0); i < txCount; i++ {
		tx := new(MsgTx)
		if err := tx.Deserialize(r); err != nil {
			return err
		}
		msg.Transactions = append(msg.Transactions, tx)
	}
	return nil
}

// DeserializeTxLoc is like Deserialize but also returns a slice containing
// the start offset and length of each transaction in the data buffer it was
// read from, used by the database layer to build on-disk location indexes
// without a second decode pass.
func (msg *MsgBlock) DeserializeTxLoc(r *bytes.Buffer) ([]TxLoc, error) {
	fullLen := r.Len()
	if err := msg.Header.Deserialize(r); err != nil {
		return nil, err
	}

	txCount, err := ReadVarInt(r)
	if err != nil {
		return nil, err
	}

	if txCount > MaxBlockPayload {
		return nil, messageError("MsgBlock.DeserializeTxLoc", fmt.Sprintf(
			"too many transactions to fit into a block [count %d]", txCount))
	}

	txLocs := make([]TxLoc, txCount)
	msg.Transactions = make([]*MsgTx, 0, txCount)
	for i := uint64(0); i < txCount; i++ {
		txLocs[i].TxStart = fullLen - r.Len()
		tx := new(MsgTx)
		if err := tx.Deserialize(r); err != nil {
			return nil, err
		}
		msg.Transactions = append(msg.Transactions, tx)
		txLocs[i].TxLen = (fullLen - r.Len()) - txLocs[i].TxStart
	}
	return txLocs, nil
}

// Serialize encodes the block to w.
func (msg *MsgBlock) Serialize(w io.Writer) error {
	if err := msg.Header.Serialize(w); err != nil {
		return err
	}
	if err := WriteVarInt(w, uint64(len(msg.Transactions))); err != nil {
		return err
	}
	for _, tx := range msg.Transactions {
		if err := tx.Serialize(w); err != nil {
			return err
		}
	}
	return nil
}

// SerializeSize returns the number of bytes it would take to serialize the
// block.
func (msg *MsgBlock) SerializeSize() int {
	n := blockHeaderLen + VarIntSerializeSize(uint64(len(msg.Transactions)))
	for _, tx := range msg.Transactions {
		n += tx.SerializeSize()
	}
	return n
}

// TxHashes returns a slice of hashes of all of transactions in this block.
func (msg *MsgBlock) TxHashes() ([]chainhash.Hash, error) {
	hashList := make([]chainhash.Hash, 0, len(msg.Transactions))
	for _, tx := range msg.Transactions {
		hashList = append(hashList, tx.TxHash())
	}
	return hashList, nil
}

// NewMsgBlock returns a new bitcoin block message that conforms to the
// Message interface.  See MsgBlock for details.
func NewMsgBlock(blockHeader *BlockHeader) *MsgBlock {
	return &MsgBlock{
		Header:       *blockHeader,
		Transactions: make([]*MsgTx, 0, defaultTransactionAlloc),
	}
}
