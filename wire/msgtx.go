package wire

import (
	"bytes"
	"io"

	"github.com/acbcd/acbcd/chaincfg/chainhash"
)

// MaxMessagePayload is the maximum bytes a message can be regardless of other
// individual limits imposed by messages themselves.
const MaxMessagePayload = (1024 * 1024 * 32) // 32MB

// MaxTxInSequenceNum is the maximum sequence number a transaction input can
// have, indicating that it opts out of BIP68 relative lock-time and BIP125
// replace-by-fee semantics.
const MaxTxInSequenceNum uint32 = 0xffffffff

// SequenceLockTimeDisabled, when set on an input's Sequence, disables BIP68
// relative lock-time semantics for that input.
const SequenceLockTimeDisabled = 1 << 31

// SequenceLockTimeIsSeconds, when set on an input's Sequence, indicates the
// relative lock-time is expressed in units of 512 seconds rather than blocks.
const SequenceLockTimeIsSeconds = 1 << 22

// SequenceLockTimeMask extracts the relative lock-time (height or time units)
// from the low bits of a sequence number.
const SequenceLockTimeMask = 0x0000ffff

// SequenceLockTimeGranularity is the number of seconds represented by one
// unit of relative lock-time expressed in time (as opposed to height).
const SequenceLockTimeGranularity = 9

// OutPoint defines a bitcoin data type that is used to track previous
// transaction outputs.
type OutPoint struct {
	Hash  chainhash.Hash
	Index uint32
}

// NewOutPoint returns a new bitcoin transaction outpoint point with the
// provided hash and index.
func NewOutPoint(hash *chainhash.Hash, index uint32) *OutPoint {
	return &OutPoint{Hash: *hash, Index: index}
}

// String returns the OutPoint in the human-readable form "hash:index".
func (o OutPoint) String() string {
	return o.Hash.String() + ":" + itoa(int64(o.Index))
}

func itoa(v int64) string {
	if v == 0 {
		return "0"
	}
	neg := v < 0
	if neg {
		v = -v
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// TxIn defines a bitcoin transaction input.
type TxIn struct {
	PreviousOutPoint OutPoint
	SignatureScript  []byte
	Witness          TxWitness
	Sequence         uint32
}

// SerializeSize returns the number of bytes it would take to serialize the
// transaction input.
func (t *TxIn) SerializeSize() int {
	// Outpoint Hash 32 bytes + Index 4 bytes, signature script length
	// varint + signature script, sequence 4 bytes.
	return 32 + 4 + VarIntSerializeSize(uint64(len(t.SignatureScript))) +
		len(t.SignatureScript) + 4
}

// NewTxIn returns a new bitcoin transaction input with the provided previous
// outpoint point and signature script with a default sequence of
// MaxTxInSequenceNum.
func NewTxIn(prevOut *OutPoint, signatureScript []byte, witness [][]byte) *TxIn {
	return &TxIn{
		PreviousOutPoint: *prevOut,
		SignatureScript:  signatureScript,
		Witness:          witness,
		Sequence:         MaxTxInSequenceNum,
	}
}

// TxWitness defines the witness for a TxIn. A witness is to be interpreted as
// a slice of byte slices, or a stack with one or many elements.
type TxWitness [][]byte

// SerializeSize returns the number of bytes it would take to serialize the
// transaction input's witness.
func (t TxWitness) SerializeSize() int {
	n := VarIntSerializeSize(uint64(len(t)))
	for _, wit := range t {
		n += VarIntSerializeSize(uint64(len(wit))) + len(wit)
	}
	return n
}

// TxOut defines a bitcoin transaction output.
type TxOut struct {
	Value    int64
	PkScript []byte
}

// SerializeSize returns the number of bytes it would take to serialize the
// the transaction output.
func (t *TxOut) SerializeSize() int {
	return 8 + VarIntSerializeSize(uint64(len(t.PkScript))) + len(t.PkScript)
}

// NewTxOut returns a new bitcoin transaction output with the provided
// transaction value and public key script.
func NewTxOut(value int64, pkScript []byte) *TxOut {
	return &TxOut{Value: value, PkScript: pkScript}
}

// MsgTx implements the Message interface and represents a bitcoin tx message.
// It is used to deliver transaction information in response to a getdata
// message (MsgGetData) for a given transaction, and is also used to relay
// brand new transactions between peers (out of scope for this module; only
// the data type and its (de)serialization/hashing are needed here).
type MsgTx struct {
	Version  int32
	TxIn     []*TxIn
	TxOut    []*TxOut
	LockTime uint32
}

// AddTxIn adds a transaction input to the message.
func (msg *MsgTx) AddTxIn(ti *TxIn) {
	msg.TxIn = append(msg.TxIn, ti)
}

// AddTxOut adds a transaction output to the message.
func (msg *MsgTx) AddTxOut(to *TxOut) {
	msg.TxOut = append(msg.TxOut, to)
}

// HasWitness returns false if none of the inputs within the transaction
// contain witness data, true false otherwise.
func (msg *MsgTx) HasWitness() bool {
	for _, txIn := range msg.TxIn {
		if len(txIn.Witness) != 0 {
			return true
		}
	}
	return false
}

// IsCoinBase determines whether the transaction is a coinbase transaction. A
// coinbase transaction is a special transaction created by miners that has no
// inputs other than a single one spending a null outpoint.
func (msg *MsgTx) IsCoinBase() bool {
	if len(msg.TxIn) != 1 {
		return false
	}
	prevOut := &msg.TxIn[0].PreviousOutPoint
	return prevOut.Index == math_MaxUint32 && prevOut.Hash == zeroHash
}

var zeroHash chainhash.Hash

const math_MaxUint32 = 1<<32 - 1

// TxHash generates the hash for the transaction, excluding witness data.
func (msg *MsgTx) TxHash() chainhash.Hash {
	return chainhash.DoubleHashH(msg.serializeNoWitness())
}

// WitnessHash generates the hash of the transaction serialized according to
// the new witness serialization, including the witness stack itself.
func (msg *MsgTx) WitnessHash() chainhash.Hash {
	if !msg.HasWitness() {
		return msg.TxHash()
	}
	return chainhash.DoubleHashH(msg.serializeWitness())
}

// SerializeSize returns the number of bytes it would take to serialize the
// transaction, not including any witness data according to the protocol
// encoding.
func (msg *MsgTx) SerializeSize() int {
	n := 8 + VarIntSerializeSize(uint64(len(msg.TxIn))) +
		VarIntSerializeSize(uint64(len(msg.TxOut)))
	for _, txIn := range msg.TxIn {
		n += txIn.SerializeSize()
	}
	for _, txOut := range msg.TxOut {
		n += txOut.SerializeSize()
	}
	return n
}

// Serialize encodes the transaction to w, omitting witness data, in the form
// used to compute the transaction's TxHash.
func (msg *MsgTx) Serialize(w io.Writer) error {
	_, err := w.Write(msg.serializeNoWitness())
	return err
}

// Deserialize decodes a transaction from r.
func (msg *MsgTx) Deserialize(r io.Reader) error {
	var version int32
	if err := readElement(r, &version); err != nil {
		return err
	}
	msg.Version = version

	txInCount, err := ReadVarInt(r)
	if err != nil {
		return err
	}
	msg.TxIn = make([]*TxIn, txInCount)
	for i := range msg.TxIn {
		ti := new(TxIn)
		if err := readTxIn(r, ti); err != nil {
			return err
		}
		msg.TxIn[i] = ti
	}

	txOutCount, err := ReadVarInt(r)
	if err != nil {
		return err
	}
	msg.TxOut = make([]*TxOut, txOutCount)
	for i := range msg.TxOut {
		to := new(TxOut)
		if err := readTxOut(r, to); err != nil {
			return err
		}
		msg.TxOut[i] = to
	}

	return readElement(r, &msg.LockTime)
}

func readTxIn(r io.Reader, ti *TxIn) error {
	if err := readElement(r, &ti.PreviousOutPoint.Hash); err != nil {
		return err
	}
	if err := readElement(r, &ti.PreviousOutPoint.Index); err != nil {
		return err
	}
	sigScript, err := ReadVarBytes(r, MaxMessagePayload, "signature script")
	if err != nil {
		return err
	}
	ti.SignatureScript = sigScript
	return readElement(r, &ti.Sequence)
}

func writeTxIn(w io.Writer, ti *TxIn) error {
	if err := writeElement(w, ti.PreviousOutPoint.Hash); err != nil {
		return err
	}
	if err := writeElement(w, ti.PreviousOutPoint.Index); err != nil {
		return err
	}
	if err := WriteVarBytes(w, ti.SignatureScript); err != nil {
		return err
	}
	return writeElement(w, ti.Sequence)
}

func readTxOut(r io.Reader, to *TxOut) error {
	if err := readElement(r, &to.Value); err != nil {
		return err
	}
	pkScript, err := ReadVarBytes(r, MaxMessagePayload, "public key script")
	if err != nil {
		return err
	}
	to.PkScript = pkScript
	return nil
}

func writeTxOut(w io.Writer, to *TxOut) error {
	if err := writeElement(w, to.Value); err != nil {
		return err
	}
	return WriteVarBytes(w, to.PkScript)
}

func (msg *MsgTx) serializeNoWitness() []byte {
	buf := bytes.NewBuffer(make([]byte, 0, msg.SerializeSize()))
	writeElement(buf, msg.Version)
	WriteVarInt(buf, uint64(len(msg.TxIn)))
	for _, ti := range msg.TxIn {
		writeTxIn(buf, ti)
	}
	WriteVarInt(buf, uint64(len(msg.TxOut)))
	for _, to := range msg.TxOut {
		writeTxOut(buf, to)
	}
	writeElement(buf, msg.LockTime)
	return buf.Bytes()
}

func (msg *MsgTx) serializeWitness() []byte {
	size := msg.SerializeSize()
	for _, ti := range msg.TxIn {
		size += ti.Witness.SerializeSize()
	}
	buf := bytes.NewBuffer(make([]byte, 0, size))
	writeElement(buf, msg.Version)
	WriteVarInt(buf, uint64(len(msg.TxIn)))
	for _, ti := range msg.TxIn {
		writeTxIn(buf, ti)
		WriteVarInt(buf, uint64(len(ti.Witness)))
		for _, item := range ti.Witness {
			WriteVarBytes(buf, item)
		}
	}
	WriteVarInt(buf, uint64(len(msg.TxOut)))
	for _, to := range msg.TxOut {
		writeTxOut(buf, to)
	}
	writeElement(buf, msg.LockTime)
	return buf.Bytes()
}

// Copy creates a deep copy of a transaction so that the original does not get
// modified when the copy is manipulated.  Input witness data is not copied.
func (msg *MsgTx) Copy() *MsgTx {
	newTx := MsgTx{
		Version:  msg.Version,
		TxIn:     make([]*TxIn, 0, len(msg.TxIn)),
		TxOut:    make([]*TxOut, 0, len(msg.TxOut)),
		LockTime: msg.LockTime,
	}
	for _, oldTxIn := range msg.TxIn {
		sigScript := make([]byte, len(oldTxIn.SignatureScript))
		copy(sigScript, oldTxIn.SignatureScript)
		newTx.AddTxIn(&TxIn{
			PreviousOutPoint: oldTxIn.PreviousOutPoint,
			SignatureScript:  sigScript,
			Sequence:         oldTxIn.Sequence,
		})
	}
	for _, oldTxOut := range msg.TxOut {
		pkScript := make([]byte, len(oldTxOut.PkScript))
		copy(pkScript, oldTxOut.PkScript)
		newTx.AddTxOut(&TxOut{
			Value:    oldTxOut.Value,
			PkScript: pkScript,
		})
	}
	return &newTx
}

// NewMsgTx returns a new bitcoin tx message that conforms to the Message
// interface.  The return instance has the passed version and there are no
// transaction inputs or outputs.
func NewMsgTx(version int32) *MsgTx {
	return &MsgTx{
		Version: version,
		TxIn:    make([]*TxIn, 0, defaultTxInOutAlloc),
		TxOut:   make([]*TxOut, 0, defaultTxInOutAlloc),
	}
}

const defaultTxInOutAlloc = 15
