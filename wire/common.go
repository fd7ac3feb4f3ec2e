package wire

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/acbcd/acbcd/chaincfg/chainhash"
)

// binarySerializer provides a free list of buffers to use for serializing and
// deserializing primitive integer values to and from io.Reader/io.Writer.
// Reusing buffers avoids a heap allocation per field during block and
// transaction (de)serialization, which matters because this code runs on the
// hot path of block connect.
type binaryFreeList chan []byte

var binarySerializer binaryFreeList = make(chan []byte, 8)

func (l binaryFreeList) Borrow() []byte {
	select {
	case b := <-l:
		return b[:8]
	default:
	}
	return make([]byte, 8)
}

func (l binaryFreeList) Return(buf []byte) {
	select {
	case l <- buf:
	default:
	}
}

func (l binaryFreeList) Uint32(r io.Reader) (uint32, error) {
	buf := l.Borrow()[:4]
	defer l.Return(buf)
	if _, err := io.ReadFull(r, buf); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf), nil
}

func (l binaryFreeList) Uint64(r io.Reader) (uint64, error) {
	buf := l.Borrow()[:8]
	defer l.Return(buf)
	if _, err := io.ReadFull(r, buf); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf), nil
}

func (l binaryFreeList) PutUint32(w io.Writer, val uint32) error {
	buf := l.Borrow()[:4]
	defer l.Return(buf)
	binary.LittleEndian.PutUint32(buf, val)
	_, err := w.Write(buf)
	return err
}

func (l binaryFreeList) PutUint64(w io.Writer, val uint64) error {
	buf := l.Borrow()[:8]
	defer l.Return(buf)
	binary.LittleEndian.PutUint64(buf, val)
	_, err := w.Write(buf)
	return err
}

// ReadVarInt reads a variable length integer from r and returns it as a
// uint64, following the same compact-size encoding used by the rest of the
// protocol (1 byte for values < 0xfd, prefixed 3/5/9 byte forms above that).
func ReadVarInt(r io.Reader) (uint64, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}

	var rv uint64
	switch b[0] {
	case 0xff:
		v, err := binarySerializer.Uint64(r)
		if err != nil {
			return 0, err
		}
		rv = v
		if rv < 0x100000000 {
			return 0, messageError("ReadVarInt", "non-canonical varint")
		}
	case 0xfe:
		v, err := binarySerializer.Uint32(r)
		if err != nil {
			return 0, err
		}
		rv = uint64(v)
		if rv < 0x10000 {
			return 0, messageError("ReadVarInt", "non-canonical varint")
		}
	case 0xfd:
		buf := make([]byte, 2)
		if _, err := io.ReadFull(r, buf); err != nil {
			return 0, err
		}
		rv = uint64(binary.LittleEndian.Uint16(buf))
		if rv < 0xfd {
			return 0, messageError("ReadVarInt", "non-canonical varint")
		}
	default:
		rv = uint64(b[0])
	}
	return rv, nil
}

// WriteVarInt writes val to w using the variable length integer encoding.
func WriteVarInt(w io.Writer, val uint64) error {
	if val < 0xfd {
		_, err := w.Write([]byte{byte(val)})
		return err
	}
	if val <= 0xffff {
		if _, err := w.Write([]byte{0xfd}); err != nil {
			return err
		}
		buf := make([]byte, 2)
		binary.LittleEndian.PutUint16(buf, uint16(val))
		_, err := w.Write(buf)
		return err
	}
	if val <= 0xffffffff {
		if _, err := w.Write([]byte{0xfe}); err != nil {
			return err
		}
		return binarySerializer.PutUint32(w, uint32(val))
	}
	if _, err := w.Write([]byte{0xff}); err != nil {
		return err
	}
	return binarySerializer.PutUint64(w, val)
}

// VarIntSerializeSize returns the number of bytes it would take to serialize
// val as a variable length integer.
func VarIntSerializeSize(val uint64) int {
	if val < 0xfd {
		return 1
	}
	if val <= 0xffff {
		return 3
	}
	if val <= 0xffffffff {
		return 5
	}
	return 9
}

// ReadVarBytes reads a variable length byte array, erroring if its length
// exceeds maxAllowed, which every caller sets to a consensus-relevant
// ceiling (e.g. MaxMessagePayload) so a malicious length prefix cannot force
// an enormous allocation.
func ReadVarBytes(r io.Reader, maxAllowed uint32, fieldName string) ([]byte, error) {
	count, err := ReadVarInt(r)
	if err != nil {
		return nil, err
	}
	if count > uint64(maxAllowed) {
		return nil, messageError("ReadVarBytes", fmt.Sprintf(
			"%s exceeds max length %d", fieldName, maxAllowed))
	}
	b := make([]byte, count)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

// WriteVarBytes writes a variable length byte array.
func WriteVarBytes(w io.Writer, b []byte) error {
	if err := WriteVarInt(w, uint64(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

func readElement(r io.Reader, element interface{}) error {
	switch e := element.(type) {
	case *int32:
		v, err := binarySerializer.Uint32(r)
		if err != nil {
			return err
		}
		*e = int32(v)
		return nil
	case *uint32:
		v, err := binarySerializer.Uint32(r)
		if err != nil {
			return err
		}
		*e = v
		return nil
	case *int64:
		v, err := binarySerializer.Uint64(r)
		if err != nil {
			return err
		}
		*e = int64(v)
		return nil
	case *uint64:
		v, err := binarySerializer.Uint64(r)
		if err != nil {
			return err
		}
		*e = v
		return nil
	case *chainhash.Hash:
		_, err := io.ReadFull(r, e[:])
		return err
	}
	return binary.Read(r, binary.LittleEndian, element)
}

func writeElement(w io.Writer, element interface{}) error {
	switch e := element.(type) {
	case int32:
		return binarySerializer.PutUint32(w, uint32(e))
	case uint32:
		return binarySerializer.PutUint32(w, e)
	case int64:
		return binarySerializer.PutUint64(w, uint64(e))
	case uint64:
		return binarySerializer.PutUint64(w, e)
	case chainhash.Hash:
		_, err := w.Write(e[:])
		return err
	}
	return binary.Write(w, binary.LittleEndian, element)
}

// messageErr implements error and is used to signal protocol-level
// (de)serialization failures the way the rest of the teacher's stack does.
type messageErr struct {
	fn     string
	reason string
}

func (e *messageErr) Error() string {
	if e.fn != "" {
		return fmt.Sprintf("%s: %s", e.fn, e.reason)
	}
	return e.reason
}

func messageError(fn, reason string) error {
	return &messageErr{fn: fn, reason: reason}
}
