package blockchain

import "encoding/binary"

// serializeUndoData encodes the spent outputs a block's non-coinbase
// transactions consumed, in the order they were spent, as the payload of the
// undo record spec.md §6 stores alongside the block's flat file entry. Each
// entry is height(varint) || coinbase(1) || amount(8, LE) || scriptLen
// (varint) || script, the same shape coinview.go uses for the live utxo set
// so the two formats stay easy to reason about together.
func serializeUndoData(stxos []SpentTxOut) []byte {
	buf := make([]byte, 0, len(stxos)*32)

	countBuf := make([]byte, binary.MaxVarintLen64)
	cn := binary.PutUvarint(countBuf, uint64(len(stxos)))
	buf = append(buf, countBuf[:cn]...)

	for _, stxo := range stxos {
		heightBuf := make([]byte, binary.MaxVarintLen32)
		hn := binary.PutUvarint(heightBuf, uint64(stxo.Height))
		buf = append(buf, heightBuf[:hn]...)

		if stxo.IsCoinBase {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}

		var amountBuf [8]byte
		binary.LittleEndian.PutUint64(amountBuf[:], uint64(stxo.Amount))
		buf = append(buf, amountBuf[:]...)

		scriptLenBuf := make([]byte, binary.MaxVarintLen64)
		sn := binary.PutUvarint(scriptLenBuf, uint64(len(stxo.PkScript)))
		buf = append(buf, scriptLenBuf[:sn]...)
		buf = append(buf, stxo.PkScript...)
	}

	return buf
}

// deserializeUndoData is the inverse of serializeUndoData.
func deserializeUndoData(serialized []byte) ([]SpentTxOut, error) {
	count, n := binary.Uvarint(serialized)
	if n <= 0 {
		return nil, AssertError("corrupt undo data: bad entry count")
	}
	offset := n

	stxos := make([]SpentTxOut, 0, count)
	for i := uint64(0); i < count; i++ {
		height, hn := binary.Uvarint(serialized[offset:])
		if hn <= 0 {
			return nil, AssertError("corrupt undo data: bad height")
		}
		offset += hn

		if offset >= len(serialized) {
			return nil, AssertError("corrupt undo data: truncated")
		}
		isCoinBase := serialized[offset] != 0
		offset++

		if offset+8 > len(serialized) {
			return nil, AssertError("corrupt undo data: truncated amount")
		}
		amount := int64(binary.LittleEndian.Uint64(serialized[offset : offset+8]))
		offset += 8

		scriptLen, sn := binary.Uvarint(serialized[offset:])
		if sn <= 0 {
			return nil, AssertError("corrupt undo data: bad script length")
		}
		offset += sn

		if offset+int(scriptLen) > len(serialized) {
			return nil, AssertError("corrupt undo data: truncated script")
		}
		pkScript := make([]byte, scriptLen)
		copy(pkScript, serialized[offset:offset+int(scriptLen)])
		offset += int(scriptLen)

		stxos = append(stxos, SpentTxOut{
			Amount:     amount,
			PkScript:   pkScript,
			Height:     int32(height),
			IsCoinBase: isCoinBase,
		})
	}

	return stxos, nil
}
