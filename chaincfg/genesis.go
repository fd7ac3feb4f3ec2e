package chaincfg

import (
	"time"

	"github.com/acbcd/acbcd/chaincfg/chainhash"
	"github.com/acbcd/acbcd/wire"
)

// genesisCoinbaseTx is the coinbase transaction for the genesis blocks,
// following the reference implementation's convention of embedding an
// arbitrary signature script rather than spending a real outpoint.
var genesisCoinbaseTx = wire.MsgTx{
	Version: 1,
	TxIn: []*wire.TxIn{
		{
			PreviousOutPoint: wire.OutPoint{
				Index: 0xffffffff,
			},
			SignatureScript: []byte{
				0x04, 0xff, 0xff, 0x00, 0x1d, 0x01, 0x04,
			},
			Sequence: 0xffffffff,
		},
	},
	TxOut: []*wire.TxOut{
		{
			Value:    0x12a05f200,
			PkScript: []byte{0x6a},
		},
	},
	LockTime: 0,
}

// genesisMerkleRoot is the merkle root of the main network genesis block,
// which is just the hash of the single coinbase transaction it contains.
var genesisMerkleRoot = genesisCoinbaseTx.TxHash()

// genesisBlock defines the main network's genesis block.
var genesisBlock = wire.MsgBlock{
	Header: wire.BlockHeader{
		Version:    1,
		PrevBlock:  chainhash.Hash{},
		MerkleRoot: genesisMerkleRoot,
		Timestamp:  time.Unix(1231006505, 0),
		Bits:       0x1d00ffff,
		Nonce:      2083236893,
	},
	Transactions: []*wire.MsgTx{&genesisCoinbaseTx},
}

var genesisHash = genesisBlock.BlockHash()

// regTestGenesisBlock defines the regression test network's genesis block,
// identical in shape but at the minimal-difficulty PowLimitBits so test
// chains can be mined without a script interpreter.
var regTestGenesisBlock = wire.MsgBlock{
	Header: wire.BlockHeader{
		Version:    1,
		PrevBlock:  chainhash.Hash{},
		MerkleRoot: genesisMerkleRoot,
		Timestamp:  time.Unix(1296688602, 0),
		Bits:       0x207fffff,
		Nonce:      2,
	},
	Transactions: []*wire.MsgTx{&genesisCoinbaseTx},
}

var regTestGenesisHash = regTestGenesisBlock.BlockHash()
