package wire

import "github.com/acbcd/acbcd/chaincfg/chainhash"

// BitcoinNet represents which bitcoin network a message belongs to.
type BitcoinNet uint32

// Constants used to indicate the message network.  They are used as the
// magic bytes prefixing every on-disk block and undo record (see
// database/ffldb).
const (
	// MainNet represents the main network.
	MainNet BitcoinNet = 0xd9b4bef9

	// TestNet3 represents the test network (version 3).
	TestNet3 BitcoinNet = 0x0709110b

	// SimNet represents the simulation test network.
	SimNet BitcoinNet = 0x12141c16
)

// ServiceFlag identifies services supported by a bitcoin peer.
type ServiceFlag uint64

// ProtocolVersion is the latest protocol version this package supports.
const ProtocolVersion uint32 = 70016

// TxVersion is the current latest supported transaction version.
const TxVersion = 1

// MaxBlockHeaderPayload is the number of bytes a block header can be, not
// including the number of transactions.
const MaxBlockHeaderPayload = 4 + (chainhash.HashSize * 2) + 4 + 4 + 4
