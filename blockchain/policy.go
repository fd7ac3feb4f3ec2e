package blockchain

import "time"

// Consensus- and policy-level limits referenced throughout accept_header,
// accept_block, and connect (spec.md §4.E–§4.H). These are the fixed
// constants of the reference network; a future multi-network build would
// move the policy-tunable ones onto Config instead.
const (
	// MaxBlockSize is the maximum number of bytes allowed in a serialized
	// block.
	MaxBlockSize = 1000000

	// MaxBlockSigOpsPerMB is the maximum number of signature operations
	// allowed per megabyte of serialized block size (spec.md §4.F.4's
	// "MAX_BLOCK_SIGOPS_PER_MB-scaled limit").
	MaxBlockSigOpsPerMB = 20000

	// MaxTxSize is the maximum number of bytes allowed in a serialized
	// transaction considered for mempool admission.
	MaxTxSize = MaxBlockSize / 5

	// MaxTxSigOps is the maximum number of signature operations a single
	// mempool-admitted transaction may contain.
	MaxTxSigOps = 4000

	// CoinbaseMaturity is the number of blocks of depth required before a
	// coinbase output becomes spendable (spec.md §3).
	CoinbaseMaturity = 100

	// MinBlocksToKeep bounds how much of the tail of the chain accept_block
	// always processes the body for, and how close to the tip pruning may
	// never clear HAVE_DATA (spec.md §4.H, §4.D's pruning invariant).
	MinBlocksToKeep = 288

	// MaxTimeOffsetSeconds is how far into the future, relative to adjusted
	// time, a block's timestamp may be before accept_header rejects it
	// (spec.md §4.H's "adjusted-now + 2h").
	MaxTimeOffsetSeconds = 2 * 60 * 60

	// MedianTimeBlocks is the number of preceding blocks used to calculate
	// the median time used to validate block timestamps (spec.md GLOSSARY's
	// MTP).
	MedianTimeBlocks = 11

	// MaxReorgBatchSize is a reorg batch size of 32 blocks. The activator
	// does not consult it: connectBestChain detaches and attaches the whole
	// fork range in one pass without releasing the chain lock.
	MaxReorgBatchSize = 32
)

// MaxTimeOffsetDuration is MaxTimeOffsetSeconds as a time.Duration.
const MaxTimeOffsetDuration = MaxTimeOffsetSeconds * time.Second
