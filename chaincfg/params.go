// Package chaincfg defines chain consensus parameters for each network the
// validation core can run against.  Address encoding, HD key magics, and
// peer discovery (DNS seeds) are out of this module's scope (spec.md §1);
// only the fields the validation core actually consults are kept.
package chaincfg

import (
	"math/big"
	"time"

	"github.com/acbcd/acbcd/chaincfg/chainhash"
	"github.com/acbcd/acbcd/wire"
)

var bigOne = big.NewInt(1)

// mainPowLimit is the highest proof of work value a block can have for the
// main network: 2^224 - 1.
var mainPowLimit = new(big.Int).Sub(new(big.Int).Lsh(bigOne, 224), bigOne)

// regressionPowLimit is the highest proof of work value a block can have on
// the regression test network: 2^255 - 1.
var regressionPowLimit = new(big.Int).Sub(new(big.Int).Lsh(bigOne, 255), bigOne)

// Checkpoint identifies a known-good point in the block chain.  accept_header
// (spec.md §4.H) rejects any fork that would occur strictly below the
// hard-coded latest checkpoint height.
type Checkpoint struct {
	Height int32
	Hash   *chainhash.Hash
}

// ConsensusDeployment defines a BIP9-style versionbits soft-fork deployment:
// a bit to watch for in the block version, and the time window during which
// a miner signal for that bit counts toward lock-in.
type ConsensusDeployment struct {
	BitNumber  uint8
	StartTime  uint64
	ExpireTime uint64
}

// Deployment identifiers, indexing into Params.Deployments.
const (
	DeploymentTestDummy = iota
	DeploymentCSV       // BIP68/112/113 relative lock-time package
	DefinedDeployments
)

// Params defines a network by the consensus parameters the validation core
// needs: genesis, proof-of-work limits, soft-fork activation heights,
// subsidy schedule, checkpoints, and the BIP30 duplicate-coinbase carve-out.
type Params struct {
	Name        string
	Net         wire.BitcoinNet
	GenesisBlock *wire.MsgBlock
	GenesisHash  *chainhash.Hash

	PowLimit     *big.Int
	PowLimitBits uint32

	// BIP0034Height is the height at which the BIP34 coinbase-height
	// commitment takes effect.
	BIP0034Height int32
	BIP0065Height int32
	BIP0066Height int32

	// BIP30Exceptions lists the two historical (height, hash) pairs where a
	// coinbase transaction was permitted to duplicate a still-unspent
	// earlier coinbase's txid (spec.md §4.B's "narrow consensus carve-out").
	BIP30Exceptions map[int32]chainhash.Hash

	CoinbaseMaturity         uint16
	SubsidyReductionInterval int32

	TargetTimespan           time.Duration
	TargetTimePerBlock       time.Duration
	RetargetAdjustmentFactor int64

	ReduceMinDifficulty  bool
	MinDiffReductionTime time.Duration

	// Checkpoints ordered from oldest to newest.
	Checkpoints []Checkpoint

	RuleChangeActivationThreshold uint32
	MinerConfirmationWindow       uint32
	Deployments                   [DefinedDeployments]ConsensusDeployment

	// AssumeValid is the configured "assumed valid" block hash (spec.md
	// §4.F.2 / §6's assumevalid config key); the zero hash disables the
	// skip-verification optimization.
	AssumeValid chainhash.Hash
}

// TotalSubsidy returns the subsidy, in base units, paid to the coinbase of
// the block at the given height: 50 coin-units halving every
// SubsidyReductionInterval blocks, reaching zero after 64 halvings
// (spec.md §4.F.5).
func (p *Params) TotalSubsidy(height int32) int64 {
	const baseSubsidy = 50 * 1e8
	halvings := uint(height) / uint(p.SubsidyReductionInterval)
	if halvings >= 64 {
		return 0
	}
	return baseSubsidy >> halvings
}

// MainNetParams are the consensus parameters for the main network.
var MainNetParams = Params{
	Name: "mainnet",
	Net:  wire.MainNet,

	GenesisBlock: &genesisBlock,
	GenesisHash:  &genesisHash,

	PowLimit:     mainPowLimit,
	PowLimitBits: 0x1d00ffff,

	BIP0034Height: 227931,
	BIP0065Height: 388381,
	BIP0066Height: 363725,

	BIP30Exceptions: map[int32]chainhash.Hash{
		91842: block91842Hash,
		91880: block91880Hash,
	},

	CoinbaseMaturity:         100,
	SubsidyReductionInterval: 210000,

	TargetTimespan:           time.Hour * 24 * 14,
	TargetTimePerBlock:       time.Minute * 10,
	RetargetAdjustmentFactor: 4,

	ReduceMinDifficulty: false,

	Checkpoints: []Checkpoint{},

	RuleChangeActivationThreshold: 1916,
	MinerConfirmationWindow:       2016,
	Deployments: [DefinedDeployments]ConsensusDeployment{
		DeploymentTestDummy: {BitNumber: 28, StartTime: 0, ExpireTime: 0},
		DeploymentCSV:       {BitNumber: 0, StartTime: 1462060800, ExpireTime: 1493596800},
	},
}

// RegressionNetParams are the consensus parameters for a local regtest-style
// network: minimal proof-of-work, no checkpoints, immediate deployments.
var RegressionNetParams = Params{
	Name: "regtest",
	Net:  wire.SimNet,

	GenesisBlock: &regTestGenesisBlock,
	GenesisHash:  &regTestGenesisHash,

	PowLimit:     regressionPowLimit,
	PowLimitBits: 0x207fffff,

	BIP0034Height: 100000000,
	BIP0065Height: 1351,
	BIP0066Height: 1251,

	BIP30Exceptions: map[int32]chainhash.Hash{},

	CoinbaseMaturity:         100,
	SubsidyReductionInterval: 150,

	TargetTimespan:           time.Hour * 24 * 14,
	TargetTimePerBlock:       time.Minute * 10,
	RetargetAdjustmentFactor: 4,

	ReduceMinDifficulty:  true,
	MinDiffReductionTime: time.Minute * 20,

	Checkpoints: nil,

	RuleChangeActivationThreshold: 108,
	MinerConfirmationWindow:       144,
	Deployments: [DefinedDeployments]ConsensusDeployment{
		DeploymentTestDummy: {BitNumber: 28},
		DeploymentCSV:       {BitNumber: 0},
	},
}

// block91842Hash and block91880Hash are the two historical mainnet blocks
// whose coinbase transaction duplicated an earlier, still-unspent coinbase
// txid — the sole exemption from BIP30 (spec.md §4.B, §4.F.3).
var (
	block91842Hash = mustHash("00000000000a4d0a398161ffc163c503763b1f4360639393e0e4c8e300e0caec")
	block91880Hash = mustHash("00000000000743f190a18c5577a3c2d2a1f610ae9601ac046a38084ccb7cd721")
)

func mustHash(s string) chainhash.Hash {
	h, err := chainhash.NewHashFromStr(s)
	if err != nil {
		panic(err)
	}
	return *h
}
