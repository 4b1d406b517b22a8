package rollup

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/specularl2/specular-node/eth"
)

var (
	ErrBlockTimeZero        = errors.New("block time cannot be 0")
	ErrMissingGenesisL1Hash = errors.New("genesis L1 hash cannot be empty")
	ErrMissingGenesisL2Hash = errors.New("genesis L2 hash cannot be empty")
	ErrGenesisHashesSame    = errors.New("achievement get! rollup inception: L1 and L2 genesis cannot be the same")
	ErrMissingL2ChainID     = errors.New("L2 chain ID must not be nil")
	ErrMissingBatchInbox    = errors.New("batch inbox address cannot be empty")
	ErrMissingL1Oracle      = errors.New("L1 oracle address cannot be empty")
	ErrMissingGasLimit      = errors.New("system config gas limit cannot be 0")
)

// SystemConfig tracks the rollup parameters that are set on chain.
type SystemConfig struct {
	// BatcherAddr is the authorized batch sender address.
	BatcherAddr common.Address `toml:"batch_sender"`
	// GasLimit of the L2 blocks.
	GasLimit uint64 `toml:"gas_limit"`
}

// Genesis anchors the rollup chain: derivation starts from here after a cold
// start, and heads can never move below it.
type Genesis struct {
	// The L1 block that the rollup starts after (no derived transactions)
	L1 eth.BlockID `toml:"l1"`
	// The L2 block that the rollup starts from (no transactions, pre-configured state)
	L2 eth.BlockID `toml:"l2"`
	// Timestamp of the L2 genesis block
	L2Time uint64 `toml:"l2_time"`
	// Initial system config values
	SystemConfig SystemConfig `toml:"system_config"`
}

type Config struct {
	Genesis Genesis `toml:"genesis"`
	// BlockTime is the L2 block time, in seconds.
	BlockTime uint64 `toml:"block_time"`
	// MaxSequencerDrift is how far the L2 timestamp may run ahead of its L1
	// origin's timestamp before the origin must advance.
	MaxSequencerDrift uint64 `toml:"max_seq_drift"`
	// SeqWindowSize is the number of L1 blocks a batch for a given epoch may
	// trail its epoch by and still be included.
	SeqWindowSize uint64 `toml:"seq_window_size"`
	// MaxSafeLag is how many blocks the unsafe head may run ahead of the safe
	// head before local sequencing pauses. Zero disables the bound.
	MaxSafeLag uint64 `toml:"max_safe_lag"`

	L1ChainID *big.Int `toml:"l1_chain_id"`
	L2ChainID *big.Int `toml:"l2_chain_id"`

	// BatchInboxAddress is the recipient of batcher transactions on L1.
	BatchInboxAddress common.Address `toml:"batch_inbox"`
	// BatchInboxContract: if true the inbox is a contract and batcher payloads
	// are calldata of the appendTxBatch method; otherwise the inbox is an EOA
	// and the full calldata is the payload.
	BatchInboxContract bool `toml:"batch_inbox_contract"`
	// L1OracleAddress is the L2 predeploy holding the mirrored L1 values.
	L1OracleAddress common.Address `toml:"l1_oracle"`
	// DepositTxDeriver: if true the node opens every derived L2 block with an
	// L1-attributes deposit transaction it builds itself; otherwise batches
	// carry their own signed oracle update as their first transaction.
	DepositTxDeriver bool `toml:"deposit_tx_deriver"`
}

// Check verifies that the rollup configuration is complete and self-consistent.
func (cfg *Config) Check() error {
	if cfg.BlockTime == 0 {
		return ErrBlockTimeZero
	}
	if cfg.Genesis.L1.Hash == (common.Hash{}) {
		return ErrMissingGenesisL1Hash
	}
	if cfg.Genesis.L2.Hash == (common.Hash{}) {
		return ErrMissingGenesisL2Hash
	}
	if cfg.Genesis.L2.Hash == cfg.Genesis.L1.Hash {
		return ErrGenesisHashesSame
	}
	if cfg.L2ChainID == nil {
		return ErrMissingL2ChainID
	}
	if cfg.BatchInboxAddress == (common.Address{}) {
		return ErrMissingBatchInbox
	}
	if cfg.L1OracleAddress == (common.Address{}) {
		return ErrMissingL1Oracle
	}
	if cfg.Genesis.SystemConfig.GasLimit == 0 {
		return ErrMissingGasLimit
	}
	return nil
}

// NextTimestamp computes the timestamp of the L2 block following a block with
// the given timestamp.
func (cfg *Config) NextTimestamp(t uint64) uint64 {
	return t + cfg.BlockTime
}

func (cfg *Config) Description() string {
	return fmt.Sprintf("L2 chain %v (block time %d, seq window %d, max drift %d)",
		cfg.L2ChainID, cfg.BlockTime, cfg.SeqWindowSize, cfg.MaxSequencerDrift)
}

// SystemAccounts are the protocol-reserved L2 accounts.
type SystemAccounts struct {
	// AttributesDepositor is the sender of the top-of-block system transaction.
	AttributesDepositor common.Address
	// AttributesPreDeploy is the predeploy receiving L1 attribute updates.
	AttributesPreDeploy common.Address
	// FeeVault collects sequencer fees.
	FeeVault common.Address
}

func DefaultSystemAccounts() SystemAccounts {
	return SystemAccounts{
		AttributesDepositor: common.HexToAddress("0xdeaddeaddeaddeaddeaddeaddeaddeaddead0001"),
		AttributesPreDeploy: common.HexToAddress("0x4200000000000000000000000000000000000015"),
		FeeVault:            common.HexToAddress("0x4200000000000000000000000000000000000011"),
	}
}
