package derive

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/specularl2/specular-node/eth"
	"github.com/specularl2/specular-node/rollup"
)

const depositSystemTxGas = 1_000_000

// L1InfoDepositSource computes the unique source hash of the L1 attributes
// deposit for a given L1 block and intra-epoch position.
type L1InfoDepositSource struct {
	L1BlockHash common.Hash
	SeqNumber   uint64
}

func (src *L1InfoDepositSource) SourceHash() common.Hash {
	var input [48]byte
	copy(input[:32], src.L1BlockHash[:])
	binary.BigEndian.PutUint64(input[40:], src.SeqNumber)
	depositIDHash := crypto.Keccak256Hash(input[:])
	domainInput := make([]byte, 64)
	domainInput[31] = 1
	copy(domainInput[32:], depositIDHash[:])
	return crypto.Keccak256Hash(domainInput)
}

// OptimismTransactionDeriver prepends an L1 attributes deposit transaction to
// the batch transactions, the way Optimism-path chains open every L2 block.
type OptimismTransactionDeriver struct{}

func (OptimismTransactionDeriver) DeriveTransactions(cfg *rollup.Config, _ *State, seqNumber uint64, _ common.Hash, batch Batch, l1Info eth.L1BlockInfo) ([]eth.Data, error) {
	depositTx, err := L1InfoDepositBytes(cfg, seqNumber, l1Info)
	if err != nil {
		return nil, fmt.Errorf("failed to build L1 info deposit: %w", err)
	}
	txs := make([]eth.Data, 0, 1+len(batch.Transactions))
	txs = append(txs, depositTx)
	txs = append(txs, batch.Transactions...)
	return txs, nil
}

// L1InfoDeposit builds the L1 attributes deposit transaction for the given L1
// block and sequence number within the epoch.
func L1InfoDeposit(cfg *rollup.Config, seqNumber uint64, l1Info eth.L1BlockInfo) (*types.DepositTx, error) {
	call := AttributesDepositedCall{
		Number:         l1Info.Number,
		Time:           l1Info.Time,
		BaseFee:        l1Info.BaseFee,
		Hash:           l1Info.Hash,
		SequenceNumber: seqNumber,
		BatcherHash:    BatcherHash(cfg.Genesis.SystemConfig.BatcherAddr),
		FeeOverhead:    new(big.Int),
		FeeScalar:      new(big.Int),
	}
	data, err := call.MarshalBinary()
	if err != nil {
		return nil, err
	}
	source := L1InfoDepositSource{
		L1BlockHash: l1Info.Hash,
		SeqNumber:   seqNumber,
	}
	accounts := rollup.DefaultSystemAccounts()
	to := accounts.AttributesPreDeploy
	return &types.DepositTx{
		SourceHash:          source.SourceHash(),
		From:                accounts.AttributesDepositor,
		To:                  &to,
		Mint:                nil,
		Value:               big.NewInt(0),
		Gas:                 depositSystemTxGas,
		IsSystemTransaction: false,
		Data:                data,
	}, nil
}

// L1InfoDepositBytes returns the serialized L1 attributes deposit transaction.
func L1InfoDepositBytes(cfg *rollup.Config, seqNumber uint64, l1Info eth.L1BlockInfo) (eth.Data, error) {
	dep, err := L1InfoDeposit(cfg, seqNumber, l1Info)
	if err != nil {
		return nil, fmt.Errorf("failed to create L1 info tx: %w", err)
	}
	l1Tx := types.NewTx(dep)
	opaqueL1Tx, err := l1Tx.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to encode L1 info tx: %w", err)
	}
	return opaqueL1Tx, nil
}

// UnmarshalDepositedCall decodes the calldata of the first transaction of an
// L2 block back into the L1 attributes it committed to. Used to recover the
// epoch of blocks received outside the derivation pipeline.
func UnmarshalDepositedCall(tx eth.Data) (*AttributesDepositedCall, error) {
	var parsed types.Transaction
	if err := parsed.UnmarshalBinary(tx); err != nil {
		return nil, fmt.Errorf("failed to decode transaction: %w", err)
	}
	var call AttributesDepositedCall
	if err := call.UnmarshalBinary(parsed.Data()); err != nil {
		return nil, err
	}
	return &call, nil
}
