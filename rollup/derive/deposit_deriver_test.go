package derive

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/specularl2/specular-node/eth"
)

func TestOptimismDeriverPrependsDeposit(t *testing.T) {
	cfg := testBatchesConfig()
	cfg.Genesis.SystemConfig.BatcherAddr = common.Address{0x77}
	state := NewState(cfg)

	info := testL1Info(5, common.Hash{0x05}, 1990)
	batch := Batch{
		EpochNum:     5,
		EpochHash:    info.Hash,
		Timestamp:    2002,
		Transactions: []eth.Data{{0x01}},
	}

	txs, err := OptimismTransactionDeriver{}.DeriveTransactions(cfg, state, 3, info.Hash, batch, info)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	require.Equal(t, eth.Data{0x01}, txs[1])

	// The prepended deposit decodes back to the L1 attributes of the epoch.
	call, err := UnmarshalDepositedCall(txs[0])
	require.NoError(t, err)
	require.Equal(t, info.Epoch(), call.Epoch())
	require.Equal(t, uint64(3), call.SequenceNumber)
	require.Equal(t, BatcherHash(cfg.Genesis.SystemConfig.BatcherAddr), call.BatcherHash)
	require.Zero(t, info.BaseFee.Cmp(call.BaseFee))
}

func TestL1InfoDepositSourceDiffersPerSeqNumber(t *testing.T) {
	a := L1InfoDepositSource{L1BlockHash: common.Hash{0x05}, SeqNumber: 0}
	b := L1InfoDepositSource{L1BlockHash: common.Hash{0x05}, SeqNumber: 1}
	require.NotEqual(t, a.SourceHash(), b.SourceHash())
}
