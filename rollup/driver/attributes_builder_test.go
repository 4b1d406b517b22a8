package driver

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/require"

	"github.com/specularl2/specular-node/eth"
	"github.com/specularl2/specular-node/rollup/derive"
	"github.com/specularl2/specular-node/testlog"
)

type fakeNonceClient struct {
	nonce uint64
}

func (f *fakeNonceClient) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return f.nonce, nil
}

func newTestBuilder(t *testing.T, now uint64) *AttributesBuilder {
	cfg := testDriverConfig()
	cfg.MaxSafeLag = 5
	cfg.MaxSequencerDrift = 4
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	b := NewAttributesBuilder(testlog.Logger(t, log.LvlError), cfg, &fakeNonceClient{nonce: 3}, key)
	b.timeNow = func() time.Time { return time.Unix(int64(now), 0) }
	return b
}

func l1Info(number uint64, time uint64) eth.L1BlockInfo {
	return eth.L1BlockInfo{
		BlockRef:  eth.BlockRef{Hash: common.BytesToHash([]byte{byte(number)}), Number: number, Time: time},
		BaseFee:   big.NewInt(7),
		MixHash:   common.Hash{0x33},
		StateRoot: common.Hash{0x44},
	}
}

func TestBuilderIsReadyTruthTable(t *testing.T) {
	// ready iff lag < max_safe_lag and next timestamp <= now.
	cases := []struct {
		name         string
		parentNumber uint64
		parentTime   uint64
		ready        bool
	}{
		{"lag ok, time ok", 104, 98, true},
		{"lag ok, time future", 104, 100, false},
		{"lag exceeded, time ok", 105, 98, false},
		{"lag exceeded, time future", 105, 100, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b := newTestBuilder(t, 100)
			parent := eth.BlockRef{Number: tc.parentNumber, Time: tc.parentTime}
			safeHead := eth.BlockRef{Number: 100}
			require.Equal(t, tc.ready, b.IsReady(parent, safeHead))
		})
	}
}

func TestBuilderDriftBoundExceeded(t *testing.T) {
	b := newTestBuilder(t, 1000)
	parent := eth.BlockRef{Number: 10, Time: 100}
	parentEpoch := l1Info(5, 96)

	// next L2 ts 102 > 96 + 4 and no next epoch is known.
	_, err := b.GetAttributes(context.Background(), parent, parentEpoch, nil)
	require.ErrorIs(t, err, derive.ErrDriftBoundExceeded)
}

func TestBuilderDriftBoundEqualityNotExceeded(t *testing.T) {
	b := newTestBuilder(t, 1000)
	parent := eth.BlockRef{Number: 10, Time: 100}
	parentEpoch := l1Info(5, 98)

	// next L2 ts 102 == 98 + 4: the bound holds, the origin stays put.
	attrs, err := b.GetAttributes(context.Background(), parent, parentEpoch, nil)
	require.NoError(t, err)
	require.Equal(t, parentEpoch.Epoch(), *attrs.Epoch)
	require.Empty(t, attrs.Transactions)
	require.False(t, attrs.NoTxPool)
}

func TestBuilderDriftFallsBackToNextEpoch(t *testing.T) {
	b := newTestBuilder(t, 1000)
	parent := eth.BlockRef{Number: 10, Time: 100}
	parentEpoch := l1Info(5, 96)
	nextEpoch := l1Info(6, 101)

	attrs, err := b.GetAttributes(context.Background(), parent, parentEpoch, &nextEpoch)
	require.NoError(t, err)
	require.Equal(t, nextEpoch.Epoch(), *attrs.Epoch)
	require.Equal(t, nextEpoch.MixHash, attrs.PrevRandao)
	// Drift exceeded: the block must not pull from the tx pool.
	require.True(t, attrs.NoTxPool)
	require.Len(t, attrs.Transactions, 1)
}

func TestBuilderAdoptsDueNextEpoch(t *testing.T) {
	b := newTestBuilder(t, 1000)
	parent := eth.BlockRef{Number: 10, Time: 100}
	parentEpoch := l1Info(5, 99)
	nextEpoch := l1Info(6, 102)

	// next L2 ts 102 >= next epoch time 102: adopt the next epoch.
	attrs, err := b.GetAttributes(context.Background(), parent, parentEpoch, &nextEpoch)
	require.NoError(t, err)
	require.Equal(t, nextEpoch.Epoch(), *attrs.Epoch)
	require.Len(t, attrs.Transactions, 1)
}

func TestBuilderKeepsParentEpochBeforeNextIsDue(t *testing.T) {
	b := newTestBuilder(t, 1000)
	parent := eth.BlockRef{Number: 10, Time: 100}
	parentEpoch := l1Info(5, 99)
	nextEpoch := l1Info(6, 103)

	attrs, err := b.GetAttributes(context.Background(), parent, parentEpoch, &nextEpoch)
	require.NoError(t, err)
	require.Equal(t, parentEpoch.Epoch(), *attrs.Epoch)
	require.Empty(t, attrs.Transactions)
}

func TestBuilderOracleUpdateTransaction(t *testing.T) {
	b := newTestBuilder(t, 1000)
	parent := eth.BlockRef{Number: 10, Time: 100}
	parentEpoch := l1Info(5, 99)
	nextEpoch := l1Info(6, 102)

	attrs, err := b.GetAttributes(context.Background(), parent, parentEpoch, &nextEpoch)
	require.NoError(t, err)
	require.Len(t, attrs.Transactions, 1)

	var tx types.Transaction
	require.NoError(t, tx.UnmarshalBinary(attrs.Transactions[0]))
	require.NotNil(t, tx.To())
	require.Equal(t, b.cfg.L1OracleAddress, *tx.To())
	require.Equal(t, uint64(3), tx.Nonce())

	var values derive.L1OracleValues
	require.NoError(t, values.UnmarshalBinary(tx.Data()))
	require.Equal(t, nextEpoch.Number, values.Number)
	require.Equal(t, nextEpoch.Time, values.Time)
	require.Equal(t, nextEpoch.Hash, values.Hash)
	require.Equal(t, nextEpoch.StateRoot, values.StateRoot)
	require.Zero(t, nextEpoch.BaseFee.Cmp(values.BaseFee))

	// The tx is signed by the sequencer key.
	from, err := types.Sender(types.LatestSignerForChainID(b.cfg.L2ChainID), &tx)
	require.NoError(t, err)
	require.Equal(t, crypto.PubkeyToAddress(b.key.PublicKey), from)
}
