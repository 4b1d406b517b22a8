package driver

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/require"

	"github.com/specularl2/specular-node/eth"
	"github.com/specularl2/specular-node/rollup"
	"github.com/specularl2/specular-node/rollup/derive"
	"github.com/specularl2/specular-node/testlog"
)

type fakeEngine struct {
	payload *eth.ExecutionPayload

	fcuAttrsCalls  int
	fcuNilCalls    int
	getCalls       int
	newCalls       int
	lastForkchoice eth.ForkchoiceState

	fcuStatus eth.ExecutePayloadStatus
	newStatus eth.ExecutePayloadStatus
}

func newFakeEngine(payload *eth.ExecutionPayload) *fakeEngine {
	return &fakeEngine{payload: payload, fcuStatus: eth.ExecutionValid, newStatus: eth.ExecutionValid}
}

func (e *fakeEngine) ForkchoiceUpdate(ctx context.Context, fc *eth.ForkchoiceState, attrs *eth.PayloadAttributes) (*eth.ForkchoiceUpdatedResult, error) {
	e.lastForkchoice = *fc
	result := &eth.ForkchoiceUpdatedResult{PayloadStatus: eth.PayloadStatusV1{Status: e.fcuStatus}}
	if attrs != nil {
		e.fcuAttrsCalls++
		id := eth.PayloadID{0x01}
		result.PayloadID = &id
	} else {
		e.fcuNilCalls++
	}
	return result, nil
}

func (e *fakeEngine) NewPayload(ctx context.Context, payload *eth.ExecutionPayload) (*eth.PayloadStatusV1, error) {
	e.newCalls++
	return &eth.PayloadStatusV1{Status: e.newStatus}, nil
}

func (e *fakeEngine) GetPayload(ctx context.Context, id eth.PayloadID) (*eth.ExecutionPayload, error) {
	e.getCalls++
	if e.payload == nil {
		return nil, errors.New("no payload")
	}
	return e.payload, nil
}

type fakeL2 struct {
	blocks map[uint64]*types.Block
}

func (f *fakeL2) BlockByNumber(ctx context.Context, number *big.Int) (*types.Block, error) {
	block, ok := f.blocks[number.Uint64()]
	if !ok {
		return nil, errors.New("not found")
	}
	return block, nil
}

func testDriverConfig() *rollup.Config {
	return &rollup.Config{
		BlockTime:         2,
		SeqWindowSize:     10,
		MaxSequencerDrift: 600,
		MaxSafeLag:        100,
		L1ChainID:         big.NewInt(900),
		L2ChainID:         big.NewInt(901),
		L1OracleAddress:   common.HexToAddress("0x2a00000000000000000000000000000000000010"),
		BatchInboxAddress: common.HexToAddress("0xff00000000000000000000000000000000000000"),
		Genesis: rollup.Genesis{
			L1:           eth.BlockID{Hash: common.Hash{0x01}},
			L2:           eth.BlockID{Hash: common.Hash{0x02}},
			SystemConfig: rollup.SystemConfig{GasLimit: 30_000_000},
		},
	}
}

func testTx(t *testing.T, nonce uint64) *types.Transaction {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	to := common.Address{0x42}
	tx, err := types.SignNewTx(key, types.LatestSignerForChainID(big.NewInt(901)), &types.LegacyTx{
		Nonce:    nonce,
		GasPrice: big.NewInt(1),
		Gas:      21000,
		To:       &to,
		Value:    new(big.Int),
	})
	require.NoError(t, err)
	return tx
}

// matchingAttrsAndBlock builds payload attributes and a local block that are
// equivalent under the skip predicate.
func matchingAttrsAndBlock(t *testing.T, epoch eth.Epoch) (*eth.PayloadAttributes, *types.Block) {
	t.Helper()
	tx := testTx(t, 0)
	raw, err := tx.MarshalBinary()
	require.NoError(t, err)

	feeRecipient := common.Address{0x11}
	prevRandao := common.Hash{0x22}
	gasLimit := eth.Uint64Quantity(30_000_000)
	seqNumber := uint64(0)
	attrs := &eth.PayloadAttributes{
		Timestamp:             2002,
		PrevRandao:            prevRandao,
		SuggestedFeeRecipient: feeRecipient,
		Transactions:          []eth.Data{raw},
		NoTxPool:              true,
		GasLimit:              &gasLimit,
		Epoch:                 &epoch,
		SeqNumber:             &seqNumber,
	}
	header := &types.Header{
		Number:   big.NewInt(101),
		Time:     2002,
		MixDigest: prevRandao,
		Coinbase: feeRecipient,
		GasLimit: 30_000_000,
	}
	block := types.NewBlockWithHeader(header).WithBody([]*types.Transaction{tx}, nil)
	return attrs, block
}

func newTestEngineDriver(t *testing.T, eng *fakeEngine, l2 *fakeL2) (*EngineDriver, *derive.State) {
	cfg := testDriverConfig()
	state := derive.NewState(cfg)
	finalized := eth.BlockRef{Hash: common.Hash{0xf0}, Number: 100, Time: 2000}
	finalizedEpoch := eth.Epoch{Number: 5, Hash: common.Hash{0x05}, Time: 1990}
	logger := testlog.Logger(t, log.LvlError)
	return NewEngineDriver(logger, eng, l2, state, cfg.BlockTime, finalized, finalizedEpoch), state
}

func TestEngineDriverSkipsEquivalentBlock(t *testing.T) {
	epoch := eth.Epoch{Number: 5, Hash: common.Hash{0x05}, Time: 1990}
	attrs, block := matchingAttrsAndBlock(t, epoch)
	eng := newFakeEngine(nil)
	l2 := &fakeL2{blocks: map[uint64]*types.Block{101: block}}
	d, _ := newTestEngineDriver(t, eng, l2)

	require.NoError(t, d.HandleAttributes(context.Background(), attrs, Safe))

	safeHead, safeEpoch := d.SafeHead()
	require.Equal(t, block.Hash(), safeHead.Hash)
	require.Equal(t, uint64(101), safeHead.Number)
	require.Equal(t, epoch, safeEpoch)
	// No payload was built or pushed.
	require.Zero(t, eng.fcuAttrsCalls)
	require.Zero(t, eng.newCalls)
	require.Zero(t, eng.getCalls)

	// Reapplying the same attributes is idempotent.
	require.NoError(t, d.HandleAttributes(context.Background(), attrs, Safe))
	safeHead2, _ := d.SafeHead()
	require.Equal(t, safeHead, safeHead2)
	require.Zero(t, eng.newCalls)
}

func TestEngineDriverReorgsOnMismatch(t *testing.T) {
	epoch := eth.Epoch{Number: 5, Hash: common.Hash{0x05}, Time: 1990}
	attrs, _ := matchingAttrsAndBlock(t, epoch)

	// The local block at the attributes timestamp carries a different tx.
	otherTx := testTx(t, 7)
	header := &types.Header{
		Number:   big.NewInt(101),
		Time:     2002,
		MixDigest: attrs.PrevRandao,
		Coinbase: attrs.SuggestedFeeRecipient,
		GasLimit: 30_000_000,
	}
	local := types.NewBlockWithHeader(header).WithBody([]*types.Transaction{otherTx}, nil)

	payload := &eth.ExecutionPayload{
		BlockHash:   common.Hash{0xbb},
		ParentHash:  common.Hash{0xf0},
		BlockNumber: 101,
		Timestamp:   2002,
	}
	eng := newFakeEngine(payload)
	l2 := &fakeL2{blocks: map[uint64]*types.Block{101: local}}
	d, _ := newTestEngineDriver(t, eng, l2)

	require.NoError(t, d.HandleAttributes(context.Background(), attrs, Safe))

	safeHead, _ := d.SafeHead()
	require.Equal(t, payload.BlockHash, safeHead.Hash)
	unsafeHead, _ := d.UnsafeHead()
	require.Equal(t, payload.BlockHash, unsafeHead.Hash)
	require.Equal(t, 1, eng.fcuAttrsCalls)
	require.Equal(t, 1, eng.getCalls)
	require.Equal(t, 1, eng.newCalls)
	require.Equal(t, 1, eng.fcuNilCalls)
	require.Equal(t, payload.BlockHash, eng.lastForkchoice.HeadBlockHash)
	require.Equal(t, payload.BlockHash, eng.lastForkchoice.SafeBlockHash)
}

func TestEngineDriverProcessesMissingBlock(t *testing.T) {
	epoch := eth.Epoch{Number: 5, Hash: common.Hash{0x05}, Time: 1990}
	attrs, _ := matchingAttrsAndBlock(t, epoch)
	payload := &eth.ExecutionPayload{
		BlockHash:   common.Hash{0xcc},
		ParentHash:  common.Hash{0xf0},
		BlockNumber: 101,
		Timestamp:   2002,
	}
	eng := newFakeEngine(payload)
	d, state := newTestEngineDriver(t, eng, &fakeL2{blocks: map[uint64]*types.Block{}})

	require.NoError(t, d.HandleAttributes(context.Background(), attrs, Safe))
	safeHead, _ := d.SafeHead()
	require.Equal(t, payload.BlockHash, safeHead.Hash)
	// The safe head ran ahead of the unsafe head, which caught up.
	unsafeHead, _ := d.UnsafeHead()
	require.Equal(t, safeHead, unsafeHead)
	// The state registry tracks the driver's heads.
	stateSafe, _ := state.SafeHead()
	require.Equal(t, safeHead, stateSafe)
}

func TestEngineDriverSurfacesInvalidStatus(t *testing.T) {
	epoch := eth.Epoch{Number: 5, Hash: common.Hash{0x05}, Time: 1990}
	attrs, _ := matchingAttrsAndBlock(t, epoch)
	eng := newFakeEngine(nil)
	eng.fcuStatus = eth.ExecutionInvalid
	d, _ := newTestEngineDriver(t, eng, &fakeL2{blocks: map[uint64]*types.Block{}})

	err := d.HandleAttributes(context.Background(), attrs, Safe)
	require.ErrorIs(t, err, derive.ErrReset)
	safeHead, _ := d.SafeHead()
	require.Equal(t, uint64(100), safeHead.Number)
}

func TestEngineDriverUnsafePayload(t *testing.T) {
	payload := &eth.ExecutionPayload{
		BlockHash:   common.Hash{0xdd},
		ParentHash:  common.Hash{0xf0},
		BlockNumber: 101,
		Timestamp:   2002,
	}
	eng := newFakeEngine(payload)
	d, _ := newTestEngineDriver(t, eng, &fakeL2{blocks: map[uint64]*types.Block{}})

	epoch := eth.Epoch{Number: 6, Hash: common.Hash{0x06}, Time: 2001}
	require.NoError(t, d.HandleUnsafePayload(context.Background(), payload, epoch))
	unsafeHead, unsafeEpoch := d.UnsafeHead()
	require.Equal(t, payload.BlockHash, unsafeHead.Hash)
	require.Equal(t, epoch, unsafeEpoch)
	// The safe head is untouched.
	safeHead, _ := d.SafeHead()
	require.Equal(t, uint64(100), safeHead.Number)
}

func TestEngineDriverReorgResetsToFinalized(t *testing.T) {
	payload := &eth.ExecutionPayload{
		BlockHash:   common.Hash{0xee},
		ParentHash:  common.Hash{0xf0},
		BlockNumber: 101,
		Timestamp:   2002,
	}
	eng := newFakeEngine(payload)
	d, _ := newTestEngineDriver(t, eng, &fakeL2{blocks: map[uint64]*types.Block{}})

	epoch := eth.Epoch{Number: 6, Hash: common.Hash{0x06}, Time: 2001}
	require.NoError(t, d.HandleUnsafePayload(context.Background(), payload, epoch))

	d.Reorg()
	unsafeHead, _ := d.UnsafeHead()
	safeHead, _ := d.SafeHead()
	finalizedHead, _ := d.FinalizedHead()
	require.Equal(t, finalizedHead, unsafeHead)
	require.Equal(t, finalizedHead, safeHead)
}
