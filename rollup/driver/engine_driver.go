package driver

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"

	"github.com/specularl2/specular-node/engine"
	"github.com/specularl2/specular-node/eth"
	"github.com/specularl2/specular-node/rollup/derive"
)

// L2Client looks up blocks on the local L2 execution client.
type L2Client interface {
	BlockByNumber(ctx context.Context, number *big.Int) (*types.Block, error)
}

// ChainHead selects which head an attributes application targets.
type ChainHead int

const (
	// Safe: the attributes were derived from L1 data.
	Safe ChainHead = iota
	// Unsafe: the attributes came from local sequencing or gossip.
	Unsafe
)

func (h ChainHead) String() string {
	if h == Safe {
		return "safe"
	}
	return "unsafe"
}

// action is the driver's decision for a set of attributes: adopt an existing
// local block, or build a new payload (optionally reorging first).
type action struct {
	skip  bool
	info  eth.BlockRef // block to adopt when skipping
	reorg bool         // reset unsafe head to safe head before processing
}

// EngineDriver owns the three L2 head pointers and reconciles derived payload
// attributes with the execution engine. It is the sole mutator of the heads.
type EngineDriver struct {
	log log.Logger

	engine engine.Engine
	l2     L2Client
	state  *derive.State

	blockTime uint64

	unsafeHead     eth.BlockRef
	unsafeEpoch    eth.Epoch
	safeHead       eth.BlockRef
	safeEpoch      eth.Epoch
	finalizedHead  eth.BlockRef
	finalizedEpoch eth.Epoch
}

func NewEngineDriver(log log.Logger, eng engine.Engine, l2 L2Client, state *derive.State, blockTime uint64, finalizedHead eth.BlockRef, finalizedEpoch eth.Epoch) *EngineDriver {
	d := &EngineDriver{
		log:            log,
		engine:         eng,
		l2:             l2,
		state:          state,
		blockTime:      blockTime,
		unsafeHead:     finalizedHead,
		unsafeEpoch:    finalizedEpoch,
		safeHead:       finalizedHead,
		safeEpoch:      finalizedEpoch,
		finalizedHead:  finalizedHead,
		finalizedEpoch: finalizedEpoch,
	}
	d.syncState()
	return d
}

func (d *EngineDriver) UnsafeHead() (eth.BlockRef, eth.Epoch) { return d.unsafeHead, d.unsafeEpoch }
func (d *EngineDriver) SafeHead() (eth.BlockRef, eth.Epoch)  { return d.safeHead, d.safeEpoch }
func (d *EngineDriver) FinalizedHead() (eth.BlockRef, eth.Epoch) {
	return d.finalizedHead, d.finalizedEpoch
}

// HandleAttributes reconciles payload attributes with the local chain: if an
// equivalent block already exists it is adopted without touching the engine's
// block building, otherwise a payload is built, pushed and made canonical.
func (d *EngineDriver) HandleAttributes(ctx context.Context, attrs *eth.PayloadAttributes, target ChainHead) error {
	if attrs.Epoch == nil {
		return derive.NewCriticalError(errors.New("attributes without epoch"))
	}
	act := d.determineAction(ctx, attrs)
	return d.executeAction(ctx, attrs, act, target)
}

func (d *EngineDriver) determineAction(ctx context.Context, attrs *eth.PayloadAttributes) action {
	block := d.blockAt(ctx, uint64(attrs.Timestamp))
	if block == nil {
		d.log.Debug("no local L2 block at attributes timestamp", "timestamp", uint64(attrs.Timestamp))
		return action{reorg: false}
	}
	if shouldSkip(block, attrs) {
		return action{skip: true, info: blockToRef(block)}
	}
	return action{reorg: true}
}

func (d *EngineDriver) executeAction(ctx context.Context, attrs *eth.PayloadAttributes, act action, target ChainHead) error {
	epoch := *attrs.Epoch
	if act.skip {
		// The chain already contains this block; only the head pointers move.
		switch target {
		case Safe:
			d.updateSafeHead(act.info, epoch, false)
		case Unsafe:
			d.updateUnsafeHead(act.info, epoch)
		}
		return d.updateForkchoice(ctx)
	}

	if act.reorg {
		d.log.Info("reorging unsafe head to safe head", "unsafe", d.unsafeHead.ID(), "safe", d.safeHead.ID())
		d.updateUnsafeHead(d.safeHead, d.safeEpoch)
	}
	newHead, newEpoch, err := d.buildNewPayload(ctx, attrs)
	if err != nil {
		return err
	}
	switch target {
	case Safe:
		d.updateSafeHead(newHead, newEpoch, act.reorg)
	case Unsafe:
		d.updateUnsafeHead(newHead, newEpoch)
	}
	return d.updateForkchoice(ctx)
}

// HandleUnsafePayload inserts a payload received outside of derivation (e.g.
// gossip) and advances the unsafe head to it.
func (d *EngineDriver) HandleUnsafePayload(ctx context.Context, payload *eth.ExecutionPayload, epoch eth.Epoch) error {
	if err := d.pushPayload(ctx, payload); err != nil {
		return err
	}
	d.updateUnsafeHead(payload.BlockRef(), epoch)
	if err := d.updateForkchoice(ctx); err != nil {
		return err
	}
	d.log.Info("unsafe head updated from payload", "number", d.unsafeHead.Number, "hash", d.unsafeHead.Hash)
	return nil
}

// Reorg resets both advancing heads to the finalized head. Invoked on a fatal
// derivation reset, before the pipeline is purged and re-driven.
func (d *EngineDriver) Reorg() {
	d.unsafeHead, d.unsafeEpoch = d.finalizedHead, d.finalizedEpoch
	d.safeHead, d.safeEpoch = d.finalizedHead, d.finalizedEpoch
	d.syncState()
}

// UpdateFinalized marks a block as finalized. It does not issue engine calls.
func (d *EngineDriver) UpdateFinalized(head eth.BlockRef, epoch eth.Epoch) {
	d.finalizedHead, d.finalizedEpoch = head, epoch
	d.state.SetFinalizedHead(head, epoch)
}

// EngineReady probes the engine with a no-op fork-choice update.
func (d *EngineDriver) EngineReady(ctx context.Context) bool {
	_, err := d.engine.ForkchoiceUpdate(ctx, d.forkchoiceState(), nil)
	if err != nil {
		d.log.Debug("engine not ready yet", "err", err)
	}
	return err == nil
}

func (d *EngineDriver) updateUnsafeHead(head eth.BlockRef, epoch eth.Epoch) {
	d.unsafeHead, d.unsafeEpoch = head, epoch
	d.state.SetUnsafeHead(head, epoch)
}

func (d *EngineDriver) updateSafeHead(head eth.BlockRef, epoch eth.Epoch, reorgUnsafe bool) {
	if d.safeHead != head {
		d.safeHead, d.safeEpoch = head, epoch
		d.state.SetSafeHead(head, epoch)
	}
	if reorgUnsafe || d.safeHead.Number > d.unsafeHead.Number {
		d.log.Info("advancing unsafe head to safe head", "unsafe", d.unsafeHead.Number, "safe", d.safeHead.Number)
		d.updateUnsafeHead(d.safeHead, d.safeEpoch)
	}
}

func (d *EngineDriver) syncState() {
	d.state.SetUnsafeHead(d.unsafeHead, d.unsafeEpoch)
	d.state.SetSafeHead(d.safeHead, d.safeEpoch)
	d.state.SetFinalizedHead(d.finalizedHead, d.finalizedEpoch)
}

func (d *EngineDriver) forkchoiceState() *eth.ForkchoiceState {
	return &eth.ForkchoiceState{
		HeadBlockHash:      d.unsafeHead.Hash,
		SafeBlockHash:      d.safeHead.Hash,
		FinalizedBlockHash: d.finalizedHead.Hash,
	}
}

// buildNewPayload starts a payload building job for the attributes, waits for
// the engine to fill it when the tx pool is open, and pushes the result.
func (d *EngineDriver) buildNewPayload(ctx context.Context, attrs *eth.PayloadAttributes) (eth.BlockRef, eth.Epoch, error) {
	payload, err := d.buildPayload(ctx, attrs)
	if err != nil {
		return eth.BlockRef{}, eth.Epoch{}, err
	}
	d.log.Info("built payload", "timestamp", uint64(payload.Timestamp), "number", uint64(payload.BlockNumber), "hash", payload.BlockHash)
	if err := d.pushPayload(ctx, payload); err != nil {
		return eth.BlockRef{}, eth.Epoch{}, err
	}
	return payload.BlockRef(), *attrs.Epoch, nil
}

func (d *EngineDriver) buildPayload(ctx context.Context, attrs *eth.PayloadAttributes) (*eth.ExecutionPayload, error) {
	result, err := d.engine.ForkchoiceUpdate(ctx, d.forkchoiceState(), attrs)
	if err != nil {
		return nil, derive.NewTemporaryError(fmt.Errorf("failed to start payload building: %w", err))
	}
	if err := checkForkchoiceStatus(result.PayloadStatus); err != nil {
		return nil, err
	}
	if result.PayloadID == nil {
		return nil, derive.NewTemporaryError(errors.New("engine did not return a payload id"))
	}
	if !attrs.NoTxPool {
		// Give the engine a block time to pull transactions from the pool
		// before sealing.
		select {
		case <-time.After(time.Duration(d.blockTime) * time.Second):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	payload, err := d.engine.GetPayload(ctx, *result.PayloadID)
	if err != nil {
		return nil, derive.NewTemporaryError(fmt.Errorf("failed to get payload: %w", err))
	}
	return payload, nil
}

func (d *EngineDriver) pushPayload(ctx context.Context, payload *eth.ExecutionPayload) error {
	status, err := d.engine.NewPayload(ctx, payload)
	if err != nil {
		return derive.NewTemporaryError(fmt.Errorf("failed to push payload: %w", err))
	}
	if status.Status != eth.ExecutionValid && status.Status != eth.ExecutionAccepted {
		if status.Status == eth.ExecutionSyncing {
			return derive.NewTemporaryError(eth.NewPayloadErr(payload, status))
		}
		return derive.NewResetError(eth.NewPayloadErr(payload, status))
	}
	return nil
}

func (d *EngineDriver) updateForkchoice(ctx context.Context) error {
	result, err := d.engine.ForkchoiceUpdate(ctx, d.forkchoiceState(), nil)
	if err != nil {
		return derive.NewTemporaryError(fmt.Errorf("failed to update forkchoice: %w", err))
	}
	return checkForkchoiceStatus(result.PayloadStatus)
}

func checkForkchoiceStatus(status eth.PayloadStatusV1) error {
	switch status.Status {
	case eth.ExecutionValid:
		return nil
	case eth.ExecutionSyncing:
		return derive.NewTemporaryError(eth.ForkchoiceUpdateErr(status))
	default:
		return derive.NewResetError(eth.ForkchoiceUpdateErr(status))
	}
}

// blockAt fetches the local L2 block expected at the given timestamp, walking
// forward from the finalized head by whole block times. A lookup failure is
// treated as the block being absent.
func (d *EngineDriver) blockAt(ctx context.Context, timestamp uint64) *types.Block {
	if timestamp < d.finalizedHead.Time {
		return nil
	}
	blocks := (timestamp - d.finalizedHead.Time) / d.blockTime
	num := new(big.Int).SetUint64(d.finalizedHead.Number + blocks)
	block, err := d.l2.BlockByNumber(ctx, num)
	if err != nil {
		return nil
	}
	return block
}

func blockToRef(block *types.Block) eth.BlockRef {
	return eth.BlockRef{
		Hash:       block.Hash(),
		Number:     block.NumberU64(),
		ParentHash: block.ParentHash(),
		Time:       block.Time(),
	}
}

// shouldSkip reports whether a locally known block renders the attributes
// redundant: same transactions in order, and matching timestamp, randao,
// fee recipient and gas limit.
func shouldSkip(block *types.Block, attrs *eth.PayloadAttributes) bool {
	if uint64(attrs.Timestamp) != block.Time() ||
		attrs.PrevRandao != block.MixDigest() ||
		attrs.SuggestedFeeRecipient != block.Coinbase() {
		return false
	}
	if attrs.GasLimit == nil || uint64(*attrs.GasLimit) != block.GasLimit() {
		return false
	}
	blockTxs := block.Transactions()
	if len(attrs.Transactions) != len(blockTxs) {
		return false
	}
	for i, tx := range attrs.Transactions {
		if crypto.Keccak256Hash(tx) != blockTxs[i].Hash() {
			return false
		}
	}
	return true
}
