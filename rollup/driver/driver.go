package driver

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"

	"github.com/specularl2/specular-node/eth"
	"github.com/specularl2/specular-node/rollup"
	"github.com/specularl2/specular-node/rollup/derive"
)

// Metrics records the driver events worth observing.
type Metrics interface {
	RecordPipelineReset()
	RecordDerivedAttributes()
	RecordUnsafePayload()
	RecordDerivationError()
	RecordHeads(unsafe, safe, finalized eth.BlockRef)
}

// Driver advances the L2 chain: it drains the derivation pipeline into the
// engine driver, lets the sequencing policy build new unsafe blocks, and
// ingests unsafe payloads received from the outside. All work happens on one
// goroutine; the stages are pull-based and non-blocking.
type Driver struct {
	log     log.Logger
	cfg     *rollup.Config
	metrics Metrics

	engineDriver *EngineDriver
	pipeline     *derive.Pipeline
	state        *derive.State
	policy       SequencingPolicy

	unsafePayloads chan *eth.ExecutionPayload
	resetRequested atomic.Bool
}

func NewDriver(log log.Logger, cfg *rollup.Config, metrics Metrics, engineDriver *EngineDriver, pipeline *derive.Pipeline, state *derive.State, policy SequencingPolicy) *Driver {
	return &Driver{
		log:            log,
		cfg:            cfg,
		metrics:        metrics,
		engineDriver:   engineDriver,
		pipeline:       pipeline,
		state:          state,
		policy:         policy,
		unsafePayloads: make(chan *eth.ExecutionPayload, 16),
	}
}

// IngestUnsafePayload queues a payload received from gossip for insertion.
// It drops the payload if the driver is falling behind.
func (d *Driver) IngestUnsafePayload(payload *eth.ExecutionPayload) {
	select {
	case d.unsafePayloads <- payload:
	default:
		d.log.Warn("dropping unsafe payload, buffer full", "id", payload.ID())
	}
}

// RequestReset asks the driver to reorg onto the finalized head and purge
// the pipeline before its next step. Safe to call from other goroutines.
func (d *Driver) RequestReset() {
	d.resetRequested.Store(true)
}

// UpdateFinalized marks the given L2 block as finalized.
func (d *Driver) UpdateFinalized(head eth.BlockRef, epoch eth.Epoch) {
	d.engineDriver.UpdateFinalized(head, epoch)
}

// Run steps the driver until the context is cancelled. It first waits for the
// engine to accept fork-choice updates.
func (d *Driver) Run(ctx context.Context) error {
	for !d.engineDriver.EngineReady(ctx) {
		d.log.Info("waiting for engine to become ready")
		select {
		case <-time.After(time.Second):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	d.log.Info("engine ready, starting derivation", "config", d.cfg.Description())

	stepInterval := time.Duration(d.cfg.BlockTime) * time.Second / 4
	if stepInterval < time.Second {
		stepInterval = time.Second
	}
	for {
		if err := d.step(ctx); err != nil {
			if errors.Is(err, ctx.Err()) && ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		select {
		case payload := <-d.unsafePayloads:
			d.handleUnsafePayload(ctx, payload)
		case <-time.After(stepInterval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// step drains the pipeline, then gives the sequencing policy a chance to
// build one block. Critical errors abort; everything else backs off into the
// next step.
func (d *Driver) step(ctx context.Context) error {
	if d.resetRequested.Swap(false) {
		d.log.Warn("external reset requested, reorging to finalized head")
		d.engineDriver.Reorg()
		d.pipeline.Purge()
		d.metrics.RecordPipelineReset()
	}
	if err := d.advanceSafeHead(ctx); err != nil {
		return err
	}
	if err := d.sequenceNextBlock(ctx); err != nil {
		return err
	}
	unsafeHead, _ := d.engineDriver.UnsafeHead()
	safeHead, _ := d.engineDriver.SafeHead()
	finalized, _ := d.engineDriver.FinalizedHead()
	d.metrics.RecordHeads(unsafeHead, safeHead, finalized)
	return nil
}

// advanceSafeHead applies every attribute set the pipeline can currently
// derive to the safe chain.
func (d *Driver) advanceSafeHead(ctx context.Context) error {
	for {
		attrs, ok, err := d.pipeline.Next()
		if err != nil {
			return d.handleDerivationError(err)
		}
		if !ok {
			return nil
		}
		d.metrics.RecordDerivedAttributes()

		skip, err := d.policy.ShouldSkipAttributes(ctx, attrs)
		if err != nil {
			d.log.Warn("failed to validate attributes, skipping", "err", err)
			continue
		}
		if skip {
			d.log.Warn("skipping attributes of rejected epoch", "epoch", attrs.Epoch, "timestamp", uint64(attrs.Timestamp))
			continue
		}
		if err := d.engineDriver.HandleAttributes(ctx, attrs, Safe); err != nil {
			return d.handleDerivationError(err)
		}
	}
}

// sequenceNextBlock builds one new unsafe block when the policy is ready.
func (d *Driver) sequenceNextBlock(ctx context.Context) error {
	unsafeHead, unsafeEpoch := d.engineDriver.UnsafeHead()
	safeHead, _ := d.engineDriver.SafeHead()
	if !d.policy.IsReady(unsafeHead, safeHead) {
		return nil
	}
	parentL1Epoch, ok := d.state.L1InfoByHash(unsafeEpoch.Hash)
	if !ok {
		d.log.Warn("parent L1 epoch not indexed yet, not sequencing", "epoch", unsafeEpoch.ID())
		return nil
	}
	var nextL1Epoch *eth.L1BlockInfo
	if info, ok := d.state.L1InfoByNumber(parentL1Epoch.Number + 1); ok {
		nextL1Epoch = &info
	}
	attrs, err := d.policy.GetAttributes(ctx, unsafeHead, parentL1Epoch, nextL1Epoch)
	if err != nil {
		if errors.Is(err, derive.ErrDriftBoundExceeded) {
			d.log.Warn("cannot sequence: drift bound exceeded, waiting for next L1 block")
			return nil
		}
		if errors.Is(err, derive.ErrTemporary) {
			d.log.Warn("temporary sequencing failure", "err", err)
			return nil
		}
		return err
	}
	if err := d.engineDriver.HandleAttributes(ctx, attrs, Unsafe); err != nil {
		return d.handleDerivationError(err)
	}
	return nil
}

func (d *Driver) handleUnsafePayload(ctx context.Context, payload *eth.ExecutionPayload) {
	d.metrics.RecordUnsafePayload()
	epoch := d.payloadEpoch(payload)
	if err := d.engineDriver.HandleUnsafePayload(ctx, payload, epoch); err != nil {
		d.log.Warn("failed to insert unsafe payload", "id", payload.ID(), "err", err)
	}
}

// payloadEpoch recovers the epoch a gossiped payload belongs to from its
// opening oracle transaction: the L1-attributes deposit on deposit-deriver
// chains, the signed setL1OracleValues call otherwise. Blocks that extend
// their parent's epoch fall back to the current unsafe epoch.
func (d *Driver) payloadEpoch(payload *eth.ExecutionPayload) eth.Epoch {
	_, unsafeEpoch := d.engineDriver.UnsafeHead()
	if len(payload.Transactions) == 0 {
		return unsafeEpoch
	}
	if d.cfg.DepositTxDeriver {
		call, err := derive.UnmarshalDepositedCall(payload.Transactions[0])
		if err != nil {
			return unsafeEpoch
		}
		return call.Epoch()
	}
	var values derive.L1OracleValues
	if err := unmarshalOracleTx(payload.Transactions[0], &values); err != nil {
		return unsafeEpoch
	}
	return eth.Epoch{Number: values.Number, Hash: values.Hash, Time: values.Time}
}

func unmarshalOracleTx(raw eth.Data, values *derive.L1OracleValues) error {
	var tx types.Transaction
	if err := tx.UnmarshalBinary(raw); err != nil {
		return err
	}
	return values.UnmarshalBinary(tx.Data())
}

// handleDerivationError classifies a derivation failure: reset-level errors
// reorg the driver onto the finalized head and purge the pipeline, temporary
// errors back off, critical errors abort the driver.
func (d *Driver) handleDerivationError(err error) error {
	d.metrics.RecordDerivationError()
	switch {
	case errors.Is(err, derive.ErrReset):
		d.log.Error("derivation reset, reorging to finalized head", "err", err)
		d.engineDriver.Reorg()
		d.pipeline.Purge()
		d.metrics.RecordPipelineReset()
		return nil
	case errors.Is(err, derive.ErrTemporary):
		d.log.Warn("temporary derivation failure", "err", err)
		return nil
	case errors.Is(err, derive.ErrCritical):
		d.log.Error("critical derivation failure", "err", err)
		return err
	default:
		d.log.Warn("derivation failure", "err", err)
		return nil
	}
}
