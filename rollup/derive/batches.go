package derive

import (
	"fmt"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/specularl2/specular-node/rollup"
)

type BatchValidity uint8

const (
	// BatchDrop indicates that the batch is invalid and must be discarded.
	BatchDrop BatchValidity = iota
	// BatchAccept indicates that the batch is valid and should be processed.
	BatchAccept
)

// Batches decodes batches out of batcher transactions and emits them in
// timestamp order, one per pull, each validated against the safe head at the
// moment of the pull. When the sequencing window elapses with no valid batch,
// it generates an empty batch so the safe chain keeps pace with L1.
type Batches struct {
	log log.Logger
	cfg *rollup.Config

	// batches buffers decoded batches keyed by timestamp.
	batches map[uint64]*BatchV0

	prev  PurgeableStage[BatcherTransaction]
	state *State
}

var _ PurgeableStage[Batch] = (*Batches)(nil)

func NewBatches(log log.Logger, cfg *rollup.Config, prev PurgeableStage[BatcherTransaction], state *State) *Batches {
	return &Batches{
		log:     log,
		cfg:     cfg,
		batches: make(map[uint64]*BatchV0),
		prev:    prev,
		state:   state,
	}
}

func (bs *Batches) Next() (Batch, bool, error) {
	if err := bs.ingest(); err != nil {
		return Batch{}, false, err
	}

	for {
		batch, ok := bs.earliest()
		if !ok {
			break
		}
		delete(bs.batches, batch.Timestamp)
		if validity := bs.checkBatch(batch); validity == BatchAccept {
			return batch.Batch, true, nil
		}
	}

	if batch, ok := bs.emptyBatch(); ok {
		return batch, true, nil
	}
	return Batch{}, false, nil
}

func (bs *Batches) Purge() {
	bs.prev.Purge()
	maps.Clear(bs.batches)
}

// ingest pulls at most one batcher transaction from upstream and buffers the
// batches it decodes to. A transaction that fails to decode is dropped whole.
func (bs *Batches) ingest() error {
	tx, ok, err := bs.prev.Next()
	if err != nil || !ok {
		return err
	}
	if tx.Version != 0 {
		bs.log.Warn("dropping batcher transaction with unsupported version", "version", tx.Version, "l1_inclusion_block", tx.L1InclusionBlock)
		return nil
	}
	safeHead, safeEpoch := bs.state.SafeHead()
	batches, err := decodeBatchesV0(&tx, safeHead, safeEpoch, bs.cfg.BlockTime)
	if err != nil {
		bs.log.Warn("dropping undecodable batcher transaction", "l1_inclusion_block", tx.L1InclusionBlock, "err", err)
		return nil
	}
	for i := range batches {
		batch := batches[i]
		bs.log.Debug("saw batch", "timestamp", batch.Timestamp, "l2_block_number", batch.L2BlockNumber, "epoch", batch.Epoch(), "l1_inclusion_block", batch.L1InclusionBlock)
		bs.batches[batch.Timestamp] = &batch
	}
	return nil
}

func (bs *Batches) earliest() (*BatchV0, bool) {
	if len(bs.batches) == 0 {
		return nil, false
	}
	keys := maps.Keys(bs.batches)
	return bs.batches[slices.Min(keys)], true
}

// checkBatch applies the acceptance rules for a batch on top of the current
// safe head.
func (bs *Batches) checkBatch(batch *BatchV0) BatchValidity {
	safeHead, _ := bs.state.SafeHead()
	nextTimestamp := safeHead.Time + bs.cfg.BlockTime

	if batch.Timestamp != nextTimestamp {
		bs.log.Warn("dropping batch with mismatching timestamp", "timestamp", batch.Timestamp, "expected", nextTimestamp)
		return BatchDrop
	}
	if batch.L2BlockNumber != safeHead.Number+1 {
		bs.log.Warn("dropping batch that does not extend the safe chain", "l2_block_number", batch.L2BlockNumber, "safe_head", safeHead.Number)
		return BatchDrop
	}
	// Filter out batches that were included too late.
	if batch.EpochNum+bs.cfg.SeqWindowSize < batch.L1InclusionBlock {
		bs.log.Warn("dropping batch, sequence window expired", "epoch", batch.EpochNum, "l1_inclusion_block", batch.L1InclusionBlock)
		return BatchDrop
	}
	if batch.IsEpochUpdate {
		if err := bs.checkEpochUpdateBatch(batch); err != nil {
			bs.log.Warn("dropping invalid epoch update batch", "epoch", batch.Epoch(), "err", err)
			return BatchDrop
		}
	}
	if batch.HasInvalidTransactions() {
		bs.log.Warn("dropping batch with empty transaction", "timestamp", batch.Timestamp)
		return BatchDrop
	}
	return BatchAccept
}

// checkEpochUpdateBatch verifies that an epoch-opening batch leads with an L1
// oracle update whose values match the L1 block the epoch refers to.
func (bs *Batches) checkEpochUpdateBatch(batch *BatchV0) error {
	if len(batch.Transactions) == 0 {
		return fmt.Errorf("no %s call", SetL1OracleValuesSignature)
	}
	var tx types.Transaction
	if err := tx.UnmarshalBinary(batch.Transactions[0]); err != nil {
		return fmt.Errorf("failed to decode oracle update transaction: %w", err)
	}
	if to := tx.To(); to == nil || *to != bs.cfg.L1OracleAddress {
		return fmt.Errorf("oracle update sent to wrong address: %v", tx.To())
	}
	var values L1OracleValues
	if err := values.UnmarshalBinary(tx.Data()); err != nil {
		return fmt.Errorf("failed to decode oracle update calldata: %w", err)
	}
	if values.Number != batch.EpochNum {
		return fmt.Errorf("oracle number %d does not match batch epoch %d", values.Number, batch.EpochNum)
	}
	if values.Hash != batch.EpochHash {
		return fmt.Errorf("oracle hash %s does not match batch epoch hash %s", values.Hash, batch.EpochHash)
	}
	info, ok := bs.state.L1InfoByNumber(batch.EpochNum)
	if !ok {
		return fmt.Errorf("epoch %d not indexed", batch.EpochNum)
	}
	return values.CheckAgainst(info)
}

// emptyBatch generates a batch with no transactions once the sequencing
// window has elapsed without any valid batch for the next L2 block. The batch
// stays in the current safe epoch until the next epoch's timestamp is due.
func (bs *Batches) emptyBatch() (Batch, bool) {
	currentL1Block := bs.state.CurrentEpochNum()
	safeHead, safeEpoch := bs.state.SafeHead()
	if currentL1Block <= safeEpoch.Number+bs.cfg.SeqWindowSize {
		return Batch{}, false
	}
	nextEpoch, ok := bs.state.EpochByNumber(safeEpoch.Number + 1)
	if !ok {
		return Batch{}, false
	}
	nextTimestamp := safeHead.Time + bs.cfg.BlockTime
	epoch := safeEpoch
	if nextTimestamp >= nextEpoch.Time {
		epoch = nextEpoch
	}
	bs.log.Trace("inserting empty batch", "timestamp", nextTimestamp, "epoch", epoch)
	return Batch{
		EpochNum:         epoch.Number,
		EpochHash:        epoch.Hash,
		ParentHash:       safeHead.Hash,
		Timestamp:        nextTimestamp,
		Transactions:     nil,
		L1InclusionBlock: currentL1Block,
	}, true
}
