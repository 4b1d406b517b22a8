package derive

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/specularl2/specular-node/eth"
	"github.com/specularl2/specular-node/rollup"
)

// TransactionDeriver builds the transactions placed at the top of an L2 block
// derived from a batch, ahead of the batch's own transactions. Chain families
// differ here: the Optimism path injects an L1 attributes deposit, the
// Specular path relies on the oracle update already carried inside the batch.
type TransactionDeriver interface {
	DeriveTransactions(cfg *rollup.Config, state *State, seqNumber uint64, epochHash common.Hash, batch Batch, l1Info eth.L1BlockInfo) ([]eth.Data, error)
}

// SpecularTransactionDeriver passes the batch transactions through unchanged:
// epoch-opening batches already lead with the signed L1 oracle update.
type SpecularTransactionDeriver struct{}

func (SpecularTransactionDeriver) DeriveTransactions(_ *rollup.Config, _ *State, _ uint64, _ common.Hash, batch Batch, _ eth.L1BlockInfo) ([]eth.Data, error) {
	return batch.Transactions, nil
}

// Attributes converts batches into payload attributes, tracking the sequence
// number across epoch boundaries.
type Attributes struct {
	log log.Logger
	cfg *rollup.Config

	prev    PurgeableStage[Batch]
	state   *State
	deriver TransactionDeriver

	sequenceNumber uint64
	epochHash      common.Hash
}

var _ PurgeableStage[*eth.PayloadAttributes] = (*Attributes)(nil)

func NewAttributes(log log.Logger, cfg *rollup.Config, prev PurgeableStage[Batch], state *State, deriver TransactionDeriver) *Attributes {
	_, safeEpoch := state.SafeHead()
	return &Attributes{
		log:       log,
		cfg:       cfg,
		prev:      prev,
		state:     state,
		deriver:   deriver,
		epochHash: safeEpoch.Hash,
	}
}

func (a *Attributes) Next() (*eth.PayloadAttributes, bool, error) {
	batch, ok, err := a.prev.Next()
	if err != nil || !ok {
		return nil, false, err
	}
	attrs, err := a.deriveAttributes(batch)
	if err != nil {
		return nil, false, err
	}
	return attrs, true, nil
}

func (a *Attributes) Purge() {
	a.prev.Purge()
	a.sequenceNumber = 0
	_, safeEpoch := a.state.SafeHead()
	a.epochHash = safeEpoch.Hash
}

func (a *Attributes) deriveAttributes(batch Batch) (*eth.PayloadAttributes, error) {
	a.updateSequenceNumber(batch.EpochHash)

	l1Info, ok := a.state.L1InfoByHash(batch.EpochHash)
	if !ok {
		// The batches stage guarantees the epoch of any batch it emits is
		// indexed; a miss here is a logic bug, not recoverable input.
		return nil, NewCriticalError(fmt.Errorf("no L1 info for batch epoch %s", batch.Epoch()))
	}

	txs, err := a.deriver.DeriveTransactions(a.cfg, a.state, a.sequenceNumber, a.epochHash, batch, l1Info)
	if err != nil {
		return nil, NewCriticalError(fmt.Errorf("failed to derive block transactions: %w", err))
	}

	a.log.Debug("derived attributes", "epoch", batch.Epoch(), "timestamp", batch.Timestamp, "seq_number", a.sequenceNumber)

	epoch := l1Info.Epoch()
	gasLimit := eth.Uint64Quantity(a.cfg.Genesis.SystemConfig.GasLimit)
	seqNumber := a.sequenceNumber
	l1InclusionBlock := batch.L1InclusionBlock
	return &eth.PayloadAttributes{
		Timestamp:             eth.Uint64Quantity(batch.Timestamp),
		PrevRandao:            l1Info.MixHash,
		SuggestedFeeRecipient: rollup.DefaultSystemAccounts().FeeVault,
		Transactions:          txs,
		NoTxPool:              true,
		GasLimit:              &gasLimit,
		Epoch:                 &epoch,
		L1InclusionBlock:      &l1InclusionBlock,
		SeqNumber:             &seqNumber,
	}, nil
}

// updateSequenceNumber resets the sequence number on epoch change and
// increments it otherwise.
func (a *Attributes) updateSequenceNumber(batchEpochHash common.Hash) {
	if a.epochHash != batchEpochHash {
		a.sequenceNumber = 0
	} else {
		a.sequenceNumber += 1
	}
	a.epochHash = batchEpochHash
}
