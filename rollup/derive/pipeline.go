package derive

import (
	"github.com/ethereum/go-ethereum/log"

	"github.com/specularl2/specular-node/eth"
	"github.com/specularl2/specular-node/rollup"
)

// Pipeline chains the derivation stages into a single attributes source:
// batcher transactions -> batches -> payload attributes. A purge propagates
// through every stage, so the next pull only reflects L1 data delivered after
// the purge.
type Pipeline struct {
	attributes *Attributes
}

func NewPipeline(log log.Logger, cfg *rollup.Config, state *State, deriver TransactionDeriver, in <-chan BatcherTxMessage) *Pipeline {
	batcherTxs := NewBatcherTransactions(log, in)
	batches := NewBatches(log, cfg, batcherTxs, state)
	attributes := NewAttributes(log, cfg, batches, state, deriver)
	return &Pipeline{attributes: attributes}
}

// Next yields the next derivable payload attributes, if any.
func (p *Pipeline) Next() (*eth.PayloadAttributes, bool, error) {
	return p.attributes.Next()
}

// Purge resets the pipeline after a reorg.
func (p *Pipeline) Purge() {
	p.attributes.Purge()
}
