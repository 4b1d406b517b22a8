package l1

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"

	"github.com/specularl2/specular-node/eth"
	"github.com/specularl2/specular-node/rollup"
	"github.com/specularl2/specular-node/rollup/derive"
	"github.com/specularl2/specular-node/sources"
)

// ChainWatcher follows the L1 head, indexes every new block into the shared
// State and forwards batcher payloads into the derivation pipeline. It is the
// sole writer of the State's L1 index. On an L1 reorg it re-winds its cursor
// and notifies the driver so the pipeline can be purged.
type ChainWatcher struct {
	log log.Logger
	cfg *rollup.Config

	client    *sources.L1Client
	extractor BatcherTxExtractor
	state     *derive.State

	out chan derive.BatcherTxMessage

	// onReorg is invoked when the watched chain no longer extends what was
	// indexed so far.
	onReorg func()

	currentNum  uint64
	currentHash common.Hash
}

func NewChainWatcher(log log.Logger, cfg *rollup.Config, client *sources.L1Client, extractor BatcherTxExtractor, state *derive.State, onReorg func()) *ChainWatcher {
	return &ChainWatcher{
		log:        log,
		cfg:        cfg,
		client:     client,
		extractor:  extractor,
		state:      state,
		out:        make(chan derive.BatcherTxMessage, 64),
		onReorg:    onReorg,
		currentNum: cfg.Genesis.L1.Number,
	}
}

// Messages is the channel the batcher-transactions stage consumes.
func (w *ChainWatcher) Messages() <-chan derive.BatcherTxMessage {
	return w.out
}

// Run polls the L1 chain until the context is cancelled.
func (w *ChainWatcher) Run(ctx context.Context, pollInterval time.Duration) error {
	for {
		if err := w.poll(ctx); err != nil {
			w.log.Warn("L1 poll failed", "err", err)
		}
		select {
		case <-time.After(pollInterval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (w *ChainWatcher) poll(ctx context.Context) error {
	head, err := w.client.HeadBlockInfo(ctx)
	if err != nil {
		return err
	}
	for w.currentNum < head.Number {
		next := w.currentNum + 1
		block, err := w.client.BlockByNumber(ctx, next)
		if err != nil {
			return err
		}
		if w.currentHash != (common.Hash{}) && block.ParentHash() != w.currentHash {
			w.log.Warn("L1 reorg detected", "number", next, "expected_parent", w.currentHash, "got_parent", block.ParentHash())
			w.rewind()
			return nil
		}
		w.ingest(block)
	}
	return nil
}

func (w *ChainWatcher) ingest(block *types.Block) {
	info := eth.HeaderToL1BlockInfo(block.Header())
	w.state.PutL1BlockInfo(info)
	w.currentNum = info.Number
	w.currentHash = info.Hash

	txs := w.extractor.Extract(block, w.cfg.Genesis.SystemConfig.BatcherAddr, w.cfg.BatchInboxAddress)
	if len(txs) == 0 {
		return
	}
	w.log.Debug("found batcher transactions", "l1_block", info.Number, "count", len(txs))
	w.out <- derive.BatcherTxMessage{Txs: txs, L1Origin: info.Number}
}

// rewind resets the cursor to the last safe point after a reorg. Derivation
// restarts from the safe epoch; the driver purges the pipeline.
func (w *ChainWatcher) rewind() {
	_, safeEpoch := w.state.SafeHead()
	w.currentNum = safeEpoch.Number
	w.currentHash = safeEpoch.Hash
	if w.currentNum < w.cfg.Genesis.L1.Number {
		w.currentNum = w.cfg.Genesis.L1.Number
		w.currentHash = common.Hash{}
	}
	if w.onReorg != nil {
		w.onReorg()
	}
}
