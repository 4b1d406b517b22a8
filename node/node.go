// Package node wires the process together: clients, state, pipeline, driver.
package node

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/log"
	"golang.org/x/sync/errgroup"

	"github.com/specularl2/specular-node/engine"
	"github.com/specularl2/specular-node/eth"
	"github.com/specularl2/specular-node/l1"
	"github.com/specularl2/specular-node/metrics"
	"github.com/specularl2/specular-node/rollup/derive"
	"github.com/specularl2/specular-node/rollup/driver"
	"github.com/specularl2/specular-node/sources"
)

// Node owns the long-lived components of one rollup node process.
type Node struct {
	log log.Logger
	cfg *Config

	l1Client  *sources.L1Client
	l2Client  *ethclient.Client
	engine    *engine.APIClient
	metrics   *metrics.Metrics
	watcher   *l1.ChainWatcher
	driver    *driver.Driver
}

func New(ctx context.Context, logger log.Logger, cfg *Config, version string) (*Node, error) {
	l1Rpc, err := ethclient.DialContext(ctx, cfg.L1RpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial L1 RPC: %w", err)
	}
	l2Rpc, err := ethclient.DialContext(ctx, cfg.L2RpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial L2 RPC: %w", err)
	}
	engineClient, err := engine.Dial(ctx, cfg.L2EngineURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial engine: %w", err)
	}
	l1Client, err := sources.NewL1Client(logger, l1Rpc, sources.L1ClientDefaultConfig(cfg.Rollup.SeqWindowSize))
	if err != nil {
		return nil, err
	}

	m := metrics.NewMetrics()
	m.RecordInfo(version)

	state := derive.NewState(&cfg.Rollup)

	// Bootstrap the heads from genesis; derivation catches up from there.
	genesisL1, err := l1Client.InfoByHash(ctx, cfg.Rollup.Genesis.L1.Hash)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch genesis L1 block: %w", err)
	}
	state.PutL1BlockInfo(genesisL1)
	finalizedHead := eth.BlockRef{
		Hash:   cfg.Rollup.Genesis.L2.Hash,
		Number: cfg.Rollup.Genesis.L2.Number,
		Time:   cfg.Rollup.Genesis.L2Time,
	}
	finalizedEpoch := genesisL1.Epoch()

	engineDriver := driver.NewEngineDriver(logger, engineClient, l2Rpc, state, cfg.Rollup.BlockTime, finalizedHead, finalizedEpoch)

	var policy driver.SequencingPolicy
	if cfg.Sequencer.Enabled {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.Sequencer.PrivateKey, "0x"))
		if err != nil {
			return nil, fmt.Errorf("invalid sequencer key: %w", err)
		}
		policy = driver.NewAttributesBuilder(logger, &cfg.Rollup, l2Rpc, key)
	} else {
		policy = driver.NewAttributesValidator(logger, l2Rpc, cfg.Rollup.L2ChainID)
	}

	var extractor l1.BatcherTxExtractor
	if cfg.Rollup.BatchInboxContract {
		var methodID [4]byte
		copy(methodID[:], derive.AppendTxBatchBytes4)
		extractor = l1.NewContractExtractor(cfg.Rollup.L1ChainID, methodID)
	} else {
		extractor = l1.NewEOAExtractor(cfg.Rollup.L1ChainID)
	}

	var deriver derive.TransactionDeriver = derive.SpecularTransactionDeriver{}
	if cfg.Rollup.DepositTxDeriver {
		deriver = derive.OptimismTransactionDeriver{}
	}

	var drv *driver.Driver
	watcher := l1.NewChainWatcher(logger, &cfg.Rollup, l1Client, extractor, state, func() {
		drv.RequestReset()
	})
	pipeline := derive.NewPipeline(logger, &cfg.Rollup, state, deriver, watcher.Messages())
	drv = driver.NewDriver(logger, &cfg.Rollup, m, engineDriver, pipeline, state, policy)

	return &Node{
		log:      logger,
		cfg:      cfg,
		l1Client: l1Client,
		l2Client: l2Rpc,
		engine:   engineClient,
		metrics:  m,
		watcher:  watcher,
		driver:   drv,
	}, nil
}

// Driver exposes the driver, e.g. for feeding gossiped payloads.
func (n *Node) Driver() *driver.Driver {
	return n.driver
}

// Run starts all components and blocks until the first failure or cancellation.
func (n *Node) Run(ctx context.Context) error {
	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return n.watcher.Run(ctx, n.cfg.L1PollInterval())
	})
	group.Go(func() error {
		return n.driver.Run(ctx)
	})
	if n.cfg.Metrics.Enabled {
		group.Go(func() error {
			n.log.Info("serving metrics", "addr", n.cfg.Metrics.ListenAddr, "port", n.cfg.Metrics.ListenPort)
			return n.metrics.Serve(ctx, n.cfg.Metrics.ListenAddr, n.cfg.Metrics.ListenPort)
		})
	}
	n.metrics.RecordUp()
	return group.Wait()
}

// Close releases the engine and L2 RPC connections. The L1 client is not
// closed here.
func (n *Node) Close() {
	n.engine.Close()
	n.l2Client.Close()
}
