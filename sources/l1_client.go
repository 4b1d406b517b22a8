// Package sources provides typed, cached bindings over the L1 RPC.
package sources

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/log"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/specularl2/specular-node/eth"
)

type L1ClientConfig struct {
	// BlockInfosCacheSize bounds the by-hash block info cache. The default is
	// one and a half sequencing windows, clamped to 10..1000 entries, so
	// validation rarely refetches.
	BlockInfosCacheSize int
}

func L1ClientDefaultConfig(seqWindowSize uint64) *L1ClientConfig {
	span := int(seqWindowSize) * 3 / 2
	if span > 1000 {
		span = 1000
	}
	if span < 10 {
		span = 10
	}
	return &L1ClientConfig{BlockInfosCacheSize: span}
}

// L1Client fetches L1 data over RPC, caching block infos by hash. Lookups by
// number are never cached: an L1 reorg invalidates them.
type L1Client struct {
	log    log.Logger
	client *ethclient.Client

	blockInfosCache *lru.Cache[common.Hash, eth.L1BlockInfo]
}

func NewL1Client(log log.Logger, client *ethclient.Client, config *L1ClientConfig) (*L1Client, error) {
	cache, err := lru.New[common.Hash, eth.L1BlockInfo](config.BlockInfosCacheSize)
	if err != nil {
		return nil, err
	}
	return &L1Client{log: log, client: client, blockInfosCache: cache}, nil
}

// HeadBlockInfo returns the info of the latest L1 block.
func (s *L1Client) HeadBlockInfo(ctx context.Context) (eth.L1BlockInfo, error) {
	header, err := s.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return eth.L1BlockInfo{}, fmt.Errorf("failed to fetch L1 head header: %w", err)
	}
	info := eth.HeaderToL1BlockInfo(header)
	s.blockInfosCache.Add(info.Hash, info)
	return info, nil
}

// InfoByNumber returns the info of the L1 block with the given number.
func (s *L1Client) InfoByNumber(ctx context.Context, num uint64) (eth.L1BlockInfo, error) {
	header, err := s.client.HeaderByNumber(ctx, new(big.Int).SetUint64(num))
	if err != nil {
		return eth.L1BlockInfo{}, fmt.Errorf("failed to fetch header by num %d: %w", num, err)
	}
	info := eth.HeaderToL1BlockInfo(header)
	s.blockInfosCache.Add(info.Hash, info)
	return info, nil
}

// InfoByHash returns the info of the L1 block with the given hash.
func (s *L1Client) InfoByHash(ctx context.Context, hash common.Hash) (eth.L1BlockInfo, error) {
	if info, ok := s.blockInfosCache.Get(hash); ok {
		return info, nil
	}
	header, err := s.client.HeaderByHash(ctx, hash)
	if err != nil {
		return eth.L1BlockInfo{}, fmt.Errorf("failed to fetch header by hash %v: %w", hash, err)
	}
	info := eth.HeaderToL1BlockInfo(header)
	s.blockInfosCache.Add(info.Hash, info)
	return info, nil
}

// BlockByNumber returns the full L1 block, transactions included.
func (s *L1Client) BlockByNumber(ctx context.Context, num uint64) (*types.Block, error) {
	block, err := s.client.BlockByNumber(ctx, new(big.Int).SetUint64(num))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch block by num %d: %w", num, err)
	}
	return block, nil
}
