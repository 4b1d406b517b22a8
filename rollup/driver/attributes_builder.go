package driver

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"

	"github.com/specularl2/specular-node/eth"
	"github.com/specularl2/specular-node/rollup"
	"github.com/specularl2/specular-node/rollup/derive"
)

const oracleUpdateTxGas = 1_000_000

// NonceClient fetches the pending account nonce from the L2 node.
type NonceClient interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
}

// AttributesBuilder is the sequencer-role sequencing policy: it produces
// attributes for new unsafe blocks, advancing the L1 origin under the drift
// bound and opening each new epoch with a signed L1 oracle update.
type AttributesBuilder struct {
	log log.Logger
	cfg *rollup.Config

	l2  NonceClient
	key *ecdsa.PrivateKey

	// timeNow enables tests to mock the clock.
	timeNow func() time.Time
}

var _ SequencingPolicy = (*AttributesBuilder)(nil)

func NewAttributesBuilder(log log.Logger, cfg *rollup.Config, l2 NonceClient, key *ecdsa.PrivateKey) *AttributesBuilder {
	return &AttributesBuilder{
		log:     log,
		cfg:     cfg,
		l2:      l2,
		key:     key,
		timeNow: time.Now,
	}
}

// IsReady is true iff the unsafe head is not too far ahead of the safe head
// and the next block's timestamp is not in the future.
func (b *AttributesBuilder) IsReady(parent eth.BlockRef, safeHead eth.BlockRef) bool {
	if b.cfg.MaxSafeLag > 0 && safeHead.Number+b.cfg.MaxSafeLag <= parent.Number {
		return false
	}
	return parent.Time+b.cfg.BlockTime <= uint64(b.timeNow().Unix())
}

func (b *AttributesBuilder) GetAttributes(ctx context.Context, parent eth.BlockRef, parentL1Epoch eth.L1BlockInfo, nextL1Epoch *eth.L1BlockInfo) (*eth.PayloadAttributes, error) {
	nextL2Time := parent.Time + b.cfg.BlockTime

	origin, err := b.chooseOrigin(nextL2Time, parentL1Epoch, nextL1Epoch)
	if err != nil {
		return nil, err
	}

	var txs []eth.Data
	if origin.Number != parentL1Epoch.Number {
		// A new epoch starts here: the block must open with the oracle update
		// committing the chosen origin to L2.
		tx, err := b.oracleUpdateTx(ctx, *origin)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}

	b.log.Debug("built attributes", "parent", parent.ID(), "timestamp", nextL2Time, "origin", origin.ID(), "epoch_update", len(txs) > 0)

	epoch := origin.Epoch()
	gasLimit := eth.Uint64Quantity(b.cfg.Genesis.SystemConfig.GasLimit)
	return &eth.PayloadAttributes{
		Timestamp:             eth.Uint64Quantity(nextL2Time),
		PrevRandao:            origin.MixHash,
		SuggestedFeeRecipient: b.cfg.Genesis.SystemConfig.BatcherAddr,
		Transactions:          txs,
		NoTxPool:              nextL2Time > parentL1Epoch.Time+b.cfg.MaxSequencerDrift,
		GasLimit:              &gasLimit,
		Epoch:                 &epoch,
	}, nil
}

// ShouldSkipAttributes never skips: the sequencer validates nothing.
func (b *AttributesBuilder) ShouldSkipAttributes(ctx context.Context, attrs *eth.PayloadAttributes) (bool, error) {
	return false, nil
}

// chooseOrigin selects the L1 origin of the next L2 block. The origin stays
// with the parent's epoch until the next epoch's timestamp is reached, and
// must advance once the drift bound is exceeded.
func (b *AttributesBuilder) chooseOrigin(nextL2Time uint64, parentL1Epoch eth.L1BlockInfo, nextL1Epoch *eth.L1BlockInfo) (*eth.L1BlockInfo, error) {
	if nextL2Time > parentL1Epoch.Time+b.cfg.MaxSequencerDrift {
		if nextL1Epoch == nil {
			return nil, derive.ErrDriftBoundExceeded
		}
		return nextL1Epoch, nil
	}
	if nextL1Epoch != nil && nextL2Time >= nextL1Epoch.Time {
		return nextL1Epoch, nil
	}
	return &parentL1Epoch, nil
}

// oracleUpdateTx builds and signs the setL1OracleValues call for the given
// origin. Signing or encoding failures indicate a broken configuration and
// panic.
func (b *AttributesBuilder) oracleUpdateTx(ctx context.Context, origin eth.L1BlockInfo) (eth.Data, error) {
	values := derive.L1OracleValuesFromBlockInfo(origin)
	data, err := values.MarshalBinary()
	if err != nil {
		panic(fmt.Errorf("failed to encode oracle update calldata: %w", err))
	}
	nonce, err := b.l2.PendingNonceAt(ctx, crypto.PubkeyToAddress(b.key.PublicKey))
	if err != nil {
		return nil, derive.NewTemporaryError(fmt.Errorf("failed to fetch sequencer nonce: %w", err))
	}
	gasPrice := new(big.Int)
	if origin.BaseFee != nil {
		gasPrice.Set(origin.BaseFee)
	}
	oracle := b.cfg.L1OracleAddress
	tx, err := types.SignNewTx(b.key, types.LatestSignerForChainID(b.cfg.L2ChainID), &types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      oracleUpdateTxGas,
		To:       &oracle,
		Value:    new(big.Int),
		Data:     data,
	})
	if err != nil {
		panic(fmt.Errorf("failed to sign oracle update transaction: %w", err))
	}
	raw, err := tx.MarshalBinary()
	if err != nil {
		panic(fmt.Errorf("failed to encode oracle update transaction: %w", err))
	}
	return raw, nil
}
