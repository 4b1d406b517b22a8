package driver

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"

	"github.com/specularl2/specular-node/eth"
)

// SimulationClient simulates a call against the L2 node's pending block.
type SimulationClient interface {
	PendingCallContract(ctx context.Context, msg ethereum.CallMsg) ([]byte, error)
}

// AttributesValidator is the validator-role sequencing policy: it builds
// nothing, and decides per epoch whether derived attributes must be skipped
// by simulating the epoch-opening oracle update against the L2 node. The
// verdict is sticky until the next epoch change.
type AttributesValidator struct {
	log log.Logger

	l2      SimulationClient
	chainID *big.Int

	shouldSkip bool
}

var _ SequencingPolicy = (*AttributesValidator)(nil)

func NewAttributesValidator(log log.Logger, l2 SimulationClient, chainID *big.Int) *AttributesValidator {
	return &AttributesValidator{log: log, l2: l2, chainID: chainID}
}

// IsReady never signals readiness: validators do not build blocks.
func (v *AttributesValidator) IsReady(parent eth.BlockRef, safeHead eth.BlockRef) bool {
	return false
}

func (v *AttributesValidator) GetAttributes(ctx context.Context, parent eth.BlockRef, parentL1Epoch eth.L1BlockInfo, nextL1Epoch *eth.L1BlockInfo) (*eth.PayloadAttributes, error) {
	return nil, errors.New("validator does not build attributes")
}

// ShouldSkipAttributes simulates the epoch-opening oracle update with a
// pending-tagged call and skips the whole epoch if it reverts. Attributes
// within an epoch share the verdict of its first block.
func (v *AttributesValidator) ShouldSkipAttributes(ctx context.Context, attrs *eth.PayloadAttributes) (bool, error) {
	if attrs.SeqNumber == nil {
		return false, errors.New("attributes without sequence number")
	}
	if *attrs.SeqNumber != 0 {
		return v.shouldSkip, nil
	}

	// New epoch: the verdict resets, and is re-established by simulating the
	// oracle update if the block carries one.
	v.shouldSkip = false
	if len(attrs.Transactions) == 0 {
		return v.shouldSkip, nil
	}
	var tx types.Transaction
	if err := tx.UnmarshalBinary(attrs.Transactions[0]); err != nil {
		return false, err
	}
	from, err := types.Sender(types.LatestSignerForChainID(v.chainID), &tx)
	if err != nil {
		return false, err
	}
	msg := ethereum.CallMsg{
		From:     from,
		To:       tx.To(),
		Gas:      tx.Gas(),
		GasPrice: tx.GasPrice(),
		Data:     tx.Data(),
	}
	// A transport failure counts as a failed simulation: skipping is the safe
	// side, and the verdict is re-evaluated at the next epoch.
	if _, err := v.l2.PendingCallContract(ctx, msg); err != nil {
		v.log.Warn("oracle update simulation failed, skipping epoch", "err", err)
		v.shouldSkip = true
	}
	return v.shouldSkip, nil
}
