package driver

import (
	"context"

	"github.com/specularl2/specular-node/eth"
)

// SequencingPolicy decides how locally built attributes come to be and
// whether derived attributes may be applied. The sequencer role implements
// the first two methods; the validator role the last. Both roles satisfy the
// full interface so the driver holds a single policy chosen at construction.
type SequencingPolicy interface {
	// IsReady reports whether a new block may be built on the parent, given
	// the current safe head.
	IsReady(parent eth.BlockRef, safeHead eth.BlockRef) bool
	// GetAttributes builds attributes for the next L2 block on top of parent,
	// choosing the L1 origin between the parent's epoch and the next one.
	GetAttributes(ctx context.Context, parent eth.BlockRef, parentL1Epoch eth.L1BlockInfo, nextL1Epoch *eth.L1BlockInfo) (*eth.PayloadAttributes, error)
	// ShouldSkipAttributes reports whether the attributes (and all later ones
	// in the same epoch) must be skipped rather than processed.
	ShouldSkipAttributes(ctx context.Context, attrs *eth.PayloadAttributes) (bool, error)
}
