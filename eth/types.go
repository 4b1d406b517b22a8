package eth

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
)

// BlockID identifies a block by hash and number.
type BlockID struct {
	Hash   common.Hash `json:"hash"`
	Number uint64      `json:"number"`
}

func (id BlockID) String() string {
	return fmt.Sprintf("%s:%d", id.Hash.String(), id.Number)
}

// TerminalString implements log.TerminalStringer, formatting a string for console
// output during logging.
func (id BlockID) TerminalString() string {
	return fmt.Sprintf("%s:%d", id.Hash.TerminalString(), id.Number)
}

// BlockRef is a block reference: enough of a block to identify it and its
// parent, and to place it in time. It is used for both L1 and L2 blocks.
type BlockRef struct {
	Hash       common.Hash `json:"hash"`
	Number     uint64      `json:"number"`
	ParentHash common.Hash `json:"parentHash"`
	Time       uint64      `json:"timestamp"`
}

func (ref BlockRef) ID() BlockID {
	return BlockID{Hash: ref.Hash, Number: ref.Number}
}

func (ref BlockRef) ParentID() BlockID {
	n := ref.Number
	if n > 0 {
		n -= 1
	}
	return BlockID{Hash: ref.ParentHash, Number: n}
}

func (ref BlockRef) String() string {
	return ref.ID().String()
}

func (ref BlockRef) TerminalString() string {
	return ref.ID().TerminalString()
}

// Epoch references the L1 block that anchors a span of L2 blocks.
type Epoch struct {
	Number uint64      `json:"number"`
	Hash   common.Hash `json:"hash"`
	Time   uint64      `json:"timestamp"`
}

func (e Epoch) ID() BlockID {
	return BlockID{Hash: e.Hash, Number: e.Number}
}

func (e Epoch) String() string {
	return e.ID().String()
}

// L1BlockInfo carries the L1 block fields the rollup consumes beyond the bare
// block reference: the base fee and mix hash feed payload attributes, and the
// state root is committed to the L1 oracle.
type L1BlockInfo struct {
	BlockRef
	BaseFee   *big.Int
	MixHash   common.Hash
	StateRoot common.Hash
}

func (info L1BlockInfo) Epoch() Epoch {
	return Epoch{Number: info.Number, Hash: info.Hash, Time: info.Time}
}

// HeaderToL1BlockInfo extracts the rollup-relevant L1 fields from a header.
func HeaderToL1BlockInfo(h *types.Header) L1BlockInfo {
	baseFee := new(big.Int)
	if h.BaseFee != nil {
		baseFee.Set(h.BaseFee)
	}
	return L1BlockInfo{
		BlockRef: BlockRef{
			Hash:       h.Hash(),
			Number:     h.Number.Uint64(),
			ParentHash: h.ParentHash,
			Time:       h.Time,
		},
		BaseFee:   baseFee,
		MixHash:   h.MixDigest,
		StateRoot: h.Root,
	}
}

// Data is a raw, opaque byte payload, e.g. a serialized transaction.
type Data = hexutil.Bytes
