package eth

import (
	"fmt"

	"github.com/ethereum/go-ethereum/beacon/engine"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
)

type Uint64Quantity = hexutil.Uint64

type Uint256Quantity = uint256.Int

type PayloadID = engine.PayloadID

type ExecutionPayload struct {
	ParentHash    common.Hash     `json:"parentHash"`
	FeeRecipient  common.Address  `json:"feeRecipient"`
	StateRoot     common.Hash     `json:"stateRoot"`
	ReceiptsRoot  common.Hash     `json:"receiptsRoot"`
	LogsBloom     hexutil.Bytes   `json:"logsBloom"`
	PrevRandao    common.Hash     `json:"prevRandao"`
	BlockNumber   Uint64Quantity  `json:"blockNumber"`
	GasLimit      Uint64Quantity  `json:"gasLimit"`
	GasUsed       Uint64Quantity  `json:"gasUsed"`
	Timestamp     Uint64Quantity  `json:"timestamp"`
	ExtraData     hexutil.Bytes   `json:"extraData"`
	BaseFeePerGas Uint256Quantity `json:"baseFeePerGas"`
	BlockHash     common.Hash     `json:"blockHash"`
	Transactions  []Data          `json:"transactions"`
}

func (payload *ExecutionPayload) ID() BlockID {
	return BlockID{Hash: payload.BlockHash, Number: uint64(payload.BlockNumber)}
}

// BlockRef derives the block reference of the payload without an engine lookup.
func (payload *ExecutionPayload) BlockRef() BlockRef {
	return BlockRef{
		Hash:       payload.BlockHash,
		Number:     uint64(payload.BlockNumber),
		ParentHash: payload.ParentHash,
		Time:       uint64(payload.Timestamp),
	}
}

// PayloadAttributes parametrizes a payload building job. The engine-facing
// fields follow the Engine API; the trailing fields are rollup bookkeeping
// carried through the pipeline but never sent over the wire.
type PayloadAttributes struct {
	Timestamp             Uint64Quantity `json:"timestamp"`
	PrevRandao            common.Hash    `json:"prevRandao"`
	SuggestedFeeRecipient common.Address `json:"suggestedFeeRecipient"`
	Transactions          []Data         `json:"transactions,omitempty"`
	NoTxPool              bool           `json:"noTxPool,omitempty"`
	GasLimit              *Uint64Quantity `json:"gasLimit,omitempty"`

	// Epoch is the L1 origin the attributes were derived from.
	Epoch *Epoch `json:"-"`
	// L1InclusionBlock is the L1 block the batch behind the attributes was
	// included in, if the attributes were derived from a batch.
	L1InclusionBlock *uint64 `json:"-"`
	// SeqNumber is the position of the L2 block within its epoch: 0 for the
	// first block of an epoch, incrementing from there.
	SeqNumber *uint64 `json:"-"`
}

type ExecutePayloadStatus string

const (
	// ExecutionValid: given payload is valid
	ExecutionValid ExecutePayloadStatus = "VALID"
	// ExecutionInvalid: given payload is invalid
	ExecutionInvalid ExecutePayloadStatus = "INVALID"
	// ExecutionSyncing: sync process is in progress
	ExecutionSyncing ExecutePayloadStatus = "SYNCING"
	// ExecutionAccepted: blockHash is valid, but payload is not part of canonical chain
	ExecutionAccepted ExecutePayloadStatus = "ACCEPTED"
	// ExecutionInvalidBlockHash: blockHash validation failed
	ExecutionInvalidBlockHash ExecutePayloadStatus = "INVALID_BLOCK_HASH"
)

type PayloadStatusV1 struct {
	Status          ExecutePayloadStatus `json:"status"`
	LatestValidHash *common.Hash         `json:"latestValidHash,omitempty"`
	ValidationError *string              `json:"validationError,omitempty"`
}

type ForkchoiceState struct {
	// HeadBlockHash is the hash of the unsafe head
	HeadBlockHash common.Hash `json:"headBlockHash"`
	// SafeBlockHash is the hash of the latest block derived from L1 data
	SafeBlockHash common.Hash `json:"safeBlockHash"`
	// FinalizedBlockHash is the hash of the latest block derived from finalized L1 data
	FinalizedBlockHash common.Hash `json:"finalizedBlockHash"`
}

type ForkchoiceUpdatedResult struct {
	PayloadStatus PayloadStatusV1 `json:"payloadStatus"`
	PayloadID     *PayloadID      `json:"payloadId"`
}

// ForkchoiceUpdateErr formats an engine rejection of a fork-choice update as an error.
func ForkchoiceUpdateErr(payloadStatus PayloadStatusV1) error {
	errMsg := "(no validation error)"
	if payloadStatus.ValidationError != nil {
		errMsg = *payloadStatus.ValidationError
	}
	return fmt.Errorf("fork-choice update was rejected with status %s: %s", payloadStatus.Status, errMsg)
}

// NewPayloadErr formats an engine rejection of a payload as an error.
func NewPayloadErr(payload *ExecutionPayload, payloadStatus *PayloadStatusV1) error {
	errMsg := "(no validation error)"
	if payloadStatus.ValidationError != nil {
		errMsg = *payloadStatus.ValidationError
	}
	return fmt.Errorf("payload %s was rejected with status %s: %s", payload.ID(), payloadStatus.Status, errMsg)
}
