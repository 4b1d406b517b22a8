package derive

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/specularl2/specular-node/eth"
)

// Batch is a span of L2 transactions anchored to an L1 epoch, as recovered
// from batcher data.
type Batch struct {
	EpochNum         uint64
	EpochHash        common.Hash
	ParentHash       common.Hash
	Timestamp        uint64
	Transactions     []eth.Data
	L1InclusionBlock uint64
}

func (b *Batch) Epoch() eth.BlockID {
	return eth.BlockID{Hash: b.EpochHash, Number: b.EpochNum}
}

// BatchV0 is a version-0 batch: a Batch plus the fields the v0 wire format
// carries for validation.
type BatchV0 struct {
	Batch
	// L2BlockNumber is the height this batch claims on the L2 chain.
	L2BlockNumber uint64
	// IsEpochUpdate is set on the first batch of an epoch-update batch list.
	// Such a batch must open with the L1 oracle update transaction.
	IsEpochUpdate bool
}

func (b *BatchV0) HasInvalidTransactions() bool {
	for _, tx := range b.Transactions {
		if len(tx) == 0 {
			return true
		}
	}
	return false
}

// batchBlockV0 is one L2 block inside a v0 batch list. The on-wire timestamp
// is a hint only: the receiver recomputes block timestamps from the first L2
// block number and the configured block time.
type batchBlockV0 struct {
	Timestamp    uint64
	Transactions []eth.Data
}

const batchV0EpochUpdateIndicator = 0

// BatchListV0 is the encoder-side view of one v0 batch list: a run of
// consecutive L2 blocks, optionally opening a new epoch.
type BatchListV0 struct {
	FirstL2BlockNumber uint64
	// Epoch is set when this list opens a new epoch; nil extends the epoch
	// the receiver's safe head is in.
	Epoch  *eth.BlockID
	Blocks [][]eth.Data
}

// MarshalBatchListsV0 encodes batch lists into the version-0 payload of a
// batcher transaction (without the leading version byte).
func MarshalBatchListsV0(lists []BatchListV0) ([]byte, error) {
	encoded := make([]interface{}, 0, len(lists))
	for _, list := range lists {
		blocks := make([]interface{}, 0, len(list.Blocks))
		for i, txs := range list.Blocks {
			blocks = append(blocks, batchBlockV0{Timestamp: uint64(i), Transactions: txs})
		}
		if list.Epoch != nil {
			encoded = append(encoded, []interface{}{
				uint8(batchV0EpochUpdateIndicator),
				list.FirstL2BlockNumber,
				list.Epoch.Number,
				list.Epoch.Hash,
				blocks,
			})
		} else {
			encoded = append(encoded, []interface{}{
				uint8(1),
				list.FirstL2BlockNumber,
				blocks,
			})
		}
	}
	return rlp.EncodeToBytes(encoded)
}

// decodeBatchesV0 decodes all batches carried by a version-0 batcher
// transaction. Block timestamps are computed relative to the safe head: the
// first block of a list lands at
// (firstL2BlockNum - safeHead.Number) * blockTime + safeHead.Time.
func decodeBatchesV0(tx *BatcherTransaction, safeHead eth.BlockRef, safeEpoch eth.Epoch, blockTime uint64) ([]BatchV0, error) {
	var batchLists []rlp.RawValue
	if err := rlp.DecodeBytes(tx.TxBatch, &batchLists); err != nil {
		return nil, fmt.Errorf("failed to decode batch lists: %w", err)
	}
	var batches []BatchV0
	for _, rawList := range batchLists {
		var elems []rlp.RawValue
		if err := rlp.DecodeBytes(rawList, &elems); err != nil {
			return nil, fmt.Errorf("failed to decode batch list: %w", err)
		}
		var indicator uint8
		if len(elems) < 1 {
			return nil, fmt.Errorf("empty batch list")
		}
		if err := rlp.DecodeBytes(elems[0], &indicator); err != nil {
			return nil, fmt.Errorf("failed to decode epoch-update indicator: %w", err)
		}
		isEpochUpdate := indicator == batchV0EpochUpdateIndicator

		expectedLen, blocksAt := 3, 2
		if isEpochUpdate {
			expectedLen, blocksAt = 5, 4
		}
		if len(elems) != expectedLen {
			return nil, fmt.Errorf("invalid batch list length %d (expected %d)", len(elems), expectedLen)
		}

		var firstL2BlockNum uint64
		if err := rlp.DecodeBytes(elems[1], &firstL2BlockNum); err != nil {
			return nil, fmt.Errorf("failed to decode first L2 block number: %w", err)
		}
		if firstL2BlockNum <= safeHead.Number {
			return nil, fmt.Errorf("batch list starts at %d, at or below safe head %d", firstL2BlockNum, safeHead.Number)
		}
		firstTimestamp := (firstL2BlockNum-safeHead.Number)*blockTime + safeHead.Time

		epochNum, epochHash := safeEpoch.Number, safeEpoch.Hash
		if isEpochUpdate {
			if err := rlp.DecodeBytes(elems[2], &epochNum); err != nil {
				return nil, fmt.Errorf("failed to decode epoch number: %w", err)
			}
			if err := rlp.DecodeBytes(elems[3], &epochHash); err != nil {
				return nil, fmt.Errorf("failed to decode epoch hash: %w", err)
			}
		}

		var blocks []batchBlockV0
		if err := rlp.DecodeBytes(elems[blocksAt], &blocks); err != nil {
			return nil, fmt.Errorf("failed to decode batch blocks: %w", err)
		}
		for i, block := range blocks {
			idx := uint64(i)
			batches = append(batches, BatchV0{
				Batch: Batch{
					EpochNum:         epochNum,
					EpochHash:        epochHash,
					Timestamp:        firstTimestamp + idx*blockTime,
					Transactions:     block.Transactions,
					L1InclusionBlock: tx.L1InclusionBlock,
				},
				L2BlockNumber: firstL2BlockNum + idx,
				IsEpochUpdate: isEpochUpdate && i == 0,
			})
		}
	}
	return batches, nil
}
