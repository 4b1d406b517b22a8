package derive

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"

	"github.com/specularl2/specular-node/solabi"
)

const AppendTxBatchSignature = "appendTxBatch(uint256,bytes)"

var AppendTxBatchBytes4 = crypto.Keccak256([]byte(AppendTxBatchSignature))[:4]

// BatcherTransaction is one batch-inbox call, stripped down to the payload the
// pipeline consumes.
type BatcherTransaction struct {
	// L1InclusionBlock is the number of the L1 block the call appeared in.
	L1InclusionBlock uint64
	// Version is the format version of TxBatch.
	Version uint8
	// TxBatch is the version-prefixed batch payload with the prefix removed.
	TxBatch []byte
}

// BatcherTxMessage carries the batcher payloads extracted from one L1 block.
type BatcherTxMessage struct {
	Txs      [][]byte
	L1Origin uint64
}

// BatcherTransactions channels inbound batcher payloads into an ordered queue.
// It is the entry stage of the derivation pipeline: the L1 watcher produces
// messages, the batches stage pulls decoded transactions in FIFO order.
type BatcherTransactions struct {
	log log.Logger
	txs []BatcherTransaction
	in  <-chan BatcherTxMessage
}

var _ PurgeableStage[BatcherTransaction] = (*BatcherTransactions)(nil)

func NewBatcherTransactions(log log.Logger, in <-chan BatcherTxMessage) *BatcherTransactions {
	return &BatcherTransactions{log: log, in: in}
}

func (bt *BatcherTransactions) Next() (BatcherTransaction, bool, error) {
	bt.processIncoming()
	if len(bt.txs) == 0 {
		return BatcherTransaction{}, false, nil
	}
	tx := bt.txs[0]
	bt.txs = bt.txs[1:]
	return tx, true, nil
}

// Purge drains the inbound channel without blocking, then clears the queue.
// There is no upstream stage to propagate to.
func (bt *BatcherTransactions) Purge() {
	for {
		select {
		case <-bt.in:
		default:
			bt.txs = bt.txs[:0]
			return
		}
	}
}

func (bt *BatcherTransactions) processIncoming() {
	for {
		select {
		case msg := <-bt.in:
			for _, data := range msg.Txs {
				tx, err := UnmarshalBatcherTx(msg.L1Origin, data)
				if err != nil {
					bt.log.Warn("dropping invalid batcher transaction", "l1_origin", msg.L1Origin, "err", err)
					continue
				}
				bt.txs = append(bt.txs, tx)
			}
		default:
			return
		}
	}
}

// UnmarshalBatcherTx decodes the calldata of an appendTxBatch call. The first
// byte of the bytes argument is the batch format version; the remainder is the
// version-specific payload.
func UnmarshalBatcherTx(l1InclusionBlock uint64, data []byte) (BatcherTransaction, error) {
	r := bytes.NewReader(data)
	if _, err := solabi.ReadAndValidateSignature(r, AppendTxBatchBytes4); err != nil {
		return BatcherTransaction{}, err
	}
	if _, err := solabi.ReadUint256(r); err != nil {
		return BatcherTransaction{}, err
	}
	offset, err := solabi.ReadUint64(r)
	if err != nil {
		return BatcherTransaction{}, err
	}
	if offset != 64 {
		return BatcherTransaction{}, fmt.Errorf("invalid tx batch offset (%d, expected 64)", offset)
	}
	txBatch, err := solabi.ReadBytes(r)
	if err != nil {
		return BatcherTransaction{}, err
	}
	if !solabi.EmptyReader(r) {
		return BatcherTransaction{}, errors.New("too many bytes")
	}
	if len(txBatch) == 0 {
		return BatcherTransaction{}, errors.New("empty tx batch")
	}
	return BatcherTransaction{
		L1InclusionBlock: l1InclusionBlock,
		Version:          txBatch[0],
		TxBatch:          txBatch[1:],
	}, nil
}

// MarshalBatcherTx is the inverse of UnmarshalBatcherTx: it produces the
// calldata of an appendTxBatch call for the given version and payload.
func MarshalBatcherTx(version uint8, txBatch []byte) ([]byte, error) {
	w := new(bytes.Buffer)
	if err := solabi.WriteSignature(w, AppendTxBatchBytes4); err != nil {
		return nil, err
	}
	if err := solabi.WriteUint64(w, uint64(version)); err != nil {
		return nil, err
	}
	if err := solabi.WriteUint64(w, 64); err != nil {
		return nil, err
	}
	if err := solabi.WriteBytes(w, append([]byte{version}, txBatch...)); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}
