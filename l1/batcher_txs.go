// Package l1 watches the L1 chain and feeds the derivation pipeline.
package l1

import (
	"bytes"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// BatcherTxExtractor pulls batcher payloads out of an L1 block. The two
// variants cover an EOA inbox (payload is the full calldata) and a contract
// inbox (payload follows a known method selector).
type BatcherTxExtractor interface {
	Extract(block *types.Block, batchSender common.Address, batchInbox common.Address) [][]byte
}

// EOAExtractor emits the verbatim calldata of every transaction from the
// batch sender to the inbox address.
type EOAExtractor struct {
	signer types.Signer
}

func NewEOAExtractor(l1ChainID *big.Int) *EOAExtractor {
	return &EOAExtractor{signer: types.LatestSignerForChainID(l1ChainID)}
}

func (e *EOAExtractor) Extract(block *types.Block, batchSender common.Address, batchInbox common.Address) [][]byte {
	var out [][]byte
	for _, tx := range block.Transactions() {
		if !isBatcherTx(e.signer, tx, batchSender, batchInbox) {
			continue
		}
		out = append(out, tx.Data())
	}
	return out
}

// ContractExtractor additionally filters on the 4-byte method selector and
// emits the calldata following it.
type ContractExtractor struct {
	signer   types.Signer
	methodID [4]byte
}

func NewContractExtractor(l1ChainID *big.Int, methodID [4]byte) *ContractExtractor {
	return &ContractExtractor{signer: types.LatestSignerForChainID(l1ChainID), methodID: methodID}
}

func (e *ContractExtractor) Extract(block *types.Block, batchSender common.Address, batchInbox common.Address) [][]byte {
	var out [][]byte
	for _, tx := range block.Transactions() {
		if !isBatcherTx(e.signer, tx, batchSender, batchInbox) {
			continue
		}
		data := tx.Data()
		if len(data) < 4 || !bytes.Equal(data[:4], e.methodID[:]) {
			continue
		}
		out = append(out, data[4:])
	}
	return out
}

func isBatcherTx(signer types.Signer, tx *types.Transaction, batchSender common.Address, batchInbox common.Address) bool {
	if to := tx.To(); to == nil || *to != batchInbox {
		return false
	}
	from, err := types.Sender(signer, tx)
	if err != nil {
		return false
	}
	return from == batchSender
}
