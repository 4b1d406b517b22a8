package derive

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBatcherTransactionsFIFO(t *testing.T) {
	in := make(chan BatcherTxMessage, 4)
	stage := NewBatcherTransactions(testLogger(t), in)

	first, err := MarshalBatcherTx(0, []byte{0x01})
	require.NoError(t, err)
	second, err := MarshalBatcherTx(0, []byte{0x02})
	require.NoError(t, err)
	in <- BatcherTxMessage{Txs: [][]byte{first, second}, L1Origin: 7}

	tx, ok, err := stage.Next()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte{0x01}, tx.TxBatch)
	require.Equal(t, uint64(7), tx.L1InclusionBlock)

	tx, ok, err = stage.Next()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte{0x02}, tx.TxBatch)

	_, ok, err = stage.Next()
	require.NoError(t, err)
	require.False(t, ok)
}

func TestBatcherTransactionsDropsInvalid(t *testing.T) {
	in := make(chan BatcherTxMessage, 4)
	stage := NewBatcherTransactions(testLogger(t), in)

	valid, err := MarshalBatcherTx(0, []byte{0x01})
	require.NoError(t, err)
	in <- BatcherTxMessage{Txs: [][]byte{{0xde, 0xad}, valid}, L1Origin: 7}

	tx, ok, err := stage.Next()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte{0x01}, tx.TxBatch)
}

func TestBatcherTransactionsPurgeDrainsChannel(t *testing.T) {
	in := make(chan BatcherTxMessage, 4)
	stage := NewBatcherTransactions(testLogger(t), in)

	data, err := MarshalBatcherTx(0, []byte{0x01})
	require.NoError(t, err)
	in <- BatcherTxMessage{Txs: [][]byte{data}, L1Origin: 7}
	in <- BatcherTxMessage{Txs: [][]byte{data}, L1Origin: 8}

	stage.Purge()
	_, ok, err := stage.Next()
	require.NoError(t, err)
	require.False(t, ok)

	// Messages sent after the purge flow through again.
	in <- BatcherTxMessage{Txs: [][]byte{data}, L1Origin: 9}
	tx, ok, err := stage.Next()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(9), tx.L1InclusionBlock)
}
