package l1

import (
	"crypto/ecdsa"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

var testChainID = big.NewInt(900)

func signedCalldataTx(t *testing.T, key *ecdsa.PrivateKey, to common.Address, data []byte) *types.Transaction {
	t.Helper()
	tx, err := types.SignNewTx(key, types.LatestSignerForChainID(testChainID), &types.LegacyTx{
		GasPrice: big.NewInt(1),
		Gas:      100_000,
		To:       &to,
		Value:    new(big.Int),
		Data:     data,
	})
	require.NoError(t, err)
	return tx
}

func blockWithTxs(txs ...*types.Transaction) *types.Block {
	header := &types.Header{Number: big.NewInt(12), Time: 2200}
	return types.NewBlockWithHeader(header).WithBody(txs, nil)
}

func TestEOAExtractorFiltersSenderAndInbox(t *testing.T) {
	senderKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	otherKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	sender := crypto.PubkeyToAddress(senderKey.PublicKey)
	inbox := common.Address{0xbb}
	elsewhere := common.Address{0xcc}

	block := blockWithTxs(
		signedCalldataTx(t, senderKey, inbox, []byte{0x01, 0x02}),
		signedCalldataTx(t, senderKey, elsewhere, []byte{0x03}),
		signedCalldataTx(t, otherKey, inbox, []byte{0x04}),
	)

	out := NewEOAExtractor(testChainID).Extract(block, sender, inbox)
	require.Equal(t, [][]byte{{0x01, 0x02}}, out)
}

func TestContractExtractorStripsSelector(t *testing.T) {
	senderKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	sender := crypto.PubkeyToAddress(senderKey.PublicKey)
	inbox := common.Address{0xbb}
	methodID := [4]byte{0xde, 0xad, 0xbe, 0xef}

	block := blockWithTxs(
		signedCalldataTx(t, senderKey, inbox, []byte{0xde, 0xad, 0xbe, 0xef, 0x01, 0x02}),
		// Wrong selector: ignored.
		signedCalldataTx(t, senderKey, inbox, []byte{0x00, 0x00, 0x00, 0x00, 0x03}),
		// Too short for a selector: ignored.
		signedCalldataTx(t, senderKey, inbox, []byte{0xde}),
	)

	out := NewContractExtractor(testChainID, methodID).Extract(block, sender, inbox)
	require.Equal(t, [][]byte{{0x01, 0x02}}, out)
}
