package derive

import (
	"bytes"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/specularl2/specular-node/eth"
	"github.com/specularl2/specular-node/solabi"
)

const SetL1OracleValuesDepositedSignature = "setL1OracleValues(uint64,uint64,uint256,bytes32,uint64,bytes32,uint256,uint256)"

var SetL1OracleValuesDepositedBytes4 = crypto.Keccak256([]byte(SetL1OracleValuesDepositedSignature))[:4]

// AttributesDepositedCall is the Optimism-path oracle update: the calldata of
// the deposited system transaction that opens every L2 block.
type AttributesDepositedCall struct {
	Number         uint64
	Time           uint64
	BaseFee        *big.Int
	Hash           common.Hash
	SequenceNumber uint64
	BatcherHash    common.Hash
	FeeOverhead    *big.Int
	FeeScalar      *big.Int
}

func (c *AttributesDepositedCall) MarshalBinary() ([]byte, error) {
	w := new(bytes.Buffer)
	if err := solabi.WriteSignature(w, SetL1OracleValuesDepositedBytes4); err != nil {
		return nil, err
	}
	if err := solabi.WriteUint64(w, c.Number); err != nil {
		return nil, err
	}
	if err := solabi.WriteUint64(w, c.Time); err != nil {
		return nil, err
	}
	if err := solabi.WriteUint256(w, c.BaseFee); err != nil {
		return nil, err
	}
	if err := solabi.WriteHash(w, c.Hash); err != nil {
		return nil, err
	}
	if err := solabi.WriteUint64(w, c.SequenceNumber); err != nil {
		return nil, err
	}
	if err := solabi.WriteHash(w, c.BatcherHash); err != nil {
		return nil, err
	}
	if err := solabi.WriteUint256(w, c.FeeOverhead); err != nil {
		return nil, err
	}
	if err := solabi.WriteUint256(w, c.FeeScalar); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

func (c *AttributesDepositedCall) UnmarshalBinary(data []byte) error {
	r := bytes.NewReader(data)
	var err error
	if _, err := solabi.ReadAndValidateSignature(r, SetL1OracleValuesDepositedBytes4); err != nil {
		return err
	}
	if c.Number, err = solabi.ReadUint64(r); err != nil {
		return err
	}
	if c.Time, err = solabi.ReadUint64(r); err != nil {
		return err
	}
	if c.BaseFee, err = solabi.ReadUint256(r); err != nil {
		return err
	}
	if c.Hash, err = solabi.ReadHash(r); err != nil {
		return err
	}
	if c.SequenceNumber, err = solabi.ReadUint64(r); err != nil {
		return err
	}
	if c.BatcherHash, err = solabi.ReadHash(r); err != nil {
		return err
	}
	if c.FeeOverhead, err = solabi.ReadUint256(r); err != nil {
		return err
	}
	if c.FeeScalar, err = solabi.ReadUint256(r); err != nil {
		return err
	}
	if !solabi.EmptyReader(r) {
		return errors.New("too many bytes")
	}
	return nil
}

// Epoch recovers the L1 origin the call commits to.
func (c *AttributesDepositedCall) Epoch() eth.Epoch {
	return eth.Epoch{Number: c.Number, Hash: c.Hash, Time: c.Time}
}

// BatcherHash encodes a batch sender address as a versioned hash: version 0
// is the address left-padded with zeroes.
func BatcherHash(batchSender common.Address) common.Hash {
	return common.BytesToHash(batchSender.Bytes())
}
