package derive

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/specularl2/specular-node/eth"
	"github.com/specularl2/specular-node/solabi"
)

const SetL1OracleValuesSignature = "setL1OracleValues(uint256,uint256,uint256,bytes32,bytes32)"

var SetL1OracleValuesBytes4 = crypto.Keccak256([]byte(SetL1OracleValuesSignature))[:4]

// L1OracleValues is the payload of a setL1OracleValues call: the L1 block
// fields mirrored into the L2 oracle predeploy at the start of each epoch.
type L1OracleValues struct {
	Number    uint64
	Time      uint64
	BaseFee   *big.Int
	Hash      common.Hash
	StateRoot common.Hash
}

func L1OracleValuesFromBlockInfo(info eth.L1BlockInfo) L1OracleValues {
	return L1OracleValues{
		Number:    info.Number,
		Time:      info.Time,
		BaseFee:   info.BaseFee,
		Hash:      info.Hash,
		StateRoot: info.StateRoot,
	}
}

// MarshalBinary encodes the setL1OracleValues calldata.
func (v *L1OracleValues) MarshalBinary() ([]byte, error) {
	w := new(bytes.Buffer)
	if err := solabi.WriteSignature(w, SetL1OracleValuesBytes4); err != nil {
		return nil, err
	}
	if err := solabi.WriteUint64(w, v.Number); err != nil {
		return nil, err
	}
	if err := solabi.WriteUint64(w, v.Time); err != nil {
		return nil, err
	}
	baseFee := v.BaseFee
	if baseFee == nil {
		baseFee = new(big.Int)
	}
	if err := solabi.WriteUint256(w, baseFee); err != nil {
		return nil, err
	}
	if err := solabi.WriteHash(w, v.Hash); err != nil {
		return nil, err
	}
	if err := solabi.WriteHash(w, v.StateRoot); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

// UnmarshalBinary decodes setL1OracleValues calldata.
func (v *L1OracleValues) UnmarshalBinary(data []byte) error {
	r := bytes.NewReader(data)
	var err error
	if _, err := solabi.ReadAndValidateSignature(r, SetL1OracleValuesBytes4); err != nil {
		return err
	}
	if v.Number, err = solabi.ReadUint64(r); err != nil {
		return err
	}
	if v.Time, err = solabi.ReadUint64(r); err != nil {
		return err
	}
	if v.BaseFee, err = solabi.ReadUint256(r); err != nil {
		return err
	}
	if v.Hash, err = solabi.ReadHash(r); err != nil {
		return err
	}
	if v.StateRoot, err = solabi.ReadHash(r); err != nil {
		return err
	}
	if !solabi.EmptyReader(r) {
		return errors.New("too many bytes")
	}
	return nil
}

// CheckAgainst verifies that the oracle values exactly match the indexed L1
// block they claim to mirror.
func (v *L1OracleValues) CheckAgainst(info eth.L1BlockInfo) error {
	if v.Hash != info.Hash {
		return fmt.Errorf("oracle hash %s does not match L1 block %s", v.Hash, info.Hash)
	}
	if v.Number != info.Number {
		return fmt.Errorf("oracle number %d does not match L1 block %d", v.Number, info.Number)
	}
	if v.Time != info.Time {
		return fmt.Errorf("oracle timestamp %d does not match L1 block %d", v.Time, info.Time)
	}
	if v.BaseFee == nil || info.BaseFee == nil || v.BaseFee.Cmp(info.BaseFee) != 0 {
		return fmt.Errorf("oracle base fee %v does not match L1 block %v", v.BaseFee, info.BaseFee)
	}
	if v.StateRoot != info.StateRoot {
		return fmt.Errorf("oracle state root %s does not match L1 block %s", v.StateRoot, info.StateRoot)
	}
	return nil
}
