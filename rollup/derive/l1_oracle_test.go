package derive

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func TestL1OracleValuesRoundTrip(t *testing.T) {
	values := L1OracleValues{
		Number:    8874020,
		Time:      1682191440,
		BaseFee:   big.NewInt(2100),
		Hash:      common.HexToHash("0x0444c991c5fe1d7291ff34b3f5c3b44ee861f021396d33ba3255b83df30e357d"),
		StateRoot: common.HexToHash("0x9f8f0c1b5b3c2e33a2802ad18d2fcae28ffa3ae0e2e05b9b4317f0f347e3f3a9"),
	}
	data, err := values.MarshalBinary()
	require.NoError(t, err)
	require.Equal(t, SetL1OracleValuesBytes4, data[:4])
	require.Len(t, data, 4+5*32)

	var decoded L1OracleValues
	require.NoError(t, decoded.UnmarshalBinary(data))
	require.Equal(t, values, decoded)
}

func TestL1OracleValuesRejectsTrailingBytes(t *testing.T) {
	values := L1OracleValues{BaseFee: big.NewInt(1)}
	data, err := values.MarshalBinary()
	require.NoError(t, err)
	var decoded L1OracleValues
	require.Error(t, decoded.UnmarshalBinary(append(data, 0x00)))
}

func TestAttributesDepositedCallRoundTrip(t *testing.T) {
	call := AttributesDepositedCall{
		Number:         8874020,
		Time:           1682191440,
		BaseFee:        big.NewInt(14),
		Hash:           common.HexToHash("0x0444c991c5fe1d7291ff34b3f5c3b44ee861f021396d33ba3255b83df30e357d"),
		SequenceNumber: 5,
		BatcherHash:    BatcherHash(common.HexToAddress("0x7431310e026b69bfc676c0013e12a1a11411eec9")),
		FeeOverhead:    big.NewInt(2100),
		FeeScalar:      big.NewInt(1000000),
	}
	data, err := call.MarshalBinary()
	require.NoError(t, err)
	require.Equal(t, SetL1OracleValuesDepositedBytes4, data[:4])

	var decoded AttributesDepositedCall
	require.NoError(t, decoded.UnmarshalBinary(data))
	require.Equal(t, call, decoded)

	epoch := decoded.Epoch()
	require.Equal(t, call.Number, epoch.Number)
	require.Equal(t, call.Hash, epoch.Hash)
	require.Equal(t, call.Time, epoch.Time)
}
