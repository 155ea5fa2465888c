package normalize

import (
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const nativeSystemAddress = "0x2222222222222222222222222222222222222222"

func TestTransaction_NativeTransfer(t *testing.T) {
	to := common.HexToAddress("0x1234000000000000000000000000000000abcd")
	tx := RawTx{
		Nonce:    1,
		GasPrice: big.NewInt(1_000_000_000),
		GasLimit: 21000,
		To:       &to,
		Value:    big.NewInt(500_000),
		ChainID:  1116,
	}

	sysTx, ok := Transaction(tx, nativeSystemAddress)
	require.True(t, ok)
	assert.Equal(t, nativeSystemAddress, sysTx.From)
	assert.Equal(t, strings.ToLower(to.Hex()), sysTx.AssetRecipient)
	assert.Equal(t, "500000", sysTx.AmountSmallest)
	assert.Nil(t, sysTx.ContractAddress)
	assert.NotEmpty(t, sysTx.InternalHash)
	assert.NotEmpty(t, sysTx.ExplorerHash)
}

func TestTransaction_ContractTransfer(t *testing.T) {
	contract := common.HexToAddress("0xc0ffee0000000000000000000000000000c0ff")
	recipient := common.HexToAddress("0x1234000000000000000000000000000000abcd")
	sender := common.HexToAddress("0x9999000000000000000000000000000000aaaa")

	data := buildTransferCalldata(recipient, big.NewInt(750_000))

	tx := RawTx{
		Nonce:    2,
		GasPrice: big.NewInt(1_000_000_000),
		GasLimit: 60000,
		To:       &contract,
		Value:    big.NewInt(0),
		Data:     data,
		ChainID:  1116,
		Logs: []Log{
			{
				Address: contract,
				Topics:  []common.Hash{TransferEventTopic, addressToHash(sender), addressToHash(recipient)},
			},
		},
	}

	sysTx, ok := Transaction(tx, nativeSystemAddress)
	require.True(t, ok)
	assert.Equal(t, strings.ToLower(sender.Hex()), sysTx.From)
	assert.Equal(t, strings.ToLower(recipient.Hex()), sysTx.AssetRecipient)
	assert.Equal(t, "750000", sysTx.AmountSmallest)
	require.NotNil(t, sysTx.ContractAddress)
	assert.Equal(t, contract.Hex(), common.HexToAddress(*sysTx.ContractAddress).Hex())
}

func TestTransaction_ContractTransferWithoutMatchingLog(t *testing.T) {
	contract := common.HexToAddress("0xc0ffee0000000000000000000000000000c0ff")
	recipient := common.HexToAddress("0x1234000000000000000000000000000000abcd")
	data := buildTransferCalldata(recipient, big.NewInt(750_000))

	tx := RawTx{
		To:      &contract,
		Value:   big.NewInt(0),
		Data:    data,
		ChainID: 1116,
	}

	_, ok := Transaction(tx, nativeSystemAddress)
	assert.False(t, ok)
}

func TestTransaction_UnrecognizedShapeReturnsFalse(t *testing.T) {
	to := common.HexToAddress("0x1234000000000000000000000000000000abcd")
	tx := RawTx{
		To:    &to,
		Value: big.NewInt(0),
		Data:  []byte{0xaa, 0xbb},
	}

	_, ok := Transaction(tx, nativeSystemAddress)
	assert.False(t, ok)
}

func buildTransferCalldata(to common.Address, amount *big.Int) []byte {
	data := make([]byte, 4+32+32)
	copy(data[0:4], ERC20TransferSelector)
	copy(data[4+12:4+32], to.Bytes())
	amtBytes := amount.Bytes()
	copy(data[4+32+32-len(amtBytes):4+32+32], amtBytes)
	return data
}

func addressToHash(a common.Address) common.Hash {
	return common.BytesToHash(a.Bytes())
}
