// Package normalize implements the native/contract-transfer
// normalization rules that are identical for both fetcher variants.
// It hides whether a transaction was a native-value transfer or an
// ERC-20 contract call behind the single SystemTx shape.
package normalize

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/d4mr/coredrain/internal/chain/hashing"
	"github.com/d4mr/coredrain/internal/domain/model"
)

// ERC20TransferSelector is the 4-byte function selector for
// transfer(address,uint256).
var ERC20TransferSelector = crypto.Keccak256([]byte("transfer(address,uint256)"))[:4]

// TransferEventTopic is the keccak-256 of Transfer(address,address,uint256),
// the first (non-indexed-argument) topic of every ERC-20 Transfer log.
var TransferEventTopic = common.BytesToHash(crypto.Keccak256([]byte("Transfer(address,address,uint256)")))

// Log is the minimal shape of an EVM log entry needed to locate a
// Transfer event.
type Log struct {
	Address common.Address
	Topics  []common.Hash
	Data    []byte
}

// RawTx is the minimal shape of an EVM transaction needed for
// normalization, independent of which fetcher variant produced it.
type RawTx struct {
	Nonce    uint64
	GasPrice *big.Int
	GasLimit uint64
	To       *common.Address // nil for contract creation, never expected here
	Value    *big.Int
	Data     []byte
	ChainID  int64
	Logs     []Log // only populated when Data is a contract call
}

// Transaction normalizes a single raw transaction into a SystemTx.
// ok is false when a contract-call transaction has no matching
// Transfer log.
func Transaction(tx RawTx, nativeSystemAddress string) (model.SystemTx, bool) {
	if isNativeTransfer(tx) {
		return normalizeNative(tx, nativeSystemAddress), true
	}
	if isContractTransfer(tx) {
		return normalizeContract(tx)
	}
	return model.SystemTx{}, false
}

func isNativeTransfer(tx RawTx) bool {
	return len(tx.Data) == 0 && tx.Value != nil && tx.Value.Sign() > 0
}

func isContractTransfer(tx RawTx) bool {
	return len(tx.Data) >= 4 && string(tx.Data[:4]) == string(ERC20TransferSelector)
}

func normalizeNative(tx RawTx, nativeSystemAddress string) model.SystemTx {
	var to common.Address
	if tx.To != nil {
		to = *tx.To
	}

	fields := hashing.SystemTxFields{
		Nonce:                tx.Nonce,
		GasPrice:             tx.GasPrice,
		GasLimit:             tx.GasLimit,
		To:                   to,
		Value:                tx.Value,
		Data:                 tx.Data,
		ChainID:              tx.ChainID,
		SenderSystemAddress:  common.HexToAddress(nativeSystemAddress),
	}
	internalHash, explorerHash, _ := hashing.Pair(fields)

	return model.SystemTx{
		InternalHash:   internalHash,
		ExplorerHash:   explorerHash,
		From:           nativeSystemAddress,
		AssetRecipient: strings.ToLower(to.Hex()),
		AmountSmallest: tx.Value.String(),
	}
}

// decodeERC20Transfer parses the ABI-encoded arguments of
// transfer(address to, uint256 amount).
func decodeERC20Transfer(data []byte) (common.Address, *big.Int, bool) {
	if len(data) < 4+32+32 {
		return common.Address{}, nil, false
	}
	args := data[4:]
	to := common.BytesToAddress(args[12:32])
	amount := new(big.Int).SetBytes(args[32:64])
	return to, amount, true
}

func normalizeContract(tx RawTx) (model.SystemTx, bool) {
	to, amount, ok := decodeERC20Transfer(tx.Data)
	if !ok {
		return model.SystemTx{}, false
	}
	if tx.To == nil {
		return model.SystemTx{}, false
	}
	contract := *tx.To

	from, ok := findTransferSender(tx.Logs, contract)
	if !ok {
		return model.SystemTx{}, false
	}

	fields := hashing.SystemTxFields{
		Nonce:               tx.Nonce,
		GasPrice:            tx.GasPrice,
		GasLimit:            tx.GasLimit,
		To:                  contract,
		Value:               big.NewInt(0),
		Data:                tx.Data,
		ChainID:             tx.ChainID,
		SenderSystemAddress: from,
	}
	internalHash, explorerHash, _ := hashing.Pair(fields)

	contractAddr := strings.ToLower(contract.Hex())
	return model.SystemTx{
		InternalHash:    internalHash,
		ExplorerHash:    explorerHash,
		From:            strings.ToLower(from.Hex()),
		AssetRecipient:  strings.ToLower(to.Hex()),
		AmountSmallest:  amount.String(),
		ContractAddress: &contractAddr,
	}, true
}

// findTransferSender scans logs for a Transfer event emitted by
// contract and returns the sender (first indexed topic).
func findTransferSender(logs []Log, contract common.Address) (common.Address, bool) {
	for _, l := range logs {
		if l.Address != contract {
			continue
		}
		if len(l.Topics) < 2 || l.Topics[0] != TransferEventTopic {
			continue
		}
		return common.BytesToAddress(l.Topics[1].Bytes()), true
	}
	return common.Address{}, false
}
