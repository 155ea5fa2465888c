// Package hashing computes the two bridge-identifier hashes every
// system transaction carries: the
// internalHash and explorerHash are Keccak-256 digests of the same
// canonical RLP encoding, differing only in the trailing signature
// fields (v, r, s). Grounded in go-ethereum's rlp/crypto packages, as
// used by ChainSafe-canton-middleware, Smartdevs17-rsk-event-listener,
// and marko911-project-pulse.
package hashing

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
)

// SystemTxFields is the mechanical payload a system transaction encodes.
// The chain's actual signing/broadcast format is out of scope;
// only enough structure is kept to reproduce byte-exact hashes.
type SystemTxFields struct {
	Nonce    uint64
	GasPrice *big.Int
	GasLimit uint64
	To       common.Address
	Value    *big.Int
	Data     []byte
	ChainID  int64

	// SenderSystemAddress is the fixed system address that minted this
	// transaction; it becomes the explorer hash's s value.
	SenderSystemAddress common.Address
}

type legacyTxRLP struct {
	Nonce    uint64
	GasPrice *big.Int
	GasLimit uint64
	To       common.Address
	Value    *big.Int
	Data     []byte
	V        *big.Int
	R        *big.Int
	S        *big.Int
}

// InternalHash returns Keccak-256(RLP(tx, v=chainId*2+35, r=0, s=0)).
func InternalHash(f SystemTxFields) (string, error) {
	v := new(big.Int).Add(new(big.Int).Mul(big.NewInt(f.ChainID), big.NewInt(2)), big.NewInt(35))
	h, err := encodeAndHash(f, v, big.NewInt(0), big.NewInt(0))
	if err != nil {
		return "", fmt.Errorf("internal hash: %w", err)
	}
	return h, nil
}

// ExplorerHash returns Keccak-256(RLP(tx, v=chainId*2+36, r=1, s=<sender system address>)).
func ExplorerHash(f SystemTxFields) (string, error) {
	v := new(big.Int).Add(new(big.Int).Mul(big.NewInt(f.ChainID), big.NewInt(2)), big.NewInt(36))
	s := new(big.Int).SetBytes(f.SenderSystemAddress.Bytes())
	h, err := encodeAndHash(f, v, big.NewInt(1), s)
	if err != nil {
		return "", fmt.Errorf("explorer hash: %w", err)
	}
	return h, nil
}

// Pair computes both hashes in one pass.
func Pair(f SystemTxFields) (internalHash, explorerHash string, err error) {
	internalHash, err = InternalHash(f)
	if err != nil {
		return "", "", err
	}
	explorerHash, err = ExplorerHash(f)
	if err != nil {
		return "", "", err
	}
	return internalHash, explorerHash, nil
}

func encodeAndHash(f SystemTxFields, v, r, s *big.Int) (string, error) {
	gasPrice := f.GasPrice
	if gasPrice == nil {
		gasPrice = big.NewInt(0)
	}
	value := f.Value
	if value == nil {
		value = big.NewInt(0)
	}

	tx := legacyTxRLP{
		Nonce:    f.Nonce,
		GasPrice: gasPrice,
		GasLimit: f.GasLimit,
		To:       f.To,
		Value:    value,
		Data:     f.Data,
		V:        v,
		R:        r,
		S:        s,
	}

	encoded, err := rlp.EncodeToBytes(&tx)
	if err != nil {
		return "", fmt.Errorf("rlp encode: %w", err)
	}

	digest := crypto.Keccak256(encoded)
	return "0x" + common.Bytes2Hex(digest), nil
}
