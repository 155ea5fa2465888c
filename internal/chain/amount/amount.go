// Package amount converts between CORE's human-scale decimal amounts
// and EVM's arbitrary-width smallest-unit integers, grounded in
// ChainSafe-canton-middleware's shopspring/decimal usage.
package amount

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// ToSmallestUnit scales a human-scale decimal amount (e.g. "100.5") by
// 10^decimals and rounds half-up to the nearest integer, returning the
// result as an arbitrary-width big.Int. Excess decimal places are
// rounded, never truncated.
func ToSmallestUnit(humanAmount string, decimals int) (*big.Int, error) {
	d, err := decimal.NewFromString(humanAmount)
	if err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", humanAmount, err)
	}
	scaled := d.Shift(int32(decimals)).Round(0)
	i, ok := new(big.Int).SetString(scaled.StringFixed(0), 10)
	if !ok {
		return nil, fmt.Errorf("convert scaled amount %q to big.Int", scaled.String())
	}
	return i, nil
}

// EqualSmallestUnit compares a human-scale CORE amount against a
// decimal-string smallest-unit EVM amount, after scaling the former by
// decimals. Used by the finder's match predicate.
func EqualSmallestUnit(humanAmount string, decimals int, smallestUnit string) (bool, error) {
	want, err := ToSmallestUnit(humanAmount, decimals)
	if err != nil {
		return false, err
	}
	got, ok := new(big.Int).SetString(smallestUnit, 10)
	if !ok {
		return false, fmt.Errorf("parse smallest-unit amount %q", smallestUnit)
	}
	return want.Cmp(got) == 0, nil
}
