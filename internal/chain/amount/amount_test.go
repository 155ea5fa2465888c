package amount

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToSmallestUnit(t *testing.T) {
	testCases := []struct {
		name     string
		human    string
		decimals int
		want     string
	}{
		{name: "whole number", human: "100", decimals: 6, want: "100000000"},
		{name: "exact fraction", human: "100.5", decimals: 6, want: "100500000"},
		{name: "rounds half up", human: "1.0000005", decimals: 6, want: "1000001"},
		{name: "zero", human: "0", decimals: 18, want: "0"},
		{name: "eighteen decimals", human: "1.5", decimals: 18, want: "1500000000000000000"},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			got, err := ToSmallestUnit(tc.human, tc.decimals)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got.String())
		})
	}
}

func TestToSmallestUnit_InvalidInput(t *testing.T) {
	_, err := ToSmallestUnit("not-a-number", 6)
	assert.Error(t, err)
}

func TestEqualSmallestUnit(t *testing.T) {
	ok, err := EqualSmallestUnit("100.5", 6, "100500000")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = EqualSmallestUnit("100.5", 6, "100500001")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEqualSmallestUnit_InvalidSmallestUnit(t *testing.T) {
	_, err := EqualSmallestUnit("100.5", 6, "not-a-number")
	assert.Error(t, err)
}
