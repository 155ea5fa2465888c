package assetcache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d4mr/coredrain/internal/domain/model"
)

type fakeMetadataClient struct {
	tokens []TokenMetadata
	calls  int
	err    error
}

func (f *fakeMetadataClient) FetchTokens(ctx context.Context) ([]TokenMetadata, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.tokens, nil
}

func TestCache_PopulateAndByName(t *testing.T) {
	contractAddr := "0xabc0000000000000000000000000000000000a"
	client := &fakeMetadataClient{tokens: []TokenMetadata{
		{Name: "USDX", Index: 5, WeiDecimals: 6, EVMContract: &struct {
			Address             string `json:"address"`
			EVMExtraWeiDecimals int    `json:"evm_extra_wei_decimals"`
		}{Address: contractAddr, EVMExtraWeiDecimals: 10}},
	}}

	c := New(client, nil)
	require.NoError(t, c.Populate(context.Background()))

	asset, ok := c.ByName("USDX")
	require.True(t, ok)
	assert.Equal(t, 5, asset.Index)
	assert.Equal(t, 16, asset.EVMDecimals())

	byIndex, ok := c.ByIndex(5)
	require.True(t, ok)
	assert.Equal(t, "USDX", byIndex.Name)
}

func TestCache_BySystemAddress_Native(t *testing.T) {
	client := &fakeMetadataClient{}
	c := New(client, nil)
	require.NoError(t, c.Populate(context.Background()))

	asset, ok := c.BySystemAddress(context.Background(), model.NativeSystemAddress)
	require.True(t, ok)
	assert.Equal(t, model.NativeDecimals, asset.EVMDecimals())
}

func TestCache_BySystemAddress_UnknownFallsBackToDefault(t *testing.T) {
	client := &fakeMetadataClient{}
	c := New(client, nil)
	require.NoError(t, c.Populate(context.Background()))
	c.minRefreshEvery = 0 // allow the miss to trigger an immediate refresh in this test

	asset, ok := c.BySystemAddress(context.Background(), "0xdead000000000000000000000000000000dead")
	assert.False(t, ok)
	assert.Equal(t, model.DefaultDecimals, asset.WeiDecimals)
	assert.Equal(t, 2, client.calls) // initial populate plus one refresh attempt on miss
}
