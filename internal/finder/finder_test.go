package finder

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d4mr/coredrain/internal/anchorindex"
	"github.com/d4mr/coredrain/internal/assetcache"
	"github.com/d4mr/coredrain/internal/domain/model"
	"github.com/d4mr/coredrain/internal/store"
)

type fakeAnchorStore struct {
	bracket model.Bracket
	match   *model.AnchorTx
}

func (f *fakeAnchorStore) InsertAnchorTxBatch(ctx context.Context, anchors []model.AnchorTx) (store.BatchResult, error) {
	return store.BatchResult{Inserted: len(anchors)}, nil
}

func (f *fakeAnchorStore) FindBracketingAnchors(ctx context.Context, targetTime int64) (model.Bracket, error) {
	return f.bracket, nil
}

func (f *fakeAnchorStore) FindMatchingAnchor(ctx context.Context, from, recipient, amountSmallest string, minTime, maxTime int64) (*model.AnchorTx, error) {
	return f.match, nil
}

type fakeMetadataClient struct{}

func (fakeMetadataClient) FetchTokens(ctx context.Context) ([]assetcache.TokenMetadata, error) {
	return nil, nil
}

// fakeFetcher serves a fixed timeline of blocks, each holding at most
// one system tx, keyed by block number.
type fakeFetcher struct {
	blocks map[int64]model.BlockData
}

func (f *fakeFetcher) Name() string { return "fake" }

func (f *fakeFetcher) FetchBlocks(ctx context.Context, blockNumbers []int64) ([]model.BlockData, error) {
	var out []model.BlockData
	for _, n := range blockNumbers {
		if b, ok := f.blocks[n]; ok {
			out = append(out, b)
		}
	}
	return out, nil
}

func newTestFinder(anchorStore *fakeAnchorStore) *Finder {
	idx := anchorindex.New(anchorStore, nil)
	assets := assetcache.New(fakeMetadataClient{}, nil)
	_ = assets.Populate(context.Background())
	return New(idx, assets)
}

func TestFind_CacheHit(t *testing.T) {
	anchor := model.AnchorTx{
		From:           model.NativeSystemAddress,
		AssetRecipient: "0xuser",
		AmountSmallest: "100500000000000000000",
		BlockTimestamp: 1_700_000_000_000,
	}
	f := newTestFinder(&fakeAnchorStore{match: &anchor})

	transfer := model.Transfer{
		SystemAddress: model.NativeSystemAddress,
		Recipient:     "0xuser",
		Amount:        "100.5",
		CoreTime:      1_700_000_001_000,
	}

	result, err := f.Find(context.Background(), transfer, &fakeFetcher{})
	require.NoError(t, err)
	assert.Equal(t, 0, result.Rounds)
	assert.Equal(t, 0, result.BlocksSearched)
	assert.Equal(t, anchor.AmountSmallest, result.Anchor.AmountSmallest)
}

func TestFind_InterpolationConverges(t *testing.T) {
	loTime := int64(1_700_000_000_000)
	hiTime := int64(1_700_001_000_000)
	targetTime := int64(1_700_000_500_000)

	blocks := map[int64]model.BlockData{
		1500: {
			Number:    1500,
			Hash:      "0xblockhash",
			Timestamp: targetTime,
			Txs: []model.SystemTx{
				{
					InternalHash:   "0xinternal",
					ExplorerHash:   "0xexplorer",
					From:           model.NativeSystemAddress,
					AssetRecipient: "0xuser",
					AmountSmallest: "50000000000000000000",
				},
			},
		},
	}

	f := newTestFinder(&fakeAnchorStore{
		bracket: model.Bracket{
			Before: &model.AnchorRef{BlockNumber: 1000, BlockTimestamp: loTime},
			After:  &model.AnchorRef{BlockNumber: 2000, BlockTimestamp: hiTime},
		},
	})

	transfer := model.Transfer{
		SystemAddress: model.NativeSystemAddress,
		Recipient:     "0xuser",
		Amount:        "50",
		CoreTime:      targetTime,
	}

	result, err := f.Find(context.Background(), transfer, &fakeFetcher{blocks: blocks})
	require.NoError(t, err)
	assert.LessOrEqual(t, result.Rounds, 4)
	assert.Equal(t, "0xinternal", result.Anchor.InternalHash)
}

func TestFind_NotFoundWhenBoundsCollapse(t *testing.T) {
	f := newTestFinder(&fakeAnchorStore{
		bracket: model.Bracket{
			Before: &model.AnchorRef{BlockNumber: 1000, BlockTimestamp: 1_700_000_000_000},
			After:  &model.AnchorRef{BlockNumber: 1001, BlockTimestamp: 1_700_000_001_000},
		},
	})

	transfer := model.Transfer{
		SystemAddress: model.NativeSystemAddress,
		Recipient:     "0xuser",
		Amount:        "50",
		CoreTime:      1_700_000_000_500,
	}

	_, err := f.Find(context.Background(), transfer, &fakeFetcher{})
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestFind_EmptyBoundsUsesSeedAnchor(t *testing.T) {
	f := newTestFinder(&fakeAnchorStore{})

	transfer := model.Transfer{
		SystemAddress: model.NativeSystemAddress,
		Recipient:     "0xuser",
		Amount:        "50",
		CoreTime:      genesisTimeMS + 10_000,
	}

	// No matching block anywhere in this timeline; exhaustion is the
	// only possible outcome, but it must terminate within maxRounds
	// rather than looping forever.
	_, err := f.Find(context.Background(), transfer, &fakeFetcher{})
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}
