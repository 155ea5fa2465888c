package matcher

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d4mr/coredrain/internal/anchorindex"
	"github.com/d4mr/coredrain/internal/assetcache"
	"github.com/d4mr/coredrain/internal/domain/model"
	"github.com/d4mr/coredrain/internal/finder"
	"github.com/d4mr/coredrain/internal/store"
)

type fakeTransferStore struct {
	mu       sync.Mutex
	pending  []model.Transfer
	matched  []string
	failed   []string
}

func (f *fakeTransferStore) InsertTransferBatch(ctx context.Context, transfers []model.Transfer) (store.BatchResult, error) {
	return store.BatchResult{}, nil
}

func (f *fakeTransferStore) GetPendingTransfers(ctx context.Context, limit int) ([]model.Transfer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if limit > len(f.pending) {
		limit = len(f.pending)
	}
	out := append([]model.Transfer(nil), f.pending[:limit]...)
	f.pending = f.pending[limit:]
	return out, nil
}

func (f *fakeTransferStore) GetPendingCount(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pending), nil
}

func (f *fakeTransferStore) MarkMatched(ctx context.Context, coreHash string, fields store.EVMFields) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.matched = append(f.matched, coreHash)
	return nil
}

func (f *fakeTransferStore) MarkFailed(ctx context.Context, coreHash string, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = append(f.failed, coreHash)
	return nil
}

func (f *fakeTransferStore) matchedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.matched)
}

func (f *fakeTransferStore) failedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.failed)
}

type fakeAnchorStore struct {
	match *model.AnchorTx
}

func (f *fakeAnchorStore) InsertAnchorTxBatch(ctx context.Context, anchors []model.AnchorTx) (store.BatchResult, error) {
	return store.BatchResult{Inserted: len(anchors)}, nil
}

func (f *fakeAnchorStore) FindBracketingAnchors(ctx context.Context, targetTime int64) (model.Bracket, error) {
	return model.Bracket{}, nil
}

func (f *fakeAnchorStore) FindMatchingAnchor(ctx context.Context, from, recipient, amountSmallest string, minTime, maxTime int64) (*model.AnchorTx, error) {
	return f.match, nil
}

type fakeMetadataClient struct{}

func (fakeMetadataClient) FetchTokens(ctx context.Context) ([]assetcache.TokenMetadata, error) {
	return nil, nil
}

type fakeFetcher struct{ name string }

func (f *fakeFetcher) Name() string { return f.name }
func (f *fakeFetcher) FetchBlocks(ctx context.Context, blockNumbers []int64) ([]model.BlockData, error) {
	return nil, nil
}

func TestPool_MatchedTransferIsMarkedAndDrained(t *testing.T) {
	anchor := model.AnchorTx{
		From:           model.NativeSystemAddress,
		AssetRecipient: "0xuser",
		AmountSmallest: "1000000000000000000",
		BlockTimestamp: 1_700_000_000_000,
	}
	transferStore := &fakeTransferStore{pending: []model.Transfer{
		{CoreHash: "0xhash1", SystemAddress: model.NativeSystemAddress, Recipient: "0xuser", Amount: "1", CoreTime: 1_700_000_000_500, Status: model.TransferPending},
	}}

	assets := assetcache.New(fakeMetadataClient{}, nil)
	require.NoError(t, assets.Populate(context.Background()))
	idx := anchorindex.New(&fakeAnchorStore{match: &anchor}, nil)
	f := finder.New(idx, assets)

	pool := New(transferStore, f, &fakeFetcher{name: "rpc"}, &fakeFetcher{name: "objectstore"}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pool.Run(ctx) }()

	pool.refill(context.Background())

	require.Eventually(t, func() bool { return transferStore.matchedCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	<-done
	assert.Equal(t, 0, transferStore.failedCount())
}

func TestPool_SelectStrategySwitchesOnBacklog(t *testing.T) {
	transferStore := &fakeTransferStore{}
	assets := assetcache.New(fakeMetadataClient{}, nil)
	require.NoError(t, assets.Populate(context.Background()))
	idx := anchorindex.New(&fakeAnchorStore{}, nil)
	f := finder.New(idx, assets)

	rpc := &fakeFetcher{name: "rpc"}
	obj := &fakeFetcher{name: "objectstore"}
	pool := New(transferStore, f, rpc, obj, nil)

	pool.selectStrategy(backfillThreshold + 1)
	assert.Equal(t, "objectstore", (*pool.activeFetcher.Load()).Name())

	pool.selectStrategy(1)
	assert.Equal(t, "rpc", (*pool.activeFetcher.Load()).Name())
}

func TestDedupSet_BoundsSizeAndRetainsRecent(t *testing.T) {
	d := newDedupSet()
	for i := 0; i < dedupCap+100; i++ {
		d.Add(string(rune(i)))
	}
	assert.LessOrEqual(t, d.Len(), dedupCap)

	// The most recently added hash is still present; the oldest was dropped.
	assert.False(t, d.Add(string(rune(dedupCap+99))))
	assert.True(t, d.Add(string(rune(0))))
}
