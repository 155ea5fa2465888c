package indexer

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d4mr/coredrain/internal/backoff"
	"github.com/d4mr/coredrain/internal/domain/model"
	"github.com/d4mr/coredrain/internal/store"
)

type fakeLedgerClient struct {
	updates []LedgerUpdate
	err     error
}

func (f *fakeLedgerClient) FetchUpdates(ctx context.Context, user string, startTime int64) ([]LedgerUpdate, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.updates, nil
}

type fakeTransferStore struct {
	mu      sync.Mutex
	batches [][]model.Transfer
}

func (f *fakeTransferStore) InsertTransferBatch(ctx context.Context, transfers []model.Transfer) (store.BatchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, transfers)
	return store.BatchResult{Inserted: len(transfers)}, nil
}
func (f *fakeTransferStore) GetPendingTransfers(ctx context.Context, limit int) ([]model.Transfer, error) {
	return nil, nil
}
func (f *fakeTransferStore) GetPendingCount(ctx context.Context) (int, error) { return 0, nil }
func (f *fakeTransferStore) MarkMatched(ctx context.Context, coreHash string, fields store.EVMFields) error {
	return nil
}
func (f *fakeTransferStore) MarkFailed(ctx context.Context, coreHash string, reason string) error {
	return nil
}

type fakeWatchedAddressStore struct {
	mu      sync.Mutex
	cursors map[string]int64
}

func (f *fakeWatchedAddressStore) GetActive(ctx context.Context) ([]model.WatchedAddress, error) {
	return nil, nil
}
func (f *fakeWatchedAddressStore) UpdateCursor(ctx context.Context, address string, cursor int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cursors == nil {
		f.cursors = map[string]int64{}
	}
	f.cursors[address] = cursor
	return nil
}

func TestWorker_FilterSpotTransfers_KeepsOnlySystemAddressDestinations(t *testing.T) {
	w := newWorker("0xwatched", 0, nil, nil, nil, backoff.New(), nil)

	updates := []LedgerUpdate{
		{Time: 100, Hash: "0xa", Delta: LedgerDelta{Kind: "spotTransfer", Token: "USDX", Amount: "10", User: "0xuser", Destination: model.NativeSystemAddress}},
		{Time: 200, Hash: "0xb", Delta: LedgerDelta{Kind: "spotTransfer", Token: "USDX", Amount: "5", User: "0xuser", Destination: "0xnotasystemaddress"}},
		{Time: 300, Hash: "0xc", Delta: LedgerDelta{Kind: "withdraw", Token: "USDX", Amount: "1", User: "0xuser", Destination: model.NativeSystemAddress}},
	}

	transfers, maxTime := w.filterSpotTransfers(updates)
	require.Len(t, transfers, 1)
	assert.Equal(t, "0xa", transfers[0].CoreHash)
	assert.Equal(t, model.TransferPending, transfers[0].Status)
	assert.Equal(t, int64(300), maxTime)
}

func TestWorker_Tick_InsertsAndAdvancesCursor(t *testing.T) {
	ledger := &fakeLedgerClient{updates: []LedgerUpdate{
		{Time: 150, Hash: "0xa", Delta: LedgerDelta{Kind: "spotTransfer", Token: "USDX", Amount: "10", User: "0xuser", Destination: model.NativeSystemAddress}},
	}}
	transfers := &fakeTransferStore{}
	watched := &fakeWatchedAddressStore{}

	w := newWorker("0xwatched", 0, ledger, transfers, watched, backoff.New(), nil)
	inserted, err := w.tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, inserted)
	assert.Equal(t, int64(150), w.cursor)
	assert.Equal(t, int64(150), watched.cursors["0xwatched"])
}

func TestWorker_Tick_EmptyUpdatesNoInsert(t *testing.T) {
	ledger := &fakeLedgerClient{updates: nil}
	transfers := &fakeTransferStore{}
	watched := &fakeWatchedAddressStore{}

	w := newWorker("0xwatched", 42, ledger, transfers, watched, backoff.New(), nil)
	inserted, err := w.tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, inserted)
	assert.Empty(t, transfers.batches)
}
