package anchorindex

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d4mr/coredrain/internal/domain/model"
	"github.com/d4mr/coredrain/internal/store"
)

type fakeAnchorStore struct {
	mu      sync.Mutex
	batches [][]model.AnchorTx
	bracket model.Bracket
	match   *model.AnchorTx
	insertErr error
}

func (f *fakeAnchorStore) InsertAnchorTxBatch(ctx context.Context, anchors []model.AnchorTx) (store.BatchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return store.BatchResult{}, f.insertErr
	}
	f.batches = append(f.batches, anchors)
	return store.BatchResult{Inserted: len(anchors)}, nil
}

func (f *fakeAnchorStore) FindBracketingAnchors(ctx context.Context, targetTime int64) (model.Bracket, error) {
	return f.bracket, nil
}

func (f *fakeAnchorStore) FindMatchingAnchor(ctx context.Context, from, recipient, amountSmallest string, minTime, maxTime int64) (*model.AnchorTx, error) {
	return f.match, nil
}

func (f *fakeAnchorStore) batchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

func TestIndex_PersistAsync(t *testing.T) {
	fake := &fakeAnchorStore{}
	idx := New(fake, nil)

	idx.PersistAsync(context.Background(), []model.AnchorTx{{InternalHash: "0xabc"}})

	require.Eventually(t, func() bool { return fake.batchCount() == 1 }, time.Second, time.Millisecond)
}

func TestIndex_PersistAsync_EmptyIsNoop(t *testing.T) {
	fake := &fakeAnchorStore{}
	idx := New(fake, nil)

	idx.PersistAsync(context.Background(), nil)

	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 0, fake.batchCount())
}

func TestIndex_FindMatchingAnchor_Delegates(t *testing.T) {
	want := &model.AnchorTx{InternalHash: "0xdef"}
	fake := &fakeAnchorStore{match: want}
	idx := New(fake, nil)

	got, err := idx.FindMatchingAnchor(context.Background(), "from", "to", "100", 0, 1000)
	require.NoError(t, err)
	assert.Same(t, want, got)
}
