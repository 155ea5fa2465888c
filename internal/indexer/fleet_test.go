package indexer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d4mr/coredrain/internal/backoff"
	"github.com/d4mr/coredrain/internal/domain/model"
)

type fakeReconcileWatchedAddressStore struct {
	mu     sync.Mutex
	active []model.WatchedAddress
}

func (f *fakeReconcileWatchedAddressStore) GetActive(ctx context.Context) ([]model.WatchedAddress, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.WatchedAddress(nil), f.active...), nil
}
func (f *fakeReconcileWatchedAddressStore) UpdateCursor(ctx context.Context, address string, cursor int64) error {
	return nil
}
func (f *fakeReconcileWatchedAddressStore) setActive(addrs ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active = nil
	for _, a := range addrs {
		f.active = append(f.active, model.WatchedAddress{Address: a, IsActive: true})
	}
}

func TestFleet_ReconcileStartsAndStopsWorkers(t *testing.T) {
	watched := &fakeReconcileWatchedAddressStore{}
	watched.setActive("0xone", "0xtwo")

	fleet := NewFleet(watched, &fakeTransferStore{}, &fakeLedgerClient{}, backoff.New(), nil)

	fleet.reconcile(context.Background())
	fleet.mu.Lock()
	assert.Len(t, fleet.running, 2)
	fleet.mu.Unlock()

	watched.setActive("0xone")
	fleet.reconcile(context.Background())
	fleet.mu.Lock()
	assert.Len(t, fleet.running, 1)
	_, stillRunning := fleet.running["0xone"]
	fleet.mu.Unlock()
	assert.True(t, stillRunning)

	fleet.stopAll()
	require.Eventually(t, func() bool {
		fleet.mu.Lock()
		defer fleet.mu.Unlock()
		return len(fleet.running) == 0
	}, time.Second, time.Millisecond)
}
