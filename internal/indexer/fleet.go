// Package indexer implements the per-address indexer fleet: a
// controller goroutine reconciles running workers against the durable
// watched-address set, starting one worker per newly-active address
// and stopping workers for removed or deactivated ones.
package indexer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/d4mr/coredrain/internal/backoff"
	"github.com/d4mr/coredrain/internal/metrics"
	"github.com/d4mr/coredrain/internal/store"
)

const reconcileInterval = 30 * time.Second

type runningWorker struct {
	cancel context.CancelFunc
}

// Fleet owns the lifecycle of all per-address indexer workers.
type Fleet struct {
	watched   store.WatchedAddressStore
	transfers store.TransferStore
	ledger    LedgerClient
	backoffC  *backoff.Coordinator
	logger    *slog.Logger

	mu      sync.Mutex
	running map[string]runningWorker
	wg      sync.WaitGroup
}

func NewFleet(watched store.WatchedAddressStore, transfers store.TransferStore, ledger LedgerClient, backoffC *backoff.Coordinator, logger *slog.Logger) *Fleet {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fleet{
		watched:   watched,
		transfers: transfers,
		ledger:    ledger,
		backoffC:  backoffC,
		logger:    logger.With("component", "indexer_fleet"),
		running:   make(map[string]runningWorker),
	}
}

// Run reconciles the worker set every reconcileInterval until ctx is
// cancelled, then stops every running worker before returning.
func (f *Fleet) Run(ctx context.Context) error {
	f.reconcile(ctx)

	ticker := time.NewTicker(reconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			f.stopAll()
			f.wg.Wait()
			return nil
		case <-ticker.C:
			f.reconcile(ctx)
		}
	}
}

func (f *Fleet) reconcile(ctx context.Context) {
	active, err := f.watched.GetActive(ctx)
	if err != nil {
		f.logger.Warn("get active watched addresses failed", "error", err)
		return
	}

	desired := make(map[string]int64, len(active))
	for _, wa := range active {
		desired[wa.Address] = wa.LastIndexedTime
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	for addr, lastIndexedTime := range desired {
		if _, ok := f.running[addr]; ok {
			continue
		}
		f.start(ctx, addr, lastIndexedTime)
	}

	for addr, rw := range f.running {
		if _, ok := desired[addr]; ok {
			continue
		}
		rw.cancel()
		delete(f.running, addr)
	}

	metrics.IndexerActiveWorkers.Set(float64(len(f.running)))
}

func (f *Fleet) start(ctx context.Context, address string, lastIndexedTime int64) {
	workerCtx, cancel := context.WithCancel(ctx)
	f.running[address] = runningWorker{cancel: cancel}

	w := newWorker(address, lastIndexedTime, f.ledger, f.transfers, f.watched, f.backoffC, f.logger)
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		w.run(workerCtx)
	}()
}

func (f *Fleet) stopAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for addr, rw := range f.running {
		rw.cancel()
		delete(f.running, addr)
	}
}
