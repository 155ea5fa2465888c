package indexer

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"time"

	"github.com/d4mr/coredrain/internal/backoff"
	"github.com/d4mr/coredrain/internal/domain/model"
	"github.com/d4mr/coredrain/internal/metrics"
	"github.com/d4mr/coredrain/internal/store"
)

const (
	pollInterval    = 30 * time.Second
	fetchTimeout    = 30 * time.Second
	maxRetries      = 5
	retryInitial    = time.Second
	retryMultiplier = 2
)

// worker is one per-address indexer: it polls the CORE ledger from a
// local cursor, filters to bridge-bound spot transfers, and inserts
// them idempotently.
type worker struct {
	address    string
	cursor     int64
	ledger     LedgerClient
	transfers  store.TransferStore
	watched    store.WatchedAddressStore
	backoffC   *backoff.Coordinator
	logger     *slog.Logger
}

func newWorker(address string, lastIndexedTime int64, ledger LedgerClient, transfers store.TransferStore, watched store.WatchedAddressStore, backoffC *backoff.Coordinator, logger *slog.Logger) *worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &worker{
		address:   address,
		cursor:    lastIndexedTime,
		ledger:    ledger,
		transfers: transfers,
		watched:   watched,
		backoffC:  backoffC,
		logger:    logger.With("component", "indexer_worker", "address", address),
	}
}

// run polls until ctx is cancelled.
func (w *worker) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		inserted, err := w.tick(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Warn("indexer tick failed", "error", err)
			if !w.sleep(ctx, jitteredBackoff(1)) {
				return
			}
			continue
		}

		if inserted > 0 {
			continue // still backfilling
		}
		if !w.sleep(ctx, pollInterval) {
			return
		}
	}
}

// tick performs one fetch-filter-insert-advance cycle with retry on
// non-rate-limit failures.
func (w *worker) tick(ctx context.Context) (int, error) {
	if err := w.backoffC.Wait(ctx); err != nil {
		return 0, err
	}

	var updates []LedgerUpdate
	var err error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		updates, err = w.fetchUpdatesRateLimitAware(ctx)
		if err == nil {
			break
		}

		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		if attempt == maxRetries {
			metrics.IndexerFetchErrors.WithLabelValues(w.address).Inc()
			return 0, err
		}
		if !w.sleep(ctx, jitteredBackoff(attempt)) {
			return 0, ctx.Err()
		}
	}
	if err != nil {
		return 0, err
	}
	metrics.IndexerLedgerFetches.WithLabelValues(w.address).Inc()

	transfers, maxTime := w.filterSpotTransfers(updates)
	if len(transfers) == 0 {
		if maxTime > w.cursor {
			w.cursor = maxTime
			_ = w.watched.UpdateCursor(ctx, w.address, w.cursor)
		}
		return 0, nil
	}

	result, err := w.transfers.InsertTransferBatch(ctx, transfers)
	if err != nil {
		return 0, err
	}

	if maxTime > w.cursor {
		w.cursor = maxTime
		if err := w.watched.UpdateCursor(ctx, w.address, w.cursor); err != nil {
			w.logger.Warn("update cursor failed", "error", err)
		}
	}
	metrics.IndexerTransfersInserted.WithLabelValues(w.address).Add(float64(result.Inserted))

	return result.Inserted, nil
}

// fetchUpdatesRateLimitAware retries a single fetch across as many
// RateLimitedError responses as the shared backoff coordinator gates
// it through. Rate-limit retries never count against tick's bounded
// non-rate-limit attempt loop — only a non-rate-limit error or success
// returns from here.
func (w *worker) fetchUpdatesRateLimitAware(ctx context.Context) ([]LedgerUpdate, error) {
	for {
		fetchCtx, cancel := context.WithTimeout(ctx, fetchTimeout)
		updates, err := w.ledger.FetchUpdates(fetchCtx, w.address, w.cursor)
		cancel()
		if err == nil {
			return updates, nil
		}

		var rateLimited *RateLimitedError
		if !errors.As(err, &rateLimited) {
			return nil, err
		}

		w.backoffC.Trigger(time.Duration(float64(rateLimited.RetryAfter) * 1.1))
		metrics.IndexerFetchErrors.WithLabelValues(w.address).Inc()
		if waitErr := w.backoffC.Wait(ctx); waitErr != nil {
			return nil, waitErr
		}
	}
}

// filterSpotTransfers keeps only spot-transfer deltas bound for a
// bridge system address, and reports the maximum update time observed
// across all updates (not just the kept ones), since the cursor must
// advance past updates this worker is entitled to skip.
func (w *worker) filterSpotTransfers(updates []LedgerUpdate) ([]model.Transfer, int64) {
	var transfers []model.Transfer
	var maxTime int64

	for _, u := range updates {
		if u.Time > maxTime {
			maxTime = u.Time
		}
		if u.Delta.Kind != "spotTransfer" {
			continue
		}
		if !isSystemAddress(u.Delta.Destination) {
			continue
		}

		transfers = append(transfers, model.Transfer{
			CoreHash:       u.Hash,
			CoreTime:       u.Time,
			Token:          u.Delta.Token,
			Amount:         u.Delta.Amount,
			Recipient:      u.Delta.User,
			SystemAddress:  u.Delta.Destination,
			WatchedSender:  w.address,
			USDValue:       u.Delta.USDCValue,
			Fee:            u.Delta.Fee,
			NativeTokenFee: u.Delta.NativeTokenFee,
			Status:         model.TransferPending,
		})
	}
	return transfers, maxTime
}

func isSystemAddress(destination string) bool {
	if destination == model.NativeSystemAddress {
		return true
	}
	return len(destination) == len(model.ContractSystemAddressPrefix)+3 &&
		len(destination) >= len(model.ContractSystemAddressPrefix) &&
		destination[:len(model.ContractSystemAddressPrefix)] == model.ContractSystemAddressPrefix
}

func (w *worker) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func jitteredBackoff(attempt int) time.Duration {
	delay := retryInitial
	for i := 1; i < attempt; i++ {
		delay *= retryMultiplier
	}
	jitter := time.Duration(rand.Int63n(int64(delay)))
	return delay + jitter
}
