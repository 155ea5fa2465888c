// Package matcher implements the streaming worker pool: a bounded
// queue, a single producer that refills it from PENDING transfers and
// picks a fetch strategy, and N consumers that invoke the finder and
// persist the outcome.
package matcher

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otelTrace "go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/d4mr/coredrain/internal/chain"
	"github.com/d4mr/coredrain/internal/domain/model"
	"github.com/d4mr/coredrain/internal/finder"
	"github.com/d4mr/coredrain/internal/metrics"
	"github.com/d4mr/coredrain/internal/store"
	"github.com/d4mr/coredrain/internal/tracing"
)

const (
	queueCapacity      = 2048 // Q
	lowWatermark       = 100
	refillInterval     = time.Second
	batchSize          = 256 // EVM_MATCHER_BATCH_SIZE
	backfillThreshold  = 10
	consumerCount      = 256 // EVM_MATCHER_CONCURRENCY
	perTransferTimeout = 60 * time.Second
)

// Pool is the matcher pool: producer + bounded queue + N consumers.
type Pool struct {
	transfers store.TransferStore
	finder    *finder.Finder

	rpcFetcher    chain.BlockFetcher
	objectFetcher chain.BlockFetcher
	activeFetcher atomic.Pointer[chain.BlockFetcher]

	queue chan model.Transfer
	dedup *dedupSet

	logger *slog.Logger
}

// New builds a Pool. objectFetcher may be nil if the deployment has no
// object-store credentials configured, in which case the pool always
// runs the RPC variant regardless of pending backlog.
func New(transfers store.TransferStore, f *finder.Finder, rpcFetcher, objectFetcher chain.BlockFetcher, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{
		transfers:     transfers,
		finder:        f,
		rpcFetcher:    rpcFetcher,
		objectFetcher: objectFetcher,
		queue:         make(chan model.Transfer, queueCapacity),
		dedup:         newDedupSet(),
		logger:        logger.With("component", "matcher"),
	}
	p.activeFetcher.Store(&p.rpcFetcher)
	return p
}

// Run starts the producer and consumers under one cancellation scope;
// any consumer error (other than context cancellation) fails the whole
// group and stops the pool.
func (p *Pool) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		p.produce(gCtx)
		return nil
	})

	for i := 0; i < consumerCount; i++ {
		workerID := i
		g.Go(func() error {
			return p.consume(gCtx, workerID)
		})
	}

	return g.Wait()
}

func (p *Pool) produce(ctx context.Context) {
	ticker := time.NewTicker(refillInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.refill(ctx)
		}
	}
}

func (p *Pool) refill(ctx context.Context) {
	if len(p.queue) >= lowWatermark {
		return
	}

	pending, err := p.transfers.GetPendingCount(ctx)
	if err != nil {
		p.logger.Warn("get pending count failed", "error", err)
		return
	}
	metrics.MatcherPendingCount.Set(float64(pending))
	p.selectStrategy(pending)

	room := queueCapacity - len(p.queue)
	limit := min(room, batchSize)
	if limit <= 0 {
		return
	}

	pendingTransfers, err := p.transfers.GetPendingTransfers(ctx, limit)
	if err != nil {
		p.logger.Warn("get pending transfers failed", "error", err)
		return
	}

	for _, t := range pendingTransfers {
		if !p.dedup.Add(t.CoreHash) {
			continue
		}
		select {
		case p.queue <- t:
		case <-ctx.Done():
			return
		}
	}
	metrics.MatcherQueueSize.Set(float64(len(p.queue)))
	metrics.MatcherDedupSetSize.Set(float64(p.dedup.Len()))
}

// selectStrategy switches the active fetcher based on the current
// backlog. Object-store fetching costs money but scales with
// concurrency, so it is only worth it once the backlog is deep enough
// to amortize that cost.
func (p *Pool) selectStrategy(pending int) {
	useObjectStore := pending > backfillThreshold && p.objectFetcher != nil

	if useObjectStore {
		p.activeFetcher.Store(&p.objectFetcher)
		metrics.MatcherStrategy.WithLabelValues("objectstore").Set(1)
		metrics.MatcherStrategy.WithLabelValues("rpc").Set(0)
	} else {
		p.activeFetcher.Store(&p.rpcFetcher)
		metrics.MatcherStrategy.WithLabelValues("rpc").Set(1)
		metrics.MatcherStrategy.WithLabelValues("objectstore").Set(0)
	}
}

func (p *Pool) consume(ctx context.Context, workerID int) error {
	log := p.logger.With("worker", workerID)
	for {
		select {
		case <-ctx.Done():
			return nil
		case transfer, ok := <-p.queue:
			if !ok {
				return nil
			}
			p.process(ctx, log, transfer)
		}
	}
}

func (p *Pool) process(ctx context.Context, log *slog.Logger, transfer model.Transfer) {
	ctx, span := tracing.Tracer("matcher").Start(ctx, "matcher.process",
		otelTrace.WithAttributes(
			attribute.String("core_hash", transfer.CoreHash),
			attribute.String("system_address", transfer.SystemAddress),
		),
	)
	defer span.End()

	fetcher := *p.activeFetcher.Load()

	callCtx, cancel := context.WithTimeout(ctx, perTransferTimeout)
	defer cancel()

	result, err := p.finder.Find(callCtx, transfer, fetcher)
	switch {
	case err == nil:
		p.onMatched(ctx, log, transfer, result)
	case finder.IsNotFound(err):
		p.onNotFound(ctx, log, transfer)
	case errors.Is(err, context.DeadlineExceeded):
		metrics.MatcherTimeouts.Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "find timed out")
		log.Warn("find timed out; leaving pending", "coreHash", transfer.CoreHash)
		p.dedup.Remove(transfer.CoreHash)
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Warn("find failed; leaving pending", "coreHash", transfer.CoreHash, "error", err)
		p.dedup.Remove(transfer.CoreHash)
	}
}

func (p *Pool) onMatched(ctx context.Context, log *slog.Logger, transfer model.Transfer, result finder.Result) {
	fields := store.EVMFields{
		InternalHash:    result.Anchor.InternalHash,
		ExplorerHash:    result.Anchor.ExplorerHash,
		BlockNumber:     result.Anchor.BlockNumber,
		BlockHash:       result.Anchor.BlockHash,
		BlockTime:       result.Anchor.BlockTimestamp,
		ContractAddress: result.Anchor.ContractAddress,
	}
	if err := p.transfers.MarkMatched(ctx, transfer.CoreHash, fields); err != nil {
		log.Warn("mark matched failed; leaving pending", "coreHash", transfer.CoreHash, "error", err)
		p.dedup.Remove(transfer.CoreHash)
		return
	}
	metrics.MatcherMatched.Inc()
	metrics.FinderRounds.Observe(float64(result.Rounds))
	metrics.FinderBlocksSearched.Observe(float64(result.BlocksSearched))
	if result.Rounds == 0 {
		metrics.FinderCacheHits.Inc()
	}
}

func (p *Pool) onNotFound(ctx context.Context, log *slog.Logger, transfer model.Transfer) {
	metrics.FinderNotFound.Inc()
	if err := p.transfers.MarkFailed(ctx, transfer.CoreHash, "not found after searching blocks"); err != nil {
		log.Warn("mark failed failed; leaving pending", "coreHash", transfer.CoreHash, "error", err)
		p.dedup.Remove(transfer.CoreHash)
		return
	}
	metrics.MatcherFailed.Inc()
}
