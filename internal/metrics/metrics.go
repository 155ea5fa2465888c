// Package metrics registers the process's prometheus collectors,
// grouped by the pipeline component each one instruments.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Indexer fleet (component G)
	IndexerLedgerFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "coredrain",
		Subsystem: "indexer",
		Name:      "ledger_fetches_total",
		Help:      "Total CORE ledger fetch calls",
	}, []string{"address"})

	IndexerFetchErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "coredrain",
		Subsystem: "indexer",
		Name:      "fetch_errors_total",
		Help:      "Total CORE ledger fetch errors: rate-limited responses plus failures after retry exhaustion",
	}, []string{"address"})

	IndexerTransfersInserted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "coredrain",
		Subsystem: "indexer",
		Name:      "transfers_inserted_total",
		Help:      "Total transfers inserted (source of truth for indexer progress)",
	}, []string{"address"})

	IndexerActiveWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "coredrain",
		Subsystem: "indexer",
		Name:      "active_workers",
		Help:      "Number of currently running per-address indexer workers",
	})

	// Block fetchers (component C)
	FetchAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "coredrain",
		Subsystem: "fetch",
		Name:      "attempts_total",
		Help:      "Total block-fetch attempts by fetcher variant",
	}, []string{"variant"})

	FetchErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "coredrain",
		Subsystem: "fetch",
		Name:      "errors_total",
		Help:      "Total block-fetch failures after retry exhaustion",
	}, []string{"variant"})

	FetchLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "coredrain",
		Subsystem: "fetch",
		Name:      "duration_seconds",
		Help:      "Block-fetch call duration",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"variant"})

	// Finder (component E)
	FinderRounds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "coredrain",
		Subsystem: "finder",
		Name:      "rounds",
		Help:      "Number of search rounds per Find call",
		Buckets:   []float64{0, 1, 2, 4, 8, 12, 16, 20},
	})

	FinderBlocksSearched = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "coredrain",
		Subsystem: "finder",
		Name:      "blocks_searched",
		Help:      "Number of blocks fetched per Find call",
		Buckets:   []float64{0, 5, 10, 25, 50, 100},
	})

	FinderCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "coredrain",
		Subsystem: "finder",
		Name:      "cache_hits_total",
		Help:      "Total Find calls resolved by the anchor cache probe alone",
	})

	FinderNotFound = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "coredrain",
		Subsystem: "finder",
		Name:      "not_found_total",
		Help:      "Total Find calls that exhausted search without a match",
	})

	// Matcher pool (component F)
	MatcherPendingCount = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "coredrain",
		Subsystem: "matcher",
		Name:      "pending_transfers",
		Help:      "Number of PENDING transfers as last observed by the producer loop",
	})

	MatcherQueueSize = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "coredrain",
		Subsystem: "matcher",
		Name:      "queue_size",
		Help:      "Current size of the bounded work queue",
	})

	MatcherStrategy = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "coredrain",
		Subsystem: "matcher",
		Name:      "active_strategy",
		Help:      "1 if this fetcher variant is currently selected, else 0",
	}, []string{"variant"})

	MatcherMatched = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "coredrain",
		Subsystem: "matcher",
		Name:      "matched_total",
		Help:      "Total transfers resolved to MATCHED",
	})

	MatcherFailed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "coredrain",
		Subsystem: "matcher",
		Name:      "failed_total",
		Help:      "Total transfers resolved to FAILED",
	})

	MatcherTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "coredrain",
		Subsystem: "matcher",
		Name:      "timeouts_total",
		Help:      "Total per-transfer Find calls that exceeded their timeout",
	})

	MatcherDedupSetSize = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "coredrain",
		Subsystem: "matcher",
		Name:      "dedup_set_size",
		Help:      "Current size of the process-local dedup set",
	})

	// Database pool
	DBPoolOpenConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "coredrain",
		Subsystem: "db",
		Name:      "pool_open_connections",
		Help:      "Open connections in the database pool",
	})

	DBPoolInUse = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "coredrain",
		Subsystem: "db",
		Name:      "pool_in_use",
		Help:      "Connections currently in use in the database pool",
	})

	DBPoolWaitCount = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "coredrain",
		Subsystem: "db",
		Name:      "pool_wait_count_total",
		Help:      "Total number of connections waited for",
	})

	// Backoff coordinator (component H)
	BackoffDeadlineMS = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "coredrain",
		Subsystem: "backoff",
		Name:      "deadline_ms",
		Help:      "Current shared backoff deadline, as a millisecond epoch",
	})

	BackoffTriggers = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "coredrain",
		Subsystem: "backoff",
		Name:      "triggers_total",
		Help:      "Total times the shared backoff deadline was pushed forward",
	})
)
