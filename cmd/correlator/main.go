package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/d4mr/coredrain/internal/anchorindex"
	"github.com/d4mr/coredrain/internal/assetcache"
	"github.com/d4mr/coredrain/internal/backoff"
	"github.com/d4mr/coredrain/internal/chain"
	"github.com/d4mr/coredrain/internal/chain/objectstore"
	"github.com/d4mr/coredrain/internal/chain/rpcfetch"
	"github.com/d4mr/coredrain/internal/config"
	"github.com/d4mr/coredrain/internal/finder"
	"github.com/d4mr/coredrain/internal/indexer"
	"github.com/d4mr/coredrain/internal/matcher"
	"github.com/d4mr/coredrain/internal/metrics"
	"github.com/d4mr/coredrain/internal/store/postgres"
	"github.com/d4mr/coredrain/internal/tracing"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logLevel := slog.LevelInfo
	switch cfg.Log.Level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	logger.Info("starting coredrain",
		"evm_rpc", cfg.EVM.RPCURL,
		"core_ledger", cfg.Core.LedgerURL,
		"watched_addresses", len(cfg.Indexer.WatchedAddresses),
	)

	tracing.Init()

	db, err := postgres.New(postgres.Config{
		URL:                cfg.DB.URL,
		MaxOpenConns:       cfg.DB.MaxOpenConns,
		MaxIdleConns:       cfg.DB.MaxIdleConns,
		ConnMaxLifetime:    cfg.DB.ConnMaxLifetime,
		ConnMaxIdleTime:    cfg.DB.ConnMaxIdleTime,
		StatementTimeoutMS: cfg.DB.StatementTimeoutMS,
	})
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to database")

	if err := db.EnsureSchema(context.Background(), cfg.DB.MigrationsDir); err != nil {
		logger.Error("schema verification failed", "error", err)
		_ = db.Close()
		os.Exit(1)
	}

	transferRepo := postgres.NewTransferRepo(db)
	anchorRepo := postgres.NewAnchorRepo(db)
	watchedRepo := postgres.NewWatchedAddressRepo(db)

	backoffC := backoff.New()

	assetClient := assetcache.NewHTTPMetadataClient(cfg.AssetCache.MetadataURL, cfg.AssetCache.Timeout)
	assets := assetcache.New(assetClient, logger)
	if err := assets.Populate(context.Background()); err != nil {
		logger.Warn("initial asset cache population failed; will retry lazily", "error", err)
	}

	anchors := anchorindex.New(anchorRepo, logger)
	f := finder.New(anchors, assets)

	rpcFetcher := rpcfetch.New(rpcfetch.Config{
		RPCURL:              cfg.EVM.RPCURL,
		ChainID:             cfg.EVM.ChainID,
		NativeSystemAddress: cfg.EVM.NativeSystemAddress,
		Timeout:             cfg.EVM.Timeout,
	}, backoffC, logger)

	var objectFetcher chain.BlockFetcher
	if cfg.ObjectStore.Endpoint != "" {
		of, err := objectstore.New(objectstore.Config{
			Endpoint:            cfg.ObjectStore.Endpoint,
			Bucket:              cfg.ObjectStore.Bucket,
			AccessKey:           cfg.ObjectStore.AccessKey,
			SecretKey:           cfg.ObjectStore.SecretKey,
			UseSSL:              cfg.ObjectStore.UseSSL,
			ChainID:             cfg.EVM.ChainID,
			NativeSystemAddress: cfg.EVM.NativeSystemAddress,
		}, backoffC, logger)
		if err != nil {
			logger.Error("failed to build object-store fetcher", "error", err)
			_ = db.Close()
			os.Exit(1)
		}
		objectFetcher = of
	} else {
		logger.Info("object-store fetcher disabled: no endpoint configured")
	}

	pool := matcher.New(transferRepo, f, rpcFetcher, objectFetcher, logger)

	ledgerClient := indexer.NewHTTPLedgerClient(cfg.Core.LedgerURL, cfg.Core.Timeout)
	fleet := indexer.NewFleet(watchedRepo, transferRepo, ledgerClient, backoffC, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error { return runHealthServer(gCtx, cfg.Server.HealthPort, logger) })
	g.Go(func() error { return fleet.Run(gCtx) })
	g.Go(func() error { return pool.Run(gCtx) })

	startBackoffMetricsPump(gCtx, backoffC)
	startDBPoolStatsPump(gCtx, db.DB)

	g.Go(func() error {
		select {
		case sig := <-sigCh:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
			return nil
		case <-gCtx.Done():
			return nil
		}
	})

	waitErr := g.Wait()

	// Storage handle is closed only after every worker group has
	// returned, so no in-flight query outlives the connection pool.
	if err := db.Close(); err != nil {
		logger.Warn("db close error", "error", err)
	}

	if waitErr != nil && waitErr != context.Canceled {
		logger.Error("coredrain exited with error", "error", waitErr)
		os.Exit(1)
	}
	logger.Info("coredrain shut down gracefully")
}

func runHealthServer(ctx context.Context, port int, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("ok")); err != nil {
			logger.Warn("failed to write health response", "error", err)
		}
	})
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && err != http.ErrServerClosed {
			logger.Warn("health server shutdown error", "error", err)
		}
	}()

	logger.Info("health server started", "port", port)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("health server: %w", err)
	}
	return nil
}

func startBackoffMetricsPump(ctx context.Context, backoffC *backoff.Coordinator) {
	ticker := time.NewTicker(5 * time.Second)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				metrics.BackoffDeadlineMS.Set(float64(backoffC.Deadline()))
			}
		}
	}()
}

// dbStatsProvider is satisfied by *sql.DB; narrowed to ease testing.
type dbStatsProvider interface {
	Stats() sql.DBStats
}

// collectDBPoolStats samples the pool's stats into the shared gauges.
// lastWaitCount is re-derived as a delta since WaitCount is cumulative
// but DBPoolWaitCount is a monotonic counter, not a settable gauge.
func collectDBPoolStats(provider dbStatsProvider, lastWaitCount int64) int64 {
	stats := provider.Stats()
	metrics.DBPoolOpenConnections.Set(float64(stats.OpenConnections))
	metrics.DBPoolInUse.Set(float64(stats.InUse))
	if delta := stats.WaitCount - lastWaitCount; delta > 0 {
		metrics.DBPoolWaitCount.Add(float64(delta))
	}
	return stats.WaitCount
}

// startDBPoolStatsPump periodically samples sql.DB.Stats() into gauges.
func startDBPoolStatsPump(ctx context.Context, db dbStatsProvider) {
	ticker := time.NewTicker(10 * time.Second)
	var lastWaitCount int64

	go func() {
		defer ticker.Stop()
		lastWaitCount = collectDBPoolStats(db, lastWaitCount)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				lastWaitCount = collectDBPoolStats(db, lastWaitCount)
			}
		}
	}()
}
