package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	genesiscfg "usdengine/config"
	"usdengine/core/events"
	"usdengine/core/genesis"
	"usdengine/gateway/middleware"
	"usdengine/gateway/routes"
	"usdengine/native/oracle"
	"usdengine/observability"
	"usdengine/services/cdpd/config"
	"usdengine/services/cdpd/journal"
	"usdengine/services/cdpd/recon"
	"usdengine/storage"
)

// app owns every long-lived component of the daemon.
type app struct {
	cfg       config.Config
	logger    *slog.Logger
	runtime   *genesis.Runtime
	bus       *events.Bus
	journal   *journal.Journal
	poller    *oracle.Poller
	reconcile *recon.Reconciler
	scheduler *recon.Scheduler
	handler   http.Handler

	closers []func() error
}

func newApp(cfg config.Config, spec *genesiscfg.Genesis, logger *slog.Logger) (_ *app, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	db, err := openStorage(cfg.Storage)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() error { db.Close(); return nil })

	if cfg.Journal.Driver == "sqlite" && !strings.HasPrefix(cfg.Journal.DSN, "file:") && cfg.Journal.DSN != ":memory:" {
		if err := ensureDir(cfg.Journal.DSN); err != nil {
			return nil, err
		}
	}
	journalDB, err := journal.Open(cfg.Journal.Driver, cfg.Journal.DSN)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	if sqlDB, err := journalDB.DB(); err == nil {
		a.closers = append(a.closers, sqlDB.Close)
	}
	if a.journal, err = journal.New(journalDB, logger); err != nil {
		return nil, err
	}

	a.bus = events.NewBus(256)
	if a.runtime, err = genesis.Build(spec, db, events.Multi{a.bus, a.journal}, logger); err != nil {
		return nil, fmt.Errorf("bootstrap genesis: %w", err)
	}
	a.runtime.Engine.SetMetrics(observability.Engine())

	if err := a.setupOracle(); err != nil {
		return nil, err
	}

	if a.reconcile, err = recon.NewReconciler(recon.Config{
		Engine:    a.runtime.Engine,
		Activity:  a.journal,
		OutputDir: cfg.Recon.OutputDir,
		Window:    cfg.Recon.Window,
		Logger:    logger,
	}); err != nil {
		return nil, err
	}
	if cfg.Recon.Enabled {
		a.scheduler = recon.NewScheduler(recon.SchedulerConfig{
			Reconciler: a.reconcile,
			RunHour:    cfg.Recon.RunHour,
			RunMinute:  cfg.Recon.RunMinute,
			Logger:     logger,
		})
	}

	var idem *middleware.IdempotencyStore
	if path := cfg.Idempotency.Path; path != "" {
		if err := ensureDir(path); err != nil {
			return nil, err
		}
		if idem, err = middleware.OpenIdempotencyStore(path, cfg.Idempotency.TTL, logger); err != nil {
			return nil, fmt.Errorf("open idempotency store: %w", err)
		}
		a.closers = append(a.closers, idem.Close)
	}

	limits := map[string]middleware.RateLimit{}
	if cfg.RateLimit.RequestsPerMinute > 0 {
		limits["cdp"] = middleware.RateLimit{RequestsPerMinute: cfg.RateLimit.RequestsPerMinute, Burst: cfg.RateLimit.Burst}
	}
	a.handler, err = routes.New(routes.Config{
		Engine:  a.runtime.Engine,
		Ledger:  a.runtime.Ledger,
		Feeds:   a.runtime.Feeds,
		Bus:     a.bus,
		Journal: a.journal,
		Recon:   a.reconcile,
		Authenticator: middleware.NewAuthenticator(middleware.AuthConfig{
			Enabled:    cfg.Auth.Enabled,
			HMACSecret: cfg.Auth.HMACSecret,
			Issuer:     cfg.Auth.Issuer,
			Audience:   cfg.Auth.Audience,
			ScopeClaim: cfg.Auth.ScopeClaim,
			ClockSkew:  cfg.Auth.ClockSkew,
		}, logger),
		RateLimiter: middleware.NewRateLimiter(limits, logger),
		Observability: middleware.NewObservability(middleware.ObservabilityConfig{
			ServiceName:   cfg.Observability.ServiceName,
			MetricsPrefix: cfg.Observability.MetricsPrefix,
			LogRequests:   cfg.Observability.LogRequests,
			Gatherer:      prometheus.DefaultGatherer,
		}, logger),
		Idempotency: idem,
		CORS: middleware.CORSConfig{
			AllowedOrigins:   cfg.CORS.AllowedOrigins,
			AllowCredentials: cfg.CORS.AllowCredentials,
		},
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (a *app) setupOracle() error {
	if len(a.runtime.Bindings) == 0 {
		return nil
	}
	client := &http.Client{Timeout: a.cfg.Oracle.Timeout, Transport: otelhttp.NewTransport(http.DefaultTransport)}
	source := oracle.NewCoinGeckoSource(client, a.cfg.Oracle.Endpoint, a.cfg.Oracle.Decimals, oracle.BreakerSettings{}, a.logger)
	a.poller = oracle.NewPoller(source, a.cfg.Oracle.PollInterval, a.logger)
	for _, b := range a.runtime.Bindings {
		a.poller.Bind(b.FeedID, b.AssetID, b.Feed)
	}
	a.poller.SetObserver(observability.Oracle().RecordRefresh)
	if dsn := a.cfg.Oracle.HistoryDSN; dsn != "" {
		history, err := oracle.OpenHistory(dsn)
		if err != nil {
			return fmt.Errorf("open price history: %w", err)
		}
		a.poller.SetHistory(history)
		a.closers = append(a.closers, history.Close)
	}
	return nil
}

// run starts the background workers and blocks until ctx is cancelled.
func (a *app) run(ctx context.Context) {
	var wg sync.WaitGroup
	if a.poller != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = a.poller.Run(ctx)
		}()
	}
	if a.scheduler != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.scheduler.Start(ctx)
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.monitor(ctx, a.cfg.Oracle.PollInterval)
	}()
	wg.Wait()
}

// monitor publishes supply and price gauges every interval.
func (a *app) monitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		a.sample()
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (a *app) sample() {
	report, err := a.runtime.Engine.Supply()
	if err != nil {
		a.logger.Warn("supply sample failed", slog.Any("error", err))
	} else {
		observability.Engine().RecordSupply(report.TotalSupply, report.TotalDebt)
		if !report.Balanced() {
			a.logger.Error("stablecoin supply diverged from recorded debt",
				slog.String("supply", report.TotalSupply.String()),
				slog.String("debt", report.TotalDebt.String()))
		}
	}
	for _, id := range a.runtime.Feeds.IDs() {
		feed, ok := a.runtime.Feeds.Feed(id)
		if !ok {
			continue
		}
		if price, decimals, err := feed.GetPrice(); err == nil {
			observability.Oracle().RecordPrice(id, price, decimals)
		}
	}
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func openStorage(cfg config.StorageConfig) (storage.Database, error) {
	if cfg.Path == "" {
		return storage.NewMemDB(), nil
	}
	if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	db, err := storage.NewLevelDB(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open leveldb: %w", err)
	}
	return db, nil
}

func ensureDir(path string) error {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}
