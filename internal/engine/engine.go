// Package engine drives the feeds of an archive target: it owns the
// transports and store for the target's lifetime and pulls every feed
// page by page into the store.
package engine

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/IshaanNene/pagearchive/internal/config"
	"github.com/IshaanNene/pagearchive/internal/fetcher"
	"github.com/IshaanNene/pagearchive/internal/media"
	"github.com/IshaanNene/pagearchive/internal/observability"
	"github.com/IshaanNene/pagearchive/internal/pipeline"
	"github.com/IshaanNene/pagearchive/internal/storage"
	"github.com/IshaanNene/pagearchive/internal/transport"
)

// StoreOpener opens the store of a target.
type StoreOpener func(ctx context.Context, target Target) (storage.Storage, error)

// Option configures an Engine.
type Option func(*Engine)

// WithDialer replaces how transports are created.
func WithDialer(dial transport.Dialer) Option {
	return func(e *Engine) { e.dial = dial }
}

// WithStoreOpener replaces how a target's store is opened.
func WithStoreOpener(open StoreOpener) Option {
	return func(e *Engine) { e.open = open }
}

// WithMetrics records fetch, page and asset metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithSleep replaces the clock of the fetcher and the driver.
func WithSleep(sleep fetcher.SleepFunc) Option {
	return func(e *Engine) { e.sleep = sleep }
}

// WithEngineObserver adds an observer to every feed.
func WithEngineObserver(o Observer) Option {
	return func(e *Engine) { e.observers = append(e.observers, o) }
}

// WithRecordMiddleware adds record middleware to every feed.
func WithRecordMiddleware(mw ...pipeline.Middleware) Option {
	return func(e *Engine) { e.middleware = append(e.middleware, mw...) }
}

// Engine runs targets. It holds no per-target state.
type Engine struct {
	cfg        *config.Config
	fetcher    *fetcher.Fetcher
	dial       transport.Dialer
	open       StoreOpener
	metrics    *observability.Metrics
	sleep      fetcher.SleepFunc
	observers  []Observer
	middleware []pipeline.Middleware
	logger     *slog.Logger
}

// New creates an Engine.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		cfg:    cfg,
		sleep:  fetcher.Sleep,
		logger: logger.With("component", "engine"),
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.dial == nil {
		e.dial = transport.HTTPDialer(&cfg.Fetcher, logger)
	}
	if e.open == nil {
		e.open = func(ctx context.Context, target Target) (storage.Storage, error) {
			return storage.Open(ctx, cfg.Storage, target.Key(), target.Dir, logger)
		}
	}
	e.fetcher = fetcher.New(&cfg.Fetcher, logger,
		fetcher.WithSleep(e.sleep),
		fetcher.WithMetrics(e.metrics),
	)
	return e
}

// Run archives target. Failures that stop the target before any feed runs
// are reported in TargetReport.Err; feed failures are in each FeedReport.
func (e *Engine) Run(ctx context.Context, target Target) *TargetReport {
	report := &TargetReport{
		RunID:   uuid.NewString(),
		Target:  target.Key(),
		Home:    HomeNone,
		Started: time.Now(),
	}
	logger := e.logger.With("run_id", report.RunID, "target", report.Target)
	defer func() { report.Duration = time.Since(report.Started) }()

	if err := target.Validate(); err != nil {
		report.Err = err.Error()
		logger.Error("invalid target", "error", err)
		return report
	}
	if err := os.MkdirAll(target.Dir, 0o755); err != nil {
		report.Err = err.Error()
		logger.Error("create target directory failed", "dir", target.Dir, "error", err)
		return report
	}

	store, err := e.open(ctx, target)
	if err != nil {
		report.Err = err.Error()
		logger.Error("open storage failed", "error", err)
		return report
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("storage close error", "error", err)
		}
	}()
	report.Storage = store.Name()

	if err := store.EnsureSchema(ctx, target.Schema); err != nil {
		report.Err = err.Error()
		logger.Error("ensure schema failed", "error", err)
		return report
	}

	pool := transport.NewPool(e.dial)
	defer func() {
		if err := pool.Close(); err != nil {
			logger.Error("transport close error", "error", err)
		}
	}()
	session := NewSession(pool, e.fetcher)

	if target.Home != nil {
		state, err := SaveSnapshot(ctx, session, target.Dir, *target.Home, logger)
		if err != nil {
			logger.Warn("home snapshot failed", "error", err)
		}
		report.Home = state
	}

	driver := NewDriver(&e.cfg.Crawl, logger, e.driverOptions(target, pool, logger)...)

	logger.Info("target starting", "feeds", len(target.Feeds), "storage", store.Name(), "dir", target.Dir)
	for _, feed := range target.Feeds {
		if ctx.Err() != nil {
			report.Feeds = append(report.Feeds, FeedReport{
				Feed:        feed.Name,
				Discipline:  feed.Discipline.String(),
				Termination: TermCanceled,
			})
			continue
		}
		report.Feeds = append(report.Feeds, driver.Drive(ctx, session, feed, store))
	}

	logger.Info("target finished",
		"records_new", report.RecordsNew(),
		"pages_skipped", report.PagesSkipped(),
		"ok", report.OK(),
		"duration", time.Since(report.Started),
	)
	return report
}

func (e *Engine) driverOptions(target Target, pool *transport.Pool, logger *slog.Logger) []DriverOption {
	opts := []DriverOption{
		WithDriverSleep(e.sleep),
		WithMiddleware(e.middleware...),
	}
	if e.metrics != nil {
		opts = append(opts, WithObserver(e.metrics))
	}
	for _, o := range e.observers {
		opts = append(opts, WithObserver(o))
	}
	if e.cfg.Assets.Enabled {
		downloader := media.NewDownloader(target.Dir, e.fetcher, pool, e.cfg.Assets.MaxSizeMB, e.metrics, logger)
		opts = append(opts, WithAssets(downloader))
	}
	return opts
}
