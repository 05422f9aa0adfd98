package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/IshaanNene/pagearchive/internal/config"
	"github.com/IshaanNene/pagearchive/internal/extract"
	"github.com/IshaanNene/pagearchive/internal/fetcher"
	"github.com/IshaanNene/pagearchive/internal/media"
	"github.com/IshaanNene/pagearchive/internal/pipeline"
	"github.com/IshaanNene/pagearchive/internal/storage"
	"github.com/IshaanNene/pagearchive/internal/transport"
	"github.com/IshaanNene/pagearchive/internal/types"
)

// Observer is told about page and feed progress.
type Observer interface {
	PageCommitted(feed string, req types.PageRequest, inserted, known int)
	PageSkipped(feed string, req types.PageRequest, err error)
	FeedTerminated(feed string, reason string, pages int)
}

// AssetSink downloads the assets of committed pages.
type AssetSink interface {
	DownloadAll(ctx context.Context, assets []types.Asset) media.Stats
}

// DriverOption configures a Driver.
type DriverOption func(*Driver)

// WithAssets hands the assets of every committed page to sink.
func WithAssets(sink AssetSink) DriverOption {
	return func(d *Driver) { d.assets = sink }
}

// WithObserver adds an observer.
func WithObserver(o Observer) DriverOption {
	return func(d *Driver) { d.observers = append(d.observers, o) }
}

// WithDriverSleep replaces the clock used between stalled cursor pages.
func WithDriverSleep(sleep fetcher.SleepFunc) DriverOption {
	return func(d *Driver) { d.sleep = sleep }
}

// WithMiddleware adds record middleware after the default trim and
// validate stages.
func WithMiddleware(mw ...pipeline.Middleware) DriverOption {
	return func(d *Driver) { d.extra = append(d.extra, mw...) }
}

// Driver pulls one feed page by page until it terminates. Each page, with
// everything its follow-ups yield, is committed as one storage batch before
// the driver moves on.
type Driver struct {
	cfg       *config.CrawlConfig
	pipeline  *pipeline.Pipeline
	dedup     *pipeline.DedupMiddleware
	extra     []pipeline.Middleware
	assets    AssetSink
	observers []Observer
	sleep     fetcher.SleepFunc
	logger    *slog.Logger
}

// NewDriver creates a Driver.
func NewDriver(cfg *config.CrawlConfig, logger *slog.Logger, opts ...DriverOption) *Driver {
	d := &Driver{
		cfg:    cfg,
		sleep:  fetcher.Sleep,
		logger: logger.With("component", "driver"),
	}
	for _, opt := range opts {
		opt(d)
	}

	d.pipeline = pipeline.Default(logger)
	for _, mw := range d.extra {
		d.pipeline.Use(mw)
	}
	d.dedup = pipeline.NewDedupMiddleware()
	d.pipeline.Use(d.dedup)
	return d
}

// Drive drains feed. It never returns an error: why the feed stopped is
// in the report's Termination.
func (d *Driver) Drive(ctx context.Context, s *Session, feed Feed, store storage.Storage) (report FeedReport) {
	start := time.Now()
	logger := d.logger.With("feed", feed.Name)
	report = FeedReport{Feed: feed.Name, Discipline: feed.Discipline.String()}

	defer func() {
		report.Duration = time.Since(start)
		for _, o := range d.observers {
			o.FeedTerminated(feed.Name, string(report.Termination), report.PagesFetched)
		}
		logger.Info("feed finished",
			"termination", report.Termination,
			"pages", report.PagesFetched,
			"committed", report.PagesCommitted,
			"skipped", report.PagesSkipped,
			"records_new", report.RecordsNew,
			"records_known", report.RecordsKnown,
			"duration", report.Duration,
		)
	}()

	if err := feed.Validate(); err != nil {
		report.Termination = TermSetupFailed
		report.Err = err.Error()
		return report
	}
	t, err := s.Transport(feed.Origin)
	if err != nil {
		report.Termination = TermSetupFailed
		report.Err = err.Error()
		return report
	}

	ceiling := feed.Ceiling
	if ceiling <= 0 {
		ceiling = d.cfg.Ceiling(feed.Kind)
	}

	var (
		cursor   string
		stalls   int
		lastPage int // 0 while the total is unknown
	)

	logger.Info("feed starting", "discipline", feed.Discipline, "origin", feed.Origin, "ceiling", ceiling)

	for index := 1; ; index++ {
		if ctx.Err() != nil {
			report.Termination = TermCanceled
			return report
		}
		if lastPage > 0 && index > lastPage {
			report.Termination = TermTotalReached
			return report
		}
		if ceiling > 0 && index > ceiling {
			logger.Warn("page ceiling reached", "ceiling", ceiling)
			report.Termination = TermCeiling
			return report
		}

		req, out, err := d.fetchPage(ctx, s, t, feed, index, cursor, logger)
		report.PagesFetched++

		if err == nil && out.Kind == types.OutcomeNotFound {
			if index == 1 {
				logger.Warn("feed does not exist", "path", req.Path)
				report.Termination = TermNotFound
			} else {
				report.Termination = TermEmptyPage
			}
			return report
		}
		if err == nil && !out.OK() {
			err = outcomeError(out)
		}
		if err != nil {
			if ctx.Err() != nil {
				report.Termination = TermCanceled
				return report
			}
			d.skip(feed, req, &report, err, logger)
			if feed.Discipline == DisciplineCursor {
				// Without the page there is no next cursor.
				report.Termination = TermFetchFailed
				report.Err = err.Error()
				return report
			}
			continue
		}

		batch := d.extract(feed.Extract(req), req, out.Body, &report, logger)
		// Judged before follow-ups run, since they may all fail.
		listed := !batch.Empty()
		d.follow(ctx, s, t, feed, batch, &report, logger)

		if err := d.commit(ctx, feed, req, batch, store, &report, logger); err != nil {
			d.skip(feed, req, &report, err, logger)
		} else if d.assets != nil && len(batch.Assets) > 0 {
			stats := d.assets.DownloadAll(ctx, batch.Assets)
			report.AssetsDownloaded += stats.Downloaded
			report.AssetsSkipped += stats.Skipped
			report.AssetsFailed += stats.Failed
		}

		if batch.End {
			report.Termination = TermExplicitEnd
			return report
		}

		switch feed.Discipline {
		case DisciplineIndex, DisciplineCount:
			if !listed {
				report.Termination = TermEmptyPage
				return report
			}
			if feed.Discipline == DisciplineCount && lastPage == 0 {
				lastPage = pageCount(batch.Total, feed.PageSize)
			}

		case DisciplineCursor:
			if lastPage == 0 {
				lastPage = pageCount(batch.Total, feed.PageSize)
			}
			if batch.NextCursor == "" {
				report.Termination = TermNoCursor
				return report
			}
			if batch.NextCursor == cursor || len(batch.Records) == 0 {
				stalls++
				if stalls > d.cfg.CursorStallLimit {
					report.Termination = TermCursorStalled
					return report
				}
				logger.Debug("cursor stalled", "cursor", batch.NextCursor, "stalls", stalls)
				if err := d.sleep(ctx, d.cfg.CursorStallDelay); err != nil {
					report.Termination = TermCanceled
					return report
				}
			} else {
				stalls = 0
			}
			cursor = batch.NextCursor
		}
	}
}

func (d *Driver) pageRequest(ctx context.Context, s *Session, feed Feed, index int, cursor string) (types.PageRequest, error) {
	req := types.NewPageRequest(feed.Path(index, cursor))
	req.Index = index
	req.Cursor = cursor
	req.Tag = feed.Name
	req = req.WithHeaders(feed.Headers)

	if feed.Auth != nil {
		h, err := feed.Auth.Headers(ctx, s)
		if err != nil {
			return req, fmt.Errorf("request headers: %w", err)
		}
		req = req.WithHeaders(h)
	}
	return req, nil
}

// fetchPage fetches one page. A failed page of an authenticated feed is
// retried once with refreshed headers.
func (d *Driver) fetchPage(ctx context.Context, s *Session, t transport.Transport, feed Feed, index int, cursor string, logger *slog.Logger) (types.PageRequest, types.FetchOutcome, error) {
	req, err := d.pageRequest(ctx, s, feed, index, cursor)
	if err != nil {
		return req, types.FetchOutcome{}, err
	}
	out := s.fetcher.Fetch(ctx, t, req)
	if out.OK() || out.Kind == types.OutcomeNotFound || feed.Auth == nil || ctx.Err() != nil {
		return req, out, nil
	}

	logger.Info("page failed, refreshing request headers", "request", req.Label(), "outcome", out.Kind)
	if err := feed.Auth.Refresh(ctx, s); err != nil {
		return req, out, fmt.Errorf("refresh headers: %w", err)
	}
	req, err = d.pageRequest(ctx, s, feed, index, cursor)
	if err != nil {
		return req, out, err
	}
	return req, s.fetcher.Fetch(ctx, t, req), nil
}

// extract runs e and logs its anomalies. It always returns a batch.
func (d *Driver) extract(e extract.Extractor, req types.PageRequest, body []byte, report *FeedReport, logger *slog.Logger) *extract.Batch {
	if e == nil {
		report.Anomalies++
		logger.Warn("no extractor for request", "path", req.Path)
		return &extract.Batch{}
	}

	batch, err := e.Extract(body)
	if batch == nil {
		batch = &extract.Batch{}
	}
	if err != nil {
		report.Anomalies++
		logger.Warn("extraction anomaly", "error", &types.ExtractError{Extractor: req.Label(), Path: req.Path, Err: err})
	}
	for _, a := range batch.Anomalies {
		report.Anomalies++
		logger.Warn("extraction anomaly", "request", req.Label(), "path", req.Path, "detail", a)
	}
	batch.Anomalies = nil
	return batch
}

// follow fetches the follow-up requests of batch level by level and merges
// what they yield into it. Failed follow-ups are counted and left out.
func (d *Driver) follow(ctx context.Context, s *Session, t transport.Transport, feed Feed, batch *extract.Batch, report *FeedReport, logger *slog.Logger) {
	pending := batch.Follow
	batch.Follow = nil

	for depth := 1; len(pending) > 0; depth++ {
		if depth > d.cfg.MaxFollowDepth {
			report.Anomalies++
			logger.Warn("follow depth exceeded", "depth", depth, "dropped", len(pending))
			return
		}

		var next []extract.Follow
		for _, f := range pending {
			if ctx.Err() != nil {
				return
			}
			req := f.Request.WithHeaders(feed.Headers)
			out := s.fetcher.Fetch(ctx, t, req)
			report.FollowsFetched++
			if !out.OK() {
				report.FollowFailures++
				logger.Warn("follow-up failed",
					"label", f.Label,
					"path", req.Path,
					"outcome", out.Kind,
					"error", outcomeError(out),
				)
				continue
			}

			child := d.extract(f.Extractor, req, out.Body, report, logger)
			next = append(next, child.Follow...)
			child.Follow = nil
			batch.Merge(child)
		}
		pending = next
	}
}

// commit runs the page's records through the pipeline and writes them with
// the page's associations in one batch. Nothing is written on error.
func (d *Driver) commit(ctx context.Context, feed Feed, req types.PageRequest, batch *extract.Batch, store storage.Storage, report *FeedReport, logger *slog.Logger) error {
	d.dedup.Reset()

	records := make([]types.Record, 0, len(batch.Records))
	for _, rec := range batch.Records {
		processed, err := d.pipeline.Process(&rec)
		if err != nil {
			report.RecordsDropped++
			report.Anomalies++
			logger.Warn("record rejected", "key", rec.Key(), "error", err)
			continue
		}
		if processed == nil {
			report.RecordsDropped++
			continue
		}
		records = append(records, *processed)
	}

	assocs := make([]types.Association, 0, len(batch.Associations))
	for _, a := range batch.Associations {
		if err := a.Validate(); err != nil {
			report.Anomalies++
			logger.Warn("association rejected", "relation", a.Relation, "error", err)
			continue
		}
		assocs = append(assocs, a)
	}

	if len(records) == 0 && len(assocs) == 0 {
		return nil
	}

	tx, err := store.Begin(ctx)
	if err != nil {
		return err
	}

	var inserted, known, linked int
	for _, rec := range records {
		ok, err := tx.UpsertRecord(ctx, rec)
		if err != nil {
			return rollback(tx, err)
		}
		if ok {
			inserted++
		} else {
			known++
		}
	}
	for _, a := range assocs {
		ok, err := tx.Associate(ctx, a)
		if err != nil {
			return rollback(tx, err)
		}
		if ok {
			linked++
		}
	}
	if err := tx.Commit(); err != nil {
		return rollback(tx, err)
	}

	report.PagesCommitted++
	report.RecordsNew += inserted
	report.RecordsKnown += known
	report.AssociationsNew += linked
	for _, o := range d.observers {
		o.PageCommitted(feed.Name, req, inserted, known)
	}
	logger.Debug("page committed",
		"request", req.Label(),
		"new", inserted,
		"known", known,
		"associations", linked,
	)
	return nil
}

func (d *Driver) skip(feed Feed, req types.PageRequest, report *FeedReport, err error, logger *slog.Logger) {
	report.PagesSkipped++
	for _, o := range d.observers {
		o.PageSkipped(feed.Name, req, err)
	}
	logger.Warn("page skipped", "request", req.Label(), "path", req.Path, "error", err)
}

func rollback(tx storage.Batch, err error) error {
	if rerr := tx.Rollback(); rerr != nil {
		return errors.Join(err, rerr)
	}
	return err
}

func outcomeError(out types.FetchOutcome) error {
	switch {
	case out.Err != nil:
		return out.Err
	case out.Kind == types.OutcomeRedirect:
		return fmt.Errorf("%w to %s", types.ErrRedirected, out.Location)
	case out.Kind == types.OutcomeNotFound:
		return types.ErrNotFound
	default:
		return fmt.Errorf("%w: %s", types.ErrFeedFailed, out.Kind)
	}
}

func pageCount(total, pageSize int) int {
	if total <= 0 || pageSize <= 0 {
		return 0
	}
	return (total + pageSize - 1) / pageSize
}
