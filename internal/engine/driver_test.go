package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IshaanNene/pagearchive/internal/config"
	"github.com/IshaanNene/pagearchive/internal/extract"
	"github.com/IshaanNene/pagearchive/internal/fetcher"
	"github.com/IshaanNene/pagearchive/internal/media"
	"github.com/IshaanNene/pagearchive/internal/observability"
	"github.com/IshaanNene/pagearchive/internal/storage"
	"github.com/IshaanNene/pagearchive/internal/transport"
	"github.com/IshaanNene/pagearchive/internal/transport/transporttest"
	"github.com/IshaanNene/pagearchive/internal/types"
)

const testOrigin = "archive.test"

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

var testSchema = storage.Schema{
	RecordTypes: []string{"items", "details"},
	Relations:   []string{"item_links"},
}

type sleepRecorder struct {
	delays []time.Duration
}

func (r *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return ctx.Err()
}

type harness struct {
	cfg     *config.Config
	fake    *transporttest.Fake
	session *Session
	store   *storage.SQLiteStorage
	stalls  *sleepRecorder
	metrics *observability.Metrics
}

func newHarness(t *testing.T, handler transporttest.HandlerFunc, mutate func(*config.Config)) *harness {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Fetcher.MaxAttempts = 2
	if mutate != nil {
		mutate(cfg)
	}

	fake := transporttest.NewFake(testOrigin, handler)
	pool := transport.NewPool(func(o transport.Origin) (transport.Transport, error) {
		if o.Host != testOrigin {
			return nil, fmt.Errorf("no route to %s", o.Host)
		}
		return fake, nil
	})
	t.Cleanup(func() { pool.Close() })

	metrics := observability.NewMetrics(testLogger)
	noSleep := func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	f := fetcher.New(&cfg.Fetcher, testLogger, fetcher.WithSleep(noSleep), fetcher.WithMetrics(metrics))

	store, err := storage.NewSQLiteStorage(":memory:", testLogger)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.EnsureSchema(context.Background(), testSchema))

	return &harness{
		cfg:     cfg,
		fake:    fake,
		session: NewSession(pool, f),
		store:   store,
		stalls:  &sleepRecorder{},
		metrics: metrics,
	}
}

func (h *harness) driver(opts ...DriverOption) *Driver {
	opts = append([]DriverOption{WithDriverSleep(h.stalls.sleep), WithObserver(h.metrics)}, opts...)
	return NewDriver(&h.cfg.Crawl, testLogger, opts...)
}

func (h *harness) drive(t *testing.T, feed Feed, opts ...DriverOption) FeedReport {
	t.Helper()
	return h.driver(opts...).Drive(context.Background(), h.session, feed, h.store)
}

func (h *harness) ids(t *testing.T, recordType string) []string {
	t.Helper()
	var ids []string
	require.NoError(t, h.store.Scan(context.Background(), recordType, func(r types.Record) error {
		ids = append(ids, r.ID)
		return nil
	}))
	return ids
}

// page renders a test listing body: "next|total|id,id,...".
func page(next string, total int, ids ...string) string {
	return fmt.Sprintf("%s|%d|%s", next, total, strings.Join(ids, ","))
}

func idRange(from, to int) []string {
	var ids []string
	for i := from; i <= to; i++ {
		ids = append(ids, strconv.Itoa(i))
	}
	return ids
}

// listing parses page bodies into "items" records.
var listing = extract.Func(func(body []byte) (*extract.Batch, error) {
	b := &extract.Batch{}
	parts := strings.SplitN(string(body), "|", 3)
	if len(parts) != 3 {
		return b, nil
	}
	b.NextCursor = parts[0]
	b.Total, _ = strconv.Atoi(parts[1])
	for _, id := range strings.Split(parts[2], ",") {
		if id != "" {
			b.AddRecord("items", id, "", "payload-"+id)
		}
	}
	return b, nil
})

func indexFeed() Feed {
	return Feed{
		Name:       "items",
		Discipline: DisciplineIndex,
		Origin:     testOrigin,
		Path:       PathTemplate("/items?p={page}"),
		Extract:    extract.Static(listing),
	}
}

func cursorFeed(pageSize int) Feed {
	return Feed{
		Name:       "chat",
		Discipline: DisciplineCursor,
		Origin:     testOrigin,
		Path:       PathTemplate("/chat?cursor={cursor}"),
		PageSize:   pageSize,
		Extract:    extract.Static(listing),
	}
}

// byCursor answers cursor requests from a table; unknown cursors get 404.
func byCursor(steps map[string]transporttest.Step) transporttest.HandlerFunc {
	return func(req types.PageRequest) (*transport.Response, error) {
		if step, ok := steps[req.Cursor]; ok {
			return step.Reply()
		}
		return transporttest.Status(http.StatusNotFound).Reply()
	}
}

func TestDriveIndexFeedStopsAtFirstEmptyPage(t *testing.T) {
	h := newHarness(t, transporttest.Routes(map[string]transporttest.Step{
		"/items?p=1": transporttest.OK(page("", 0, idRange(1, 10)...)),
		"/items?p=2": transporttest.OK(page("", 0, idRange(11, 20)...)),
		"/items?p=3": transporttest.OK(page("", 0, idRange(21, 30)...)),
		"/items?p=4": transporttest.OK(page("", 0)),
	}), nil)

	report := h.drive(t, indexFeed())

	assert.Equal(t, TermEmptyPage, report.Termination)
	assert.Equal(t, 4, report.PagesFetched)
	assert.Equal(t, 3, report.PagesCommitted)
	assert.Equal(t, 30, report.RecordsNew)
	assert.Len(t, h.ids(t, "items"), 30)
	assert.Equal(t, []string{"/items?p=1", "/items?p=2", "/items?p=3", "/items?p=4"}, h.fake.Paths())
	assert.Equal(t, int64(3), h.metrics.PagesCommitted.Load())
	assert.Equal(t, int64(1), h.metrics.Snapshot()["terminated_empty_page"])
}

func TestDriveIsIdempotent(t *testing.T) {
	h := newHarness(t, transporttest.Routes(map[string]transporttest.Step{
		"/items?p=1": transporttest.OK(page("", 0, idRange(1, 10)...)),
		"/items?p=2": transporttest.OK(page("", 0, idRange(11, 20)...)),
	}), nil)

	first := h.drive(t, indexFeed())
	second := h.drive(t, indexFeed())

	assert.Equal(t, 20, first.RecordsNew)
	assert.Equal(t, 0, second.RecordsNew)
	assert.Equal(t, 20, second.RecordsKnown)
	assert.Len(t, h.ids(t, "items"), 20)
}

func TestDriveCountFeedStopsAtReportedTotal(t *testing.T) {
	h := newHarness(t, transporttest.Routes(map[string]transporttest.Step{
		"/items?p=1": transporttest.OK(page("", 25, idRange(1, 10)...)),
		"/items?p=2": transporttest.OK(page("", 25, idRange(11, 20)...)),
		"/items?p=3": transporttest.OK(page("", 25, idRange(21, 25)...)),
	}), nil)

	feed := indexFeed()
	feed.Discipline = DisciplineCount
	feed.PageSize = 10
	report := h.drive(t, feed)

	assert.Equal(t, TermTotalReached, report.Termination)
	assert.Equal(t, 3, report.PagesFetched)
	assert.Len(t, h.ids(t, "items"), 25)
}

func TestDriveCursorFeedStopsAfterTotalPages(t *testing.T) {
	h := newHarness(t, byCursor(map[string]transporttest.Step{
		"":   transporttest.OK(page("c1", 25, idRange(1, 15)...)),
		"c1": transporttest.OK(page("c2", 25, idRange(16, 25)...)),
		"c2": transporttest.OK(page("c3", 25, "never")),
	}), nil)

	report := h.drive(t, cursorFeed(15))

	assert.Equal(t, TermTotalReached, report.Termination)
	reqs := h.fake.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, "", reqs[0].Cursor)
	assert.Equal(t, "c1", reqs[1].Cursor)
	assert.Equal(t, "/chat?cursor=c1", reqs[1].Path)
	assert.Len(t, h.ids(t, "items"), 25)
}

func TestDriveCursorFeedStopsWithoutCursor(t *testing.T) {
	h := newHarness(t, byCursor(map[string]transporttest.Step{
		"":   transporttest.OK(page("c1", 0, "a", "b")),
		"c1": transporttest.OK(page("", 0, "c")),
	}), nil)

	report := h.drive(t, cursorFeed(0))

	assert.Equal(t, TermNoCursor, report.Termination)
	assert.Equal(t, []string{"a", "b", "c"}, h.ids(t, "items"))
}

func TestDriveCursorStallIsTolerated(t *testing.T) {
	h := newHarness(t, transporttest.Sequence(
		transporttest.OK(page("c1", 0, "a")),
		transporttest.OK(page("c1", 0, "b")),
		transporttest.OK(page("c1", 0, "c")),
		transporttest.OK(page("c2", 0, "d")),
		transporttest.OK(page("", 0, "e")),
	), nil)

	report := h.drive(t, cursorFeed(0))

	assert.Equal(t, TermNoCursor, report.Termination)
	assert.Equal(t, 5, report.PagesFetched)
	assert.Equal(t, []time.Duration{h.cfg.Crawl.CursorStallDelay, h.cfg.Crawl.CursorStallDelay}, h.stalls.delays)
	assert.Len(t, h.ids(t, "items"), 5)
}

func TestDriveCursorStallLimit(t *testing.T) {
	h := newHarness(t, transporttest.Sequence(
		transporttest.OK(page("c1", 0, "a")),
		transporttest.OK(page("c1", 0)),
	), func(cfg *config.Config) {
		cfg.Crawl.CursorStallLimit = 2
	})

	report := h.drive(t, cursorFeed(0))

	assert.Equal(t, TermCursorStalled, report.Termination)
	assert.Equal(t, 4, report.PagesFetched)
	assert.Len(t, h.stalls.delays, 2)
}

type failingStorage struct {
	storage.Storage
	failID string
}

func (s *failingStorage) Begin(ctx context.Context) (storage.Batch, error) {
	b, err := s.Storage.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &failingBatch{Batch: b, failID: s.failID}, nil
}

type failingBatch struct {
	storage.Batch
	failID string
}

func (b *failingBatch) UpsertRecord(ctx context.Context, rec types.Record) (bool, error) {
	if rec.ID == b.failID {
		return false, &types.StorageError{Backend: "test", Op: "upsert", Err: errors.New("disk full")}
	}
	return b.Batch.UpsertRecord(ctx, rec)
}

func TestDrivePageIsAtomic(t *testing.T) {
	h := newHarness(t, transporttest.Routes(map[string]transporttest.Step{
		"/items?p=1": transporttest.OK(page("", 0, idRange(1, 10)...)),
		"/items?p=2": transporttest.OK(page("", 0, idRange(11, 20)...)),
		"/items?p=3": transporttest.OK(page("", 0, idRange(21, 30)...)),
		"/items?p=4": transporttest.OK(page("", 0)),
	}), nil)

	store := &failingStorage{Storage: h.store, failID: "15"}
	report := h.driver().Drive(context.Background(), h.session, indexFeed(), store)

	assert.Equal(t, TermEmptyPage, report.Termination)
	assert.Equal(t, 2, report.PagesCommitted)
	assert.Equal(t, 1, report.PagesSkipped)
	ids := h.ids(t, "items")
	assert.Len(t, ids, 20)
	assert.NotContains(t, ids, "11", "records before the failure are rolled back")
	assert.Equal(t, int64(1), h.metrics.PagesSkipped.Load())
}

func TestDriveSkipsFailedIndexPage(t *testing.T) {
	h := newHarness(t, transporttest.Routes(map[string]transporttest.Step{
		"/items?p=1": transporttest.OK(page("", 0, "1")),
		"/items?p=2": transporttest.Status(http.StatusInternalServerError),
		"/items?p=3": transporttest.OK(page("", 0, "3")),
		"/items?p=4": transporttest.OK(page("", 0)),
	}), nil)

	report := h.drive(t, indexFeed())

	assert.Equal(t, TermEmptyPage, report.Termination)
	assert.Equal(t, 1, report.PagesSkipped)
	assert.Equal(t, []string{"1", "3"}, h.ids(t, "items"))
}

func TestDriveCursorFetchFailureEndsFeed(t *testing.T) {
	h := newHarness(t, byCursor(map[string]transporttest.Step{
		"":   transporttest.OK(page("c1", 0, "a")),
		"c1": transporttest.Status(http.StatusBadGateway),
	}), nil)

	report := h.drive(t, cursorFeed(0))

	assert.Equal(t, TermFetchFailed, report.Termination)
	assert.NotEmpty(t, report.Err)
	assert.Equal(t, 1, report.PagesSkipped)
	assert.Equal(t, []string{"a"}, h.ids(t, "items"))
}

type tokenAuth struct {
	token     string
	refreshes int
}

func (a *tokenAuth) Headers(ctx context.Context, s *Session) (http.Header, error) {
	h := make(http.Header)
	h.Set("X-Guest-Token", a.token)
	return h, nil
}

func (a *tokenAuth) Refresh(ctx context.Context, s *Session) error {
	a.refreshes++
	a.token = "fresh"
	return nil
}

func TestDriveRefreshesHeadersOnce(t *testing.T) {
	h := newHarness(t, func(req types.PageRequest) (*transport.Response, error) {
		if req.Headers.Get("X-Guest-Token") != "fresh" {
			return transporttest.Status(http.StatusForbidden).Reply()
		}
		return transporttest.OK(page("", 0, "a", "b")).Reply()
	}, nil)

	auth := &tokenAuth{token: "stale"}
	feed := cursorFeed(0)
	feed.Auth = auth
	report := h.drive(t, feed)

	assert.Equal(t, TermNoCursor, report.Termination)
	assert.Equal(t, 1, auth.refreshes)
	assert.Equal(t, []string{"a", "b"}, h.ids(t, "items"))
	assert.Len(t, h.fake.Requests(), 3, "two rate-limited attempts, then one with fresh headers")
}

func TestDriveNotFoundOnFirstPage(t *testing.T) {
	h := newHarness(t, transporttest.Routes(nil), nil)

	report := h.drive(t, indexFeed())

	assert.Equal(t, TermNotFound, report.Termination)
	assert.Equal(t, 0, report.PagesCommitted)
	assert.Len(t, h.fake.Requests(), 1)
}

func TestDriveNotFoundLaterEndsFeed(t *testing.T) {
	h := newHarness(t, transporttest.Routes(map[string]transporttest.Step{
		"/items?p=1": transporttest.OK(page("", 0, "1")),
	}), nil)

	report := h.drive(t, indexFeed())
	assert.Equal(t, TermEmptyPage, report.Termination)
	assert.Equal(t, 0, report.PagesSkipped)
}

func TestDriveExplicitEnd(t *testing.T) {
	h := newHarness(t, transporttest.Sequence(transporttest.OK(page("c1", 0, "a"))), nil)

	feed := cursorFeed(0)
	feed.Extract = extract.Static(extract.Func(func(body []byte) (*extract.Batch, error) {
		b, err := listing.Extract(body)
		b.End = true
		return b, err
	}))
	report := h.drive(t, feed)

	assert.Equal(t, TermExplicitEnd, report.Termination)
	assert.Equal(t, 1, report.PagesFetched)
}

func TestDriveStopsAtCeiling(t *testing.T) {
	h := newHarness(t, func(req types.PageRequest) (*transport.Response, error) {
		return transporttest.OK(page("", 0, strconv.Itoa(req.Index))).Reply()
	}, nil)

	feed := indexFeed()
	feed.Ceiling = 3
	report := h.drive(t, feed)

	assert.Equal(t, TermCeiling, report.Termination)
	assert.Equal(t, 3, report.PagesFetched)
	assert.False(t, report.Termination.Completed())
}

func TestDriveCanceled(t *testing.T) {
	h := newHarness(t, transporttest.Sequence(transporttest.OK(page("", 0, "1"))), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report := h.driver().Drive(ctx, h.session, indexFeed(), h.store)
	assert.Equal(t, TermCanceled, report.Termination)
	assert.Empty(t, h.fake.Requests())
}

// detail yields one "details" record named by the body, linked to its
// listing item, and optionally a deeper follow-up.
func detail(parent string, deeper bool) extract.Extractor {
	return extract.Func(func(body []byte) (*extract.Batch, error) {
		b := &extract.Batch{}
		id := string(body)
		b.AddRecord("details", id, parent, "detail "+id)
		b.Associate("item_links", parent, id)
		if deeper {
			b.Follow = append(b.Follow, extract.Follow{
				Request:   types.NewPageRequest("/deeper/" + id),
				Extractor: detail(id, false),
			})
		}
		return b, nil
	})
}

func followFeed(deeper bool) Feed {
	feed := indexFeed()
	feed.Extract = extract.Static(extract.Func(func(body []byte) (*extract.Batch, error) {
		b, err := listing.Extract(body)
		for _, rec := range b.Records {
			b.Follow = append(b.Follow, extract.Follow{
				Request:   types.NewPageRequest("/detail/" + rec.ID),
				Extractor: detail(rec.ID, deeper),
				Label:     "detail " + rec.ID,
			})
		}
		return b, err
	}))
	return feed
}

func TestDriveFollowUpsJoinThePageBatch(t *testing.T) {
	h := newHarness(t, transporttest.Routes(map[string]transporttest.Step{
		"/items?p=1": transporttest.OK(page("", 0, "1", "2")),
		"/items?p=2": transporttest.OK(page("", 0)),
		"/detail/1":  transporttest.OK("d1"),
	}), nil)

	report := h.drive(t, followFeed(false))

	assert.Equal(t, TermEmptyPage, report.Termination)
	assert.Equal(t, 1, report.PagesCommitted)
	assert.Equal(t, 2, report.FollowsFetched)
	assert.Equal(t, 1, report.FollowFailures)
	assert.Equal(t, 1, report.AssociationsNew)
	assert.Equal(t, []string{"1", "2"}, h.ids(t, "items"))
	assert.Equal(t, []string{"d1"}, h.ids(t, "details"))
}

func TestDriveFollowDepthIsBounded(t *testing.T) {
	h := newHarness(t, transporttest.Routes(map[string]transporttest.Step{
		"/items?p=1": transporttest.OK(page("", 0, "1")),
		"/items?p=2": transporttest.OK(page("", 0)),
		"/detail/1":  transporttest.OK("d1"),
		"/deeper/d1": transporttest.OK("d2"),
	}), func(cfg *config.Config) {
		cfg.Crawl.MaxFollowDepth = 1
	})

	report := h.drive(t, followFeed(true))

	assert.Equal(t, []string{"d1"}, h.ids(t, "details"))
	assert.Equal(t, 1, report.Anomalies)
	assert.NotContains(t, h.fake.Paths(), "/deeper/d1")
}

// detailsOnly lists nothing but follow-ups: "a,b" queues /d/a and /d/b.
var detailsOnly = extract.Func(func(body []byte) (*extract.Batch, error) {
	b := &extract.Batch{}
	for _, id := range strings.Split(string(body), ",") {
		if id == "" {
			continue
		}
		b.Follow = append(b.Follow, extract.Follow{
			Request:   types.NewPageRequest("/d/" + id),
			Extractor: detail(id, false),
			Label:     "detail " + id,
		})
	}
	return b, nil
})

func TestDriveFailedDetailsDoNotEndFeed(t *testing.T) {
	h := newHarness(t, transporttest.Routes(map[string]transporttest.Step{
		"/items?p=1": transporttest.OK("a,b"),
		"/items?p=2": transporttest.OK("c"),
		"/items?p=3": transporttest.OK(""),
		"/d/a":       transporttest.Status(http.StatusInternalServerError),
		"/d/b":       transporttest.Status(http.StatusInternalServerError),
		"/d/c":       transporttest.OK("dc"),
	}), nil)

	feed := indexFeed()
	feed.Extract = extract.Static(detailsOnly)
	report := h.drive(t, feed)

	assert.Equal(t, TermEmptyPage, report.Termination)
	assert.Equal(t, 3, report.PagesFetched)
	assert.Equal(t, 2, report.FollowFailures)
	assert.Equal(t, []string{"dc"}, h.ids(t, "details"))
	assert.Contains(t, h.fake.Paths(), "/items?p=2")
}

func TestDriveCountsExtractionAnomalies(t *testing.T) {
	h := newHarness(t, transporttest.Routes(map[string]transporttest.Step{
		"/items?p=1": transporttest.OK(page("", 0, "1")),
	}), nil)

	feed := indexFeed()
	feed.Extract = extract.Static(extract.Func(func(body []byte) (*extract.Batch, error) {
		b, _ := listing.Extract(body)
		b.Anomaly("odd markup")
		b.AddRecord("items", " ", "", "no id")
		return b, errors.New("missing footer")
	}))
	report := h.drive(t, feed)

	assert.Equal(t, 2, report.Anomalies)
	assert.Equal(t, 1, report.RecordsDropped)
	assert.Equal(t, []string{"1"}, h.ids(t, "items"))
}

type assetRecorder struct {
	assets []types.Asset
}

func (r *assetRecorder) DownloadAll(ctx context.Context, assets []types.Asset) media.Stats {
	r.assets = append(r.assets, assets...)
	return media.Stats{Downloaded: len(assets)}
}

func TestDriveHandsAssetsOverAfterCommit(t *testing.T) {
	h := newHarness(t, transporttest.Routes(map[string]transporttest.Step{
		"/items?p=1": transporttest.OK(page("", 0, "1")),
	}), nil)

	feed := indexFeed()
	feed.Extract = extract.Static(extract.Func(func(body []byte) (*extract.Batch, error) {
		b, err := listing.Extract(body)
		for _, rec := range b.Records {
			b.Assets = append(b.Assets, types.Asset{Origin: "img.test", Path: "/" + rec.ID, File: rec.ID + ".png"})
		}
		return b, err
	}))

	sink := &assetRecorder{}
	report := h.drive(t, feed, WithAssets(sink))

	assert.Equal(t, []types.Asset{{Origin: "img.test", Path: "/1", File: "1.png"}}, sink.assets)
	assert.Equal(t, 1, report.AssetsDownloaded)
}

func TestDriveSetupFailure(t *testing.T) {
	h := newHarness(t, transporttest.Routes(nil), nil)

	feed := indexFeed()
	feed.Origin = "elsewhere.test"
	report := h.drive(t, feed)
	assert.Equal(t, TermSetupFailed, report.Termination)

	feed = indexFeed()
	feed.Extract = nil
	report = h.drive(t, feed)
	assert.Equal(t, TermSetupFailed, report.Termination)
}

func TestPathTemplate(t *testing.T) {
	path := PathTemplate("/v5/videos/42/comments?cursor={cursor}&page={page}")
	assert.Equal(t, "/v5/videos/42/comments?cursor=a%2Bb%3D&page=3", path(3, "a+b="))
}

func TestPageCount(t *testing.T) {
	assert.Equal(t, 2, pageCount(25, 15))
	assert.Equal(t, 1, pageCount(15, 15))
	assert.Equal(t, 0, pageCount(0, 15))
	assert.Equal(t, 0, pageCount(10, 0))
}
