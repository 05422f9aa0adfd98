package observability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IshaanNene/pagearchive/internal/types"
)

// Metrics tracks operational metrics for a crawl run.
type Metrics struct {
	// Fetch metrics
	FetchesTotal     atomic.Int64
	FetchesExhausted atomic.Int64
	AttemptsTotal    atomic.Int64
	Retries          atomic.Int64
	Reconnects       atomic.Int64
	RateLimited      atomic.Int64

	// Response metrics
	Responses2xx atomic.Int64
	Responses3xx atomic.Int64
	Responses4xx atomic.Int64
	Responses5xx atomic.Int64

	// Page metrics
	PagesCommitted atomic.Int64
	PagesSkipped   atomic.Int64

	// Record metrics
	RecordsInserted atomic.Int64
	RecordsKnown    atomic.Int64

	// Asset metrics
	AssetsDownloaded atomic.Int64
	AssetsSkipped    atomic.Int64
	AssetsFailed     atomic.Int64
	BytesDownloaded  atomic.Int64

	mu           sync.Mutex
	terminations map[string]int64

	logger *slog.Logger
	server *http.Server
}

// NewMetrics creates a new Metrics instance.
func NewMetrics(logger *slog.Logger) *Metrics {
	return &Metrics{
		terminations: make(map[string]int64),
		logger:       logger.With("component", "metrics"),
	}
}

// ObserveAttempt records a single HTTP attempt. A zero status means the
// attempt failed before a response arrived.
func (m *Metrics) ObserveAttempt(status int, size int) {
	if m == nil {
		return
	}
	m.AttemptsTotal.Add(1)
	m.BytesDownloaded.Add(int64(size))
	switch {
	case status >= 500:
		m.Responses5xx.Add(1)
	case status >= 400:
		m.Responses4xx.Add(1)
		if status == http.StatusForbidden {
			m.RateLimited.Add(1)
		}
	case status >= 300:
		m.Responses3xx.Add(1)
	case status >= 200:
		m.Responses2xx.Add(1)
	}
}

// ObserveOutcome records the final outcome of one fetch.
func (m *Metrics) ObserveOutcome(o types.FetchOutcome) {
	if m == nil {
		return
	}
	m.FetchesTotal.Add(1)
	if o.Attempts > 1 {
		m.Retries.Add(int64(o.Attempts - 1))
	}
	m.Reconnects.Add(int64(o.Reconnects))
	if o.Kind == types.OutcomeRetriesExhausted {
		m.FetchesExhausted.Add(1)
	}
}

// PageCommitted records a committed page.
func (m *Metrics) PageCommitted(feed string, req types.PageRequest, inserted, known int) {
	m.PagesCommitted.Add(1)
	m.RecordsInserted.Add(int64(inserted))
	m.RecordsKnown.Add(int64(known))
}

// PageSkipped records a page that was fetched or persisted unsuccessfully.
func (m *Metrics) PageSkipped(feed string, req types.PageRequest, err error) {
	m.PagesSkipped.Add(1)
}

// FeedTerminated records why a feed stopped.
func (m *Metrics) FeedTerminated(feed string, reason string, pages int) {
	m.mu.Lock()
	m.terminations[reason]++
	m.mu.Unlock()
}

// ObserveAsset records the result of one asset download.
func (m *Metrics) ObserveAsset(downloaded, skipped bool) {
	if m == nil {
		return
	}
	switch {
	case downloaded:
		m.AssetsDownloaded.Add(1)
	case skipped:
		m.AssetsSkipped.Add(1)
	default:
		m.AssetsFailed.Add(1)
	}
}

// ServeHTTP serves metrics in Prometheus text exposition format.
func (m *Metrics) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	metrics := []struct {
		name  string
		help  string
		value int64
	}{
		{"pagearchive_fetches_total", "Total page fetches", m.FetchesTotal.Load()},
		{"pagearchive_fetches_exhausted_total", "Fetches that ran out of attempts", m.FetchesExhausted.Load()},
		{"pagearchive_attempts_total", "Total HTTP attempts", m.AttemptsTotal.Load()},
		{"pagearchive_retries_total", "Total retried attempts", m.Retries.Load()},
		{"pagearchive_reconnects_total", "Total transport reconnects", m.Reconnects.Load()},
		{"pagearchive_rate_limited_total", "Total 403 responses", m.RateLimited.Load()},
		{"pagearchive_responses_2xx_total", "Total 2xx responses", m.Responses2xx.Load()},
		{"pagearchive_responses_3xx_total", "Total 3xx responses", m.Responses3xx.Load()},
		{"pagearchive_responses_4xx_total", "Total 4xx responses", m.Responses4xx.Load()},
		{"pagearchive_responses_5xx_total", "Total 5xx responses", m.Responses5xx.Load()},
		{"pagearchive_pages_committed_total", "Pages persisted", m.PagesCommitted.Load()},
		{"pagearchive_pages_skipped_total", "Pages skipped after failure", m.PagesSkipped.Load()},
		{"pagearchive_records_inserted_total", "Records newly inserted", m.RecordsInserted.Load()},
		{"pagearchive_records_known_total", "Records already present", m.RecordsKnown.Load()},
		{"pagearchive_assets_downloaded_total", "Assets written to disk", m.AssetsDownloaded.Load()},
		{"pagearchive_assets_skipped_total", "Assets already on disk", m.AssetsSkipped.Load()},
		{"pagearchive_assets_failed_total", "Assets that failed to download", m.AssetsFailed.Load()},
		{"pagearchive_bytes_downloaded_total", "Total bytes downloaded", m.BytesDownloaded.Load()},
	}

	for _, metric := range metrics {
		fmt.Fprintf(w, "# HELP %s %s\n", metric.name, metric.help)
		fmt.Fprintf(w, "# TYPE %s counter\n", metric.name)
		fmt.Fprintf(w, "%s %d\n", metric.name, metric.value)
	}

	m.mu.Lock()
	reasons := make([]string, 0, len(m.terminations))
	for reason := range m.terminations {
		reasons = append(reasons, reason)
	}
	sort.Strings(reasons)
	fmt.Fprintln(w, "# HELP pagearchive_feed_terminations_total Feed terminations by reason")
	fmt.Fprintln(w, "# TYPE pagearchive_feed_terminations_total counter")
	for _, reason := range reasons {
		fmt.Fprintf(w, "pagearchive_feed_terminations_total{reason=%q} %d\n", reason, m.terminations[reason])
	}
	m.mu.Unlock()
}

// StartServer starts the metrics HTTP server.
func (m *Metrics) StartServer(port int, path string) error {
	mux := http.NewServeMux()
	mux.Handle(path, m)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "ok")
	})

	addr := fmt.Sprintf(":%d", port)
	m.server = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	m.logger.Info("metrics server starting", "addr", addr, "path", path)

	go func() {
		if err := m.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.Error("metrics server error", "error", err)
		}
	}()

	return nil
}

// Shutdown stops the metrics server if it was started.
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m.server == nil {
		return nil
	}
	return m.server.Shutdown(ctx)
}

// Snapshot returns all metrics as a map.
func (m *Metrics) Snapshot() map[string]int64 {
	snap := map[string]int64{
		"fetches_total":     m.FetchesTotal.Load(),
		"fetches_exhausted": m.FetchesExhausted.Load(),
		"attempts_total":    m.AttemptsTotal.Load(),
		"retries":           m.Retries.Load(),
		"reconnects":        m.Reconnects.Load(),
		"rate_limited":      m.RateLimited.Load(),
		"pages_committed":   m.PagesCommitted.Load(),
		"pages_skipped":     m.PagesSkipped.Load(),
		"records_inserted":  m.RecordsInserted.Load(),
		"records_known":     m.RecordsKnown.Load(),
		"assets_downloaded": m.AssetsDownloaded.Load(),
		"assets_skipped":    m.AssetsSkipped.Load(),
		"assets_failed":     m.AssetsFailed.Load(),
		"bytes_downloaded":  m.BytesDownloaded.Load(),
	}
	m.mu.Lock()
	for reason, n := range m.terminations {
		snap["terminated_"+reason] = n
	}
	m.mu.Unlock()
	return snap
}
