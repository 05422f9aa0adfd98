// Package fetcher turns one PageRequest into a classified FetchOutcome,
// retrying through rate limits, stale connections and transient failures.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/IshaanNene/pagearchive/internal/config"
	"github.com/IshaanNene/pagearchive/internal/observability"
	"github.com/IshaanNene/pagearchive/internal/transport"
	"github.com/IshaanNene/pagearchive/internal/types"
)

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the real SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithSleep replaces the clock used between attempts.
func WithSleep(sleep SleepFunc) Option {
	return func(f *Fetcher) { f.sleep = sleep }
}

// WithMetrics records attempts and outcomes.
func WithMetrics(m *observability.Metrics) Option {
	return func(f *Fetcher) { f.metrics = m }
}

// Fetcher drives the retry state machine. It holds no per-origin state, so
// one Fetcher can serve every transport of a run.
type Fetcher struct {
	cfg     *config.FetcherConfig
	sleep   SleepFunc
	metrics *observability.Metrics
	logger  *slog.Logger
}

// New creates a Fetcher.
func New(cfg *config.FetcherConfig, logger *slog.Logger, opts ...Option) *Fetcher {
	f := &Fetcher{
		cfg:    cfg,
		sleep:  Sleep,
		logger: logger.With("component", "fetcher"),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Backoff returns the delay before the n-th (0-based) transient retry.
func (f *Fetcher) Backoff(n int) time.Duration {
	return f.cfg.BackoffInitial + time.Duration(n)*f.cfg.BackoffStep
}

// Fetch issues req over t until it gets a terminal answer. It never returns
// an error: every failure is folded into the outcome.
func (f *Fetcher) Fetch(ctx context.Context, t transport.Transport, req types.PageRequest) types.FetchOutcome {
	start := time.Now()
	out := f.fetch(ctx, t, req)
	out.Duration = time.Since(start)
	f.metrics.ObserveOutcome(out)

	if out.Kind == types.OutcomeRetriesExhausted {
		f.logger.Warn("fetch gave up",
			"origin", t.Origin().String(),
			"path", req.Path,
			"attempts", out.Attempts,
			"error", out.Err,
		)
	}
	return out
}

func (f *Fetcher) fetch(ctx context.Context, t transport.Transport, req types.PageRequest) types.FetchOutcome {
	var (
		lastErr    error
		lastStatus int
		attempts   int
		reconnects int
		backoffs   int
	)

	exhausted := func(cause error) types.FetchOutcome {
		out := types.Exhausted(&types.FetchError{
			Origin:     t.Origin().String(),
			Path:       req.Path,
			StatusCode: lastStatus,
			Attempts:   attempts,
			Err:        fmt.Errorf("%w: %w", types.ErrRetriesExhausted, cause),
		})
		out.StatusCode = lastStatus
		out.Attempts = attempts
		out.Reconnects = reconnects
		return out
	}

	for attempts < f.cfg.MaxAttempts {
		if err := ctx.Err(); err != nil {
			return exhausted(err)
		}
		attempts++

		resp, err := t.RoundTrip(ctx, req)
		if err != nil {
			f.metrics.ObserveAttempt(0, 0)
			if ctxErr := ctx.Err(); ctxErr != nil {
				return exhausted(ctxErr)
			}
			lastErr = err
			lastStatus = 0

			// The same body comes back on every attempt.
			if errors.Is(err, types.ErrBodyTooLarge) {
				return exhausted(err)
			}

			stale := transport.IsStaleConn(err)
			if rerr := t.Reconnect(); rerr != nil {
				f.logger.Warn("reconnect failed", "origin", t.Origin().String(), "error", rerr)
			}
			reconnects++

			if stale {
				f.logger.Debug("stale connection, reconnected",
					"path", req.Path,
					"attempt", attempts,
					"error", err,
				)
				continue
			}

			delay := f.Backoff(backoffs)
			backoffs++
			f.logger.Debug("request failed, backing off",
				"path", req.Path,
				"attempt", attempts,
				"delay", delay,
				"error", err,
			)
			if err := f.sleep(ctx, delay); err != nil {
				return exhausted(err)
			}
			continue
		}

		f.metrics.ObserveAttempt(resp.StatusCode, len(resp.Body))
		lastStatus = resp.StatusCode

		switch kind := Classify(resp.StatusCode); kind {
		case types.OutcomeSuccess:
			out := types.Success(resp.Body, resp.Header)
			out.Attempts = attempts
			out.Reconnects = reconnects
			return out

		case types.OutcomeNotFound:
			out := types.NotFound()
			out.Headers = resp.Header
			out.Attempts = attempts
			out.Reconnects = reconnects
			return out

		case types.OutcomeRedirect:
			if location := resp.Header.Get("Location"); location != "" {
				out := types.Redirect(resp.StatusCode, location)
				out.Headers = resp.Header
				out.Attempts = attempts
				out.Reconnects = reconnects
				return out
			}
			lastErr = fmt.Errorf("%w: status %d without Location", types.ErrRedirected, resp.StatusCode)

		case types.OutcomeRateLimited:
			lastErr = types.ErrRateLimited
			f.logger.Debug("rate limited, cooling down",
				"path", req.Path,
				"attempt", attempts,
				"delay", f.cfg.RateLimitCooldown,
			)
			if err := f.sleep(ctx, f.cfg.RateLimitCooldown); err != nil {
				return exhausted(err)
			}
			continue

		default:
			lastErr = fmt.Errorf("%w: %d", types.ErrUnexpectedStatus, resp.StatusCode)
		}

		delay := f.Backoff(backoffs)
		backoffs++
		f.logger.Debug("unexpected status, backing off",
			"path", req.Path,
			"status", resp.StatusCode,
			"attempt", attempts,
			"delay", delay,
		)
		if err := f.sleep(ctx, delay); err != nil {
			return exhausted(err)
		}
	}

	if lastErr == nil {
		lastErr = errors.New("no attempts allowed")
	}
	return exhausted(lastErr)
}

// Classify maps an HTTP status to the kind of a single attempt.
func Classify(status int) types.OutcomeKind {
	switch status {
	case http.StatusOK:
		return types.OutcomeSuccess
	case http.StatusNotFound:
		return types.OutcomeNotFound
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther:
		return types.OutcomeRedirect
	case http.StatusForbidden:
		return types.OutcomeRateLimited
	default:
		return types.OutcomeTransient
	}
}
