package engine

import (
	"context"

	"github.com/IshaanNene/pagearchive/internal/fetcher"
	"github.com/IshaanNene/pagearchive/internal/transport"
	"github.com/IshaanNene/pagearchive/internal/types"
)

// Session is the network side of one target's crawl: one transport per
// origin and the shared retrying fetcher. It is owned by a single goroutine.
type Session struct {
	pool    *transport.Pool
	fetcher *fetcher.Fetcher
}

// NewSession creates a session over pool.
func NewSession(pool *transport.Pool, f *fetcher.Fetcher) *Session {
	return &Session{pool: pool, fetcher: f}
}

// Transport returns the transport for origin, dialing it on first use.
func (s *Session) Transport(origin string) (transport.Transport, error) {
	return s.pool.Get(transport.NewOrigin(origin))
}

// Fetch issues req against origin through the retry state machine. A
// transport that cannot be dialed is reported as exhausted.
func (s *Session) Fetch(ctx context.Context, origin string, req types.PageRequest) types.FetchOutcome {
	t, err := s.Transport(origin)
	if err != nil {
		return types.Exhausted(&types.FetchError{Origin: origin, Path: req.Path, Err: err})
	}
	return s.fetcher.Fetch(ctx, t, req)
}
