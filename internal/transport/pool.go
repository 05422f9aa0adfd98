package transport

import (
	"errors"
	"log/slog"

	"github.com/IshaanNene/pagearchive/internal/config"
)

// Dialer creates a transport for an origin.
type Dialer func(origin Origin) (Transport, error)

// HTTPDialer returns a Dialer producing HTTPTransports.
func HTTPDialer(cfg *config.FetcherConfig, logger *slog.Logger) Dialer {
	return func(origin Origin) (Transport, error) {
		return NewHTTPTransport(origin, cfg, logger)
	}
}

// Pool holds one transport per origin for the lifetime of one target's crawl.
// It belongs to a single crawl loop and takes no locks.
type Pool struct {
	dial       Dialer
	transports map[string]Transport
	order      []string
}

// NewPool creates an empty pool.
func NewPool(dial Dialer) *Pool {
	return &Pool{
		dial:       dial,
		transports: make(map[string]Transport),
	}
}

// Get returns the transport for origin, dialing it on first use.
func (p *Pool) Get(origin Origin) (Transport, error) {
	key := origin.String()
	if t, ok := p.transports[key]; ok {
		return t, nil
	}
	t, err := p.dial(origin)
	if err != nil {
		return nil, err
	}
	p.transports[key] = t
	p.order = append(p.order, key)
	return t, nil
}

// Len returns the number of open transports.
func (p *Pool) Len() int {
	return len(p.transports)
}

// Close closes every transport in the pool.
func (p *Pool) Close() error {
	var errs []error
	for _, key := range p.order {
		if err := p.transports[key].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	p.transports = make(map[string]Transport)
	p.order = nil
	return errors.Join(errs...)
}
