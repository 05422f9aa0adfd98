// Package transport provides a persistent request/response channel to a
// single origin that can be rebuilt when its connection goes stale.
package transport

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/IshaanNene/pagearchive/internal/types"
)

// Origin identifies one remote host.
type Origin struct {
	Host string
	TLS  bool
}

// NewOrigin parses "host", "https://host" or "http://host".
func NewOrigin(raw string) Origin {
	switch {
	case strings.HasPrefix(raw, "http://"):
		return Origin{Host: strings.TrimSuffix(strings.TrimPrefix(raw, "http://"), "/"), TLS: false}
	case strings.HasPrefix(raw, "https://"):
		return Origin{Host: strings.TrimSuffix(strings.TrimPrefix(raw, "https://"), "/"), TLS: true}
	default:
		return Origin{Host: strings.TrimSuffix(raw, "/"), TLS: true}
	}
}

// Scheme returns "https" or "http".
func (o Origin) Scheme() string {
	if o.TLS {
		return "https"
	}
	return "http"
}

// URL joins the origin with an origin-relative path.
func (o Origin) URL(path string) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return fmt.Sprintf("%s://%s%s", o.Scheme(), o.Host, path)
}

func (o Origin) String() string {
	return o.Scheme() + "://" + o.Host
}

// Response is a fully read response. The body is never streamed past the
// transport so nothing partially read survives a retry.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Transport is a reconnectable channel to one origin. It is owned by a single
// crawl loop and is not safe for concurrent use.
type Transport interface {
	// Origin returns the host this transport talks to.
	Origin() Origin

	// RoundTrip performs one request without following redirects.
	RoundTrip(ctx context.Context, req types.PageRequest) (*Response, error)

	// Reconnect drops the current connection and dials a fresh one.
	Reconnect() error

	// Close releases any resources held by the transport.
	Close() error
}
