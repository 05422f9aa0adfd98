// Package transporttest provides a scripted in-memory Transport for tests.
package transporttest

import (
	"context"
	"net/http"
	"sync"

	"github.com/IshaanNene/pagearchive/internal/transport"
	"github.com/IshaanNene/pagearchive/internal/types"
)

// HandlerFunc answers one request.
type HandlerFunc func(req types.PageRequest) (*transport.Response, error)

// Step is one scripted reply.
type Step struct {
	Status int
	Body   string
	Header http.Header
	Err    error
}

// OK is a 200 reply with body.
func OK(body string) Step {
	return Step{Status: http.StatusOK, Body: body}
}

// Status is an empty reply with the given status code.
func Status(code int) Step {
	return Step{Status: code}
}

// Fail is a reply that never arrives.
func Fail(err error) Step {
	return Step{Err: err}
}

// Reply converts the step into a transport result.
func (s Step) Reply() (*transport.Response, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	header := s.Header
	if header == nil {
		header = make(http.Header)
	}
	return &transport.Response{StatusCode: s.Status, Header: header, Body: []byte(s.Body)}, nil
}

// Sequence replays steps in order and repeats the last one forever.
func Sequence(steps ...Step) HandlerFunc {
	var mu sync.Mutex
	i := 0
	return func(types.PageRequest) (*transport.Response, error) {
		mu.Lock()
		defer mu.Unlock()
		step := steps[i]
		if i < len(steps)-1 {
			i++
		}
		return step.Reply()
	}
}

// Routes answers by request path. Unknown paths get a 404.
func Routes(routes map[string]Step) HandlerFunc {
	return func(req types.PageRequest) (*transport.Response, error) {
		if step, ok := routes[req.Path]; ok {
			return step.Reply()
		}
		return Status(http.StatusNotFound).Reply()
	}
}

// Fake is a Transport whose replies come from a HandlerFunc.
type Fake struct {
	origin  transport.Origin
	handler HandlerFunc

	mu         sync.Mutex
	requests   []types.PageRequest
	reconnects int
	closed     bool
}

// NewFake creates a Fake for origin.
func NewFake(origin string, handler HandlerFunc) *Fake {
	return &Fake{origin: transport.NewOrigin(origin), handler: handler}
}

// Origin implements transport.Transport.
func (f *Fake) Origin() transport.Origin { return f.origin }

// RoundTrip implements transport.Transport.
func (f *Fake) RoundTrip(ctx context.Context, req types.PageRequest) (*transport.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.requests = append(f.requests, req.Clone())
	f.mu.Unlock()
	return f.handler(req)
}

// Reconnect implements transport.Transport.
func (f *Fake) Reconnect() error {
	f.mu.Lock()
	f.reconnects++
	f.mu.Unlock()
	return nil
}

// Close implements transport.Transport.
func (f *Fake) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

// Requests returns every request seen so far.
func (f *Fake) Requests() []types.PageRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.PageRequest(nil), f.requests...)
}

// Paths returns the path of every request seen so far.
func (f *Fake) Paths() []string {
	reqs := f.Requests()
	paths := make([]string, len(reqs))
	for i, r := range reqs {
		paths[i] = r.Path
	}
	return paths
}

// Reconnects returns how many times Reconnect was called.
func (f *Fake) Reconnects() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reconnects
}

// Closed reports whether Close was called.
func (f *Fake) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}
