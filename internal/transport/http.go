package transport

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"syscall"
	"time"

	"github.com/andybalholm/brotli"

	"github.com/IshaanNene/pagearchive/internal/config"
	"github.com/IshaanNene/pagearchive/internal/types"
)

// HTTPTransport implements Transport with a dedicated keep-alive client per origin.
type HTTPTransport struct {
	origin Origin
	cfg    *config.FetcherConfig
	client *http.Client
	jar    http.CookieJar
	logger *slog.Logger
}

// NewHTTPTransport creates a transport for the given origin.
func NewHTTPTransport(origin Origin, cfg *config.FetcherConfig, logger *slog.Logger) (*HTTPTransport, error) {
	// The jar survives reconnects so session cookies are kept.
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}

	t := &HTTPTransport{
		origin: origin,
		cfg:    cfg,
		jar:    jar,
		logger: logger.With("component", "http_transport", "origin", origin.String()),
	}
	t.client = t.newClient()
	return t, nil
}

func (t *HTTPTransport) newClient() *http.Client {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        1,
		MaxIdleConnsPerHost: 1,
		MaxConnsPerHost:     1,
		IdleConnTimeout:     t.cfg.IdleConnTimeout,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: t.cfg.TLSInsecure,
		},
		DisableCompression: true, // We handle decompression ourselves (including brotli)
	}

	return &http.Client{
		Transport: transport,
		Jar:       t.jar,
		Timeout:   t.cfg.RequestTimeout,
		// Redirects are surfaced to the fetcher, which decides what to do.
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// Origin returns the host this transport talks to.
func (t *HTTPTransport) Origin() Origin {
	return t.origin
}

// RoundTrip executes an HTTP request and returns the fully read response.
func (t *HTTPTransport) RoundTrip(ctx context.Context, req types.PageRequest) (*Response, error) {
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.MethodOrDefault(), t.origin.URL(req.Path), body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	if t.cfg.UserAgent != "" {
		httpReq.Header.Set("User-Agent", t.cfg.UserAgent)
	}
	httpReq.Header.Set("Accept-Language", "en-US,en;q=0.9")
	httpReq.Header.Set("Accept-Encoding", "gzip, deflate, br")
	for key, values := range req.Headers {
		for _, v := range values {
			httpReq.Header.Set(key, v)
		}
	}

	start := time.Now()
	httpResp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	reader, err := decompressReader(httpResp, httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("decompress body: %w", err)
	}
	if t.cfg.MaxBodySize > 0 {
		reader = io.LimitReader(reader, t.cfg.MaxBodySize+1)
	}

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	if t.cfg.MaxBodySize > 0 && int64(len(data)) > t.cfg.MaxBodySize {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", types.ErrBodyTooLarge, req.Path, t.cfg.MaxBodySize)
	}

	t.logger.Debug("round trip complete",
		"path", req.Path,
		"status", httpResp.StatusCode,
		"size", len(data),
		"duration", time.Since(start),
	)

	return &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       data,
	}, nil
}

// Reconnect discards pooled connections and starts over with a fresh client.
func (t *HTTPTransport) Reconnect() error {
	t.client.CloseIdleConnections()
	t.client = t.newClient()
	t.logger.Debug("transport reconnected")
	return nil
}

// Close releases resources.
func (t *HTTPTransport) Close() error {
	t.client.CloseIdleConnections()
	return nil
}

// decompressReader wraps a reader with the appropriate decompressor.
// Handles gzip, deflate, and brotli (br) encodings.
func decompressReader(resp *http.Response, reader io.Reader) (io.Reader, error) {
	switch resp.Header.Get("Content-Encoding") {
	case "gzip":
		return gzip.NewReader(reader)
	case "deflate":
		return flate.NewReader(reader), nil
	case "br":
		return brotli.NewReader(reader), nil
	default:
		return reader, nil
	}
}

// IsStaleConn reports whether err looks like a dead keep-alive connection
// that a fresh dial will fix: resets, unexpected EOF, a server closing an
// idle connection.
func IsStaleConn(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "server closed idle connection") ||
		strings.Contains(msg, "connection reset by peer") ||
		strings.Contains(msg, "broken pipe")
}
