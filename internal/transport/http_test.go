package transport

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"syscall"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IshaanNene/pagearchive/internal/config"
	"github.com/IshaanNene/pagearchive/internal/types"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

func newTestTransport(t *testing.T, srv *httptest.Server) *HTTPTransport {
	t.Helper()
	cfg := config.DefaultConfig().Fetcher
	tr, err := NewHTTPTransport(NewOrigin(srv.URL), &cfg, testLogger)
	require.NoError(t, err)
	t.Cleanup(func() { tr.Close() })
	return tr
}

func TestNewOrigin(t *testing.T) {
	tests := []struct {
		raw  string
		want Origin
	}{
		{"steamcommunity.com", Origin{Host: "steamcommunity.com", TLS: true}},
		{"https://api.twitch.tv/", Origin{Host: "api.twitch.tv", TLS: true}},
		{"http://127.0.0.1:8080", Origin{Host: "127.0.0.1:8080", TLS: false}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NewOrigin(tt.raw), tt.raw)
	}

	o := NewOrigin("steamcommunity.com")
	assert.Equal(t, "https://steamcommunity.com/app/440", o.URL("app/440"))
}

func TestRoundTripDoesNotFollowRedirects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/old" {
			http.Redirect(w, r, "/new", http.StatusFound)
			return
		}
		fmt.Fprint(w, "new")
	}))
	defer srv.Close()

	tr := newTestTransport(t, srv)
	resp, err := tr.RoundTrip(context.Background(), types.NewPageRequest("/old"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/new", resp.Header.Get("Location"))
}

func TestRoundTripSendsHeadersAndDecodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "abc", r.Header.Get("X-Guest-Token"))
		switch r.URL.Query().Get("enc") {
		case "gzip":
			w.Header().Set("Content-Encoding", "gzip")
			gz := gzip.NewWriter(w)
			io.WriteString(gz, "gzipped body")
			gz.Close()
		case "br":
			w.Header().Set("Content-Encoding", "br")
			br := brotli.NewWriter(w)
			io.WriteString(br, "brotli body")
			br.Close()
		default:
			io.WriteString(w, "plain body")
		}
	}))
	defer srv.Close()

	tr := newTestTransport(t, srv)
	for enc, want := range map[string]string{"gzip": "gzipped body", "br": "brotli body", "": "plain body"} {
		req := types.NewPageRequest("/page?enc=" + enc)
		req.Headers.Set("X-Guest-Token", "abc")
		resp, err := tr.RoundTrip(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, want, string(resp.Body), enc)
	}
}

func TestReconnectKeepsWorking(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "ok")
	}))
	defer srv.Close()

	tr := newTestTransport(t, srv)
	require.NoError(t, tr.Reconnect())
	resp, err := tr.RoundTrip(context.Background(), types.NewPageRequest("/"))
	require.NoError(t, err)
	assert.Equal(t, "ok", string(resp.Body))
}

func TestIsStaleConn(t *testing.T) {
	assert.True(t, IsStaleConn(io.ErrUnexpectedEOF))
	assert.True(t, IsStaleConn(fmt.Errorf("read: %w", syscall.ECONNRESET)))
	assert.True(t, IsStaleConn(errors.New("http: server closed idle connection")))
	assert.False(t, IsStaleConn(context.Canceled))
	assert.False(t, IsStaleConn(errors.New("tls: handshake failure")))
	assert.False(t, IsStaleConn(nil))
}

func TestPoolReusesTransports(t *testing.T) {
	dials := 0
	pool := NewPool(func(origin Origin) (Transport, error) {
		dials++
		cfg := config.DefaultConfig().Fetcher
		return NewHTTPTransport(origin, &cfg, testLogger)
	})

	a, err := pool.Get(NewOrigin("steamcommunity.com"))
	require.NoError(t, err)
	b, err := pool.Get(NewOrigin("https://steamcommunity.com"))
	require.NoError(t, err)
	_, err = pool.Get(NewOrigin("steamuserimages-a.akamaihd.net"))
	require.NoError(t, err)

	assert.Same(t, a, b)
	assert.Equal(t, 2, dials)
	assert.Equal(t, 2, pool.Len())
	require.NoError(t, pool.Close())
	assert.Equal(t, 0, pool.Len())
	assert.True(t, strings.HasPrefix(a.Origin().String(), "https://"))
}

func TestRoundTripRejectsOversizedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/fits":
			io.WriteString(w, strings.Repeat("x", 40))
		case "/gzip":
			w.Header().Set("Content-Encoding", "gzip")
			gz := gzip.NewWriter(w)
			io.WriteString(gz, strings.Repeat("x", 100))
			gz.Close()
		default:
			io.WriteString(w, strings.Repeat("x", 100))
		}
	}))
	defer srv.Close()

	cfg := config.DefaultConfig().Fetcher
	cfg.MaxBodySize = 40
	tr, err := NewHTTPTransport(NewOrigin(srv.URL), &cfg, testLogger)
	require.NoError(t, err)
	defer tr.Close()

	resp, err := tr.RoundTrip(context.Background(), types.NewPageRequest("/fits"))
	require.NoError(t, err)
	assert.Len(t, resp.Body, 40)

	_, err = tr.RoundTrip(context.Background(), types.NewPageRequest("/big"))
	assert.ErrorIs(t, err, types.ErrBodyTooLarge)

	// The limit applies to the decoded body.
	_, err = tr.RoundTrip(context.Background(), types.NewPageRequest("/gzip"))
	assert.ErrorIs(t, err, types.ErrBodyTooLarge)
}
