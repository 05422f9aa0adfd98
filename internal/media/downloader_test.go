package media

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IshaanNene/pagearchive/internal/config"
	"github.com/IshaanNene/pagearchive/internal/fetcher"
	"github.com/IshaanNene/pagearchive/internal/observability"
	"github.com/IshaanNene/pagearchive/internal/transport"
	"github.com/IshaanNene/pagearchive/internal/transport/transporttest"
	"github.com/IshaanNene/pagearchive/internal/types"
)

const imageOrigin = "steamuserimages-a.akamaihd.net"

func newTestDownloader(t *testing.T, handler transporttest.HandlerFunc, maxSizeMB int64) (*Downloader, *transporttest.Fake, *observability.Metrics, string) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.DefaultConfig().Fetcher
	cfg.MaxAttempts = 2
	f := fetcher.New(&cfg, logger, fetcher.WithSleep(func(ctx context.Context, d time.Duration) error { return ctx.Err() }))

	fake := transporttest.NewFake(imageOrigin, handler)
	pool := transport.NewPool(func(transport.Origin) (transport.Transport, error) { return fake, nil })
	t.Cleanup(func() { pool.Close() })

	dir := t.TempDir()
	metrics := observability.NewMetrics(logger)
	return NewDownloader(dir, f, pool, maxSizeMB, metrics, logger), fake, metrics, dir
}

func TestDownloadWritesFile(t *testing.T) {
	d, fake, _, dir := newTestDownloader(t, transporttest.Sequence(transporttest.OK("PNGDATA")), 0)

	result, err := d.Download(context.Background(), types.Asset{Origin: imageOrigin, Path: "/ugc/1/2/", File: "screenshots/77.png"})
	require.NoError(t, err)
	assert.False(t, result.Skipped)
	assert.Equal(t, int64(7), result.Size)
	assert.Equal(t, MediaImage, result.MediaType)
	assert.Len(t, result.Hash, 64)

	data, err := os.ReadFile(filepath.Join(dir, "screenshots", "77.png"))
	require.NoError(t, err)
	assert.Equal(t, "PNGDATA", string(data))
	assert.Equal(t, []string{"/ugc/1/2/"}, fake.Paths())

	entries, err := os.ReadDir(filepath.Join(dir, "screenshots"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestDownloadSkipsExistingFile(t *testing.T) {
	d, fake, _, dir := newTestDownloader(t, transporttest.Sequence(transporttest.OK("new")), 0)
	path := filepath.Join(dir, "guideIMG", "5", "a_b.jpg")
	require.NoError(t, WriteFileAtomic(path, []byte("old")))

	result, err := d.Download(context.Background(), types.Asset{Origin: imageOrigin, Path: "/ugc/a/b/", File: "guideIMG/5/a_b.jpg"})
	require.NoError(t, err)
	assert.True(t, result.Skipped)
	assert.Empty(t, fake.Requests())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "old", string(data))
}

func TestDownloadRejectsEscapingPath(t *testing.T) {
	d, fake, _, _ := newTestDownloader(t, transporttest.Sequence(transporttest.OK("x")), 0)

	_, err := d.Download(context.Background(), types.Asset{Origin: imageOrigin, Path: "/x", File: "../outside.png"})
	assert.Error(t, err)
	assert.Empty(t, fake.Requests())
}

func TestDownloadEnforcesMaxSize(t *testing.T) {
	big := strings.Repeat("x", 1024*1024+1)
	d, _, _, dir := newTestDownloader(t, transporttest.Sequence(transporttest.OK(big)), 1)

	_, err := d.Download(context.Background(), types.Asset{Origin: imageOrigin, Path: "/big", File: "big.png"})
	assert.ErrorIs(t, err, ErrTooLarge)
	_, statErr := os.Stat(filepath.Join(dir, "big.png"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestDownloadAllCountsResults(t *testing.T) {
	d, _, metrics, dir := newTestDownloader(t, transporttest.Routes(map[string]transporttest.Step{
		"/ok":   transporttest.OK("data"),
		"/gone": transporttest.Status(http.StatusNotFound),
	}), 0)
	require.NoError(t, WriteFileAtomic(filepath.Join(dir, "have.jpg"), []byte("x")))

	stats := d.DownloadAll(context.Background(), []types.Asset{
		{Origin: imageOrigin, Path: "/ok", File: "ok.jpg"},
		{Origin: imageOrigin, Path: "/gone", File: "gone.jpg"},
		{Origin: imageOrigin, Path: "/ok", File: "have.jpg"},
	})
	assert.Equal(t, Stats{Downloaded: 1, Skipped: 1, Failed: 1}, stats)
	assert.Equal(t, int64(1), metrics.AssetsDownloaded.Load())
	assert.Equal(t, int64(1), metrics.AssetsSkipped.Load())
	assert.Equal(t, int64(1), metrics.AssetsFailed.Load())
}

func TestWriteFileAtomicReplaces(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "home.html")
	require.NoError(t, WriteFileAtomic(path, []byte("one")))
	require.NoError(t, WriteFileAtomic(path, []byte("two")))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "two", string(data))
}
