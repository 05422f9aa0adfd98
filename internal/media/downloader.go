// Package media downloads the binary assets extractors ask for into a
// target's data directory.
package media

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/IshaanNene/pagearchive/internal/fetcher"
	"github.com/IshaanNene/pagearchive/internal/observability"
	"github.com/IshaanNene/pagearchive/internal/transport"
	"github.com/IshaanNene/pagearchive/internal/types"
)

// MediaType classifies the type of media.
type MediaType string

const (
	MediaImage MediaType = "image"
	MediaVideo MediaType = "video"
	MediaOther MediaType = "other"
)

// ErrTooLarge is returned for assets above the configured size limit.
var ErrTooLarge = errors.New("asset too large")

// DownloadResult tracks a downloaded file.
type DownloadResult struct {
	Asset     types.Asset   `json:"asset"`
	LocalPath string        `json:"local_path"`
	Size      int64         `json:"size"`
	MediaType MediaType     `json:"media_type"`
	Hash      string        `json:"hash,omitempty"`
	Skipped   bool          `json:"skipped"`
	Duration  time.Duration `json:"duration"`
}

// Stats counts the results of a DownloadAll call.
type Stats struct {
	Downloaded int
	Skipped    int
	Failed     int
}

// Downloader fetches assets through the same retrying fetcher and transport
// pool as pages. A file that already exists is never fetched again.
type Downloader struct {
	dataDir string
	fetcher *fetcher.Fetcher
	pool    *transport.Pool
	maxSize int64
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewDownloader creates a downloader writing under dataDir.
func NewDownloader(dataDir string, f *fetcher.Fetcher, pool *transport.Pool, maxSizeMB int64, metrics *observability.Metrics, logger *slog.Logger) *Downloader {
	return &Downloader{
		dataDir: dataDir,
		fetcher: f,
		pool:    pool,
		maxSize: maxSizeMB * 1024 * 1024,
		metrics: metrics,
		logger:  logger.With("component", "media_downloader"),
	}
}

// Download fetches one asset into dataDir/asset.File.
func (d *Downloader) Download(ctx context.Context, asset types.Asset) (*DownloadResult, error) {
	if !filepath.IsLocal(asset.File) {
		return nil, fmt.Errorf("asset file %q escapes the data directory", asset.File)
	}

	start := time.Now()
	localPath := filepath.Join(d.dataDir, asset.File)
	result := &DownloadResult{
		Asset:     asset,
		LocalPath: localPath,
		MediaType: classifyMedia(localPath),
	}

	if stat, err := os.Stat(localPath); err == nil {
		result.Size = stat.Size()
		result.Skipped = true
		return result, nil
	}

	t, err := d.pool.Get(transport.NewOrigin(asset.Origin))
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", asset.Origin, err)
	}

	req := types.NewPageRequest(asset.Path)
	req.Tag = "asset"
	out := d.fetcher.Fetch(ctx, t, req)
	if !out.OK() {
		if out.Err != nil {
			return nil, out.Err
		}
		return nil, fmt.Errorf("download %s%s: %s", asset.Origin, asset.Path, out.Kind)
	}

	if d.maxSize > 0 && int64(len(out.Body)) > d.maxSize {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrTooLarge, len(out.Body), d.maxSize)
	}

	if err := WriteFileAtomic(localPath, out.Body); err != nil {
		return nil, err
	}

	sum := sha256.Sum256(out.Body)
	result.Hash = hex.EncodeToString(sum[:])
	result.Size = int64(len(out.Body))
	result.Duration = time.Since(start)

	d.logger.Debug("file downloaded",
		"file", asset.File,
		"size", result.Size,
		"type", result.MediaType,
		"hash", result.Hash[:16],
		"duration", result.Duration,
	)
	return result, nil
}

// DownloadAll fetches assets one after another. Failures are logged and
// counted, never returned: a missing image must not fail its page.
func (d *Downloader) DownloadAll(ctx context.Context, assets []types.Asset) Stats {
	var stats Stats
	for _, asset := range assets {
		if ctx.Err() != nil {
			stats.Failed++
			continue
		}
		result, err := d.Download(ctx, asset)
		switch {
		case err != nil:
			stats.Failed++
			d.metrics.ObserveAsset(false, false)
			d.logger.Warn("download failed", "origin", asset.Origin, "path", asset.Path, "error", err)
		case result.Skipped:
			stats.Skipped++
			d.metrics.ObserveAsset(false, true)
		default:
			stats.Downloaded++
			d.metrics.ObserveAsset(true, false)
		}
	}
	return stats
}

// WriteFileAtomic writes data to a temp file next to path and renames it
// into place, so readers never see a partial file.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}

	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := f.Name()

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename file: %w", err)
	}
	return nil
}

func classifyMedia(name string) MediaType {
	ct := strings.ToLower(mime.TypeByExtension(filepath.Ext(name)))
	switch {
	case strings.HasPrefix(ct, "image/"):
		return MediaImage
	case strings.HasPrefix(ct, "video/"):
		return MediaVideo
	default:
		return MediaOther
	}
}
