package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/IshaanNene/pagearchive/internal/media"
	"github.com/IshaanNene/pagearchive/internal/types"
)

// SaveSnapshot stores the target's home document under dir unless it is
// already there. The write goes through a temp file and a rename, so an
// interrupted run never leaves a truncated snapshot that a later run would
// mistake for a complete one.
func SaveSnapshot(ctx context.Context, s *Session, dir string, home HomeDocument, logger *slog.Logger) (string, error) {
	path := filepath.Join(dir, home.File)
	if _, err := os.Stat(path); err == nil {
		return HomeExisting, nil
	}

	req := types.NewPageRequest(home.Path)
	req.Tag = "home"
	out := s.Fetch(ctx, home.Origin, req)
	if !out.OK() {
		return HomeFailed, fmt.Errorf("home snapshot: %w", outcomeError(out))
	}

	if err := media.WriteFileAtomic(path, out.Body); err != nil {
		return HomeFailed, fmt.Errorf("home snapshot: %w", err)
	}

	logger.Info("home snapshot saved", "file", path, "bytes", len(out.Body))
	return HomeCaptured, nil
}
