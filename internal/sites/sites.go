// Package sites turns a site name and a target identifier into an
// engine.Target with its feeds, schema and home document.
package sites

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"github.com/IshaanNene/pagearchive/internal/config"
	"github.com/IshaanNene/pagearchive/internal/engine"
	"github.com/IshaanNene/pagearchive/internal/types"
)

// Builder validates id and builds the target for it.
type Builder func(cfg *config.Config, id string, logger *slog.Logger) (engine.Target, error)

var builders = map[string]Builder{
	"steam":   Steam,
	"twitch":  Twitch,
	"twitter": Twitter,
}

// Lookup returns the builder for a site.
func Lookup(site string) (Builder, bool) {
	b, ok := builders[site]
	return b, ok
}

// Names returns every known site in sorted order.
func Names() []string {
	names := make([]string, 0, len(builders))
	for name := range builders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build validates id and builds the target of site.
func Build(cfg *config.Config, site, id string, logger *slog.Logger) (engine.Target, error) {
	b, ok := Lookup(site)
	if !ok {
		return engine.Target{}, &types.ConfigError{Field: "site", Err: fmt.Errorf("unknown site %q", site)}
	}
	return b(cfg, id, logger)
}

var usernameRegex = regexp.MustCompile(`^[A-Za-z0-9_]{1,15}$`)

// numericID accepts canonical positive decimal ids only: no sign, no
// leading zeros, no whitespace.
func numericID(field, id string) error {
	n, err := strconv.ParseUint(id, 10, 64)
	if err != nil || n == 0 || strconv.FormatUint(n, 10) != id {
		return &types.ConfigError{Field: field, Err: fmt.Errorf("%w: %q is not a numeric id", types.ErrInvalidTarget, id)}
	}
	return nil
}

func targetDir(cfg *config.Config, site, id string) string {
	return filepath.Join(cfg.Storage.DataDir, site, id)
}
