package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/IshaanNene/pagearchive/internal/extract"
	"github.com/IshaanNene/pagearchive/internal/storage"
	"github.com/IshaanNene/pagearchive/internal/types"
)

// Discipline is how a feed advances from one page to the next.
type Discipline int

const (
	// DisciplineIndex requests pages 1, 2, 3... until a page comes back empty.
	DisciplineIndex Discipline = iota
	// DisciplineCount is an index feed whose first page reports a total.
	DisciplineCount
	// DisciplineCursor passes the opaque token each page returns to the next request.
	DisciplineCursor
)

func (d Discipline) String() string {
	switch d {
	case DisciplineIndex:
		return "index"
	case DisciplineCount:
		return "count"
	case DisciplineCursor:
		return "cursor"
	default:
		return "unknown"
	}
}

// HeaderProvider supplies per-request headers that can go stale, such as a
// guest token. The session gives it access to the run's transports.
type HeaderProvider interface {
	Headers(ctx context.Context, s *Session) (http.Header, error)
	Refresh(ctx context.Context, s *Session) error
}

// PathFunc builds the origin-relative path of page index (1-based) or of
// the page at cursor. Index feeds ignore cursor and cursor feeds ignore index.
type PathFunc func(index int, cursor string) string

// Feed is one paginated listing of a target.
type Feed struct {
	// Name identifies the feed in logs and reports, e.g. "guides".
	Name string

	// Kind selects the safety ceiling from config, e.g. config.FeedSteamGuides.
	Kind string

	Discipline Discipline

	// Origin is the host serving every page of the feed.
	Origin string

	Path PathFunc

	// PageSize is the number of items per page, used with a reported total.
	PageSize int

	// Ceiling overrides the configured page ceiling when positive.
	Ceiling int

	Extract extract.Factory

	// Headers are sent with every page and follow-up request.
	Headers http.Header

	// Auth is consulted before every page request when set.
	Auth HeaderProvider
}

// Validate checks the feed can be driven.
func (f Feed) Validate() error {
	var errs []error
	if f.Name == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if f.Origin == "" {
		errs = append(errs, errors.New("origin is required"))
	}
	if f.Path == nil {
		errs = append(errs, errors.New("path builder is required"))
	}
	if f.Extract == nil {
		errs = append(errs, errors.New("extractor is required"))
	}
	if f.Discipline < DisciplineIndex || f.Discipline > DisciplineCursor {
		errs = append(errs, fmt.Errorf("unknown discipline %d", f.Discipline))
	}
	if err := errors.Join(errs...); err != nil {
		return &types.ConfigError{Field: "feed " + f.Name, Err: err}
	}
	return nil
}

// PathTemplate returns a PathFunc substituting {page} and {cursor} in
// tmpl. The cursor is query-escaped. An empty cursor renders as empty.
func PathTemplate(tmpl string) PathFunc {
	return func(index int, cursor string) string {
		r := strings.NewReplacer(
			"{page}", strconv.Itoa(index),
			"{cursor}", url.QueryEscape(cursor),
		)
		return r.Replace(tmpl)
	}
}

// HomeDocument is a page saved verbatim once per target.
type HomeDocument struct {
	Origin string
	Path   string

	// File is relative to the target directory.
	File string
}

// Target is one thing to archive: a Steam app, a Twitch VOD, a Twitter user.
type Target struct {
	// Site names the site family, e.g. "steam".
	Site string

	// ID is the site-specific identifier, already validated.
	ID string

	// Dir holds the target's files: the SQLite database, the home snapshot
	// and downloaded assets.
	Dir string

	Home *HomeDocument

	Schema storage.Schema

	// Feeds are drained one after another in order.
	Feeds []Feed
}

// Key returns "site/id".
func (t Target) Key() string {
	return t.Site + "/" + t.ID
}

// Validate checks the target and every feed.
func (t Target) Validate() error {
	if t.Site == "" || t.ID == "" {
		return &types.ConfigError{Field: "target", Err: fmt.Errorf("%w: site and id are required", types.ErrInvalidTarget)}
	}
	if t.Dir == "" {
		return &types.ConfigError{Field: "target " + t.Key(), Err: errors.New("data directory is required")}
	}
	if t.Home != nil && !filepath.IsLocal(t.Home.File) {
		return &types.ConfigError{Field: "target " + t.Key(), Err: fmt.Errorf("home file %q escapes the target directory", t.Home.File)}
	}
	if err := t.Schema.Validate(); err != nil {
		return &types.ConfigError{Field: "target " + t.Key(), Err: err}
	}
	for _, f := range t.Feeds {
		if err := f.Validate(); err != nil {
			return err
		}
	}
	return nil
}
