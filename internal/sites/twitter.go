package sites

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/IshaanNene/pagearchive/internal/config"
	"github.com/IshaanNene/pagearchive/internal/engine"
	"github.com/IshaanNene/pagearchive/internal/extract"
	"github.com/IshaanNene/pagearchive/internal/extract/twitter"
	"github.com/IshaanNene/pagearchive/internal/fetcher"
	"github.com/IshaanNene/pagearchive/internal/storage"
	"github.com/IshaanNene/pagearchive/internal/types"
)

// Twitter builds the search timeline target of a user's own tweets.
func Twitter(cfg *config.Config, username string, logger *slog.Logger) (engine.Target, error) {
	if !usernameRegex.MatchString(username) {
		return engine.Target{}, &types.ConfigError{
			Field: "twitter username",
			Err:   fmt.Errorf("%w: %q is not a twitter username", types.ErrInvalidTarget, username),
		}
	}

	auth := NewGuestToken(username, cfg.Twitter.BearerToken, cfg.Twitter.TokenRefreshDelay, fetcher.Sleep, logger)
	pageSize := cfg.Twitter.PageSize

	return engine.Target{
		Site: "twitter",
		ID:   username,
		Dir:  targetDir(cfg, "twitter", username),
		Schema: storage.Schema{
			RecordTypes: []string{twitter.RecordTweets},
			Relations:   []string{twitter.RelTweetImages, twitter.RelTweetVideos},
		},
		Feeds: []engine.Feed{{
			Name:       "search",
			Kind:       config.FeedTwitterSearch,
			Discipline: engine.DisciplineCursor,
			Origin:     twitter.APIOrigin,
			Path:       func(_ int, cursor string) string { return twitter.SearchPath(username, cursor, pageSize) },
			PageSize:   pageSize,
			Extract:    extract.Static(twitter.SearchPage(username)),
			Auth:       auth,
		}},
	}, nil
}

// GuestToken supplies the headers of the public web client: the static
// bearer token and a guest token scraped from the search page.
type GuestToken struct {
	username string
	bearer   string
	delay    time.Duration
	sleep    fetcher.SleepFunc
	logger   *slog.Logger

	token string
}

// NewGuestToken creates a provider for username's search. Refresh waits
// delay before asking for a new token.
func NewGuestToken(username, bearer string, delay time.Duration, sleep fetcher.SleepFunc, logger *slog.Logger) *GuestToken {
	return &GuestToken{
		username: username,
		bearer:   bearer,
		delay:    delay,
		sleep:    sleep,
		logger:   logger.With("component", "guest_token", "user", username),
	}
}

// Headers implements engine.HeaderProvider.
func (g *GuestToken) Headers(ctx context.Context, s *engine.Session) (http.Header, error) {
	if g.token == "" {
		if err := g.fetch(ctx, s); err != nil {
			return nil, err
		}
	}

	h := make(http.Header)
	h.Set("Authorization", "Bearer "+g.bearer)
	h.Set("X-Guest-Token", g.token)
	h.Set("Referer", "https://"+twitter.WebOrigin+twitter.SearchPagePath(g.username))
	return h, nil
}

// Refresh implements engine.HeaderProvider.
func (g *GuestToken) Refresh(ctx context.Context, s *engine.Session) error {
	g.token = ""
	if err := g.sleep(ctx, g.delay); err != nil {
		return err
	}
	return g.fetch(ctx, s)
}

func (g *GuestToken) fetch(ctx context.Context, s *engine.Session) error {
	req := types.NewPageRequest(twitter.SearchPagePath(g.username))
	req.Tag = "guest_token"

	out := s.Fetch(ctx, twitter.WebOrigin, req)
	if !out.OK() {
		if out.Err != nil {
			return fmt.Errorf("guest token: %w", out.Err)
		}
		return fmt.Errorf("guest token: search page answered %s", out.Kind)
	}

	token, err := twitter.ParseGuestToken(out.Headers, out.Body)
	if err != nil {
		return fmt.Errorf("guest token: %w", err)
	}
	g.token = token
	g.logger.Debug("guest token obtained")
	return nil
}
