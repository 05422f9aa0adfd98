package sites

import (
	"log/slog"
	"net/http"

	"github.com/IshaanNene/pagearchive/internal/config"
	"github.com/IshaanNene/pagearchive/internal/engine"
	"github.com/IshaanNene/pagearchive/internal/extract/twitch"
	"github.com/IshaanNene/pagearchive/internal/storage"
)

// Twitch builds the chat replay target of a VOD.
func Twitch(cfg *config.Config, vodID string, _ *slog.Logger) (engine.Target, error) {
	if err := numericID("twitch vod id", vodID); err != nil {
		return engine.Target{}, err
	}

	headers := make(http.Header)
	headers.Set("Client-ID", twitch.ClientID)

	return engine.Target{
		Site:   "twitch",
		ID:     vodID,
		Dir:    targetDir(cfg, "twitch", vodID),
		Schema: storage.Schema{RecordTypes: []string{twitch.RecordChat}},
		Feeds: []engine.Feed{{
			Name:       "chat",
			Kind:       config.FeedTwitchChat,
			Discipline: engine.DisciplineCursor,
			Origin:     twitch.APIOrigin,
			Path:       func(_ int, cursor string) string { return twitch.CommentsPath(vodID, cursor) },
			Extract:    twitch.ChatPage(vodID),
			Headers:    headers,
		}},
	}, nil
}
