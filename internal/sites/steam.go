package sites

import (
	"log/slog"

	"github.com/IshaanNene/pagearchive/internal/config"
	"github.com/IshaanNene/pagearchive/internal/engine"
	"github.com/IshaanNene/pagearchive/internal/extract"
	"github.com/IshaanNene/pagearchive/internal/extract/steam"
	"github.com/IshaanNene/pagearchive/internal/storage"
)

// Steam builds the community hub target of a Steam application: workshop
// items, screenshots, guides and discussions, in that order.
func Steam(cfg *config.Config, appID string, _ *slog.Logger) (engine.Target, error) {
	if err := numericID("steam app id", appID); err != nil {
		return engine.Target{}, err
	}

	indexFeed := func(name, kind string, path func(string, int) string, e extract.Extractor) engine.Feed {
		return engine.Feed{
			Name:       name,
			Kind:       kind,
			Discipline: engine.DisciplineIndex,
			Origin:     steam.CommunityOrigin,
			Path:       func(index int, _ string) string { return path(appID, index) },
			Extract:    extract.Static(e),
		}
	}

	return engine.Target{
		Site: "steam",
		ID:   appID,
		Dir:  targetDir(cfg, "steam", appID),
		Home: &engine.HomeDocument{
			Origin: steam.CommunityOrigin,
			Path:   "/app/" + appID,
			File:   "homepage.html",
		},
		Schema: storage.Schema{
			RecordTypes: []string{
				steam.RecordWorkshopItems,
				steam.RecordScreenshots,
				steam.RecordGuides,
				steam.RecordDiscussions,
				steam.RecordDiscussionReplies,
			},
			Relations: []string{
				steam.RelWorkshopItemImages,
				steam.RelScreenshotImages,
				steam.RelGuideImages,
			},
		},
		Feeds: []engine.Feed{
			indexFeed("workshop", config.FeedSteamWorkshop, steam.WorkshopPath, steam.WorkshopPage()),
			indexFeed("screenshots", config.FeedSteamScreenshots, steam.ScreenshotsPath, steam.ScreenshotsPage()),
			indexFeed("guides", config.FeedSteamGuides, steam.GuidesPath, steam.GuidesPage()),
			indexFeed("discussions", config.FeedSteamDiscussions, steam.DiscussionsPath, steam.DiscussionsPage()),
		},
	}, nil
}
