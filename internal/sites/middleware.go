package sites

import (
	"fmt"

	"github.com/IshaanNene/pagearchive/internal/config"
	"github.com/IshaanNene/pagearchive/internal/extract/steam"
	"github.com/IshaanNene/pagearchive/internal/extract/twitch"
	"github.com/IshaanNene/pagearchive/internal/extract/twitter"
	"github.com/IshaanNene/pagearchive/internal/pipeline"
	"github.com/IshaanNene/pagearchive/internal/types"
)

// idPatterns are the shapes of record ids per site and record type.
var idPatterns = map[string]map[string]string{
	"steam": {
		steam.RecordWorkshopItems:     `^[0-9]+$`,
		steam.RecordGuides:            `^[0-9]+$`,
		steam.RecordScreenshots:       `^[A-Za-z0-9_]+$`,
		steam.RecordDiscussions:       `^[0-9]+$`,
		steam.RecordDiscussionReplies: `^[0-9]+$`,
	},
	"twitch": {
		twitch.RecordChat: `^[A-Za-z0-9-]+$`,
	},
	"twitter": {
		twitter.RecordTweets: `^[0-9]+$`,
	},
}

// IDPatterns returns the id pattern of every record type of site.
func IDPatterns(site string) map[string]string {
	return idPatterns[site]
}

// RecordMiddleware returns the record checks for site: id shapes and the
// configured payload limit. Records failing them are rejected and counted
// as anomalies.
func RecordMiddleware(cfg *config.Config, site string) ([]pipeline.Middleware, error) {
	if _, ok := Lookup(site); !ok {
		return nil, &types.ConfigError{Field: "site", Err: fmt.Errorf("unknown site %q", site)}
	}

	var mw []pipeline.Middleware
	if patterns := IDPatterns(site); len(patterns) > 0 {
		ids, err := pipeline.NewIDPatternMiddleware(patterns, false)
		if err != nil {
			return nil, err
		}
		mw = append(mw, ids)
	}
	if cfg.Crawl.MaxPayloadBytes > 0 {
		mw = append(mw, &pipeline.MaxPayloadMiddleware{Limit: cfg.Crawl.MaxPayloadBytes})
	}
	return mw, nil
}
