// Package twitter holds the extraction rules for the adaptive search
// timeline and the guest token handshake.
package twitter

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/IshaanNene/pagearchive/internal/extract"
	"github.com/IshaanNene/pagearchive/internal/types"
)

// Origins used by the twitter feed.
const (
	WebOrigin   = "twitter.com"
	APIOrigin   = "api.twitter.com"
	ImageOrigin = "pbs.twimg.com"
	VideoOrigin = "video.twimg.com"
)

// Record types and relations written by the search extractor.
const (
	RecordTweets   = "tweets"
	RelTweetImages = "tweet_images"
	RelTweetVideos = "tweet_videos"
)

const (
	tweetEntryPrefix = "sq-I-t-"
	cursorBottomID   = "sq-cursor-bottom"
)

// ErrNoGuestToken is returned when neither the cookies nor the page carry a token.
var ErrNoGuestToken = errors.New("no guest token in response")

var guestTokenScriptRegex = regexp.MustCompile(`gt=(\d+);`)

// Query is the search query that lists a user's own tweets.
func Query(username string) string {
	return "from:" + username
}

// SearchPagePath is the web search page used to obtain a guest token.
func SearchPagePath(username string) string {
	return "/search?" + url.Values{
		"f":    {"live"},
		"lang": {"en"},
		"q":    {Query(username)},
		"src":  {"spelling_expansion_revert_click"},
	}.Encode()
}

// SearchPath returns the adaptive search API path for one cursor position.
func SearchPath(username, cursor string, pageSize int) string {
	params := url.Values{
		"include_profile_interstitial_type": {"1"},
		"include_blocking":                  {"1"},
		"include_blocked_by":                {"1"},
		"include_followed_by":               {"1"},
		"include_want_retweets":             {"1"},
		"include_mute_edge":                 {"1"},
		"include_can_dm":                    {"1"},
		"include_can_media_tag":             {"1"},
		"skip_status":                       {"1"},
		"cards_platform":                    {"Web-12"},
		"include_cards":                     {"1"},
		"include_ext_alt_text":              {"true"},
		"include_quote_count":               {"true"},
		"include_reply_count":               {"1"},
		"tweet_mode":                        {"extended"},
		"include_entities":                  {"true"},
		"include_user_entities":             {"true"},
		"include_ext_media_color":           {"true"},
		"include_ext_media_availability":    {"true"},
		"send_error_codes":                  {"true"},
		"simple_quoted_tweets":              {"true"},
		"q":                                 {Query(username)},
		"tweet_search_mode":                 {"live"},
		"count":                             {strconv.Itoa(pageSize)},
		"query_source":                      {"spelling_expansion_revert_click"},
		"pc":                                {"1"},
		"spelling_corrections":              {"1"},
		"ext":                               {"mediaStats,highlightedLabel"},
	}
	if cursor != "" {
		params.Set("cursor", cursor)
	}
	return "/2/search/adaptive.json?" + params.Encode()
}

// SearchPage extracts tweets, their media and the bottom cursor from one
// adaptive search response. Tweets are parented to username.
func SearchPage(username string) extract.Extractor {
	return extract.Func(func(body []byte) (*extract.Batch, error) {
		if !gjson.ValidBytes(body) {
			return nil, errors.New("search response is not valid json")
		}
		root := gjson.ParseBytes(body)
		instructions := root.Get("timeline.instructions")
		if !instructions.Exists() {
			return nil, errors.New("search response has no timeline")
		}
		tweets := root.Get("globalObjects.tweets")

		batch := &extract.Batch{}
		for _, instruction := range instructions.Array() {
			var entries []gjson.Result
			switch {
			case instruction.Get("addEntries").Exists():
				entries = instruction.Get("addEntries.entries").Array()
			case instruction.Get("replaceEntry").Exists():
				entries = []gjson.Result{instruction.Get("replaceEntry.entry")}
			default:
				continue
			}

			for _, entry := range entries {
				entryID := entry.Get("entryId").String()
				switch {
				case strings.HasPrefix(entryID, tweetEntryPrefix):
					tweetID := entry.Get("content.item.content.tweet.id").String()
					tweet := tweets.Get(tweetID)
					if tweetID == "" || !tweet.Exists() {
						batch.Anomaly("entry %s references a missing tweet", entryID)
						continue
					}
					addTweet(batch, username, tweet)
				case entryID == cursorBottomID:
					batch.NextCursor = entry.Get("content.operation.cursor.value").String()
				}
			}
		}

		return batch, nil
	})
}

func addTweet(batch *extract.Batch, username string, tweet gjson.Result) {
	tweetID := tweet.Get("id_str").String()
	if tweetID == "" {
		batch.Anomaly("tweet without id_str")
		return
	}
	batch.AddRecord(RecordTweets, tweetID, username, tweet.Raw)

	for index, media := range tweet.Get("extended_entities.media").Array() {
		switch kind := media.Get("type").String(); kind {
		case "photo":
			path, ok := strings.CutPrefix(media.Get("media_url_https").String(), "https://"+ImageOrigin)
			if !ok {
				batch.Anomaly("tweet %s photo %d on unexpected host", tweetID, index)
				continue
			}
			path = OriginalSize(path)
			batch.Associate(RelTweetImages, tweetID, path)
			batch.Assets = append(batch.Assets, types.Asset{
				Origin: ImageOrigin,
				Path:   path,
				File:   fmt.Sprintf("Images/%s_%d.jpg", tweetID, index),
			})

		case "video", "animated_gif":
			best := BestVariant(media)
			path, ok := strings.CutPrefix(best, "https://"+VideoOrigin)
			if best == "" || !ok {
				batch.Anomaly("tweet %s video %d has no usable mp4 variant", tweetID, index)
				continue
			}
			batch.Associate(RelTweetVideos, tweetID, path)
			batch.Assets = append(batch.Assets, types.Asset{
				Origin: VideoOrigin,
				Path:   path,
				File:   fmt.Sprintf("Videos/%s_%d.mp4", tweetID, index),
			})

		default:
			batch.Anomaly("tweet %s media %d has unknown type %q", tweetID, index, kind)
		}
	}
}

// OriginalSize asks the image host for the full-resolution rendition.
func OriginalSize(path string) string {
	if strings.Contains(path, "?") {
		return path + "&name=orig"
	}
	return path + "?name=orig"
}

// BestVariant returns the URL of the highest-bitrate mp4 variant of a media entity.
func BestVariant(media gjson.Result) string {
	best, bestBitrate := "", int64(-1)
	for _, variant := range media.Get("video_info.variants").Array() {
		if variant.Get("content_type").String() != "video/mp4" {
			continue
		}
		if bitrate := variant.Get("bitrate").Int(); bitrate > bestBitrate {
			best, bestBitrate = variant.Get("url").String(), bitrate
		}
	}
	return best
}

// ParseGuestToken finds a guest token in the Set-Cookie headers of the search
// page, falling back to the inline script that sets the gt cookie.
func ParseGuestToken(header http.Header, body []byte) (string, error) {
	for _, raw := range header.Values("Set-Cookie") {
		cookie, err := http.ParseSetCookie(raw)
		if err != nil {
			continue
		}
		if cookie.Name == "gt" || cookie.Name == "guest_id" {
			value, err := url.QueryUnescape(cookie.Value)
			if err != nil {
				value = cookie.Value
			}
			if value != "" {
				return value, nil
			}
		}
	}

	if m := guestTokenScriptRegex.FindSubmatch(body); m != nil {
		return string(m[1]), nil
	}
	return "", ErrNoGuestToken
}
