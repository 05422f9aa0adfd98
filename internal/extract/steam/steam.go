// Package steam holds the extraction rules for Steam community hub pages.
package steam

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Origins used by the steam feeds.
const (
	CommunityOrigin  = "steamcommunity.com"
	UserImagesOrigin = "steamuserimages-a.akamaihd.net"
)

// Record types and relations written by the steam extractors.
const (
	RecordScreenshots       = "screenshots"
	RecordGuides            = "guides"
	RecordWorkshopItems     = "workshop_items"
	RecordDiscussions       = "discussions"
	RecordDiscussionReplies = "discussion_replies"

	RelScreenshotImages   = "screenshot_images"
	RelGuideImages        = "guide_images"
	RelWorkshopItemImages = "workshop_item_images"
)

// RepliesPerPage is how many replies a discussion thread page shows.
const RepliesPerPage = 15

var (
	fileDetailsIDRegex = regexp.MustCompile(`/sharedfiles/filedetails/\?id=([0-9]+)`)
	ugcPathRegex       = regexp.MustCompile(`^/ugc/[0-9A-Za-z]+/[0-9A-Za-z]+/$`)
)

const userImagesPrefix = "https://" + UserImagesOrigin

func parseHTML(body []byte) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return doc, nil
}

// fileDetailsID pulls the numeric id out of a /sharedfiles/filedetails/?id= link.
func fileDetailsID(href string) (string, bool) {
	m := fileDetailsIDRegex.FindStringSubmatch(href)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// FileDetailsPath returns the detail page path for a guide or workshop item.
func FileDetailsPath(id string) string {
	return "/sharedfiles/filedetails/?id=" + id
}

// userImagePath strips the user-image origin from a URL.
func userImagePath(raw string) (string, bool) {
	if !strings.HasPrefix(raw, userImagesPrefix) {
		return "", false
	}
	return strings.TrimPrefix(raw, userImagesPrefix), true
}

// ugcFileName turns "/ugc/A/B/" into "A_B.jpg".
func ugcFileName(path string) (string, bool) {
	if !ugcPathRegex.MatchString(path) {
		return "", false
	}
	parts := strings.Split(path, "/")
	return parts[len(parts)-3] + "_" + parts[len(parts)-2] + ".jpg", true
}
