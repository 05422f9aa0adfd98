package steam

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/IshaanNene/pagearchive/internal/extract"
	"github.com/IshaanNene/pagearchive/internal/types"
)

// ScreenshotsPath returns the path of one page of an app's screenshot hub.
func ScreenshotsPath(appID string, page int) string {
	return fmt.Sprintf("/app/%s/homecontent/?p=%d&screenshotspage=%d&numperpage=10&browsefilter=mostrecent&appid=%s&appHubSubSection=2&searchText=",
		appID, page, page, appID)
}

// ScreenshotsPage extracts screenshot cards from one hub page. A page
// without cards is past the end.
func ScreenshotsPage() extract.Extractor {
	return extract.Func(func(body []byte) (*extract.Batch, error) {
		doc, err := parseHTML(body)
		if err != nil {
			return nil, err
		}

		batch := &extract.Batch{}
		doc.Find("div.apphub_Card").Each(func(i int, card *goquery.Selection) {
			rawID, _ := card.Attr("id")
			id := strings.TrimPrefix(rawID, "apphub_Card_")
			if id == "" || id == rawID {
				batch.Anomaly("screenshot card %d has no id", i)
				return
			}

			srcset, ok := card.Find("img[srcset]").First().Attr("srcset")
			if !ok {
				batch.Anomaly("screenshot %s has no srcset", id)
				return
			}
			best := BestSrcSetURL(srcset)
			if best == "" {
				batch.Anomaly("screenshot %s has an unreadable srcset", id)
				return
			}

			html, err := goquery.OuterHtml(card)
			if err != nil {
				batch.Anomaly("screenshot %s: %v", id, err)
				return
			}

			batch.AddRecord(RecordScreenshots, id, "", html)
			batch.Associate(RelScreenshotImages, id, best)

			path, ok := userImagePath(best)
			if !ok {
				batch.Anomaly("screenshot %s served from unexpected host: %s", id, best)
				return
			}
			batch.Assets = append(batch.Assets, types.Asset{
				Origin: UserImagesOrigin,
				Path:   path,
				File:   "screenshots/" + id + ".png",
			})
		})

		return batch, nil
	})
}

// BestSrcSetURL picks the widest candidate of an img srcset attribute.
func BestSrcSetURL(srcset string) string {
	var (
		bestURL   string
		bestWidth int
	)
	for _, candidate := range strings.Split(srcset, ",") {
		fields := strings.Fields(candidate)
		if len(fields) < 2 || !strings.HasSuffix(fields[1], "w") {
			continue
		}
		width, err := strconv.Atoi(strings.TrimSuffix(fields[1], "w"))
		if err != nil {
			continue
		}
		if width > bestWidth {
			bestURL = fields[0]
			bestWidth = width
		}
	}
	return bestURL
}
