package steam

import (
	"fmt"
	"regexp"

	"github.com/PuerkitoBio/goquery"

	"github.com/IshaanNene/pagearchive/internal/extract"
	"github.com/IshaanNene/pagearchive/internal/types"
)

var enlargedPreviewRegex = regexp.MustCompile(`ShowEnlargedImagePreview\(\s*'https://steamuserimages-a\.akamaihd\.net(/ugc/[0-9A-Za-z]+/[0-9A-Za-z]+/)'\s*\)`)

// WorkshopPath returns the path of one page of an app's workshop browser.
func WorkshopPath(appID string, page int) string {
	return fmt.Sprintf("/workshop/browse/?appid=%s&browsesort=mostrecent&section=readytouseitems&actualsort=mostrecent&p=%d", appID, page)
}

// WorkshopPage turns a workshop browse page into one detail follow-up per item.
func WorkshopPage() extract.Extractor {
	return extract.Func(func(body []byte) (*extract.Batch, error) {
		doc, err := parseHTML(body)
		if err != nil {
			return nil, err
		}

		batch := &extract.Batch{}
		seen := make(map[string]bool)
		doc.Find("div.workshopItemTitle").Each(func(_ int, title *goquery.Selection) {
			href, ok := title.Closest("a[href]").Attr("href")
			if !ok {
				batch.Anomaly("workshop title without link: %q", title.Text())
				return
			}
			id, ok := fileDetailsID(href)
			if !ok || seen[id] {
				return
			}
			seen[id] = true

			req := types.NewPageRequest(FileDetailsPath(id))
			req.Tag = "workshop_item"
			batch.Follow = append(batch.Follow, extract.Follow{
				Request:   req,
				Extractor: WorkshopItem(id),
				Label:     "workshop item " + id,
			})
		})

		return batch, nil
	})
}

// WorkshopItem stores a workshop item page and its preview images.
func WorkshopItem(itemID string) extract.Extractor {
	return extract.Func(func(body []byte) (*extract.Batch, error) {
		doc, err := parseHTML(body)
		if err != nil {
			return nil, err
		}

		batch := &extract.Batch{}
		batch.AddRecord(RecordWorkshopItems, itemID, "", string(body))

		seen := make(map[string]bool)
		doc.Find(`a[onclick*="ShowEnlargedImagePreview"]`).Each(func(_ int, a *goquery.Selection) {
			onclick, _ := a.Attr("onclick")
			m := enlargedPreviewRegex.FindStringSubmatch(onclick)
			if m == nil || seen[m[1]] {
				return
			}
			seen[m[1]] = true

			name, ok := ugcFileName(m[1])
			if !ok {
				return
			}
			batch.Associate(RelWorkshopItemImages, itemID, m[1])
			batch.Assets = append(batch.Assets, types.Asset{
				Origin: UserImagesOrigin,
				Path:   m[1],
				File:   "workshopIMG/" + itemID + "/" + name,
			})
		})

		return batch, nil
	})
}
