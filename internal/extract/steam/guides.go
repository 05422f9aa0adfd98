package steam

import (
	"fmt"

	"github.com/PuerkitoBio/goquery"

	"github.com/IshaanNene/pagearchive/internal/extract"
	"github.com/IshaanNene/pagearchive/internal/types"
)

// GuidesPath returns the path of one page of an app's guide listing.
func GuidesPath(appID string, page int) string {
	return fmt.Sprintf("/app/%s/guides/?browsefilter=mostrecent&p=%d", appID, page)
}

// GuidesPage turns a guide listing into one detail follow-up per guide.
func GuidesPage() extract.Extractor {
	return extract.Func(func(body []byte) (*extract.Batch, error) {
		doc, err := parseHTML(body)
		if err != nil {
			return nil, err
		}

		batch := &extract.Batch{}
		seen := make(map[string]bool)
		doc.Find(`a[href*="/sharedfiles/filedetails/?id="]`).Each(func(_ int, a *goquery.Selection) {
			href, _ := a.Attr("href")
			id, ok := fileDetailsID(href)
			if !ok || seen[id] {
				return
			}
			seen[id] = true

			req := types.NewPageRequest(FileDetailsPath(id))
			req.Tag = "guide"
			batch.Follow = append(batch.Follow, extract.Follow{
				Request:   req,
				Extractor: GuideDetail(id),
				Label:     "guide " + id,
			})
		})

		return batch, nil
	})
}

// GuideDetail stores a guide page and the user images embedded in it.
func GuideDetail(guideID string) extract.Extractor {
	return extract.Func(func(body []byte) (*extract.Batch, error) {
		doc, err := parseHTML(body)
		if err != nil {
			return nil, err
		}

		batch := &extract.Batch{}
		batch.AddRecord(RecordGuides, guideID, "", string(body))

		doc.Find("a.modalContentLink[href]").Each(func(_ int, a *goquery.Selection) {
			href, _ := a.Attr("href")
			path, ok := userImagePath(href)
			if !ok {
				return
			}
			name, ok := ugcFileName(path)
			if !ok {
				return
			}
			batch.Associate(RelGuideImages, guideID, path)
			batch.Assets = append(batch.Assets, types.Asset{
				Origin: UserImagesOrigin,
				Path:   path,
				File:   "guideIMG/" + guideID + "/" + name,
			})
		})

		return batch, nil
	})
}
