package steam

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"

	"github.com/IshaanNene/pagearchive/internal/extract"
	"github.com/IshaanNene/pagearchive/internal/types"
)

const (
	topicLinkXPath    = `//a[contains(concat(' ', normalize-space(@class), ' '), ' forum_topic_overlay ')]`
	commentTotalXPath = `//span[starts-with(@id, 'commentthread_ForumTopic_') and contains(@id, '_pagetotal')]`
	replyXPath        = `//div[contains(concat(' ', normalize-space(@class), ' '), ' commentthread_comment ') and starts-with(@id, 'comment_')]`
)

var threadPathRegex = regexp.MustCompile(`^(?:https://steamcommunity\.com)?(/app/[0-9]+/discussions/[0-9]+/([0-9]+)/)`)

// DiscussionsPath returns the path of one page of an app's discussion index.
func DiscussionsPath(appID string, page int) string {
	return fmt.Sprintf("/app/%s/discussions/?fp=%d", appID, page)
}

// DiscussionsPage turns a discussion index page into one follow-up per thread.
func DiscussionsPage() extract.Extractor {
	return extract.Func(func(body []byte) (*extract.Batch, error) {
		doc, err := htmlquery.Parse(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("parse html: %w", err)
		}

		links, err := htmlquery.QueryAll(doc, topicLinkXPath)
		if err != nil {
			return nil, fmt.Errorf("query topics: %w", err)
		}

		batch := &extract.Batch{}
		for _, link := range links {
			href := htmlquery.SelectAttr(link, "href")
			m := threadPathRegex.FindStringSubmatch(href)
			if m == nil {
				batch.Anomaly("unrecognized topic link %q", href)
				continue
			}
			threadPath, threadID := m[1], m[2]

			req := types.NewPageRequest(threadPath)
			req.Tag = "discussion"
			batch.Follow = append(batch.Follow, extract.Follow{
				Request:   req,
				Extractor: Thread(threadID, threadPath),
				Label:     "discussion " + threadID,
			})
		}

		return batch, nil
	})
}

// Thread stores the first page of a discussion, its replies, and queues the
// remaining reply pages.
func Thread(threadID, threadPath string) extract.Extractor {
	return extract.Func(func(body []byte) (*extract.Batch, error) {
		doc, err := htmlquery.Parse(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("parse html: %w", err)
		}

		batch := &extract.Batch{}
		batch.AddRecord(RecordDiscussions, threadID, "", string(body))

		total, ok := commentTotal(doc)
		if !ok {
			return batch, fmt.Errorf("discussion %s: comment count not found", threadID)
		}

		replies(doc, threadID, batch)

		pages := (total + RepliesPerPage - 1) / RepliesPerPage
		for page := 2; page <= pages; page++ {
			req := types.NewPageRequest(fmt.Sprintf("%s?ctp=%d", threadPath, page))
			req.Index = page
			req.Tag = "discussion_page"
			batch.Follow = append(batch.Follow, extract.Follow{
				Request:   req,
				Extractor: ReplyPage(threadID),
				Label:     fmt.Sprintf("discussion %s page %d", threadID, page),
			})
		}

		return batch, nil
	})
}

// ReplyPage stores the replies on one later page of a discussion thread.
func ReplyPage(threadID string) extract.Extractor {
	return extract.Func(func(body []byte) (*extract.Batch, error) {
		doc, err := htmlquery.Parse(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("parse html: %w", err)
		}

		batch := &extract.Batch{}
		replies(doc, threadID, batch)
		return batch, nil
	})
}

func commentTotal(doc *html.Node) (int, bool) {
	node, err := htmlquery.Query(doc, commentTotalXPath)
	if err != nil || node == nil {
		return 0, false
	}
	text := strings.ReplaceAll(strings.TrimSpace(htmlquery.InnerText(node)), ",", "")
	n, err := strconv.Atoi(text)
	if err != nil {
		return 0, false
	}
	return n, true
}

func replies(doc *html.Node, threadID string, batch *extract.Batch) {
	nodes, err := htmlquery.QueryAll(doc, replyXPath)
	if err != nil {
		batch.Anomaly("query replies: %v", err)
		return
	}
	for _, node := range nodes {
		id := strings.TrimPrefix(htmlquery.SelectAttr(node, "id"), "comment_")
		if _, err := strconv.ParseUint(id, 10, 64); err != nil {
			batch.Anomaly("discussion %s: reply without numeric id", threadID)
			continue
		}
		batch.AddRecord(RecordDiscussionReplies, id, threadID, htmlquery.OutputHTML(node, true))
	}
}
