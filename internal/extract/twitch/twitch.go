// Package twitch holds the extraction rules for Twitch VOD chat replays.
package twitch

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/tidwall/gjson"

	"github.com/IshaanNene/pagearchive/internal/extract"
	"github.com/IshaanNene/pagearchive/internal/types"
)

// APIOrigin serves the comments endpoint.
const APIOrigin = "api.twitch.tv"

// ClientID is the public id shared by every web client.
const ClientID = "kimne78kx3ncx6brgo4mv6wki5h1ko"

// RecordChat is the record type of one chat comment.
const RecordChat = "chat"

// CommentsPath returns the comments path for vodID starting at offset seconds.
// An empty cursor means offset zero.
func CommentsPath(vodID, cursor string) string {
	if cursor == "" {
		cursor = "0"
	}
	return fmt.Sprintf("/v5/videos/%s/comments?content_offset_seconds=%s", vodID, cursor)
}

// Offset parses a cursor into an offset in seconds.
func Offset(cursor string) int {
	n, err := strconv.Atoi(cursor)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// ChatPage returns the extractor factory for a VOD's chat feed. The next
// cursor is the highest comment offset seen, and always at least one second
// past the current one so the feed keeps moving.
func ChatPage(vodID string) extract.Factory {
	return func(req types.PageRequest) extract.Extractor {
		current := Offset(req.Cursor)
		return extract.Func(func(body []byte) (*extract.Batch, error) {
			if !gjson.ValidBytes(body) {
				return nil, errors.New("comments response is not valid json")
			}

			batch := &extract.Batch{}
			comments := gjson.GetBytes(body, "comments")
			if !comments.IsArray() || len(comments.Array()) == 0 {
				batch.End = true
				return batch, nil
			}

			highest := current + 1
			for _, comment := range comments.Array() {
				id := comment.Get("_id").String()
				if id == "" {
					batch.Anomaly("comment without _id at offset %d", current)
					continue
				}
				batch.AddRecord(RecordChat, id, vodID, comment.Raw)

				if offset := int(comment.Get("content_offset_seconds").Float()); offset > highest {
					highest = offset
				}
			}

			batch.NextCursor = strconv.Itoa(highest)
			return batch, nil
		})
	}
}
