// Package extract defines how a fetched page body becomes records and a
// pagination signal. Site rules live in the subpackages.
package extract

import (
	"fmt"

	"github.com/IshaanNene/pagearchive/internal/types"
)

// Extractor turns one page body into a Batch.
//
// A returned error marks an extraction anomaly: the driver logs it and keeps
// whatever the batch already holds. A nil batch with an error means nothing
// usable was found.
type Extractor interface {
	Extract(body []byte) (*Batch, error)
}

// Func adapts a function to Extractor.
type Func func(body []byte) (*Batch, error)

// Extract implements Extractor.
func (f Func) Extract(body []byte) (*Batch, error) { return f(body) }

// Factory builds the extractor for a single request of a feed. Feeds whose
// parsing depends on the request position (e.g. an offset cursor) use it to
// bind that position.
type Factory func(req types.PageRequest) Extractor

// Static returns a Factory that always hands out e.
func Static(e Extractor) Factory {
	return func(types.PageRequest) Extractor { return e }
}

// Follow is a nested request whose records join the surrounding page batch.
type Follow struct {
	Request   types.PageRequest
	Extractor Extractor
	Label     string
}

// Batch is everything one page yielded.
type Batch struct {
	Records      []types.Record
	Associations []types.Association
	Follow       []Follow
	Assets       []types.Asset

	// Anomalies are non-fatal oddities found while parsing.
	Anomalies []string

	// NextCursor is the cursor for the next page, empty if none was found.
	NextCursor string

	// Total is the total item count the server reported, 0 if unknown.
	Total int

	// End is set when the page itself says the feed is over.
	End bool
}

// Empty reports whether the page carried no content markers at all.
func (b *Batch) Empty() bool {
	return b == nil || (len(b.Records) == 0 && len(b.Follow) == 0)
}

// AddRecord appends a record.
func (b *Batch) AddRecord(recordType, id, parentID, payload string) {
	b.Records = append(b.Records, types.Record{Type: recordType, ID: id, ParentID: parentID, Payload: payload})
}

// Associate appends an association.
func (b *Batch) Associate(relation, parentID, childID string) {
	b.Associations = append(b.Associations, types.Association{Relation: relation, ParentID: parentID, ChildID: childID})
}

// Anomaly records a formatted anomaly.
func (b *Batch) Anomaly(format string, args ...any) {
	b.Anomalies = append(b.Anomalies, fmt.Sprintf(format, args...))
}

// Merge appends other's content to b. Pagination signals are not merged.
func (b *Batch) Merge(other *Batch) {
	if other == nil {
		return
	}
	b.Records = append(b.Records, other.Records...)
	b.Associations = append(b.Associations, other.Associations...)
	b.Assets = append(b.Assets, other.Assets...)
	b.Anomalies = append(b.Anomalies, other.Anomalies...)
}
