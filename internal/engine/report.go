package engine

import (
	"time"
)

// Termination is why a feed stopped.
type Termination string

const (
	TermEmptyPage     Termination = "empty_page"
	TermNoCursor      Termination = "no_cursor"
	TermExplicitEnd   Termination = "explicit_end"
	TermTotalReached  Termination = "total_reached"
	TermCursorStalled Termination = "cursor_stalled"
	TermCeiling       Termination = "ceiling"
	TermNotFound      Termination = "not_found"
	TermFetchFailed   Termination = "fetch_failed"
	TermCanceled      Termination = "canceled"
	TermSetupFailed   Termination = "setup_failed"
)

// Completed reports whether the feed ran to its natural end. A stalled
// cursor is how search feeds without an end marker run dry.
func (t Termination) Completed() bool {
	switch t {
	case TermEmptyPage, TermNoCursor, TermExplicitEnd, TermTotalReached, TermCursorStalled, TermNotFound:
		return true
	default:
		return false
	}
}

// FeedReport summarizes one drained feed.
type FeedReport struct {
	Feed       string `json:"feed"`
	Discipline string `json:"discipline"`

	PagesFetched   int `json:"pages_fetched"`
	PagesCommitted int `json:"pages_committed"`
	PagesSkipped   int `json:"pages_skipped"`

	FollowsFetched int `json:"follows_fetched"`
	FollowFailures int `json:"follow_failures"`

	RecordsNew      int `json:"records_new"`
	RecordsKnown    int `json:"records_known"`
	RecordsDropped  int `json:"records_dropped"`
	AssociationsNew int `json:"associations_new"`

	AssetsDownloaded int `json:"assets_downloaded"`
	AssetsSkipped    int `json:"assets_skipped"`
	AssetsFailed     int `json:"assets_failed"`

	Anomalies int `json:"anomalies"`

	Termination Termination   `json:"termination"`
	Err         string        `json:"error,omitempty"`
	Duration    time.Duration `json:"duration"`
}

// Home snapshot states.
const (
	HomeNone     = "none"
	HomeCaptured = "captured"
	HomeExisting = "existing"
	HomeFailed   = "failed"
)

// TargetReport summarizes one run over a target.
type TargetReport struct {
	RunID    string        `json:"run_id"`
	Target   string        `json:"target"`
	Storage  string        `json:"storage,omitempty"`
	Home     string        `json:"home"`
	Feeds    []FeedReport  `json:"feeds"`
	Err      string        `json:"error,omitempty"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
}

// RecordsNew sums new records over all feeds.
func (r *TargetReport) RecordsNew() int {
	n := 0
	for _, f := range r.Feeds {
		n += f.RecordsNew
	}
	return n
}

// PagesSkipped sums skipped pages over all feeds.
func (r *TargetReport) PagesSkipped() int {
	n := 0
	for _, f := range r.Feeds {
		n += f.PagesSkipped
	}
	return n
}

// OK reports whether the target opened cleanly and every feed completed.
func (r *TargetReport) OK() bool {
	if r.Err != "" {
		return false
	}
	for _, f := range r.Feeds {
		if !f.Termination.Completed() {
			return false
		}
	}
	return true
}
