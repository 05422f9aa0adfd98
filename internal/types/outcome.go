package types

import (
	"net/http"
	"time"
)

// OutcomeKind tags a FetchOutcome.
type OutcomeKind int

const (
	// OutcomeSuccess is a 200 response with a body.
	OutcomeSuccess OutcomeKind = iota
	// OutcomeNotFound is a 404: the resource does not exist. Never retried.
	OutcomeNotFound
	// OutcomeRedirect is a 301/302/303. The caller decides whether to follow.
	OutcomeRedirect
	// OutcomeRateLimited is a 403, retried after a cooldown.
	OutcomeRateLimited
	// OutcomeTransient is any other status or an I/O error, retried after backoff.
	OutcomeTransient
	// OutcomeRetriesExhausted means every attempt failed.
	OutcomeRetriesExhausted
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeNotFound:
		return "not_found"
	case OutcomeRedirect:
		return "redirect"
	case OutcomeRateLimited:
		return "rate_limited"
	case OutcomeTransient:
		return "transient_failure"
	case OutcomeRetriesExhausted:
		return "retries_exhausted"
	default:
		return "unknown"
	}
}

// Terminal reports whether the kind ends a fetch. RateLimited and Transient
// only ever classify single attempts inside the fetcher.
func (k OutcomeKind) Terminal() bool {
	return k != OutcomeRateLimited && k != OutcomeTransient
}

// FetchOutcome is the result of fetching one PageRequest.
type FetchOutcome struct {
	Kind OutcomeKind

	// StatusCode is the last HTTP status seen, 0 if no response arrived.
	StatusCode int

	// Body is set for OutcomeSuccess only.
	Body []byte

	// Headers are the response headers of the last response.
	Headers http.Header

	// Location is the redirect target for OutcomeRedirect.
	Location string

	// Attempts is the number of attempts consumed.
	Attempts int

	// Reconnects is how many times the transport was rebuilt.
	Reconnects int

	// Duration is the total wall time including sleeps.
	Duration time.Duration

	// Err explains OutcomeRetriesExhausted.
	Err error
}

// OK reports whether the outcome carries a usable body.
func (o FetchOutcome) OK() bool {
	return o.Kind == OutcomeSuccess
}

// Success builds a success outcome.
func Success(body []byte, headers http.Header) FetchOutcome {
	return FetchOutcome{Kind: OutcomeSuccess, StatusCode: http.StatusOK, Body: body, Headers: headers}
}

// NotFound builds a not-found outcome.
func NotFound() FetchOutcome {
	return FetchOutcome{Kind: OutcomeNotFound, StatusCode: http.StatusNotFound}
}

// Redirect builds a redirect outcome.
func Redirect(status int, location string) FetchOutcome {
	return FetchOutcome{Kind: OutcomeRedirect, StatusCode: status, Location: location}
}

// Exhausted builds a retries-exhausted outcome.
func Exhausted(err error) FetchOutcome {
	return FetchOutcome{Kind: OutcomeRetriesExhausted, Err: err}
}
