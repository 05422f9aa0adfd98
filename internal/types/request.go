package types

import (
	"fmt"
	"net/http"
	"strconv"
)

// PageRequest is one reproducible request against a single origin.
// Issuing it twice has the same effect as issuing it once.
type PageRequest struct {
	// Path is the origin-relative path including the query string.
	Path string

	// Method is the HTTP method. Empty means GET.
	Method string

	// Headers are sent in addition to the transport defaults.
	Headers http.Header

	// Body is the request body for POST requests.
	Body []byte

	// Index is the 1-based page number for index and count feeds.
	Index int

	// Cursor is the opaque token for cursor feeds. Empty on the first page.
	Cursor string

	// Tag categorizes this request (e.g., "page", "detail", "asset").
	Tag string
}

// NewPageRequest creates a GET request for the given path.
func NewPageRequest(path string) PageRequest {
	return PageRequest{
		Path:    path,
		Method:  http.MethodGet,
		Headers: make(http.Header),
	}
}

// MethodOrDefault returns the request method, defaulting to GET.
func (r PageRequest) MethodOrDefault() string {
	if r.Method == "" {
		return http.MethodGet
	}
	return r.Method
}

// Label returns a short human-readable position of the request in its feed.
func (r PageRequest) Label() string {
	switch {
	case r.Cursor != "":
		return "cursor=" + r.Cursor
	case r.Index > 0:
		return "page=" + strconv.Itoa(r.Index)
	default:
		return r.Path
	}
}

// Clone creates a deep copy of the request.
func (r PageRequest) Clone() PageRequest {
	clone := r
	clone.Headers = r.Headers.Clone()
	if clone.Headers == nil {
		clone.Headers = make(http.Header)
	}
	clone.Body = append([]byte(nil), r.Body...)
	return clone
}

// WithHeaders returns a copy of the request with extra headers merged in.
// Values in extra replace values already present.
func (r PageRequest) WithHeaders(extra http.Header) PageRequest {
	clone := r.Clone()
	for key, values := range extra {
		clone.Headers.Del(key)
		for _, v := range values {
			clone.Headers.Add(key, v)
		}
	}
	return clone
}

func (r PageRequest) String() string {
	return fmt.Sprintf("%s %s", r.MethodOrDefault(), r.Path)
}
