package types

import (
	"errors"
	"fmt"
)

// Sentinel errors for common failure modes.
var (
	ErrNotFound         = errors.New("resource not found")
	ErrRetriesExhausted = errors.New("max retries exceeded")
	ErrRateLimited      = errors.New("rate limited")
	ErrUnexpectedStatus = errors.New("unexpected status")
	ErrRedirected       = errors.New("unexpected redirect")
	ErrInvalidTarget    = errors.New("invalid target identifier")
	ErrInvalidRecord    = errors.New("invalid record")
	ErrFeedFailed       = errors.New("feed could not advance")
	ErrBodyTooLarge     = errors.New("response body too large")
)

// FetchError describes why a request never produced a usable response.
type FetchError struct {
	Origin     string
	Path       string
	StatusCode int
	Attempts   int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("fetch error for %s%s (status %d, %d attempts): %v", e.Origin, e.Path, e.StatusCode, e.Attempts, e.Err)
	}
	return fmt.Sprintf("fetch error for %s%s (%d attempts): %v", e.Origin, e.Path, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ExtractError marks a page whose body did not look the way the extractor
// expected. It is never fatal to a crawl.
type ExtractError struct {
	Extractor string
	Path      string
	Err       error
}

func (e *ExtractError) Error() string {
	return fmt.Sprintf("extract error (%s) for %s: %v", e.Extractor, e.Path, e.Err)
}

func (e *ExtractError) Unwrap() error { return e.Err }

// StorageError wraps errors that occur during persistence.
type StorageError struct {
	Backend string
	Op      string
	Err     error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error (%s, %s): %v", e.Backend, e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// ConfigError is raised before any crawling begins and aborts the run.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error (%s): %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// PipelineError wraps a failure inside one record pipeline stage.
type PipelineError struct {
	Stage string
	Key   string
	Err   error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("pipeline error at stage %q for %s: %v", e.Stage, e.Key, e.Err)
}

func (e *PipelineError) Unwrap() error { return e.Err }
