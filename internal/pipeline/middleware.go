package pipeline

import (
	"fmt"
	"regexp"

	"github.com/IshaanNene/pagearchive/internal/types"
)

// IDPatternMiddleware checks record ids of selected types against regex
// patterns, e.g. steam screenshots are alphanumeric and tweets are numeric.
type IDPatternMiddleware struct {
	patterns    map[string]*regexp.Regexp // record type -> id pattern
	dropInvalid bool
}

// NewIDPatternMiddleware compiles patterns, keyed by record type. With
// dropInvalid a mismatch drops the record instead of rejecting it.
func NewIDPatternMiddleware(patterns map[string]string, dropInvalid bool) (*IDPatternMiddleware, error) {
	compiled := make(map[string]*regexp.Regexp, len(patterns))
	for recordType, pattern := range patterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid id regex for %q: %w", recordType, err)
		}
		compiled[recordType] = re
	}
	return &IDPatternMiddleware{
		patterns:    compiled,
		dropInvalid: dropInvalid,
	}, nil
}

// Name implements Middleware.
func (m *IDPatternMiddleware) Name() string { return "id_pattern" }

// Process implements Middleware.
func (m *IDPatternMiddleware) Process(rec *types.Record) (*types.Record, error) {
	re, ok := m.patterns[rec.Type]
	if !ok || re.MatchString(rec.ID) {
		return rec, nil
	}
	if m.dropInvalid {
		return nil, nil
	}
	return nil, fmt.Errorf("%w: id %q does not match %s", types.ErrInvalidRecord, rec.ID, re)
}

// MaxPayloadMiddleware rejects records whose payload exceeds Limit bytes.
// A zero Limit accepts everything.
type MaxPayloadMiddleware struct {
	Limit int
}

// Name implements Middleware.
func (m *MaxPayloadMiddleware) Name() string { return "max_payload" }

// Process implements Middleware.
func (m *MaxPayloadMiddleware) Process(rec *types.Record) (*types.Record, error) {
	if m.Limit > 0 && len(rec.Payload) > m.Limit {
		return nil, fmt.Errorf("%w: %s payload is %d bytes (max %d)", types.ErrInvalidRecord, rec.Key(), len(rec.Payload), m.Limit)
	}
	return rec, nil
}
