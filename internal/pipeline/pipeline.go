package pipeline

import (
	"log/slog"
	"strings"

	"github.com/IshaanNene/pagearchive/internal/types"
)

// Middleware processes a record and returns the (possibly modified) record.
// Return nil to drop the record from the pipeline.
type Middleware interface {
	// Name returns the middleware's identifier.
	Name() string

	// Process transforms a record. Return nil to drop the record.
	Process(rec *types.Record) (*types.Record, error)
}

// Pipeline chains middleware processors together.
type Pipeline struct {
	middlewares []Middleware
	logger      *slog.Logger
}

// New creates a new Pipeline.
func New(logger *slog.Logger) *Pipeline {
	return &Pipeline{
		logger: logger.With("component", "pipeline"),
	}
}

// Default returns the pipeline every crawl uses: trim identities, then
// drop records that cannot be stored.
func Default(logger *slog.Logger) *Pipeline {
	p := New(logger)
	p.Use(&TrimMiddleware{})
	p.Use(&ValidateMiddleware{})
	return p
}

// Use adds a middleware to the pipeline chain.
func (p *Pipeline) Use(mw Middleware) {
	p.middlewares = append(p.middlewares, mw)
	p.logger.Debug("middleware added", "name", mw.Name(), "position", len(p.middlewares))
}

// Process runs the record through all middleware in order.
func (p *Pipeline) Process(rec *types.Record) (*types.Record, error) {
	current := rec

	for _, mw := range p.middlewares {
		result, err := mw.Process(current)
		if err != nil {
			return nil, &types.PipelineError{
				Stage: mw.Name(),
				Key:   current.Key(),
				Err:   err,
			}
		}
		if result == nil {
			p.logger.Debug("record dropped", "stage", mw.Name(), "key", rec.Key())
			return nil, nil
		}
		current = result
	}

	return current, nil
}

// Len returns the number of middleware in the chain.
func (p *Pipeline) Len() int {
	return len(p.middlewares)
}

// --- Built-in Middleware ---

// TrimMiddleware trims whitespace from identity fields. Payloads are stored
// exactly as fetched.
type TrimMiddleware struct{}

func (m *TrimMiddleware) Name() string { return "trim" }

func (m *TrimMiddleware) Process(rec *types.Record) (*types.Record, error) {
	rec.Type = strings.TrimSpace(rec.Type)
	rec.ID = strings.TrimSpace(rec.ID)
	rec.ParentID = strings.TrimSpace(rec.ParentID)
	return rec, nil
}

// ValidateMiddleware drops records without a usable type or id.
type ValidateMiddleware struct{}

func (m *ValidateMiddleware) Name() string { return "validate" }

func (m *ValidateMiddleware) Process(rec *types.Record) (*types.Record, error) {
	if err := rec.Validate(); err != nil {
		return nil, nil
	}
	return rec, nil
}

// DedupMiddleware drops records already seen since the last Reset.
// The driver resets it per page so one batch never carries the same key twice.
type DedupMiddleware struct {
	seen map[string]struct{}
}

func NewDedupMiddleware() *DedupMiddleware {
	return &DedupMiddleware{seen: make(map[string]struct{})}
}

func (m *DedupMiddleware) Name() string { return "dedup" }

func (m *DedupMiddleware) Process(rec *types.Record) (*types.Record, error) {
	key := rec.Key()
	if _, exists := m.seen[key]; exists {
		return nil, nil
	}
	m.seen[key] = struct{}{}
	return rec, nil
}

// Reset forgets every key seen so far.
func (m *DedupMiddleware) Reset() {
	m.seen = make(map[string]struct{})
}
