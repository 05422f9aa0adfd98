package storage

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/IshaanNene/pagearchive/internal/config"
	"github.com/IshaanNene/pagearchive/internal/types"
)

// Storage is the interface for all record store backends.
//
// Records and associations are insert-if-absent: writing an identity that
// already exists is a no-op, never an overwrite.
type Storage interface {
	// EnsureSchema creates the tables (collections) for schema. Idempotent.
	EnsureSchema(ctx context.Context, schema Schema) error

	// Begin opens a page batch. Nothing written through it is visible until Commit.
	Begin(ctx context.Context) (Batch, error)

	// Count returns how many rows a record type or relation holds.
	Count(ctx context.Context, name string) (int64, error)

	// Scan calls fn for every record of recordType in id order.
	Scan(ctx context.Context, recordType string, fn func(types.Record) error) error

	// Close releases resources.
	Close() error

	// Name returns the storage backend identifier.
	Name() string
}

// Batch is the transactional scope of one page.
type Batch interface {
	// UpsertRecord inserts rec unless its identity exists. It reports whether
	// a new row was written.
	UpsertRecord(ctx context.Context, rec types.Record) (bool, error)

	// Associate inserts the association unless the pair exists.
	Associate(ctx context.Context, a types.Association) (bool, error)

	// Commit makes every write of the batch visible at once.
	Commit() error

	// Rollback discards every write of the batch. Safe after Commit.
	Rollback() error
}

// Schema names the record types and relations a target writes.
type Schema struct {
	RecordTypes []string
	Relations   []string
}

// Validate checks every name is a usable identifier and unique.
func (s Schema) Validate() error {
	seen := make(map[string]bool)
	for _, name := range append(append([]string(nil), s.RecordTypes...), s.Relations...) {
		if !types.IsValidIdent(name) {
			return fmt.Errorf("%w: bad table name %q", types.ErrInvalidRecord, name)
		}
		if seen[name] {
			return fmt.Errorf("%w: duplicate table name %q", types.ErrInvalidRecord, name)
		}
		seen[name] = true
	}
	return nil
}

// Merge returns the union of two schemas.
func (s Schema) Merge(other Schema) Schema {
	out := Schema{}
	seen := make(map[string]bool)
	for _, name := range append(append([]string(nil), s.RecordTypes...), other.RecordTypes...) {
		if !seen[name] {
			seen[name] = true
			out.RecordTypes = append(out.RecordTypes, name)
		}
	}
	for _, name := range append(append([]string(nil), s.Relations...), other.Relations...) {
		if !seen[name] {
			seen[name] = true
			out.Relations = append(out.Relations, name)
		}
	}
	return out
}

// Open creates the store for one archive target. SQLite stores live in
// targetDir; Mongo stores get a database per target.
func Open(ctx context.Context, cfg config.StorageConfig, targetKey, targetDir string, logger *slog.Logger) (Storage, error) {
	switch cfg.Type {
	case "sqlite", "":
		return NewSQLiteStorage(filepath.Join(targetDir, "meta.db"), logger)
	case "mongo":
		return NewMongoStorage(ctx, cfg.MongoURI, mongoDatabaseName(cfg.MongoDatabase, targetKey), logger)
	default:
		return nil, &types.ConfigError{Field: "storage.type", Err: fmt.Errorf("unsupported storage type %q", cfg.Type)}
	}
}

func mongoDatabaseName(base, targetKey string) string {
	r := strings.NewReplacer("/", "_", ".", "_", " ", "_", "\\", "_", "$", "_", "\"", "_")
	return base + "_" + r.Replace(targetKey)
}
