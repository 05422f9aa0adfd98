package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/IshaanNene/pagearchive/internal/types"
)

// SQLiteStorage keeps one table per record type and relation in a single
// SQLite file.
type SQLiteStorage struct {
	db     *sql.DB
	path   string
	logger *slog.Logger

	mu     sync.Mutex
	tables map[string]bool // name -> is relation
}

// NewSQLiteStorage opens (creating if needed) the database at path.
// ":memory:" gives a throwaway database for tests.
func NewSQLiteStorage(path string, logger *slog.Logger) (*SQLiteStorage, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, &types.StorageError{Backend: "sqlite", Op: "mkdir", Err: err}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, &types.StorageError{Backend: "sqlite", Op: "open", Err: err}
	}
	// One writer; also keeps ":memory:" on a single shared connection.
	db.SetMaxOpenConns(1)

	pragmas := []string{"PRAGMA busy_timeout = 60000;"}
	if path != ":memory:" {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL;")
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, &types.StorageError{Backend: "sqlite", Op: "pragma", Err: err}
		}
	}

	return &SQLiteStorage{
		db:     db,
		path:   path,
		tables: make(map[string]bool),
		logger: logger.With("component", "sqlite_storage", "path", path),
	}, nil
}

func (s *SQLiteStorage) Name() string { return "sqlite" }

// EnsureSchema implements Storage.
func (s *SQLiteStorage) EnsureSchema(ctx context.Context, schema Schema) error {
	if err := schema.Validate(); err != nil {
		return &types.StorageError{Backend: "sqlite", Op: "schema", Err: err}
	}

	var stmts []string
	for _, name := range schema.RecordTypes {
		stmts = append(stmts,
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %q (id TEXT PRIMARY KEY, parent_id TEXT, payload TEXT NOT NULL, fetched_at TEXT NOT NULL);`, name),
			fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %q ON %q (parent_id);`, name+"_parent_idx", name),
		)
	}
	for _, name := range schema.Relations {
		stmts = append(stmts,
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %q (parent_id TEXT NOT NULL, child_id TEXT NOT NULL, fetched_at TEXT NOT NULL, PRIMARY KEY (parent_id, child_id));`, name),
		)
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return &types.StorageError{Backend: "sqlite", Op: "schema", Err: err}
		}
	}

	s.mu.Lock()
	for _, name := range schema.RecordTypes {
		s.tables[name] = false
	}
	for _, name := range schema.Relations {
		s.tables[name] = true
	}
	s.mu.Unlock()

	s.logger.Debug("schema ensured", "record_types", len(schema.RecordTypes), "relations", len(schema.Relations))
	return nil
}

func (s *SQLiteStorage) checkTable(name string, relation bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	isRelation, ok := s.tables[name]
	if !ok || isRelation != relation {
		return fmt.Errorf("%w: %q is not in the schema", types.ErrInvalidRecord, name)
	}
	return nil
}

// Begin implements Storage.
func (s *SQLiteStorage) Begin(ctx context.Context) (Batch, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, &types.StorageError{Backend: "sqlite", Op: "begin", Err: err}
	}
	return &sqliteBatch{store: s, tx: tx, now: time.Now().UTC().Format(time.RFC3339)}, nil
}

// Count implements Storage.
func (s *SQLiteStorage) Count(ctx context.Context, name string) (int64, error) {
	if !types.IsValidIdent(name) {
		return 0, &types.StorageError{Backend: "sqlite", Op: "count", Err: fmt.Errorf("bad table name %q", name)}
	}
	var n int64
	if err := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %q;`, name)).Scan(&n); err != nil {
		return 0, &types.StorageError{Backend: "sqlite", Op: "count", Err: err}
	}
	return n, nil
}

// Scan implements Storage.
func (s *SQLiteStorage) Scan(ctx context.Context, recordType string, fn func(types.Record) error) error {
	if err := s.checkTable(recordType, false); err != nil {
		return &types.StorageError{Backend: "sqlite", Op: "scan", Err: err}
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT id, COALESCE(parent_id, ''), payload FROM %q ORDER BY id;`, recordType))
	if err != nil {
		return &types.StorageError{Backend: "sqlite", Op: "scan", Err: err}
	}
	defer rows.Close()

	for rows.Next() {
		rec := types.Record{Type: recordType}
		if err := rows.Scan(&rec.ID, &rec.ParentID, &rec.Payload); err != nil {
			return &types.StorageError{Backend: "sqlite", Op: "scan", Err: err}
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return &types.StorageError{Backend: "sqlite", Op: "scan", Err: err}
	}
	return nil
}

// Close implements Storage.
func (s *SQLiteStorage) Close() error {
	s.logger.Debug("sqlite storage closing")
	return s.db.Close()
}

type sqliteBatch struct {
	store *SQLiteStorage
	tx    *sql.Tx
	now   string
	done  bool
}

func (b *sqliteBatch) UpsertRecord(ctx context.Context, rec types.Record) (bool, error) {
	if err := rec.Validate(); err != nil {
		return false, &types.StorageError{Backend: "sqlite", Op: "upsert", Err: err}
	}
	if err := b.store.checkTable(rec.Type, false); err != nil {
		return false, &types.StorageError{Backend: "sqlite", Op: "upsert", Err: err}
	}

	var parent any
	if rec.ParentID != "" {
		parent = rec.ParentID
	}
	res, err := b.tx.ExecContext(ctx,
		fmt.Sprintf(`INSERT OR IGNORE INTO %q (id, parent_id, payload, fetched_at) VALUES (?, ?, ?, ?);`, rec.Type),
		rec.ID, parent, rec.Payload, b.now,
	)
	if err != nil {
		return false, &types.StorageError{Backend: "sqlite", Op: "upsert", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, &types.StorageError{Backend: "sqlite", Op: "upsert", Err: err}
	}
	return n > 0, nil
}

func (b *sqliteBatch) Associate(ctx context.Context, a types.Association) (bool, error) {
	if err := a.Validate(); err != nil {
		return false, &types.StorageError{Backend: "sqlite", Op: "associate", Err: err}
	}
	if err := b.store.checkTable(a.Relation, true); err != nil {
		return false, &types.StorageError{Backend: "sqlite", Op: "associate", Err: err}
	}

	res, err := b.tx.ExecContext(ctx,
		fmt.Sprintf(`INSERT OR IGNORE INTO %q (parent_id, child_id, fetched_at) VALUES (?, ?, ?);`, a.Relation),
		a.ParentID, a.ChildID, b.now,
	)
	if err != nil {
		return false, &types.StorageError{Backend: "sqlite", Op: "associate", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, &types.StorageError{Backend: "sqlite", Op: "associate", Err: err}
	}
	return n > 0, nil
}

func (b *sqliteBatch) Commit() error {
	if b.done {
		return nil
	}
	b.done = true
	if err := b.tx.Commit(); err != nil {
		return &types.StorageError{Backend: "sqlite", Op: "commit", Err: err}
	}
	return nil
}

func (b *sqliteBatch) Rollback() error {
	if b.done {
		return nil
	}
	b.done = true
	if err := b.tx.Rollback(); err != nil {
		return &types.StorageError{Backend: "sqlite", Op: "rollback", Err: err}
	}
	return nil
}
