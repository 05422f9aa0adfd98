package storage

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/IshaanNene/pagearchive/internal/types"
)

// Exporter writes stored records to a flat file.
type Exporter interface {
	// Write appends one record.
	Write(rec types.Record) error

	// Close flushes pending writes and releases resources.
	Close() error

	// Name returns the export format identifier.
	Name() string
}

// --- JSONL Export ---

// JSONLExporter writes one JSON object per record. JSON payloads are
// embedded as objects, anything else as a string.
type JSONLExporter struct {
	path   string
	closer io.Closer
	enc    *json.Encoder
	count  int
	logger *slog.Logger
}

type jsonlEntry struct {
	Type     string `json:"type"`
	ID       string `json:"id"`
	ParentID string `json:"parent_id,omitempty"`
	Payload  any    `json:"payload"`
}

// NewJSONLExporter creates a JSONL exporter writing to w.
func NewJSONLExporter(w io.Writer, logger *slog.Logger) *JSONLExporter {
	e := &JSONLExporter{
		enc:    json.NewEncoder(w),
		logger: logger.With("component", "jsonl_export"),
	}
	if c, ok := w.(io.Closer); ok {
		e.closer = c
	}
	if f, ok := w.(*os.File); ok {
		e.path = f.Name()
	}
	return e
}

func (e *JSONLExporter) Name() string { return "jsonl" }

func (e *JSONLExporter) Write(rec types.Record) error {
	entry := jsonlEntry{Type: rec.Type, ID: rec.ID, ParentID: rec.ParentID, Payload: rec.Payload}
	if json.Valid([]byte(rec.Payload)) {
		entry.Payload = json.RawMessage(rec.Payload)
	}
	if err := e.enc.Encode(entry); err != nil {
		return fmt.Errorf("encode JSONL: %w", err)
	}
	e.count++
	return nil
}

func (e *JSONLExporter) Close() error {
	e.logger.Info("JSONL written", "path", e.path, "records", e.count)
	if e.closer != nil {
		return e.closer.Close()
	}
	return nil
}

// --- CSV Export ---

// CSVExporter writes records as type,id,parent_id,payload rows.
type CSVExporter struct {
	path    string
	closer  io.Closer
	writer  *csv.Writer
	started bool
	count   int
	logger  *slog.Logger
}

// NewCSVExporter creates a CSV exporter writing to w.
func NewCSVExporter(w io.Writer, logger *slog.Logger) *CSVExporter {
	e := &CSVExporter{
		writer: csv.NewWriter(w),
		logger: logger.With("component", "csv_export"),
	}
	if c, ok := w.(io.Closer); ok {
		e.closer = c
	}
	if f, ok := w.(*os.File); ok {
		e.path = f.Name()
	}
	return e
}

func (e *CSVExporter) Name() string { return "csv" }

func (e *CSVExporter) Write(rec types.Record) error {
	if !e.started {
		e.started = true
		if err := e.writer.Write([]string{"type", "id", "parent_id", "payload"}); err != nil {
			return fmt.Errorf("write CSV header: %w", err)
		}
	}
	if err := e.writer.Write([]string{rec.Type, rec.ID, rec.ParentID, rec.Payload}); err != nil {
		return fmt.Errorf("write CSV row: %w", err)
	}
	e.count++
	return nil
}

func (e *CSVExporter) Close() error {
	e.logger.Info("CSV written", "path", e.path, "records", e.count)
	e.writer.Flush()
	if err := e.writer.Error(); err != nil {
		return err
	}
	if e.closer != nil {
		return e.closer.Close()
	}
	return nil
}

// NewFileExporter creates the exporter for format writing to path.
func NewFileExporter(format, path string, logger *slog.Logger) (Exporter, error) {
	if format != "jsonl" && format != "csv" {
		return nil, fmt.Errorf("unsupported export format: %s", format)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create output file: %w", err)
	}
	if format == "csv" {
		return NewCSVExporter(f, logger), nil
	}
	return NewJSONLExporter(f, logger), nil
}

// Export streams every record of recordType from s into e and returns how
// many were written. It does not close e.
func Export(ctx context.Context, s Storage, recordType string, e Exporter) (int, error) {
	n := 0
	err := s.Scan(ctx, recordType, func(rec types.Record) error {
		if err := e.Write(rec); err != nil {
			return err
		}
		n++
		return nil
	})
	return n, err
}
