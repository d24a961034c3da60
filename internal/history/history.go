// Package history keeps a log of answered and failed queries in SQLite.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// DefaultLimit is used by Recent when limit is not positive.
const DefaultLimit = 50

// maxLimit caps a single Recent call.
const maxLimit = 1000

// Entry is one logged query.
type Entry struct {
	ID            string    `json:"id"`
	CorrelationID string    `json:"correlationId,omitempty"`
	Question      string    `json:"question"`
	TopK          int       `json:"topK"`
	Outcome       string    `json:"outcome"`
	Answer        string    `json:"answer,omitempty"`
	Error         string    `json:"error,omitempty"`
	LatencyMS     int64     `json:"latencyMs"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Store is a SQLite-backed query log.
type Store struct {
	db *sql.DB
}

// Open opens (and creates if needed) the query log at path.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// database/sql pools connections; SQLite serializes writers anyway.
	db.SetMaxOpenConns(1)

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := db.ExecContext(pctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}

	if err := bootstrap(pctx, db); err != nil {
		_ = db.Close()

		return nil, err
	}

	return &Store{db: db}, nil
}

func bootstrap(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS query_log (
  id             TEXT PRIMARY KEY,
  correlation_id TEXT,
  question       TEXT NOT NULL,
  top_k          INTEGER NOT NULL,
  outcome        TEXT NOT NULL,
  answer         TEXT,
  error          TEXT,
  latency_ms     INTEGER NOT NULL,
  created_at     TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS query_log_created_at_idx ON query_log(created_at);`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap sqlite: %w", err)
		}
	}

	return nil
}

// Record appends e to the log. ID and CreatedAt are filled in when empty.
func (s *Store) Record(ctx context.Context, e *Entry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}

	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `INSERT INTO query_log
  (id, correlation_id, question, top_k, outcome, answer, error, latency_ms, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID,
		nullString(e.CorrelationID),
		e.Question,
		e.TopK,
		e.Outcome,
		nullString(e.Answer),
		nullString(e.Error),
		e.LatencyMS,
		e.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert query_log: %w", err)
	}

	return nil
}

// Recent returns up to limit entries, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}

	limit = min(limit, maxLimit)

	rows, err := s.db.QueryContext(ctx, `SELECT
  id, correlation_id, question, top_k, outcome, answer, error, latency_ms, created_at
FROM query_log
ORDER BY created_at DESC, rowid DESC
LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query query_log: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, limit)

	for rows.Next() {
		var (
			e                          Entry
			correlationID, ans, errMsg sql.NullString
			createdAt                  string
		)

		if err := rows.Scan(&e.ID, &correlationID, &e.Question, &e.TopK, &e.Outcome,
			&ans, &errMsg, &e.LatencyMS, &createdAt); err != nil {
			return nil, fmt.Errorf("scan query_log: %w", err)
		}

		e.CorrelationID = correlationID.String
		e.Answer = ans.String
		e.Error = errMsg.String

		e.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parse created_at %q: %w", createdAt, err)
		}

		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate query_log: %w", err)
	}

	return entries, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
