// Package auditlog persists a record of every terminal Answer the pipeline
// produces: what route was called, how it resolved, and (when supplied) the
// audit-log reason attached to the request. This is an append-only trail
// for operators, not a cache — it never feeds back into ledger decisions,
// and it does not survive as rate-limit state: a process restart always
// starts the ledger from a clean slate regardless of what this store holds.
package auditlog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/tjfontaine/discordgw/internal/reqres"
)

// Store is a SQLite-backed append-only log of terminal request outcomes.
type Store struct {
	db *sql.DB
}

// Entry is one row of the audit trail.
type Entry struct {
	ID         string
	Method     string
	URI        string
	RawRoute   string
	Outcome    string
	Reason     string
	Cause      string
	RecordedAt time.Time
}

// New opens (or creates) a SQLite database at dbPath and ensures its schema.
// An empty dbPath opens an in-memory database, useful for tests.
func New(dbPath string) (*Store, error) {
	if dbPath == "" {
		dbPath = ":memory:"
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("auditlog: open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("auditlog: enable WAL mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	const stmt = `CREATE TABLE IF NOT EXISTS audit_entries (
		id TEXT PRIMARY KEY,
		method TEXT NOT NULL,
		uri TEXT NOT NULL,
		raw_route TEXT NOT NULL,
		outcome TEXT NOT NULL,
		reason TEXT,
		cause TEXT,
		recorded_at TIMESTAMP NOT NULL
	)`
	if _, err := s.db.Exec(stmt); err != nil {
		return fmt.Errorf("auditlog: create schema: %w", err)
	}
	const idx = `CREATE INDEX IF NOT EXISTS idx_audit_entries_raw_route ON audit_entries(raw_route)`
	if _, err := s.db.Exec(idx); err != nil {
		return fmt.Errorf("auditlog: create index: %w", err)
	}
	return nil
}

// Record appends one entry derived from a terminal Answer. Reason, when
// non-empty, is the X-Audit-Log-Reason the originating Request carried.
func Record[Data, Ctx any](ctx context.Context, s *Store, answer reqres.Answer[Data, Ctx], reason string) error {
	entry := Entry{
		ID:         uuid.NewString(),
		Method:     answer.Route.Method,
		URI:        answer.Route.URI,
		RawRoute:   answer.Route.RawRoute,
		Outcome:    answer.Kind.String(),
		Reason:     reason,
		RecordedAt: time.Now(),
	}
	if answer.Cause != nil {
		entry.Cause = answer.Cause.Error()
	}
	return s.insert(ctx, entry)
}

func (s *Store) insert(ctx context.Context, e Entry) error {
	const q = `INSERT INTO audit_entries (id, method, uri, raw_route, outcome, reason, cause, recorded_at)
	           VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, q, e.ID, e.Method, e.URI, e.RawRoute, e.Outcome, e.Reason, e.Cause, e.RecordedAt)
	if err != nil {
		return fmt.Errorf("auditlog: insert entry: %w", err)
	}
	return nil
}

// ListByRawRoute returns the most recent entries for a given rawRoute
// bucket, newest first, for the admin surface.
func (s *Store) ListByRawRoute(ctx context.Context, rawRoute string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `SELECT id, method, uri, raw_route, outcome, reason, cause, recorded_at
	           FROM audit_entries WHERE raw_route = ?
	           ORDER BY recorded_at DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, q, rawRoute, limit)
	if err != nil {
		return nil, fmt.Errorf("auditlog: query entries: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var reason, cause sql.NullString
		if err := rows.Scan(&e.ID, &e.Method, &e.URI, &e.RawRoute, &e.Outcome, &reason, &cause, &e.RecordedAt); err != nil {
			return nil, fmt.Errorf("auditlog: scan entry: %w", err)
		}
		e.Reason = reason.String
		e.Cause = cause.String
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
