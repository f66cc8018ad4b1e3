// Package sqlite provides a SQLite-backed [resultlog.Store] using the pure-Go
// modernc.org/sqlite driver. The database runs in WAL mode so the HTTP API can
// read while a session appends.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/MrWong99/voxnote/pkg/resultlog"
	"github.com/MrWong99/voxnote/pkg/types"
)

const ddl = `
CREATE TABLE IF NOT EXISTS transcripts (
    id                  TEXT    PRIMARY KEY,
    session_id          INTEGER NOT NULL,
    text                TEXT    NOT NULL,
    engine              TEXT    NOT NULL,
    confidence          REAL    NOT NULL DEFAULT 0,
    reason              TEXT    NOT NULL DEFAULT '',
    similarity          REAL    NOT NULL DEFAULT 0,
    needs_review        INTEGER NOT NULL DEFAULT 0,
    language            TEXT    NOT NULL DEFAULT '',
    language_confidence REAL    NOT NULL DEFAULT 0,
    duration_ns         INTEGER NOT NULL DEFAULT 0,
    created_at_ns       INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_transcripts_created ON transcripts(created_at_ns);
`

// Store is a [resultlog.Store] backed by a single SQLite file.
// All methods are safe for concurrent use.
type Store struct {
	db *sql.DB
}

var _ resultlog.Store = (*Store)(nil)

// Open opens (creating if needed) the database at path and ensures the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite result log: path must not be empty")
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlite result log: create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite result log: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite result log: ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite result log: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Append implements [resultlog.Store].
func (s *Store) Append(ctx context.Context, r resultlog.Record) error {
	if err := r.Validate(); err != nil {
		return err
	}
	created := r.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO transcripts
		    (id, session_id, text, engine, confidence, reason, similarity, needs_review,
		     language, language_confidence, duration_ns, created_at_ns)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID,
		int64(r.SessionID),
		r.Text,
		string(r.Engine),
		r.Confidence,
		r.Reason,
		r.Similarity,
		r.NeedsReview,
		r.Language,
		r.LanguageConfidence,
		r.Duration.Nanoseconds(),
		created.UTC().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("sqlite result log: append: %w", err)
	}
	return nil
}

// Recent implements [resultlog.Store].
func (s *Store) Recent(ctx context.Context, limit int) ([]resultlog.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, text, engine, confidence, reason, similarity, needs_review,
		        language, language_confidence, duration_ns, created_at_ns
		 FROM transcripts
		 ORDER BY created_at_ns DESC, id DESC
		 LIMIT ?`, resultlog.ClampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("sqlite result log: recent: %w", err)
	}
	defer rows.Close()

	out := []resultlog.Record{}
	for rows.Next() {
		var (
			r          resultlog.Record
			sessionID  int64
			engine     string
			durationNS int64
			createdNS  int64
		)
		if err := rows.Scan(&r.ID, &sessionID, &r.Text, &engine, &r.Confidence, &r.Reason,
			&r.Similarity, &r.NeedsReview, &r.Language, &r.LanguageConfidence,
			&durationNS, &createdNS); err != nil {
			return nil, fmt.Errorf("sqlite result log: scan: %w", err)
		}
		r.SessionID = uint64(sessionID)
		r.Engine = types.Engine(engine)
		r.Duration = time.Duration(durationNS)
		r.CreatedAt = time.Unix(0, createdNS).UTC()
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite result log: rows: %w", err)
	}
	return out, nil
}

// Ping implements [resultlog.Store].
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close implements [resultlog.Store].
func (s *Store) Close() error {
	return s.db.Close()
}
