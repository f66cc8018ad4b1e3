// Package postgres provides a PostgreSQL-backed [resultlog.Store] for
// deployments where several voxnote instances share one transcript log.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//
//	_ = store.Append(ctx, record)
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/voxnote/pkg/resultlog"
	"github.com/MrWong99/voxnote/pkg/types"
)

const ddlTranscripts = `
CREATE TABLE IF NOT EXISTS transcripts (
    id                  TEXT         PRIMARY KEY,
    session_id          BIGINT       NOT NULL,
    text                TEXT         NOT NULL,
    engine              TEXT         NOT NULL,
    confidence          DOUBLE PRECISION NOT NULL DEFAULT 0,
    reason              TEXT         NOT NULL DEFAULT '',
    similarity          DOUBLE PRECISION NOT NULL DEFAULT 0,
    needs_review        BOOLEAN      NOT NULL DEFAULT false,
    language            TEXT         NOT NULL DEFAULT '',
    language_confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
    duration_ns         BIGINT       NOT NULL DEFAULT 0,
    created_at          TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_transcripts_created_at
    ON transcripts (created_at);

CREATE INDEX IF NOT EXISTS idx_transcripts_needs_review
    ON transcripts (needs_review) WHERE needs_review;
`

// Migrate creates the transcripts table and its indexes. It is idempotent and
// safe to call on every start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlTranscripts); err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}
	return nil
}

// Store is a [resultlog.Store] on a [pgxpool.Pool].
// All methods are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

var _ resultlog.Store = (*Store)(nil)

// NewStore connects to dsn, verifies the connection and runs [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres result log: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres result log: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres result log: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres result log: %w", err)
	}
	return &Store{pool: pool}, nil
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
	const q = `
		INSERT INTO transcripts
		    (id, session_id, text, engine, confidence, reason, similarity, needs_review,
		     language, language_confidence, duration_ns, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := s.pool.Exec(ctx, q,
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
		created,
	)
	if err != nil {
		return fmt.Errorf("postgres result log: append: %w", err)
	}
	return nil
}

// Recent implements [resultlog.Store].
func (s *Store) Recent(ctx context.Context, limit int) ([]resultlog.Record, error) {
	const q = `
		SELECT id, session_id, text, engine, confidence, reason, similarity, needs_review,
		       language, language_confidence, duration_ns, created_at
		FROM   transcripts
		ORDER  BY created_at DESC, id DESC
		LIMIT  $1`

	rows, err := s.pool.Query(ctx, q, resultlog.ClampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("postgres result log: recent: %w", err)
	}
	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (resultlog.Record, error) {
		var (
			r          resultlog.Record
			sessionID  int64
			engine     string
			durationNS int64
		)
		if err := row.Scan(&r.ID, &sessionID, &r.Text, &engine, &r.Confidence, &r.Reason,
			&r.Similarity, &r.NeedsReview, &r.Language, &r.LanguageConfidence,
			&durationNS, &r.CreatedAt); err != nil {
			return resultlog.Record{}, err
		}
		r.SessionID = uint64(sessionID)
		r.Engine = types.Engine(engine)
		r.Duration = time.Duration(durationNS)
		return r, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres result log: scan rows: %w", err)
	}
	if records == nil {
		records = []resultlog.Record{}
	}
	return records, nil
}

// Ping implements [resultlog.Store].
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close implements [resultlog.Store]. It releases every pooled connection.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
