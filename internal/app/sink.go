package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/MrWong99/voxnote/internal/session"
	"github.com/MrWong99/voxnote/pkg/resultlog"
)

// resultSink persists reconciled sessions. A nil store only logs them.
type resultSink struct {
	store resultlog.Store
	log   *slog.Logger
	now   func() time.Time
}

var _ session.ResultSink = (*resultSink)(nil)

// Deliver implements [session.ResultSink].
func (s *resultSink) Deliver(ctx context.Context, o session.Outcome) error {
	rec := RecordFromOutcome(o, ulid.Make().String(), s.now())

	s.log.Info("transcript reconciled",
		"session_id", o.SessionID,
		"record_id", rec.ID,
		"engine", rec.Engine,
		"confidence", rec.Confidence,
		"needs_review", rec.NeedsReview,
		"language", rec.Language,
		"duration", rec.Duration,
		"reason", rec.Reason,
	)
	if s.store == nil {
		return nil
	}
	return s.store.Append(ctx, rec)
}

// RecordFromOutcome flattens a session outcome into a result log record.
func RecordFromOutcome(o session.Outcome, id string, at time.Time) resultlog.Record {
	return resultlog.Record{
		ID:                 id,
		SessionID:          o.SessionID,
		Text:               o.Result.Text,
		Engine:             o.Result.Engine,
		Confidence:         o.Result.Confidence,
		Reason:             o.Result.Reason,
		Similarity:         o.Result.Similarity,
		NeedsReview:        o.Result.NeedsReview,
		Language:           o.Language,
		LanguageConfidence: o.LanguageConfidence,
		Duration:           o.Duration,
		CreatedAt:          at.UTC(),
	}
}
