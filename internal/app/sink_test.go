package app

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/MrWong99/voxnote/internal/session"
	"github.com/MrWong99/voxnote/pkg/arbitrate"
	"github.com/MrWong99/voxnote/pkg/resultlog"
	resultmock "github.com/MrWong99/voxnote/pkg/resultlog/mock"
	"github.com/MrWong99/voxnote/pkg/types"
)

func sampleOutcome() session.Outcome {
	return session.Outcome{
		SessionID: 9,
		Result: arbitrate.Result{
			Text:        "Merhaba dünya",
			Engine:      types.EngineBatch,
			Confidence:  0.74,
			Reason:      "batch detected non-default language",
			Similarity:  0.4,
			Compared:    true,
			NeedsReview: true,
			Language:    "tr",
		},
		Language:           "tr",
		LanguageConfidence: 0.88,
		Duration:           3 * time.Second,
	}
}

func TestRecordFromOutcome(t *testing.T) {
	t.Parallel()
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.FixedZone("CET", 3600))

	got := RecordFromOutcome(sampleOutcome(), "01J000", at)
	want := resultlog.Record{
		ID:                 "01J000",
		SessionID:          9,
		Text:               "Merhaba dünya",
		Engine:             types.EngineBatch,
		Confidence:         0.74,
		Reason:             "batch detected non-default language",
		Similarity:         0.4,
		NeedsReview:        true,
		Language:           "tr",
		LanguageConfidence: 0.88,
		Duration:           3 * time.Second,
		CreatedAt:          at.UTC(),
	}
	if got != want {
		t.Errorf("RecordFromOutcome:\n got %+v\nwant %+v", got, want)
	}
}

func TestResultSink_Deliver(t *testing.T) {
	t.Parallel()

	t.Run("appends with a fresh id", func(t *testing.T) {
		store := &resultmock.Store{}
		s := &resultSink{store: resultlog.NewGuard(store, nil), log: slog.Default(), now: time.Now}

		for range 2 {
			if err := s.Deliver(context.Background(), sampleOutcome()); err != nil {
				t.Fatalf("Deliver: %v", err)
			}
		}
		recs := store.Snapshot()
		if len(recs) != 2 {
			t.Fatalf("stored %d records, want 2", len(recs))
		}
		if recs[0].ID == "" || recs[0].ID == recs[1].ID {
			t.Errorf("ids = %q, %q; want distinct non-empty", recs[0].ID, recs[1].ID)
		}
	})

	t.Run("storage failure does not fail delivery", func(t *testing.T) {
		store := &resultmock.Store{AppendErr: errors.New("read-only file system")}
		g := resultlog.NewGuard(store, nil)
		s := &resultSink{store: g, log: slog.Default(), now: time.Now}

		if err := s.Deliver(context.Background(), sampleOutcome()); err != nil {
			t.Fatalf("Deliver = %v, want nil", err)
		}
		if !g.IsDegraded() {
			t.Error("guard should report degraded")
		}
	})

	t.Run("no store only logs", func(t *testing.T) {
		s := &resultSink{log: slog.Default(), now: time.Now}
		if err := s.Deliver(context.Background(), sampleOutcome()); err != nil {
			t.Fatalf("Deliver: %v", err)
		}
	})
}
