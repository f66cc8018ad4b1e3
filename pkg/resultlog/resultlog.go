// Package resultlog defines the persistent log of reconciled dictation
// transcripts and the interface its backends implement.
//
// The log stands in for the note-creation collaborator of a host application:
// every session that reaches the Reconciled state is appended as one [Record].
// Backends live in sub-packages:
//
//   - [github.com/MrWong99/voxnote/pkg/resultlog/sqlite] for a local file
//   - [github.com/MrWong99/voxnote/pkg/resultlog/postgres] for a shared server
//
// [Guard] wraps any backend and turns storage failures into log warnings, so
// a database outage never blocks dictation.
package resultlog

import (
	"context"
	"errors"
	"time"

	"github.com/MrWong99/voxnote/pkg/types"
)

const (
	// DefaultRecentLimit is the number of records [Store.Recent] callers
	// should request when the user did not ask for a specific count.
	DefaultRecentLimit = 50

	// MaxRecentLimit caps a single Recent call.
	MaxRecentLimit = 500
)

// ErrEmptyID is returned by Append for a record without an ID.
var ErrEmptyID = errors.New("resultlog: record id must not be empty")

// Record is one reconciled transcript.
type Record struct {
	// ID is a caller-assigned, lexically sortable identifier (ULID).
	ID string `json:"id"`

	SessionID uint64 `json:"session_id"`

	// Text is the chosen transcript in its original casing.
	Text string `json:"text"`

	Engine      types.Engine `json:"engine"`
	Confidence  float64      `json:"confidence"`
	Reason      string       `json:"reason"`
	Similarity  float64      `json:"similarity"`
	NeedsReview bool         `json:"needs_review"`

	// Language is the ISO 639-1 code the session ended in.
	Language           string  `json:"language"`
	LanguageConfidence float64 `json:"language_confidence"`

	// Duration is the length of the captured audio.
	Duration time.Duration `json:"duration"`

	CreatedAt time.Time `json:"created_at"`
}

// Validate reports whether r can be stored.
func (r Record) Validate() error {
	if r.ID == "" {
		return ErrEmptyID
	}
	return nil
}

// Store persists records.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// Append stores r. Appending an ID that already exists is an error.
	Append(ctx context.Context, r Record) error

	// Recent returns up to limit records, newest first. A non-positive limit
	// selects [DefaultRecentLimit]; larger values are capped at [MaxRecentLimit].
	// The result is never nil.
	Recent(ctx context.Context, limit int) ([]Record, error)

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases the backend's resources.
	Close() error
}

// ClampLimit applies the Recent limit rules.
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultRecentLimit
	case limit > MaxRecentLimit:
		return MaxRecentLimit
	default:
		return limit
	}
}
