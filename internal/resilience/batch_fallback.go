package resilience

import (
	"context"
	"errors"

	"github.com/MrWong99/voxnote/pkg/provider/batch"
	"github.com/MrWong99/voxnote/pkg/types"
)

// BatchFallback implements [batch.Recognizer] with failover across several
// batch backends, each behind its own circuit breaker.
//
// Every backend still makes at most one upload per call. Rejections that do
// not reflect backend health ([batch.ErrTooLarge], missing credentials and
// cancelled callers) do not count against a breaker. After a full failover the
// returned error wraps the last backend's [*batch.Error], so [batch.KindOf]
// keeps working.
type BatchFallback struct {
	group *FallbackGroup[batch.Recognizer]
}

var _ batch.Recognizer = (*BatchFallback)(nil)

// NewBatchFallback creates a [BatchFallback] with primary as the preferred backend.
func NewBatchFallback(primary batch.Recognizer, primaryName string, cfg FallbackConfig) *BatchFallback {
	if cfg.Breaker.Ignore == nil {
		cfg.Breaker.Ignore = ignoreBatch
	}
	return &BatchFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional batch recognizer.
func (f *BatchFallback) AddFallback(name string, r batch.Recognizer) {
	f.group.AddFallback(name, r)
}

// Names returns the recognizer names in failover order.
func (f *BatchFallback) Names() []string { return f.group.Names() }

// State returns the breaker state of the named recognizer.
func (f *BatchFallback) State(name string) (State, bool) { return f.group.State(name) }

// Transcribe implements [batch.Recognizer].
func (f *BatchFallback) Transcribe(ctx context.Context, audio batch.Audio, languageHint string) (types.Candidate, error) {
	return ExecuteWithResult(f.group, func(r batch.Recognizer) (types.Candidate, error) {
		if err := ctx.Err(); err != nil {
			return types.Candidate{}, &batch.Error{Kind: batch.KindNetwork, Err: err}
		}
		return r.Transcribe(ctx, audio, languageHint)
	})
}

func ignoreBatch(err error) bool {
	return errors.Is(err, batch.ErrTooLarge) ||
		errors.Is(err, batch.ErrInvalidConfiguration) ||
		errors.Is(err, context.Canceled)
}
