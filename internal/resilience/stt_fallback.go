package resilience

import (
	"context"
	"errors"

	"github.com/MrWong99/voxnote/pkg/provider/stt"
)

// STTFallback is an [stt.Provider] that opens the stream on the first
// healthy backend that accepts the language.
//
// A backend that does not support the requested language is skipped without
// counting against its breaker. When none supports it, the returned error
// still matches [stt.ErrLanguageUnsupported] so the session can carry on
// with batch recognition alone.
type STTFallback struct {
	group *FallbackGroup[stt.Provider]
}

var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback creates an [STTFallback] preferring primary.
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FallbackConfig) *STTFallback {
	if cfg.Breaker.Ignore == nil {
		cfg.Breaker.Ignore = ignoreSTT
	}
	return &STTFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback appends a streaming backend.
func (f *STTFallback) AddFallback(name string, provider stt.Provider) {
	f.group.AddFallback(name, provider)
}

// Names returns the backend names in preference order.
func (f *STTFallback) Names() []string { return f.group.Names() }

// State returns the breaker state of the named backend.
func (f *STTFallback) State(name string) (State, bool) { return f.group.State(name) }

// StartStream implements [stt.Provider].
func (f *STTFallback) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	return ExecuteWithResult(f.group, func(p stt.Provider) (stt.SessionHandle, error) {
		return p.StartStream(ctx, cfg)
	})
}

func ignoreSTT(err error) bool {
	return errors.Is(err, stt.ErrLanguageUnsupported) || errors.Is(err, context.Canceled)
}
