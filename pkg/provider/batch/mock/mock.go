// Package mock provides a test double for batch.Recognizer.
//
// Set Result or Err to control the outcome. Set Release to a channel to hold
// every call until the channel is closed or the call's context ends.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voxnote/pkg/provider/batch"
	"github.com/MrWong99/voxnote/pkg/types"
)

// TranscribeCall records a single invocation of Recognizer.Transcribe.
type TranscribeCall struct {
	Audio        batch.Audio
	LanguageHint string
}

// Recognizer is a mock implementation of batch.Recognizer.
type Recognizer struct {
	mu sync.Mutex

	// Result is returned on success.
	Result types.Candidate

	// Err, if non-nil, is returned instead of Result.
	Err error

	// Release, if non-nil, blocks each call until it is closed. A cancelled
	// context unblocks the call with ctx.Err() wrapped as a network error.
	Release chan struct{}

	// Calls records every call to Transcribe.
	Calls []TranscribeCall

	started chan struct{}
	once    sync.Once
}

var _ batch.Recognizer = (*Recognizer)(nil)

// Transcribe records the call and returns Result or Err.
func (r *Recognizer) Transcribe(ctx context.Context, audio batch.Audio, languageHint string) (types.Candidate, error) {
	r.mu.Lock()
	r.Calls = append(r.Calls, TranscribeCall{
		Audio:        batch.Audio{PCM: append([]byte(nil), audio.PCM...), SampleRate: audio.SampleRate, Channels: audio.Channels},
		LanguageHint: languageHint,
	})
	release := r.Release
	r.mu.Unlock()
	r.signal()

	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return types.Candidate{}, &batch.Error{Kind: batch.KindNetwork, Err: ctx.Err()}
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return types.Candidate{}, r.Err
	}
	return r.Result, nil
}

// Started returns a channel closed once the first call has been recorded.
func (r *Recognizer) Started() <-chan struct{} {
	r.init()
	return r.started
}

// CallCount returns the number of Transcribe calls so far.
func (r *Recognizer) CallCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Calls)
}

// LastCall returns the most recent call, or false if there was none.
func (r *Recognizer) LastCall() (TranscribeCall, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.Calls) == 0 {
		return TranscribeCall{}, false
	}
	return r.Calls[len(r.Calls)-1], true
}

func (r *Recognizer) init() {
	r.mu.Lock()
	if r.started == nil {
		r.started = make(chan struct{})
	}
	r.mu.Unlock()
}

func (r *Recognizer) signal() {
	r.init()
	r.once.Do(func() { close(r.started) })
}
