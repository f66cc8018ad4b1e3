// Package stt defines the Provider interface for streaming Speech-to-Text backends.
//
// An STT provider wraps a real-time transcription service (e.g., Deepgram or a
// local Whisper server) and exposes a uniform streaming interface. The central
// abstraction is SessionHandle: once opened, a session accepts raw PCM audio
// frames and emits two streams of Transcript values: low-latency partials for
// live display and committed finals.
//
// A session is bound to exactly one recognition language. Providers that cannot
// recognize the requested language fail StartStream with an error wrapping
// [ErrLanguageUnsupported] so callers can fall back to another engine.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"
)

// ErrLanguageUnsupported is returned by [Provider.StartStream] when the
// provider has no recognizer for the requested language.
var ErrLanguageUnsupported = errors.New("stt: language unsupported")

// StreamConfig describes the audio format and recognition language for a new
// STT session.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz. 16000 is the norm for STT.
	SampleRate int

	// Channels is the number of audio channels. 1 = mono (required by most STT
	// providers).
	Channels int

	// Language is the BCP-47 language tag for recognition (e.g., "en-US", "tr").
	// Providers match on the base language.
	Language string
}

// SessionHandle represents an open STT streaming session. It is an interface so
// that test code can provide mock implementations without requiring a live provider
// connection.
//
// Callers must call Close when the session is no longer needed. Failing to do so
// may leak goroutines and network connections inside the provider implementation.
// All methods must be safe for concurrent use.
type SessionHandle interface {
	// SendAudio delivers a chunk of raw PCM audio bytes to the provider for
	// transcription. The chunk should match the SampleRate, Channels, and bit-depth
	// agreed in StreamConfig. Calling SendAudio after Close returns an error.
	SendAudio(chunk []byte) error

	// Partials returns a read-only channel that emits low-latency interim Transcript
	// values. The channel is closed when the session ends.
	Partials() <-chan Transcript

	// Finals returns a read-only channel that emits committed Transcript values,
	// one per recognized utterance. The channel is closed when the session ends.
	Finals() <-chan Transcript

	// Err returns the error that terminated the session, if any. It is only
	// meaningful once both channels are closed; a clean shutdown reports nil.
	Err() error

	// Close terminates the session, flushes any pending audio, and releases all
	// associated resources. The Partials and Finals channels are closed once the
	// flushed audio has been recognized. Calling Close more than once is safe and
	// returns nil.
	Close() error
}

// Provider is the abstraction over any streaming STT backend.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// StartStream opens a new streaming transcription session with the given audio
	// format and language. The returned SessionHandle is ready to accept audio
	// immediately.
	//
	// Returns an error wrapping ErrLanguageUnsupported if the language cannot be
	// recognized, or another error if the session cannot be established (e.g.,
	// authentication failure or ctx already cancelled). The caller owns the
	// SessionHandle and must call Close when done.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}
