// Package batch defines the Recognizer interface for whole-recording
// Speech-to-Text backends and the error taxonomy they share.
//
// A batch recognizer runs after capture ends. It receives the complete
// recording, uploads it in a single request and returns one scored
// [types.Candidate]. It is slower than a streaming recognizer but usually more
// accurate. Every failure is reported as a [*Error] whose kind callers inspect
// with errors.Is against the sentinels below.
package batch

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/MrWong99/voxnote/pkg/types"
)

// Audio is a complete recording of 16-bit little-endian PCM.
type Audio struct {
	PCM        []byte
	SampleRate int
	Channels   int
}

// Recognizer transcribes a complete recording.
//
// Implementations must be safe for concurrent use and perform at most one
// upload per call: no silent retries.
type Recognizer interface {
	// Transcribe converts audio to text. languageHint is an optional BCP-47 tag
	// or ISO 639-1 code; empty lets the backend detect the language.
	Transcribe(ctx context.Context, audio Audio, languageHint string) (types.Candidate, error)
}

// Kind classifies a batch failure.
type Kind int

const (
	// KindInvalidConfiguration means credentials or settings are missing.
	KindInvalidConfiguration Kind = iota + 1
	// KindTooLarge means the encoded upload exceeds the size ceiling. It is
	// detected before any network activity.
	KindTooLarge
	// KindNetwork covers transport failures and timeouts.
	KindNetwork
	// KindService means the backend answered with an error status.
	KindService
	// KindMalformedResponse means the response body could not be decoded.
	KindMalformedResponse
)

// String implements [fmt.Stringer].
func (k Kind) String() string {
	switch k {
	case KindInvalidConfiguration:
		return "invalid_configuration"
	case KindTooLarge:
		return "too_large"
	case KindNetwork:
		return "network"
	case KindService:
		return "service"
	case KindMalformedResponse:
		return "malformed_response"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is; every [*Error] matches the one for its kind.
var (
	ErrInvalidConfiguration = errors.New("batch: invalid configuration")
	ErrTooLarge             = errors.New("batch: audio too large")
	ErrNetwork              = errors.New("batch: network error")
	ErrService              = errors.New("batch: service error")
	ErrMalformedResponse    = errors.New("batch: malformed response")
)

func (k Kind) sentinel() error {
	switch k {
	case KindInvalidConfiguration:
		return ErrInvalidConfiguration
	case KindTooLarge:
		return ErrTooLarge
	case KindNetwork:
		return ErrNetwork
	case KindService:
		return ErrService
	case KindMalformedResponse:
		return ErrMalformedResponse
	default:
		return nil
	}
}

// Error is the error type returned by every Recognizer.
type Error struct {
	Kind Kind

	// StatusCode is the HTTP status for KindService errors.
	StatusCode int

	// Message is the backend's own error message, if any.
	Message string

	// Err is the underlying cause.
	Err error
}

// Error implements error.
func (e *Error) Error() string {
	msg := "batch: " + e.Kind.String()
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (HTTP %d)", e.StatusCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel for e's kind.
func (e *Error) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && target == s
}

// KindOf returns the kind of err, or 0 if err is not a batch error.
func KindOf(err error) Kind {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind
	}
	return 0
}

// LogProbConfidence maps a mean per-token log-probability to [0, 1]:
// clamp((avg + 5) / 5, 0, 1). -5 and below map to 0, 0 maps to 1.
func LogProbConfidence(avgLogProb float64) float64 {
	if math.IsNaN(avgLogProb) {
		return 0
	}
	return min(max((avgLogProb+5)/5, 0), 1)
}
