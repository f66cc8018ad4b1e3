// Package session runs dictation capture sessions: it owns the microphone for
// the lifetime of a session, feeds a language-bound streaming recognizer,
// switches the recognition language when the speaker changes language,
// runs the batch recognizer over the recording once capture ends and hands
// the arbitrated transcript to a [ResultSink].
//
// A session moves through Idle → Capturing → Finalizing → Reconciled → Idle.
// At most one session is capturing per [Manager]. Starting a new session
// abandons the current one: its device is released before Start returns and
// its result is never delivered.
//
// Each session has a single event loop that owns all mutable session state.
// Recognizer callbacks reach it as messages tagged with the session id and
// recognizer generation; messages from a superseded session or a replaced
// recognizer are dropped.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrWong99/voxnote/pkg/arbitrate"
	"github.com/MrWong99/voxnote/pkg/langid"
	"github.com/MrWong99/voxnote/pkg/types"
)

// State is the lifecycle state of a capture session.
type State int

const (
	StateIdle State = iota
	StateCapturing
	StateFinalizing
	StateReconciled
	StateAbandoned
)

// String implements [fmt.Stringer].
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCapturing:
		return "capturing"
	case StateFinalizing:
		return "finalizing"
	case StateReconciled:
		return "reconciled"
	case StateAbandoned:
		return "abandoned"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

var (
	// ErrNotCapturing is returned by [Manager.Stop] when no session is active.
	ErrNotCapturing = errors.New("session: no active session")

	// ErrAbandoned is returned to a [Manager.Stop] caller whose session was
	// superseded before it was reconciled.
	ErrAbandoned = errors.New("session: session abandoned")
)

// DeviceError reports that the audio device could not be opened. The session
// did not start and left no state behind.
type DeviceError struct {
	Err error
}

// Error implements error.
func (e *DeviceError) Error() string { return "session: audio device: " + e.Err.Error() }

// Unwrap returns the capture error.
func (e *DeviceError) Unwrap() error { return e.Err }

// Settings is the per-session configuration snapshot taken at Start.
type Settings struct {
	// DefaultLanguage is used when Start is called without a language and is
	// the reference language of the arbitrator's language rule.
	DefaultLanguage string

	// DualEngine enables the batch recognizer alongside the streaming one.
	DualEngine bool

	// ConfidenceThreshold is the arbitrator's very-high confidence bar.
	ConfidenceThreshold float64

	// UnreportedConfidence is the effective confidence of candidates whose
	// engine reported none.
	UnreportedConfidence float64

	// AutoDetectLanguage switches the streaming recognizer when another
	// language is detected. When false the [MismatchNotifier] is told instead.
	AutoDetectLanguage bool

	// LanguagePolicy holds the per-language switch thresholds.
	LanguagePolicy langid.Policy

	// MinDetectWords is the number of words a partial needs before language
	// identification runs on it.
	MinDetectWords int

	// MaxLanguageSwitches caps automatic switches per session.
	MaxLanguageSwitches int

	// StreamFinalTimeout bounds the wait for the streaming final after capture stops.
	StreamFinalTimeout time.Duration

	// SampleRate and Channels are the format delivered to the recognizers.
	SampleRate int
	Channels   int

	// FramesPerBuffer is the device read size in samples per channel.
	FramesPerBuffer int

	// MaxRecording caps the rolling recording used for the batch upload.
	MaxRecording time.Duration
}

// DefaultSettings returns the built-in session settings.
func DefaultSettings() Settings {
	return Settings{
		DefaultLanguage:      "en",
		DualEngine:           true,
		ConfidenceThreshold:  0.8,
		UnreportedConfidence: 0.5,
		AutoDetectLanguage:   true,
		LanguagePolicy:       langid.DefaultPolicy(),
		MinDetectWords:       3,
		MaxLanguageSwitches:  2,
		StreamFinalTimeout:   5 * time.Second,
		SampleRate:           16000,
		Channels:             1,
		FramesPerBuffer:      1024,
		MaxRecording:         10 * time.Minute,
	}
}

// withDefaults fills zero fields from [DefaultSettings].
func (s Settings) withDefaults() Settings {
	def := DefaultSettings()
	if s.DefaultLanguage == "" {
		s.DefaultLanguage = def.DefaultLanguage
	}
	if s.ConfidenceThreshold <= 0 {
		s.ConfidenceThreshold = def.ConfidenceThreshold
	}
	if s.UnreportedConfidence <= 0 {
		s.UnreportedConfidence = def.UnreportedConfidence
	}
	if s.MinDetectWords <= 0 {
		s.MinDetectWords = def.MinDetectWords
	}
	if s.MaxLanguageSwitches < 0 {
		s.MaxLanguageSwitches = 0
	}
	if s.StreamFinalTimeout <= 0 {
		s.StreamFinalTimeout = def.StreamFinalTimeout
	}
	if s.SampleRate <= 0 {
		s.SampleRate = def.SampleRate
	}
	if s.Channels <= 0 {
		s.Channels = def.Channels
	}
	if s.FramesPerBuffer <= 0 {
		s.FramesPerBuffer = def.FramesPerBuffer
	}
	if s.MaxRecording == 0 {
		s.MaxRecording = def.MaxRecording
	}
	return s
}

func (s Settings) arbitration() arbitrate.Config {
	return arbitrate.Config{
		VeryHighConfidence:   s.ConfidenceThreshold,
		UnreportedConfidence: s.UnreportedConfidence,
		DefaultLanguage:      s.DefaultLanguage,
	}
}

// SettingsProvider is the read-only source of session settings. It is
// consulted once per Start.
type SettingsProvider interface {
	Settings() Settings
}

// StaticSettings is a [SettingsProvider] that always returns itself.
type StaticSettings Settings

// Settings implements [SettingsProvider].
func (s StaticSettings) Settings() Settings { return Settings(s) }

// LanguageIdentifier ranks candidate languages for a piece of text.
// [*langid.Identifier] implements it.
type LanguageIdentifier interface {
	Identify(text string) []types.LanguageHypothesis
}

// Outcome is the reconciled result of one session.
type Outcome struct {
	SessionID uint64           `json:"session_id"`
	Result    arbitrate.Result `json:"result"`

	// Language is the active recognition language when capture ended and
	// LanguageConfidence how strongly the chosen text supports it.
	Language           string  `json:"language"`
	LanguageConfidence float64 `json:"language_confidence"`

	// Duration is the length of captured audio.
	Duration time.Duration `json:"duration"`

	// Streaming and Batch are the candidates that were arbitrated; nil when
	// the engine produced none.
	Streaming *types.Candidate `json:"streaming,omitempty"`
	Batch     *types.Candidate `json:"batch,omitempty"`

	// LanguageSwitches is the number of automatic switches performed.
	LanguageSwitches int `json:"language_switches"`

	// Errors lists the absorbed failures of this session (streaming start,
	// batch call, device) in the order they happened.
	Errors []string `json:"errors,omitempty"`
}

// ResultSink receives every reconciled session. Abandoned sessions are never
// delivered.
type ResultSink interface {
	Deliver(ctx context.Context, o Outcome) error
}

// ResultSinkFunc adapts a function to [ResultSink].
type ResultSinkFunc func(ctx context.Context, o Outcome) error

// Deliver implements [ResultSink].
func (f ResultSinkFunc) Deliver(ctx context.Context, o Outcome) error { return f(ctx, o) }

// MismatchNotifier is told when another language is detected while automatic
// switching is off, so the user can be prompted instead. It is called at most
// once per detected language per session and must not block.
type MismatchNotifier interface {
	NotifyLanguageMismatch(detected, current string, confidence float64)
}

// EventType classifies an [Event].
type EventType int

const (
	// EventState reports a state transition.
	EventState EventType = iota + 1
	// EventPartial carries the cumulative live transcript.
	EventPartial
	// EventLanguageSwitched reports an automatic recognition-language switch.
	EventLanguageSwitched
	// EventLanguageMismatch reports a detected language that was not switched to.
	EventLanguageMismatch
	// EventReconciled carries the final [Outcome].
	EventReconciled
	// EventError reports an absorbed failure.
	EventError
)

// String implements [fmt.Stringer].
func (t EventType) String() string {
	switch t {
	case EventState:
		return "state"
	case EventPartial:
		return "partial"
	case EventLanguageSwitched:
		return "language_switched"
	case EventLanguageMismatch:
		return "language_mismatch"
	case EventReconciled:
		return "reconciled"
	case EventError:
		return "error"
	default:
		return fmt.Sprintf("EventType(%d)", int(t))
	}
}

// Event is published on [Manager.Events].
type Event struct {
	Type      EventType
	SessionID uint64
	State     State

	// Text is the live transcript for EventPartial and the error for EventError.
	Text string

	// Language is the new or detected language; Previous the one it replaces.
	Language   string
	Previous   string
	Confidence float64

	Outcome *Outcome
}
