// Package types defines the shared types used across all voxnote packages.
//
// These types form the lingua franca between audio capture, the recognizers,
// the arbitrator and the session orchestrator. Each package defines its own
// domain types; cross-cutting data structures live here to avoid circular imports.
package types

import "time"

// Engine identifies which recognition engine produced a transcript.
type Engine string

const (
	// EngineNone marks a result for which no engine produced a candidate.
	EngineNone Engine = "none"

	// EngineStreaming is the low-latency, on-the-fly recognizer.
	EngineStreaming Engine = "streaming"

	// EngineBatch is the higher-accuracy recognizer that runs over the
	// complete recording after capture ends.
	EngineBatch Engine = "batch"
)

// String implements [fmt.Stringer].
func (e Engine) String() string { return string(e) }

// Candidate is one engine's proposal for the transcript of a session.
type Candidate struct {
	// Text is the recognized speech content, in the engine's original casing.
	Text string

	// Confidence is the engine's confidence in the range [0, 1]. When
	// ConfidenceReported is false it holds the 1.0 default and callers must
	// treat it as low trust.
	Confidence float64

	// ConfidenceReported reports whether the engine actually supplied Confidence.
	ConfidenceReported bool

	// IsFinal is false for intermediate streaming hypotheses.
	IsFinal bool

	// Language is the ISO 639-1 code the engine recognized or was bound to.
	// Empty when unknown.
	Language string

	// LanguageConfidence is the confidence that Language is correct, in [0, 1].
	LanguageConfidence float64

	// Segments holds timing detail when the engine reports it (batch only).
	Segments []Segment
}

// Segment is a timed slice of a batch transcript.
type Segment struct {
	Text       string
	Start      time.Duration
	End        time.Duration
	AvgLogProb float64
}

// LanguageHypothesis is one guess of a language identifier.
type LanguageHypothesis struct {
	// Language is an ISO 639-1 code such as "en" or "tr".
	Language string

	// Confidence is in [0, 1].
	Confidence float64
}
