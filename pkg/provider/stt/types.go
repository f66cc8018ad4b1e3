package stt

import (
	"strings"
	"time"

	"golang.org/x/text/language"
)

// Transcript represents a speech-to-text result from an STT provider.
// Both partial (interim) and final transcripts use this type.
type Transcript struct {
	// Text is the transcribed speech content.
	Text string

	// IsFinal indicates whether this is a final (committed) or partial (interim) transcript.
	IsFinal bool

	// Confidence is the overall confidence score (0.0–1.0). Only meaningful when
	// ConfidenceReported is true.
	Confidence float64

	// ConfidenceReported is false for providers that do not score their output.
	ConfidenceReported bool

	// Words contains per-word detail when available (Deepgram).
	// May be nil for providers that don't support word-level output.
	Words []WordDetail

	// Timestamp marks when the utterance started, relative to session start.
	Timestamp time.Duration

	// Duration is the length of the utterance.
	Duration time.Duration
}

// WordDetail holds per-word metadata from STT providers that support it.
type WordDetail struct {
	Word       string
	Start      time.Duration
	End        time.Duration
	Confidence float64
}

// LanguageSet is a set of base language codes a provider can recognize.
// A nil set accepts every language.
type LanguageSet map[string]struct{}

// NewLanguageSet builds a set from ISO 639-1 codes or BCP-47 tags.
func NewLanguageSet(langs ...string) LanguageSet {
	s := make(LanguageSet, len(langs))
	for _, l := range langs {
		s[BaseLanguage(l)] = struct{}{}
	}
	return s
}

// Supports reports whether lang's base language is in the set. The empty
// language (auto-detect) is always supported.
func (s LanguageSet) Supports(lang string) bool {
	if s == nil || lang == "" {
		return true
	}
	_, ok := s[BaseLanguage(lang)]
	return ok
}

// BaseLanguage returns the lower-cased primary subtag of a BCP-47 tag,
// e.g. "en" for "en-US" and "zh" for "zh_Hans".
func BaseLanguage(tag string) string {
	tag = strings.TrimSpace(tag)
	if t, err := language.Parse(tag); err == nil {
		if b, conf := t.Base(); conf != language.No {
			return b.String()
		}
	}
	if i := strings.IndexAny(tag, "-_"); i >= 0 {
		tag = tag[:i]
	}
	return strings.ToLower(tag)
}
