// Package arbitrate picks one transcript out of the candidates produced by the
// streaming and batch recognizers of a dictation session.
//
// [Arbitrate] is a pure, total and deterministic function. It proceeds in order:
//
//  1. No candidate: an empty result attributed to [types.EngineNone].
//  2. One candidate: it wins outright.
//  3. Both texts empty: an empty result. One text empty: the other wins.
//  4. High agreement ([Similarity] ≥ 0.7): the higher confidence wins.
//  5. Disagreement: the first rule that applies wins.
//     a. One confidence exceeds the very-high threshold while the other is
//     more than 0.1 below it.
//     b. The lengths differ by more than 30% of their mean and the longer
//     transcript has confidence ≥ 0.6.
//     c. Batch detected a non-default language with confidence ≥ 0.5.
//     d. The higher confidence.
//
// Confidence always means effective confidence: the value an engine reported,
// or [Config.UnreportedConfidence] when it reported none. Exact ties go to
// batch. A result needs review when its text is empty, its confidence is below
// 0.6, or two non-empty candidates were compared with similarity below 0.5.
package arbitrate

import (
	"fmt"
	"math"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/antzucaro/matchr"

	"github.com/MrWong99/voxnote/pkg/langid"
	"github.com/MrWong99/voxnote/pkg/types"
)

const (
	// AgreementThreshold is the similarity at or above which both engines
	// are considered to have heard the same thing.
	AgreementThreshold = 0.7

	confidenceMargin      = 0.1
	lengthRatio           = 0.3
	longerMinConfidence   = 0.6
	languageMinConfidence = 0.5
	reviewConfidence      = 0.6
	reviewSimilarity      = 0.5

	jaccardWeight     = 0.7
	levenshteinWeight = 0.3
)

// Config holds the tunable inputs of the decision.
type Config struct {
	// VeryHighConfidence is the bar for rule 5a. Default: 0.8.
	VeryHighConfidence float64

	// UnreportedConfidence stands in for a candidate that reported no
	// confidence. Default: 0.5.
	UnreportedConfidence float64

	// DefaultLanguage is the language rule 5c compares against. Default: "en".
	DefaultLanguage string
}

// DefaultConfig returns the default thresholds.
func DefaultConfig() Config {
	return Config{
		VeryHighConfidence:   0.8,
		UnreportedConfidence: 0.5,
		DefaultLanguage:      "en",
	}
}

// Result is the reconciled transcript of a session.
type Result struct {
	// Text is the chosen transcript in its original casing.
	Text string `json:"text"`

	// Engine is the engine whose candidate was chosen.
	Engine types.Engine `json:"engine"`

	// Confidence is the effective confidence of the chosen candidate.
	Confidence float64 `json:"confidence"`

	// ConfidenceReported is false when Confidence is the unreported default.
	ConfidenceReported bool `json:"confidence_reported"`

	// Reason explains the decision.
	Reason string `json:"reason"`

	// Similarity between the two candidates, 0 when fewer than two were compared.
	Similarity float64 `json:"similarity"`

	// Compared reports whether two non-empty candidates were compared.
	Compared bool `json:"compared"`

	// NeedsReview flags a result the user should double-check.
	NeedsReview bool `json:"needs_review"`

	// Language is the chosen candidate's language, if known.
	Language string `json:"language,omitempty"`
}

// Arbitrate chooses between the streaming and batch candidates. Either or
// both may be nil.
func Arbitrate(streaming, batch *types.Candidate, cfg Config) Result {
	cfg = withDefaults(cfg)

	var r Result
	switch {
	case streaming == nil && batch == nil:
		r = Result{Engine: types.EngineNone, Reason: "no candidates available"}
	case batch == nil:
		r = choose(streaming, types.EngineStreaming, cfg, "only streaming available")
	case streaming == nil:
		r = choose(batch, types.EngineBatch, cfg, "only batch available")
	default:
		r = compare(streaming, batch, cfg)
	}

	r.NeedsReview = strings.TrimSpace(r.Text) == "" ||
		r.Confidence < reviewConfidence ||
		(r.Compared && r.Similarity < reviewSimilarity)
	return r
}

func compare(s, b *types.Candidate, cfg Config) Result {
	ns, nb := normalize(s.Text), normalize(b.Text)
	switch {
	case ns == "" && nb == "":
		return Result{Engine: types.EngineNone, Reason: "both transcripts empty"}
	case ns == "":
		return choose(b, types.EngineBatch, cfg, "streaming transcript empty")
	case nb == "":
		return choose(s, types.EngineStreaming, cfg, "batch transcript empty")
	}

	sim := similarity(ns, nb)
	cs, cb := effective(s, cfg), effective(b, cfg)
	longer := longerWins(ns, nb, cs, cb)

	var r Result
	switch {
	case sim >= AgreementThreshold:
		r = higher(s, b, cfg, fmt.Sprintf("high agreement (similarity %.2f)", sim))

	case cs > cfg.VeryHighConfidence && cb < cs-confidenceMargin:
		r = choose(s, types.EngineStreaming, cfg,
			fmt.Sprintf("streaming confidence %.2f is very high and batch trails at %.2f", cs, cb))
	case cb > cfg.VeryHighConfidence && cs < cb-confidenceMargin:
		r = choose(b, types.EngineBatch, cfg,
			fmt.Sprintf("batch confidence %.2f is very high and streaming trails at %.2f", cb, cs))

	case longer == types.EngineStreaming:
		r = choose(s, types.EngineStreaming, cfg, "streaming transcript is substantially longer")
	case longer == types.EngineBatch:
		r = choose(b, types.EngineBatch, cfg, "batch transcript is substantially longer")

	case nonDefaultLanguage(b, cfg):
		r = choose(b, types.EngineBatch, cfg,
			fmt.Sprintf("batch detected non-default language %s (%.2f)", b.Language, b.LanguageConfidence))

	default:
		r = higher(s, b, cfg, fmt.Sprintf("low agreement (similarity %.2f)", sim))
	}
	r.Similarity = sim
	r.Compared = true
	return r
}

// higher picks the candidate with the higher effective confidence; ties go to batch.
func higher(s, b *types.Candidate, cfg Config, prefix string) Result {
	cs, cb := effective(s, cfg), effective(b, cfg)
	if cs > cb {
		return choose(s, types.EngineStreaming, cfg,
			fmt.Sprintf("%s: streaming confidence %.2f > batch %.2f", prefix, cs, cb))
	}
	if cb > cs {
		return choose(b, types.EngineBatch, cfg,
			fmt.Sprintf("%s: batch confidence %.2f > streaming %.2f", prefix, cb, cs))
	}
	return choose(b, types.EngineBatch, cfg,
		fmt.Sprintf("%s: confidence tied at %.2f, batch preferred", prefix, cb))
}

// longerWins applies the length rule and returns the winning engine, or
// EngineNone when the rule does not apply.
func longerWins(ns, nb string, cs, cb float64) types.Engine {
	ls, lb := float64(utf8.RuneCountInString(ns)), float64(utf8.RuneCountInString(nb))
	mean := (ls + lb) / 2
	if mean == 0 || math.Abs(ls-lb)/mean <= lengthRatio {
		return types.EngineNone
	}
	if ls > lb && cs >= longerMinConfidence {
		return types.EngineStreaming
	}
	if lb > ls && cb >= longerMinConfidence {
		return types.EngineBatch
	}
	return types.EngineNone
}

func nonDefaultLanguage(b *types.Candidate, cfg Config) bool {
	if b.Language == "" {
		return false
	}
	return langid.Base(b.Language) != langid.Base(cfg.DefaultLanguage) &&
		b.LanguageConfidence >= languageMinConfidence
}

func choose(c *types.Candidate, engine types.Engine, cfg Config, reason string) Result {
	return Result{
		Text:               c.Text,
		Engine:             engine,
		Confidence:         effective(c, cfg),
		ConfidenceReported: c.ConfidenceReported,
		Reason:             reason,
		Language:           c.Language,
	}
}

func effective(c *types.Candidate, cfg Config) float64 {
	if !c.ConfidenceReported {
		return cfg.UnreportedConfidence
	}
	return clamp(c.Confidence)
}

func withDefaults(cfg Config) Config {
	def := DefaultConfig()
	if cfg.VeryHighConfidence <= 0 {
		cfg.VeryHighConfidence = def.VeryHighConfidence
	}
	if cfg.UnreportedConfidence <= 0 {
		cfg.UnreportedConfidence = def.UnreportedConfidence
	}
	if cfg.DefaultLanguage == "" {
		cfg.DefaultLanguage = def.DefaultLanguage
	}
	return cfg
}

// Similarity scores how closely two transcripts agree, in [0, 1]:
// 0.7 × word Jaccard + 0.3 × character Levenshtein similarity, computed on
// trimmed, lower-cased text. It is symmetric, and identical normalised texts
// score exactly 1.
func Similarity(a, b string) float64 {
	return similarity(normalize(a), normalize(b))
}

func similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	if a == "" || b == "" {
		return 0
	}
	return clamp(jaccardWeight*wordJaccard(a, b) + levenshteinWeight*levenshteinSimilarity(a, b))
}

func wordJaccard(a, b string) float64 {
	wa, wb := wordSet(a), wordSet(b)
	union := len(wa)
	inter := 0
	for w := range wb {
		if wa[w] {
			inter++
		} else {
			union++
		}
	}
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func levenshteinSimilarity(a, b string) float64 {
	longest := max(utf8.RuneCountInString(a), utf8.RuneCountInString(b))
	if longest == 0 {
		return 1
	}
	return 1 - float64(matchr.Levenshtein(a, b))/float64(longest)
}

// wordSet splits on whitespace and strips surrounding punctuation, so that
// "mom." and "mom" are the same word.
func wordSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, f := range strings.Fields(s) {
		w := strings.TrimFunc(f, func(r rune) bool { return unicode.IsPunct(r) || unicode.IsSymbol(r) })
		if w != "" {
			set[w] = true
		}
	}
	return set
}

// normalize trims, lower-cases and collapses internal whitespace.
func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func clamp(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return min(max(v, 0), 1)
}
