package arbitrate_test

import (
	"math"
	"strings"
	"testing"

	"github.com/MrWong99/voxnote/pkg/arbitrate"
	"github.com/MrWong99/voxnote/pkg/types"
)

func cand(text string, conf float64) *types.Candidate {
	return &types.Candidate{Text: text, Confidence: conf, ConfidenceReported: true, IsFinal: true}
}

func TestArbitrate_NoCandidates(t *testing.T) {
	t.Parallel()
	r := arbitrate.Arbitrate(nil, nil, arbitrate.DefaultConfig())
	if r.Text != "" || r.Engine != types.EngineNone || r.Confidence != 0 {
		t.Errorf("Arbitrate(nil, nil) = %+v", r)
	}
	if !r.NeedsReview {
		t.Error("empty result must need review")
	}
}

func TestArbitrate_SingleCandidatePassthrough(t *testing.T) {
	t.Parallel()
	cfg := arbitrate.DefaultConfig()

	s := cand("Buy Milk", 0.9)
	r := arbitrate.Arbitrate(s, nil, cfg)
	if r.Text != "Buy Milk" || r.Engine != types.EngineStreaming {
		t.Errorf("streaming only: %+v", r)
	}
	if r.Reason != "only streaming available" {
		t.Errorf("Reason = %q", r.Reason)
	}
	if r.Compared || r.NeedsReview {
		t.Errorf("streaming only: Compared=%v NeedsReview=%v", r.Compared, r.NeedsReview)
	}

	b := cand("Buy milk.", 0.4)
	r = arbitrate.Arbitrate(nil, b, cfg)
	if r.Text != "Buy milk." || r.Engine != types.EngineBatch {
		t.Errorf("batch only: %+v", r)
	}
	if !r.NeedsReview {
		t.Error("confidence 0.4 must need review")
	}
}

func TestArbitrate_BothEmpty(t *testing.T) {
	t.Parallel()
	r := arbitrate.Arbitrate(cand("   ", 0.9), cand("", 0.9), arbitrate.DefaultConfig())
	if r.Text != "" || r.Engine != types.EngineNone {
		t.Errorf("Arbitrate(empty, empty) = %+v", r)
	}
	if !r.NeedsReview {
		t.Error("both-empty result must need review")
	}
}

func TestArbitrate_OneEmptyLosesToTheOther(t *testing.T) {
	t.Parallel()
	cfg := arbitrate.DefaultConfig()

	r := arbitrate.Arbitrate(cand("", 0.99), cand("water the plants", 0.9), cfg)
	if r.Engine != types.EngineBatch || r.Text != "water the plants" {
		t.Errorf("empty streaming: %+v", r)
	}
	if r.Compared || r.NeedsReview {
		t.Errorf("empty streaming: Compared=%v NeedsReview=%v", r.Compared, r.NeedsReview)
	}

	r = arbitrate.Arbitrate(cand("water the plants", 0.7), cand(" ", 0.99), cfg)
	if r.Engine != types.EngineStreaming {
		t.Errorf("empty batch: %+v", r)
	}
}

func TestArbitrate_HighAgreementPicksHigherConfidence(t *testing.T) {
	t.Parallel()
	r := arbitrate.Arbitrate(cand("hello world", 0.6), cand("hello world", 0.9), arbitrate.DefaultConfig())
	if r.Engine != types.EngineBatch {
		t.Fatalf("Engine = %s, want batch", r.Engine)
	}
	if r.Similarity != 1 {
		t.Errorf("Similarity = %v, want 1", r.Similarity)
	}
	if !strings.Contains(r.Reason, "similarity") {
		t.Errorf("Reason %q does not cite similarity", r.Reason)
	}
	if r.NeedsReview {
		t.Error("agreeing confident result must not need review")
	}
}

func TestArbitrate_HighAgreementKeepsOriginalCasing(t *testing.T) {
	t.Parallel()
	r := arbitrate.Arbitrate(cand("Meet Anna at Noon", 0.95), cand("meet anna at noon", 0.7), arbitrate.DefaultConfig())
	if r.Text != "Meet Anna at Noon" || r.Engine != types.EngineStreaming {
		t.Errorf("got %+v", r)
	}
}

func TestArbitrate_ExactTiePrefersBatch(t *testing.T) {
	t.Parallel()
	r := arbitrate.Arbitrate(cand("pick up the kids", 0.7), cand("pick up the kids", 0.7), arbitrate.DefaultConfig())
	if r.Engine != types.EngineBatch {
		t.Errorf("Engine = %s, want batch", r.Engine)
	}
	if !strings.Contains(r.Reason, "tied") {
		t.Errorf("Reason = %q", r.Reason)
	}
}

func TestArbitrate_LengthDominance(t *testing.T) {
	t.Parallel()
	r := arbitrate.Arbitrate(
		cand("call mom", 0.65),
		cand("call mom today about the trip to see the results", 0.65),
		arbitrate.DefaultConfig(),
	)
	if r.Engine != types.EngineBatch {
		t.Fatalf("Engine = %s, want batch (%s)", r.Engine, r.Reason)
	}
	if r.Similarity >= arbitrate.AgreementThreshold {
		t.Errorf("Similarity = %v, want below %v", r.Similarity, arbitrate.AgreementThreshold)
	}
	if !r.Compared || !r.NeedsReview {
		t.Errorf("Compared=%v NeedsReview=%v, want both true", r.Compared, r.NeedsReview)
	}
}

func TestArbitrate_LongerNeedsConfidence(t *testing.T) {
	t.Parallel()
	// The longer transcript is below 0.6, so the length rule does not apply
	// and the higher confidence wins.
	r := arbitrate.Arbitrate(
		cand("call mom", 0.59),
		cand("call mom today about the trip to see the results", 0.55),
		arbitrate.DefaultConfig(),
	)
	if r.Engine != types.EngineStreaming {
		t.Errorf("Engine = %s, want streaming (%s)", r.Engine, r.Reason)
	}
}

func TestArbitrate_VeryHighConfidenceWins(t *testing.T) {
	t.Parallel()
	cfg := arbitrate.DefaultConfig()

	r := arbitrate.Arbitrate(cand("turn on the lights", 0.95), cand("turn of the lice", 0.7), cfg)
	if r.Engine != types.EngineStreaming || !strings.Contains(r.Reason, "very high") {
		t.Errorf("got %s (%s), want streaming by very-high rule", r.Engine, r.Reason)
	}

	r = arbitrate.Arbitrate(cand("turn of the lice", 0.7), cand("turn on the lights", 0.95), cfg)
	if r.Engine != types.EngineBatch || !strings.Contains(r.Reason, "very high") {
		t.Errorf("got %s (%s), want batch by very-high rule", r.Engine, r.Reason)
	}
}

func TestArbitrate_VeryHighNeedsMargin(t *testing.T) {
	t.Parallel()
	// 0.85 vs 0.80 is within the 0.1 margin: the cascade falls through to
	// the raw confidence comparison.
	r := arbitrate.Arbitrate(cand("turn on the lights", 0.85), cand("turn of the lice", 0.8), arbitrate.DefaultConfig())
	if r.Engine != types.EngineStreaming {
		t.Fatalf("Engine = %s, want streaming", r.Engine)
	}
	if strings.Contains(r.Reason, "very high") {
		t.Errorf("Reason = %q, very-high rule must not apply", r.Reason)
	}
}

func TestArbitrate_BatchNonDefaultLanguage(t *testing.T) {
	t.Parallel()
	cfg := arbitrate.DefaultConfig()
	s := cand("mare haba dune ya", 0.7)

	b := cand("merhaba dünya", 0.6)
	b.Language = "tr"
	b.LanguageConfidence = 0.9
	r := arbitrate.Arbitrate(s, b, cfg)
	if r.Engine != types.EngineBatch || r.Language != "tr" {
		t.Errorf("got %s (%s), want batch by language rule", r.Engine, r.Reason)
	}

	b.LanguageConfidence = 0.4
	if r := arbitrate.Arbitrate(s, b, cfg); r.Engine != types.EngineStreaming {
		t.Errorf("low language confidence: got %s (%s), want streaming", r.Engine, r.Reason)
	}

	b.Language = "en-US"
	b.LanguageConfidence = 0.9
	if r := arbitrate.Arbitrate(s, b, cfg); r.Engine != types.EngineStreaming {
		t.Errorf("default language: got %s (%s), want streaming", r.Engine, r.Reason)
	}
}

func TestArbitrate_UnreportedConfidenceIsLowTrust(t *testing.T) {
	t.Parallel()
	s := &types.Candidate{Text: "send the report", Confidence: 1.0, IsFinal: true}
	b := cand("send the report", 0.55)

	r := arbitrate.Arbitrate(s, b, arbitrate.DefaultConfig())
	if r.Engine != types.EngineBatch {
		t.Errorf("Engine = %s, want batch: unreported 1.0 must not count as certainty", r.Engine)
	}

	r = arbitrate.Arbitrate(s, nil, arbitrate.DefaultConfig())
	if r.Confidence != 0.5 || r.ConfidenceReported || !r.NeedsReview {
		t.Errorf("streaming only, unreported: %+v", r)
	}
}

func TestArbitrate_TotalAndDeterministic(t *testing.T) {
	t.Parallel()
	texts := []string{"", " ", "hello world", "Hello, world!", "call mom", "call mom today about the trip", "Günaydın", "完全に違う"}
	confs := []float64{0, 0.3, 0.6, 0.65, 0.81, 0.95, 1}

	var cands []*types.Candidate
	cands = append(cands, nil)
	for _, text := range texts {
		for _, c := range confs {
			cands = append(cands, cand(text, c))
		}
	}
	unrep := &types.Candidate{Text: "hello world", Confidence: 1}
	lang := &types.Candidate{Text: "bonjour le monde", Confidence: 0.6, ConfidenceReported: true, Language: "fr", LanguageConfidence: 0.8}
	cands = append(cands, unrep, lang)

	cfg := arbitrate.DefaultConfig()
	for _, s := range cands {
		for _, b := range cands {
			r1 := arbitrate.Arbitrate(s, b, cfg)
			r2 := arbitrate.Arbitrate(s, b, cfg)
			if r1 != r2 {
				t.Fatalf("non-deterministic for (%v, %v): %+v vs %+v", s, b, r1, r2)
			}
			switch r1.Engine {
			case types.EngineStreaming:
				if s == nil || r1.Text != s.Text {
					t.Fatalf("streaming chosen with text %q for (%v, %v)", r1.Text, s, b)
				}
			case types.EngineBatch:
				if b == nil || r1.Text != b.Text {
					t.Fatalf("batch chosen with text %q for (%v, %v)", r1.Text, s, b)
				}
			case types.EngineNone:
				if r1.Text != "" {
					t.Fatalf("no engine but text %q", r1.Text)
				}
			default:
				t.Fatalf("unknown engine %q", r1.Engine)
			}
			if r1.Confidence < 0 || r1.Confidence > 1 || r1.Similarity < 0 || r1.Similarity > 1 {
				t.Fatalf("out of range: %+v", r1)
			}
			if strings.TrimSpace(r1.Text) == "" && !r1.NeedsReview {
				t.Fatalf("empty text without review: %+v", r1)
			}
		}
	}
}

func TestSimilarity_Symmetric(t *testing.T) {
	t.Parallel()
	texts := []string{
		"", "a", "hello world", "world hello", "Hello, World!", "call mom",
		"call mom today about the trip to see the results", "çağrı yap", "完全に違う", "the the the",
	}
	for _, a := range texts {
		for _, b := range texts {
			if ab, ba := arbitrate.Similarity(a, b), arbitrate.Similarity(b, a); ab != ba {
				t.Errorf("Similarity(%q, %q) = %v but reversed = %v", a, b, ab, ba)
			}
		}
	}
}

func TestSimilarity_ExactMatch(t *testing.T) {
	t.Parallel()
	for _, x := range []string{"a", "hello world", "  Hello   World ", "çağrı yap", "完全に違う", "0.7 0.3"} {
		if got := arbitrate.Similarity(x, x); got != 1.0 {
			t.Errorf("Similarity(%q, %q) = %v, want 1", x, x, got)
		}
	}
	if got := arbitrate.Similarity("Hello World", "  hello   world"); got != 1.0 {
		t.Errorf("case and spacing must not matter: %v", got)
	}
}

func TestSimilarity_Values(t *testing.T) {
	t.Parallel()
	tests := []struct {
		a, b string
		want float64
	}{
		{"abc", "xyz", 0},
		{"hello", "", 0},
		// Punctuation does not split words: Jaccard 1, one edit in nine runes.
		{"call mom.", "call mom", 0.7 + 0.3*(1-1.0/9)},
		// {call,mom} vs 9 distinct words; 40 edits over 48 runes.
		{"call mom", "call mom today about the trip to see the results", 0.7*2.0/9 + 0.3*(1-40.0/48)},
	}
	for _, tt := range tests {
		if got := arbitrate.Similarity(tt.a, tt.b); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("Similarity(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}
