package langid

import (
	"slices"

	"github.com/MrWong99/voxnote/pkg/types"
)

// DefaultThreshold is the confidence a detected language must exceed before
// a switch is suggested.
const DefaultThreshold = 0.7

// DefaultOverrides lowers the bar for languages whose n-gram signal is
// sparser in short utterances.
var DefaultOverrides = map[string]float64{
	"tr": 0.5,
	"ru": 0.5,
	"zh": 0.5,
}

// Policy holds the switch thresholds. The zero value uses [DefaultThreshold]
// with no overrides.
type Policy struct {
	// Default applies to languages without an override. Zero means DefaultThreshold.
	Default float64

	// Overrides maps ISO 639-1 codes (or BCP-47 tags) to their own threshold.
	Overrides map[string]float64
}

// DefaultPolicy returns the built-in thresholds.
func DefaultPolicy() Policy {
	o := make(map[string]float64, len(DefaultOverrides))
	for k, v := range DefaultOverrides {
		o[k] = v
	}
	return Policy{Default: DefaultThreshold, Overrides: o}
}

// Threshold returns the threshold for a detected language. An override
// keyed by the base code wins over regional keys; among regional keys the
// lexically smallest applies.
func (p Policy) Threshold(lang string) float64 {
	base := Base(lang)
	if v, ok := p.Overrides[base]; ok {
		return v
	}
	var keys []string
	for k := range p.Overrides {
		if Base(k) == base {
			keys = append(keys, k)
		}
	}
	if len(keys) > 0 {
		return p.Overrides[slices.Min(keys)]
	}
	if p.Default > 0 {
		return p.Default
	}
	return DefaultThreshold
}

// ShouldSwitch reports whether the top hypothesis warrants leaving current:
// its base language differs from current's and its confidence strictly
// exceeds threshold. The top hypothesis is returned either way.
func ShouldSwitch(hyps []types.LanguageHypothesis, current string, threshold float64) (types.LanguageHypothesis, bool) {
	if len(hyps) == 0 {
		return types.LanguageHypothesis{}, false
	}
	top := hyps[0]
	if Base(top.Language) == Base(current) {
		return top, false
	}
	return top, top.Confidence > threshold
}

// Switcher couples an [Identifier] with a [Policy].
type Switcher struct {
	Identifier interface {
		Identify(text string) []types.LanguageHypothesis
	}
	Policy Policy
}

// ShouldSwitch identifies text and applies the threshold of the detected
// language. Empty text never suggests a switch.
func (s Switcher) ShouldSwitch(current, text string) (types.LanguageHypothesis, bool) {
	hyps := s.Identifier.Identify(text)
	if len(hyps) == 0 {
		return types.LanguageHypothesis{}, false
	}
	return ShouldSwitch(hyps, current, s.Policy.Threshold(hyps[0].Language))
}
