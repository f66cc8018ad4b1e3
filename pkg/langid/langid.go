// Package langid identifies the language of short transcript text and decides
// when a dictation session should switch its recognition language.
//
// Identification uses the n-gram models of lingua-go restricted to a
// configurable set of candidate languages. Language codes at the package
// boundary are ISO 639-1 ("en", "tr", "zh").
package langid

import (
	"fmt"
	"strings"

	"github.com/pemistahl/lingua-go"
	"golang.org/x/text/language"

	"github.com/MrWong99/voxnote/pkg/types"
)

// DefaultLanguages is the candidate set used when [New] is called without languages.
var DefaultLanguages = []string{
	"en", "de", "fr", "es", "it", "pt", "nl", "tr", "ru", "zh", "ja", "ko", "pl", "sv",
}

var (
	byCode = map[string]lingua.Language{}
	byName = map[string]string{}
)

func init() {
	for _, l := range lingua.AllLanguages() {
		code := strings.ToLower(l.IsoCode639_1().String())
		byCode[code] = l
		byName[strings.ToLower(l.String())] = code
	}
}

// Identifier ranks candidate languages for a piece of text.
// It is safe for concurrent use.
type Identifier struct {
	detector lingua.LanguageDetector
	codes    []string
}

// New builds an Identifier over the given languages (ISO 639-1 codes or
// BCP-47 tags). At least two languages are required; with none,
// [DefaultLanguages] is used.
func New(languages ...string) (*Identifier, error) {
	if len(languages) == 0 {
		languages = DefaultLanguages
	}
	seen := make(map[string]bool, len(languages))
	var langs []lingua.Language
	var codes []string
	for _, tag := range languages {
		code := Base(tag)
		l, ok := byCode[code]
		if !ok {
			return nil, fmt.Errorf("langid: unsupported language %q", tag)
		}
		if seen[code] {
			continue
		}
		seen[code] = true
		langs = append(langs, l)
		codes = append(codes, code)
	}
	if len(langs) < 2 {
		return nil, fmt.Errorf("langid: need at least two candidate languages, got %v", codes)
	}
	d := lingua.NewLanguageDetectorBuilder().FromLanguages(langs...).Build()
	return &Identifier{detector: d, codes: codes}, nil
}

// Languages returns the candidate languages as ISO 639-1 codes.
func (i *Identifier) Languages() []string { return append([]string(nil), i.codes...) }

// Identify returns the candidate languages for text, sorted by descending
// confidence, with zero-confidence entries omitted. Empty or whitespace-only
// text yields nil.
func (i *Identifier) Identify(text string) []types.LanguageHypothesis {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	values := i.detector.ComputeLanguageConfidenceValues(text)
	out := make([]types.LanguageHypothesis, 0, len(values))
	for _, v := range values {
		if v.Value() <= 0 {
			continue
		}
		out = append(out, types.LanguageHypothesis{
			Language:   strings.ToLower(v.Language().IsoCode639_1().String()),
			Confidence: v.Value(),
		})
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// IdentifyTop returns the most likely language, or false if there is none.
func (i *Identifier) IdentifyTop(text string) (types.LanguageHypothesis, bool) {
	hyps := i.Identify(text)
	if len(hyps) == 0 {
		return types.LanguageHypothesis{}, false
	}
	return hyps[0], true
}

// ConfidenceIn returns the confidence hyps assign to lang's base language,
// or 0 when it is not ranked.
func ConfidenceIn(hyps []types.LanguageHypothesis, lang string) float64 {
	code := Base(lang)
	for _, h := range hyps {
		if Base(h.Language) == code {
			return h.Confidence
		}
	}
	return 0
}

// Base returns the ISO 639-1 base language of a BCP-47 tag ("en-US" → "en").
// Unparseable input is lower-cased up to the first separator.
func Base(tag string) string {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return ""
	}
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

// Normalize maps an English language name ("english", "Turkish") or a BCP-47
// tag to its ISO 639-1 code. Empty input yields "".
func Normalize(nameOrTag string) string {
	s := strings.TrimSpace(nameOrTag)
	if s == "" {
		return ""
	}
	if code, ok := byName[strings.ToLower(s)]; ok {
		return code
	}
	return Base(s)
}
