// Package whisper runs whisper.cpp as a streaming recognizer.
//
// [Provider] talks to a whisper-server process over HTTP; [NativeProvider]
// links the whisper.cpp library through cgo. whisper.cpp only transcribes
// whole clips, so both cut the incoming audio into utterances at pauses and
// transcribe each utterance once it ends. An utterance yields one partial and
// one final with the same text. whisper.cpp does not score its output, so
// transcripts carry no confidence.
//
//	p, err := whisper.New("http://localhost:8080", whisper.WithSilence(700*time.Millisecond))
//	h, err := p.StartStream(ctx, stt.StreamConfig{SampleRate: 16000, Channels: 1, Language: "de"})
package whisper

import (
	"fmt"
	"net/http"
	"time"

	"github.com/MrWong99/voxnote/pkg/audio"
	"github.com/MrWong99/voxnote/pkg/provider/stt"
)

// Option configures a [Provider] or a [NativeProvider]. Options that only
// concern the HTTP server are ignored by the native engine.
type Option func(*settings)

type settings struct {
	language  string
	languages stt.LanguageSet // nil accepts every language
	seg       segmentation

	// whisper-server only.
	model         string
	inferencePath string
	client        *http.Client
}

func defaultSettings() settings {
	return settings{
		language: "en",
		seg: segmentation{
			format:       audio.Format{SampleRate: modelRate, Channels: 1},
			silence:      500 * time.Millisecond,
			maxUtterance: 10 * time.Second,
			floor:        300,
		},
		inferencePath: "/inference",
		client:        &http.Client{Timeout: 30 * time.Second},
	}
}

// WithLanguage sets the language used when a stream names none. Default "en".
func WithLanguage(lang string) Option { return func(s *settings) { s.language = lang } }

// WithSupportedLanguages restricts the accepted base languages, e.g. to "en"
// for an English-only model.
func WithSupportedLanguages(langs ...string) Option {
	return func(s *settings) { s.languages = stt.NewLanguageSet(langs...) }
}

// WithSampleRate sets the rate assumed when a stream names none. Default 16 kHz.
func WithSampleRate(hz int) Option { return func(s *settings) { s.seg.format.SampleRate = hz } }

// WithSilence sets how long a pause must last to end an utterance. Default 500ms.
func WithSilence(d time.Duration) Option { return func(s *settings) { s.seg.silence = d } }

// WithMaxUtterance forces a transcription once an utterance grows this long,
// pause or not. Default 10s; zero or less disables the limit.
func WithMaxUtterance(d time.Duration) Option { return func(s *settings) { s.seg.maxUtterance = d } }

// WithSilenceFloor sets the RMS level, in 16-bit sample units, below which a
// chunk counts as silence. Default 300.
func WithSilenceFloor(rms float64) Option { return func(s *settings) { s.seg.floor = rms } }

// WithModel names the model whisper-server should use. Empty leaves the
// server's startup model in place.
func WithModel(model string) Option { return func(s *settings) { s.model = model } }

// WithInferencePath overrides the server's inference route. Default "/inference".
func WithInferencePath(path string) Option { return func(s *settings) { s.inferencePath = path } }

// WithHTTPClient replaces the client used to reach whisper-server.
func WithHTTPClient(c *http.Client) Option { return func(s *settings) { s.client = c } }

// forStream applies cfg to the defaults and checks the language.
func (s settings) forStream(cfg stt.StreamConfig) (string, segmentation, error) {
	lang := cfg.Language
	if lang == "" {
		lang = s.language
	}
	if !s.languages.Supports(lang) {
		return "", segmentation{}, fmt.Errorf("whisper: %w: %q", stt.ErrLanguageUnsupported, lang)
	}
	seg := s.seg
	if cfg.SampleRate > 0 {
		seg.format.SampleRate = cfg.SampleRate
	}
	if cfg.Channels > 0 {
		seg.format.Channels = cfg.Channels
	}
	return stt.BaseLanguage(lang), seg, nil
}
