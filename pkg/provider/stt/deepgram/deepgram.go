// Package deepgram streams PCM audio to Deepgram's live transcription API
// over a WebSocket and implements [stt.Provider].
//
// Each [Provider.StartStream] opens one connection. Interim results arrive on
// Partials, finalised segments on Finals. Close asks the server to flush what
// it has buffered and waits briefly for the last results before hanging up.
package deepgram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/voxnote/pkg/provider/stt"
)

const (
	liveEndpoint = "wss://api.deepgram.com/v1/listen"

	// Deepgram drops a connection after roughly ten seconds without audio.
	defaultKeepAlive = 8 * time.Second
	defaultFlushWait = 5 * time.Second
)

// Base languages nova-2 transcribes in streaming mode.
var nova2Languages = []string{
	"bg", "ca", "cs", "da", "de", "el", "en", "es", "et", "fi", "fr", "hi", "hu",
	"id", "it", "ja", "ko", "lt", "lv", "ms", "nl", "no", "pl", "pt", "ro", "ru",
	"sk", "sv", "th", "tr", "uk", "vi", "zh",
}

// Provider opens Deepgram live sessions.
type Provider struct {
	apiKey      string
	endpoint    string
	model       string
	language    string
	sampleRate  int
	smartFormat bool
	keepAlive   time.Duration
	flushWait   time.Duration
	languages   stt.LanguageSet
}

var _ stt.Provider = (*Provider)(nil)

// Option configures a [Provider].
type Option func(*Provider)

// WithModel selects the model, e.g. "nova-2" (default) or "nova-3".
func WithModel(model string) Option { return func(p *Provider) { p.model = model } }

// WithLanguage sets the language used when a stream names none. Default "en".
func WithLanguage(lang string) Option { return func(p *Provider) { p.language = lang } }

// WithSampleRate sets the rate assumed when a stream names none. Default 16 kHz.
func WithSampleRate(hz int) Option { return func(p *Provider) { p.sampleRate = hz } }

// WithEndpoint replaces the live endpoint. Tests point it at a local ws:// server.
func WithEndpoint(endpoint string) Option { return func(p *Provider) { p.endpoint = endpoint } }

// WithSmartFormat asks Deepgram to format numbers, dates and similar entities.
func WithSmartFormat(on bool) Option { return func(p *Provider) { p.smartFormat = on } }

// WithKeepAlive sets how long the connection may go without audio before a
// KeepAlive message is sent. Zero or less disables keep-alives.
func WithKeepAlive(d time.Duration) Option { return func(p *Provider) { p.keepAlive = d } }

// WithFlushWait bounds how long Close waits for the server's last results.
func WithFlushWait(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.flushWait = d
		}
	}
}

// WithSupportedLanguages replaces the accepted base languages, for models
// whose coverage differs from nova-2.
func WithSupportedLanguages(langs ...string) Option {
	return func(p *Provider) { p.languages = stt.NewLanguageSet(langs...) }
}

// New returns a Provider authenticating with apiKey.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		endpoint:   liveEndpoint,
		model:      "nova-2",
		language:   "en",
		sampleRate: 16000,
		keepAlive:  defaultKeepAlive,
		flushWait:  defaultFlushWait,
		languages:  stt.NewLanguageSet(nova2Languages...),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// StartStream dials a live session. A language outside the supported set
// fails with [stt.ErrLanguageUnsupported] before any network traffic. The
// session is not bound to ctx beyond the dial; Close ends it.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	if cfg.Language == "" {
		cfg.Language = p.language
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = p.sampleRate
	}
	if !p.languages.Supports(cfg.Language) {
		return nil, fmt.Errorf("deepgram: %w: %q", stt.ErrLanguageUnsupported, cfg.Language)
	}

	u, err := p.listenURL(cfg)
	if err != nil {
		return nil, fmt.Errorf("deepgram: endpoint: %w", err)
	}
	conn, _, err := websocket.Dial(ctx, u, &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": {"Token " + p.apiKey}},
	})
	if err != nil {
		return nil, fmt.Errorf("deepgram: dial: %w", err)
	}
	return startSession(context.WithoutCancel(ctx), conn, p.keepAlive, p.flushWait), nil
}

// listenURL adds the stream parameters to the endpoint. cfg must already
// carry defaults.
func (p *Provider) listenURL(cfg stt.StreamConfig) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", cfg.Language)
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(cfg.SampleRate))
	if cfg.Channels > 0 {
		q.Set("channels", strconv.Itoa(cfg.Channels))
	}
	q.Set("interim_results", "true")
	q.Set("punctuate", "true")
	if p.smartFormat {
		q.Set("smart_format", "true")
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
