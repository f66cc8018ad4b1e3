// Package openai provides a batch.Recognizer backed by the OpenAI audio
// transcription endpoint (whisper-1 and compatible servers).
//
// Each call downmixes and resamples the recording to 16 kHz mono, checks the
// encoded WAV size against the upload ceiling, then makes exactly one
// multipart request with a verbose JSON response so that per-segment
// log-probabilities are available for scoring.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/MrWong99/voxnote/pkg/audio"
	"github.com/MrWong99/voxnote/pkg/audio/wav"
	"github.com/MrWong99/voxnote/pkg/langid"
	"github.com/MrWong99/voxnote/pkg/provider/batch"
	"github.com/MrWong99/voxnote/pkg/types"
)

const (
	defaultModel      = "whisper-1"
	defaultMaxUpload  = 25 << 20
	defaultTimeout    = 45 * time.Second
	uploadSampleRate  = 16000
	uploadTemperature = 0.2
	uploadFileName    = "audio.wav"
)

// Option is a functional option for configuring the Recognizer.
type Option func(*Recognizer)

// WithModel sets the transcription model. Default: "whisper-1".
func WithModel(model string) Option {
	return func(r *Recognizer) {
		r.model = model
	}
}

// WithBaseURL points the client at an OpenAI-compatible server.
func WithBaseURL(url string) Option {
	return func(r *Recognizer) {
		r.baseURL = url
	}
}

// WithMaxUploadBytes sets the ceiling for the encoded WAV payload.
// Default: 25 MiB.
func WithMaxUploadBytes(n int64) Option {
	return func(r *Recognizer) {
		r.maxUpload = n
	}
}

// WithTimeout bounds each Transcribe call. Expiry is reported as a network
// error. Default: 45s.
func WithTimeout(d time.Duration) Option {
	return func(r *Recognizer) {
		r.timeout = d
	}
}

// Recognizer implements batch.Recognizer using go-openai.
type Recognizer struct {
	apiKey    string
	model     string
	baseURL   string
	maxUpload int64
	timeout   time.Duration
	client    *goopenai.Client
}

var _ batch.Recognizer = (*Recognizer)(nil)

// New creates a Recognizer. An empty apiKey yields a
// [batch.ErrInvalidConfiguration] error.
func New(apiKey string, opts ...Option) (*Recognizer, error) {
	r := &Recognizer{
		apiKey:    apiKey,
		model:     defaultModel,
		maxUpload: defaultMaxUpload,
		timeout:   defaultTimeout,
	}
	for _, o := range opts {
		o(r)
	}
	if r.apiKey == "" {
		return nil, &batch.Error{Kind: batch.KindInvalidConfiguration, Message: "openai: api key must not be empty"}
	}
	cfg := goopenai.DefaultConfig(r.apiKey)
	if r.baseURL != "" {
		cfg.BaseURL = r.baseURL
	}
	r.client = goopenai.NewClientWithConfig(cfg)
	return r, nil
}

// Transcribe uploads the recording and returns the scored candidate.
func (r *Recognizer) Transcribe(ctx context.Context, in batch.Audio, languageHint string) (types.Candidate, error) {
	if r.apiKey == "" || r.client == nil {
		return types.Candidate{}, &batch.Error{Kind: batch.KindInvalidConfiguration, Message: "openai: api key must not be empty"}
	}

	pcm := audio.ToMono16(in.PCM, audio.Format{SampleRate: in.SampleRate, Channels: in.Channels}, uploadSampleRate)
	if size := wav.EncodedSize(len(pcm)); r.maxUpload > 0 && size > r.maxUpload {
		return types.Candidate{}, &batch.Error{
			Kind:    batch.KindTooLarge,
			Message: fmt.Sprintf("encoded payload %d bytes exceeds limit of %d bytes", size, r.maxUpload),
		}
	}
	payload, err := wav.Encode(pcm, uploadSampleRate, 1)
	if err != nil {
		return types.Candidate{}, &batch.Error{Kind: batch.KindInvalidConfiguration, Err: err}
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	resp, err := r.client.CreateTranscription(ctx, goopenai.AudioRequest{
		Model:       r.model,
		FilePath:    uploadFileName,
		Reader:      bytes.NewReader(payload),
		Language:    langid.Base(languageHint),
		Format:      goopenai.AudioResponseFormatVerboseJSON,
		Temperature: uploadTemperature,
	})
	if err != nil {
		return types.Candidate{}, classify(err)
	}
	return candidateFrom(resp), nil
}

// candidateFrom converts a verbose transcription response.
func candidateFrom(resp goopenai.AudioResponse) types.Candidate {
	c := types.Candidate{
		Text:       strings.TrimSpace(resp.Text),
		Confidence: 1.0,
		IsFinal:    true,
		Language:   langid.Normalize(resp.Language),
	}
	if len(resp.Segments) == 0 {
		return c
	}

	var sum float64
	c.Segments = make([]types.Segment, 0, len(resp.Segments))
	for _, s := range resp.Segments {
		sum += s.AvgLogprob
		c.Segments = append(c.Segments, types.Segment{
			Text:       strings.TrimSpace(s.Text),
			Start:      seconds(s.Start),
			End:        seconds(s.End),
			AvgLogProb: s.AvgLogprob,
		})
	}
	c.Confidence = batch.LogProbConfidence(sum / float64(len(resp.Segments)))
	c.ConfidenceReported = true
	return c
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// classify maps a go-openai error onto the batch taxonomy.
func classify(err error) error {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		return &batch.Error{Kind: batch.KindService, StatusCode: apiErr.HTTPStatusCode, Message: apiErr.Message, Err: err}
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) {
		msg := strings.TrimSpace(string(reqErr.Body))
		if len(msg) > 200 {
			msg = msg[:200]
		}
		return &batch.Error{Kind: batch.KindService, StatusCode: reqErr.HTTPStatusCode, Message: msg, Err: err}
	}
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) || errors.Is(err, io.ErrUnexpectedEOF) {
		return &batch.Error{Kind: batch.KindMalformedResponse, Err: err}
	}
	return &batch.Error{Kind: batch.KindNetwork, Err: err}
}
