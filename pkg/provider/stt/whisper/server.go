package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/MrWong99/voxnote/pkg/audio/wav"
	"github.com/MrWong99/voxnote/pkg/provider/stt"
)

// Provider transcribes through a whisper-server process. Sessions share the
// HTTP client and are otherwise independent.
type Provider struct {
	baseURL string
	settings
}

var _ stt.Provider = (*Provider)(nil)

// New returns a Provider for the server at baseURL, e.g.
// "http://localhost:8080".
func New(baseURL string, opts ...Option) (*Provider, error) {
	if baseURL == "" {
		return nil, errors.New("whisper: server URL must not be empty")
	}
	p := &Provider{baseURL: strings.TrimRight(baseURL, "/"), settings: defaultSettings()}
	for _, opt := range opts {
		opt(&p.settings)
	}
	return p, nil
}

// StartStream returns a session. Nothing is sent to the server until the
// first utterance ends.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("whisper: %w", err)
	}
	lang, seg, err := p.forStream(cfg)
	if err != nil {
		return nil, err
	}
	return newSession(ctx, seg, func(ctx context.Context, pcm []byte) (string, error) {
		return p.transcribe(ctx, modelPCM(pcm, seg.format), lang)
	}), nil
}

// transcribe uploads mono 16 kHz PCM as a WAV form file.
func (p *Provider) transcribe(ctx context.Context, pcm []byte, lang string) (string, error) {
	clip, err := wav.Encode(pcm, modelRate, 1)
	if err != nil {
		return "", fmt.Errorf("whisper: %w", err)
	}
	body, contentType, err := inferenceForm(clip, map[string]string{
		"language":        lang,
		"model":           p.model,
		"response_format": "json",
		"temperature":     "0",
	})
	if err != nil {
		return "", fmt.Errorf("whisper: build request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+p.inferencePath, body)
	if err != nil {
		return "", fmt.Errorf("whisper: build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("whisper: inference: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("whisper: server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	var out struct {
		Text  string `json:"text"`
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("whisper: decode response: %w", err)
	}
	if out.Error != "" {
		return "", fmt.Errorf("whisper: server error: %s", out.Error)
	}
	return out.Text, nil
}

// inferenceForm builds the multipart body: the clip as "file" plus every
// non-empty field.
func inferenceForm(clip []byte, fields map[string]string) (io.Reader, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "utterance.wav")
	if err != nil {
		return nil, "", err
	}
	if _, err := fw.Write(clip); err != nil {
		return nil, "", err
	}
	for k, v := range fields {
		if v == "" {
			continue
		}
		if err := mw.WriteField(k, v); err != nil {
			return nil, "", err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &buf, mw.FormDataContentType(), nil
}
