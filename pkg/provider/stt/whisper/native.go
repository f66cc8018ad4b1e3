package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/MrWong99/voxnote/pkg/provider/stt"
)

// NativeProvider runs whisper.cpp in-process. Building it needs libwhisper.a
// and whisper.h on LIBRARY_PATH and C_INCLUDE_PATH.
//
// The model is loaded once. Utterances from all sessions are transcribed one
// at a time.
type NativeProvider struct {
	model whisperlib.Model
	settings

	mu sync.Mutex // one whisper context at a time
}

var _ stt.Provider = (*NativeProvider)(nil)

// NewNative loads the ggml model at modelPath. Without
// [WithSupportedLanguages] the accepted languages are the model's own. The
// caller must Close the provider.
func NewNative(modelPath string, opts ...Option) (*NativeProvider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: model path must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}
	p := &NativeProvider{model: model, settings: defaultSettings()}
	for _, opt := range opts {
		opt(&p.settings)
	}
	if p.languages == nil {
		if model.IsMultilingual() {
			p.languages = stt.NewLanguageSet(model.Languages()...)
		} else {
			p.languages = stt.NewLanguageSet("en")
		}
	}
	return p, nil
}

// Close frees the model.
func (p *NativeProvider) Close() error {
	if p.model == nil {
		return nil
	}
	return p.model.Close()
}

func (p *NativeProvider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("whisper: %w", err)
	}
	lang, seg, err := p.forStream(cfg)
	if err != nil {
		return nil, err
	}
	return newSession(ctx, seg, func(_ context.Context, pcm []byte) (string, error) {
		return p.transcribe(modelSamples(pcm, seg.format), lang)
	}), nil
}

func (p *NativeProvider) transcribe(samples []float32, lang string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	wctx, err := p.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("whisper: new context: %w", err)
	}
	if err := wctx.SetLanguage(lang); err != nil {
		return "", fmt.Errorf("whisper: language %q: %w", lang, err)
	}
	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("whisper: process: %w", err)
	}

	var b strings.Builder
	for {
		seg, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			return b.String(), nil
		}
		if err != nil {
			return "", fmt.Errorf("whisper: segment: %w", err)
		}
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(text)
	}
}
