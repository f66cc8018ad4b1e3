package whisper_test

import (
	"os"
	"testing"
	"time"

	"github.com/MrWong99/voxnote/pkg/provider/stt"
	"github.com/MrWong99/voxnote/pkg/provider/stt/whisper"
)

func TestNewNative_BadPath(t *testing.T) {
	t.Parallel()
	for _, path := range []string{"", "/nonexistent/ggml-base.bin"} {
		if p, err := whisper.NewNative(path); err == nil {
			_ = p.Close()
			t.Errorf("NewNative(%q) succeeded", path)
		}
	}
}

// TestNative_Silence runs a real model when WHISPER_MODEL_PATH names one.
func TestNative_Silence(t *testing.T) {
	path := os.Getenv("WHISPER_MODEL_PATH")
	if path == "" {
		t.Skip("WHISPER_MODEL_PATH not set")
	}
	p, err := whisper.NewNative(path, whisper.WithSilence(200*time.Millisecond))
	if err != nil {
		t.Fatalf("NewNative: %v", err)
	}
	defer p.Close()

	// Silence never reaches the model.
	finals := transcribe(t, p, stt.StreamConfig{SampleRate: 48000, Channels: 2, Language: "en"},
		make([]byte, 4*48000))
	if len(finals) != 0 {
		t.Errorf("finals = %+v", finals)
	}
}
