package audio_test

import (
	"testing"
	"time"

	"github.com/MrWong99/voxnote/pkg/audio"
)

func TestRecording_Unbounded(t *testing.T) {
	t.Parallel()
	r := audio.NewRecording(mono16k, 0)
	for range 100 {
		r.Append(make([]byte, 3200))
	}
	if r.Len() != 320000 || r.Dropped() != 0 {
		t.Errorf("Len = %d, Dropped = %d", r.Len(), r.Dropped())
	}
	if r.Duration() != 10*time.Second {
		t.Errorf("Duration = %v, want 10s", r.Duration())
	}
}

func TestRecording_KeepsNewestAudio(t *testing.T) {
	t.Parallel()
	f := audio.Format{SampleRate: 1000, Channels: 1}
	r := audio.NewRecording(f, 3*time.Millisecond) // 3 samples
	r.Append(samplesToBytes([]int16{1, 2}))
	r.Append(samplesToBytes([]int16{3, 4, 5}))

	got := bytesToSamples(r.Bytes())
	if len(got) != 3 || got[0] != 3 || got[2] != 5 {
		t.Errorf("samples = %v, want [3 4 5]", got)
	}
	if r.Dropped() != 4 {
		t.Errorf("Dropped = %d, want 4", r.Dropped())
	}
}

func TestRecording_StereoEvictionIsBlockAligned(t *testing.T) {
	t.Parallel()
	f := audio.Format{SampleRate: 1000, Channels: 2}
	// 10ms at 1 kHz stereo = 10 frames = 40 bytes.
	r := audio.NewRecording(f, 10*time.Millisecond)
	r.Append(make([]byte, 38))
	r.Append(make([]byte, 6))
	if r.Len() != 40 {
		t.Fatalf("Len = %d, want 40", r.Len())
	}
	if r.Dropped() != 4 {
		t.Errorf("Dropped = %d, want 4", r.Dropped())
	}
	if r.Duration() != 10*time.Millisecond {
		t.Errorf("Duration = %v, want 10ms", r.Duration())
	}
}

func TestRecording_Reset(t *testing.T) {
	t.Parallel()
	r := audio.NewRecording(mono16k, time.Millisecond)
	r.Append(make([]byte, 100))
	r.Reset()
	if r.Len() != 0 || r.Dropped() != 0 {
		t.Errorf("after Reset: Len = %d, Dropped = %d", r.Len(), r.Dropped())
	}
	if r.Format() != mono16k {
		t.Errorf("Format = %+v", r.Format())
	}
}
