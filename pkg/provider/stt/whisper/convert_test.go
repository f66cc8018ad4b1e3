package whisper

import (
	"encoding/binary"
	"testing"

	"github.com/MrWong99/voxnote/pkg/audio"
)

func pcm16(samples ...int16) []byte {
	out := make([]byte, 2*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(s))
	}
	return out
}

func TestModelPCM_DownmixesAndResamples(t *testing.T) {
	t.Parallel()
	stereo48k := make([]int16, 2*4800) // 100ms
	for i := range stereo48k {
		stereo48k[i] = 1000
	}
	got := modelPCM(pcm16(stereo48k...), audio.Format{SampleRate: 48000, Channels: 2})
	if len(got) != 2*1600 {
		t.Fatalf("len = %d bytes, want 3200 (100ms mono 16 kHz)", len(got))
	}
	if v := int16(binary.LittleEndian.Uint16(got[100:])); v != 1000 {
		t.Errorf("sample = %d, want 1000", v)
	}
}

func TestModelPCM_PassesModelFormatThrough(t *testing.T) {
	t.Parallel()
	in := pcm16(1, -2, 3, -4)
	got := modelPCM(in, audio.Format{SampleRate: modelRate, Channels: 1})
	if string(got) != string(in) {
		t.Errorf("got %v, want input unchanged", got)
	}
}

func TestModelSamples(t *testing.T) {
	t.Parallel()
	got := modelSamples(pcm16(-32768, 0, 16384, 32767), audio.Format{SampleRate: modelRate, Channels: 1})
	want := []float32{-1, 0, 0.5, 32767.0 / 32768}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d = %v, want %v", i, got[i], want[i])
		}
	}

	stereo := modelSamples(pcm16(16384, -16384, 8192, 8192), audio.Format{SampleRate: modelRate, Channels: 2})
	if len(stereo) != 2 || stereo[0] != 0 || stereo[1] != 0.25 {
		t.Errorf("stereo downmix = %v, want [0 0.25]", stereo)
	}
}
