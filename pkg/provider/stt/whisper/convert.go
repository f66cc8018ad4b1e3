package whisper

import "github.com/MrWong99/voxnote/pkg/audio"

// modelRate is the only sample rate whisper.cpp models accept.
const modelRate = 16000

// modelPCM converts captured PCM to mono 16 kHz 16-bit PCM.
func modelPCM(pcm []byte, f audio.Format) []byte {
	return audio.ToMono16(pcm, f, modelRate)
}

// modelSamples converts captured PCM to the float input of the whisper.cpp
// bindings: mono, 16 kHz, scaled to [-1, 1).
func modelSamples(pcm []byte, f audio.Format) []float32 {
	buf := audio.Samples(pcm, f)
	buf = audio.Resample(audio.Remix(buf, 1), modelRate)
	out := make([]float32, len(buf.Data))
	for i, s := range buf.Data {
		out[i] = float32(s) / 32768
	}
	return out
}
