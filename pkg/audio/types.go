package audio

import "time"

// AudioFrame represents a single frame of audio data flowing through the pipeline.
// Frames are the atomic unit of audio transport: read from the input device,
// converted to the recognizer format, recorded, and fed to the streaming recognizer.
type AudioFrame struct {
	// PCM audio data, 16-bit signed little-endian, interleaved when Channels > 1.
	Data []byte

	// SampleRate in Hz (e.g., 48000 for a native device rate, 16000 for STT).
	SampleRate int

	// Channels: 1 for mono (STT input), 2 for stereo.
	Channels int

	// Timestamp marks when this frame was captured, relative to capture start.
	Timestamp time.Duration
}

// Duration returns the playback length of the frame.
func (f AudioFrame) Duration() time.Duration {
	return pcmDuration(len(f.Data), Format{SampleRate: f.SampleRate, Channels: f.Channels})
}

// pcmDuration returns the playback length of n bytes of 16-bit PCM in format f.
func pcmDuration(n int, f Format) time.Duration {
	bytesPerSec := f.BytesPerSecond()
	if bytesPerSec <= 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(bytesPerSec))
}
