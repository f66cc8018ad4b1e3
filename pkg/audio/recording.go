package audio

import "time"

// Recording is a rolling in-memory PCM buffer. Once it reaches its capacity
// the oldest samples are discarded so the buffer always holds the most recent
// audio. Recording is not safe for concurrent use; [Capture] guards its own.
type Recording struct {
	format   Format
	maxBytes int
	data     []byte
	dropped  int
}

// NewRecording creates a buffer for PCM in format f holding at most max of
// audio. A non-positive max means unbounded.
func NewRecording(f Format, max time.Duration) *Recording {
	r := &Recording{format: f}
	if max > 0 {
		block := blockAlign(f)
		n := int(int64(f.SampleRate) * int64(block) * int64(max) / int64(time.Second))
		r.maxBytes = n - n%block
	}
	return r
}

// Append adds pcm to the end of the buffer, evicting the oldest samples if
// the capacity is exceeded. Eviction is block-aligned so samples never split.
func (r *Recording) Append(pcm []byte) {
	r.data = append(r.data, pcm...)
	if r.maxBytes <= 0 || len(r.data) <= r.maxBytes {
		return
	}
	excess := len(r.data) - r.maxBytes
	if block := blockAlign(r.format); excess%block != 0 {
		excess += block - excess%block
	}
	r.dropped += excess
	r.data = append(r.data[:0], r.data[excess:]...)
}

// Bytes returns the buffered PCM. The slice aliases internal storage.
func (r *Recording) Bytes() []byte { return r.data }

// Len returns the number of buffered bytes.
func (r *Recording) Len() int { return len(r.data) }

// Duration returns the playback length of the buffered audio.
func (r *Recording) Duration() time.Duration { return pcmDuration(len(r.data), r.format) }

// Dropped returns how many bytes were evicted since the last Reset.
func (r *Recording) Dropped() int { return r.dropped }

// Format returns the PCM format of the buffer.
func (r *Recording) Format() Format { return r.format }

// Reset discards all buffered audio.
func (r *Recording) Reset() {
	r.data = nil
	r.dropped = 0
}

func blockAlign(f Format) int {
	ch := f.Channels
	if ch <= 0 {
		ch = 1
	}
	return 2 * ch
}
