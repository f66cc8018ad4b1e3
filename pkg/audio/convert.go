package audio

import (
	"fmt"
	"log/slog"
	"sync"

	goaudio "github.com/go-audio/audio"
)

const pcmBitDepth = 16

// Format describes the sample rate and channel count of 16-bit PCM.
type Format struct {
	SampleRate int
	Channels   int
}

// String returns e.g. "48000Hz stereo".
func (f Format) String() string {
	switch f.Channels {
	case 1:
		return fmt.Sprintf("%dHz mono", f.SampleRate)
	case 2:
		return fmt.Sprintf("%dHz stereo", f.SampleRate)
	default:
		return fmt.Sprintf("%dHz %dch", f.SampleRate, f.Channels)
	}
}

// BytesPerSecond returns the PCM data rate of f.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * 2
}

// Valid reports whether f has a positive rate and channel count.
func (f Format) Valid() bool {
	return f.SampleRate > 0 && f.Channels > 0
}

// Converter adapts device frames to the capture format. It warns once on
// the first format mismatch and once on misaligned PCM, which it drops.
// Create one per capture.
type Converter struct {
	target Format
	log    *slog.Logger

	warnMismatch sync.Once
	warnOdd      sync.Once
}

// NewConverter returns a Converter producing target frames. A nil log uses
// [slog.Default].
func NewConverter(target Format, log *slog.Logger) *Converter {
	if log == nil {
		log = slog.Default()
	}
	return &Converter{target: target, log: log}
}

// Target returns the output format.
func (c *Converter) Target() Format { return c.target }

// Convert returns frame in the target format. A frame already in the target
// format is returned as is. A frame with an odd byte count comes back empty.
func (c *Converter) Convert(frame AudioFrame) AudioFrame {
	src := Format{SampleRate: frame.SampleRate, Channels: frame.Channels}
	if len(frame.Data)%2 != 0 {
		c.warnOdd.Do(func() {
			c.log.Warn("audio: odd byte count in PCM, dropping frame",
				"bytes", len(frame.Data),
				"format", src.String(),
			)
		})
		return AudioFrame{SampleRate: c.target.SampleRate, Channels: c.target.Channels, Timestamp: frame.Timestamp}
	}
	if src == c.target {
		return frame
	}

	c.warnMismatch.Do(func() {
		c.log.Warn("audio: device format differs from capture format, converting",
			"from", src.String(),
			"to", c.target.String(),
		)
	})
	return AudioFrame{
		Data:       Convert(frame.Data, src, c.target),
		SampleRate: c.target.SampleRate,
		Channels:   c.target.Channels,
		Timestamp:  frame.Timestamp,
	}
}

// Convert converts 16-bit PCM between formats. Reducing the channel count
// happens before resampling and adding channels after it, so the resampler
// always works on the narrower signal. Invalid formats return pcm unchanged.
func Convert(pcm []byte, from, to Format) []byte {
	if !from.Valid() || !to.Valid() || from == to {
		return pcm
	}
	buf := Samples(pcm, from)
	if to.Channels < from.Channels {
		buf = Remix(buf, to.Channels)
	}
	buf = Resample(buf, to.SampleRate)
	if to.Channels > from.Channels {
		buf = Remix(buf, to.Channels)
	}
	return PCM(buf)
}

// ToMono16 converts 16-bit PCM in format f to mono at dstRate.
func ToMono16(pcm []byte, f Format, dstRate int) []byte {
	return Convert(pcm, f, Format{SampleRate: dstRate, Channels: 1})
}

// Samples decodes little-endian 16-bit PCM into an integer buffer. Trailing
// bytes that do not fill a whole frame are dropped.
func Samples(pcm []byte, f Format) *goaudio.IntBuffer {
	ch := max(f.Channels, 1)
	n := len(pcm) / 2
	n -= n % ch
	data := make([]int, n)
	for i := range data {
		data[i] = int(int16(uint16(pcm[2*i]) | uint16(pcm[2*i+1])<<8))
	}
	return &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: ch, SampleRate: f.SampleRate},
		Data:           data,
		SourceBitDepth: pcmBitDepth,
	}
}

// PCM encodes buf as little-endian 16-bit PCM, clamping to the int16 range.
func PCM(buf *goaudio.IntBuffer) []byte {
	out := make([]byte, 2*len(buf.Data))
	for i, s := range buf.Data {
		v := clamp16(s)
		out[2*i] = byte(v)
		out[2*i+1] = byte(v >> 8)
	}
	return out
}

// Remix changes the channel count of buf. Mono is copied to every output
// channel; anything else is averaged to mono first.
func Remix(buf *goaudio.IntBuffer, channels int) *goaudio.IntBuffer {
	in := buf.Format.NumChannels
	if channels <= 0 || in == channels {
		return buf
	}
	frames := len(buf.Data) / in

	mono := buf.Data
	if in > 1 {
		mono = make([]int, frames)
		for i := range frames {
			var sum int
			for c := range in {
				sum += buf.Data[i*in+c]
			}
			mono[i] = sum / in
		}
	}

	out := mono
	if channels > 1 {
		out = make([]int, frames*channels)
		for i, s := range mono {
			for c := range channels {
				out[i*channels+c] = s
			}
		}
	}
	return &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: channels, SampleRate: buf.Format.SampleRate},
		Data:           out,
		SourceBitDepth: buf.SourceBitDepth,
	}
}

// Resample converts buf to rate with per-channel linear interpolation.
func Resample(buf *goaudio.IntBuffer, rate int) *goaudio.IntBuffer {
	src := buf.Format.SampleRate
	ch := buf.Format.NumChannels
	if rate <= 0 || src <= 0 || src == rate {
		return buf
	}
	inFrames := len(buf.Data) / ch
	outFrames := int(int64(inFrames) * int64(rate) / int64(src))

	out := make([]int, outFrames*ch)
	step := float64(src) / float64(rate)
	for i := range outFrames {
		pos := float64(i) * step
		j := int(pos)
		frac := pos - float64(j)
		next := min(j+1, inFrames-1)
		for c := range ch {
			a := float64(buf.Data[j*ch+c])
			b := float64(buf.Data[next*ch+c])
			out[i*ch+c] = int(a + (b-a)*frac)
		}
	}
	return &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: ch, SampleRate: rate},
		Data:           out,
		SourceBitDepth: buf.SourceBitDepth,
	}
}

func clamp16(v int) int16 {
	switch {
	case v > 32767:
		return 32767
	case v < -32768:
		return -32768
	default:
		return int16(v)
	}
}
