// Package wav encodes and inspects 16-bit linear PCM WAV files in memory.
//
// Encoding is deterministic: the same PCM, rate and channel count always
// yield byte-identical output with a canonical 44-byte RIFF header.
package wav

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	goaudio "github.com/go-audio/audio"
	gowav "github.com/go-audio/wav"
)

// HeaderSize is the size of the canonical PCM WAV header.
const HeaderSize = 44

const (
	bitDepth   = 16
	formatPCM  = 1
	sampleSize = bitDepth / 8
)

// ErrInvalid is returned by [DecodeHeader] for data that is not a PCM WAV file.
var ErrInvalid = errors.New("wav: invalid file")

// Header describes a decoded WAV header.
type Header struct {
	SampleRate int
	Channels   int
	BitDepth   int
	// DataLen is the size of the PCM data chunk in bytes.
	DataLen int64
}

// EncodedSize returns the size in bytes of the WAV file [Encode] produces for
// pcmLen bytes of 16-bit PCM, without encoding it.
func EncodedSize(pcmLen int) int64 {
	return HeaderSize + int64(pcmLen-pcmLen%sampleSize)
}

// Encode wraps 16-bit little-endian PCM in a WAV container. A trailing odd
// byte is dropped.
func Encode(pcm []byte, sampleRate, channels int) ([]byte, error) {
	if sampleRate <= 0 || channels <= 0 {
		return nil, fmt.Errorf("wav: encode: invalid format %d Hz / %d ch", sampleRate, channels)
	}

	samples := make([]int, len(pcm)/sampleSize)
	for i := range samples {
		samples[i] = int(int16(uint16(pcm[2*i]) | uint16(pcm[2*i+1])<<8))
	}

	out := &memBuffer{buf: make([]byte, 0, EncodedSize(len(pcm)))}
	enc := gowav.NewEncoder(out, sampleRate, bitDepth, channels, formatPCM)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: channels, SampleRate: sampleRate},
		Data:           samples,
		SourceBitDepth: bitDepth,
	}
	if err := enc.Write(buf); err != nil {
		return nil, fmt.Errorf("wav: encode: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("wav: encode: close: %w", err)
	}
	return out.Bytes(), nil
}

// DecodeHeader parses the header of a WAV file.
func DecodeHeader(data []byte) (Header, error) {
	dec := gowav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return Header{}, ErrInvalid
	}
	if err := dec.FwdToPCM(); err != nil {
		return Header{}, fmt.Errorf("wav: decode: %w", err)
	}
	return Header{
		SampleRate: int(dec.SampleRate),
		Channels:   int(dec.NumChans),
		BitDepth:   int(dec.BitDepth),
		DataLen:    dec.PCMLen(),
	}, nil
}

// memBuffer is an in-memory io.WriteSeeker; the encoder seeks back to patch
// chunk sizes on Close.
type memBuffer struct {
	buf []byte
	pos int64
}

func (m *memBuffer) Write(p []byte) (int, error) {
	end := m.pos + int64(len(p))
	if end > int64(len(m.buf)) {
		if end <= int64(cap(m.buf)) {
			m.buf = m.buf[:end]
		} else {
			grown := make([]byte, end, max(end, 2*int64(cap(m.buf))))
			copy(grown, m.buf)
			m.buf = grown
		}
	}
	copy(m.buf[m.pos:], p)
	m.pos = end
	return len(p), nil
}

func (m *memBuffer) Seek(offset int64, whence int) (int64, error) {
	var pos int64
	switch whence {
	case io.SeekStart:
		pos = offset
	case io.SeekCurrent:
		pos = m.pos + offset
	case io.SeekEnd:
		pos = int64(len(m.buf)) + offset
	default:
		return 0, fmt.Errorf("wav: seek: invalid whence %d", whence)
	}
	if pos < 0 {
		return 0, errors.New("wav: seek: negative position")
	}
	m.pos = pos
	return pos, nil
}

func (m *memBuffer) Bytes() []byte { return m.buf }
