// Package portaudio implements [audio.Device] for the system default
// microphone using the PortAudio C library.
//
// Building this package requires the PortAudio headers and library
// (e.g. libportaudio2 / portaudio19-dev on Debian, portaudio on Homebrew).
package portaudio

import (
	"errors"
	"fmt"
	"sync"

	pa "github.com/gordonklaus/portaudio"

	"github.com/MrWong99/voxnote/pkg/audio"
)

// Compile-time interface assertions.
var (
	_ audio.Device = (*Device)(nil)
	_ audio.Stream = (*stream)(nil)
)

// Device is the default PortAudio input device. Only one stream may be open
// at a time.
type Device struct {
	mu   sync.Mutex
	open bool
}

// New returns the default input device.
func New() *Device { return &Device{} }

// NativeFormat implements [audio.Device]. It reports the default input
// device's preferred sample rate in mono.
func (d *Device) NativeFormat() (audio.Format, error) {
	if err := pa.Initialize(); err != nil {
		return audio.Format{}, mapErr(err)
	}
	defer pa.Terminate()

	info, err := pa.DefaultInputDevice()
	if err != nil {
		return audio.Format{}, mapErr(err)
	}
	return audio.Format{SampleRate: int(info.DefaultSampleRate), Channels: 1}, nil
}

// Open implements [audio.Device].
func (d *Device) Open(want audio.Format, framesPerBuffer int) (audio.Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.open {
		return nil, audio.ErrDeviceBusy
	}
	if want.Channels <= 0 || want.SampleRate <= 0 || framesPerBuffer <= 0 {
		return nil, fmt.Errorf("portaudio: %w: %+v", audio.ErrFormatUnsupported, want)
	}

	if err := pa.Initialize(); err != nil {
		return nil, mapErr(err)
	}
	buf := make([]int16, framesPerBuffer*want.Channels)
	s, err := pa.OpenDefaultStream(want.Channels, 0, float64(want.SampleRate), framesPerBuffer, buf)
	if err != nil {
		pa.Terminate()
		return nil, mapErr(err)
	}
	if err := s.Start(); err != nil {
		s.Close()
		pa.Terminate()
		return nil, mapErr(err)
	}

	d.open = true
	return &stream{dev: d, s: s, buf: buf, format: want}, nil
}

func (d *Device) release() {
	d.mu.Lock()
	d.open = false
	d.mu.Unlock()
}

type stream struct {
	dev    *Device
	s      *pa.Stream
	buf    []int16
	format audio.Format

	// readMu serialises Read against Close; PortAudio streams must not be
	// closed while a blocking read is in flight.
	readMu    sync.Mutex
	closeOnce sync.Once
	closed    bool
}

func (s *stream) Format() audio.Format { return s.format }

func (s *stream) Read() ([]byte, error) {
	s.readMu.Lock()
	defer s.readMu.Unlock()
	if s.closed {
		return nil, errors.New("portaudio: stream closed")
	}
	if err := s.s.Read(); err != nil {
		if errors.Is(err, pa.InputOverflowed) {
			return s.bytes(), audio.ErrOverflow
		}
		return nil, mapErr(err)
	}
	return s.bytes(), nil
}

func (s *stream) bytes() []byte {
	out := make([]byte, len(s.buf)*2)
	for i, v := range s.buf {
		out[2*i] = byte(v)
		out[2*i+1] = byte(uint16(v) >> 8)
	}
	return out
}

// Close waits for an in-flight Read (at most one buffer) before stopping.
func (s *stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.readMu.Lock()
		defer s.readMu.Unlock()
		s.closed = true
		err = errors.Join(s.s.Stop(), s.s.Close(), pa.Terminate())
		s.dev.release()
	})
	return err
}

// mapErr translates PortAudio errors into the audio package's sentinels.
func mapErr(err error) error {
	var paErr pa.Error
	if !errors.As(err, &paErr) {
		return fmt.Errorf("portaudio: %w: %v", audio.ErrDeviceUnavailable, err)
	}
	switch paErr {
	case pa.InvalidSampleRate, pa.InvalidChannelCount, pa.SampleFormatNotSupported:
		return fmt.Errorf("portaudio: %w: %v", audio.ErrFormatUnsupported, err)
	case pa.DeviceUnavailable:
		return fmt.Errorf("portaudio: %w: %v", audio.ErrDeviceBusy, err)
	default:
		return fmt.Errorf("portaudio: %w: %v", audio.ErrDeviceUnavailable, err)
	}
}
