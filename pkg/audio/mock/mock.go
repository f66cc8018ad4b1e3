// Package mock provides in-memory mock implementations of the [audio.Device]
// and [audio.Stream] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	dev := &mock.Device{}
//	c := audio.NewCapture(dev)
//	_ = c.Start(ctx, sink)
//	dev.LastStream().Push(pcm)
package mock

import (
	"errors"
	"sync"

	"github.com/MrWong99/voxnote/pkg/audio"
)

// errClosed is returned by [Stream.Read] after Close.
var errClosed = errors.New("mock: stream closed")

// ─── Device ───────────────────────────────────────────────────────────────────

// OpenCall records the arguments of a single [Device.Open] invocation.
type OpenCall struct {
	Want            audio.Format
	FramesPerBuffer int
}

// Device is a mock implementation of [audio.Device].
type Device struct {
	mu sync.Mutex

	// OpenErr, if non-nil, is returned by every Open call.
	OpenErr error

	// SupportedRates restricts the sample rates Open accepts. Requests for any
	// other rate fail with an error wrapping [audio.ErrFormatUnsupported].
	// Nil accepts every rate.
	SupportedRates []int

	// Native is returned by NativeFormat. Defaults to 48 kHz mono.
	Native audio.Format

	// NativeErr is returned by NativeFormat.
	NativeErr error

	// OpenCalls records every Open invocation, including failed ones.
	OpenCalls []OpenCall

	streams []*Stream
}

// Open implements [audio.Device].
func (d *Device) Open(want audio.Format, framesPerBuffer int) (audio.Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.OpenCalls = append(d.OpenCalls, OpenCall{Want: want, FramesPerBuffer: framesPerBuffer})
	if d.OpenErr != nil {
		return nil, d.OpenErr
	}
	if d.SupportedRates != nil && !contains(d.SupportedRates, want.SampleRate) {
		return nil, audio.ErrFormatUnsupported
	}
	s := NewStream(want)
	d.streams = append(d.streams, s)
	return s, nil
}

// NativeFormat implements [audio.Device].
func (d *Device) NativeFormat() (audio.Format, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.NativeErr != nil {
		return audio.Format{}, d.NativeErr
	}
	if d.Native.SampleRate == 0 {
		return audio.Format{SampleRate: 48000, Channels: 1}, nil
	}
	return d.Native, nil
}

// LastStream returns the most recently opened stream, or nil.
func (d *Device) LastStream() *Stream {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.streams) == 0 {
		return nil
	}
	return d.streams[len(d.streams)-1]
}

// Streams returns every stream opened so far.
func (d *Device) Streams() []*Stream {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Stream(nil), d.streams...)
}

// ─── Stream ───────────────────────────────────────────────────────────────────

// Stream is a mock implementation of [audio.Stream]. Tests feed PCM with
// [Stream.Push] and inject failures with [Stream.Fail].
type Stream struct {
	format audio.Format
	frames chan []byte
	errs   chan error

	mu             sync.Mutex
	closed         bool
	done           chan struct{}
	pushed         int
	reads          int
	CloseCallCount int
}

// NewStream returns an open stream in format f.
func NewStream(f audio.Format) *Stream {
	return &Stream{
		format: f,
		frames: make(chan []byte, 256),
		errs:   make(chan error, 1),
		done:   make(chan struct{}),
	}
}

// Push queues pcm to be returned by a future Read. It does nothing once the
// stream is closed.
func (s *Stream) Push(pcm []byte) {
	select {
	case <-s.done:
	case s.frames <- pcm:
		s.mu.Lock()
		s.pushed++
		s.mu.Unlock()
	}
}

// Drained reports whether every pushed frame has been read and the reader
// has come back for more. A sequential reader has then finished processing
// all of them.
func (s *Stream) Drained() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames) == 0 && s.reads > s.pushed
}

// Fail makes the next Read return err.
func (s *Stream) Fail(err error) {
	select {
	case s.errs <- err:
	default:
	}
}

// Format implements [audio.Stream].
func (s *Stream) Format() audio.Format { return s.format }

// Read implements [audio.Stream].
func (s *Stream) Read() ([]byte, error) {
	s.mu.Lock()
	s.reads++
	s.mu.Unlock()
	select {
	case <-s.done:
		return nil, errClosed
	case err := <-s.errs:
		return nil, err
	case pcm := <-s.frames:
		return pcm, nil
	}
}

// Close implements [audio.Stream].
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	if !s.closed {
		s.closed = true
		close(s.done)
	}
	return nil
}

// Closed reports whether Close has been called.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func contains(xs []int, v int) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}
