package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const (
	defaultSampleRate      = 16000
	defaultFramesPerBuffer = 1024
	defaultMaxRecording    = 10 * time.Minute
)

// CaptureOption is a functional option for [NewCapture].
type CaptureOption func(*Capture)

// WithFormat sets the format frames are delivered in. Defaults to 16 kHz mono.
func WithFormat(f Format) CaptureOption {
	return func(c *Capture) { c.target = f }
}

// WithFramesPerBuffer sets the number of samples per channel read from the
// device at a time. Defaults to 1024.
func WithFramesPerBuffer(n int) CaptureOption {
	return func(c *Capture) { c.framesPerBuffer = n }
}

// WithMaxRecording caps the rolling recording. Defaults to 10 minutes.
// Zero or negative means unbounded.
func WithMaxRecording(d time.Duration) CaptureOption {
	return func(c *Capture) { c.maxRecording = d }
}

// WithErrorHandler registers fn to be called from the read loop when the
// device fails mid-capture. The capture stops delivering frames afterwards.
func WithErrorHandler(fn func(error)) CaptureOption {
	return func(c *Capture) { c.onError = fn }
}

// Capture reads audio from a [Device], converts it to the recognizer format,
// keeps a rolling recording of the session and hands every frame to a sink.
//
// A Capture serves one session at a time but may be restarted after [Capture.Stop].
// All methods are safe for concurrent use.
type Capture struct {
	dev             Device
	target          Format
	framesPerBuffer int
	maxRecording    time.Duration
	onError         func(error)

	// mu guards everything below and is held while a frame is recorded and
	// delivered, so [Capture.Hold] observes frame-exact snapshots.
	mu       sync.Mutex
	running  bool
	stream   Stream
	sink     func(AudioFrame)
	rec      *Recording
	captured time.Duration
	done     chan struct{}
}

// NewCapture creates a Capture reading from dev.
func NewCapture(dev Device, opts ...CaptureOption) *Capture {
	c := &Capture{
		dev:             dev,
		target:          Format{SampleRate: defaultSampleRate, Channels: 1},
		framesPerBuffer: defaultFramesPerBuffer,
		maxRecording:    defaultMaxRecording,
	}
	for _, o := range opts {
		o(c)
	}
	c.rec = NewRecording(c.target, c.maxRecording)
	return c
}

// Format returns the format delivered to the sink and held in the recording.
func (c *Capture) Format() Format { return c.target }

// Start opens the device and begins delivering frames to sink from a
// background goroutine. The sink is invoked with the Capture's internal lock
// held and must not call back into the Capture.
//
// If the device cannot deliver the target format, Start reopens it at its
// native format and converts every frame. On failure Start returns a
// [*CaptureError] and leaves no partial state behind.
func (c *Capture) Start(ctx context.Context, sink func(AudioFrame)) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return &CaptureError{Kind: KindDeviceBusy}
	}

	stream, err := c.open()
	if err != nil {
		return classify(err)
	}

	c.rec.Reset()
	c.captured = 0
	c.stream = stream
	c.sink = sink
	c.running = true
	c.done = make(chan struct{})

	go c.readLoop(stream, NewConverter(c.target, nil), c.done)
	return nil
}

// open tries the target format first and falls back to the device's native format.
func (c *Capture) open() (Stream, error) {
	stream, err := c.dev.Open(c.target, c.framesPerBuffer)
	if err == nil {
		return stream, nil
	}
	if !errors.Is(err, ErrFormatUnsupported) {
		return nil, err
	}

	native, nerr := c.dev.NativeFormat()
	if nerr != nil {
		return nil, fmt.Errorf("audio: query native format: %w", nerr)
	}
	// Keep the buffer duration roughly constant at the native rate.
	frames := c.framesPerBuffer
	if c.target.SampleRate > 0 {
		frames = frames * native.SampleRate / c.target.SampleRate
	}
	stream, err = c.dev.Open(native, max(frames, 1))
	if err != nil {
		return nil, fmt.Errorf("audio: open at native format %s: %w", native, err)
	}
	return stream, nil
}

func (c *Capture) readLoop(stream Stream, conv *Converter, done chan struct{}) {
	defer close(done)
	sf := stream.Format()
	var elapsed time.Duration

	for {
		pcm, err := stream.Read()
		if err != nil && !errors.Is(err, ErrOverflow) {
			c.mu.Lock()
			stopping := !c.running || c.stream != stream
			c.mu.Unlock()
			if !stopping {
				slog.Warn("audio: capture read failed", "err", err)
				if c.onError != nil {
					c.onError(err)
				}
			}
			return
		}
		if len(pcm) == 0 {
			continue
		}

		frame := conv.Convert(AudioFrame{
			Data:       pcm,
			SampleRate: sf.SampleRate,
			Channels:   sf.Channels,
			Timestamp:  elapsed,
		})
		elapsed += pcmDuration(len(pcm), sf)
		if len(frame.Data) == 0 {
			continue
		}

		c.mu.Lock()
		if !c.running || c.stream != stream {
			c.mu.Unlock()
			return
		}
		c.rec.Append(frame.Data)
		c.captured += frame.Duration()
		if c.sink != nil {
			c.sink(frame)
		}
		c.mu.Unlock()
	}
}

// Stop closes the device, waits for the read loop to exit and returns the
// total duration of audio delivered since Start. Stop is idempotent; calling
// it on a stopped Capture returns the last session's duration.
func (c *Capture) Stop() time.Duration {
	c.mu.Lock()
	if !c.running {
		d := c.captured
		c.mu.Unlock()
		return d
	}
	c.running = false
	stream, done := c.stream, c.done
	c.sink = nil
	c.mu.Unlock()

	if err := stream.Close(); err != nil {
		slog.Warn("audio: close input stream", "err", err)
	}
	<-done

	c.mu.Lock()
	defer c.mu.Unlock()
	c.stream = nil
	return c.captured
}

// Running reports whether the device is open.
func (c *Capture) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Recording returns a copy of the rolling recording in [Capture.Format].
func (c *Capture) Recording() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.rec.Bytes()...)
}

// Hold calls fn with the recording so far while frame delivery is paused.
// No frame is recorded or passed to the sink until fn returns, so a consumer
// swapped in by fn sees every sample exactly once. fn must not retain recorded.
func (c *Capture) Hold(fn func(recorded []byte)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(c.rec.Bytes())
}

// Reset discards the recording. Call it once the session's audio has been consumed.
func (c *Capture) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rec.Reset()
}
