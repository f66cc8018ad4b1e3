// Package audio defines the microphone abstraction, PCM helpers and the
// [Capture] component that turns a live input device into a stream of
// recognizer-ready frames plus an in-memory recording of the session.
//
// The two device abstractions are:
//
//   - [Device]: an input device that can be opened in a requested [Format].
//   - [Stream]: an open device delivering fixed-size buffers of 16-bit PCM.
//
// Implementations live in adapter packages (audio/portaudio for real
// microphones, audio/mock for tests). The interfaces are intentionally narrow
// to keep the session orchestrator decoupled from the audio backend.
package audio

import (
	"errors"
	"fmt"
)

// Sentinel errors describing why an input device could not be used.
// [CaptureError] matches them through errors.Is.
var (
	// ErrDeviceBusy is returned when the device is already capturing.
	ErrDeviceBusy = errors.New("audio: device busy")

	// ErrPermissionDenied is returned when the OS refuses microphone access.
	ErrPermissionDenied = errors.New("audio: microphone permission denied")

	// ErrFormatUnsupported is returned by [Device.Open] when the device cannot
	// deliver the requested format. [Capture] reacts by reopening the device at
	// its native format and converting.
	ErrFormatUnsupported = errors.New("audio: format unsupported")

	// ErrDeviceUnavailable covers every other device failure.
	ErrDeviceUnavailable = errors.New("audio: device unavailable")

	// ErrOverflow may be returned by [Stream.Read] when samples were lost.
	// It is not fatal; the next Read continues the stream.
	ErrOverflow = errors.New("audio: input overflowed")
)

// CaptureErrorKind classifies a [CaptureError].
type CaptureErrorKind int

const (
	KindDeviceUnavailable CaptureErrorKind = iota
	KindDeviceBusy
	KindPermissionDenied
	KindFormatUnsupported
)

// String implements [fmt.Stringer].
func (k CaptureErrorKind) String() string {
	switch k {
	case KindDeviceBusy:
		return "device busy"
	case KindPermissionDenied:
		return "permission denied"
	case KindFormatUnsupported:
		return "format unsupported"
	default:
		return "device unavailable"
	}
}

func (k CaptureErrorKind) sentinel() error {
	switch k {
	case KindDeviceBusy:
		return ErrDeviceBusy
	case KindPermissionDenied:
		return ErrPermissionDenied
	case KindFormatUnsupported:
		return ErrFormatUnsupported
	default:
		return ErrDeviceUnavailable
	}
}

// CaptureError is returned by [Capture.Start] when the device cannot be used.
type CaptureError struct {
	Kind CaptureErrorKind
	Err  error
}

// Error implements error.
func (e *CaptureError) Error() string {
	if e.Err == nil {
		return "audio: capture: " + e.Kind.String()
	}
	return fmt.Sprintf("audio: capture: %s: %v", e.Kind, e.Err)
}

// Unwrap returns the underlying error.
func (e *CaptureError) Unwrap() error { return e.Err }

// Is reports whether target is the sentinel for e's kind.
func (e *CaptureError) Is(target error) bool { return target == e.Kind.sentinel() }

// classify wraps err in a [CaptureError] unless it already is one.
func classify(err error) *CaptureError {
	var ce *CaptureError
	if errors.As(err, &ce) {
		return ce
	}
	kind := KindDeviceUnavailable
	switch {
	case errors.Is(err, ErrDeviceBusy):
		kind = KindDeviceBusy
	case errors.Is(err, ErrPermissionDenied):
		kind = KindPermissionDenied
	case errors.Is(err, ErrFormatUnsupported):
		kind = KindFormatUnsupported
	}
	return &CaptureError{Kind: kind, Err: err}
}

// Device is an audio input device.
//
// Implementations must be safe for concurrent use.
type Device interface {
	// Open opens the device for capture in the requested format, delivering
	// framesPerBuffer samples per channel on each [Stream.Read]. It returns an
	// error wrapping [ErrFormatUnsupported] if the device cannot deliver want,
	// and [ErrDeviceBusy] if the device is already open.
	Open(want Format, framesPerBuffer int) (Stream, error)

	// NativeFormat returns the format the device prefers.
	NativeFormat() (Format, error)
}

// Stream is an open input device.
type Stream interface {
	// Format returns the format of the PCM returned by Read.
	Format() Format

	// Read blocks until the next buffer of 16-bit little-endian PCM is
	// available. After Close it returns an error.
	Read() ([]byte, error)

	// Close stops the stream and releases the device. It unblocks a pending
	// Read. Safe to call more than once.
	Close() error
}
