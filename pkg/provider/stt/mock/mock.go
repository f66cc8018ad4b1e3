// Package mock holds scriptable stand-ins for [stt.Provider] and
// [stt.SessionHandle].
//
// A Provider hands out prepared Sessions and records the StreamConfig of every
// start. A Session lets a test push transcripts, decide what Close flushes and
// read back the audio it was sent.
//
//	sess := mock.NewSession()
//	sess.FinalOnClose = &stt.Transcript{Text: "hello", IsFinal: true}
//	p := &mock.Provider{Sessions: []*mock.Session{sess}}
//	h, _ := p.StartStream(ctx, stt.StreamConfig{Language: "en"})
package mock

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/MrWong99/voxnote/pkg/provider/stt"
)

// StartStreamCall is one recorded StartStream.
type StartStreamCall struct {
	Ctx context.Context
	Cfg stt.StreamConfig
}

// Provider is a scripted [stt.Provider].
type Provider struct {
	mu sync.Mutex

	// Sessions are handed out by StartStream in order. Once exhausted, each
	// call returns a fresh NewSession().
	Sessions []*Session

	// Unsupported lists base languages for which StartStream fails with
	// stt.ErrLanguageUnsupported.
	Unsupported []string

	// StartStreamErr fails every start when set.
	StartStreamErr error

	StartStreamCalls []StartStreamCall

	started []*Session
}

// StartStream records the call and returns the next session.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StartStreamCalls = append(p.StartStreamCalls, StartStreamCall{Ctx: ctx, Cfg: cfg})
	if p.StartStreamErr != nil {
		return nil, p.StartStreamErr
	}
	for _, l := range p.Unsupported {
		if stt.BaseLanguage(l) == stt.BaseLanguage(cfg.Language) {
			return nil, fmt.Errorf("mock: %w: %q", stt.ErrLanguageUnsupported, cfg.Language)
		}
	}
	var s *Session
	if len(p.Sessions) > 0 {
		s, p.Sessions = p.Sessions[0], p.Sessions[1:]
	} else {
		s = NewSession()
	}
	p.started = append(p.started, s)
	return s, nil
}

// Started returns every session handed out so far. Thread-safe.
func (p *Provider) Started() []*Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Session(nil), p.started...)
}

// Calls returns a copy of StartStreamCalls. Thread-safe.
func (p *Provider) Calls() []StartStreamCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]StartStreamCall(nil), p.StartStreamCalls...)
}

var _ stt.Provider = (*Provider)(nil)

// SendAudioCall is one recorded SendAudio. Chunk is a private copy.
type SendAudioCall struct {
	Chunk []byte
}

// Session is a scripted [stt.SessionHandle].
//
// Tests push transcripts into PartialsCh and FinalsCh. Close optionally emits
// FinalOnClose, then closes both channels, mirroring a provider that flushes
// its last utterance. End closes the channels without Close, simulating a
// provider that ends the session on its own.
type Session struct {
	mu sync.Mutex

	// PartialsCh is the channel returned by Partials().
	PartialsCh chan stt.Transcript

	// FinalsCh is the channel returned by Finals().
	FinalsCh chan stt.Transcript

	// FinalOnClose, if non-nil, is sent on FinalsCh when Close is called.
	FinalOnClose *stt.Transcript

	// KeepOpenOnClose leaves the channels open after Close, simulating a
	// provider that never answers the flush.
	KeepOpenOnClose bool

	// SendAudioErr fails every SendAudio when set.
	SendAudioErr error

	// TerminalErr is returned by Err.
	TerminalErr error

	CloseErr error

	SendAudioCalls []SendAudioCall
	CloseCallCount int

	endOnce sync.Once
	ended   bool
}

// NewSession returns a Session with buffered channels.
func NewSession() *Session {
	return &Session{
		PartialsCh: make(chan stt.Transcript, 64),
		FinalsCh:   make(chan stt.Transcript, 64),
	}
}

func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SendAudioCalls = append(s.SendAudioCalls, SendAudioCall{Chunk: bytes.Clone(chunk)})
	return s.SendAudioErr
}

// Partials and Finals return the exported channels.
func (s *Session) Partials() <-chan stt.Transcript { return s.PartialsCh }

func (s *Session) Finals() <-chan stt.Transcript { return s.FinalsCh }

// Err returns TerminalErr.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.TerminalErr
}

// End closes both channels. Safe to call more than once.
func (s *Session) End() {
	s.endOnce.Do(func() {
		s.mu.Lock()
		s.ended = true
		s.mu.Unlock()
		close(s.PartialsCh)
		close(s.FinalsCh)
	})
}

// Close records the call, flushes FinalOnClose and ends the session.
func (s *Session) Close() error {
	s.mu.Lock()
	s.CloseCallCount++
	first := s.CloseCallCount == 1 && !s.ended
	final, keepOpen, err := s.FinalOnClose, s.KeepOpenOnClose, s.CloseErr
	s.mu.Unlock()

	if first && final != nil {
		s.FinalsCh <- *final
	}
	if !keepOpen {
		s.End()
	}
	return err
}

// Chunks returns how many chunks were sent.
func (s *Session) Chunks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.SendAudioCalls)
}

// SentBytes returns the concatenation of every chunk sent. Thread-safe.
func (s *Session) SentBytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []byte
	for _, c := range s.SendAudioCalls {
		out = append(out, c.Chunk...)
	}
	return out
}

// Closes returns CloseCallCount. Thread-safe.
func (s *Session) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CloseCallCount
}

var _ stt.SessionHandle = (*Session)(nil)
