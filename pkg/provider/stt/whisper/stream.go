package whisper

import (
	"context"
	"encoding/binary"
	"errors"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/voxnote/pkg/audio"
	"github.com/MrWong99/voxnote/pkg/provider/stt"
)

// finishTimeout bounds the transcription of the last utterance on Close.
const finishTimeout = 30 * time.Second

var errClosed = errors.New("whisper: session closed")

// segmentation describes how captured audio is cut into utterances.
type segmentation struct {
	format       audio.Format
	silence      time.Duration
	maxUtterance time.Duration
	floor        float64
}

func (g segmentation) duration(n int) time.Duration {
	bps := g.format.BytesPerSecond()
	if bps <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(bps)
}

type utterance struct {
	pcm    []byte
	start  time.Duration
	length time.Duration
}

// segmenter accumulates chunks into utterances. Silence before the first
// loud chunk is dropped; silence after it belongs to the utterance until the
// pause is long enough to end it.
type segmenter struct {
	segmentation

	pcm    []byte
	start  time.Duration
	pos    time.Duration
	speech bool
	quiet  time.Duration
}

// push adds a chunk and reports a finished utterance, if any.
func (g *segmenter) push(chunk []byte) (utterance, bool) {
	d := g.duration(len(chunk))
	g.pos += d

	if rms(chunk) < g.floor {
		if !g.speech {
			g.start = g.pos
			return utterance{}, false
		}
		g.pcm = append(g.pcm, chunk...)
		g.quiet += d
		if g.quiet >= g.silence {
			return g.cut()
		}
		return utterance{}, false
	}

	g.speech = true
	g.quiet = 0
	g.pcm = append(g.pcm, chunk...)
	if g.maxUtterance > 0 && g.pos-g.start >= g.maxUtterance {
		return g.cut()
	}
	return utterance{}, false
}

// cut ends the pending utterance. It reports false when the utterance holds
// no speech.
func (g *segmenter) cut() (utterance, bool) {
	u := utterance{pcm: g.pcm, start: g.start, length: g.pos - g.start}
	speech := g.speech
	g.pcm, g.start, g.speech, g.quiet = nil, g.pos, false, 0
	return u, speech && len(u.pcm) > 0
}

// rms returns the root-mean-square level of 16-bit little-endian PCM.
func rms(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		v := float64(int16(binary.LittleEndian.Uint16(pcm[2*i:])))
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}

// ── session ──────────────────────────────────────────────────────────────────

// inferFunc transcribes one utterance of PCM in the stream's format.
type inferFunc func(ctx context.Context, pcm []byte) (string, error)

// session turns whole-clip transcription into a stream. One goroutine owns
// the segmenter and calls infer for every finished utterance.
type session struct {
	seg   segmenter
	infer inferFunc

	audio    chan []byte
	partials chan stt.Transcript
	finals   chan stt.Transcript

	closing   chan struct{}
	exited    chan struct{}
	closeOnce sync.Once

	mu         sync.Mutex
	lastErr    error
	recognized bool
}

var _ stt.SessionHandle = (*session)(nil)

func newSession(ctx context.Context, seg segmentation, infer inferFunc) *session {
	s := &session{
		seg:      segmenter{segmentation: seg},
		infer:    infer,
		audio:    make(chan []byte, 256),
		partials: make(chan stt.Transcript, 64),
		finals:   make(chan stt.Transcript, 64),
		closing:  make(chan struct{}),
		exited:   make(chan struct{}),
	}
	go s.run(ctx)
	return s
}

func (s *session) SendAudio(chunk []byte) error {
	select {
	case <-s.closing:
		return errClosed
	default:
	}
	select {
	case s.audio <- chunk:
		return nil
	case <-s.closing:
		return errClosed
	case <-s.exited:
		return errClosed
	}
}

// Partials carries each utterance's text ahead of its final. Partials nobody
// reads are dropped.
func (s *session) Partials() <-chan stt.Transcript { return s.partials }

func (s *session) Finals() <-chan stt.Transcript { return s.finals }

// Err reports the last transcription failure when no utterance was
// recognized at all.
func (s *session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.recognized {
		return nil
	}
	return s.lastErr
}

// Close transcribes the pending utterance and waits for the channels to
// close.
func (s *session) Close() error {
	s.closeOnce.Do(func() { close(s.closing) })
	<-s.exited
	return nil
}

func (s *session) run(ctx context.Context) {
	defer close(s.exited)
	defer close(s.finals)
	defer close(s.partials)

	for {
		select {
		case chunk := <-s.audio:
			if u, ok := s.seg.push(chunk); ok {
				s.emit(ctx, u)
			}
		case <-s.closing:
			for pending := true; pending; {
				select {
				case chunk := <-s.audio:
					if u, ok := s.seg.push(chunk); ok {
						s.emit(ctx, u)
					}
				default:
					pending = false
				}
			}
			s.finish(ctx)
			return
		case <-ctx.Done():
			s.finish(ctx)
			return
		}
	}
}

// finish transcribes what is left, even when ctx is already cancelled.
func (s *session) finish(ctx context.Context) {
	u, ok := s.seg.cut()
	if !ok {
		return
	}
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
	defer cancel()
	s.emit(fctx, u)
}

func (s *session) emit(ctx context.Context, u utterance) {
	text, err := s.infer(ctx, u.pcm)
	s.mu.Lock()
	if err != nil {
		s.lastErr = err
	} else {
		s.recognized = true
	}
	s.mu.Unlock()
	if err != nil {
		slog.Warn("whisper: transcription failed", "start", u.start, "err", err)
		return
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	tr := stt.Transcript{Text: text, Timestamp: u.start, Duration: u.length}
	select {
	case s.partials <- tr:
	default:
	}
	tr.IsFinal = true
	s.finals <- tr
}
