package deepgram

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/voxnote/pkg/provider/stt"
)

var errClosed = errors.New("deepgram: session is closed")

var (
	msgCloseStream = []byte(`{"type":"CloseStream"}`)
	msgKeepAlive   = []byte(`{"type":"KeepAlive"}`)
)

// session is one live connection.
//
// The writer goroutine owns all writes: queued audio, keep-alives and the
// final CloseStream. The reader goroutine owns the output channels and
// closes them when the server hangs up.
type session struct {
	conn      *websocket.Conn
	ctx       context.Context
	cancel    context.CancelFunc
	keepAlive time.Duration
	flushWait time.Duration

	audio    chan []byte
	partials chan stt.Transcript
	finals   chan stt.Transcript

	closing     chan struct{} // closed by Close
	writerDone  chan struct{}
	readerDone  chan struct{}
	closeOnce   sync.Once
	terminalErr error // set by the reader before readerDone closes
}

func startSession(ctx context.Context, conn *websocket.Conn, keepAlive, flushWait time.Duration) *session {
	ctx, cancel := context.WithCancel(ctx)
	s := &session{
		conn:       conn,
		ctx:        ctx,
		cancel:     cancel,
		keepAlive:  keepAlive,
		flushWait:  flushWait,
		audio:      make(chan []byte, 256),
		partials:   make(chan stt.Transcript, 64),
		finals:     make(chan stt.Transcript, 64),
		closing:    make(chan struct{}),
		writerDone: make(chan struct{}),
		readerDone: make(chan struct{}),
	}
	go s.write()
	go s.read()
	return s
}

// SendAudio queues chunk. It blocks while the queue is full and fails once
// Close has been called.
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
	case <-s.writerDone:
		// The connection failed underneath us.
		return errClosed
	}
}

func (s *session) Partials() <-chan stt.Transcript { return s.partials }
func (s *session) Finals() <-chan stt.Transcript   { return s.finals }

// Err reports why the server side ended abnormally. It is nil while the
// session runs and after a normal closure.
func (s *session) Err() error {
	select {
	case <-s.readerDone:
		return s.terminalErr
	default:
		return nil
	}
}

// Close sends everything queued, asks Deepgram to flush, and waits up to the
// flush bound for the server to deliver its last results and hang up.
func (s *session) Close() error {
	s.closeOnce.Do(func() {
		close(s.closing)
		<-s.writerDone

		t := time.NewTimer(s.flushWait)
		select {
		case <-s.readerDone:
		case <-t.C:
		}
		t.Stop()

		s.cancel()
		<-s.readerDone
		_ = s.conn.Close(websocket.StatusNormalClosure, "")
	})
	return nil
}

func (s *session) write() {
	defer close(s.writerDone)

	var idle <-chan time.Time
	var ticker *time.Ticker
	if s.keepAlive > 0 {
		ticker = time.NewTicker(s.keepAlive)
		defer ticker.Stop()
		idle = ticker.C
	}
	sentAudio := false

	for {
		select {
		case chunk := <-s.audio:
			if err := s.conn.Write(s.ctx, websocket.MessageBinary, chunk); err != nil {
				return
			}
			sentAudio = true
		case <-idle:
			if !sentAudio {
				if err := s.conn.Write(s.ctx, websocket.MessageText, msgKeepAlive); err != nil {
					return
				}
			}
			sentAudio = false
		case <-s.closing:
			for {
				select {
				case chunk := <-s.audio:
					if err := s.conn.Write(s.ctx, websocket.MessageBinary, chunk); err != nil {
						return
					}
				default:
					_ = s.conn.Write(s.ctx, websocket.MessageText, msgCloseStream)
					return
				}
			}
		}
	}
}

func (s *session) read() {
	defer close(s.readerDone)
	defer close(s.partials)
	defer close(s.finals)

	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			if s.ctx.Err() == nil && websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				s.terminalErr = fmt.Errorf("deepgram: read: %w", err)
			}
			return
		}
		t, ok := parseMessage(data)
		if !ok {
			continue
		}
		out := s.partials
		if t.IsFinal {
			out = s.finals
		}
		select {
		case out <- t:
		case <-s.ctx.Done():
			return
		}
	}
}
