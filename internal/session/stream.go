package session

import (
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/MrWong99/voxnote/pkg/audio"
	"github.com/MrWong99/voxnote/pkg/provider/stt"
	"github.com/MrWong99/voxnote/pkg/types"
)

// feedQueueSize is the number of frames buffered between the audio thread
// and the recognizer. At 1024 samples per frame this is about 16 s at 16 kHz.
const feedQueueSize = 256

// tag identifies the producer of a loop message.
type tag struct {
	session uint64
	gen     uint64
}

// recognizer wraps one streaming session handle bound to one language.
//
// Feed never blocks: frames go through a bounded queue and are dropped when
// it is full. Partial updates are cumulative (committed finals followed by the
// pending partial) and never shrink in word count. Done is closed exactly once,
// after which Result reports the terminal candidate or error.
type recognizer struct {
	tag      tag
	language string
	format   audio.Format
	handle   stt.SessionHandle
	onUpdate func(tag, string)
	onEnd    func(tag)
	log      *slog.Logger

	mu        sync.Mutex
	finished  bool
	cancelled bool
	queue     chan []byte
	dropped   atomic.Int64
	closeOnce sync.Once

	// Recognition state, written by recvLoop.
	stateMu   sync.Mutex
	finals    []string
	confs     []float64
	partial   string
	lastWords int

	done   chan struct{}
	result types.Candidate
	err    error
}

func newRecognizer(t tag, language string, format audio.Format, h stt.SessionHandle, onUpdate func(tag, string), onEnd func(tag), log *slog.Logger) *recognizer {
	return &recognizer{
		tag:      t,
		language: language,
		format:   format,
		handle:   h,
		onUpdate: onUpdate,
		onEnd:    onEnd,
		log:      log,
		queue:    make(chan []byte, feedQueueSize),
		done:     make(chan struct{}),
	}
}

// start launches the send and receive loops. backlog is sent before any
// frame passed to Feed.
func (r *recognizer) start(backlog []byte) {
	if len(backlog) > 0 {
		backlog = append([]byte(nil), backlog...)
	}
	go r.sendLoop(backlog)
	go r.recvLoop()
}

// Feed queues pcm for recognition without blocking.
func (r *recognizer) Feed(pcm []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finished {
		return
	}
	select {
	case r.queue <- append([]byte(nil), pcm...):
	default:
		r.dropped.Add(1)
	}
}

// Dropped returns the number of frames Feed discarded.
func (r *recognizer) Dropped() int64 { return r.dropped.Load() }

// Finish stops accepting audio. Queued frames are still sent, then the
// handle is closed so the backend flushes its final result.
func (r *recognizer) Finish() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.finished {
		r.finished = true
		close(r.queue)
	}
}

// Cancel discards the recognizer: no further updates are reported and the
// handle is closed without waiting for its result.
func (r *recognizer) Cancel() {
	r.mu.Lock()
	r.cancelled = true
	if !r.finished {
		r.finished = true
		close(r.queue)
	}
	r.mu.Unlock()
	go r.closeHandle()
}

func (r *recognizer) isCancelled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancelled
}

func (r *recognizer) closeHandle() {
	r.closeOnce.Do(func() {
		if err := r.handle.Close(); err != nil {
			r.log.Debug("session: close streaming handle", "err", err)
		}
	})
}

// Done is closed once the recognizer has produced its terminal result.
func (r *recognizer) Done() <-chan struct{} { return r.done }

// Result returns the terminal candidate or error. Only valid after Done.
func (r *recognizer) Result() (types.Candidate, error) {
	<-r.done
	return r.result, r.err
}

// Snapshot returns the current cumulative transcript as a non-final candidate.
func (r *recognizer) Snapshot() types.Candidate {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()
	c := r.candidateLocked(r.cumulativeLocked())
	c.IsFinal = false
	return c
}

func (r *recognizer) sendLoop(backlog []byte) {
	chunk := r.format.SampleRate * r.format.Channels * 2 // one second
	if chunk <= 0 {
		chunk = len(backlog)
	}
	failed := false
	send := func(pcm []byte) {
		if failed || r.isCancelled() {
			return
		}
		if err := r.handle.SendAudio(pcm); err != nil {
			failed = true
			r.log.Warn("session: streaming send failed", "language", r.language, "err", err)
		}
	}

	for len(backlog) > 0 {
		n := min(chunk, len(backlog))
		send(backlog[:n])
		backlog = backlog[n:]
	}
	for pcm := range r.queue {
		send(pcm)
	}
	if !r.isCancelled() {
		r.closeHandle()
	}
}

func (r *recognizer) recvLoop() {
	partials, finals := r.handle.Partials(), r.handle.Finals()
	for partials != nil || finals != nil {
		select {
		case t, ok := <-partials:
			if !ok {
				partials = nil
				continue
			}
			r.onPartial(t)
		case t, ok := <-finals:
			if !ok {
				finals = nil
				continue
			}
			r.onFinal(t)
		}
	}
	r.complete()
}

func (r *recognizer) onPartial(t stt.Transcript) {
	r.stateMu.Lock()
	r.partial = strings.TrimSpace(t.Text)
	text, ok := r.advanceLocked()
	r.stateMu.Unlock()
	if ok {
		r.update(text)
	}
}

func (r *recognizer) onFinal(t stt.Transcript) {
	r.stateMu.Lock()
	if text := strings.TrimSpace(t.Text); text != "" {
		r.finals = append(r.finals, text)
		if t.ConfidenceReported {
			r.confs = append(r.confs, t.Confidence)
		}
	}
	r.partial = ""
	text, ok := r.advanceLocked()
	r.stateMu.Unlock()
	if ok {
		r.update(text)
	}
}

// advanceLocked returns the cumulative text and whether it may be published:
// it must not have fewer words than the last published update.
func (r *recognizer) advanceLocked() (string, bool) {
	text := r.cumulativeLocked()
	words := len(strings.Fields(text))
	if words == 0 || words < r.lastWords {
		return "", false
	}
	r.lastWords = words
	return text, true
}

func (r *recognizer) cumulativeLocked() string {
	parts := make([]string, 0, len(r.finals)+1)
	parts = append(parts, r.finals...)
	if r.partial != "" {
		parts = append(parts, r.partial)
	}
	return strings.Join(parts, " ")
}

// candidateLocked scores text: the mean of the reported final confidences,
// or the unreported 1.0 default.
func (r *recognizer) candidateLocked(text string) types.Candidate {
	c := types.Candidate{Text: text, Confidence: 1.0, IsFinal: true, Language: r.language}
	if len(r.confs) > 0 {
		var sum float64
		for _, v := range r.confs {
			sum += v
		}
		c.Confidence = sum / float64(len(r.confs))
		c.ConfidenceReported = true
	}
	return c
}

func (r *recognizer) complete() {
	r.stateMu.Lock()
	text := strings.Join(r.finals, " ")
	if text == "" {
		text = r.partial
	}
	r.result = r.candidateLocked(text)
	r.stateMu.Unlock()

	if err := r.handle.Err(); err != nil && text == "" {
		r.err = err
	} else if err != nil {
		r.log.Warn("session: streaming ended with error; keeping recognized text", "language", r.language, "err", err)
	}
	close(r.done)

	if !r.isCancelled() && r.onEnd != nil {
		r.onEnd(r.tag)
	}
}

func (r *recognizer) update(text string) {
	if r.isCancelled() || r.onUpdate == nil {
		return
	}
	r.onUpdate(r.tag, text)
}
