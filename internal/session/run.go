package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxnote/internal/observe"
	"github.com/MrWong99/voxnote/pkg/arbitrate"
	"github.com/MrWong99/voxnote/pkg/audio"
	"github.com/MrWong99/voxnote/pkg/langid"
	"github.com/MrWong99/voxnote/pkg/provider/batch"
	"github.com/MrWong99/voxnote/pkg/provider/stt"
	"github.com/MrWong99/voxnote/pkg/types"
)

// errStreamTimeout is recorded when the streaming final does not arrive in time.
var errStreamTimeout = errors.New("session: streaming final timed out")

// ---- loop messages ----

type partialMsg struct {
	tag  tag
	text string
}

type streamEndMsg struct {
	tag tag
}

type finalizedMsg struct {
	outcome Outcome
}

// run is one capture session. Fields below "loop-owned" are only touched by
// the loop goroutine (and by begin, before the loop starts).
type run struct {
	m        *Manager
	id       uint64
	settings Settings
	format   audio.Format
	log      *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	capture *audio.Capture
	feed    atomic.Pointer[recognizer]

	inbox   chan any
	devErr  chan error
	stopReq chan struct{}
	done    chan struct{}

	finished   chan struct{}
	finishOnce sync.Once
	outcome    Outcome
	err        error

	// deliverMu serialises result delivery against abandonment.
	deliverMu sync.Mutex

	mu        sync.Mutex
	state     State
	live      string
	abandoned bool

	// loop-owned
	language    string
	gen         uint64
	stream      *recognizer
	left        map[string]bool
	unavailable map[string]bool
	notified    map[string]bool
	switches    int
	liveWords   int
	errs        []string
}

func newRun(m *Manager, id uint64, language string, s Settings) *run {
	return &run{
		m:           m,
		id:          id,
		settings:    s,
		format:      audio.Format{SampleRate: s.SampleRate, Channels: s.Channels},
		log:         m.log.With("session_id", id),
		inbox:       make(chan any, 32),
		devErr:      make(chan error, 1),
		stopReq:     make(chan struct{}, 1),
		done:        make(chan struct{}),
		finished:    make(chan struct{}),
		state:       StateCapturing,
		language:    language,
		left:        make(map[string]bool),
		unavailable: make(map[string]bool),
		notified:    make(map[string]bool),
	}
}

// begin starts the streaming recognizer and the audio capture. On a device
// failure everything started so far is torn down.
func (r *run) begin(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(context.WithoutCancel(ctx))
	r.capture = audio.NewCapture(r.m.cfg.Device,
		audio.WithFormat(r.format),
		audio.WithFramesPerBuffer(r.settings.FramesPerBuffer),
		audio.WithMaxRecording(r.settings.MaxRecording),
		audio.WithErrorHandler(r.onDeviceError),
	)

	rec, err := r.newRecognizer(r.language)
	switch {
	case errors.Is(err, stt.ErrLanguageUnsupported):
		r.log.Info("session: no streaming recognizer for language, running batch-only", "language", r.language)
	case err != nil:
		r.log.Warn("session: streaming recognizer failed to start, running batch-only", "language", r.language, "err", err)
		r.errs = append(r.errs, err.Error())
		r.m.metrics.RecordProviderError(r.ctx, "streaming", "start")
	case rec != nil:
		rec.start(nil)
		r.feed.Store(rec)
		r.stream = rec
	}

	if err := r.capture.Start(r.ctx, r.sink); err != nil {
		if r.stream != nil {
			r.stream.Cancel()
		}
		r.cancel()
		return &DeviceError{Err: err}
	}
	r.log.Info("session: capturing", "language", r.language, "streaming", r.stream != nil)
	return nil
}

// sink runs on the audio thread.
func (r *run) sink(f audio.AudioFrame) {
	if rec := r.feed.Load(); rec != nil {
		rec.Feed(f.Data)
	}
}

func (r *run) onDeviceError(err error) {
	select {
	case r.devErr <- err:
	default:
	}
}

// newRecognizer opens a streaming session for language. It returns nil, nil
// when no streaming provider is configured.
func (r *run) newRecognizer(language string) (*recognizer, error) {
	if r.m.cfg.Streaming == nil {
		return nil, nil
	}
	h, err := r.m.cfg.Streaming.StartStream(r.ctx, stt.StreamConfig{
		SampleRate: r.format.SampleRate,
		Channels:   r.format.Channels,
		Language:   language,
	})
	if err != nil {
		return nil, err
	}
	r.gen++
	return newRecognizer(tag{session: r.id, gen: r.gen}, langid.Base(language), r.format, h,
		func(t tag, text string) { r.post(partialMsg{tag: t, text: text}) },
		func(t tag) { r.post(streamEndMsg{tag: t}) },
		r.log,
	), nil
}

// post delivers msg to the loop, or drops it once the loop has exited.
func (r *run) post(msg any) {
	select {
	case r.inbox <- msg:
	case <-r.done:
	}
}

func (r *run) currentTag() tag { return tag{session: r.id, gen: r.gen} }

func (r *run) requestStop() {
	select {
	case r.stopReq <- struct{}{}:
	default:
	}
}

// State returns the session state.
func (r *run) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Live returns the cumulative streaming transcript.
func (r *run) Live() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.live
}

func (r *run) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
	r.m.publish(Event{Type: EventState, SessionID: r.id, State: s})
}

func (r *run) finish(o Outcome, err error) {
	r.finishOnce.Do(func() {
		r.outcome, r.err = o, err
		close(r.finished)
	})
}

// abandon force-terminates the session. It reports false when the session
// had already been reconciled or abandoned.
func (r *run) abandon() bool {
	r.deliverMu.Lock()
	defer r.deliverMu.Unlock()

	r.mu.Lock()
	if r.abandoned || r.state == StateReconciled || r.state == StateIdle {
		r.mu.Unlock()
		return false
	}
	r.abandoned = true
	r.state = StateAbandoned
	r.mu.Unlock()

	r.capture.Stop()
	r.cancel()
	r.finish(Outcome{SessionID: r.id}, ErrAbandoned)
	return true
}

// loop owns the session state until the session is reconciled or abandoned.
func (r *run) loop() {
	defer close(r.done)
	for {
		select {
		case <-r.ctx.Done():
			if r.stream != nil {
				r.stream.Cancel()
			}
			return

		case <-r.stopReq:
			r.finalize("stop requested")

		case err := <-r.devErr:
			r.errs = append(r.errs, fmt.Sprintf("audio device: %v", err))
			r.m.publish(Event{Type: EventError, SessionID: r.id, Text: err.Error()})
			r.finalize("audio device failed")

		case msg := <-r.inbox:
			switch msg := msg.(type) {
			case partialMsg:
				r.onPartial(msg)
			case streamEndMsg:
				if msg.tag == r.currentTag() {
					r.finalize("streaming engine ended the session")
				}
			case finalizedMsg:
				r.reconcile(msg.outcome)
				return
			}
		}
	}
}

func (r *run) onPartial(msg partialMsg) {
	if msg.tag != r.currentTag() {
		return
	}
	r.mu.Lock()
	state := r.state
	// A recognizer started by a switch re-reads the recording from the
	// beginning. The previous live text stands until it catches up.
	publish := len(strings.Fields(msg.text)) >= r.liveWords
	if publish {
		r.live = msg.text
		r.liveWords = len(strings.Fields(msg.text))
	}
	r.mu.Unlock()
	if publish {
		r.m.publish(Event{Type: EventPartial, SessionID: r.id, State: state, Text: msg.text, Language: langid.Base(r.language)})
	}

	if state == StateCapturing {
		r.detectLanguage(msg.text)
	}
}

// ---- language switching ----

func (r *run) detectLanguage(text string) {
	if len(strings.Fields(text)) < r.settings.MinDetectWords {
		return
	}
	hyps := r.m.cfg.Identifier.Identify(text)
	if len(hyps) == 0 {
		return
	}
	top, ok := langid.ShouldSwitch(hyps, r.language, r.settings.LanguagePolicy.Threshold(hyps[0].Language))
	if !ok {
		return
	}
	current := langid.Base(r.language)
	detected := langid.Base(top.Language)

	if !r.settings.AutoDetectLanguage {
		if r.notified[detected] {
			return
		}
		r.notified[detected] = true
		r.m.metrics.RecordLanguageMismatch(r.ctx, detected)
		if r.m.cfg.Notifier != nil {
			r.m.cfg.Notifier.NotifyLanguageMismatch(detected, current, top.Confidence)
		}
		r.m.publish(Event{Type: EventLanguageMismatch, SessionID: r.id, State: StateCapturing,
			Language: detected, Previous: current, Confidence: top.Confidence})
		return
	}

	if r.switches >= r.settings.MaxLanguageSwitches || r.left[detected] || r.unavailable[detected] {
		return
	}
	r.switchTo(detected, top.Confidence)
}

// switchTo replaces the streaming recognizer with one bound to language and
// replays the recording so far into it. Frame delivery is paused while the
// feed is swapped, so the new recognizer sees every sample exactly once.
func (r *run) switchTo(language string, confidence float64) {
	if r.m.cfg.Streaming == nil {
		return
	}
	previous := langid.Base(r.language)
	rec, err := r.newRecognizer(language)
	if err != nil {
		r.unavailable[language] = true
		r.log.Warn("session: cannot switch streaming language", "from", previous, "to", language, "err", err)
		if !errors.Is(err, stt.ErrLanguageUnsupported) {
			r.errs = append(r.errs, err.Error())
		}
		return
	}

	r.capture.Hold(func(recorded []byte) {
		rec.start(recorded)
		r.feed.Store(rec)
	})
	if old := r.stream; old != nil {
		old.Cancel()
		r.recordDropped(old)
	}
	r.stream = rec
	r.left[previous] = true
	r.language = language
	r.switches++

	r.m.metrics.RecordLanguageSwitch(r.ctx, previous, language)
	r.log.Info("session: switched recognition language", "from", previous, "to", language, "confidence", confidence)
	r.m.publish(Event{Type: EventLanguageSwitched, SessionID: r.id, State: StateCapturing,
		Language: language, Previous: previous, Confidence: confidence})
}

// ---- finalisation ----

// settleInput is the loop state handed to the settle goroutine.
type settleInput struct {
	stream    *recognizer
	recording []byte
	duration  time.Duration
	language  string
	live      string
	switches  int
	errs      []string
}

// finalize ends capture and starts settling both engines. It runs at most
// once per session; later calls are no-ops.
func (r *run) finalize(reason string) {
	if r.State() != StateCapturing {
		return
	}
	r.setState(StateFinalizing)

	duration := r.capture.Stop()
	r.feed.Store(nil)
	recording := r.capture.Recording()
	r.capture.Reset()
	if r.stream != nil {
		r.stream.Finish()
	}
	r.log.Info("session: finalizing", "reason", reason, "duration", duration, "recorded_bytes", len(recording))
	r.m.metrics.CaptureDuration.Record(r.ctx, duration.Seconds())

	go r.settle(settleInput{
		stream:    r.stream,
		recording: recording,
		duration:  duration,
		language:  r.language,
		live:      r.Live(),
		switches:  r.switches,
		errs:      append([]string(nil), r.errs...),
	})
}

// settle waits for the streaming final and the batch call, arbitrates and
// posts the outcome back to the loop.
func (r *run) settle(in settleInput) {
	ctx, span := observe.StartSpan(r.ctx, "session.finalize",
		trace.WithAttributes(attribute.Int64("session.id", int64(r.id))))
	defer span.End()

	var (
		streamCand, batchCand *types.Candidate
		streamErr, batchErr   error
	)
	eg, egCtx := errgroup.WithContext(ctx)

	// ── producer 1: streaming final ─────────────────────────────────────────
	eg.Go(func() error {
		streamCand, streamErr = r.awaitStreaming(egCtx, in.stream)
		return nil
	})

	// ── producer 2: batch transcription ─────────────────────────────────────
	if r.batchEligible(in) {
		eg.Go(func() error {
			batchCand, batchErr = r.transcribeBatch(egCtx, in)
			return nil
		})
	}
	_ = eg.Wait()

	errs := in.errs
	if streamErr != nil {
		errs = append(errs, "streaming: "+streamErr.Error())
	}
	if batchErr != nil {
		errs = append(errs, batchErr.Error())
		span.SetStatus(codes.Error, batchErr.Error())
	}

	result := arbitrate.Arbitrate(streamCand, batchCand, r.settings.arbitration())
	language := langid.Base(in.language)
	outcome := Outcome{
		SessionID:          r.id,
		Result:             result,
		Language:           language,
		LanguageConfidence: r.confidenceFor(result.Text, language),
		Duration:           in.duration,
		Streaming:          streamCand,
		Batch:              batchCand,
		LanguageSwitches:   in.switches,
		Errors:             errs,
	}
	span.SetAttributes(
		attribute.String("arbitration.engine", result.Engine.String()),
		attribute.Bool("arbitration.needs_review", result.NeedsReview),
	)
	observe.WithTrace(ctx, r.log).Debug("session: reconciled",
		"engine", result.Engine.String(),
		"needs_review", result.NeedsReview,
		"compared", result.Compared,
		"errors", len(errs),
	)
	r.post(finalizedMsg{outcome: outcome})
}

func (r *run) awaitStreaming(ctx context.Context, rec *recognizer) (*types.Candidate, error) {
	if rec == nil {
		return nil, nil
	}
	defer r.recordDropped(rec)
	start := time.Now()
	timer := time.NewTimer(r.settings.StreamFinalTimeout)
	defer timer.Stop()

	var c types.Candidate
	select {
	case <-rec.Done():
		var err error
		if c, err = rec.Result(); err != nil {
			r.log.Warn("session: streaming recognizer failed", "err", err)
			r.m.metrics.RecordProviderError(ctx, "streaming", "recognize")
			return nil, err
		}
	case <-timer.C:
		c = rec.Snapshot()
		rec.Cancel()
		r.log.Warn("session: streaming final timed out, using live transcript", "timeout", r.settings.StreamFinalTimeout)
		if c.Text == "" {
			return nil, errStreamTimeout
		}
	case <-ctx.Done():
		rec.Cancel()
		return nil, ctx.Err()
	}
	r.m.metrics.StreamFinalizeDuration.Record(ctx, time.Since(start).Seconds())
	c.Language = rec.language
	c.LanguageConfidence = r.confidenceFor(c.Text, c.Language)
	return &c, nil
}

// batchEligible reports whether the batch recognizer runs for this session:
// it must be configured and there must be audio, and either dual-engine mode
// is on or there is no streaming recognizer to rely on.
func (r *run) batchEligible(in settleInput) bool {
	if r.m.cfg.Batch == nil || len(in.recording) == 0 {
		return false
	}
	return r.settings.DualEngine || in.stream == nil
}

func (r *run) transcribeBatch(ctx context.Context, in settleInput) (*types.Candidate, error) {
	hint := r.batchHint(in.live, in.language)
	ctx, span := observe.StartSpan(ctx, "batch.transcribe",
		trace.WithAttributes(attribute.String("language_hint", hint), attribute.Int("audio.bytes", len(in.recording))))
	defer span.End()

	start := time.Now()
	c, err := r.m.cfg.Batch.Transcribe(ctx, batch.Audio{
		PCM:        in.recording,
		SampleRate: r.format.SampleRate,
		Channels:   r.format.Channels,
	}, hint)
	r.m.metrics.BatchDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		kind := batch.KindOf(err).String()
		span.SetStatus(codes.Error, err.Error())
		r.m.metrics.RecordProviderRequest(ctx, "batch", "transcribe", "error")
		r.m.metrics.RecordProviderError(ctx, "batch", kind)
		r.log.Warn("session: batch transcription failed, continuing without it", "kind", kind, "err", err)
		return nil, err
	}
	r.m.metrics.RecordProviderRequest(ctx, "batch", "transcribe", "ok")

	if c.Text != "" {
		hyps := r.m.cfg.Identifier.Identify(c.Text)
		if c.Language == "" && len(hyps) > 0 {
			c.Language = hyps[0].Language
		}
		c.LanguageConfidence = langid.ConfidenceIn(hyps, c.Language)
	}
	return &c, nil
}

// batchHint picks the batch language: the language identified in the live
// transcript when it clears its threshold, else the active language.
func (r *run) batchHint(live, active string) string {
	if hyps := r.m.cfg.Identifier.Identify(live); len(hyps) > 0 {
		top := hyps[0]
		if top.Confidence > r.settings.LanguagePolicy.Threshold(top.Language) {
			return top.Language
		}
	}
	return langid.Base(active)
}

func (r *run) confidenceFor(text, language string) float64 {
	if strings.TrimSpace(text) == "" || language == "" {
		return 0
	}
	return langid.ConfidenceIn(r.m.cfg.Identifier.Identify(text), language)
}

func (r *run) recordDropped(rec *recognizer) {
	if n := rec.Dropped(); n > 0 {
		r.m.metrics.DroppedFrames.Add(context.Background(), n)
		r.log.Warn("session: streaming recognizer dropped frames", "language", rec.language, "frames", n)
	}
}

// reconcile delivers the outcome unless the session was abandoned meanwhile.
func (r *run) reconcile(o Outcome) {
	r.deliverMu.Lock()
	r.mu.Lock()
	if r.abandoned {
		r.mu.Unlock()
		r.deliverMu.Unlock()
		return
	}
	r.state = StateReconciled
	r.mu.Unlock()

	if sink := r.m.cfg.Sink; sink != nil {
		if err := sink.Deliver(r.ctx, o); err != nil {
			r.log.Error("session: deliver outcome", "err", err)
		}
	}
	r.deliverMu.Unlock()

	r.m.metrics.RecordArbitration(r.ctx, o.Result.Engine.String(), o.Result.NeedsReview)
	r.m.metrics.ActiveSessions.Add(r.ctx, -1)
	r.log.Info("session: reconciled",
		"engine", o.Result.Engine.String(),
		"confidence", o.Result.Confidence,
		"similarity", o.Result.Similarity,
		"needs_review", o.Result.NeedsReview,
		"reason", o.Result.Reason,
	)
	r.m.publish(Event{Type: EventReconciled, SessionID: r.id, State: StateReconciled, Outcome: &o, Language: o.Language})

	r.finish(o, nil)
	r.m.release(r)
	r.mu.Lock()
	r.state = StateIdle
	r.mu.Unlock()
	r.m.publish(Event{Type: EventState, SessionID: r.id, State: StateIdle})
	r.cancel()
}
