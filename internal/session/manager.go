package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/MrWong99/voxnote/internal/observe"
	"github.com/MrWong99/voxnote/pkg/audio"
	"github.com/MrWong99/voxnote/pkg/provider/batch"
	"github.com/MrWong99/voxnote/pkg/provider/stt"
)

// eventBuffer is the capacity of the [Manager.Events] channel. Events are
// dropped when the consumer falls this far behind.
const eventBuffer = 128

// Config holds the collaborators of a [Manager].
type Config struct {
	// Device is the microphone. Required.
	Device audio.Device

	// Streaming is the low-latency recognizer. Nil runs every session batch-only.
	Streaming stt.Provider

	// Batch is the whole-recording recognizer. Nil disables the batch path.
	Batch batch.Recognizer

	// Identifier scores the language of transcript text. Required.
	Identifier LanguageIdentifier

	// Settings is consulted at every Start. Defaults to [DefaultSettings].
	Settings SettingsProvider

	// Sink receives reconciled outcomes. May be nil.
	Sink ResultSink

	// Notifier is told about language mismatches when auto-detect is off. May be nil.
	Notifier MismatchNotifier

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// Logger defaults to [slog.Default].
	Logger *slog.Logger
}

// Manager runs one capture session at a time.
// All exported methods are safe for concurrent use.
type Manager struct {
	cfg     Config
	log     *slog.Logger
	metrics *observe.Metrics
	events  chan Event

	mu      sync.Mutex
	nextID  uint64
	current *run
	closed  bool
}

// New creates a Manager.
func New(cfg Config) (*Manager, error) {
	if cfg.Device == nil {
		return nil, errors.New("session: device must not be nil")
	}
	if cfg.Identifier == nil {
		return nil, errors.New("session: language identifier must not be nil")
	}
	if cfg.Settings == nil {
		cfg.Settings = StaticSettings(DefaultSettings())
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Manager{
		cfg:     cfg,
		log:     cfg.Logger,
		metrics: cfg.Metrics,
		events:  make(chan Event, eventBuffer),
	}, nil
}

// Events returns the channel on which session events are published. It is
// never closed. Events are dropped if the channel is full.
func (m *Manager) Events() <-chan Event { return m.events }

// Start begins a new session in language (BCP-47 tag or ISO 639-1 code;
// empty selects the default language) and returns its id.
//
// A session that is still capturing or finalizing is abandoned first: its
// audio device is released before the new one is opened and its result is
// discarded. If the streaming recognizer does not support language or fails
// to start, the session runs batch-only. If the audio device cannot be opened
// Start returns a [*DeviceError] and no session is active afterwards.
func (m *Manager) Start(ctx context.Context, language string) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, errors.New("session: manager closed")
	}

	if prev := m.current; prev != nil {
		m.abandonLocked(prev)
	}

	settings := m.cfg.Settings.Settings().withDefaults()
	if language == "" {
		language = settings.DefaultLanguage
	}
	m.nextID++
	r := newRun(m, m.nextID, language, settings)

	if err := r.begin(ctx); err != nil {
		return 0, err
	}
	m.current = r
	m.metrics.ActiveSessions.Add(ctx, 1)
	m.publish(Event{Type: EventState, SessionID: r.id, State: StateCapturing, Language: language})
	go r.loop()
	return r.id, nil
}

// Stop ends capture of the current session and waits until it is reconciled.
// It returns [ErrNotCapturing] when there is no session and [ErrAbandoned]
// when the session is superseded while Stop waits.
func (m *Manager) Stop(ctx context.Context) (Outcome, error) {
	m.mu.Lock()
	r := m.current
	m.mu.Unlock()
	if r == nil {
		return Outcome{}, ErrNotCapturing
	}

	r.requestStop()
	select {
	case <-r.finished:
		return r.outcome, r.err
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

// Abandon discards the current session, if any, without delivering its result.
func (m *Manager) Abandon() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != nil {
		m.abandonLocked(m.current)
	}
}

// Close abandons the current session and rejects further Starts.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	if m.current != nil {
		m.abandonLocked(m.current)
	}
	return nil
}

// State returns the state of the current session, or StateIdle.
func (m *Manager) State() State {
	m.mu.Lock()
	r := m.current
	m.mu.Unlock()
	if r == nil {
		return StateIdle
	}
	return r.State()
}

// Current returns the id and state of the current session. The id is zero
// when no session is active.
func (m *Manager) Current() (uint64, State) {
	m.mu.Lock()
	r := m.current
	m.mu.Unlock()
	if r == nil {
		return 0, StateIdle
	}
	return r.id, r.State()
}

// LiveTranscript returns the cumulative streaming transcript of the current
// session, or "" when there is none.
func (m *Manager) LiveTranscript() string {
	m.mu.Lock()
	r := m.current
	m.mu.Unlock()
	if r == nil {
		return ""
	}
	return r.Live()
}

// abandonLocked force-terminates r. m.mu must be held.
func (m *Manager) abandonLocked(r *run) {
	if !r.abandon() {
		return
	}
	m.current = nil
	m.metrics.SessionsAbandoned.Add(context.Background(), 1)
	m.metrics.ActiveSessions.Add(context.Background(), -1)
	m.log.Info("session: abandoned", "session_id", r.id)
	m.publish(Event{Type: EventState, SessionID: r.id, State: StateAbandoned})
}

// release clears r as the current session once it has been reconciled.
func (m *Manager) release(r *run) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == r {
		m.current = nil
	}
}

func (m *Manager) publish(ev Event) {
	select {
	case m.events <- ev:
	default:
		m.log.Debug("session: event dropped", "type", ev.Type.String(), "session_id", ev.SessionID)
	}
}
