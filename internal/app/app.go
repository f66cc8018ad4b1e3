// Package app wires the voxnote subsystems into a running application.
//
// The App struct owns the full lifecycle: New opens the result log, builds the
// language identifier and the capture session manager, Run serves the HTTP
// control API and drains session events, and Shutdown tears everything down
// in order.
//
// For testing, inject doubles via functional options (WithResultStore,
// WithIdentifier, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/MrWong99/voxnote/internal/config"
	"github.com/MrWong99/voxnote/internal/observe"
	"github.com/MrWong99/voxnote/internal/session"
	"github.com/MrWong99/voxnote/pkg/langid"
	"github.com/MrWong99/voxnote/pkg/resultlog"
	"github.com/MrWong99/voxnote/pkg/resultlog/postgres"
	"github.com/MrWong99/voxnote/pkg/resultlog/sqlite"
)

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers

	settings   session.SettingsProvider
	identifier session.LanguageIdentifier
	store      resultlog.Store
	results    *resultlog.Guard
	manager    *session.Manager
	metrics    *observe.Metrics
	log        *slog.Logger
	now        func() time.Time
	handler    http.Handler

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithResultStore injects a result log instead of opening the configured one.
func WithResultStore(s resultlog.Store) Option {
	return func(a *App) { a.store = s }
}

// WithSettings injects the session settings source. The default translates
// the config passed to New once per session start.
func WithSettings(s session.SettingsProvider) Option {
	return func(a *App) { a.settings = s }
}

// WithIdentifier injects a language identifier instead of building one over
// recognition.languages.
func WithIdentifier(id session.LanguageIdentifier) Option {
	return func(a *App) { a.identifier = id }
}

// WithMetrics sets the metrics instance. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.log = l }
}

// withClock overrides the record timestamp source.
func withClock(now func() time.Time) Option {
	return func(a *App) { a.now = now }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App from cfg and the providers built by [BuildProviders].
// providers.Device is required.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.Device == nil {
		return nil, errors.New("app: an audio device is required")
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
		now:       time.Now,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.log == nil {
		a.log = slog.Default()
	}
	if a.settings == nil {
		a.settings = ConfigSettings{Current: func() *config.Config { return cfg }}
	}

	// ── 1. Result log ────────────────────────────────────────────────────
	if err := a.initResultLog(ctx); err != nil {
		return nil, fmt.Errorf("app: init result log: %w", err)
	}

	// ── 2. Language identification ───────────────────────────────────────
	if a.identifier == nil {
		id, err := langid.New(cfg.Recognition.Languages...)
		if err != nil {
			a.closeAll()
			return nil, fmt.Errorf("app: init language identifier: %w", err)
		}
		a.identifier = id
	}

	// ── 3. Session manager ───────────────────────────────────────────────
	sink := &resultSink{log: a.log, now: a.now}
	if a.results != nil {
		sink.store = a.results
	}
	mgr, err := session.New(session.Config{
		Device:     providers.Device,
		Streaming:  providers.Streaming,
		Batch:      providers.Batch,
		Identifier: a.identifier,
		Settings:   a.settings,
		Sink:       sink,
		Notifier:   a,
		Metrics:    a.metrics,
		Logger:     a.log,
	})
	if err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init session manager: %w", err)
	}
	a.manager = mgr
	a.closers = append([]func() error{mgr.Close}, a.closers...)

	// ── 4. HTTP surface ──────────────────────────────────────────────────
	a.handler = a.routes()

	return a, nil
}

// initResultLog opens the configured store unless one was injected, and
// guards it so storage failures never fail a session.
func (a *App) initResultLog(ctx context.Context) error {
	if a.store == nil {
		rl := a.cfg.ResultLog
		switch rl.Driver {
		case config.ResultLogSQLite:
			s, err := sqlite.Open(ctx, rl.DSN)
			if err != nil {
				return err
			}
			a.store = s
		case config.ResultLogPostgres:
			s, err := postgres.NewStore(ctx, rl.DSN)
			if err != nil {
				return err
			}
			a.store = s
		default:
			a.log.Info("result log disabled; transcripts are only logged")
			return nil
		}
		a.log.Info("result log opened", "driver", rl.Driver)
	}
	a.results = resultlog.NewGuard(a.store, a.log)
	a.closers = append(a.closers, a.store.Close)
	return nil
}

// Manager returns the capture session manager.
func (a *App) Manager() *session.Manager { return a.manager }

// Handler returns the HTTP control API, including health and metrics routes.
func (a *App) Handler() http.Handler { return a.handler }

// NotifyLanguageMismatch implements [session.MismatchNotifier]. The event
// stream carries the same information to API clients.
func (a *App) NotifyLanguageMismatch(detected, current string, confidence float64) {
	a.log.Info("different language detected; switch manually to re-recognize",
		"detected", detected,
		"current", current,
		"confidence", confidence,
	)
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves the HTTP API on server.listen_addr and logs session events
// until ctx is cancelled. It then returns ctx.Err(). An empty listen address
// disables the HTTP server.
func (a *App) Run(ctx context.Context) error {
	var (
		srv     *http.Server
		wg      sync.WaitGroup
		srvErrs = make(chan error, 1)
	)
	if addr := a.cfg.Server.ListenAddr; addr != "" {
		srv = &http.Server{
			Addr:              addr,
			Handler:           a.handler,
			ReadHeaderTimeout: 5 * time.Second,
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				srvErrs <- err
			}
		}()
		a.log.Info("http api listening", "addr", addr)
	}

	runErr := a.drainEvents(ctx, srvErrs)

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.log.Warn("http shutdown error", "err", err)
		}
		cancel()
	}
	wg.Wait()
	return runErr
}

// drainEvents logs session events until ctx is done or the HTTP server fails.
func (a *App) drainEvents(ctx context.Context, srvErrs <-chan error) error {
	events := a.manager.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-srvErrs:
			return fmt.Errorf("app: http server: %w", err)
		case ev := <-events:
			a.logEvent(ev)
		}
	}
}

func (a *App) logEvent(ev session.Event) {
	switch ev.Type {
	case session.EventPartial:
		a.log.Debug("live transcript", "session_id", ev.SessionID, "text", ev.Text)
	case session.EventState:
		a.log.Info("session state", "session_id", ev.SessionID, "state", ev.State, "language", ev.Language)
	case session.EventLanguageSwitched:
		a.log.Info("recognition language switched",
			"session_id", ev.SessionID, "from", ev.Previous, "to", ev.Language, "confidence", ev.Confidence)
	case session.EventLanguageMismatch:
		a.log.Debug("language mismatch event", "session_id", ev.SessionID, "detected", ev.Language)
	case session.EventError:
		a.log.Warn("session error absorbed", "session_id", ev.SessionID, "err", ev.Text)
	case session.EventReconciled:
		// Logged by the result sink.
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown abandons any running session and closes the result log. It
// respects the context deadline: if ctx expires before all closers finish,
// remaining closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.log.Info("shutting down", "closers", len(a.closers))

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				a.log.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				a.log.Warn("closer error", "index", i, "err", err)
			}
		}

		a.log.Info("shutdown complete")
	})
	return shutdownErr
}

// closeAll runs the closers registered so far after a failed New.
func (a *App) closeAll() {
	for _, c := range a.closers {
		_ = c()
	}
}
