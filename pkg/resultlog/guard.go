package resultlog

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// Guard wraps a [Store] and makes writes and reads non-fatal. If the
// underlying store fails, Append and Recent log a warning and report success
// with an empty result; the guard is marked degraded until the next
// successful call.
//
// Ping and Close are passed through unchanged so readiness probes still see
// the real backend state.
//
// All methods are safe for concurrent use.
type Guard struct {
	store    Store
	log      *slog.Logger
	degraded atomic.Bool
}

// NewGuard creates a Guard around store. A nil log uses [slog.Default].
func NewGuard(store Store, log *slog.Logger) *Guard {
	if log == nil {
		log = slog.Default()
	}
	return &Guard{store: store, log: log}
}

// Append implements [Store]. Validation errors are still returned; storage
// errors are swallowed.
func (g *Guard) Append(ctx context.Context, r Record) error {
	if err := r.Validate(); err != nil {
		return err
	}
	if err := g.store.Append(ctx, r); err != nil {
		g.degraded.Store(true)
		g.log.Warn("result log: append failed, transcript not persisted",
			"id", r.ID,
			"session_id", r.SessionID,
			"err", err,
		)
		return nil
	}
	g.degraded.Store(false)
	return nil
}

// Recent implements [Store]. On failure it returns an empty slice.
func (g *Guard) Recent(ctx context.Context, limit int) ([]Record, error) {
	records, err := g.store.Recent(ctx, limit)
	if err != nil {
		g.degraded.Store(true)
		g.log.Warn("result log: recent failed, returning empty", "limit", limit, "err", err)
		return []Record{}, nil
	}
	g.degraded.Store(false)
	return records, nil
}

// Ping implements [Store].
func (g *Guard) Ping(ctx context.Context) error { return g.store.Ping(ctx) }

// Close implements [Store].
func (g *Guard) Close() error { return g.store.Close() }

// IsDegraded reports whether the most recent Append or Recent failed.
func (g *Guard) IsDegraded() bool { return g.degraded.Load() }

var _ Store = (*Guard)(nil)
