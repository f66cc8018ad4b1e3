package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrAllFailed is returned when no entry of a [FallbackGroup] produced a
// result. The last attempted entry's error is wrapped too, so callers can
// still match the backend's own error kinds.
var ErrAllFailed = errors.New("all providers failed")

// FallbackConfig configures the breaker created for every entry of a
// [FallbackGroup]. Breaker.Name is replaced by the entry's name.
type FallbackConfig struct {
	Breaker BreakerConfig
}

type member[T any] struct {
	name    string
	value   T
	breaker *Breaker
}

// FallbackGroup holds interchangeable backends in preference order, each
// behind its own [Breaker].
type FallbackGroup[T any] struct {
	cfg FallbackConfig

	mu      sync.RWMutex
	members []member[T]
}

// NewFallbackGroup creates a group whose first choice is primary.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	g := &FallbackGroup[T]{cfg: cfg}
	g.AddFallback(primaryName, primary)
	return g
}

// AddFallback appends a backend tried after all earlier ones.
func (g *FallbackGroup[T]) AddFallback(name string, value T) {
	bc := g.cfg.Breaker
	bc.Name = name
	g.mu.Lock()
	defer g.mu.Unlock()
	g.members = append(g.members, member[T]{name: name, value: value, breaker: NewBreaker(bc)})
}

// Names returns the backend names in preference order.
func (g *FallbackGroup[T]) Names() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	names := make([]string, len(g.members))
	for i, m := range g.members {
		names[i] = m.name
	}
	return names
}

// State returns the breaker state of the named backend, or false if the
// group has no such member.
func (g *FallbackGroup[T]) State(name string) (State, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, m := range g.members {
		if m.name == name {
			return m.breaker.State(), true
		}
	}
	return 0, false
}

// Execute calls fn on each backend in order until one succeeds.
func (g *FallbackGroup[T]) Execute(fn func(T) error) error {
	_, err := ExecuteWithResult(g, func(v T) (struct{}, error) {
		return struct{}{}, fn(v)
	})
	return err
}

// ExecuteWithResult calls fn on each backend in order and returns the first
// successful result. Backends with an open breaker are skipped. A
// cancellation stops the walk.
func ExecuteWithResult[T, R any](g *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	g.mu.RLock()
	members := g.members
	g.mu.RUnlock()

	var (
		zero    R
		lastErr error
	)
	for _, m := range members {
		var res R
		err := m.breaker.Execute(func() error {
			var err error
			res, err = fn(m.value)
			return err
		})
		if err == nil {
			return res, nil
		}
		lastErr = err

		switch {
		case errors.Is(err, ErrCircuitOpen):
			slog.Debug("resilience: skipping provider with open circuit", "provider", m.name)
		case errors.Is(err, context.Canceled):
			return zero, fmt.Errorf("%w: %w", ErrAllFailed, err)
		default:
			slog.Warn("resilience: provider failed, trying next", "provider", m.name, "err", err)
		}
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}
