// Package resilience keeps recognition working while individual backends fail.
//
// A [Breaker] stops calling a backend after repeated failures and lets a few
// probe calls through once a cooldown has passed. A [FallbackGroup] puts one
// breaker in front of each of several interchangeable backends and tries them
// in order. [STTFallback] and [BatchFallback] specialise the group for the
// streaming and batch recognizers.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [Breaker.Execute] while the breaker rejects calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the operating mode of a [Breaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrCircuitOpen] until the cooldown ends.
	StateOpen

	// StateHalfOpen lets a bounded number of probe calls through. Enough
	// successful probes close the breaker; one failed probe opens it again.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes a [Breaker]. Zero fields take the defaults noted.
type BreakerConfig struct {
	// Name labels log lines, usually the backend's configured name.
	Name string

	// Threshold is the number of consecutive failures that opens the
	// breaker. Default: 5.
	Threshold int

	// Cooldown is how long an open breaker rejects calls. Default: 30s.
	Cooldown time.Duration

	// Probes is the number of calls admitted while half-open, and the number
	// of successes needed to close again. Default: 3.
	Probes int

	// Ignore marks errors that say nothing about the backend's health, such
	// as a payload rejected before upload or a cancelled caller. They are
	// returned unchanged and counted neither as failure nor as success.
	Ignore func(error) bool

	// Logger receives state transitions. Default: [slog.Default].
	Logger *slog.Logger

	// Now is the clock. Default: [time.Now].
	Now func() time.Time
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.Threshold <= 0 {
		c.Threshold = 5
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 30 * time.Second
	}
	if c.Probes <= 0 {
		c.Probes = 3
	}
	if c.Ignore == nil {
		c.Ignore = func(error) bool { return false }
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Breaker is a three-state circuit breaker.
type Breaker struct {
	cfg BreakerConfig

	mu        sync.Mutex
	state     State
	gen       uint64    // bumped on every transition
	failures  int       // consecutive failures while closed
	openedAt  time.Time // start of the current cooldown
	inFlight  int       // admitted probes not yet finished
	successes int       // successful probes in this half-open round
}

// ticket identifies the state a call was admitted under.
type ticket struct {
	gen   uint64
	probe bool
}

// NewBreaker returns a closed breaker.
func NewBreaker(cfg BreakerConfig) *Breaker {
	return &Breaker{cfg: cfg.withDefaults()}
}

// Name returns the configured label.
func (b *Breaker) Name() string { return b.cfg.Name }

// Execute runs fn unless the breaker rejects the call, in which case it
// returns [ErrCircuitOpen] without calling fn. fn's error is returned as is.
func (b *Breaker) Execute(fn func() error) error {
	t, err := b.admit()
	if err != nil {
		return err
	}
	err = fn()
	b.settle(t, err)
	return err
}

func (b *Breaker) admit() (ticket, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen {
		if b.cfg.Now().Sub(b.openedAt) < b.cfg.Cooldown {
			return ticket{}, ErrCircuitOpen
		}
		b.transition(StateHalfOpen)
	}
	if b.state == StateHalfOpen {
		if b.inFlight+b.successes >= b.cfg.Probes {
			return ticket{}, ErrCircuitOpen
		}
		b.inFlight++
		return ticket{gen: b.gen, probe: true}, nil
	}
	return ticket{gen: b.gen}, nil
}

func (b *Breaker) settle(t ticket, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if t.gen != b.gen {
		// Admitted before a transition; its outcome says nothing about now.
		return
	}
	if t.probe {
		b.inFlight--
	}
	switch {
	case err != nil && b.cfg.Ignore(err):
	case t.probe && err != nil:
		b.trip()
	case t.probe:
		b.successes++
		if b.successes >= b.cfg.Probes {
			b.transition(StateClosed)
		}
	case err != nil:
		b.failures++
		if b.failures >= b.cfg.Threshold {
			b.trip()
		}
	default:
		b.failures = 0
	}
}

func (b *Breaker) trip() {
	b.openedAt = b.cfg.Now()
	b.transition(StateOpen)
}

// transition switches state and starts a fresh set of counters.
func (b *Breaker) transition(to State) {
	from := b.state
	b.state = to
	b.gen++
	b.failures = 0
	b.inFlight = 0
	b.successes = 0
	if from == to {
		return
	}
	lvl := slog.LevelInfo
	if to == StateOpen {
		lvl = slog.LevelWarn
	}
	b.cfg.Logger.Log(context.Background(), lvl, "resilience: circuit breaker state changed",
		"name", b.cfg.Name,
		"from", from.String(),
		"to", to.String(),
	)
}

// State returns the current state. An open breaker whose cooldown has ended
// reports [StateHalfOpen]; the switch itself happens on the next call.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.cfg.Now().Sub(b.openedAt) >= b.cfg.Cooldown {
		return StateHalfOpen
	}
	return b.state
}

// Reset closes the breaker and clears its counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transition(StateClosed)
}
