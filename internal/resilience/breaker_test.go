package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

var errBackend = errors.New("backend unavailable")

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestBreaker(clk *fakeClock, threshold, probes int) *Breaker {
	return NewBreaker(BreakerConfig{
		Name:      "deepgram",
		Threshold: threshold,
		Cooldown:  10 * time.Second,
		Probes:    probes,
		Now:       clk.Now,
	})
}

func fail() error    { return errBackend }
func succeed() error { return nil }

func TestBreaker_Defaults(t *testing.T) {
	t.Parallel()
	b := NewBreaker(BreakerConfig{Name: "openai"})
	if b.cfg.Threshold != 5 || b.cfg.Cooldown != 30*time.Second || b.cfg.Probes != 3 {
		t.Errorf("defaults = %d / %s / %d", b.cfg.Threshold, b.cfg.Cooldown, b.cfg.Probes)
	}
	if b.State() != StateClosed || b.Name() != "openai" {
		t.Errorf("State = %s, Name = %q", b.State(), b.Name())
	}
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()
	b := newTestBreaker(newFakeClock(), 3, 1)

	for i := range 3 {
		if err := b.Execute(fail); !errors.Is(err, errBackend) {
			t.Fatalf("call %d: err = %v", i, err)
		}
	}
	if b.State() != StateOpen {
		t.Fatalf("State = %s, want open", b.State())
	}

	called := false
	err := b.Execute(func() error { called = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) || called {
		t.Errorf("open breaker: err = %v, called = %v", err, called)
	}
}

func TestBreaker_SuccessClearsFailureStreak(t *testing.T) {
	t.Parallel()
	b := newTestBreaker(newFakeClock(), 3, 1)

	_ = b.Execute(fail)
	_ = b.Execute(fail)
	_ = b.Execute(succeed)
	_ = b.Execute(fail)
	_ = b.Execute(fail)
	if b.State() != StateClosed {
		t.Errorf("State = %s, want closed (streak was broken)", b.State())
	}
}

func TestBreaker_ProbesCloseAfterCooldown(t *testing.T) {
	t.Parallel()
	clk := newFakeClock()
	b := newTestBreaker(clk, 1, 2)

	_ = b.Execute(fail)
	clk.Advance(9 * time.Second)
	if b.State() != StateOpen {
		t.Fatalf("State before cooldown = %s, want open", b.State())
	}
	clk.Advance(time.Second)
	if b.State() != StateHalfOpen {
		t.Fatalf("State after cooldown = %s, want half-open", b.State())
	}

	if err := b.Execute(succeed); err != nil {
		t.Fatalf("first probe: %v", err)
	}
	if b.State() != StateHalfOpen {
		t.Fatalf("State after one probe = %s, want half-open", b.State())
	}
	if err := b.Execute(succeed); err != nil {
		t.Fatalf("second probe: %v", err)
	}
	if b.State() != StateClosed {
		t.Errorf("State = %s, want closed", b.State())
	}
}

func TestBreaker_FailedProbeReopens(t *testing.T) {
	t.Parallel()
	clk := newFakeClock()
	b := newTestBreaker(clk, 1, 3)

	_ = b.Execute(fail)
	clk.Advance(10 * time.Second)
	_ = b.Execute(succeed)
	_ = b.Execute(fail)

	if b.State() != StateOpen {
		t.Fatalf("State = %s, want open", b.State())
	}
	// The cooldown restarts from the failed probe.
	clk.Advance(5 * time.Second)
	if err := b.Execute(succeed); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("err = %v, want ErrCircuitOpen", err)
	}
}

func TestBreaker_ProbeBudget(t *testing.T) {
	t.Parallel()
	clk := newFakeClock()
	b := newTestBreaker(clk, 1, 1)

	_ = b.Execute(fail)
	clk.Advance(10 * time.Second)

	release := make(chan struct{})
	admitted := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- b.Execute(func() error {
			close(admitted)
			<-release
			return nil
		})
	}()
	<-admitted

	if err := b.Execute(succeed); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("second concurrent probe: err = %v, want ErrCircuitOpen", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("probe: %v", err)
	}
	if b.State() != StateClosed {
		t.Errorf("State = %s, want closed", b.State())
	}
}

func TestBreaker_IgnoredErrors(t *testing.T) {
	t.Parallel()
	errTooLarge := errors.New("too large")
	clk := newFakeClock()
	b := NewBreaker(BreakerConfig{
		Threshold: 1,
		Cooldown:  time.Second,
		Probes:    1,
		Now:       clk.Now,
		Ignore: func(err error) bool {
			return errors.Is(err, errTooLarge) || errors.Is(err, context.Canceled)
		},
	})

	for range 3 {
		err := b.Execute(func() error { return fmt.Errorf("upload: %w", errTooLarge) })
		if !errors.Is(err, errTooLarge) {
			t.Fatalf("err = %v, want the ignored error back", err)
		}
	}
	if b.State() != StateClosed {
		t.Fatalf("State = %s, want closed", b.State())
	}

	// An ignored error during half-open gives the probe slot back.
	_ = b.Execute(fail)
	clk.Advance(time.Second)
	_ = b.Execute(func() error { return context.Canceled })
	if err := b.Execute(succeed); err != nil {
		t.Fatalf("probe after ignored error: %v", err)
	}
	if b.State() != StateClosed {
		t.Errorf("State = %s, want closed", b.State())
	}
}

func TestBreaker_StaleOutcomeIgnored(t *testing.T) {
	t.Parallel()
	clk := newFakeClock()
	b := newTestBreaker(clk, 1, 1)

	release := make(chan struct{})
	admitted := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- b.Execute(func() error {
			close(admitted)
			<-release
			return nil
		})
	}()
	<-admitted

	// Trip while the slow call is in flight; its late success must not
	// count as a probe.
	_ = b.Execute(fail)
	close(release)
	<-done
	if b.State() != StateOpen {
		t.Errorf("State = %s, want open", b.State())
	}
}

func TestBreaker_Reset(t *testing.T) {
	t.Parallel()
	b := newTestBreaker(newFakeClock(), 1, 1)
	_ = b.Execute(fail)
	b.Reset()
	if b.State() != StateClosed {
		t.Fatalf("State = %s, want closed", b.State())
	}
	if err := b.Execute(succeed); err != nil {
		t.Errorf("after Reset: %v", err)
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()
	for s, want := range map[State]string{
		StateClosed:   "closed",
		StateOpen:     "open",
		StateHalfOpen: "half-open",
		State(42):     "unknown",
	} {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", int(s), got, want)
		}
	}
}
