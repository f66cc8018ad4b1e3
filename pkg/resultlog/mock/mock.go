// Package mock provides an in-memory test double for [resultlog.Store].
//
// Typical usage:
//
//	store := &mock.Store{}
//	store.AppendErr = errors.New("disk full")
//
//	// inject store into the system under test …
//
//	if got := store.CallCount("Append"); got != 1 {
//	    t.Errorf("expected 1 Append call, got %d", got)
//	}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voxnote/pkg/resultlog"
)

// Call records the name and arguments of a single method invocation.
type Call struct {
	Method string
	Args   []any
}

// Store keeps appended records in memory. All exported *Err fields default
// to nil (success).
type Store struct {
	mu    sync.Mutex
	calls []Call

	// Records holds every successfully appended record, oldest first.
	Records []resultlog.Record

	AppendErr error
	RecentErr error
	PingErr   error
	CloseErr  error
}

var _ resultlog.Store = (*Store)(nil)

// Append implements [resultlog.Store].
func (m *Store) Append(_ context.Context, r resultlog.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "Append", Args: []any{r}})
	if m.AppendErr != nil {
		return m.AppendErr
	}
	m.Records = append(m.Records, r)
	return nil
}

// Recent implements [resultlog.Store]. Records are returned newest first.
func (m *Store) Recent(_ context.Context, limit int) ([]resultlog.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "Recent", Args: []any{limit}})
	if m.RecentErr != nil {
		return nil, m.RecentErr
	}
	limit = resultlog.ClampLimit(limit)
	out := make([]resultlog.Record, 0, min(limit, len(m.Records)))
	for i := len(m.Records) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.Records[i])
	}
	return out, nil
}

// Ping implements [resultlog.Store].
func (m *Store) Ping(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "Ping"})
	return m.PingErr
}

// Close implements [resultlog.Store].
func (m *Store) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "Close"})
	return m.CloseErr
}

// Snapshot returns a copy of Records.
func (m *Store) Snapshot() []resultlog.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]resultlog.Record(nil), m.Records...)
}

// CallCount returns how many times the named method was invoked.
func (m *Store) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// SetAppendErr changes AppendErr under the lock.
func (m *Store) SetAppendErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.AppendErr = err
}

// SetPingErr changes PingErr under the lock.
func (m *Store) SetPingErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PingErr = err
}
