package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type pingStore struct{ err error }

func (p pingStore) Ping(context.Context) error { return p.err }

func ok(context.Context) error { return nil }

func probe(t *testing.T, h *Handler, path string) (int, report) {
	t.Helper()
	mux := http.NewServeMux()
	h.Register(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	var rep report
	if err := json.NewDecoder(rec.Body).Decode(&rep); err != nil {
		t.Fatalf("decode %s: %v", path, err)
	}
	return rec.Code, rep
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	h := New(Func("streaming", func(context.Context) error { return errors.New("down") }))
	code, rep := probe(t, h, "/healthz")
	if code != http.StatusOK || rep.Status != "ok" {
		t.Errorf("healthz = %d %q, want 200 ok regardless of checks", code, rep.Status)
	}
	if len(rep.Checks) != 0 {
		t.Errorf("healthz ran checks: %v", rep.Checks)
	}
}

func TestReadyz(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		checkers []Checker
		wantCode int
		wantFail []string
	}{
		{
			name:     "no checkers",
			wantCode: http.StatusOK,
		},
		{
			name:     "all pass",
			checkers: []Checker{PingChecker("result_log", pingStore{}), Func("streaming", ok)},
			wantCode: http.StatusOK,
		},
		{
			name: "one fails",
			checkers: []Checker{
				PingChecker("result_log", pingStore{err: errors.New("database is locked")}),
				Func("streaming", ok),
			},
			wantCode: http.StatusServiceUnavailable,
			wantFail: []string{"result_log"},
		},
		{
			name: "all fail",
			checkers: []Checker{
				PingChecker("result_log", pingStore{err: errors.New("closed")}),
				Func("batch", func(context.Context) error { return errors.New("every backend circuit is open") }),
			},
			wantCode: http.StatusServiceUnavailable,
			wantFail: []string{"result_log", "batch"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			code, rep := probe(t, New(tt.checkers...), "/readyz")
			if code != tt.wantCode {
				t.Errorf("code = %d, want %d", code, tt.wantCode)
			}
			if len(rep.Checks) != len(tt.checkers) {
				t.Errorf("checks = %v, want %d entries", rep.Checks, len(tt.checkers))
			}
			for _, name := range tt.wantFail {
				c := rep.Checks[name]
				if c.Status != "fail" || c.Error == "" {
					t.Errorf("check %s = %+v, want a failure with error", name, c)
				}
			}
			if (len(tt.wantFail) > 0) != (rep.Status == "fail") {
				t.Errorf("status = %q", rep.Status)
			}
		})
	}
}

func TestReadyz_ChecksRunConcurrently(t *testing.T) {
	t.Parallel()
	started := make(chan struct{}, 2)
	both := make(chan struct{})
	waitForPeer := func(ctx context.Context) error {
		started <- struct{}{}
		select {
		case <-both:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	go func() {
		<-started
		<-started
		close(both)
	}()

	code, rep := probe(t, New(Func("a", waitForPeer), Func("b", waitForPeer)).WithTimeout(2*time.Second), "/readyz")
	if code != http.StatusOK {
		t.Errorf("code = %d, checks = %v; sequential checks would have timed out", code, rep.Checks)
	}
}

func TestReadyz_Timeout(t *testing.T) {
	t.Parallel()
	slow := Func("audio", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	code, rep := probe(t, New(slow).WithTimeout(20*time.Millisecond), "/readyz")
	if code != http.StatusServiceUnavailable {
		t.Fatalf("code = %d, want 503", code)
	}
	if got := rep.Checks["audio"].Error; got != context.DeadlineExceeded.Error() {
		t.Errorf("error = %q, want deadline exceeded", got)
	}
}

func TestWithTimeout_IgnoresNonPositive(t *testing.T) {
	t.Parallel()
	if h := New().WithTimeout(0); h.timeout != DefaultTimeout {
		t.Errorf("timeout = %s, want %s", h.timeout, DefaultTimeout)
	}
}
