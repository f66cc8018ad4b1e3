package resultlog_test

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/voxnote/pkg/resultlog"
	"github.com/MrWong99/voxnote/pkg/resultlog/mock"
)

func TestGuard_Append(t *testing.T) {
	t.Run("successful append", func(t *testing.T) {
		store := &mock.Store{}
		g := resultlog.NewGuard(store, nil)

		if err := g.Append(context.Background(), resultlog.Record{ID: "01A", Text: "hello"}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if g.IsDegraded() {
			t.Error("should not be degraded after successful append")
		}
		if got := len(store.Snapshot()); got != 1 {
			t.Errorf("stored %d records, want 1", got)
		}
	})

	t.Run("append failure is swallowed", func(t *testing.T) {
		store := &mock.Store{AppendErr: errors.New("disk full")}
		g := resultlog.NewGuard(store, nil)

		if err := g.Append(context.Background(), resultlog.Record{ID: "01A"}); err != nil {
			t.Fatalf("expected nil error (swallowed), got %v", err)
		}
		if !g.IsDegraded() {
			t.Error("should be degraded after failed append")
		}
	})

	t.Run("recovers after successful append", func(t *testing.T) {
		store := &mock.Store{AppendErr: errors.New("temporary failure")}
		g := resultlog.NewGuard(store, nil)

		_ = g.Append(context.Background(), resultlog.Record{ID: "01A"})
		if !g.IsDegraded() {
			t.Fatal("should be degraded")
		}
		store.SetAppendErr(nil)
		_ = g.Append(context.Background(), resultlog.Record{ID: "01B"})
		if g.IsDegraded() {
			t.Error("should have recovered")
		}
	})

	t.Run("invalid record is rejected", func(t *testing.T) {
		store := &mock.Store{}
		g := resultlog.NewGuard(store, nil)

		err := g.Append(context.Background(), resultlog.Record{Text: "no id"})
		if !errors.Is(err, resultlog.ErrEmptyID) {
			t.Fatalf("Append = %v, want ErrEmptyID", err)
		}
		if store.CallCount("Append") != 0 {
			t.Error("invalid record reached the store")
		}
	})
}

func TestGuard_Recent(t *testing.T) {
	t.Run("failure returns empty", func(t *testing.T) {
		store := &mock.Store{RecentErr: errors.New("connection refused")}
		g := resultlog.NewGuard(store, nil)

		got, err := g.Recent(context.Background(), 10)
		if err != nil {
			t.Fatalf("expected nil error, got %v", err)
		}
		if got == nil || len(got) != 0 {
			t.Errorf("Recent = %v, want empty non-nil slice", got)
		}
		if !g.IsDegraded() {
			t.Error("should be degraded")
		}
	})

	t.Run("ping passes errors through", func(t *testing.T) {
		store := &mock.Store{PingErr: errors.New("down")}
		g := resultlog.NewGuard(store, nil)
		if err := g.Ping(context.Background()); err == nil {
			t.Error("Ping swallowed the backend error")
		}
	})
}

func TestClampLimit(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{0, resultlog.DefaultRecentLimit},
		{-3, resultlog.DefaultRecentLimit},
		{7, 7},
		{resultlog.MaxRecentLimit + 1, resultlog.MaxRecentLimit},
	}
	for _, tt := range tests {
		if got := resultlog.ClampLimit(tt.in); got != tt.want {
			t.Errorf("ClampLimit(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
