package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/voxnote/internal/config"
)

const watchedEnglish = `
server:
  log_level: info
recognition:
  default_language: en
providers:
  streaming:
    - name: deepgram
      api_key: dg-test
`

const watchedTurkishDebug = `
server:
  log_level: debug
recognition:
  default_language: tr
providers:
  streaming:
    - name: deepgram
      api_key: dg-test
`

// changeLog records onChange calls.
type changeLog struct {
	mu    sync.Mutex
	calls [][2]*config.Config
	seen  chan struct{}
}

func newChangeLog() *changeLog { return &changeLog{seen: make(chan struct{}, 8)} }

func (c *changeLog) record(old, new *config.Config) {
	c.mu.Lock()
	c.calls = append(c.calls, [2]*config.Config{old, new})
	c.mu.Unlock()
	c.seen <- struct{}{}
}

func (c *changeLog) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

// watchFile writes content and watches it with polling effectively off, so
// tests drive reloads explicitly.
func watchFile(t *testing.T, content string, onChange func(old, new *config.Config)) (*config.Watcher, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "voxnote.yaml")
	writeFile(t, path, content)
	w, err := config.NewWatcher(path, onChange, config.WithInterval(time.Hour))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	t.Cleanup(w.Stop)
	return w, path
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()
	w, _ := watchFile(t, watchedEnglish, nil)
	cfg := w.Current()
	if cfg == nil || cfg.Recognition.DefaultLanguage != "en" || cfg.Server.LogLevel != config.LogInfo {
		t.Fatalf("Current = %+v", cfg)
	}
}

func TestWatcher_InitialLoadErrors(t *testing.T) {
	t.Parallel()
	_, err := config.NewWatcher(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("missing file: err = %v, want os.ErrNotExist", err)
	}

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	writeFile(t, bad, "server:\n  log_level: bananas\n")
	if _, err := config.NewWatcher(bad, nil); err == nil {
		t.Error("invalid file: expected an error")
	}
}

func TestWatcher_ReloadInstallsNewVersion(t *testing.T) {
	t.Parallel()
	changes := newChangeLog()
	w, path := watchFile(t, watchedEnglish, changes.record)
	before := w.Current()

	writeFile(t, path, watchedTurkishDebug)
	changed, err := w.Reload()
	if err != nil || !changed {
		t.Fatalf("Reload = %v, %v; want true, nil", changed, err)
	}

	after := w.Current()
	if after.Recognition.DefaultLanguage != "tr" || after.Server.LogLevel != config.LogDebug {
		t.Errorf("Current = %+v", after.Recognition)
	}
	if changes.count() != 1 {
		t.Fatalf("onChange calls = %d, want 1", changes.count())
	}
	if got := changes.calls[0]; got[0] != before || got[1] != after {
		t.Error("onChange did not receive (previous, current)")
	}
	// The previous snapshot is left intact for sessions still holding it.
	if before.Recognition.DefaultLanguage != "en" {
		t.Errorf("old snapshot mutated: %q", before.Recognition.DefaultLanguage)
	}
}

func TestWatcher_ReloadSameContentIsNoop(t *testing.T) {
	t.Parallel()
	changes := newChangeLog()
	w, path := watchFile(t, watchedEnglish, changes.record)
	before := w.Current()

	writeFile(t, path, watchedEnglish)
	changed, err := w.Reload()
	if err != nil || changed {
		t.Errorf("Reload = %v, %v; want false, nil", changed, err)
	}
	if w.Current() != before || changes.count() != 0 {
		t.Error("identical content replaced the config")
	}
}

func TestWatcher_ReloadInvalidKeepsPrevious(t *testing.T) {
	t.Parallel()
	changes := newChangeLog()
	w, path := watchFile(t, watchedEnglish, changes.record)
	before := w.Current()

	writeFile(t, path, "recognition:\n  stream_final_timeout: soon\n")
	changed, err := w.Reload()
	if err == nil || changed {
		t.Errorf("Reload = %v, %v; want false and a parse error", changed, err)
	}
	if w.Current() != before || changes.count() != 0 {
		t.Error("invalid content replaced the config")
	}

	// A later fix is picked up.
	writeFile(t, path, watchedTurkishDebug)
	if changed, err := w.Reload(); err != nil || !changed {
		t.Errorf("Reload after fix = %v, %v", changed, err)
	}
}

func TestWatcher_PollsForChanges(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "voxnote.yaml")
	writeFile(t, path, watchedEnglish)

	changes := newChangeLog()
	w, err := config.NewWatcher(path, changes.record, config.WithInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	writeFile(t, path, watchedTurkishDebug)
	// Some filesystems keep a coarse mtime; make sure it moves.
	future := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatalf("Chtimes: %v", err)
	}

	select {
	case <-changes.seen:
	case <-time.After(2 * time.Second):
		t.Fatal("poll did not pick up the edit")
	}
	if got := w.Current().Recognition.DefaultLanguage; got != "tr" {
		t.Errorf("default_language = %q, want tr", got)
	}
}

func TestWatcher_StopTwice(t *testing.T) {
	t.Parallel()
	w, _ := watchFile(t, watchedEnglish, nil)
	w.Stop()
	w.Stop()
}
