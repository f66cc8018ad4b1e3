package config

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Watcher keeps the newest valid version of a config file. It is the live
// source of recognition settings: a session copies [Watcher.Current] when it
// starts, so an edit applies to the next session without a restart.
//
// The file is polled. [Watcher.Reload] forces a check, e.g. on SIGHUP.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, new *Config)
	log      *slog.Logger

	current atomic.Pointer[Config]

	// reloadMu serialises checks and guards the fingerprint.
	reloadMu sync.Mutex
	modTime  time.Time
	sum      [sha256.Size]byte

	stop     chan struct{}
	stopOnce sync.Once
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. Default 5s.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithLogger sets the logger. Default [slog.Default].
func WithLogger(l *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		if l != nil {
			w.log = l
		}
	}
}

// NewWatcher loads path and starts polling it. An unreadable or invalid file
// is an error here; later it only logs and keeps the previous version.
// onChange may be nil. It runs on the goroutine that noticed the change,
// after Current already returns the new config.
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: 5 * time.Second,
		onChange: onChange,
		log:      slog.Default(),
		stop:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	f, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	w.current.Store(f.cfg)
	w.modTime, w.sum = f.modTime, f.sum

	go w.loop()
	return w, nil
}

// Current returns the active config. Treat it as read-only.
func (w *Watcher) Current() *Config { return w.current.Load() }

// Stop ends polling. Safe to call repeatedly.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
}

// errUnchanged reports a file whose content matches the active config.
var errUnchanged = errors.New("config: unchanged")

// Reload re-reads the file now, regardless of its modification time. It
// reports whether a new config was installed; an invalid file returns the
// parse error and leaves Current untouched.
func (w *Watcher) Reload() (bool, error) {
	err := w.apply(true)
	if errors.Is(err, errUnchanged) {
		return false, nil
	}
	return err == nil, err
}

func (w *Watcher) loop() {
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-w.stop:
			return
		case <-t.C:
			if err := w.apply(false); err != nil && !errors.Is(err, errUnchanged) {
				w.log.Warn("config watcher: keeping previous config", "path", w.path, "err", err)
			}
		}
	}
}

// apply installs the file's config if its content changed. Unless force is
// set, an unchanged modification time skips the read.
func (w *Watcher) apply(force bool) error {
	w.reloadMu.Lock()
	if !force {
		info, err := os.Stat(w.path)
		if err != nil {
			w.reloadMu.Unlock()
			return err
		}
		if info.ModTime().Equal(w.modTime) {
			w.reloadMu.Unlock()
			return errUnchanged
		}
	}
	f, err := w.read()
	if err != nil {
		w.reloadMu.Unlock()
		return err
	}
	w.modTime = f.modTime
	if f.sum == w.sum {
		w.reloadMu.Unlock()
		return errUnchanged
	}
	w.sum = f.sum
	old := w.current.Swap(f.cfg)
	w.reloadMu.Unlock()

	d := Diff(old, f.cfg)
	w.log.Info("config watcher: configuration reloaded",
		"path", w.path,
		"log_level_changed", d.LogLevelChanged,
		"recognition_changed", d.RecognitionChanged,
		"restart_required", d.RestartRequired,
	)
	if w.onChange != nil {
		w.onChange(old, f.cfg)
	}
	return nil
}

type fileVersion struct {
	cfg     *Config
	sum     [sha256.Size]byte
	modTime time.Time
}

func (w *Watcher) read() (fileVersion, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return fileVersion{}, err
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return fileVersion{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return fileVersion{}, err
	}
	return fileVersion{cfg: cfg, sum: sha256.Sum256(data), modTime: info.ModTime()}, nil
}
