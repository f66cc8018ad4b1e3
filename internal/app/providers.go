package app

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrWong99/voxnote/internal/config"
	"github.com/MrWong99/voxnote/internal/observe"
	"github.com/MrWong99/voxnote/internal/resilience"
	"github.com/MrWong99/voxnote/pkg/audio"
	"github.com/MrWong99/voxnote/pkg/provider/batch"
	"github.com/MrWong99/voxnote/pkg/provider/stt"
)

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Populated by [BuildProviders] or injected by
// tests.
type Providers struct {
	// Streaming is the streaming recognizer, usually an [*resilience.STTFallback]
	// over every configured streaming entry.
	Streaming stt.Provider

	// Batch is the whole-recording recognizer.
	Batch batch.Recognizer

	// Device is the microphone.
	Device audio.Device
}

// BuildProviders instantiates every provider named in cfg through reg. The
// streaming entries become one failover chain in configuration order. Each
// backend is instrumented with metrics under its configured name.
func BuildProviders(cfg *config.Config, reg *config.Registry, metrics *observe.Metrics) (*Providers, error) {
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	ps := &Providers{}

	var chain *resilience.STTFallback
	for i, entry := range cfg.Providers.Streaming {
		p, err := reg.CreateStreaming(entry, cfg)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Warn("streaming provider not registered, skipping", "name", entry.Name)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("create streaming provider %q: %w", entry.Name, err)
		}
		name := entryName(entry, i)
		p = &instrumentedStreaming{name: name, next: p, metrics: metrics}
		if chain == nil {
			chain = resilience.NewSTTFallback(p, name, resilience.FallbackConfig{})
		} else {
			chain.AddFallback(name, p)
		}
		slog.Info("provider created", "kind", "streaming", "name", name, "model", entry.Model)
	}
	if chain != nil {
		ps.Streaming = chain
	}

	if entry := cfg.Providers.Batch; entry.Name != "" {
		r, err := reg.CreateBatch(entry, cfg)
		switch {
		case errors.Is(err, batch.ErrInvalidConfiguration):
			// Sessions run streaming-only until credentials are supplied.
			slog.Warn("batch provider unusable, dual-engine mode disabled", "name", entry.Name, "err", err)
		case err != nil:
			return nil, fmt.Errorf("create batch provider %q: %w", entry.Name, err)
		default:
			r = &instrumentedBatch{name: entry.Name, next: r, metrics: metrics}
			ps.Batch = resilience.NewBatchFallback(r, entry.Name, resilience.FallbackConfig{})
			slog.Info("provider created", "kind", "batch", "name", entry.Name, "model", entry.Model)
		}
	}

	entry := cfg.Providers.Audio
	if entry.Name == "" {
		entry.Name = "portaudio"
	}
	dev, err := reg.CreateAudio(entry, cfg)
	if err != nil {
		return nil, fmt.Errorf("create audio device %q: %w", entry.Name, err)
	}
	ps.Device = dev
	slog.Info("provider created", "kind", "audio", "name", entry.Name)

	return ps, nil
}

// entryName labels the i-th streaming entry. Fallbacks carry their index so
// two entries for the same backend keep separate breakers and metrics.
func entryName(e config.ProviderEntry, i int) string {
	if i == 0 {
		return e.Name
	}
	return fmt.Sprintf("%s#%d", e.Name, i)
}
