// Command voxnote runs the dictation server: it captures microphone audio,
// transcribes it with a streaming and a batch engine and keeps the better
// transcript.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrWong99/voxnote/internal/app"
	"github.com/MrWong99/voxnote/internal/config"
	"github.com/MrWong99/voxnote/internal/observe"
	"github.com/MrWong99/voxnote/pkg/audio"
	"github.com/MrWong99/voxnote/pkg/audio/portaudio"
	"github.com/MrWong99/voxnote/pkg/provider/batch"
	batchopenai "github.com/MrWong99/voxnote/pkg/provider/batch/openai"
	"github.com/MrWong99/voxnote/pkg/provider/stt"
	"github.com/MrWong99/voxnote/pkg/provider/stt/deepgram"
	"github.com/MrWong99/voxnote/pkg/provider/stt/whisper"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	envPath := flag.String("env", "", "path to a .env file with API keys (default: ./.env if present)")
	flag.Parse()

	if err := config.LoadEnv(*envPath); err != nil {
		fmt.Fprintf(os.Stderr, "voxnote: %v\n", err)
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	// The level is adjustable at runtime by editing the config file.
	var level slog.LevelVar
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level})))

	// ── Load and watch configuration ──────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		d := config.Diff(old, new)
		if d.LogLevelChanged {
			level.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level changed", "level", d.NewLogLevel)
		}
		if d.RestartRequired {
			slog.Warn("config change takes effect after restart", "changed", d.ChangedSettings)
		}
	})
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voxnote: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voxnote: %v\n", err)
		}
		return 1
	}
	defer watcher.Stop()

	cfg := watcher.Current()
	level.Set(slogLevel(cfg.Server.LogLevel))

	slog.Info("voxnote starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// SIGHUP re-reads the config file without waiting for the next poll.
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-hup:
				if _, err := watcher.Reload(); err != nil {
					slog.Warn("config reload failed, keeping previous config", "err", err)
				}
			}
		}
	}()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := app.BuildProviders(cfg, reg, metrics)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers,
		app.WithSettings(app.ConfigSettings{Current: watcher.Current}),
		app.WithMetrics(metrics),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("server ready, press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires the backends that ship with voxnote into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// ── Streaming ─────────────────────────────────────────────────────────────

	reg.RegisterStreaming("deepgram", func(entry config.ProviderEntry, cfg *config.Config) (stt.Provider, error) {
		opts := []deepgram.Option{deepgram.WithSampleRate(cfg.Capture.SampleRate)}
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		if langs := optStrings(entry.Options, "languages"); len(langs) > 0 {
			opts = append(opts, deepgram.WithSupportedLanguages(langs...))
		}
		if on, ok := entry.Options["smart_format"].(bool); ok {
			opts = append(opts, deepgram.WithSmartFormat(on))
		}
		if d, err := time.ParseDuration(optString(entry.Options, "keep_alive")); err == nil {
			opts = append(opts, deepgram.WithKeepAlive(d))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	reg.RegisterStreaming("whisper", func(entry config.ProviderEntry, cfg *config.Config) (stt.Provider, error) {
		opts := whisperOptions(entry, cfg)
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if path := optString(entry.Options, "inference_path"); path != "" {
			opts = append(opts, whisper.WithInferencePath(path))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterStreaming("whisper-native", func(entry config.ProviderEntry, cfg *config.Config) (stt.Provider, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = optString(entry.Options, "model_path")
		}
		return whisper.NewNative(modelPath, whisperOptions(entry, cfg)...)
	})

	// ── Batch ─────────────────────────────────────────────────────────────────

	reg.RegisterBatch("openai", func(entry config.ProviderEntry, cfg *config.Config) (batch.Recognizer, error) {
		opts := []batchopenai.Option{
			batchopenai.WithMaxUploadBytes(int64(cfg.Recognition.MaxUploadMB) << 20),
			batchopenai.WithTimeout(cfg.Recognition.BatchTimeout),
		}
		if entry.Model != "" {
			opts = append(opts, batchopenai.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, batchopenai.WithBaseURL(entry.BaseURL))
		}
		return batchopenai.New(entry.APIKey, opts...)
	})

	// ── Audio ─────────────────────────────────────────────────────────────────

	reg.RegisterAudio("portaudio", func(config.ProviderEntry, *config.Config) (audio.Device, error) {
		return portaudio.New(), nil
	})

	for kind, names := range config.ValidProviderNames {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         voxnote · startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	for i, e := range cfg.Providers.Streaming {
		label := "Streaming"
		if i > 0 {
			label = "  fallback"
		}
		printProvider(label, e.Name, e.Model)
	}
	if len(cfg.Providers.Streaming) == 0 {
		printProvider("Streaming", "", "")
	}
	printProvider("Batch", cfg.Providers.Batch.Name, cfg.Providers.Batch.Model)
	printProvider("Audio", cfg.Providers.Audio.Name, "")
	printValue("Language", cfg.Recognition.DefaultLanguage)
	printValue("Dual engine", fmt.Sprint(config.Bool(cfg.Recognition.DualEngine, true)))
	printValue("Auto-detect", fmt.Sprint(config.Bool(cfg.Recognition.AutoDetectLanguage, true)))
	if cfg.ResultLog.Driver != config.ResultLogNone {
		printValue("Result log", string(cfg.ResultLog.Driver))
	} else {
		printValue("Result log", "(disabled)")
	}
	if cfg.Server.ListenAddr != "" {
		printValue("Listen addr", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	printValue(kind, value)
}

func printValue(label, value string) {
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", label, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// whisperOptions maps the options both whisper engines understand.
func whisperOptions(entry config.ProviderEntry, cfg *config.Config) []whisper.Option {
	opts := []whisper.Option{whisper.WithSampleRate(cfg.Capture.SampleRate)}
	if lang := optString(entry.Options, "language"); lang != "" {
		opts = append(opts, whisper.WithLanguage(lang))
	}
	if langs := optStrings(entry.Options, "languages"); len(langs) > 0 {
		opts = append(opts, whisper.WithSupportedLanguages(langs...))
	}
	if d, err := time.ParseDuration(optString(entry.Options, "silence")); err == nil {
		opts = append(opts, whisper.WithSilence(d))
	}
	if d, err := time.ParseDuration(optString(entry.Options, "max_utterance")); err == nil {
		opts = append(opts, whisper.WithMaxUtterance(d))
	}
	return opts
}

// optStrings extracts a list of strings. A single string is treated as a
// one-element list; non-string elements are skipped.
func optStrings(opts map[string]any, key string) []string {
	switch v := opts[key].(type) {
	case string:
		return []string{v}
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
