package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"maps"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/MrWong99/voxnote/pkg/langid"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"streaming": {"deepgram", "whisper", "whisper-native"},
	"batch":     {"openai"},
	"audio":     {"portaudio"},
}

// conventionalKeyEnv maps provider names to the environment variable their
// vendor documents for the API key.
var conventionalKeyEnv = map[string]string{
	"deepgram": "DEEPGRAM_API_KEY",
	"openai":   "OPENAI_API_KEY",
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, fills defaults, resolves API
// keys from the environment and validates the result. An empty document
// yields the default configuration.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	ResolveAPIKeys(cfg, os.LookupEnv)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadEnv loads KEY=value pairs from a dotenv file into the process
// environment without overriding variables that are already set. An empty
// path tries ".env" in the working directory and ignores its absence.
func LoadEnv(path string) error {
	if path == "" {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("config: load .env: %w", err)
		}
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("config: load env file %q: %w", path, err)
	}
	return nil
}

// ApplyDefaults fills every unset field with its built-in value.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}

	c := &cfg.Capture
	if c.SampleRate == 0 {
		c.SampleRate = 16000
	}
	if c.Channels == 0 {
		c.Channels = 1
	}
	if c.FramesPerBuffer == 0 {
		c.FramesPerBuffer = 1024
	}
	if c.MaxRecording == 0 {
		c.MaxRecording = 10 * time.Minute
	}

	rc := &cfg.Recognition
	if rc.DefaultLanguage == "" {
		rc.DefaultLanguage = "en"
	}
	if rc.DualEngine == nil {
		rc.DualEngine = ptr(true)
	}
	if rc.AutoDetectLanguage == nil {
		rc.AutoDetectLanguage = ptr(true)
	}
	if rc.ConfidenceThreshold == 0 {
		rc.ConfidenceThreshold = 0.8
	}
	if rc.UnreportedConfidence == 0 {
		rc.UnreportedConfidence = 0.5
	}
	if rc.LanguageThreshold == 0 {
		rc.LanguageThreshold = 0.7
	}
	if rc.LanguageOverrides == nil {
		rc.LanguageOverrides = map[string]float64{"tr": 0.5, "ru": 0.5, "zh": 0.5}
	}
	if rc.MinDetectWords == 0 {
		rc.MinDetectWords = 3
	}
	if rc.MaxLanguageSwitches == 0 {
		rc.MaxLanguageSwitches = 2
	}
	if rc.MaxUploadMB == 0 {
		rc.MaxUploadMB = 25
	}
	if rc.BatchTimeout == 0 {
		rc.BatchTimeout = 45 * time.Second
	}
	if rc.StreamFinalTimeout == 0 {
		rc.StreamFinalTimeout = 5 * time.Second
	}

	if cfg.ResultLog.Driver == ResultLogSQLite && cfg.ResultLog.DSN == "" {
		cfg.ResultLog.DSN = "data/voxnote.db"
	}
}

// ResolveAPIKeys fills empty api_key fields from the environment: first
// VOXNOTE_<KIND>_API_KEY, then the provider's conventional variable.
// lookup is usually [os.LookupEnv].
func ResolveAPIKeys(cfg *Config, lookup func(string) (string, bool)) {
	for i := range cfg.Providers.Streaming {
		resolveKey(&cfg.Providers.Streaming[i], "STREAMING", lookup)
	}
	resolveKey(&cfg.Providers.Batch, "BATCH", lookup)
}

func resolveKey(e *ProviderEntry, kind string, lookup func(string) (string, bool)) {
	if e.Name == "" || e.APIKey != "" {
		return
	}
	if v, ok := lookup("VOXNOTE_" + kind + "_API_KEY"); ok && v != "" {
		e.APIKey = v
		return
	}
	if name, ok := conventionalKeyEnv[e.Name]; ok {
		if v, ok := lookup(name); ok && v != "" {
			e.APIKey = v
		}
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	c := cfg.Capture
	if c.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("capture.sample_rate %d must be positive", c.SampleRate))
	}
	if c.Channels < 0 || c.Channels > 2 {
		errs = append(errs, fmt.Errorf("capture.channels %d is out of range [1, 2]", c.Channels))
	}
	if c.FramesPerBuffer < 0 {
		errs = append(errs, fmt.Errorf("capture.frames_per_buffer %d must be positive", c.FramesPerBuffer))
	}
	if c.MaxRecording < 0 {
		errs = append(errs, fmt.Errorf("capture.max_recording %s must not be negative", c.MaxRecording))
	}

	rc := cfg.Recognition
	for name, v := range map[string]float64{
		"confidence_threshold":  rc.ConfidenceThreshold,
		"unreported_confidence": rc.UnreportedConfidence,
		"language_threshold":    rc.LanguageThreshold,
	} {
		if v < 0 || v > 1 {
			errs = append(errs, fmt.Errorf("recognition.%s %.2f is out of range [0, 1]", name, v))
		}
	}
	bases := make(map[string]string, len(rc.LanguageOverrides))
	for _, lang := range slices.Sorted(maps.Keys(rc.LanguageOverrides)) {
		if v := rc.LanguageOverrides[lang]; v < 0 || v > 1 {
			errs = append(errs, fmt.Errorf("recognition.language_overrides[%s] %.2f is out of range [0, 1]", lang, v))
		}
		base := langid.Base(lang)
		if prev, ok := bases[base]; ok {
			errs = append(errs, fmt.Errorf("recognition.language_overrides[%s] duplicates language_overrides[%s]", lang, prev))
		}
		bases[base] = lang
	}
	if rc.MinDetectWords < 0 {
		errs = append(errs, fmt.Errorf("recognition.min_detect_words %d must not be negative", rc.MinDetectWords))
	}
	if rc.MaxLanguageSwitches < 0 {
		errs = append(errs, fmt.Errorf("recognition.max_language_switches %d must not be negative", rc.MaxLanguageSwitches))
	}
	if rc.MaxUploadMB < 0 {
		errs = append(errs, fmt.Errorf("recognition.max_upload_mb %d must not be negative", rc.MaxUploadMB))
	}
	if rc.BatchTimeout < 0 || rc.StreamFinalTimeout < 0 {
		errs = append(errs, errors.New("recognition timeouts must not be negative"))
	}

	seen := make(map[string]int, len(cfg.Providers.Streaming))
	for i, e := range cfg.Providers.Streaming {
		prefix := fmt.Sprintf("providers.streaming[%d]", i)
		if e.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		key := e.Name + "|" + e.BaseURL + "|" + e.Model
		if prev, ok := seen[key]; ok {
			errs = append(errs, fmt.Errorf("%s duplicates providers.streaming[%d]", prefix, prev))
		}
		seen[key] = i
		validateProviderName("streaming", e.Name)
	}
	validateProviderName("batch", cfg.Providers.Batch.Name)
	validateProviderName("audio", cfg.Providers.Audio.Name)

	if len(cfg.Providers.Streaming) == 0 && cfg.Providers.Batch.Name == "" {
		slog.Warn("no streaming or batch provider configured; sessions will only record audio")
	}
	if !Bool(rc.DualEngine, true) && len(cfg.Providers.Streaming) == 0 && cfg.Providers.Batch.Name != "" {
		slog.Warn("recognition.dual_engine is off but no streaming provider is configured; batch runs alone")
	}

	if !cfg.ResultLog.Driver.IsValid() {
		errs = append(errs, fmt.Errorf("result_log.driver %q is invalid; valid values: sqlite, postgres", cfg.ResultLog.Driver))
	}
	if cfg.ResultLog.Driver == ResultLogPostgres && cfg.ResultLog.DSN == "" {
		errs = append(errs, errors.New("result_log.dsn is required when driver is postgres"))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, strings.ToLower(name)) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}

func ptr[T any](v T) *T { return &v }
