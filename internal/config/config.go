// Package config defines the configuration schema for voxnote.
//
// Configuration is loaded from a YAML file (see [Load]) and validated before
// use. Provider entries name a backend that is resolved through a [Registry],
// so concrete implementations can be swapped without touching this package.
package config

import "time"

// LogLevel is the minimum log severity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// ResultLogDriver selects the result log backend.
type ResultLogDriver string

const (
	// ResultLogNone disables persistence; outcomes are only logged.
	ResultLogNone     ResultLogDriver = ""
	ResultLogSQLite   ResultLogDriver = "sqlite"
	ResultLogPostgres ResultLogDriver = "postgres"
)

// IsValid reports whether d is a recognised driver.
func (d ResultLogDriver) IsValid() bool {
	switch d {
	case ResultLogNone, ResultLogSQLite, ResultLogPostgres:
		return true
	}
	return false
}

// Config is the root configuration structure.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Capture     CaptureConfig     `yaml:"capture"`
	Recognition RecognitionConfig `yaml:"recognition"`
	Providers   ProvidersConfig   `yaml:"providers"`
	ResultLog   ResultLogConfig   `yaml:"result_log"`
}

// ServerConfig holds the HTTP control surface settings.
type ServerConfig struct {
	// ListenAddr is the address the HTTP API binds to (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel is the minimum log level. Hot-reloadable.
	LogLevel LogLevel `yaml:"log_level"`
}

// CaptureConfig describes the audio delivered to the recognizers.
type CaptureConfig struct {
	SampleRate      int `yaml:"sample_rate"`
	Channels        int `yaml:"channels"`
	FramesPerBuffer int `yaml:"frames_per_buffer"`

	// MaxRecording caps the rolling recording kept for the batch upload.
	MaxRecording time.Duration `yaml:"max_recording"`
}

// RecognitionConfig holds the user-facing recognition settings. Every field is
// re-read when a session starts.
type RecognitionConfig struct {
	// DefaultLanguage is used when a session starts without an explicit language.
	DefaultLanguage string `yaml:"default_language"`

	// DualEngine runs the batch recognizer alongside the streaming one. A
	// pointer so an explicit false survives defaulting.
	DualEngine *bool `yaml:"dual_engine"`

	ConfidenceThreshold  float64 `yaml:"confidence_threshold"`
	UnreportedConfidence float64 `yaml:"unreported_confidence"`

	AutoDetectLanguage *bool `yaml:"auto_detect_language"`

	// LanguageThreshold is the default switch threshold; LanguageOverrides
	// replaces it for individual languages.
	LanguageThreshold float64            `yaml:"language_threshold"`
	LanguageOverrides map[string]float64 `yaml:"language_overrides"`

	MinDetectWords      int `yaml:"min_detect_words"`
	MaxLanguageSwitches int `yaml:"max_language_switches"`

	// MaxUploadMB is the batch recognizer's upload limit in mebibytes.
	MaxUploadMB int `yaml:"max_upload_mb"`

	BatchTimeout       time.Duration `yaml:"batch_timeout"`
	StreamFinalTimeout time.Duration `yaml:"stream_final_timeout"`

	// Languages restricts language identification to these ISO 639-1 codes.
	// Empty means [langid.DefaultLanguages].
	Languages []string `yaml:"languages"`
}

// ProvidersConfig selects the backends.
type ProvidersConfig struct {
	// Streaming lists streaming recognizers. The first is the primary, the
	// rest are fallbacks tried in order.
	Streaming []ProviderEntry `yaml:"streaming"`

	Batch ProviderEntry `yaml:"batch"`
	Audio ProviderEntry `yaml:"audio"`
}

// ProviderEntry is the common configuration block for any provider.
type ProviderEntry struct {
	// Name is the registered provider name (e.g., "deepgram", "openai").
	Name string `yaml:"name"`

	// APIKey is the authentication key. Falls back to the environment when empty.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default endpoint.
	BaseURL string `yaml:"base_url"`

	// Model is the provider-specific model identifier, or a model file path
	// for on-device recognizers.
	Model string `yaml:"model"`

	// Options holds arbitrary provider-specific settings.
	Options map[string]any `yaml:"options"`
}

// ResultLogConfig selects where reconciled transcripts are persisted.
type ResultLogConfig struct {
	Driver ResultLogDriver `yaml:"driver"`

	// DSN is a file path for sqlite and a connection string for postgres.
	DSN string `yaml:"dsn"`
}

// Bool returns the value of an optional flag, or def when unset.
func Bool(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}
