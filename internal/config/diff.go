package config

import (
	"maps"
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// RecognitionChanged is true when any recognition or capture setting
	// differs. These apply to the next session.
	RecognitionChanged bool

	// ChangedSettings names the yaml keys that differ, in sorted order.
	ChangedSettings []string

	// RestartRequired is true when providers, the listen address or the
	// result log changed. Those are only read at startup.
	RestartRequired bool
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	o, n := old.Recognition, new.Recognition
	mark := func(key string, differs bool) {
		if differs {
			d.ChangedSettings = append(d.ChangedSettings, key)
		}
	}
	mark("capture", old.Capture != new.Capture)
	mark("recognition.default_language", o.DefaultLanguage != n.DefaultLanguage)
	mark("recognition.dual_engine", Bool(o.DualEngine, true) != Bool(n.DualEngine, true))
	mark("recognition.confidence_threshold", o.ConfidenceThreshold != n.ConfidenceThreshold)
	mark("recognition.unreported_confidence", o.UnreportedConfidence != n.UnreportedConfidence)
	mark("recognition.auto_detect_language", Bool(o.AutoDetectLanguage, true) != Bool(n.AutoDetectLanguage, true))
	mark("recognition.language_threshold", o.LanguageThreshold != n.LanguageThreshold)
	mark("recognition.language_overrides", !maps.Equal(o.LanguageOverrides, n.LanguageOverrides))
	mark("recognition.min_detect_words", o.MinDetectWords != n.MinDetectWords)
	mark("recognition.max_language_switches", o.MaxLanguageSwitches != n.MaxLanguageSwitches)
	mark("recognition.stream_final_timeout", o.StreamFinalTimeout != n.StreamFinalTimeout)
	slices.Sort(d.ChangedSettings)
	d.RecognitionChanged = len(d.ChangedSettings) > 0

	// These are bound into providers and stores at startup.
	if old.Server.ListenAddr != new.Server.ListenAddr ||
		o.MaxUploadMB != n.MaxUploadMB ||
		o.BatchTimeout != n.BatchTimeout ||
		!slices.Equal(o.Languages, n.Languages) ||
		old.ResultLog != new.ResultLog ||
		!reflect.DeepEqual(old.Providers, new.Providers) {
		d.RestartRequired = true
	}

	return d
}
