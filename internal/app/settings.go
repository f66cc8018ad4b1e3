package app

import (
	"maps"

	"github.com/MrWong99/voxnote/internal/config"
	"github.com/MrWong99/voxnote/internal/session"
	"github.com/MrWong99/voxnote/pkg/langid"
)

// ConfigSettings is a [session.SettingsProvider] that reads the live
// configuration on every call, so edits picked up by a [config.Watcher]
// reach the next session.
type ConfigSettings struct {
	// Current returns the config to translate, usually [config.Watcher.Current].
	Current func() *config.Config
}

var _ session.SettingsProvider = ConfigSettings{}

// Settings implements [session.SettingsProvider].
func (c ConfigSettings) Settings() session.Settings {
	return SettingsFromConfig(c.Current())
}

// SettingsFromConfig translates the capture and recognition sections into
// session settings. A nil cfg yields [session.DefaultSettings].
func SettingsFromConfig(cfg *config.Config) session.Settings {
	if cfg == nil {
		return session.DefaultSettings()
	}
	rc := cfg.Recognition
	return session.Settings{
		DefaultLanguage:      rc.DefaultLanguage,
		DualEngine:           config.Bool(rc.DualEngine, true),
		ConfidenceThreshold:  rc.ConfidenceThreshold,
		UnreportedConfidence: rc.UnreportedConfidence,
		AutoDetectLanguage:   config.Bool(rc.AutoDetectLanguage, true),
		LanguagePolicy: langid.Policy{
			Default:   rc.LanguageThreshold,
			Overrides: maps.Clone(rc.LanguageOverrides),
		},
		MinDetectWords:      rc.MinDetectWords,
		MaxLanguageSwitches: rc.MaxLanguageSwitches,
		StreamFinalTimeout:  rc.StreamFinalTimeout,
		SampleRate:          cfg.Capture.SampleRate,
		Channels:            cfg.Capture.Channels,
		FramesPerBuffer:     cfg.Capture.FramesPerBuffer,
		MaxRecording:        cfg.Capture.MaxRecording,
	}
}
