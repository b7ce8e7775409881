package config

import (
	"os"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/zfdash/zfdash/internal/paths"
	"github.com/zfdash/zfdash/internal/util"
)

const settingsFileName = "config.json"

// Settings are the user-tunable knobs; everything else is fixed policy.
type Settings struct {
	// DaemonCommandTimeoutSec bounds one zfs/zpool invocation.
	DaemonCommandTimeoutSec int `json:"daemon_command_timeout"`
	// LoggingEnabled turns on the per-command audit log.
	LoggingEnabled bool `json:"logging_enabled"`
}

const defaultCommandTimeoutSec = 120

// DefaultSettings are used when no config file exists.
func DefaultSettings() Settings {
	return Settings{DaemonCommandTimeoutSec: defaultCommandTimeoutSec}
}

// SettingsPath is the per-user settings file.
func SettingsPath() string {
	return filepath.Join(paths.UserConfigDir(), settingsFileName)
}

// LoadSettings reads the settings file, falling back to defaults on any
// problem; a broken config file must never keep the daemon down.
func LoadSettings(path string) Settings {
	if path == "" {
		path = SettingsPath()
	}
	s := DefaultSettings()
	if err := util.ReadJSON(path, &s); err != nil {
		if !os.IsNotExist(err) {
			log.Warnf("config: unreadable settings %s, using defaults: %v", path, err)
		}
		return DefaultSettings()
	}
	if s.DaemonCommandTimeoutSec <= 0 {
		s.DaemonCommandTimeoutSec = defaultCommandTimeoutSec
	}
	return s
}

// SaveSettings persists s for the current user.
func SaveSettings(path string, s Settings) error {
	if path == "" {
		path = SettingsPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return util.WriteJSONAtomic(path, s, 0o644)
}

// CommandTimeout converts the configured timeout to a duration.
func (s Settings) CommandTimeout() time.Duration {
	return time.Duration(s.DaemonCommandTimeoutSec) * time.Second
}
