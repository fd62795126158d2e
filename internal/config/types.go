package config

import "time"

// Config keys. Nested keys use dots; the matching environment variable
// replaces dots with underscores and adds the UPDATER_ prefix, for example
// UPDATER_LOG_LEVEL.
const (
	KeyDataDir           = "data_dir"
	KeyAppDir            = "app_dir"
	KeyChannel           = "channel"
	KeyPlatform          = "platform"
	KeyPortable          = "portable"
	KeyWorkers           = "workers"
	KeyManifestPath      = "manifest_path"
	KeyTempDir           = "temp_dir"
	KeyJournalPath       = "journal_path"
	KeyUserAgent         = "user_agent"
	KeyInactivityTimeout = "inactivity_timeout"
	KeyLogLevel          = "log.level"
	KeyLogFormat         = "log.format"
)

// Defaults.
const (
	DefaultChannel      = "stable"
	DefaultWorkers      = 1
	MaxWorkers          = 4
	DefaultManifestPath = "updates/packages.json"
	DefaultTempDir      = "updates/temp"
	DefaultJournalPath  = "updates/journal.yaml"
	DefaultUserAgent    = "updater/1.0"
)

// Config is the resolved updater configuration. Relative paths have been
// made absolute against DataDir (or the working directory for AppDir).
type Config struct {
	DataDir           string        `mapstructure:"data_dir"`
	AppDir            string        `mapstructure:"app_dir"`
	Channel           string        `mapstructure:"channel"`
	Platform          string        `mapstructure:"platform"`
	Portable          bool          `mapstructure:"portable"`
	Workers           int           `mapstructure:"workers"`
	ManifestPath      string        `mapstructure:"manifest_path"`
	TempDir           string        `mapstructure:"temp_dir"`
	JournalPath       string        `mapstructure:"journal_path"`
	UserAgent         string        `mapstructure:"user_agent"`
	InactivityTimeout time.Duration `mapstructure:"inactivity_timeout"`
	Log               LogConfig     `mapstructure:"log"`
}

// LogConfig selects the logger level and format.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}
