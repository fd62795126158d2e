// Package config resolves updater settings from defaults, config files,
// UPDATER_* environment variables and command-line overrides, in that
// order of precedence.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const envPrefix = "UPDATER"

type loadSettings struct {
	configFile string
	systemPath string
	userPath   string
	workingDir string
	overrides  map[string]any
}

// Option configures Load. Useful for tests and the CLI.
type Option func(*loadSettings)

// WithConfigFile loads path as the highest-precedence config file. Unlike
// discovered files it must exist.
func WithConfigFile(path string) Option {
	return func(s *loadSettings) { s.configFile = path }
}

// WithSystemConfig overrides the system config path. A nonexistent path skips it.
func WithSystemConfig(path string) Option {
	return func(s *loadSettings) { s.systemPath = path }
}

// WithUserConfig overrides the user config path. A nonexistent path skips it.
func WithUserConfig(path string) Option {
	return func(s *loadSettings) { s.userPath = path }
}

// WithWorkingDir overrides the directory used as the portable data root and
// the default install root.
func WithWorkingDir(dir string) Option {
	return func(s *loadSettings) { s.workingDir = dir }
}

// WithOverrides injects values that take precedence over everything else,
// typically from CLI flags.
func WithOverrides(overrides map[string]any) Option {
	return func(s *loadSettings) {
		if s.overrides == nil {
			s.overrides = make(map[string]any)
		}
		for k, v := range overrides {
			s.overrides[k] = v
		}
	}
}

// Load resolves and validates the configuration.
func Load(opts ...Option) (*Config, error) {
	var s loadSettings
	for _, opt := range opts {
		opt(&s)
	}

	wd := strings.TrimSpace(s.workingDir)
	if wd == "" {
		var err error
		if wd, err = os.Getwd(); err != nil {
			return nil, fmt.Errorf("determine working directory: %w", err)
		}
	}

	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	for k, val := range s.overrides {
		v.Set(k, val)
	}

	// The data dir decides where the data-level config lives, so it is
	// resolved from env and overrides before any file is read.
	dataDir := resolveDataDir(v, wd)
	for _, layer := range DiscoverPaths(s.systemPath, s.userPath, dataDir) {
		if err := mergeConfigFile(v, layer.Path, false); err != nil {
			return nil, fmt.Errorf("load %s config: %w", layer.Level, err)
		}
	}
	if s.configFile != "" {
		if err := mergeConfigFile(v, s.configFile, true); err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	cfg.DataDir = resolveDataDir(v, wd)
	cfg.AppDir = absolute(wd, cfg.AppDir, wd)
	cfg.ManifestPath = absolute(cfg.DataDir, cfg.ManifestPath, DefaultManifestPath)
	cfg.TempDir = absolute(cfg.DataDir, cfg.TempDir, DefaultTempDir)
	cfg.JournalPath = absolute(cfg.DataDir, cfg.JournalPath, DefaultJournalPath)

	if errs := Validate(&cfg); len(errs) > 0 {
		return nil, &ValidationError{Errors: errs}
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(KeyDataDir, "")
	v.SetDefault(KeyAppDir, "")
	v.SetDefault(KeyChannel, DefaultChannel)
	v.SetDefault(KeyPlatform, "")
	v.SetDefault(KeyPortable, false)
	v.SetDefault(KeyWorkers, DefaultWorkers)
	v.SetDefault(KeyManifestPath, DefaultManifestPath)
	v.SetDefault(KeyTempDir, DefaultTempDir)
	v.SetDefault(KeyJournalPath, DefaultJournalPath)
	v.SetDefault(KeyUserAgent, DefaultUserAgent)
	v.SetDefault(KeyInactivityTimeout, "0s")
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFormat, "text")
}

// resolveDataDir returns the working directory in portable mode, otherwise
// the configured data dir or the per-user default.
func resolveDataDir(v *viper.Viper, wd string) string {
	if v.GetBool(KeyPortable) {
		return wd
	}
	if dir := strings.TrimSpace(v.GetString(KeyDataDir)); dir != "" {
		return absolute(wd, dir, dir)
	}
	return DefaultDataDir()
}

func absolute(base, path, fallback string) string {
	if strings.TrimSpace(path) == "" {
		path = fallback
	}
	path = filepath.FromSlash(path)
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(base, path)
}

func mergeConfigFile(v *viper.Viper, path string, required bool) error {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) && !required {
		return nil
	}
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("config path %s is a directory", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := v.MergeConfig(bytes.NewReader(data)); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// within reports whether path is dir or lies below it.
func within(dir, path string) bool {
	rel, err := filepath.Rel(filepath.Clean(dir), filepath.Clean(path))
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// ValidationError holds multiple validation failures.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed:\n  - %s", strings.Join(e.Errors, "\n  - "))
}

// Validate checks a Config for semantic correctness.
// Returns a list of validation error messages (empty if valid).
func Validate(cfg *Config) []string {
	var errs []string

	if strings.TrimSpace(cfg.Channel) == "" {
		errs = append(errs, "'channel' is required")
	}
	if cfg.Workers < 1 || cfg.Workers > MaxWorkers {
		errs = append(errs, fmt.Sprintf("'workers' must be between 1 and %d, got %d", MaxWorkers, cfg.Workers))
	}
	if cfg.InactivityTimeout < 0 {
		errs = append(errs, "'inactivity_timeout' must not be negative")
	}
	if cfg.AppDir == "" {
		errs = append(errs, "'app_dir' is required")
	}
	if cfg.TempDir != "" {
		for _, p := range []struct{ key, path string }{
			{KeyAppDir, cfg.AppDir},
			{KeyDataDir, cfg.DataDir},
			{KeyManifestPath, cfg.ManifestPath},
			{KeyJournalPath, cfg.JournalPath},
		} {
			if p.path != "" && within(cfg.TempDir, p.path) {
				errs = append(errs, fmt.Sprintf("'temp_dir' %s must not contain '%s' %s, it is emptied after every run", cfg.TempDir, p.key, p.path))
			}
		}
	}

	switch strings.ToLower(cfg.Log.Level) {
	case "trace", "debug", "info", "warn", "warning", "error", "fatal", "panic":
	default:
		errs = append(errs, fmt.Sprintf("invalid log level '%s'", cfg.Log.Level))
	}
	switch strings.ToLower(cfg.Log.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Sprintf("invalid log format '%s' (must be one of: text, json)", cfg.Log.Format))
	}

	return errs
}
