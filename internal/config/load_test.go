package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// isolated returns options that keep Load away from real system and user files.
func isolated(t *testing.T, extra ...Option) []Option {
	t.Helper()
	none := filepath.Join(t.TempDir(), "none.yaml")
	return append([]Option{WithSystemConfig(none), WithUserConfig(none)}, extra...)
}

func containsSubstring(errs []string, sub string) bool {
	for _, e := range errs {
		if strings.Contains(e, sub) {
			return true
		}
	}
	return false
}

func TestLoadDefaults(t *testing.T) {
	wd := t.TempDir()
	data := t.TempDir()

	cfg, err := Load(isolated(t, WithWorkingDir(wd), WithOverrides(map[string]any{KeyDataDir: data}))...)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Channel != DefaultChannel {
		t.Errorf("channel = %q", cfg.Channel)
	}
	if cfg.Workers != DefaultWorkers {
		t.Errorf("workers = %d", cfg.Workers)
	}
	if cfg.AppDir != wd {
		t.Errorf("app dir = %q, want %q", cfg.AppDir, wd)
	}
	if cfg.ManifestPath != filepath.Join(data, "updates", "packages.json") {
		t.Errorf("manifest path = %q", cfg.ManifestPath)
	}
	if cfg.TempDir != filepath.Join(data, "updates", "temp") {
		t.Errorf("temp dir = %q", cfg.TempDir)
	}
	if cfg.InactivityTimeout != 0 {
		t.Errorf("inactivity timeout = %v", cfg.InactivityTimeout)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "text" {
		t.Errorf("log = %+v", cfg.Log)
	}
}

func TestLoadPortableUsesWorkingDir(t *testing.T) {
	wd := t.TempDir()
	cfg, err := Load(isolated(t, WithWorkingDir(wd), WithOverrides(map[string]any{KeyPortable: true, KeyDataDir: "/ignored"}))...)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DataDir != wd {
		t.Errorf("data dir = %q, want %q", cfg.DataDir, wd)
	}
	if cfg.JournalPath != filepath.Join(wd, "updates", "journal.yaml") {
		t.Errorf("journal path = %q", cfg.JournalPath)
	}
}

func TestLoadPrecedence(t *testing.T) {
	wd := t.TempDir()
	data := t.TempDir()

	// Data-level config file.
	if err := os.WriteFile(filepath.Join(data, "updater.yaml"), []byte("channel: beta\nworkers: 2\ninactivity_timeout: 30s\nlog:\n  format: json\n"), 0644); err != nil {
		t.Fatal(err)
	}
	// Explicit config file beats the data-level one.
	explicit := filepath.Join(t.TempDir(), "explicit.yaml")
	if err := os.WriteFile(explicit, []byte("workers: 3\n"), 0644); err != nil {
		t.Fatal(err)
	}
	// Environment beats files.
	t.Setenv("UPDATER_LOG_LEVEL", "debug")
	t.Setenv("UPDATER_PLATFORM", "win64")

	cfg, err := Load(isolated(t,
		WithWorkingDir(wd),
		WithConfigFile(explicit),
		WithOverrides(map[string]any{KeyDataDir: data, KeyChannel: "nightly"}),
	)...)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Channel != "nightly" {
		t.Errorf("channel = %q, overrides should win", cfg.Channel)
	}
	if cfg.Workers != 3 {
		t.Errorf("workers = %d, explicit file should win", cfg.Workers)
	}
	if cfg.InactivityTimeout != 30*time.Second {
		t.Errorf("inactivity timeout = %v", cfg.InactivityTimeout)
	}
	if cfg.Log.Format != "json" {
		t.Errorf("log format = %q", cfg.Log.Format)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("log level = %q, env should win", cfg.Log.Level)
	}
	if cfg.Platform != "win64" {
		t.Errorf("platform = %q", cfg.Platform)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(isolated(t, WithWorkingDir(t.TempDir()), WithConfigFile("/nonexistent/updater.yaml"))...)
	if err == nil {
		t.Fatal("expected error for missing explicit config file")
	}
}

func TestLoadMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "updater.yaml")
	os.WriteFile(path, []byte("workers: [1, 2\n"), 0644)

	_, err := Load(isolated(t, WithWorkingDir(t.TempDir()), WithConfigFile(path))...)
	if err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoadInvalid(t *testing.T) {
	_, err := Load(isolated(t, WithWorkingDir(t.TempDir()), WithOverrides(map[string]any{KeyWorkers: 9}))...)
	ve, ok := err.(*ValidationError)
	if !ok {
		t.Fatalf("err = %v, want *ValidationError", err)
	}
	if !containsSubstring(ve.Errors, "'workers' must be between 1 and 4") {
		t.Errorf("errors = %v", ve.Errors)
	}
}

func TestValidate(t *testing.T) {
	valid := Config{
		Channel:      "stable",
		Workers:      1,
		DataDir:      "/data",
		AppDir:       "/app",
		ManifestPath: "/data/packages.json",
		TempDir:      "/data/temp",
		JournalPath:  "/data/journal.yaml",
		Log:          LogConfig{Level: "info", Format: "text"},
	}
	if errs := Validate(&valid); len(errs) != 0 {
		t.Fatalf("valid config rejected: %v", errs)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"no channel", func(c *Config) { c.Channel = "" }, "'channel' is required"},
		{"zero workers", func(c *Config) { c.Workers = 0 }, "'workers' must be between"},
		{"negative timeout", func(c *Config) { c.InactivityTimeout = -time.Second }, "must not be negative"},
		{"temp is app dir", func(c *Config) { c.TempDir = "/app" }, "must not contain 'app_dir'"},
		{"temp above app dir", func(c *Config) { c.TempDir = "/" }, "must not contain 'app_dir'"},
		{"temp is data dir", func(c *Config) { c.TempDir = "/data" }, "must not contain 'data_dir'"},
		{"temp holds manifest", func(c *Config) { c.ManifestPath = "/data/temp/packages.json" }, "must not contain 'manifest_path'"},
		{"temp holds journal", func(c *Config) { c.JournalPath = "/data/temp/journal.yaml" }, "must not contain 'journal_path'"},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }, "invalid log level"},
		{"bad format", func(c *Config) { c.Log.Format = "xml" }, "invalid log format"},
	}
	sibling := valid
	sibling.TempDir = "/data/temporary-files"
	sibling.ManifestPath = "/data/temp/../packages.json"
	if errs := Validate(&sibling); len(errs) != 0 {
		t.Errorf("sibling temp dir rejected: %v", errs)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			if errs := Validate(&cfg); !containsSubstring(errs, tt.want) {
				t.Errorf("errors = %v, want %q", errs, tt.want)
			}
		})
	}
}

func TestDiscoverPathsOrderAndDedup(t *testing.T) {
	dir := t.TempDir()
	same := filepath.Join(dir, "updater.yaml")

	layers := DiscoverPaths(filepath.Join(dir, "sys.yaml"), same, dir)
	if len(layers) != 2 {
		t.Fatalf("layers = %+v", layers)
	}
	if layers[0].Level != LevelSystem || layers[1].Level != LevelUser {
		t.Errorf("unexpected order: %+v", layers)
	}
}
