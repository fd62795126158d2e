package config

import (
	"os"
	"path/filepath"
	"runtime"
)

const configFileName = "updater.yaml"
const configDirName = "updater"

// ConfigLevel represents the precedence level of a configuration file.
type ConfigLevel string

const (
	LevelSystem ConfigLevel = "system"
	LevelUser   ConfigLevel = "user"
	LevelData   ConfigLevel = "data"
)

// ConfigLayer is one config file candidate.
type ConfigLayer struct {
	Path  string
	Level ConfigLevel
}

// DiscoverPaths returns the config files to merge, lowest precedence first:
// the system file, the user file, then updater.yaml inside dataDir.
// Paths are deduplicated by absolute path. Empty overrides use the OS defaults.
func DiscoverPaths(systemPath, userPath, dataDir string) []ConfigLayer {
	var layers []ConfigLayer
	seen := make(map[string]bool)

	add := func(level ConfigLevel, path string) {
		if path == "" {
			return
		}
		abs, err := filepath.Abs(path)
		if err != nil {
			abs = path
		}
		if seen[abs] {
			return
		}
		seen[abs] = true
		layers = append(layers, ConfigLayer{Path: path, Level: level})
	}

	if systemPath == "" {
		systemPath = defaultSystemConfigPath()
	}
	add(LevelSystem, systemPath)

	if userPath == "" {
		userPath = defaultUserConfigPath()
	}
	add(LevelUser, userPath)

	if dataDir != "" {
		add(LevelData, filepath.Join(dataDir, configFileName))
	}
	return layers
}

func defaultSystemConfigPath() string {
	if runtime.GOOS == "windows" {
		pd := os.Getenv("ProgramData")
		if pd == "" {
			pd = `C:\ProgramData`
		}
		return filepath.Join(pd, configDirName, configFileName)
	}
	return filepath.Join("/etc", configDirName, configFileName)
}

func defaultUserConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, configDirName, configFileName)
}

// DefaultDataDir returns the per-user application data directory.
func DefaultDataDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return filepath.Join(os.TempDir(), configDirName)
	}
	return filepath.Join(dir, configDirName)
}
