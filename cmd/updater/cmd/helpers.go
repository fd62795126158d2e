package cmd

import (
	"fmt"

	"github.com/bianoble/updater/pkg/updater"
)

// clientOptions maps the global flags onto library options.
func clientOptions() updater.Options {
	level := logLevel
	if level == "" && verbose {
		level = "debug"
	}
	return updater.Options{
		ConfigFile: configPath,
		DataDir:    dataDir,
		AppDir:     appDir,
		Portable:   portable,
		Workers:    workers,
		LogLevel:   level,
	}
}

// info prints a line unless quiet mode is active.
func info(format string, args ...any) {
	if !quiet {
		fmt.Printf(format+"\n", args...)
	}
}

// detail prints a line only in verbose mode.
func detail(format string, args ...any) {
	if verbose {
		fmt.Printf("  "+format+"\n", args...)
	}
}
