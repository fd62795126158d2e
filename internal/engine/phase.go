package engine

import (
	"fmt"

	"github.com/bianoble/updater/internal/manifest"
	"github.com/bianoble/updater/internal/record"
)

// Phase is a state of the update pipeline.
type Phase int

const (
	ResolvingManifest Phase = iota
	Downloading
	Extracting
	Installing
	Complete
	Failed
	RolledBack
)

var phaseNames = [...]string{
	ResolvingManifest: "resolving-manifest",
	Downloading:       "downloading",
	Extracting:        "extracting",
	Installing:        "installing",
	Complete:          "complete",
	Failed:            "failed",
	RolledBack:        "rolled-back",
}

func (p Phase) String() string {
	if int(p) >= 0 && int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// Terminal reports whether p ends a run.
func (p Phase) Terminal() bool {
	return p == Complete || p == Failed || p == RolledBack
}

// Result is the outcome of a run.
type Result struct {
	RunID string
	// Phase is Complete, Failed or RolledBack.
	Phase Phase
	// FailedIn is the phase that was active when the run failed.
	FailedIn Phase
	// Message is the final status line.
	Message   string
	Cancelled bool

	Package   manifest.Package
	Records   *record.List
	Installed int
	Bytes     int64
}

// Succeeded reports whether the run completed.
func (r *Result) Succeeded() bool { return r.Phase == Complete }
