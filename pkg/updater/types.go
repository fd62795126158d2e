package updater

import "github.com/bianoble/updater/internal/engine"

// Type aliases re-export engine types as the public API.

type Phase = engine.Phase

const (
	ResolvingManifest = engine.ResolvingManifest
	Downloading       = engine.Downloading
	Extracting        = engine.Extracting
	Installing        = engine.Installing
	Complete          = engine.Complete
	Failed            = engine.Failed
	RolledBack        = engine.RolledBack
)

type RollbackResult = engine.RecoverResult

// Observer receives status lines and overall download percentages during
// an update. Calls may come from worker goroutines.
type Observer interface {
	Status(text string)
	Progress(percent int)
}

// Result summarizes one update run.
type Result struct {
	RunID string
	Phase Phase
	// FailedIn is the phase active when the run failed. Unset on success.
	FailedIn  Phase
	Message   string
	Cancelled bool

	Channel  string
	Platform string
	File     string
	URL      string
	SHA1     string

	Installed int
	Bytes     int64
}
