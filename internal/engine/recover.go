package engine

import (
	"fmt"

	"github.com/bianoble/updater/internal/install"
	"github.com/bianoble/updater/internal/journal"
	"github.com/bianoble/updater/internal/record"
	"github.com/sirupsen/logrus"
)

// RecoverResult is the outcome of rolling back from a journal.
type RecoverResult struct {
	RunID    string
	Restored int // installed records undone
	Removed  int // downloaded temp files removed
}

// Recover rolls back the run recorded in the journal at path and removes the
// journal. It is used after a run was interrupted before it could clean up.
func Recover(path string, fsys install.FS, log logrus.FieldLogger) (*RecoverResult, error) {
	j, err := journal.Load(path)
	if err != nil {
		return nil, err
	}
	list := j.List()
	res := &RecoverResult{RunID: j.RunID, Restored: list.Count(record.Installed)}
	for _, r := range list.All() {
		if r.State == record.Downloaded && r.TempPath != "" {
			res.Removed++
		}
	}

	if log != nil {
		log.WithFields(logrus.Fields{"run_id": j.RunID, "installed": res.Restored}).Info("rolling back from journal")
	}
	if err := install.Rollback(list, fsys); err != nil {
		return res, fmt.Errorf("rollback incomplete, journal kept at %s: %w", path, err)
	}
	if err := journal.Remove(path); err != nil {
		return res, err
	}
	return res, nil
}
