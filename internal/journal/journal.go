// Package journal persists the record list of an in-progress update so an
// interrupted run can be rolled back by a later invocation.
package journal

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bianoble/updater/internal/digest"
	"github.com/bianoble/updater/internal/record"
	"github.com/bianoble/updater/internal/sandbox"
	"gopkg.in/yaml.v3"
)

// Version is the only journal format version understood.
const Version = 1

// Journal is the on-disk snapshot of a run.
type Journal struct {
	Version int     `yaml:"version"`
	RunID   string  `yaml:"run_id"`
	AppDir  string  `yaml:"app_dir"`
	Records []Entry `yaml:"records"`
}

// Entry mirrors one record.Record.
type Entry struct {
	Identity       string        `yaml:"identity"`
	State          record.State  `yaml:"state"`
	SourceURL      string        `yaml:"source_url,omitempty"`
	OutputPath     string        `yaml:"output_path,omitempty"`
	TempPath       string        `yaml:"temp_path,omitempty"`
	BackupPath     string        `yaml:"backup_path,omitempty"`
	ExpectedDigest digest.Digest `yaml:"sha1,omitempty"`
}

// FromList snapshots list.
func FromList(runID, appDir string, list *record.List) *Journal {
	j := &Journal{Version: Version, RunID: runID, AppDir: appDir}
	for _, r := range list.All() {
		j.Records = append(j.Records, Entry{
			Identity:       r.Identity,
			State:          r.State,
			SourceURL:      r.SourceURL,
			OutputPath:     r.OutputPath,
			TempPath:       r.TempPath,
			BackupPath:     r.BackupPath,
			ExpectedDigest: r.ExpectedDigest,
		})
	}
	return j
}

// List rebuilds the record list.
func (j *Journal) List() *record.List {
	var list record.List
	for _, e := range j.Records {
		list.Append(&record.Record{
			Identity:       e.Identity,
			SourceURL:      e.SourceURL,
			OutputPath:     e.OutputPath,
			TempPath:       e.TempPath,
			BackupPath:     e.BackupPath,
			ExpectedDigest: e.ExpectedDigest,
			State:          e.State,
		})
	}
	return &list
}

// Load reads and validates a journal. A missing file returns an error
// matching fs.ErrNotExist.
func Load(path string) (*Journal, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading journal %s: %w", path, err)
	}

	var j Journal
	if err := yaml.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parsing journal %s: %w", path, err)
	}

	if errs := Validate(&j); len(errs) > 0 {
		return nil, &ValidationError{Errors: errs}
	}
	return &j, nil
}

// Save writes the journal atomically, creating its directory if needed.
func Save(path string, j *Journal) error {
	data, err := yaml.Marshal(j)
	if err != nil {
		return fmt.Errorf("marshaling journal: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating journal directory: %w", err)
	}
	if err := sandbox.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing journal %s: %w", path, err)
	}
	return nil
}

// Remove deletes the journal. A missing journal is not an error.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing journal %s: %w", path, err)
	}
	return nil
}

// ValidationError holds multiple validation failures.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("journal validation failed:\n  - %s", strings.Join(e.Errors, "\n  - "))
}

// Validate checks a Journal for semantic correctness.
// Returns a list of validation error messages (empty if valid).
func Validate(j *Journal) []string {
	var errs []string

	if j.Version != Version {
		errs = append(errs, fmt.Sprintf("unsupported version %d, only version %d is supported", j.Version, Version))
	}
	if j.RunID == "" {
		errs = append(errs, "'run_id' is required")
	}

	for i, e := range j.Records {
		prefix := fmt.Sprintf("record[%d]", i)
		if e.Identity != "" {
			prefix = fmt.Sprintf("record '%s'", e.Identity)
		}

		if e.Identity == "" {
			errs = append(errs, fmt.Sprintf("%s: 'identity' is required", prefix))
		}
		if e.State == record.Installed && e.OutputPath == "" {
			errs = append(errs, fmt.Sprintf("%s: installed record requires 'output_path'", prefix))
		}
		if e.BackupPath != "" {
			switch {
			case e.State != record.Installed && e.State != record.Downloaded:
				errs = append(errs, fmt.Sprintf("%s: 'backup_path' is only valid for installed or downloaded records, state is %s", prefix, e.State))
			case e.OutputPath == "":
				errs = append(errs, fmt.Sprintf("%s: 'backup_path' requires 'output_path'", prefix))
			}
		}
	}

	return errs
}
