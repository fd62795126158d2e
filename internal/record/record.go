// Package record models the units of work in an update run and their
// forward-only lifecycle.
package record

import (
	"fmt"

	"github.com/bianoble/updater/internal/digest"
)

// State is the lifecycle state of a Record.
type State int

const (
	// Invalid marks entries that failed structural validation, such as
	// directory entries in an archive. It is terminal.
	Invalid State = iota
	PendingDownload
	Downloading
	Downloaded
	Installed
)

var stateNames = map[State]string{
	Invalid:         "invalid",
	PendingDownload: "pending-download",
	Downloading:     "downloading",
	Downloaded:      "downloaded",
	Installed:       "installed",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// ParseState returns the State named by s.
func ParseState(s string) (State, error) {
	for st, n := range stateNames {
		if n == s {
			return st, nil
		}
	}
	return Invalid, fmt.Errorf("unknown record state '%s'", s)
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(text []byte) error {
	st, err := ParseState(string(text))
	if err != nil {
		return err
	}
	*s = st
	return nil
}

// TransitionError is returned when a record is asked to move to a state
// that does not directly follow its current one.
type TransitionError struct {
	Identity string
	From, To State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("record %s: illegal transition %s -> %s", e.Identity, e.From, e.To)
}

// Record is one unit of work: a network download or an installable file.
type Record struct {
	// Identity is the output path relative to the install root.
	Identity string
	// SourceURL is set only for download records.
	SourceURL string
	// OutputPath is the final installed location.
	OutputPath string
	// TempPath is the scratch location used while downloading.
	TempPath string
	// BackupPath is set once an existing file at OutputPath has been backed up.
	BackupPath string
	// ExpectedDigest is the SHA-1 the downloaded file must match. Zero means
	// the file is expected to be absent.
	ExpectedDigest digest.Digest

	State State
}

// NewDownload returns a record for a network download, pending a worker.
func NewDownload(identity, url, tempPath string, expected digest.Digest) *Record {
	return &Record{
		Identity:       identity,
		SourceURL:      url,
		OutputPath:     tempPath,
		TempPath:       tempPath,
		ExpectedDigest: expected,
		State:          PendingDownload,
	}
}

// NewEntry returns a record for an archive entry that is ready to install.
func NewEntry(identity, outputPath string) *Record {
	return &Record{
		Identity:   identity,
		OutputPath: outputPath,
		State:      Downloaded,
	}
}

// NewInvalid returns a terminal record for an entry that is skipped.
func NewInvalid(identity string) *Record {
	return &Record{Identity: identity, State: Invalid}
}

// Advance moves the record to the next state. Only the single step
// PendingDownload -> Downloading -> Downloaded -> Installed is permitted.
func (r *Record) Advance(to State) error {
	if r.State == Invalid || to != r.State+1 || to > Installed {
		return &TransitionError{Identity: r.Identity, From: r.State, To: to}
	}
	r.State = to
	return nil
}

// IsDownload reports whether the record represents a network download.
func (r *Record) IsDownload() bool { return r.SourceURL != "" }

// List is the ordered set of records owned by a run: downloads first, then
// archive entries in container order.
type List struct {
	records []*Record
}

// Append adds records to the end of the list.
func (l *List) Append(rs ...*Record) {
	l.records = append(l.records, rs...)
}

// Len returns the number of records.
func (l *List) Len() int { return len(l.records) }

// At returns the i-th record.
func (l *List) At(i int) *Record { return l.records[i] }

// All returns the records in order. The slice must not be modified.
func (l *List) All() []*Record { return l.records }

// Count returns the number of records in state s.
func (l *List) Count(s State) int {
	n := 0
	for _, r := range l.records {
		if r.State == s {
			n++
		}
	}
	return n
}

// Find returns the first record with the given identity.
func (l *List) Find(identity string) (*Record, bool) {
	for _, r := range l.records {
		if r.Identity == identity {
			return r, true
		}
	}
	return nil, false
}
