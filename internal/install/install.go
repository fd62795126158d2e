// Package install extracts a downloaded archive over the install root,
// backing up every file it replaces so the run can be rolled back.
package install

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/bianoble/updater/internal/record"
	"github.com/bianoble/updater/internal/sandbox"
	"github.com/bianoble/updater/internal/session"
	"github.com/sirupsen/logrus"
)

// BackupSuffix is appended to a target's path to name its backup.
const BackupSuffix = ".old"

// ErrFileInUse means a target could not be replaced because another
// process holds it open.
var ErrFileInUse = errors.New("file in use")

// Kind classifies an entry failure.
type Kind int

const (
	KindCorrupt Kind = iota // entry bytes failed to decode or verify
	KindUnsafe              // entry name escapes the install root
	KindBackup              // existing target could not be backed up
	KindInUse               // existing target is held open
	KindUpdate              // existing target could not be replaced
	KindInstall             // new target could not be created
)

// EntryError reports the archive entry that stopped installation. Its
// message is the status line shown to the user.
type EntryError struct {
	Entry string
	Kind  Kind
	Err   error
}

func (e *EntryError) Error() string {
	switch e.Kind {
	case KindCorrupt:
		if errors.Is(e.Err, ErrUnsupportedArchive) {
			return "Archive type is unsupported"
		}
		return fmt.Sprintf("CRC error for file %s", e.Entry)
	case KindUnsafe:
		return fmt.Sprintf("Update failed: Unsafe path %s", e.Entry)
	case KindBackup:
		return fmt.Sprintf("Update failed: Couldn't backup %s", e.Entry)
	case KindInUse:
		return fmt.Sprintf("Update failed: %s is still in use. Close all programs and try again.", e.Entry)
	case KindUpdate:
		return fmt.Sprintf("Update failed: Couldn't update %s", e.Entry)
	default:
		return fmt.Sprintf("Update failed: Couldn't install %s", e.Entry)
	}
}

func (e *EntryError) Unwrap() error { return e.Err }

// Is lets callers test for ErrFileInUse without inspecting Kind.
func (e *EntryError) Is(target error) bool {
	return target == ErrFileInUse && e.Kind == KindInUse
}

// FS abstracts the file operations the installer performs.
type FS interface {
	Stat(path string) (os.FileInfo, error)
	MkdirAll(path string, perm os.FileMode) error
	// WriteFile must replace path atomically.
	WriteFile(path string, data []byte, perm os.FileMode) error
	CopyFile(src, dst string) error
	Remove(path string) error
	Rename(oldpath, newpath string) error
	// CheckWritable opens an existing file for writing and closes it. A
	// running executable or a file locked by another process fails here
	// even where replacing it by rename would succeed.
	CheckWritable(path string) error
}

// OSFS implements FS on the real filesystem.
type OSFS struct{}

func (OSFS) Stat(path string) (os.FileInfo, error)        { return os.Stat(path) }
func (OSFS) MkdirAll(path string, perm os.FileMode) error { return os.MkdirAll(path, perm) }
func (OSFS) WriteFile(path string, data []byte, perm os.FileMode) error {
	return sandbox.WriteFile(path, data, perm)
}
func (OSFS) CopyFile(src, dst string) error       { return sandbox.CopyFile(src, dst) }
func (OSFS) Remove(path string) error             { return os.Remove(path) }
func (OSFS) Rename(oldpath, newpath string) error { return os.Rename(oldpath, newpath) }
func (OSFS) CheckWritable(path string) error {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	return f.Close()
}

// Step pairs an archive entry with the record tracking its installation.
type Step struct {
	Entry  Entry
	Record *record.Record
}

// Installer writes archive entries under Root.
type Installer struct {
	Root string
	FS   FS // nil = OSFS
	// Checkpoint, if set, is called before an existing file is backed up
	// and after each entry is installed. An error stops the installation.
	Checkpoint func() error
}

func (in *Installer) fs() FS {
	if in.FS == nil {
		return OSFS{}
	}
	return in.FS
}

// Plan appends one record per archive entry to list, in container order.
// Directory entries become Invalid records. Every file entry name is
// checked against the install root before anything is written.
func (in *Installer) Plan(a Archive, list *record.List) ([]Step, error) {
	var steps []Step
	for _, e := range a.Entries() {
		name := e.Name()
		if e.IsDir() {
			list.Append(record.NewInvalid(name))
			continue
		}

		if err := sandbox.CheckName(name); err != nil {
			return nil, &EntryError{Entry: name, Kind: KindUnsafe, Err: err}
		}
		target, err := sandbox.ValidatePath(in.Root, name)
		if err != nil {
			return nil, &EntryError{Entry: name, Kind: KindUnsafe, Err: err}
		}

		r := record.NewEntry(name, target)
		list.Append(r)
		steps = append(steps, Step{Entry: e, Record: r})
	}
	return steps, nil
}

// Install extracts and installs every step in order, stopping at the first
// failure. Records that were installed before the failure keep their
// Installed state and backup paths so Rollback can undo them.
func (in *Installer) Install(steps []Step, sess *session.Session) error {
	var buf bytes.Buffer
	for _, st := range steps {
		r := st.Record
		log := sess.Log.WithField("record", r.Identity)

		sess.Status(fmt.Sprintf("Extracting %s...", r.Identity))
		if err := st.Entry.ReadInto(&buf); err != nil {
			return &EntryError{Entry: r.Identity, Kind: KindCorrupt, Err: err}
		}

		if err := in.installOne(r, buf.Bytes()); err != nil {
			log.WithError(err).Error("install failed")
			return err
		}
		if err := r.Advance(record.Installed); err != nil {
			return err
		}
		log.WithFields(logrus.Fields{"bytes": buf.Len(), "backup": r.BackupPath}).Debug("installed")
		if err := in.checkpoint(); err != nil {
			return err
		}
	}
	return nil
}

func (in *Installer) checkpoint() error {
	if in.Checkpoint == nil {
		return nil
	}
	return in.Checkpoint()
}

func (in *Installer) installOne(r *record.Record, data []byte) error {
	fsys := in.fs()
	target := r.OutputPath

	info, err := fsys.Stat(target)
	switch {
	case err == nil:
		if info.IsDir() {
			return &EntryError{Entry: r.Identity, Kind: KindUpdate, Err: fmt.Errorf("%s is a directory", target)}
		}
		// The pending backup is checkpointed before it is taken so an
		// interrupted run can still restore it.
		r.BackupPath = target + BackupSuffix
		if err := in.checkpoint(); err != nil {
			r.BackupPath = ""
			return err
		}
		if err := fsys.CopyFile(target, r.BackupPath); err != nil {
			r.BackupPath = ""
			return &EntryError{Entry: r.Identity, Kind: KindBackup, Err: err}
		}
		err := fsys.CheckWritable(target)
		if err == nil {
			err = fsys.WriteFile(target, data, info.Mode().Perm())
		}
		if err != nil {
			_ = fsys.Remove(r.BackupPath)
			r.BackupPath = ""
			kind := KindUpdate
			if isFileInUse(err) {
				kind = KindInUse
			}
			return &EntryError{Entry: r.Identity, Kind: kind, Err: err}
		}
		if r.TempPath != "" {
			_ = fsys.Remove(r.TempPath)
		}
		return nil

	case errors.Is(err, fs.ErrNotExist):
		if err := fsys.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return &EntryError{Entry: r.Identity, Kind: KindInstall, Err: err}
		}
		if err := fsys.WriteFile(target, data, 0644); err != nil {
			kind := KindInstall
			if isFileInUse(err) {
				kind = KindInUse
			}
			return &EntryError{Entry: r.Identity, Kind: kind, Err: err}
		}
		return nil

	default:
		return &EntryError{Entry: r.Identity, Kind: KindUpdate, Err: err}
	}
}

// Purge deletes every backup made during the run. Failures are logged by the
// caller and do not undo the installation.
func Purge(list *record.List, fsys FS) error {
	if fsys == nil {
		fsys = OSFS{}
	}
	var errs []error
	for _, r := range list.All() {
		if r.State != record.Installed || r.BackupPath == "" {
			continue
		}
		if err := fsys.Remove(r.BackupPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, fmt.Errorf("removing backup %s: %w", r.BackupPath, err))
		}
	}
	return errors.Join(errs...)
}

// Rollback restores the pre-update filesystem: installed files are replaced
// by their backups or deleted, and downloaded temp files are removed. It
// keeps going after a failure and returns every error it met.
func Rollback(list *record.List, fsys FS) error {
	if fsys == nil {
		fsys = OSFS{}
	}
	var errs []error
	for _, r := range list.All() {
		switch r.State {
		case record.Installed:
			if err := fsys.Remove(r.OutputPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
				errs = append(errs, fmt.Errorf("removing %s: %w", r.OutputPath, err))
				continue
			}
			if r.BackupPath == "" {
				continue
			}
			if err := fsys.Rename(r.BackupPath, r.OutputPath); err != nil {
				errs = append(errs, fmt.Errorf("restoring %s: %w", r.OutputPath, err))
			}
		case record.Downloaded:
			// A backup recorded before the overwrite finished is put back.
			if r.BackupPath != "" {
				if err := fsys.Rename(r.BackupPath, r.OutputPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
					errs = append(errs, fmt.Errorf("restoring %s: %w", r.OutputPath, err))
				}
			}
			if r.TempPath == "" {
				continue
			}
			if err := fsys.Remove(r.TempPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
				errs = append(errs, fmt.Errorf("removing %s: %w", r.TempPath, err))
			}
		}
	}
	return errors.Join(errs...)
}
