// Package engine sequences an update run: manifest resolution, download,
// extraction and installation, followed by cleanup or rollback.
package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/bianoble/updater/internal/fetch"
	"github.com/bianoble/updater/internal/install"
	"github.com/bianoble/updater/internal/journal"
	"github.com/bianoble/updater/internal/manifest"
	"github.com/bianoble/updater/internal/record"
	"github.com/bianoble/updater/internal/scheduler"
	"github.com/bianoble/updater/internal/session"
	"github.com/sirupsen/logrus"
)

// Status lines that are not failures.
const (
	MsgSearching = "Searching for available updates..."
	MsgComplete  = "Update complete."
	MsgAborted   = "Update aborted."
)

// ErrIncompleteDownload is returned when the scheduler finished without
// exactly one verified download.
var ErrIncompleteDownload = errors.New("Update failed: Download did not complete")

// Options selects what to update and where.
type Options struct {
	Channel      string
	Platform     string
	ManifestPath string
	// TempDir is created for the run and removed afterwards.
	TempDir string
	// AppDir is the install root.
	AppDir string
	// JournalPath, when set, receives a snapshot of the record list before
	// and during installation.
	JournalPath string
	Workers     int
	Header      http.Header
}

// Engine runs the pipeline. The zero value uses a default fetcher, the
// real filesystem and no observer.
type Engine struct {
	Fetcher  scheduler.Fetcher
	FS       install.FS
	Observer session.Observer
	Log      logrus.FieldLogger
}

// run holds the mutable state of one Run call.
type run struct {
	e    *Engine
	opts Options
	sess *session.Session
	log  logrus.FieldLogger
	list record.List
	res  *Result
}

// Run performs one update. It returns a Result in every case; the error is
// non-nil when the run did not complete, and wraps session.ErrCancelled when
// it was cancelled.
func (e *Engine) Run(ctx context.Context, opts Options) (*Result, error) {
	sess := session.New(ctx, e.Observer, e.Log)
	defer sess.Close()

	r := &run{e: e, opts: opts, sess: sess, log: sess.Log}
	r.res = &Result{RunID: sess.ID, Records: &r.list}
	defer func() { r.res.Bytes = sess.Completed() }()

	return r.execute()
}

func (r *run) execute() (*Result, error) {
	r.enter(ResolvingManifest)
	r.sess.Status(MsgSearching)

	doc, err := manifest.Load(r.opts.ManifestPath)
	if err != nil {
		return r.fail(err, false)
	}
	pkg, err := doc.Resolve(r.opts.Channel, r.opts.Platform)
	if err != nil {
		return r.fail(err, false)
	}
	r.res.Package = pkg
	r.log = r.log.WithFields(logrus.Fields{"file": pkg.File, "url": pkg.URL})
	if r.sess.Cancelled() {
		return r.fail(session.ErrCancelled, false)
	}

	if err := os.MkdirAll(r.opts.TempDir, 0755); err != nil {
		return r.fail(fmt.Errorf("Update failed: Couldn't create temp directory: %w", err), false)
	}
	archivePath := filepath.Join(r.opts.TempDir, pkg.File)
	// Only the archive and then the directory itself, if empty, are
	// removed; anything else found in TempDir is left alone.
	defer func() {
		if err := os.Remove(archivePath); err != nil && !errors.Is(err, os.ErrNotExist) {
			r.log.WithError(err).Warn("removing downloaded archive")
		}
		if err := os.Remove(r.opts.TempDir); err != nil && !errors.Is(err, os.ErrNotExist) {
			r.log.WithError(err).Warn("removing temp directory")
		}
	}()

	r.list.Append(record.NewDownload(pkg.File, pkg.URL, archivePath, pkg.SHA1))

	r.enter(Downloading)
	sched := &scheduler.Scheduler{Fetcher: r.fetcher(), Workers: r.opts.Workers, Header: r.opts.Header}
	// Download failures need no rollback: nothing is installed yet and
	// the temp directory is removed on return.
	if err := sched.Run(r.sess.Context(), &r.list, r.sess); err != nil {
		return r.fail(err, false)
	}
	if r.sess.Downloads() != 1 {
		return r.fail(ErrIncompleteDownload, false)
	}
	if r.sess.Cancelled() {
		return r.fail(session.ErrCancelled, false)
	}

	r.enter(Extracting)
	r.sess.Status(fmt.Sprintf("Extracting from %s...", pkg.File))
	archive, err := install.OpenArchive(archivePath)
	if err != nil {
		return r.fail(err, true)
	}
	open := true
	closeArchive := func() {
		if open {
			open = false
			if err := archive.Close(); err != nil {
				r.log.WithError(err).Warn("closing archive")
			}
		}
	}
	defer closeArchive()

	inst := &install.Installer{Root: r.opts.AppDir, FS: r.e.FS, Checkpoint: r.checkpoint}
	steps, err := inst.Plan(archive, &r.list)
	if err != nil {
		return r.fail(err, true)
	}

	// Cancellation is no longer honored: from here the run either
	// completes or rolls back.
	r.enter(Installing)
	if err := r.checkpoint(); err != nil {
		return r.fail(err, true)
	}
	if err := inst.Install(steps, r.sess); err != nil {
		closeArchive()
		return r.fail(err, true)
	}
	closeArchive()

	if err := install.Purge(&r.list, r.e.FS); err != nil {
		r.log.WithError(err).Warn("removing backups")
	}
	r.removeJournal()

	r.res.Installed = r.list.Count(record.Installed)
	r.enter(Complete)
	r.res.Message = MsgComplete
	r.sess.Status(MsgComplete)
	r.sess.Log.WithFields(logrus.Fields{"installed": r.res.Installed, "bytes": r.sess.Completed()}).Info("update complete")
	return r.res, nil
}

func (r *run) fetcher() scheduler.Fetcher {
	if r.e.Fetcher != nil {
		return r.e.Fetcher
	}
	return &fetch.Fetcher{}
}

func (r *run) enter(p Phase) {
	r.res.Phase = p
	r.log.WithField("phase", p).Debug("entering phase")
}

// fail ends the run. When rollback is set, installed and downloaded state is
// undone first; a clean rollback ends in RolledBack, otherwise the journal
// is left in place for a later rollback.
func (r *run) fail(err error, rollback bool) (*Result, error) {
	r.res.FailedIn = r.res.Phase
	r.res.Phase = Failed
	r.res.Cancelled = errors.Is(err, session.ErrCancelled)

	msg := err.Error()
	if r.res.Cancelled {
		msg = MsgAborted
	}
	r.log.WithError(err).WithField("phase", r.res.FailedIn).Error("update failed")

	if rollback {
		if rerr := install.Rollback(&r.list, r.e.FS); rerr != nil {
			r.log.WithError(rerr).Error("rollback incomplete")
			r.res.Message = msg
			r.sess.Status(msg)
			return r.res, errors.Join(err, fmt.Errorf("rollback incomplete: %w", rerr))
		}
		r.res.Phase = RolledBack
		r.removeJournal()
	}

	r.res.Message = msg
	r.sess.Status(msg)
	return r.res, err
}

// checkpoint persists the record list when a journal path is configured.
func (r *run) checkpoint() error {
	if r.opts.JournalPath == "" {
		return nil
	}
	j := journal.FromList(r.sess.ID, r.opts.AppDir, &r.list)
	if err := journal.Save(r.opts.JournalPath, j); err != nil {
		return fmt.Errorf("Update failed: Couldn't write update journal: %w", err)
	}
	return nil
}

func (r *run) removeJournal() {
	if r.opts.JournalPath == "" {
		return
	}
	if err := journal.Remove(r.opts.JournalPath); err != nil {
		r.log.WithError(err).Warn("removing journal")
	}
}
