// Package scheduler runs a fixed pool of download workers over a record list.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/bianoble/updater/internal/digest"
	"github.com/bianoble/updater/internal/fetch"
	"github.com/bianoble/updater/internal/record"
	"github.com/bianoble/updater/internal/session"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// DefaultWorkers is the pool size used when Scheduler.Workers is zero.
const DefaultWorkers = 1

// MaxWorkers bounds the pool size.
const MaxWorkers = 4

// Fetcher streams a URL to a file. *fetch.Fetcher implements it.
type Fetcher interface {
	Fetch(ctx context.Context, url, dest string, header http.Header, sess *session.Session) (int, error)
}

// Kind classifies a download failure.
type Kind int

const (
	KindTransport Kind = iota // fetch did not complete
	KindStatus                // server answered with a status other than 200
	KindVerify                // downloaded file could not be hashed
	KindIntegrity             // digest mismatch
)

// DownloadError describes why a record could not be downloaded. Its message
// is the status line shown to the user.
type DownloadError struct {
	Record string
	Kind   Kind
	Code   int // HTTP status for KindStatus, fetch code for KindTransport
	Err    error
}

func (e *DownloadError) Error() string {
	switch e.Kind {
	case KindTransport:
		return fmt.Sprintf("Update failed: Could not download %s (error code %d)", e.Record, e.Code)
	case KindStatus:
		return fmt.Sprintf("Update failed: %s (error code %d)", e.Record, e.Code)
	case KindVerify:
		return fmt.Sprintf("Update failed: Couldn't verify integrity of %s", e.Record)
	default:
		return fmt.Sprintf("Update failed: Integrity check failed on %s", e.Record)
	}
}

func (e *DownloadError) Unwrap() error { return e.Err }

// Scheduler downloads every PendingDownload record in a list.
type Scheduler struct {
	Fetcher Fetcher
	Workers int
	Header  http.Header // extra request headers
}

// Run starts the worker pool and blocks until every worker has exited.
// It returns the first worker failure, or an error wrapping
// session.ErrCancelled if the run was cancelled.
func (s *Scheduler) Run(ctx context.Context, list *record.List, sess *session.Session) error {
	n := s.Workers
	if n <= 0 {
		n = DefaultWorkers
	}
	if n > MaxWorkers {
		n = MaxWorkers
	}

	q := NewQueue(list)

	// A plain group: one worker failing must not cut off transfers that
	// are already in flight on the others.
	var g errgroup.Group
	for i := 0; i < n; i++ {
		log := sess.Log.WithField("worker", i)
		g.Go(func() error {
			return s.work(ctx, q, sess, log)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if sess.Cancelled() {
		return session.ErrCancelled
	}
	return nil
}

func (s *Scheduler) work(ctx context.Context, q *Queue, sess *session.Session, log logrus.FieldLogger) error {
	for {
		if sess.Cancelled() {
			return session.ErrCancelled
		}
		if sess.Failed() {
			return nil
		}

		r, ok := q.Claim()
		if !ok {
			return nil
		}

		rlog := log.WithField("record", r.Identity)
		if err := s.download(ctx, r, sess); err != nil {
			_ = os.Remove(r.TempPath)
			if errors.Is(err, session.ErrCancelled) {
				rlog.Info("download cancelled")
				return err
			}
			sess.Fail()
			rlog.WithError(err).Error("download failed")
			return err
		}

		if err := q.Complete(r); err != nil {
			sess.Fail()
			return err
		}
		sess.DownloadDone()
		rlog.Debug("download verified")
	}
}

// download fetches one record into its temp path and verifies its digest.
func (s *Scheduler) download(ctx context.Context, r *record.Record, sess *session.Session) error {
	sess.Status(fmt.Sprintf("Downloading %s", r.Identity))

	status, err := s.Fetcher.Fetch(ctx, r.SourceURL, r.TempPath, s.Header, sess)
	if err != nil {
		var fe *fetch.Error
		if errors.As(err, &fe) {
			if fe.Code == fetch.CodeCancelled {
				return err
			}
			return &DownloadError{Record: r.Identity, Kind: KindTransport, Code: int(fe.Code), Err: err}
		}
		return &DownloadError{Record: r.Identity, Kind: KindTransport, Code: -1, Err: err}
	}
	if status != http.StatusOK {
		return &DownloadError{Record: r.Identity, Kind: KindStatus, Code: status}
	}

	got, err := digest.HashFile(r.TempPath)
	if err != nil {
		return &DownloadError{Record: r.Identity, Kind: KindVerify, Err: err}
	}
	if got != r.ExpectedDigest {
		return &DownloadError{
			Record: r.Identity,
			Kind:   KindIntegrity,
			Err:    fmt.Errorf("expected %s, got %s", r.ExpectedDigest, got),
		}
	}
	return nil
}
