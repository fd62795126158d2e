// Package session holds the state shared by every stage of a single update
// run: progress counters, the cancellation signal, the failure latch and the
// status observer. A Session is created at the start of a run and discarded
// at its end.
package session

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/bianoble/updater/internal/logging"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ErrCancelled is returned by any stage that stopped because the run was cancelled.
var ErrCancelled = errors.New("update cancelled")

// Observer receives human-readable status lines and overall progress.
type Observer interface {
	Status(text string)
	Progress(percent int)
}

// NopObserver discards all notifications.
type NopObserver struct{}

func (NopObserver) Status(string) {}
func (NopObserver) Progress(int)  {}

// Session is the run context passed to the fetcher, scheduler and installer.
type Session struct {
	ID  string
	Log logrus.FieldLogger

	ctx      context.Context
	cancel   context.CancelFunc
	observer Observer

	expected    atomic.Int64
	completed   atomic.Int64
	downloads   atomic.Int64
	lastPercent atomic.Int64
	failed      atomic.Bool
}

// New creates a Session derived from parent. Cancelling parent cancels the run.
func New(parent context.Context, observer Observer, log logrus.FieldLogger) *Session {
	if observer == nil {
		observer = NopObserver{}
	}
	if log == nil {
		log = logging.Discard()
	}
	id := uuid.NewString()
	ctx, cancel := context.WithCancel(parent)
	s := &Session{
		ID:       id,
		Log:      log.WithField("run_id", id),
		ctx:      ctx,
		cancel:   cancel,
		observer: observer,
	}
	s.lastPercent.Store(-1)
	return s
}

// Context returns the run's context. It is done once the run is cancelled.
func (s *Session) Context() context.Context { return s.ctx }

// Cancel sets the cancellation signal. It is never reset.
func (s *Session) Cancel() { s.cancel() }

// Cancelled reports whether the run has been cancelled.
func (s *Session) Cancelled() bool { return s.ctx.Err() != nil }

// Close releases the context resources. The session must not be used afterwards.
func (s *Session) Close() { s.cancel() }

// Fail sets the one-way failure latch.
func (s *Session) Fail() { s.failed.Store(true) }

// Failed reports whether any stage has set the failure latch.
func (s *Session) Failed() bool { return s.failed.Load() }

// AddExpected adds n bytes to the total expected download size.
func (s *Session) AddExpected(n int64) {
	if n > 0 {
		s.expected.Add(n)
	}
}

// AddCompleted adds n bytes to the completed counter and reports progress
// when the overall percentage has increased.
func (s *Session) AddCompleted(n int64) {
	if n <= 0 {
		return
	}
	s.completed.Add(n)
	s.reportProgress()
}

// Expected returns the total expected download size seen so far.
func (s *Session) Expected() int64 { return s.expected.Load() }

// Completed returns the number of bytes written so far.
func (s *Session) Completed() int64 { return s.completed.Load() }

// Percent returns floor(100 * completed / expected), capped at 100.
func (s *Session) Percent() int {
	total := s.expected.Load()
	if total <= 0 {
		return 0
	}
	p := s.completed.Load() * 100 / total
	if p > 100 {
		p = 100
	}
	return int(p)
}

// DownloadDone increments the completed-download counter.
func (s *Session) DownloadDone() { s.downloads.Add(1) }

// Downloads returns the number of completed downloads.
func (s *Session) Downloads() int { return int(s.downloads.Load()) }

// Status forwards a status line to the observer.
func (s *Session) Status(text string) {
	s.observer.Status(text)
}

// reportProgress notifies the observer only when the percentage grows, so
// concurrent workers never report a smaller value than one already shown.
func (s *Session) reportProgress() {
	p := int64(s.Percent())
	for {
		last := s.lastPercent.Load()
		if p <= last {
			return
		}
		if s.lastPercent.CompareAndSwap(last, p) {
			s.observer.Progress(int(p))
			return
		}
	}
}
