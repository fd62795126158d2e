package scheduler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/bianoble/updater/internal/digest"
	"github.com/bianoble/updater/internal/fetch"
	"github.com/bianoble/updater/internal/record"
	"github.com/bianoble/updater/internal/session"
	"github.com/stretchr/testify/require"
)

const emptySHA1 = "da39a3ee5e6b4b0d3255bfef95601890afd80709"

type statusRecorder struct {
	mu    sync.Mutex
	lines []string
}

func (s *statusRecorder) Status(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, text)
}

func (s *statusRecorder) Progress(int) {}

func (s *statusRecorder) last() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.lines) == 0 {
		return ""
	}
	return s.lines[len(s.lines)-1]
}

// fakeFetcher serves bodies from memory and counts calls per URL.
type fakeFetcher struct {
	mu     sync.Mutex
	bodies map[string][]byte
	calls  map[string]int
	status int
	err    error
}

func (f *fakeFetcher) Fetch(ctx context.Context, url, dest string, _ http.Header, sess *session.Session) (int, error) {
	f.mu.Lock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[url]++
	body := f.bodies[url]
	f.mu.Unlock()

	if f.err != nil {
		return 0, f.err
	}
	if f.status != 0 && f.status != http.StatusOK {
		return f.status, nil
	}
	if err := os.WriteFile(dest, body, 0644); err != nil {
		return 0, err
	}
	sess.AddCompleted(int64(len(body)))
	return http.StatusOK, nil
}

func newSession(t *testing.T, obs session.Observer) *session.Session {
	t.Helper()
	s := session.New(context.Background(), obs, nil)
	t.Cleanup(s.Close)
	return s
}

func TestRunEmptyBodyMatchesEmptyDigest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	expected, err := digest.ParseHex(emptySHA1)
	require.NoError(t, err)

	tmp := filepath.Join(t.TempDir(), "pkg.7z")
	var list record.List
	list.Append(record.NewDownload("pkg.7z", srv.URL+"/pkg.7z", tmp, expected))

	sess := newSession(t, nil)
	s := &Scheduler{Fetcher: &fetch.Fetcher{}, Workers: 2}
	require.NoError(t, s.Run(context.Background(), &list, sess))

	require.Equal(t, record.Downloaded, list.At(0).State)
	require.Equal(t, 1, sess.Downloads())
	require.FileExists(t, tmp)
}

func TestRunIntegrityMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not empty"))
	}))
	defer srv.Close()

	expected, err := digest.ParseHex(emptySHA1)
	require.NoError(t, err)

	tmp := filepath.Join(t.TempDir(), "pkg.7z")
	var list record.List
	list.Append(record.NewDownload("pkg.7z", srv.URL+"/pkg.7z", tmp, expected))

	rec := &statusRecorder{}
	sess := newSession(t, rec)
	s := &Scheduler{Fetcher: &fetch.Fetcher{}}
	err = s.Run(context.Background(), &list, sess)
	require.Error(t, err)
	require.Contains(t, err.Error(), "Integrity check failed")
	require.EqualError(t, err, "Update failed: Integrity check failed on pkg.7z")
	// The failure line is left to the caller.
	require.Equal(t, "Downloading pkg.7z", rec.last())

	var de *DownloadError
	require.True(t, errors.As(err, &de))
	require.Equal(t, KindIntegrity, de.Kind)

	require.True(t, sess.Failed())
	require.NoFileExists(t, tmp)
	require.Zero(t, sess.Downloads())
	require.NotEqual(t, record.Downloaded, list.At(0).State)
}

func TestRunHTTPStatus(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	var list record.List
	list.Append(record.NewDownload("pkg.7z", srv.URL+"/pkg.7z", filepath.Join(t.TempDir(), "pkg.7z"), digest.Sum(nil)))

	sess := newSession(t, nil)
	err := (&Scheduler{Fetcher: &fetch.Fetcher{}}).Run(context.Background(), &list, sess)
	require.EqualError(t, err, "Update failed: pkg.7z (error code 404)")
}

func TestRunTransportError(t *testing.T) {
	var list record.List
	list.Append(record.NewDownload("pkg.7z", "http://example.invalid/pkg.7z", filepath.Join(t.TempDir(), "pkg.7z"), digest.Sum(nil)))

	f := &fakeFetcher{err: &fetch.Error{Code: fetch.CodeConnect, URL: "x", Err: errors.New("refused")}}
	sess := newSession(t, nil)
	err := (&Scheduler{Fetcher: f}).Run(context.Background(), &list, sess)
	require.EqualError(t, err, fmt.Sprintf("Update failed: Could not download pkg.7z (error code %d)", int(fetch.CodeConnect)))
	require.True(t, sess.Failed())
}

func TestRunEachRecordClaimedOnce(t *testing.T) {
	dir := t.TempDir()
	f := &fakeFetcher{bodies: make(map[string][]byte)}
	var list record.List
	for i := 0; i < 20; i++ {
		url := fmt.Sprintf("https://example/file%d", i)
		body := []byte(fmt.Sprintf("body %d", i))
		f.bodies[url] = body
		list.Append(record.NewDownload(fmt.Sprintf("file%d", i), url, filepath.Join(dir, fmt.Sprintf("file%d", i)), digest.Sum(body)))
	}

	sess := newSession(t, nil)
	require.NoError(t, (&Scheduler{Fetcher: f, Workers: MaxWorkers}).Run(context.Background(), &list, sess))

	require.Equal(t, 20, sess.Downloads())
	require.Len(t, f.calls, 20)
	for url, n := range f.calls {
		require.Equal(t, 1, n, "url %s fetched %d times", url, n)
	}
	for _, r := range list.All() {
		require.Equal(t, record.Downloaded, r.State)
	}
}

func TestRunFailureStopsClaiming(t *testing.T) {
	dir := t.TempDir()
	f := &fakeFetcher{bodies: map[string][]byte{"https://example/a": []byte("a"), "https://example/b": []byte("b")}}
	var list record.List
	list.Append(record.NewDownload("a", "https://example/a", filepath.Join(dir, "a"), digest.Sum([]byte("wrong"))))
	list.Append(record.NewDownload("b", "https://example/b", filepath.Join(dir, "b"), digest.Sum([]byte("b"))))

	sess := newSession(t, nil)
	err := (&Scheduler{Fetcher: f, Workers: 1}).Run(context.Background(), &list, sess)
	require.Error(t, err)
	require.Zero(t, f.calls["https://example/b"])
	require.Equal(t, record.PendingDownload, list.At(1).State)
}

func TestRunCancelled(t *testing.T) {
	f := &fakeFetcher{}
	var list record.List
	list.Append(record.NewDownload("a", "https://example/a", filepath.Join(t.TempDir(), "a"), digest.Zero))

	sess := newSession(t, nil)
	sess.Cancel()
	err := (&Scheduler{Fetcher: f, Workers: 2}).Run(context.Background(), &list, sess)
	require.ErrorIs(t, err, session.ErrCancelled)
	require.False(t, sess.Failed())
	require.Empty(t, f.calls)
}

func TestQueueConcurrentClaims(t *testing.T) {
	var list record.List
	for i := 0; i < 100; i++ {
		list.Append(record.NewDownload(fmt.Sprint(i), "u", "t", digest.Zero))
	}
	list.Append(record.NewEntry("app.exe", "/app/app.exe"))

	q := NewQueue(&list)
	var (
		mu      sync.Mutex
		claimed = make(map[*record.Record]int)
		wg      sync.WaitGroup
	)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				r, ok := q.Claim()
				if !ok {
					return
				}
				mu.Lock()
				claimed[r]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, claimed, 100)
	for r, n := range claimed {
		require.Equal(t, 1, n)
		require.Equal(t, record.Downloading, r.State)
		require.NoError(t, q.Complete(r))
	}
	require.Equal(t, record.Downloaded, list.At(100).State)
	require.Error(t, q.Complete(list.At(0)), "completing twice must fail")
}
