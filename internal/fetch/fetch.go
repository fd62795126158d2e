// Package fetch streams a single HTTP GET to a file, inflating gzip bodies on
// the fly, reporting progress and honoring cancellation between chunks.
package fetch

import (
	"bufio"
	"compress/flate"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/bianoble/updater/internal/session"
	"github.com/sirupsen/logrus"
)

const (
	// ChunkSize is the size of each read from the response body.
	ChunkSize = 32 * 1024
	// InflateBufferSize is the size of the reused decompression output buffer.
	InflateBufferSize = 256 * 1024
)

// Code identifies why a fetch failed. Codes are negative so they can never
// be confused with an HTTP status.
type Code int

const (
	CodeConnect   Code = -(iota + 1) // request could not be sent or headers not read
	CodeRead                         // response body could not be read
	CodeDecode                       // gzip stream is invalid
	CodeWrite                        // destination could not be written
	CodeCancelled                    // run was cancelled
)

func (c Code) String() string {
	switch c {
	case CodeConnect:
		return "connect"
	case CodeRead:
		return "read"
	case CodeDecode:
		return "decode"
	case CodeWrite:
		return "write"
	case CodeCancelled:
		return "cancelled"
	}
	return fmt.Sprintf("code(%d)", int(c))
}

// Error is a fetch failure that is not an HTTP status.
type Error struct {
	Code Code
	URL  string
	Err  error
}

func (e *Error) Error() string {
	if e.Code == CodeCancelled {
		return fmt.Sprintf("fetching %s: cancelled", e.URL)
	}
	return fmt.Sprintf("fetching %s: %s failed: %v", e.URL, e.Code, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// HTTPClient abstracts HTTP operations for testing.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Fetcher performs streaming downloads.
type Fetcher struct {
	Client    HTTPClient    // nil = http.DefaultClient
	UserAgent string        // sent on every request when non-empty
	// InactivityTimeout aborts a transfer that makes no progress for this
	// long (0 = no limit).
	InactivityTimeout time.Duration
}

// Fetch issues a GET for url and streams the body to dest.
//
// It returns the HTTP status code and a nil error when the server answered;
// the caller must check the status. Only a 200 response is written to dest.
// On any other failure it returns 0 and an *Error, and dest does not exist.
func (f *Fetcher) Fetch(ctx context.Context, url, dest string, header http.Header, sess *session.Session) (int, error) {
	log := sess.Log.WithFields(logrus.Fields{"url": url, "dest": dest})

	ctx, wd := newWatchdog(ctx, f.InactivityTimeout)
	defer wd.Stop()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, &Error{Code: CodeConnect, URL: url, Err: fmt.Errorf("creating request: %w", err)}
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	// Setting the header explicitly keeps the transport from decoding the
	// body itself, so inflate happens here chunk by chunk.
	req.Header.Set("Accept-Encoding", "gzip")
	if f.UserAgent != "" {
		req.Header.Set("User-Agent", f.UserAgent)
	}

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, f.transportError(ctx, sess, url, CodeConnect, err)
	}
	defer resp.Body.Close()

	log.WithFields(logrus.Fields{
		"status":   resp.StatusCode,
		"length":   resp.ContentLength,
		"encoding": resp.Header.Get("Content-Encoding"),
	}).Debug("response received")

	if resp.StatusCode != http.StatusOK {
		return resp.StatusCode, nil
	}

	sess.AddExpected(resp.ContentLength)

	if err := f.stream(ctx, resp, url, dest, sess, wd); err != nil {
		return 0, err
	}
	return resp.StatusCode, nil
}

// stream copies the response body into dest. dest is removed on any failure.
func (f *Fetcher) stream(ctx context.Context, resp *http.Response, url, dest string, sess *session.Session, wd *watchdog) (err error) {
	out, err := os.Create(dest)
	if err != nil {
		return &Error{Code: CodeWrite, URL: url, Err: err}
	}

	success := false
	defer func() {
		if cerr := out.Close(); cerr != nil && success {
			success = false
			err = &Error{Code: CodeWrite, URL: url, Err: cerr}
		}
		if !success {
			_ = os.Remove(dest)
		}
	}()

	var (
		src     io.Reader = resp.Body
		buf     []byte
		gzipped bool
	)
	if strings.EqualFold(strings.TrimSpace(resp.Header.Get("Content-Encoding")), "gzip") {
		gz, err := gzip.NewReader(bufio.NewReaderSize(resp.Body, ChunkSize))
		if err != nil {
			return f.transportError(ctx, sess, url, CodeDecode, err)
		}
		defer gz.Close()
		src = gz
		buf = make([]byte, InflateBufferSize)
		gzipped = true
	} else {
		buf = make([]byte, ChunkSize)
	}

	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			wn, werr := out.Write(buf[:n])
			if werr == nil && wn != n {
				werr = io.ErrShortWrite
			}
			if werr != nil {
				return &Error{Code: CodeWrite, URL: url, Err: werr}
			}
			wd.Kick()
			sess.AddCompleted(int64(n))
		}
		if sess.Cancelled() {
			return &Error{Code: CodeCancelled, URL: url, Err: session.ErrCancelled}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			if gzipped && isCorrupt(rerr) {
				return f.transportError(ctx, sess, url, CodeDecode, rerr)
			}
			return f.transportError(ctx, sess, url, CodeRead, rerr)
		}
	}

	success = true
	return nil
}

// transportError classifies err, turning context cancellation into
// CodeCancelled and watchdog expiry into a timeout.
func (f *Fetcher) transportError(ctx context.Context, sess *session.Session, url string, code Code, err error) error {
	if sess.Cancelled() {
		return &Error{Code: CodeCancelled, URL: url, Err: session.ErrCancelled}
	}
	if expired(ctx) {
		return &Error{Code: code, URL: url, Err: fmt.Errorf("no data received for %s: %w", f.InactivityTimeout, os.ErrDeadlineExceeded)}
	}
	if ctx.Err() != nil {
		return &Error{Code: CodeCancelled, URL: url, Err: session.ErrCancelled}
	}
	return &Error{Code: code, URL: url, Err: err}
}

// isCorrupt reports whether a gzip read error came from the compressed
// stream rather than the underlying connection.
func isCorrupt(err error) bool {
	var ce flate.CorruptInputError
	return errors.As(err, &ce) ||
		errors.Is(err, gzip.ErrChecksum) ||
		errors.Is(err, gzip.ErrHeader) ||
		errors.Is(err, io.ErrUnexpectedEOF)
}
