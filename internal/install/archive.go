package install

import (
	"bytes"
	"errors"
	"fmt"
	"hash/crc32"
	"os"
	"strings"

	"github.com/bodgit/sevenzip"
)

var (
	// ErrOpenArchive means the archive file could not be read at all.
	ErrOpenArchive = errors.New("could not open archive")
	// ErrUnsupportedArchive means the file is not a readable 7z container.
	ErrUnsupportedArchive = errors.New("archive type is unsupported")
	// ErrEntryCorrupt means an entry failed to decode or its CRC did not match.
	ErrEntryCorrupt = errors.New("archive entry is corrupt")

	errChecksum = errors.New("crc32 mismatch")
)

// Entry is one item in an archive, in container order.
type Entry interface {
	// Name is the slash-separated path of the entry inside the archive.
	Name() string
	IsDir() bool
	// ReadInto replaces buf's contents with the entry's bytes and verifies
	// the stored checksum.
	ReadInto(buf *bytes.Buffer) error
}

// Archive is an opened archive container.
type Archive interface {
	Entries() []Entry
	Close() error
}

// ArchiveError reports a container that could not be opened.
type ArchiveError struct {
	Path string
	Err  error
}

func (e *ArchiveError) Error() string {
	if errors.Is(e.Err, ErrUnsupportedArchive) {
		return "Archive type is unsupported"
	}
	return "Could not open archive"
}

func (e *ArchiveError) Unwrap() error { return e.Err }

// OpenArchive opens a 7z archive.
func OpenArchive(path string) (Archive, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &ArchiveError{Path: path, Err: fmt.Errorf("%w: %v", ErrOpenArchive, err)}
	}
	_ = f.Close()

	rc, err := sevenzip.OpenReader(path)
	if err != nil {
		return nil, &ArchiveError{Path: path, Err: fmt.Errorf("%w: %v", ErrUnsupportedArchive, err)}
	}

	a := &sevenZipArchive{rc: rc}
	for _, file := range rc.File {
		a.entries = append(a.entries, sevenZipEntry{f: file})
	}
	return a, nil
}

type sevenZipArchive struct {
	rc      *sevenzip.ReadCloser
	entries []Entry
}

func (a *sevenZipArchive) Entries() []Entry { return a.entries }
func (a *sevenZipArchive) Close() error     { return a.rc.Close() }

type sevenZipEntry struct {
	f *sevenzip.File
}

func (e sevenZipEntry) Name() string {
	return strings.TrimSuffix(strings.ReplaceAll(e.f.Name, `\`, "/"), "/")
}

func (e sevenZipEntry) IsDir() bool {
	return e.f.FileInfo().IsDir()
}

func (e sevenZipEntry) ReadInto(buf *bytes.Buffer) error {
	buf.Reset()
	if size := e.f.UncompressedSize; size > 0 && size < 1<<31 {
		buf.Grow(int(size))
	}

	rc, err := e.f.Open()
	if err != nil {
		return classifyRead(err)
	}
	defer rc.Close()

	if _, err := buf.ReadFrom(rc); err != nil {
		return classifyRead(err)
	}
	if uint64(buf.Len()) != e.f.UncompressedSize {
		return fmt.Errorf("%w: got %d bytes, want %d", ErrEntryCorrupt, buf.Len(), e.f.UncompressedSize)
	}
	// An unset CRC is stored as zero.
	if e.f.CRC32 != 0 && crc32.ChecksumIEEE(buf.Bytes()) != e.f.CRC32 {
		return fmt.Errorf("%w: %w", ErrEntryCorrupt, errChecksum)
	}
	return nil
}

// classifyRead maps decoder failures onto the package sentinels. Encrypted
// entries cannot be decoded without a password and count as unsupported.
func classifyRead(err error) error {
	var re *sevenzip.ReadError
	if errors.As(err, &re) && re.Encrypted {
		return fmt.Errorf("%w: %w", ErrUnsupportedArchive, err)
	}
	return fmt.Errorf("%w: %w", ErrEntryCorrupt, err)
}
