// Package digest computes and encodes SHA-1 content digests.
package digest

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
)

// Size is the length of a digest in bytes.
const Size = sha1.Size

// chunkSize is the read size used when hashing files.
const chunkSize = 64 * 1024

// Digest is a 20-byte SHA-1 content hash. The zero value means
// "file absent".
type Digest [Size]byte

// Zero is the all-zero digest returned for missing files.
var Zero Digest

// ErrMalformed is returned when a hex string cannot be decoded into a Digest.
var ErrMalformed = errors.New("malformed digest")

// Sum returns the digest of b.
func Sum(b []byte) Digest {
	return Digest(sha1.Sum(b))
}

// HashFile returns the SHA-1 digest of the file at path.
// A missing file is not an error: the zero digest is returned.
func HashFile(path string) (Digest, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Zero, nil
	}
	if err != nil {
		return Zero, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	h := sha1.New()
	buf := make([]byte, chunkSize)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return Zero, fmt.Errorf("hashing %s: %w", path, err)
	}

	var d Digest
	copy(d[:], h.Sum(nil))
	return d, nil
}

// String returns the 40-character lowercase hex form of d.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// IsZero reports whether d is the all-zero digest.
func (d Digest) IsZero() bool {
	return d == Zero
}

// ParseHex decodes a 40-character hex string into a Digest.
func ParseHex(s string) (Digest, error) {
	if len(s) != hex.EncodedLen(Size) {
		return Zero, fmt.Errorf("%w: expected %d hex characters, got %d", ErrMalformed, hex.EncodedLen(Size), len(s))
	}
	var d Digest
	if _, err := hex.Decode(d[:], []byte(s)); err != nil {
		return Zero, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return d, nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Digest) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. An empty string
// decodes to the zero digest.
func (d *Digest) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*d = Zero
		return nil
	}
	parsed, err := ParseHex(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
