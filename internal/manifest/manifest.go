// Package manifest reads the update manifest and selects the package for a
// release channel and platform.
//
// The manifest maps channel -> platform -> package:
//
//	{
//	  "stable": {
//	    "win64": {"url": "https://example/pkg.7z", "file": "pkg.7z", "sha1": "..."}
//	  }
//	}
//
// JSON and YAML documents are both accepted.
package manifest

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"sort"
	"strings"

	"github.com/bianoble/updater/internal/digest"
	"github.com/bianoble/updater/internal/sandbox"
	"gopkg.in/yaml.v3"
)

var (
	// ErrRead means the manifest file could not be read.
	ErrRead = errors.New("could not open update manifest")
	// ErrParse means the manifest is not well-formed.
	ErrParse = errors.New("couldn't parse update manifest")
	// ErrNotFound means the channel or platform is not in the manifest.
	ErrNotFound = errors.New("no package in update manifest")
	// ErrInvalid means the selected package is missing a field or has a bad one.
	ErrInvalid = errors.New("invalid update manifest")
)

// Error describes a manifest failure. Its message is the status line shown
// to the user.
type Error struct {
	Channel  string
	Platform string
	Field    string
	Err      error
}

func (e *Error) Error() string {
	switch {
	case errors.Is(e.Err, ErrNotFound):
		return fmt.Sprintf("Update failed: No package for channel '%s' and platform '%s' in update manifest", e.Channel, e.Platform)
	case e.Field != "":
		return fmt.Sprintf("Update failed: Invalid update manifest: %s/%s: %v", e.Channel, e.Platform, e.Err)
	default:
		return "Update failed: " + capitalize(e.Err.Error())
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Package is the artifact selected for one channel and platform.
type Package struct {
	URL  string
	File string
	SHA1 digest.Digest
}

type rawPackage struct {
	URL  *string `yaml:"url"`
	File *string `yaml:"file"`
	SHA1 *string `yaml:"sha1"`
}

// Document is a parsed manifest.
type Document struct {
	channels map[string]map[string]rawPackage
}

// Load reads and parses the manifest at path.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &Error{Err: fmt.Errorf("%w: %v", ErrRead, err)}
	}
	return Parse(data)
}

// Parse decodes a JSON or YAML manifest.
func Parse(data []byte) (*Document, error) {
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, &Error{Err: fmt.Errorf("%w: %v", ErrParse, err)}
	}
	if len(node.Content) == 0 || node.Content[0].Kind != yaml.MappingNode {
		return nil, &Error{Err: ErrInvalid}
	}

	var channels map[string]map[string]rawPackage
	if err := node.Decode(&channels); err != nil {
		return nil, &Error{Err: fmt.Errorf("%w: %v", ErrInvalid, err)}
	}
	return &Document{channels: channels}, nil
}

// Channels returns the channel names in the manifest, sorted.
func (d *Document) Channels() []string {
	names := make([]string, 0, len(d.channels))
	for name := range d.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve returns the package for channel and platform. It requires url,
// file and a 40-character hex sha1.
func (d *Document) Resolve(channel, platform string) (Package, error) {
	plats, ok := d.channels[channel]
	if !ok {
		return Package{}, &Error{Channel: channel, Platform: platform, Err: ErrNotFound}
	}
	raw, ok := plats[platform]
	if !ok {
		return Package{}, &Error{Channel: channel, Platform: platform, Err: ErrNotFound}
	}

	fieldErr := func(field string, err error) error {
		return &Error{Channel: channel, Platform: platform, Field: field, Err: fmt.Errorf("%w: %s", ErrInvalid, err)}
	}

	if raw.URL == nil || *raw.URL == "" {
		return Package{}, fieldErr("url", errors.New("'url' is required"))
	}
	if raw.File == nil || *raw.File == "" {
		return Package{}, fieldErr("file", errors.New("'file' is required"))
	}
	if strings.ContainsAny(*raw.File, `/\`) {
		return Package{}, fieldErr("file", fmt.Errorf("'file' must be a plain file name, got '%s'", *raw.File))
	}
	if err := sandbox.CheckName(*raw.File); err != nil {
		return Package{}, fieldErr("file", err)
	}
	if raw.SHA1 == nil || *raw.SHA1 == "" {
		return Package{}, fieldErr("sha1", errors.New("'sha1' is required"))
	}
	if *raw.SHA1 != strings.ToLower(*raw.SHA1) {
		return Package{}, fieldErr("sha1", fmt.Errorf("'sha1' must be lowercase hex, got '%s'", *raw.SHA1))
	}
	sum, err := digest.ParseHex(*raw.SHA1)
	if err != nil {
		return Package{}, fieldErr("sha1", fmt.Errorf("'sha1' %v", err))
	}

	return Package{URL: *raw.URL, File: *raw.File, SHA1: sum}, nil
}

// DefaultPlatform returns the platform key for the running binary: "win"
// for 32-bit Windows, "win64" for other Windows builds and GOOS-GOARCH
// everywhere else.
func DefaultPlatform() string {
	return platformFor(runtime.GOOS, runtime.GOARCH)
}

func platformFor(goos, goarch string) string {
	if goos == "windows" {
		if goarch == "386" {
			return "win"
		}
		return "win64"
	}
	return goos + "-" + goarch
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
