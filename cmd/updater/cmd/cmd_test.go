package cmd

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bianoble/updater/internal/digest"
)

const fixture = "../../../internal/engine/testdata/package.7z"

// execute runs the root command with args after resetting global flags.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	configPath, dataDir, appDir, logLevel = "", "", "", ""
	workers = 0
	portable, verbose, quiet, noColor = false, false, false, false
	hashExpect = ""

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() { rootCmd.SetArgs(nil) })
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.HasPrefix(out, "updater dev\n") {
		t.Errorf("output = %q", out)
	}
}

func TestHash(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.bin")
	if err := os.WriteFile(path, nil, 0644); err != nil {
		t.Fatal(err)
	}
	const emptySHA1 = "da39a3ee5e6b4b0d3255bfef95601890afd80709"

	out, err := execute(t, "hash", path)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if out != emptySHA1+"  "+path+"\n" {
		t.Errorf("output = %q", out)
	}

	if _, err := execute(t, "hash", "--expect", strings.ToUpper(emptySHA1), path); err != nil {
		t.Errorf("matching --expect: %v", err)
	}
	_, err = execute(t, "hash", "--expect", strings.Repeat("0", 40), path)
	if err == nil || !strings.Contains(err.Error(), "sha1 mismatch") {
		t.Errorf("mismatching --expect: %v", err)
	}
	if _, err := execute(t, "hash", "--expect", "xyz", path); err == nil {
		t.Error("malformed --expect should fail")
	}
	if _, err := execute(t, "hash", filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("missing file should fail")
	}
}

func TestRunPortable(t *testing.T) {
	// The test changes directory below, so the fixture path must not be relative.
	archive, err := filepath.Abs(fixture)
	if err != nil {
		t.Fatal(err)
	}
	sum, err := digest.HashFile(archive)
	if err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, archive)
	}))
	defer srv.Close()

	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("HOME", t.TempDir())
	dir := t.TempDir()
	t.Chdir(dir)

	if err := os.MkdirAll(filepath.Join(dir, "updates"), 0755); err != nil {
		t.Fatal(err)
	}
	doc := fmt.Sprintf(`{"beta": {"linux-test": {"url": %q, "file": "package.7z", "sha1": %q}}}`, srv.URL+"/package.7z", sum)
	if err := os.WriteFile(filepath.Join(dir, "updates", "packages.json"), []byte(doc), 0644); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, "run", "linux-test", "beta", "--portable", "--no-color", "--log-level", "error")
	if err != nil {
		t.Fatalf("run: %v\n%s", err, out)
	}
	for _, want := range []string{"Searching for available updates...", "Downloading package.7z", "Update complete."} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	data, err := os.ReadFile(filepath.Join(dir, "bin", "tool.dll"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "tool v2\n" {
		t.Errorf("tool.dll = %q", data)
	}

	out, err = execute(t, "run", "linux-test", "nightly", "--portable", "--no-color", "--log-level", "error")
	if err == nil {
		t.Fatal("unknown channel should fail")
	}
	if n := strings.Count(out, "No package for channel 'nightly'"); n != 1 {
		t.Errorf("failure printed %d times, want once: %q", n, out)
	}
}

func TestRollbackWithoutJournal(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("HOME", t.TempDir())
	t.Chdir(t.TempDir())

	_, err := execute(t, "rollback", "--portable")
	if err == nil || !strings.Contains(err.Error(), "no interrupted update") {
		t.Errorf("rollback: %v", err)
	}
}
