package updater

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/bianoble/updater/internal/digest"
	"github.com/bianoble/updater/internal/journal"
	"github.com/bianoble/updater/internal/record"
)

const fixture = "../../internal/engine/testdata/package.7z"

type collector struct {
	mu       sync.Mutex
	statuses []string
	percents []int
}

func (c *collector) Status(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statuses = append(c.statuses, text)
}

func (c *collector) Progress(p int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.percents = append(c.percents, p)
}

// setupPortable prepares a portable install in a temp dir with a manifest
// pointing at url, and keeps Load away from real user config.
func setupPortable(t *testing.T, url, sha1 string) string {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("HOME", t.TempDir())

	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "updates"), 0755); err != nil {
		t.Fatal(err)
	}
	doc := fmt.Sprintf("stable:\n  win64:\n    url: %s\n    file: package.7z\n    sha1: %s\n", url, sha1)
	if err := os.WriteFile(filepath.Join(dir, "updates", "packages.json"), []byte(doc), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "app.exe"), []byte("app v1\n"), 0644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func serve(t *testing.T) (string, string) {
	t.Helper()
	sum, err := digest.HashFile(fixture)
	if err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("User-Agent"); got != "updater/1.0" {
			http.Error(w, "bad user agent "+got, http.StatusBadRequest)
			return
		}
		http.ServeFile(w, r, fixture)
	}))
	t.Cleanup(srv.Close)
	return srv.URL + "/package.7z", sum.String()
}

func TestClientUpdate(t *testing.T) {
	url, sum := serve(t)
	dir := setupPortable(t, url, sum)

	obs := &collector{}
	var logs bytes.Buffer
	client, err := New(Options{
		WorkingDir: dir,
		Portable:   true,
		Platform:   "win64",
		Observer:   obs,
		LogOutput:  &logs,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if client.AppDir() != dir {
		t.Errorf("AppDir = %q, want %q", client.AppDir(), dir)
	}
	if client.Channel() != "stable" {
		t.Errorf("Channel = %q", client.Channel())
	}

	res, err := client.Update(context.Background())
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if res.Phase != Complete || res.Message != "Update complete." {
		t.Errorf("result = %+v", res)
	}
	if res.File != "package.7z" || res.SHA1 != sum || res.Installed != 2 {
		t.Errorf("result = %+v", res)
	}

	data, err := os.ReadFile(filepath.Join(dir, "app.exe"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "app v2\n" {
		t.Errorf("app.exe = %q", data)
	}
	if client.PendingRollback() {
		t.Error("journal should be removed after a complete update")
	}

	if len(obs.percents) == 0 || obs.percents[len(obs.percents)-1] != 100 {
		t.Errorf("progress = %v, want to end at 100", obs.percents)
	}
	for i := 1; i < len(obs.percents); i++ {
		if obs.percents[i] < obs.percents[i-1] {
			t.Errorf("progress decreased: %v", obs.percents)
		}
	}
	if !strings.Contains(logs.String(), "update complete") {
		t.Errorf("log output missing completion: %s", logs.String())
	}
}

func TestClientUpdateFailureMessage(t *testing.T) {
	url, _ := serve(t)
	dir := setupPortable(t, url, strings.Repeat("ab", 20))

	client, err := New(Options{WorkingDir: dir, Portable: true, Platform: "win64", LogOutput: &bytes.Buffer{}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res, err := client.Update(context.Background())
	if err == nil {
		t.Fatal("expected integrity failure")
	}
	if res.Phase != Failed || res.FailedIn != Downloading {
		t.Errorf("phase = %s failed in %s", res.Phase, res.FailedIn)
	}
	if res.Message != "Update failed: Integrity check failed on package.7z" {
		t.Errorf("message = %q", res.Message)
	}
}

func TestClientRollback(t *testing.T) {
	dir := setupPortable(t, "http://127.0.0.1:1/package.7z", strings.Repeat("ab", 20))
	client, err := New(Options{WorkingDir: dir, Portable: true, LogOutput: &bytes.Buffer{}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := client.Rollback(); err == nil || !strings.Contains(err.Error(), "no interrupted update") {
		t.Fatalf("Rollback without journal: %v", err)
	}

	// Simulate a run that installed app.exe and was killed.
	target := filepath.Join(dir, "app.exe")
	if err := os.Rename(target, target+".old"); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(target, []byte("half-installed"), 0644); err != nil {
		t.Fatal(err)
	}
	r := record.NewEntry("app.exe", target)
	r.State = record.Installed
	r.BackupPath = target + ".old"
	var list record.List
	list.Append(r)
	jpath := filepath.Join(dir, "updates", "journal.yaml")
	if err := journal.Save(jpath, journal.FromList("run-1", dir, &list)); err != nil {
		t.Fatal(err)
	}
	if !client.PendingRollback() {
		t.Fatal("PendingRollback should see the journal")
	}

	res, err := client.Rollback()
	if err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if res.RunID != "run-1" || res.Restored != 1 {
		t.Errorf("result = %+v", res)
	}
	data, err := os.ReadFile(target)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "app v1\n" {
		t.Errorf("app.exe = %q", data)
	}
	if client.PendingRollback() {
		t.Error("journal should be removed")
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	dir := setupPortable(t, "http://127.0.0.1:1/x", strings.Repeat("ab", 20))
	if _, err := New(Options{WorkingDir: dir, Portable: true, Workers: 9}); err == nil {
		t.Fatal("expected validation error for workers")
	}
}
