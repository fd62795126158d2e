// Package updater provides the public Go library API for the updater.
//
// A Client resolves one package from an update manifest by channel and
// platform, downloads and verifies it, and installs its contents over the
// application directory, rolling back on failure.
//
// # Basic Usage
//
//	client, err := updater.New(updater.Options{
//	    AppDir:  `C:\Program Files\App`,
//	    Channel: "stable",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	result, err := client.Update(ctx)
//	fmt.Println(result.Message)
package updater

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/bianoble/updater/internal/config"
	"github.com/bianoble/updater/internal/engine"
	"github.com/bianoble/updater/internal/fetch"
	"github.com/bianoble/updater/internal/install"
	"github.com/bianoble/updater/internal/logging"
	"github.com/bianoble/updater/internal/manifest"
	"github.com/sirupsen/logrus"
)

// Options configures a Client. Zero fields fall back to config files,
// UPDATER_* environment variables and defaults.
type Options struct {
	// ConfigFile is an explicit config file. It must exist when set.
	ConfigFile string
	// WorkingDir replaces the process working directory for portable mode
	// and the default AppDir.
	WorkingDir string

	DataDir  string
	AppDir   string
	Channel  string
	Platform string
	Portable bool
	Workers  int

	LogLevel  string
	LogFormat string

	// Observer receives progress. Nil discards it.
	Observer Observer
	// Logger overrides the logger built from the log.* settings.
	Logger logrus.FieldLogger
	// LogOutput is where the built logger writes. Default: os.Stderr.
	LogOutput io.Writer
	// HTTPClient replaces http.DefaultClient for downloads.
	HTTPClient fetch.HTTPClient
}

// Client is the main entry point for the updater library.
type Client struct {
	cfg    *config.Config
	engine *engine.Engine
	log    logrus.FieldLogger
}

// New resolves configuration and creates a Client.
func New(opts Options) (*Client, error) {
	cfg, err := config.Load(loadOptions(opts)...)
	if err != nil {
		return nil, err
	}
	if cfg.Platform == "" {
		cfg.Platform = manifest.DefaultPlatform()
	}

	log := opts.Logger
	if log == nil {
		w := opts.LogOutput
		if w == nil {
			w = os.Stderr
		}
		l, err := logging.New(cfg.Log.Level, cfg.Log.Format, w)
		if err != nil {
			return nil, err
		}
		log = l
	}

	e := &engine.Engine{
		Fetcher: &fetch.Fetcher{
			Client:            opts.HTTPClient,
			UserAgent:         cfg.UserAgent,
			InactivityTimeout: cfg.InactivityTimeout,
		},
		FS:  install.OSFS{},
		Log: log,
	}
	if opts.Observer != nil {
		e.Observer = opts.Observer
	}
	return &Client{cfg: cfg, engine: e, log: log}, nil
}

func loadOptions(opts Options) []config.Option {
	var out []config.Option
	if opts.ConfigFile != "" {
		out = append(out, config.WithConfigFile(opts.ConfigFile))
	}
	if opts.WorkingDir != "" {
		out = append(out, config.WithWorkingDir(opts.WorkingDir))
	}

	overrides := map[string]any{}
	setString := func(key, val string) {
		if val != "" {
			overrides[key] = val
		}
	}
	setString(config.KeyDataDir, opts.DataDir)
	setString(config.KeyAppDir, opts.AppDir)
	setString(config.KeyChannel, opts.Channel)
	setString(config.KeyPlatform, opts.Platform)
	setString(config.KeyLogLevel, opts.LogLevel)
	setString(config.KeyLogFormat, opts.LogFormat)
	if opts.Portable {
		overrides[config.KeyPortable] = true
	}
	if opts.Workers != 0 {
		overrides[config.KeyWorkers] = opts.Workers
	}
	if len(overrides) > 0 {
		out = append(out, config.WithOverrides(overrides))
	}
	return out
}

// Update runs one update. The returned Result is never nil; the error is
// non-nil when the update did not complete.
func (c *Client) Update(ctx context.Context) (*Result, error) {
	res, err := c.engine.Run(ctx, engine.Options{
		Channel:      c.cfg.Channel,
		Platform:     c.cfg.Platform,
		ManifestPath: c.cfg.ManifestPath,
		TempDir:      c.cfg.TempDir,
		AppDir:       c.cfg.AppDir,
		JournalPath:  c.cfg.JournalPath,
		Workers:      c.cfg.Workers,
		Header:       http.Header{},
	})

	out := &Result{
		RunID:     res.RunID,
		Phase:     res.Phase,
		Message:   res.Message,
		Cancelled: res.Cancelled,
		Channel:   c.cfg.Channel,
		Platform:  c.cfg.Platform,
		File:      res.Package.File,
		URL:       res.Package.URL,
		Installed: res.Installed,
		Bytes:     res.Bytes,
	}
	if !res.Package.SHA1.IsZero() {
		out.SHA1 = res.Package.SHA1.String()
	}
	if !res.Succeeded() {
		out.FailedIn = res.FailedIn
	}
	return out, err
}

// Rollback undoes an interrupted update recorded in the journal.
func (c *Client) Rollback() (*RollbackResult, error) {
	if _, err := os.Stat(c.cfg.JournalPath); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("no interrupted update to roll back (%s not found)", c.cfg.JournalPath)
		}
		return nil, err
	}
	return engine.Recover(c.cfg.JournalPath, install.OSFS{}, c.log)
}

// PendingRollback reports whether a journal from an interrupted update exists.
func (c *Client) PendingRollback() bool {
	_, err := os.Stat(c.cfg.JournalPath)
	return err == nil
}

// AppDir returns the resolved install root.
func (c *Client) AppDir() string { return c.cfg.AppDir }

// Channel returns the resolved release channel.
func (c *Client) Channel() string { return c.cfg.Channel }

// Platform returns the resolved platform key.
func (c *Client) Platform() string { return c.cfg.Platform }

// ManifestPath returns the resolved manifest location.
func (c *Client) ManifestPath() string { return c.cfg.ManifestPath }
