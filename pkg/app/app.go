// Package app is the composition root every unitcache CLI subcommand
// starts from: it opens the configured cache backend (a local
// pkg/cas/pkg/metadatastore pair, or a pkg/transport.Client against a
// cache server), the build-driver shell, and the logger, the way the
// teacher's pkg/app.NewApp wires DockerCommand/Gui/OSCommand from one
// config object.
package app

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kraklabs/unitcache/pkg/buildshell"
	"github.com/kraklabs/unitcache/pkg/cas"
	"github.com/kraklabs/unitcache/pkg/config"
	"github.com/kraklabs/unitcache/pkg/hash"
	"github.com/kraklabs/unitcache/pkg/log"
	"github.com/kraklabs/unitcache/pkg/metadatastore"
	"github.com/kraklabs/unitcache/pkg/transport"
	"github.com/kraklabs/unitcache/pkg/unit"
	"github.com/kraklabs/unitcache/pkg/utils"
)

// LocalBackend bundles the on-disk CAS store and metadata store used
// when no cache server is configured, and satisfies pkg/save's
// BlobSink and MetadataSink interfaces directly so the save pipeline
// doesn't need to know whether it's talking to disk or a server.
type LocalBackend struct {
	CAS      *cas.Store
	Metadata *metadatastore.Store
}

// UnknownKeys implements pkg/save.BlobSink.
func (b *LocalBackend) UnknownKeys(keys []hash.Key) ([]hash.Key, error) {
	unknown := make([]hash.Key, 0, len(keys))
	for _, k := range keys {
		ok, err := b.CAS.Exists(k)
		if err != nil {
			return nil, err
		}
		if !ok {
			unknown = append(unknown, k)
		}
	}
	return unknown, nil
}

// Upload implements pkg/save.BlobSink.
func (b *LocalBackend) Upload(key hash.Key, data []byte) error {
	return b.CAS.Write(key, bytes.NewReader(data))
}

// Save implements pkg/save.MetadataSink.
func (b *LocalBackend) Save(entries []metadatastore.Entry) error {
	return b.Metadata.Save(entries)
}

// App struct
type App struct {
	closers []io.Closer

	Config *config.AppConfig
	Log    *logrus.Entry
	Shell  *buildshell.Shell
	Runner *buildshell.Runner

	// CAS is always opened, even against a remote backend: the
	// restore scheduler (pkg/restore.Scheduler.CAS) reads from a
	// concrete on-disk store, so a remote restore first stages
	// downloaded blobs here (see SyncForRestore) before the scheduler
	// runs, and a local restore reads straight from it.
	CAS *cas.Store

	// Local is set when no cache server is configured: saves and
	// restores talk directly to an on-disk CAS/metadata pair.
	Local *LocalBackend
	// Remote is set when Config.UserConfig.Server.URL is non-empty.
	Remote *transport.Client
}

// NewApp bootstraps a new application, opening whichever cache backend
// config.UserConfig.Server.URL selects.
func NewApp(cfg *config.AppConfig) (*App, error) {
	app := &App{
		closers: []io.Closer{},
		Config:  cfg,
	}
	app.Log = log.NewLogger(cfg, "")
	app.Shell = buildshell.NewShell(app.Log, cfg)
	app.Runner = buildshell.NewRunner(app.Shell)
	app.CAS = cas.New(filepath.Join(cfg.ConfigDir, "cas"))

	if cfg.UserConfig.Server.URL != "" {
		app.Remote = &transport.Client{
			BaseURL:     strings.TrimSuffix(cfg.UserConfig.Server.URL, "/"),
			HTTP:        &http.Client{Timeout: 60 * time.Second},
			RetryBudget: cfg.UserConfig.Server.Retry.Budget,
			RetryPeriod: time.Duration(cfg.UserConfig.Server.Retry.PeriodMillis) * time.Millisecond,
		}
		return app, nil
	}

	metaStore, err := metadatastore.Open(filepath.Join(cfg.ConfigDir, "metadata.db"))
	if err != nil {
		return nil, err
	}
	app.closers = append(app.closers, metaStore)
	app.Local = &LocalBackend{
		CAS:      app.CAS,
		Metadata: metaStore,
	}
	return app, nil
}

// SyncForRestore ensures every content key referenced by hits is
// present in app.CAS before the restore scheduler runs, a no-op in
// local mode (hits and the CAS already share the same disk). In
// remote mode it downloads whatever keys app.CAS doesn't already hold
// via one bulk tar fetch.
func (app *App) SyncForRestore(hits map[unit.Hash]unit.SavedUnit) error {
	if app.Remote == nil {
		return nil
	}

	seen := make(map[hash.Key]bool)
	var missing []hash.Key
	for _, su := range hits {
		for _, k := range su.ContentKeys() {
			if k.Zero() || seen[k] {
				continue
			}
			seen[k] = true
			ok, err := app.CAS.Exists(k)
			if err != nil {
				return err
			}
			if !ok {
				missing = append(missing, k)
			}
		}
	}
	if len(missing) == 0 {
		return nil
	}

	return app.Remote.BulkDownload(missing, func(k hash.Key, raw []byte) error {
		return app.CAS.Write(k, bytes.NewReader(raw))
	})
}

// Close closes any resources opened by NewApp.
func (app *App) Close() error {
	return utils.CloseMany(app.closers)
}

type errorMapping struct {
	originalError string
	newError      string
}

// KnownError takes an error and tells us whether it's an error that we
// know about where we can print a nicely formatted version of it
// rather than panicking with a stack trace.
func (app *App) KnownError(err error) (string, bool) {
	errorMessage := err.Error()

	mappings := []errorMapping{
		{
			originalError: "connection refused",
			newError:      fmt.Sprintf("could not reach cache server at %s", app.Config.UserConfig.Server.URL),
		},
		{
			originalError: "lock: acquire",
			newError:      "another unitcache process is holding the lock on this target directory",
		},
	}

	for _, mapping := range mappings {
		if strings.Contains(errorMessage, mapping.originalError) {
			return mapping.newError, true
		}
	}

	return "", false
}
