package main

import (
	"fmt"
	"log"
	"net/http"
	"path/filepath"
	"runtime"
	"runtime/debug"

	"github.com/integrii/flaggy"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"github.com/kraklabs/unitcache/pkg/cachekey"
	"github.com/kraklabs/unitcache/pkg/cas"
	"github.com/kraklabs/unitcache/pkg/config"
	applog "github.com/kraklabs/unitcache/pkg/log"
	"github.com/kraklabs/unitcache/pkg/metadatastore"
	"github.com/kraklabs/unitcache/pkg/server"
)

const defaultVersion = "unversioned"

var (
	commit      string
	version     = defaultVersion
	date        string
	buildSource = "unknown"

	debuggingFlag bool
	addr          string
	casDir        string
	metadataPath  string
	generation    int
)

func main() {
	updateBuildInfo()

	info := fmt.Sprintf(
		"%s\nDate: %s\nBuildSource: %s\nCommit: %s\nOS: %s\nArch: %s",
		version, date, buildSource, commit, runtime.GOOS, runtime.GOARCH,
	)

	flaggy.SetName("unitcache-server")
	flaggy.SetDescription("cache server for unitcache's content-addressed build cache")
	flaggy.SetVersion(info)
	flaggy.Bool(&debuggingFlag, "d", "debug", "enable debug logging")
	flaggy.String(&addr, "a", "addr", "listen address (default :8080)")
	flaggy.String(&casDir, "", "cas-dir", "CAS blob root directory (default: <config-dir>/cas)")
	flaggy.String(&metadataPath, "", "metadata-path", "metadata bbolt file path (default: <config-dir>/metadata.db)")
	flaggy.Int(&generation, "g", "generation", "cache generation this server writes/restores under (default 1)")
	flaggy.Parse()

	if addr == "" {
		addr = ":8080"
	}
	if generation == 0 {
		generation = 1
	}

	appConfig, err := config.NewAppConfig("unitcache-server", version, commit, date, buildSource, debuggingFlag)
	if err != nil {
		log.Fatal(err)
	}

	if casDir == "" {
		casDir = filepath.Join(appConfig.ConfigDir, "cas")
	}
	if metadataPath == "" {
		metadataPath = filepath.Join(appConfig.ConfigDir, "metadata.db")
	}

	logEntry := applog.NewLogger(appConfig, "")

	metaStore, err := metadatastore.Open(metadataPath)
	if err != nil {
		log.Fatal(err)
	}
	defer metaStore.Close()

	srv := &server.Server{
		CAS:        cas.New(casDir),
		Metadata:   metaStore,
		Generation: cachekey.Generation(generation),
		Log:        logEntry,
	}

	logEntry.WithFields(logrus.Fields{
		"addr":         addr,
		"casDir":       casDir,
		"metadataPath": metadataPath,
		"generation":   generation,
	}).Info("unitcache-server listening")

	if err := http.ListenAndServe(addr, srv.Router()); err != nil {
		log.Fatal(err)
	}
}

func updateBuildInfo() {
	if version != defaultVersion {
		return
	}
	buildInfo, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	if revision, ok := lo.Find(buildInfo.Settings, func(setting debug.BuildSetting) bool {
		return setting.Key == "vcs.revision"
	}); ok {
		commit = revision.Value
		version = commit
		if len(version) > 7 {
			version = version[:7]
		}
	}
	if t, ok := lo.Find(buildInfo.Settings, func(setting debug.BuildSetting) bool {
		return setting.Key == "vcs.time"
	}); ok {
		date = t.Value
	}
}
