package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"

	"github.com/go-errors/errors"
	"github.com/integrii/flaggy"
	"github.com/jesseduffield/yaml"
	lookup "github.com/mcuadros/go-lookup"
	"github.com/mgutz/str"
	"github.com/samber/lo"

	"github.com/kraklabs/unitcache/pkg/app"
	"github.com/kraklabs/unitcache/pkg/cachekey"
	"github.com/kraklabs/unitcache/pkg/config"
	"github.com/kraklabs/unitcache/pkg/fingerprint"
	"github.com/kraklabs/unitcache/pkg/harvest"
	"github.com/kraklabs/unitcache/pkg/hash"
	"github.com/kraklabs/unitcache/pkg/libc"
	lockpkg "github.com/kraklabs/unitcache/pkg/lock"
	"github.com/kraklabs/unitcache/pkg/pathtoken"
	"github.com/kraklabs/unitcache/pkg/planproj"
	"github.com/kraklabs/unitcache/pkg/progresstui"
	"github.com/kraklabs/unitcache/pkg/restore"
	"github.com/kraklabs/unitcache/pkg/save"
	"github.com/kraklabs/unitcache/pkg/statshistory"
	"github.com/kraklabs/unitcache/pkg/summary"
	"github.com/kraklabs/unitcache/pkg/unit"
	"github.com/kraklabs/unitcache/pkg/utils"
	"github.com/kraklabs/unitcache/pkg/wire"
	"github.com/kraklabs/unitcache/pkg/workspacefs"
)

const defaultVersion = "unversioned"

var (
	commit      string
	version     = defaultVersion
	date        string
	buildSource = "unknown"

	configFlag    bool
	debuggingFlag bool
	tuiFlag       bool

	workspaceDir string
	targetDir    string
	packageCache string
	planPath     string
	driverArgv   string

	statsCount int

	unitHashArg string
	inspectPath string
)

func main() {
	updateBuildInfo()

	info := fmt.Sprintf(
		"%s\nDate: %s\nBuildSource: %s\nCommit: %s\nOS: %s\nArch: %s",
		version, date, buildSource, commit, runtime.GOOS, runtime.GOARCH,
	)

	flaggy.SetName("unitcache")
	flaggy.SetDescription("content-addressed unit cache for incremental Cargo builds")
	flaggy.SetVersion(info)
	flaggy.Bool(&configFlag, "c", "config", "Print the current default config")
	flaggy.Bool(&debuggingFlag, "d", "debug", "enable debug logging")
	flaggy.Bool(&tuiFlag, "", "tui", "show a live restore progress view instead of a flat summary")

	saveCmd := flaggy.NewSubcommand("save")
	saveCmd.Description = "harvest a build's compiled units into the cache"
	attachWorkspaceFlags(saveCmd)
	flaggy.AttachSubcommand(saveCmd, 1)

	restoreCmd := flaggy.NewSubcommand("restore")
	restoreCmd.Description = "materialize cached units into the build workspace"
	attachWorkspaceFlags(restoreCmd)
	flaggy.AttachSubcommand(restoreCmd, 1)

	resetCmd := flaggy.NewSubcommand("reset")
	resetCmd.Description = "delete every stored unit from the configured cache"
	flaggy.AttachSubcommand(resetCmd, 1)

	statsCmd := flaggy.NewSubcommand("stats")
	statsCmd.Description = "show a sparkline of recent restore hit rates"
	statsCmd.Int(&statsCount, "n", "count", "number of recent samples to show (default 30)")
	flaggy.AttachSubcommand(statsCmd, 1)

	inspectCmd := flaggy.NewSubcommand("inspect")
	inspectCmd.Description = "print a cached unit's saved record"
	inspectCmd.AddPositionalValue(&unitHashArg, "unit-hash", 1, true, "unit hash to inspect")
	inspectCmd.String(&inspectPath, "p", "path", "dotted field path into the saved unit to print, e.g. Outputs")
	flaggy.AttachSubcommand(inspectCmd, 1)

	flaggy.Parse()

	if configFlag {
		var buf bytes.Buffer
		if err := yaml.NewEncoder(&buf).Encode(config.GetDefaultConfig()); err != nil {
			log.Fatal(err)
		}
		fmt.Println(buf.String())
		os.Exit(0)
	}

	appConfig, err := config.NewAppConfig("unitcache", version, commit, date, buildSource, debuggingFlag)
	if err != nil {
		log.Fatal(err)
	}

	a, err := app.NewApp(appConfig)
	if err != nil {
		log.Fatal(err)
	}
	defer a.Close()

	switch {
	case saveCmd.Used:
		err = runSave(a)
	case restoreCmd.Used:
		err = runRestore(a)
	case resetCmd.Used:
		err = runReset(a)
	case statsCmd.Used:
		err = runStats(a)
	case inspectCmd.Used:
		err = runInspect(a)
	default:
		flaggy.ShowHelpAndExit("")
	}

	if err != nil {
		if errMessage, known := a.KnownError(err); known {
			log.Println(errMessage)
			os.Exit(1)
		}

		wrapped := errors.Wrap(err, 0)
		a.Log.Error(wrapped.ErrorStack())
		log.Fatalf("unitcache: %s\n\n%s", err, wrapped.ErrorStack())
	}
}

func attachWorkspaceFlags(sc *flaggy.Subcommand) {
	sc.String(&workspaceDir, "w", "workspace", "workspace root (default: current directory)")
	sc.String(&targetDir, "t", "target-dir", "target profile directory (default: <workspace>/target/debug)")
	sc.String(&packageCache, "", "package-cache", "package cache root (e.g. CARGO_HOME)")
	sc.String(&planPath, "p", "plan", "path to the build driver's NDJSON invocation plan, or '-' for stdin")
	sc.String(&driverArgv, "", "driver", "run this build driver command and decode its event stream instead of reading --plan")
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
		version = utils.SafeTruncate(revision.Value, 7)
	}
	if t, ok := lo.Find(buildInfo.Settings, func(setting debug.BuildSetting) bool {
		return setting.Key == "vcs.time"
	}); ok {
		date = t.Value
	}
}

// buildRoots resolves the pathtoken.Roots the current subcommand's
// workspace/target-dir/package-cache flags describe.
func buildRoots() pathtoken.Roots {
	ws := workspaceDir
	if ws == "" {
		if wd, err := os.Getwd(); err == nil {
			ws = wd
		}
	}
	td := targetDir
	if td == "" {
		td = filepath.Join(ws, "target", "debug")
	}
	return pathtoken.Roots{Workspace: ws, TargetProfile: td, PackageCache: packageCache}.Normalize()
}

func acquireWorkspaceLock(roots pathtoken.Roots) (*lockpkg.File, error) {
	if err := os.MkdirAll(roots.TargetProfile, 0o755); err != nil {
		return nil, err
	}
	lf, err := lockpkg.Open(filepath.Join(roots.TargetProfile, ".unitcache.lock"))
	if err != nil {
		return nil, err
	}
	if err := lf.Acquire(); err != nil {
		return nil, err
	}
	return lf, nil
}

// loadInvocations reads the build-plan invocation list either from
// --plan (a file or stdin) or by running --driver as a subprocess
// through pkg/buildshell and decoding its live NDJSON event stream.
func loadInvocations(a *app.App) ([]planproj.Invocation, error) {
	if driverArgv != "" {
		return loadInvocationsFromDriver(a)
	}
	if planPath == "" {
		return nil, fmt.Errorf("unitcache: either --plan or --driver is required")
	}

	var r io.Reader
	if planPath == "-" {
		r = os.Stdin
	} else {
		f, err := os.Open(planPath)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}
	return planproj.DecodeInvocations(r)
}

func loadInvocationsFromDriver(a *app.App) ([]planproj.Invocation, error) {
	argv := str.ToArgv(driverArgv)
	if len(argv) == 0 {
		return nil, fmt.Errorf("unitcache: --driver command is empty")
	}

	events, err := a.Runner.Start(context.Background(), argv)
	if err != nil {
		return nil, err
	}

	var invs []planproj.Invocation
	for ev := range events {
		if ev.Err != nil {
			return nil, fmt.Errorf("unitcache: build driver: %w", ev.Err)
		}
		if ev.Line == "" {
			continue
		}
		inv, err := planproj.DecodeInvocationLine(ev.Line)
		if err != nil {
			return nil, fmt.Errorf("unitcache: decoding driver event: %w", err)
		}
		invs = append(invs, inv)
	}
	return invs, nil
}

func generationOf(a *app.App) cachekey.Generation {
	return cachekey.Generation(a.Config.UserConfig.Server.Generation)
}

// backends picks whichever of app.Local/app.Remote is configured as
// both the save pipeline's blob sink and its metadata sink; both
// LocalBackend and transport.Client satisfy save.BlobSink and
// save.MetadataSink.
func backends(a *app.App) (save.BlobSink, save.MetadataSink) {
	if a.Local != nil {
		return a.Local, a.Local
	}
	return a.Remote, a.Remote
}

// countingBlobSink wraps a save.BlobSink to recover the upload counts
// spec.md §7's save summary reports, since save.Pipeline.Save itself
// returns none.
type countingBlobSink struct {
	save.BlobSink
	total    int
	uploaded int
}

func (c *countingBlobSink) UnknownKeys(keys []hash.Key) ([]hash.Key, error) {
	c.total = len(keys)
	unknown, err := c.BlobSink.UnknownKeys(keys)
	if err != nil {
		return nil, err
	}
	c.uploaded = len(unknown)
	return unknown, nil
}

func runSave(a *app.App) error {
	roots := buildRoots()
	lf, err := acquireWorkspaceLock(roots)
	if err != nil {
		return err
	}
	defer lf.Release()

	invs, err := loadInvocations(a)
	if err != nil {
		return err
	}
	classified := planproj.Project(invs)

	hostLibc := libc.Detect()
	gen := generationOf(a)

	units := make([]save.PreparedUnit, 0, len(classified))
	for _, c := range classified {
		h, err := harvest.Unit(roots, c, harvest.DiskReader)
		if err != nil {
			return fmt.Errorf("unitcache: harvesting unit %s: %w", c.UnitHash, err)
		}
		units = append(units, save.PreparedUnit{
			Key:   cachekey.Key{Generation: gen, UnitHash: c.UnitHash, Libc: hostLibc},
			Unit:  h.Unit,
			Blobs: h.Blobs,
		})
	}

	blobSink, metaSink := backends(a)
	counting := &countingBlobSink{BlobSink: blobSink}
	pipeline := save.Pipeline{Blobs: counting, Metadata: metaSink}
	if err := pipeline.Save(units); err != nil {
		return err
	}

	report := summary.SaveReport{
		UnitsSaved:    len(units),
		BlobsUploaded: counting.uploaded,
		BlobsSkipped:  counting.total - counting.uploaded,
	}
	report.WriteTo(os.Stdout)
	return nil
}

// fetchHits resolves every ordered unit hash against the configured
// backend, keyed by unit.Hash for pkg/restore.Scheduler.
func fetchHits(a *app.App, ordered []unit.Hash, gen cachekey.Generation, hostLibc libc.Fingerprint) (map[unit.Hash]unit.SavedUnit, error) {
	if len(ordered) == 0 {
		return map[unit.Hash]unit.SavedUnit{}, nil
	}
	keys := make([]cachekey.Key, len(ordered))
	for i, h := range ordered {
		keys[i] = cachekey.Key{Generation: gen, UnitHash: h, Libc: hostLibc}
	}

	if a.Local != nil {
		byKey, err := a.Local.Metadata.Restore(keys, hostLibc)
		if err != nil {
			return nil, err
		}
		out := make(map[unit.Hash]unit.SavedUnit, len(byKey))
		for k, su := range byKey {
			out[k.UnitHash] = su
		}
		return out, nil
	}
	return a.Remote.Restore(keys)
}

// multiSink fans restore progress out to several sinks at once, used
// to drive pkg/progresstui's live view and pkg/summary's final report
// from the same restore run.
type multiSink []restore.Sink

func (m multiSink) OnUnit(r restore.UnitResult) {
	for _, s := range m {
		s.OnUnit(r)
	}
}

func programPath(plan unit.PlanInfo) pathtoken.Token {
	return pathtoken.Token{
		Anchor: pathtoken.TargetProfile,
		Rel:    filepath.ToSlash(filepath.Join("build", fmt.Sprintf("%s-%s", plan.Package, plan.UnitHash), "build-script-build")),
	}
}

func shortNamePath(plan unit.PlanInfo) pathtoken.Token {
	return pathtoken.Token{
		Anchor: pathtoken.TargetProfile,
		Rel:    filepath.ToSlash(filepath.Join("build", plan.Package, "build-script-build")),
	}
}

func recordHitRate(a *app.App, report *summary.RestoreReport, total int) {
	if total == 0 {
		return
	}
	hitRate := float64(report.Counts[restore.Restored]+report.Counts[restore.Skipped]) / float64(total)

	store, err := statshistory.Open(filepath.Join(a.Config.ConfigDir, "stats.db"))
	if err != nil {
		a.Log.WithError(err).Warn("could not open restore hit-rate history")
		return
	}
	defer store.Close()
	if err := store.Record(hitRate); err != nil {
		a.Log.WithError(err).Warn("could not record restore hit-rate sample")
	}
}

func runRestore(a *app.App) error {
	roots := buildRoots()
	lf, err := acquireWorkspaceLock(roots)
	if err != nil {
		return err
	}
	defer lf.Release()

	invs, err := loadInvocations(a)
	if err != nil {
		return err
	}
	classified := planproj.Project(invs)
	ordered := make([]unit.Hash, len(classified))
	for i, c := range classified {
		ordered[i] = c.UnitHash
	}

	hostLibc := libc.Detect()
	gen := generationOf(a)

	hits, err := fetchHits(a, ordered, gen, hostLibc)
	if err != nil {
		return err
	}
	if err := a.SyncForRestore(hits); err != nil {
		return err
	}

	fs := workspacefs.New(roots, hits)
	report := summary.NewRestoreReport()

	var sink restore.Sink = report
	var tuiDone chan struct{}
	var tuiErrCh chan error
	if tuiFlag {
		view := progresstui.New(len(ordered))
		sink = multiSink{view, report}
		tuiDone = make(chan struct{})
		tuiErrCh = make(chan error, 1)
		go func() { tuiErrCh <- view.Run(tuiDone) }()
	}

	sched := restore.Scheduler{
		CAS:           a.CAS,
		FS:            fs,
		Chain:         fingerprint.NewChain(),
		Workers:       a.Config.UserConfig.Worker.Count,
		Sink:          sink,
		Roots:         roots,
		ProgramPath:   programPath,
		ShortNamePath: shortNamePath,
	}

	_, restoreErr := sched.Restore(context.Background(), ordered, hits)

	if tuiFlag {
		close(tuiDone)
		if err := <-tuiErrCh; err != nil {
			a.Log.WithError(err).Warn("progress view exited with an error")
		}
	}

	report.WriteTo(os.Stdout)
	recordHitRate(a, report, len(ordered))

	return restoreErr
}

func runReset(a *app.App) error {
	if a.Local != nil {
		return a.Local.Metadata.Reset()
	}
	return a.Remote.Reset()
}

func runStats(a *app.App) error {
	count := statsCount
	if count <= 0 {
		count = 30
	}

	store, err := statshistory.Open(filepath.Join(a.Config.ConfigDir, "stats.db"))
	if err != nil {
		return err
	}
	defer store.Close()

	samples, err := store.Recent(count)
	if err != nil {
		return err
	}
	fmt.Println(summary.HitRateGraph(samples, 60, 10))
	return nil
}

func runInspect(a *app.App) error {
	gen := generationOf(a)
	hostLibc := libc.Detect()
	key := cachekey.Key{Generation: gen, UnitHash: unit.Hash(unitHashArg), Libc: hostLibc}

	var su unit.SavedUnit
	var found bool
	if a.Local != nil {
		hits, err := a.Local.Metadata.Restore([]cachekey.Key{key}, hostLibc)
		if err != nil {
			return err
		}
		su, found = hits[key]
	} else {
		hits, err := a.Remote.Restore([]cachekey.Key{key})
		if err != nil {
			return err
		}
		su, found = hits[unit.Hash(unitHashArg)]
	}
	if !found {
		return fmt.Errorf("unitcache: no cached unit %s under the current generation and libc fingerprint", unitHashArg)
	}

	wireUnit := wire.EncodeSavedUnit(su)

	if inspectPath != "" {
		value, err := lookup.LookupString(wireUnit, inspectPath)
		if err != nil {
			return fmt.Errorf("unitcache: %s: %w", inspectPath, err)
		}
		fmt.Println(value.Interface())
		return nil
	}

	out, err := utils.MarshalIntoYaml(wireUnit)
	if err != nil {
		return err
	}
	fmt.Println(utils.ColoredYamlString(string(out)))
	return nil
}
