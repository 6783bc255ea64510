// Package restore implements the restore scheduler of spec.md §4.6: a
// bounded worker pool that materializes cached units on disk in
// topological order, with deterministic epoch-anchored mtimes and
// batched bulk CAS reads.
//
// The worker pool is built on golang.org/x/sync/errgroup the way the
// rest of the pack's concurrent-fan-out code does (errgroup.WithContext
// plus a fixed goroutine count draining one channel), rather than the
// teacher's single-in-flight pkg/tasks.TaskManager, which models a
// different concurrency shape (one cancelable foreground task, not a
// bounded worker pool).
package restore

import (
	"context"
	"io"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kraklabs/unitcache/pkg/buildscript"
	"github.com/kraklabs/unitcache/pkg/cas"
	"github.com/kraklabs/unitcache/pkg/depinfo"
	"github.com/kraklabs/unitcache/pkg/errtax"
	"github.com/kraklabs/unitcache/pkg/fingerprint"
	"github.com/kraklabs/unitcache/pkg/hash"
	"github.com/kraklabs/unitcache/pkg/pathtoken"
	"github.com/kraklabs/unitcache/pkg/save"
	"github.com/kraklabs/unitcache/pkg/unit"
)

// Epoch anchors the mtime schedule at 1970-01-01, per spec.md §4.6.
var Epoch = time.Unix(0, 0).UTC()

// MtimeFor returns the mtime assigned to every file of the unit at
// position i in the topologically ordered restore list.
func MtimeFor(i int) time.Time {
	return Epoch.Add(time.Duration(i) * time.Second)
}

// Outcome classifies how a unit's restore resolved.
type Outcome int

const (
	Miss Outcome = iota
	Skipped
	Restored
	Failed
)

// UnitResult is reported once per unit in topological order.
type UnitResult struct {
	Hash    unit.Hash
	Outcome Outcome
	Err     error
}

// Sink receives restore progress, the way pkg/progresstui's gocui view
// and pkg/summary's CLI report both consume it.
type Sink interface {
	OnUnit(UnitResult)
}

// Filesystem is the set of side-effecting operations the scheduler
// needs from the target profile directory; cmd/unitcache wires
// pkg/workspacefs, tests use a fake.
type Filesystem interface {
	// Exists reports whether unit h's outputs are already materialized
	// on disk, checked via presence of its fingerprint-JSON file
	// (spec.md §4.6 case 2).
	Exists(h unit.Hash) bool

	// WriteFingerprint writes the rewritten fingerprint text, its new
	// hash, and an invoked-timestamp file matching mtime.
	WriteFingerprint(h unit.Hash, mtime time.Time, rewrittenText []byte, newHash hash.Key) error

	// WriteFile writes data to dest with the given executable bit and
	// mtime, creating parent directories as needed.
	WriteFile(dest pathtoken.Token, executable bool, mtime time.Time, data []byte) error

	// HardLink creates to as a hard link to from, both stamped mtime.
	HardLink(from, to pathtoken.Token, mtime time.Time) error

	// EnsureOutDir creates the OUT_DIR directory for a build-script
	// execution unit, even if it would otherwise be empty.
	EnsureOutDir(h unit.Hash) error

	// WriteRootOutput synthesizes the root-output file (the absolute
	// OUT_DIR path) fresh, per spec.md §4.4.
	WriteRootOutput(h unit.Hash, mtime time.Time) error
}

// Scheduler restores units onto disk.
type Scheduler struct {
	CAS     *cas.Store
	FS      Filesystem
	Chain   *fingerprint.Chain
	Workers int
	Sink    Sink

	// Roots is the restoring workspace's path anchors, used to
	// re-render dep-info and build-script-stdout content under this
	// workspace rather than whatever workspace saved it (spec.md §1).
	Roots pathtoken.Roots

	// ProgramPath and ShortNamePath locate a BuildScriptCompilation
	// unit's compiled program: its hash-qualified path (the CAS
	// restore target) and the short-name path it must also appear at,
	// restored as a hard link to the first (spec.md §4.6). Both are
	// required if the caller restores build-script-compilation units.
	ProgramPath   func(plan unit.PlanInfo) pathtoken.Token
	ShortNamePath func(plan unit.PlanInfo) pathtoken.Token
}

type fileJob struct {
	unitIdx    int
	hash       unit.Hash
	key        hash.Key
	kind       save.FileKind
	dest       pathtoken.Token
	executable bool
	mtime      time.Time
	hardLinkTo *pathtoken.Token
}

const maxBatch = 50

// state is the scheduler's shared mutable bookkeeping across the
// producer loop and the worker pool, guarded by mu.
type state struct {
	mu      sync.Mutex
	results []UnitResult
	pending []int
}

func (s *state) setResult(i int, r UnitResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[i] = r
}

func (s *state) decrementAndMaybeComplete(i int) (UnitResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[i]--
	if s.pending[i] == 0 && s.results[i].Outcome != Failed {
		s.results[i].Outcome = Restored
		return s.results[i], true
	}
	return UnitResult{}, false
}

func (s *state) fail(i int, h unit.Hash, err error) UnitResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[i] = UnitResult{Hash: h, Outcome: Failed, Err: err}
	return s.results[i]
}

// Restore walks ordered units (already topologically sorted) against
// hits, the metadata-store response. Returns one UnitResult per
// ordered unit, in order. If any worker returns a fatal error, the
// pool drains in-flight jobs and that error is also returned.
func (s *Scheduler) Restore(ctx context.Context, ordered []unit.Hash, hits map[unit.Hash]unit.SavedUnit) ([]UnitResult, error) {
	st := &state{
		results: make([]UnitResult, len(ordered)),
		pending: make([]int, len(ordered)),
	}

	jobs := make(chan fileJob, maxBatch*2)
	g, gctx := errgroup.WithContext(ctx)

	workers := s.Workers
	if workers < 1 {
		workers = 1
	}
	for w := 0; w < workers; w++ {
		g.Go(func() error { return s.drain(gctx, jobs, st) })
	}

	for i, h := range ordered {
		mtime := MtimeFor(i)
		su, ok := hits[h]
		if !ok {
			st.setResult(i, UnitResult{Hash: h, Outcome: Miss})
			s.report(st.results[i])
			continue
		}

		if s.FS.Exists(h) {
			if _, _, _, err := fingerprint.Rewrite([]byte(su.FingerprintString()), s.Chain); err != nil {
				s.report(st.fail(i, h, err))
				continue
			}
			st.setResult(i, UnitResult{Hash: h, Outcome: Skipped})
			s.report(st.results[i])
			continue
		}

		newText, _, newHash, err := fingerprint.Rewrite([]byte(su.FingerprintString()), s.Chain)
		if err != nil {
			s.report(st.fail(i, h, err))
			continue
		}
		if err := s.FS.WriteFingerprint(h, mtime, newText, newHash); err != nil {
			s.report(st.fail(i, h, err))
			continue
		}

		files := s.collectFiles(su, i, h, mtime)
		st.mu.Lock()
		st.pending[i] = len(files)
		st.results[i].Hash = h
		st.mu.Unlock()

		if su.Kind == unit.BuildScriptExecution {
			if err := s.FS.EnsureOutDir(h); err != nil {
				s.report(st.fail(i, h, err))
				continue
			}
			if err := s.FS.WriteRootOutput(h, mtime); err != nil {
				s.report(st.fail(i, h, err))
				continue
			}
		}

		if len(files) == 0 {
			st.setResult(i, UnitResult{Hash: h, Outcome: Restored})
			s.report(st.results[i])
			continue
		}

		for _, f := range files {
			select {
			case jobs <- f:
			case <-gctx.Done():
			}
		}
	}
	close(jobs)

	err := g.Wait()
	return st.results, err
}

func (s *Scheduler) collectFiles(su unit.SavedUnit, unitIdx int, h unit.Hash, mtime time.Time) []fileJob {
	var jobs []fileJob
	add := func(f unit.SavedFile, kind save.FileKind) {
		if f.Content.Zero() {
			return
		}
		jobs = append(jobs, fileJob{unitIdx: unitIdx, hash: h, key: f.Content, kind: kind, dest: f.Path, executable: f.Executable, mtime: mtime})
	}
	switch su.Kind {
	case unit.LibraryCrate:
		files, _ := su.LibraryCrate()
		for _, f := range files.Outputs {
			add(f, save.Plain)
		}
		add(files.RustcDepInfo, save.DepInfoFile)
		add(files.DriverDepInfo, save.DepInfoFile)
	case unit.BuildScriptCompilation:
		files, _ := su.BuildScriptCompilation()
		job := fileJob{unitIdx: unitIdx, hash: h, key: files.Program, mtime: mtime, executable: true}
		if s.ProgramPath != nil {
			job.dest = s.ProgramPath(su.Plan)
		}
		if s.ShortNamePath != nil {
			short := s.ShortNamePath(su.Plan)
			job.hardLinkTo = &short
		}
		jobs = append(jobs, job)
		add(files.RustcDepInfo, save.DepInfoFile)
		add(files.DriverDepInfo, save.DepInfoFile)
	case unit.BuildScriptExecution:
		files, _ := su.BuildScriptExecution()
		for _, f := range files.OutDir {
			add(f, save.Plain)
		}
		add(files.Stdout, save.BuildScriptStdoutFile)
		add(files.Stderr, save.Plain)
	}
	return jobs
}

func (s *Scheduler) drain(ctx context.Context, jobs <-chan fileJob, st *state) error {
	batch := make([]fileJob, 0, maxBatch)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		err := s.restoreBatch(batch, st)
		batch = batch[:0]
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case job, ok := <-jobs:
			if !ok {
				return flush()
			}
			batch = append(batch, job)
			if len(batch) >= maxBatch {
				if err := flush(); err != nil {
					return err
				}
			}
		}
	}
}

func (s *Scheduler) restoreBatch(batch []fileJob, st *state) error {
	byKey := make(map[hash.Key][]fileJob, len(batch))
	var keys []hash.Key
	for _, j := range batch {
		if _, seen := byKey[j.key]; !seen {
			keys = append(keys, j.key)
		}
		byKey[j.key] = append(byKey[j.key], j)
	}

	satisfied := make(map[hash.Key]bool, len(keys))
	err := s.CAS.ReadBulk(keys, func(k hash.Key, rc io.ReadCloser) error {
		defer rc.Close()
		data, err := io.ReadAll(rc)
		if err != nil {
			return err
		}
		satisfied[k] = true
		for _, j := range byKey[k] {
			out, err := s.render(j.kind, data)
			if err != nil {
				return err
			}
			if err := s.FS.WriteFile(j.dest, j.executable, j.mtime, out); err != nil {
				return err
			}
			if j.hardLinkTo != nil {
				if err := s.FS.HardLink(j.dest, *j.hardLinkTo, j.mtime); err != nil {
					return err
				}
			}
			if r, done := st.decrementAndMaybeComplete(j.unitIdx); done {
				s.report(r)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	// Any key the bulk read never satisfied is a miss or corruption;
	// per spec.md §3, every content key referenced by a saved unit
	// must resolve or the entire unit restore fails.
	for key, js := range byKey {
		if satisfied[key] {
			continue
		}
		for _, j := range js {
			r := st.fail(j.unitIdx, j.hash, errtax.Newf(errtax.NotFound, "restore: content key %s not found", key))
			s.report(r)
		}
	}
	return nil
}

// render resolves a batch-read blob's tokenized content, if any, under
// the restoring workspace's roots — the counterpart of save.PrepareFile
// parsing it under the saving workspace's roots. A Plain blob passes
// through unchanged.
func (s *Scheduler) render(kind save.FileKind, data []byte) ([]byte, error) {
	switch kind {
	case save.DepInfoFile:
		f, err := depinfo.Decode(data)
		if err != nil {
			return nil, err
		}
		return depinfo.Render(s.Roots, f), nil
	case save.BuildScriptStdoutFile:
		st, err := buildscript.Decode(data)
		if err != nil {
			return nil, err
		}
		return buildscript.Render(s.Roots, st), nil
	default:
		return data, nil
	}
}

func (s *Scheduler) report(r UnitResult) {
	if s.Sink != nil {
		s.Sink.OnUnit(r)
	}
}
