// Package workspacefs is the real, disk-backed implementation of
// pkg/restore.Filesystem: it turns the scheduler's path tokens and
// unit hashes into actual files under a workspace's target-profile
// directory, the way pkg/lock's flock wrapper and pkg/cas's blob store
// both reach for raw os/golang.org/x/sys calls rather than a
// third-party filesystem abstraction — there is no pack dependency
// that models relocatable-path disk I/O, so this stays stdlib-only
// (see DESIGN.md).
package workspacefs

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kraklabs/unitcache/pkg/hash"
	"github.com/kraklabs/unitcache/pkg/pathtoken"
	"github.com/kraklabs/unitcache/pkg/unit"
)

// FS implements restore.Filesystem against a real workspace. Unlike
// the scheduler's call sites, which only ever carry a unit.Hash, FS
// is constructed with the plan info for every unit it will be asked
// about, since deriving a build-script-execution unit's OUT_DIR path
// requires its package name (§4.4).
type FS struct {
	Roots pathtoken.Roots
	Plans map[unit.Hash]unit.PlanInfo
}

// New builds an FS over roots, deriving its plan lookup from hits (the
// metadata-store response the scheduler is about to walk).
func New(roots pathtoken.Roots, hits map[unit.Hash]unit.SavedUnit) *FS {
	plans := make(map[unit.Hash]unit.PlanInfo, len(hits))
	for h, su := range hits {
		plans[h] = su.Plan
	}
	return &FS{Roots: roots.Normalize(), Plans: plans}
}

// fingerprintRecord is the on-disk shape of a unit's bookkeeping file:
// the rewritten fingerprint text plus the new hash it rewrote to, read
// back by Exists/restore to decide whether a unit is already present.
type fingerprintRecord struct {
	Hash unit.Hash `json:"hash"`
	Text string    `json:"text"`
	New  string    `json:"new"`
}

func (f *FS) bookkeepingDir(h unit.Hash) string {
	return filepath.Join(f.Roots.TargetProfile, ".unitcache", string(h))
}

func (f *FS) fingerprintPath(h unit.Hash) string {
	return filepath.Join(f.bookkeepingDir(h), "fingerprint.json")
}

// outDir derives the build-script-execution unit's OUT_DIR, following
// cargo's own build/<package>-<unit-hash>/out convention (§4.4); this
// one path is synthesized rather than tokenized because the unit's
// plan carries only its compiled program name, not a literal output
// directory token.
func (f *FS) outDir(h unit.Hash) string {
	plan := f.Plans[h]
	return filepath.Join(f.Roots.TargetProfile, "build", fmt.Sprintf("%s-%s", plan.Package, h), "out")
}

// Exists reports whether h's fingerprint bookkeeping file is already
// present, the on-disk signal that its outputs were previously
// restored (§4.6 case 2).
func (f *FS) Exists(h unit.Hash) bool {
	_, err := os.Stat(f.fingerprintPath(h))
	return err == nil
}

// WriteFingerprint persists the rewritten fingerprint text and its new
// hash in one JSON record, plus an empty invoked.timestamp file beside
// it, both stamped with mtime.
func (f *FS) WriteFingerprint(h unit.Hash, mtime time.Time, rewrittenText []byte, newHash hash.Key) error {
	path := f.fingerprintPath(h)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	rec := fingerprintRecord{Hash: h, Text: string(rewrittenText), New: newHash.String()}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return err
	}
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		return err
	}
	invoked := filepath.Join(filepath.Dir(path), "invoked.timestamp")
	if err := os.WriteFile(invoked, nil, 0o644); err != nil {
		return err
	}
	return os.Chtimes(invoked, mtime, mtime)
}

// WriteFile materializes data at dest, creating parent directories as
// needed and stamping the mtime schedule.
func (f *FS) WriteFile(dest pathtoken.Token, executable bool, mtime time.Time, data []byte) error {
	abs := pathtoken.Resolve(f.Roots, dest)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return err
	}
	mode := os.FileMode(0o644)
	if executable {
		mode = 0o755
	}
	if err := os.WriteFile(abs, data, mode); err != nil {
		return err
	}
	return os.Chtimes(abs, mtime, mtime)
}

// HardLink creates to as a hard link to from. Any stale file at to is
// removed first so re-restores don't fail on an existing link.
func (f *FS) HardLink(from, to pathtoken.Token, mtime time.Time) error {
	src := pathtoken.Resolve(f.Roots, from)
	dst := pathtoken.Resolve(f.Roots, to)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	if err := os.Remove(dst); err != nil && !os.IsNotExist(err) {
		return err
	}
	if err := os.Link(src, dst); err != nil {
		return err
	}
	return os.Chtimes(dst, mtime, mtime)
}

// EnsureOutDir creates h's OUT_DIR, even if restore writes no files
// into it.
func (f *FS) EnsureOutDir(h unit.Hash) error {
	return os.MkdirAll(f.outDir(h), 0o755)
}

// WriteRootOutput synthesizes the root-output file fresh: a single
// line naming h's OUT_DIR absolute path, written alongside it rather
// than restored from the CAS (§4.4).
func (f *FS) WriteRootOutput(h unit.Hash, mtime time.Time) error {
	dir := filepath.Dir(f.outDir(h))
	path := filepath.Join(dir, "root-output")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(f.outDir(h)+"\n"), 0o644); err != nil {
		return err
	}
	return os.Chtimes(path, mtime, mtime)
}
