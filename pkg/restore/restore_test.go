package restore_test

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/kraklabs/unitcache/pkg/cas"
	"github.com/kraklabs/unitcache/pkg/depinfo"
	"github.com/kraklabs/unitcache/pkg/fingerprint"
	"github.com/kraklabs/unitcache/pkg/hash"
	"github.com/kraklabs/unitcache/pkg/pathtoken"
	"github.com/kraklabs/unitcache/pkg/restore"
	"github.com/kraklabs/unitcache/pkg/unit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFS struct {
	mu           sync.Mutex
	existing     map[unit.Hash]bool
	written      map[string][]byte
	mtimes       map[string]time.Time
	fingerprints map[unit.Hash][]byte
	outDirs      map[unit.Hash]bool
	rootOutputs  map[unit.Hash]bool
	links        map[string]string
}

func newFakeFS() *fakeFS {
	return &fakeFS{
		existing:     map[unit.Hash]bool{},
		written:      map[string][]byte{},
		mtimes:       map[string]time.Time{},
		fingerprints: map[unit.Hash][]byte{},
		outDirs:      map[unit.Hash]bool{},
		rootOutputs:  map[unit.Hash]bool{},
		links:        map[string]string{},
	}
}

func (f *fakeFS) Exists(h unit.Hash) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.existing[h]
}

func (f *fakeFS) WriteFingerprint(h unit.Hash, mtime time.Time, text []byte, newHash hash.Key) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fingerprints[h] = text
	return nil
}

func (f *fakeFS) WriteFile(dest pathtoken.Token, executable bool, mtime time.Time, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := pathtoken.Encode(dest)
	f.written[key] = data
	f.mtimes[key] = mtime
	return nil
}

func (f *fakeFS) HardLink(from, to pathtoken.Token, mtime time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.links[pathtoken.Encode(to)] = pathtoken.Encode(from)
	return nil
}

func (f *fakeFS) EnsureOutDir(h unit.Hash) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outDirs[h] = true
	return nil
}

func (f *fakeFS) WriteRootOutput(h unit.Hash, mtime time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rootOutputs[h] = true
	return nil
}

// libCrateUnit builds a LibraryCrate unit whose output is already
// written to store, plus a dep-info file (one real on-disk input,
// tokenized under the saving roots) also written to store so restore's
// re-render step has something valid to decode.
func libCrateUnit(t *testing.T, store *cas.Store, h unit.Hash, path string, content []byte) unit.SavedUnit {
	t.Helper()
	require.NoError(t, store.Write(hash.Sum(content), bytes.NewReader(content)))

	savingRoots := pathtoken.Roots{Workspace: "/ws", TargetProfile: "/ws/target/debug"}
	depInfoFile := depinfo.Parse(savingRoots, []byte(path+": /ws/src/lib.rs\n"))
	depInfoBytes := depinfo.Encode(depInfoFile)
	depInfoKey := hash.Sum(depInfoBytes)
	require.NoError(t, store.Write(depInfoKey, bytes.NewReader(depInfoBytes)))

	return unit.NewLibraryCrate(
		unit.PlanInfo{UnitHash: h, Package: string(h), Crate: string(h)},
		unit.LibraryCrateFiles{
			Outputs:       []unit.SavedFile{{Content: hash.Sum(content), Path: pathtoken.Token{Anchor: pathtoken.TargetProfile, Rel: path}}},
			Fingerprint:   unit.Fingerprint(`{"deps":[]}`),
			RustcDepInfo:  unit.SavedFile{Content: depInfoKey, Path: pathtoken.Token{Anchor: pathtoken.TargetProfile, Rel: path + ".d"}},
			DriverDepInfo: unit.SavedFile{Content: depInfoKey, Path: pathtoken.Token{Anchor: pathtoken.TargetProfile, Rel: path + ".d"}},
		},
		unit.LibraryCratePlan{},
	)
}

func TestRestore_RestoresHitsAndSkipsMisses(t *testing.T) {
	store := cas.New(t.TempDir())
	content := []byte("compiled bytes")

	h := unit.Hash("serde-abc")
	su := libCrateUnit(t, store, h, "deps/libserde.rlib", content)

	fs := newFakeFS()
	restoringRoots := pathtoken.Roots{Workspace: "/tmp/wsB", TargetProfile: "/tmp/wsB/target/debug"}
	sched := &restore.Scheduler{CAS: store, FS: fs, Chain: fingerprint.NewChain(), Workers: 2, Roots: restoringRoots}

	results, err := sched.Restore(context.Background(), []unit.Hash{h, "missing-unit"}, map[unit.Hash]unit.SavedUnit{h: su})
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, restore.Restored, results[0].Outcome)
	assert.Equal(t, restore.Miss, results[1].Outcome)

	fs.mu.Lock()
	defer fs.mu.Unlock()
	assert.Equal(t, content, fs.written["target-profile:deps/libserde.rlib"])
	assert.Equal(t, restore.MtimeFor(0), fs.mtimes["target-profile:deps/libserde.rlib"])

	rendered := fs.written["target-profile:deps/libserde.rlib.d"]
	assert.Contains(t, string(rendered), "/tmp/wsB/src/lib.rs", "dep-info must re-render under the restoring workspace's roots, not the saving one")
	assert.NotContains(t, string(rendered), "/ws/src/lib.rs")
}

func TestRestore_SkipsUnitAlreadyOnDisk(t *testing.T) {
	store := cas.New(t.TempDir())
	h := unit.Hash("already-there")
	su := libCrateUnit(t, store, h, "deps/libfoo.rlib", []byte("x"))

	fs := newFakeFS()
	fs.existing[h] = true
	sched := &restore.Scheduler{CAS: store, FS: fs, Chain: fingerprint.NewChain(), Workers: 1}

	results, err := sched.Restore(context.Background(), []unit.Hash{h}, map[unit.Hash]unit.SavedUnit{h: su})
	require.NoError(t, err)
	assert.Equal(t, restore.Skipped, results[0].Outcome)

	fs.mu.Lock()
	defer fs.mu.Unlock()
	assert.Empty(t, fs.written)
}

func TestRestore_MissingContentKeyFailsUnit(t *testing.T) {
	store := cas.New(t.TempDir()) // empty; content key never written
	h := unit.Hash("u1")
	su := unit.NewLibraryCrate(
		unit.PlanInfo{UnitHash: h, Package: string(h), Crate: string(h)},
		unit.LibraryCrateFiles{
			Outputs:     []unit.SavedFile{{Content: hash.Sum([]byte("never-uploaded")), Path: pathtoken.Token{Anchor: pathtoken.TargetProfile, Rel: "deps/libfoo.rlib"}}},
			Fingerprint: unit.Fingerprint(`{"deps":[]}`),
		},
		unit.LibraryCratePlan{},
	)

	fs := newFakeFS()
	sched := &restore.Scheduler{CAS: store, FS: fs, Chain: fingerprint.NewChain(), Workers: 1}

	results, err := sched.Restore(context.Background(), []unit.Hash{h}, map[unit.Hash]unit.SavedUnit{h: su})
	require.NoError(t, err)
	assert.Equal(t, restore.Failed, results[0].Outcome)
	assert.Error(t, results[0].Err)
}

func TestRestore_MtimesAreTopologicallyOrdered(t *testing.T) {
	store := cas.New(t.TempDir())
	var units []unit.Hash
	hits := map[unit.Hash]unit.SavedUnit{}
	for i := 0; i < 5; i++ {
		h := unit.Hash(string(rune('a' + i)))
		content := []byte{byte(i)}
		hits[h] = libCrateUnit(t, store, h, "out-"+string(h), content)
		units = append(units, h)
	}

	fs := newFakeFS()
	sched := &restore.Scheduler{CAS: store, FS: fs, Chain: fingerprint.NewChain(), Workers: 3}
	_, err := sched.Restore(context.Background(), units, hits)
	require.NoError(t, err)

	for i, h := range units {
		key := "target-profile:out-" + string(h)
		assert.Equal(t, restore.MtimeFor(i), fs.mtimes[key])
	}
}
