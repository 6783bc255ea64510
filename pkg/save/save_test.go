package save_test

import (
	"testing"

	"github.com/kraklabs/unitcache/pkg/cachekey"
	"github.com/kraklabs/unitcache/pkg/depinfo"
	"github.com/kraklabs/unitcache/pkg/hash"
	"github.com/kraklabs/unitcache/pkg/libc"
	"github.com/kraklabs/unitcache/pkg/metadatastore"
	"github.com/kraklabs/unitcache/pkg/pathtoken"
	"github.com/kraklabs/unitcache/pkg/save"
	"github.com/kraklabs/unitcache/pkg/unit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRoots() pathtoken.Roots {
	return pathtoken.Roots{Workspace: "/ws", TargetProfile: "/ws/target/debug", PackageCache: "/cache"}
}

func TestPrepareFile_DepInfoKeepsTokensUnresolved(t *testing.T) {
	raw := []byte("out.rlib: /ws/src/lib.rs\n")
	pf := save.PrepareFile(testRoots(), save.DepInfoFile, raw)
	assert.False(t, pf.Skipped)
	assert.Equal(t, hash.Sum(pf.Bytes), pf.Key)
	assert.NotContains(t, string(pf.Bytes), "/ws/src/lib.rs", "save-time absolute path must not survive into the stored bytes")
	assert.Contains(t, string(pf.Bytes), "workspace:src/lib.rs")
}

func TestPrepareFile_DepInfoReRendersUnderDifferentRoots(t *testing.T) {
	raw := []byte("out.rlib: /ws/src/lib.rs\n")
	pf := save.PrepareFile(testRoots(), save.DepInfoFile, raw)

	f, err := depinfo.Decode(pf.Bytes)
	require.NoError(t, err)

	otherRoots := pathtoken.Roots{Workspace: "/tmp/wsB", TargetProfile: "/tmp/wsB/target/debug", PackageCache: "/cache"}
	rendered := depinfo.Render(otherRoots, f)
	assert.Contains(t, string(rendered), "/tmp/wsB/src/lib.rs")
	assert.NotContains(t, string(rendered), "/ws/src/lib.rs")
}

func TestPrepareFile_PlainHashesRawBytes(t *testing.T) {
	raw := []byte("binary content")
	pf := save.PrepareFile(testRoots(), save.Plain, raw)
	assert.Equal(t, hash.Sum(raw), pf.Key)
	assert.Equal(t, raw, pf.Bytes)
}

func TestPrepareFile_RootOutputIsSkipped(t *testing.T) {
	pf := save.PrepareFile(testRoots(), save.RootOutputFile, []byte("/ws/target/debug/build/foo/out"))
	assert.True(t, pf.Skipped)
}

type fakeBlobSink struct {
	known   map[hash.Key]bool
	uploads map[hash.Key][]byte
}

func newFakeBlobSink() *fakeBlobSink {
	return &fakeBlobSink{known: map[hash.Key]bool{}, uploads: map[hash.Key][]byte{}}
}

func (f *fakeBlobSink) UnknownKeys(keys []hash.Key) ([]hash.Key, error) {
	var unknown []hash.Key
	for _, k := range keys {
		if !f.known[k] {
			unknown = append(unknown, k)
		}
	}
	return unknown, nil
}

func (f *fakeBlobSink) Upload(key hash.Key, data []byte) error {
	f.uploads[key] = data
	return nil
}

type fakeMetadataSink struct {
	saved []metadatastore.Entry
}

func (f *fakeMetadataSink) Save(entries []metadatastore.Entry) error {
	f.saved = append(f.saved, entries...)
	return nil
}

func TestPipeline_DedupesAndUploadsOnlyUnknown(t *testing.T) {
	sharedKey := hash.Sum([]byte("shared"))
	uniqueKey := hash.Sum([]byte("unique"))
	alreadyKnownKey := hash.Sum([]byte("known"))

	blobs := newFakeBlobSink()
	blobs.known[alreadyKnownKey] = true
	metadata := &fakeMetadataSink{}

	pipeline := &save.Pipeline{Blobs: blobs, Metadata: metadata}

	unitA := unit.NewLibraryCrate(unit.PlanInfo{UnitHash: "a"}, unit.LibraryCrateFiles{RustcDepInfo: unit.SavedFile{Content: sharedKey}, DriverDepInfo: unit.SavedFile{Content: alreadyKnownKey}}, unit.LibraryCratePlan{})
	unitB := unit.NewLibraryCrate(unit.PlanInfo{UnitHash: "b"}, unit.LibraryCrateFiles{RustcDepInfo: unit.SavedFile{Content: sharedKey}, DriverDepInfo: unit.SavedFile{Content: uniqueKey}}, unit.LibraryCratePlan{})

	units := []save.PreparedUnit{
		{Key: cachekey.Key{UnitHash: "a", Libc: libc.Fingerprint{Tag: libc.Musl}}, Unit: unitA, Blobs: map[hash.Key][]byte{sharedKey: []byte("shared"), alreadyKnownKey: []byte("known")}},
		{Key: cachekey.Key{UnitHash: "b", Libc: libc.Fingerprint{Tag: libc.Musl}}, Unit: unitB, Blobs: map[hash.Key][]byte{sharedKey: []byte("shared"), uniqueKey: []byte("unique")}},
	}

	require.NoError(t, pipeline.Save(units))

	assert.Len(t, blobs.uploads, 2) // sharedKey + uniqueKey; alreadyKnownKey skipped
	assert.Contains(t, blobs.uploads, sharedKey)
	assert.Contains(t, blobs.uploads, uniqueKey)
	assert.NotContains(t, blobs.uploads, alreadyKnownKey)

	assert.Len(t, metadata.saved, 2)
}
