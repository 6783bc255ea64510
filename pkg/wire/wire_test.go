package wire_test

import (
	"encoding/json"
	"testing"

	"github.com/kraklabs/unitcache/pkg/hash"
	"github.com/kraklabs/unitcache/pkg/libc"
	"github.com/kraklabs/unitcache/pkg/pathtoken"
	"github.com/kraklabs/unitcache/pkg/unit"
	"github.com/kraklabs/unitcache/pkg/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSavedUnit_LibraryCrateRoundTrips(t *testing.T) {
	plan := unit.PlanInfo{UnitHash: "u1", Package: "serde", Crate: "serde"}
	u := unit.NewLibraryCrate(plan,
		unit.LibraryCrateFiles{
			Outputs:       []unit.SavedFile{{Executable: false, Content: hash.Sum([]byte("a")), Path: pathtoken.Token{Anchor: pathtoken.TargetProfile, Rel: "deps/libserde.rlib"}}},
			Fingerprint:   "fp1",
			RustcDepInfo:  unit.SavedFile{Content: hash.Sum([]byte("rdi")), Path: pathtoken.Token{Anchor: pathtoken.TargetProfile, Rel: "deps/libserde.d"}},
			DriverDepInfo: unit.SavedFile{Content: hash.Sum([]byte("ddi")), Path: pathtoken.Token{Anchor: pathtoken.TargetProfile, Rel: "deps/libserde.d"}},
		},
		unit.LibraryCratePlan{Source: pathtoken.Token{Anchor: pathtoken.Workspace, Rel: "src/lib.rs"}},
	)

	w := wire.EncodeSavedUnit(u)
	data, err := json.Marshal(w)
	require.NoError(t, err)

	var decoded wire.SavedUnitWire
	require.NoError(t, json.Unmarshal(data, &decoded))

	back, err := wire.DecodeSavedUnit(decoded)
	require.NoError(t, err)
	assert.Equal(t, u, back)
}

func TestSavedUnit_BuildScriptExecutionRoundTrips(t *testing.T) {
	plan := unit.PlanInfo{UnitHash: "u2", Package: "foo", Crate: "foo_build"}
	u := unit.NewBuildScriptExecution(plan,
		unit.BuildScriptExecutionFiles{
			OutDir:      []unit.SavedFile{{Content: hash.Sum([]byte("gen"))}},
			Stdout:      unit.SavedFile{Content: hash.Sum([]byte("out")), Path: pathtoken.Token{Anchor: pathtoken.TargetProfile, Rel: "build/foo/output"}},
			Stderr:      unit.SavedFile{Content: hash.Sum([]byte("err")), Path: pathtoken.Token{Anchor: pathtoken.TargetProfile, Rel: "build/foo/stderr"}},
			Fingerprint: "fp2",
		},
		unit.BuildScriptExecutionPlan{ProgramName: "build-script-build"},
	)

	w := wire.EncodeSavedUnit(u)
	back, err := wire.DecodeSavedUnit(w)
	require.NoError(t, err)
	assert.Equal(t, u, back)
}

func TestDecodeSavedUnit_RejectsUnknownType(t *testing.T) {
	_, err := wire.DecodeSavedUnit(wire.SavedUnitWire{Type: "bogus"})
	assert.Error(t, err)
}

func TestRestorePair_JSONIsTwoElementArray(t *testing.T) {
	pair := wire.RestorePair{
		Key:  wire.CacheKeyWire{UnitHash: "u1", LibcVersion: libc.Fingerprint{Tag: libc.Glibc, Major: 2, Minor: 31}},
		Unit: wire.SavedUnitWire{Type: "library-crate", UnitHash: "u1"},
	}
	data, err := json.Marshal(pair)
	require.NoError(t, err)

	var raw []json.RawMessage
	require.NoError(t, json.Unmarshal(data, &raw))
	require.Len(t, raw, 2)

	var back wire.RestorePair
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, pair.Key, back.Key)
	assert.Equal(t, pair.Unit, back.Unit)
}
