package cachekey_test

import (
	"testing"

	"github.com/kraklabs/unitcache/pkg/cachekey"
	"github.com/kraklabs/unitcache/pkg/libc"
	"github.com/kraklabs/unitcache/pkg/unit"
	"github.com/stretchr/testify/assert"
)

func TestStable_IsDeterministic(t *testing.T) {
	k := cachekey.Key{Generation: 3, UnitHash: "abc123", Libc: libc.Fingerprint{Tag: libc.Glibc, Major: 2, Minor: 35}}
	a := k.Stable()
	b := k.Stable()
	assert.Equal(t, a, b)
}

func TestStable_DiffersOnGeneration(t *testing.T) {
	base := cachekey.Key{Generation: 1, UnitHash: "abc123", Libc: libc.Fingerprint{Tag: libc.Musl}}
	bumped := base
	bumped.Generation = 2
	assert.NotEqual(t, base.Stable(), bumped.Stable())
}

func TestStable_DiffersOnUnitHash(t *testing.T) {
	a := cachekey.Key{Generation: 1, UnitHash: unit.Hash("u1"), Libc: libc.Fingerprint{Tag: libc.Musl}}
	b := cachekey.Key{Generation: 1, UnitHash: unit.Hash("u2"), Libc: libc.Fingerprint{Tag: libc.Musl}}
	assert.NotEqual(t, a.Stable(), b.Stable())
}

func TestStable_DiffersOnLibc(t *testing.T) {
	a := cachekey.Key{Generation: 1, UnitHash: "u1", Libc: libc.Fingerprint{Tag: libc.Glibc, Major: 2, Minor: 31}}
	b := cachekey.Key{Generation: 1, UnitHash: "u1", Libc: libc.Fingerprint{Tag: libc.Glibc, Major: 2, Minor: 35}}
	assert.NotEqual(t, a.Stable(), b.Stable())
}

func TestUnitKey_IgnoresLibc(t *testing.T) {
	a := cachekey.Key{Generation: 1, UnitHash: "u1", Libc: libc.Fingerprint{Tag: libc.Glibc, Major: 2, Minor: 31}}
	b := cachekey.Key{Generation: 1, UnitHash: "u1", Libc: libc.Fingerprint{Tag: libc.Musl}}
	assert.Equal(t, a.UnitKey(), b.UnitKey())
}

func TestUnitKey_DiffersOnGenerationOrUnitHash(t *testing.T) {
	base := cachekey.Key{Generation: 1, UnitHash: "u1", Libc: libc.Fingerprint{Tag: libc.Musl}}
	bumpedGen := base
	bumpedGen.Generation = 2
	assert.NotEqual(t, base.UnitKey(), bumpedGen.UnitKey())

	diffHash := base
	diffHash.UnitHash = "u2"
	assert.NotEqual(t, base.UnitKey(), diffHash.UnitKey())
}
