// Package cachekey implements the cache key of spec.md §3: a
// (generation, unit-hash, libc-fingerprint) tuple and its stable hash,
// the sole durable identifier across client/server restarts.
package cachekey

import (
	"strconv"

	"github.com/kraklabs/unitcache/pkg/hash"
	"github.com/kraklabs/unitcache/pkg/libc"
	"github.com/kraklabs/unitcache/pkg/unit"
)

// Generation is a small integer; bumping it invalidates every prior
// key sharing the same unit hash.
type Generation int

// Key is the (generation, unit-hash, libc-fingerprint) tuple.
type Key struct {
	Generation Generation
	UnitHash   unit.Hash
	Libc       libc.Fingerprint
}

// Stable returns the BLAKE3 digest of the decimal generation, the unit
// hash, and the stable libc encoding, concatenated. It is the sole
// durable identifier across client/server restarts (spec.md §3).
func (k Key) Stable() hash.Key {
	h := hash.NewHasher()
	h.Write([]byte(strconv.Itoa(int(k.Generation))))
	h.Write([]byte(k.UnitHash))
	h.Write([]byte(k.Libc.Stable()))
	return h.Sum()
}

// UnitKey returns the BLAKE3 digest of the decimal generation and the
// unit hash only, omitting Libc. Every libc variant saved for the same
// (generation, unit-hash) pair shares this digest, so a metadata store
// can index by UnitKey and apply libc compatibility as a filter over
// the variants found there, rather than baking one fixed libc into the
// lookup key itself.
func (k Key) UnitKey() hash.Key {
	h := hash.NewHasher()
	h.Write([]byte(strconv.Itoa(int(k.Generation))))
	h.Write([]byte(k.UnitHash))
	return h.Sum()
}

// String renders k in a form suitable for logging; unlike Stable it is
// not guaranteed stable across versions of this package.
func (k Key) String() string {
	return strconv.Itoa(int(k.Generation)) + "/" + string(k.UnitHash) + "/" + k.Libc.Stable()
}
