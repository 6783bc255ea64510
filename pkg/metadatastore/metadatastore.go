// Package metadatastore persists saved units keyed by (generation,
// unit-hash), per spec.md §4.3; each bucket entry holds every libc
// variant saved for that unit, and restore applies the libc
// compatibility check against the variants found there rather than
// baking one libc into the lookup key. Backed by go.etcd.io/bbolt, a
// single-file embedded key-value store, the way javanhut-IvaldiVCS and
// cuemby-warren persist their object/state records in the retrieved
// pack.
package metadatastore

import (
	"encoding/json"

	"go.etcd.io/bbolt"

	"github.com/kraklabs/unitcache/pkg/cachekey"
	"github.com/kraklabs/unitcache/pkg/errtax"
	"github.com/kraklabs/unitcache/pkg/libc"
	"github.com/kraklabs/unitcache/pkg/unit"
	"github.com/kraklabs/unitcache/pkg/wire"
)

var bucketName = []byte("saved-units")

// Store is a bbolt-backed metadata store.
type Store struct {
	db *bbolt.DB
}

// Open opens (creating if absent) the bbolt file at path.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o644, nil)
	if err != nil {
		return nil, errtax.Wrap(errtax.TransientIO, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		db.Close()
		return nil, errtax.Wrap(errtax.TransientIO, err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database file.
func (s *Store) Close() error {
	return s.db.Close()
}

// Entry is one (cache-key, saved-unit) pair for Save.
type Entry struct {
	Key  cachekey.Key
	Unit unit.SavedUnit
}

// Save upserts each entry atomically with respect to concurrent saves
// of disjoint keys (bbolt serializes the whole batch, which satisfies
// but does not require per-key independence). Entries are indexed by
// (generation, unit-hash) only; a record whose libc matches an
// existing variant at that bucket entry replaces it, last-write-wins,
// otherwise it's appended alongside the other libc variants of the
// same unit.
func (s *Store) Save(entries []Entry) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketName)
		for _, e := range entries {
			bucketKey := e.Key.UnitKey().Bytes()
			variants, err := readVariants(b, bucketKey)
			if err != nil {
				variants = nil // corrupted entry: overwrite rather than fail the save
			}
			variants = upsertVariant(variants, wire.EncodeStoredUnit(e.Key.Libc, e.Unit))
			data, err := json.Marshal(variants)
			if err != nil {
				return err
			}
			if err := b.Put(bucketKey, data); err != nil {
				return err
			}
		}
		return nil
	})
}

// readVariants decodes the list of libc variants stored under key, or
// nil if absent.
func readVariants(b *bbolt.Bucket, key []byte) ([]wire.StoredUnit, error) {
	data := b.Get(key)
	if data == nil {
		return nil, nil
	}
	var variants []wire.StoredUnit
	if err := json.Unmarshal(data, &variants); err != nil {
		return nil, err
	}
	return variants, nil
}

// upsertVariant replaces the existing entry sharing next's libc
// fingerprint, or appends it as a new variant.
func upsertVariant(variants []wire.StoredUnit, next wire.StoredUnit) []wire.StoredUnit {
	for i, v := range variants {
		if v.Libc.Stable() == next.Libc.Stable() {
			variants[i] = next
			return variants
		}
	}
	return append(variants, next)
}

// Restore returns, for each requested cache key, the saved unit iff a
// stored entry exists for its (generation, unit-hash) whose unit hash
// matches and which carries a libc variant hostLibc can run. Among
// multiple compatible variants, the first encountered in storage order
// is returned. Missing or incompatible entries are silently omitted
// from the returned map, per spec.md §4.3.
func (s *Store) Restore(keys []cachekey.Key, hostLibc libc.Fingerprint) (map[cachekey.Key]unit.SavedUnit, error) {
	if len(keys) > 100_000 {
		return nil, errtax.Newf(errtax.InvalidRequest, "metadatastore: restore request carries %d keys, over the 100000 cap", len(keys))
	}

	out := make(map[cachekey.Key]unit.SavedUnit, len(keys))
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketName)
		for _, k := range keys {
			variants, err := readVariants(b, k.UnitKey().Bytes())
			if err != nil || variants == nil {
				continue // corruption or miss: treat as a miss, spec.md §7
			}
			for _, wireRec := range variants {
				storedLibc, savedUnit, err := wire.DecodeStoredUnit(wireRec)
				if err != nil {
					continue
				}
				if savedUnit.Plan.UnitHash != k.UnitHash {
					continue
				}
				if !libc.CanRun(hostLibc, storedLibc) {
					continue
				}
				out[k] = savedUnit
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, errtax.Wrap(errtax.TransientIO, err)
	}
	return out, nil
}

// Reset deletes every stored entry (spec.md's `POST /cache/reset`).
func (s *Store) Reset() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket(bucketName); err != nil && err != bbolt.ErrBucketNotFound {
			return err
		}
		_, err := tx.CreateBucket(bucketName)
		return err
	})
}
