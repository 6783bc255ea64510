// Package statshistory persists a rolling history of restore hit
// rates for `unitcache stats`' sparkline (SPEC_FULL.md's supplemented
// features), backed by go.etcd.io/bbolt the same way pkg/metadatastore
// persists saved units — a single-file embedded store keyed by an
// auto-incrementing sequence rather than content, since samples have
// no natural key of their own.
package statshistory

import (
	"encoding/binary"
	"encoding/json"

	"go.etcd.io/bbolt"
)

var bucketName = []byte("hit-rate-samples")

// Store is a bbolt-backed append-only log of hit-rate samples.
type Store struct {
	db *bbolt.DB
}

// Open opens (creating if absent) the bbolt file at path.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o644, nil)
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database file.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record appends one hit-rate sample in [0,1].
func (s *Store) Record(hitRate float64) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketName)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		data, err := json.Marshal(hitRate)
		if err != nil {
			return err
		}
		return b.Put(itob(seq), data)
	})
}

// Recent returns up to the n most recent samples, oldest first.
func (s *Store) Recent(n int) ([]float64, error) {
	var all []float64
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketName)
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var f float64
			if err := json.Unmarshal(v, &f); err != nil {
				continue // corruption: skip the sample, not the history
			}
			all = append(all, f)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if n > 0 && len(all) > n {
		all = all[len(all)-n:]
	}
	return all, nil
}

func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}
