// Package fingerprint implements the fingerprint chain of spec.md
// §4.7: an old-hash → new-hash accumulator, consulted and extended
// strictly in topological order as each unit's fingerprint is
// rewritten to reference its already-rewritten dependencies.
//
// The accumulator is guarded by sasha-s/go-deadlock's Mutex rather
// than sync.Mutex, the same substitution lazydocker makes throughout
// its gui package for anything touched from more than one goroutine —
// here, the restore worker pool's goroutines may read concurrently
// with the topological walker's sequential writes.
package fingerprint

import (
	"encoding/json"
	"sort"

	"github.com/sasha-s/go-deadlock"

	"github.com/kraklabs/unitcache/pkg/hash"
)

// Chain is the old→new dependency-fingerprint-hash accumulator, scoped
// to one restore invocation (spec.md §9: "strictly scoped... pass it
// as an owned mutable parameter rather than any global").
type Chain struct {
	mu deadlock.Mutex
	m  map[hash.Key]hash.Key
}

// NewChain returns an empty accumulator.
func NewChain() *Chain {
	return &Chain{m: make(map[hash.Key]hash.Key)}
}

// Lookup returns the new hash old was rewritten to, if any unit in
// this restore has already rewritten it.
func (c *Chain) Lookup(old hash.Key) (hash.Key, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.m[old]
	return n, ok
}

func (c *Chain) record(old, new hash.Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[old] = new
}

// depsField is the key under which a fingerprint record carries its
// list of dependency fingerprint hashes, hex-encoded.
const depsField = "deps"

// Rewrite parses raw as a JSON object, substitutes every hex hash in
// its "deps" array that chain already has a mapping for, and returns
// the re-serialized bytes. oldHash is the hash of raw itself (the
// fingerprint's identity before this rewrite); newHash is the hash of
// the rewritten bytes. Both are recorded into chain under
// oldHash → newHash before Rewrite returns, including when raw
// required no substitution — so dependents still observe this unit's
// mapping (spec.md §8 invariant 10, the skipped-unit case).
//
// JSON object keys are marshaled in sorted order so that re-running
// Rewrite on unchanged input is deterministic even though Go's
// encoding/json does not itself guarantee map key order across
// versions; this package takes responsibility for that stability
// rather than relying on it.
func Rewrite(raw []byte, chain *Chain) (newRaw []byte, oldHash hash.Key, newHash hash.Key, err error) {
	oldHash = hash.Sum(raw)

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, oldHash, hash.Key{}, err
	}

	if depsRaw, ok := fields[depsField]; ok {
		var deps []string
		if err := json.Unmarshal(depsRaw, &deps); err != nil {
			return nil, oldHash, hash.Key{}, err
		}
		for i, d := range deps {
			depKey, err := hash.ParseKey(d)
			if err != nil {
				continue // not a hash-shaped entry; leave as-is
			}
			if newDepKey, ok := chain.Lookup(depKey); ok {
				deps[i] = newDepKey.String()
			}
		}
		rewritten, err := json.Marshal(deps)
		if err != nil {
			return nil, oldHash, hash.Key{}, err
		}
		fields[depsField] = rewritten
	}

	newRaw, err = marshalSorted(fields)
	if err != nil {
		return nil, oldHash, hash.Key{}, err
	}

	newHash = hash.Sum(newRaw)
	chain.record(oldHash, newHash)
	return newRaw, oldHash, newHash, nil
}

func marshalSorted(fields map[string]json.RawMessage) ([]byte, error) {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buf := []byte{'{'}
	for i, k := range keys {
		if i > 0 {
			buf = append(buf, ',')
		}
		keyJSON, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf = append(buf, keyJSON...)
		buf = append(buf, ':')
		buf = append(buf, fields[k]...)
	}
	buf = append(buf, '}')
	return buf, nil
}
