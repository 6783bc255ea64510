// Package hash wraps BLAKE3 content hashing the way
// good-night-oppie-helios's pkg/helios/cas/cas.go wraps it: a pooled
// hasher for repeated use and a fixed-size key type that renders as
// lowercase hex for transport and filesystem names.
package hash

import (
	"encoding/hex"
	"fmt"
	"io"
	"sync"

	"lukechampine.com/blake3"
)

// Size is the byte length of a Key, per spec.md §3: a 32-byte BLAKE3 digest.
const Size = 32

// Key is the BLAKE3 digest of an uncompressed byte sequence. Two keys
// compare equal iff byte-equal; there is no canonicalization.
type Key [Size]byte

// Zero reports whether k is the all-zero key (never a valid content hash,
// used as a sentinel for "no key computed yet").
func (k Key) Zero() bool {
	return k == Key{}
}

// String renders the key as lowercase hex, the wire and filesystem form.
func (k Key) String() string {
	return hex.EncodeToString(k[:])
}

// Bytes returns the raw digest bytes, for use as a database key.
func (k Key) Bytes() []byte {
	return k[:]
}

// ParseKey parses a lowercase-hex-rendered key. Returns an error if the
// string is not exactly 64 hex characters.
func ParseKey(s string) (Key, error) {
	var k Key
	if len(s) != Size*2 {
		return k, fmt.Errorf("hash: key %q has length %d, want %d", s, len(s), Size*2)
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return k, fmt.Errorf("hash: key %q is not valid hex: %w", s, err)
	}
	copy(k[:], b)
	return k, nil
}

// MustParseKey is ParseKey but panics on error; for use with literal
// constants in tests.
func MustParseKey(s string) Key {
	k, err := ParseKey(s)
	if err != nil {
		panic(err)
	}
	return k
}

var hasherPool = sync.Pool{
	New: func() any {
		return blake3.New(Size, nil)
	},
}

// Sum computes the content key of b.
func Sum(b []byte) Key {
	h := hasherPool.Get().(*blake3.Hasher)
	defer func() {
		h.Reset()
		hasherPool.Put(h)
	}()

	var k Key
	_, _ = h.Write(b)
	copy(k[:], h.Sum(nil))
	return k
}

// Hasher is a streaming BLAKE3 hasher returning Key-typed sums, used by
// pkg/cas to hash uncompressed bytes while they are simultaneously
// streamed through a compressor.
type Hasher struct {
	h *blake3.Hasher
}

// NewHasher returns a ready-to-write streaming hasher.
func NewHasher() *Hasher {
	return &Hasher{h: blake3.New(Size, nil)}
}

// Write implements io.Writer.
func (s *Hasher) Write(p []byte) (int, error) {
	return s.h.Write(p)
}

// Sum returns the digest of all bytes written so far.
func (s *Hasher) Sum() Key {
	var k Key
	copy(k[:], s.h.Sum(nil))
	return k
}

// SumReader hashes all bytes of r without retaining them in memory.
func SumReader(r io.Reader) (Key, error) {
	h := NewHasher()
	if _, err := io.Copy(h, r); err != nil {
		return Key{}, err
	}
	return h.Sum(), nil
}
