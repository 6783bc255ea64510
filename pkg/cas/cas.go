// Package cas implements the disk-backed blob store of spec.md §4.1:
// content-addressed, zstd-compressed blobs under a two-level hex
// fan-out, written via temp-file-then-rename for atomicity.
//
// Grounded on good-night-oppie-helios's pkg/helios/cas/cas.go (the
// fan-out layout and atomic-rename write protocol) and gloudx-ues's
// blob_store.go (the read/write-stream shape); compression uses
// github.com/klauspost/compress/zstd, the same package lazydocker's
// go.mod already pulls in transitively and that the rest of the pack
// uses for archive compression.
package cas

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
	"github.com/kraklabs/unitcache/pkg/errtax"
	"github.com/kraklabs/unitcache/pkg/hash"
)

// Store is a disk-backed content-addressed blob store rooted at Root.
type Store struct {
	Root string
}

// New returns a Store rooted at root. The caller is responsible for
// root existing or being creatable.
func New(root string) *Store {
	return &Store{Root: root}
}

func (s *Store) pathFor(key hash.Key) string {
	hex := key.String()
	return filepath.Join(s.Root, hex[:2], hex[2:4], hex)
}

// Exists reports whether key is stored. Safe from TOCTOU races by the
// CAS immutability invariant: once true, always true.
func (s *Store) Exists(key hash.Key) (bool, error) {
	_, err := os.Stat(s.pathFor(key))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, errtax.Wrap(errtax.TransientIO, err)
}

// Read opens a streaming decompressing reader over key's content. The
// caller must Close the returned ReadCloser. Returns errtax.NotFound
// if the key is absent.
func (s *Store) Read(key hash.Key) (io.ReadCloser, error) {
	f, err := os.Open(s.pathFor(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errtax.Newf(errtax.NotFound, "cas: key %s not found", key)
		}
		return nil, errtax.Wrap(errtax.TransientIO, err)
	}
	dec, err := zstd.NewReader(f)
	if err != nil {
		f.Close()
		return nil, errtax.Wrap(errtax.Corruption, err)
	}
	return &decompressingReadCloser{dec: dec, file: f}, nil
}

type decompressingReadCloser struct {
	dec  *zstd.Decoder
	file *os.File
}

func (d *decompressingReadCloser) Read(p []byte) (int, error) { return d.dec.Read(p) }

func (d *decompressingReadCloser) Close() error {
	d.dec.Close()
	return d.file.Close()
}

// Write streams src into the store under key, hashing the uncompressed
// bytes as they're written and compressed. Idempotent: if key already
// exists, src is not read and Write returns immediately. Returns
// errtax.HashMismatch if the computed hash of src does not equal key,
// in which case nothing is written.
func (s *Store) Write(key hash.Key, src io.Reader) error {
	if ok, err := s.Exists(key); err != nil {
		return err
	} else if ok {
		return nil
	}

	dir := filepath.Dir(s.pathFor(key))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errtax.Wrap(errtax.TransientIO, err)
	}

	tmpPath, err := tempPathIn(dir)
	if err != nil {
		return errtax.Wrap(errtax.TransientIO, err)
	}

	tmp, err := os.Create(tmpPath)
	if err != nil {
		return errtax.Wrap(errtax.TransientIO, err)
	}

	enc, err := zstd.NewWriter(tmp)
	if err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return errtax.Wrap(errtax.Corruption, err)
	}

	hasher := hash.NewHasher()
	tee := io.TeeReader(src, hasher)
	_, copyErr := io.Copy(enc, tee)

	closeErr := enc.Close()
	syncErr := tmp.Sync()
	tmp.Close()

	if copyErr != nil || closeErr != nil || syncErr != nil {
		os.Remove(tmpPath)
		if copyErr != nil {
			return errtax.Wrap(errtax.TransientIO, copyErr)
		}
		return errtax.Wrap(errtax.TransientIO, firstNonNil(closeErr, syncErr))
	}

	got := hasher.Sum()
	if got != key {
		os.Remove(tmpPath)
		return errtax.Newf(errtax.HashMismatch, "cas: wrote %s, computed hash %s", key, got)
	}

	finalPath := s.pathFor(key)
	if err := os.Rename(tmpPath, finalPath); err != nil {
		if _, statErr := os.Stat(finalPath); statErr == nil {
			os.Remove(tmpPath)
			return nil
		}
		return errtax.Wrap(errtax.TransientIO, err)
	}
	return nil
}

// ReadCompressed opens the stored zstd-compressed bytes for key
// without decompressing, for the wire contract of spec.md §6 (`GET
// /cas/{hex}` and the bulk-read tar both transfer compressed bytes
// as-is). The caller must Close the returned ReadCloser.
func (s *Store) ReadCompressed(key hash.Key) (io.ReadCloser, error) {
	f, err := os.Open(s.pathFor(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errtax.Newf(errtax.NotFound, "cas: key %s not found", key)
		}
		return nil, errtax.Wrap(errtax.TransientIO, err)
	}
	return f, nil
}

// WriteCompressed stores src, already zstd-compressed bytes, verifying
// that its decompressed content hashes to key before committing. Used
// for the wire contract of spec.md §6 (`PUT /cas/{hex}` and bulk
// write), where the caller already sends compressed bytes and a
// second compression pass would be wasted work. Idempotent like Write.
func (s *Store) WriteCompressed(key hash.Key, src io.Reader) error {
	if ok, err := s.Exists(key); err != nil {
		return err
	} else if ok {
		return nil
	}

	dir := filepath.Dir(s.pathFor(key))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errtax.Wrap(errtax.TransientIO, err)
	}

	tmpPath, err := tempPathIn(dir)
	if err != nil {
		return errtax.Wrap(errtax.TransientIO, err)
	}

	tmp, err := os.Create(tmpPath)
	if err != nil {
		return errtax.Wrap(errtax.TransientIO, err)
	}

	tee := io.TeeReader(src, tmp)
	dec, err := zstd.NewReader(tee)
	if err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return errtax.Wrap(errtax.Corruption, err)
	}

	hasher := hash.NewHasher()
	_, copyErr := io.Copy(hasher, dec)
	dec.Close()

	syncErr := tmp.Sync()
	tmp.Close()

	if copyErr != nil || syncErr != nil {
		os.Remove(tmpPath)
		return errtax.Wrap(errtax.TransientIO, firstNonNil(copyErr, syncErr))
	}

	got := hasher.Sum()
	if got != key {
		os.Remove(tmpPath)
		return errtax.Newf(errtax.HashMismatch, "cas: wrote %s, computed hash %s", key, got)
	}

	finalPath := s.pathFor(key)
	if err := os.Rename(tmpPath, finalPath); err != nil {
		if _, statErr := os.Stat(finalPath); statErr == nil {
			os.Remove(tmpPath)
			return nil
		}
		return errtax.Wrap(errtax.TransientIO, err)
	}
	return nil
}

func firstNonNil(errs ...error) error {
	for _, e := range errs {
		if e != nil {
			return e
		}
	}
	return nil
}

func tempPathIn(dir string) (string, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	return filepath.Join(dir, fmt.Sprintf(".tmp.%s", hex.EncodeToString(buf[:]))), nil
}

// BulkResult is the per-key outcome of WriteBulk.
type BulkResult struct {
	Key     hash.Key
	Written bool
	Skipped bool
	Err     error
}

// ReadBulk reads every key in keys that exists, invoking fn with the
// key and a ready-to-read decompressing stream for each; missing keys
// are silently omitted. fn must fully consume or close rc before
// ReadBulk proceeds to the next key.
func (s *Store) ReadBulk(keys []hash.Key, fn func(hash.Key, io.ReadCloser) error) error {
	for _, k := range keys {
		rc, err := s.Read(k)
		if errtax.Is(err, errtax.NotFound) {
			continue
		}
		if err != nil {
			return err
		}
		if err := fn(k, rc); err != nil {
			rc.Close()
			return err
		}
	}
	return nil
}

// WriteBulk writes each (key, reader) pair from next until it returns
// false, reporting a per-key BulkResult. A per-key error does not stop
// the others from being attempted, matching spec.md §4.1's "bulk
// operations continue with other blobs" failure semantics.
func (s *Store) WriteBulk(next func() (hash.Key, io.Reader, bool)) []BulkResult {
	var results []BulkResult
	for {
		key, r, ok := next()
		if !ok {
			break
		}
		existed, existErr := s.Exists(key)
		if existErr != nil {
			results = append(results, BulkResult{Key: key, Err: existErr})
			continue
		}
		if existed {
			results = append(results, BulkResult{Key: key, Skipped: true})
			continue
		}
		if err := s.Write(key, r); err != nil {
			results = append(results, BulkResult{Key: key, Err: err})
			continue
		}
		results = append(results, BulkResult{Key: key, Written: true})
	}
	return results
}
