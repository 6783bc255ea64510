// Package save implements the save pipeline of spec.md §4.2: per-file
// relocatability classification and hashing, then cross-unit
// deduplication, unknown-key upload, and a single metadata save.
package save

import (
	"github.com/kraklabs/unitcache/pkg/buildscript"
	"github.com/kraklabs/unitcache/pkg/cachekey"
	"github.com/kraklabs/unitcache/pkg/depinfo"
	"github.com/kraklabs/unitcache/pkg/hash"
	"github.com/kraklabs/unitcache/pkg/metadatastore"
	"github.com/kraklabs/unitcache/pkg/pathtoken"
	"github.com/kraklabs/unitcache/pkg/unit"
)

// FileKind tags which relocatability transform, if any, a raw output
// file needs before hashing (spec.md §4.2 step 1).
type FileKind int

const (
	// Plain files are hashed as-is.
	Plain FileKind = iota
	// DepInfoFile requires the §4.4 makefile-style transform.
	DepInfoFile
	// BuildScriptStdoutFile requires the §4.4 cargo-directive transform.
	BuildScriptStdoutFile
	// RootOutputFile is synthesized at restore and never stored.
	RootOutputFile
)

// PreparedFile is the result of classifying and hashing one raw output
// file.
type PreparedFile struct {
	Key     hash.Key
	Bytes   []byte
	Skipped bool // true for RootOutputFile: no key, nothing to store
}

// PrepareFile applies spec.md §4.2 steps 1–3 to one raw output file:
// classify, transform if needed, and hash the resulting bytes.
func PrepareFile(roots pathtoken.Roots, kind FileKind, raw []byte) PreparedFile {
	switch kind {
	case DepInfoFile:
		f := depinfo.Parse(roots, raw)
		out := depinfo.Encode(f)
		return PreparedFile{Key: hash.Sum(out), Bytes: out}
	case BuildScriptStdoutFile:
		s := buildscript.Parse(roots, raw)
		out := buildscript.Encode(s)
		return PreparedFile{Key: hash.Sum(out), Bytes: out}
	case RootOutputFile:
		return PreparedFile{Skipped: true}
	default:
		return PreparedFile{Key: hash.Sum(raw), Bytes: raw}
	}
}

// PreparedUnit is one unit's §4.2 step-4 output, ready for the
// cross-unit phase: its cache key, its SavedUnit record, and the raw
// bytes of every content key it references (for staging/upload).
type PreparedUnit struct {
	Key   cachekey.Key
	Unit  unit.SavedUnit
	Blobs map[hash.Key][]byte
}

// BlobSink is the cross-unit upload surface (spec.md §4.2 steps 5–6):
// ask which of a deduplicated key set is unknown, then upload only
// those. A local single-process cache can implement UnknownKeys via
// pkg/cas.Store.Exists; pkg/transport's Client implements it with one
// HEAD /cas/{hex} request per key.
type BlobSink interface {
	UnknownKeys(keys []hash.Key) ([]hash.Key, error)
	Upload(key hash.Key, data []byte) error
}

// MetadataSink is the single-save surface (spec.md §4.2 step 7).
type MetadataSink interface {
	Save(entries []metadatastore.Entry) error
}

// Pipeline orchestrates the cross-unit phase of a save.
type Pipeline struct {
	Blobs    BlobSink
	Metadata MetadataSink
}

// Save dedups blobs across units by key, uploads only those the sink
// reports unknown, then issues a single metadata save. Write-only with
// respect to the cache: it never reads cached state beyond the
// unknown-key check (spec.md §4.2).
func (p *Pipeline) Save(units []PreparedUnit) error {
	deduped := make(map[hash.Key][]byte)
	for _, u := range units {
		for k, b := range u.Blobs {
			if _, ok := deduped[k]; !ok {
				deduped[k] = b
			}
		}
	}

	keys := make([]hash.Key, 0, len(deduped))
	for k := range deduped {
		keys = append(keys, k)
	}

	unknown, err := p.Blobs.UnknownKeys(keys)
	if err != nil {
		return err
	}
	for _, k := range unknown {
		if err := p.Blobs.Upload(k, deduped[k]); err != nil {
			return err
		}
	}

	entries := make([]metadatastore.Entry, len(units))
	for i, u := range units {
		entries[i] = metadatastore.Entry{Key: u.Key, Unit: u.Unit}
	}
	return p.Metadata.Save(entries)
}
