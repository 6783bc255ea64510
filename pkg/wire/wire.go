// Package wire implements the JSON wire shapes of spec.md §6: the
// tagged-union encoding of SavedUnit, the cache-key request/response
// envelopes, and the bulk CAS transfer payloads. Nothing here does
// I/O; pkg/transport and pkg/server translate these shapes to and
// from HTTP.
package wire

import (
	"encoding/json"
	"fmt"

	"github.com/kraklabs/unitcache/pkg/hash"
	"github.com/kraklabs/unitcache/pkg/libc"
	"github.com/kraklabs/unitcache/pkg/pathtoken"
	"github.com/kraklabs/unitcache/pkg/unit"
)

// CacheKeyWire is the (unit_hash, libc_version) lookup key as it
// appears in `/cache/save` and `/cache/restore` request bodies.
type CacheKeyWire struct {
	UnitHash    string           `json:"unit_hash"`
	LibcVersion libc.Fingerprint `json:"libc_version"`
}

// savedFileWire is the wire form of unit.SavedFile.
type savedFileWire struct {
	Executable bool   `json:"executable"`
	Content    string `json:"content"`
	Path       string `json:"path"`
}

func encodeFile(f unit.SavedFile) savedFileWire {
	return savedFileWire{Executable: f.Executable, Content: f.Content.String(), Path: pathtoken.Encode(f.Path)}
}

func decodeFile(w savedFileWire) (unit.SavedFile, error) {
	key, err := hash.ParseKey(w.Content)
	if err != nil {
		return unit.SavedFile{}, err
	}
	return unit.SavedFile{Executable: w.Executable, Content: key, Path: pathtoken.Decode(w.Path)}, nil
}

func encodeFiles(fs []unit.SavedFile) []savedFileWire {
	out := make([]savedFileWire, len(fs))
	for i, f := range fs {
		out[i] = encodeFile(f)
	}
	return out
}

func decodeFiles(ws []savedFileWire) ([]unit.SavedFile, error) {
	out := make([]unit.SavedFile, len(ws))
	for i, w := range ws {
		f, err := decodeFile(w)
		if err != nil {
			return nil, err
		}
		out[i] = f
	}
	return out, nil
}

// SavedUnitWire is the flattened tagged-union JSON form of spec.md §6:
// "JSON representation of saved-unit is a tagged union with tag field
// selecting one of the three variants, flattened with its
// unit-plan-info." String and slice fields not relevant to Type are
// omitted on encode (via omitempty); the savedFileWire-valued fields are
// always encoded, since omitempty has no effect on structs. Every field
// not relevant to Type is ignored on decode.
type SavedUnitWire struct {
	Type string `json:"type"`

	UnitHash     string `json:"unit_hash"`
	Package      string `json:"package"`
	Crate        string `json:"crate"`
	TargetTriple string `json:"target_triple,omitempty"`

	// library-crate
	Outputs       []savedFileWire `json:"outputs,omitempty"`
	Fingerprint   string          `json:"fingerprint,omitempty"`
	RustcDepInfo  savedFileWire   `json:"rustc_dep_info,omitempty"`
	DriverDepInfo savedFileWire   `json:"driver_dep_info,omitempty"`
	Source        string          `json:"source,omitempty"`
	OutputPaths   []string        `json:"output_paths,omitempty"`

	// build-script-compilation
	Program string `json:"program,omitempty"`

	// build-script-execution
	OutDir      []savedFileWire `json:"out_dir,omitempty"`
	Stdout      savedFileWire   `json:"stdout,omitempty"`
	Stderr      savedFileWire   `json:"stderr,omitempty"`
	ProgramName string          `json:"program_name,omitempty"`
}

const (
	typeLibraryCrate           = "library-crate"
	typeBuildScriptCompilation = "build-script-compilation"
	typeBuildScriptExecution   = "build-script-execution"
)

// EncodeSavedUnit converts u to its wire form.
func EncodeSavedUnit(u unit.SavedUnit) SavedUnitWire {
	w := SavedUnitWire{
		UnitHash:     string(u.Plan.UnitHash),
		Package:      u.Plan.Package,
		Crate:        u.Plan.Crate,
		TargetTriple: u.Plan.TargetTriple,
	}
	switch u.Kind {
	case unit.LibraryCrate:
		files, plan := u.LibraryCrate()
		w.Type = typeLibraryCrate
		w.Outputs = encodeFiles(files.Outputs)
		w.Fingerprint = string(files.Fingerprint)
		w.RustcDepInfo = encodeFile(files.RustcDepInfo)
		w.DriverDepInfo = encodeFile(files.DriverDepInfo)
		w.Source = pathtoken.Encode(plan.Source)
		w.OutputPaths = make([]string, len(plan.OutputPaths))
		for i, p := range plan.OutputPaths {
			w.OutputPaths[i] = pathtoken.Encode(p)
		}
	case unit.BuildScriptCompilation:
		files, plan := u.BuildScriptCompilation()
		w.Type = typeBuildScriptCompilation
		w.Program = files.Program.String()
		w.RustcDepInfo = encodeFile(files.RustcDepInfo)
		w.DriverDepInfo = encodeFile(files.DriverDepInfo)
		w.Fingerprint = string(files.Fingerprint)
		w.Source = pathtoken.Encode(plan.Source)
	case unit.BuildScriptExecution:
		files, plan := u.BuildScriptExecution()
		w.Type = typeBuildScriptExecution
		w.OutDir = encodeFiles(files.OutDir)
		w.Stdout = encodeFile(files.Stdout)
		w.Stderr = encodeFile(files.Stderr)
		w.Fingerprint = string(files.Fingerprint)
		w.ProgramName = plan.ProgramName
	}
	return w
}

// DecodeSavedUnit converts a wire form back to a unit.SavedUnit.
// Errors are plain, not errtax-classed: pkg/server answers one with
// 400 Bad Request, and pkg/transport drops the undecodable unit from a
// restore response.
func DecodeSavedUnit(w SavedUnitWire) (unit.SavedUnit, error) {
	plan := unit.PlanInfo{
		UnitHash:     unit.Hash(w.UnitHash),
		Package:      w.Package,
		Crate:        w.Crate,
		TargetTriple: w.TargetTriple,
	}

	switch w.Type {
	case typeLibraryCrate:
		outputs, err := decodeFiles(w.Outputs)
		if err != nil {
			return unit.SavedUnit{}, err
		}
		rustcDI, err := decodeFile(w.RustcDepInfo)
		if err != nil {
			return unit.SavedUnit{}, err
		}
		driverDI, err := decodeFile(w.DriverDepInfo)
		if err != nil {
			return unit.SavedUnit{}, err
		}
		var outputPaths []pathtoken.Token
		for _, p := range w.OutputPaths {
			outputPaths = append(outputPaths, pathtoken.Decode(p))
		}
		return unit.NewLibraryCrate(plan,
			unit.LibraryCrateFiles{
				Outputs:       outputs,
				Fingerprint:   unit.Fingerprint(w.Fingerprint),
				RustcDepInfo:  rustcDI,
				DriverDepInfo: driverDI,
			},
			unit.LibraryCratePlan{Source: pathtoken.Decode(w.Source), OutputPaths: outputPaths},
		), nil

	case typeBuildScriptCompilation:
		program, err := hash.ParseKey(w.Program)
		if err != nil {
			return unit.SavedUnit{}, err
		}
		rustcDI, err := decodeFile(w.RustcDepInfo)
		if err != nil {
			return unit.SavedUnit{}, err
		}
		driverDI, err := decodeFile(w.DriverDepInfo)
		if err != nil {
			return unit.SavedUnit{}, err
		}
		return unit.NewBuildScriptCompilation(plan,
			unit.BuildScriptCompilationFiles{
				Program:       program,
				RustcDepInfo:  rustcDI,
				DriverDepInfo: driverDI,
				Fingerprint:   unit.Fingerprint(w.Fingerprint),
			},
			unit.BuildScriptCompilationPlan{Source: pathtoken.Decode(w.Source)},
		), nil

	case typeBuildScriptExecution:
		outDir, err := decodeFiles(w.OutDir)
		if err != nil {
			return unit.SavedUnit{}, err
		}
		stdout, err := decodeFile(w.Stdout)
		if err != nil {
			return unit.SavedUnit{}, err
		}
		stderr, err := decodeFile(w.Stderr)
		if err != nil {
			return unit.SavedUnit{}, err
		}
		return unit.NewBuildScriptExecution(plan,
			unit.BuildScriptExecutionFiles{
				OutDir:      outDir,
				Stdout:      stdout,
				Stderr:      stderr,
				Fingerprint: unit.Fingerprint(w.Fingerprint),
			},
			unit.BuildScriptExecutionPlan{ProgramName: w.ProgramName},
		), nil

	default:
		return unit.SavedUnit{}, fmt.Errorf("wire: unrecognized saved-unit type %q", w.Type)
	}
}

// StoredUnit is the metadata store's on-disk envelope: a saved unit
// plus the libc fingerprint it was saved under.
type StoredUnit struct {
	Libc libc.Fingerprint `json:"libc"`
	Unit SavedUnitWire    `json:"unit"`
}

// EncodeStoredUnit builds the envelope metadatastore persists.
func EncodeStoredUnit(l libc.Fingerprint, u unit.SavedUnit) StoredUnit {
	return StoredUnit{Libc: l, Unit: EncodeSavedUnit(u)}
}

// DecodeStoredUnit reverses EncodeStoredUnit.
func DecodeStoredUnit(s StoredUnit) (libc.Fingerprint, unit.SavedUnit, error) {
	u, err := DecodeSavedUnit(s.Unit)
	if err != nil {
		return libc.Fingerprint{}, unit.SavedUnit{}, err
	}
	return s.Libc, u, nil
}

// SaveRequest is the body of `POST /cache/save`.
type SaveRequest struct {
	Units []SaveEntry `json:"units"`
}

// SaveEntry is one entry of a SaveRequest.
type SaveEntry struct {
	Key  CacheKeyWire  `json:"key"`
	Unit SavedUnitWire `json:"unit"`
}

// RestoreRequest is the body of `POST /cache/restore`: a bare JSON
// list of cache keys.
type RestoreRequest []CacheKeyWire

// RestorePair is one (key, saved-unit) entry of a restore response.
// Encoded as a 2-element JSON array since JSON object keys cannot be
// structured (spec.md §6).
type RestorePair struct {
	Key  CacheKeyWire
	Unit SavedUnitWire
}

// MarshalJSON encodes p as a 2-element array.
func (p RestorePair) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{p.Key, p.Unit})
}

// UnmarshalJSON decodes a 2-element array into p.
func (p *RestorePair) UnmarshalJSON(data []byte) error {
	var pair [2]json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	if err := json.Unmarshal(pair[0], &p.Key); err != nil {
		return err
	}
	return json.Unmarshal(pair[1], &p.Unit)
}

// RestoreResponse is the body of a `POST /cache/restore` response.
type RestoreResponse []RestorePair

// BulkReadRequest is the body of `POST /cas/bulk/read`.
type BulkReadRequest struct {
	Keys []string `json:"keys"`
}

// BulkWriteError is one entry of BulkWriteResponse.Errors.
type BulkWriteError struct {
	Key string `json:"key"`
	Msg string `json:"msg"`
}

// BulkWriteResponse is the body of a `POST /cas/bulk/write` response.
type BulkWriteResponse struct {
	Written []string         `json:"written"`
	Skipped []string         `json:"skipped"`
	Errors  []BulkWriteError `json:"errors"`
}
