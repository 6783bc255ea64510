// Package unit implements the data model of spec.md §3: the saved-unit
// tagged union and its supporting value types. These are plain value
// types without JSON tags (pkg/wire holds the wire shapes of §6); there is no behavior
// here beyond construction and the tag switch restore/save need.
package unit

import (
	"github.com/kraklabs/unitcache/pkg/hash"
	"github.com/kraklabs/unitcache/pkg/pathtoken"
)

// Hash is the build driver's own identifier for a unit — an opaque
// string the cache never interprets, only routes on.
type Hash string

func (h Hash) String() string { return string(h) }

// Fingerprint is the driver's serialized per-unit summary used for
// freshness comparisons. The cache stores it opaquely and later
// rewrites embedded dependency-fingerprint occurrences during restore
// (see pkg/fingerprint).
type Fingerprint string

func (f Fingerprint) String() string { return string(f) }

// PlanInfo is common to all three SavedUnit variants.
type PlanInfo struct {
	UnitHash  Hash
	Package   string
	Crate     string
	// TargetTriple is empty when the unit targets the host.
	TargetTriple string
}

// IsHostTarget reports whether the unit was built for the host rather
// than a cross-compilation target.
func (p PlanInfo) IsHostTarget() bool { return p.TargetTriple == "" }

// SavedFile is an output file recorded by a saved unit: whether it is
// executable, its content in the CAS, and the relocatable path it was
// written to.
type SavedFile struct {
	Executable bool
	Content    hash.Key
	Path       pathtoken.Token
}

// Kind tags which SavedUnit variant a value holds.
type Kind int

const (
	// LibraryCrate: an rlib/dylib/staticlib build.
	LibraryCrate Kind = iota
	// BuildScriptCompilation: compiling a build.rs into a runnable
	// program.
	BuildScriptCompilation
	// BuildScriptExecution: running a compiled build script and
	// capturing its OUT_DIR, stdout, and stderr.
	BuildScriptExecution
)

func (k Kind) String() string {
	switch k {
	case LibraryCrate:
		return "library-crate"
	case BuildScriptCompilation:
		return "build-script-compilation"
	case BuildScriptExecution:
		return "build-script-execution"
	default:
		return "unknown"
	}
}

// LibraryCrateFiles is the files record of the LibraryCrate variant.
type LibraryCrateFiles struct {
	Outputs       []SavedFile
	Fingerprint   Fingerprint
	RustcDepInfo  SavedFile
	DriverDepInfo SavedFile
}

// LibraryCratePlan is the plan record of the LibraryCrate variant.
type LibraryCratePlan struct {
	Source      pathtoken.Token
	OutputPaths []pathtoken.Token
}

// BuildScriptCompilationFiles is the files record of the
// BuildScriptCompilation variant.
type BuildScriptCompilationFiles struct {
	Program       hash.Key
	RustcDepInfo  SavedFile
	DriverDepInfo SavedFile
	Fingerprint   Fingerprint
}

// BuildScriptCompilationPlan is the plan record of the
// BuildScriptCompilation variant.
type BuildScriptCompilationPlan struct {
	Source pathtoken.Token
}

// BuildScriptExecutionFiles is the files record of the
// BuildScriptExecution variant.
type BuildScriptExecutionFiles struct {
	OutDir      []SavedFile
	Stdout      SavedFile
	Stderr      SavedFile
	Fingerprint Fingerprint
}

// BuildScriptExecutionPlan is the plan record of the
// BuildScriptExecution variant.
type BuildScriptExecutionPlan struct {
	ProgramName string
}

// SavedUnit is the tagged union of spec.md §3. Exactly one of the
// *Files/*Plan field pairs matching Kind is populated; the others are
// zero. Accessors below panic on a Kind mismatch rather than silently
// returning a zero value, since that mismatch can only come from a
// construction bug in this package or pkg/wire.
type SavedUnit struct {
	Kind Kind
	Plan PlanInfo

	libraryCrateFiles    LibraryCrateFiles
	libraryCratePlan     LibraryCratePlan
	buildScriptCompFiles BuildScriptCompilationFiles
	buildScriptCompPlan  BuildScriptCompilationPlan
	buildScriptExecFiles BuildScriptExecutionFiles
	buildScriptExecPlan  BuildScriptExecutionPlan
}

// NewLibraryCrate constructs a LibraryCrate-kind SavedUnit.
func NewLibraryCrate(plan PlanInfo, files LibraryCrateFiles, crate LibraryCratePlan) SavedUnit {
	return SavedUnit{Kind: LibraryCrate, Plan: plan, libraryCrateFiles: files, libraryCratePlan: crate}
}

// NewBuildScriptCompilation constructs a BuildScriptCompilation-kind
// SavedUnit.
func NewBuildScriptCompilation(plan PlanInfo, files BuildScriptCompilationFiles, script BuildScriptCompilationPlan) SavedUnit {
	return SavedUnit{Kind: BuildScriptCompilation, Plan: plan, buildScriptCompFiles: files, buildScriptCompPlan: script}
}

// NewBuildScriptExecution constructs a BuildScriptExecution-kind
// SavedUnit.
func NewBuildScriptExecution(plan PlanInfo, files BuildScriptExecutionFiles, script BuildScriptExecutionPlan) SavedUnit {
	return SavedUnit{Kind: BuildScriptExecution, Plan: plan, buildScriptExecFiles: files, buildScriptExecPlan: script}
}

// LibraryCrate returns the LibraryCrate variant's records. Panics if
// Kind != LibraryCrate.
func (u SavedUnit) LibraryCrate() (LibraryCrateFiles, LibraryCratePlan) {
	u.mustBe(LibraryCrate)
	return u.libraryCrateFiles, u.libraryCratePlan
}

// BuildScriptCompilation returns the BuildScriptCompilation variant's
// records. Panics if Kind != BuildScriptCompilation.
func (u SavedUnit) BuildScriptCompilation() (BuildScriptCompilationFiles, BuildScriptCompilationPlan) {
	u.mustBe(BuildScriptCompilation)
	return u.buildScriptCompFiles, u.buildScriptCompPlan
}

// BuildScriptExecution returns the BuildScriptExecution variant's
// records. Panics if Kind != BuildScriptExecution.
func (u SavedUnit) BuildScriptExecution() (BuildScriptExecutionFiles, BuildScriptExecutionPlan) {
	u.mustBe(BuildScriptExecution)
	return u.buildScriptExecFiles, u.buildScriptExecPlan
}

func (u SavedUnit) mustBe(k Kind) {
	if u.Kind != k {
		panic("unit: SavedUnit accessed as " + k.String() + " but holds " + u.Kind.String())
	}
}

// ContentKeys returns every content key this unit references in the
// CAS, in a stable order. Used by the save pipeline's dedup/upload
// pass and by restore's bulk-read batching.
func (u SavedUnit) ContentKeys() []hash.Key {
	switch u.Kind {
	case LibraryCrate:
		files := u.libraryCrateFiles
		keys := make([]hash.Key, 0, len(files.Outputs)+2)
		for _, f := range files.Outputs {
			keys = append(keys, f.Content)
		}
		return append(keys, files.RustcDepInfo.Content, files.DriverDepInfo.Content)
	case BuildScriptCompilation:
		files := u.buildScriptCompFiles
		return []hash.Key{files.Program, files.RustcDepInfo.Content, files.DriverDepInfo.Content}
	case BuildScriptExecution:
		files := u.buildScriptExecFiles
		keys := make([]hash.Key, 0, len(files.OutDir)+2)
		for _, f := range files.OutDir {
			keys = append(keys, f.Content)
		}
		return append(keys, files.Stdout.Content, files.Stderr.Content)
	default:
		return nil
	}
}

// FingerprintString returns the unit's fingerprint, the empty string
// if the variant carries none (none currently lack one, but kept for
// forward compatibility with pkg/fingerprint's generic chain walk).
func (u SavedUnit) FingerprintString() Fingerprint {
	switch u.Kind {
	case LibraryCrate:
		return u.libraryCrateFiles.Fingerprint
	case BuildScriptCompilation:
		return u.buildScriptCompFiles.Fingerprint
	case BuildScriptExecution:
		return u.buildScriptExecFiles.Fingerprint
	default:
		return ""
	}
}

// WithFingerprintString returns a copy of u with its fingerprint
// replaced, used by pkg/fingerprint's rewrite pass.
func (u SavedUnit) WithFingerprintString(fp Fingerprint) SavedUnit {
	switch u.Kind {
	case LibraryCrate:
		u.libraryCrateFiles.Fingerprint = fp
	case BuildScriptCompilation:
		u.buildScriptCompFiles.Fingerprint = fp
	case BuildScriptExecution:
		u.buildScriptExecFiles.Fingerprint = fp
	}
	return u
}
