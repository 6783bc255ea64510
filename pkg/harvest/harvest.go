// Package harvest bridges pkg/planproj's classified build-plan
// invocations to pkg/save's per-unit records: it reads each
// invocation's declared output files off disk, classifies them by
// name the way pkg/save's FileKind distinguishes dep-info/stdout/
// root-output from plain files, and assembles the unit.SavedUnit the
// save pipeline stages for upload.
//
// Grounded on lazydocker's pkg/commands/os.go style of deriving
// structured values from raw argv/env (here, a unit's crate name,
// target triple, and root source file from its rustc invocation argv)
// rather than demanding the driver report them as separate fields.
package harvest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kraklabs/unitcache/pkg/hash"
	"github.com/kraklabs/unitcache/pkg/pathtoken"
	"github.com/kraklabs/unitcache/pkg/planproj"
	"github.com/kraklabs/unitcache/pkg/save"
	"github.com/kraklabs/unitcache/pkg/unit"
)

// FileReader reads the raw bytes of a declared output path. Production
// code passes os.ReadFile; tests substitute an in-memory map.
type FileReader func(path string) ([]byte, error)

// DiskReader is the FileReader used outside of tests.
func DiskReader(path string) ([]byte, error) { return os.ReadFile(path) }

// Harvested is one unit's assembled save record: its SavedUnit plus
// every content-keyed blob it references, ready to fold into a
// save.PreparedUnit once the caller attaches a cachekey.Key.
type Harvested struct {
	Unit  unit.SavedUnit
	Blobs map[hash.Key][]byte
}

// Unit reads c's declared outputs via read, classifies each by name,
// and assembles the SavedUnit variant matching c.Kind.
func Unit(roots pathtoken.Roots, c planproj.Classified, read FileReader) (Harvested, error) {
	plan := unit.PlanInfo{
		UnitHash:     c.UnitHash,
		Package:      c.Invocation.Package,
		Crate:        crateName(c.Invocation),
		TargetTriple: targetTriple(c.Invocation),
	}

	switch c.Kind {
	case unit.LibraryCrate:
		return harvestLibraryCrate(roots, plan, c.Invocation, read)
	case unit.BuildScriptCompilation:
		return harvestBuildScriptCompilation(roots, plan, c.Invocation, read)
	case unit.BuildScriptExecution:
		return harvestBuildScriptExecution(roots, plan, c.Invocation, read)
	default:
		return Harvested{}, fmt.Errorf("harvest: unknown unit kind %v for %s", c.Kind, c.UnitHash)
	}
}

// depInfoCandidates partitions outputs into dep-info files (".d"
// suffix) and the rest, in their original order.
func depInfoCandidates(outputs []string) (depInfos, rest []string) {
	for _, o := range outputs {
		if strings.HasSuffix(o, ".d") {
			depInfos = append(depInfos, o)
		} else {
			rest = append(rest, o)
		}
	}
	return depInfos, rest
}

// prepareDepInfoPair reads and prepares up to two dep-info files,
// reusing the lone file for both content keys when the invocation's
// driver only emitted one (§4.2's rustc/driver dep-info split is a
// single artifact in our invocation wire schema when the two concerns
// were never distinguished upstream). Each result carries the path it
// was read from, tokenized under roots, so restore knows where to
// write it back.
func prepareDepInfoPair(roots pathtoken.Roots, paths []string, read FileReader, blobs map[hash.Key][]byte) (rustc, driver unit.SavedFile, err error) {
	if len(paths) == 0 {
		return rustc, driver, nil
	}
	raw, err := read(paths[0])
	if err != nil {
		return rustc, driver, err
	}
	pf := save.PrepareFile(roots, save.DepInfoFile, raw)
	blobs[pf.Key] = pf.Bytes
	rustc = unit.SavedFile{Content: pf.Key, Path: pathtoken.Tokenize(roots, paths[0])}
	driver = rustc

	if len(paths) > 1 {
		raw2, err := read(paths[1])
		if err != nil {
			return rustc, driver, err
		}
		pf2 := save.PrepareFile(roots, save.DepInfoFile, raw2)
		blobs[pf2.Key] = pf2.Bytes
		driver = unit.SavedFile{Content: pf2.Key, Path: pathtoken.Tokenize(roots, paths[1])}
	}
	return rustc, driver, nil
}

func prepareOutputFile(roots pathtoken.Roots, path string, read FileReader, blobs map[hash.Key][]byte) (unit.SavedFile, error) {
	raw, err := read(path)
	if err != nil {
		return unit.SavedFile{}, err
	}
	pf := save.PrepareFile(roots, save.Plain, raw)
	blobs[pf.Key] = pf.Bytes
	return unit.SavedFile{
		Executable: false,
		Content:    pf.Key,
		Path:       pathtoken.Tokenize(roots, path),
	}, nil
}

func harvestLibraryCrate(roots pathtoken.Roots, plan unit.PlanInfo, inv planproj.Invocation, read FileReader) (Harvested, error) {
	blobs := make(map[hash.Key][]byte)
	depInfos, rest := depInfoCandidates(inv.Outputs)

	rustc, driver, err := prepareDepInfoPair(roots, depInfos, read, blobs)
	if err != nil {
		return Harvested{}, err
	}

	outputs := make([]unit.SavedFile, 0, len(rest))
	outputPaths := make([]pathtoken.Token, 0, len(rest))
	for _, path := range rest {
		f, err := prepareOutputFile(roots, path, read, blobs)
		if err != nil {
			return Harvested{}, err
		}
		outputs = append(outputs, f)
		outputPaths = append(outputPaths, f.Path)
	}

	files := unit.LibraryCrateFiles{
		Outputs:       outputs,
		Fingerprint:   unit.Fingerprint(inv.Fingerprint),
		RustcDepInfo:  rustc,
		DriverDepInfo: driver,
	}
	crate := unit.LibraryCratePlan{
		Source:      sourceToken(roots, inv),
		OutputPaths: outputPaths,
	}
	return Harvested{Unit: unit.NewLibraryCrate(plan, files, crate), Blobs: blobs}, nil
}

func harvestBuildScriptCompilation(roots pathtoken.Roots, plan unit.PlanInfo, inv planproj.Invocation, read FileReader) (Harvested, error) {
	blobs := make(map[hash.Key][]byte)
	depInfos, rest := depInfoCandidates(inv.Outputs)

	rustc, driver, err := prepareDepInfoPair(roots, depInfos, read, blobs)
	if err != nil {
		return Harvested{}, err
	}

	var program hash.Key
	if len(rest) > 0 {
		raw, err := read(rest[0])
		if err != nil {
			return Harvested{}, err
		}
		pf := save.PrepareFile(roots, save.Plain, raw)
		blobs[pf.Key] = pf.Bytes
		program = pf.Key
	}

	files := unit.BuildScriptCompilationFiles{
		Program:       program,
		RustcDepInfo:  rustc,
		DriverDepInfo: driver,
		Fingerprint:   unit.Fingerprint(inv.Fingerprint),
	}
	script := unit.BuildScriptCompilationPlan{Source: sourceToken(roots, inv)}
	return Harvested{Unit: unit.NewBuildScriptCompilation(plan, files, script), Blobs: blobs}, nil
}

func harvestBuildScriptExecution(roots pathtoken.Roots, plan unit.PlanInfo, inv planproj.Invocation, read FileReader) (Harvested, error) {
	blobs := make(map[hash.Key][]byte)

	var outDir []unit.SavedFile
	var stdout, stderr unit.SavedFile
	for _, path := range inv.Outputs {
		switch filepath.Base(path) {
		case "root-output":
			continue // synthesized at restore, never stored (spec.md §4.4)
		case "output":
			raw, err := read(path)
			if err != nil {
				return Harvested{}, err
			}
			pf := save.PrepareFile(roots, save.BuildScriptStdoutFile, raw)
			blobs[pf.Key] = pf.Bytes
			stdout = unit.SavedFile{Content: pf.Key, Path: pathtoken.Tokenize(roots, path)}
		case "stderr":
			raw, err := read(path)
			if err != nil {
				return Harvested{}, err
			}
			pf := save.PrepareFile(roots, save.Plain, raw)
			blobs[pf.Key] = pf.Bytes
			stderr = unit.SavedFile{Content: pf.Key, Path: pathtoken.Tokenize(roots, path)}
		default:
			f, err := prepareOutputFile(roots, path, read, blobs)
			if err != nil {
				return Harvested{}, err
			}
			outDir = append(outDir, f)
		}
	}

	files := unit.BuildScriptExecutionFiles{
		OutDir:      outDir,
		Stdout:      stdout,
		Stderr:      stderr,
		Fingerprint: unit.Fingerprint(inv.Fingerprint),
	}
	script := unit.BuildScriptExecutionPlan{ProgramName: programName(inv)}
	return Harvested{Unit: unit.NewBuildScriptExecution(plan, files, script), Blobs: blobs}, nil
}

// sourceToken locates the invocation's root source file: the first
// argv token ending in ".rs" that isn't itself a flag, rustc's own
// convention for the positional crate-root argument.
func sourceToken(roots pathtoken.Roots, inv planproj.Invocation) pathtoken.Token {
	for _, a := range inv.Argv {
		if strings.HasSuffix(a, ".rs") && !strings.HasPrefix(a, "-") {
			return pathtoken.Tokenize(roots, a)
		}
	}
	return pathtoken.Token{}
}

// programName returns the build script's executed binary name, the
// basename of argv[0].
func programName(inv planproj.Invocation) string {
	if len(inv.Argv) == 0 {
		return ""
	}
	return filepath.Base(inv.Argv[0])
}

// crateName returns the --crate-name argv value, falling back to the
// package name when absent.
func crateName(inv planproj.Invocation) string {
	for i, a := range inv.Argv {
		if a == "--crate-name" && i+1 < len(inv.Argv) {
			return inv.Argv[i+1]
		}
	}
	return inv.Package
}

// targetTriple returns the --target argv value, empty for host builds.
func targetTriple(inv planproj.Invocation) string {
	for i, a := range inv.Argv {
		if a == "--target" && i+1 < len(inv.Argv) {
			return inv.Argv[i+1]
		}
	}
	return ""
}
