// Package planproj projects a build driver's invocation list and
// post-build event stream into the ordered unit list of spec.md §4.5.
//
// Grounded on lazydocker's pkg/commands/os.go argv/env handling for
// the shape of "one external process invocation, some argv, some env"
// and on samber/lo's Find, the "find the first match or default" idiom
// lazydocker uses throughout pkg/gui, here picking the first
// non-sidecar output in extractUnitHash.
package planproj

import (
	"path/filepath"
	"strings"

	"github.com/samber/lo"

	"github.com/kraklabs/unitcache/pkg/unit"
)

// TargetKind tags what an Invocation built.
type TargetKind int

const (
	OtherTarget TargetKind = iota
	CustomBuild
	LibraryTarget
)

// CompileMode tags how an Invocation ran.
type CompileMode int

const (
	OtherMode CompileMode = iota
	Build
	RunCustomBuild
)

// Invocation is one compiler invocation from the build driver's plan.
type Invocation struct {
	Package     string
	Version     string
	TargetKind  TargetKind
	CompileMode CompileMode
	Argv        []string
	Env         map[string]string
	Outputs     []string
	// Fingerprint is the driver's self-computed per-unit fingerprint
	// text (spec.md §3), reported alongside the invocation rather than
	// discovered from a file in Outputs.
	Fingerprint string
}

// isPrimary reports whether env marks this invocation as first-party
// workspace code rather than a dependency, per CARGO_PRIMARY_PACKAGE.
func (inv Invocation) isPrimary() bool {
	_, ok := inv.Env["CARGO_PRIMARY_PACKAGE"]
	return ok
}

// UnitKind mirrors unit.Kind, kept separate so this package does not
// need to construct a unit.SavedUnit just to classify one.
type UnitKind = unit.Kind

// Classified pairs an Invocation with its classification and extracted
// unit hash.
type Classified struct {
	Invocation Invocation
	Kind       UnitKind
	UnitHash   unit.Hash
}

var debugSidecarExts = map[string]bool{
	".dwp":  true,
	".dSYM": true,
}

// Project classifies and orders invs into the cacheable unit list.
// Non-cacheable invocations (anything not matching one of the three
// kinds) are dropped. The input order is assumed already topological
// (spec.md §4.5) and is preserved.
func Project(invs []Invocation) []Classified {
	var out []Classified
	for _, inv := range invs {
		kind, ok := classify(inv)
		if !ok {
			continue
		}
		h, ok := extractUnitHash(inv.Outputs)
		if !ok {
			continue
		}
		out = append(out, Classified{Invocation: inv, Kind: kind, UnitHash: h})
	}
	return out
}

func classify(inv Invocation) (UnitKind, bool) {
	switch {
	case inv.TargetKind == CustomBuild && inv.CompileMode == Build:
		return unit.BuildScriptCompilation, true
	case inv.TargetKind == CustomBuild && inv.CompileMode == RunCustomBuild:
		return unit.BuildScriptExecution, true
	case inv.TargetKind == LibraryTarget && !inv.isPrimary():
		return unit.LibraryCrate, true
	default:
		return 0, false
	}
}

// extractUnitHash finds the first non-sidecar output filename and
// returns the last '-'-separated token of its stem, per spec.md §4.5.
func extractUnitHash(outputs []string) (unit.Hash, bool) {
	name, ok := lo.Find(outputs, func(p string) bool {
		return !debugSidecarExts[filepath.Ext(p)]
	})
	if !ok {
		return "", false
	}
	stem := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	idx := strings.LastIndex(stem, "-")
	if idx < 0 {
		return "", false
	}
	return unit.Hash(stem[idx+1:]), true
}
