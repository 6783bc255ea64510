// Package pathtoken implements the disk-path-token half of the
// relocatability layer (spec.md §3, §4.4, §9): a closed tagged sum over
// three anchor roots plus a verbatim fallback, rendered only at the I/O
// boundary. This is deliberately stdlib-only — see DESIGN.md for why no
// pack dependency targets this.
package pathtoken

import (
	"path/filepath"
	"strings"
)

// Anchor names the root a path is relative to.
type Anchor int

const (
	// Verbatim means the path matched none of the three anchors below
	// and is stored as an absolute path unchanged.
	Verbatim Anchor = iota
	// Workspace is the build workspace root.
	Workspace
	// TargetProfile is the workspace's target profile directory, e.g.
	// ".../target/debug".
	TargetProfile
	// PackageCache is the user-level package cache root where
	// downloaded package sources live.
	PackageCache
)

func (a Anchor) String() string {
	switch a {
	case Workspace:
		return "workspace"
	case TargetProfile:
		return "target-profile"
	case PackageCache:
		return "package-cache"
	default:
		return "verbatim"
	}
}

// Token is a serialized, relocatable representation of a path: an
// anchor tag plus the path relative to that anchor (or, for Verbatim,
// the absolute path itself).
type Token struct {
	Anchor Anchor
	Rel    string
}

// Roots is the set of anchor locations resolved for one workspace,
// used to tokenize absolute paths at save time and resolve tokens back
// to absolute paths at restore time.
type Roots struct {
	Workspace     string
	TargetProfile string
	PackageCache  string
}

// clean normalizes a root so prefix-matching is reliable regardless of
// trailing slashes.
func clean(p string) string {
	if p == "" {
		return p
	}
	return filepath.Clean(p)
}

// Normalize returns r with all three roots filepath.Clean'd and makes
// no other change. TargetProfile and PackageCache are not required to
// be subdirectories of Workspace (a custom CARGO_TARGET_DIR or
// CARGO_HOME may point elsewhere), and Normalize does not check how
// the roots relate to each other.
func (r Roots) Normalize() Roots {
	return Roots{
		Workspace:     clean(r.Workspace),
		TargetProfile: clean(r.TargetProfile),
		PackageCache:  clean(r.PackageCache),
	}
}

// Tokenize converts an absolute path to a symbolic Token, preferring
// the most specific anchor (TargetProfile and PackageCache are checked
// before Workspace, since TargetProfile is commonly nested inside
// Workspace and we want the more specific anchor to win so that moving
// CARGO_TARGET_DIR alone still relocates correctly).
func Tokenize(roots Roots, absPath string) Token {
	roots = roots.Normalize()
	absPath = filepath.Clean(absPath)

	type candidate struct {
		anchor Anchor
		root   string
	}
	candidates := []candidate{
		{TargetProfile, roots.TargetProfile},
		{PackageCache, roots.PackageCache},
		{Workspace, roots.Workspace},
	}

	for _, c := range candidates {
		if c.root == "" {
			continue
		}
		if rel, ok := relUnder(c.root, absPath); ok {
			return Token{Anchor: c.anchor, Rel: rel}
		}
	}
	return Token{Anchor: Verbatim, Rel: absPath}
}

// relUnder returns path relative to root using forward slashes (so
// tokens are OS-independent in the serialized artifact), iff path is
// root itself or a descendant of it.
func relUnder(root, path string) (string, bool) {
	if path == root {
		return "", true
	}
	prefix := root + string(filepath.Separator)
	if !strings.HasPrefix(path, prefix) {
		return "", false
	}
	rel := strings.TrimPrefix(path, prefix)
	return filepath.ToSlash(rel), true
}

// Resolve regenerates an absolute path for Token under the given roots.
// Verbatim tokens are returned unchanged (Rel is already absolute).
func Resolve(roots Roots, tok Token) string {
	roots = roots.Normalize()
	rel := filepath.FromSlash(tok.Rel)
	switch tok.Anchor {
	case Workspace:
		if rel == "" {
			return roots.Workspace
		}
		return filepath.Join(roots.Workspace, rel)
	case TargetProfile:
		if rel == "" {
			return roots.TargetProfile
		}
		return filepath.Join(roots.TargetProfile, rel)
	case PackageCache:
		if rel == "" {
			return roots.PackageCache
		}
		return filepath.Join(roots.PackageCache, rel)
	default:
		return tok.Rel
	}
}
