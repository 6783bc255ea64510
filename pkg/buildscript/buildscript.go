// Package buildscript parses and re-serializes the build-script stdout
// directive stream of spec.md §4.4: newline-delimited lines each either
// a "cargo:" / "cargo::" directive or an opaque verbatim line, with
// both prefix styles coexisting in one stream and preserved per-line.
package buildscript

import (
	"encoding/json"
	"strings"

	"github.com/kraklabs/unitcache/pkg/pathtoken"
	"github.com/spkg/bom"
)

// Prefix records which directive-prefix spelling a line used.
type Prefix int

const (
	// NoPrefix marks an opaque, non-directive line.
	NoPrefix Prefix = iota
	SingleColon
	DoubleColon
)

func (p Prefix) text() string {
	switch p {
	case SingleColon:
		return "cargo:"
	case DoubleColon:
		return "cargo::"
	default:
		return ""
	}
}

// DirectiveKind enumerates the recognized directive keywords of
// spec.md §4.4.
type DirectiveKind int

const (
	RerunIfChanged DirectiveKind = iota
	RerunIfEnvChanged
	RustcLinkArg
	RustcLinkLib
	RustcLinkSearch
	RustcFlags
	RustcCfg
	RustcCheckCfg
	RustcEnv
	ErrorDirective
	WarningDirective
	Metadata
)

var directiveNames = map[string]DirectiveKind{
	"rerun-if-changed":     RerunIfChanged,
	"rerun-if-env-changed": RerunIfEnvChanged,
	"rustc-link-arg":       RustcLinkArg,
	"rustc-link-lib":       RustcLinkLib,
	"rustc-link-search":    RustcLinkSearch,
	"rustc-flags":          RustcFlags,
	"rustc-cfg":            RustcCfg,
	"rustc-check-cfg":      RustcCheckCfg,
	"rustc-env":            RustcEnv,
	"error":                ErrorDirective,
	"warning":              WarningDirective,
	"metadata":             Metadata,
}

var directiveKeywords = func() map[DirectiveKind]string {
	m := make(map[DirectiveKind]string, len(directiveNames))
	for k, v := range directiveNames {
		m[v] = k
	}
	return m
}()

// LineKind tags a parsed Line's variant.
type LineKind int

const (
	// OtherLine is an opaque, preserved-verbatim text line.
	OtherLine LineKind = iota
	// DirectiveLine is a recognized "cargo(:|::)keyword=..." directive.
	DirectiveLine
)

// Line is one parsed line of a build-script stdout stream.
type Line struct {
	Kind LineKind

	// Raw holds the verbatim text for Kind == OtherLine.
	Raw string

	// Prefix, Directive, and the argument fields below are set for
	// Kind == DirectiveLine.
	Prefix    Prefix
	Directive DirectiveKind

	// Path is set for RerunIfChanged and the path half of
	// RustcLinkSearch.
	Path pathtoken.Token
	// EnvVar is set for RerunIfEnvChanged.
	EnvVar string
	// Opaque is set for RustcLinkArg, RustcLinkLib, RustcFlags,
	// RustcCheckCfg, ErrorDirective, WarningDirective.
	Opaque string
	// SearchKind is the optional "KIND=" prefix of RustcLinkSearch.
	SearchKind string
	// Key/Value are set for RustcCfg (Value optional), RustcEnv, and
	// Metadata (Value required for the latter two).
	Key   string
	Value string
	// HasValue distinguishes a bare RustcCfg key from "key=value".
	HasValue bool
}

// Stream is an ordered sequence of parsed lines.
type Stream struct {
	Lines []Line
}

// Parse parses raw build-script stdout.
func Parse(roots pathtoken.Roots, data []byte) Stream {
	text := string(bom.Clean(data))
	text = strings.TrimSuffix(text, "\n")
	if text == "" {
		return Stream{}
	}

	var s Stream
	for _, raw := range strings.Split(text, "\n") {
		s.Lines = append(s.Lines, parseLine(roots, raw))
	}
	return s
}

func parseLine(roots pathtoken.Roots, raw string) Line {
	prefix, rest, ok := cutPrefix(raw)
	if !ok {
		return Line{Kind: OtherLine, Raw: raw}
	}

	keyword, arg, hasArg := strings.Cut(rest, "=")
	kind, known := directiveNames[keyword]
	if !known {
		return Line{Kind: OtherLine, Raw: raw}
	}
	if !hasArg {
		// Every recognized directive requires an '=' payload except
		// bare "rustc-cfg" (a cfg key with no value), and even that
		// form is written as "rustc-cfg=key" by cargo; a truly
		// payload-less line is malformed.
		return Line{Kind: OtherLine, Raw: raw}
	}

	switch kind {
	case RerunIfChanged:
		return Line{Kind: DirectiveLine, Prefix: prefix, Directive: kind, Path: pathtoken.Tokenize(roots, arg)}
	case RerunIfEnvChanged:
		return Line{Kind: DirectiveLine, Prefix: prefix, Directive: kind, EnvVar: arg}
	case RustcLinkArg, RustcLinkLib, RustcFlags, RustcCheckCfg:
		return Line{Kind: DirectiveLine, Prefix: prefix, Directive: kind, Opaque: arg}
	case ErrorDirective, WarningDirective:
		return Line{Kind: DirectiveLine, Prefix: prefix, Directive: kind, Opaque: arg}
	case RustcLinkSearch:
		searchKind, path := splitSearchKind(arg)
		return Line{Kind: DirectiveLine, Prefix: prefix, Directive: kind, SearchKind: searchKind, Path: pathtoken.Tokenize(roots, path)}
	case RustcCfg:
		key, value, has := strings.Cut(arg, "=")
		return Line{Kind: DirectiveLine, Prefix: prefix, Directive: kind, Key: key, Value: value, HasValue: has}
	case RustcEnv, Metadata:
		key, value, has := strings.Cut(arg, "=")
		if !has {
			// malformed: missing second '=' segment falls through to Other.
			return Line{Kind: OtherLine, Raw: raw}
		}
		return Line{Kind: DirectiveLine, Prefix: prefix, Directive: kind, Key: key, Value: value, HasValue: true}
	default:
		return Line{Kind: OtherLine, Raw: raw}
	}
}

// cutPrefix recognizes either "cargo::" or "cargo:" (checked longest
// first so "cargo::foo" is not misread as "cargo:" + ":foo").
func cutPrefix(raw string) (Prefix, string, bool) {
	if rest, ok := strings.CutPrefix(raw, "cargo::"); ok {
		return DoubleColon, rest, true
	}
	if rest, ok := strings.CutPrefix(raw, "cargo:"); ok {
		return SingleColon, rest, true
	}
	return NoPrefix, raw, false
}

// splitSearchKind splits "KIND=path" into ("KIND", "path"), or
// ("", arg) when there's no recognized kind prefix. Cargo's kind
// vocabulary (native, framework, all, dependency, crate) is itself
// opaque to the cache; we only need to find where it ends.
var linkSearchKinds = []string{"native=", "framework=", "all=", "dependency=", "crate="}

func splitSearchKind(arg string) (kind, path string) {
	for _, k := range linkSearchKinds {
		if rest, ok := strings.CutPrefix(arg, k); ok {
			return strings.TrimSuffix(k, "="), rest
		}
	}
	return "", arg
}

// Render reconstructs the build-script stdout text from s, resolving
// path tokens under roots and reproducing each line's original prefix
// style.
func Render(roots pathtoken.Roots, s Stream) []byte {
	var b strings.Builder
	for _, line := range s.Lines {
		if line.Kind == OtherLine {
			b.WriteString(line.Raw)
			b.WriteByte('\n')
			continue
		}
		b.WriteString(line.Prefix.text())
		b.WriteString(directiveKeywords[line.Directive])
		b.WriteByte('=')
		b.WriteString(renderArg(roots, line))
		b.WriteByte('\n')
	}
	return []byte(b.String())
}

func renderArg(roots pathtoken.Roots, line Line) string {
	switch line.Directive {
	case RerunIfChanged:
		return pathtoken.Resolve(roots, line.Path)
	case RerunIfEnvChanged:
		return line.EnvVar
	case RustcLinkArg, RustcLinkLib, RustcFlags, RustcCheckCfg, ErrorDirective, WarningDirective:
		return line.Opaque
	case RustcLinkSearch:
		path := pathtoken.Resolve(roots, line.Path)
		if line.SearchKind == "" {
			return path
		}
		return line.SearchKind + "=" + path
	case RustcCfg:
		if !line.HasValue {
			return line.Key
		}
		return line.Key + "=" + line.Value
	case RustcEnv, Metadata:
		return line.Key + "=" + line.Value
	default:
		return ""
	}
}

// Encode serializes s's tokenized lines to JSON, leaving every Path
// token unresolved so the result can be stored content-addressed and
// re-rendered later under a different workspace's roots.
func Encode(s Stream) []byte {
	data, _ := json.Marshal(s)
	return data
}

// Decode parses the JSON form Encode produces.
func Decode(data []byte) (Stream, error) {
	var s Stream
	err := json.Unmarshal(data, &s)
	return s, err
}
