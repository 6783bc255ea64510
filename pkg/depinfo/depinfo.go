// Package depinfo parses and re-serializes the rustc-style dep-info
// format described in spec.md §4.4: lines of the form
// "OUTPUT: INPUT INPUT ...", blank lines, and "#"-prefixed comments,
// with backslash-at-line-end continuation. Round-tripping an
// unmodified, parseable input must be byte-exact modulo a single
// trailing newline (spec.md §8, invariant 6).
//
// Whitespace tokenizing of a joined line is delegated to
// github.com/mgutz/str's ToArgv, which already implements the
// backslash-escapes-a-space shell-argv splitting rule that rustc's
// dep-info writer uses for paths containing spaces — the same
// third-party helper lazydocker uses in pkg/commands/os.go to split a
// shell command line into argv.
package depinfo

import (
	"encoding/json"
	"strings"

	"github.com/kraklabs/unitcache/pkg/pathtoken"
	"github.com/mgutz/str"
	"github.com/spkg/bom"
)

// LineKind tags a parsed Line's variant.
type LineKind int

const (
	Space LineKind = iota
	Comment
	Build
	// Other holds a line that is neither blank, a comment, nor a
	// colon-separated build rule; preserved byte-for-byte so an
	// unexpected line never breaks the round trip.
	Other
)

// Line is one parsed line of a dep-info file.
type Line struct {
	Kind LineKind

	// Comment holds the text after '#' for Kind == Comment (without the
	// '#' itself).
	Comment string

	// Raw holds the original line text for Kind == Other.
	Raw string

	// Output and Inputs hold the tokenized paths for Kind == Build.
	Output pathtoken.Token
	Inputs []pathtoken.Token
}

// File is an ordered sequence of parsed lines; the order, comments, and
// blank lines are preserved verbatim by Render.
type File struct {
	Lines []Line
}

// Parse parses raw dep-info bytes. A leading UTF-8 BOM is stripped
// before parsing, the way lazydocker strips BOMs from subprocess
// output in pkg/gui/view_helpers.go.
func Parse(roots pathtoken.Roots, data []byte) File {
	text := string(bom.Clean(data))
	logicalLines := joinContinuations(text)

	f := File{}
	for _, raw := range logicalLines {
		f.Lines = append(f.Lines, parseLine(roots, raw))
	}
	return f
}

// joinContinuations splits text on '\n' and joins any line ending in an
// odd number of trailing backslashes with the line that follows it,
// per the makefile backslash-continuation rule. The joined logical line
// retains the backslash-newline sequence verbatim so Render can
// reproduce it exactly.
func joinContinuations(text string) []string {
	text = strings.TrimSuffix(text, "\n")
	if text == "" {
		return nil
	}
	raw := strings.Split(text, "\n")

	var out []string
	var cur strings.Builder
	inContinuation := false
	for _, line := range raw {
		if inContinuation {
			cur.WriteByte('\n')
			cur.WriteString(line)
		} else {
			cur.Reset()
			cur.WriteString(line)
		}

		if endsInOddBackslashes(line) {
			inContinuation = true
			continue
		}
		inContinuation = false
		out = append(out, cur.String())
	}
	if inContinuation {
		out = append(out, cur.String())
	}
	return out
}

func endsInOddBackslashes(line string) bool {
	n := 0
	for i := len(line) - 1; i >= 0 && line[i] == '\\'; i-- {
		n++
	}
	return n%2 == 1
}

func parseLine(roots pathtoken.Roots, raw string) Line {
	trimmed := strings.TrimSpace(raw)
	switch {
	case trimmed == "":
		return Line{Kind: Space}
	case strings.HasPrefix(trimmed, "#"):
		return Line{Kind: Comment, Comment: strings.TrimPrefix(trimmed, "#")}
	}

	colon := strings.Index(raw, ":")
	if colon < 0 {
		return Line{Kind: Other, Raw: raw}
	}

	outputTok := strings.TrimSpace(raw[:colon])
	rest := raw[colon+1:]

	inputs := str.ToArgv(rest)

	return Line{
		Kind:   Build,
		Output: pathtoken.Tokenize(roots, outputTok),
		Inputs: tokenizeAll(roots, inputs),
	}
}

func tokenizeAll(roots pathtoken.Roots, paths []string) []pathtoken.Token {
	toks := make([]pathtoken.Token, 0, len(paths))
	for _, p := range paths {
		if p == "" {
			continue
		}
		toks = append(toks, pathtoken.Tokenize(roots, p))
	}
	return toks
}

// Render reconstructs dep-info text from f, resolving tokens under
// roots. The output always ends in exactly one trailing newline,
// matching spec.md §4.4's "modulo a single trailing newline" rule.
func Render(roots pathtoken.Roots, f File) []byte {
	var b strings.Builder
	for _, line := range f.Lines {
		switch line.Kind {
		case Space:
			b.WriteByte('\n')
		case Comment:
			b.WriteByte('#')
			b.WriteString(line.Comment)
			b.WriteByte('\n')
		case Other:
			b.WriteString(line.Raw)
			b.WriteByte('\n')
		case Build:
			b.WriteString(escapePath(pathtoken.Resolve(roots, line.Output)))
			b.WriteByte(':')
			for _, in := range line.Inputs {
				b.WriteByte(' ')
				b.WriteString(escapePath(pathtoken.Resolve(roots, in)))
			}
			b.WriteByte('\n')
		}
	}
	return []byte(b.String())
}

// escapePath escapes embedded spaces the same way rustc's dep-info
// writer does, matching what str.ToArgv expects to split back apart.
func escapePath(p string) string {
	return strings.ReplaceAll(p, " ", `\ `)
}

// Encode serializes f's tokenized lines to JSON. Unlike Render, this
// never resolves a Token to an absolute path, so the result is safe to
// store in the CAS and re-render later under a different workspace's
// roots. f's fields are all strings, ints, and pathtoken.Tokens (which
// marshal through their own Anchor-tagged encoding), so this cannot
// fail.
func Encode(f File) []byte {
	data, _ := json.Marshal(f)
	return data
}

// Decode parses the JSON form Encode produces.
func Decode(data []byte) (File, error) {
	var f File
	err := json.Unmarshal(data, &f)
	return f, err
}
