package planproj

import (
	"bufio"
	"encoding/json"
	"io"
)

// invocationLine is the NDJSON shape the build driver wrapper emits on
// its invocation-graph stream (spec.md §4.5's "build-plan invocation
// list"): one line per compiler invocation, already carrying its full
// expected output file set.
type invocationLine struct {
	Package     string            `json:"package"`
	Version     string            `json:"version"`
	TargetKind  string            `json:"targetKind"`
	CompileMode string            `json:"compileMode"`
	Argv        []string          `json:"argv"`
	Env         map[string]string `json:"env"`
	Outputs     []string          `json:"outputs"`
	Fingerprint string            `json:"fingerprint"`
}

func decodeTargetKind(s string) TargetKind {
	switch s {
	case "customBuild":
		return CustomBuild
	case "library":
		return LibraryTarget
	default:
		return OtherTarget
	}
}

func decodeCompileMode(s string) CompileMode {
	switch s {
	case "build":
		return Build
	case "runCustomBuild":
		return RunCustomBuild
	default:
		return OtherMode
	}
}

// DecodeInvocationLine decodes a single NDJSON line from the build
// driver's live event stream (buildshell.DriverEvent.Line), for
// callers consuming the stream incrementally rather than batching it
// into an io.Reader.
func DecodeInvocationLine(line string) (Invocation, error) {
	var raw invocationLine
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return Invocation{}, err
	}
	return Invocation{
		Package:     raw.Package,
		Version:     raw.Version,
		TargetKind:  decodeTargetKind(raw.TargetKind),
		CompileMode: decodeCompileMode(raw.CompileMode),
		Argv:        raw.Argv,
		Env:         raw.Env,
		Outputs:     raw.Outputs,
		Fingerprint: raw.Fingerprint,
	}, nil
}

// DecodeInvocations reads one invocationLine per line from r, in the
// order the build driver reported them (already topological per
// spec.md §4.5), and returns the corresponding Invocation list.
func DecodeInvocations(r io.Reader) ([]Invocation, error) {
	var invs []Invocation
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if len(line) == 0 {
			continue
		}
		inv, err := DecodeInvocationLine(line)
		if err != nil {
			return nil, err
		}
		invs = append(invs, inv)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return invs, nil
}
