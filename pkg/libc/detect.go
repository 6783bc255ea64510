package libc

import (
	"bufio"
	"errors"
	"os/exec"
	"regexp"
	"runtime"
	"strconv"
	"strings"
)

// glibcVersionPattern matches the MAJOR.MINOR[.PATCH] form printed by
// glibc's version-reporting entry point (`ldd --version`, whose first
// line embeds the same string glibc's getconf/confstr would report).
var glibcVersionPattern = regexp.MustCompile(`(\d+)\.(\d+)(?:\.(\d+))?`)

// Detect produces the libc fingerprint for the current host, per
// spec.md §4.8. It never returns an error: any failure or unrecognized
// platform maps to UnknownFingerprint, matching the spec's stated
// failure semantics.
func Detect() Fingerprint {
	switch runtime.GOOS {
	case "linux":
		return detectLinux()
	case "darwin":
		return detectDarwin()
	case "windows":
		return Fingerprint{Tag: Windows}
	default:
		return UnknownFingerprint
	}
}

func detectLinux() Fingerprint {
	if isMusl() {
		return Fingerprint{Tag: Musl}
	}
	major, minor, err := glibcVersion()
	if err != nil {
		return UnknownFingerprint
	}
	return Fingerprint{Tag: Glibc, Major: major, Minor: minor}
}

// isMusl detects a musl libc the cheap way: musl's dynamic linker
// prints a distinctive usage banner (and no version number) when
// invoked with no arguments, where glibc's `ldd --version` always
// succeeds. We look for the absence of a parseable glibc version
// instead of a musl-specific probe, since the loader path is
// distribution-specific; see glibcVersion.
func isMusl() bool {
	out, err := exec.Command("ldd", "--version").CombinedOutput()
	if err != nil {
		return true
	}
	return !glibcVersionPattern.MatchString(string(out))
}

// glibcVersion shells out to `ldd --version`, whose first line is of
// the form "ldd (GNU libc) 2.31" on glibc hosts, and parses the
// MAJOR.MINOR pair.
func glibcVersion() (major, minor int, err error) {
	out, cmdErr := exec.Command("ldd", "--version").CombinedOutput()
	if cmdErr != nil {
		return 0, 0, cmdErr
	}
	scanner := bufio.NewScanner(strings.NewReader(string(out)))
	if !scanner.Scan() {
		return 0, 0, errors.New("libc: empty ldd --version output")
	}
	m := glibcVersionPattern.FindStringSubmatch(scanner.Text())
	if m == nil {
		return 0, 0, errors.New("libc: could not parse glibc version")
	}
	major, err = strconv.Atoi(m[1])
	if err != nil {
		return 0, 0, err
	}
	minor, err = strconv.Atoi(m[2])
	if err != nil {
		return 0, 0, err
	}
	return major, minor, nil
}

// detectDarwin queries the deployment-target print flag of the clang
// driver (`clang -dM -E -x c /dev/null | grep MAC_OS_X_VERSION_MIN...`
// is too fragile across toolchains, so we use `sw_vers` instead, which
// every macOS host ships) and keeps (major, minor).
func detectDarwin() Fingerprint {
	out, err := exec.Command("sw_vers", "-productVersion").CombinedOutput()
	if err != nil {
		return UnknownFingerprint
	}
	parts := strings.SplitN(strings.TrimSpace(string(out)), ".", 3)
	if len(parts) < 2 {
		return UnknownFingerprint
	}
	major, err := strconv.Atoi(parts[0])
	if err != nil {
		return UnknownFingerprint
	}
	minor, err := strconv.Atoi(parts[1])
	if err != nil {
		return UnknownFingerprint
	}
	return Fingerprint{Tag: Darwin, Major: major, Minor: minor}
}
