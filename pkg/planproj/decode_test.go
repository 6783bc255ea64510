package planproj_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/unitcache/pkg/planproj"
)

func TestDecodeInvocations_ParsesNDJSONLines(t *testing.T) {
	input := strings.Join([]string{
		`{"package":"serde","version":"1.0.0","targetKind":"library","compileMode":"other","env":{},"outputs":["/tmp/target/debug/deps/libserde-abcdef01.rlib"]}`,
		`{"package":"openssl-sys","version":"0.9.0","targetKind":"customBuild","compileMode":"build","argv":["rustc"],"env":{"OUT_DIR":"/tmp/out"},"outputs":["/tmp/target/debug/build/openssl-sys-22222222/build-script-build"]}`,
		``,
	}, "\n")

	invs, err := planproj.DecodeInvocations(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, invs, 2)

	assert.Equal(t, "serde", invs[0].Package)
	assert.Equal(t, planproj.LibraryTarget, invs[0].TargetKind)
	assert.Equal(t, planproj.OtherMode, invs[0].CompileMode)

	assert.Equal(t, "openssl-sys", invs[1].Package)
	assert.Equal(t, planproj.CustomBuild, invs[1].TargetKind)
	assert.Equal(t, planproj.Build, invs[1].CompileMode)
	assert.Equal(t, []string{"rustc"}, invs[1].Argv)
	assert.Equal(t, "/tmp/out", invs[1].Env["OUT_DIR"])
}

func TestDecodeInvocations_SkipsBlankLines(t *testing.T) {
	input := "\n\n" + `{"package":"a","targetKind":"other","compileMode":"other","outputs":["x"]}` + "\n"

	invs, err := planproj.DecodeInvocations(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, invs, 1)
	assert.Equal(t, "a", invs[0].Package)
}

func TestDecodeInvocations_InvalidJSONErrors(t *testing.T) {
	_, err := planproj.DecodeInvocations(strings.NewReader("not json"))
	assert.Error(t, err)
}
