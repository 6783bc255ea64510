package utils

import (
	"errors"
	"io"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitLines(t *testing.T) {
	type scenario struct {
		multilineString string
		expected        []string
	}

	scenarios := []scenario{
		{
			"",
			[]string{},
		},
		{
			"\n",
			[]string{},
		},
		{
			"hello world !\nhello universe !\n",
			[]string{
				"hello world !",
				"hello universe !",
			},
		},
	}

	for _, s := range scenarios {
		assert.EqualValues(t, s.expected, SplitLines(s.multilineString))
	}
}

func TestWithPadding(t *testing.T) {
	type scenario struct {
		str      string
		padding  int
		expected string
	}

	scenarios := []scenario{
		{
			"hello world !",
			1,
			"hello world !",
		},
		{
			"hello world !",
			14,
			"hello world ! ",
		},
	}

	for _, s := range scenarios {
		assert.EqualValues(t, s.expected, WithPadding(s.str, s.padding))
	}
}

func TestColoredString_FgWhiteIsNoColor(t *testing.T) {
	assert.Equal(t, "plain", ColoredString("plain", color.FgWhite))
}

func TestColoredString_AppliesColor(t *testing.T) {
	defer func(old bool) { color.NoColor = old }(color.NoColor)
	color.NoColor = false

	out := ColoredString("hi", color.FgRed)
	assert.Contains(t, out, "hi")
	assert.NotEqual(t, "hi", out)
}

func TestDecolorise_StripsAnsiCodes(t *testing.T) {
	defer func(old bool) { color.NoColor = old }(color.NoColor)
	color.NoColor = false

	colored := ColoredString("hi", color.FgRed)
	assert.Equal(t, "hi", Decolorise(colored))
}

func TestDisplayArraysAligned(t *testing.T) {
	type scenario struct {
		input    [][]string
		expected bool
	}

	scenarios := []scenario{
		{
			[][]string{{"", ""}, {"", ""}},
			true,
		},
		{
			[][]string{{""}, {"", ""}},
			false,
		},
	}

	for _, s := range scenarios {
		assert.EqualValues(t, s.expected, displayArraysAligned(s.input))
	}
}

func TestGetPaddedDisplayStrings(t *testing.T) {
	type scenario struct {
		stringArrays [][]string
		padWidths    []int
		expected     []string
	}

	scenarios := []scenario{
		{
			[][]string{{"a", "b"}, {"c", "d"}},
			[]int{1},
			[]string{"a b", "c d"},
		},
	}

	for _, s := range scenarios {
		assert.EqualValues(t, s.expected, getPaddedDisplayStrings(s.stringArrays, s.padWidths))
	}
}

func TestGetPadWidths(t *testing.T) {
	type scenario struct {
		stringArrays [][]string
		expected     []int
	}

	scenarios := []scenario{
		{
			[][]string{{""}, {""}},
			[]int{},
		},
		{
			[][]string{{"a"}, {""}},
			[]int{},
		},
		{
			[][]string{{"aa", "b", "ccc"}, {"c", "d", "e"}},
			[]int{2, 1},
		},
	}

	for _, s := range scenarios {
		assert.EqualValues(t, s.expected, getPadWidths(s.stringArrays))
	}
}

func TestRenderTable(t *testing.T) {
	type scenario struct {
		input       [][]string
		expected    string
		expectedErr error
	}

	scenarios := []scenario{
		{
			input:       [][]string{{"a", "b"}, {"c", "d"}},
			expected:    "a b\nc d",
			expectedErr: nil,
		},
		{
			input:       [][]string{{"aaaa", "b"}, {"c", "d"}},
			expected:    "aaaa b\nc    d",
			expectedErr: nil,
		},
		{
			input:       [][]string{{"a"}, {"c", "d"}},
			expected:    "",
			expectedErr: errors.New("each item must return the same number of strings to display"),
		},
	}

	for _, s := range scenarios {
		output, err := RenderTable(s.input)
		assert.EqualValues(t, s.expected, output)
		if s.expectedErr != nil {
			assert.EqualError(t, err, s.expectedErr.Error())
		} else {
			assert.NoError(t, err)
		}
	}
}

func TestFormatDecimalBytes(t *testing.T) {
	type scenario struct {
		input    int
		expected string
	}

	scenarios := []scenario{
		{0, "0B"},
		{999, "999.00B"},
		{1500, "1.50kB"},
		{1_500_000, "1.50MB"},
	}

	for _, s := range scenarios {
		assert.Equal(t, s.expected, FormatDecimalBytes(s.input))
	}
}

func TestSafeTruncate(t *testing.T) {
	assert.Equal(t, "abc", SafeTruncate("abcdef", 3))
	assert.Equal(t, "ab", SafeTruncate("ab", 3))
}

func TestGetColorAttribute(t *testing.T) {
	assert.Equal(t, color.FgGreen, GetColorAttribute("green"))
	assert.Equal(t, color.FgWhite, GetColorAttribute("not-a-real-color"))
}

func TestWithShortSha_TruncatesFullLengthHexTokens(t *testing.T) {
	hash := "a1b2c3d4e5f6a1b2c3d4e5f6a1b2c3d4e5f6a1b2c3d4e5f6a1b2c3d4e5f6a1b2"
	require.Len(t, hash, 64)
	out := WithShortSha("unit " + hash + " restored")
	assert.Equal(t, "unit "+hash[:10]+" restored", out)
}

func TestFormatMap_EmptyReturnsNone(t *testing.T) {
	assert.Equal(t, "none\n", FormatMap(0, map[string]string{}))
}

func TestFormatMap_SortsKeys(t *testing.T) {
	out := FormatMap(0, map[string]string{"b": "2", "a": "1"})
	assert.Equal(t, "\na: 1\nb: 2\n", Decolorise(out))
}

func TestCloseMany_CombinesErrors(t *testing.T) {
	ok := closerFunc(func() error { return nil })
	bad := closerFunc(func() error { return errors.New("boom") })

	err := CloseMany([]io.Closer{ok, bad})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestMarshalIntoYaml(t *testing.T) {
	type record struct {
		Name string `json:"name"`
		Size int    `json:"size"`
	}

	out, err := MarshalIntoYaml(record{Name: "unit-a", Size: 42})
	require.NoError(t, err)
	assert.Contains(t, string(out), "name: unit-a")
	assert.Contains(t, string(out), "size: 42")
}

func TestColoredYamlString_PreservesContent(t *testing.T) {
	out := ColoredYamlString("name: unit-a\nsize: 42\n")
	assert.Contains(t, Decolorise(out), "name")
	assert.Contains(t, Decolorise(out), "unit-a")
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
