package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonicalBasic(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		expected string
	}{
		{"sym", Sym("hello"), `"hello"`},
		{"empty sym", Sym(""), `""`},
		{"int", Int(42), "42"},
		{"negative int", Int(-100), "-100"},
		{"max int64", Int(9223372036854775807), "9223372036854775807"},
		{"min int64", Int(-9223372036854775808), "-9223372036854775808"},
		{"bool", Bool(true), "true"},
		{"null", Null{}, "null"},
		{"ref", Ref(12), `"#12"`},
		{"empty vec", Vec{}, "[]"},
		{"empty object", Object{}, "{}"},
		{"vec", Vec{Int(1), Int(2), Int(3)}, "[1,2,3]"},
		{"object", Object{"a": Int(1)}, `{"a":1}`},
		{"go map", map[string]any{"b": 2, "a": "x"}, `{"a":"x","b":2}`},
		{"go slice", []any{1, true}, `[1,true]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := MarshalCanonical(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(result))
		})
	}
}

func TestMarshalCanonicalNestedSortedKeys(t *testing.T) {
	obj := Object{
		"z": Object{"y": Int(1), "x": Int(2)},
		"a": Vec{Object{"d": Int(1), "c": Int(2)}},
	}
	result, err := MarshalCanonical(obj)
	require.NoError(t, err)
	assert.Equal(t, `{"a":[{"c":2,"d":1}],"z":{"x":2,"y":1}}`, string(result))
}

func TestMarshalCanonicalNoHTMLEscape(t *testing.T) {
	result, err := MarshalCanonical(Sym("<a & b>"))
	require.NoError(t, err)
	assert.Equal(t, `"<a & b>"`, string(result))
}

func TestMarshalCanonicalRejectsFloats(t *testing.T) {
	_, err := MarshalCanonical(3.14)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "float")

	_, err = MarshalCanonical(map[string]any{"x": 1.5})
	require.Error(t, err)
}

func TestMarshalCanonicalNFCNormalization(t *testing.T) {
	composed := "caf\xc3\xa9"    // precomposed e-acute
	decomposed := "cafe\xcc\x81" // e + combining acute

	a, err := MarshalCanonical(Object{composed: Sym(composed)})
	require.NoError(t, err)
	b, err := MarshalCanonical(Object{decomposed: Sym(decomposed)})
	require.NoError(t, err)

	assert.Equal(t, a, b)
}

func TestMarshalCanonicalStringEscaping(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"newline", "a\nb", `"a\nb"`},
		{"tab", "a\tb", `"a\tb"`},
		{"quote", `a"b`, `"a\"b"`},
		{"backslash", `a\b`, `"a\\b"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := MarshalCanonical(Sym(tt.input))
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(result))
		})
	}
}

func TestMarshalCanonicalLineSeparatorsLiteral(t *testing.T) {
	lineSep := "\xe2\x80\xa8"
	paraSep := "\xe2\x80\xa9"

	result, err := MarshalCanonical(Sym("a" + lineSep + "b" + paraSep + "c"))
	require.NoError(t, err)
	assert.Equal(t, `"a`+lineSep+"b"+paraSep+`c"`, string(result))
}

func TestMarshalCanonicalLiteralBackslashU(t *testing.T) {
	// A literal backslash followed by u2028 text must stay escaped.
	input := `seq \` + "u2028"
	result, err := MarshalCanonical(Sym(input))
	require.NoError(t, err)
	assert.Equal(t, `"seq \\`+"u2028"+`"`, string(result))
}

func TestMarshalCanonicalIdempotent(t *testing.T) {
	cases := []Value{
		Sym("hello"),
		Int(42),
		Vec{Int(1), Sym("two"), Bool(false), Ref(3)},
		Object{"nested": Object{"xs": Vec{Int(1), Null{}}}, "s": Sym("v")},
	}
	for _, original := range cases {
		first, err := MarshalCanonical(original)
		require.NoError(t, err)

		parsed, err := UnmarshalValue(first)
		require.NoError(t, err)

		second, err := MarshalCanonical(parsed)
		require.NoError(t, err)
		assert.Equal(t, string(first), string(second))
	}
}
