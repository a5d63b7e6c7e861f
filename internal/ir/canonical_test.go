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
		{"string", String("hello"), `"hello"`},
		{"empty string", String(""), `""`},
		{"int", Int(42), "42"},
		{"negative int", Int(-100), "-100"},
		{"max int64", Int(9223372036854775807), "9223372036854775807"},
		{"min int64", Int(-9223372036854775808), "-9223372036854775808"},
		{"bool", Bool(true), "true"},
		{"null", Null{}, "null"},
		{"nil", nil, "null"},
		{"empty array", Array{}, "[]"},
		{"empty object", Object{}, "{}"},
		{"array of ints", Array{Int(1), Int(2), Int(3)}, "[1,2,3]"},
		{"go types", map[string]any{"b": int64(1), "a": []any{"x", true, uint64(7)}}, `{"a":["x",true,7],"b":1}`},
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
		"z": Object{"b": Int(1), "a": Int(2)},
		"a": Int(3),
	}

	result, err := MarshalCanonical(obj)
	require.NoError(t, err)
	assert.Equal(t, `{"a":3,"z":{"a":2,"b":1}}`, string(result))
}

func TestMarshalCanonicalUTF16Ordering(t *testing.T) {
	// U+10000 encodes as a surrogate pair starting 0xD800, which sorts
	// before U+E000 in UTF-16 even though its UTF-8 form sorts after.
	obj := Object{
		"\ue000":     Int(1),
		"\U00010000": Int(2),
	}

	result, err := MarshalCanonical(obj)
	require.NoError(t, err)
	assert.Equal(t, "{\"\U00010000\":2,\"\ue000\":1}", string(result))
}

func TestMarshalCanonicalNoHTMLEscape(t *testing.T) {
	result, err := MarshalCanonical(String("<b>a & b</b>"))
	require.NoError(t, err)
	assert.Equal(t, `"<b>a & b</b>"`, string(result))
}

func TestMarshalCanonicalRejectsFloats(t *testing.T) {
	for _, input := range []any{float64(3.14), float32(1.5), map[string]any{"x": 2.5}} {
		_, err := MarshalCanonical(input)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "float")
	}
}

func TestMarshalCanonicalNFCNormalization(t *testing.T) {
	composed := "caf\u00e9"
	decomposed := "cafe\u0301"

	r1, err := MarshalCanonical(Object{composed: String(composed)})
	require.NoError(t, err)
	r2, err := MarshalCanonical(Object{decomposed: String(decomposed)})
	require.NoError(t, err)
	assert.Equal(t, r1, r2)
}

func TestMarshalCanonicalLineSeparators(t *testing.T) {
	result, err := MarshalCanonical(String("a\u2028b\u2029c"))
	require.NoError(t, err)
	assert.Equal(t, "\"a\u2028b\u2029c\"", string(result))

	// A literal backslash followed by the text u2028 stays escaped.
	result, err = MarshalCanonical(String(`x\u2028`))
	require.NoError(t, err)
	assert.Equal(t, `"x\\u2028"`, string(result))
}

func TestMarshalCanonicalRoundTrip(t *testing.T) {
	cases := []Value{
		String("hello"),
		Int(-7),
		Null{},
		Array{Int(1), String("two"), Bool(false), Null{}},
		Object{"nested": Object{"list": Array{Int(1), Int(2)}}, "s": String("v")},
	}

	for _, original := range cases {
		c1, err := MarshalCanonical(original)
		require.NoError(t, err)

		decoded, err := UnmarshalValue(c1)
		require.NoError(t, err)

		c2, err := MarshalCanonical(decoded)
		require.NoError(t, err)
		assert.Equal(t, c1, c2)
	}
}

func FuzzMarshalCanonicalIdempotent(f *testing.F) {
	f.Add("hello", int64(1))
	f.Add("<&>", int64(-5))
	f.Add("caf\u00e9", int64(0))

	f.Fuzz(func(t *testing.T, s string, n int64) {
		v := Object{"s": String(s), "n": Int(n), "a": Array{String(s)}}
		c1, err := MarshalCanonical(v)
		if err != nil {
			t.Skip()
		}
		decoded, err := UnmarshalValue(c1)
		require.NoError(t, err)
		c2, err := MarshalCanonical(decoded)
		require.NoError(t, err)
		assert.Equal(t, c1, c2)
	})
}
