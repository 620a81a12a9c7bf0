package ir

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValueSealed(t *testing.T) {
	// Compile-time check via assignment
	var _ Value = Null{}
	var _ Value = Int(42)
	var _ Value = Bool(true)
	var _ Value = Sym("fast")
	var _ Value = Ref(3)
	var _ Value = Vec{Int(1), Sym("a")}
	var _ Value = Object{"k": Int(1)}
}

func TestObjectSortedKeys(t *testing.T) {
	obj := Object{
		"zebra":  Sym("z"),
		"apple":  Sym("a"),
		"banana": Sym("b"),
	}
	assert.Equal(t, []string{"apple", "banana", "zebra"}, obj.SortedKeys())
}

func TestObjectSortedKeysRFC8785Order(t *testing.T) {
	obj := Object{"a": Int(1), "A": Int(2), "aa": Int(3), "aA": Int(4), "Aa": Int(5), "AA": Int(6)}
	// 'A' = 65, 'a' = 97
	assert.Equal(t, []string{"A", "AA", "Aa", "a", "aA", "aa"}, obj.SortedKeys())
}

func TestCompareKeysRFC8785_Supplementary(t *testing.T) {
	// U+FFFF sorts after a surrogate pair in UTF-16 but before it in UTF-8.
	high := "\xef\xbf\xbf"     // U+FFFF
	emoji := "\xf0\x9f\x98\x80" // U+1F600, surrogates D83D DE00
	assert.Equal(t, 1, compareKeysRFC8785(high, emoji))
	assert.Equal(t, -1, compareKeysRFC8785(emoji, high))
}

func TestTruthy(t *testing.T) {
	tests := []struct {
		name string
		v    Value
		want bool
	}{
		{"nil", nil, false},
		{"null", Null{}, false},
		{"zero", Int(0), false},
		{"nonzero", Int(-3), true},
		{"false", Bool(false), false},
		{"true", Bool(true), true},
		{"empty sym", Sym(""), false},
		{"sym", Sym("x"), true},
		{"ref", Ref(0), true},
		{"empty vec", Vec{}, false},
		{"vec", Vec{Int(1)}, true},
		{"empty object", Object{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Truthy(tt.v))
		})
	}
}

func TestCompare_Numeric(t *testing.T) {
	c, err := Compare(Int(10), Int(5))
	require.NoError(t, err)
	assert.Equal(t, 1, c)

	c, err = Compare(Bool(true), Int(1))
	require.NoError(t, err)
	assert.Equal(t, 0, c, "bools compare as 0/1")

	c, err = Compare(Sym("a"), Sym("b"))
	require.NoError(t, err)
	assert.Equal(t, -1, c)
}

func TestCompare_IncomparableKinds(t *testing.T) {
	_, err := Compare(Sym("a"), Int(1))
	require.Error(t, err)

	var typeErr *TypeError
	require.ErrorAs(t, err, &typeErr)
	assert.Equal(t, KindSym, typeErr.Left)
	assert.Equal(t, KindInt, typeErr.Right)
	assert.Equal(t, ClassRuntime, ClassOf(err))
}

func TestEqual_Containers(t *testing.T) {
	a := Object{"xs": Vec{Int(1), Sym("b")}}
	b := Object{"xs": Vec{Int(1), Sym("b")}}
	c := Object{"xs": Vec{Int(1), Sym("c")}}

	assert.True(t, Equal(a, b))
	assert.False(t, Equal(a, c))
	assert.False(t, Equal(Sym("1"), Int(1)))
}

func TestObjectClone_IsDeep(t *testing.T) {
	orig := Object{"xs": Vec{Int(1)}}
	cp := orig.Clone()
	cp["xs"].(Vec)[0] = Int(99)

	assert.Equal(t, Int(1), orig["xs"].(Vec)[0])
}

func TestToInt(t *testing.T) {
	n, ok := ToInt(Bool(true))
	assert.True(t, ok)
	assert.Equal(t, int64(1), n)

	n, ok = ToInt(Ref(7))
	assert.True(t, ok)
	assert.Equal(t, int64(7), n)

	_, ok = ToInt(Sym("x"))
	assert.False(t, ok)
}

func TestUnmarshalValue(t *testing.T) {
	v, err := UnmarshalValue([]byte(`{"n":1,"flag":true,"node":"#4","tag":"ready","xs":[1,2],"none":null}`))
	require.NoError(t, err)

	obj, ok := v.(Object)
	require.True(t, ok)
	assert.Equal(t, Int(1), obj["n"])
	assert.Equal(t, Bool(true), obj["flag"])
	assert.Equal(t, Ref(4), obj["node"])
	assert.Equal(t, Sym("ready"), obj["tag"])
	assert.Equal(t, Vec{Int(1), Int(2)}, obj["xs"])
	assert.Equal(t, Null{}, obj["none"])
}

func TestUnmarshalValue_RejectsFloats(t *testing.T) {
	for _, in := range []string{`3.14`, `1e5`, `{"a":1.5}`, `[2.0]`} {
		_, err := UnmarshalValue([]byte(in))
		assert.Error(t, err, in)
	}
}

func TestObjectMarshalJSON_SortedAndTyped(t *testing.T) {
	obj := Object{"b": Ref(2), "a": Sym("x"), "c": Null{}}
	data, err := json.Marshal(obj)
	require.NoError(t, err)
	assert.Equal(t, `{"a":"x","b":"#2","c":null}`, string(data))

	var back Object
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, Equal(obj, back))
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "42", Format(Int(42)))
	assert.Equal(t, ":ready", Format(Sym("ready")))
	assert.Equal(t, "#3", Format(Ref(3)))
	assert.Equal(t, "null", Format(nil))
	assert.Equal(t, `[1,true]`, Format(Vec{Int(1), Bool(true)}))
}
