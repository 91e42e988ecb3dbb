package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonicalSortedKeys(t *testing.T) {
	out, err := MarshalCanonical(map[string]any{"zebra": 1, "alpha": 2, "beta": map[string]any{"b": 1, "a": 2}})
	require.NoError(t, err)
	assert.Equal(t, `{"alpha":2,"beta":{"a":2,"b":1},"zebra":1}`, string(out))
}

func TestMarshalCanonicalUTF16Ordering(t *testing.T) {
	// UTF-16 order: 0xD800 (surrogate of U+10000) < 0xE000
	out, err := MarshalCanonical(map[string]int{"\ue000": 1, "\U00010000": 2})
	require.NoError(t, err)
	assert.Equal(t, "{\"\U00010000\":2,\"\ue000\":1}", string(out))
}

func TestMarshalCanonicalStrings(t *testing.T) {
	out, err := MarshalCanonical("a<b>&c")
	require.NoError(t, err)
	assert.Equal(t, `"a<b>&c"`, string(out), "no HTML escaping")

	// "e" + combining acute normalizes to U+00E9
	out, err = MarshalCanonical("e\u0301")
	require.NoError(t, err)
	assert.Equal(t, "\"\u00e9\"", string(out))

	out, err = MarshalCanonical("x\u2028y")
	require.NoError(t, err)
	assert.Equal(t, "\"x\u2028y\"", string(out))

	out, err = MarshalCanonical(`x\u2028y`)
	require.NoError(t, err)
	assert.Equal(t, `"x\\u2028y"`, string(out), "literal backslash text stays escaped")
}

func TestMarshalCanonicalRejectsFloats(t *testing.T) {
	_, err := MarshalCanonical(map[string]any{"x": 1.5})
	assert.ErrorContains(t, err, "non-integer number")
}

func TestModuleHash(t *testing.T) {
	a := sampleModule()
	b := sampleModule()

	h1, err := ModuleHash(a)
	require.NoError(t, err)
	assert.Len(t, h1, 64, "SHA-256 hex is 64 characters")
	assert.Equal(t, h1, MustModuleHash(b), "equal modules hash equal")

	b.Types[0].Methods[0].Body[0].Int = 1
	assert.NotEqual(t, h1, MustModuleHash(b))
}

func TestTypeHashDomainSeparation(t *testing.T) {
	mod := &Module{Types: []*TypeDef{{Name: "T", Kind: KindStruct}}}
	th, err := TypeHash(mod.Types[0])
	require.NoError(t, err)
	assert.NotEqual(t, th, MustModuleHash(mod))
}
