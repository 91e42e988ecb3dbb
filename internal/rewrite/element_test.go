package rewrite

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/jobweave/internal/diag"
	"github.com/roach88/jobweave/internal/ir"
	"github.com/roach88/jobweave/internal/lambda"
	"github.com/roach88/jobweave/internal/testutil"
)

func TestUnclassifiedParameter(t *testing.T) {
	tests := []struct {
		name  string
		param ir.Param
	}{
		{"managed type", testutil.ValParam("string", "label")},
		{"non-int primitive", testutil.ValParam("float", "speed")},
		{"int without a known name", testutil.ValParam("int", "count")},
		{"out index", ir.Param{Name: ParamQueryIndex, Type: "int", ByRef: ir.RefOut}},
		{"buffer of a non-buffer element", testutil.ValParam(lambda.BufferType(testutil.Position), "path")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := append(positionParams(), tt.param)
			res := run(t, closureChain(params, nil, nil))
			assert.Nil(t, res.Module)
			require.Equal(t, []string{diag.ErrUnclassifiedParam}, codes(res))
			assert.Equal(t, 13, res.Diagnostics[0].Line, "points at the ForEach call")
			assert.Contains(t, res.Diagnostics[0].Message, tt.param.Name)
			assert.Empty(t, res.Jobs)
		})
	}
}

func TestDuplicateProviderMutableWins(t *testing.T) {
	params := []ir.Param{testutil.InParam(testutil.Position, "a"), testutil.RefParam(testutil.Position, "b")}
	res := run(t, closureChain(params, nil, nil))
	require.Empty(t, res.Diagnostics)
	job, def := onlyJob(t, res)

	require.Len(t, job.Providers, 2)
	for _, p := range job.Providers {
		assert.Equal(t, ProvideComponent, p.Kind)
		assert.False(t, p.ReadOnly, "parameter %s", p.Param)
		assert.Equal(t, "__Position_Handle", p.HandleField)
		assert.Equal(t, "__Position_Runtime", p.RuntimeField)
	}
	assert.Equal(t, []string{"__Position_Handle", "__Position_Runtime"}, fieldNames(def))
	assert.Nil(t, def.Field("__Position_Handle").Attributes, "merged handle is writable")

	require.NotNil(t, job.Query)
	for _, r := range job.Query.All {
		if r.Type == testutil.Position {
			assert.False(t, r.ReadOnly)
		}
	}
}

func TestNameProviders(t *testing.T) {
	bs := []ProviderBinding{
		{Param: "a", Kind: ProvideComponent, Element: testutil.Position, ReadOnly: true},
		{Param: "v", Kind: ProvideComponent, Element: testutil.Velocity, ReadOnly: true},
		{Param: "b", Kind: ProvideComponent, Element: testutil.Position, ReadOnly: false},
		{Param: "w", Kind: ProvideComponent, Element: testutil.Velocity, ReadOnly: true},
	}
	nameProviders(bs)
	assert.False(t, bs[0].ReadOnly)
	assert.False(t, bs[2].ReadOnly)
	assert.True(t, bs[1].ReadOnly)
	assert.True(t, bs[3].ReadOnly)
	assert.Equal(t, bs[0].HandleField, bs[2].HandleField)
	assert.Len(t, distinct(bs), 2)
}
