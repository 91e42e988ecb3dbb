package compiler

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"cuelang.org/go/cue/cuecontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/jobweave/internal/ir"
	"github.com/roach88/jobweave/internal/testutil"
)

const moveModule = `
name: "Game"
types: [{
	name: "Game.Position"
	kind: "struct"
	base: "System.ValueType"
	interfaces: ["Entities.IComponentData"]
	fields: [{name: "x", type: "float"}]
}, {
	name: "Game.MoveSystem"
	base: "Entities.SystemBase"
	methods: [{
		name:   "OnUpdate"
		return: "void"
		locals: [{name: "n", type: "int"}]
		body: [
			{op: "ldc.i", int: 3},
			{op: "stloc", int: 0},
			{op: "ldarg", int: 0, label: "IL_loop"},
			{op: "call", method: {type: "Entities.SystemBase", name: "get_Dependency", return: "Jobs.JobHandle", has_this: true}},
			{op: "pop", pos: {file: "Move.cs", line: 40, column: 1}},
			{op: "br", target: "IL_loop"},
		]
		sequence_points: [
			{offset: 2, file: "Move.cs", line: 12, column: 9},
			{offset: 0, file: "Move.cs", line: 10, column: 9},
		]
	}]
}]
`

func TestCompileModuleBasic(t *testing.T) {
	v := cuecontext.New().CompileString(moveModule)
	require.NoError(t, v.Err())

	mod, err := CompileModule(v)
	require.NoError(t, err)

	assert.Equal(t, "Game", mod.Name)
	require.Len(t, mod.Types, 2)
	pos := mod.Types[0]
	assert.Equal(t, ir.KindStruct, pos.Kind)
	assert.Equal(t, []string{"Entities.IComponentData"}, pos.Interfaces)
	assert.Equal(t, "float", pos.Field("x").Type)

	sys := mod.Types[1]
	assert.Equal(t, ir.KindClass, sys.Kind, "kind defaults to class")
	m := sys.MethodByName("OnUpdate")
	require.NotNil(t, m)
	assert.Equal(t, "Game.MoveSystem", m.DeclaringType)
	require.Len(t, m.Body, 6)
	assert.Equal(t, ir.OpLoadInt, m.Body[0].Op)
	assert.Equal(t, int64(3), m.Body[0].Int)
	assert.Equal(t, "IL_loop", m.Body[2].Label)
	assert.True(t, m.Body[3].Method.Is("Entities.SystemBase", "get_Dependency"))
	assert.Nil(t, m.SequencePoints, "points are moved onto instructions")

	lines := make([]int, len(m.Body))
	for i, ins := range m.Body {
		lines[i] = ins.Pos.Line
	}
	assert.Equal(t, []int{10, 10, 12, 12, 40, 12}, lines, "inline pos wins")
	assert.Empty(t, Validate(mod))
}

func TestCompileModuleErrors(t *testing.T) {
	tests := []struct {
		name  string
		src   string
		field string
		msg   string
	}{
		{"missing name", `types: []`, "name", "name is required"},
		{"missing types", `name: "G"`, "types", "types is required"},
		{"bad kind", `name: "G", types: [{name: "T", kind: "record"}]`, "types[0].kind", "kind must be"},
		{"unknown opcode", `name: "G", types: [{name: "T", methods: [{name: "M", body: [{op: "jmp"}]}]}]`,
			"types[0].methods[0].body[0].op", `unknown opcode "jmp"`},
		{"missing method operand", `name: "G", types: [{name: "T", methods: [{name: "M", body: [{op: "call"}]}]}]`,
			"types[0].methods[0].body[0].method", "call requires a method operand"},
		{"missing target", `name: "G", types: [{name: "T", methods: [{name: "M", body: [{op: "br"}]}]}]`,
			"types[0].methods[0].body[0].target", "br requires a target operand"},
		{"bad by_ref", `name: "G", types: [{name: "T", methods: [{name: "M", params: [{type: "int", by_ref: "ptr"}]}]}]`,
			"types[0].methods[0].params[0].by_ref", "by_ref must be"},
		{"sequence point out of range", `name: "G", types: [{name: "T", methods: [{name: "M", body: [{op: "ret"}], sequence_points: [{offset: 4, line: 1}]}]}]`,
			"types[0].methods[0].sequence_points[0].offset", "outside body"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := cuecontext.New().CompileString(tt.src)
			require.NoError(t, v.Err())
			_, err := CompileModule(v)
			var ce *CompileError
			require.True(t, errors.As(err, &ce), "want CompileError, got %v", err)
			assert.Equal(t, tt.field, ce.Field)
			assert.Contains(t, ce.Message, tt.msg)
		})
	}
}

func TestCompileModuleTypeMismatch(t *testing.T) {
	v := cuecontext.New().CompileString(`name: 42, types: []`)
	_, err := CompileModule(v)
	assert.ErrorContains(t, err, "string")
}

func TestLoadBytesJSONRoundTrip(t *testing.T) {
	in := testutil.ScenarioFiltered()
	data, err := json.Marshal(in)
	require.NoError(t, err)

	mod, err := LoadBytes("filtered.json", data)
	require.NoError(t, err)
	assert.Equal(t, ir.MustModuleHash(in), ir.MustModuleHash(mod))
	assert.Empty(t, Validate(mod))
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	cuePath := filepath.Join(dir, "move.cue")
	require.NoError(t, os.WriteFile(cuePath, []byte(moveModule), 0o644))
	mod, err := LoadFile(cuePath)
	require.NoError(t, err)
	assert.Equal(t, "Game", mod.Name)

	data, err := json.Marshal(testutil.ScenarioA())
	require.NoError(t, err)
	jsonPath := filepath.Join(dir, "a.json")
	require.NoError(t, os.WriteFile(jsonPath, data, 0o644))
	mod, err = LoadFile(jsonPath)
	require.NoError(t, err)
	assert.Equal(t, ir.MustModuleHash(testutil.ScenarioA()), ir.MustModuleHash(mod))

	_, err = LoadFile(filepath.Join(dir, "missing.cue"))
	assert.ErrorIs(t, err, ErrNotFound)

	txt := filepath.Join(dir, "module.txt")
	require.NoError(t, os.WriteFile(txt, []byte("x"), 0o644))
	_, err = LoadFile(txt)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"name": `), 0o644))
	_, err = LoadFile(bad)
	assert.ErrorIs(t, err, ErrBuildFailed)
}
