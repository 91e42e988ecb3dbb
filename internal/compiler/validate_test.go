package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/jobweave/internal/ir"
	"github.com/roach88/jobweave/internal/testutil"
)

func codesOf(errs []ValidationError) []string {
	out := make([]string, len(errs))
	for i, e := range errs {
		out[i] = e.Code
	}
	return out
}

func TestValidateScenarios(t *testing.T) {
	for name, mod := range map[string]*ir.Module{
		"A":        testutil.ScenarioA(),
		"B":        testutil.ScenarioB(),
		"E":        testutil.ScenarioE(),
		"filtered": testutil.ScenarioFiltered(),
		"batch":    testutil.ScenarioBatch(),
	} {
		assert.Empty(t, Validate(mod), name)
	}
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(mod *ir.Module)
		code   string
		field  string
	}{
		{
			name: "duplicate type",
			mutate: func(mod *ir.Module) {
				mod.Types = append(mod.Types, &ir.TypeDef{Name: testutil.Position, Kind: ir.KindStruct})
			},
			code:  ErrDuplicateType,
			field: "types[7].name",
		},
		{
			name: "duplicate field",
			mutate: func(mod *ir.Module) {
				sys := testutil.SystemType(mod)
				sys.Fields = append(sys.Fields, &ir.FieldDef{Name: "speed", Type: "int"})
			},
			code:  ErrDuplicateMember,
			field: "types[5].fields[2].name",
		},
		{
			name: "duplicate method",
			mutate: func(mod *ir.Module) {
				testutil.SystemType(mod).AddMethod(&ir.MethodDef{Name: "OnUpdate", Return: "void", Body: ir.NewBuilder().Ret().Build()})
			},
			code:  ErrDuplicateMember,
			field: "types[5].methods[1]",
		},
		{
			name: "dangling label",
			mutate: func(mod *ir.Module) {
				m := testutil.SystemType(mod).MethodByName("OnUpdate")
				m.Body = append([]*ir.Instruction{{Op: ir.OpBranch, Target: "IL_nowhere"}}, m.Body...)
			},
			code:  ErrDanglingLabel,
			field: "types[5].methods[0].body[0].target",
		},
		{
			name: "duplicate label",
			mutate: func(mod *ir.Module) {
				m := testutil.SystemType(mod).MethodByName("OnUpdate")
				m.Body[0].Label = "IL_x"
				m.Body[1].Label = "IL_x"
			},
			code:  ErrDuplicateLabel,
			field: "types[5].methods[0].body[1].label",
		},
		{
			name: "local index",
			mutate: func(mod *ir.Module) {
				m := testutil.SystemType(mod).MethodByName("OnUpdate")
				m.Body = append([]*ir.Instruction{{Op: ir.OpLoadLocal, Int: 3}, {Op: ir.OpPop}}, m.Body...)
			},
			code:  ErrLocalIndex,
			field: "types[5].methods[0].body[0].int",
		},
		{
			name: "argument index",
			mutate: func(mod *ir.Module) {
				m := testutil.SystemType(mod).MethodByName("OnUpdate")
				m.Body = append([]*ir.Instruction{{Op: ir.OpLoadArg, Int: 1}, {Op: ir.OpPop}}, m.Body...)
			},
			code:  ErrArgIndex,
			field: "types[5].methods[0].body[0].int",
		},
		{
			name: "malformed type name",
			mutate: func(mod *ir.Module) {
				testutil.SystemType(mod).Fields[0].Type = " float"
			},
			code:  ErrTypeName,
			field: "types[5].fields[0].type",
		},
		{
			name: "falls off end",
			mutate: func(mod *ir.Module) {
				m := testutil.SystemType(mod).MethodByName("OnUpdate")
				m.Body = m.Body[:len(m.Body)-1]
			},
			code: ErrFallsOffEnd,
		},
		{
			name: "interface body",
			mutate: func(mod *ir.Module) {
				iface := &ir.TypeDef{Name: "Game.IMove", Kind: ir.KindInterface}
				iface.AddMethod(&ir.MethodDef{Name: "Move", Return: "void", Body: ir.NewBuilder().Ret().Build()})
				mod.Types = append(mod.Types, iface)
			},
			code:  ErrInterfaceBody,
			field: "types[7].methods[0].body",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mod := testutil.ScenarioA()
			tt.mutate(mod)
			errs := Validate(mod)
			require.Equal(t, []string{tt.code}, codesOf(errs), "%v", errs)
			if tt.field != "" {
				assert.Equal(t, tt.field, errs[0].Field)
			}
		})
	}
}

func TestValidationErrorString(t *testing.T) {
	e := ValidationError{Field: "types[0].name", Message: "duplicate", Code: ErrDuplicateType}
	assert.Equal(t, "[E501] types[0].name: duplicate", e.Error())
	e.Line = 12
	assert.Equal(t, "[E501] line 12: types[0].name: duplicate", e.Error())
}
