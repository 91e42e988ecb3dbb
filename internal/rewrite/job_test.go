package rewrite

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/jobweave/internal/ir"
	"github.com/roach88/jobweave/internal/lambda"
	"github.com/roach88/jobweave/internal/testutil"
)

func TestJobName(t *testing.T) {
	tests := []struct {
		method, name string
		n            int
		want         string
	}{
		{"OnUpdate", "", 0, "OnUpdate_LambdaJob0"},
		{"OnUpdate", "Move", 3, "OnUpdate_Move_LambdaJob3"},
		{"OnUpdate", "move fast!", 1, "OnUpdate_move_fast__LambdaJob1"},
		{"<Tick>g__Local|2", "", 0, "_Tick_g__Local_2_LambdaJob0"},
	}
	for _, tt := range tests {
		got := JobName(tt.method, tt.name, tt.n)
		assert.Equal(t, tt.want, got)
		assert.True(t, IsJobName(got), got)
	}
}

func TestMethodTag(t *testing.T) {
	sys := testutil.SystemType(testutil.NewModule())
	first := &ir.MethodDef{Name: "OnUpdate", Return: "void"}
	tick := &ir.MethodDef{Name: "Tick", Return: "void"}
	second := &ir.MethodDef{Name: "OnUpdate", Return: "void", Params: []ir.Param{testutil.ValParam("int", "n")}}
	third := &ir.MethodDef{Name: "OnUpdate", Return: "void", Params: []ir.Param{testutil.ValParam("float", "dt")}}
	for _, m := range []*ir.MethodDef{first, tick, second, third} {
		sys.AddMethod(m)
	}

	assert.Equal(t, "OnUpdate", methodTag(sys, first))
	assert.Equal(t, "Tick", methodTag(sys, tick))
	assert.Equal(t, "OnUpdate_1", methodTag(sys, second))
	assert.Equal(t, "OnUpdate_2", methodTag(sys, third))
	assert.Equal(t, "OnUpdate", methodTag(nil, third))
	assert.Equal(t, "OnUpdate_1_LambdaJob0", JobName(methodTag(sys, second), "", 0))
}

func TestIsJobName(t *testing.T) {
	assert.True(t, IsJobName("Game.MoveSystem/OnUpdate_LambdaJob12"))
	assert.False(t, IsJobName("Game.MoveSystem/OnUpdate_LambdaJob"))
	assert.False(t, IsJobName("Game.MoveSystem/OnUpdate_LambdaJobX"))
	assert.False(t, IsJobName("Game.MoveSystem_LambdaJob0/Inner"))
	assert.False(t, IsJobName(testutil.Closure))
}

func TestInjectHook(t *testing.T) {
	sys := testutil.SystemType(testutil.NewModule())
	build := &ir.MethodDef{Name: "__BuildQuery_X", Return: "void", Body: ir.NewBuilder().Ret().Build()}
	sys.AddMethod(build)

	injectHook(sys, build)
	injectHook(sys, build)
	hook := sys.MethodByName(lambda.InitHook)
	require.NotNil(t, hook)
	assert.Equal(t, []ir.Opcode{ir.OpLoadArg, ir.OpCall, ir.OpReturn}, ops(hook))
	assert.True(t, hook.HasThis())

	other := &ir.MethodDef{Name: "__BuildQuery_Y", Return: "void", Body: ir.NewBuilder().Ret().Build()}
	sys.AddMethod(other)
	injectHook(sys, other)
	assert.Equal(t, []string{"__BuildQuery_X", "__BuildQuery_Y"}, calledNames(hook))
	assert.Len(t, hook.Body, 5)
	assert.Equal(t, ir.OpReturn, hook.Body[4].Op)
}

func TestInjectHookKeepsExistingCode(t *testing.T) {
	sys := testutil.SystemType(testutil.NewModule())
	sys.AddMethod(&ir.MethodDef{
		Name:   lambda.InitHook,
		Return: "void",
		Body:   ir.NewBuilder().LdStr("init").Call(testutil.Log()).Ret().Build(),
	})
	for _, name := range []string{"__BuildQuery_A", "__BuildQuery_B", "__BuildQuery_C"} {
		build := &ir.MethodDef{Name: name, Return: "void", Body: ir.NewBuilder().Ret().Build()}
		sys.AddMethod(build)
		injectHook(sys, build)
	}
	hook := sys.MethodByName(lambda.InitHook)
	assert.Equal(t, []string{"__BuildQuery_A", "__BuildQuery_B", "__BuildQuery_C", "Log"}, calledNames(hook))
}

func calledNames(m *ir.MethodDef) []string {
	var out []string
	for _, ins := range m.Body {
		if ins.Op == ir.OpCall {
			out = append(out, ins.Method.Name)
		}
	}
	return out
}
