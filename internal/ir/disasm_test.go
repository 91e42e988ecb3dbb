package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDisassemble(t *testing.T) {
	mod := sampleModule()
	mod.Types[0].Methods[0].Locals = []Local{{Name: "c", Type: "Game.Closure"}}
	mod.Types[0].Methods[0].Body = NewBuilder().
		At("Move.cs", 12, 9).
		LdArg(0).
		LdFld(&FieldRef{DeclaringType: "Game.MoveSystem", Name: "speed", FieldType: "float"}).
		StLoc(0).
		At("Move.cs", 13, 9).
		LdStr("hi").
		Call(&MethodRef{DeclaringType: "Log", Name: "Write", Params: []string{"string"}, Return: "void"}).
		Label("end").
		Ret().
		Build()

	want := `.module Game

.class Game.MoveSystem : Entities.SystemBase {
  .field float speed
  .method void OnUpdate() {
    .locals (0: Game.Closure c)
    .line Move.cs:12:9
             0000  ldarg 0
             0001  ldfld Game.MoveSystem::speed
             0002  stloc 0
    .line Move.cs:13:9
             0003  ldstr "hi"
             0004  call Log::Write(string)
    end:     0005  ret
  }
  .method void Step(ref Game.Position p, float dt) {}
}
`
	assert.Equal(t, want, Disassemble(mod))
}

func TestInstructionString(t *testing.T) {
	tests := []struct {
		ins  *Instruction
		want string
	}{
		{&Instruction{Op: OpLoadInt, Int: -3}, "ldc.i -3"},
		{&Instruction{Op: OpLoadFloat, Str: "0.5"}, "ldc.r 0.5"},
		{&Instruction{Op: OpBranchTrue, Target: "L1"}, "brtrue L1"},
		{&Instruction{Op: OpInitObj, Type: "Game.Job"}, "initobj Game.Job"},
		{&Instruction{Op: OpCall, Method: &MethodRef{DeclaringType: "S", Name: "get_Entities", Return: "Lambdas.ForEachDescription", HasThis: true}},
			"call Lambdas.ForEachDescription S::get_Entities()"},
		{&Instruction{Op: OpCall, Method: &MethodRef{DeclaringType: "D", Name: "WithAll", TypeArgs: []string{"A", "B"}, Return: "D", HasThis: true}},
			"call D D::WithAll<A,B>()"},
		{&Instruction{Op: OpDup}, "dup"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.ins.String())
	}
}

func TestDelegateCtorShape(t *testing.T) {
	ok := &Instruction{Op: OpNewObj, Method: &MethodRef{DeclaringType: "System.Action", Name: ".ctor", Params: []string{"object", "native int"}}}
	assert.True(t, ok.IsDelegateCtor())

	notDelegate := &Instruction{Op: OpNewObj, Method: &MethodRef{DeclaringType: "C", Name: ".ctor"}}
	assert.False(t, notDelegate.IsDelegateCtor())
}
