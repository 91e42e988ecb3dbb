package ir

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStackEffectFixed(t *testing.T) {
	tests := []struct {
		op     Opcode
		pushes int
		pops   int
	}{
		{OpLoadArg, 1, 0},
		{OpLoadLocalAddr, 1, 0},
		{OpStoreLocal, 0, 1},
		{OpLoadField, 1, 1},
		{OpStoreField, 0, 2},
		{OpLoadStaticField, 1, 0},
		{OpStoreStaticField, 0, 1},
		{OpInitObj, 0, 1},
		{OpLoadFunc, 1, 0},
		{OpDup, 2, 1},
		{OpPop, 0, 1},
		{OpAdd, 1, 2},
		{OpBranch, 0, 0},
		{OpBranchTrue, 0, 1},
		{OpThrow, 0, 1},
	}
	for _, tt := range tests {
		t.Run(tt.op.String(), func(t *testing.T) {
			pushes, pops := StackEffect(&Instruction{Op: tt.op}, nil)
			assert.Equal(t, tt.pushes, pushes, "pushes")
			assert.Equal(t, tt.pops, pops, "pops")
		})
	}
}

func TestStackEffectFromOperand(t *testing.T) {
	static := &MethodRef{DeclaringType: "M", Name: "f", Params: []string{"int", "int"}, Return: "int"}
	instance := &MethodRef{DeclaringType: "M", Name: "g", Params: []string{"int"}, Return: "void", HasThis: true}
	ctor := &MethodRef{DeclaringType: "D", Name: ".ctor", Params: []string{"object", "native int"}, HasThis: true}

	tests := []struct {
		name   string
		ins    *Instruction
		method *MethodDef
		pushes int
		pops   int
	}{
		{"static call with result", &Instruction{Op: OpCall, Method: static}, nil, 1, 2},
		{"instance void call", &Instruction{Op: OpCallVirt, Method: instance}, nil, 0, 2},
		{"newobj ignores receiver", &Instruction{Op: OpNewObj, Method: ctor}, nil, 1, 2},
		{"ret in void method", &Instruction{Op: OpReturn}, &MethodDef{Return: "void"}, 0, 0},
		{"ret in valued method", &Instruction{Op: OpReturn}, &MethodDef{Return: "float"}, 0, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pushes, pops := StackEffect(tt.ins, tt.method)
			assert.Equal(t, tt.pushes, pushes, "pushes")
			assert.Equal(t, tt.pops, pops, "pops")
		})
	}
}

func TestOpcodeTableComplete(t *testing.T) {
	for op, info := range opcodeTable {
		assert.NotEmpty(t, info.Name, "opcode 0x%02x", byte(op))
		back, err := ParseOpcode(info.Name)
		require.NoError(t, err)
		assert.Equal(t, op, back, "mnemonic %s must round-trip", info.Name)
	}
	assert.Len(t, opcodeByName, len(opcodeTable), "mnemonics must be unique")
}

func TestOpcodeUnknown(t *testing.T) {
	op := Opcode(0xff)
	assert.False(t, op.Known())
	assert.Equal(t, "unknown_ff", op.String())
	_, err := op.MarshalText()
	assert.Error(t, err)

	_, err = ParseOpcode("jmp")
	assert.ErrorContains(t, err, `unknown opcode "jmp"`)
}

func TestOpcodeJSON(t *testing.T) {
	var ins Instruction
	require.NoError(t, json.Unmarshal([]byte(`{"op":"ldloca","int":2}`), &ins))
	assert.Equal(t, OpLoadLocalAddr, ins.Op)
	assert.EqualValues(t, 2, ins.Int)

	out, err := json.Marshal(&Instruction{Op: OpInitObj, Type: "Game.Job"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"op":"initobj","type":"Game.Job"}`, string(out))

	err = json.Unmarshal([]byte(`{"op":7}`), &ins)
	assert.ErrorContains(t, err, "opcode must be a string")
}

func TestFlowKind(t *testing.T) {
	assert.True(t, OpBranch.Info().Flow.IsBranch())
	assert.True(t, OpBranchFalse.Info().Flow.IsBranch())
	assert.False(t, OpReturn.Info().Flow.IsBranch())
	assert.False(t, OpCall.Info().Flow.IsBranch())
}
