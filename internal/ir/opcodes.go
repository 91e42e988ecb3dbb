package ir

import (
	"encoding/json"
	"fmt"
)

// Opcode identifies a stack-machine instruction.
type Opcode uint8

// Argument, local and constant loads.
const (
	OpNop Opcode = iota
	OpLoadArg
	OpLoadArgAddr
	OpStoreArg
	OpLoadLocal
	OpLoadLocalAddr
	OpStoreLocal
	OpLoadInt
	OpLoadFloat
	OpLoadString
	OpLoadNull
	OpLoadToken
)

// Field and memory access.
const (
	OpLoadField Opcode = iota + 0x20
	OpLoadFieldAddr
	OpStoreField
	OpLoadStaticField
	OpStoreStaticField
	OpLoadIndirect
	OpStoreIndirect
	OpInitObj
	OpNewArr
	OpLoadElem
	OpStoreElem
)

// Calls and object creation.
const (
	OpCall Opcode = iota + 0x40
	OpCallVirt
	OpNewObj
	OpLoadFunc
)

// Stack manipulation and arithmetic.
const (
	OpDup Opcode = iota + 0x50
	OpPop
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpRem
	OpAnd
	OpOr
	OpCeq
	OpCgt
	OpClt
	OpNeg
	OpNot
	OpConv
	OpBox
)

// Control flow.
const (
	OpBranch Opcode = iota + 0x70
	OpBranchTrue
	OpBranchFalse
	OpReturn
	OpThrow
)

// OperandKind says which Instruction field carries the operand.
type OperandKind uint8

const (
	OperandNone OperandKind = iota
	OperandInt
	OperandString
	OperandFloat
	OperandType
	OperandMethod
	OperandField
	OperandLabel
)

// FlowKind classifies how an instruction transfers control.
type FlowKind uint8

const (
	FlowNext FlowKind = iota
	FlowBranch
	FlowCondBranch
	FlowReturn
	FlowThrow
)

// IsBranch reports whether the flow kind jumps to a label.
func (f FlowKind) IsBranch() bool {
	return f == FlowBranch || f == FlowCondBranch
}

// Variable marks a push or pop count that depends on the operand.
const Variable = -1

// OpcodeInfo holds metadata about an opcode.
type OpcodeInfo struct {
	Name    string      // mnemonic
	Pushes  int         // values pushed (Variable = from operand)
	Pops    int         // values popped (Variable = from operand)
	Operand OperandKind // operand location
	Flow    FlowKind    // control transfer
}

// opcodeTable maps opcodes to their metadata.
var opcodeTable = map[Opcode]OpcodeInfo{
	OpNop: {"nop", 0, 0, OperandNone, FlowNext},

	// Loads
	OpLoadArg:       {"ldarg", 1, 0, OperandInt, FlowNext},
	OpLoadArgAddr:   {"ldarga", 1, 0, OperandInt, FlowNext},
	OpStoreArg:      {"starg", 0, 1, OperandInt, FlowNext},
	OpLoadLocal:     {"ldloc", 1, 0, OperandInt, FlowNext},
	OpLoadLocalAddr: {"ldloca", 1, 0, OperandInt, FlowNext},
	OpStoreLocal:    {"stloc", 0, 1, OperandInt, FlowNext},
	OpLoadInt:       {"ldc.i", 1, 0, OperandInt, FlowNext},
	OpLoadFloat:     {"ldc.r", 1, 0, OperandFloat, FlowNext},
	OpLoadString:    {"ldstr", 1, 0, OperandString, FlowNext},
	OpLoadNull:      {"ldnull", 1, 0, OperandNone, FlowNext},
	OpLoadToken:     {"ldtoken", 1, 0, OperandType, FlowNext},

	// Fields and memory
	OpLoadField:        {"ldfld", 1, 1, OperandField, FlowNext},
	OpLoadFieldAddr:    {"ldflda", 1, 1, OperandField, FlowNext},
	OpStoreField:       {"stfld", 0, 2, OperandField, FlowNext},
	OpLoadStaticField:  {"ldsfld", 1, 0, OperandField, FlowNext},
	OpStoreStaticField: {"stsfld", 0, 1, OperandField, FlowNext},
	OpLoadIndirect:     {"ldobj", 1, 1, OperandType, FlowNext},
	OpStoreIndirect:    {"stobj", 0, 2, OperandType, FlowNext},
	OpInitObj:          {"initobj", 0, 1, OperandType, FlowNext},
	OpNewArr:           {"newarr", 1, 1, OperandType, FlowNext},
	OpLoadElem:         {"ldelem", 1, 2, OperandType, FlowNext},
	OpStoreElem:        {"stelem", 0, 3, OperandType, FlowNext},

	// Calls: pop receiver + params, push result if non-void
	OpCall:     {"call", Variable, Variable, OperandMethod, FlowNext},
	OpCallVirt: {"callvirt", Variable, Variable, OperandMethod, FlowNext},
	OpNewObj:   {"newobj", 1, Variable, OperandMethod, FlowNext},
	OpLoadFunc: {"ldftn", 1, 0, OperandMethod, FlowNext},

	// Stack and arithmetic
	OpDup:  {"dup", 2, 1, OperandNone, FlowNext},
	OpPop:  {"pop", 0, 1, OperandNone, FlowNext},
	OpAdd:  {"add", 1, 2, OperandNone, FlowNext},
	OpSub:  {"sub", 1, 2, OperandNone, FlowNext},
	OpMul:  {"mul", 1, 2, OperandNone, FlowNext},
	OpDiv:  {"div", 1, 2, OperandNone, FlowNext},
	OpRem:  {"rem", 1, 2, OperandNone, FlowNext},
	OpAnd:  {"and", 1, 2, OperandNone, FlowNext},
	OpOr:   {"or", 1, 2, OperandNone, FlowNext},
	OpCeq:  {"ceq", 1, 2, OperandNone, FlowNext},
	OpCgt:  {"cgt", 1, 2, OperandNone, FlowNext},
	OpClt:  {"clt", 1, 2, OperandNone, FlowNext},
	OpNeg:  {"neg", 1, 1, OperandNone, FlowNext},
	OpNot:  {"not", 1, 1, OperandNone, FlowNext},
	OpConv: {"conv", 1, 1, OperandType, FlowNext},
	OpBox:  {"box", 1, 1, OperandType, FlowNext},

	// Control flow
	OpBranch:      {"br", 0, 0, OperandLabel, FlowBranch},
	OpBranchTrue:  {"brtrue", 0, 1, OperandLabel, FlowCondBranch},
	OpBranchFalse: {"brfalse", 0, 1, OperandLabel, FlowCondBranch},
	OpReturn:      {"ret", 0, Variable, OperandNone, FlowReturn},
	OpThrow:       {"throw", 0, 1, OperandNone, FlowThrow},
}

// opcodeByName is the reverse of opcodeTable, built once.
var opcodeByName = func() map[string]Opcode {
	m := make(map[string]Opcode, len(opcodeTable))
	for op, info := range opcodeTable {
		m[info.Name] = op
	}
	return m
}()

// Info returns the metadata for an opcode.
func (op Opcode) Info() OpcodeInfo {
	if info, ok := opcodeTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("unknown_%02x", byte(op))}
}

// Known reports whether the opcode is in the table.
func (op Opcode) Known() bool {
	_, ok := opcodeTable[op]
	return ok
}

// String returns the mnemonic.
func (op Opcode) String() string {
	return op.Info().Name
}

// ParseOpcode maps a mnemonic back to its opcode.
func ParseOpcode(name string) (Opcode, error) {
	if op, ok := opcodeByName[name]; ok {
		return op, nil
	}
	return 0, fmt.Errorf("unknown opcode %q", name)
}

// MarshalText encodes the opcode as its mnemonic.
func (op Opcode) MarshalText() ([]byte, error) {
	if !op.Known() {
		return nil, fmt.Errorf("unknown opcode 0x%02x", byte(op))
	}
	return []byte(op.String()), nil
}

// UnmarshalText decodes a mnemonic.
func (op *Opcode) UnmarshalText(text []byte) error {
	parsed, err := ParseOpcode(string(text))
	if err != nil {
		return err
	}
	*op = parsed
	return nil
}

// UnmarshalJSON decodes a mnemonic string.
func (op *Opcode) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("opcode must be a string: %w", err)
	}
	return op.UnmarshalText([]byte(s))
}

// StackEffect returns how many operand-stack slots ins pushes and pops.
//
// Fixed effects come straight from the opcode table. Calls and object
// creation derive theirs from the method operand; ret pops the enclosing
// method's return value when it has one.
func StackEffect(ins *Instruction, m *MethodDef) (pushes, pops int) {
	info := ins.Op.Info()
	pushes, pops = info.Pushes, info.Pops

	switch ins.Op {
	case OpCall, OpCallVirt:
		if ins.Method == nil {
			return 0, 0
		}
		pops = len(ins.Method.Params)
		if ins.Method.HasThis {
			pops++
		}
		pushes = 0
		if ins.Method.Returns() {
			pushes = 1
		}
	case OpNewObj:
		if ins.Method == nil {
			return 1, 0
		}
		pops = len(ins.Method.Params)
	case OpReturn:
		pops = 0
		if m != nil && m.Returns() {
			pops = 1
		}
	}
	return pushes, pops
}
