package ir

import (
	"fmt"
	"strings"
)

// Instruction is one stack-machine instruction.
// Which operand field is meaningful depends on Op; see opcodeTable.
type Instruction struct {
	Op     Opcode     `json:"op"`
	Int    int64      `json:"int,omitempty"`    // constant, local index or argument index
	Str    string     `json:"str,omitempty"`    // string or float literal text
	Type   string     `json:"type,omitempty"`   // type operand (initobj, ldobj, box, conv, ...)
	Method *MethodRef `json:"method,omitempty"` // call, callvirt, newobj, ldftn
	Field  *FieldRef  `json:"field,omitempty"`  // ldfld, stfld, ldsfld, ...
	Label  string     `json:"label,omitempty"`  // label carried by this instruction
	Target string     `json:"target,omitempty"` // branch target label
	Pos    *SourcePos `json:"pos,omitempty"`
}

// MethodRef references a method, possibly outside the module.
type MethodRef struct {
	DeclaringType string   `json:"type"`
	Name          string   `json:"name"`
	TypeArgs      []string `json:"type_args,omitempty"`
	Params        []string `json:"params,omitempty"` // by-ref parameters end in "&"
	Return        string   `json:"return,omitempty"`
	HasThis       bool     `json:"has_this,omitempty"`
}

// Returns reports whether a call leaves a value on the stack.
func (r *MethodRef) Returns() bool {
	return r.Return != "" && r.Return != "void"
}

// Key formats the reference as Type::Name<TArgs>(Params).
func (r *MethodRef) Key() string {
	var b strings.Builder
	b.WriteString(r.DeclaringType)
	b.WriteString("::")
	b.WriteString(r.Name)
	if len(r.TypeArgs) > 0 {
		b.WriteByte('<')
		b.WriteString(strings.Join(r.TypeArgs, ","))
		b.WriteByte('>')
	}
	b.WriteByte('(')
	b.WriteString(strings.Join(r.Params, ","))
	b.WriteByte(')')
	return b.String()
}

// Is reports whether the reference names declaringType::name.
func (r *MethodRef) Is(declaringType, name string) bool {
	return r != nil && r.DeclaringType == declaringType && r.Name == name
}

// Clone returns a deep copy.
func (r *MethodRef) Clone() *MethodRef {
	if r == nil {
		return nil
	}
	c := *r
	c.TypeArgs = append([]string(nil), r.TypeArgs...)
	c.Params = append([]string(nil), r.Params...)
	return &c
}

// FieldRef references a field, possibly outside the module.
type FieldRef struct {
	DeclaringType string `json:"type"`
	Name          string `json:"name"`
	FieldType     string `json:"field_type,omitempty"`
}

// Key formats the reference as Type::Name.
func (r *FieldRef) Key() string {
	return r.DeclaringType + "::" + r.Name
}

// Clone returns a copy.
func (r *FieldRef) Clone() *FieldRef {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}

// Clone returns a deep copy of the instruction.
func (ins *Instruction) Clone() *Instruction {
	c := *ins
	c.Method = ins.Method.Clone()
	c.Field = ins.Field.Clone()
	if ins.Pos != nil {
		p := *ins.Pos
		c.Pos = &p
	}
	return &c
}

// IsCall reports whether the instruction invokes ref's declaring type and name.
func (ins *Instruction) IsCall(declaringType, name string) bool {
	return (ins.Op == OpCall || ins.Op == OpCallVirt) && ins.Method.Is(declaringType, name)
}

// IsDelegateCtor reports whether the instruction constructs a delegate
// from an (object, function pointer) pair.
func (ins *Instruction) IsDelegateCtor() bool {
	return ins.Op == OpNewObj && ins.Method != nil && ins.Method.Name == ".ctor" &&
		len(ins.Method.Params) == 2 && ins.Method.Params[0] == "object" &&
		ins.Method.Params[1] == "native int"
}

// String renders the instruction in disassembly form.
func (ins *Instruction) String() string {
	var b strings.Builder
	b.WriteString(ins.Op.String())
	switch ins.Op.Info().Operand {
	case OperandInt:
		fmt.Fprintf(&b, " %d", ins.Int)
	case OperandString:
		fmt.Fprintf(&b, " %q", ins.Str)
	case OperandFloat:
		fmt.Fprintf(&b, " %s", ins.Str)
	case OperandType:
		fmt.Fprintf(&b, " %s", ins.Type)
	case OperandMethod:
		if ins.Method != nil {
			b.WriteByte(' ')
			if ins.Method.Returns() {
				b.WriteString(ins.Method.Return)
				b.WriteByte(' ')
			}
			b.WriteString(ins.Method.Key())
		}
	case OperandField:
		if ins.Field != nil {
			fmt.Fprintf(&b, " %s", ins.Field.Key())
		}
	case OperandLabel:
		fmt.Fprintf(&b, " %s", ins.Target)
	}
	return b.String()
}
