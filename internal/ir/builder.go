package ir

// Builder emits an instruction sequence fluently.
//
// Positions set with At stick to every following instruction until changed.
// A label set with Label attaches to the next emitted instruction; a label
// left pending at Build time is attached to a trailing nop.
type Builder struct {
	out     []*Instruction
	pos     *SourcePos
	pending string
}

// NewBuilder returns an empty builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// At sets the source position for subsequent instructions.
func (b *Builder) At(file string, line, column int) *Builder {
	b.pos = &SourcePos{File: file, Line: line, Column: column}
	return b
}

// AtPos is At with an existing position (nil clears it).
func (b *Builder) AtPos(pos *SourcePos) *Builder {
	if pos == nil {
		b.pos = nil
		return b
	}
	p := *pos
	b.pos = &p
	return b
}

// Label names the next emitted instruction.
func (b *Builder) Label(name string) *Builder {
	if b.pending != "" {
		b.Op(OpNop)
	}
	b.pending = name
	return b
}

// Emit appends a prepared instruction.
func (b *Builder) Emit(ins *Instruction) *Builder {
	if b.pending != "" {
		ins.Label = b.pending
		b.pending = ""
	}
	if ins.Pos == nil && b.pos != nil {
		p := *b.pos
		ins.Pos = &p
	}
	b.out = append(b.out, ins)
	return b
}

// EmitAll appends clones of a sequence.
func (b *Builder) EmitAll(seq []*Instruction) *Builder {
	for _, ins := range seq {
		b.Emit(ins.Clone())
	}
	return b
}

// Op emits an operand-less instruction.
func (b *Builder) Op(op Opcode) *Builder { return b.Emit(&Instruction{Op: op}) }

func (b *Builder) intOp(op Opcode, n int) *Builder {
	return b.Emit(&Instruction{Op: op, Int: int64(n)})
}

func (b *Builder) LdArg(n int) *Builder   { return b.intOp(OpLoadArg, n) }
func (b *Builder) LdArgA(n int) *Builder  { return b.intOp(OpLoadArgAddr, n) }
func (b *Builder) StArg(n int) *Builder   { return b.intOp(OpStoreArg, n) }
func (b *Builder) LdLoc(n int) *Builder   { return b.intOp(OpLoadLocal, n) }
func (b *Builder) LdLocA(n int) *Builder  { return b.intOp(OpLoadLocalAddr, n) }
func (b *Builder) StLoc(n int) *Builder   { return b.intOp(OpStoreLocal, n) }
func (b *Builder) LdcI(n int64) *Builder  { return b.Emit(&Instruction{Op: OpLoadInt, Int: n}) }
func (b *Builder) LdcR(s string) *Builder { return b.Emit(&Instruction{Op: OpLoadFloat, Str: s}) }
func (b *Builder) LdStr(s string) *Builder {
	return b.Emit(&Instruction{Op: OpLoadString, Str: s})
}

// LdBool emits the integer encoding of a boolean constant.
func (b *Builder) LdBool(v bool) *Builder {
	if v {
		return b.LdcI(1)
	}
	return b.LdcI(0)
}

func (b *Builder) LdNull() *Builder { return b.Op(OpLoadNull) }
func (b *Builder) Dup() *Builder    { return b.Op(OpDup) }
func (b *Builder) Pop() *Builder    { return b.Op(OpPop) }
func (b *Builder) Add() *Builder    { return b.Op(OpAdd) }
func (b *Builder) Mul() *Builder    { return b.Op(OpMul) }
func (b *Builder) Clt() *Builder    { return b.Op(OpClt) }
func (b *Builder) Ret() *Builder    { return b.Op(OpReturn) }

func (b *Builder) fieldOp(op Opcode, f *FieldRef) *Builder {
	return b.Emit(&Instruction{Op: op, Field: f.Clone()})
}

func (b *Builder) LdFld(f *FieldRef) *Builder  { return b.fieldOp(OpLoadField, f) }
func (b *Builder) LdFldA(f *FieldRef) *Builder { return b.fieldOp(OpLoadFieldAddr, f) }
func (b *Builder) StFld(f *FieldRef) *Builder  { return b.fieldOp(OpStoreField, f) }
func (b *Builder) LdsFld(f *FieldRef) *Builder { return b.fieldOp(OpLoadStaticField, f) }
func (b *Builder) StsFld(f *FieldRef) *Builder { return b.fieldOp(OpStoreStaticField, f) }

func (b *Builder) methodOp(op Opcode, r *MethodRef) *Builder {
	return b.Emit(&Instruction{Op: op, Method: r.Clone()})
}

func (b *Builder) Call(r *MethodRef) *Builder     { return b.methodOp(OpCall, r) }
func (b *Builder) CallVirt(r *MethodRef) *Builder { return b.methodOp(OpCallVirt, r) }
func (b *Builder) NewObj(r *MethodRef) *Builder   { return b.methodOp(OpNewObj, r) }
func (b *Builder) LdFtn(r *MethodRef) *Builder    { return b.methodOp(OpLoadFunc, r) }

func (b *Builder) typeOp(op Opcode, t string) *Builder {
	return b.Emit(&Instruction{Op: op, Type: t})
}

func (b *Builder) InitObj(t string) *Builder { return b.typeOp(OpInitObj, t) }
func (b *Builder) LdObj(t string) *Builder   { return b.typeOp(OpLoadIndirect, t) }
func (b *Builder) StObj(t string) *Builder   { return b.typeOp(OpStoreIndirect, t) }
func (b *Builder) Box(t string) *Builder     { return b.typeOp(OpBox, t) }

func (b *Builder) branch(op Opcode, target string) *Builder {
	return b.Emit(&Instruction{Op: op, Target: target})
}

func (b *Builder) Br(target string) *Builder      { return b.branch(OpBranch, target) }
func (b *Builder) BrTrue(target string) *Builder  { return b.branch(OpBranchTrue, target) }
func (b *Builder) BrFalse(target string) *Builder { return b.branch(OpBranchFalse, target) }

// Len returns the number of instructions emitted so far.
func (b *Builder) Len() int { return len(b.out) }

// Build returns the emitted sequence.
func (b *Builder) Build() []*Instruction {
	if b.pending != "" {
		b.Op(OpNop)
	}
	return b.out
}
