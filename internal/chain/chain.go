// Package chain recovers fluent construction chains from method bodies.
//
// A chain starts at an entry point getter on the system instance
// (Entities, Job, Batches), threads one description value through a run of
// modifier calls, one body call and ends at a terminal (Schedule,
// ScheduleParallel, Run). Scan walks forward to find the calls; the
// Analyzer walks backward to find which instruction produced each argument.
package chain

import (
	"github.com/roach88/jobweave/internal/ir"
	"github.com/roach88/jobweave/internal/lambda"
)

// Arg is a resolved chain argument.
// Sealed: only Literal, CapturedField, Dynamic and Delegate implement it.
type Arg interface {
	arg()
}

// Literal is a constant argument.
type Literal struct {
	Op    ir.Opcode `json:"op"`
	Int   int64     `json:"int,omitempty"`
	Str   string    `json:"str,omitempty"`
	Index int       `json:"index"`
}

func (Literal) arg() {}

// CapturedField is a field read from the closure record.
type CapturedField struct {
	Field *ir.FieldRef `json:"field"`
	Index int          `json:"index"` // the ldfld
}

func (CapturedField) arg() {}

// Dynamic is an arbitrary expression occupying [Start, End] of the body.
// It is only accepted where the modifier allows it.
type Dynamic struct {
	Start int    `json:"start"`
	End   int    `json:"end"`
	Type  string `json:"type,omitempty"`
}

func (Dynamic) arg() {}

// Delegate is the body lambda.
type Delegate struct {
	Target *ir.MethodRef `json:"target"`
	// NewObj is the delegate construction, Start the first instruction of
	// its expression.
	NewObj int `json:"new_obj"`
	Start  int `json:"start"`
	End    int `json:"end"` // newobj, or the idiom's closing stsfld
	// Object is the instruction loading the delegate target object.
	Object int  `json:"object"`
	Cached bool `json:"cached,omitempty"`
}

func (Delegate) arg() {}

// Invocation is one recorded call in a chain.
type Invocation struct {
	Name     string
	TypeArgs []string
	Method   *ir.MethodRef
	Spec     lambda.MethodSpec
	Args     []Arg
	Index    int // call instruction
}

// Chain is one recognised construction chain.
type Chain struct {
	Kind  lambda.Kind
	Entry lambda.EntryPoint
	Owner *ir.MethodDef
	// Ordinal is the chain's source-order position among chain starts in
	// Owner, failed chains included.
	Ordinal int
	// ThisLoad..Terminal is the instruction range the chain occupies.
	ThisLoad    int
	Start       int
	Terminal    int
	Invocations []Invocation
	Body        int // index into Invocations
}

// BodyCall returns the body invocation.
func (c *Chain) BodyCall() *Invocation {
	return &c.Invocations[c.Body]
}

// TerminalCall returns the terminal invocation.
func (c *Chain) TerminalCall() *Invocation {
	return &c.Invocations[len(c.Invocations)-1]
}

// Lambda returns the body delegate.
func (c *Chain) Lambda() Delegate {
	return c.BodyCall().Args[0].(Delegate)
}

// Modifiers returns every invocation of the named modifier in order.
func (c *Chain) Modifiers(name string) []*Invocation {
	var out []*Invocation
	for i := range c.Invocations {
		if c.Invocations[i].Spec.Role == lambda.RoleModifier && c.Invocations[i].Name == name {
			out = append(out, &c.Invocations[i])
		}
	}
	return out
}

// Has reports whether the chain invokes the named modifier.
func (c *Chain) Has(name string) bool {
	return len(c.Modifiers(name)) > 0
}

// Name returns the WithName literal, or "".
func (c *Chain) Name() string {
	for _, inv := range c.Modifiers(lambda.WithName) {
		if lit, ok := inv.Args[0].(Literal); ok {
			return lit.Str
		}
	}
	return ""
}

// ClosureLocal returns the local slot holding the closure record the body
// delegate is bound to. ok is false for delegates over a static singleton,
// the system instance or null.
func (c *Chain) ClosureLocal() (slot int, typ string, ok bool) {
	ins := c.Owner.Body[c.Lambda().Object]
	if ins.Op != ir.OpLoadLocal && ins.Op != ir.OpLoadLocalAddr {
		return -1, "", false
	}
	n := int(ins.Int)
	if n < 0 || n >= len(c.Owner.Locals) {
		return -1, "", false
	}
	return n, c.Owner.Locals[n].Type, true
}

// Len returns the number of instructions the chain occupies.
func (c *Chain) Len() int {
	return c.Terminal - c.ThisLoad + 1
}
