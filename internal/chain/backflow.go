package chain

import (
	"github.com/roach88/jobweave/internal/diag"
	"github.com/roach88/jobweave/internal/ir"
)

// Idiom is one occurrence of the cached non-capturing delegate sequence:
//
//	ldsfld   cache
//	dup
//	brtrue   L
//	pop
//	ldsfld   singleton
//	ldftn    lambda
//	newobj   Delegate::.ctor(object, native int)
//	dup
//	stsfld   cache
//	L: ...
//
// The whole run behaves as one instruction that pushes the delegate.
type Idiom struct {
	Start     int // ldsfld cache
	Singleton int // ldsfld singleton
	Ftn       int // ldftn
	NewObj    int // delegate construction
	End       int // stsfld cache
}

const idiomLen = 9

// matchIdiom checks for the idiom starting at index s.
func matchIdiom(m *ir.MethodDef, s int) (Idiom, bool) {
	b := m.Body
	if s < 0 || s+idiomLen >= len(b) {
		return Idiom{}, false
	}
	cache := b[s]
	if cache.Op != ir.OpLoadStaticField || cache.Field == nil {
		return Idiom{}, false
	}
	if b[s+1].Op != ir.OpDup || b[s+2].Op != ir.OpBranchTrue || b[s+3].Op != ir.OpPop {
		return Idiom{}, false
	}
	if b[s+4].Op != ir.OpLoadStaticField || b[s+5].Op != ir.OpLoadFunc || !b[s+6].IsDelegateCtor() {
		return Idiom{}, false
	}
	if b[s+7].Op != ir.OpDup || b[s+8].Op != ir.OpStoreStaticField || b[s+8].Field == nil {
		return Idiom{}, false
	}
	if b[s+8].Field.Key() != cache.Field.Key() {
		return Idiom{}, false
	}
	if target := b[s+2].Target; target == "" || b[s+9].Label != target {
		return Idiom{}, false
	}
	return Idiom{Start: s, Singleton: s + 4, Ftn: s + 5, NewObj: s + 6, End: s + 8}, true
}

// Analyzer runs stack data-flow queries over one method body.
type Analyzer struct {
	m      *ir.MethodDef
	byEnd  map[int]Idiom
	byFrom map[int]Idiom
	// targets counts branches per label, excluding idiom branches.
	targets map[string]int
}

// NewAnalyzer indexes m. With allowIdiom false the cached-delegate
// sequence is treated like any other branch.
func NewAnalyzer(m *ir.MethodDef, allowIdiom bool) *Analyzer {
	a := &Analyzer{
		m:       m,
		byEnd:   map[int]Idiom{},
		byFrom:  map[int]Idiom{},
		targets: map[string]int{},
	}
	idiomBranch := map[int]bool{}
	if allowIdiom {
		for i := range m.Body {
			if id, ok := matchIdiom(m, i); ok {
				a.byEnd[id.End] = id
				a.byFrom[id.Start] = id
				idiomBranch[id.Start+2] = true
			}
		}
	}
	for i, ins := range m.Body {
		if ins.Op.Info().Flow.IsBranch() && !idiomBranch[i] {
			a.targets[ins.Target]++
		}
	}
	return a
}

// Method returns the analysed method.
func (a *Analyzer) Method() *ir.MethodDef { return a.m }

// IdiomAt returns the idiom starting at index i.
func (a *Analyzer) IdiomAt(i int) (Idiom, bool) {
	id, ok := a.byFrom[i]
	return id, ok
}

// IdiomEndingAt returns the idiom whose last instruction is at index i.
func (a *Analyzer) IdiomEndingAt(i int) (Idiom, bool) {
	id, ok := a.byEnd[i]
	return id, ok
}

// IdiomProducing returns the idiom whose delegate construction is at i.
func (a *Analyzer) IdiomProducing(i int) (Idiom, bool) {
	for _, id := range a.byEnd {
		if id.NewObj == i {
			return id, true
		}
	}
	return Idiom{}, false
}

// isJoin reports whether control can reach instruction i from a branch
// other than an idiom's own.
func (a *Analyzer) isJoin(i int) bool {
	l := a.m.Body[i].Label
	return l != "" && a.targets[l] > 0
}

// dynamic reports whether instruction i breaks straight-line flow.
func (a *Analyzer) dynamic(i int) bool {
	switch a.m.Body[i].Op.Info().Flow {
	case ir.FlowBranch, ir.FlowCondBranch, ir.FlowReturn, ir.FlowThrow:
		return true
	}
	return a.isJoin(i)
}

func (a *Analyzer) effect(i int) (pushes, pops int) {
	return ir.StackEffect(a.m.Body[i], a.m)
}

// Producer returns the index of the instruction that pushed argument argIdx
// of the instruction at idx. Argument 0 is the deepest operand (the
// receiver for instance calls).
//
// The walk keeps a slot counter seeded at pops(idx) - argIdx. An
// instruction whose pushes reach the counter produced the value; otherwise
// the counter moves by pops - pushes. A dup forwards to its own input.
func (a *Analyzer) Producer(idx, argIdx int) (int, error) {
	_, pops := a.effect(idx)
	if argIdx < 0 || argIdx >= pops {
		return -1, diag.Internalf(a.m, idx, "argument %d out of range for %s", argIdx, a.m.Body[idx].Op)
	}
	counter := pops - argIdx
	for j := idx - 1; j >= 0; j-- {
		if id, ok := a.byEnd[j]; ok {
			if counter <= 1 {
				return id.NewObj, nil
			}
			counter--
			j = id.Start
			if a.isJoin(j) {
				return -1, diag.Failf(diag.ErrDynamicCode, a.m, j, "unsupported dynamic code: branch target inside argument expression")
			}
			continue
		}
		if a.dynamic(j) {
			return -1, diag.Failf(diag.ErrDynamicCode, a.m, j, "unsupported dynamic code: %s while resolving argument of %s", a.m.Body[j].Op, a.m.Body[idx].Op)
		}
		pushes, pops := a.effect(j)
		if pushes >= counter {
			if a.m.Body[j].Op == ir.OpDup {
				return a.Producer(j, 0)
			}
			return j, nil
		}
		counter = counter - pushes + pops
	}
	return -1, diag.Failf(diag.ErrDynamicCode, a.m, idx, "no producer found for argument %d of %s", argIdx, a.m.Body[idx].Op)
}

// ExpressionStart returns the first index of the minimal contiguous range
// ending at producer that computes its value from an empty stack.
func (a *Analyzer) ExpressionStart(producer int) (int, error) {
	if id, ok := a.IdiomProducing(producer); ok {
		return id.Start, nil
	}
	_, need := a.effect(producer)
	start := producer
	for need > 0 {
		j := start - 1
		if j < 0 {
			return -1, diag.Failf(diag.ErrForeignStackValue, a.m, producer, "expression for %s starts before the method body", a.m.Body[producer].Op)
		}
		if id, ok := a.byEnd[j]; ok {
			need--
			start = id.Start
			continue
		}
		if a.dynamic(j) {
			return -1, diag.Failf(diag.ErrDynamicCode, a.m, j, "unsupported dynamic code: %s inside argument expression", a.m.Body[j].Op)
		}
		pushes, pops := a.effect(j)
		if pushes > need {
			return -1, diag.Failf(diag.ErrForeignStackValue, a.m, j, "%s leaves a value the argument expression does not consume", a.m.Body[j].Op)
		}
		need = need - pushes + pops
		start = j
	}
	if start < producer && a.isJoin(start) {
		return -1, diag.Failf(diag.ErrDynamicCode, a.m, start, "unsupported dynamic code: branch target inside argument expression")
	}
	return start, nil
}

// Consumer returns the instruction that pops the single value pushed at
// idx, and the operand position the value occupies there. The walk stops
// with E110 at control flow.
func (a *Analyzer) Consumer(idx int) (int, int, error) {
	if pushes, _ := a.effect(idx); pushes != 1 {
		return -1, -1, diag.Internalf(a.m, idx, "%s does not push exactly one value", a.m.Body[idx].Op)
	}
	depth := 1
	for j := idx + 1; j < len(a.m.Body); j++ {
		if id, ok := a.byFrom[j]; ok {
			depth++
			j = id.End
			continue
		}
		if a.dynamic(j) {
			return -1, -1, diag.Failf(diag.ErrDynamicCode, a.m, j, "unsupported dynamic code: %s before the value of %s is used", a.m.Body[j].Op, a.m.Body[idx].Op)
		}
		pushes, pops := a.effect(j)
		if pops >= depth {
			return j, pops - depth, nil
		}
		depth = depth - pops + pushes
	}
	return -1, -1, diag.Failf(diag.ErrDynamicCode, a.m, idx, "value of %s is never used", a.m.Body[idx].Op)
}

// Producer is a convenience for one-off queries with the idiom tolerated.
func Producer(m *ir.MethodDef, idx, argIdx int) (int, error) {
	return NewAnalyzer(m, true).Producer(idx, argIdx)
}

// ExpressionStart is a convenience for one-off queries with the idiom tolerated.
func ExpressionStart(m *ir.MethodDef, producer int) (int, error) {
	return NewAnalyzer(m, true).ExpressionStart(producer)
}

// Consumer is a convenience for one-off queries with the idiom tolerated.
func Consumer(m *ir.MethodDef, idx int) (int, int, error) {
	return NewAnalyzer(m, true).Consumer(idx)
}
