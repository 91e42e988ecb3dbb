package chain

import (
	"log/slog"

	"github.com/roach88/jobweave/internal/diag"
	"github.com/roach88/jobweave/internal/ir"
	"github.com/roach88/jobweave/internal/lambda"
)

// Options controls chain recognition.
type Options struct {
	// CachedDelegateIdiom tolerates the static delegate-cache branch.
	CachedDelegateIdiom bool
}

// Scan finds every construction chain in m. It returns the structurally
// sound chains plus one error per chain start that could not be
// recognised. Errors are *diag.Failure values.
func Scan(m *ir.MethodDef, opts Options) ([]*Chain, []error) {
	a := NewAnalyzer(m, opts.CachedDelegateIdiom)
	var (
		chains  []*Chain
		errs    []error
		ordinal int
	)
	for i := 0; i < len(m.Body); i++ {
		ep, ok := lambda.EntryPointFor(m.Body[i])
		if !ok {
			continue
		}
		c, err := a.scanFrom(i, ep, ordinal)
		ordinal++
		if err != nil {
			slog.Debug("chain rejected", "method", m.Name, "start", i, "error", err)
			errs = append(errs, err)
			continue
		}
		slog.Debug("chain found", "method", m.Name, "kind", c.Kind.String(), "start", c.ThisLoad, "terminal", c.Terminal)
		chains = append(chains, c)
		i = c.Terminal
	}
	return chains, errs
}

// HasChainStart reports whether any method in mod still contains an entry
// point call. A rewritten module has none.
func HasChainStart(mod *ir.Module) bool {
	for _, t := range mod.Types {
		for _, m := range t.Methods {
			for _, ins := range m.Body {
				if _, ok := lambda.EntryPointFor(ins); ok {
					return true
				}
			}
		}
	}
	return false
}

func (a *Analyzer) scanFrom(s int, ep lambda.EntryPoint, ordinal int) (*Chain, error) {
	m := a.m
	thisIdx, err := a.Producer(s, 0)
	if err != nil {
		return nil, err
	}
	if recv := m.Body[thisIdx]; m.Static || recv.Op != ir.OpLoadArg || recv.Int != 0 {
		return nil, diag.Failf(diag.ErrChainReceiver, m, s, "%s must be called on the system instance, found %s", ep.Getter, recv)
	}
	if thisIdx != s-1 {
		return nil, diag.Failf(diag.ErrForeignStackValue, m, s, "foreign stack value between system instance and %s", ep.Getter)
	}

	c := &Chain{Kind: ep.Kind, Entry: ep, Owner: m, Ordinal: ordinal, ThisLoad: thisIdx, Start: s, Body: -1}
	seen := map[string]bool{}
	depth := 1
	for i := s + 1; i < len(m.Body); i++ {
		if id, ok := a.IdiomAt(i); ok {
			depth++
			i = id.End
			continue
		}
		ins := m.Body[i]
		if isDescriptionCall(ins) {
			done, err := a.record(c, i, depth, seen)
			if err != nil {
				return nil, err
			}
			if done {
				if err := a.resolve(c); err != nil {
					return nil, err
				}
				return c, nil
			}
			depth = 1
			continue
		}
		if ins.Op.Info().Flow == ir.FlowReturn {
			break
		}
		if a.dynamic(i) {
			return nil, diag.Failf(diag.ErrDynamicCode, m, i, "unsupported dynamic code: %s inside %s chain", ins.Op, ep.Kind)
		}
		pushes, pops := a.effect(i)
		if depth-pops < 1 {
			return nil, diag.Failf(diag.ErrForeignStackValue, m, i, "chain value consumed by %s before a terminal call", ins)
		}
		depth = depth - pops + pushes
	}
	return nil, diag.Failf(diag.ErrNoTerminal, m, s, "chain started by %s never reaches Schedule, ScheduleParallel or Run", ep.Getter)
}

func isDescriptionCall(ins *ir.Instruction) bool {
	return (ins.Op == ir.OpCall || ins.Op == ir.OpCallVirt) && ins.Method != nil &&
		lambda.IsDescriptionType(ins.Method.DeclaringType)
}

// record adds the description call at i to c. It reports whether the call
// was the terminal.
func (a *Analyzer) record(c *Chain, i, depth int, seen map[string]bool) (bool, error) {
	m := a.m
	ins := m.Body[i]
	if ins.Method.DeclaringType != c.Entry.Description {
		return false, diag.Failf(diag.ErrUnknownModifier, m, i, "%s is not available on a %s chain", ins.Method.Key(), c.Kind)
	}
	spec, ok := lambda.Lookup(c.Kind, ins.Method)
	if !ok {
		return false, diag.Failf(diag.ErrUnknownModifier, m, i, "unknown modifier %s on a %s chain", ins.Method.Name, c.Kind)
	}
	if a.isJoin(i) {
		return false, diag.Failf(diag.ErrDynamicCode, m, i, "unsupported dynamic code: %s is a branch target", ins.Method.Name)
	}
	if _, pops := a.effect(i); depth-pops != 0 {
		return false, diag.Failf(diag.ErrForeignStackValue, m, i, "receiver of %s is not the value produced by the previous chain call", ins.Method.Name)
	}

	switch spec.Role {
	case lambda.RoleBody:
		if c.Body >= 0 {
			return false, diag.Failf(diag.ErrRepeatedModifier, m, i, "%s invoked twice in one chain", spec.Name)
		}
		c.Body = len(c.Invocations)
	case lambda.RoleModifier:
		if seen[spec.Name] && !spec.Repeatable {
			return false, diag.Failf(diag.ErrRepeatedModifier, m, i, "%s may only be invoked once per chain", spec.Name)
		}
	case lambda.RoleTerminal:
		if c.Body < 0 {
			return false, diag.Failf(diag.ErrMissingBody, m, i, "%s reached without a %s body invocation", spec.Name, bodyName(c.Kind))
		}
	}
	seen[spec.Name] = true
	c.Invocations = append(c.Invocations, Invocation{
		Name:     spec.Name,
		TypeArgs: append([]string(nil), ins.Method.TypeArgs...),
		Method:   ins.Method,
		Spec:     spec,
		Index:    i,
	})
	if spec.Role == lambda.RoleTerminal {
		c.Terminal = i
		return true, nil
	}
	return false, nil
}

func bodyName(k lambda.Kind) string {
	if k == lambda.SingleUnit {
		return lambda.WithCode
	}
	return lambda.ForEach
}

// resolve resolves every argument and checks that argument expressions
// and calls exactly tile the chain range.
func (a *Analyzer) resolve(c *Chain) error {
	m := a.m
	pos := c.Start + 1
	for n := range c.Invocations {
		inv := &c.Invocations[n]
		for k, rule := range inv.Spec.Args {
			prod, err := a.Producer(inv.Index, k+1)
			if err != nil {
				return err
			}
			arg, start, end, err := a.resolveArg(inv, k, rule, prod)
			if err != nil {
				return err
			}
			if start != pos {
				return diag.Failf(diag.ErrForeignStackValue, m, pos, "foreign stack value interleaved before argument %d of %s", k, inv.Name)
			}
			pos = end + 1
			inv.Args = append(inv.Args, arg)
		}
		if inv.Index != pos {
			return diag.Failf(diag.ErrForeignStackValue, m, pos, "foreign stack value interleaved before %s", inv.Name)
		}
		pos++
	}

	// Captured arguments must come from the closure the body is bound to.
	_, closure, hasClosure := c.ClosureLocal()
	for _, inv := range c.Invocations {
		for _, arg := range inv.Args {
			cf, ok := arg.(CapturedField)
			if !ok {
				continue
			}
			if !hasClosure || cf.Field.DeclaringType != closure {
				return diag.Failf(diag.ErrNonLiteralArg, m, cf.Index, "argument of %s reads %s, which is not captured by the lambda", inv.Name, cf.Field.Key())
			}
		}
	}
	return nil
}

func (a *Analyzer) resolveArg(inv *Invocation, k int, rule lambda.ArgRule, prod int) (Arg, int, int, error) {
	m := a.m
	ins := m.Body[prod]
	switch rule {
	case lambda.ArgDelegate:
		return a.resolveDelegate(inv, prod)

	case lambda.ArgDynamic:
		start, err := a.ExpressionStart(prod)
		if err != nil {
			return nil, 0, 0, err
		}
		typ := ""
		if k < len(inv.Method.Params) {
			typ = inv.Method.Params[k]
		}
		return Dynamic{Start: start, End: prod, Type: typ}, start, prod, nil
	}

	switch ins.Op {
	case ir.OpLoadInt, ir.OpLoadFloat, ir.OpLoadString, ir.OpLoadNull:
		if rule == lambda.ArgCaptured {
			return nil, 0, 0, diag.Failf(diag.ErrNonLiteralArg, m, prod, "argument of %s must be a captured variable", inv.Name)
		}
		return Literal{Op: ins.Op, Int: ins.Int, Str: ins.Str, Index: prod}, prod, prod, nil
	case ir.OpLoadField:
		obj, err := a.Producer(prod, 0)
		if err != nil {
			return nil, 0, 0, err
		}
		if o := m.Body[obj]; (o.Op == ir.OpLoadLocal || o.Op == ir.OpLoadLocalAddr) && obj == prod-1 {
			return CapturedField{Field: ins.Field.Clone(), Index: prod}, obj, prod, nil
		}
	}
	return nil, 0, 0, diag.Failf(diag.ErrNonLiteralArg, m, prod, "argument of %s must be a literal or a captured variable, found %s", inv.Name, ins.Op)
}

func (a *Analyzer) resolveDelegate(inv *Invocation, prod int) (Arg, int, int, error) {
	m := a.m
	if id, ok := a.IdiomProducing(prod); ok {
		d := Delegate{
			Target: m.Body[id.Ftn].Method.Clone(),
			NewObj: id.NewObj,
			Start:  id.Start,
			End:    id.End,
			Object: id.Singleton,
			Cached: true,
		}
		return d, d.Start, d.End, nil
	}
	if !m.Body[prod].IsDelegateCtor() {
		return nil, 0, 0, diag.Failf(diag.ErrNonLiteralArg, m, prod, "%s argument must be a lambda expression, found %s", inv.Name, m.Body[prod].Op)
	}
	ftn, err := a.Producer(prod, 1)
	if err != nil {
		return nil, 0, 0, err
	}
	if m.Body[ftn].Op != ir.OpLoadFunc || m.Body[ftn].Method == nil {
		return nil, 0, 0, diag.Failf(diag.ErrNonLiteralArg, m, ftn, "%s delegate does not point at a known method", inv.Name)
	}
	obj, err := a.Producer(prod, 0)
	if err != nil {
		return nil, 0, 0, err
	}
	start, err := a.ExpressionStart(prod)
	if err != nil {
		return nil, 0, 0, err
	}
	d := Delegate{
		Target: m.Body[ftn].Method.Clone(),
		NewObj: prod,
		Start:  start,
		End:    prod,
		Object: obj,
	}
	return d, start, prod, nil
}
