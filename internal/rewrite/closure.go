package rewrite

import (
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/jobweave/internal/chain"
	"github.com/roach88/jobweave/internal/config"
	"github.com/roach88/jobweave/internal/diag"
	"github.com/roach88/jobweave/internal/ir"
	"github.com/roach88/jobweave/internal/lambda"
)

// OriginalBody is the name of the cloned lambda body on a job.
const OriginalBody = "OriginalLambdaBody"

// CopyMethod is the job method copying captured values out of the closure.
const CopyMethod = "CopyFromClosure"

// ClosureDescriptor is the escape analysis result for one display class.
type ClosureDescriptor struct {
	Type   string
	Fields []*ir.FieldDef
	// Reference is set for heap classes; structs need no conversion.
	Reference bool
	// EscapeSafe holds when every delegate built from the closure anywhere
	// in the module is a recognised chain body, and its locals are used only
	// for field access and those delegate constructions.
	EscapeSafe bool

	// Where the closure first escapes, when it does.
	offender   *ir.MethodDef
	offenderAt int
	reason     string
}

func (cd *ClosureDescriptor) field(name string) *ir.FieldDef {
	for _, f := range cd.Fields {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// describeClosure runs escape analysis for typ over the whole module.
func (p *pass) describeClosure(typ string) *ClosureDescriptor {
	cd := &ClosureDescriptor{Type: typ}
	t := p.mod.Lookup(typ)
	if t == nil {
		return cd
	}
	for _, f := range t.Fields {
		if !f.Static {
			cd.Fields = append(cd.Fields, f)
		}
	}
	cd.Reference = !t.IsValueType()
	cd.EscapeSafe = true
	if !cd.Reference {
		return cd
	}
	for _, owner := range p.mod.Types {
		for _, m := range owner.Methods {
			if m.Name == ".ctor" && m.DeclaringType == typ {
				continue
			}
			if at, why := p.escapes(m, typ); at >= 0 {
				cd.EscapeSafe = false
				cd.offender, cd.offenderAt, cd.reason = m, at, why
				p.log.Debug("closure escapes", "closure", typ, "method", m.Name, "at", at, "reason", why)
				return cd
			}
		}
	}
	return cd
}

// escapes returns the first instruction of m through which a value of the
// closure type flows somewhere other than field access, a helper call or a
// recognised body delegate. It returns -1 when there is none.
func (p *pass) escapes(m *ir.MethodDef, typ string) (int, string) {
	var a *chain.Analyzer
	for i, ins := range m.Body {
		if !closureValue(m, ins, typ) {
			continue
		}
		if a == nil {
			a = chain.NewAnalyzer(m, p.idiom)
		}
		j, arg, err := a.Consumer(i)
		if err != nil {
			return i, "its value reaches control flow"
		}
		if ok, why := p.allowedUse(m, a, i, j, arg, typ); !ok {
			return j, why
		}
	}
	return -1, ""
}

func closureValue(m *ir.MethodDef, ins *ir.Instruction, typ string) bool {
	switch ins.Op {
	case ir.OpLoadLocal, ir.OpLoadLocalAddr:
		return localType(m, ins.Int) == typ
	case ir.OpNewObj:
		return ins.Method.Is(typ, ".ctor")
	case ir.OpLoadArg:
		return ins.Int == 0 && !m.Static && m.DeclaringType == typ
	}
	return false
}

func localType(m *ir.MethodDef, n int64) string {
	if n < 0 || int(n) >= len(m.Locals) {
		return ""
	}
	return m.Locals[n].Type
}

// allowedUse checks the consumer j of the closure value produced at i.
func (p *pass) allowedUse(m *ir.MethodDef, a *chain.Analyzer, i, j, arg int, typ string) (bool, string) {
	use := m.Body[j]
	switch use.Op {
	case ir.OpLoadField, ir.OpLoadFieldAddr, ir.OpStoreField:
		if arg == 0 && use.Field != nil && use.Field.DeclaringType == typ {
			return true, ""
		}
	case ir.OpStoreLocal:
		if m.Body[i].Op == ir.OpNewObj && localType(m, use.Int) == typ {
			return true, ""
		}
	case ir.OpCall, ir.OpCallVirt:
		if arg == 0 && use.Method.HasThis && use.Method.DeclaringType == typ {
			return true, ""
		}
	case ir.OpNewObj:
		if arg != 0 || !use.IsDelegateCtor() {
			break
		}
		ftn, err := a.Producer(j, 1)
		if err != nil || m.Body[ftn].Op != ir.OpLoadFunc {
			return false, "it is bound to a delegate of unknown target"
		}
		target := m.Body[ftn].Method
		if p.bodies[target.Key()] {
			return true, ""
		}
		return false, fmt.Sprintf("it is bound to delegate %s", target.Name)
	}
	return false, fmt.Sprintf("it is passed to %s", use)
}

// capture is what a chain body reads from its closure.
type capture struct {
	closure *ClosureDescriptor // nil for non-capturing lambdas
	slot    int
	body    *ir.MethodDef
	helpers []*ir.MethodDef
	// reads are the captured fields read by body and helpers, in closure
	// declaration order.
	reads    []*ir.FieldDef
	readOnly map[string]bool
}

func (cp *capture) fieldNames() []string {
	out := make([]string, 0, len(cp.reads))
	for _, f := range cp.reads {
		out = append(out, f.Name)
	}
	return out
}

func (cp *capture) readOnlyNames() []string {
	var out []string
	for _, f := range cp.reads {
		if cp.readOnly[f.Name] {
			out = append(out, f.Name)
		}
	}
	return out
}

type site struct {
	m  *ir.MethodDef
	at int
}

// analyseCapture resolves the lambda body of c and checks what it does with
// its closure. Warnings are returned separately and never fail the chain.
func (p *pass) analyseCapture(c *chain.Chain) (*capture, []*diag.Failure, error) {
	d := c.Lambda()
	body := p.mod.ResolveMethod(d.Target)
	if body == nil {
		return nil, nil, diag.Internalf(c.Owner, d.NewObj, "lambda body %s is not defined in the module", d.Target.Key())
	}
	obj := c.Owner.Body[d.Object]
	if body.DeclaringType == c.Owner.DeclaringType ||
		(obj.Op == ir.OpLoadArg && obj.Int == 0 && !c.Owner.Static) {
		return nil, nil, diag.Failf(diag.ErrEnclosingInstance, c.Owner, d.Object,
			"lambda %s uses the enclosing %s instance directly; copy the values it needs into local variables",
			d.Target.Name, ir.ShortName(c.Owner.DeclaringType))
	}

	cp := &capture{slot: -1, body: body, readOnly: map[string]bool{}}
	if slot, typ, ok := c.ClosureLocal(); ok {
		if typ != body.DeclaringType {
			return nil, nil, diag.Internalf(c.Owner, d.Object, "closure local %d has type %s but the lambda lives on %s", slot, typ, body.DeclaringType)
		}
		cp.slot = slot
		cp.closure = p.closures[typ]
		if cp.closure == nil {
			return nil, nil, diag.Internalf(c.Owner, d.Object, "closure %s was not analysed", typ)
		}
	} else if obj.Op != ir.OpLoadStaticField && obj.Op != ir.OpLoadNull {
		return nil, nil, diag.Failf(diag.ErrNonLiteralArg, c.Owner, d.Object,
			"lambda is bound to %s; only closures held in local variables are supported", obj)
	}
	if !body.Static {
		cp.helpers = p.helpers(body)
	}
	if cp.closure == nil {
		return cp, nil, nil
	}

	var errs []error
	reads := map[string]site{}
	cd := cp.closure
	for _, m := range append([]*ir.MethodDef{body}, cp.helpers...) {
		a := chain.NewAnalyzer(m, p.idiom)
		for i, ins := range m.Body {
			switch ins.Op {
			case ir.OpStoreField:
				if f := p.closureField(cd, ins.Field); f != nil {
					errs = append(errs, diag.Failf(diag.ErrCapturedWrite, m, i,
						"lambda writes captured variable %s; captured variables are read-only inside jobs", f.Name))
				}
			case ir.OpLoadField, ir.OpLoadFieldAddr:
				f := p.closureField(cd, ins.Field)
				if f == nil {
					continue
				}
				if ins.Op == ir.OpLoadFieldAddr {
					if at, how := p.addressWrite(m, a, i); at >= 0 {
						errs = append(errs, diag.Failf(diag.ErrCapturedWrite, m, at,
							"lambda writes captured variable %s: %s; captured variables are read-only inside jobs", f.Name, how))
						continue
					}
				}
				if f.Type == c.Owner.DeclaringType {
					errs = append(errs, diag.Failf(diag.ErrEnclosingInstance, m, i,
						"lambda reads %s, the enclosing %s instance; copy the values it needs into local variables",
						f.Name, ir.ShortName(f.Type)))
					continue
				}
				if _, seen := reads[f.Name]; !seen {
					reads[f.Name] = site{m, i}
				}
			case ir.OpLoadArg:
				if ins.Int != 0 || m.Static {
					continue
				}
				j, arg, err := a.Consumer(i)
				if err != nil {
					errs = append(errs, diag.Failf(diag.ErrClosurePassedOut, m, i,
						"closure %s flows through control flow inside the lambda", ir.ShortName(cd.Type)))
					continue
				}
				if ok, why := p.allowedUse(m, a, i, j, arg, cd.Type); !ok {
					errs = append(errs, diag.Failf(diag.ErrClosurePassedOut, m, j,
						"lambda passes its closure %s out: %s", ir.ShortName(cd.Type), why))
				}
			}
		}
	}
	for _, f := range cd.Fields {
		if _, ok := reads[f.Name]; ok {
			cp.reads = append(cp.reads, f)
		}
	}

	for _, f := range cp.reads {
		if !p.cls.IsManaged(f.Type) {
			continue
		}
		switch {
		case !cd.EscapeSafe:
			errs = append(errs, diag.Failf(diag.ErrEscapingClosure, cd.offender, cd.offenderAt,
				"closure %s captures %s of managed type %s but cannot become a value type: %s",
				ir.ShortName(cd.Type), f.Name, f.Type, cd.reason))
		case !p.allowsManaged(c):
			s := reads[f.Name]
			errs = append(errs, diag.Failf(diag.ErrManagedCapture, s.m, s.at,
				"lambda reads %s of managed type %s; managed captures are only allowed in WithoutBurst().Run() chains",
				f.Name, f.Type))
		}
	}
	if len(errs) > 0 {
		return nil, nil, errors.Join(errs...)
	}

	var warns []*diag.Failure
	for _, inv := range c.Modifiers(lambda.WithReadOnly) {
		cf, ok := inv.Args[0].(chain.CapturedField)
		if !ok {
			continue
		}
		if _, read := reads[cf.Field.Name]; !read {
			warns = append(warns, diag.Warnf(diag.WarnReadOnlyUnused, c.Owner, cf.Index,
				"WithReadOnly(%s) has no effect: the lambda never reads it", cf.Field.Name))
			continue
		}
		cp.readOnly[cf.Field.Name] = true
	}
	return cp, warns, nil
}

// addressWrite follows the address pushed at i through nested member
// addresses to the instruction that uses it. It returns the index of that
// instruction and what it does when the use writes, or -1.
func (p *pass) addressWrite(m *ir.MethodDef, a *chain.Analyzer, i int) (int, string) {
	for {
		j, arg, err := a.Consumer(i)
		if err != nil {
			return i, "its address flows through control flow, so writes cannot be ruled out"
		}
		use := m.Body[j]
		switch use.Op {
		case ir.OpDup:
			return j, "its address is duplicated for an in-place update"
		case ir.OpInitObj:
			return j, "it is reset to its default value"
		case ir.OpStoreIndirect:
			if arg == 0 {
				return j, "it is stored through its address"
			}
		case ir.OpStoreField:
			if arg == 0 {
				return j, fmt.Sprintf("its member %s is assigned", use.Field.Name)
			}
		case ir.OpLoadFieldAddr:
			if arg == 0 {
				i = j
				continue
			}
		case ir.OpCall, ir.OpCallVirt, ir.OpNewObj:
			if kind := p.argRefKind(use, arg); kind == ir.RefRef || kind == ir.RefOut {
				return j, fmt.Sprintf("it is passed as %s to %s", kind, use.Method.Name)
			}
		}
		return -1, ""
	}
}

// argRefKind reports how operand arg of a call is passed. Receivers count
// as reads. A by-ref parameter of a method outside the module is assumed
// writable.
func (p *pass) argRefKind(call *ir.Instruction, arg int) ir.RefKind {
	ref := call.Method
	if ref == nil {
		return ir.RefNone
	}
	n := arg
	if ref.HasThis && call.Op != ir.OpNewObj {
		n--
	}
	if n < 0 || n >= len(ref.Params) || !strings.HasSuffix(ref.Params[n], "&") {
		return ir.RefNone
	}
	if def := p.mod.ResolveMethod(ref); def != nil && n < len(def.Params) {
		return def.Params[n].ByRef
	}
	return ir.RefRef
}

func (p *pass) closureField(cd *ClosureDescriptor, ref *ir.FieldRef) *ir.FieldDef {
	if ref == nil || ref.DeclaringType != cd.Type {
		return nil
	}
	return cd.field(ref.Name)
}

func (p *pass) allowsManaged(c *chain.Chain) bool {
	if p.cfg.Pass.ManagedCaptures == config.ManagedForbid {
		return false
	}
	return lambda.RunsWithoutScheduler(c.Has(lambda.WithoutBurst), c.TerminalCall().Name)
}

// helpers collects the instance methods of the body's type the body calls,
// transitively, in discovery order.
func (p *pass) helpers(body *ir.MethodDef) []*ir.MethodDef {
	seen := map[string]bool{body.Key(): true}
	var out []*ir.MethodDef
	queue := []*ir.MethodDef{body}
	for len(queue) > 0 {
		m := queue[0]
		queue = queue[1:]
		for _, ins := range m.Body {
			if ins.Op != ir.OpCall && ins.Op != ir.OpCallVirt {
				continue
			}
			if ins.Method == nil || !ins.Method.HasThis || ins.Method.DeclaringType != body.DeclaringType {
				continue
			}
			def := p.mod.ResolveMethod(ins.Method)
			if def == nil || seen[def.Key()] {
				continue
			}
			seen[def.Key()] = true
			out = append(out, def)
			queue = append(queue, def)
		}
	}
	return out
}

// cloneCode copies body and helpers onto job. Captured field accesses and
// helper calls are retargeted to the job; the body is renamed.
func cloneCode(cp *capture, job string) []*ir.MethodDef {
	from := cp.body.DeclaringType
	names := map[string]string{cp.body.Key(): OriginalBody}
	for _, h := range cp.helpers {
		names[h.Key()] = h.Name
	}
	carried := map[string]bool{}
	for _, f := range cp.reads {
		carried[f.Name] = true
	}

	var out []*ir.MethodDef
	for _, m := range append([]*ir.MethodDef{cp.body}, cp.helpers...) {
		c := m.Clone()
		c.DeclaringType = job
		c.Name = names[m.Key()]
		c.Attributes = nil
		for _, ins := range c.Body {
			if f := ins.Field; f != nil && f.DeclaringType == from && carried[f.Name] {
				f.DeclaringType = job
			}
			if r := ins.Method; r != nil && r.DeclaringType == from {
				if name, ok := names[r.Key()]; ok {
					r.DeclaringType = job
					r.Name = name
				}
			}
		}
		out = append(out, c)
	}
	return out
}

// copyFromClosure builds the method copying the captured values into the
// job. byRef passes the closure as "in", for value-type closures.
func copyFromClosure(closure, job string, fields []*ir.FieldDef, byRef bool) *ir.MethodDef {
	param := ir.Param{Name: "closure", Type: closure}
	if byRef {
		param.ByRef = ir.RefIn
	}
	b := ir.NewBuilder()
	for _, f := range fields {
		b.LdArg(0).
			LdArg(1).
			LdFld(&ir.FieldRef{DeclaringType: closure, Name: f.Name, FieldType: f.Type}).
			StFld(&ir.FieldRef{DeclaringType: job, Name: f.Name, FieldType: f.Type})
	}
	return &ir.MethodDef{
		Name:   CopyMethod,
		Params: []ir.Param{param},
		Return: "void",
		Body:   b.Ret().Build(),
	}
}

// convertClosure replaces the class declaration of typ with a value type
// and rewrites every method holding it in a local.
func convertClosure(mod *ir.Module, typ string) {
	for i, t := range mod.Types {
		if t.Name != typ {
			continue
		}
		st := &ir.TypeDef{
			Name:       t.Name,
			Kind:       ir.KindStruct,
			Base:       "System.ValueType",
			Interfaces: t.Interfaces,
			Attributes: t.Attributes,
			Fields:     t.Fields,
		}
		for _, m := range t.Methods {
			if m.Name != ".ctor" {
				st.Methods = append(st.Methods, m)
			}
		}
		mod.Types[i] = st
	}
	for _, t := range mod.Types {
		for _, m := range t.Methods {
			convertLocals(m, typ)
		}
	}
}

// convertLocals turns "newobj T::.ctor; stloc N" into "ldloca N; initobj T"
// and loads of T locals into address loads.
func convertLocals(m *ir.MethodDef, typ string) {
	for i := 0; i < len(m.Body); i++ {
		ins := m.Body[i]
		switch {
		case ins.Op == ir.OpNewObj && ins.Method.Is(typ, ".ctor") && i+1 < len(m.Body):
			st := m.Body[i+1]
			if st.Op != ir.OpStoreLocal || localType(m, st.Int) != typ {
				continue
			}
			ins.Op, ins.Method, ins.Int = ir.OpLoadLocalAddr, nil, st.Int
			st.Op, st.Type, st.Int = ir.OpInitObj, typ, 0
			i++
		case ins.Op == ir.OpLoadLocal && localType(m, ins.Int) == typ:
			ins.Op = ir.OpLoadLocalAddr
		}
	}
}
