package rewrite

import (
	"github.com/roach88/jobweave/internal/chain"
	"github.com/roach88/jobweave/internal/diag"
	"github.com/roach88/jobweave/internal/ir"
	"github.com/roach88/jobweave/internal/lambda"
	"github.com/roach88/jobweave/internal/queryemit"
	"github.com/roach88/jobweave/internal/queryir"
)

// plan is the analysed form of one chain, ready to apply.
type plan struct {
	chain     *chain.Chain
	job       *JobRecord
	capture   *capture
	code      []*ir.MethodDef // cloned body first, then helpers
	providers []ProviderBinding
	query     queryir.Query
	// queryField is set during apply for query-running kinds.
	queryField *ir.FieldRef
}

func (pl *plan) withoutBurst() bool {
	return pl.chain.Has(lambda.WithoutBurst)
}

func (pl *plan) runsImmediately() bool {
	return lambda.RunsWithoutScheduler(pl.withoutBurst(), pl.chain.TerminalCall().Name)
}

// planChain analyses one chain: closure, providers, then query.
func (p *pass) planChain(c *chain.Chain) (*plan, []*diag.Failure, error) {
	cp, warns, err := p.analyseCapture(c)
	if err != nil {
		return nil, nil, err
	}
	providers, err := p.bindProviders(c, cp.body)
	if err != nil {
		return nil, warns, err
	}

	name := JobName(methodTag(p.mod.Lookup(c.Owner.DeclaringType), c.Owner), c.Name(), c.Ordinal)
	typ := ir.Nest(c.Owner.DeclaringType, name)
	pl := &plan{
		chain:     c,
		capture:   cp,
		code:      cloneCode(cp, typ),
		providers: providers,
	}
	pl.job = &JobRecord{
		Name:           name,
		Type:           typ,
		System:         c.Owner.DeclaringType,
		Method:         c.Owner.Name,
		Ordinal:        c.Ordinal,
		Kind:           c.Kind.String(),
		Terminal:       c.TerminalCall().Name,
		Burst:          !pl.withoutBurst(),
		Fields:         cp.fieldNames(),
		ReadOnlyFields: cp.readOnlyNames(),
		Providers:      providers,
	}
	if cp.closure != nil {
		pl.job.Closure = cp.closure.Type
	}

	if c.Kind.Queries() {
		d, err := describeQuery(c, providers)
		if err != nil {
			return nil, warns, err
		}
		qwarns, err := checkQuery(c, d)
		warns = append(warns, qwarns...)
		if err != nil {
			return nil, warns, err
		}
		pl.query = d.Normalize()
		q := pl.query
		pl.job.Query = &q
		pl.job.QueryField = "__query_" + name
	}
	return pl, warns, nil
}

// assemble builds the job type. byRef passes the closure to
// CopyFromClosure by address, for value-type closures.
func (pl *plan) assemble(byRef bool) *ir.TypeDef {
	c := pl.chain
	job := &ir.TypeDef{
		Name:       pl.job.Type,
		Kind:       ir.KindStruct,
		Base:       "System.ValueType",
		Attributes: []string{lambda.AttrCompilerGenerated},
	}
	if pl.job.Burst {
		job.Attributes = append(job.Attributes, lambda.AttrBurstCompile)
	}
	if c.Kind.Queries() {
		job.Interfaces = []string{lambda.IJobBatch}
	} else {
		job.Interfaces = []string{lambda.IJob}
	}

	for _, f := range pl.capture.reads {
		fd := &ir.FieldDef{Name: f.Name, Type: f.Type}
		if pl.capture.readOnly[f.Name] {
			fd.Attributes = []string{lambda.AttrReadOnly}
		}
		job.Fields = append(job.Fields, fd)
	}
	job.Fields = append(job.Fields, providerFields(pl.providers)...)

	for _, m := range pl.code {
		job.AddMethod(m)
	}
	body := pl.code[0]
	if cd := pl.capture.closure; cd != nil {
		job.AddMethod(copyFromClosure(cd.Type, job.Name, pl.capture.reads, byRef))
	}
	switch c.Kind {
	case lambda.SingleUnit:
		addExecute(job, body)
	case lambda.PerRecord:
		addScheduleTimeInit(job, pl.providers)
		addPrepareBatch(job, pl.providers)
		addIterateBatch(job, c.Kind, body, pl.providers)
	case lambda.PerBatch:
		addScheduleTimeInit(job, pl.providers)
		addIterateBatch(job, c.Kind, body, pl.providers)
	}
	if pl.runsImmediately() {
		addRunImmediate(job, c.Kind)
	}
	pl.job.def = job
	return job
}

// replacement builds the instructions standing in for the chain range
// [ThisLoad..Terminal]. It allocates locals on the owning method, so it
// must run before the range is spliced out.
func (pl *plan) replacement() ([]*ir.Instruction, error) {
	c := pl.chain
	m := c.Owner
	job := pl.job.def
	b := ir.NewBuilder().AtPos(m.Body[c.ThisLoad].Pos)
	if label := m.Body[c.ThisLoad].Label; label != "" {
		b.Label(label)
	}

	// Dynamic arguments are evaluated once, in chain order.
	shared := map[int]int{}
	dependency := -1
	n := 0
	for _, inv := range c.Invocations {
		for _, arg := range inv.Args {
			dyn, ok := arg.(chain.Dynamic)
			if !ok {
				continue
			}
			slot := m.AddLocal("", dyn.Type)
			for _, ins := range m.Body[dyn.Start : dyn.End+1] {
				cl := ins.Clone()
				cl.Label = ""
				b.Emit(cl)
			}
			b.StLoc(slot)
			if inv.Spec.Role == lambda.RoleTerminal {
				dependency = slot
			} else {
				shared[n] = slot
				n++
			}
		}
	}

	local := m.AddLocal("", job.Name)
	b.LdLocA(local).InitObj(job.Name)
	if cd := pl.capture.closure; cd != nil {
		b.LdLocA(local)
		if cd.Reference {
			// Becomes an address load if the closure is converted.
			b.LdLoc(pl.capture.slot)
		} else {
			b.LdLocA(pl.capture.slot)
		}
		b.Call(job.MethodByName(CopyMethod).Ref())
	}

	if c.Kind.Queries() {
		qc := queryemit.NewCompiler(pl.queryField)
		qc.SharedTemps = shared
		filters, err := qc.CompileUseSite(pl.query)
		if err != nil {
			return nil, diag.Internalf(m, c.Start, "%v", err)
		}
		for _, ins := range filters {
			b.Emit(ins)
		}
		b.LdLocA(local).LdArg(0).LdArg(0).LdFld(pl.queryField).
			Call(job.MethodByName(MethodScheduleTimeInit).Ref())
	}

	b.AtPos(m.Body[c.Terminal].Pos)
	term := c.TerminalCall().Name
	switch {
	case term == lambda.Run && pl.runsImmediately():
		b.LdLocA(local)
		if c.Kind.Queries() {
			b.LdArg(0).LdFld(pl.queryField)
		}
		b.Call(job.MethodByName(MethodRunImmediate).Ref())
	case term == lambda.Run && c.Kind.Queries():
		b.LdLocA(local).LdArg(0).LdFld(pl.queryField).Call(lambda.RunJob(job.Name))
	case term == lambda.Run:
		b.LdLocA(local).Call(lambda.RunSingle(job.Name))
	default:
		schedule := func() {
			if c.Kind.Queries() {
				b.Call(lambda.ScheduleJob(term, job.Name))
			} else {
				b.Call(lambda.ScheduleSingle(job.Name))
			}
		}
		loadQuery := func() {
			if c.Kind.Queries() {
				b.LdArg(0).LdFld(pl.queryField)
			}
		}
		if dependency >= 0 {
			// The caller consumes the returned handle.
			b.LdLocA(local)
			loadQuery()
			b.LdLoc(dependency)
			schedule()
		} else {
			b.LdArg(0).LdLocA(local)
			loadQuery()
			b.LdArg(0).Call(lambda.GetDependency())
			schedule()
			b.Call(lambda.SetDependency())
		}
	}
	return b.Build(), nil
}

// splice replaces body[from..to] of m with seq.
func splice(m *ir.MethodDef, from, to int, seq []*ir.Instruction) {
	out := make([]*ir.Instruction, 0, len(m.Body)-(to-from+1)+len(seq))
	out = append(out, m.Body[:from]...)
	out = append(out, seq...)
	out = append(out, m.Body[to+1:]...)
	m.Body = out
	// Positions live on the instructions; offsets are stale now.
	m.SequencePoints = nil
}
