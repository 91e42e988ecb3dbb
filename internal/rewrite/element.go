package rewrite

import (
	"github.com/roach88/jobweave/internal/chain"
	"github.com/roach88/jobweave/internal/classify"
	"github.com/roach88/jobweave/internal/diag"
	"github.com/roach88/jobweave/internal/ir"
	"github.com/roach88/jobweave/internal/lambda"
)

// Job method names.
const (
	MethodScheduleTimeInit = "ScheduleTimeInitialize"
	MethodPrepareBatch     = "PrepareBatch"
	MethodIterateBatch     = "IterateBatch"
	MethodExecute          = "Execute"
	MethodRunImmediate     = "RunImmediate"
)

// bindProviders decides how the job supplies each body parameter.
func (p *pass) bindProviders(c *chain.Chain, body *ir.MethodDef) ([]ProviderBinding, error) {
	at := c.BodyCall().Index
	unsupported := func(prm ir.Param) error {
		return diag.Failf(diag.ErrUnclassifiedParam, c.Owner, at,
			"parameter %s of type %s cannot be provided to a %s lambda", prm.Name, prm.Type, c.Kind)
	}

	var out []ProviderBinding
	for _, prm := range body.Params {
		bd := ProviderBinding{Param: prm.Name, ReadOnly: true, param: prm}
		cls := p.cls.Classify(prm)
		switch c.Kind {
		case lambda.SingleUnit:
			return nil, diag.Failf(diag.ErrUnclassifiedParam, c.Owner, at,
				"%s lambdas take no parameters, found %s %s", lambda.WithCode, prm.Type, prm.Name)

		case lambda.PerBatch:
			switch {
			case cls.Category == classify.Batch:
				bd.Kind = ProvideBatch
			case prm.Type == "int" && prm.Name == ParamBatchPosition:
				bd.Kind = ProvideBatchIndex
			case prm.Type == "int" && prm.Name == ParamFirstIndex:
				bd.Kind = ProvideFirstIndex
			default:
				return nil, unsupported(prm)
			}

		default:
			switch cls.Category {
			case classify.Component:
				bd.Kind, bd.Element, bd.ReadOnly = ProvideComponent, cls.Element, cls.ReadOnly
			case classify.Buffer:
				bd.Kind, bd.Element, bd.ReadOnly = ProvideBuffer, cls.Element, cls.ReadOnly
			case classify.Identity:
				bd.Kind = ProvideEntity
			case classify.Primitive:
				switch {
				case prm.Type != "int" || prm.ByRef == ir.RefOut:
					return nil, unsupported(prm)
				case prm.Name == ParamQueryIndex:
					bd.Kind = ProvideQueryIndex
				case prm.Name == ParamBatchIndex:
					bd.Kind = ProvideBatchIndex
				case prm.Name == ParamThreadIndex:
					bd.Kind = ProvideThreadIndex
				default:
					return nil, unsupported(prm)
				}
			default:
				return nil, unsupported(prm)
			}
		}
		out = append(out, bd)
	}
	nameProviders(out)
	return out, nil
}

// nameProviders merges duplicate element providers, mutable winning, and
// assigns the state field names.
func nameProviders(bs []ProviderBinding) {
	type key struct {
		kind ProviderKind
		elem string
	}
	readOnly := map[key]bool{}
	for _, b := range bs {
		k := key{b.Kind, b.Element}
		ro, seen := readOnly[k]
		readOnly[k] = b.ReadOnly && (ro || !seen)
	}

	used := map[string]key{}
	for i := range bs {
		b := &bs[i]
		k := key{b.Kind, b.Element}
		b.ReadOnly = readOnly[k]

		var name string
		switch b.Kind {
		case ProvideComponent:
			name = sanitize(ir.ShortName(b.Element))
		case ProvideBuffer:
			name = sanitize(ir.ShortName(b.Element)) + "Buffer"
		case ProvideEntity:
			name = "Entity"
		case ProvideQueryIndex:
			name = "QueryIndex"
		case ProvideThreadIndex:
			name = "ThreadIndex"
		default:
			continue
		}
		if prev, ok := used[name]; ok && prev != k {
			// Two elements with the same short name.
			name = sanitize(b.Element)
		}
		used[name] = k

		switch b.Kind {
		case ProvideComponent, ProvideBuffer, ProvideEntity:
			b.HandleField = "__" + name + "_Handle"
		}
		b.RuntimeField = "__" + name + "_Runtime"
	}
}

func handleType(b ProviderBinding) string {
	switch b.Kind {
	case ProvideComponent:
		return lambda.ComponentHandleType(b.Element)
	case ProvideBuffer:
		return lambda.BufferHandleType(b.Element)
	case ProvideEntity:
		return lambda.EntityHandleType
	}
	return ""
}

func runtimeType(b ProviderBinding) string {
	switch b.Kind {
	case ProvideComponent:
		return lambda.ComponentRuntimeType(b.Element)
	case ProvideBuffer:
		return lambda.BufferRuntimeType(b.Element)
	case ProvideEntity:
		return lambda.EntityRuntimeType
	}
	return "int"
}

// distinct returns one binding per state field, in parameter order.
func distinct(bs []ProviderBinding) []ProviderBinding {
	seen := map[string]bool{}
	var out []ProviderBinding
	for _, b := range bs {
		if b.RuntimeField == "" || seen[b.RuntimeField] {
			continue
		}
		seen[b.RuntimeField] = true
		out = append(out, b)
	}
	return out
}

// providerFields declares the handle and runtime fields on the job.
func providerFields(bs []ProviderBinding) []*ir.FieldDef {
	var out []*ir.FieldDef
	for _, b := range distinct(bs) {
		if b.HandleField != "" {
			f := &ir.FieldDef{Name: b.HandleField, Type: handleType(b)}
			if b.ReadOnly {
				f.Attributes = []string{lambda.AttrReadOnly}
			}
			out = append(out, f)
		}
		out = append(out, &ir.FieldDef{Name: b.RuntimeField, Type: runtimeType(b)})
	}
	return out
}

func handleRef(job string, b ProviderBinding) *ir.FieldRef {
	return &ir.FieldRef{DeclaringType: job, Name: b.HandleField, FieldType: handleType(b)}
}

func runtimeRef(job string, b ProviderBinding) *ir.FieldRef {
	return &ir.FieldRef{DeclaringType: job, Name: b.RuntimeField, FieldType: runtimeType(b)}
}

// addScheduleTimeInit adds ScheduleTimeInitialize(system, query), which
// obtains the type handles before every schedule.
func addScheduleTimeInit(job *ir.TypeDef, bs []ProviderBinding) *ir.MethodDef {
	b := ir.NewBuilder()
	for _, pb := range distinct(bs) {
		if pb.HandleField == "" {
			continue
		}
		b.LdArg(0).LdArg(1)
		switch pb.Kind {
		case ProvideComponent:
			b.LdBool(pb.ReadOnly).CallVirt(lambda.GetComponentTypeHandle(pb.Element))
		case ProvideBuffer:
			b.LdBool(pb.ReadOnly).CallVirt(lambda.GetBufferTypeHandle(pb.Element))
		case ProvideEntity:
			b.CallVirt(lambda.GetEntityTypeHandle())
		}
		b.StFld(handleRef(job.Name, pb))
	}
	m := &ir.MethodDef{
		Name:   MethodScheduleTimeInit,
		Params: []ir.Param{{Name: "system", Type: lambda.SystemBase}, {Name: "query", Type: lambda.EntityQuery}},
		Return: "void",
		Body:   b.Ret().Build(),
	}
	job.AddMethod(m)
	return m
}

func batchParams() []ir.Param {
	return []ir.Param{
		{Name: "batch", Type: lambda.ArchetypeBatch},
		{Name: ParamBatchPosition, Type: "int"},
		{Name: ParamFirstIndex, Type: "int"},
	}
}

// addPrepareBatch adds PrepareBatch, which resolves the handles against
// one batch.
func addPrepareBatch(job *ir.TypeDef, bs []ProviderBinding) *ir.MethodDef {
	b := ir.NewBuilder()
	for _, pb := range distinct(bs) {
		switch pb.Kind {
		case ProvideComponent:
			b.LdArg(0).LdArgA(1).LdArg(0).LdFldA(handleRef(job.Name, pb)).Call(lambda.GetComponentRuntime(pb.Element))
		case ProvideBuffer:
			b.LdArg(0).LdArgA(1).LdArg(0).LdFldA(handleRef(job.Name, pb)).Call(lambda.GetBufferRuntime(pb.Element))
		case ProvideEntity:
			b.LdArg(0).LdArgA(1).LdArg(0).LdFldA(handleRef(job.Name, pb)).Call(lambda.GetEntityRuntime())
		case ProvideQueryIndex:
			b.LdArg(0).LdArg(3)
		case ProvideThreadIndex:
			b.LdArg(0).Call(lambda.CurrentThreadIndex())
		default:
			continue
		}
		b.StFld(runtimeRef(job.Name, pb))
	}
	m := &ir.MethodDef{Name: MethodPrepareBatch, Params: batchParams(), Return: "void", Body: b.Ret().Build()}
	job.AddMethod(m)
	return m
}

// callBody emits the receiver, lets args push the arguments, then calls
// the body and drops any result.
func callBody(b *ir.Builder, body *ir.MethodDef, args func()) {
	if !body.Static {
		b.LdArg(0)
	}
	args()
	b.Call(body.Ref())
	if body.Returns() {
		b.Pop()
	}
}

// addIterateBatch adds IterateBatch. Per-record jobs prepare the batch and
// call the body once per record; per-batch jobs call it once.
func addIterateBatch(job *ir.TypeDef, kind lambda.Kind, body *ir.MethodDef, bs []ProviderBinding) *ir.MethodDef {
	m := &ir.MethodDef{Name: MethodIterateBatch, Params: batchParams(), Return: "void"}
	b := ir.NewBuilder()

	if kind == lambda.PerBatch {
		callBody(b, body, func() {
			for _, pb := range bs {
				n := 1
				switch pb.Kind {
				case ProvideBatchIndex:
					n = 2
				case ProvideFirstIndex:
					n = 3
				}
				if pb.param.ByRef != ir.RefNone {
					b.LdArgA(n)
				} else {
					b.LdArg(n)
				}
			}
		})
		m.Body = b.Ret().Build()
		job.AddMethod(m)
		return m
	}

	prepare := job.MethodByName(MethodPrepareBatch)
	i := m.AddLocal("i", "int")
	count := m.AddLocal("count", "int")
	b.LdArg(0).LdArg(1).LdArg(2).LdArg(3).Call(prepare.Ref()).
		LdArgA(1).Call(lambda.BatchCount()).StLoc(count).
		LdcI(0).StLoc(i).
		Br("IL_cond").
		Label("IL_loop")
	callBody(b, body, func() {
		for _, pb := range bs {
			loadElement(b, m, job.Name, pb, i)
		}
	})
	b.LdLoc(i).LdcI(1).Add().StLoc(i).
		Label("IL_cond").
		LdLoc(i).LdLoc(count).Clt().BrTrue("IL_loop")
	m.Body = b.Ret().Build()
	job.AddMethod(m)
	return m
}

// loadElement pushes the body argument for record i. Parameters passed by
// reference get the element address, or a temporary for computed values.
func loadElement(b *ir.Builder, m *ir.MethodDef, job string, pb ProviderBinding, i int) {
	byRef := pb.param.ByRef != ir.RefNone
	switch pb.Kind {
	case ProvideComponent:
		b.LdArg(0).LdFldA(runtimeRef(job, pb)).LdLoc(i).Call(lambda.ComponentElementAt(pb.Element))
		if !byRef {
			b.LdObj(pb.Element)
		}
		return
	case ProvideBuffer:
		b.LdArg(0).LdFldA(runtimeRef(job, pb)).LdLoc(i).Call(lambda.BufferAt(pb.Element))
	case ProvideEntity:
		b.LdArg(0).LdFldA(runtimeRef(job, pb)).LdLoc(i).Call(lambda.EntityAt())
	case ProvideQueryIndex:
		b.LdArg(0).LdFld(runtimeRef(job, pb)).LdLoc(i).Add()
	case ProvideBatchIndex:
		b.LdLoc(i)
	case ProvideThreadIndex:
		b.LdArg(0).LdFld(runtimeRef(job, pb))
	}
	if byRef {
		tmp := m.AddLocal("", pb.param.Type)
		b.StLoc(tmp).LdLocA(tmp)
	}
}

// addExecute adds Execute for single-unit jobs.
func addExecute(job *ir.TypeDef, body *ir.MethodDef) *ir.MethodDef {
	b := ir.NewBuilder()
	callBody(b, body, func() {})
	m := &ir.MethodDef{Name: MethodExecute, Return: "void", Body: b.Ret().Build()}
	job.AddMethod(m)
	return m
}

// addRunImmediate adds the entry used by WithoutBurst().Run(): it walks the
// query's batches on the calling thread.
func addRunImmediate(job *ir.TypeDef, kind lambda.Kind) *ir.MethodDef {
	b := ir.NewBuilder()
	m := &ir.MethodDef{Name: MethodRunImmediate, Return: "void"}
	if !kind.Queries() {
		b.LdArg(0).Call(job.MethodByName(MethodExecute).Ref())
		m.Body = b.Ret().Build()
		job.AddMethod(m)
		return m
	}

	m.Params = []ir.Param{{Name: "query", Type: lambda.EntityQuery}}
	n := m.AddLocal("n", "int")
	count := m.AddLocal("count", "int")
	batch := m.AddLocal("batch", lambda.ArchetypeBatch)
	iterate := job.MethodByName(MethodIterateBatch)
	b.LdArgA(1).Call(lambda.QueryBatchCount()).StLoc(count).
		LdcI(0).StLoc(n).
		Br("IL_cond").
		Label("IL_loop").
		LdArgA(1).LdLoc(n).Call(lambda.QueryBatchAt()).StLoc(batch).
		LdArg(0).LdLoc(batch).LdLoc(n).
		LdArgA(1).LdLoc(n).Call(lambda.QueryFirstIndex()).
		Call(iterate.Ref()).
		LdLoc(n).LdcI(1).Add().StLoc(n).
		Label("IL_cond").
		LdLoc(n).LdLoc(count).Clt().BrTrue("IL_loop")
	m.Body = b.Ret().Build()
	job.AddMethod(m)
	return m
}
