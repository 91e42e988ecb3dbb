package rewrite

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/jobweave/internal/config"
	"github.com/roach88/jobweave/internal/diag"
	"github.com/roach88/jobweave/internal/ir"
	"github.com/roach88/jobweave/internal/lambda"
	"github.com/roach88/jobweave/internal/testutil"
)

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func run(t *testing.T, mod *ir.Module) *Result {
	t.Helper()
	return runWith(t, mod, config.Default())
}

func runWith(t *testing.T, mod *ir.Module, cfg config.Config) *Result {
	t.Helper()
	res, err := Run(context.Background(), mod, Options{Config: cfg, Logger: quiet()})
	require.NoError(t, err)
	return res
}

func codes(res *Result) []string {
	out := make([]string, len(res.Diagnostics))
	for i, d := range res.Diagnostics {
		out[i] = d.Code
	}
	return out
}

func onUpdate(mod *ir.Module) *ir.MethodDef {
	return testutil.SystemType(mod).MethodByName("OnUpdate")
}

func ops(m *ir.MethodDef) []ir.Opcode {
	out := make([]ir.Opcode, len(m.Body))
	for i, ins := range m.Body {
		out[i] = ins.Op
	}
	return out
}

func calls(m *ir.MethodDef, name string) []*ir.Instruction {
	var out []*ir.Instruction
	for _, ins := range m.Body {
		if (ins.Op == ir.OpCall || ins.Op == ir.OpCallVirt) && ins.Method != nil && ins.Method.Name == name {
			out = append(out, ins)
		}
	}
	return out
}

func methodNames(t *ir.TypeDef) []string {
	out := make([]string, len(t.Methods))
	for i, m := range t.Methods {
		out[i] = m.Name
	}
	return out
}

func fieldNames(t *ir.TypeDef) []string {
	out := make([]string, len(t.Fields))
	for i, f := range t.Fields {
		out[i] = f.Name
	}
	return out
}

// balanced checks a straight-line body never underflows and ends empty.
func balanced(t *testing.T, m *ir.MethodDef) {
	t.Helper()
	depth := 0
	for i, ins := range m.Body {
		pushes, pops := ir.StackEffect(ins, m)
		require.GreaterOrEqual(t, depth-pops, 0, "underflow at %d: %s", i, ins)
		depth += pushes - pops
	}
	assert.Equal(t, 0, depth, "stack left non-empty")
}

func onlyJob(t *testing.T, res *Result) (*JobRecord, *ir.TypeDef) {
	t.Helper()
	require.Len(t, res.Jobs, 1)
	require.NotNil(t, res.Module)
	job := res.Jobs[0]
	def := res.Module.Lookup(job.Type)
	require.NotNil(t, def, "job type %s not emitted", job.Type)
	return job, def
}

func TestNonCapturingChain(t *testing.T) {
	in := testutil.ScenarioA()
	before := ir.MustModuleHash(in)
	res := run(t, in)
	require.Empty(t, res.Diagnostics)
	assert.Equal(t, before, ir.MustModuleHash(in), "input module must not change")

	job, def := onlyJob(t, res)
	assert.Equal(t, "OnUpdate_LambdaJob0", job.Name)
	assert.Equal(t, testutil.System+"/OnUpdate_LambdaJob0", job.Type)
	assert.Empty(t, job.Fields)
	assert.True(t, job.Burst)
	assert.Equal(t, ir.KindStruct, def.Kind)
	assert.Equal(t, []string{lambda.IJobBatch}, def.Interfaces)
	assert.True(t, def.HasAttribute(lambda.AttrBurstCompile))
	assert.Equal(t, []string{OriginalBody, MethodScheduleTimeInit, MethodPrepareBatch, MethodIterateBatch}, methodNames(def))
	assert.Equal(t, []string{"__Position_Handle", "__Position_Runtime", "__Velocity_Handle", "__Velocity_Runtime"}, fieldNames(def))
	assert.Nil(t, def.Fields[0].Attributes, "ref Position is writable")
	assert.Equal(t, []string{lambda.AttrReadOnly}, def.Fields[2].Attributes)

	m := onUpdate(res.Module)
	assert.Equal(t, []ir.Opcode{
		ir.OpLoadLocalAddr, ir.OpInitObj,
		ir.OpLoadLocalAddr, ir.OpLoadArg, ir.OpLoadArg, ir.OpLoadField, ir.OpCall,
		ir.OpLoadArg, ir.OpLoadLocalAddr, ir.OpLoadArg, ir.OpLoadField, ir.OpLoadArg, ir.OpCall, ir.OpCall, ir.OpCall,
		ir.OpReturn,
	}, ops(m))
	assert.Equal(t, job.Type, m.Locals[0].Type)
	assert.Equal(t, 10, m.Body[0].Pos.Line, "replacement keeps the chain's position")
	sched := m.Body[13].Method
	assert.Equal(t, lambda.JobScheduler, sched.DeclaringType)
	assert.Equal(t, lambda.Schedule, sched.Name)
	assert.Equal(t, []string{job.Type}, sched.TypeArgs)
	assert.True(t, m.Body[14].Method.Is(lambda.SystemBase, "set_Dependency"))
	balanced(t, m)

	sys := testutil.SystemType(res.Module)
	require.NotNil(t, sys.Field("__query_OnUpdate_LambdaJob0"))
	build := sys.MethodByName("__BuildQuery_OnUpdate_LambdaJob0")
	require.NotNil(t, build)
	balanced(t, build)
	hook := sys.MethodByName(lambda.InitHook)
	require.NotNil(t, hook)
	assert.Equal(t, build.Key(), hook.Body[1].Method.Key())

	require.NotNil(t, job.Query)
	assert.Len(t, job.Query.All, 2)
}

func TestCapturingChain(t *testing.T) {
	res := run(t, testutil.ScenarioB())
	require.Empty(t, res.Diagnostics)
	job, def := onlyJob(t, res)
	assert.Equal(t, []string{"dt"}, job.Fields)
	assert.Equal(t, testutil.Closure, job.Closure)
	assert.True(t, job.ClosureConverted)
	assert.Equal(t, "dt", def.Fields[0].Name)

	cl := res.Module.Lookup(testutil.Closure)
	assert.Equal(t, ir.KindStruct, cl.Kind)
	assert.Nil(t, cl.MethodByName(".ctor"))

	m := onUpdate(res.Module)
	assert.Equal(t, ir.OpLoadLocalAddr, m.Body[0].Op)
	assert.Equal(t, ir.OpInitObj, m.Body[1].Op)
	assert.Equal(t, testutil.Closure, m.Body[1].Type)
	for _, ins := range m.Body {
		assert.False(t, ins.Op == ir.OpLoadLocal && ins.Int == 0, "closure loads become address loads")
	}

	cp := def.MethodByName(CopyMethod)
	require.NotNil(t, cp)
	assert.Equal(t, ir.RefIn, cp.Params[0].ByRef)
	copies := calls(m, CopyMethod)
	require.Len(t, copies, 1)
	assert.Equal(t, []string{testutil.Closure + "&"}, copies[0].Method.Params)

	body := def.MethodByName(OriginalBody)
	for _, ins := range body.Body {
		if ins.Field != nil && ins.Field.Name == "dt" {
			assert.Equal(t, job.Type, ins.Field.DeclaringType, "captured reads target the job")
		}
	}
	assert.Equal(t, 13, body.Body[0].Pos.Line, "cloned body keeps its positions")
}

func TestCapturedWrite(t *testing.T) {
	in := testutil.ScenarioC()
	res := run(t, in)
	assert.Nil(t, res.Module)
	require.Equal(t, []string{diag.ErrCapturedWrite}, codes(res))
	assert.Equal(t, 12, res.Diagnostics[0].Line)
	assert.Equal(t, testutil.SourceFile, res.Diagnostics[0].File)
	assert.Equal(t, testutil.Closure+"::<OnUpdate>b__0(Game.Position&,Game.Velocity&)", res.Diagnostics[0].Method)
}

func TestContradictoryQuery(t *testing.T) {
	res := run(t, testutil.ScenarioD())
	assert.Nil(t, res.Module)
	require.Equal(t, []string{diag.ErrRequiredExcluded}, codes(res))
	assert.Equal(t, 12, res.Diagnostics[0].Line)
	assert.Contains(t, res.Diagnostics[0].Message, "Frozen")
}

func TestDynamicChain(t *testing.T) {
	res := run(t, testutil.ScenarioE())
	assert.Nil(t, res.Module)
	assert.Equal(t, []string{diag.ErrDynamicCode}, codes(res))
	assert.Equal(t, 11, res.Diagnostics[0].Line)
	assert.Empty(t, res.Jobs)
}

func TestTwoChainsShareClosure(t *testing.T) {
	res := run(t, testutil.ScenarioF())
	require.Empty(t, res.Diagnostics)
	require.Len(t, res.Jobs, 2)
	assert.Equal(t, "OnUpdate_LambdaJob0", res.Jobs[0].Name)
	assert.Equal(t, "OnUpdate_LambdaJob1", res.Jobs[1].Name)
	assert.Equal(t, lambda.ScheduleParallel, res.Jobs[1].Terminal)
	assert.Equal(t, []string{"dt"}, res.Jobs[1].Fields)

	m := onUpdate(res.Module)
	scheds := calls(m, lambda.Schedule)
	require.Len(t, scheds, 1)
	par := calls(m, lambda.ScheduleParallel)
	require.Len(t, par, 1)
	assert.Equal(t, []string{res.Jobs[1].Type}, par[0].Method.TypeArgs)
	assert.Len(t, calls(m, CopyMethod), 2)
	assert.Empty(t, calls(m, "get_Entities"))

	n := 0
	for _, typ := range res.Module.Types {
		if typ.Name == testutil.Closure {
			n++
		}
	}
	assert.Equal(t, 1, n, "closure converted once")

	hook := testutil.SystemType(res.Module).MethodByName(lambda.InitHook)
	assert.Equal(t, []string{"__BuildQuery_OnUpdate_LambdaJob0", "__BuildQuery_OnUpdate_LambdaJob1"}, calledNames(hook),
		"builders run in chain order")
}

// addOverload copies OnUpdate as name(int n).
func addOverload(mod *ir.Module, name string) *ir.MethodDef {
	m := onUpdate(mod).Clone()
	m.Name = name
	m.Params = []ir.Param{testutil.ValParam("int", "n")}
	testutil.SystemType(mod).AddMethod(m)
	return m
}

func TestOverloadedMethods(t *testing.T) {
	in := testutil.ScenarioA()
	addOverload(in, "OnUpdate")
	res := run(t, in)
	require.Empty(t, res.Diagnostics)
	require.NotNil(t, res.Module)
	require.Len(t, res.Jobs, 2)
	assert.Equal(t, "OnUpdate_LambdaJob0", res.Jobs[0].Name)
	assert.Equal(t, "OnUpdate_1_LambdaJob0", res.Jobs[1].Name)
	assert.Equal(t, res.Jobs[0].Method, res.Jobs[1].Method)

	seen := map[string]int{}
	for _, typ := range res.Module.Types {
		seen[typ.Name]++
	}
	for name, n := range seen {
		assert.Equal(t, 1, n, "type %s emitted %d times", name, n)
	}
	for _, job := range res.Jobs {
		assert.NotNil(t, res.Module.Lookup(job.Type))
	}

	sys := testutil.SystemType(res.Module)
	assert.ElementsMatch(t, []string{"speed", "named", "__query_OnUpdate_LambdaJob0", "__query_OnUpdate_1_LambdaJob0"}, fieldNames(sys))
	hook := sys.MethodByName(lambda.InitHook)
	require.NotNil(t, hook)
	assert.Equal(t, []string{"__BuildQuery_OnUpdate_LambdaJob0", "__BuildQuery_OnUpdate_1_LambdaJob0"}, calledNames(hook))

	overload := sys.Method(&ir.MethodRef{Name: "OnUpdate", Params: []string{"int"}})
	require.NotNil(t, overload)
	scheds := calls(overload, lambda.Schedule)
	require.Len(t, scheds, 1)
	assert.Equal(t, []string{res.Jobs[1].Type}, scheds[0].Method.TypeArgs)
}

func TestJobNameClash(t *testing.T) {
	in := testutil.ScenarioA()
	addOverload(in, "OnUpdate")
	addOverload(in, "OnUpdate_1")
	res := run(t, in)
	assert.Nil(t, res.Module)
	require.Equal(t, []string{diag.ErrInternal}, codes(res))
	assert.Contains(t, res.Diagnostics[0].Message, "OnUpdate_1_LambdaJob0 already exists")
	assert.Len(t, res.Jobs, 3)
}

func TestJobFieldsAreCapturesRead(t *testing.T) {
	res := run(t, testutil.ScenarioHelpers())
	require.Empty(t, res.Diagnostics)
	job, def := onlyJob(t, res)
	assert.Equal(t, []string{"dt", "scale"}, job.Fields, "label is only used outside the lambda")
	assert.Nil(t, def.Field("label"))

	helper := def.MethodByName("<OnUpdate>g__Scaled|0")
	require.NotNil(t, helper)
	for _, ins := range helper.Body {
		if ins.Field != nil {
			assert.Equal(t, job.Type, ins.Field.DeclaringType)
		}
	}
	helperCalls := calls(def.MethodByName(OriginalBody), "<OnUpdate>g__Scaled|0")
	require.Len(t, helperCalls, 1)
	assert.Equal(t, job.Type, helperCalls[0].Method.DeclaringType)

	// The use after the chain still reads the converted closure.
	m := onUpdate(res.Module)
	logs := calls(m, "Log")
	require.Len(t, logs, 1)
}

func TestManagedCapture(t *testing.T) {
	t.Run("scheduled", func(t *testing.T) {
		res := run(t, testutil.ScenarioManaged(false))
		assert.Nil(t, res.Module)
		require.Equal(t, []string{diag.ErrManagedCapture}, codes(res))
		assert.Equal(t, 12, res.Diagnostics[0].Line)
	})
	t.Run("without burst run", func(t *testing.T) {
		res := run(t, testutil.ScenarioManaged(true))
		require.Empty(t, res.Diagnostics)
		job, def := onlyJob(t, res)
		assert.False(t, job.Burst)
		assert.False(t, def.HasAttribute(lambda.AttrBurstCompile))
		assert.NotNil(t, def.MethodByName(MethodRunImmediate))
		runs := calls(onUpdate(res.Module), MethodRunImmediate)
		require.Len(t, runs, 1)
		assert.Equal(t, []string{lambda.EntityQuery}, runs[0].Method.Params)
	})
	t.Run("forbidden by config", func(t *testing.T) {
		cfg := config.Default()
		cfg.Pass.ManagedCaptures = config.ManagedForbid
		res := runWith(t, testutil.ScenarioManaged(true), cfg)
		assert.Equal(t, []string{diag.ErrManagedCapture}, codes(res))
	})
}

func TestEscapingClosure(t *testing.T) {
	t.Run("managed capture", func(t *testing.T) {
		res := run(t, testutil.ScenarioEscaping(true))
		assert.Nil(t, res.Module)
		require.Equal(t, []string{diag.ErrEscapingClosure}, codes(res))
		assert.Equal(t, 15, res.Diagnostics[0].Line, "points at the other delegate")
	})
	t.Run("value capture", func(t *testing.T) {
		res := run(t, testutil.ScenarioEscaping(false))
		require.Empty(t, res.Diagnostics)
		job, def := onlyJob(t, res)
		assert.False(t, job.ClosureConverted)
		assert.Equal(t, ir.KindClass, res.Module.Lookup(testutil.Closure).Kind)
		assert.Equal(t, ir.RefNone, def.MethodByName(CopyMethod).Params[0].ByRef)
	})
}

func TestEnclosingInstance(t *testing.T) {
	res := run(t, testutil.ScenarioEnclosing())
	assert.Nil(t, res.Module)
	assert.Equal(t, []string{diag.ErrEnclosingInstance}, codes(res))
	assert.Equal(t, 10, res.Diagnostics[0].Line)
}

func TestBatchChain(t *testing.T) {
	res := run(t, testutil.ScenarioBatch())
	require.Empty(t, res.Diagnostics)
	job, def := onlyJob(t, res)
	assert.Equal(t, lambda.PerBatch.String(), job.Kind)
	assert.Equal(t, []ProviderKind{ProvideBatch, ProvideBatchIndex}, []ProviderKind{job.Providers[0].Kind, job.Providers[1].Kind})
	assert.Nil(t, def.MethodByName(MethodPrepareBatch))

	iterate := def.MethodByName(MethodIterateBatch)
	require.NotNil(t, iterate)
	assert.Equal(t, []ir.Opcode{ir.OpLoadArg, ir.OpLoadArgAddr, ir.OpLoadArg, ir.OpCall, ir.OpReturn}, ops(iterate))
	assert.Equal(t, int64(2), iterate.Body[2].Int)
	balanced(t, iterate)

	require.NotNil(t, job.Query)
	require.Len(t, job.Query.All, 1)
	assert.Equal(t, testutil.Position, job.Query.All[0].Type)
	assert.True(t, job.Query.All[0].ReadOnly)
}

func TestSingleChain(t *testing.T) {
	t.Run("schedule", func(t *testing.T) {
		res := run(t, testutil.ScenarioSingle(false))
		require.Empty(t, res.Diagnostics)
		job, def := onlyJob(t, res)
		assert.Equal(t, []string{lambda.IJob}, def.Interfaces)
		assert.NotNil(t, def.MethodByName(MethodExecute))
		assert.Nil(t, job.Query)
		m := onUpdate(res.Module)
		assert.Len(t, calls(m, "ScheduleSingle"), 1)
		assert.Len(t, calls(m, "set_Dependency"), 1)
		assert.Nil(t, testutil.SystemType(res.Module).MethodByName(lambda.InitHook), "no query, no hook")
	})
	t.Run("run", func(t *testing.T) {
		res := run(t, testutil.ScenarioSingle(true))
		require.Empty(t, res.Diagnostics)
		assert.Len(t, calls(onUpdate(res.Module), "RunSingle"), 1)
	})
}

func TestFilteredChain(t *testing.T) {
	res := run(t, testutil.ScenarioFiltered())
	require.Empty(t, res.Diagnostics)
	job, def := onlyJob(t, res)
	assert.Equal(t, "OnUpdate_Move_LambdaJob0", job.Name)
	assert.Equal(t, []string{"dt"}, job.Fields)
	assert.Equal(t, []string{"dt"}, job.ReadOnlyFields)
	assert.Equal(t, []string{lambda.AttrReadOnly}, def.Field("dt").Attributes)

	kinds := make([]ProviderKind, len(job.Providers))
	for i, p := range job.Providers {
		kinds[i] = p.Kind
	}
	assert.Equal(t, []ProviderKind{ProvideEntity, ProvideQueryIndex, ProvideComponent, ProvideBuffer, ProvideThreadIndex}, kinds)
	assert.Equal(t, []string{
		"dt",
		"__Entity_Handle", "__Entity_Runtime",
		"__QueryIndex_Runtime",
		"__Position_Handle", "__Position_Runtime",
		"__WaypointBuffer_Handle", "__WaypointBuffer_Runtime",
		"__ThreadIndex_Runtime",
	}, fieldNames(def))
	assert.Equal(t, []string{lambda.AttrReadOnly}, def.Field("__Entity_Handle").Attributes)
	assert.Nil(t, def.Field("__Position_Handle").Attributes)

	q := job.Query
	require.NotNil(t, q)
	assert.Equal(t, int64(2), q.Options)
	assert.Equal(t, []string{testutil.Velocity}, q.Changed)
	require.Len(t, q.Shared, 1)
	assert.Equal(t, testutil.Team, q.Shared[0].Type)
	require.Len(t, q.Any, 1)
	assert.Equal(t, testutil.Frozen, q.Any[0].Type)

	m := onUpdate(res.Module)
	assert.Len(t, calls(m, "ResetFilter"), 1)
	assert.Len(t, calls(m, "SetChangedVersionFilter"), 1)
	assert.Len(t, calls(m, "SetSharedComponentFilter"), 1)
	par := calls(m, lambda.ScheduleParallel)
	require.Len(t, par, 1)
	assert.Equal(t, []string{job.Type + "&", lambda.EntityQuery, lambda.JobHandle}, par[0].Method.Params)
	deps := calls(m, "get_Dependency")
	require.Len(t, deps, 1, "the dependency expression is evaluated once")
	assert.Len(t, calls(m, "set_Dependency"), 1, "the caller still stores the returned handle")
	balanced(t, m)
}

func TestAllOrNothing(t *testing.T) {
	in := testutil.ScenarioB()
	testutil.SystemType(in).AddMethod(&ir.MethodDef{
		Name:   "Tick",
		Return: "void",
		Body: ir.NewBuilder().At(testutil.SourceFile, 30, 9).
			LdArg(0).Call(testutil.Entities()).Ret().Build(),
	})
	res := run(t, in)
	assert.Nil(t, res.Module)
	assert.Equal(t, []string{diag.ErrNoTerminal}, codes(res))
	assert.Len(t, res.Jobs, 1, "the good chain is still described")
	assert.Equal(t, 2, res.Chains)
}

func TestIdempotent(t *testing.T) {
	first := run(t, testutil.ScenarioF())
	require.NotNil(t, first.Module)
	hash := ir.MustModuleHash(first.Module)

	second := run(t, first.Module)
	assert.True(t, second.AlreadyRewritten)
	assert.Empty(t, second.Diagnostics)
	assert.Empty(t, second.Jobs)
	assert.Equal(t, hash, ir.MustModuleHash(second.Module))
}

func TestNoChains(t *testing.T) {
	res := run(t, testutil.NewModule())
	assert.False(t, res.AlreadyRewritten)
	assert.Zero(t, res.Chains)
	assert.NotNil(t, res.Module)
}

func TestWorkersDeterministic(t *testing.T) {
	mod := testutil.ScenarioF()
	testutil.SystemType(mod).AddMethod(&ir.MethodDef{
		Name:   "Tick",
		Return: "void",
		Body:   ir.NewBuilder().Ret().Build(),
	})
	seq := run(t, mod)
	cfg := config.Default()
	cfg.Pass.Workers = 4
	par := runWith(t, mod, cfg)
	require.NotNil(t, seq.Module)
	require.NotNil(t, par.Module)
	assert.Equal(t, ir.Disassemble(seq.Module), ir.Disassemble(par.Module))
}

func TestCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Run(ctx, testutil.ScenarioA(), Options{Config: config.Default(), Logger: quiet()})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNilModule(t *testing.T) {
	_, err := Run(context.Background(), nil, Options{})
	assert.Error(t, err)
}

func TestIdiomDisabled(t *testing.T) {
	cfg := config.Default()
	off := false
	cfg.Pass.AllowCachedDelegateIdiom = &off
	res := runWith(t, testutil.ScenarioA(), cfg)
	assert.Equal(t, []string{diag.ErrDynamicCode}, codes(res))
}
