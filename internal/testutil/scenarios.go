package testutil

import (
	"github.com/roach88/jobweave/internal/ir"
	"github.com/roach88/jobweave/internal/lambda"
)

var (
	posX  = Field(Position, "x", "float")
	velX  = Field(Velocity, "x", "float")
	dtFld = Field(Closure, "dt", "float")
)

// moveBody emits p.x += v.x with p in argument 1 and v in argument 2.
func moveBody() *ir.Builder {
	return ir.NewBuilder().At(SourceFile, 12, 17).
		LdArg(1).LdArg(1).LdFld(posX).LdArg(2).LdFld(velX).Add().StFld(posX).
		At(SourceFile, 12, 40).Ret()
}

// scaledMoveBody emits p.x += v.x * dt reading dt from the closure.
func scaledMoveBody() *ir.Builder {
	return ir.NewBuilder().At(SourceFile, 13, 17).
		LdArg(1).LdArg(1).LdFld(posX).LdArg(2).LdFld(velX).LdArg(0).LdFld(dtFld).Mul().Add().StFld(posX).
		At(SourceFile, 13, 50).Ret()
}

func moveParams() []ir.Param {
	return []ir.Param{RefParam(Position, "p"), InParam(Velocity, "v")}
}

// ScenarioA is a non-capturing Entities.ForEach((ref Position p, in
// Velocity v) => p.x += v.x).Schedule() using the cached delegate idiom.
func ScenarioA() *ir.Module {
	mod := NewModule()
	delegate := DelegateType(moveParams()...)
	c := AddSingleton(mod, delegate)
	body := AddLambda(c, "<OnUpdate>b__0_0", moveParams(), moveBody())

	b := ir.NewBuilder().At(SourceFile, 10, 9).LdArg(0).Call(Entities())
	CachedDelegate(b, 0, body.Ref(), delegate).
		CallVirt(Body(lambda.ForEachDescription, lambda.ForEach, delegate)).
		CallVirt(Terminal(lambda.ForEachDescription, lambda.Schedule, false)).
		At(SourceFile, 14, 5).Ret()
	AddUpdate(mod, nil, b)
	return mod
}

// captureProlog allocates the closure in local 0 and stores dt.
func captureProlog(b *ir.Builder) *ir.Builder {
	b.At(SourceFile, 9, 9)
	NewClosure(b, Closure, 0)
	return b.LdLoc(0).LdArg(0).Call(DeltaTime()).StFld(dtFld)
}

func closureLocals() []ir.Local {
	return []ir.Local{{Name: "CS$<>8__locals0", Type: Closure}}
}

// ScenarioB captures one float dt read by the body.
func ScenarioB() *ir.Module {
	mod := NewModule()
	cl := AddClosure(mod, Closure, &ir.FieldDef{Name: "dt", Type: "float"})
	body := AddLambda(cl, "<OnUpdate>b__0", moveParams(), scaledMoveBody())
	delegate := DelegateType(moveParams()...)

	b := captureProlog(ir.NewBuilder())
	b.At(SourceFile, 10, 9).LdArg(0).Call(Entities())
	BoundDelegate(b, 0, body.Ref(), delegate).
		CallVirt(Body(lambda.ForEachDescription, lambda.ForEach, delegate)).
		CallVirt(Terminal(lambda.ForEachDescription, lambda.Schedule, false)).
		At(SourceFile, 15, 5).Ret()
	AddUpdate(mod, closureLocals(), b)
	return mod
}

// ScenarioC is ScenarioB with a body that assigns the captured dt.
func ScenarioC() *ir.Module {
	mod := NewModule()
	cl := AddClosure(mod, Closure, &ir.FieldDef{Name: "dt", Type: "float"})
	bb := ir.NewBuilder().At(SourceFile, 12, 17).
		LdArg(0).LdcR("0").StFld(dtFld).
		At(SourceFile, 13, 17).
		LdArg(1).LdArg(1).LdFld(posX).LdArg(2).LdFld(velX).Add().StFld(posX).
		At(SourceFile, 14, 13).Ret()
	body := AddLambda(cl, "<OnUpdate>b__0", moveParams(), bb)
	delegate := DelegateType(moveParams()...)

	b := captureProlog(ir.NewBuilder())
	b.At(SourceFile, 10, 9).LdArg(0).Call(Entities())
	BoundDelegate(b, 0, body.Ref(), delegate).
		CallVirt(Body(lambda.ForEachDescription, lambda.ForEach, delegate)).
		CallVirt(Terminal(lambda.ForEachDescription, lambda.Schedule, false)).
		At(SourceFile, 15, 5).Ret()
	AddUpdate(mod, closureLocals(), b)
	return mod
}

// ScenarioD requires and excludes the same component.
func ScenarioD() *ir.Module {
	mod := NewModule()
	delegate := DelegateType(moveParams()...)
	c := AddSingleton(mod, delegate)
	body := AddLambda(c, "<OnUpdate>b__0_0", moveParams(), moveBody())

	b := ir.NewBuilder().At(SourceFile, 10, 9).LdArg(0).Call(Entities()).
		At(SourceFile, 11, 13).CallVirt(Modifier(lambda.ForEachDescription, lambda.RequireAll, []string{Frozen})).
		At(SourceFile, 12, 13).CallVirt(Modifier(lambda.ForEachDescription, lambda.ExcludeAll, []string{Frozen})).
		At(SourceFile, 13, 13)
	CachedDelegate(b, 0, body.Ref(), delegate).
		CallVirt(Body(lambda.ForEachDescription, lambda.ForEach, delegate)).
		CallVirt(Terminal(lambda.ForEachDescription, lambda.Schedule, false)).
		At(SourceFile, 16, 5).Ret()
	AddUpdate(mod, nil, b)
	return mod
}

// ScenarioE applies WithName only when a flag is set, which branches in
// the middle of the chain.
func ScenarioE() *ir.Module {
	mod := NewModule()
	delegate := DelegateType(moveParams()...)
	c := AddSingleton(mod, delegate)
	body := AddLambda(c, "<OnUpdate>b__0_0", moveParams(), moveBody())

	b := ir.NewBuilder().At(SourceFile, 10, 9).LdArg(0).Call(Entities()).
		At(SourceFile, 11, 13).LdArg(0).LdFld(Field(System, "named", "bool")).BrFalse("IL_unnamed").
		LdStr("Move").CallVirt(Modifier(lambda.ForEachDescription, lambda.WithName, nil, "string")).
		Label("IL_unnamed").At(SourceFile, 12, 13)
	CachedDelegate(b, 0, body.Ref(), delegate).
		CallVirt(Body(lambda.ForEachDescription, lambda.ForEach, delegate)).
		CallVirt(Terminal(lambda.ForEachDescription, lambda.Schedule, false)).
		At(SourceFile, 16, 5).Ret()
	AddUpdate(mod, nil, b)
	return mod
}

// ScenarioF has two chains in one method sharing one closure.
func ScenarioF() *ir.Module {
	mod := NewModule()
	cl := AddClosure(mod, Closure, &ir.FieldDef{Name: "dt", Type: "float"})
	first := AddLambda(cl, "<OnUpdate>b__0", moveParams(), scaledMoveBody())
	velParams := []ir.Param{RefParam(Velocity, "v")}
	second := AddLambda(cl, "<OnUpdate>b__1", velParams, ir.NewBuilder().At(SourceFile, 17, 17).
		LdArg(1).LdArg(1).LdFld(velX).LdArg(0).LdFld(dtFld).Mul().StFld(velX).
		At(SourceFile, 17, 40).Ret())
	d1 := DelegateType(moveParams()...)
	d2 := DelegateType(velParams...)

	b := captureProlog(ir.NewBuilder())
	b.At(SourceFile, 10, 9).LdArg(0).Call(Entities())
	BoundDelegate(b, 0, first.Ref(), d1).
		CallVirt(Body(lambda.ForEachDescription, lambda.ForEach, d1)).
		CallVirt(Terminal(lambda.ForEachDescription, lambda.Schedule, false))
	b.At(SourceFile, 16, 9).LdArg(0).Call(Entities())
	BoundDelegate(b, 0, second.Ref(), d2).
		CallVirt(Body(lambda.ForEachDescription, lambda.ForEach, d2)).
		CallVirt(Terminal(lambda.ForEachDescription, lambda.ScheduleParallel, false)).
		At(SourceFile, 19, 5).Ret()
	AddUpdate(mod, closureLocals(), b)
	return mod
}

// ScenarioHelpers captures dt, scale and label; the body reads dt directly
// and scale through a helper, label is only used outside the chain.
func ScenarioHelpers() *ir.Module {
	mod := NewModule()
	cl := AddClosure(mod, Closure,
		&ir.FieldDef{Name: "dt", Type: "float"},
		&ir.FieldDef{Name: "scale", Type: "float"},
		&ir.FieldDef{Name: "label", Type: "string"},
	)
	scale := Field(Closure, "scale", "float")
	label := Field(Closure, "label", "string")
	helper := &ir.MethodDef{
		Name:   "<OnUpdate>g__Scaled|0",
		Return: "float",
		Params: []ir.Param{ValParam("float", "v")},
		Body: ir.NewBuilder().At(SourceFile, 11, 13).
			LdArg(1).LdArg(0).LdFld(scale).Mul().Ret().Build(),
	}
	cl.AddMethod(helper)
	params := []ir.Param{RefParam(Position, "p")}
	body := AddLambda(cl, "<OnUpdate>b__0", params, ir.NewBuilder().At(SourceFile, 13, 17).
		LdArg(1).LdArg(1).LdFld(posX).LdArg(0).LdFld(dtFld).Add().
		LdArg(0).LdArg(1).LdFld(posX).Call(helper.Ref()).Add().StFld(posX).
		At(SourceFile, 13, 60).Ret())
	delegate := DelegateType(params...)

	b := captureProlog(ir.NewBuilder())
	b.LdLoc(0).LdcR("2").StFld(scale).
		LdLoc(0).LdStr("move").StFld(label)
	b.At(SourceFile, 12, 9).LdArg(0).Call(Entities())
	BoundDelegate(b, 0, body.Ref(), delegate).
		CallVirt(Body(lambda.ForEachDescription, lambda.ForEach, delegate)).
		CallVirt(Terminal(lambda.ForEachDescription, lambda.Schedule, false)).
		At(SourceFile, 14, 9).LdLoc(0).LdFld(label).Call(Log()).
		At(SourceFile, 15, 5).Ret()
	AddUpdate(mod, closureLocals(), b)
	return mod
}

// ScenarioManaged captures a string read by the body. With run set the
// chain ends in WithoutBurst().Run(), otherwise in Schedule().
func ScenarioManaged(run bool) *ir.Module {
	mod := NewModule()
	cl := AddClosure(mod, Closure, &ir.FieldDef{Name: "label", Type: "string"})
	label := Field(Closure, "label", "string")
	params := []ir.Param{InParam(Position, "p")}
	body := AddLambda(cl, "<OnUpdate>b__0", params, ir.NewBuilder().At(SourceFile, 12, 17).
		LdArg(0).LdFld(label).Call(Log()).
		At(SourceFile, 12, 40).Ret())
	delegate := DelegateType(params...)

	b := ir.NewBuilder().At(SourceFile, 9, 9)
	NewClosure(b, Closure, 0).LdLoc(0).LdStr("tick").StFld(label)
	b.At(SourceFile, 10, 9).LdArg(0).Call(Entities())
	if run {
		b.CallVirt(Modifier(lambda.ForEachDescription, lambda.WithoutBurst, nil))
	}
	BoundDelegate(b, 0, body.Ref(), delegate).
		CallVirt(Body(lambda.ForEachDescription, lambda.ForEach, delegate))
	if run {
		b.CallVirt(Terminal(lambda.ForEachDescription, lambda.Run, false))
	} else {
		b.CallVirt(Terminal(lambda.ForEachDescription, lambda.Schedule, false))
	}
	b.At(SourceFile, 14, 5).Ret()
	AddUpdate(mod, closureLocals(), b)
	return mod
}

// ScenarioEscaping runs a chain over a closure that also backs an
// unrelated delegate stored in local 1. With managed set the captured
// field is a string.
func ScenarioEscaping(managed bool) *ir.Module {
	mod := NewModule()
	typ := "float"
	if managed {
		typ = "string"
	}
	cl := AddClosure(mod, Closure, &ir.FieldDef{Name: "value", Type: typ})
	value := Field(Closure, "value", typ)
	params := []ir.Param{InParam(Position, "p")}
	body := AddLambda(cl, "<OnUpdate>b__0", params, ir.NewBuilder().At(SourceFile, 12, 17).
		LdArg(0).LdFld(value).Pop().
		At(SourceFile, 12, 40).Ret())
	other := AddLambda(cl, "<OnUpdate>b__1", nil, ir.NewBuilder().At(SourceFile, 15, 25).
		LdArg(0).LdFld(value).Pop().Ret())
	delegate := DelegateType(params...)

	b := ir.NewBuilder().At(SourceFile, 9, 9)
	NewClosure(b, Closure, 0).LdLoc(0)
	if managed {
		b.LdStr("tick")
	} else {
		b.LdcR("1")
	}
	b.StFld(value)
	b.At(SourceFile, 10, 9).LdArg(0).Call(Entities()).
		CallVirt(Modifier(lambda.ForEachDescription, lambda.WithoutBurst, nil))
	BoundDelegate(b, 0, body.Ref(), delegate).
		CallVirt(Body(lambda.ForEachDescription, lambda.ForEach, delegate)).
		CallVirt(Terminal(lambda.ForEachDescription, lambda.Run, false))
	b.At(SourceFile, 15, 9)
	BoundDelegate(b, 0, other.Ref(), "System.Action").StLoc(1).
		At(SourceFile, 16, 5).Ret()
	AddUpdate(mod, []ir.Local{{Name: "CS$<>8__locals0", Type: Closure}, {Name: "callback", Type: "System.Action"}}, b)
	return mod
}

// ScenarioEnclosing binds the body to the system instance itself.
func ScenarioEnclosing() *ir.Module {
	mod := NewModule()
	sys := SystemType(mod)
	params := []ir.Param{RefParam(Position, "p")}
	body := AddLambda(sys, "<OnUpdate>b__0_0", params, ir.NewBuilder().At(SourceFile, 12, 17).
		LdArg(1).LdArg(0).LdFld(Field(System, "speed", "float")).StFld(posX).
		At(SourceFile, 12, 40).Ret())
	delegate := DelegateType(params...)

	b := ir.NewBuilder().At(SourceFile, 10, 9).LdArg(0).Call(Entities()).
		LdArg(0).LdFtn(body.Ref()).NewObj(DelegateCtor(delegate)).
		CallVirt(Body(lambda.ForEachDescription, lambda.ForEach, delegate)).
		CallVirt(Terminal(lambda.ForEachDescription, lambda.Schedule, false)).
		At(SourceFile, 14, 5).Ret()
	AddUpdate(mod, nil, b)
	return mod
}

// ScenarioBatch is a per-batch chain with a required component.
func ScenarioBatch() *ir.Module {
	mod := NewModule()
	params := []ir.Param{InParam(lambda.ArchetypeBatch, "batch"), ValParam("int", "batchIndex")}
	delegate := "Lambdas.BatchBody"
	c := AddSingleton(mod, delegate)
	body := AddLambda(c, "<OnUpdate>b__0_0", params, ir.NewBuilder().At(SourceFile, 12, 17).
		LdArg(1).Call(lambda.BatchCount()).Pop().
		At(SourceFile, 12, 40).Ret())

	b := ir.NewBuilder().At(SourceFile, 10, 9).LdArg(0).Call(Batches()).
		CallVirt(Modifier(lambda.BatchDescription, lambda.RequireAll, []string{Position}))
	CachedDelegate(b, 0, body.Ref(), delegate).
		CallVirt(Body(lambda.BatchDescription, lambda.ForEach, delegate)).
		CallVirt(Terminal(lambda.BatchDescription, lambda.ScheduleParallel, false)).
		At(SourceFile, 14, 5).Ret()
	AddUpdate(mod, nil, b)
	return mod
}

// ScenarioSingle is Job.WithCode(() => use dt).Schedule() or, with run
// set, .Run().
func ScenarioSingle(run bool) *ir.Module {
	mod := NewModule()
	cl := AddClosure(mod, Closure, &ir.FieldDef{Name: "dt", Type: "float"})
	body := AddLambda(cl, "<OnUpdate>b__0", nil, ir.NewBuilder().At(SourceFile, 12, 17).
		LdArg(0).LdFld(dtFld).Pop().
		At(SourceFile, 12, 40).Ret())
	delegate := DelegateType()

	b := captureProlog(ir.NewBuilder())
	b.At(SourceFile, 10, 9).LdArg(0).Call(Job())
	BoundDelegate(b, 0, body.Ref(), delegate).
		CallVirt(Body(lambda.SingleJobDescription, lambda.WithCode, delegate))
	if run {
		b.CallVirt(Terminal(lambda.SingleJobDescription, lambda.Run, false))
	} else {
		b.CallVirt(Terminal(lambda.SingleJobDescription, lambda.Schedule, false))
	}
	b.At(SourceFile, 14, 5).Ret()
	AddUpdate(mod, closureLocals(), b)
	return mod
}

// FilteredParams is the parameter list of ScenarioFiltered's body.
func FilteredParams() []ir.Param {
	return []ir.Param{
		ValParam(lambda.Entity, "e"),
		ValParam("int", "entityInQueryIndex"),
		RefParam(Position, "p"),
		ValParam(lambda.BufferType(Waypoint), "path"),
		ValParam("int", "nativeThreadIndex"),
	}
}

// ScenarioFiltered exercises naming, filters, options, read-only captures,
// every provider kind and an explicit dependency:
//
//	Dependency = Entities.WithName("Move").WithChangeFilter<Velocity>()
//	    .WithSharedFilter(team).RequireAny<Frozen>().WithOptions(2)
//	    .WithReadOnly(dt).ForEach(...).ScheduleParallel(Dependency);
func ScenarioFiltered() *ir.Module {
	mod := NewModule()
	cl := AddClosure(mod, Closure,
		&ir.FieldDef{Name: "dt", Type: "float"},
		&ir.FieldDef{Name: "team", Type: Team},
	)
	team := Field(Closure, "team", Team)
	params := FilteredParams()
	body := AddLambda(cl, "<OnUpdate>b__0", params, ir.NewBuilder().At(SourceFile, 20, 17).
		LdArg(3).LdArg(3).LdFld(posX).LdArg(0).LdFld(dtFld).Add().StFld(posX).
		At(SourceFile, 20, 60).Ret())
	delegate := DelegateType(params...)
	desc := lambda.ForEachDescription

	b := captureProlog(ir.NewBuilder())
	b.LdLoc(0).LdFldA(team).InitObj(Team)
	b.At(SourceFile, 12, 9).LdArg(0).
		LdArg(0).Call(Entities()).
		At(SourceFile, 13, 13).LdStr("Move").CallVirt(Modifier(desc, lambda.WithName, nil, "string")).
		At(SourceFile, 14, 13).CallVirt(Modifier(desc, lambda.WithChangeFilter, []string{Velocity})).
		At(SourceFile, 15, 13).LdLoc(0).LdFld(team).CallVirt(Modifier(desc, lambda.WithSharedFilter, []string{Team}, Team)).
		At(SourceFile, 16, 13).CallVirt(Modifier(desc, lambda.RequireAny, []string{Frozen})).
		At(SourceFile, 17, 13).LdcI(2).CallVirt(Modifier(desc, lambda.WithOptions, nil, "int")).
		At(SourceFile, 18, 13).LdLoc(0).LdFld(dtFld).CallVirt(Modifier(desc, lambda.WithReadOnly, []string{"float"}, "float")).
		At(SourceFile, 19, 13)
	BoundDelegate(b, 0, body.Ref(), delegate).
		CallVirt(Body(desc, lambda.ForEach, delegate)).
		At(SourceFile, 21, 13).LdArg(0).Call(lambda.GetDependency()).
		CallVirt(Terminal(desc, lambda.ScheduleParallel, true)).
		Call(lambda.SetDependency()).
		At(SourceFile, 22, 5).Ret()
	AddUpdate(mod, closureLocals(), b)
	return mod
}
