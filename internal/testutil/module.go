package testutil

import (
	"fmt"
	"strings"

	"github.com/roach88/jobweave/internal/ir"
	"github.com/roach88/jobweave/internal/lambda"
)

// Names used by the sample modules. The layout mirrors what a C# compiler
// emits for a system with lambdas: non-capturing lambdas live on a "<>c"
// singleton, capturing ones on a display class.
const (
	SourceFile = "MoveSystem.cs"
	Namespace  = "Game"
	System     = "Game.MoveSystem"
	Position   = "Game.Position"
	Velocity   = "Game.Velocity"
	Frozen     = "Game.Frozen"
	Waypoint   = "Game.Waypoint"
	Team       = "Game.Team"
	Singleton  = "Game.MoveSystem/<>c"
	Closure    = "Game.MoveSystem/<>c__DisplayClass0_0"

	ComponentData = "Entities.IComponentData"
	BufferData    = "Entities.IBufferElementData"
	SharedData    = "Entities.ISharedComponentData"
)

// NewModule returns a module declaring the sample components and an empty
// system type.
func NewModule() *ir.Module {
	component := func(name string, fields ...*ir.FieldDef) *ir.TypeDef {
		return &ir.TypeDef{Name: name, Kind: ir.KindStruct, Base: "System.ValueType", Interfaces: []string{ComponentData}, Fields: fields}
	}
	return &ir.Module{
		Name: "Game",
		Types: []*ir.TypeDef{
			component(Position, &ir.FieldDef{Name: "x", Type: "float"}),
			component(Velocity, &ir.FieldDef{Name: "x", Type: "float"}),
			component(Frozen),
			{Name: Waypoint, Kind: ir.KindStruct, Base: "System.ValueType", Interfaces: []string{BufferData},
				Fields: []*ir.FieldDef{{Name: "x", Type: "float"}}},
			{Name: Team, Kind: ir.KindStruct, Base: "System.ValueType", Interfaces: []string{SharedData},
				Fields: []*ir.FieldDef{{Name: "id", Type: "int"}}},
			{Name: System, Kind: ir.KindClass, Base: lambda.SystemBase,
				Fields: []*ir.FieldDef{{Name: "speed", Type: "float"}, {Name: "named", Type: "bool"}}},
		},
	}
}

// SystemType returns the sample system type of mod.
func SystemType(mod *ir.Module) *ir.TypeDef {
	return mod.Lookup(System)
}

// AddUpdate attaches an OnUpdate method with the given locals and body to
// the system type.
func AddUpdate(mod *ir.Module, locals []ir.Local, b *ir.Builder) *ir.MethodDef {
	m := &ir.MethodDef{Name: "OnUpdate", Return: "void", Locals: locals, Body: b.Build()}
	SystemType(mod).AddMethod(m)
	return m
}

// AddSingleton declares the "<>c" container for non-capturing lambdas with
// its static instance and n delegate cache fields.
func AddSingleton(mod *ir.Module, caches ...string) *ir.TypeDef {
	t := &ir.TypeDef{
		Name:       Singleton,
		Kind:       ir.KindClass,
		Base:       "System.Object",
		Attributes: []string{lambda.AttrCompilerGenerated},
		Fields:     []*ir.FieldDef{{Name: "<>9", Type: Singleton, Static: true}},
	}
	for i, delegate := range caches {
		t.Fields = append(t.Fields, &ir.FieldDef{Name: cacheName(i), Type: delegate, Static: true})
	}
	t.AddMethod(ctorDef())
	mod.Types = append(mod.Types, t)
	return t
}

func cacheName(n int) string { return fmt.Sprintf("<>9__0_%d", n) }

// AddClosure declares a display class holding the given captured fields.
func AddClosure(mod *ir.Module, name string, fields ...*ir.FieldDef) *ir.TypeDef {
	t := &ir.TypeDef{
		Name:       name,
		Kind:       ir.KindClass,
		Base:       "System.Object",
		Attributes: []string{lambda.AttrCompilerGenerated},
		Fields:     fields,
	}
	t.AddMethod(ctorDef())
	mod.Types = append(mod.Types, t)
	return t
}

func ctorDef() *ir.MethodDef {
	return &ir.MethodDef{
		Name:   ".ctor",
		Return: "void",
		Body: ir.NewBuilder().
			LdArg(0).
			Call(&ir.MethodRef{DeclaringType: "System.Object", Name: ".ctor", Return: "void", HasThis: true}).
			Ret().
			Build(),
	}
}

// AddLambda attaches an instance method to t.
func AddLambda(t *ir.TypeDef, name string, params []ir.Param, b *ir.Builder) *ir.MethodDef {
	m := &ir.MethodDef{Name: name, Return: "void", Params: params, Body: b.Build()}
	t.AddMethod(m)
	return m
}

// Parameter shorthands.
func RefParam(typ, name string) ir.Param { return ir.Param{Name: name, Type: typ, ByRef: ir.RefRef} }
func InParam(typ, name string) ir.Param  { return ir.Param{Name: name, Type: typ, ByRef: ir.RefIn} }
func ValParam(typ, name string) ir.Param { return ir.Param{Name: name, Type: typ} }

// Field returns a reference to field name of typ.
func Field(typ, name, fieldType string) *ir.FieldRef {
	return &ir.FieldRef{DeclaringType: typ, Name: name, FieldType: fieldType}
}

// Ctor references the parameterless constructor of typ.
func Ctor(typ string) *ir.MethodRef {
	return &ir.MethodRef{DeclaringType: typ, Name: ".ctor", Return: "void", HasThis: true}
}

// DelegateType names the delegate type for a body with the given parameters.
func DelegateType(params ...ir.Param) string {
	if len(params) == 0 {
		return "Lambdas.CodeBody"
	}
	parts := make([]string, len(params))
	for i, p := range params {
		parts[i] = p.Type
		if p.ByRef != ir.RefNone {
			parts[i] = string(p.ByRef) + " " + p.Type
		}
	}
	return "Lambdas.ForEachBody<" + strings.Join(parts, ",") + ">"
}

// DelegateCtor references the (object, native int) constructor of delegate.
func DelegateCtor(delegate string) *ir.MethodRef {
	return &ir.MethodRef{DeclaringType: delegate, Name: ".ctor", Params: []string{"object", "native int"}, Return: "void", HasThis: true}
}

func getter(name, desc string) *ir.MethodRef {
	return &ir.MethodRef{DeclaringType: lambda.SystemBase, Name: name, Return: desc, HasThis: true}
}

// Entry point getters.
func Entities() *ir.MethodRef { return getter("get_Entities", lambda.ForEachDescription) }
func Job() *ir.MethodRef      { return getter("get_Job", lambda.SingleJobDescription) }
func Batches() *ir.MethodRef  { return getter("get_Batches", lambda.BatchDescription) }

// DeltaTime reads the frame delta from the system.
func DeltaTime() *ir.MethodRef {
	return &ir.MethodRef{DeclaringType: lambda.SystemBase, Name: "get_DeltaTime", Return: "float", HasThis: true}
}

// Log is an arbitrary static call consuming a string.
func Log() *ir.MethodRef {
	return &ir.MethodRef{DeclaringType: "Debug", Name: "Log", Params: []string{"string"}, Return: "void"}
}

// Modifier references a chain method on desc that returns the description.
func Modifier(desc, name string, typeArgs []string, params ...string) *ir.MethodRef {
	return &ir.MethodRef{DeclaringType: desc, Name: name, TypeArgs: typeArgs, Params: params, Return: desc, HasThis: true}
}

// Body references the body call taking a delegate.
func Body(desc, name, delegate string) *ir.MethodRef {
	return Modifier(desc, name, nil, delegate)
}

// Terminal references a terminal call. With explicit set it takes and
// returns a job handle.
func Terminal(desc, name string, explicit bool) *ir.MethodRef {
	if explicit {
		return &ir.MethodRef{DeclaringType: desc, Name: name, Params: []string{lambda.JobHandle}, Return: lambda.JobHandle, HasThis: true}
	}
	return &ir.MethodRef{DeclaringType: desc, Name: name, Return: "void", HasThis: true}
}

// CachedDelegate emits the static cached-delegate sequence for lambda n of
// the singleton.
func CachedDelegate(b *ir.Builder, n int, target *ir.MethodRef, delegate string) *ir.Builder {
	cache := Field(Singleton, cacheName(n), delegate)
	label := fmt.Sprintf("IL_cached_%d", n)
	return b.
		LdsFld(cache).
		Dup().
		BrTrue(label).
		Pop().
		LdsFld(Field(Singleton, "<>9", Singleton)).
		LdFtn(target).
		NewObj(DelegateCtor(delegate)).
		Dup().
		StsFld(cache).
		Label(label)
}

// BoundDelegate emits a delegate over the closure held in local slot.
func BoundDelegate(b *ir.Builder, slot int, target *ir.MethodRef, delegate string) *ir.Builder {
	return b.LdLoc(slot).LdFtn(target).NewObj(DelegateCtor(delegate))
}

// NewClosure emits the display class allocation into slot.
func NewClosure(b *ir.Builder, typ string, slot int) *ir.Builder {
	return b.NewObj(Ctor(typ)).StLoc(slot)
}
