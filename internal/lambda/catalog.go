// Package lambda catalogs the framework surface the rewriting pass
// recognises: chain entry points, the modifiers, body calls and terminals
// declared on each description type, and the runtime methods the
// synthesized code calls.
package lambda

import (
	"github.com/roach88/jobweave/internal/ir"
)

// Kind is the shape of work a chain describes.
type Kind int

const (
	// PerRecord runs the body once per matching record.
	PerRecord Kind = iota
	// SingleUnit runs the body once.
	SingleUnit
	// PerBatch runs the body once per batch of matching records.
	PerBatch
)

func (k Kind) String() string {
	switch k {
	case PerRecord:
		return "per_record"
	case SingleUnit:
		return "single_unit"
	case PerBatch:
		return "per_batch"
	}
	return "unknown"
}

// Queries reports whether chains of this kind run against an entity query.
func (k Kind) Queries() bool {
	return k != SingleUnit
}

// Framework type names.
const (
	SystemBase           = "Entities.SystemBase"
	ForEachDescription   = "Lambdas.ForEachDescription"
	SingleJobDescription = "Lambdas.SingleJobDescription"
	BatchDescription     = "Lambdas.BatchDescription"
	JobHandle            = "Jobs.JobHandle"
	Entity               = "Entities.Entity"
	ArchetypeBatch       = "Entities.ArchetypeBatch"
	DynamicBuffer        = "Entities.DynamicBuffer"
	EntityQuery          = "Entities.EntityQuery"
	QueryBuilder         = "Entities.QueryBuilder"
	JobScheduler         = "Jobs.JobScheduler"
	IJobBatch            = "Jobs.IJobBatch"
	IJob                 = "Jobs.IJob"
)

// Attribute names placed on synthesized members.
const (
	AttrReadOnly          = "ReadOnly"
	AttrCompilerGenerated = "CompilerGenerated"
	AttrBurstCompile      = "BurstCompile"
)

// InitHook is the one-time initialization method on a system type.
const InitHook = "OnCreateForCompiler"

// EntryPoint is a property getter on the system type that starts a chain.
type EntryPoint struct {
	Getter      string
	Kind        Kind
	Description string
}

var entryPoints = []EntryPoint{
	{Getter: "get_Entities", Kind: PerRecord, Description: ForEachDescription},
	{Getter: "get_Job", Kind: SingleUnit, Description: SingleJobDescription},
	{Getter: "get_Batches", Kind: PerBatch, Description: BatchDescription},
}

// EntryPointFor returns the entry point a call instruction invokes.
func EntryPointFor(ins *ir.Instruction) (EntryPoint, bool) {
	if ins.Op != ir.OpCall && ins.Op != ir.OpCallVirt {
		return EntryPoint{}, false
	}
	if ins.Method == nil || ins.Method.DeclaringType != SystemBase {
		return EntryPoint{}, false
	}
	for _, ep := range entryPoints {
		if ins.Method.Name == ep.Getter && len(ins.Method.Params) == 0 {
			return ep, true
		}
	}
	return EntryPoint{}, false
}

// IsDescriptionType reports whether t is one of the chain description types.
func IsDescriptionType(t string) bool {
	for _, ep := range entryPoints {
		if ep.Description == t {
			return true
		}
	}
	return false
}

// Role is what a chain method contributes.
type Role int

const (
	RoleModifier Role = iota
	RoleBody
	RoleTerminal
)

// ArgRule constrains how an argument may be produced.
type ArgRule int

const (
	// ArgStatic must be a literal or a captured closure field.
	ArgStatic ArgRule = iota
	// ArgCaptured must be a captured closure field.
	ArgCaptured
	// ArgDynamic may be any expression; it is evaluated at the use site.
	ArgDynamic
	// ArgDelegate is the body delegate.
	ArgDelegate
)

// MethodSpec describes one recognised method on a description type.
type MethodSpec struct {
	Name       string
	Role       Role
	Args       []ArgRule
	Repeatable bool
	// TypeArgs is the minimum number of generic arguments.
	TypeArgs int
	// QueryOnly restricts the modifier to kinds that run against a query.
	QueryOnly bool
}

// Modifier names.
const (
	WithName         = "WithName"
	RequireAll       = "RequireAll"
	ExcludeAll       = "ExcludeAll"
	RequireAny       = "RequireAny"
	WithChangeFilter = "WithChangeFilter"
	WithSharedFilter = "WithSharedFilter"
	WithOptions      = "WithOptions"
	WithoutBurst     = "WithoutBurst"
	WithReadOnly     = "WithReadOnly"

	ForEach  = "ForEach"
	WithCode = "WithCode"

	Schedule         = "Schedule"
	ScheduleParallel = "ScheduleParallel"
	Run              = "Run"
)

var methodSpecs = []MethodSpec{
	{Name: WithName, Role: RoleModifier, Args: []ArgRule{ArgStatic}},
	{Name: RequireAll, Role: RoleModifier, Repeatable: true, TypeArgs: 1, QueryOnly: true},
	{Name: ExcludeAll, Role: RoleModifier, Repeatable: true, TypeArgs: 1, QueryOnly: true},
	{Name: RequireAny, Role: RoleModifier, Repeatable: true, TypeArgs: 1, QueryOnly: true},
	{Name: WithChangeFilter, Role: RoleModifier, Repeatable: true, TypeArgs: 1, QueryOnly: true},
	{Name: WithSharedFilter, Role: RoleModifier, Args: []ArgRule{ArgDynamic}, Repeatable: true, TypeArgs: 1, QueryOnly: true},
	{Name: WithOptions, Role: RoleModifier, Args: []ArgRule{ArgStatic}, QueryOnly: true},
	{Name: WithoutBurst, Role: RoleModifier},
	{Name: WithReadOnly, Role: RoleModifier, Args: []ArgRule{ArgCaptured}, Repeatable: true, TypeArgs: 1},

	{Name: ForEach, Role: RoleBody, Args: []ArgRule{ArgDelegate}},
	{Name: WithCode, Role: RoleBody, Args: []ArgRule{ArgDelegate}},

	{Name: Schedule, Role: RoleTerminal},
	{Name: Schedule, Role: RoleTerminal, Args: []ArgRule{ArgDynamic}},
	{Name: ScheduleParallel, Role: RoleTerminal, QueryOnly: true},
	{Name: ScheduleParallel, Role: RoleTerminal, Args: []ArgRule{ArgDynamic}, QueryOnly: true},
	{Name: Run, Role: RoleTerminal},
}

// bodyFor names the body call each kind accepts.
var bodyFor = map[Kind]string{
	PerRecord:  ForEach,
	SingleUnit: WithCode,
	PerBatch:   ForEach,
}

// Lookup finds the MethodSpec for a call on the description type of kind.
// The second result is false when the method is not part of the surface
// for that kind; callers report it as an unknown modifier.
func Lookup(kind Kind, ref *ir.MethodRef) (MethodSpec, bool) {
	for _, s := range methodSpecs {
		if s.Name != ref.Name || len(s.Args) != len(ref.Params) {
			continue
		}
		if len(ref.TypeArgs) < s.TypeArgs {
			continue
		}
		if s.QueryOnly && !kind.Queries() {
			continue
		}
		if s.Role == RoleBody && bodyFor[kind] != s.Name {
			continue
		}
		return s, true
	}
	return MethodSpec{}, false
}

// RunsWithoutScheduler reports whether a chain with these modifiers and
// terminal runs on the calling thread outside the job scheduler; only
// such chains may touch managed data.
func RunsWithoutScheduler(withoutBurst bool, terminal string) bool {
	return withoutBurst && terminal == Run
}
