package lambda

import (
	"fmt"

	"github.com/roach88/jobweave/internal/ir"
)

// Method references into the entity storage engine and the job runtime.
// The pass never calls these; it emits calls to them.

// GetEntityQuery builds an EntityQuery from a builder.
func GetEntityQuery() *ir.MethodRef {
	return &ir.MethodRef{DeclaringType: SystemBase, Name: "GetEntityQuery", Params: []string{QueryBuilder}, Return: EntityQuery, HasThis: true}
}

// QueryBuilderCtor constructs an empty query builder.
func QueryBuilderCtor() *ir.MethodRef {
	return &ir.MethodRef{DeclaringType: QueryBuilder, Name: ".ctor", HasThis: true}
}

// QueryBuilderWith adds a component type to one of the builder lists.
// list is "WithAll", "WithAny" or "WithNone"; the bool argument marks
// read-only access.
func QueryBuilderWith(list, typ string) *ir.MethodRef {
	return &ir.MethodRef{DeclaringType: QueryBuilder, Name: list, TypeArgs: []string{typ}, Params: []string{"bool"}, Return: QueryBuilder, HasThis: true}
}

// QueryBuilderOptions sets the option flags.
func QueryBuilderOptions() *ir.MethodRef {
	return &ir.MethodRef{DeclaringType: QueryBuilder, Name: "WithOptions", Params: []string{"int"}, Return: QueryBuilder, HasThis: true}
}

// ResetFilter clears per-use filters on a query.
func ResetFilter() *ir.MethodRef {
	return &ir.MethodRef{DeclaringType: EntityQuery, Name: "ResetFilter", Return: "void", HasThis: true}
}

// SetChangedVersionFilter restricts a query to batches where T changed.
func SetChangedVersionFilter(typ string) *ir.MethodRef {
	return &ir.MethodRef{DeclaringType: EntityQuery, Name: "SetChangedVersionFilter", TypeArgs: []string{typ}, Return: "void", HasThis: true}
}

// SetSharedComponentFilter restricts a query to one shared value of T.
func SetSharedComponentFilter(typ string) *ir.MethodRef {
	return &ir.MethodRef{DeclaringType: EntityQuery, Name: "SetSharedComponentFilter", TypeArgs: []string{typ}, Params: []string{typ}, Return: "void", HasThis: true}
}

// Handle types per provider kind.

func ComponentHandleType(typ string) string {
	return fmt.Sprintf("Entities.ComponentTypeHandle<%s>", typ)
}
func BufferHandleType(typ string) string { return fmt.Sprintf("Entities.BufferTypeHandle<%s>", typ) }
func ComponentRuntimeType(typ string) string {
	return fmt.Sprintf("Entities.ComponentRuntime<%s>", typ)
}
func BufferRuntimeType(typ string) string { return fmt.Sprintf("Entities.BufferRuntime<%s>", typ) }
func BufferType(typ string) string        { return fmt.Sprintf("%s<%s>", DynamicBuffer, typ) }

const (
	EntityHandleType  = "Entities.EntityTypeHandle"
	EntityRuntimeType = "Entities.EntityRuntime"
)

// GetComponentTypeHandle obtains a schedule-time component handle.
func GetComponentTypeHandle(typ string) *ir.MethodRef {
	return &ir.MethodRef{DeclaringType: SystemBase, Name: "GetComponentTypeHandle", TypeArgs: []string{typ}, Params: []string{"bool"}, Return: ComponentHandleType(typ), HasThis: true}
}

// GetBufferTypeHandle obtains a schedule-time buffer handle.
func GetBufferTypeHandle(typ string) *ir.MethodRef {
	return &ir.MethodRef{DeclaringType: SystemBase, Name: "GetBufferTypeHandle", TypeArgs: []string{typ}, Params: []string{"bool"}, Return: BufferHandleType(typ), HasThis: true}
}

// GetEntityTypeHandle obtains the entity identity handle.
func GetEntityTypeHandle() *ir.MethodRef {
	return &ir.MethodRef{DeclaringType: SystemBase, Name: "GetEntityTypeHandle", Return: EntityHandleType, HasThis: true}
}

// GetComponentRuntime resolves a component handle against one batch.
func GetComponentRuntime(typ string) *ir.MethodRef {
	return &ir.MethodRef{DeclaringType: ArchetypeBatch, Name: "GetComponentRuntime", TypeArgs: []string{typ}, Params: []string{ComponentHandleType(typ) + "&"}, Return: ComponentRuntimeType(typ), HasThis: true}
}

// GetBufferRuntime resolves a buffer handle against one batch.
func GetBufferRuntime(typ string) *ir.MethodRef {
	return &ir.MethodRef{DeclaringType: ArchetypeBatch, Name: "GetBufferRuntime", TypeArgs: []string{typ}, Params: []string{BufferHandleType(typ) + "&"}, Return: BufferRuntimeType(typ), HasThis: true}
}

// GetEntityRuntime resolves the entity handle against one batch.
func GetEntityRuntime() *ir.MethodRef {
	return &ir.MethodRef{DeclaringType: ArchetypeBatch, Name: "GetEntityRuntime", Params: []string{EntityHandleType + "&"}, Return: EntityRuntimeType, HasThis: true}
}

// BatchCount returns the number of records in a batch.
func BatchCount() *ir.MethodRef {
	return &ir.MethodRef{DeclaringType: ArchetypeBatch, Name: "get_Count", Return: "int", HasThis: true}
}

// ComponentElementAt returns a reference to component typ at an index.
func ComponentElementAt(typ string) *ir.MethodRef {
	return &ir.MethodRef{DeclaringType: ComponentRuntimeType(typ), Name: "ElementAt", Params: []string{"int"}, Return: typ + "&", HasThis: true}
}

// BufferAt returns the buffer of element typ at an index.
func BufferAt(typ string) *ir.MethodRef {
	return &ir.MethodRef{DeclaringType: BufferRuntimeType(typ), Name: "GetBuffer", Params: []string{"int"}, Return: BufferType(typ), HasThis: true}
}

// EntityAt returns the identity of the record at an index.
func EntityAt() *ir.MethodRef {
	return &ir.MethodRef{DeclaringType: EntityRuntimeType, Name: "GetEntity", Params: []string{"int"}, Return: Entity, HasThis: true}
}

// CurrentThreadIndex returns the worker slot executing the job.
func CurrentThreadIndex() *ir.MethodRef {
	return &ir.MethodRef{DeclaringType: JobScheduler, Name: "get_CurrentThreadIndex", Return: "int"}
}

// GetDependency reads the system's implicit job dependency.
func GetDependency() *ir.MethodRef {
	return &ir.MethodRef{DeclaringType: SystemBase, Name: "get_Dependency", Return: JobHandle, HasThis: true}
}

// SetDependency writes the system's implicit job dependency.
func SetDependency() *ir.MethodRef {
	return &ir.MethodRef{DeclaringType: SystemBase, Name: "set_Dependency", Params: []string{JobHandle}, Return: "void", HasThis: true}
}

// ScheduleJob queues a query job. name is Schedule or ScheduleParallel.
func ScheduleJob(name, job string) *ir.MethodRef {
	return &ir.MethodRef{DeclaringType: JobScheduler, Name: name, TypeArgs: []string{job}, Params: []string{job + "&", EntityQuery, JobHandle}, Return: JobHandle}
}

// RunJob runs a query job to completion on the calling thread.
func RunJob(job string) *ir.MethodRef {
	return &ir.MethodRef{DeclaringType: JobScheduler, Name: "Run", TypeArgs: []string{job}, Params: []string{job + "&", EntityQuery}, Return: "void"}
}

// ScheduleSingle queues a single-unit job.
func ScheduleSingle(job string) *ir.MethodRef {
	return &ir.MethodRef{DeclaringType: JobScheduler, Name: "ScheduleSingle", TypeArgs: []string{job}, Params: []string{job + "&", JobHandle}, Return: JobHandle}
}

// RunSingle runs a single-unit job on the calling thread.
func RunSingle(job string) *ir.MethodRef {
	return &ir.MethodRef{DeclaringType: JobScheduler, Name: "RunSingle", TypeArgs: []string{job}, Params: []string{job + "&"}, Return: "void"}
}

// QueryBatchCount returns the number of batches matching a query.
func QueryBatchCount() *ir.MethodRef {
	return &ir.MethodRef{DeclaringType: EntityQuery, Name: "get_BatchCount", Return: "int", HasThis: true}
}

// QueryBatchAt returns batch n of a query.
func QueryBatchAt() *ir.MethodRef {
	return &ir.MethodRef{DeclaringType: EntityQuery, Name: "GetBatch", Params: []string{"int"}, Return: ArchetypeBatch, HasThis: true}
}

// QueryFirstIndex returns the query-wide index of the first record in batch n.
func QueryFirstIndex() *ir.MethodRef {
	return &ir.MethodRef{DeclaringType: EntityQuery, Name: "GetFirstIndexInQuery", Params: []string{"int"}, Return: "int", HasThis: true}
}
