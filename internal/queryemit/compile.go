// Package queryemit compiles normalized query descriptions into
// instruction sequences: the one-time query construction stored on the
// system, and the per-use filter calls emitted before each schedule.
//
// Output is deterministic: list entries are emitted in the sorted order
// queryir.Normalize produces, shared filters in source order.
package queryemit

import (
	"errors"
	"fmt"

	"github.com/roach88/jobweave/internal/ir"
	"github.com/roach88/jobweave/internal/lambda"
	"github.com/roach88/jobweave/internal/queryir"
)

// Builder list names on the query builder.
const (
	ListAll  = "WithAll"
	ListAny  = "WithAny"
	ListNone = "WithNone"
)

// Compiler emits query code for one job.
type Compiler struct {
	// QueryField is the system field holding the job's query.
	QueryField *ir.FieldRef
	// SharedTemps maps a shared filter's Arg to the local slot holding its
	// value at the use site.
	SharedTemps map[int]int
}

// NewCompiler returns a compiler storing into field.
func NewCompiler(field *ir.FieldRef) *Compiler {
	return &Compiler{
		QueryField:  field,
		SharedTemps: make(map[int]int),
	}
}

// Compile returns the body of the query construction method: an instance
// method on the system that builds the query and stores it in QueryField.
func (c *Compiler) Compile(q queryir.Query) ([]*ir.Instruction, error) {
	if c.QueryField == nil {
		return nil, errors.New("queryemit: no query field")
	}
	b := ir.NewBuilder().
		LdArg(0).
		LdArg(0).
		NewObj(lambda.QueryBuilderCtor())
	c.compileList(b, ListAll, q.All)
	c.compileList(b, ListAny, q.Any)
	c.compileList(b, ListNone, q.None)
	if q.Options != 0 {
		b.LdcI(q.Options).CallVirt(lambda.QueryBuilderOptions())
	}
	return b.
		Call(lambda.GetEntityQuery()).
		StFld(c.QueryField).
		Ret().
		Build(), nil
}

func (c *Compiler) compileList(b *ir.Builder, list string, entries []queryir.Component) {
	for _, e := range entries {
		b.LdBool(e.ReadOnly).CallVirt(lambda.QueryBuilderWith(list, e.Type))
	}
}

// CompileUseSite returns the filter calls to run before scheduling, or nil
// when the query has no per-use filters. Filters are reset first so that a
// previous use never leaks into this one.
func (c *Compiler) CompileUseSite(q queryir.Query) ([]*ir.Instruction, error) {
	if !q.HasUseSiteFilters() {
		return nil, nil
	}
	if c.QueryField == nil {
		return nil, errors.New("queryemit: no query field")
	}
	b := ir.NewBuilder()
	c.query(b).Call(lambda.ResetFilter())
	for _, typ := range q.Changed {
		c.query(b).Call(lambda.SetChangedVersionFilter(typ))
	}
	for _, s := range q.Shared {
		slot, ok := c.SharedTemps[s.Arg]
		if !ok {
			return nil, fmt.Errorf("queryemit: shared filter %d on %s has no value", s.Arg, s.Type)
		}
		c.query(b).LdLoc(slot).Call(lambda.SetSharedComponentFilter(s.Type))
	}
	return b.Build(), nil
}

// query loads the address of the stored query.
func (c *Compiler) query(b *ir.Builder) *ir.Builder {
	return b.LdArg(0).LdFldA(c.QueryField)
}
