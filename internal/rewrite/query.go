package rewrite

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/jobweave/internal/chain"
	"github.com/roach88/jobweave/internal/diag"
	"github.com/roach88/jobweave/internal/ir"
	"github.com/roach88/jobweave/internal/lambda"
	"github.com/roach88/jobweave/internal/queryemit"
	"github.com/roach88/jobweave/internal/queryir"
)

// describeQuery collects the filter terms of c: its query modifiers plus a
// requirement per component and buffer parameter.
func describeQuery(c *chain.Chain, providers []ProviderBinding) (*queryir.Descriptor, error) {
	d := &queryir.Descriptor{}
	shared := 0
	for _, inv := range c.Invocations {
		switch inv.Name {
		case lambda.RequireAll:
			for _, t := range inv.TypeArgs {
				d.Add(queryir.Require{Type: t, ReadOnly: true, At: inv.Index})
			}
		case lambda.RequireAny:
			for _, t := range inv.TypeArgs {
				d.Add(queryir.Any{Type: t, At: inv.Index})
			}
		case lambda.ExcludeAll:
			for _, t := range inv.TypeArgs {
				d.Add(queryir.Exclude{Type: t, At: inv.Index})
			}
		case lambda.WithChangeFilter:
			for _, t := range inv.TypeArgs {
				d.Add(queryir.Changed{Type: t, At: inv.Index})
			}
		case lambda.WithSharedFilter:
			d.Add(queryir.Shared{Type: inv.TypeArgs[0], Arg: shared, At: inv.Index})
			shared++
		case lambda.WithOptions:
			lit, ok := inv.Args[0].(chain.Literal)
			if !ok || lit.Op != ir.OpLoadInt {
				return nil, diag.Failf(diag.ErrNonLiteralArg, c.Owner, inv.Index, "%s requires an integer constant", inv.Name)
			}
			d.Options |= lit.Int
		}
	}
	at := c.BodyCall().Index
	for _, pb := range providers {
		if pb.Kind == ProvideComponent || pb.Kind == ProvideBuffer {
			d.Add(queryir.Require{Type: pb.Element, ReadOnly: pb.ReadOnly, Implied: true, At: at})
		}
	}
	return d, nil
}

// checkQuery turns validation conflicts into failures.
func checkQuery(c *chain.Chain, d *queryir.Descriptor) ([]*diag.Failure, error) {
	res := queryir.Validate(d)
	pos := func(at int) int {
		if at < 0 {
			return c.Start
		}
		return at
	}
	var errs []error
	for _, cf := range res.Errors {
		errs = append(errs, diag.Failf(cf.Code, c.Owner, pos(cf.At), "%s", cf.Message))
	}
	var warns []*diag.Failure
	for _, cf := range res.Warnings {
		warns = append(warns, diag.Warnf(cf.Code, c.Owner, pos(cf.At), "%s", cf.Message))
	}
	return warns, errors.Join(errs...)
}

// queryMembers builds the system field holding the job's query and the
// method constructing it.
func queryMembers(system, job string, q queryir.Query) (*ir.FieldDef, *ir.MethodDef, error) {
	field := &ir.FieldDef{Name: "__query_" + job, Type: lambda.EntityQuery, Attributes: []string{lambda.AttrCompilerGenerated}}
	ref := &ir.FieldRef{DeclaringType: system, Name: field.Name, FieldType: field.Type}
	body, err := queryemit.NewCompiler(ref).Compile(q)
	if err != nil {
		return nil, nil, fmt.Errorf("compile query for %s: %w", job, err)
	}
	build := &ir.MethodDef{
		Name:       buildQueryPrefix + job,
		Return:     "void",
		Attributes: []string{lambda.AttrCompilerGenerated},
		Body:       body,
	}
	return field, build, nil
}

// buildQueryPrefix starts the name of every synthesized query builder.
const buildQueryPrefix = "__BuildQuery_"

// injectHook makes the system's one-time initialization call build. The
// hook is created when absent; an existing call is not duplicated. Builder
// calls run before the hook's own code, in the order they were injected.
func injectHook(sys *ir.TypeDef, build *ir.MethodDef) {
	hook := sys.Method(&ir.MethodRef{Name: lambda.InitHook})
	if hook == nil {
		hook = &ir.MethodDef{
			Name:       lambda.InitHook,
			Return:     "void",
			Attributes: []string{lambda.AttrCompilerGenerated},
			Body:       ir.NewBuilder().Ret().Build(),
		}
		sys.AddMethod(hook)
	}
	key := build.Key()
	at := 0
	for i, ins := range hook.Body {
		if ins.Op != ir.OpCall || ins.Method == nil {
			continue
		}
		if ins.Method.Key() == key {
			return
		}
		if ins.Method.DeclaringType == sys.Name && strings.HasPrefix(ins.Method.Name, buildQueryPrefix) {
			at = i + 1
		}
	}
	call := ir.NewBuilder().LdArg(0).Call(build.Ref()).Build()
	hook.Body = slices.Insert(hook.Body, at, call...)
}
