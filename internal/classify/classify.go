// Package classify answers type questions for the rewriting pass: whether a
// type is an unmanaged value type, and how a body parameter type maps onto
// a record component, buffer or identity.
//
// A Context is built once per module and never mutated afterwards, so it is
// safe to share between concurrent method workers.
package classify

import (
	"strings"

	"github.com/roach88/jobweave/internal/config"
	"github.com/roach88/jobweave/internal/ir"
	"github.com/roach88/jobweave/internal/lambda"
)

// Category is the broad classification of a parameter type.
type Category int

const (
	Unsupported Category = iota
	Component
	Buffer
	Identity
	Primitive
	Batch
)

func (c Category) String() string {
	switch c {
	case Component:
		return "component"
	case Buffer:
		return "buffer"
	case Identity:
		return "entity"
	case Primitive:
		return "primitive"
	case Batch:
		return "batch"
	}
	return "unsupported"
}

// Class is the classification of one parameter.
type Class struct {
	Category Category
	// Element is the component or buffer element type.
	Element string
	// ReadOnly is set for "in" and by-value parameters.
	ReadOnly bool
}

var primitives = map[string]bool{
	"bool": true, "byte": true, "sbyte": true, "char": true,
	"short": true, "ushort": true, "int": true, "uint": true,
	"long": true, "ulong": true, "float": true, "double": true,
	"native int": true,
}

// frameworkValueTypes are unmanaged structs defined outside any module.
var frameworkValueTypes = map[string]bool{
	lambda.Entity:         true,
	lambda.JobHandle:      true,
	lambda.ArchetypeBatch: true,
	lambda.EntityQuery:    true,
}

// Context is an immutable classification context.
type Context struct {
	types      map[string]*ir.TypeDef
	extra      map[string]bool
	components []string
	buffers    []string
}

// New builds a context over mod's declared types and the configured extras.
func New(mod *ir.Module, cfg config.Classification) *Context {
	c := &Context{
		types:      make(map[string]*ir.TypeDef, len(mod.Types)),
		extra:      make(map[string]bool, len(cfg.ValueTypes)),
		components: append([]string(nil), cfg.ComponentInterfaces...),
		buffers:    append([]string(nil), cfg.BufferInterfaces...),
	}
	for _, t := range mod.Types {
		c.types[t.Name] = t
	}
	for _, v := range cfg.ValueTypes {
		c.extra[v] = true
	}
	return c
}

// IsValueType reports whether values of typ contain no managed references.
// Declared structs count only when all their instance fields do.
func (c *Context) IsValueType(typ string) bool {
	return c.isValueType(typ, map[string]bool{})
}

func (c *Context) isValueType(typ string, seen map[string]bool) bool {
	if primitives[typ] || frameworkValueTypes[typ] || c.extra[typ] {
		return true
	}
	if strings.HasPrefix(typ, lambda.DynamicBuffer+"<") {
		return true
	}
	t, ok := c.types[typ]
	if !ok || !t.IsValueType() {
		return false
	}
	if seen[typ] {
		return true
	}
	seen[typ] = true
	for _, f := range t.Fields {
		if !f.Static && !c.isValueType(f.Type, seen) {
			return false
		}
	}
	return true
}

// IsManaged is the negation of IsValueType.
func (c *Context) IsManaged(typ string) bool {
	return !c.IsValueType(typ)
}

// Lookup returns a module type by name.
func (c *Context) Lookup(name string) *ir.TypeDef {
	return c.types[name]
}

// IsComponent reports whether typ is a struct implementing a component marker.
func (c *Context) IsComponent(typ string) bool {
	return c.implementsAny(typ, c.components)
}

// IsBufferElement reports whether typ is a struct implementing a buffer marker.
func (c *Context) IsBufferElement(typ string) bool {
	return c.implementsAny(typ, c.buffers)
}

func (c *Context) implementsAny(typ string, markers []string) bool {
	t, ok := c.types[typ]
	if !ok || !t.IsValueType() {
		return false
	}
	for _, m := range markers {
		if t.Implements(m) {
			return true
		}
	}
	return false
}

// Classify maps a body parameter onto a category.
func (c *Context) Classify(p ir.Param) Class {
	ro := p.ByRef == ir.RefNone || p.ByRef == ir.RefIn
	switch {
	case p.Type == lambda.Entity:
		return Class{Category: Identity, ReadOnly: true}
	case p.Type == lambda.ArchetypeBatch:
		return Class{Category: Batch, ReadOnly: true}
	case strings.HasPrefix(p.Type, lambda.DynamicBuffer+"<") && strings.HasSuffix(p.Type, ">"):
		elem := p.Type[len(lambda.DynamicBuffer)+1 : len(p.Type)-1]
		if !c.IsBufferElement(elem) {
			return Class{Category: Unsupported, Element: elem}
		}
		// Buffers are mutated through the handle, whatever the parameter marker.
		return Class{Category: Buffer, Element: elem, ReadOnly: p.ByRef == ir.RefIn}
	case primitives[p.Type]:
		return Class{Category: Primitive, ReadOnly: true}
	case c.IsComponent(p.Type):
		if p.ByRef == ir.RefOut {
			return Class{Category: Unsupported, Element: p.Type}
		}
		return Class{Category: Component, Element: p.Type, ReadOnly: ro}
	}
	return Class{Category: Unsupported, Element: p.Type}
}
