package ir

import (
	"fmt"
	"strings"
)

// TypeKind distinguishes heap reference types from value types.
type TypeKind string

const (
	// KindClass is a heap-allocated reference type.
	KindClass TypeKind = "class"
	// KindStruct is a value type.
	KindStruct TypeKind = "struct"
	// KindInterface is an interface type. It never owns a body.
	KindInterface TypeKind = "interface"
)

// RefKind marks how a parameter is passed.
type RefKind string

const (
	RefNone RefKind = ""
	RefRef  RefKind = "ref"
	RefIn   RefKind = "in"
	RefOut  RefKind = "out"
)

// Module is one compiled unit handed to the pass.
type Module struct {
	Name  string     `json:"name"`
	Types []*TypeDef `json:"types"`
}

// TypeDef describes a declared type with its members.
type TypeDef struct {
	Name       string       `json:"name"` // "Game.MoveSystem", nested: "Game.MoveSystem/<>c"
	Kind       TypeKind     `json:"kind"`
	Base       string       `json:"base,omitempty"`
	Interfaces []string     `json:"interfaces,omitempty"`
	Attributes []string     `json:"attributes,omitempty"`
	Fields     []*FieldDef  `json:"fields,omitempty"`
	Methods    []*MethodDef `json:"methods,omitempty"`
}

// FieldDef describes a field declared on a type.
type FieldDef struct {
	Name       string   `json:"name"`
	Type       string   `json:"type"`
	Static     bool     `json:"static,omitempty"`
	Attributes []string `json:"attributes,omitempty"`
}

// Param is a declared method parameter.
type Param struct {
	Name  string  `json:"name"`
	Type  string  `json:"type"`
	ByRef RefKind `json:"by_ref,omitempty"`
}

// Local is a method-local variable slot.
type Local struct {
	Name string `json:"name,omitempty"`
	Type string `json:"type"`
}

// SourcePos is a sequence point: the source position of an instruction.
type SourcePos struct {
	File   string `json:"file"`
	Line   int    `json:"line"`
	Column int    `json:"column"`
}

// HiddenLine marks compiler-generated instructions with no source mapping.
const HiddenLine = 0xfeefee

// Valid reports whether the position points at real source.
func (p *SourcePos) Valid() bool {
	return p != nil && p.Line > 0 && p.Line != HiddenLine
}

// String formats the position as file:line:column.
func (p *SourcePos) String() string {
	if p == nil {
		return ""
	}
	return fmt.Sprintf("%s:%d:%d", p.File, p.Line, p.Column)
}

// SequencePoint maps an instruction offset to a source position.
// Used only in module files; the loader moves positions onto instructions.
type SequencePoint struct {
	Offset int    `json:"offset"`
	File   string `json:"file"`
	Line   int    `json:"line"`
	Column int    `json:"column"`
}

// MethodDef is a method with its body.
type MethodDef struct {
	Name           string          `json:"name"`
	DeclaringType  string          `json:"declaring_type,omitempty"`
	Params         []Param         `json:"params,omitempty"`
	Return         string          `json:"return,omitempty"` // "" or "void" means no value
	Static         bool            `json:"static,omitempty"`
	TypeArgs       []string        `json:"type_args,omitempty"`
	Attributes     []string        `json:"attributes,omitempty"`
	Locals         []Local         `json:"locals,omitempty"`
	Body           []*Instruction  `json:"body,omitempty"`
	SequencePoints []SequencePoint `json:"sequence_points,omitempty"`
}

// Returns reports whether the method leaves a value on the caller's stack.
func (m *MethodDef) Returns() bool {
	return m.Return != "" && m.Return != "void"
}

// HasThis reports whether argument 0 is the receiver.
func (m *MethodDef) HasThis() bool {
	return !m.Static
}

// Ref builds a reference that calls this method.
func (m *MethodDef) Ref() *MethodRef {
	params := make([]string, len(m.Params))
	for i, p := range m.Params {
		params[i] = p.paramTypeName()
	}
	return &MethodRef{
		DeclaringType: m.DeclaringType,
		Name:          m.Name,
		TypeArgs:      append([]string(nil), m.TypeArgs...),
		Params:        params,
		Return:        m.Return,
		HasThis:       !m.Static,
	}
}

// Key identifies the method within a module.
func (m *MethodDef) Key() string {
	return m.Ref().Key()
}

// AddLocal appends a local slot and returns its index.
func (m *MethodDef) AddLocal(name, typ string) int {
	m.Locals = append(m.Locals, Local{Name: name, Type: typ})
	return len(m.Locals) - 1
}

// ArgType returns the declared type of argument n, counting the receiver
// as argument 0 for instance methods.
func (m *MethodDef) ArgType(n int) string {
	if !m.Static {
		if n == 0 {
			return m.DeclaringType
		}
		n--
	}
	if n < 0 || n >= len(m.Params) {
		return ""
	}
	return m.Params[n].paramTypeName()
}

// IndexOfLabel returns the body index of the instruction carrying label.
func (m *MethodDef) IndexOfLabel(label string) int {
	if label == "" {
		return -1
	}
	for i, ins := range m.Body {
		if ins.Label == label {
			return i
		}
	}
	return -1
}

// IsBranchTarget reports whether any branch in the body jumps to the
// instruction at index i.
func (m *MethodDef) IsBranchTarget(i int) bool {
	label := m.Body[i].Label
	if label == "" {
		return false
	}
	for _, ins := range m.Body {
		if ins.Target == label && ins.Op.Info().Flow.IsBranch() {
			return true
		}
	}
	return false
}

func (p Param) paramTypeName() string {
	if p.ByRef != RefNone {
		return p.Type + "&"
	}
	return p.Type
}

// Lookup returns the type with the given name, or nil.
func (mod *Module) Lookup(name string) *TypeDef {
	for _, t := range mod.Types {
		if t.Name == name {
			return t
		}
	}
	return nil
}

// ResolveMethod finds the definition a reference points at, or nil when the
// method lives outside the module.
func (mod *Module) ResolveMethod(ref *MethodRef) *MethodDef {
	if ref == nil {
		return nil
	}
	t := mod.Lookup(ref.DeclaringType)
	if t == nil {
		return nil
	}
	return t.Method(ref)
}

// Method returns the method matching ref's name and parameter list.
func (t *TypeDef) Method(ref *MethodRef) *MethodDef {
	for _, m := range t.Methods {
		if m.Name != ref.Name || len(m.Params) != len(ref.Params) {
			continue
		}
		match := true
		for i, p := range m.Params {
			if p.paramTypeName() != ref.Params[i] {
				match = false
				break
			}
		}
		if match {
			return m
		}
	}
	return nil
}

// MethodByName returns the first method named name.
func (t *TypeDef) MethodByName(name string) *MethodDef {
	for _, m := range t.Methods {
		if m.Name == name {
			return m
		}
	}
	return nil
}

// Field returns the field named name, or nil.
func (t *TypeDef) Field(name string) *FieldDef {
	for _, f := range t.Fields {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// AddMethod attaches m to the type and sets its declaring type.
func (t *TypeDef) AddMethod(m *MethodDef) {
	m.DeclaringType = t.Name
	t.Methods = append(t.Methods, m)
}

// HasAttribute reports whether the type carries attr.
func (t *TypeDef) HasAttribute(attr string) bool {
	for _, a := range t.Attributes {
		if a == attr {
			return true
		}
	}
	return false
}

// Implements reports whether the type lists iface among its interfaces.
func (t *TypeDef) Implements(iface string) bool {
	for _, i := range t.Interfaces {
		if i == iface {
			return true
		}
	}
	return false
}

// IsValueType reports whether instances of the type live inline.
func (t *TypeDef) IsValueType() bool {
	return t.Kind == KindStruct
}

// ShortName strips namespace and enclosing type: "Game.Sys/<>c" -> "<>c".
func ShortName(name string) string {
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		name = name[i+1:]
	}
	if i := strings.IndexByte(name, '<'); i > 0 {
		// Generic instantiation: keep the element name for readability.
		base := name[:i]
		if j := strings.LastIndexByte(base, '.'); j >= 0 {
			base = base[j+1:]
		}
		return base
	}
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		return name[i+1:]
	}
	return name
}

// Nest returns the name of a type nested in outer.
func Nest(outer, inner string) string {
	return outer + "/" + inner
}
