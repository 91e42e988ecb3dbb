package compiler

import (
	"fmt"
	"regexp"

	"github.com/roach88/jobweave/internal/ir"
)

// Module validation error codes (E500-E599)
const (
	ErrDuplicateType   = "E501" // two types share a name
	ErrDuplicateMember = "E502" // field name or method signature repeated on a type
	ErrDanglingLabel   = "E503" // branch target names no label
	ErrDuplicateLabel  = "E504" // label carried by two instructions
	ErrLocalIndex      = "E505" // local slot outside the declared locals
	ErrArgIndex        = "E506" // argument outside the method's arguments
	ErrTypeName        = "E507" // malformed type name
	ErrFallsOffEnd     = "E508" // body does not end in ret, br or throw
	ErrInterfaceBody   = "E509" // interface method with a body
)

// ValidationError represents a structural problem in a module.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Line    int    `json:"line,omitempty"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("[%s] line %d: %s: %s", e.Code, e.Line, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// typeNamePattern matches namespaced, nested and generic type names such as
// "Game.MoveSystem/<>c" or "Entities.ComponentTypeHandle<Game.Position>".
// Inner spaces appear in "native int" and delegate signatures; tabs, line
// breaks and surrounding spaces never do.
var typeNamePattern = regexp.MustCompile(`^[A-Za-z_<]([^\t\r\n]*\S)?$`)

// Validate checks the structure of a compiled module.
// Returns all errors found (does not fail-fast).
func Validate(mod *ir.Module) []ValidationError {
	var errs []ValidationError
	seen := make(map[string]bool)
	for i, t := range mod.Types {
		path := fmt.Sprintf("types[%d]", i)
		if seen[t.Name] {
			errs = append(errs, ValidationError{
				Field:   path + ".name",
				Message: fmt.Sprintf("duplicate type name: %q", t.Name),
				Code:    ErrDuplicateType,
			})
		}
		seen[t.Name] = true
		errs = append(errs, validateType(t, path)...)
	}
	return errs
}

func validateType(t *ir.TypeDef, path string) []ValidationError {
	var errs []ValidationError
	if !typeNamePattern.MatchString(t.Name) {
		errs = append(errs, ValidationError{
			Field:   path + ".name",
			Message: fmt.Sprintf("malformed type name %q", t.Name),
			Code:    ErrTypeName,
		})
	}

	fields := make(map[string]bool)
	for j, f := range t.Fields {
		fpath := fmt.Sprintf("%s.fields[%d]", path, j)
		if fields[f.Name] {
			errs = append(errs, ValidationError{
				Field:   fpath + ".name",
				Message: fmt.Sprintf("duplicate field %q on %s", f.Name, t.Name),
				Code:    ErrDuplicateMember,
			})
		}
		fields[f.Name] = true
		errs = append(errs, checkTypeName(f.Type, fpath+".type")...)
	}

	methods := make(map[string]bool)
	for j, m := range t.Methods {
		mpath := fmt.Sprintf("%s.methods[%d]", path, j)
		key := m.Key()
		if methods[key] {
			errs = append(errs, ValidationError{
				Field:   mpath,
				Message: fmt.Sprintf("duplicate method %s", key),
				Code:    ErrDuplicateMember,
			})
		}
		methods[key] = true
		if t.Kind == ir.KindInterface && len(m.Body) > 0 {
			errs = append(errs, ValidationError{
				Field:   mpath + ".body",
				Message: fmt.Sprintf("interface method %s has a body", m.Name),
				Code:    ErrInterfaceBody,
			})
		}
		errs = append(errs, validateMethod(m, mpath)...)
	}
	return errs
}

func validateMethod(m *ir.MethodDef, path string) []ValidationError {
	var errs []ValidationError
	for k, p := range m.Params {
		errs = append(errs, checkTypeName(p.Type, fmt.Sprintf("%s.params[%d].type", path, k))...)
	}
	for k, l := range m.Locals {
		errs = append(errs, checkTypeName(l.Type, fmt.Sprintf("%s.locals[%d].type", path, k))...)
	}
	if len(m.Body) == 0 {
		return errs
	}

	labels := make(map[string]bool)
	for k, ins := range m.Body {
		if ins.Label == "" {
			continue
		}
		if labels[ins.Label] {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("%s.body[%d].label", path, k),
				Message: fmt.Sprintf("label %q is declared twice", ins.Label),
				Code:    ErrDuplicateLabel,
				Line:    line(ins),
			})
		}
		labels[ins.Label] = true
	}

	args := len(m.Params)
	if m.HasThis() {
		args++
	}
	for k, ins := range m.Body {
		ipath := fmt.Sprintf("%s.body[%d]", path, k)
		switch ins.Op {
		case ir.OpLoadLocal, ir.OpLoadLocalAddr, ir.OpStoreLocal:
			if ins.Int < 0 || int(ins.Int) >= len(m.Locals) {
				errs = append(errs, ValidationError{
					Field:   ipath + ".int",
					Message: fmt.Sprintf("%s %d: method declares %d locals", ins.Op, ins.Int, len(m.Locals)),
					Code:    ErrLocalIndex,
					Line:    line(ins),
				})
			}
		case ir.OpLoadArg, ir.OpLoadArgAddr, ir.OpStoreArg:
			if ins.Int < 0 || int(ins.Int) >= args {
				errs = append(errs, ValidationError{
					Field:   ipath + ".int",
					Message: fmt.Sprintf("%s %d: method takes %d arguments", ins.Op, ins.Int, args),
					Code:    ErrArgIndex,
					Line:    line(ins),
				})
			}
		}
		if ins.Op.Info().Flow.IsBranch() && !labels[ins.Target] {
			errs = append(errs, ValidationError{
				Field:   ipath + ".target",
				Message: fmt.Sprintf("branch to undeclared label %q", ins.Target),
				Code:    ErrDanglingLabel,
				Line:    line(ins),
			})
		}
	}

	last := m.Body[len(m.Body)-1]
	switch last.Op.Info().Flow {
	case ir.FlowReturn, ir.FlowThrow, ir.FlowBranch:
	default:
		errs = append(errs, ValidationError{
			Field:   fmt.Sprintf("%s.body[%d]", path, len(m.Body)-1),
			Message: fmt.Sprintf("%s falls off the end of its body", m.Name),
			Code:    ErrFallsOffEnd,
			Line:    line(last),
		})
	}
	return errs
}

func checkTypeName(name, path string) []ValidationError {
	if typeNamePattern.MatchString(name) {
		return nil
	}
	return []ValidationError{{
		Field:   path,
		Message: fmt.Sprintf("malformed type name %q", name),
		Code:    ErrTypeName,
	}}
}

func line(ins *ir.Instruction) int {
	if ins.Pos.Valid() {
		return ins.Pos.Line
	}
	return 0
}
