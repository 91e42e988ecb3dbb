package compiler

import (
	"fmt"
	"slices"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/jobweave/internal/ir"
)

// CompileModule converts a CUE value into a module.
// Uses the CUE Go API directly (not a CLI subprocess).
//
// The value is the module struct itself:
//
//	name: "Game"
//	types: [{
//		name: "Game.MoveSystem"
//		kind: "class"
//		methods: [{
//			name: "OnUpdate"
//			body: [{op: "ldarg", int: 0}, {op: "ret"}]
//			sequence_points: [{offset: 0, file: "MoveSystem.cs", line: 10, column: 9}]
//		}]
//	}]
//
// Sequence points are moved onto the instructions they cover; an
// instruction's inline pos wins over a sequence point.
func CompileModule(v cue.Value) (*ir.Module, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	name, err := requiredString(v, "name", "name")
	if err != nil {
		return nil, err
	}
	mod := &ir.Module{Name: name}

	typesVal := v.LookupPath(cue.ParsePath("types"))
	if !typesVal.Exists() {
		return nil, &CompileError{Field: "types", Message: "types is required", Pos: v.Pos()}
	}
	err = eachElem(typesVal, "types", func(tv cue.Value, path string) error {
		t, err := compileType(tv, path)
		if err != nil {
			return err
		}
		mod.Types = append(mod.Types, t)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return mod, nil
}

func compileType(v cue.Value, path string) (*ir.TypeDef, error) {
	t := &ir.TypeDef{}
	var err error
	if t.Name, err = requiredString(v, "name", path+".name"); err != nil {
		return nil, err
	}

	kind, err := optionalString(v, "kind")
	if err != nil {
		return nil, err
	}
	switch ir.TypeKind(kind) {
	case "":
		t.Kind = ir.KindClass
	case ir.KindClass, ir.KindStruct, ir.KindInterface:
		t.Kind = ir.TypeKind(kind)
	default:
		return nil, &CompileError{
			Field:   path + ".kind",
			Message: fmt.Sprintf("kind must be class, struct or interface, got %q", kind),
			Pos:     v.LookupPath(cue.ParsePath("kind")).Pos(),
		}
	}

	if t.Base, err = optionalString(v, "base"); err != nil {
		return nil, err
	}
	if t.Interfaces, err = stringList(v, "interfaces"); err != nil {
		return nil, err
	}
	if t.Attributes, err = stringList(v, "attributes"); err != nil {
		return nil, err
	}

	err = eachElem(v.LookupPath(cue.ParsePath("fields")), path+".fields", func(fv cue.Value, fpath string) error {
		f, err := compileField(fv, fpath)
		if err != nil {
			return err
		}
		t.Fields = append(t.Fields, f)
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = eachElem(v.LookupPath(cue.ParsePath("methods")), path+".methods", func(mv cue.Value, mpath string) error {
		m, err := compileMethod(mv, mpath)
		if err != nil {
			return err
		}
		t.AddMethod(m)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

func compileField(v cue.Value, path string) (*ir.FieldDef, error) {
	f := &ir.FieldDef{}
	var err error
	if f.Name, err = requiredString(v, "name", path+".name"); err != nil {
		return nil, err
	}
	if f.Type, err = requiredString(v, "type", path+".type"); err != nil {
		return nil, err
	}
	if f.Static, err = optionalBool(v, "static"); err != nil {
		return nil, err
	}
	if f.Attributes, err = stringList(v, "attributes"); err != nil {
		return nil, err
	}
	return f, nil
}

func compileMethod(v cue.Value, path string) (*ir.MethodDef, error) {
	m := &ir.MethodDef{}
	var err error
	if m.Name, err = requiredString(v, "name", path+".name"); err != nil {
		return nil, err
	}
	if m.Return, err = optionalString(v, "return"); err != nil {
		return nil, err
	}
	if m.Static, err = optionalBool(v, "static"); err != nil {
		return nil, err
	}
	if m.TypeArgs, err = stringList(v, "type_args"); err != nil {
		return nil, err
	}
	if m.Attributes, err = stringList(v, "attributes"); err != nil {
		return nil, err
	}

	err = eachElem(v.LookupPath(cue.ParsePath("params")), path+".params", func(pv cue.Value, ppath string) error {
		p, err := compileParam(pv, ppath)
		if err != nil {
			return err
		}
		m.Params = append(m.Params, p)
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = eachElem(v.LookupPath(cue.ParsePath("locals")), path+".locals", func(lv cue.Value, lpath string) error {
		name, err := optionalString(lv, "name")
		if err != nil {
			return err
		}
		typ, err := requiredString(lv, "type", lpath+".type")
		if err != nil {
			return err
		}
		m.AddLocal(name, typ)
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = eachElem(v.LookupPath(cue.ParsePath("body")), path+".body", func(iv cue.Value, ipath string) error {
		ins, err := compileInstruction(iv, ipath)
		if err != nil {
			return err
		}
		m.Body = append(m.Body, ins)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := attachSequencePoints(v, path, m); err != nil {
		return nil, err
	}
	return m, nil
}

func compileParam(v cue.Value, path string) (ir.Param, error) {
	var p ir.Param
	var err error
	if p.Name, err = optionalString(v, "name"); err != nil {
		return p, err
	}
	if p.Type, err = requiredString(v, "type", path+".type"); err != nil {
		return p, err
	}
	byRef, err := optionalString(v, "by_ref")
	if err != nil {
		return p, err
	}
	switch ir.RefKind(byRef) {
	case ir.RefNone, ir.RefRef, ir.RefIn, ir.RefOut:
		p.ByRef = ir.RefKind(byRef)
	default:
		return p, &CompileError{
			Field:   path + ".by_ref",
			Message: fmt.Sprintf("by_ref must be ref, in or out, got %q", byRef),
			Pos:     v.LookupPath(cue.ParsePath("by_ref")).Pos(),
		}
	}
	return p, nil
}

func compileInstruction(v cue.Value, path string) (*ir.Instruction, error) {
	mnemonic, err := requiredString(v, "op", path+".op")
	if err != nil {
		return nil, err
	}
	op, err := ir.ParseOpcode(mnemonic)
	if err != nil {
		return nil, &CompileError{
			Field:   path + ".op",
			Message: err.Error(),
			Pos:     v.LookupPath(cue.ParsePath("op")).Pos(),
		}
	}

	ins := &ir.Instruction{Op: op}
	if ins.Int, err = optionalInt(v, "int"); err != nil {
		return nil, err
	}
	if ins.Str, err = optionalString(v, "str"); err != nil {
		return nil, err
	}
	if ins.Type, err = optionalString(v, "type"); err != nil {
		return nil, err
	}
	if ins.Label, err = optionalString(v, "label"); err != nil {
		return nil, err
	}
	if ins.Target, err = optionalString(v, "target"); err != nil {
		return nil, err
	}

	if mv := v.LookupPath(cue.ParsePath("method")); mv.Exists() {
		if ins.Method, err = compileMethodRef(mv, path+".method"); err != nil {
			return nil, err
		}
	}
	if fv := v.LookupPath(cue.ParsePath("field")); fv.Exists() {
		if ins.Field, err = compileFieldRef(fv, path+".field"); err != nil {
			return nil, err
		}
	}
	if pv := v.LookupPath(cue.ParsePath("pos")); pv.Exists() {
		if ins.Pos, err = compilePos(pv, path+".pos"); err != nil {
			return nil, err
		}
	}

	missing := ""
	switch op.Info().Operand {
	case ir.OperandMethod:
		if ins.Method == nil {
			missing = "method"
		}
	case ir.OperandField:
		if ins.Field == nil {
			missing = "field"
		}
	case ir.OperandType:
		if ins.Type == "" {
			missing = "type"
		}
	case ir.OperandLabel:
		if ins.Target == "" {
			missing = "target"
		}
	}
	if missing != "" {
		return nil, &CompileError{
			Field:   path + "." + missing,
			Message: fmt.Sprintf("%s requires a %s operand", mnemonic, missing),
			Pos:     v.Pos(),
		}
	}
	return ins, nil
}

func compileMethodRef(v cue.Value, path string) (*ir.MethodRef, error) {
	r := &ir.MethodRef{}
	var err error
	if r.DeclaringType, err = requiredString(v, "type", path+".type"); err != nil {
		return nil, err
	}
	if r.Name, err = requiredString(v, "name", path+".name"); err != nil {
		return nil, err
	}
	if r.TypeArgs, err = stringList(v, "type_args"); err != nil {
		return nil, err
	}
	if r.Params, err = stringList(v, "params"); err != nil {
		return nil, err
	}
	if r.Return, err = optionalString(v, "return"); err != nil {
		return nil, err
	}
	if r.HasThis, err = optionalBool(v, "has_this"); err != nil {
		return nil, err
	}
	return r, nil
}

func compileFieldRef(v cue.Value, path string) (*ir.FieldRef, error) {
	r := &ir.FieldRef{}
	var err error
	if r.DeclaringType, err = requiredString(v, "type", path+".type"); err != nil {
		return nil, err
	}
	if r.Name, err = requiredString(v, "name", path+".name"); err != nil {
		return nil, err
	}
	if r.FieldType, err = optionalString(v, "field_type"); err != nil {
		return nil, err
	}
	return r, nil
}

func compilePos(v cue.Value, path string) (*ir.SourcePos, error) {
	p := &ir.SourcePos{}
	var err error
	if p.File, err = optionalString(v, "file"); err != nil {
		return nil, err
	}
	line, err := optionalInt(v, "line")
	if err != nil {
		return nil, err
	}
	col, err := optionalInt(v, "column")
	if err != nil {
		return nil, err
	}
	if line < 0 || col < 0 {
		return nil, &CompileError{Field: path, Message: "line and column must not be negative", Pos: v.Pos()}
	}
	p.Line, p.Column = int(line), int(col)
	return p, nil
}

// attachSequencePoints gives every instruction from a point's offset up to
// the next point that point's position.
func attachSequencePoints(v cue.Value, path string, m *ir.MethodDef) error {
	type point struct {
		offset int
		pos    *ir.SourcePos
	}
	var points []point
	err := eachElem(v.LookupPath(cue.ParsePath("sequence_points")), path+".sequence_points", func(sv cue.Value, spath string) error {
		off, err := optionalInt(sv, "offset")
		if err != nil {
			return err
		}
		if off < 0 || int(off) >= len(m.Body) {
			return &CompileError{
				Field:   spath + ".offset",
				Message: fmt.Sprintf("offset %d outside body of %d instructions", off, len(m.Body)),
				Pos:     sv.Pos(),
			}
		}
		pos, err := compilePos(sv, spath)
		if err != nil {
			return err
		}
		points = append(points, point{int(off), pos})
		return nil
	})
	if err != nil {
		return err
	}
	slices.SortStableFunc(points, func(a, b point) int { return a.offset - b.offset })

	for i, sp := range points {
		end := len(m.Body)
		if i+1 < len(points) {
			end = points[i+1].offset
		}
		for j := sp.offset; j < end; j++ {
			if m.Body[j].Pos == nil {
				p := *sp.pos
				m.Body[j].Pos = &p
			}
		}
	}
	m.SequencePoints = nil
	return nil
}

// eachElem calls fn for every element of the list v, if present.
func eachElem(v cue.Value, path string, fn func(elem cue.Value, path string) error) error {
	if !v.Exists() {
		return nil
	}
	iter, err := v.List()
	if err != nil {
		return formatCUEError(err)
	}
	for i := 0; iter.Next(); i++ {
		if err := fn(iter.Value(), fmt.Sprintf("%s[%d]", path, i)); err != nil {
			return err
		}
	}
	return nil
}

func requiredString(v cue.Value, field, path string) (string, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return "", &CompileError{Field: path, Message: field + " is required", Pos: v.Pos()}
	}
	s, err := fv.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	if s == "" {
		return "", &CompileError{Field: path, Message: field + " must be non-empty", Pos: fv.Pos()}
	}
	return s, nil
}

func optionalString(v cue.Value, field string) (string, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return "", nil
	}
	s, err := fv.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}

func optionalInt(v cue.Value, field string) (int64, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return 0, nil
	}
	n, err := fv.Int64()
	if err != nil {
		return 0, formatCUEError(err)
	}
	return n, nil
}

func optionalBool(v cue.Value, field string) (bool, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return false, nil
	}
	b, err := fv.Bool()
	if err != nil {
		return false, formatCUEError(err)
	}
	return b, nil
}

func stringList(v cue.Value, field string) ([]string, error) {
	var out []string
	err := eachElem(v.LookupPath(cue.ParsePath(field)), field, func(ev cue.Value, _ string) error {
		s, err := ev.String()
		if err != nil {
			return formatCUEError(err)
		}
		out = append(out, s)
		return nil
	})
	return out, err
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	// CUE errors may contain multiple errors
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	// Return first error with position info
	firstErr := errs[0]
	positions := errors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}

	return err
}
