package ir

// Clone returns a deep copy of the module. The pass works on a clone so the
// caller's module is never mutated.
func (mod *Module) Clone() *Module {
	c := &Module{Name: mod.Name, Types: make([]*TypeDef, len(mod.Types))}
	for i, t := range mod.Types {
		c.Types[i] = t.Clone()
	}
	return c
}

// Clone returns a deep copy of the type.
func (t *TypeDef) Clone() *TypeDef {
	c := *t
	c.Interfaces = append([]string(nil), t.Interfaces...)
	c.Attributes = append([]string(nil), t.Attributes...)
	c.Fields = make([]*FieldDef, len(t.Fields))
	for i, f := range t.Fields {
		fc := *f
		fc.Attributes = append([]string(nil), f.Attributes...)
		c.Fields[i] = &fc
	}
	c.Methods = make([]*MethodDef, len(t.Methods))
	for i, m := range t.Methods {
		c.Methods[i] = m.Clone()
	}
	return &c
}

// Clone returns a deep copy of the method, body included.
func (m *MethodDef) Clone() *MethodDef {
	c := *m
	c.Params = append([]Param(nil), m.Params...)
	c.TypeArgs = append([]string(nil), m.TypeArgs...)
	c.Attributes = append([]string(nil), m.Attributes...)
	c.Locals = append([]Local(nil), m.Locals...)
	c.SequencePoints = append([]SequencePoint(nil), m.SequencePoints...)
	c.Body = CloneBody(m.Body)
	return &c
}

// CloneBody deep-copies an instruction sequence.
func CloneBody(body []*Instruction) []*Instruction {
	if body == nil {
		return nil
	}
	out := make([]*Instruction, len(body))
	for i, ins := range body {
		out[i] = ins.Clone()
	}
	return out
}
