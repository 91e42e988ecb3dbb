package ir

import (
	"fmt"
	"io"
	"strings"
)

// Disassemble renders a module as readable text. Output is deterministic:
// types and members appear in declaration order, and a .line directive is
// written whenever an instruction's source position changes.
func Disassemble(mod *Module) string {
	var b strings.Builder
	WriteDisassembly(&b, mod)
	return b.String()
}

// WriteDisassembly writes the disassembly of mod to w.
func WriteDisassembly(w io.Writer, mod *Module) {
	fmt.Fprintf(w, ".module %s\n", mod.Name)
	for _, t := range mod.Types {
		fmt.Fprintln(w)
		writeType(w, t)
	}
}

// DisassembleType renders a single type.
func DisassembleType(t *TypeDef) string {
	var b strings.Builder
	writeType(&b, t)
	return b.String()
}

func writeType(w io.Writer, t *TypeDef) {
	fmt.Fprintf(w, "%s.%s %s", attrPrefix(t.Attributes), t.Kind, t.Name)
	if t.Base != "" {
		fmt.Fprintf(w, " : %s", t.Base)
	}
	if len(t.Interfaces) > 0 {
		fmt.Fprintf(w, " implements %s", strings.Join(t.Interfaces, ", "))
	}
	fmt.Fprintln(w, " {")
	for _, f := range t.Fields {
		static := ""
		if f.Static {
			static = "static "
		}
		fmt.Fprintf(w, "  %s.field %s%s %s\n", attrPrefix(f.Attributes), static, f.Type, f.Name)
	}
	for _, m := range t.Methods {
		writeMethod(w, m)
	}
	fmt.Fprintln(w, "}")
}

func writeMethod(w io.Writer, m *MethodDef) {
	ret := m.Return
	if ret == "" {
		ret = "void"
	}
	static := ""
	if m.Static {
		static = "static "
	}
	params := make([]string, len(m.Params))
	for i, p := range m.Params {
		prefix := ""
		if p.ByRef != RefNone {
			prefix = string(p.ByRef) + " "
		}
		params[i] = fmt.Sprintf("%s%s %s", prefix, p.Type, p.Name)
	}
	name := m.Name
	if len(m.TypeArgs) > 0 {
		name += "<" + strings.Join(m.TypeArgs, ",") + ">"
	}
	fmt.Fprintf(w, "  %s.method %s%s %s(%s)", attrPrefix(m.Attributes), static, ret, name, strings.Join(params, ", "))
	if len(m.Body) == 0 {
		fmt.Fprintln(w, " {}")
		return
	}
	fmt.Fprintln(w, " {")
	if len(m.Locals) > 0 {
		locals := make([]string, len(m.Locals))
		for i, l := range m.Locals {
			locals[i] = strings.TrimSpace(fmt.Sprintf("%d: %s %s", i, l.Type, l.Name))
		}
		fmt.Fprintf(w, "    .locals (%s)\n", strings.Join(locals, ", "))
	}
	var last *SourcePos
	for i, ins := range m.Body {
		if ins.Pos != nil && (last == nil || *ins.Pos != *last) {
			fmt.Fprintf(w, "    .line %s\n", ins.Pos)
			last = ins.Pos
		}
		label := ""
		if ins.Label != "" {
			label = ins.Label + ":"
		}
		fmt.Fprintf(w, "    %-8s %04d  %s\n", label, i, ins)
	}
	fmt.Fprintln(w, "  }")
}

func attrPrefix(attrs []string) string {
	if len(attrs) == 0 {
		return ""
	}
	return "[" + strings.Join(attrs, ", ") + "] "
}
