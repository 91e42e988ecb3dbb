// Package diag defines the coded, positioned diagnostics reported by the
// rewriting pass and the Failure error type that pass stages return.
//
// Stages never panic or log their way out of a chain: they return a
// *Failure. The orchestrator converts it to a Diagnostic positioned at the
// nearest source position at or before the offending instruction, and
// carries on with the next chain.
package diag

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/roach88/jobweave/internal/ir"
)

// Severity of a diagnostic.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Diagnostic codes. Codes are stable; tests and scenarios match on them.
const (
	// Structural (E101-E110)
	ErrNoTerminal        = "E101" // chain never reaches Schedule/Run
	ErrMissingBody       = "E102" // terminal reached without a body call
	ErrRepeatedModifier  = "E103" // non-repeatable modifier or body invoked twice
	ErrUnknownModifier   = "E104" // method on a description type that is not recognised
	ErrNonLiteralArg     = "E105" // argument is not a literal or captured field
	ErrForeignStackValue = "E106" // modifier receiver is not the chain value
	ErrChainReceiver     = "E107" // chain does not start on the system instance
	ErrDynamicCode       = "E110" // branch or return inside a chain

	// Capture safety (E201-E209)
	ErrCapturedWrite     = "E201" // body writes a captured variable
	ErrManagedCapture    = "E202" // managed capture in a mode that forbids it
	ErrEnclosingInstance = "E203" // body uses the system instance directly
	ErrEscapingClosure   = "E204" // closure escapes and carries managed data
	ErrClosurePassedOut  = "E205" // body hands the closure record to other code
	WarnReadOnlyUnused   = "W206" // WithReadOnly names a field the body never reads

	// Query consistency (E301-E309)
	ErrRequiredExcluded = "E301" // same type required and excluded
	ErrAnyExcluded      = "E302" // same type any-of and excluded
	WarnRedundantAny    = "W303" // any-of type is also required

	// Parameter classification (E401)
	ErrUnclassifiedParam = "E401"

	// Internal (E901)
	ErrInternal = "E901"
)

// internalSuffix marks internal diagnostics as tool bugs.
const internalSuffix = " (this indicates a bug in jobweave)"

// Diagnostic is one reported condition.
type Diagnostic struct {
	Code     string   `json:"code"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
	File     string   `json:"file,omitempty"`
	Line     int      `json:"line,omitempty"`
	Column   int      `json:"column,omitempty"`
	Method   string   `json:"method,omitempty"`
}

// IsError reports whether the diagnostic blocks module emission.
func (d Diagnostic) IsError() bool {
	return d.Severity == SeverityError
}

// String formats the diagnostic compiler style: "file:line:col: error E101: msg".
func (d Diagnostic) String() string {
	loc := ""
	if d.File != "" {
		loc = fmt.Sprintf("%s:%d:%d: ", d.File, d.Line, d.Column)
	}
	s := fmt.Sprintf("%s%s %s: %s", loc, d.Severity, d.Code, d.Message)
	if d.Method != "" {
		s += " [" + d.Method + "]"
	}
	return s
}

// Failure is the error a pass stage returns when it cannot handle a chain.
// Index is the offending instruction in Method's body, or -1.
type Failure struct {
	Code     string
	Message  string
	Severity Severity
	Method   *ir.MethodDef
	Index    int
}

// Error implements the error interface.
func (f *Failure) Error() string {
	return fmt.Sprintf("[%s] %s", f.Code, f.Message)
}

// Failf builds an error-severity failure at instruction idx of m.
func Failf(code string, m *ir.MethodDef, idx int, format string, args ...any) *Failure {
	return &Failure{
		Code:     code,
		Message:  fmt.Sprintf(format, args...),
		Severity: SeverityError,
		Method:   m,
		Index:    idx,
	}
}

// Warnf builds a warning. Warnings never block emission.
func Warnf(code string, m *ir.MethodDef, idx int, format string, args ...any) *Failure {
	f := Failf(code, m, idx, format, args...)
	f.Severity = SeverityWarning
	return f
}

// Internalf reports a violated invariant of the pass itself.
func Internalf(m *ir.MethodDef, idx int, format string, args ...any) *Failure {
	f := Failf(ErrInternal, m, idx, format, args...)
	f.Message += internalSuffix
	return f
}

// Position returns the nearest valid source position at or before idx.
// Synthesized instructions carry no position, so the walk skips them.
func Position(m *ir.MethodDef, idx int) *ir.SourcePos {
	if m == nil {
		return nil
	}
	if idx >= len(m.Body) {
		idx = len(m.Body) - 1
	}
	for i := idx; i >= 0; i-- {
		if p := m.Body[i].Pos; p.Valid() {
			return p
		}
	}
	// No earlier position: fall back to the first one in the method.
	for _, ins := range m.Body {
		if ins.Pos.Valid() {
			return ins.Pos
		}
	}
	return nil
}

// Diagnostic converts the failure into a positioned diagnostic.
func (f *Failure) Diagnostic() Diagnostic {
	d := Diagnostic{Code: f.Code, Message: f.Message, Severity: f.Severity}
	if d.Severity == "" {
		d.Severity = SeverityError
	}
	if f.Method != nil {
		d.Method = f.Method.Key()
		if p := Position(f.Method, f.Index); p != nil {
			d.File, d.Line, d.Column = p.File, p.Line, p.Column
		}
	}
	return d
}

// FromError converts any error into a diagnostic. Errors that are not
// Failures are internal by definition.
func FromError(err error, m *ir.MethodDef) Diagnostic {
	var f *Failure
	if errors.As(err, &f) {
		return f.Diagnostic()
	}
	return Internalf(m, -1, "%v", err).Diagnostic()
}

// Bag aggregates diagnostics. Safe for concurrent use.
type Bag struct {
	mu    sync.Mutex
	items []Diagnostic
}

// Add records diagnostics.
func (b *Bag) Add(ds ...Diagnostic) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items = append(b.items, ds...)
}

// AddError records an error returned by a stage. Joined errors are
// recorded one diagnostic each.
func (b *Bag) AddError(err error, m *ir.MethodDef) {
	for _, e := range Flatten(err) {
		b.Add(FromError(e, m))
	}
}

// Flatten expands errors built with errors.Join into their parts.
func Flatten(err error) []error {
	if err == nil {
		return nil
	}
	j, ok := err.(interface{ Unwrap() []error })
	if !ok {
		return []error{err}
	}
	var out []error
	for _, e := range j.Unwrap() {
		out = append(out, Flatten(e)...)
	}
	return out
}

// HasErrors reports whether any error-severity diagnostic was recorded.
func (b *Bag) HasErrors() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, d := range b.items {
		if d.IsError() {
			return true
		}
	}
	return false
}

// Len returns the number of recorded diagnostics.
func (b *Bag) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

// Diagnostics returns the recorded diagnostics in insertion order.
func (b *Bag) Diagnostics() []Diagnostic {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Diagnostic(nil), b.items...)
}

// Sorted returns diagnostics ordered by file, line, column, then code.
func Sorted(ds []Diagnostic) []Diagnostic {
	out := append([]Diagnostic(nil), ds...)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.File != b.File {
			return a.File < b.File
		}
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		if a.Column != b.Column {
			return a.Column < b.Column
		}
		return a.Code < b.Code
	})
	return out
}

// Count returns the number of diagnostics with the given code.
func Count(ds []Diagnostic, code string) int {
	n := 0
	for _, d := range ds {
		if d.Code == code {
			n++
		}
	}
	return n
}
