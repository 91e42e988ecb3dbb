package queryir

import (
	"fmt"
	"sort"

	"github.com/roach88/jobweave/internal/diag"
)

// Conflict is one contradiction or redundancy in a descriptor.
type Conflict struct {
	Code    string
	Type    string
	Message string
	// At is the body index of the term that completed the conflict.
	At int
}

// ValidationResult lists the conflicts of a descriptor.
type ValidationResult struct {
	// Errors make the query unsatisfiable.
	Errors []Conflict
	// Warnings are redundant but harmless.
	Warnings []Conflict
}

// OK reports whether the descriptor has no errors.
func (r ValidationResult) OK() bool {
	return len(r.Errors) == 0
}

// Validate checks d for contradictions:
//
//   - a type both required and excluded (E301), whether the requirement is
//     explicit, implied by a body parameter or by a filter
//   - a type both any-of and excluded (E302)
//   - a type both any-of and required (W303, redundant)
//
// Each type is reported at most once per code. Results are ordered by type
// name. Validate is a pure function.
func Validate(d *Descriptor) ValidationResult {
	v := &validator{
		required: map[string]Term{},
		anyOf:    map[string]Term{},
		excluded: map[string]Term{},
	}
	for _, t := range d.Terms {
		v.index(t)
	}
	v.check()
	return ValidationResult{Errors: sorted(v.errors), Warnings: sorted(v.warnings)}
}

type validator struct {
	required map[string]Term
	anyOf    map[string]Term
	excluded map[string]Term
	errors   []Conflict
	warnings []Conflict
}

func (v *validator) index(t Term) {
	var m map[string]Term
	switch t.(type) {
	case Require, Changed, Shared:
		m = v.required
	case Any:
		m = v.anyOf
	case Exclude:
		m = v.excluded
	default:
		return
	}
	if _, seen := m[t.typeName()]; !seen {
		m[t.typeName()] = t
	}
}

func (v *validator) check() {
	for typ, ex := range v.excluded {
		if req, ok := v.required[typ]; ok {
			v.errors = append(v.errors, Conflict{
				Code:    diag.ErrRequiredExcluded,
				Type:    typ,
				Message: fmt.Sprintf("%s is %s and excluded by ExcludeAll", typ, describe(req)),
				At:      later(req, ex),
			})
		}
		if a, ok := v.anyOf[typ]; ok {
			v.errors = append(v.errors, Conflict{
				Code:    diag.ErrAnyExcluded,
				Type:    typ,
				Message: fmt.Sprintf("%s is listed by RequireAny and excluded by ExcludeAll", typ),
				At:      later(a, ex),
			})
		}
	}
	for typ, a := range v.anyOf {
		if req, ok := v.required[typ]; ok {
			v.warnings = append(v.warnings, Conflict{
				Code:    diag.WarnRedundantAny,
				Type:    typ,
				Message: fmt.Sprintf("RequireAny<%s> has no effect: the type is %s", typ, describe(req)),
				At:      later(req, a),
			})
		}
	}
}

func describe(t Term) string {
	switch t := t.(type) {
	case Require:
		if t.Implied {
			return "required by a lambda parameter"
		}
		return "required by RequireAll"
	case Changed:
		return "required by WithChangeFilter"
	case Shared:
		return "required by WithSharedFilter"
	}
	return "required"
}

// later picks the position of whichever term came second in source order.
// Parameter-implied terms have no position of their own.
func later(a, b Term) int {
	if a.at() > b.at() {
		return a.at()
	}
	return b.at()
}

func sorted(cs []Conflict) []Conflict {
	sort.Slice(cs, func(i, j int) bool {
		if cs[i].Type != cs[j].Type {
			return cs[i].Type < cs[j].Type
		}
		return cs[i].Code < cs[j].Code
	})
	return cs
}
