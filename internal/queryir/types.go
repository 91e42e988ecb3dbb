package queryir

import "sort"

// Term is one entry of a query description.
type Term interface {
	termNode() // seals the interface to this package
	typeName() string
	at() int
}

// Require demands that matching records carry Type.
type Require struct {
	Type     string
	ReadOnly bool
	// Implied marks requirements derived from a body parameter rather than
	// a RequireAll modifier.
	Implied bool
	At      int
}

// Any demands at least one of the Any types.
type Any struct {
	Type string
	At   int
}

// Exclude rejects records carrying Type.
type Exclude struct {
	Type string
	At   int
}

// Changed restricts the query to batches where Type may have been written
// since the job last ran. It implies a read-only requirement.
type Changed struct {
	Type string
	At   int
}

// Shared restricts the query to records whose shared value of Type equals
// the value computed at the use site. Arg numbers the shared filters of a
// chain in order; the emitter loads temporary Arg.
type Shared struct {
	Type string
	Arg  int
	At   int
}

func (Require) termNode() {}
func (Any) termNode()     {}
func (Exclude) termNode() {}
func (Changed) termNode() {}
func (Shared) termNode()  {}

func (t Require) typeName() string { return t.Type }
func (t Any) typeName() string     { return t.Type }
func (t Exclude) typeName() string { return t.Type }
func (t Changed) typeName() string { return t.Type }
func (t Shared) typeName() string  { return t.Type }

func (t Require) at() int { return t.At }
func (t Any) at() int     { return t.At }
func (t Exclude) at() int { return t.At }
func (t Changed) at() int { return t.At }
func (t Shared) at() int  { return t.At }

// Descriptor is the query description of one job.
type Descriptor struct {
	Terms   []Term
	Options int64
}

// Add appends terms.
func (d *Descriptor) Add(terms ...Term) {
	d.Terms = append(d.Terms, terms...)
}

// Component is one entry of a normalized list.
type Component struct {
	Type     string `json:"type"`
	ReadOnly bool   `json:"read_only,omitempty"`
}

// Query is the normalized form of a Descriptor. Lists are sorted by type
// name and hold each type once.
type Query struct {
	All     []Component `json:"all,omitempty"`
	Any     []Component `json:"any,omitempty"`
	None    []Component `json:"none,omitempty"`
	Changed []string    `json:"changed,omitempty"`
	Shared  []Shared    `json:"shared,omitempty"`
	Options int64       `json:"options,omitempty"`
}

// HasUseSiteFilters reports whether the query needs filters set before
// each schedule.
func (q Query) HasUseSiteFilters() bool {
	return len(q.Changed) > 0 || len(q.Shared) > 0
}

// Normalize folds the terms into a Query. A type required both read-only
// and mutable is required mutable. Change and shared filters add a
// read-only requirement for their type when none exists.
func (d *Descriptor) Normalize() Query {
	all := map[string]bool{} // type -> read-only
	anyOf := map[string]bool{}
	none := map[string]bool{}
	changed := map[string]bool{}
	var shared []Shared

	require := func(typ string, ro bool) {
		prev, ok := all[typ]
		all[typ] = ro && (!ok || prev)
	}
	for _, t := range d.Terms {
		switch t := t.(type) {
		case Require:
			require(t.Type, t.ReadOnly)
		case Any:
			anyOf[t.Type] = true
		case Exclude:
			none[t.Type] = true
		case Changed:
			changed[t.Type] = true
			require(t.Type, true)
		case Shared:
			shared = append(shared, t)
			require(t.Type, true)
		}
	}

	q := Query{Options: d.Options, Shared: shared}
	q.All = components(all)
	q.Any = components(anyOf)
	q.None = components(none)
	for typ := range changed {
		q.Changed = append(q.Changed, typ)
	}
	sort.Strings(q.Changed)
	return q
}

func components(m map[string]bool) []Component {
	out := make([]Component, 0, len(m))
	for typ, ro := range m {
		out = append(out, Component{Type: typ, ReadOnly: ro})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	if len(out) == 0 {
		return nil
	}
	return out
}
