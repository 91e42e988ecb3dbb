// Package queryir is the filter description of the record query a job
// runs against.
//
// A Descriptor is a flat list of Terms gathered from a chain: explicit
// RequireAll, RequireAny and ExcludeAll modifiers, change and shared-value
// filters, and the component and buffer types implied by the body
// parameters. Normalize turns the terms into the three deterministic lists
// a query builder consumes (all, any, none); Validate reports
// contradictions between them.
//
// SEALED INTERFACES:
//
// Term is sealed with a marker method. Only types in this package
// implement it, so backends can switch exhaustively:
//
//	switch t := term.(type) {
//	case Require:
//	case Any:
//	case Exclude:
//	case Changed:
//	case Shared:
//	}
//
// Terms carry the body index of the modifier that introduced them (or -1
// for parameter-implied requirements) so that conflicts can be reported at
// the right source position.
package queryir
