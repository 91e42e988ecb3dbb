// Package ir provides the module intermediate representation rewritten by jobweave.
//
// A Module is a flat list of TypeDefs. Each MethodDef carries a linear body of
// stack-machine Instructions. Branches name their target by label rather than
// by offset, and source positions ride on the instruction they describe, so
// both survive splicing without renumbering.
//
// ir imports nothing internal. Every other internal package builds on it.
//
// Key design constraints:
//   - Stack effects come from a single opcode table (see StackEffect)
//   - Nested types are named "Outer/Inner"
//   - All JSON tags use snake_case
//   - Module identity is a content hash of canonical JSON, never a timestamp
package ir
