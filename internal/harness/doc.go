// Package harness provides conformance testing for the rewriting pass.
//
// A scenario names one module, runs the pass over it, records the run in
// an in-memory history store and evaluates assertions against what was
// stored and what was emitted.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: capture_move
//	description: "A capturing lambda becomes a job with one field"
//	module: ../modules/capture_move.cue
//	config: jobweave.yaml        # optional
//	assertions:
//	  - type: emitted
//	    value: true
//	  - type: job
//	    job: OnUpdate_LambdaJob0
//	    terminal: Schedule
//	    fields: [dt]
//	  - type: diagnostic
//	    code: E201
//	    line: 12
//	  - type: final_state
//	    table: runs
//	    expect: { chains: 1, errors: 0 }
//
// Module and config paths are resolved relative to the scenario file.
//
// # Assertion Types
//
//   - emitted: the module was (value: true) or was not emitted
//   - diagnostic: a diagnostic with the code, and line if given, was reported
//   - diagnostic_count: exactly count diagnostics with the code (or in total)
//   - job: a job exists with the given kind, terminal, burst and fields
//   - job_count: exactly count jobs were described
//   - type_kind: the output module declares a type of the given kind
//   - calls: a method of the output calls the listed methods in order
//   - final_state: queries a history table and verifies expected values
//
// # Deterministic Testing
//
// Every scenario runs with a deterministic clock and sequential run IDs
// against a fresh in-memory SQLite store, so snapshots are identical
// across runs. Snapshots hold the diagnostics, the job records and the
// disassembly of the rewritten module; see RunWithGolden.
package harness
