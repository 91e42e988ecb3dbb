package harness

import (
	"github.com/roach88/jobweave/internal/diag"
	"github.com/roach88/jobweave/internal/ir"
	"github.com/roach88/jobweave/internal/rewrite"
)

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if all assertions hold.
	Pass bool `json:"pass"`

	// Errors contains assertion failure messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// RunID identifies the run in the scenario's history store.
	RunID      string `json:"run_id"`
	InputHash  string `json:"input_hash"`
	OutputHash string `json:"output_hash,omitempty"`

	Chains           int  `json:"chains"`
	AlreadyRewritten bool `json:"already_rewritten,omitempty"`

	// Diagnostics and Jobs are read back from the history store.
	Diagnostics []diag.Diagnostic    `json:"diagnostics"`
	Jobs        []*rewrite.JobRecord `json:"jobs"`

	// Module is the rewritten module, nil when it was discarded.
	Module *ir.Module `json:"-"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:        true,
		Errors:      []string{},
		Diagnostics: []diag.Diagnostic{},
		Jobs:        []*rewrite.JobRecord{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Emitted reports whether the pass produced an output module.
func (r *Result) Emitted() bool { return r.Module != nil }

// Job returns the job with the given short or full type name.
func (r *Result) Job(name string) *rewrite.JobRecord {
	for _, j := range r.Jobs {
		if j.Name == name || j.Type == name {
			return j
		}
	}
	return nil
}
