package store

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/roach88/jobweave/internal/diag"
	"github.com/roach88/jobweave/internal/ir"
	"github.com/roach88/jobweave/internal/rewrite"
)

// ReplayReport compares a stored run with a fresh pass over a module.
type ReplayReport struct {
	RunID string `json:"run_id"`
	// InputMatch is false when the module given to the replay is not the
	// module the run recorded. The remaining fields are then informational.
	InputMatch bool `json:"input_match"`
	// OutputMatch holds when both passes emitted the same module, or both
	// discarded it.
	OutputMatch      bool     `json:"output_match"`
	DiagnosticsMatch bool     `json:"diagnostics_match"`
	JobsMatch        bool     `json:"jobs_match"`
	RecordedOutput   string   `json:"recorded_output,omitempty"`
	ReplayedOutput   string   `json:"replayed_output,omitempty"`
	Differences      []string `json:"differences,omitempty"`
}

// Deterministic reports whether the replay reproduced the run exactly.
func (r *ReplayReport) Deterministic() bool {
	return r.InputMatch && r.OutputMatch && r.DiagnosticsMatch && r.JobsMatch
}

// Replay reruns the pass over input with the configuration stored for run
// id and compares the outcome with the recorded one. The replay is not
// recorded.
func (s *Store) Replay(ctx context.Context, id string, input *ir.Module, logger *slog.Logger) (*ReplayReport, error) {
	run, err := s.GetRun(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("replay: %w", err)
	}
	hashes, err := s.JobTypeHashes(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("replay: %w", err)
	}

	res, err := rewrite.Run(ctx, input, rewrite.Options{Config: run.Config, Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("replay: %w", err)
	}
	return CompareReplay(run, hashes, input, res)
}

// CompareReplay compares a stored run against the result of a fresh pass
// over input. hashes holds the recorded job type hashes (see
// JobTypeHashes); nil skips the type comparison.
func CompareReplay(run *Run, hashes map[string]string, input *ir.Module, res *rewrite.Result) (*ReplayReport, error) {
	report := &ReplayReport{RunID: run.ID, RecordedOutput: run.OutputHash}

	inputHash, err := ir.ModuleHash(input)
	if err != nil {
		return nil, fmt.Errorf("compare replay: %w", err)
	}
	report.InputMatch = inputHash == run.InputHash
	if !report.InputMatch {
		report.Differences = append(report.Differences,
			fmt.Sprintf("input hash %s differs from recorded %s", short(inputHash), short(run.InputHash)))
	}

	if res.Module != nil {
		if report.ReplayedOutput, err = ir.ModuleHash(res.Module); err != nil {
			return nil, fmt.Errorf("compare replay: %w", err)
		}
	}
	report.OutputMatch = report.ReplayedOutput == report.RecordedOutput
	if !report.OutputMatch {
		report.Differences = append(report.Differences, fmt.Sprintf("output hash %s differs from recorded %s",
			describeOutput(report.ReplayedOutput), describeOutput(report.RecordedOutput)))
	}

	report.DiagnosticsMatch = slices.Equal(diagKeys(run.Diagnostics), diagKeys(res.Diagnostics))
	if !report.DiagnosticsMatch {
		report.Differences = append(report.Differences, fmt.Sprintf("diagnostics %v differ from recorded %v",
			diagKeys(res.Diagnostics), diagKeys(run.Diagnostics)))
	}

	report.JobsMatch = true
	replayed := make([]string, len(res.Jobs))
	for i, job := range res.Jobs {
		replayed[i] = job.Type
	}
	recorded := make([]string, len(run.JobRecords))
	for i, job := range run.JobRecords {
		recorded[i] = job.Type
	}
	if !slices.Equal(replayed, recorded) {
		report.JobsMatch = false
		report.Differences = append(report.Differences,
			fmt.Sprintf("jobs %v differ from recorded %v", replayed, recorded))
	}
	if hashes != nil {
		for _, job := range res.Jobs {
			want, ok := hashes[job.Type]
			if !ok {
				continue
			}
			got, err := jobTypeHash(job)
			if err != nil {
				return nil, fmt.Errorf("compare replay: %w", err)
			}
			if got != want {
				report.JobsMatch = false
				report.Differences = append(report.Differences,
					fmt.Sprintf("job %s type hash %s differs from recorded %s", job.Type, short(got), short(want)))
			}
		}
	}
	return report, nil
}

// diagKeys reduces diagnostics to "code@line" for comparison. Messages may
// be reworded between versions; codes and positions may not.
func diagKeys(ds []diag.Diagnostic) []string {
	keys := make([]string, len(ds))
	for i, d := range ds {
		keys[i] = fmt.Sprintf("%s@%d", d.Code, d.Line)
	}
	return keys
}

func describeOutput(hash string) string {
	if hash == "" {
		return "(discarded)"
	}
	return short(hash)
}

func short(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}
