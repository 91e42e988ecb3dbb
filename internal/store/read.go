package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/jobweave/internal/config"
	"github.com/roach88/jobweave/internal/diag"
	"github.com/roach88/jobweave/internal/rewrite"
)

// ErrRunNotFound is returned when no run has the requested ID.
var ErrRunNotFound = errors.New("run not found")

// Run is one recorded pass.
type Run struct {
	ID         string `json:"id"`
	Seq        int64  `json:"seq"`
	ModuleName string `json:"module_name"`
	Source     string `json:"source,omitempty"`
	InputHash  string `json:"input_hash"`
	// OutputHash is empty when the module was discarded.
	OutputHash       string        `json:"output_hash,omitempty"`
	Chains           int           `json:"chains"`
	Jobs             int           `json:"jobs"`
	Errors           int           `json:"errors"`
	Warnings         int           `json:"warnings"`
	AlreadyRewritten bool          `json:"already_rewritten,omitempty"`
	Config           config.Config `json:"-"`
	PassVersion      string        `json:"pass_version"`
	IRVersion        string        `json:"ir_version"`
	StartedAt        time.Time     `json:"started_at"`

	// Diagnostics and JobRecords are loaded by GetRun only.
	Diagnostics []diag.Diagnostic    `json:"diagnostics,omitempty"`
	JobRecords  []*rewrite.JobRecord `json:"job_records,omitempty"`
}

// Emitted reports whether the run produced an output module.
func (r *Run) Emitted() bool { return r.OutputHash != "" }

const runColumns = `
	id, seq, module_name, source, input_hash, output_hash, chains, jobs,
	errors, warnings, already_rewritten, config, pass_version, ir_version, started_at`

// ListRuns returns the most recent runs, newest first.
// limit <= 0 returns every run. Returns an empty slice (not nil) when the
// history is empty.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY seq DESC, id COLLATE BINARY ASC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.queryRuns(ctx, query, args...)
}

// FindByInputHash returns every run over a module with the given hash,
// oldest first.
func (s *Store) FindByInputHash(ctx context.Context, hash string) ([]*Run, error) {
	return s.queryRuns(ctx, `
		SELECT `+runColumns+`
		FROM runs
		WHERE input_hash = ?
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`, hash)
}

// LatestForModule returns the most recent run over the named module.
// Returns ErrRunNotFound if the module was never recorded.
func (s *Store) LatestForModule(ctx context.Context, name string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+runColumns+`
		FROM runs
		WHERE module_name = ?
		ORDER BY seq DESC
		LIMIT 1
	`, name)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("latest run for %s: %w", name, ErrRunNotFound)
	}
	if err != nil {
		return nil, err
	}
	return run, nil
}

// GetRun returns a run with its diagnostics and job records.
// Returns ErrRunNotFound if no run has the ID.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get run %s: %w", id, ErrRunNotFound)
	}
	if err != nil {
		return nil, err
	}

	if run.Diagnostics, err = s.readDiagnostics(ctx, id); err != nil {
		return nil, err
	}
	if run.JobRecords, err = s.readJobRecords(ctx, id); err != nil {
		return nil, err
	}
	return run, nil
}

// JobTypeHashes returns the stored type hash of each job of a run, keyed
// by job type name. Jobs never built are omitted.
func (s *Store) JobTypeHashes(ctx context.Context, runID string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT type, type_hash
		FROM job_records
		WHERE run_id = ? AND type_hash != ''
		ORDER BY ordinal ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query job hashes: %w", err)
	}
	defer rows.Close()

	hashes := make(map[string]string)
	for rows.Next() {
		var typ, hash string
		if err := rows.Scan(&typ, &hash); err != nil {
			return nil, fmt.Errorf("scan job hash: %w", err)
		}
		hashes[typ] = hash
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate job hashes: %w", err)
	}
	return hashes, nil
}

func (s *Store) queryRuns(ctx context.Context, query string, args ...any) ([]*Run, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []*Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

func (s *Store) readDiagnostics(ctx context.Context, runID string) ([]diag.Diagnostic, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT code, severity, message, file, line, col, method
		FROM diagnostics
		WHERE run_id = ?
		ORDER BY ordinal ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query diagnostics: %w", err)
	}
	defer rows.Close()

	var ds []diag.Diagnostic
	for rows.Next() {
		var d diag.Diagnostic
		var severity string
		if err := rows.Scan(&d.Code, &severity, &d.Message, &d.File, &d.Line, &d.Column, &d.Method); err != nil {
			return nil, fmt.Errorf("scan diagnostic: %w", err)
		}
		d.Severity = diag.Severity(severity)
		ds = append(ds, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate diagnostics: %w", err)
	}
	return ds, nil
}

func (s *Store) readJobRecords(ctx context.Context, runID string) ([]*rewrite.JobRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT record
		FROM job_records
		WHERE run_id = ?
		ORDER BY ordinal ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query job records: %w", err)
	}
	defer rows.Close()

	var jobs []*rewrite.JobRecord
	for rows.Next() {
		var record string
		if err := rows.Scan(&record); err != nil {
			return nil, fmt.Errorf("scan job record: %w", err)
		}
		job, err := unmarshalJob(record)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate job records: %w", err)
	}
	return jobs, nil
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (*Run, error) {
	var (
		run        Run
		outputHash sql.NullString
		cfgJSON    string
		startedAt  string
	)
	err := sc.Scan(
		&run.ID,
		&run.Seq,
		&run.ModuleName,
		&run.Source,
		&run.InputHash,
		&outputHash,
		&run.Chains,
		&run.Jobs,
		&run.Errors,
		&run.Warnings,
		&run.AlreadyRewritten,
		&cfgJSON,
		&run.PassVersion,
		&run.IRVersion,
		&startedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}
	run.OutputHash = outputHash.String

	if run.Config, err = unmarshalConfig(cfgJSON); err != nil {
		return nil, fmt.Errorf("scan run %s: %w", run.ID, err)
	}
	if run.StartedAt, err = time.Parse(time.RFC3339Nano, startedAt); err != nil {
		return nil, fmt.Errorf("scan run %s: started_at: %w", run.ID, err)
	}
	return &run, nil
}
