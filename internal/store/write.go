package store

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/jobweave/internal/config"
	"github.com/roach88/jobweave/internal/diag"
	"github.com/roach88/jobweave/internal/ir"
	"github.com/roach88/jobweave/internal/rewrite"
)

// RunInput is everything recorded for one pass over one module.
type RunInput struct {
	// Source names the file the module was loaded from.
	Source string
	// Input is the module as given to the pass, before rewriting.
	Input  *ir.Module
	Result *rewrite.Result
	Config config.Config
}

// RecordRun stores a completed pass and returns the stored run.
//
// The run, its diagnostics and its job records are written in one
// transaction. OutputHash is empty when the pass discarded the module.
func (s *Store) RecordRun(ctx context.Context, in RunInput) (*Run, error) {
	if in.Input == nil || in.Result == nil {
		return nil, fmt.Errorf("record run: input module and result are required")
	}

	inputHash, err := ir.ModuleHash(in.Input)
	if err != nil {
		return nil, fmt.Errorf("record run: %w", err)
	}
	var outputHash string
	if in.Result.Module != nil {
		if outputHash, err = ir.ModuleHash(in.Result.Module); err != nil {
			return nil, fmt.Errorf("record run: %w", err)
		}
	}
	cfgJSON, err := marshalConfig(in.Config)
	if err != nil {
		return nil, fmt.Errorf("record run: %w", err)
	}

	run := &Run{
		ID:               s.ids.Generate(),
		ModuleName:       in.Input.Name,
		Source:           in.Source,
		InputHash:        inputHash,
		OutputHash:       outputHash,
		Chains:           in.Result.Chains,
		Jobs:             len(in.Result.Jobs),
		AlreadyRewritten: in.Result.AlreadyRewritten,
		Config:           in.Config,
		PassVersion:      ir.PassVersion,
		IRVersion:        ir.IRVersion,
		StartedAt:        s.clock.Now().UTC(),
		Diagnostics:      in.Result.Diagnostics,
		JobRecords:       in.Result.Jobs,
	}
	for _, d := range in.Result.Diagnostics {
		switch d.Severity {
		case diag.SeverityError:
			run.Errors++
		case diag.SeverityWarning:
			run.Warnings++
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("record run: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) + 1 FROM runs`).Scan(&run.Seq); err != nil {
		return nil, fmt.Errorf("record run: next seq: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs
		(id, seq, module_name, source, input_hash, output_hash, chains, jobs,
		 errors, warnings, already_rewritten, config, pass_version, ir_version, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		run.ID,
		run.Seq,
		run.ModuleName,
		run.Source,
		run.InputHash,
		nullIfEmpty(run.OutputHash),
		run.Chains,
		run.Jobs,
		run.Errors,
		run.Warnings,
		run.AlreadyRewritten,
		cfgJSON,
		run.PassVersion,
		run.IRVersion,
		run.StartedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("record run: insert run: %w", err)
	}

	for i, d := range in.Result.Diagnostics {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO diagnostics
			(run_id, ordinal, code, severity, message, file, line, col, method)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, run.ID, i, d.Code, string(d.Severity), d.Message, d.File, d.Line, d.Column, d.Method)
		if err != nil {
			return nil, fmt.Errorf("record run: insert diagnostic %d: %w", i, err)
		}
	}

	for i, job := range in.Result.Jobs {
		record, err := marshalJob(job)
		if err != nil {
			return nil, fmt.Errorf("record run: %w", err)
		}
		typeHash, err := jobTypeHash(job)
		if err != nil {
			return nil, fmt.Errorf("record run: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO job_records
			(run_id, ordinal, name, type, kind, terminal, burst, record, type_hash)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, run.ID, i, job.Name, job.Type, job.Kind, job.Terminal, job.Burst, record, typeHash)
		if err != nil {
			return nil, fmt.Errorf("record run: insert job %s: %w", job.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("record run: commit: %w", err)
	}
	return run, nil
}

// DeleteRun removes a run with its diagnostics and job records.
// Deleting an unknown run returns ErrRunNotFound.
func (s *Store) DeleteRun(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("delete run %s: %w", id, ErrRunNotFound)
	}
	return nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
