package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/jobweave/internal/config"
	"github.com/roach88/jobweave/internal/diag"
	"github.com/roach88/jobweave/internal/ir"
	"github.com/roach88/jobweave/internal/rewrite"
	"github.com/roach88/jobweave/internal/store"
)

// RewriteOptions holds flags for the rewrite command.
type RewriteOptions struct {
	*RootOptions
	Output string // rewritten module path (JSON)
}

// RewriteSummary is the outcome of one pass over one module.
type RewriteSummary struct {
	Module           string               `json:"module"`
	Source           string               `json:"source"`
	Emitted          bool                 `json:"emitted"`
	AlreadyRewritten bool                 `json:"already_rewritten,omitempty"`
	Chains           int                  `json:"chains"`
	Jobs             []*rewrite.JobRecord `json:"jobs"`
	Diagnostics      []diag.Diagnostic    `json:"diagnostics"`
	InputHash        string               `json:"input_hash"`
	OutputHash       string               `json:"output_hash,omitempty"`
	Output           string               `json:"output,omitempty"`
	RunID            string               `json:"run_id,omitempty"`
}

// NewRewriteCommand creates the rewrite command.
func NewRewriteCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RewriteOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "rewrite <module>",
		Short: "Rewrite scheduling chains into job records",
		Long: `Run the rewriting pass over a .cue or .json module.

Every recognised chain is replaced by a synthesized job record. When any
chain reports an error the module is discarded and nothing is written.
Runs are recorded when --db or store.path is set.

Exit codes:
  0 - Module rewritten (or already rewritten)
  1 - Module invalid or the pass reported errors
  2 - Command error (unreadable module, bad config, write failure)

Examples:
  jobweave rewrite ./Game.cue -o ./Game.rewritten.json
  jobweave rewrite ./Game.json --db ./jobweave.db --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRewrite(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "write the rewritten module to this file")

	return cmd
}

func runRewrite(opts *RewriteOptions, path string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	ctx := cmd.Context()

	mod, cfg, err := loadForPass(opts.RootOptions, path, formatter)
	if err != nil {
		return err
	}

	res, err := rewrite.Run(ctx, mod, rewrite.Options{Config: cfg, Logger: opts.Logger(cmd.ErrOrStderr())})
	if err != nil {
		return WrapExitError(ExitCommandError, "rewrite failed", err)
	}

	summary, err := summarize(path, mod, res)
	if err != nil {
		return WrapExitError(ExitCommandError, "hashing module", err)
	}

	if dbPath := opts.DatabasePath(cfg); dbPath != "" {
		runID, err := recordRun(ctx, opts.RootOptions, cfg, store.RunInput{Source: path, Input: mod, Result: res, Config: cfg})
		if err != nil {
			return err
		}
		summary.RunID = runID
		formatter.VerboseLog("Recorded run %s in %s", runID, dbPath)
	}

	if res.HasErrors() {
		return outputRewriteFailure(formatter, summary)
	}

	if opts.Output != "" && !res.AlreadyRewritten {
		if err := writeModule(res.Module, opts.Output); err != nil {
			_ = formatter.Error(ErrCodeWriteFailed, err.Error(), nil)
			return WrapExitError(ExitCommandError, "writing output file", err)
		}
		summary.Output = opts.Output
	}

	return outputRewriteSuccess(formatter, summary)
}

// loadForPass loads, validates and configures a module. Errors are
// already written to the formatter.
func loadForPass(opts *RootOptions, path string, formatter *OutputFormatter) (*ir.Module, config.Config, error) {
	mod, errs := LoadModule(path, LoadModeCollectAll)
	if mod == nil {
		code, msg := errorCode(errs[0])
		_ = formatter.Error(code, msg, nil)
		return nil, config.Config{}, WrapExitError(ExitCommandError, "loading module", errs[0])
	}
	if len(errs) > 0 {
		if err := outputLoadErrors(formatter, errs); err != nil {
			return nil, config.Config{}, err
		}
		return nil, config.Config{}, NewExitError(ExitFailure, fmt.Sprintf("module is invalid: %d error(s)", len(errs)))
	}
	formatter.VerboseLog("Loaded module %s (%d types) from %s", mod.Name, len(mod.Types), path)

	cfg, err := opts.LoadConfig(path)
	if err != nil {
		_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
		return nil, config.Config{}, WrapExitError(ExitCommandError, "loading config", err)
	}
	return mod, cfg, nil
}

func summarize(path string, mod *ir.Module, res *rewrite.Result) (*RewriteSummary, error) {
	inputHash, err := ir.ModuleHash(mod)
	if err != nil {
		return nil, err
	}
	s := &RewriteSummary{
		Module:           mod.Name,
		Source:           path,
		Emitted:          res.Module != nil,
		AlreadyRewritten: res.AlreadyRewritten,
		Chains:           res.Chains,
		Jobs:             res.Jobs,
		Diagnostics:      res.Diagnostics,
		InputHash:        inputHash,
	}
	if s.Jobs == nil {
		s.Jobs = []*rewrite.JobRecord{}
	}
	if s.Diagnostics == nil {
		s.Diagnostics = []diag.Diagnostic{}
	}
	if res.Module != nil {
		if s.OutputHash, err = ir.ModuleHash(res.Module); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func recordRun(ctx context.Context, opts *RootOptions, cfg config.Config, in store.RunInput) (string, error) {
	st, err := opts.openStore(cfg)
	if err != nil {
		return "", err
	}
	defer st.Close()

	run, err := st.RecordRun(ctx, in)
	if err != nil {
		return "", WrapExitError(ExitCommandError, "recording run", err)
	}
	return run.ID, nil
}

// writeModule writes a module as indented JSON, loadable by the compiler.
func writeModule(mod *ir.Module, filename string) error {
	data, err := json.MarshalIndent(mod, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling module: %w", err)
	}
	if err := os.WriteFile(filename, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("writing file: %w", err)
	}
	return nil
}

func outputRewriteSuccess(formatter *OutputFormatter, s *RewriteSummary) error {
	if formatter.JSON() {
		return formatter.encode(CLIResponse{Status: "ok", Data: s, RunID: s.RunID})
	}

	w := formatter.Writer
	if s.AlreadyRewritten {
		fmt.Fprintf(w, "✓ %s is already rewritten; nothing to do\n", s.Module)
	} else {
		fmt.Fprintf(w, "✓ Rewrote %s: %d chain(s), %d job(s)\n", s.Module, s.Chains, len(s.Jobs))
	}
	for _, j := range s.Jobs {
		fmt.Fprintf(w, "  %s\n", describeJob(j))
	}
	formatter.Diagnostics(s.Diagnostics)
	if s.Output != "" {
		fmt.Fprintf(w, "Wrote rewritten module to %s\n", s.Output)
	}
	if s.RunID != "" {
		fmt.Fprintf(w, "Recorded run %s\n", s.RunID)
	}
	return nil
}

func outputRewriteFailure(formatter *OutputFormatter, s *RewriteSummary) error {
	errCount := 0
	var first diag.Diagnostic
	for _, d := range s.Diagnostics {
		if d.IsError() {
			if errCount == 0 {
				first = d
			}
			errCount++
		}
	}

	if formatter.JSON() {
		if err := formatter.encode(CLIResponse{
			Status: "error",
			Data:   s,
			Error:  &CLIError{Code: first.Code, Message: first.Message},
			RunID:  s.RunID,
		}); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(formatter.Writer, "✗ %s: %d error(s); module discarded\n\n", s.Module, errCount)
		formatter.Diagnostics(s.Diagnostics)
		if s.RunID != "" {
			fmt.Fprintf(formatter.Writer, "Recorded run %s\n", s.RunID)
		}
	}
	return NewExitError(ExitFailure, fmt.Sprintf("pass reported %d error(s)", errCount))
}

// outputLoadErrors writes module validation errors.
func outputLoadErrors(formatter *OutputFormatter, errs []error) error {
	cliErrors := make([]CLIError, len(errs))
	for i, err := range errs {
		code, message := errorCode(err)
		cliErrors[i] = CLIError{Code: code, Message: message}
	}

	if formatter.JSON() {
		return formatter.encode(CLIResponse{
			Status: "error",
			Error:  &cliErrors[0],
			Data:   cliErrors,
		})
	}

	fmt.Fprintln(formatter.Writer, "✗ Module is invalid")
	fmt.Fprintln(formatter.Writer)
	for _, err := range errs {
		fmt.Fprintf(formatter.Writer, "  %v\n", err)
	}
	return nil
}

func describeJob(j *rewrite.JobRecord) string {
	s := fmt.Sprintf("%s (%s, %s", j.Type, j.Kind, j.Terminal)
	if j.Burst {
		s += ", burst"
	}
	s += ")"
	if len(j.Fields) > 0 {
		s += fmt.Sprintf(" fields: %v", j.Fields)
	}
	return s
}
