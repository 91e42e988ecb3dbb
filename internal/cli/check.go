package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/jobweave/internal/compiler"
	"github.com/roach88/jobweave/internal/diag"
	"github.com/roach88/jobweave/internal/rewrite"
)

// CheckResult holds the outcome of a dry run.
type CheckResult struct {
	Module      string                  `json:"module"`
	Valid       bool                    `json:"valid"`
	Errors      []CLIError              `json:"errors,omitempty"`
	Recursion   []compiler.CycleWarning `json:"recursion,omitempty"`
	Chains      int                     `json:"chains"`
	Jobs        int                     `json:"jobs"`
	Diagnostics []diag.Diagnostic       `json:"diagnostics,omitempty"`
}

// NewCheckCommand creates the check command.
func NewCheckCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check <module>",
		Short: "Validate a module and dry-run the pass",
		Long: `Validate a module's structure, report recursive helper methods, and run
the rewriting pass without writing anything.

Exit codes:
  0 - Module is valid and would be rewritten
  1 - Validation or pass errors
  2 - Command error (unreadable module, bad config)`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runCheck(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	mod, errs := LoadModule(path, LoadModeCollectAll)
	if mod == nil {
		code, msg := errorCode(errs[0])
		_ = formatter.Error(code, msg, nil)
		return WrapExitError(ExitCommandError, "loading module", errs[0])
	}

	result := CheckResult{Module: mod.Name, Valid: len(errs) == 0}
	for _, err := range errs {
		code, msg := errorCode(err)
		result.Errors = append(result.Errors, CLIError{Code: code, Message: msg})
	}
	result.Recursion = compiler.AnalyzeCycles(mod)

	// The pass assumes a structurally valid module.
	if result.Valid {
		cfg, err := opts.LoadConfig(path)
		if err != nil {
			_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
			return WrapExitError(ExitCommandError, "loading config", err)
		}
		res, err := rewrite.Run(cmd.Context(), mod, rewrite.Options{Config: cfg, Logger: opts.Logger(cmd.ErrOrStderr())})
		if err != nil {
			return WrapExitError(ExitCommandError, "rewrite failed", err)
		}
		result.Chains = res.Chains
		result.Jobs = len(res.Jobs)
		result.Diagnostics = res.Diagnostics
		result.Valid = !res.HasErrors()
	}

	if formatter.JSON() {
		status := "ok"
		if !result.Valid {
			status = "error"
		}
		if err := formatter.encode(CLIResponse{Status: status, Data: result}); err != nil {
			return err
		}
	} else {
		outputCheckText(formatter, result)
	}

	if !result.Valid {
		return NewExitError(ExitFailure, fmt.Sprintf("%s has errors", result.Module))
	}
	return nil
}

func outputCheckText(formatter *OutputFormatter, r CheckResult) {
	w := formatter.Writer
	if r.Valid {
		fmt.Fprintf(w, "✓ %s: %d chain(s), %d job(s)\n", r.Module, r.Chains, r.Jobs)
	} else {
		fmt.Fprintf(w, "✗ %s has errors\n", r.Module)
	}
	for _, e := range r.Errors {
		fmt.Fprintf(w, "  %s: %s\n", e.Code, e.Message)
	}
	formatter.Diagnostics(r.Diagnostics)
	for _, c := range r.Recursion {
		fmt.Fprintf(w, "warning: %s\n", c.Message)
	}
}
