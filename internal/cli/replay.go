package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/jobweave/internal/store"
)

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay <run-id> [module]",
		Short: "Re-run a recorded pass and verify determinism",
		Long: `Run the pass again over a module with the configuration recorded for a
run, and compare diagnostics, job records and the output hash.

The module defaults to the source path recorded with the run.

Exit codes:
  0 - The replay matches the recorded run
  1 - Determinism verification failed (differences detected)
  2 - Command error (database or run not found, unreadable module)

Examples:
  jobweave replay 0192f3c4-... --db ./jobweave.db
  jobweave replay 0192f3c4-... ./Game.cue --db ./jobweave.db --format json`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			module := ""
			if len(args) == 2 {
				module = args[1]
			}
			return runReplay(rootOpts, args[0], module, cmd)
		},
	}
	return cmd
}

func runReplay(opts *RootOptions, id, modulePath string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	ctx := cmd.Context()

	cfg, err := opts.LoadConfig("")
	if err != nil {
		return WrapExitError(ExitCommandError, "loading config", err)
	}
	st, err := opts.openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	run, err := st.GetRun(ctx, id)
	if errors.Is(err, store.ErrRunNotFound) {
		_ = formatter.Error(ErrCodeNotFound, fmt.Sprintf("run %s not found", id), nil)
		return WrapExitError(ExitCommandError, "run not found", err)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "reading run", err)
	}
	if modulePath == "" {
		modulePath = run.Source
	}
	if modulePath == "" {
		return NewExitError(ExitCommandError, fmt.Sprintf("run %s recorded no source; pass the module path", id))
	}

	mod, errs := LoadModule(modulePath, LoadModeFailFast)
	if mod == nil || len(errs) > 0 {
		code, msg := errorCode(errs[0])
		_ = formatter.Error(code, msg, nil)
		return WrapExitError(ExitCommandError, "loading module", errs[0])
	}
	formatter.VerboseLog("Replaying run %s over %s", id, modulePath)

	report, err := st.Replay(ctx, id, mod, opts.Logger(cmd.ErrOrStderr()))
	if err != nil {
		return WrapExitError(ExitCommandError, "replay failed", err)
	}

	if formatter.JSON() {
		status := "ok"
		if !report.Deterministic() {
			status = "error"
		}
		if err := formatter.encode(CLIResponse{Status: status, Data: report, RunID: report.RunID}); err != nil {
			return err
		}
	} else {
		outputReplayText(formatter, report)
	}

	if !report.Deterministic() {
		return NewExitError(ExitFailure, fmt.Sprintf("replay of run %s diverged", id))
	}
	return nil
}

func outputReplayText(formatter *OutputFormatter, report *store.ReplayReport) {
	w := formatter.Writer
	if report.Deterministic() {
		fmt.Fprintf(w, "✓ Run %s replays deterministically\n", report.RunID)
		return
	}
	fmt.Fprintf(w, "✗ Run %s diverged\n", report.RunID)
	if !report.InputMatch {
		fmt.Fprintln(w, "  (the module differs from the recorded input)")
	}
	for _, d := range report.Differences {
		fmt.Fprintf(w, "  %s\n", d)
	}
}
