package cli

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/jobweave/internal/store"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Limit int
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "List recorded runs",
		Long: `List recorded rewrite runs, newest first, or show one run with its
diagnostics and job records.

Examples:
  jobweave history --db ./jobweave.db
  jobweave history --db ./jobweave.db --limit 5 --format json
  jobweave history 0192f3c4-... --db ./jobweave.db`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				return runShowRun(opts, args[0], cmd)
			}
			return runListRuns(opts, cmd)
		},
	}

	cmd.Flags().IntVar(&opts.Limit, "limit", 20, "maximum number of runs to list (0 for all)")

	return cmd
}

func runListRuns(opts *HistoryOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	cfg, err := opts.LoadConfig("")
	if err != nil {
		return WrapExitError(ExitCommandError, "loading config", err)
	}
	st, err := opts.openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	runs, err := st.ListRuns(cmd.Context(), opts.Limit)
	if err != nil {
		return WrapExitError(ExitCommandError, "listing runs", err)
	}

	if formatter.JSON() {
		return formatter.Success(runs)
	}
	if len(runs) == 0 {
		fmt.Fprintln(formatter.Writer, "No runs recorded.")
		return nil
	}

	tw := tabwriter.NewWriter(formatter.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tID\tMODULE\tCHAINS\tJOBS\tERRORS\tOUTPUT\tSTARTED")
	for _, r := range runs {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%d\t%d\t%s\t%s\n",
			r.Seq, r.ID, r.ModuleName, r.Chains, r.Jobs, r.Errors, outcome(r), r.StartedAt.Format(time.RFC3339))
	}
	return tw.Flush()
}

func runShowRun(opts *HistoryOptions, id string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	cfg, err := opts.LoadConfig("")
	if err != nil {
		return WrapExitError(ExitCommandError, "loading config", err)
	}
	st, err := opts.openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	run, err := st.GetRun(cmd.Context(), id)
	if errors.Is(err, store.ErrRunNotFound) {
		_ = formatter.Error(ErrCodeNotFound, fmt.Sprintf("run %s not found", id), nil)
		return WrapExitError(ExitCommandError, "run not found", err)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "reading run", err)
	}

	if formatter.JSON() {
		return formatter.encode(CLIResponse{Status: "ok", Data: run, RunID: run.ID})
	}

	w := formatter.Writer
	fmt.Fprintf(w, "Run %s (#%d)\n", run.ID, run.Seq)
	fmt.Fprintf(w, "  module:   %s", run.ModuleName)
	if run.Source != "" {
		fmt.Fprintf(w, " (%s)", run.Source)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  started:  %s\n", run.StartedAt.Format(time.RFC3339))
	fmt.Fprintf(w, "  pass:     %s (ir %s)\n", run.PassVersion, run.IRVersion)
	fmt.Fprintf(w, "  input:    %s\n", run.InputHash)
	fmt.Fprintf(w, "  output:   %s\n", outcome(run))
	fmt.Fprintf(w, "  chains:   %d, jobs: %d, errors: %d, warnings: %d\n", run.Chains, run.Jobs, run.Errors, run.Warnings)
	if len(run.JobRecords) > 0 {
		fmt.Fprintln(w, "Jobs:")
		for _, j := range run.JobRecords {
			fmt.Fprintf(w, "  %s\n", describeJob(j))
		}
	}
	if len(run.Diagnostics) > 0 {
		fmt.Fprintln(w, "Diagnostics:")
		formatter.Diagnostics(run.Diagnostics)
	}
	return nil
}

func outcome(r *store.Run) string {
	switch {
	case r.AlreadyRewritten:
		return "already rewritten"
	case r.Emitted():
		return r.OutputHash
	default:
		return "discarded"
	}
}
