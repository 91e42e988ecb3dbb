package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/jobweave/internal/config"
	"github.com/roach88/jobweave/internal/store"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string // explicit jobweave.yaml; must exist when set
	Workers    int    // overrides pass.workers when > 0
	Database   string // overrides store.path
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the jobweave CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "jobweave",
		Short: "jobweave - rewrite entity iteration chains into jobs",
		Long: `jobweave finds Entities...ForEach(lambda).Schedule() chains in a compiled
module and rewrites each into a synthesized job record value type.

A module is all-or-nothing: if any chain reports an error the module is
discarded and only diagnostics are written.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			if opts.Workers < 0 {
				return NewExitError(ExitCommandError, fmt.Sprintf("--workers must be >= 0, got %d", opts.Workers))
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output and debug logging")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "configuration file (default: jobweave.yaml next to the module)")
	cmd.PersistentFlags().IntVar(&opts.Workers, "workers", 0, "methods analysed concurrently (overrides pass.workers)")
	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "run history database (overrides store.path)")

	cmd.AddCommand(NewRewriteCommand(opts))
	cmd.AddCommand(NewCheckCommand(opts))
	cmd.AddCommand(NewDisasmCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))
	cmd.AddCommand(NewHistoryCommand(opts))
	cmd.AddCommand(NewReplayCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}

// formatter builds the output formatter for a command.
func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

// Logger returns the logger handed to the pass. Verbose runs log at debug
// level; otherwise only warnings reach w.
func (o *RootOptions) Logger(w io.Writer) *slog.Logger {
	level := slog.LevelWarn
	if o.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// LoadConfig resolves the configuration for a module. An explicit --config
// must exist; otherwise jobweave.yaml next to the module (or in the working
// directory) is used when present.
func (o *RootOptions) LoadConfig(modulePath string) (config.Config, error) {
	path := o.ConfigPath
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return config.Config{}, fmt.Errorf("config file: %w", err)
		}
	} else if modulePath != "" {
		path = filepath.Join(filepath.Dir(modulePath), config.DefaultFile)
	} else {
		path = config.DefaultFile
	}

	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}
	if o.Workers > 0 {
		cfg.Pass.Workers = o.Workers
	}
	return cfg, nil
}

// DatabasePath returns the history database, or "" when history is off.
func (o *RootOptions) DatabasePath(cfg config.Config) string {
	if o.Database != "" {
		return o.Database
	}
	return cfg.Store.Path
}

// openStore opens the history database named by --db or the config.
func (o *RootOptions) openStore(cfg config.Config) (*store.Store, error) {
	path := o.DatabasePath(cfg)
	if path == "" {
		return nil, NewExitError(ExitCommandError, "no history database: pass --db or set store.path")
	}
	st, err := store.Open(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return st, nil
}
