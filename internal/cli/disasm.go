package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/jobweave/internal/ir"
	"github.com/roach88/jobweave/internal/rewrite"
)

// DisasmOptions holds flags for the disasm command.
type DisasmOptions struct {
	*RootOptions
	Rewritten bool   // disassemble the pass output instead of the input
	Type      string // only this type
}

// Disassembly is the JSON payload of the disasm command.
type Disassembly struct {
	Module string `json:"module"`
	Hash   string `json:"hash"`
	Text   string `json:"text"`
}

// NewDisasmCommand creates the disasm command.
func NewDisasmCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DisasmOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "disasm <module>",
		Short: "Print a module as text",
		Long: `Print the types and instruction bodies of a module.

With --rewritten the pass runs first and its output is printed; the
command fails if the pass discards the module.

Examples:
  jobweave disasm ./Game.cue
  jobweave disasm ./Game.cue --rewritten --type "Game.MoveSystem/OnUpdate_Job0"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDisasm(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Rewritten, "rewritten", false, "disassemble the rewritten module")
	cmd.Flags().StringVar(&opts.Type, "type", "", "disassemble a single type")

	return cmd
}

func runDisasm(opts *DisasmOptions, path string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	mod, cfg, err := loadForPass(opts.RootOptions, path, formatter)
	if err != nil {
		return err
	}

	if opts.Rewritten {
		res, err := rewrite.Run(cmd.Context(), mod, rewrite.Options{Config: cfg, Logger: opts.Logger(cmd.ErrOrStderr())})
		if err != nil {
			return WrapExitError(ExitCommandError, "rewrite failed", err)
		}
		if res.HasErrors() {
			summary, err := summarize(path, mod, res)
			if err != nil {
				return WrapExitError(ExitCommandError, "hashing module", err)
			}
			return outputRewriteFailure(formatter, summary)
		}
		mod = res.Module
	}

	var text string
	if opts.Type != "" {
		t := mod.Lookup(opts.Type)
		if t == nil {
			msg := fmt.Sprintf("type %q not found in %s", opts.Type, mod.Name)
			_ = formatter.Error(ErrCodeNotFound, msg, nil)
			return NewExitError(ExitCommandError, msg)
		}
		text = ir.DisassembleType(t)
	} else {
		text = ir.Disassemble(mod)
	}

	if formatter.JSON() {
		hash, err := ir.ModuleHash(mod)
		if err != nil {
			return WrapExitError(ExitCommandError, "hashing module", err)
		}
		return formatter.Success(Disassembly{Module: mod.Name, Hash: hash, Text: text})
	}
	fmt.Fprint(formatter.Writer, text)
	return nil
}
