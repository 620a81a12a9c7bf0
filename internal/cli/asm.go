package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/kern/internal/bytecode"
)

// AsmOptions holds flags for the asm command.
type AsmOptions struct {
	*RootOptions
	Output string
}

// AsmOutput describes a written bytecode module.
type AsmOutput struct {
	Source       string `json:"source"`
	Output       string `json:"output"`
	Instructions int    `json:"instructions"`
	Constants    int    `json:"constants"`
	Symbols      int    `json:"symbols"`
	Bytes        int    `json:"bytes"`
}

// NewAsmCommand creates the asm command.
func NewAsmCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AsmOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "asm <program.kasm>",
		Short: "Assemble a program into a bytecode module",
		Long: `Assemble KERN assembly into a binary module that "kern exec" can load.

The output defaults to the source path with a .kbc extension.

Exit codes:
  0 - Module written
  2 - Command error (unreadable source, assembly error, write failure)

Examples:
  kern asm ./inc.kasm
  kern asm -o build/inc.kbc ./inc.kasm`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAsm(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "output path (default: <source>.kbc)")

	return cmd
}

func runAsm(opts *AsmOptions, src string, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	data, err := os.ReadFile(src)
	if err != nil {
		return f.Fail(ExitCommandError, "failed to read source", err)
	}
	prog, err := bytecode.Assemble(string(data))
	if err != nil {
		return f.FailCode(ExitCommandError, ErrCodeAssemble, "assembly failed", err)
	}
	bin, err := prog.MarshalBinary()
	if err != nil {
		return f.FailCode(ExitCommandError, ErrCodeAssemble, "encoding failed", err)
	}

	dst := opts.Output
	if dst == "" {
		dst = strings.TrimSuffix(src, filepath.Ext(src)) + ".kbc"
	}
	if err := os.WriteFile(dst, bin, 0o644); err != nil {
		return f.Fail(ExitCommandError, "failed to write module", err)
	}

	out := AsmOutput{
		Source:       src,
		Output:       dst,
		Instructions: prog.Len(),
		Constants:    len(prog.Consts),
		Symbols:      len(prog.Symbols),
		Bytes:        len(bin),
	}
	if f.JSON() {
		return f.Success(out)
	}
	fmt.Fprintf(f.Writer, "✓ Wrote %s (%d instruction(s), %d byte(s))\n", dst, out.Instructions, out.Bytes)
	return nil
}
