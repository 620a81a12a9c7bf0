package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/kern/internal/bytecode"
	"github.com/roach88/kern/internal/ir"
	"github.com/roach88/kern/internal/vm"
)

// ExecOptions holds flags for the exec command.
type ExecOptions struct {
	*RootOptions
	Config string
	Vars   []string
	Trace  int
}

// ExecOutput is the result of executing one program.
type ExecOutput struct {
	Program   string                `json:"program"`
	Status    string                `json:"status"`
	Steps     int64                 `json:"steps"`
	PC        int                   `json:"pc"`
	ERR       uint16                `json:"err"`
	FLAG      int64                 `json:"flag"`
	Registers []int64               `json:"registers"`
	Vars      ir.Object             `json:"vars"`
	Fault     string                `json:"fault,omitempty"`
	Trace     []vm.InstructionEvent `json:"trace,omitempty"`
}

// NewExecCommand creates the exec command.
func NewExecCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExecOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "exec <program.kasm|program.kbc>",
		Short: "Execute a bytecode program on the VM",
		Long: `Execute one program on a fresh VM and print its registers and variables.

Files ending in .kbc are decoded as bytecode modules; anything else is
assembled from source first. Memory, execution and sandbox limits come
from --config.

Exit codes:
  0 - The program halted or returned
  1 - The program faulted
  2 - Command error (unreadable file, assembly error, bad configuration)

Examples:
  kern exec ./add.kasm
  kern exec --var n=41 --trace 32 ./inc.kasm
  kern exec --config kern.yaml --format json ./prog.kbc`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExec(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Config, "config", "", "path to YAML configuration")
	cmd.Flags().StringArrayVar(&opts.Vars, "var", nil, "set a variable (name=value, repeatable)")
	cmd.Flags().IntVar(&opts.Trace, "trace", 0, "keep the last N executed instructions")

	return cmd
}

func runExec(opts *ExecOptions, path string, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	prog, err := readProgram(path)
	if err != nil {
		return f.Fail(ExitCommandError, "failed to load program", err)
	}
	vars, err := parseVars(opts.Vars)
	if err != nil {
		return f.FailCode(ExitCommandError, ErrCodeVariable, "invalid variables", err)
	}
	cfg, err := loadConfig(opts.Config)
	if err != nil {
		return f.FailCode(ExitCommandError, ErrCodeConfig, "failed to load configuration", err)
	}
	if opts.Trace > 0 {
		cfg.Engine.TraceInstructions = opts.Trace
	}

	machine := vm.New(cfg.VMOptions()...)
	for _, k := range vars.SortedKeys() {
		machine.SetVar(k, vars[k])
	}
	f.VerboseLog("Executing %s: %d instruction(s)", path, prog.Len())

	res, execErr := machine.Run(cmd.Context(), prog)

	active := machine.Active()
	out := ExecOutput{
		Program:   path,
		Status:    res.Status.String(),
		Steps:     res.Steps,
		PC:        res.PC,
		ERR:       active.ERR,
		FLAG:      active.FLAG,
		Registers: active.R[:],
		Vars:      machine.Vars(),
		Trace:     machine.Trace(),
	}
	if execErr != nil {
		out.Fault = execErr.Error()
	}

	if f.JSON() {
		resp := CLIResponse{Status: "ok", Data: out}
		if execErr != nil {
			resp.Status = "error"
			resp.Error = &CLIError{Code: ErrorCode(execErr), Message: execErr.Error()}
		}
		if err := f.Response(resp); err != nil {
			return err
		}
	} else {
		writeExecText(f.Writer, out)
	}

	if execErr != nil {
		return WrapExitError(ExitFailure, "program faulted", execErr)
	}
	return nil
}

// readProgram decodes a .kbc module or assembles source.
func readProgram(path string) (*bytecode.Program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(filepath.Ext(path), ".kbc") {
		prog := &bytecode.Program{}
		if err := prog.UnmarshalBinary(data); err != nil {
			return nil, err
		}
		prog.Name = filepath.Base(path)
		return prog, nil
	}
	prog, err := bytecode.Assemble(string(data))
	if err != nil {
		return nil, err
	}
	prog.Name = filepath.Base(path)
	return prog, nil
}

func writeExecText(w io.Writer, out ExecOutput) {
	if out.Fault != "" {
		fmt.Fprintf(w, "✗ %s faulted after %d step(s) at pc %d\n", out.Program, out.Steps, out.PC)
		fmt.Fprintf(w, "  %s\n", out.Fault)
	} else {
		fmt.Fprintf(w, "✓ %s %s after %d step(s)\n", out.Program, out.Status, out.Steps)
	}
	fmt.Fprintf(w, "  ERR=%d FLAG=%d\n", out.ERR, out.FLAG)

	fmt.Fprintln(w, "Registers:")
	for i, r := range out.Registers {
		if r != 0 {
			fmt.Fprintf(w, "  R%-2d = %d\n", i, r)
		}
	}
	if len(out.Vars) > 0 {
		fmt.Fprintln(w, "Variables:")
		for _, k := range out.Vars.SortedKeys() {
			fmt.Fprintf(w, "  %s = %s\n", k, ir.Format(out.Vars[k]))
		}
	}
	if len(out.Trace) > 0 {
		fmt.Fprintln(w, "Trace:")
		for _, ev := range out.Trace {
			fmt.Fprintf(w, "  %6d  pc=%-4d %s\n", ev.Step, ev.PC, ev.Text)
		}
	}
}
