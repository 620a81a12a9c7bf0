package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/kern/internal/compiler"
	"github.com/roach88/kern/internal/engine"
	"github.com/roach88/kern/internal/ir"
	"github.com/roach88/kern/internal/metrics"
	"github.com/roach88/kern/internal/store"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Config     string
	Database   string
	Vars       []string
	Cycles     int
	Refraction bool
	Metrics    string

	// RunIDs allows overriding the run id generator (for testing).
	// If nil, the engine's UUIDv7 generator is used.
	RunIDs engine.RunIDGenerator
}

// RunOutput is the result of a run, in both output formats.
type RunOutput struct {
	RunID     string      `json:"run_id"`
	Cycles    int64       `json:"cycles"`
	Firings   int64       `json:"firings"`
	Fixpoint  bool        `json:"fixpoint"`
	Halt      *HaltOutput `json:"halt,omitempty"`
	StateHash string      `json:"state_hash"`
	TraceHash string      `json:"trace_hash"`
	Vars      ir.Object   `json:"vars"`
}

// HaltOutput describes why a run halted.
type HaltOutput struct {
	Reason  string        `json:"reason"`
	Class   ir.ErrorClass `json:"class"`
	RuleID  ir.RuleID     `json:"rule_id,omitempty"`
	PC      int           `json:"pc"`
	Cycle   int64         `json:"cycle"`
	Message string        `json:"message"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	return newRunCommand(&RunOptions{RootOptions: rootOpts})
}

func newRunCommand(opts *RunOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <rules-dir>",
		Short: "Run a rule set to fixpoint",
		Long: `Load a CUE rule set, seed its variables and run the engine until no rule
matches (fixpoint), a rule halts the run, or the cycle bound is reached.

With --db every cycle is recorded, so the run can later be inspected with
"kern trace" and re-executed with "kern replay".

Exit codes:
  0 - Fixpoint reached, or the --cycles bound was hit
  1 - The run halted
  2 - Command error (bad rule set, configuration or flags)

Examples:
  kern run ./rules
  kern run --db ./kern.db --var n=0 --var mode=fast ./rules
  kern run --config kern.yaml --cycles 10 --format json ./rules
  kern run --metrics metrics.prom ./rules`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEngine(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Config, "config", "", "path to YAML configuration")
	cmd.Flags().StringVar(&opts.Database, "db", "", "record the run in this SQLite database")
	cmd.Flags().StringArrayVar(&opts.Vars, "var", nil, "set a variable (name=value, repeatable)")
	cmd.Flags().IntVar(&opts.Cycles, "cycles", 0, "stop after this many cycles (0 = no bound)")
	cmd.Flags().BoolVar(&opts.Refraction, "refraction", false, "enable refraction (overrides configuration)")
	cmd.Flags().StringVar(&opts.Metrics, "metrics", "", "write Prometheus metrics to this file (- for stderr)")

	return cmd
}

func runEngine(opts *RunOptions, rulesDir string, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	if opts.Cycles < 0 {
		return f.FailCode(ExitCommandError, compiler.ErrCodeGeneric, "invalid --cycles",
			fmt.Errorf("must be >= 0, got %d", opts.Cycles))
	}
	overrides, err := parseVars(opts.Vars)
	if err != nil {
		return f.FailCode(ExitCommandError, ErrCodeVariable, "invalid variables", err)
	}

	cfg, err := loadConfig(opts.Config)
	if err != nil {
		return f.FailCode(ExitCommandError, ErrCodeConfig, "failed to load configuration", err)
	}
	if cmd.Flags().Changed("refraction") {
		cfg.Engine.Refraction = opts.Refraction
	}

	rs, err := loadRuleSet(rulesDir)
	if err != nil {
		return f.Fail(ExitCommandError, "failed to load rules", err)
	}
	f.VerboseLog("Loaded %d rule(s) from %s", len(rs.Rules), rulesDir)

	setup := engineSetup{cfg: cfg, ruleSet: rs, runIDs: opts.RunIDs}
	if opts.Database != "" {
		st, err := store.Open(opts.Database)
		if err != nil {
			return f.FailCode(ExitCommandError, ErrCodeDatabase, "failed to open database", err)
		}
		defer func() {
			if closeErr := st.Close(); closeErr != nil {
				slog.Error("error closing database", "error", closeErr)
			}
		}()
		setup.sink = st
	}
	if opts.Metrics != "" {
		setup.recorder = metrics.NewCollector("")
	}

	e, err := setup.build(overrides)
	if err != nil {
		return f.Fail(ExitCommandError, "failed to build engine", err)
	}

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	res, err := execute(ctx, e, opts.Cycles)
	if err != nil && res.Halt == nil {
		return f.Fail(ExitFailure, "run failed", err)
	}

	if setup.recorder != nil {
		if werr := writeMetrics(setup.recorder, opts.Metrics, cmd.ErrOrStderr()); werr != nil {
			return f.FailCode(ExitCommandError, compiler.ErrCodeGeneric, "failed to write metrics", werr)
		}
	}

	out := runOutput(res, e.Vars())
	if f.JSON() {
		resp := CLIResponse{Status: "ok", Data: out, RunID: out.RunID}
		if out.Halt != nil {
			resp.Status = "error"
			resp.Error = &CLIError{Code: ErrCodeHalt, Message: out.Halt.Message}
		}
		if err := f.Response(resp); err != nil {
			return err
		}
	} else {
		writeRunText(f.Writer, out)
	}

	if out.Halt != nil {
		return WrapExitError(ExitFailure, "run halted", res.Halt)
	}
	return nil
}

// execute runs to fixpoint or halt, or steps at most cycles cycles.
func execute(ctx context.Context, e *engine.Engine, cycles int) (engine.RunResult, error) {
	if cycles == 0 {
		return e.Run(ctx)
	}
	for range cycles {
		c, err := e.Step(ctx)
		if err != nil {
			res := snapshot(e)
			res.Halt, _ = engine.AsHalt(err)
			return res, err
		}
		if c.Fixpoint {
			res := snapshot(e)
			res.Fixpoint = true
			return res, nil
		}
	}
	return snapshot(e), nil
}

// snapshot reports a step-driven run that has not necessarily finished.
func snapshot(e *engine.Engine) engine.RunResult {
	res := engine.RunResult{RunID: e.RunID(), Cycles: e.Cycle()}
	trace := e.Trace()
	for _, ev := range trace {
		if ev.Kind == engine.TraceFired {
			res.Firings++
		}
	}
	res.StateHash, _ = e.StateHash()
	res.TraceHash, _ = engine.TraceHash(trace)
	return res
}

func runOutput(res engine.RunResult, vars ir.Object) RunOutput {
	out := RunOutput{
		RunID:     res.RunID,
		Cycles:    res.Cycles,
		Firings:   res.Firings,
		Fixpoint:  res.Fixpoint,
		StateHash: res.StateHash,
		TraceHash: res.TraceHash,
		Vars:      vars,
	}
	if h := res.Halt; h != nil {
		out.Halt = &HaltOutput{
			Reason:  h.Reason,
			Class:   h.Class,
			RuleID:  h.RuleID,
			PC:      h.PC,
			Cycle:   h.Cycle,
			Message: h.Error(),
		}
	}
	return out
}

func writeRunText(w io.Writer, out RunOutput) {
	switch {
	case out.Halt != nil:
		fmt.Fprintf(w, "✗ Run %s halted in cycle %d: %s (%s)\n", out.RunID, out.Halt.Cycle, out.Halt.Reason, out.Halt.Class)
		if out.Halt.RuleID != 0 {
			fmt.Fprintf(w, "  rule: %d\n", out.Halt.RuleID)
		}
		if out.Halt.PC >= 0 {
			fmt.Fprintf(w, "  pc:   %d\n", out.Halt.PC)
		}
	case out.Fixpoint:
		fmt.Fprintf(w, "✓ Run %s reached fixpoint after %d cycle(s)\n", out.RunID, out.Cycles)
	default:
		fmt.Fprintf(w, "Run %s stopped after %d cycle(s) without fixpoint\n", out.RunID, out.Cycles)
	}
	fmt.Fprintf(w, "  firings: %d\n", out.Firings)
	fmt.Fprintf(w, "  state:   %s\n", out.StateHash)
	fmt.Fprintf(w, "  trace:   %s\n", out.TraceHash)

	if len(out.Vars) > 0 {
		fmt.Fprintln(w, "Variables:")
		for _, k := range out.Vars.SortedKeys() {
			fmt.Fprintf(w, "  %s = %s\n", k, ir.Format(out.Vars[k]))
		}
	}
}

// writeMetrics writes the collector in Prometheus text format to path,
// or to stderr for "-".
func writeMetrics(c *metrics.Collector, path string, stderr io.Writer) error {
	if path == "-" {
		return c.WriteText(stderr)
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := c.WriteText(file); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// signalContext derives a context cancelled on SIGINT or SIGTERM.
// Cancellation is observed between cycles.
func signalContext(parent context.Context) (context.Context, func()) {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	return ctx, stop
}
