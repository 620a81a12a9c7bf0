package cli

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/kern/internal/engine"
	"github.com/roach88/kern/internal/store"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Database string
	Config   string
	RunID    string // optional - specific run only
}

// ReplayRunResult holds the replay result for a single run.
type ReplayRunResult struct {
	RunID      string             `json:"run_id"`
	Status     string             `json:"status"`
	Identical  bool               `json:"identical"`
	Cycles     int64              `json:"cycles"`
	Firings    int64              `json:"firings"`
	StateHash  string             `json:"state_hash"`
	TraceHash  string             `json:"trace_hash"`
	Divergence int64              `json:"divergence,omitempty"`
	Stored     *engine.TraceEvent `json:"stored,omitempty"`
	Got        *engine.TraceEvent `json:"got,omitempty"`
}

// ReplayOutput holds the overall replay result.
type ReplayOutput struct {
	Runs         []ReplayRunResult `json:"runs"`
	TotalRuns    int               `json:"total_runs"`
	AllIdentical bool              `json:"all_identical"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Re-execute recorded runs and verify determinism",
		Long: `Re-execute recorded runs in memory from their stored rule snapshot,
strategies and initial state, and compare the new trace and hashes with
the stored ones.

Without --run every run in the database is replayed. A run interrupted
before it finished replays to its natural end; only the stored prefix is
compared. Limits come from --config and should match the original run.

Exit codes:
  0 - Every replayed run is identical
  1 - At least one run diverged
  2 - Command error (database not found, unknown run, bad configuration)

Examples:
  kern replay --db ./kern.db
  kern replay --db ./kern.db --run 0190a8c4-...
  kern replay --db ./kern.db --config kern.yaml --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.RunID, "run", "", "replay specific run only")
	cmd.Flags().StringVar(&opts.Config, "config", "", "path to YAML configuration")

	return cmd
}

func runReplay(opts *ReplayOptions, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())
	ctx := cmd.Context()

	cfg, err := loadConfig(opts.Config)
	if err != nil {
		return f.FailCode(ExitCommandError, ErrCodeConfig, "failed to load configuration", err)
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		return f.FailCode(ExitCommandError, ErrCodeDatabase, "failed to open database", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()

	var runs []store.Run
	if opts.RunID != "" {
		run, err := st.GetRun(ctx, opts.RunID)
		if err != nil {
			return f.FailCode(ExitCommandError, ErrCodeDatabase, "failed to find run", err)
		}
		runs = []store.Run{run}
	} else {
		if runs, err = st.ListRuns(ctx); err != nil {
			return f.FailCode(ExitCommandError, ErrCodeDatabase, "failed to list runs", err)
		}
	}

	out := ReplayOutput{Runs: []ReplayRunResult{}, TotalRuns: len(runs), AllIdentical: true}
	for _, run := range runs {
		f.VerboseLog("Replaying run %s (%s)", run.ID, run.Status)

		// Each replay gets its own VM from the configuration.
		engineOpts, err := cfg.EngineOptions()
		if err != nil {
			return f.FailCode(ExitCommandError, ErrCodeConfig, "invalid configuration", err)
		}
		res, err := st.Replay(ctx, run.ID, engineOpts...)
		if err != nil {
			return f.Fail(ExitCommandError, fmt.Sprintf("failed to replay run %s", run.ID), err)
		}

		out.Runs = append(out.Runs, ReplayRunResult{
			RunID:      run.ID,
			Status:     run.Status,
			Identical:  res.Identical,
			Cycles:     res.Replayed.Cycles,
			Firings:    res.Replayed.Firings,
			StateHash:  res.Replayed.StateHash,
			TraceHash:  res.Replayed.TraceHash,
			Divergence: res.Divergence,
			Stored:     res.Stored,
			Got:        res.Got,
		})
		out.AllIdentical = out.AllIdentical && res.Identical
	}

	if f.JSON() {
		resp := CLIResponse{Status: "ok", Data: out}
		if !out.AllIdentical {
			resp.Status = "error"
			resp.Error = &CLIError{Code: ErrCodeReplay, Message: "replay diverged from the recorded run"}
		}
		if err := f.Response(resp); err != nil {
			return err
		}
	} else {
		writeReplayText(f.Writer, out)
	}

	if !out.AllIdentical {
		return NewExitError(ExitFailure, "replay diverged from the recorded run")
	}
	return nil
}

func writeReplayText(w io.Writer, out ReplayOutput) {
	if out.TotalRuns == 0 {
		fmt.Fprintln(w, "No runs to replay")
		return
	}
	for _, r := range out.Runs {
		if r.Identical {
			fmt.Fprintf(w, "✓ %s identical (%d cycle(s), %d firing(s))\n", r.RunID, r.Cycles, r.Firings)
			continue
		}
		fmt.Fprintf(w, "✗ %s diverged", r.RunID)
		if r.Divergence > 0 {
			fmt.Fprintf(w, " at seq %d", r.Divergence)
		}
		fmt.Fprintln(w)
		if r.Stored != nil {
			fmt.Fprintf(w, "  stored: %s\n", describeEvent(*r.Stored))
		}
		if r.Got != nil {
			fmt.Fprintf(w, "  got:    %s\n", describeEvent(*r.Got))
		}
		if r.Divergence == 0 {
			fmt.Fprintf(w, "  hashes differ: state %s trace %s\n", r.StateHash, r.TraceHash)
		}
	}
	fmt.Fprintln(w)
	if out.AllIdentical {
		fmt.Fprintf(w, "All %d run(s) replayed identically\n", out.TotalRuns)
	} else {
		fmt.Fprintln(w, "Replay diverged")
	}
}

func describeEvent(ev engine.TraceEvent) string {
	s := fmt.Sprintf("c%d %s", ev.Cycle, ev.Kind)
	if ev.RuleID != 0 {
		s += fmt.Sprintf(" rule=%d", ev.RuleID)
	}
	if ev.Attribute != "" {
		s += " " + ev.Attribute
	}
	if ev.Detail != "" {
		s += " " + ev.Detail
	}
	return s
}
