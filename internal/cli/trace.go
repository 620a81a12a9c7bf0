package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/kern/internal/engine"
	"github.com/roach88/kern/internal/ir"
	"github.com/roach88/kern/internal/store"
)

// traceKinds lists the values --kind accepts.
var traceKinds = []engine.TraceKind{
	engine.TraceCycleStart,
	engine.TraceMatched,
	engine.TraceScheduled,
	engine.TraceFired,
	engine.TraceWrite,
	engine.TraceDropped,
	engine.TraceHalt,
	engine.TraceFixpoint,
}

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	RunID    string
	Kinds    []string
	RuleID   int64
	RuleName string
	Cycle    int64
	FromSeq  int64
	ToSeq    int64
	Limit    int
	History  bool
}

// TraceOutput is a queried trace, with the resolution history when asked.
type TraceOutput struct {
	Run     RunSummaryOutput      `json:"run"`
	Events  []engine.TraceEvent   `json:"events"`
	History []engine.HistoryEntry `json:"history,omitempty"`
}

// RunSummaryOutput describes a stored run.
type RunSummaryOutput struct {
	ID         string        `json:"id"`
	Status     string        `json:"status"`
	Cycles     int64         `json:"cycles"`
	Firings    int64         `json:"firings"`
	HaltReason string        `json:"halt_reason,omitempty"`
	HaltClass  ir.ErrorClass `json:"halt_class,omitempty"`
	StateHash  string        `json:"state_hash,omitempty"`
	TraceHash  string        `json:"trace_hash,omitempty"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Query the trace of a recorded run",
		Long: `Print the trace events of a run recorded with "kern run --db".

Without --run the most recent run is shown. Filters combine: only events
matching all of them are printed, always in sequence order.

Exit codes:
  0 - Trace printed (possibly empty)
  2 - Command error (unreadable database, unknown run, bad filter)

Examples:
  kern trace --db ./kern.db
  kern trace --db ./kern.db --run 0190a8c4-... --kind fired --kind write
  kern trace --db ./kern.db --rule-name inc --cycle 3
  kern trace --db ./kern.db --from 10 --to 40 --history --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	cmd.Flags().StringVar(&opts.RunID, "run", "", "run id (default: latest run)")
	cmd.Flags().StringSliceVar(&opts.Kinds, "kind", nil, "only events of these kinds (repeatable)")
	cmd.Flags().Int64Var(&opts.RuleID, "rule", 0, "only events of this rule id")
	cmd.Flags().StringVar(&opts.RuleName, "rule-name", "", "only events of the rule with this name")
	cmd.Flags().Int64Var(&opts.Cycle, "cycle", 0, "only events of this cycle")
	cmd.Flags().Int64Var(&opts.FromSeq, "from", 0, "first sequence number (inclusive)")
	cmd.Flags().Int64Var(&opts.ToSeq, "to", 0, "last sequence number (inclusive)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum number of events (0 = no limit)")
	cmd.Flags().BoolVar(&opts.History, "history", false, "include the conflict resolution history")

	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	kinds, err := parseKinds(opts.Kinds)
	if err != nil {
		return f.Fail(ExitCommandError, "invalid --kind", err)
	}
	if opts.Limit < 0 {
		return f.Fail(ExitCommandError, "invalid --limit", fmt.Errorf("must be >= 0, got %d", opts.Limit))
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

	ctx := cmd.Context()
	run, err := selectRun(ctx, st, opts.RunID)
	if err != nil {
		return f.FailCode(ExitCommandError, ErrCodeDatabase, "failed to find run", err)
	}
	f.VerboseLog("Querying run %s (%s)", run.ID, run.Status)

	events, err := st.QueryTrace(ctx, store.TraceQuery{
		RunID:    run.ID,
		Kinds:    kinds,
		RuleID:   ir.RuleID(opts.RuleID),
		RuleName: opts.RuleName,
		Cycle:    opts.Cycle,
		FromSeq:  opts.FromSeq,
		ToSeq:    opts.ToSeq,
		Limit:    opts.Limit,
	})
	if err != nil {
		return f.FailCode(ExitCommandError, ErrCodeDatabase, "failed to query trace", err)
	}

	out := TraceOutput{Run: runSummary(run), Events: events}
	if opts.History {
		if out.History, err = st.ReadHistory(ctx, run.ID); err != nil {
			return f.FailCode(ExitCommandError, ErrCodeDatabase, "failed to read history", err)
		}
	}

	if f.JSON() {
		resp := CLIResponse{Status: "ok", Data: out, RunID: run.ID}
		return f.Response(resp)
	}
	writeTraceText(f.Writer, out)
	return nil
}

// selectRun returns the named run, or the latest when id is empty.
func selectRun(ctx context.Context, st *store.Store, id string) (store.Run, error) {
	if id == "" {
		run, err := st.LatestRun(ctx)
		if errors.Is(err, store.ErrRunNotFound) {
			return store.Run{}, errors.New("database has no runs")
		}
		return run, err
	}
	return st.GetRun(ctx, id)
}

func parseKinds(raw []string) ([]engine.TraceKind, error) {
	var kinds []engine.TraceKind
	for _, s := range raw {
		k := engine.TraceKind(strings.ToLower(strings.TrimSpace(s)))
		if !slices.Contains(traceKinds, k) {
			return nil, fmt.Errorf("unknown trace kind %q", s)
		}
		kinds = append(kinds, k)
	}
	return kinds, nil
}

func runSummary(run store.Run) RunSummaryOutput {
	return RunSummaryOutput{
		ID:         run.ID,
		Status:     run.Status,
		Cycles:     run.Cycles,
		Firings:    run.Firings,
		HaltReason: run.HaltReason,
		HaltClass:  run.HaltClass,
		StateHash:  run.StateHash,
		TraceHash:  run.TraceHash,
	}
}

func writeTraceText(w io.Writer, out TraceOutput) {
	fmt.Fprintf(w, "Run %s (%s, %d cycle(s), %d firing(s))\n", out.Run.ID, out.Run.Status, out.Run.Cycles, out.Run.Firings)
	if out.Run.HaltReason != "" {
		fmt.Fprintf(w, "  halted: %s (%s)\n", out.Run.HaltReason, out.Run.HaltClass)
	}
	if len(out.Events) == 0 {
		fmt.Fprintln(w, "No matching events")
	}
	for _, ev := range out.Events {
		fmt.Fprintf(w, "%6d  c%-4d %-11s", ev.Seq, ev.Cycle, ev.Kind)
		if ev.RuleID != 0 {
			fmt.Fprintf(w, " rule=%d", ev.RuleID)
		}
		if ev.Attribute != "" {
			fmt.Fprintf(w, " %s", ev.Attribute)
			if ev.Value != nil {
				fmt.Fprintf(w, "=%s", ir.Format(ev.Value))
			}
		}
		if ev.Detail != "" {
			fmt.Fprintf(w, " %s", ev.Detail)
		}
		fmt.Fprintln(w)
	}

	if len(out.History) > 0 {
		fmt.Fprintln(w, "History:")
		for _, h := range out.History {
			fmt.Fprintf(w, "%6d  c%-4d %-8s %s strategy=%s", h.Seq, h.Cycle, h.Kind, h.Attribute, h.Strategy)
			if h.Winner != 0 {
				fmt.Fprintf(w, " winner=%d", h.Winner)
			}
			if len(h.Losers) > 0 {
				fmt.Fprintf(w, " losers=%v", h.Losers)
			}
			fmt.Fprintln(w)
		}
	}
}
