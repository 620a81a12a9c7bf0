package store

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/roach88/kern/internal/engine"
	"github.com/roach88/kern/internal/graph"
	"github.com/roach88/kern/internal/ir"
)

// Recording is everything needed to re-execute a stored run.
type Recording struct {
	Run        Run
	Rules      []ir.RuleSpec
	Strategies map[string]string // "*" holds the default
	Vars       ir.Object
	Graph      ir.Object
}

// LoadRun reads a run's rule snapshot, strategies and initial state.
func (s *Store) LoadRun(ctx context.Context, runID string) (Recording, error) {
	run, err := s.GetRun(ctx, runID)
	if err != nil {
		return Recording{}, fmt.Errorf("load run: %w", err)
	}

	var strategies, vars, graphJSON string
	if err := s.db.QueryRowContext(ctx, `
		SELECT strategies, initial_vars, initial_graph FROM runs WHERE id = ?
	`, runID).Scan(&strategies, &vars, &graphJSON); err != nil {
		return Recording{}, fmt.Errorf("load run %s: %w", runID, err)
	}

	rec := Recording{Run: run}
	if rec.Strategies, err = unmarshalStrategies(strategies); err != nil {
		return Recording{}, fmt.Errorf("load run %s: %w", runID, err)
	}
	if rec.Vars, err = unmarshalObject(vars); err != nil {
		return Recording{}, fmt.Errorf("load run %s: vars: %w", runID, err)
	}
	if rec.Graph, err = unmarshalObject(graphJSON); err != nil {
		return Recording{}, fmt.Errorf("load run %s: graph: %w", runID, err)
	}
	if rec.Rules, err = s.ReadRules(ctx, runID); err != nil {
		return Recording{}, fmt.Errorf("load run %s: %w", runID, err)
	}
	return rec, nil
}

// Options returns engine options restoring the recorded strategies and
// graph. Merge strategies naming custom functions need the caller to pass
// the same WithMergeFunc options.
func (r Recording) Options() ([]engine.Option, error) {
	var opts []engine.Option

	attrs := make([]string, 0, len(r.Strategies))
	for attr := range r.Strategies {
		attrs = append(attrs, attr)
	}
	slices.Sort(attrs)
	for _, attr := range attrs {
		s, err := engine.ParseStrategy(r.Strategies[attr])
		if err != nil {
			return nil, fmt.Errorf("strategy for %q: %w", attr, err)
		}
		if attr == "*" {
			opts = append(opts, engine.WithDefaultStrategy(s))
			continue
		}
		opts = append(opts, engine.WithStrategy(attr, s))
	}

	g, err := graph.Restore(r.Graph)
	if err != nil {
		return nil, fmt.Errorf("restore graph: %w", err)
	}
	return append(opts, engine.WithGraph(g)), nil
}

// ReplayResult compares a re-execution against the stored run.
type ReplayResult struct {
	RunID     string
	Replayed  engine.RunResult
	Identical bool

	// Divergence is the seq of the first differing trace event; zero when
	// the traces are identical.
	Divergence int64
	Stored     *engine.TraceEvent
	Got        *engine.TraceEvent
}

// Replay re-executes a stored run in memory and compares traces and
// hashes. opts are applied before the recorded ones, so limits and merge
// functions from configuration carry over. The replay is never persisted.
//
// A run that was still running when the process died replays to its
// natural end; the stored prefix must then match the new trace.
func (s *Store) Replay(ctx context.Context, runID string, opts ...engine.Option) (ReplayResult, error) {
	rec, err := s.LoadRun(ctx, runID)
	if err != nil {
		return ReplayResult{}, err
	}
	stored, err := s.ReadTrace(ctx, runID)
	if err != nil {
		return ReplayResult{}, fmt.Errorf("replay %s: %w", runID, err)
	}

	recOpts, err := rec.Options()
	if err != nil {
		return ReplayResult{}, fmt.Errorf("replay %s: %w", runID, err)
	}
	e, err := engine.New(append(opts, append(recOpts, engine.WithSink(nil))...)...)
	if err != nil {
		return ReplayResult{}, fmt.Errorf("replay %s: %w", runID, err)
	}
	if _, err := e.Register(rec.Rules...); err != nil {
		return ReplayResult{}, fmt.Errorf("replay %s: register: %w", runID, err)
	}
	for _, k := range rec.Vars.SortedKeys() {
		e.SetVar(k, rec.Vars[k])
	}

	// A halted run reports its halt through RunResult; only sink failures
	// come back as errors.
	res, err := e.Run(ctx)
	if err != nil && res.Halt == nil {
		return ReplayResult{}, fmt.Errorf("replay %s: %w", runID, err)
	}

	out := ReplayResult{RunID: runID, Replayed: res}
	got := e.Trace()
	out.Divergence, out.Stored, out.Got = firstDivergence(stored, got)

	out.Identical = out.Divergence == 0
	if rec.Run.Finished() {
		out.Identical = out.Identical &&
			len(stored) == len(got) &&
			rec.Run.TraceHash == res.TraceHash &&
			rec.Run.StateHash == res.StateHash
	}

	slog.Info("replay finished",
		"run_id", runID,
		"identical", out.Identical,
		"divergence", out.Divergence,
		"stored_events", len(stored),
		"replayed_events", len(got),
	)
	return out, nil
}

// firstDivergence compares the stored trace, a possibly incomplete prefix,
// against a full re-execution.
func firstDivergence(stored, got []engine.TraceEvent) (int64, *engine.TraceEvent, *engine.TraceEvent) {
	for i := range stored {
		if i >= len(got) {
			return stored[i].Seq, &stored[i], nil
		}
		if !sameEvent(stored[i], got[i]) {
			return stored[i].Seq, &stored[i], &got[i]
		}
	}
	return 0, nil, nil
}

func sameEvent(a, b engine.TraceEvent) bool {
	return a.Seq == b.Seq &&
		a.Cycle == b.Cycle &&
		a.Kind == b.Kind &&
		a.RuleID == b.RuleID &&
		a.Attribute == b.Attribute &&
		a.Detail == b.Detail &&
		ir.Equal(valueOrNull(a.Value), valueOrNull(b.Value))
}

func valueOrNull(v ir.Value) ir.Value {
	if v == nil {
		return ir.Null{}
	}
	return v
}

// FindIncompleteRuns returns runs that began but never recorded a final
// status, in insertion order. These are crash-recovery candidates.
func (s *Store) FindIncompleteRuns(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+runColumns+` FROM runs
		WHERE status = ?
		ORDER BY ordinal ASC
	`, statusRunning)
	if err != nil {
		return nil, fmt.Errorf("find incomplete runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("find incomplete runs: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}
