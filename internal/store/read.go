package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/kern/internal/engine"
	"github.com/roach88/kern/internal/ir"
	"github.com/roach88/kern/internal/queryir"
)

const statusRunning = "running"

// Catalog lists the tables trace queries may read and their order keys.
var Catalog = queryir.Catalog{
	"trace_events": {
		Columns:  []string{"run_id", "seq", "cycle", "kind", "rule_id", "attr", "value", "detail"},
		OrderKey: []string{"run_id", "seq"},
	},
	"resolution_history": {
		Columns:  []string{"run_id", "seq", "cycle", "kind", "attr", "strategy", "winner", "losers", "rule_id", "value"},
		OrderKey: []string{"run_id", "seq"},
	},
	"run_rules": {
		Columns:  []string{"run_id", "rule_id", "name", "priority", "spec"},
		OrderKey: []string{"run_id", "rule_id"},
	},
}

var (
	traceColumns   = []string{"seq", "cycle", "kind", "rule_id", "attr", "value", "detail"}
	historyColumns = []string{"seq", "cycle", "kind", "attr", "strategy", "winner", "losers", "rule_id", "value"}
)

// Run is a recorded run.
type Run struct {
	ID            string
	Ordinal       int64
	RuleSetHash   string
	EngineVersion string
	Status        string // "running", "fixpoint" or "halted"
	Cycles        int64
	Firings       int64
	HaltReason    string
	HaltClass     ir.ErrorClass
	HaltRule      ir.RuleID
	HaltPC        int
	StateHash     string
	TraceHash     string
	FinalVars     ir.Object
}

// Finished reports whether the run recorded a final status.
func (r Run) Finished() bool { return r.Status != statusRunning }

const runColumns = `id, ordinal, rule_set_hash, engine_version, status, cycles, firings,
	halt_reason, halt_class, halt_rule, halt_pc, state_hash, trace_hash, final_vars`

// GetRun retrieves a run by id.
// Returns ErrRunNotFound if the id is unknown.
func (s *Store) GetRun(ctx context.Context, id string) (Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("get run %s: %w", id, ErrRunNotFound)
	}
	if err != nil {
		return Run{}, fmt.Errorf("get run %s: %w", id, err)
	}
	return run, nil
}

// ListRuns returns every run in insertion order.
// Returns an empty slice (not nil) when the store has no runs.
func (s *Store) ListRuns(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY ordinal ASC`)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("list runs: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// LatestRun returns the most recently begun run.
// Returns ErrRunNotFound if the store is empty.
func (s *Store) LatestRun(ctx context.Context) (Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY ordinal DESC LIMIT 1`)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("latest run: %w", ErrRunNotFound)
	}
	if err != nil {
		return Run{}, fmt.Errorf("latest run: %w", err)
	}
	return run, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (Run, error) {
	var run Run
	var haltClass, finalVars string
	if err := row.Scan(
		&run.ID, &run.Ordinal, &run.RuleSetHash, &run.EngineVersion, &run.Status,
		&run.Cycles, &run.Firings, &run.HaltReason, &haltClass, &run.HaltRule,
		&run.HaltPC, &run.StateHash, &run.TraceHash, &finalVars,
	); err != nil {
		return Run{}, err
	}
	run.HaltClass = ir.ErrorClass(haltClass)

	vars, err := unmarshalObject(finalVars)
	if err != nil {
		return Run{}, err
	}
	run.FinalVars = vars
	return run, nil
}

// TraceQuery selects trace events of one run. Zero fields do not filter.
type TraceQuery struct {
	RunID    string
	Kinds    []engine.TraceKind
	RuleID   ir.RuleID
	RuleName string // joins the run's rule snapshot
	Cycle    int64
	FromSeq  int64 // inclusive
	ToSeq    int64 // inclusive
	Limit    int
}

// build converts the query to the query IR.
func (q TraceQuery) build() queryir.Query {
	preds := []queryir.Predicate{queryir.Equals{Field: "run_id", Value: ir.Sym(q.RunID)}}
	if len(q.Kinds) > 0 {
		kinds := make([]ir.Value, len(q.Kinds))
		for i, k := range q.Kinds {
			kinds[i] = ir.Sym(k)
		}
		preds = append(preds, queryir.In{Field: "kind", Values: kinds})
	}
	if q.RuleID != 0 {
		preds = append(preds, queryir.Equals{Field: "rule_id", Value: ir.Int(q.RuleID)})
	}
	if q.Cycle != 0 {
		preds = append(preds, queryir.Equals{Field: "cycle", Value: ir.Int(q.Cycle)})
	}
	if q.FromSeq != 0 {
		preds = append(preds, queryir.Compare{Field: "seq", Op: queryir.OpGe, Value: ir.Int(q.FromSeq)})
	}
	if q.ToSeq != 0 {
		preds = append(preds, queryir.Compare{Field: "seq", Op: queryir.OpLe, Value: ir.Int(q.ToSeq)})
	}

	events := queryir.Select{
		From:    "trace_events",
		Columns: traceColumns,
		Filter:  queryir.And{Predicates: preds},
		Limit:   q.Limit,
	}
	if q.RuleName == "" {
		return events
	}
	return queryir.Join{
		Left: events,
		Right: queryir.Select{
			From:    "run_rules",
			Columns: []string{"name"},
			Filter:  queryir.Equals{Field: "name", Value: ir.Sym(q.RuleName)},
		},
		On: queryir.And{Predicates: []queryir.Predicate{
			queryir.ColumnEquals{Left: "trace_events.run_id", Right: "run_rules.run_id"},
			queryir.ColumnEquals{Left: "trace_events.rule_id", Right: "run_rules.rule_id"},
		}},
	}
}

// QueryTrace returns the trace events matching q in seq order.
//
// CRITICAL: the SQL is compiled from the query IR, so every result is
// ordered by (run_id, seq) and every filter value is a bound parameter.
func (s *Store) QueryTrace(ctx context.Context, q TraceQuery) ([]engine.TraceEvent, error) {
	if q.RunID == "" {
		return nil, fmt.Errorf("query trace: run id is required")
	}
	query, params, err := s.compiler.Compile(q.build())
	if err != nil {
		return nil, fmt.Errorf("query trace: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("query trace: %w", err)
	}
	defer rows.Close()

	events := []engine.TraceEvent{}
	for rows.Next() {
		var ev engine.TraceEvent
		var kind string
		var value sql.NullString
		dest := []any{&ev.Seq, &ev.Cycle, &kind, &ev.RuleID, &ev.Attribute, &value, &ev.Detail}
		if q.RuleName != "" {
			var name string
			dest = append(dest, &name)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan trace event: %w", err)
		}
		ev.Kind = engine.TraceKind(kind)
		if ev.Value, err = unmarshalValue(value); err != nil {
			return nil, fmt.Errorf("trace event %d: %w", ev.Seq, err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trace events: %w", err)
	}
	return events, nil
}

// ReadTrace returns the full trace of a run.
func (s *Store) ReadTrace(ctx context.Context, runID string) ([]engine.TraceEvent, error) {
	return s.QueryTrace(ctx, TraceQuery{RunID: runID})
}

// ReadHistory returns the resolution history of a run in seq order.
func (s *Store) ReadHistory(ctx context.Context, runID string) ([]engine.HistoryEntry, error) {
	query, params, err := s.compiler.Compile(queryir.Select{
		From:    "resolution_history",
		Columns: historyColumns,
		Filter:  queryir.Equals{Field: "run_id", Value: ir.Sym(runID)},
	})
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	defer rows.Close()

	history := []engine.HistoryEntry{}
	for rows.Next() {
		var h engine.HistoryEntry
		var kind, losers string
		var value sql.NullString
		if err := rows.Scan(
			&h.Seq, &h.Cycle, &kind, &h.Attribute, &h.Strategy,
			&h.Winner, &losers, &h.RuleID, &value,
		); err != nil {
			return nil, fmt.Errorf("scan history entry: %w", err)
		}
		h.Kind = engine.HistoryKind(kind)
		if h.Losers, err = unmarshalRuleIDs(losers); err != nil {
			return nil, fmt.Errorf("history entry %d: %w", h.Seq, err)
		}
		if h.Value, err = unmarshalValue(value); err != nil {
			return nil, fmt.Errorf("history entry %d: %w", h.Seq, err)
		}
		history = append(history, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return history, nil
}

// ReadRules returns the rule snapshot a run was started with, in id order.
func (s *Store) ReadRules(ctx context.Context, runID string) ([]ir.RuleSpec, error) {
	query, params, err := s.compiler.Compile(queryir.Select{
		From:    "run_rules",
		Columns: []string{"spec"},
		Filter:  queryir.Equals{Field: "run_id", Value: ir.Sym(runID)},
	})
	if err != nil {
		return nil, fmt.Errorf("read rules: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("read rules: %w", err)
	}
	defer rows.Close()

	specs := []ir.RuleSpec{}
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		spec, err := unmarshalRuleSpec(data)
		if err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rules: %w", err)
	}
	return specs, nil
}
