package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/kern/internal/engine"
)

var (
	// ErrRunNotFound is returned when a run id is not in the store.
	ErrRunNotFound = errors.New("run not found")

	// ErrRunExists is returned by BeginRun for an id already recorded.
	ErrRunExists = errors.New("run already recorded")

	// ErrRunFinished is returned when appending to or finishing a run
	// that already has a final status.
	ErrRunFinished = errors.New("run already finished")
)

// BeginRun records a new run with its rule snapshot, strategies and
// initial state. Runs are numbered by insertion order (ordinal), never by
// wall-clock time.
func (s *Store) BeginRun(ctx context.Context, info engine.RunInfo) error {
	strategies, err := marshalStrategies(info.Strategies)
	if err != nil {
		return fmt.Errorf("begin run: %w", err)
	}
	vars, err := marshalObject(info.Vars)
	if err != nil {
		return fmt.Errorf("begin run: vars: %w", err)
	}
	graph, err := marshalObject(info.Graph)
	if err != nil {
		return fmt.Errorf("begin run: graph: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin run: begin tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		INSERT INTO runs
		(id, ordinal, rule_set_hash, engine_version, strategies, initial_vars, initial_graph)
		VALUES (?, (SELECT COALESCE(MAX(ordinal), 0) + 1 FROM runs), ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		info.ID,
		info.RuleSetHash,
		info.EngineVersion,
		strategies,
		vars,
		graph,
	)
	if err != nil {
		return fmt.Errorf("begin run: insert: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("begin run: rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("begin run %s: %w", info.ID, ErrRunExists)
	}

	for _, spec := range info.Rules {
		specJSON, err := marshalRuleSpec(spec)
		if err != nil {
			return fmt.Errorf("begin run: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO run_rules (run_id, rule_id, name, priority, spec)
			VALUES (?, ?, ?, ?, ?)
		`, info.ID, spec.ID, spec.Name, spec.Priority, specJSON); err != nil {
			return fmt.Errorf("begin run: insert rule %d: %w", spec.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("begin run: commit: %w", err)
	}
	return nil
}

// AppendCycle writes one cycle's trace events and resolution history in a
// single transaction.
//
// Rows are keyed by (run_id, seq) and inserted with ON CONFLICT DO NOTHING,
// so retrying a cycle after a failed commit is safe.
func (s *Store) AppendCycle(ctx context.Context, runID string, events []engine.TraceEvent, history []engine.HistoryEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("append cycle: begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := requireRunning(ctx, tx, runID); err != nil {
		return fmt.Errorf("append cycle: %w", err)
	}

	var maxCycle int64
	for _, ev := range events {
		val, err := marshalValue(ev.Value)
		if err != nil {
			return fmt.Errorf("append cycle: event %d: %w", ev.Seq, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO trace_events
			(run_id, seq, cycle, kind, rule_id, attr, value, detail)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(run_id, seq) DO NOTHING
		`,
			runID,
			ev.Seq,
			ev.Cycle,
			string(ev.Kind),
			ev.RuleID,
			ev.Attribute,
			val,
			ev.Detail,
		); err != nil {
			return fmt.Errorf("append cycle: insert event %d: %w", ev.Seq, err)
		}
		maxCycle = max(maxCycle, ev.Cycle)
	}

	for _, h := range history {
		losers, err := marshalRuleIDs(h.Losers)
		if err != nil {
			return fmt.Errorf("append cycle: history %d: %w", h.Seq, err)
		}
		val, err := marshalValue(h.Value)
		if err != nil {
			return fmt.Errorf("append cycle: history %d: %w", h.Seq, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO resolution_history
			(run_id, seq, cycle, kind, attr, strategy, winner, losers, rule_id, value)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(run_id, seq) DO NOTHING
		`,
			runID,
			h.Seq,
			h.Cycle,
			string(h.Kind),
			h.Attribute,
			h.Strategy,
			h.Winner,
			losers,
			h.RuleID,
			val,
		); err != nil {
			return fmt.Errorf("append cycle: insert history %d: %w", h.Seq, err)
		}
		maxCycle = max(maxCycle, h.Cycle)
	}

	// Progress marker for runs that never finish.
	if _, err := tx.ExecContext(ctx, `
		UPDATE runs SET cycles = MAX(cycles, ?) WHERE id = ?
	`, maxCycle, runID); err != nil {
		return fmt.Errorf("append cycle: update progress: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("append cycle: commit: %w", err)
	}
	return nil
}

// FinishRun records the final status, counters, hashes and variables.
func (s *Store) FinishRun(ctx context.Context, runID string, summary engine.RunSummary) error {
	finalVars, err := marshalObject(summary.FinalVars)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("finish run: begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := requireRunning(ctx, tx, runID); err != nil {
		return fmt.Errorf("finish run: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE runs SET
			status = ?, cycles = ?, firings = ?,
			halt_reason = ?, halt_class = ?, halt_rule = ?, halt_pc = ?,
			state_hash = ?, trace_hash = ?, final_vars = ?
		WHERE id = ?
	`,
		summary.Status,
		summary.Cycles,
		summary.Firings,
		summary.HaltReason,
		string(summary.HaltClass),
		summary.HaltRule,
		summary.HaltPC,
		summary.StateHash,
		summary.TraceHash,
		finalVars,
		runID,
	); err != nil {
		return fmt.Errorf("finish run: update: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("finish run: commit: %w", err)
	}
	return nil
}

// requireRunning fails unless runID exists and has not finished.
func requireRunning(ctx context.Context, tx *sql.Tx, runID string) error {
	var status string
	err := tx.QueryRowContext(ctx, `SELECT status FROM runs WHERE id = ?`, runID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("run %s: %w", runID, ErrRunNotFound)
	}
	if err != nil {
		return fmt.Errorf("run %s: %w", runID, err)
	}
	if status != statusRunning {
		return fmt.Errorf("run %s is %s: %w", runID, status, ErrRunFinished)
	}
	return nil
}
