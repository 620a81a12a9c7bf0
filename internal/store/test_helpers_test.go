package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/roach88/kern/internal/engine"
	"github.com/roach88/kern/internal/ir"
)

// createTestStore creates a new store in a temporary directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestRunInfo creates a run with two rules and one per-attribute strategy.
func createTestRunInfo(id string) engine.RunInfo {
	return engine.RunInfo{
		ID:            id,
		RuleSetHash:   "test-hash",
		EngineVersion: ir.EngineVersion,
		Rules: []ir.RuleSpec{
			{ID: 1, Name: "bump", Priority: "High", When: "n < 3", Then: "NOP", Writes: []string{"n"}},
			{ID: 2, Name: "mark", When: "n == 3", Then: "NOP", Writes: []string{"done"}, DependsOn: []ir.RuleID{1}},
		},
		Strategies: map[string]string{"*": "override", "n": "ignore"},
		Vars:       ir.Object{"n": ir.Int(0)},
		Graph:      ir.Object{"nodes": ir.Vec{}, "edges": ir.Vec{}},
	}
}

// beginTestRun records createTestRunInfo(id).
func beginTestRun(t *testing.T, s *Store, id string) {
	t.Helper()
	if err := s.BeginRun(context.Background(), createTestRunInfo(id)); err != nil {
		t.Fatalf("BeginRun(%s) failed: %v", id, err)
	}
}

// traceObjects and historyObjects compare records through their canonical
// forms, where nil and empty slices are the same.
func traceObjects(events []engine.TraceEvent) []ir.Object {
	out := make([]ir.Object, len(events))
	for i, ev := range events {
		out[i] = ev.Object()
	}
	return out
}

func historyObjects(history []engine.HistoryEntry) []ir.Object {
	out := make([]ir.Object, len(history))
	for i, h := range history {
		out[i] = h.Object()
	}
	return out
}
