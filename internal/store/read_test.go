package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/kern/internal/engine"
	"github.com/roach88/kern/internal/ir"
)

// seedTrace records two cycles for run-1 and one cycle for run-2.
func seedTrace(t *testing.T, s *Store) {
	t.Helper()
	ctx := context.Background()
	beginTestRun(t, s, "run-1")
	beginTestRun(t, s, "run-2")

	require.NoError(t, s.AppendCycle(ctx, "run-1", []engine.TraceEvent{
		{Seq: 1, Cycle: 1, Kind: engine.TraceCycleStart},
		{Seq: 2, Cycle: 1, Kind: engine.TraceFired, RuleID: 1},
		{Seq: 3, Cycle: 1, Kind: engine.TraceWrite, RuleID: 1, Attribute: "n", Value: ir.Int(1)},
	}, nil))
	require.NoError(t, s.AppendCycle(ctx, "run-1", []engine.TraceEvent{
		{Seq: 4, Cycle: 2, Kind: engine.TraceCycleStart},
		{Seq: 5, Cycle: 2, Kind: engine.TraceFired, RuleID: 2},
		{Seq: 6, Cycle: 2, Kind: engine.TraceWrite, RuleID: 2, Attribute: "done", Value: ir.Bool(true)},
	}, nil))
	require.NoError(t, s.AppendCycle(ctx, "run-2", []engine.TraceEvent{
		{Seq: 1, Cycle: 1, Kind: engine.TraceCycleStart},
		{Seq: 2, Cycle: 1, Kind: engine.TraceFixpoint},
	}, nil))
}

func seqs(events []engine.TraceEvent) []int64 {
	out := make([]int64, len(events))
	for i, ev := range events {
		out[i] = ev.Seq
	}
	return out
}

func TestQueryTrace(t *testing.T) {
	s := createTestStore(t)
	seedTrace(t, s)

	tests := []struct {
		name  string
		query TraceQuery
		want  []int64
	}{
		{"whole run", TraceQuery{RunID: "run-1"}, []int64{1, 2, 3, 4, 5, 6}},
		{"other run", TraceQuery{RunID: "run-2"}, []int64{1, 2}},
		{"kinds", TraceQuery{RunID: "run-1", Kinds: []engine.TraceKind{engine.TraceFired, engine.TraceWrite}}, []int64{2, 3, 5, 6}},
		{"rule", TraceQuery{RunID: "run-1", RuleID: 2}, []int64{5, 6}},
		{"cycle", TraceQuery{RunID: "run-1", Cycle: 1}, []int64{1, 2, 3}},
		{"seq range", TraceQuery{RunID: "run-1", FromSeq: 3, ToSeq: 5}, []int64{3, 4, 5}},
		{"limit", TraceQuery{RunID: "run-1", Limit: 2}, []int64{1, 2}},
		{"rule name", TraceQuery{RunID: "run-1", RuleName: "bump"}, []int64{2, 3}},
		{"rule name and kind", TraceQuery{RunID: "run-1", RuleName: "mark", Kinds: []engine.TraceKind{engine.TraceWrite}}, []int64{6}},
		{"unknown run", TraceQuery{RunID: "nope"}, []int64{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.QueryTrace(context.Background(), tt.query)
			require.NoError(t, err)
			assert.Equal(t, tt.want, seqs(got))
		})
	}
}

func TestQueryTrace_DecodesValues(t *testing.T) {
	s := createTestStore(t)
	seedTrace(t, s)

	got, err := s.QueryTrace(context.Background(), TraceQuery{RunID: "run-1", RuleName: "mark", Kinds: []engine.TraceKind{engine.TraceWrite}})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, engine.TraceEvent{
		Seq: 6, Cycle: 2, Kind: engine.TraceWrite, RuleID: 2, Attribute: "done", Value: ir.Bool(true),
	}, got[0])
}

func TestQueryTrace_RequiresRunID(t *testing.T) {
	s := createTestStore(t)

	_, err := s.QueryTrace(context.Background(), TraceQuery{})
	assert.Error(t, err)
}

func TestGetRun_NotFound(t *testing.T) {
	s := createTestStore(t)

	_, err := s.GetRun(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestListRuns(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	runs, err := s.ListRuns(ctx)
	require.NoError(t, err)
	assert.NotNil(t, runs)
	assert.Empty(t, runs)

	beginTestRun(t, s, "zeta")
	beginTestRun(t, s, "alpha")

	runs, err = s.ListRuns(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "zeta", runs[0].ID, "insertion order, not id order")
	assert.Equal(t, "alpha", runs[1].ID)

	latest, err := s.LatestRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, "alpha", latest.ID)
}

func TestLatestRun_Empty(t *testing.T) {
	s := createTestStore(t)

	_, err := s.LatestRun(context.Background())
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestReadHistory_Empty(t *testing.T) {
	s := createTestStore(t)
	beginTestRun(t, s, "run-1")

	history, err := s.ReadHistory(context.Background(), "run-1")
	require.NoError(t, err)
	assert.NotNil(t, history)
	assert.Empty(t, history)
}
