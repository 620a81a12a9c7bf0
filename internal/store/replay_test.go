package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/kern/internal/engine"
	"github.com/roach88/kern/internal/graph"
	"github.com/roach88/kern/internal/ir"
)

// runRecorded executes a small rule set against s and returns the engine.
//
// Rule 1 counts n up to 3; rules 2 and 3 both write "flag" while n is 1,
// so cycle 2 resolves an ignore conflict.
func runRecorded(t *testing.T, s *Store, opts ...engine.Option) *engine.Engine {
	t.Helper()
	g := graph.New()
	_, err := g.AddNode(graph.KindOp, "seed", ir.Object{"weight": ir.Int(2)})
	require.NoError(t, err)

	base := []engine.Option{
		engine.WithSink(s),
		engine.WithGraph(g),
		engine.WithStrategy("flag", engine.Ignore()),
		engine.WithRunIDGenerator(engine.NewFixedGenerator("run-1", "run-2")),
	}
	e, err := engine.New(append(base, opts...)...)
	require.NoError(t, err)
	e.SetVar("n", ir.Int(0))
	e.SetVar("flag", ir.Int(0))

	_, err = e.Register(
		ir.RuleSpec{
			ID:   1,
			Name: "bump",
			When: "n < 3",
			Then: "GET_SYMBOL R0, n\nLOAD_NUM R1, 1\nADD R0, R1, R0\nSET_SYMBOL n, R0",
			Writes: []string{"n"},
		},
		ir.RuleSpec{ID: 2, Name: "flag-high", Priority: "High", When: "n == 1", Then: "LOAD_NUM R0, 7\nSET_SYMBOL flag, R0", Writes: []string{"flag"}},
		ir.RuleSpec{ID: 3, Name: "flag-low", When: "n == 1", Then: "LOAD_NUM R0, 9\nSET_SYMBOL flag, R0", Writes: []string{"flag"}},
	)
	require.NoError(t, err)
	return e
}

func TestSink_PersistsEngineRun(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	e := runRecorded(t, s)

	res, err := e.Run(ctx)
	require.NoError(t, err)
	require.True(t, res.Fixpoint)

	run, err := s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, engine.StatusFixpoint, run.Status)
	assert.Equal(t, res.Cycles, run.Cycles)
	assert.Equal(t, res.Firings, run.Firings)
	assert.Equal(t, res.StateHash, run.StateHash)
	assert.Equal(t, res.TraceHash, run.TraceHash)
	assert.Equal(t, e.Vars(), run.FinalVars)

	trace, err := s.ReadTrace(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, traceObjects(e.Trace()), traceObjects(trace))

	stored, err := engine.TraceHash(trace)
	require.NoError(t, err)
	assert.Equal(t, res.TraceHash, stored, "stored trace hashes like the live one")

	history, err := s.ReadHistory(ctx, "run-1")
	require.NoError(t, err)
	require.NotEmpty(t, history)
	assert.Equal(t, historyObjects(e.History()), historyObjects(history))
}

func TestSink_PersistsHalt(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	e, err := engine.New(engine.WithSink(s), engine.WithRunIDGenerator(engine.NewFixedGenerator("halted")))
	require.NoError(t, err)
	_, err = e.Register(ir.RuleSpec{ID: 4, When: "missing > 0"})
	require.NoError(t, err)

	_, err = e.Run(ctx)
	require.Error(t, err)

	run, err := s.GetRun(ctx, "halted")
	require.NoError(t, err)
	assert.Equal(t, engine.StatusHalted, run.Status)
	assert.Equal(t, "UNDEFINED_SYMBOL", run.HaltReason)
	assert.Equal(t, ir.ClassContext, run.HaltClass)
	assert.Equal(t, ir.RuleID(4), run.HaltRule)

	halts, err := s.QueryTrace(ctx, TraceQuery{RunID: "halted", Kinds: []engine.TraceKind{engine.TraceHalt}})
	require.NoError(t, err)
	require.Len(t, halts, 1)
	assert.Equal(t, "UNDEFINED_SYMBOL", halts[0].Detail)
}

func TestLoadRun(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	e := runRecorded(t, s)
	_, err := e.Run(ctx)
	require.NoError(t, err)

	rec, err := s.LoadRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "run-1", rec.Run.ID)
	assert.Len(t, rec.Rules, 3)
	assert.Equal(t, "bump", rec.Rules[0].Name)
	assert.Equal(t, map[string]string{"*": "override", "flag": "ignore"}, rec.Strategies)
	assert.Equal(t, ir.Object{"n": ir.Int(0), "flag": ir.Int(0)}, rec.Vars, "initial, not final, variables")

	opts, err := rec.Options()
	require.NoError(t, err)
	replayed, err := engine.New(opts...)
	require.NoError(t, err)
	assert.Equal(t, "ignore", replayed.Strategy("flag").String())
	assert.Equal(t, 1, replayed.Graph().Len())
}

func TestLoadRun_NotFound(t *testing.T) {
	s := createTestStore(t)

	_, err := s.LoadRun(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestReplay_Identical(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	e := runRecorded(t, s)
	res, err := e.Run(ctx)
	require.NoError(t, err)

	out, err := s.Replay(ctx, "run-1")
	require.NoError(t, err)
	assert.True(t, out.Identical)
	assert.Zero(t, out.Divergence)
	assert.Equal(t, res.StateHash, out.Replayed.StateHash)
	assert.Equal(t, res.TraceHash, out.Replayed.TraceHash)

	runs, err := s.ListRuns(ctx)
	require.NoError(t, err)
	assert.Len(t, runs, 1, "replays are not persisted")
}

func TestReplay_DetectsDivergence(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	e := runRecorded(t, s)
	_, err := e.Run(ctx)
	require.NoError(t, err)

	writes, err := s.QueryTrace(ctx, TraceQuery{RunID: "run-1", Kinds: []engine.TraceKind{engine.TraceWrite}, Limit: 1})
	require.NoError(t, err)
	require.Len(t, writes, 1)
	_, err = s.DB().Exec(`UPDATE trace_events SET value = '42' WHERE run_id = 'run-1' AND seq = ?`, writes[0].Seq)
	require.NoError(t, err)

	out, err := s.Replay(ctx, "run-1")
	require.NoError(t, err)
	assert.False(t, out.Identical)
	assert.Equal(t, writes[0].Seq, out.Divergence)
	require.NotNil(t, out.Stored)
	require.NotNil(t, out.Got)
	assert.Equal(t, ir.Int(42), out.Stored.Value)
	assert.Equal(t, writes[0].Value, out.Got.Value)
}

func TestReplay_IncompleteRunPrefix(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	e := runRecorded(t, s)

	// Two cycles, then the process "dies" before the fixpoint.
	_, err := e.Step(ctx)
	require.NoError(t, err)
	_, err = e.Step(ctx)
	require.NoError(t, err)

	incomplete, err := s.FindIncompleteRuns(ctx)
	require.NoError(t, err)
	require.Len(t, incomplete, 1)
	assert.Equal(t, "run-1", incomplete[0].ID)
	assert.Equal(t, int64(2), incomplete[0].Cycles)

	out, err := s.Replay(ctx, "run-1")
	require.NoError(t, err)
	assert.True(t, out.Identical, "the stored prefix matches a full re-execution")
	assert.True(t, out.Replayed.Fixpoint)
}
