package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/kern/internal/graph"
	"github.com/roach88/kern/internal/ir"
)

func compiled(t *testing.T, id ir.RuleID, when string) *Rule {
	t.Helper()
	r, err := CompileRule(ir.RuleSpec{ID: id, When: when})
	require.NoError(t, err)
	return r
}

func TestMatcher_MatchInRuleOrder(t *testing.T) {
	m := NewMatcher()
	st := MatchState{Vars: ir.Object{"x": ir.Int(5)}, Versions: map[string]uint64{}}
	rules := []*Rule{
		compiled(t, 1, "x > 1"),
		compiled(t, 2, "x > 10"),
		compiled(t, 3, ""),
	}

	got, err := m.Match(st, rules)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, ir.RuleID(1), got[0].RuleID)
	assert.Equal(t, ir.RuleID(3), got[1].RuleID)
	assert.Equal(t, []ir.Object{{}}, got[1].Bindings, "no patterns means one empty binding set")
	assert.Empty(t, got[1].Refs)
}

func TestMatcher_CacheKeysOnReadVersions(t *testing.T) {
	m := NewMatcher()
	versions := map[string]uint64{"x": 1, "other": 1}
	st := MatchState{Vars: ir.Object{"x": ir.Int(5), "other": ir.Int(0)}, Versions: versions}
	rules := []*Rule{compiled(t, 1, "x > 1")}

	_, err := m.Match(st, rules)
	require.NoError(t, err)
	_, err = m.Match(st, rules)
	require.NoError(t, err)
	hits, misses := m.Stats()
	assert.Equal(t, 1, hits)
	assert.Equal(t, 1, misses)

	// Unread variables leave the cache alone.
	versions["other"]++
	_, err = m.Match(st, rules)
	require.NoError(t, err)
	hits, _ = m.Stats()
	assert.Equal(t, 2, hits)

	// A read variable changing forces re-evaluation.
	st.Vars = ir.Object{"x": ir.Int(0), "other": ir.Int(0)}
	versions["x"]++
	got, err := m.Match(st, rules)
	require.NoError(t, err)
	assert.Empty(t, got)
	_, misses = m.Stats()
	assert.Equal(t, 2, misses)
}

func TestMatcher_CacheKeysOnContext(t *testing.T) {
	m := NewMatcher()
	st := MatchState{Vars: ir.Object{"x": ir.Int(5)}, Versions: map[string]uint64{}}
	rules := []*Rule{compiled(t, 1, "x > 1")}

	_, err := m.Match(st, rules)
	require.NoError(t, err)

	st.Context = 2
	_, err = m.Match(st, rules)
	require.NoError(t, err)
	hits, misses := m.Stats()
	assert.Zero(t, hits)
	assert.Equal(t, 2, misses)
}

func TestMatcher_CacheKeysOnGraphVersion(t *testing.T) {
	g := graph.New()
	m := NewMatcher()
	st := MatchState{Graph: g, Versions: map[string]uint64{}}
	rules := []*Rule{compiled(t, 1, "?n:Op")}

	got, err := m.Match(st, rules)
	require.NoError(t, err)
	assert.Empty(t, got)

	id, err := g.AddNode(graph.KindOp, "add", nil)
	require.NoError(t, err)

	got, err = m.Match(st, rules)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, ir.Object{"?n": id.Ref()}, got[0].Bindings[0])
	assert.Equal(t, []graph.NodeID{id}, got[0].Refs)
}

func TestMatcher_ReturnsCopies(t *testing.T) {
	m := NewMatcher()
	st := MatchState{Vars: ir.Object{}, Versions: map[string]uint64{}}
	rules := []*Rule{compiled(t, 1, "")}

	got, err := m.Match(st, rules)
	require.NoError(t, err)
	got[0].Bindings[0]["?x"] = ir.Int(1)

	got, err = m.Match(st, rules)
	require.NoError(t, err)
	assert.Equal(t, ir.Object{}, got[0].Bindings[0], "callers cannot corrupt the cache")
}

func TestMatcher_UndefinedSymbolNamesRule(t *testing.T) {
	m := NewMatcher()
	st := MatchState{Vars: ir.Object{}, Versions: map[string]uint64{}}

	_, err := m.Match(st, []*Rule{compiled(t, 1, ""), compiled(t, 4, "ghost == 1")})
	require.Error(t, err)
	var re *RuntimeError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, ErrCodeUndefinedSymbol, re.Code)
	assert.Equal(t, ir.RuleID(4), re.RuleID)
}

func TestMatcher_CheckBypassesCache(t *testing.T) {
	m := NewMatcher()
	st := MatchState{Vars: ir.Object{"x": ir.Int(5)}, Versions: map[string]uint64{}}
	r := compiled(t, 1, "x > 1")

	ok, err := m.Check(st, r)
	require.NoError(t, err)
	assert.True(t, ok)

	st.Vars["x"] = ir.Int(0)
	ok, err = m.Check(st, r)
	require.NoError(t, err)
	assert.False(t, ok)

	hits, misses := m.Stats()
	assert.Zero(t, hits)
	assert.Zero(t, misses)
}

func TestMatcher_Invalidate(t *testing.T) {
	m := NewMatcher()
	st := MatchState{Vars: ir.Object{"x": ir.Int(5)}, Versions: map[string]uint64{}}
	rules := []*Rule{compiled(t, 1, "x > 1")}

	_, err := m.Match(st, rules)
	require.NoError(t, err)
	m.Invalidate()
	_, err = m.Match(st, rules)
	require.NoError(t, err)

	_, misses := m.Stats()
	assert.Equal(t, 2, misses)
}
