package engine

import (
	"errors"
	"slices"

	"github.com/roach88/kern/internal/graph"
	"github.com/roach88/kern/internal/ir"
)

// MatchResult is one rule's satisfied condition.
type MatchResult struct {
	RuleID ir.RuleID

	// Bindings are the satisfying binding sets in evaluation order. A
	// condition without patterns yields one empty binding set.
	Bindings []ir.Object

	// Refs lists the nodes referenced by the bindings, first use first.
	Refs []graph.NodeID
}

// MatchState is the read-only state the matcher evaluates against.
type MatchState struct {
	Graph *graph.Graph
	Vars  ir.Object

	// Context is the active VM context id.
	Context uint32

	// Versions maps a variable name to a counter that changes whenever
	// the variable's value changes. Missing names count as version 0.
	Versions map[string]uint64
}

// Matcher evaluates rule conditions and caches each rule's evaluation.
//
// A cached evaluation is reused while nothing in the rule's read-set has
// changed: the active context, the version of every variable the rule
// reads and, for conditions with node patterns or attributes, the graph
// version.
//
// CRITICAL: Match never mutates the graph or the variables.
type Matcher struct {
	cache  map[ir.RuleID]matchCacheEntry
	hits   int
	misses int
}

type matchCacheEntry struct {
	stamp    []uint64
	bindings []ir.Object
}

// NewMatcher creates a matcher with an empty cache.
func NewMatcher() *Matcher {
	return &Matcher{cache: make(map[ir.RuleID]matchCacheEntry)}
}

func stampFor(r *Rule, st MatchState) []uint64 {
	stamp := make([]uint64, 0, len(r.Reads)+2)
	stamp = append(stamp, uint64(st.Context))
	for _, name := range r.Reads {
		stamp = append(stamp, st.Versions[name])
	}
	if r.Cond.UsesGraph && st.Graph != nil {
		stamp = append(stamp, st.Graph.Version())
	}
	return stamp
}

// Match evaluates rules in the given order and returns a result for each
// rule with at least one binding set, preserving that order.
//
// An undefined symbol is an error, never a non-match; the error names the
// rule.
func (m *Matcher) Match(st MatchState, rules []*Rule) ([]MatchResult, error) {
	env := Env{Graph: st.Graph, Vars: st.Vars}

	var out []MatchResult
	for _, r := range rules {
		stamp := stampFor(r, st)
		entry, ok := m.cache[r.ID]
		if ok && slices.Equal(entry.stamp, stamp) {
			m.hits++
		} else {
			m.misses++
			bindings, err := r.Cond.Eval(env)
			if err != nil {
				var re *RuntimeError
				if errors.As(err, &re) && re.RuleID == 0 {
					re.RuleID = r.ID
				}
				delete(m.cache, r.ID)
				return nil, err
			}
			entry = matchCacheEntry{stamp: stamp, bindings: bindings}
			m.cache[r.ID] = entry
		}

		if len(entry.bindings) == 0 {
			continue
		}
		out = append(out, MatchResult{
			RuleID:   r.ID,
			Bindings: cloneBindings(entry.bindings),
			Refs:     refsOf(entry.bindings),
		})
	}
	return out, nil
}

// Check evaluates one rule against st without touching the cache.
func (m *Matcher) Check(st MatchState, r *Rule) (bool, error) {
	bindings, err := r.Cond.Eval(Env{Graph: st.Graph, Vars: st.Vars})
	if err != nil {
		return false, err
	}
	return len(bindings) > 0, nil
}

// Invalidate drops every cached evaluation.
func (m *Matcher) Invalidate() {
	clear(m.cache)
}

// Stats returns cache hits and misses since creation.
func (m *Matcher) Stats() (hits, misses int) {
	return m.hits, m.misses
}

func cloneBindings(in []ir.Object) []ir.Object {
	out := make([]ir.Object, len(in))
	for i, b := range in {
		out[i] = b.Clone()
	}
	return out
}

func refsOf(bindings []ir.Object) []graph.NodeID {
	var refs []graph.NodeID
	for _, b := range bindings {
		for _, k := range b.SortedKeys() {
			if ref, ok := b[k].(ir.Ref); ok && !slices.Contains(refs, graph.NodeID(ref)) {
				refs = append(refs, graph.NodeID(ref))
			}
		}
	}
	return refs
}
