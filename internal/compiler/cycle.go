package compiler

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/kern/internal/engine"
	"github.com/roach88/kern/internal/ir"
)

// CycleWarning represents a potential cycle between rules.
//
// Cycles are warnings, not errors, because they may be intentional:
//   - Counters that re-satisfy their own condition until a bound
//   - Rules that hand work back and forth until a fixpoint
//
// The recursion guard bounds them at runtime either way.
type CycleWarning struct {
	Path       []string    `json:"path"`       // Cycle path: ["1(a)", "2(b)", "1(a)"]
	Rules      []ir.RuleID `json:"rules"`      // SCC members, ascending
	Attributes []string    `json:"attributes"` // attributes carrying the cycle, sorted
	Message    string      `json:"message"`    // Human-readable description
	Level      string      `json:"level"`      // "warning" or "info"
}

// AnalyzeCycles performs static cycle analysis on rules.
//
// Rule a feeds rule b when a writes an attribute in b's read-set (the
// variables b's condition reads plus its declared reads). A rule that
// writes the graph feeds every rule whose condition matches node patterns.
//
// The algorithm:
//  1. Build the rule → rule dependency graph from write-sets and read-sets
//  2. Use Tarjan's algorithm to find strongly connected components
//  3. Report each SCC with size > 1 or self-loops as a potential cycle warning
//
// CRITICAL: nodes, edges and warnings are visited in rule id order, so the
// output is deterministic.
//
// A DAG (no cycles) returns an empty warning list.
func AnalyzeCycles(rules []ir.RuleSpec) []CycleWarning {
	if len(rules) == 0 {
		return []CycleWarning{}
	}

	graph := buildDependencyGraph(rules)
	sccs := tarjanSCC(graph)

	warnings := []CycleWarning{}
	for _, scc := range sccs {
		if len(scc) > 1 || (len(scc) == 1 && hasSelfLoop(scc[0], graph)) {
			warnings = append(warnings, cycleSCCToWarning(scc, graph))
		}
	}
	slices.SortFunc(warnings, func(a, b CycleWarning) int {
		return cmp.Compare(a.Rules[0], b.Rules[0])
	})
	return warnings
}

// dependencyGraph maps a rule to the rules its writes can re-trigger.
type dependencyGraph struct {
	order []ir.RuleID // ascending
	names map[ir.RuleID]string
	edges map[ir.RuleID][]ir.RuleID
	// via records the attributes behind each edge.
	via map[[2]ir.RuleID][]string
}

func (g *dependencyGraph) label(id ir.RuleID) string {
	if name := g.names[id]; name != "" {
		return fmt.Sprintf("%d(%s)", id, name)
	}
	return fmt.Sprintf("%d", id)
}

// buildDependencyGraph constructs the rule dependency graph.
//
// A condition that does not parse contributes only its declared reads;
// Validate reports the parse error separately.
func buildDependencyGraph(rules []ir.RuleSpec) *dependencyGraph {
	sorted := slices.Clone(rules)
	slices.SortStableFunc(sorted, func(a, b ir.RuleSpec) int { return cmp.Compare(a.ID, b.ID) })

	g := &dependencyGraph{
		names: make(map[ir.RuleID]string),
		edges: make(map[ir.RuleID][]ir.RuleID),
		via:   make(map[[2]ir.RuleID][]string),
	}

	reads := make(map[ir.RuleID][]string, len(sorted))
	for _, r := range sorted {
		if _, seen := g.names[r.ID]; seen {
			continue
		}
		g.order = append(g.order, r.ID)
		g.names[r.ID] = r.Name

		rs := slices.Clone(r.Reads)
		if cond, err := engine.ParseCondition(r.When); err == nil {
			rs = append(rs, cond.Reads...)
			if cond.UsesGraph {
				rs = append(rs, engine.GraphAttribute)
			}
		}
		slices.Sort(rs)
		reads[r.ID] = slices.Compact(rs)
	}

	for _, w := range sorted {
		for _, r := range g.order {
			var shared []string
			for _, attr := range w.Writes {
				if _, ok := slices.BinarySearch(reads[r], attr); ok {
					shared = append(shared, attr)
				}
			}
			if len(shared) == 0 {
				continue
			}
			key := [2]ir.RuleID{w.ID, r}
			if _, dup := g.via[key]; !dup {
				g.edges[w.ID] = append(g.edges[w.ID], r)
			}
			slices.Sort(shared)
			g.via[key] = slices.Compact(append(g.via[key], shared...))
		}
	}

	return g
}

// hasSelfLoop checks if a node has an edge to itself.
func hasSelfLoop(node ir.RuleID, g *dependencyGraph) bool {
	return slices.Contains(g.edges[node], node)
}

// tarjanSCC finds strongly connected components using Tarjan's algorithm.
//
// Returns a list of SCCs, where each SCC is a list of rule ids.
// Single-node SCCs without self-loops are NOT cycles.
func tarjanSCC(g *dependencyGraph) [][]ir.RuleID {
	var (
		index   = 0
		stack   []ir.RuleID
		indices = make(map[ir.RuleID]int)
		lowlink = make(map[ir.RuleID]int)
		onStack = make(map[ir.RuleID]bool)
		sccs    [][]ir.RuleID
	)

	var strongConnect func(ir.RuleID)
	strongConnect = func(v ir.RuleID) {
		// Set the depth index for v
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		// Consider successors of v
		for _, w := range g.edges[v] {
			if _, visited := indices[w]; !visited {
				// Successor w has not yet been visited; recurse on it
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				// Successor w is on stack and hence in the current SCC
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		// If v is a root node, pop the stack and create an SCC
		if lowlink[v] == indices[v] {
			var scc []ir.RuleID
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			slices.Sort(scc)
			sccs = append(sccs, scc)
		}
	}

	for _, node := range g.order {
		if _, visited := indices[node]; !visited {
			strongConnect(node)
		}
	}

	return sccs
}

// cycleSCCToWarning converts an SCC to a CycleWarning.
//
// For self-loops, the path is [rule, rule].
// For multi-node cycles, the path shows a cycle traversal.
func cycleSCCToWarning(scc []ir.RuleID, g *dependencyGraph) CycleWarning {
	ids := reconstructCyclePath(scc, g)
	path := make([]string, len(ids))
	for i, id := range ids {
		path[i] = g.label(id)
	}

	var attrs []string
	for i := 0; i+1 < len(ids); i++ {
		attrs = append(attrs, g.via[[2]ir.RuleID{ids[i], ids[i+1]}]...)
	}
	slices.Sort(attrs)
	attrs = slices.Compact(attrs)

	w := CycleWarning{
		Path:       path,
		Rules:      scc,
		Attributes: attrs,
		Level:      "warning",
	}
	if len(scc) == 1 {
		w.Message = fmt.Sprintf("Self-triggering rule detected: %s writes %s, which it reads",
			path[0], strings.Join(attrs, ", "))
		return w
	}
	w.Message = fmt.Sprintf("Potential cycle detected: %s (via %s)",
		strings.Join(path, " → "), strings.Join(attrs, ", "))
	return w
}

// reconstructCyclePath builds a cycle path from an SCC.
//
// Strategy: Start at the lowest id in the SCC, follow edges to other SCC
// members, continue until we return to start node.
func reconstructCyclePath(scc []ir.RuleID, g *dependencyGraph) []ir.RuleID {
	if len(scc) == 0 {
		return []ir.RuleID{}
	}
	start := scc[0]
	if len(scc) == 1 {
		return []ir.RuleID{start, start}
	}

	current := start
	path := []ir.RuleID{current}
	visited := make(map[ir.RuleID]bool)

	for {
		visited[current] = true

		// Prefer an unvisited member; close the cycle only when none is left.
		var next ir.RuleID
		found := false
		for _, neighbor := range g.edges[current] {
			if neighbor != start && !visited[neighbor] && slices.Contains(scc, neighbor) {
				next, found = neighbor, true
				break
			}
		}
		if !found && slices.Contains(g.edges[current], start) {
			next, found = start, true
		}
		if !found {
			break
		}

		path = append(path, next)
		if next == start {
			break
		}
		current = next
	}

	return path
}
