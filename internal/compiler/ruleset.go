package compiler

import (
	"cmp"
	"fmt"
	"slices"

	"cuelang.org/go/cue"

	"github.com/roach88/kern/internal/graph"
	"github.com/roach88/kern/internal/ir"
)

// RuleSet is a compiled rule-set file: rules plus the strategies, initial
// variables and graph fixture they run against.
type RuleSet struct {
	// Rules are in id order.
	Rules []ir.RuleSpec

	// Strategies maps attribute names to strategy strings; "*" sets the
	// default.
	Strategies map[string]string

	Variables ir.Object

	// Graph is the fixture in graph.Snapshot form.
	Graph ir.Object
}

// Hash returns the rule-set hash recorded with every run.
func (rs *RuleSet) Hash() (string, error) {
	return ir.RuleSetHash(rs.Rules)
}

// CompileRuleSet parses a whole rule-set value:
//
//	rule: bump: {
//		id:     1
//		when:   "n < 3"
//		then:   "..."
//		writes: ["n"]
//	}
//	strategies: { "*": "override", flag: "ignore" }
//	variables:  { n: 0 }
//	graph: {
//		nodes: [{kind: "Op", label: "sum", attrs: {cost: 2}}]
//		edges: [{from: 1, to: 2, kind: "Data"}]
//	}
//
// Rules without an id get the next free ids in declaration order. Node ids
// in the graph fixture are 1-based positions in nodes.
//
// Compilation stops at the first error; Validate reports semantic problems
// across the whole set.
func CompileRuleSet(v cue.Value) (*RuleSet, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	rs := &RuleSet{
		Strategies: map[string]string{},
		Variables:  ir.Object{},
		Graph:      ir.Object{},
	}

	rulesVal := v.LookupPath(cue.ParsePath("rule"))
	if rulesVal.Exists() {
		iter, err := rulesVal.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for iter.Next() {
			spec, err := CompileRule(iter.Value())
			if err != nil {
				return nil, fmt.Errorf("rule %s: %w", iter.Label(), err)
			}
			rs.Rules = append(rs.Rules, *spec)
		}
	}
	assignIDs(rs.Rules)
	slices.SortStableFunc(rs.Rules, func(a, b ir.RuleSpec) int {
		return cmp.Compare(a.ID, b.ID)
	})

	if sv := v.LookupPath(cue.ParsePath("strategies")); sv.Exists() {
		iter, err := sv.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for iter.Next() {
			s, err := iter.Value().String()
			if err != nil {
				return nil, fieldError("strategies."+iter.Label(), iter.Value(), err)
			}
			rs.Strategies[iter.Label()] = s
		}
	}

	if vv := v.LookupPath(cue.ParsePath("variables")); vv.Exists() {
		val, err := valueFromCUE(vv)
		if err != nil {
			return nil, err
		}
		obj, ok := val.(ir.Object)
		if !ok {
			return nil, &CompileError{Field: "variables", Message: "variables must be a struct", Pos: vv.Pos()}
		}
		rs.Variables = obj
	}

	if gv := v.LookupPath(cue.ParsePath("graph")); gv.Exists() {
		snap, err := compileGraph(gv)
		if err != nil {
			return nil, err
		}
		rs.Graph = snap
	}

	return rs, nil
}

// assignIDs gives id-less rules the ids after the highest explicit one.
func assignIDs(rules []ir.RuleSpec) {
	var next ir.RuleID
	for _, r := range rules {
		next = max(next, r.ID)
	}
	for i := range rules {
		if rules[i].ID == 0 {
			next++
			rules[i].ID = next
		}
	}
}

// compileGraph builds the fixture through the graph package so that kinds
// and edge endpoints are checked exactly as at runtime.
func compileGraph(v cue.Value) (ir.Object, error) {
	g := graph.New()

	if nv := v.LookupPath(cue.ParsePath("nodes")); nv.Exists() {
		iter, err := nv.List()
		if err != nil {
			return nil, fieldError("graph.nodes", nv, err)
		}
		for i := 0; iter.Next(); i++ {
			node := iter.Value()
			field := fmt.Sprintf("graph.nodes[%d]", i)

			kindName, ok, err := lookupString(node, "kind")
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, &CompileError{Field: field + ".kind", Message: "node kind is required", Pos: node.Pos()}
			}
			kind, err := graph.ParseNodeKind(kindName)
			if err != nil {
				return nil, &CompileError{Field: field + ".kind", Message: err.Error(), Pos: node.Pos()}
			}
			label, _, err := lookupString(node, "label")
			if err != nil {
				return nil, err
			}

			var attrs ir.Object
			if av := node.LookupPath(cue.ParsePath("attrs")); av.Exists() {
				val, err := valueFromCUE(av)
				if err != nil {
					return nil, err
				}
				obj, ok := val.(ir.Object)
				if !ok {
					return nil, &CompileError{Field: field + ".attrs", Message: "attrs must be a struct", Pos: av.Pos()}
				}
				attrs = obj
			}

			if _, err := g.AddNode(kind, label, attrs); err != nil {
				return nil, &CompileError{Field: field, Message: err.Error(), Pos: node.Pos()}
			}
		}
	}

	if ev := v.LookupPath(cue.ParsePath("edges")); ev.Exists() {
		iter, err := ev.List()
		if err != nil {
			return nil, fieldError("graph.edges", ev, err)
		}
		for i := 0; iter.Next(); i++ {
			edge := iter.Value()
			field := fmt.Sprintf("graph.edges[%d]", i)

			from, _, err := lookupInt(edge, "from")
			if err != nil {
				return nil, err
			}
			to, _, err := lookupInt(edge, "to")
			if err != nil {
				return nil, err
			}
			kindName, ok, err := lookupString(edge, "kind")
			if err != nil {
				return nil, err
			}
			if !ok {
				kindName = graph.EdgeData.String()
			}
			kind, err := graph.ParseEdgeKind(kindName)
			if err != nil {
				return nil, &CompileError{Field: field + ".kind", Message: err.Error(), Pos: edge.Pos()}
			}
			if err := g.Connect(graph.NodeID(from), graph.NodeID(to), kind); err != nil {
				return nil, &CompileError{Field: field, Message: err.Error(), Pos: edge.Pos()}
			}
		}
	}

	return g.Snapshot(), nil
}

// valueFromCUE converts a concrete CUE value to a runtime value.
// Floats are forbidden; numbers must be integers.
func valueFromCUE(v cue.Value) (ir.Value, error) {
	path := v.Path().String()

	switch v.IncompleteKind() {
	case cue.NullKind:
		return ir.Null{}, nil
	case cue.BoolKind:
		b, err := v.Bool()
		if err != nil {
			return nil, fieldError(path, v, err)
		}
		return ir.Bool(b), nil
	case cue.IntKind:
		n, err := v.Int64()
		if err != nil {
			return nil, fieldError(path, v, err)
		}
		return ir.Int(n), nil
	case cue.StringKind:
		s, err := v.String()
		if err != nil {
			return nil, fieldError(path, v, err)
		}
		return ir.Sym(s), nil
	case cue.ListKind:
		iter, err := v.List()
		if err != nil {
			return nil, fieldError(path, v, err)
		}
		out := ir.Vec{}
		for iter.Next() {
			item, err := valueFromCUE(iter.Value())
			if err != nil {
				return nil, err
			}
			out = append(out, item)
		}
		return out, nil
	case cue.StructKind:
		iter, err := v.Fields()
		if err != nil {
			return nil, fieldError(path, v, err)
		}
		out := ir.Object{}
		for iter.Next() {
			item, err := valueFromCUE(iter.Value())
			if err != nil {
				return nil, err
			}
			out[iter.Label()] = item
		}
		return out, nil
	case cue.FloatKind, cue.NumberKind:
		return nil, &CompileError{
			Field:   path,
			Message: "float values are forbidden - use int instead",
			Pos:     v.Pos(),
		}
	default:
		return nil, &CompileError{
			Field:   path,
			Message: fmt.Sprintf("unsupported value kind: %v", v.IncompleteKind()),
			Pos:     v.Pos(),
		}
	}
}
