package engine

import (
	"context"
	"fmt"

	"github.com/roach88/kern/internal/graph"
	"github.com/roach88/kern/internal/ir"
)

// gateEntry tracks one conflicted attribute during execution.
type gateEntry struct {
	res          Resolution
	values       []ir.Value
	contributors []ir.RuleID
}

// current returns the rule whose actions are executing, nil outside a
// firing.
func (e *Engine) current() *Rule {
	if n := len(e.firing); n > 0 {
		return e.firing[n-1]
	}
	return nil
}

// admit decides whether the executing rule's write to attr takes effect.
//
// INVARIANTS:
//   - a write outside the write-set is an UNDECLARED_WRITE error
//   - an unconflicted write applies immediately, so later actions in the
//     same cycle observe it
//   - Override and Ignore apply only the winner's writes
//   - Merge defers every contribution to commit
func (e *Engine) admit(attr string, v ir.Value) (bool, error) {
	r := e.current()
	if r == nil {
		return true, nil
	}
	if !r.Declares(attr) {
		return false, &RuntimeError{
			Code:      ErrCodeUndeclaredWrite,
			RuleID:    r.ID,
			Attribute: attr,
			Cycle:     e.cycle,
			Message:   fmt.Sprintf("rule %s writes %q outside its write-set %v", r, attr, r.Writes),
		}
	}

	g, conflicted := e.gate[attr]
	if !conflicted {
		return true, nil
	}
	switch g.res.Strategy.Kind {
	case StrategyOverride, StrategyIgnore:
		if r.ID == g.res.Winner() {
			return true, nil
		}
		if g.res.Strategy.Kind == StrategyIgnore {
			e.resolver.Record(HistoryEntry{
				Cycle:     e.cycle,
				Kind:      HistoryDropped,
				Attribute: attr,
				Strategy:  g.res.Strategy.String(),
				Winner:    g.res.Winner(),
				RuleID:    r.ID,
				Value:     v,
			})
		}
		e.emit(TraceEvent{Kind: TraceDropped, RuleID: r.ID, Attribute: attr, Value: v, Detail: g.res.Strategy.String()})
		return false, nil
	case StrategyMerge:
		g.values = append(g.values, v)
		g.contributors = append(g.contributors, r.ID)
		return false, nil
	}
	return false, fmt.Errorf("attribute %q: strategy %s cannot gate writes", attr, g.res.Strategy)
}

// gateWrite is the VM write hook.
func (e *Engine) gateWrite(name string, v ir.Value) (bool, error) {
	apply, err := e.admit(name, v)
	if err != nil || !apply {
		return false, err
	}
	e.noteWrite(name, v)
	return true, nil
}

// noteWrite bumps the variable's version when the value changes and
// traces the write. Called just before the VM applies it.
func (e *Engine) noteWrite(name string, v ir.Value) {
	old, ok := e.vm.Var(name)
	if !ok || !ir.Equal(old, v) {
		e.versions[name]++
	}
	var rule ir.RuleID
	if r := e.current(); r != nil {
		rule = r.ID
	}
	e.emit(TraceEvent{Kind: TraceWrite, RuleID: rule, Attribute: name, Value: v})
}

// commitMerges folds Merge contributions in execution order and applies
// them.
func (e *Engine) commitMerges() error {
	for _, attr := range e.merges {
		g := e.gate[attr]
		// Graph operations under Merge were applied as they ran and leave
		// no values to fold.
		if len(g.values) == 0 {
			continue
		}
		v, err := e.resolver.Fold(g.res.Strategy, attr, g.values)
		if err != nil {
			return err
		}
		e.noteWrite(attr, v)
		e.vm.SetVar(attr, v)
		e.resolver.Record(HistoryEntry{
			Cycle:     e.cycle,
			Kind:      HistoryMerged,
			Attribute: attr,
			Strategy:  g.res.Strategy.String(),
			Losers:    append([]ir.RuleID(nil), g.contributors...),
			Value:     v,
		})
	}
	return nil
}

// graphGate mediates the graph opcodes through the write gate under the
// reserved attribute "graph".
type graphGate struct{ e *Engine }

func (g graphGate) traced(op string) {
	var rule ir.RuleID
	if r := g.e.current(); r != nil {
		rule = r.ID
	}
	g.e.emit(TraceEvent{Kind: TraceWrite, RuleID: rule, Attribute: GraphAttribute, Value: ir.Sym(op)})
}

func (g graphGate) CreateNode(kind graph.NodeKind, label string) (graph.NodeID, error) {
	if ok, err := g.mergeOrAdmit("create_node"); !ok || err != nil {
		return 0, err
	}
	id, err := g.e.graph.AddNode(kind, label, nil)
	if err == nil {
		g.traced("create_node")
	}
	return id, err
}

func (g graphGate) Connect(from, to graph.NodeID, kind graph.EdgeKind) error {
	if ok, err := g.mergeOrAdmit("connect"); !ok || err != nil {
		return err
	}
	err := g.e.graph.Connect(from, to, kind)
	if err == nil {
		g.traced("connect")
	}
	return err
}

func (g graphGate) Merge(keep, absorb graph.NodeID) error {
	if ok, err := g.mergeOrAdmit("merge"); !ok || err != nil {
		return err
	}
	err := g.e.graph.Merge(keep, absorb)
	if err == nil {
		g.traced("merge")
	}
	return err
}

func (g graphGate) DeleteNode(id graph.NodeID) error {
	if ok, err := g.mergeOrAdmit("delete_node"); !ok || err != nil {
		return err
	}
	err := g.e.graph.Delete(id)
	if err == nil {
		g.traced("delete_node")
	}
	return err
}

// mergeOrAdmit admits a graph operation. Under a Merge strategy every
// contender's operation applies immediately, in execution order.
func (g graphGate) mergeOrAdmit(op string) (bool, error) {
	r := g.e.current()
	if gate, ok := g.e.gate[GraphAttribute]; ok && gate.res.Strategy.Kind == StrategyMerge && r != nil && r.Declares(GraphAttribute) {
		gate.contributors = append(gate.contributors, r.ID)
		return true, nil
	}
	return g.e.admit(GraphAttribute, ir.Sym(op))
}

// ruleHost serves CALL_RULE and CHECK_CONDITION.
type ruleHost struct{ e *Engine }

// CallRule runs the callee's actions with no bindings, nested inside the
// caller's firing. The callee's own write-set governs its writes.
func (h ruleHost) CallRule(ctx context.Context, id ir.RuleID) error {
	r, ok := h.e.rules.Get(id)
	if !ok {
		return &RuntimeError{Code: ErrCodeUnknownRule, RuleID: id, Message: fmt.Sprintf("CALL_RULE: rule %d is not registered", id)}
	}
	return h.e.fire(ctx, r, ir.Object{})
}

// CheckCondition evaluates the rule's condition against live state.
func (h ruleHost) CheckCondition(_ context.Context, id ir.RuleID) (bool, error) {
	r, ok := h.e.rules.Get(id)
	if !ok {
		return false, &RuntimeError{Code: ErrCodeUnknownRule, RuleID: id, Message: fmt.Sprintf("CHECK_CONDITION: rule %d is not registered", id)}
	}
	return h.e.matcher.Check(h.e.matchState(), r)
}
