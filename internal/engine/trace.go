package engine

import (
	"slices"

	"github.com/roach88/kern/internal/ir"
)

// TraceKind classifies trace events.
type TraceKind string

const (
	TraceCycleStart TraceKind = "cycle_start"
	TraceMatched    TraceKind = "matched"
	TraceScheduled  TraceKind = "scheduled"
	TraceFired      TraceKind = "fired"
	TraceWrite      TraceKind = "write"
	TraceDropped    TraceKind = "dropped"
	TraceHalt       TraceKind = "halt"
	TraceFixpoint   TraceKind = "fixpoint"
)

// TraceEvent is one entry of a run's execution trace.
//
// INVARIANTS:
//   - Seq is dense and strictly increasing; a fresh run starts at 1 unless
//     the engine was given a clock that resumes a stored prefix
//   - events carry no wall-clock time, so identical runs have identical
//     traces
type TraceEvent struct {
	Seq       int64     `json:"seq"`
	Cycle     int64     `json:"cycle"`
	Kind      TraceKind `json:"kind"`
	RuleID    ir.RuleID `json:"rule_id,omitempty"`
	Attribute string    `json:"attribute,omitempty"`
	Value     ir.Value  `json:"value,omitempty"`
	Detail    string    `json:"detail,omitempty"`
}

// Object converts the event to a canonical-compatible value.
func (t TraceEvent) Object() ir.Object {
	var val ir.Value = ir.Null{}
	if t.Value != nil {
		val = t.Value
	}
	return ir.Object{
		"seq":       ir.Int(t.Seq),
		"cycle":     ir.Int(t.Cycle),
		"kind":      ir.Sym(t.Kind),
		"rule_id":   ir.Int(t.RuleID),
		"attribute": ir.Sym(t.Attribute),
		"value":     val,
		"detail":    ir.Sym(t.Detail),
	}
}

// TraceHash digests a trace.
func TraceHash(events []TraceEvent) (string, error) {
	vec := make(ir.Vec, len(events))
	for i, ev := range events {
		vec[i] = ev.Object()
	}
	return ir.TraceHash(vec)
}

// traceLog is a run's trace. Seq numbers come from the logical clock.
type traceLog struct {
	clock  *Clock
	events []TraceEvent
}

func (t *traceLog) add(ev TraceEvent) {
	ev.Seq = t.clock.Next()
	t.events = append(t.events, ev)
}

// since returns the events with Seq > seq.
func (t *traceLog) since(seq int64) []TraceEvent {
	i := slices.IndexFunc(t.events, func(ev TraceEvent) bool { return ev.Seq > seq })
	if i < 0 {
		return nil
	}
	return slices.Clone(t.events[i:])
}

func (t *traceLog) all() []TraceEvent { return slices.Clone(t.events) }

func (t *traceLog) last() int64 { return t.clock.Current() }
