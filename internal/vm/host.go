package vm

import (
	"context"
	"fmt"

	"github.com/roach88/kern/internal/graph"
	"github.com/roach88/kern/internal/ir"
)

// GraphHost receives the graph opcodes.
type GraphHost interface {
	CreateNode(kind graph.NodeKind, label string) (graph.NodeID, error)
	Connect(from, to graph.NodeID, kind graph.EdgeKind) error
	Merge(keep, absorb graph.NodeID) error
	DeleteNode(id graph.NodeID) error
}

// RuleHost receives CALL_RULE and CHECK_CONDITION.
type RuleHost interface {
	CallRule(ctx context.Context, id ir.RuleID) error
	CheckCondition(ctx context.Context, id ir.RuleID) (bool, error)
}

// WriteHook intercepts SET_SYMBOL. Returning apply=false discards the
// write silently; an error aborts execution.
type WriteHook func(name string, v ir.Value) (apply bool, err error)

// ExternFunc is a host function reachable through CALL_EXTERN.
type ExternFunc func(ctx context.Context, args []int64) (int64, error)

// Channel is an IO endpoint reachable through READ_IO and WRITE_IO.
type Channel interface {
	Read(ctx context.Context) (int64, error)
	Write(ctx context.Context, v int64) error
}

// GraphAdapter exposes a *graph.Graph as a GraphHost with no mediation.
type GraphAdapter struct {
	G *graph.Graph
}

func (a GraphAdapter) CreateNode(kind graph.NodeKind, label string) (graph.NodeID, error) {
	return a.G.AddNode(kind, label, nil)
}

func (a GraphAdapter) Connect(from, to graph.NodeID, kind graph.EdgeKind) error {
	return a.G.Connect(from, to, kind)
}

func (a GraphAdapter) Merge(keep, absorb graph.NodeID) error {
	return a.G.Merge(keep, absorb)
}

func (a GraphAdapter) DeleteNode(id graph.NodeID) error {
	return a.G.Delete(id)
}

// BufferChannel is an in-memory channel: reads consume In, writes append
// to Out.
type BufferChannel struct {
	In  []int64
	Out []int64
}

func (b *BufferChannel) Read(context.Context) (int64, error) {
	if len(b.In) == 0 {
		return 0, fmt.Errorf("channel empty")
	}
	v := b.In[0]
	b.In = b.In[1:]
	return v, nil
}

func (b *BufferChannel) Write(_ context.Context, v int64) error {
	b.Out = append(b.Out, v)
	return nil
}
