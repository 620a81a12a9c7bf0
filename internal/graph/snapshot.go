package graph

import (
	"fmt"

	"github.com/roach88/kern/internal/ir"
)

// Restore rebuilds a graph from a Snapshot. Node ids, creation order and
// edges are preserved; the next id follows the highest restored id.
func Restore(snap ir.Object) (*Graph, error) {
	g := New()
	if len(snap) == 0 {
		return g, nil
	}

	nodes, err := vecField(snap, "nodes")
	if err != nil {
		return nil, err
	}
	for i, raw := range nodes {
		obj, ok := raw.(ir.Object)
		if !ok {
			return nil, fmt.Errorf("restore graph: nodes[%d]: expected object, got %s", i, raw.Kind())
		}
		ref, ok := obj["id"].(ir.Ref)
		if !ok || ref == 0 {
			return nil, fmt.Errorf("restore graph: nodes[%d]: missing node id", i)
		}
		kindName, _ := obj["kind"].(ir.Sym)
		kind, err := ParseNodeKind(string(kindName))
		if err != nil {
			return nil, fmt.Errorf("restore graph: nodes[%d]: %w", i, err)
		}
		id := NodeID(ref)
		if _, dup := g.index[id]; dup {
			return nil, fmt.Errorf("restore graph: duplicate node id %d", id)
		}
		label, _ := obj["label"].(ir.Sym)
		attrs, _ := obj["attrs"].(ir.Object)
		if len(attrs) == 0 {
			attrs = nil
		}

		n := &Node{ID: id, Kind: kind, Label: string(label), Attrs: attrs.Clone()}
		g.nodes = append(g.nodes, n)
		g.index[id] = n
		if id >= g.nextID {
			g.nextID = id + 1
		}
	}

	edges, err := vecField(snap, "edges")
	if err != nil {
		return nil, err
	}
	for i, raw := range edges {
		obj, ok := raw.(ir.Object)
		if !ok {
			return nil, fmt.Errorf("restore graph: edges[%d]: expected object, got %s", i, raw.Kind())
		}
		from, _ := obj["from"].(ir.Ref)
		to, _ := obj["to"].(ir.Ref)
		kindName, _ := obj["kind"].(ir.Sym)
		kind, err := ParseEdgeKind(string(kindName))
		if err != nil {
			return nil, fmt.Errorf("restore graph: edges[%d]: %w", i, err)
		}
		if err := g.Connect(NodeID(from), NodeID(to), kind); err != nil {
			return nil, fmt.Errorf("restore graph: edges[%d]: %w", i, err)
		}
	}
	g.version = 0
	return g, nil
}

func vecField(obj ir.Object, key string) (ir.Vec, error) {
	switch v := obj[key].(type) {
	case nil, ir.Null:
		return nil, nil
	case ir.Vec:
		return v, nil
	default:
		return nil, fmt.Errorf("restore graph: %s: expected list, got %s", key, v.Kind())
	}
}
