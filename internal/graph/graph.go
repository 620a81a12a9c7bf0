// Package graph holds the execution graph the rule engine matches
// against and the VM's graph opcodes mutate.
//
// Nodes are kept in creation order and ids are never reused, so every
// enumeration the matcher performs is deterministic. A Graph is not safe
// for concurrent use; the engine is its single writer.
package graph

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/kern/internal/ir"
)

// NodeID identifies a node. Zero is never assigned.
type NodeID uint64

// Ref converts the id to a runtime value.
func (id NodeID) Ref() ir.Ref { return ir.Ref(id) }

// NodeKind classifies nodes.
type NodeKind uint8

const (
	KindOp NodeKind = iota
	KindRule
	KindControl
	KindGraph
	KindIo
)

var kindNames = [...]string{"Op", "Rule", "Control", "Graph", "Io"}

func (k NodeKind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("NodeKind(%d)", uint8(k))
}

// Valid reports whether k is a known kind.
func (k NodeKind) Valid() bool { return int(k) < len(kindNames) }

// ParseNodeKind resolves a kind name, case-insensitively.
func ParseNodeKind(s string) (NodeKind, error) {
	for i, name := range kindNames {
		if strings.EqualFold(name, s) {
			return NodeKind(i), nil
		}
	}
	return 0, fmt.Errorf("unknown node kind %q", s)
}

// EdgeKind classifies edges.
type EdgeKind uint8

const (
	EdgeData EdgeKind = iota
	EdgeControl
	EdgeCondition
)

var edgeNames = [...]string{"Data", "Control", "Condition"}

func (k EdgeKind) String() string {
	if int(k) < len(edgeNames) {
		return edgeNames[k]
	}
	return fmt.Sprintf("EdgeKind(%d)", uint8(k))
}

// Valid reports whether k is a known edge kind.
func (k EdgeKind) Valid() bool { return int(k) < len(edgeNames) }

// ParseEdgeKind resolves an edge kind name, case-insensitively.
func ParseEdgeKind(s string) (EdgeKind, error) {
	for i, name := range edgeNames {
		if strings.EqualFold(name, s) {
			return EdgeKind(i), nil
		}
	}
	return 0, fmt.Errorf("unknown edge kind %q", s)
}

// Node is a vertex of the execution graph.
type Node struct {
	ID    NodeID
	Kind  NodeKind
	Label string
	Attrs ir.Object
}

// Attr returns a node attribute.
func (n *Node) Attr(key string) (ir.Value, bool) {
	v, ok := n.Attrs[key]
	return v, ok
}

// Edge is a directed, typed connection.
type Edge struct {
	From NodeID
	To   NodeID
	Kind EdgeKind
}

// Graph is the execution graph.
type Graph struct {
	nodes   []*Node // creation order
	index   map[NodeID]*Node
	edges   []Edge
	nextID  NodeID
	version uint64
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{
		index:  make(map[NodeID]*Node),
		nextID: 1,
	}
}

// Version increases on every mutation. The matcher uses it to decide
// whether cached evaluations over node patterns are still valid.
func (g *Graph) Version() uint64 { return g.version }

// Len returns the number of live nodes.
func (g *Graph) Len() int { return len(g.nodes) }

// AddNode appends a node and returns its id.
func (g *Graph) AddNode(kind NodeKind, label string, attrs ir.Object) (NodeID, error) {
	if !kind.Valid() {
		return 0, &Error{Code: ErrCodeInvalidKind, Message: fmt.Sprintf("invalid node kind %d", kind)}
	}
	id := g.nextID
	g.nextID++

	if attrs == nil {
		attrs = ir.Object{}
	} else {
		attrs = attrs.Clone()
	}
	n := &Node{ID: id, Kind: kind, Label: label, Attrs: attrs}
	g.nodes = append(g.nodes, n)
	g.index[id] = n
	g.version++
	return id, nil
}

// Node returns the node with the given id.
func (g *Graph) Node(id NodeID) (*Node, bool) {
	n, ok := g.index[id]
	return n, ok
}

// Nodes returns live nodes in creation order.
// The slice is a copy; the nodes are not.
func (g *Graph) Nodes() []*Node {
	return slices.Clone(g.nodes)
}

// NodesOfKind returns live nodes of one kind in creation order.
func (g *Graph) NodesOfKind(kind NodeKind) []*Node {
	var out []*Node
	for _, n := range g.nodes {
		if n.Kind == kind {
			out = append(out, n)
		}
	}
	return out
}

// SetAttr sets one node attribute.
func (g *Graph) SetAttr(id NodeID, key string, v ir.Value) error {
	n, ok := g.index[id]
	if !ok {
		return notFound(id)
	}
	n.Attrs[key] = v
	g.version++
	return nil
}

// Connect adds a directed edge. Duplicate edges are ignored.
func (g *Graph) Connect(from, to NodeID, kind EdgeKind) error {
	if !kind.Valid() {
		return &Error{Code: ErrCodeInvalidKind, Message: fmt.Sprintf("invalid edge kind %d", kind)}
	}
	if _, ok := g.index[from]; !ok {
		return notFound(from)
	}
	if _, ok := g.index[to]; !ok {
		return notFound(to)
	}
	e := Edge{From: from, To: to, Kind: kind}
	if slices.Contains(g.edges, e) {
		return nil
	}
	g.edges = append(g.edges, e)
	g.version++
	return nil
}

// Edges returns all edges in insertion order.
func (g *Graph) Edges() []Edge {
	return slices.Clone(g.edges)
}

// Merge folds absorb into keep: absorb's edges are re-pointed at keep,
// attributes keep lacks are copied over, and absorb is deleted.
// Edges that would become self-loops through the merge are dropped.
func (g *Graph) Merge(keep, absorb NodeID) error {
	if keep == absorb {
		return &Error{Code: ErrCodeSelfMerge, NodeID: keep, Message: "cannot merge a node into itself"}
	}
	k, ok := g.index[keep]
	if !ok {
		return notFound(keep)
	}
	a, ok := g.index[absorb]
	if !ok {
		return notFound(absorb)
	}

	for _, key := range a.Attrs.SortedKeys() {
		if _, exists := k.Attrs[key]; !exists {
			k.Attrs[key] = a.Attrs[key]
		}
	}

	edges := make([]Edge, 0, len(g.edges))
	for _, e := range g.edges {
		touched := e.From == absorb || e.To == absorb
		if e.From == absorb {
			e.From = keep
		}
		if e.To == absorb {
			e.To = keep
		}
		if touched && e.From == e.To {
			continue
		}
		if slices.Contains(edges, e) {
			continue
		}
		edges = append(edges, e)
	}
	g.edges = edges

	g.removeNode(absorb)
	g.version++
	return nil
}

// Delete removes a node and its incident edges.
func (g *Graph) Delete(id NodeID) error {
	if _, ok := g.index[id]; !ok {
		return notFound(id)
	}
	g.edges = slices.DeleteFunc(g.edges, func(e Edge) bool {
		return e.From == id || e.To == id
	})
	g.removeNode(id)
	g.version++
	return nil
}

func (g *Graph) removeNode(id NodeID) {
	delete(g.index, id)
	g.nodes = slices.DeleteFunc(g.nodes, func(n *Node) bool { return n.ID == id })
}

// Clone returns a deep copy, including the id counter and version.
func (g *Graph) Clone() *Graph {
	out := &Graph{
		nodes:   make([]*Node, 0, len(g.nodes)),
		index:   make(map[NodeID]*Node, len(g.index)),
		edges:   slices.Clone(g.edges),
		nextID:  g.nextID,
		version: g.version,
	}
	for _, n := range g.nodes {
		cp := &Node{ID: n.ID, Kind: n.Kind, Label: n.Label, Attrs: n.Attrs.Clone()}
		out.nodes = append(out.nodes, cp)
		out.index[cp.ID] = cp
	}
	return out
}

// Snapshot renders the graph as a canonical-compatible value for state
// hashing and golden output.
func (g *Graph) Snapshot() ir.Object {
	nodes := make(ir.Vec, len(g.nodes))
	for i, n := range g.nodes {
		nodes[i] = ir.Object{
			"id":    n.ID.Ref(),
			"kind":  ir.Sym(n.Kind.String()),
			"label": ir.Sym(n.Label),
			"attrs": n.Attrs.Clone(),
		}
	}
	edges := make(ir.Vec, len(g.edges))
	for i, e := range g.edges {
		edges[i] = ir.Object{
			"from": e.From.Ref(),
			"to":   e.To.Ref(),
			"kind": ir.Sym(e.Kind.String()),
		}
	}
	return ir.Object{"nodes": nodes, "edges": edges}
}
