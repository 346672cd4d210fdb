package rete

import (
	"github.com/l7mp/rete/pkg/memory"
	"github.com/l7mp/rete/pkg/tuple"
	"github.com/l7mp/rete/pkg/util"
)

// vertexSet is a set of vertices keyed by the key of the vertex value.
type vertexSet map[string]bool

func (s vertexSet) sorted() []string { return util.SortedKeys(s) }

// TransitiveClosureNode maintains the set of pairs (x,y) such that y is reachable from x along
// one or more edges of its parent, a relation of width 2. Its output is a set.
type TransitiveClosureNode struct {
	nodeBase
	edges    *memory.Memory
	vertices map[string]any
	// out and in hold the distinct edges, reach and reachedBy the current closure
	out, in          map[string]vertexSet
	reach, reachedBy map[string]vertexSet
	mb               *defaultMailbox
}

// AddTransitiveClosure creates a transitive closure over an edge relation of width 2.
func (n *Network) AddTransitiveClosure(name string, parent NodeID) (NodeID, error) {
	if err := n.checkMutable(); err != nil {
		return NoNode, err
	}
	if n.timely {
		return NoNode, NewMisuseError("transitive closure %q is not supported in timely networks", name)
	}
	ps, err := n.supplierOf(parent)
	if err != nil {
		return NoNode, err
	}
	if ps.Width() != 2 {
		return NoNode, NewMisuseError("transitive closure needs an edge relation of width 2, parent %q has width %d",
			ps.Name(), ps.Width())
	}

	node := &TransitiveClosureNode{
		nodeBase:  nodeBase{name: name, kind: KindTransitiveClosure, width: 2},
		edges:     n.newMemory(tuple.Identity(2)),
		vertices:  map[string]any{},
		out:       map[string]vertexSet{},
		in:        map[string]vertexSet{},
		reach:     map[string]vertexSet{},
		reachedBy: map[string]vertexSet{},
	}
	node.mb = newDefaultMailbox(&node.nodeBase)
	return n.addWithParents(&node.nodeBase, node, parent)
}

func (tc *TransitiveClosureNode) mailbox() mailbox { return tc.mb }
func (tc *TransitiveClosureNode) stored() int      { return tc.edges.Size() }
func (tc *TransitiveClosureNode) String() string   { return "transitive-closure" }

func vertexKey(v any) string { return tuple.New(v).Key() }

func addPair(m map[string]vertexSet, a, b string) bool {
	s, ok := m[a]
	if !ok {
		s = vertexSet{}
		m[a] = s
	}
	if s[b] {
		return false
	}
	s[b] = true
	return true
}

func removePair(m map[string]vertexSet, a, b string) {
	if s, ok := m[a]; ok {
		delete(s, b)
		if len(s) == 0 {
			delete(m, a)
		}
	}
}

func (tc *TransitiveClosureNode) pair(a, b string) tuple.Tuple {
	return tuple.New(tc.vertices[a], tc.vertices[b])
}

func (tc *TransitiveClosureNode) update(net *Network, _ Slot, dir tuple.Direction, t tuple.Tuple, ts tuple.Timestamp) error {
	ch, err := applyChange(tc.edges, dir, t, ts)
	if err != nil {
		return NewConsistencyError(tc.name, err)
	}
	// repeated edges do not change reachability
	if ch.Replacement.IsZero() {
		return nil
	}

	x, y := vertexKey(t.Get(0)), vertexKey(t.Get(1))
	if dir == tuple.Insert {
		tc.vertices[x], tc.vertices[y] = t.Get(0), t.Get(1)
		return tc.insertEdge(net, x, y)
	}
	return tc.deleteEdge(net, x, y)
}

// insertEdge connects every vertex reaching x, and x itself, to y and every vertex y reaches.
func (tc *TransitiveClosureNode) insertEdge(net *Network, x, y string) error {
	addPair(tc.out, x, y)
	addPair(tc.in, y, x)

	sources := append([]string{x}, tc.reachedBy[x].sorted()...)
	targets := append([]string{y}, tc.reach[y].sorted()...)
	for _, s := range sources {
		for _, d := range targets {
			if !addPair(tc.reach, s, d) {
				continue
			}
			addPair(tc.reachedBy, d, s)
			if err := net.propagate(tc.id, tuple.Insert, tc.pair(s, d), tuple.Zero); err != nil {
				return err
			}
		}
	}
	return nil
}

// deleteEdge recomputes the reachability of every vertex that could have used the edge.
func (tc *TransitiveClosureNode) deleteEdge(net *Network, x, y string) error {
	removePair(tc.out, x, y)
	removePair(tc.in, y, x)

	for _, s := range append([]string{x}, tc.reachedBy[x].sorted()...) {
		fresh := tc.bfs(s)
		for _, d := range tc.reach[s].sorted() {
			if fresh[d] {
				continue
			}
			removePair(tc.reach, s, d)
			removePair(tc.reachedBy, d, s)
			if err := net.propagate(tc.id, tuple.Delete, tc.pair(s, d), tuple.Zero); err != nil {
				return err
			}
		}
	}
	tc.gc(x)
	tc.gc(y)
	return nil
}

// bfs returns the vertices reachable from s along at least one edge.
func (tc *TransitiveClosureNode) bfs(s string) vertexSet {
	seen := vertexSet{}
	queue := tc.out[s].sorted()
	for len(queue) > 0 {
		v := queue[0]
		queue = queue[1:]
		if seen[v] {
			continue
		}
		seen[v] = true
		queue = append(queue, tc.out[v].sorted()...)
	}
	return seen
}

// gc forgets a vertex that no edge mentions anymore.
func (tc *TransitiveClosureNode) gc(v string) {
	if len(tc.out[v]) == 0 && len(tc.in[v]) == 0 {
		delete(tc.vertices, v)
	}
}

func (tc *TransitiveClosureNode) contents(*Network) ([]tuple.Stamped, error) {
	ret := []tuple.Stamped{}
	for _, s := range util.SortedKeys(tc.reach) {
		for _, d := range tc.reach[s].sorted() {
			ret = append(ret, tuple.Stamped{Tuple: tc.pair(s, d), Timestamp: tuple.Zero})
		}
	}
	return ret, nil
}
