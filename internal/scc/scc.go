// Package scc maintains the strongly connected components of a directed multigraph under edge
// insertions and deletions, together with the condensed (reduced) graph and a topological order
// of the condensation.
//
// An insertion between two components merges exactly the components lying on a path from the
// target back to the source in the reduced graph. A deletion inside a component reruns Tarjan's
// algorithm restricted to that component's members. Everything else only touches edge counts.
package scc

import (
	"fmt"

	"github.com/l7mp/rete/internal/graph"
)

// Effect summarizes the consequences of a structural change.
type Effect struct {
	// EdgeChanged is set when the edge set changed, i.e., a first instance of an edge was
	// inserted or its last instance was removed.
	EdgeChanged bool
	// PartitionChanged is set when components were merged or split.
	PartitionChanged bool
	// TrivialityChanged is set when some component became trivial or stopped being trivial.
	TrivialityChanged bool
}

// Merge combines two effects.
func (e Effect) Merge(o Effect) Effect {
	return Effect{
		EdgeChanged:       e.EdgeChanged || o.EdgeChanged,
		PartitionChanged:  e.PartitionChanged || o.PartitionChanged,
		TrivialityChanged: e.TrivialityChanged || o.TrivialityChanged,
	}
}

func (e Effect) String() string {
	return fmt.Sprintf("edge=%t partition=%t triviality=%t", e.EdgeChanged, e.PartitionChanged,
		e.TrivialityChanged)
}

// SCC is an incrementally maintained component partition.
type SCC[N comparable] struct {
	g       *graph.Graph[N]
	reduced *graph.Graph[N]
	rep     map[N]N
	members map[N]map[N]bool
	topo    []N
	rank    map[N]int
}

// New creates an empty tracker.
func New[N comparable]() *SCC[N] {
	return &SCC[N]{
		g:       graph.New[N](),
		reduced: graph.New[N](),
		rep:     map[N]N{},
		members: map[N]map[N]bool{},
	}
}

// Graph returns the underlying graph. Callers must not mutate it.
func (s *SCC[N]) Graph() *graph.Graph[N] { return s.g }

// Reduced returns the condensation over representatives. Callers must not mutate it.
func (s *SCC[N]) Reduced() *graph.Graph[N] { return s.reduced }

// AddNode registers a vertex as its own component. Idempotent.
func (s *SCC[N]) AddNode(n N) bool {
	if !s.g.AddNode(n) {
		return false
	}
	s.rep[n] = n
	s.members[n] = map[N]bool{n: true}
	s.reduced.AddNode(n)
	s.invalidate()
	return true
}

// HasNode reports whether a vertex is known.
func (s *SCC[N]) HasNode(n N) bool { return s.g.HasNode(n) }

// Representative returns the representative of the component containing n.
func (s *SCC[N]) Representative(n N) (N, bool) {
	r, ok := s.rep[n]
	return r, ok
}

// Members returns the members of the component represented by rep in insertion order.
func (s *SCC[N]) Members(rep N) []N {
	ms := make([]N, 0, len(s.members[rep]))
	for m := range s.members[rep] {
		ms = append(ms, m)
	}
	s.g.SortNodes(ms)
	return ms
}

// Partition returns the current components keyed by representative.
func (s *SCC[N]) Partition() map[N][]N {
	ret := make(map[N][]N, len(s.members))
	for r := range s.members {
		ret[r] = s.Members(r)
	}
	return ret
}

// IsTrivial reports whether the component represented by rep is a single vertex without a
// self-loop.
func (s *SCC[N]) IsTrivial(rep N) bool {
	ms := s.members[rep]
	if len(ms) != 1 {
		return false
	}
	return !s.g.HasEdge(rep, rep)
}

// SameComponent reports whether two vertices share a component.
func (s *SCC[N]) SameComponent(a, b N) bool {
	ra, ok := s.rep[a]
	if !ok {
		return false
	}
	rb, ok := s.rep[b]
	return ok && ra == rb
}

// InsertEdge adds one instance of the edge from->to.
func (s *SCC[N]) InsertEdge(from, to N) Effect {
	s.AddNode(from)
	s.AddNode(to)

	if s.g.AddEdge(from, to) > 1 {
		return Effect{}
	}
	eff := Effect{EdgeChanged: true}

	rf, rt := s.rep[from], s.rep[to]
	if rf == rt {
		if from == to && len(s.members[rf]) == 1 {
			eff.TrivialityChanged = true
		}
		return eff
	}

	if s.reduced.AddEdge(rf, rt) == 1 {
		s.invalidate()
	}

	// the new edge closes a cycle iff rt already reaches rf
	forward := s.reduced.Reachable(rt, nil)
	if !forward[rf] {
		return eff
	}
	onPath := s.reduced.CoReachable(rf, func(n N) bool { return forward[n] })

	merged := make([]N, 0, len(onPath))
	for r := range onPath {
		merged = append(merged, r)
	}
	s.reduced.SortNodes(merged)

	for _, r := range merged {
		if s.IsTrivial(r) {
			eff.TrivialityChanged = true
		}
	}
	s.merge(rf, merged)
	eff.PartitionChanged = true

	return eff
}

// DeleteEdge removes one instance of the edge from->to. Deleting a nonexistent edge is a no-op.
func (s *SCC[N]) DeleteEdge(from, to N) Effect {
	if !s.g.HasEdge(from, to) {
		return Effect{}
	}
	if s.g.DelEdge(from, to) > 0 {
		return Effect{}
	}
	eff := Effect{EdgeChanged: true}

	rf, rt := s.rep[from], s.rep[to]
	if rf != rt {
		if s.reduced.DelEdge(rf, rt) == 0 {
			s.invalidate()
		}
		return eff
	}

	if from == to {
		if len(s.members[rf]) == 1 {
			eff.TrivialityChanged = true
		}
		return eff
	}

	members := s.Members(rf)
	comps := Components(members, s.g.Targets)
	if len(comps) == 1 {
		return eff
	}

	s.split(rf, comps)
	eff.PartitionChanged = true
	for _, c := range comps {
		if len(c) == 1 && !s.g.HasEdge(c[0], c[0]) {
			eff.TrivialityChanged = true
		}
	}

	return eff
}

// RemoveNode deletes a vertex together with all its edges.
func (s *SCC[N]) RemoveNode(n N) Effect {
	if !s.g.HasNode(n) {
		return Effect{}
	}

	eff := Effect{}
	for _, t := range s.g.Targets(n) {
		for s.g.HasEdge(n, t) {
			eff = eff.Merge(s.DeleteEdge(n, t))
		}
	}
	for _, f := range s.g.Sources(n) {
		for s.g.HasEdge(f, n) {
			eff = eff.Merge(s.DeleteEdge(f, n))
		}
	}

	r := s.rep[n]
	s.g.DelNode(n)
	s.reduced.DelNode(r)
	delete(s.rep, n)
	delete(s.members, r)
	s.invalidate()

	return eff
}

// TopologicalOrder returns the representatives ordered so that every reduced edge points
// forward. Ties are broken by insertion order. The result is cached until the next change of the
// reduced graph.
func (s *SCC[N]) TopologicalOrder() []N {
	if s.topo != nil {
		return s.topo
	}

	indeg := map[N]int{}
	for _, r := range s.reduced.Nodes() {
		indeg[r] = len(s.reduced.Sources(r))
	}

	order := make([]N, 0, s.reduced.Len())
	ready := []N{}
	for _, r := range s.reduced.Nodes() {
		if indeg[r] == 0 {
			ready = append(ready, r)
		}
	}

	for len(ready) > 0 {
		s.reduced.SortNodes(ready)
		r := ready[0]
		ready = ready[1:]
		order = append(order, r)
		for _, t := range s.reduced.Targets(r) {
			indeg[t]--
			if indeg[t] == 0 {
				ready = append(ready, t)
			}
		}
	}

	s.topo = order
	s.rank = make(map[N]int, len(order))
	for i, r := range order {
		s.rank[r] = i
	}
	return order
}

// Rank returns the topological index of the component containing n.
func (s *SCC[N]) Rank(n N) (int, bool) {
	r, ok := s.rep[n]
	if !ok {
		return 0, false
	}
	s.TopologicalOrder()
	i, ok := s.rank[r]
	return i, ok
}

func (s *SCC[N]) invalidate() {
	s.topo = nil
	s.rank = nil
}

// merge folds the given components into the one represented by into.
func (s *SCC[N]) merge(into N, reps []N) {
	all := map[N]bool{}
	for _, r := range reps {
		for m := range s.members[r] {
			all[m] = true
		}
		if r != into {
			delete(s.members, r)
		}
		s.reduced.DelNode(r)
	}

	s.members[into] = all
	for m := range all {
		s.rep[m] = into
	}

	s.reduced.AddNode(into)
	s.reconnect([]N{into}, all)
	s.invalidate()
}

// split replaces the component represented by old with the given components. The component
// containing old keeps it as representative; the others are represented by their earliest
// member.
func (s *SCC[N]) split(old N, comps [][]N) {
	former := s.members[old]
	delete(s.members, old)
	s.reduced.DelNode(old)

	reps := make([]N, 0, len(comps))
	for _, c := range comps {
		s.g.SortNodes(c)
		r := c[0]
		for _, m := range c {
			if m == old {
				r = old
			}
		}
		ms := map[N]bool{}
		for _, m := range c {
			ms[m] = true
			s.rep[m] = r
		}
		s.members[r] = ms
		reps = append(reps, r)
	}

	// keep representative creation order stable for tie-breaking
	s.g.SortNodes(reps)
	for _, r := range reps {
		s.reduced.AddNode(r)
	}

	s.reconnect(reps, former)
	s.invalidate()
}

// reconnect rebuilds the reduced edges incident to the given representatives, whose members are
// exactly scope.
func (s *SCC[N]) reconnect(reps []N, scope map[N]bool) {
	for _, r := range reps {
		for m := range s.members[r] {
			for _, t := range s.g.Targets(m) {
				if rt := s.rep[t]; rt != r {
					s.reduced.AddEdges(r, rt, s.g.EdgeCount(m, t))
				}
			}
			for _, f := range s.g.Sources(m) {
				if scope[f] {
					// counted once from the source side above
					continue
				}
				if rf := s.rep[f]; rf != r {
					s.reduced.AddEdges(rf, r, s.g.EdgeCount(f, m))
				}
			}
		}
	}
}
