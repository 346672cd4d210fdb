package rete

import (
	"container/heap"

	"github.com/go-logr/logr"

	"github.com/l7mp/rete/internal/scc"
)

// tracker maintains the dependency graph of a network, its strongly connected components and
// the communication groups derived from them, and schedules groups with pending work in
// dependency order.
type tracker struct {
	net     *Network
	scc     *scc.SCC[NodeID]
	groupOf map[NodeID]*group
	groups  []*group
	queue   groupQueue
	maxRank int
	log     logr.Logger
}

func newTracker(net *Network, logger logr.Logger) *tracker {
	return &tracker{
		net:     net,
		scc:     scc.New[NodeID](),
		groupOf: map[NodeID]*group{},
		log:     logger.WithName("tracker"),
	}
}

// addNode registers an isolated node. Without edges any rank is consistent, so it goes last.
func (t *tracker) addNode(id NodeID) {
	if !t.scc.AddNode(id) {
		return
	}
	t.maxRank++
	g := newGroup(t.classify(id, []NodeID{id}), id, t.maxRank, []NodeID{id})
	t.groupOf[id] = g
	t.groups = append(t.groups, g)
	t.refreshMailbox(id)
}

// removeNode drops a node whose edges have already been unregistered.
func (t *tracker) removeNode(id NodeID) {
	eff := t.scc.RemoveNode(id)
	if g, ok := t.groupOf[id]; ok {
		for _, k := range messageKinds {
			g.queued[k].remove(id)
		}
		g.rederivables.remove(id)
		if len(g.members) == 1 {
			t.queue.deactivate(g)
			for i, x := range t.groups {
				if x == g {
					t.groups = append(t.groups[:i:i], t.groups[i+1:]...)
					break
				}
			}
		}
		delete(t.groupOf, id)
	}
	if eff.PartitionChanged || eff.TrivialityChanged {
		t.precomputeGroups()
	}
}

// registerDependency records that source may send messages to target.
func (t *tracker) registerDependency(source, target NodeID) {
	same := t.scc.SameComponent(source, target)
	eff := t.scc.InsertEdge(source, target)
	if !eff.EdgeChanged {
		return
	}
	t.log.V(4).Info("dependency registered", "source", t.net.nameOf(source),
		"target", t.net.nameOf(target), "effect", eff.String())

	if same && !eff.TrivialityChanged {
		t.refreshAround(target)
		return
	}
	// an edge that already points forward in rank order leaves the current ranks consistent
	if gs, gt := t.groupOf[source], t.groupOf[target]; gs != nil && gt != nil && gs != gt &&
		!eff.PartitionChanged && !eff.TrivialityChanged && gs.rank < gt.rank {
		t.refreshAround(target)
		return
	}
	t.precomputeGroups()
}

// unregisterDependency removes one instance of a dependency.
func (t *tracker) unregisterDependency(source, target NodeID) {
	same := t.scc.SameComponent(source, target)
	eff := t.scc.DeleteEdge(source, target)
	if !eff.EdgeChanged {
		return
	}
	t.log.V(4).Info("dependency unregistered", "source", t.net.nameOf(source),
		"target", t.net.nameOf(target), "effect", eff.String())

	// a deleted edge between components leaves the current ranks consistent
	if !same || (!eff.PartitionChanged && !eff.TrivialityChanged) {
		t.refreshAround(target)
		return
	}
	t.precomputeGroups()
}

// precomputeGroups rebuilds the group map from the current components and their topological
// order. Pending mailboxes and re-derivations migrate into the new groups. The cost is linear in
// the size of the network plus the sorting done by the topological order, so it only runs for
// edges that merge or split components or point backwards in rank order.
func (t *tracker) precomputeGroups() {
	old := t.groups
	order := t.scc.TopologicalOrder()

	t.groups = make([]*group, 0, len(order))
	t.groupOf = make(map[NodeID]*group, len(t.groupOf))
	for rank, rep := range order {
		members := t.scc.Members(rep)
		g := newGroup(t.classify(rep, members), rep, rank, members)
		t.groups = append(t.groups, g)
		for _, m := range members {
			t.groupOf[m] = g
		}
	}
	t.maxRank = len(order)

	t.queue = groupQueue{}
	migrated := 0
	for _, og := range old {
		for _, k := range messageKinds {
			for _, id := range og.queued[k].order {
				if ng, ok := t.groupOf[id]; ok {
					ng.queued[k].add(id)
					t.queue.activate(ng)
					migrated++
				}
			}
		}
		for _, id := range og.rederivables.order {
			if ng, ok := t.groupOf[id]; ok {
				ng.rederivables.add(id)
				t.queue.activate(ng)
				migrated++
			}
		}
	}

	for _, g := range t.groups {
		for _, m := range g.members {
			t.refreshMailbox(m)
		}
	}

	t.net.countRecomputation()
	t.log.V(1).Info("communication groups recomputed", "groups", len(t.groups),
		"migrated", migrated)
}

// classify decides the group kind of a component.
func (t *tracker) classify(rep NodeID, members []NodeID) GroupKind {
	if len(members) != 1 || !t.scc.IsTrivial(rep) {
		return GroupRecursive
	}
	if r, ok := t.net.nodes[rep].(interface{ mailbox() mailbox }); ok {
		if _, ok := r.mailbox().(*defaultMailbox); !ok {
			return GroupRecursive
		}
	}
	return GroupSingleton
}

// isCyclic reports whether a node sits on a cycle of the dependency graph.
func (t *tracker) isCyclic(id NodeID) bool {
	rep, ok := t.scc.Representative(id)
	return ok && !t.scc.IsTrivial(rep)
}

// notify syncs the group's queued sets with the pending state of a mailbox.
func (t *tracker) notify(mb mailbox) {
	g, ok := t.groupOf[mb.owner()]
	if !ok {
		return
	}
	for _, k := range messageKinds {
		if mb.hasPending(k) {
			if g.queued[k].add(mb.owner()) {
				t.queue.activate(g)
			}
		} else {
			g.queued[k].remove(mb.owner())
		}
	}
}

// addRederivable registers a node with withheld tuples.
func (t *tracker) addRederivable(id NodeID) {
	if g, ok := t.groupOf[id]; ok && g.rederivables.add(id) {
		t.queue.activate(g)
	}
}

// next returns the lowest-rank group with pending work, or nil.
func (t *tracker) next() *group {
	for t.queue.Len() > 0 {
		g := t.queue[0]
		if !g.isEmpty() {
			return g
		}
		heap.Pop(&t.queue)
	}
	return nil
}

func (t *tracker) deactivate(g *group) {
	if g.isEmpty() {
		t.queue.deactivate(g)
	}
}

func (t *tracker) isEmpty() bool { return t.next() == nil }

// refreshAround reconfigures the mailbox of a node whose direct parents changed, and of
// its children when the node is a two-input node, since they see its parents indirectly.
func (t *tracker) refreshAround(id NodeID) {
	t.refreshMailbox(id)
	n := t.net.nodes[id]
	if n == nil {
		return
	}
	if k := n.Kind(); k == KindJoin || k == KindAntiJoin {
		for _, l := range n.base().children {
			t.refreshMailbox(l.child)
		}
	}
}

// refreshMailbox reconfigures the mailbox of a node after its group or parents changed. Members
// of recursive groups get split mailboxes; pending messages are re-queued under their new kind.
func (t *tracker) refreshMailbox(id NodeID) {
	n := t.net.nodes[id]
	if n == nil {
		return
	}
	r, ok := n.(interface{ mailbox() mailbox })
	if !ok {
		return
	}
	mb := r.mailbox()
	g := t.groupOf[id]
	mb.setSplit(g != nil && g.kind == GroupRecursive)
	mb.setFallThrough(t.computeFallThrough(n))
	t.notify(mb)
}

// computeFallThrough decides whether updates may bypass the mailbox of a node. Bypassing is
// forbidden whenever two pending updates reaching the node might still cancel each other.
func (t *tracker) computeFallThrough(n Node) bool {
	id := n.ID()
	if g := t.groupOf[id]; g == nil || g.kind == GroupRecursive {
		return false
	}

	b := n.base()
	switch n.Kind() {
	case KindInput:
		return false
	case KindProduction:
		if len(b.parents) > 1 {
			return false
		}
		if len(b.parents) == 1 && t.net.isTrueTrimming(b.parents[0].parent) {
			return false
		}
	}

	parents := []NodeID{}
	for _, l := range b.parents {
		p := t.net.nodes[l.parent]
		if p == nil {
			continue
		}
		if p.Kind() == KindAntiJoin {
			return false
		}
		parents = append(parents, l.parent)
		if k := p.Kind(); k == KindJoin {
			parents = append(parents, p.base().parentIDs()...)
		}
	}

	for _, p := range parents {
		if !t.isCyclic(p) {
			continue
		}
		if !t.scc.SameComponent(p, id) {
			return false
		}
		if k := t.net.nodes[p].Kind(); k == KindTransitiveClosure || k == KindAggregator ||
			t.net.isTrueTrimming(p) {
			return false
		}
	}

	return true
}

func (t *tracker) groupInfo() []GroupInfo {
	ret := make([]GroupInfo, 0, len(t.groups))
	for _, g := range t.groups {
		names := make([]string, len(g.members))
		for i, m := range g.members {
			names[i] = t.net.nameOf(m)
		}
		ret = append(ret, GroupInfo{
			Rank:           g.rank,
			Kind:           g.kind,
			Representative: t.net.nameOf(g.rep),
			Members:        names,
			Enqueued:       g.enqueued(),
			Pending:        g.pending(),
		})
	}
	return ret
}
