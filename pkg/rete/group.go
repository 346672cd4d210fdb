package rete

import (
	"container/heap"
	"fmt"
)

// GroupKind tells how a communication group delivers its messages.
type GroupKind int

const (
	// GroupSingleton is a single node outside any cycle with an ordinary mailbox.
	GroupSingleton GroupKind = iota
	// GroupRecursive is a strongly connected component, or a node with a recursion-aware
	// mailbox, whose messages may need several passes to settle.
	GroupRecursive
)

func (k GroupKind) String() string {
	if k == GroupRecursive {
		return "recursive"
	}
	return "singleton"
}

// idSet is an insertion-ordered set of node ids.
type idSet struct {
	order []NodeID
	in    map[NodeID]bool
}

func newIDSet() *idSet { return &idSet{in: map[NodeID]bool{}} }

func (s *idSet) add(id NodeID) bool {
	if s.in[id] {
		return false
	}
	s.in[id] = true
	s.order = append(s.order, id)
	return true
}

func (s *idSet) remove(id NodeID) bool {
	if !s.in[id] {
		return false
	}
	delete(s.in, id)
	for i, x := range s.order {
		if x == id {
			s.order = append(s.order[:i:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

func (s *idSet) first() NodeID { return s.order[0] }
func (s *idSet) len() int      { return len(s.order) }

// group is a communication group: the scheduling unit for one component of the dependency
// graph.
type group struct {
	kind    GroupKind
	rep     NodeID
	rank    int
	members []NodeID

	queued       map[MessageKind]*idSet
	rederivables *idSet

	// index is the position in the priority queue, -1 when not enqueued
	index int
}

func newGroup(kind GroupKind, rep NodeID, rank int, members []NodeID) *group {
	g := &group{
		kind:         kind,
		rep:          rep,
		rank:         rank,
		members:      members,
		queued:       map[MessageKind]*idSet{},
		rederivables: newIDSet(),
		index:        -1,
	}
	for _, k := range messageKinds {
		g.queued[k] = newIDSet()
	}
	return g
}

func (g *group) enqueued() bool { return g.index >= 0 }

func (g *group) isEmpty() bool {
	for _, s := range g.queued {
		if s.len() > 0 {
			return false
		}
	}
	return g.rederivables.len() == 0
}

func (g *group) pending() int {
	n := g.rederivables.len()
	for _, s := range g.queued {
		n += s.len()
	}
	return n
}

func (g *group) String() string {
	return fmt.Sprintf("group(%s,rank=%d,members=%v)", g.kind, g.rank, g.members)
}

// deliverMessages drains the group. Ordinary messages go first, then the deletions queued in
// split mailboxes, then re-derivations, and insertions last. A recursive group thus settles
// every deletion before an insertion can meet a tuple that is still being retracted. Every
// delivery may post new messages into the group, so the selection restarts after each one.
func (g *group) deliverMessages(net *Network) error {
	for {
		switch {
		case g.queued[MessageDefault].len() > 0:
			if err := net.deliverMailbox(g.queued[MessageDefault].first(), MessageDefault); err != nil {
				return err
			}
		case g.queued[MessageAntiMonotone].len() > 0:
			if err := net.deliverMailbox(g.queued[MessageAntiMonotone].first(), MessageAntiMonotone); err != nil {
				return err
			}
		case g.rederivables.len() > 0:
			id := g.rederivables.first()
			r, ok := net.nodes[id].(rederivable)
			if !ok || !r.hasRederivable() {
				g.rederivables.remove(id)
				continue
			}
			if err := r.rederiveOne(net); err != nil {
				return err
			}
			if !r.hasRederivable() {
				g.rederivables.remove(id)
			}
		case g.queued[MessageMonotone].len() > 0:
			if err := net.deliverMailbox(g.queued[MessageMonotone].first(), MessageMonotone); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

// groupQueue is a min-heap of groups by rank.
type groupQueue []*group

func (q groupQueue) Len() int           { return len(q) }
func (q groupQueue) Less(i, j int) bool { return q[i].rank < q[j].rank }

func (q groupQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *groupQueue) Push(x any) {
	g := x.(*group)
	g.index = len(*q)
	*q = append(*q, g)
}

func (q *groupQueue) Pop() any {
	old := *q
	n := len(old)
	g := old[n-1]
	old[n-1] = nil
	g.index = -1
	*q = old[:n-1]
	return g
}

func (q *groupQueue) activate(g *group) {
	if !g.enqueued() {
		heap.Push(q, g)
	}
}

func (q *groupQueue) deactivate(g *group) {
	if g.enqueued() {
		heap.Remove(q, g.index)
	}
}

// GroupInfo is a snapshot of a communication group.
type GroupInfo struct {
	Rank           int
	Kind           GroupKind
	Representative string
	Members        []string
	Enqueued       bool
	Pending        int
}
