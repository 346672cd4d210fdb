package rete

import (
	"fmt"

	"github.com/l7mp/rete/pkg/memory"
	"github.com/l7mp/rete/pkg/tuple"
	"github.com/l7mp/rete/pkg/zset"
)

// ProductionNode is the uniqueness enforcer holding a query result. It takes the union of its
// parents, counts the derivations of every tuple and exposes only first derivations and last
// retractions. In timely networks the visible stamp of a tuple is its earliest derivation.
//
// Inside a cycle, deleting one derivation of a tuple that still has others may leave the tuple
// supported only by derivations that depend on itself. Such a tuple is over-deleted: the
// remaining derivations are withheld, the deletion is propagated, and the tuple is re-derived
// once all deletions in the group have settled if any withheld derivation survived.
//
// Listeners only see the net change of a tuple once the group of the production has drained, so
// an over-deletion followed by a re-derivation stays invisible to them.
type ProductionNode struct {
	nodeBase
	memory    *memory.Memory
	mb        *splittingMailbox
	listeners *listenerRegistry
	withheld  *zset.ZSet[tuple.Tuple]
	before    map[string]visibility
	touched   []string
}

// visibility is the state a listener last saw for a tuple.
type visibility struct {
	tuple   tuple.Tuple
	present bool
	ts      tuple.Timestamp
}

// AddProduction creates a production node with the given parents. More parents can be added
// later with Connect.
func (n *Network) AddProduction(name string, width int, parents ...NodeID) (NodeID, error) {
	if err := n.checkMutable(); err != nil {
		return NoNode, err
	}
	if width < 0 {
		return NoNode, NewMisuseError("invalid width %d", width)
	}
	for _, p := range parents {
		ps, err := n.supplierOf(p)
		if err != nil {
			return NoNode, err
		}
		if ps.Width() != width {
			return NoNode, NewMisuseError("parent %q has width %d, production %q expects %d",
				ps.Name(), ps.Width(), name, width)
		}
	}

	node := &ProductionNode{
		nodeBase:  nodeBase{name: name, kind: KindProduction, width: width},
		memory:    n.newMemory(tuple.Identity(width)),
		listeners: newListenerRegistry(),
		withheld:  zset.New[tuple.Tuple](),
		before:    map[string]visibility{},
	}
	node.mb = newSplittingMailbox(&node.nodeBase)
	id, err := n.register(&node.nodeBase, node)
	if err != nil {
		return NoNode, err
	}
	for _, p := range parents {
		if err := n.connect(p, id, SlotLeft); err != nil {
			n.dispose(id)
			return NoNode, err
		}
	}
	return id, nil
}

func (p *ProductionNode) mailbox() mailbox { return p.mb }
func (p *ProductionNode) stored() int      { return p.memory.Size() }

func (p *ProductionNode) String() string {
	return fmt.Sprintf("production(listeners=%d,withheld=%d)", p.listeners.len(), p.withheld.Len())
}

func (p *ProductionNode) publish(net *Network, t tuple.Tuple, r memory.Replacement) error {
	if r.IsZero() {
		return nil
	}
	k := t.Key()
	if _, ok := p.before[k]; !ok {
		if len(p.touched) == 0 {
			net.settling = append(net.settling, p.id)
		}
		p.before[k] = visibility{tuple: t, present: r.HasOld, ts: r.Old}
		p.touched = append(p.touched, k)
	}
	return net.emit(p.id, t, r)
}

// settle notifies the listeners of the net change of every tuple touched since the last call.
func (p *ProductionNode) settle() {
	for _, k := range p.touched {
		b := p.before[k]
		ts, present := p.memory.Timestamp(b.tuple)
		switch {
		case b.present && present && ts == b.ts:
		case b.present:
			p.listeners.notify(tuple.Delete, b.tuple, b.ts)
			if present {
				p.listeners.notify(tuple.Insert, b.tuple, ts)
			}
		case present:
			p.listeners.notify(tuple.Insert, b.tuple, ts)
		}
	}
	clear(p.before)
	p.touched = p.touched[:0]
}

func (p *ProductionNode) update(net *Network, _ Slot, dir tuple.Direction, t tuple.Tuple, ts tuple.Timestamp) error {
	k := t.Key()

	if dir == tuple.Insert {
		ch, err := p.memory.Add(t, ts)
		if err != nil {
			return NewConsistencyError(p.name, err)
		}
		// a fresh derivation revives a withheld tuple together with its surviving derivations
		if c := p.withheld.Count(k); c > 0 {
			p.withheld.Add(k, t, -c)
			for i := 0; i < c; i++ {
				if _, err := p.memory.Add(t, tuple.Zero); err != nil {
					return NewConsistencyError(p.name, err)
				}
			}
		}
		return p.publish(net, t, ch.Replacement)
	}

	if p.withheld.Count(k) > 0 {
		p.withheld.Add(k, t, -1)
		return nil
	}

	ch, err := p.memory.Remove(t, ts)
	if err != nil {
		return NewConsistencyError(p.name, err)
	}

	if ch.Replacement.IsZero() && !net.timely && net.tracker.isCyclic(p.id) {
		c := p.memory.Count(t)
		for i := 0; i < c; i++ {
			if _, err := p.memory.Remove(t, tuple.Zero); err != nil {
				return NewConsistencyError(p.name, err)
			}
		}
		p.withheld.Add(k, t, c)
		net.tracker.addRederivable(p.id)
		net.log.V(4).Info("over-deleted", "node", p.name, "tuple", t.String(), "withheld", c)
		return p.publish(net, t, memory.Replacement{Old: tuple.Zero, HasOld: true})
	}

	return p.publish(net, t, ch.Replacement)
}

func (p *ProductionNode) hasRederivable() bool { return !p.withheld.IsZero() }

func (p *ProductionNode) rederiveOne(net *Network) error {
	es := p.withheld.Entries()
	if len(es) == 0 {
		return nil
	}
	e := es[0]
	p.withheld.Add(e.Key, e.Value, -e.Multiplicity)

	var ch memory.Change
	for i := 0; i < e.Multiplicity; i++ {
		c, err := p.memory.Add(e.Value, tuple.Zero)
		if err != nil {
			return NewConsistencyError(p.name, err)
		}
		if i == 0 {
			ch = c
		}
	}
	net.log.V(4).Info("re-derived", "node", p.name, "tuple", e.Value.String(), "support", e.Multiplicity)
	return p.publish(net, e.Value, ch.Replacement)
}

func (p *ProductionNode) contents(*Network) ([]tuple.Stamped, error) {
	return memoryContents(p.memory), nil
}

func (p *ProductionNode) dispose(*Network) {
	p.listeners.clear()
	p.withheld.Clear()
	clear(p.before)
	p.touched = nil
}
