package rete

import (
	"fmt"

	"github.com/l7mp/rete/pkg/memory"
	"github.com/l7mp/rete/pkg/tuple"
	"github.com/l7mp/rete/pkg/util"
)

// AggregatorNode groups its input by the columns of a mask and emits one tuple per non-empty
// group: the group columns followed by the aggregated value.
type AggregatorNode struct {
	nodeBase
	groupMask  tuple.Mask
	aggregator Aggregator
	memory     *memory.Memory
	outputs    map[string]tuple.Tuple
	mb         *defaultMailbox
}

// AddAggregator creates an aggregation over a parent.
func (n *Network) AddAggregator(name string, parent NodeID, groupMask tuple.Mask, a Aggregator) (NodeID, error) {
	if err := n.checkMutable(); err != nil {
		return NoNode, err
	}
	if n.timely {
		return NoNode, NewMisuseError("aggregator %q is not supported in timely networks", name)
	}
	ps, err := n.supplierOf(parent)
	if err != nil {
		return NoNode, err
	}
	if groupMask.SourceWidth() != ps.Width() {
		return NoNode, NewMisuseError("group mask %s does not fit parent %q of width %d", groupMask,
			ps.Name(), ps.Width())
	}

	node := &AggregatorNode{
		nodeBase:   nodeBase{name: name, kind: KindAggregator, width: groupMask.Width() + 1},
		groupMask:  groupMask,
		aggregator: a,
		memory:     n.newMemory(groupMask),
		outputs:    map[string]tuple.Tuple{},
	}
	node.mb = newDefaultMailbox(&node.nodeBase)
	return n.addWithParents(&node.nodeBase, node, parent)
}

func (a *AggregatorNode) mailbox() mailbox { return a.mb }
func (a *AggregatorNode) stored() int      { return a.memory.Size() }

func (a *AggregatorNode) String() string {
	return fmt.Sprintf("aggregator(%s,%s)", a.groupMask, a.aggregator)
}

func (a *AggregatorNode) update(net *Network, _ Slot, dir tuple.Direction, t tuple.Tuple, ts tuple.Timestamp) error {
	sig, err := a.groupMask.Transform(t)
	if err != nil {
		return NewConsistencyError(a.name, err)
	}
	if _, err := applyChange(a.memory, dir, t, ts); err != nil {
		return NewConsistencyError(a.name, err)
	}

	k := sig.Key()
	old, hadOld := a.outputs[k]
	var next tuple.Tuple
	hasNext := false
	if es := a.memory.Lookup(sig).Entries(); len(es) > 0 {
		v, err := safeAggregate(a.name, a.aggregator, es)
		if err != nil {
			return err
		}
		next, hasNext = sig.Concat(tuple.New(v)), true
	}

	if hadOld && hasNext && old.Equal(next) {
		return nil
	}
	if hadOld {
		delete(a.outputs, k)
		if err := net.propagate(a.id, tuple.Delete, old, tuple.Zero); err != nil {
			return err
		}
	}
	if hasNext {
		a.outputs[k] = next
		return net.propagate(a.id, tuple.Insert, next, tuple.Zero)
	}
	return nil
}

func (a *AggregatorNode) contents(*Network) ([]tuple.Stamped, error) {
	ret := make([]tuple.Stamped, 0, len(a.outputs))
	for _, k := range util.SortedKeys(a.outputs) {
		ret = append(ret, tuple.Stamped{Tuple: a.outputs[k], Timestamp: tuple.Zero})
	}
	return ret, nil
}
