package rete

import (
	"fmt"

	"github.com/l7mp/rete/pkg/memory"
	"github.com/l7mp/rete/pkg/tuple"
)

// RelationEvaluatorNode recomputes its whole output from the full contents of its inputs
// whenever one of them changes, and emits the difference to the previous output. Each input is
// buffered by a BatchingReceiverNode that hands over all pending changes at once.
type RelationEvaluatorNode struct {
	nodeBase
	evaluator RelationEvaluator
	receivers []NodeID
	output    tuple.Set
}

// AddRelationEvaluator creates a batch evaluator over the given inputs, emitting tuples of the
// given width. The evaluator is called once right away on empty inputs.
func (n *Network) AddRelationEvaluator(name string, e RelationEvaluator, width int, inputs ...NodeID) (NodeID, error) {
	if err := n.checkMutable(); err != nil {
		return NoNode, err
	}
	if n.timely {
		return NoNode, NewMisuseError("relation evaluator %q is not supported in timely networks", name)
	}
	if len(inputs) == 0 {
		return NoNode, NewMisuseError("relation evaluator %q needs at least one input", name)
	}
	widths := make([]int, len(inputs))
	for i, in := range inputs {
		s, err := n.supplierOf(in)
		if err != nil {
			return NoNode, err
		}
		widths[i] = s.Width()
	}

	node := &RelationEvaluatorNode{
		nodeBase:  nodeBase{name: name, kind: KindRelationEvaluator, width: width},
		evaluator: e,
		output:    tuple.NewSet(),
	}
	id, err := n.register(&node.nodeBase, node)
	if err != nil {
		return NoNode, err
	}

	for i, in := range inputs {
		r := &BatchingReceiverNode{
			nodeBase: nodeBase{
				name:  fmt.Sprintf("%s/input-%d", node.name, i),
				kind:  KindBatchingReceiver,
				width: widths[i],
			},
			owner:  id,
			memory: memory.New(tuple.Identity(widths[i])),
		}
		r.mb = newBatchingMailbox(&r.nodeBase)
		rid, err := n.register(&r.nodeBase, r)
		if err != nil {
			n.dispose(id)
			return NoNode, err
		}
		node.receivers = append(node.receivers, rid)
		n.tracker.registerDependency(rid, id)
		if err := n.connect(in, rid, SlotLeft); err != nil {
			n.dispose(id)
			return NoNode, err
		}
	}

	out, err := node.evaluate(n)
	if err != nil {
		n.dispose(id)
		return NoNode, err
	}
	for _, t := range out {
		node.output.Add(t)
	}
	return id, nil
}

func (r *RelationEvaluatorNode) stored() int { return len(r.output) }

func (r *RelationEvaluatorNode) String() string {
	return fmt.Sprintf("relation-evaluator(%s)", r.evaluator)
}

// Receivers returns the batching receivers of the node in input order.
func (r *RelationEvaluatorNode) Receivers() []NodeID {
	return append([]NodeID{}, r.receivers...)
}

func (r *RelationEvaluatorNode) evaluate(net *Network) ([]tuple.Tuple, error) {
	inputs := make([][]tuple.Tuple, len(r.receivers))
	for i, rid := range r.receivers {
		recv := net.nodes[rid].(*BatchingReceiverNode)
		ts := []tuple.Tuple{}
		for _, e := range recv.memory.Entries() {
			ts = append(ts, e.Tuple)
		}
		tuple.Sort(ts)
		inputs[i] = ts
	}
	return safeEvaluateRelation(r.name, r.evaluator, r.width, inputs)
}

// settled reports whether no receiver has buffered changes left.
func (r *RelationEvaluatorNode) settled(net *Network) bool {
	for _, rid := range r.receivers {
		if net.nodes[rid].(*BatchingReceiverNode).mb.size() > 0 {
			return false
		}
	}
	return true
}

// recompute re-evaluates the relation and emits the deletions, then the insertions, that turn
// the previous output into the new one.
func (r *RelationEvaluatorNode) recompute(net *Network) error {
	out, err := r.evaluate(net)
	if err != nil {
		return err
	}
	next := tuple.NewSet(out...)

	for _, t := range r.output.Tuples() {
		if next.Contains(t) {
			continue
		}
		r.output.Remove(t)
		if err := net.propagate(r.id, tuple.Delete, t, tuple.Zero); err != nil {
			return err
		}
	}
	for _, t := range next.Tuples() {
		if r.output.Contains(t) {
			continue
		}
		r.output.Add(t)
		if err := net.propagate(r.id, tuple.Insert, t, tuple.Zero); err != nil {
			return err
		}
	}
	return nil
}

func (r *RelationEvaluatorNode) contents(*Network) ([]tuple.Stamped, error) {
	ret := []tuple.Stamped{}
	for _, t := range r.output.Tuples() {
		ret = append(ret, tuple.Stamped{Tuple: t, Timestamp: tuple.Zero})
	}
	return ret, nil
}

func (r *RelationEvaluatorNode) dispose(net *Network) {
	for _, rid := range r.receivers {
		if net.nodes[rid] == nil {
			continue
		}
		net.tracker.unregisterDependency(rid, r.id)
		net.dispose(rid)
	}
	r.receivers = nil
	r.output = tuple.NewSet()
}

// BatchingReceiverNode buffers one input of a relation evaluator. It keeps the input's contents
// and triggers the evaluator once every sibling receiver has consumed its batch.
type BatchingReceiverNode struct {
	nodeBase
	owner  NodeID
	memory *memory.Memory
	mb     *batchingMailbox
}

func (b *BatchingReceiverNode) mailbox() mailbox { return b.mb }
func (b *BatchingReceiverNode) stored() int      { return b.memory.Size() }

// Owner returns the relation evaluator the receiver feeds.
func (b *BatchingReceiverNode) Owner() NodeID { return b.owner }

func (b *BatchingReceiverNode) batchUpdate(net *Network, msgs []message) error {
	for _, m := range msgs {
		for i := 0; i < abs(m.count); i++ {
			if _, err := applyChange(b.memory, m.direction(), m.tuple, m.ts); err != nil {
				return NewConsistencyError(b.name, err)
			}
		}
	}

	owner := net.nodes[b.owner].(*RelationEvaluatorNode)
	if !owner.settled(net) {
		return nil
	}
	return owner.recompute(net)
}
