package rete

import (
	"fmt"

	"github.com/l7mp/rete/pkg/memory"
	"github.com/l7mp/rete/pkg/tuple"
)

func (n *Network) newMemory(mask tuple.Mask) *memory.Memory {
	if n.timely {
		return memory.NewTimely(mask)
	}
	return memory.New(mask)
}

// emit propagates a change of a tuple's visible timestamp.
func (n *Network) emit(from NodeID, t tuple.Tuple, r memory.Replacement) error {
	if r.HasOld {
		if err := n.propagate(from, tuple.Delete, t, r.Old); err != nil {
			return err
		}
	}
	if r.HasNew {
		return n.propagate(from, tuple.Insert, t, r.New)
	}
	return nil
}

// applyChange updates a memory with a single event.
func applyChange(m *memory.Memory, dir tuple.Direction, t tuple.Tuple, ts tuple.Timestamp) (memory.Change, error) {
	if dir == tuple.Insert {
		return m.Add(t, ts)
	}
	return m.Remove(t, ts)
}

func memoryContents(m *memory.Memory) []tuple.Stamped {
	ret := []tuple.Stamped{}
	for _, e := range m.Entries() {
		ret = append(ret, tuple.Stamped{Tuple: e.Tuple, Timestamp: e.Timestamp})
	}
	return ret
}

// expandedContents lists every stored occurrence of every tuple.
func expandedContents(m *memory.Memory) []tuple.Stamped {
	ret := []tuple.Stamped{}
	for _, e := range m.Entries() {
		for ts, c := range m.Stamps(e.Tuple) {
			for i := 0; i < c; i++ {
				ret = append(ret, tuple.Stamped{Tuple: e.Tuple, Timestamp: ts})
			}
		}
	}
	return ret
}

// InputNode is the boundary node fed by the external change source. It holds the set of base
// tuples and only exposes first insertions and last deletions.
type InputNode struct {
	nodeBase
	memory *memory.Memory
	mb     *defaultMailbox
}

// AddInput creates an input node for tuples of the given width.
func (n *Network) AddInput(name string, width int) (NodeID, error) {
	if err := n.checkMutable(); err != nil {
		return NoNode, err
	}
	if width < 0 {
		return NoNode, NewMisuseError("invalid width %d", width)
	}
	node := &InputNode{
		nodeBase: nodeBase{name: name, kind: KindInput, width: width},
		memory:   n.newMemory(tuple.Identity(width)),
	}
	node.mb = newDefaultMailbox(&node.nodeBase)
	return n.register(&node.nodeBase, node)
}

func (in *InputNode) mailbox() mailbox { return in.mb }
func (in *InputNode) stored() int      { return in.memory.Size() }

func (in *InputNode) update(net *Network, _ Slot, dir tuple.Direction, t tuple.Tuple, ts tuple.Timestamp) error {
	ch, err := applyChange(in.memory, dir, t, ts)
	if err != nil {
		return NewConsistencyError(in.name, err)
	}
	return net.emit(in.id, t, ch.Replacement)
}

func (in *InputNode) contents(*Network) ([]tuple.Stamped, error) {
	return memoryContents(in.memory), nil
}

// FilterNode passes the tuples accepted by a predicate.
type FilterNode struct {
	nodeBase
	predicate Predicate
	mb        *defaultMailbox
}

// AddFilter creates a filter over a parent.
func (n *Network) AddFilter(name string, parent NodeID, p Predicate) (NodeID, error) {
	if err := n.checkMutable(); err != nil {
		return NoNode, err
	}
	ps, err := n.supplierOf(parent)
	if err != nil {
		return NoNode, err
	}
	node := &FilterNode{
		nodeBase:  nodeBase{name: name, kind: KindFilter, width: ps.Width()},
		predicate: p,
	}
	node.mb = newDefaultMailbox(&node.nodeBase)
	return n.addWithParents(&node.nodeBase, node, parent)
}

func (f *FilterNode) mailbox() mailbox { return f.mb }
func (f *FilterNode) String() string   { return fmt.Sprintf("filter(%s)", f.predicate) }

func (f *FilterNode) update(net *Network, _ Slot, dir tuple.Direction, t tuple.Tuple, ts tuple.Timestamp) error {
	ok, err := safeMatch(f.name, f.predicate, t)
	if err != nil || !ok {
		return err
	}
	return net.propagate(f.id, dir, t, ts)
}

func (f *FilterNode) contents(net *Network) ([]tuple.Stamped, error) {
	cs, err := net.parentContents(&f.nodeBase, SlotLeft)
	if err != nil {
		return nil, err
	}
	ret := []tuple.Stamped{}
	for _, st := range cs {
		ok, err := safeMatch(f.name, f.predicate, st.Tuple)
		if err != nil {
			return nil, err
		}
		if ok {
			ret = append(ret, st)
		}
	}
	return ret, nil
}

// TrimmerNode projects tuples through a mask. Distinct inputs may collapse into the same
// output, so the output is a bag.
type TrimmerNode struct {
	nodeBase
	mask tuple.Mask
	mb   *defaultMailbox
}

// AddTrimmer creates a projection over a parent.
func (n *Network) AddTrimmer(name string, parent NodeID, mask tuple.Mask) (NodeID, error) {
	if err := n.checkMutable(); err != nil {
		return NoNode, err
	}
	ps, err := n.supplierOf(parent)
	if err != nil {
		return NoNode, err
	}
	if mask.SourceWidth() != ps.Width() {
		return NoNode, NewMisuseError("mask %s does not fit parent %q of width %d", mask,
			ps.Name(), ps.Width())
	}
	node := &TrimmerNode{
		nodeBase: nodeBase{name: name, kind: KindTrimmer, width: mask.Width()},
		mask:     mask,
	}
	node.mb = newDefaultMailbox(&node.nodeBase)
	return n.addWithParents(&node.nodeBase, node, parent)
}

func (tr *TrimmerNode) mailbox() mailbox { return tr.mb }
func (tr *TrimmerNode) String() string   { return fmt.Sprintf("trimmer(%s)", tr.mask) }

func (tr *TrimmerNode) update(net *Network, _ Slot, dir tuple.Direction, t tuple.Tuple, ts tuple.Timestamp) error {
	out, err := tr.mask.Transform(t)
	if err != nil {
		return NewConsistencyError(tr.name, err)
	}
	return net.propagate(tr.id, dir, out, ts)
}

func (tr *TrimmerNode) contents(net *Network) ([]tuple.Stamped, error) {
	cs, err := net.parentContents(&tr.nodeBase, SlotLeft)
	if err != nil {
		return nil, err
	}
	ret := make([]tuple.Stamped, 0, len(cs))
	for _, st := range cs {
		out, err := tr.mask.Transform(st.Tuple)
		if err != nil {
			return nil, NewConsistencyError(tr.name, err)
		}
		ret = append(ret, tuple.Stamped{Tuple: out, Timestamp: st.Timestamp})
	}
	return ret, nil
}

// EvaluatorNode maps every tuple through an evaluator without keeping state. Deletions are
// re-evaluated, which is sound because evaluators are deterministic.
type EvaluatorNode struct {
	nodeBase
	evaluator Evaluator
	mb        *defaultMailbox
}

// AddEvaluator creates an evaluator over a parent, emitting tuples of the given width.
func (n *Network) AddEvaluator(name string, parent NodeID, e Evaluator, width int) (NodeID, error) {
	if err := n.checkMutable(); err != nil {
		return NoNode, err
	}
	if _, err := n.supplierOf(parent); err != nil {
		return NoNode, err
	}
	node := &EvaluatorNode{
		nodeBase:  nodeBase{name: name, kind: KindEvaluator, width: width},
		evaluator: e,
	}
	node.mb = newDefaultMailbox(&node.nodeBase)
	return n.addWithParents(&node.nodeBase, node, parent)
}

func (e *EvaluatorNode) mailbox() mailbox { return e.mb }
func (e *EvaluatorNode) String() string   { return fmt.Sprintf("evaluator(%s)", e.evaluator) }

func (e *EvaluatorNode) update(net *Network, _ Slot, dir tuple.Direction, t tuple.Tuple, ts tuple.Timestamp) error {
	out, ok, err := safeEvaluate(e.name, e.evaluator, e.width, t)
	if err != nil || !ok {
		return err
	}
	return net.propagate(e.id, dir, out, ts)
}

func (e *EvaluatorNode) contents(net *Network) ([]tuple.Stamped, error) {
	cs, err := net.parentContents(&e.nodeBase, SlotLeft)
	if err != nil {
		return nil, err
	}
	ret := []tuple.Stamped{}
	for _, st := range cs {
		out, ok, err := safeEvaluate(e.name, e.evaluator, e.width, st.Tuple)
		if err != nil {
			return nil, err
		}
		if ok {
			ret = append(ret, tuple.Stamped{Tuple: out, Timestamp: st.Timestamp})
		}
	}
	return ret, nil
}

// addWithParents registers a node and links it to its parents in slot order.
func (n *Network) addWithParents(b *nodeBase, node Node, parents ...NodeID) (NodeID, error) {
	id, err := n.register(b, node)
	if err != nil {
		return NoNode, err
	}
	for i, p := range parents {
		if err := n.connect(p, id, Slot(i)); err != nil {
			n.dispose(id)
			return NoNode, err
		}
	}
	return id, nil
}
