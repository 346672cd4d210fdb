package rete

import (
	"fmt"

	"github.com/l7mp/rete/pkg/memory"
	"github.com/l7mp/rete/pkg/tuple"
)

// betaNode is the shared state of two-input nodes: one memory per slot, each indexed by the
// join signature.
type betaNode struct {
	nodeBase
	leftMask, rightMask tuple.Mask
	left, right         *memory.Memory
	mb                  *defaultMailbox
}

func (n *Network) newBetaNode(name string, kind Kind, left, right NodeID, leftMask, rightMask tuple.Mask) (*betaNode, error) {
	ls, err := n.supplierOf(left)
	if err != nil {
		return nil, err
	}
	rs, err := n.supplierOf(right)
	if err != nil {
		return nil, err
	}
	if leftMask.SourceWidth() != ls.Width() {
		return nil, NewMisuseError("left mask %s does not fit parent %q of width %d", leftMask,
			ls.Name(), ls.Width())
	}
	if rightMask.SourceWidth() != rs.Width() {
		return nil, NewMisuseError("right mask %s does not fit parent %q of width %d", rightMask,
			rs.Name(), rs.Width())
	}
	if leftMask.Width() != rightMask.Width() {
		return nil, NewMisuseError("left mask %s and right mask %s differ in width", leftMask, rightMask)
	}

	b := &betaNode{
		nodeBase:  nodeBase{name: name, kind: kind},
		leftMask:  leftMask,
		rightMask: rightMask,
		left:      n.newMemory(leftMask),
		right:     n.newMemory(rightMask),
	}
	return b, nil
}

func (b *betaNode) mailbox() mailbox { return b.mb }
func (b *betaNode) stored() int      { return b.left.Size() + b.right.Size() }

// signature projects a tuple arriving at a slot onto the join key.
func (b *betaNode) signature(slot Slot, t tuple.Tuple) (tuple.Tuple, error) {
	if slot == SlotRight {
		return b.rightMask.Transform(t)
	}
	return b.leftMask.Transform(t)
}

func (b *betaNode) memoryAt(slot Slot) *memory.Memory {
	if slot == SlotRight {
		return b.right
	}
	return b.left
}

// JoinNode emits every pair of left and right tuples agreeing on the join key. The output is
// the left tuple followed by the right tuple without its key columns; its stamp is the later of
// the two input stamps.
type JoinNode struct {
	betaNode
	complement tuple.Mask
}

// AddJoin creates a join of two parents on the given key masks.
func (n *Network) AddJoin(name string, left, right NodeID, leftMask, rightMask tuple.Mask) (NodeID, error) {
	if err := n.checkMutable(); err != nil {
		return NoNode, err
	}
	b, err := n.newBetaNode(name, KindJoin, left, right, leftMask, rightMask)
	if err != nil {
		return NoNode, err
	}
	node := &JoinNode{betaNode: *b, complement: rightMask.Complement()}
	node.width = leftMask.SourceWidth() + node.complement.Width()
	node.mb = newDefaultMailbox(&node.nodeBase)
	return n.addWithParents(&node.nodeBase, node, left, right)
}

func (j *JoinNode) String() string {
	return fmt.Sprintf("join(%s,%s)", j.leftMask, j.rightMask)
}

func (j *JoinNode) combine(l, r tuple.Tuple) (tuple.Tuple, error) {
	rest, err := j.complement.Transform(r)
	if err != nil {
		return tuple.Tuple{}, err
	}
	return l.Concat(rest), nil
}

// update joins the delta with the current contents of the opposite slot and only then applies
// it to its own slot, which keeps self-joins exact.
func (j *JoinNode) update(net *Network, slot Slot, dir tuple.Direction, t tuple.Tuple, ts tuple.Timestamp) error {
	sig, err := j.signature(slot, t)
	if err != nil {
		return NewConsistencyError(j.name, err)
	}

	other := j.right
	if slot == SlotRight {
		other = j.left
	}
	for _, e := range other.Lookup(sig).Entries() {
		l, r := t, e.Tuple
		if slot == SlotRight {
			l, r = e.Tuple, t
		}
		out, err := j.combine(l, r)
		if err != nil {
			return NewConsistencyError(j.name, err)
		}
		for ots, c := range other.Stamps(e.Tuple) {
			for i := 0; i < c; i++ {
				if err := net.propagate(j.id, dir, out, ts.Max(ots)); err != nil {
					return err
				}
			}
		}
	}

	if _, err := applyChange(j.memoryAt(slot), dir, t, ts); err != nil {
		return NewConsistencyError(j.name, err)
	}
	return nil
}

func (j *JoinNode) contents(*Network) ([]tuple.Stamped, error) {
	ret := []tuple.Stamped{}
	for _, l := range expandedContents(j.left) {
		sig, err := j.leftMask.Transform(l.Tuple)
		if err != nil {
			return nil, NewConsistencyError(j.name, err)
		}
		for _, e := range j.right.Lookup(sig).Entries() {
			out, err := j.combine(l.Tuple, e.Tuple)
			if err != nil {
				return nil, NewConsistencyError(j.name, err)
			}
			for rts, c := range j.right.Stamps(e.Tuple) {
				for i := 0; i < c; i++ {
					ret = append(ret, tuple.Stamped{Tuple: out, Timestamp: l.Timestamp.Max(rts)})
				}
			}
		}
	}
	return ret, nil
}

// AntiJoinNode emits the left tuples that have no right tuple with the same key.
type AntiJoinNode struct {
	betaNode
}

// AddAntiJoin creates an existence check: left tuples pass while no right tuple matches.
func (n *Network) AddAntiJoin(name string, left, right NodeID, leftMask, rightMask tuple.Mask) (NodeID, error) {
	if err := n.checkMutable(); err != nil {
		return NoNode, err
	}
	if n.timely {
		return NoNode, NewMisuseError("antijoin %q is not supported in timely networks", name)
	}
	b, err := n.newBetaNode(name, KindAntiJoin, left, right, leftMask, rightMask)
	if err != nil {
		return NoNode, err
	}
	node := &AntiJoinNode{betaNode: *b}
	node.width = leftMask.SourceWidth()
	node.mb = newDefaultMailbox(&node.nodeBase)
	return n.addWithParents(&node.nodeBase, node, left, right)
}

func (a *AntiJoinNode) String() string {
	return fmt.Sprintf("antijoin(%s,%s)", a.leftMask, a.rightMask)
}

func (a *AntiJoinNode) update(net *Network, slot Slot, dir tuple.Direction, t tuple.Tuple, ts tuple.Timestamp) error {
	sig, err := a.signature(slot, t)
	if err != nil {
		return NewConsistencyError(a.name, err)
	}

	if slot == SlotLeft {
		if _, err := applyChange(a.left, dir, t, ts); err != nil {
			return NewConsistencyError(a.name, err)
		}
		if a.right.Lookup(sig).Len() > 0 {
			return nil
		}
		return net.propagate(a.id, dir, t, ts)
	}

	before := a.right.Lookup(sig).Len()
	if _, err := applyChange(a.right, dir, t, ts); err != nil {
		return NewConsistencyError(a.name, err)
	}
	after := a.right.Lookup(sig).Len()

	// left tuples flip only when the key gains its first or loses its last right tuple
	var flip tuple.Direction
	switch {
	case before == 0 && after > 0:
		flip = tuple.Delete
	case before > 0 && after == 0:
		flip = tuple.Insert
	default:
		return nil
	}
	for _, e := range a.left.Lookup(sig).Entries() {
		for i := 0; i < e.Count; i++ {
			if err := net.propagate(a.id, flip, e.Tuple, e.Timestamp); err != nil {
				return err
			}
		}
	}
	return nil
}

func (a *AntiJoinNode) contents(*Network) ([]tuple.Stamped, error) {
	ret := []tuple.Stamped{}
	for _, l := range expandedContents(a.left) {
		sig, err := a.leftMask.Transform(l.Tuple)
		if err != nil {
			return nil, NewConsistencyError(a.name, err)
		}
		if a.right.Lookup(sig).Len() == 0 {
			ret = append(ret, l)
		}
	}
	return ret, nil
}
