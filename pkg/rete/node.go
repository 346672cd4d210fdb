package rete

import (
	"fmt"

	"github.com/l7mp/rete/pkg/tuple"
)

// NodeID is the index of a node in a network's arena. Ids are never reused within a network.
type NodeID int

// NoNode is the invalid node id.
const NoNode NodeID = -1

// Kind is the variant of a node.
type Kind int

const (
	KindInput Kind = iota
	KindFilter
	KindTrimmer
	KindEvaluator
	KindProduction
	KindJoin
	KindAntiJoin
	KindTransitiveClosure
	KindAggregator
	KindRelationEvaluator
	KindBatchingReceiver
)

var kindNames = map[Kind]string{
	KindInput:             "input",
	KindFilter:            "filter",
	KindTrimmer:           "trimmer",
	KindEvaluator:         "evaluator",
	KindProduction:        "production",
	KindJoin:              "join",
	KindAntiJoin:          "antijoin",
	KindTransitiveClosure: "transitive-closure",
	KindAggregator:        "aggregator",
	KindRelationEvaluator: "relation-evaluator",
	KindBatchingReceiver:  "batching-receiver",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("<invalid kind %d>", int(k))
}

// ParseKind resolves a kind from its name.
func ParseKind(s string) (Kind, bool) {
	for k, n := range kindNames {
		if n == s {
			return k, true
		}
	}
	return 0, false
}

// Slot tells which input of a two-input node a parent feeds.
type Slot int

const (
	// SlotLeft is the primary input, and the only input of single-input nodes.
	SlotLeft Slot = iota
	// SlotRight is the secondary input of joins and antijoins.
	SlotRight
)

func (s Slot) String() string {
	if s == SlotRight {
		return "right"
	}
	return "left"
}

// link is a data edge. It is shared by the parent's child list and the child's parent list.
type link struct {
	parent, child NodeID
	slot          Slot
	// synced is set once the child has been initialized from the parent's contents
	synced  bool
	removed bool
}

// Node is the read-only face of a network node.
type Node interface {
	ID() NodeID
	Name() string
	Kind() Kind
	// Width is the width of the tuples the node emits.
	Width() int

	base() *nodeBase
}

type nodeBase struct {
	id       NodeID
	name     string
	kind     Kind
	width    int
	parents  []*link
	children []*link
}

func (b *nodeBase) ID() NodeID      { return b.id }
func (b *nodeBase) Name() string    { return b.name }
func (b *nodeBase) Kind() Kind      { return b.kind }
func (b *nodeBase) Width() int      { return b.width }
func (b *nodeBase) base() *nodeBase { return b }

func (b *nodeBase) String() string { return fmt.Sprintf("%s(%s)", b.kind, b.name) }

func (b *nodeBase) parentIDs() []NodeID {
	ret := make([]NodeID, len(b.parents))
	for i, l := range b.parents {
		ret[i] = l.parent
	}
	return ret
}

func (b *nodeBase) parentAt(slot Slot) (NodeID, bool) {
	for _, l := range b.parents {
		if l.slot == slot {
			return l.parent, true
		}
	}
	return NoNode, false
}

func removeLink(ls []*link, l *link) []*link {
	for i, x := range ls {
		if x == l {
			return append(ls[:i:i], ls[i+1:]...)
		}
	}
	return ls
}

// receiver nodes consume single update events through a mailbox.
type receiver interface {
	Node
	mailbox() mailbox
	update(net *Network, slot Slot, dir tuple.Direction, t tuple.Tuple, ts tuple.Timestamp) error
}

// batchReceiver nodes consume the whole accumulated bag of events at once.
type batchReceiver interface {
	Node
	mailbox() mailbox
	batchUpdate(net *Network, msgs []message) error
}

// supplier nodes can enumerate their current output. Stateless suppliers compute it from their
// synced parents.
type supplier interface {
	Node
	contents(net *Network) ([]tuple.Stamped, error)
}

// rederivable nodes keep tuples withheld during over-deletion that may need to be re-emitted
// once all pending deletions in their group have settled.
type rederivable interface {
	Node
	rederiveOne(net *Network) error
	hasRederivable() bool
}

// disposable nodes release node-specific state when removed.
type disposable interface {
	dispose(net *Network)
}

// NodeInfo describes a node for introspection.
type NodeInfo struct {
	ID          NodeID
	Name        string
	Kind        Kind
	Width       int
	Parents     []string
	Children    []string
	Group       int
	FallThrough bool
	Pending     int
	Stateful    bool
	Size        int
	Detail      string
}

// LinkInfo describes a data or dependency edge for introspection.
type LinkInfo struct {
	Parent, Child NodeID
	Slot          Slot
	// Dependency is set for pure scheduling edges that carry no tuples.
	Dependency bool
}
