// Package rete implements an incremental evaluation network for graph-pattern queries.
//
// A network is a dataflow graph of nodes kept in an arena. Base changes enter through input
// nodes, land in the mailboxes of their dependents and are drained by a scheduler that visits
// communication groups, the strongly connected components of the dependency graph, in
// topological order until no pending work is left. Production nodes hold query results and
// notify listeners of every visible change.
package rete

import (
	"errors"
	"fmt"
	"time"

	"devt.de/krotik/common/datautil"
	"devt.de/krotik/common/errorutil"
	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/l7mp/rete/pkg/tuple"
)

// DefaultTraceSize is the number of recent deliveries kept for introspection.
const DefaultTraceSize = 64

// Options configures a network.
type Options struct {
	// Name identifies the network in logs and metrics. Defaults to the network id.
	Name string
	// Timely switches the network to timestamp-aware evaluation.
	Timely bool
	// TraceSize is the capacity of the recent delivery trace. Zero means DefaultTraceSize,
	// negative disables tracing.
	TraceSize int
	// DisableMetrics turns off Prometheus metric collection.
	DisableMetrics bool
	// Logger is the logger to use. Defaults to a discard logger.
	Logger logr.Logger
}

// Network is a single-threaded incremental evaluation network. Calls must be serialized by the
// caller, see Coordinator for a goroutine-safe front end.
type Network struct {
	id      string
	name    string
	timely  bool
	metrics bool

	nodes  []Node
	byName map[string]NodeID

	tracker  *tracker
	commands []delayedCommand

	delivering bool
	failed     error
	// productions with listener notifications held back until their group drains
	settling []NodeID

	stats Stats
	trace *datautil.RingBuffer

	logger, log logr.Logger
}

// New creates an empty network.
func New(opts Options) *Network {
	logger := opts.Logger
	if logger.GetSink() == nil {
		logger = logr.Discard()
	}

	id := uuid.NewString()
	name := opts.Name
	if name == "" {
		name = id
	}

	n := &Network{
		id:      id,
		name:    name,
		timely:  opts.Timely,
		metrics: !opts.DisableMetrics,
		byName:  map[string]NodeID{},
		logger:  logger,
		log:     logger.WithName("network").WithValues("name", name),
	}
	n.tracker = newTracker(n, n.log)

	size := opts.TraceSize
	if size == 0 {
		size = DefaultTraceSize
	}
	if size > 0 {
		n.trace = datautil.NewRingBuffer(size)
	}

	n.log.V(1).Info("network created", "id", id, "timely", opts.Timely)
	return n
}

// ID returns the unique id of the network.
func (n *Network) ID() string { return n.id }

// Name returns the name of the network.
func (n *Network) Name() string { return n.name }

// IsTimely reports whether the network evaluates with timestamps.
func (n *Network) IsTimely() bool { return n.timely }

// Err returns the fatal error the network failed with, if any.
func (n *Network) Err() error { return n.failed }

// Node returns a live node.
func (n *Network) Node(id NodeID) (Node, error) {
	if id < 0 || int(id) >= len(n.nodes) || n.nodes[id] == nil {
		return nil, newUnknownNodeError(id)
	}
	return n.nodes[id], nil
}

// Lookup resolves a node name.
func (n *Network) Lookup(name string) (NodeID, bool) {
	id, ok := n.byName[name]
	return id, ok
}

// Nodes returns the live nodes in creation order.
func (n *Network) Nodes() []Node {
	ret := []Node{}
	for _, node := range n.nodes {
		if node != nil {
			ret = append(ret, node)
		}
	}
	return ret
}

func (n *Network) nameOf(id NodeID) string {
	if id < 0 || int(id) >= len(n.nodes) || n.nodes[id] == nil {
		return fmt.Sprintf("#%d", id)
	}
	return n.nodes[id].Name()
}

func (n *Network) isTrueTrimming(id NodeID) bool {
	t, ok := n.nodes[id].(*TrimmerNode)
	return ok && t.mask.IsTrueTrimming()
}

// checkMutable guards every structural or data-changing call.
func (n *Network) checkMutable() error {
	if n.failed != nil {
		return fmt.Errorf("%w: %w", ErrNetworkFailed, n.failed)
	}
	if n.delivering {
		return NewMisuseError("network %q cannot be modified while delivering updates", n.name)
	}
	return nil
}

func (n *Network) fail(err error) error {
	if errors.Is(err, ErrInconsistent) {
		n.failed = err
		n.log.Error(err, "network failed")
	}
	return err
}

// register places a new node into the arena and the dependency graph.
func (n *Network) register(b *nodeBase, node Node) (NodeID, error) {
	if b.name == "" {
		b.name = fmt.Sprintf("%s-%d", b.kind, len(n.nodes))
	}
	if _, ok := n.byName[b.name]; ok {
		return NoNode, NewMisuseError("duplicate node name %q", b.name)
	}
	b.id = NodeID(len(n.nodes))
	n.nodes = append(n.nodes, node)
	n.byName[b.name] = b.id
	n.tracker.addNode(b.id)
	n.log.V(1).Info("node added", "node", b.name, "kind", b.kind.String(), "width", b.width)
	return b.id, nil
}

// supplierOf resolves a parent that can feed tuples.
func (n *Network) supplierOf(id NodeID) (supplier, error) {
	node, err := n.Node(id)
	if err != nil {
		return nil, err
	}
	s, ok := node.(supplier)
	if !ok {
		return nil, NewMisuseError("node %q of kind %s does not emit tuples", node.Name(), node.Kind())
	}
	return s, nil
}

// connect creates a data link and schedules the child's initialization from the parent's
// current contents. A link that would place the child into a forbidden shape is rolled back.
func (n *Network) connect(parent, child NodeID, slot Slot) error {
	p, c := n.nodes[parent], n.nodes[child]
	l := &link{parent: parent, child: child, slot: slot}
	p.base().children = append(p.base().children, l)
	c.base().parents = append(c.base().parents, l)
	n.tracker.registerDependency(parent, child)

	if err := n.validateShape(child); err != nil {
		p.base().children = removeLink(p.base().children, l)
		c.base().parents = removeLink(c.base().parents, l)
		n.tracker.unregisterDependency(parent, child)
		return err
	}

	n.commands = append(n.commands, delayedCommand{kind: commandInitialize, link: l})
	n.log.V(1).Info("connected", "parent", p.Name(), "child", c.Name(), "slot", slot.String())
	return nil
}

// disconnect removes a data link. When replay is set, the child receives deletions for the
// parent's current contents once the batch is flushed.
func (n *Network) disconnect(l *link, replay bool) error {
	var snapshot []tuple.Stamped
	if replay && l.synced {
		cs, err := n.contents(l.parent)
		if err != nil {
			return err
		}
		snapshot = cs
	}

	p, c := n.nodes[l.parent], n.nodes[l.child]
	p.base().children = removeLink(p.base().children, l)
	c.base().parents = removeLink(c.base().parents, l)
	l.removed = true
	n.tracker.unregisterDependency(l.parent, l.child)
	if snapshot != nil {
		n.commands = append(n.commands, delayedCommand{kind: commandRetract, link: l, snapshot: snapshot})
	}
	n.log.V(1).Info("disconnected", "parent", p.Name(), "child", c.Name(), "slot", l.slot.String())
	return nil
}

// validateShape rejects node kinds placed in cycles they cannot support.
func (n *Network) validateShape(id NodeID) error {
	if !n.tracker.isCyclic(id) {
		return nil
	}
	rep, _ := n.tracker.scc.Representative(id)
	for _, m := range n.tracker.scc.Members(rep) {
		node := n.nodes[m]
		switch node.Kind() {
		case KindRelationEvaluator, KindBatchingReceiver:
			return NewMisuseError("relation evaluator %q cannot be placed in a recursive group",
				node.Name())
		}
		if n.timely && node.Kind() == KindProduction {
			return NewMisuseError("production %q cannot be part of a cycle in a timely network",
				node.Name())
		}
	}
	return nil
}

// Connect adds a further parent to a production node. Productions are the union points of a
// network and the only nodes whose parents can change after creation, which is how recursive
// queries are closed.
func (n *Network) Connect(parent, production NodeID) error {
	if err := n.checkMutable(); err != nil {
		return err
	}
	if _, err := n.supplierOf(parent); err != nil {
		return err
	}
	node, err := n.Node(production)
	if err != nil {
		return err
	}
	if node.Kind() != KindProduction {
		return NewMisuseError("cannot add parent to node %q of kind %s", node.Name(), node.Kind())
	}
	if w := n.nodes[parent].Width(); w != node.Width() {
		return NewMisuseError("parent %q has width %d, production %q expects %d",
			n.nameOf(parent), w, node.Name(), node.Width())
	}
	return n.connect(parent, production, SlotLeft)
}

// Disconnect removes one parent of a production node. The tuples the parent contributed are
// retracted during the next flush.
func (n *Network) Disconnect(parent, production NodeID) error {
	if err := n.checkMutable(); err != nil {
		return err
	}
	node, err := n.Node(production)
	if err != nil {
		return err
	}
	if node.Kind() != KindProduction {
		return NewMisuseError("cannot remove parent of node %q of kind %s", node.Name(), node.Kind())
	}
	for _, l := range node.base().parents {
		if l.parent == parent {
			if err := n.disconnect(l, true); err != nil {
				return n.fail(err)
			}
			return nil
		}
	}
	return NewMisuseError("node %q is not a parent of %q", n.nameOf(parent), node.Name())
}

// Dispose removes a node. The node must have no children. Its pending messages are dropped.
func (n *Network) Dispose(id NodeID) error {
	if err := n.checkMutable(); err != nil {
		return err
	}
	node, err := n.Node(id)
	if err != nil {
		return err
	}
	if node.Kind() == KindBatchingReceiver {
		return NewMisuseError("batching receiver %q is disposed with its relation evaluator", node.Name())
	}
	if len(node.base().children) > 0 {
		return NewMisuseError("node %q still has child %q", node.Name(),
			n.nameOf(node.base().children[0].child))
	}
	n.dispose(id)
	return nil
}

func (n *Network) dispose(id NodeID) {
	node := n.nodes[id]
	if d, ok := node.(disposable); ok {
		d.dispose(n)
	}
	b := node.base()
	for len(b.parents) > 0 {
		_ = n.disconnect(b.parents[0], false)
	}
	for len(b.children) > 0 {
		_ = n.disconnect(b.children[0], false)
	}
	if r, ok := node.(interface{ mailbox() mailbox }); ok {
		r.mailbox().clear()
		n.tracker.notify(r.mailbox())
	}
	n.tracker.removeNode(id)
	delete(n.byName, b.name)
	n.nodes[id] = nil
	n.log.V(1).Info("node disposed", "node", b.name)
}

// DisposeAll tears down the whole network. Errors are collected and returned together.
func (n *Network) DisposeAll() error {
	if err := n.checkMutable(); err != nil {
		return err
	}

	errs := errorutil.NewCompositeError()
	for _, node := range n.Nodes() {
		for len(node.base().parents) > 0 {
			_ = n.disconnect(node.base().parents[0], false)
		}
	}
	for i := len(n.nodes) - 1; i >= 0; i-- {
		if n.nodes[i] == nil || n.nodes[i].Kind() == KindBatchingReceiver {
			continue
		}
		if err := n.Dispose(NodeID(i)); err != nil {
			errs.Add(err)
		}
	}
	n.commands = nil

	if errs.HasErrors() {
		return errs
	}
	return nil
}

// NotifyChange feeds a base change into an input node. Deleting a tuple that is neither stored
// nor pending is rejected without changing the network.
func (n *Network) NotifyChange(input NodeID, dir tuple.Direction, t tuple.Tuple) error {
	return n.NotifyChangeWithTimestamp(input, dir, t, tuple.Zero)
}

// NotifyChangeWithTimestamp feeds a timestamped base change into an input node.
func (n *Network) NotifyChangeWithTimestamp(input NodeID, dir tuple.Direction, t tuple.Tuple, ts tuple.Timestamp) error {
	if err := n.checkMutable(); err != nil {
		return err
	}
	node, err := n.Node(input)
	if err != nil {
		return err
	}
	in, ok := node.(*InputNode)
	if !ok {
		return NewMisuseError("node %q of kind %s is not an input", node.Name(), node.Kind())
	}
	if t.Width() != in.width {
		return NewMisuseError("tuple %s has width %d, input %q expects %d", t, t.Width(),
			in.name, in.width)
	}
	if dir != tuple.Insert && dir != tuple.Delete {
		return NewMisuseError("invalid direction %d", int(dir))
	}
	if !n.timely {
		ts = tuple.Zero
	}

	if dir == tuple.Delete && in.memory.CountAt(t, ts)+in.mb.pending(SlotLeft, t, ts) <= 0 {
		return NewConsistencyError(in.name, fmt.Errorf("delete of absent tuple %s@%s", t, ts))
	}

	n.log.V(4).Info("change", "input", in.name, "direction", dir.String(), "tuple", t.String(),
		"timestamp", ts.String())
	return in.mb.post(n, SlotLeft, dir, t, ts)
}

// Flush runs the pending delayed commands and drains all mailboxes until the network reaches a
// fixed point.
func (n *Network) Flush() error {
	if err := n.checkMutable(); err != nil {
		return err
	}

	start := time.Now()
	if err := n.runDelayedCommands(); err != nil {
		return n.fail(err)
	}

	n.delivering = true
	defer func() { n.delivering = false }()

	rounds := 0
	for g := n.tracker.next(); g != nil; g = n.tracker.next() {
		rounds++
		n.log.V(4).Info("delivering group", "group", g.String())
		if err := g.deliverMessages(n); err != nil {
			n.settling = nil
			return n.fail(err)
		}
		n.tracker.deactivate(g)
		n.settleListeners()
	}

	if rounds > 0 {
		n.countBatch(time.Since(start).Seconds())
		n.log.V(2).Info("batch settled", "rounds", rounds, "deliveries", n.stats.Deliveries,
			"duration", time.Since(start).String())
	}
	return nil
}

// settleListeners reports the net changes of the productions touched by the last group.
func (n *Network) settleListeners() {
	for _, id := range n.settling {
		if p, ok := n.nodes[id].(*ProductionNode); ok {
			p.settle()
		}
	}
	n.settling = n.settling[:0]
}

// IsEmpty reports whether the network has no pending work.
func (n *Network) IsEmpty() bool {
	return len(n.commands) == 0 && n.tracker.isEmpty()
}

func (n *Network) deliverMailbox(id NodeID, kind MessageKind) error {
	r, ok := n.nodes[id].(interface{ mailbox() mailbox })
	if !ok {
		return NewConsistencyError(n.nameOf(id), errors.New("queued node has no mailbox"))
	}
	mb := r.mailbox()
	err := mb.deliver(n, kind)
	n.tracker.notify(mb)
	return err
}

// propagate sends an update to all children of a node.
func (n *Network) propagate(from NodeID, dir tuple.Direction, t tuple.Tuple, ts tuple.Timestamp) error {
	for _, l := range n.nodes[from].base().children {
		if !l.synced {
			continue
		}
		r, ok := n.nodes[l.child].(interface{ mailbox() mailbox })
		if !ok {
			continue
		}
		if err := r.mailbox().post(n, l.slot, dir, t, ts); err != nil {
			return err
		}
	}
	return nil
}

// record accounts for a delivery.
func (n *Network) record(node Node, dir tuple.Direction, t tuple.Tuple, ts tuple.Timestamp, fallThrough bool) {
	n.countDelivery(fallThrough)
	if n.trace != nil {
		n.trace.Add(fmt.Sprintf("%s <- %s %s@%s", node.Name(), dir, t, ts))
	}
}

// Groups returns a snapshot of the communication groups ordered by rank.
func (n *Network) Groups() []GroupInfo { return n.tracker.groupInfo() }

// Stats returns the network counters.
func (n *Network) Stats() Stats { return n.stats }

// RecentDeliveries returns the most recent deliveries, oldest first.
func (n *Network) RecentDeliveries() []string {
	if n.trace == nil {
		return []string{}
	}
	return n.trace.StringSlice()
}

// FallThrough reports the fall-through flag of a node's mailbox.
func (n *Network) FallThrough(id NodeID) (bool, error) {
	node, err := n.Node(id)
	if err != nil {
		return false, err
	}
	r, ok := node.(interface{ mailbox() mailbox })
	if !ok {
		return false, nil
	}
	return r.mailbox().fallThrough(), nil
}

// GroupOf returns the rank and kind of the group a node belongs to.
func (n *Network) GroupOf(id NodeID) (int, GroupKind, error) {
	if _, err := n.Node(id); err != nil {
		return 0, 0, err
	}
	g := n.tracker.groupOf[id]
	return g.rank, g.kind, nil
}

// Links returns every data and dependency edge.
func (n *Network) Links() []LinkInfo {
	ret := []LinkInfo{}
	for _, node := range n.Nodes() {
		for _, l := range node.base().children {
			ret = append(ret, LinkInfo{Parent: l.parent, Child: l.child, Slot: l.slot})
		}
		if r, ok := node.(*BatchingReceiverNode); ok {
			ret = append(ret, LinkInfo{Parent: r.id, Child: r.owner, Dependency: true})
		}
	}
	return ret
}

// Info describes a node.
func (n *Network) Info(id NodeID) (NodeInfo, error) {
	node, err := n.Node(id)
	if err != nil {
		return NodeInfo{}, err
	}
	b := node.base()
	info := NodeInfo{
		ID:    id,
		Name:  b.name,
		Kind:  b.kind,
		Width: b.width,
		Group: n.tracker.groupOf[id].rank,
	}
	for _, l := range b.parents {
		info.Parents = append(info.Parents, n.nameOf(l.parent))
	}
	for _, l := range b.children {
		info.Children = append(info.Children, n.nameOf(l.child))
	}
	if r, ok := node.(interface{ mailbox() mailbox }); ok {
		info.FallThrough = r.mailbox().fallThrough()
		info.Pending = r.mailbox().size()
	}
	if s, ok := node.(interface{ stored() int }); ok {
		info.Stateful = true
		info.Size = s.stored()
	}
	if s, ok := node.(fmt.Stringer); ok {
		info.Detail = s.String()
	}
	return info, nil
}
