package rete

import (
	"fmt"

	"github.com/l7mp/rete/pkg/tuple"
	"github.com/l7mp/rete/pkg/zset"
)

// MessageKind classifies pending messages for recursion-aware delivery.
type MessageKind int

const (
	// MessageDefault is an ordinary update.
	MessageDefault MessageKind = iota
	// MessageAntiMonotone is a deletion posted to a recursion-aware mailbox.
	MessageAntiMonotone
	// MessageMonotone is an insertion posted to a recursion-aware mailbox.
	MessageMonotone
)

var messageKinds = []MessageKind{MessageDefault, MessageAntiMonotone, MessageMonotone}

func (k MessageKind) String() string {
	switch k {
	case MessageDefault:
		return "default"
	case MessageAntiMonotone:
		return "anti-monotone"
	case MessageMonotone:
		return "monotone"
	default:
		return fmt.Sprintf("<invalid message kind %d>", int(k))
	}
}

// message is a pending update. Count is a signed multiplicity.
type message struct {
	slot  Slot
	tuple tuple.Tuple
	ts    tuple.Timestamp
	count int
}

func (m message) direction() tuple.Direction {
	if m.count < 0 {
		return tuple.Delete
	}
	return tuple.Insert
}

func (m message) String() string {
	return fmt.Sprintf("%s %s@%s x%d slot=%s", m.direction(), m.tuple, m.ts, abs(m.count), m.slot)
}

func messageKey(slot Slot, t tuple.Tuple, ts tuple.Timestamp) string {
	return fmt.Sprintf("%d|%d|%s", slot, ts, t.Key())
}

func abs(i int) int {
	if i < 0 {
		return -i
	}
	return i
}

// mailbox buffers the pending updates of one node. Opposite updates of the same tuple cancel
// while they wait.
type mailbox interface {
	owner() NodeID
	post(net *Network, slot Slot, dir tuple.Direction, t tuple.Tuple, ts tuple.Timestamp) error
	hasPending(kind MessageKind) bool
	deliver(net *Network, kind MessageKind) error
	pending(slot Slot, t tuple.Tuple, ts tuple.Timestamp) int
	size() int
	clear()
	fallThrough() bool
	setFallThrough(bool)
	setSplit(bool)
}

// sortedMessages returns the queued messages, deletions first, each group in arrival order.
func sortedMessages(q *zset.ZSet[message]) []message {
	dels, ins := []message{}, []message{}
	for _, e := range q.Entries() {
		m := e.Value
		m.count = e.Multiplicity
		if m.count < 0 {
			dels = append(dels, m)
		} else {
			ins = append(ins, m)
		}
	}
	return append(dels, ins...)
}

// signedQueue is a coalescing bag of messages that counts its positive and negative entries.
type signedQueue struct {
	bag      *zset.ZSet[message]
	pos, neg int
}

func newSignedQueue() *signedQueue { return &signedQueue{bag: zset.New[message]()} }

func (q *signedQueue) count(key string) int { return q.bag.Count(key) }
func (q *signedQueue) size() int            { return q.bag.Size() }
func (q *signedQueue) isZero() bool         { return q.bag.IsZero() }

func (q *signedQueue) clear() {
	q.bag.Clear()
	q.pos, q.neg = 0, 0
}

func (q *signedQueue) add(key string, m message, count int) {
	before := q.bag.Count(key)
	after := q.bag.Add(key, m, count)
	switch {
	case before > 0 && after <= 0:
		q.pos--
	case before <= 0 && after > 0:
		q.pos++
	}
	switch {
	case before < 0 && after >= 0:
		q.neg--
	case before >= 0 && after < 0:
		q.neg++
	}
}

// takeAll empties the queue and returns its messages, deletions first.
func (q *signedQueue) takeAll() []message {
	ret := sortedMessages(q.bag)
	q.clear()
	return ret
}

// take removes and returns the messages of one direction in arrival order.
func (q *signedQueue) take(dir tuple.Direction) []message {
	ret := []message{}
	for _, e := range q.bag.Entries() {
		if sign(e.Multiplicity) == dir.Sign() {
			m := e.Value
			m.count = e.Multiplicity
			ret = append(ret, m)
		}
	}
	for _, m := range ret {
		q.add(messageKey(m.slot, m.tuple, m.ts), m, -m.count)
	}
	return ret
}

// directionOf maps the recursion-aware message kinds to the direction they carry.
func directionOf(kind MessageKind) (tuple.Direction, bool) {
	switch kind {
	case MessageAntiMonotone:
		return tuple.Delete, true
	case MessageMonotone:
		return tuple.Insert, true
	default:
		return 0, false
	}
}

// deliverEach hands messages to a receiver one event at a time.
func deliverEach(net *Network, recv receiver, msgs []message) error {
	for _, m := range msgs {
		for i := 0; i < abs(m.count); i++ {
			net.record(recv, m.direction(), m.tuple, m.ts, false)
			if err := recv.update(net, m.slot, m.direction(), m.tuple, m.ts); err != nil {
				return err
			}
		}
	}
	return nil
}

// defaultMailbox coalesces updates and delivers them in one go. When the fall-through flag is
// set, an update arriving at an idle, empty mailbox during the drain loop is delivered
// immediately.
//
// Inside a recursive group the mailbox is split: deletions and insertions are delivered in
// separate rounds, so that the group can settle all deletions before any insertion is joined
// with tuples that are about to be retracted.
type defaultMailbox struct {
	node       *nodeBase
	queue      *signedQueue
	fall       bool
	split      bool
	delivering bool
}

func newDefaultMailbox(node *nodeBase) *defaultMailbox {
	return &defaultMailbox{node: node, queue: newSignedQueue()}
}

func (mb *defaultMailbox) owner() NodeID         { return mb.node.id }
func (mb *defaultMailbox) size() int             { return mb.queue.size() }
func (mb *defaultMailbox) fallThrough() bool     { return mb.fall }
func (mb *defaultMailbox) setFallThrough(b bool) { mb.fall = b }
func (mb *defaultMailbox) setSplit(b bool)       { mb.split = b }
func (mb *defaultMailbox) clear()                { mb.queue.clear() }

func (mb *defaultMailbox) pending(slot Slot, t tuple.Tuple, ts tuple.Timestamp) int {
	return mb.queue.count(messageKey(slot, t, ts))
}

func (mb *defaultMailbox) hasPending(kind MessageKind) bool {
	if !mb.split {
		return kind == MessageDefault && !mb.queue.isZero()
	}
	switch kind {
	case MessageAntiMonotone:
		return mb.queue.neg > 0
	case MessageMonotone:
		return mb.queue.pos > 0
	default:
		return false
	}
}

func (mb *defaultMailbox) post(net *Network, slot Slot, dir tuple.Direction, t tuple.Tuple, ts tuple.Timestamp) error {
	if mb.fall && net.delivering && !mb.delivering && mb.queue.isZero() {
		recv := net.nodes[mb.node.id].(receiver)
		mb.delivering = true
		defer func() { mb.delivering = false }()
		net.record(recv, dir, t, ts, true)
		return recv.update(net, slot, dir, t, ts)
	}

	mb.queue.add(messageKey(slot, t, ts), message{slot: slot, tuple: t, ts: ts}, dir.Sign())
	net.tracker.notify(mb)
	return nil
}

func (mb *defaultMailbox) deliver(net *Network, kind MessageKind) error {
	var batch []message
	if mb.split {
		dir, ok := directionOf(kind)
		if !ok {
			return nil
		}
		batch = mb.queue.take(dir)
	} else {
		if kind != MessageDefault {
			return nil
		}
		batch = mb.queue.takeAll()
	}
	net.tracker.notify(mb)

	mb.delivering = true
	defer func() { mb.delivering = false }()
	return deliverEach(net, net.nodes[mb.node.id].(receiver), batch)
}

// splittingMailbox is the recursion-aware mailbox of production nodes: pending deletions are
// anti-monotone, pending insertions are monotone, and the two kinds are delivered separately.
type splittingMailbox struct {
	node  *nodeBase
	queue *signedQueue
}

func newSplittingMailbox(node *nodeBase) *splittingMailbox {
	return &splittingMailbox{node: node, queue: newSignedQueue()}
}

func (mb *splittingMailbox) owner() NodeID       { return mb.node.id }
func (mb *splittingMailbox) size() int           { return mb.queue.size() }
func (mb *splittingMailbox) fallThrough() bool   { return false }
func (mb *splittingMailbox) setFallThrough(bool) {}
func (mb *splittingMailbox) setSplit(bool)       {}
func (mb *splittingMailbox) clear()              { mb.queue.clear() }

func (mb *splittingMailbox) pending(slot Slot, t tuple.Tuple, ts tuple.Timestamp) int {
	return mb.queue.count(messageKey(slot, t, ts))
}

func (mb *splittingMailbox) hasPending(kind MessageKind) bool {
	switch kind {
	case MessageAntiMonotone:
		return mb.queue.neg > 0
	case MessageMonotone:
		return mb.queue.pos > 0
	default:
		return false
	}
}

func (mb *splittingMailbox) post(net *Network, slot Slot, dir tuple.Direction, t tuple.Tuple, ts tuple.Timestamp) error {
	mb.queue.add(messageKey(slot, t, ts), message{slot: slot, tuple: t, ts: ts}, dir.Sign())
	net.tracker.notify(mb)
	return nil
}

func (mb *splittingMailbox) deliver(net *Network, kind MessageKind) error {
	dir, ok := directionOf(kind)
	if !ok {
		return nil
	}
	batch := mb.queue.take(dir)
	net.tracker.notify(mb)
	return deliverEach(net, net.nodes[mb.node.id].(receiver), batch)
}

// batchingMailbox hands the whole accumulated bag to its node in a single call.
type batchingMailbox struct {
	node  *nodeBase
	queue *zset.ZSet[message]
}

func newBatchingMailbox(node *nodeBase) *batchingMailbox {
	return &batchingMailbox{node: node, queue: zset.New[message]()}
}

func (mb *batchingMailbox) owner() NodeID       { return mb.node.id }
func (mb *batchingMailbox) size() int           { return mb.queue.Size() }
func (mb *batchingMailbox) fallThrough() bool   { return false }
func (mb *batchingMailbox) setFallThrough(bool) {}
func (mb *batchingMailbox) setSplit(bool)       {}
func (mb *batchingMailbox) clear()              { mb.queue.Clear() }

func (mb *batchingMailbox) pending(slot Slot, t tuple.Tuple, ts tuple.Timestamp) int {
	return mb.queue.Count(messageKey(slot, t, ts))
}

func (mb *batchingMailbox) hasPending(kind MessageKind) bool {
	return kind == MessageDefault && !mb.queue.IsZero()
}

func (mb *batchingMailbox) post(net *Network, slot Slot, dir tuple.Direction, t tuple.Tuple, ts tuple.Timestamp) error {
	mb.queue.Add(messageKey(slot, t, ts), message{slot: slot, tuple: t, ts: ts}, dir.Sign())
	net.tracker.notify(mb)
	return nil
}

func (mb *batchingMailbox) deliver(net *Network, kind MessageKind) error {
	if kind != MessageDefault {
		return nil
	}
	batch := mb.queue
	mb.queue = zset.New[message]()
	net.tracker.notify(mb)

	recv := net.nodes[mb.node.id].(batchReceiver)
	msgs := sortedMessages(batch)
	for _, m := range msgs {
		net.record(recv, m.direction(), m.tuple, m.ts, false)
	}
	return recv.batchUpdate(net, msgs)
}

func sign(i int) int {
	switch {
	case i > 0:
		return 1
	case i < 0:
		return -1
	default:
		return 0
	}
}
