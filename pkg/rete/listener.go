package rete

import (
	"sync"

	"github.com/l7mp/rete/pkg/tuple"
)

// Listener receives the visible changes of a production node in delivery order.
type Listener func(dir tuple.Direction, t tuple.Tuple, ts tuple.Timestamp)

// listenerRegistry may be read from other goroutines while the network delivers.
type listenerRegistry struct {
	mu        sync.RWMutex
	next      int
	listeners map[int]Listener
	order     []int
}

func newListenerRegistry() *listenerRegistry {
	return &listenerRegistry{listeners: map[int]Listener{}}
}

func (r *listenerRegistry) add(l Listener) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.next
	r.next++
	r.listeners[id] = l
	r.order = append(r.order, id)
	return func() { r.remove(id) }
}

func (r *listenerRegistry) remove(id int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.listeners[id]; !ok {
		return
	}
	delete(r.listeners, id)
	for i, x := range r.order {
		if x == id {
			r.order = append(r.order[:i:i], r.order[i+1:]...)
			break
		}
	}
}

func (r *listenerRegistry) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

func (r *listenerRegistry) notify(dir tuple.Direction, t tuple.Tuple, ts tuple.Timestamp) {
	r.mu.RLock()
	ls := make([]Listener, 0, len(r.order))
	for _, id := range r.order {
		ls = append(ls, r.listeners[id])
	}
	r.mu.RUnlock()

	for _, l := range ls {
		l(dir, t, ts)
	}
}

func (r *listenerRegistry) clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = map[int]Listener{}
	r.order = nil
}

// AddListener subscribes to the changes of a production node. The returned function removes
// the subscription.
func (n *Network) AddListener(production NodeID, l Listener) (func(), error) {
	node, err := n.Node(production)
	if err != nil {
		return nil, err
	}
	p, ok := node.(*ProductionNode)
	if !ok {
		return nil, NewMisuseError("node %q of kind %s does not accept listeners", node.Name(), node.Kind())
	}
	return p.listeners.add(l), nil
}
