package testutils

import (
	"fmt"
	"sort"
	"sync"

	"github.com/l7mp/rete/pkg/tuple"
)

// Event is a visible change observed at a production node.
type Event struct {
	Direction tuple.Direction
	Tuple     tuple.Tuple
	Timestamp tuple.Timestamp
}

// String renders an event as "+<a,b>" or "-<a,b>", with the stamp appended when nonzero.
func (e Event) String() string {
	sign := "+"
	if e.Direction == tuple.Delete {
		sign = "-"
	}
	if e.Timestamp == tuple.Zero {
		return sign + e.Tuple.String()
	}
	return fmt.Sprintf("%s%s@%s", sign, e.Tuple, e.Timestamp)
}

// Recorder collects production events. Its Listen method can be registered as a listener.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder { return &Recorder{} }

// Listen records one event.
func (r *Recorder) Listen(dir tuple.Direction, t tuple.Tuple, ts tuple.Timestamp) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Event{Direction: dir, Tuple: t, Timestamp: ts})
}

// Events returns the recorded events in arrival order.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event{}, r.events...)
}

// Strings returns the recorded events rendered in arrival order.
func (r *Recorder) Strings() []string {
	es := r.Events()
	ret := make([]string, len(es))
	for i, e := range es {
		ret[i] = e.String()
	}
	return ret
}

// Reset forgets all recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

// Tuples builds tuples from rows of values.
func Tuples(rows ...[]any) []tuple.Tuple {
	ret := make([]tuple.Tuple, len(rows))
	for i, row := range rows {
		ret[i] = tuple.New(row...)
	}
	return ret
}

// Strings renders tuples and sorts them, for order-insensitive comparison.
func Strings(ts []tuple.Tuple) []string {
	ret := make([]string, len(ts))
	for i, t := range ts {
		ret[i] = t.String()
	}
	sort.Strings(ret)
	return ret
}
