// Package memory implements the indexed multisets that stateful nodes keep their contents in.
//
// A Memory maps a signature, the projection of a tuple through the memory's mask, to the bag of
// full tuples sharing that signature. Every stored occurrence carries a timestamp: default
// memories stamp everything with tuple.Zero, timely memories keep the stamps they are given and
// expose the earliest one as the visible stamp of the tuple.
package memory

import (
	"errors"
	"fmt"
	"sort"

	"github.com/l7mp/rete/pkg/tuple"
)

// ErrNotPresent is returned when removing a tuple that has no positive multiplicity.
var ErrNotPresent = errors.New("tuple not present in memory")

// Granularity tells how significant a change to a memory was.
type Granularity int

const (
	// Duplicate means the tuple was already present (or is still present after a removal).
	Duplicate Granularity = iota
	// Value means the first occurrence of a tuple under an existing signature (or the last
	// occurrence of a tuple whose signature still has other tuples).
	Value
	// Key means the first occurrence of the signature (or the removal of its last tuple).
	Key
)

func (g Granularity) String() string {
	switch g {
	case Duplicate:
		return "DUPLICATE"
	case Value:
		return "VALUE"
	case Key:
		return "KEY"
	default:
		return fmt.Sprintf("<invalid granularity %d>", int(g))
	}
}

// Replacement describes how the visible timestamp of a tuple changed. HasOld is set when a
// visible stamp disappeared, HasNew when a new one appeared. Both are set when an earlier
// derivation superseded the previous visible stamp, or when the earliest derivation was
// retracted while later ones remain.
type Replacement struct {
	Old, New       tuple.Timestamp
	HasOld, HasNew bool
}

// IsZero reports whether the visible stamp stayed the same.
func (r Replacement) IsZero() bool { return !r.HasOld && !r.HasNew }

func (r Replacement) String() string {
	old, nw := "-", "-"
	if r.HasOld {
		old = r.Old.String()
	}
	if r.HasNew {
		nw = r.New.String()
	}
	return old + "->" + nw
}

// Change is the result of adding or removing a tuple.
type Change struct {
	Granularity Granularity
	Replacement Replacement
}

// Entry is a tuple with its visible timestamp and total multiplicity.
type Entry struct {
	Tuple     tuple.Tuple
	Timestamp tuple.Timestamp
	Count     int
}

type record struct {
	tuple  tuple.Tuple
	stamps map[tuple.Timestamp]int
	count  int
	seq    uint64
}

func (r *record) visible() tuple.Timestamp {
	earliest := tuple.Infinity
	for ts := range r.stamps {
		earliest = earliest.Min(ts)
	}
	return earliest
}

type bucket struct {
	signature tuple.Tuple
	records   map[string]*record
	seq       uint64
}

// Memory is an indexed multiset of tuples.
type Memory struct {
	mask    tuple.Mask
	timely  bool
	buckets map[string]*bucket
	index   map[string]*bucket // tuple key -> bucket
	size    int
	seq     uint64
}

// New creates a default memory indexing tuples by mask. All stamps are normalized to Zero.
func New(mask tuple.Mask) *Memory {
	return &Memory{
		mask:    mask,
		buckets: map[string]*bucket{},
		index:   map[string]*bucket{},
	}
}

// NewTimely creates a timestamp-aware memory indexing tuples by mask.
func NewTimely(mask tuple.Mask) *Memory {
	m := New(mask)
	m.timely = true
	return m
}

// Mask returns the indexing mask.
func (m *Memory) Mask() tuple.Mask { return m.mask }

// IsTimely reports whether the memory keeps timestamps.
func (m *Memory) IsTimely() bool { return m.timely }

func (m *Memory) stamp(ts tuple.Timestamp) tuple.Timestamp {
	if m.timely {
		return ts
	}
	return tuple.Zero
}

// Add inserts one occurrence of t at ts.
func (m *Memory) Add(t tuple.Tuple, ts tuple.Timestamp) (Change, error) {
	ts = m.stamp(ts)
	sig, err := m.mask.Transform(t)
	if err != nil {
		return Change{}, err
	}

	ch := Change{Granularity: Duplicate}
	b, ok := m.buckets[sig.Key()]
	if !ok {
		m.seq++
		b = &bucket{signature: sig, records: map[string]*record{}, seq: m.seq}
		m.buckets[sig.Key()] = b
		ch.Granularity = Key
	}

	r, ok := b.records[t.Key()]
	if !ok {
		m.seq++
		r = &record{tuple: t, stamps: map[tuple.Timestamp]int{}, seq: m.seq}
		b.records[t.Key()] = r
		m.index[t.Key()] = b
		if ch.Granularity != Key {
			ch.Granularity = Value
		}
		ch.Replacement = Replacement{New: ts, HasNew: true}
	} else if old := r.visible(); ts < old {
		ch.Replacement = Replacement{Old: old, New: ts, HasOld: true, HasNew: true}
	}

	r.stamps[ts]++
	r.count++
	m.size++

	return ch, nil
}

// Remove deletes one occurrence of t at ts.
func (m *Memory) Remove(t tuple.Tuple, ts tuple.Timestamp) (Change, error) {
	ts = m.stamp(ts)
	b, ok := m.index[t.Key()]
	if !ok {
		return Change{}, fmt.Errorf("remove %s@%s: %w", t, ts, ErrNotPresent)
	}
	r := b.records[t.Key()]
	if r.stamps[ts] <= 0 {
		return Change{}, fmt.Errorf("remove %s@%s: no occurrence at this timestamp: %w", t, ts,
			ErrNotPresent)
	}

	old := r.visible()
	r.stamps[ts]--
	if r.stamps[ts] == 0 {
		delete(r.stamps, ts)
	}
	r.count--
	m.size--

	ch := Change{Granularity: Duplicate}
	if r.count == 0 {
		delete(b.records, t.Key())
		delete(m.index, t.Key())
		ch.Granularity = Value
		ch.Replacement = Replacement{Old: old, HasOld: true}
		if len(b.records) == 0 {
			delete(m.buckets, b.signature.Key())
			ch.Granularity = Key
		}
		return ch, nil
	}

	if nw := r.visible(); nw != old {
		ch.Replacement = Replacement{Old: old, New: nw, HasOld: true, HasNew: true}
	}
	return ch, nil
}

// Lookup returns a read-only view of the tuples stored under a signature. Unknown signatures
// yield an empty view.
func (m *Memory) Lookup(signature tuple.Tuple) View {
	b, ok := m.buckets[signature.Key()]
	if !ok {
		return emptyView{}
	}
	return &bucketView{bucket: b}
}

// GetWithTimestamp returns the tuples under a signature keyed by tuple key, each with its
// visible timestamp.
func (m *Memory) GetWithTimestamp(signature tuple.Tuple) map[string]tuple.Stamped {
	ret := map[string]tuple.Stamped{}
	b, ok := m.buckets[signature.Key()]
	if !ok {
		return ret
	}
	for k, r := range b.records {
		ret[k] = tuple.Stamped{Tuple: r.tuple, Timestamp: r.visible()}
	}
	return ret
}

// Count returns the total multiplicity of a tuple over all timestamps.
func (m *Memory) Count(t tuple.Tuple) int {
	b, ok := m.index[t.Key()]
	if !ok {
		return 0
	}
	return b.records[t.Key()].count
}

// CountAt returns the multiplicity of a tuple at a single timestamp.
func (m *Memory) CountAt(t tuple.Tuple, ts tuple.Timestamp) int {
	b, ok := m.index[t.Key()]
	if !ok {
		return 0
	}
	return b.records[t.Key()].stamps[m.stamp(ts)]
}

// Timestamp returns the visible stamp of a tuple.
func (m *Memory) Timestamp(t tuple.Tuple) (tuple.Timestamp, bool) {
	b, ok := m.index[t.Key()]
	if !ok {
		return tuple.Zero, false
	}
	return b.records[t.Key()].visible(), true
}

// Stamps returns the per-timestamp multiplicities of a tuple.
func (m *Memory) Stamps(t tuple.Tuple) map[tuple.Timestamp]int {
	ret := map[tuple.Timestamp]int{}
	if b, ok := m.index[t.Key()]; ok {
		for ts, c := range b.records[t.Key()].stamps {
			ret[ts] = c
		}
	}
	return ret
}

// Size returns the sum of all multiplicities.
func (m *Memory) Size() int { return m.size }

// KeyCount returns the number of distinct signatures.
func (m *Memory) KeyCount() int { return len(m.buckets) }

// Signatures returns all signatures in insertion order.
func (m *Memory) Signatures() []tuple.Tuple {
	bs := make([]*bucket, 0, len(m.buckets))
	for _, b := range m.buckets {
		bs = append(bs, b)
	}
	sort.Slice(bs, func(i, j int) bool { return bs[i].seq < bs[j].seq })
	ret := make([]tuple.Tuple, len(bs))
	for i, b := range bs {
		ret[i] = b.signature
	}
	return ret
}

// Entries returns every distinct tuple in insertion order.
func (m *Memory) Entries() []Entry {
	ret := []Entry{}
	for _, sig := range m.Signatures() {
		ret = append(ret, m.Lookup(sig).Entries()...)
	}
	return ret
}

// Clear empties the memory.
func (m *Memory) Clear() {
	m.buckets = map[string]*bucket{}
	m.index = map[string]*bucket{}
	m.size = 0
}
