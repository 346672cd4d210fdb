package memory

import (
	"sort"

	"github.com/l7mp/rete/pkg/tuple"
)

// View is a read-only window onto the tuples stored under one signature. A view is only valid
// until the next change to the memory.
type View interface {
	// Len returns the number of distinct tuples.
	Len() int
	// Size returns the sum of multiplicities.
	Size() int
	// Contains reports whether the tuple is present.
	Contains(t tuple.Tuple) bool
	// Count returns the multiplicity of a tuple.
	Count(t tuple.Tuple) int
	// Tuples returns the distinct tuples in insertion order.
	Tuples() []tuple.Tuple
	// Entries returns the tuples with visible stamps and multiplicities in insertion order.
	Entries() []Entry
}

type emptyView struct{}

func (emptyView) Len() int                  { return 0 }
func (emptyView) Size() int                 { return 0 }
func (emptyView) Contains(tuple.Tuple) bool { return false }
func (emptyView) Count(tuple.Tuple) int     { return 0 }
func (emptyView) Tuples() []tuple.Tuple     { return []tuple.Tuple{} }
func (emptyView) Entries() []Entry          { return []Entry{} }

type bucketView struct {
	bucket *bucket
}

func (v *bucketView) Len() int { return len(v.bucket.records) }

func (v *bucketView) Size() int {
	size := 0
	for _, r := range v.bucket.records {
		size += r.count
	}
	return size
}

func (v *bucketView) Contains(t tuple.Tuple) bool {
	_, ok := v.bucket.records[t.Key()]
	return ok
}

func (v *bucketView) Count(t tuple.Tuple) int {
	if r, ok := v.bucket.records[t.Key()]; ok {
		return r.count
	}
	return 0
}

func (v *bucketView) sorted() []*record {
	rs := make([]*record, 0, len(v.bucket.records))
	for _, r := range v.bucket.records {
		rs = append(rs, r)
	}
	sort.Slice(rs, func(i, j int) bool { return rs[i].seq < rs[j].seq })
	return rs
}

func (v *bucketView) Tuples() []tuple.Tuple {
	rs := v.sorted()
	ret := make([]tuple.Tuple, len(rs))
	for i, r := range rs {
		ret[i] = r.tuple
	}
	return ret
}

func (v *bucketView) Entries() []Entry {
	rs := v.sorted()
	ret := make([]Entry, len(rs))
	for i, r := range rs {
		ret[i] = Entry{Tuple: r.tuple, Timestamp: r.visible(), Count: r.count}
	}
	return ret
}
