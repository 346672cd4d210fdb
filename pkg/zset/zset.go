// Package zset implements signed multisets: each element carries an integer multiplicity that
// may be negative, and elements whose multiplicity drops to zero disappear.
package zset

import (
	"fmt"
	"sort"
)

// ZSet is a Z-set over values of type T identified by string keys. Iteration follows the order
// in which the keys were first added since the last time they reached zero.
type ZSet[T any] struct {
	elems  map[string]T   // key -> value
	counts map[string]int // key -> multiplicity
	seqs   map[string]uint64
	seq    uint64
}

// Entry is an element with its multiplicity.
type Entry[T any] struct {
	Key          string
	Value        T
	Multiplicity int
}

// New creates an empty ZSet.
func New[T any]() *ZSet[T] {
	return &ZSet[T]{
		elems:  make(map[string]T),
		counts: make(map[string]int),
		seqs:   make(map[string]uint64),
	}
}

// Add adds an element with the given multiplicity in place and returns the new multiplicity.
func (z *ZSet[T]) Add(key string, v T, count int) int {
	if count == 0 {
		return z.counts[key]
	}

	if _, exists := z.counts[key]; exists {
		z.counts[key] += count
	} else {
		z.elems[key] = v
		z.counts[key] = count
		z.seq++
		z.seqs[key] = z.seq
	}

	c := z.counts[key]
	if c == 0 {
		delete(z.counts, key)
		delete(z.elems, key)
		delete(z.seqs, key)
	}

	return c
}

// Count returns the multiplicity of a key, zero if absent.
func (z *ZSet[T]) Count(key string) int { return z.counts[key] }

// Has reports whether the key has nonzero multiplicity.
func (z *ZSet[T]) Has(key string) bool {
	_, ok := z.counts[key]
	return ok
}

// Get returns the value stored for a key.
func (z *ZSet[T]) Get(key string) (T, bool) {
	v, ok := z.elems[key]
	return v, ok
}

// Len returns the number of distinct keys.
func (z *ZSet[T]) Len() int { return len(z.counts) }

// Size returns the sum of absolute multiplicities.
func (z *ZSet[T]) Size() int {
	size := 0
	for _, c := range z.counts {
		if c < 0 {
			c = -c
		}
		size += c
	}
	return size
}

// IsZero reports whether the Z-set is empty.
func (z *ZSet[T]) IsZero() bool { return len(z.counts) == 0 }

// Entries returns all elements in insertion order.
func (z *ZSet[T]) Entries() []Entry[T] {
	keys := make([]string, 0, len(z.counts))
	for k := range z.counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return z.seqs[keys[i]] < z.seqs[keys[j]] })

	ret := make([]Entry[T], len(keys))
	for i, k := range keys {
		ret[i] = Entry[T]{Key: k, Value: z.elems[k], Multiplicity: z.counts[k]}
	}
	return ret
}

// Clear removes all elements.
func (z *ZSet[T]) Clear() {
	z.elems = make(map[string]T)
	z.counts = make(map[string]int)
	z.seqs = make(map[string]uint64)
}

// Swap exchanges the contents of two Z-sets.
func (z *ZSet[T]) Swap(o *ZSet[T]) {
	z.elems, o.elems = o.elems, z.elems
	z.counts, o.counts = o.counts, z.counts
	z.seqs, o.seqs = o.seqs, z.seqs
	z.seq, o.seq = max(z.seq, o.seq), max(z.seq, o.seq)
}

// String implements fmt.Stringer.
func (z *ZSet[T]) String() string {
	ret := "{"
	for i, e := range z.Entries() {
		if i > 0 {
			ret += ", "
		}
		ret += fmt.Sprintf("%s:%d", e.Key, e.Multiplicity)
	}
	return ret + "}"
}
