package tuple

import "sort"

// Set is a set of tuples indexed by key.
type Set map[string]Tuple

// NewSet creates a set holding the given tuples.
func NewSet(ts ...Tuple) Set {
	s := Set{}
	for _, t := range ts {
		s.Add(t)
	}
	return s
}

// Add inserts a tuple.
func (s Set) Add(t Tuple) { s[t.Key()] = t }

// Remove deletes a tuple.
func (s Set) Remove(t Tuple) { delete(s, t.Key()) }

// Contains reports whether the tuple is in the set.
func (s Set) Contains(t Tuple) bool {
	_, ok := s[t.Key()]
	return ok
}

// Tuples returns the members sorted by key.
func (s Set) Tuples() []Tuple {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	ret := make([]Tuple, len(keys))
	for i, k := range keys {
		ret[i] = s[k]
	}
	return ret
}

// Sort orders tuples by key, in place.
func Sort(ts []Tuple) {
	sort.Slice(ts, func(i, j int) bool { return ts[i].Key() < ts[j].Key() })
}
