package rete

import (
	"fmt"

	"github.com/l7mp/rete/pkg/memory"
	"github.com/l7mp/rete/pkg/tuple"
)

// Count counts the tuples of a group, duplicates included.
type Count struct{}

func (Count) String() string { return "count" }

func (Count) Aggregate(group []memory.Entry) (any, error) {
	n := 0
	for _, e := range group {
		n += e.Count
	}
	return n, nil
}

// Sum adds up a numeric column over a group, duplicates included.
type Sum struct{ Column int }

func (s Sum) String() string { return fmt.Sprintf("sum(%d)", s.Column) }

func (s Sum) Aggregate(group []memory.Entry) (any, error) {
	sum := 0.0
	for _, e := range group {
		v, err := column(e.Tuple, s.Column)
		if err != nil {
			return nil, err
		}
		f, ok := tuple.AsFloat(v)
		if !ok {
			return nil, fmt.Errorf("sum: value %v in column %d is not numeric", v, s.Column)
		}
		sum += f * float64(e.Count)
	}
	return sum, nil
}

// Min selects the smallest value of a column over a group.
type Min struct{ Column int }

func (m Min) String() string { return fmt.Sprintf("min(%d)", m.Column) }

func (m Min) Aggregate(group []memory.Entry) (any, error) {
	return extreme(group, m.Column, -1)
}

// Max selects the largest value of a column over a group.
type Max struct{ Column int }

func (m Max) String() string { return fmt.Sprintf("max(%d)", m.Column) }

func (m Max) Aggregate(group []memory.Entry) (any, error) {
	return extreme(group, m.Column, 1)
}

func extreme(group []memory.Entry, col, want int) (any, error) {
	var best any
	for i, e := range group {
		v, err := column(e.Tuple, col)
		if err != nil {
			return nil, err
		}
		if i == 0 || tuple.Compare(v, best) == want {
			best = v
		}
	}
	return best, nil
}

func column(t tuple.Tuple, col int) (any, error) {
	if col < 0 || col >= t.Width() {
		return nil, fmt.Errorf("column %d out of range for tuple %s", col, t)
	}
	return t.Get(col), nil
}
