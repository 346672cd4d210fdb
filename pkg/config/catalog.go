package config

import (
	"errors"
	"fmt"

	"github.com/l7mp/rete/pkg/rete"
	"github.com/l7mp/rete/pkg/tuple"
)

// Params are the arguments of a built-in function. Numbers decoded from YAML arrive as float64.
type Params map[string]any

// Int returns an integer parameter or the default when the parameter is missing.
func (p Params) Int(key string, def int) (int, error) {
	v, ok := p[key]
	if !ok {
		return def, nil
	}
	f, ok := tuple.AsFloat(v)
	if !ok || f != float64(int(f)) {
		return 0, fmt.Errorf("parameter %q: expected integer, got %v", key, v)
	}
	return int(f), nil
}

// MustInt is like Int but the parameter is mandatory.
func (p Params) MustInt(key string) (int, error) {
	if _, ok := p[key]; !ok {
		return 0, fmt.Errorf("missing parameter %q", key)
	}
	return p.Int(key, 0)
}

// Ints returns a list of integer parameters.
func (p Params) Ints(key string) ([]int, error) {
	v, ok := p[key]
	if !ok {
		return nil, fmt.Errorf("missing parameter %q", key)
	}
	list, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("parameter %q: expected list, got %v", key, v)
	}
	ret := make([]int, 0, len(list))
	for _, e := range list {
		f, ok := tuple.AsFloat(e)
		if !ok || f != float64(int(f)) {
			return nil, fmt.Errorf("parameter %q: expected integer, got %v", key, e)
		}
		ret = append(ret, int(f))
	}
	return ret, nil
}

// Value returns a mandatory untyped parameter.
func (p Params) Value(key string) (any, error) {
	v, ok := p[key]
	if !ok {
		return nil, fmt.Errorf("missing parameter %q", key)
	}
	return v, nil
}

// Catalog maps function names to constructors of predicates, evaluators, aggregators and
// relation evaluators.
type Catalog struct {
	Predicates         map[string]func(Params) (rete.Predicate, error)
	Evaluators         map[string]func(Params) (rete.Evaluator, error)
	Aggregators        map[string]func(Params) (rete.Aggregator, error)
	RelationEvaluators map[string]func(Params) (rete.RelationEvaluator, error)
}

// DefaultCatalog returns the built-in functions.
func DefaultCatalog() *Catalog {
	return &Catalog{
		Predicates: map[string]func(Params) (rete.Predicate, error){
			"equals":        comparePredicate("equals", func(c int) bool { return c == 0 }),
			"not-equals":    comparePredicate("not-equals", func(c int) bool { return c != 0 }),
			"less-than":     comparePredicate("less-than", func(c int) bool { return c < 0 }),
			"greater-than":  comparePredicate("greater-than", func(c int) bool { return c > 0 }),
			"columns-equal": columnsEqual,
		},
		Evaluators: map[string]func(Params) (rete.Evaluator, error){
			"increment":  increment,
			"append-sum": appendSum,
		},
		Aggregators: map[string]func(Params) (rete.Aggregator, error){
			"count": func(Params) (rete.Aggregator, error) { return rete.Count{}, nil },
			"sum": func(p Params) (rete.Aggregator, error) {
				c, err := p.MustInt("column")
				return rete.Sum{Column: c}, err
			},
			"min": func(p Params) (rete.Aggregator, error) {
				c, err := p.MustInt("column")
				return rete.Min{Column: c}, err
			},
			"max": func(p Params) (rete.Aggregator, error) {
				c, err := p.MustInt("column")
				return rete.Max{Column: c}, err
			},
		},
		RelationEvaluators: map[string]func(Params) (rete.RelationEvaluator, error){
			"count":      countRelation,
			"union":      unionRelation,
			"difference": differenceRelation,
		},
	}
}

func comparePredicate(name string, accept func(int) bool) func(Params) (rete.Predicate, error) {
	return func(p Params) (rete.Predicate, error) {
		col, err := p.MustInt("column")
		if err != nil {
			return nil, err
		}
		value, err := p.Value("value")
		if err != nil {
			return nil, err
		}
		return rete.NewPredicate(fmt.Sprintf("%s(%d,%v)", name, col, value), func(t tuple.Tuple) (bool, error) {
			if col < 0 || col >= t.Width() {
				return false, fmt.Errorf("column %d out of range for %s", col, t)
			}
			return accept(tuple.Compare(t.Get(col), value)), nil
		}), nil
	}
}

func columnsEqual(p Params) (rete.Predicate, error) {
	l, err := p.MustInt("left")
	if err != nil {
		return nil, err
	}
	r, err := p.MustInt("right")
	if err != nil {
		return nil, err
	}
	return rete.NewPredicate(fmt.Sprintf("columns-equal(%d,%d)", l, r), func(t tuple.Tuple) (bool, error) {
		if l < 0 || l >= t.Width() || r < 0 || r >= t.Width() {
			return false, fmt.Errorf("columns %d,%d out of range for %s", l, r, t)
		}
		return tuple.Compare(t.Get(l), t.Get(r)) == 0, nil
	}), nil
}

// increment adds a constant to a numeric column. Results at or above the optional limit are
// dropped.
func increment(p Params) (rete.Evaluator, error) {
	col, err := p.MustInt("column")
	if err != nil {
		return nil, err
	}
	by := 1.0
	if v, ok := p["by"]; ok {
		f, ok := tuple.AsFloat(v)
		if !ok {
			return nil, fmt.Errorf("parameter \"by\": expected number, got %v", v)
		}
		by = f
	}
	limit, hasLimit := 0.0, false
	if v, ok := p["limit"]; ok {
		f, ok := tuple.AsFloat(v)
		if !ok {
			return nil, fmt.Errorf("parameter \"limit\": expected number, got %v", v)
		}
		limit, hasLimit = f, true
	}

	return rete.NewEvaluator(fmt.Sprintf("increment(%d,%v)", col, by), func(t tuple.Tuple) (tuple.Tuple, bool, error) {
		if col < 0 || col >= t.Width() {
			return tuple.Tuple{}, false, fmt.Errorf("column %d out of range for %s", col, t)
		}
		f, ok := tuple.AsFloat(t.Get(col))
		if !ok {
			return tuple.Tuple{}, false, fmt.Errorf("column %d of %s is not numeric", col, t)
		}
		f += by
		if hasLimit && f >= limit {
			return tuple.Tuple{}, false, nil
		}
		vs := t.Values()
		vs[col] = f
		return tuple.New(vs...), true, nil
	}), nil
}

// appendSum extends a tuple with the sum of the given columns.
func appendSum(p Params) (rete.Evaluator, error) {
	cols, err := p.Ints("columns")
	if err != nil {
		return nil, err
	}
	return rete.NewEvaluator(fmt.Sprintf("append-sum(%v)", cols), func(t tuple.Tuple) (tuple.Tuple, bool, error) {
		sum := 0.0
		for _, c := range cols {
			if c < 0 || c >= t.Width() {
				return tuple.Tuple{}, false, fmt.Errorf("column %d out of range for %s", c, t)
			}
			f, ok := tuple.AsFloat(t.Get(c))
			if !ok {
				return tuple.Tuple{}, false, fmt.Errorf("column %d of %s is not numeric", c, t)
			}
			sum += f
		}
		return t.Concat(tuple.New(sum)), true, nil
	}), nil
}

func countRelation(Params) (rete.RelationEvaluator, error) {
	return rete.NewRelationEvaluator("count", func(inputs [][]tuple.Tuple) ([]tuple.Tuple, error) {
		total := 0
		for _, in := range inputs {
			total += len(in)
		}
		return []tuple.Tuple{tuple.New(total)}, nil
	}), nil
}

func unionRelation(Params) (rete.RelationEvaluator, error) {
	return rete.NewRelationEvaluator("union", func(inputs [][]tuple.Tuple) ([]tuple.Tuple, error) {
		set := tuple.NewSet()
		for _, in := range inputs {
			for _, t := range in {
				set.Add(t)
			}
		}
		return set.Tuples(), nil
	}), nil
}

func differenceRelation(Params) (rete.RelationEvaluator, error) {
	return rete.NewRelationEvaluator("difference", func(inputs [][]tuple.Tuple) ([]tuple.Tuple, error) {
		if len(inputs) == 0 {
			return nil, errors.New("difference needs at least one input")
		}
		set := tuple.NewSet(inputs[0]...)
		for _, in := range inputs[1:] {
			for _, t := range in {
				set.Remove(t)
			}
		}
		return set.Tuples(), nil
	}), nil
}
