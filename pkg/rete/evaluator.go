package rete

import (
	"fmt"

	"github.com/l7mp/rete/pkg/memory"
	"github.com/l7mp/rete/pkg/tuple"
)

// Predicate decides whether a tuple passes a filter. It must be a pure function.
type Predicate interface {
	fmt.Stringer
	Match(t tuple.Tuple) (bool, error)
}

// Evaluator computes the output tuple of an evaluator node. Returning false drops the tuple. It
// must be a pure, deterministic function.
type Evaluator interface {
	fmt.Stringer
	Evaluate(t tuple.Tuple) (tuple.Tuple, bool, error)
}

// RelationEvaluator recomputes the whole output relation from the full contents of its inputs.
// It is used for functions that cannot be evaluated incrementally.
type RelationEvaluator interface {
	fmt.Stringer
	EvaluateRelation(inputs [][]tuple.Tuple) ([]tuple.Tuple, error)
}

// Aggregator folds the tuples of one group into a single value.
type Aggregator interface {
	fmt.Stringer
	Aggregate(group []memory.Entry) (any, error)
}

type predicateFunc struct {
	name string
	fn   func(tuple.Tuple) (bool, error)
}

// NewPredicate wraps a function as a named predicate.
func NewPredicate(name string, fn func(tuple.Tuple) (bool, error)) Predicate {
	return &predicateFunc{name: name, fn: fn}
}

func (p *predicateFunc) String() string                    { return p.name }
func (p *predicateFunc) Match(t tuple.Tuple) (bool, error) { return p.fn(t) }

type evaluatorFunc struct {
	name string
	fn   func(tuple.Tuple) (tuple.Tuple, bool, error)
}

// NewEvaluator wraps a function as a named evaluator.
func NewEvaluator(name string, fn func(tuple.Tuple) (tuple.Tuple, bool, error)) Evaluator {
	return &evaluatorFunc{name: name, fn: fn}
}

func (e *evaluatorFunc) String() string { return e.name }

func (e *evaluatorFunc) Evaluate(t tuple.Tuple) (tuple.Tuple, bool, error) { return e.fn(t) }

type relationEvaluatorFunc struct {
	name string
	fn   func([][]tuple.Tuple) ([]tuple.Tuple, error)
}

// NewRelationEvaluator wraps a function as a named relation evaluator.
func NewRelationEvaluator(name string, fn func([][]tuple.Tuple) ([]tuple.Tuple, error)) RelationEvaluator {
	return &relationEvaluatorFunc{name: name, fn: fn}
}

func (e *relationEvaluatorFunc) String() string { return e.name }

func (e *relationEvaluatorFunc) EvaluateRelation(inputs [][]tuple.Tuple) ([]tuple.Tuple, error) {
	return e.fn(inputs)
}

func safeMatch(node string, p Predicate, t tuple.Tuple) (ok bool, err error) {
	defer recoverEvaluator(node, p.String(), &err)
	ok, err = p.Match(t)
	if err != nil {
		return false, NewEvaluatorError(node, p.String(), err)
	}
	return ok, nil
}

func safeEvaluate(node string, e Evaluator, width int, t tuple.Tuple) (out tuple.Tuple, ok bool, err error) {
	defer recoverEvaluator(node, e.String(), &err)
	out, ok, err = e.Evaluate(t)
	if err != nil {
		return tuple.Tuple{}, false, NewEvaluatorError(node, e.String(), err)
	}
	if ok && out.Width() != width {
		return tuple.Tuple{}, false, NewEvaluatorError(node, e.String(),
			fmt.Errorf("result %s has width %d, expected %d", out, out.Width(), width))
	}
	return out, ok, nil
}

func safeEvaluateRelation(node string, e RelationEvaluator, width int, inputs [][]tuple.Tuple) (out []tuple.Tuple, err error) {
	defer recoverEvaluator(node, e.String(), &err)
	out, err = e.EvaluateRelation(inputs)
	if err != nil {
		return nil, NewEvaluatorError(node, e.String(), err)
	}
	for _, t := range out {
		if t.Width() != width {
			return nil, NewEvaluatorError(node, e.String(),
				fmt.Errorf("result %s has width %d, expected %d", t, t.Width(), width))
		}
	}
	return out, nil
}

func safeAggregate(node string, a Aggregator, group []memory.Entry) (v any, err error) {
	defer recoverEvaluator(node, a.String(), &err)
	v, err = a.Aggregate(group)
	if err != nil {
		return nil, NewEvaluatorError(node, a.String(), err)
	}
	return v, nil
}
