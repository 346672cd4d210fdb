package config

import (
	"errors"
	"fmt"

	"devt.de/krotik/common/errorutil"

	"github.com/l7mp/rete/pkg/rete"
)

// ErrInvalidSpec marks a network description that cannot be materialized.
var ErrInvalidSpec = errors.New("invalid network spec")

type ErrSpec = error

func NewSpecError(node string, err error) ErrSpec {
	return fmt.Errorf("%w: node %q: %w", ErrInvalidSpec, node, err)
}

func nodeError(node, format string, args ...any) error {
	return fmt.Errorf("node %q: %s", node, fmt.Sprintf(format, args...))
}

// parentArity is the number of parents a kind takes; -1 means at least one, -2 means any.
var parentArity = map[rete.Kind]int{
	rete.KindInput:             0,
	rete.KindFilter:            1,
	rete.KindTrimmer:           1,
	rete.KindEvaluator:         1,
	rete.KindProduction:        -2,
	rete.KindJoin:              2,
	rete.KindAntiJoin:          2,
	rete.KindTransitiveClosure: 1,
	rete.KindAggregator:        1,
	rete.KindRelationEvaluator: -1,
}

// Validate checks a network description against the catalog. All problems are collected and
// reported together.
func (c *Catalog) Validate(spec *NetworkSpec) error {
	errs := errorutil.NewCompositeError()

	kinds := map[string]rete.Kind{}
	for _, n := range spec.Nodes {
		if n.Name == "" {
			errs.Add(nodeError(n.Name, "empty name"))
			continue
		}
		if _, ok := kinds[n.Name]; ok {
			errs.Add(nodeError(n.Name, "duplicate name"))
			continue
		}
		kind, ok := rete.ParseKind(n.Kind)
		if _, known := parentArity[kind]; !ok || !known {
			errs.Add(nodeError(n.Name, "unknown kind %q", n.Kind))
			continue
		}
		kinds[n.Name] = kind
	}

	seen := map[string]bool{}
	for _, n := range spec.Nodes {
		kind, ok := kinds[n.Name]
		if !ok || seen[n.Name] {
			continue
		}
		switch arity := parentArity[kind]; {
		case arity >= 0 && len(n.Parents) != arity:
			errs.Add(nodeError(n.Name, "%s takes %d parents, got %d", kind, arity, len(n.Parents)))
		case arity == -1 && len(n.Parents) == 0:
			errs.Add(nodeError(n.Name, "%s takes at least one parent", kind))
		}
		for _, p := range n.Parents {
			if _, ok := kinds[p]; !ok {
				errs.Add(nodeError(n.Name, "unknown parent %q", p))
			} else if kind != rete.KindProduction && !seen[p] {
				errs.Add(nodeError(n.Name, "parent %q must be declared first", p))
			}
		}
		seen[n.Name] = true

		if (kind == rete.KindJoin || kind == rete.KindAntiJoin) && len(n.LeftMask) != len(n.RightMask) {
			errs.Add(nodeError(n.Name, "join masks %v and %v differ in width", n.LeftMask, n.RightMask))
		}
		if err := c.checkFunction(kind, n); err != nil {
			errs.Add(nodeError(n.Name, "%s", err.Error()))
		}
	}

	for i, b := range spec.Batches {
		for _, ch := range b.Changes {
			if k, ok := kinds[ch.Input]; !ok || k != rete.KindInput {
				errs.Add(fmt.Errorf("batch %d: unknown input %q", i, ch.Input))
			}
			if ch.Op != "" && ch.Op != OpInsert && ch.Op != OpDelete {
				errs.Add(fmt.Errorf("batch %d: invalid op %q", i, ch.Op))
			}
		}
	}

	if errs.HasErrors() {
		return fmt.Errorf("%w: %w", ErrInvalidSpec, errs)
	}
	return nil
}

func (c *Catalog) checkFunction(kind rete.Kind, n NodeSpec) error {
	var ok bool
	switch kind {
	case rete.KindFilter:
		_, ok = c.Predicates[n.Function]
	case rete.KindEvaluator:
		_, ok = c.Evaluators[n.Function]
	case rete.KindAggregator:
		_, ok = c.Aggregators[n.Function]
	case rete.KindRelationEvaluator:
		_, ok = c.RelationEvaluators[n.Function]
	default:
		return nil
	}
	if !ok {
		return fmt.Errorf("unknown %s function %q", kind, n.Function)
	}
	return nil
}
