package config

import (
	"fmt"

	"github.com/go-logr/logr"

	"github.com/l7mp/rete/pkg/rete"
	"github.com/l7mp/rete/pkg/tuple"
)

// BuilderOptions configures a builder.
type BuilderOptions struct {
	// Catalog resolves function names. Defaults to DefaultCatalog.
	Catalog *Catalog
	// DisableMetrics turns off metric collection in the built networks.
	DisableMetrics bool
	// Logger is the logger to use. Defaults to a discard logger.
	Logger logr.Logger
}

// Builder materializes network descriptions.
type Builder struct {
	catalog        *Catalog
	disableMetrics bool
	logger, log    logr.Logger
}

// NewBuilder creates a builder.
func NewBuilder(opts BuilderOptions) *Builder {
	logger := opts.Logger
	if logger.GetSink() == nil {
		logger = logr.Discard()
	}
	catalog := opts.Catalog
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	return &Builder{
		catalog:        catalog,
		disableMetrics: opts.DisableMetrics,
		logger:         logger,
		log:            logger.WithName("builder"),
	}
}

// Build validates a network description and creates the network. Production parents may be
// declared after the production, which is how recursive queries are written; those links are
// made once every node exists.
func (b *Builder) Build(spec *NetworkSpec) (*rete.Network, error) {
	if err := b.catalog.Validate(spec); err != nil {
		return nil, err
	}

	net := rete.New(rete.Options{
		Name:           spec.Name,
		Timely:         spec.Timely,
		DisableMetrics: b.disableMetrics,
		Logger:         b.logger,
	})
	log := b.log.WithValues("network", spec.Name)

	type deferred struct{ parent, production string }
	links := []deferred{}

	for _, n := range spec.Nodes {
		kind, _ := rete.ParseKind(n.Kind)
		if kind == rete.KindProduction {
			ready := []rete.NodeID{}
			for _, p := range n.Parents {
				if id, ok := net.Lookup(p); ok {
					ready = append(ready, id)
				} else {
					links = append(links, deferred{parent: p, production: n.Name})
				}
			}
			if _, err := net.AddProduction(n.Name, n.Width, ready...); err != nil {
				return nil, NewSpecError(n.Name, err)
			}
			continue
		}

		if err := b.addNode(net, kind, n); err != nil {
			return nil, NewSpecError(n.Name, err)
		}
		log.V(1).Info("node added", "node", n.Name, "kind", n.Kind)
	}

	for _, l := range links {
		parent, _ := net.Lookup(l.parent)
		production, _ := net.Lookup(l.production)
		if err := net.Connect(parent, production); err != nil {
			return nil, NewSpecError(l.production, err)
		}
		log.V(1).Info("recursive link added", "parent", l.parent, "production", l.production)
	}

	log.Info("network built", "nodes", len(spec.Nodes))
	return net, nil
}

func (b *Builder) addNode(net *rete.Network, kind rete.Kind, n NodeSpec) error {
	parents := make([]rete.NodeID, len(n.Parents))
	widths := make([]int, len(n.Parents))
	for i, p := range n.Parents {
		id, _ := net.Lookup(p)
		node, err := net.Node(id)
		if err != nil {
			return err
		}
		parents[i], widths[i] = id, node.Width()
	}
	params := Params(n.Params)

	var err error
	switch kind {
	case rete.KindInput:
		_, err = net.AddInput(n.Name, n.Width)

	case rete.KindFilter:
		var p rete.Predicate
		if p, err = b.catalog.Predicates[n.Function](params); err == nil {
			_, err = net.AddFilter(n.Name, parents[0], p)
		}

	case rete.KindTrimmer:
		var m tuple.Mask
		if m, err = tuple.NewMask(widths[0], n.Mask...); err == nil {
			_, err = net.AddTrimmer(n.Name, parents[0], m)
		}

	case rete.KindEvaluator:
		var e rete.Evaluator
		if e, err = b.catalog.Evaluators[n.Function](params); err == nil {
			_, err = net.AddEvaluator(n.Name, parents[0], e, n.Width)
		}

	case rete.KindJoin, rete.KindAntiJoin:
		var lm, rm tuple.Mask
		if lm, err = tuple.NewMask(widths[0], n.LeftMask...); err != nil {
			return err
		}
		if rm, err = tuple.NewMask(widths[1], n.RightMask...); err != nil {
			return err
		}
		if kind == rete.KindJoin {
			_, err = net.AddJoin(n.Name, parents[0], parents[1], lm, rm)
		} else {
			_, err = net.AddAntiJoin(n.Name, parents[0], parents[1], lm, rm)
		}

	case rete.KindTransitiveClosure:
		_, err = net.AddTransitiveClosure(n.Name, parents[0])

	case rete.KindAggregator:
		var m tuple.Mask
		if m, err = tuple.NewMask(widths[0], n.Mask...); err != nil {
			return err
		}
		var a rete.Aggregator
		if a, err = b.catalog.Aggregators[n.Function](params); err == nil {
			_, err = net.AddAggregator(n.Name, parents[0], m, a)
		}

	case rete.KindRelationEvaluator:
		var e rete.RelationEvaluator
		if e, err = b.catalog.RelationEvaluators[n.Function](params); err == nil {
			_, err = net.AddRelationEvaluator(n.Name, e, n.Width, parents...)
		}

	default:
		err = fmt.Errorf("kind %s cannot be declared", kind)
	}
	return err
}

// Changes resolves a batch of change descriptions against a network.
func Changes(net *rete.Network, batch BatchSpec) (rete.Batch, error) {
	ret := make(rete.Batch, 0, len(batch.Changes))
	for _, ch := range batch.Changes {
		id, ok := net.Lookup(ch.Input)
		if !ok {
			return nil, fmt.Errorf("%w: unknown input %q", ErrInvalidSpec, ch.Input)
		}
		dir := tuple.Insert
		switch ch.Op {
		case "", OpInsert:
		case OpDelete:
			dir = tuple.Delete
		default:
			return nil, fmt.Errorf("%w: invalid op %q", ErrInvalidSpec, ch.Op)
		}
		ret = append(ret, rete.Change{
			Input:     id,
			Direction: dir,
			Tuple:     tuple.New(ch.Tuple...),
			Timestamp: tuple.Timestamp(ch.Timestamp),
		})
	}
	return ret, nil
}

// Apply feeds a batch into the network and flushes it.
func Apply(net *rete.Network, batch BatchSpec) error {
	changes, err := Changes(net, batch)
	if err != nil {
		return err
	}
	for _, ch := range changes {
		if err := net.NotifyChangeWithTimestamp(ch.Input, ch.Direction, ch.Tuple, ch.Timestamp); err != nil {
			return err
		}
	}
	return net.Flush()
}

// Result is the content of a production node.
type Result struct {
	Production string
	Tuples     []tuple.Tuple
}

// Results pulls the contents of every production of the network, in declaration order.
func Results(net *rete.Network) ([]Result, error) {
	ret := []Result{}
	for _, node := range net.Nodes() {
		if node.Kind() != rete.KindProduction {
			continue
		}
		ts := []tuple.Tuple{}
		if err := net.PullInto(node.ID(), &ts, false); err != nil {
			return nil, err
		}
		ret = append(ret, Result{Production: node.Name(), Tuples: tuple.NewSet(ts...).Tuples()})
	}
	return ret, nil
}
