package rete

import (
	"github.com/l7mp/rete/pkg/tuple"
)

// contents returns the current output of a node as a bag of stamped tuples.
func (n *Network) contents(id NodeID) ([]tuple.Stamped, error) {
	s, err := n.supplierOf(id)
	if err != nil {
		return nil, err
	}
	return s.contents(n)
}

// parentContents returns the current output of the synced parent at a slot.
func (n *Network) parentContents(b *nodeBase, slot Slot) ([]tuple.Stamped, error) {
	ret := []tuple.Stamped{}
	for _, l := range b.parents {
		if l.slot != slot || !l.synced {
			continue
		}
		cs, err := n.contents(l.parent)
		if err != nil {
			return nil, err
		}
		ret = append(ret, cs...)
	}
	return ret, nil
}

func (n *Network) pull(id NodeID, flush bool) ([]tuple.Stamped, error) {
	if flush {
		if err := n.Flush(); err != nil {
			return nil, err
		}
	}
	return n.contents(id)
}

// PullInto appends the current output of a node to the collector. Stateless nodes may yield
// duplicates.
func (n *Network) PullInto(id NodeID, collector *[]tuple.Tuple, flush bool) error {
	cs, err := n.pull(id, flush)
	if err != nil {
		return err
	}
	for _, st := range cs {
		*collector = append(*collector, st.Tuple)
	}
	return nil
}

// PullIntoWithTimestamp collects the output of a node keyed by tuple key, each with the
// earliest timestamp it is derived at.
func (n *Network) PullIntoWithTimestamp(id NodeID, collector map[string]tuple.Stamped, flush bool) error {
	cs, err := n.pull(id, flush)
	if err != nil {
		return err
	}
	for _, st := range cs {
		k := st.Tuple.Key()
		if old, ok := collector[k]; !ok || st.Timestamp < old.Timestamp {
			collector[k] = st
		}
	}
	return nil
}

// PullIntoWithTimeline collects the output of a node keyed by tuple key, each with the timeline
// of its presence.
func (n *Network) PullIntoWithTimeline(id NodeID, collector map[string]tuple.Timeline, flush bool) error {
	stamped := map[string]tuple.Stamped{}
	if err := n.PullIntoWithTimestamp(id, stamped, flush); err != nil {
		return err
	}
	for k, st := range stamped {
		collector[k] = tuple.NewTimeline(st.Timestamp)
	}
	return nil
}

// PullAsOf returns the distinct tuples a node holds at the given time, sorted by key.
func (n *Network) PullAsOf(id NodeID, at tuple.Timestamp) ([]tuple.Tuple, error) {
	timelines := map[string]tuple.Timeline{}
	if err := n.PullIntoWithTimeline(id, timelines, false); err != nil {
		return nil, err
	}
	cs, err := n.contents(id)
	if err != nil {
		return nil, err
	}
	set := tuple.NewSet()
	for _, st := range cs {
		if timelines[st.Tuple.Key()].IsPresent(at) {
			set.Add(st.Tuple)
		}
	}
	return set.Tuples(), nil
}
