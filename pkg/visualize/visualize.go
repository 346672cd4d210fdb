// Package visualize renders the structure of a network as diagrams, with nodes clustered by
// communication group.
package visualize

import (
	"fmt"
	"sort"

	"github.com/emicklei/dot"

	"github.com/l7mp/rete/pkg/rete"
)

// Graph is a snapshot of the structure of a network.
type Graph struct {
	Name   string
	Groups []Group
	Nodes  []Node
	Links  []Link
}

// Group is a communication group.
type Group struct {
	Rank    int
	Kind    string
	Members []string
}

// Node is a single network node.
type Node struct {
	Name        string
	Kind        string
	Detail      string
	Width       int
	Group       int
	Size        int
	FallThrough bool
}

// Link is a data edge or a pure scheduling dependency between two nodes.
type Link struct {
	Parent, Child string
	Slot          string
	Dependency    bool
}

// BuildGraph takes a snapshot of a network. It must be serialized with other calls on the
// network.
func BuildGraph(net *rete.Network) (*Graph, error) {
	g := &Graph{Name: net.Name()}

	for _, gi := range net.Groups() {
		g.Groups = append(g.Groups, Group{Rank: gi.Rank, Kind: gi.Kind.String(), Members: gi.Members})
	}
	sort.Slice(g.Groups, func(i, j int) bool { return g.Groups[i].Rank < g.Groups[j].Rank })

	names := map[rete.NodeID]string{}
	for _, n := range net.Nodes() {
		info, err := net.Info(n.ID())
		if err != nil {
			return nil, err
		}
		names[n.ID()] = info.Name
		g.Nodes = append(g.Nodes, Node{
			Name:        info.Name,
			Kind:        info.Kind.String(),
			Detail:      info.Detail,
			Width:       info.Width,
			Group:       info.Group,
			Size:        info.Size,
			FallThrough: info.FallThrough,
		})
	}

	for _, l := range net.Links() {
		g.Links = append(g.Links, Link{
			Parent:     names[l.Parent],
			Child:      names[l.Child],
			Slot:       l.Slot.String(),
			Dependency: l.Dependency,
		})
	}
	return g, nil
}

// label renders the node label as "name: operation/width", using the operation detail when it
// says more than the kind.
func (n Node) label() string {
	op := n.Kind
	if n.Detail != "" && n.Detail != fmt.Sprintf("%s(%s)", n.Kind, n.Name) {
		op = n.Detail
	}
	return fmt.Sprintf("%s: %s/%d", n.Name, op, n.Width)
}

// clustered reports whether a group is drawn as a cluster.
func (g Group) clustered() bool { return g.Kind == rete.GroupRecursive.String() || len(g.Members) > 1 }

// BuildDotGraph creates a dot.Graph from the snapshot. The graph can then be rendered in
// different formats.
func BuildDotGraph(g *Graph) *dot.Graph {
	graph := dot.NewGraph(dot.Directed)
	graph.Attr("rankdir", "LR")
	graph.Attr("compound", "true")
	graph.Attr("newrank", "true")
	graph.Attr("label", g.Name)
	graph.Attr("labelloc", "t")
	graph.Attr("fontsize", "16")

	parent := map[int]*dot.Graph{}
	for _, grp := range g.Groups {
		if !grp.clustered() {
			continue
		}
		sub := graph.Subgraph(fmt.Sprintf("group-%d", grp.Rank), dot.ClusterOption{})
		sub.Attr("label", fmt.Sprintf("group %d (%s)", grp.Rank, grp.Kind))
		sub.Attr("style", "dashed")
		sub.Attr("color", "darkblue")
		parent[grp.Rank] = sub
	}

	nodes := map[string]dot.Node{}
	for _, n := range g.Nodes {
		container, ok := parent[n.Group]
		if !ok {
			container = graph
		}
		node := container.Node(n.Name).
			Attr("label", n.label()).
			Attr("fontname", "helvetica")

		switch n.Kind {
		case rete.KindInput.String():
			node.Attr("shape", "ellipse").
				Attr("style", "filled").
				Attr("fillcolor", "lightgreen")
		case rete.KindProduction.String():
			node.Attr("shape", "box").
				Attr("style", "filled,rounded").
				Attr("fillcolor", "lightcyan").
				Attr("penwidth", "2")
		default:
			node.Attr("shape", "box").
				Attr("style", "filled").
				Attr("fillcolor", "lightblue")
		}
		if n.FallThrough {
			node.Attr("color", "gray")
		}
		nodes[n.Name] = node
	}

	for _, l := range g.Links {
		from, fromExists := nodes[l.Parent]
		to, toExists := nodes[l.Child]
		if !fromExists || !toExists {
			continue
		}
		edge := graph.Edge(from, to).
			Attr("fontname", "helvetica").
			Attr("fontsize", "10")
		switch {
		case l.Dependency:
			edge.Attr("style", "dotted").Attr("color", "gray")
		case l.Slot == rete.SlotRight.String():
			edge.Attr("label", l.Slot)
		}
	}

	return graph
}
