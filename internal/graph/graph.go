// Copyright 2024 rg0now. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package graph implements a directed multigraph with counted edges. Vertices remember the
// order they were added in and every listing follows that order, which keeps traversals
// deterministic.
package graph

import (
	"sort"
)

type Graph[N comparable] struct {
	byNode map[N]uint64
	out    map[N]map[N]int
	in     map[N]map[N]int
	seq    uint64
}

// New creates an empty graph.
func New[N comparable]() *Graph[N] {
	return &Graph[N]{byNode: map[N]uint64{}, out: map[N]map[N]int{}, in: map[N]map[N]int{}}
}

// AddNode adds a vertex. Returns false if the vertex already exists.
func (g *Graph[N]) AddNode(n N) bool {
	if _, ok := g.byNode[n]; ok {
		return false
	}
	g.seq++
	g.byNode[n] = g.seq
	g.out[n] = map[N]int{}
	g.in[n] = map[N]int{}
	return true
}

func (g *Graph[N]) HasNode(n N) bool {
	_, ok := g.byNode[n]
	return ok
}

// DelNode removes a vertex and all edges incident to it.
func (g *Graph[N]) DelNode(n N) {
	if !g.HasNode(n) {
		return
	}
	for t := range g.out[n] {
		delete(g.in[t], n)
	}
	for s := range g.in[n] {
		delete(g.out[s], n)
	}
	delete(g.out, n)
	delete(g.in, n)
	delete(g.byNode, n)
}

// AddEdge adds one instance of the edge from->to, creating the endpoints if needed, and returns
// the resulting edge multiplicity.
func (g *Graph[N]) AddEdge(from, to N) int {
	return g.AddEdges(from, to, 1)
}

// AddEdges adds count instances of the edge from->to.
func (g *Graph[N]) AddEdges(from, to N, count int) int {
	g.AddNode(from)
	g.AddNode(to)
	g.out[from][to] += count
	g.in[to][from] += count
	return g.out[from][to]
}

// DelEdge removes one instance of the edge from->to and returns the remaining multiplicity.
// Deleting a nonexistent edge is a no-op.
func (g *Graph[N]) DelEdge(from, to N) int {
	c := g.out[from][to]
	if c == 0 {
		return 0
	}
	c--
	if c == 0 {
		delete(g.out[from], to)
		delete(g.in[to], from)
	} else {
		g.out[from][to] = c
		g.in[to][from] = c
	}
	return c
}

func (g *Graph[N]) HasEdge(from, to N) bool {
	return g.out[from] != nil && g.out[from][to] > 0
}

// EdgeCount returns the multiplicity of the edge from->to.
func (g *Graph[N]) EdgeCount(from, to N) int {
	if g.out[from] == nil {
		return 0
	}
	return g.out[from][to]
}

// Seq returns the insertion sequence number of a vertex, 0 if unknown.
func (g *Graph[N]) Seq(n N) uint64 { return g.byNode[n] }

// Nodes returns all vertices in insertion order.
func (g *Graph[N]) Nodes() []N {
	nodes := make([]N, 0, len(g.byNode))
	for n := range g.byNode {
		nodes = append(nodes, n)
	}
	g.SortNodes(nodes)
	return nodes
}

// Len returns the number of vertices.
func (g *Graph[N]) Len() int { return len(g.byNode) }

// Targets returns the vertices reachable from n over a single edge.
func (g *Graph[N]) Targets(from N) []N {
	return g.sorted(g.out[from])
}

// Sources returns the vertices with an edge into n.
func (g *Graph[N]) Sources(to N) []N {
	return g.sorted(g.in[to])
}

// SortNodes orders vertices by insertion order, in place.
func (g *Graph[N]) SortNodes(nodes []N) {
	sort.Slice(nodes, func(i, j int) bool { return g.byNode[nodes[i]] < g.byNode[nodes[j]] })
}

func (g *Graph[N]) sorted(m map[N]int) []N {
	edges := make([]N, 0, len(m))
	for k := range m {
		edges = append(edges, k)
	}
	g.SortNodes(edges)
	return edges
}
