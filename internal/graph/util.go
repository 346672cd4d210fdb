// Copyright 2024 rg0now. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package graph

// Roots returns the vertices without an incoming edge.
func (g *Graph[N]) Roots() []N {
	roots := make([]N, 0, len(g.byNode))
	for _, n := range g.Nodes() {
		if len(g.in[n]) == 0 {
			roots = append(roots, n)
		}
	}
	return roots
}

// Reachable returns the set of vertices reachable from start, start included, following edges
// forward. Only vertices accepted by the filter are entered.
func (g *Graph[N]) Reachable(start N, filter func(N) bool) map[N]bool {
	return g.walk(start, filter, g.out)
}

// CoReachable returns the set of vertices from which target is reachable, target included.
func (g *Graph[N]) CoReachable(target N, filter func(N) bool) map[N]bool {
	return g.walk(target, filter, g.in)
}

func (g *Graph[N]) walk(start N, filter func(N) bool, adj map[N]map[N]int) map[N]bool {
	seen := map[N]bool{start: true}
	queue := []N{start}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		for m := range adj[n] {
			if seen[m] || (filter != nil && !filter(m)) {
				continue
			}
			seen[m] = true
			queue = append(queue, m)
		}
	}
	return seen
}
