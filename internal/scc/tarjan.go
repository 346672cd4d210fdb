package scc

// Components computes the strongly connected components of the graph spanned by nodes, following
// only edges whose target is also in nodes. Components are returned in reverse topological order
// of the condensation, i.e., sinks first.
func Components[N comparable](nodes []N, targets func(N) []N) [][]N {
	inScope := make(map[N]bool, len(nodes))
	for _, n := range nodes {
		inScope[n] = true
	}

	index := 0
	nodeIndex := make(map[N]int)
	lowLink := make(map[N]int)
	onStack := make(map[N]bool)
	stack := make([]N, 0)
	sccs := make([][]N, 0)

	// frame replaces the recursive call stack so deep graphs do not overflow
	type frame struct {
		node  N
		edges []N
		next  int
		child N
		phase int // 0=init, 1=edges, 2=post-child, 3=finalize
	}

	connect := func(start N) {
		calls := []frame{{node: start}}
		for len(calls) > 0 {
			f := &calls[len(calls)-1]
			switch f.phase {
			case 0:
				nodeIndex[f.node] = index
				lowLink[f.node] = index
				index++
				stack = append(stack, f.node)
				onStack[f.node] = true
				f.edges = targets(f.node)
				f.phase = 1

			case 1:
				pushed := false
				for f.next < len(f.edges) {
					w := f.edges[f.next]
					f.next++
					if !inScope[w] {
						continue
					}
					if _, visited := nodeIndex[w]; !visited {
						f.phase, f.child = 2, w
						calls = append(calls, frame{node: w})
						pushed = true
						break
					} else if onStack[w] && nodeIndex[w] < lowLink[f.node] {
						lowLink[f.node] = nodeIndex[w]
					}
				}
				if !pushed {
					f.phase = 3
				}

			case 2:
				if lowLink[f.child] < lowLink[f.node] {
					lowLink[f.node] = lowLink[f.child]
				}
				f.phase = 1

			case 3:
				if lowLink[f.node] == nodeIndex[f.node] {
					scc := make([]N, 0)
					for {
						w := stack[len(stack)-1]
						stack = stack[:len(stack)-1]
						onStack[w] = false
						scc = append(scc, w)
						if w == f.node {
							break
						}
					}
					sccs = append(sccs, scc)
				}
				calls = calls[:len(calls)-1]
			}
		}
	}

	for _, n := range nodes {
		if _, visited := nodeIndex[n]; !visited {
			connect(n)
		}
	}

	return sccs
}
