package rete

import (
	"errors"
	"math/rand"
	"sort"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/l7mp/rete/internal/testutils"
	"github.com/l7mp/rete/pkg/tuple"
)

var _ = Describe("Recursive evaluation", func() {
	var (
		n   *Network
		rec *testutils.Recorder
	)

	BeforeEach(func() {
		n = newTestNetwork(false)
		rec = testutils.NewRecorder()
	})

	Context("with a transitive closure node", func() {
		var edge, tc, p NodeID

		BeforeEach(func() {
			var err error
			edge, err = n.AddInput("edge", 2)
			Expect(err).NotTo(HaveOccurred())
			tc, err = n.AddTransitiveClosure("tc", edge)
			Expect(err).NotTo(HaveOccurred())
			p, err = n.AddProduction("reach", 2, tc)
			Expect(err).NotTo(HaveOccurred())
			_, err = n.AddListener(p, rec.Listen)
			Expect(err).NotTo(HaveOccurred())
		})

		It("should derive and retract transitive pairs", func() {
			Expect(n.NotifyChange(edge, tuple.Insert, tup("a", "b"))).To(Succeed())
			Expect(n.NotifyChange(edge, tuple.Insert, tup("b", "c"))).To(Succeed())
			Expect(n.Flush()).To(Succeed())
			Expect(contentsOf(n, p)).To(Equal([]string{"<a,b>", "<a,c>", "<b,c>"}))

			rec.Reset()
			Expect(n.NotifyChange(edge, tuple.Delete, tup("a", "b"))).To(Succeed())
			Expect(n.Flush()).To(Succeed())
			Expect(rec.Strings()).To(ConsistOf("-<a,b>", "-<a,c>"))
			Expect(contentsOf(n, p)).To(Equal([]string{"<b,c>"}))
			expectSettled(n)
		})

		It("should keep pairs with an alternative path", func() {
			for _, e := range [][]any{{"a", "b"}, {"b", "c"}, {"a", "d"}, {"d", "c"}} {
				Expect(n.NotifyChange(edge, tuple.Insert, tup(e...))).To(Succeed())
			}
			Expect(n.Flush()).To(Succeed())

			rec.Reset()
			Expect(n.NotifyChange(edge, tuple.Delete, tup("a", "b"))).To(Succeed())
			Expect(n.Flush()).To(Succeed())
			Expect(rec.Strings()).To(Equal([]string{"-<a,b>"}))
			Expect(contentsOf(n, p)).To(Equal([]string{"<a,c>", "<a,d>", "<b,c>", "<d,c>"}))
		})

		It("should handle cycles in the edge relation", func() {
			Expect(n.NotifyChange(edge, tuple.Insert, tup("a", "b"))).To(Succeed())
			Expect(n.NotifyChange(edge, tuple.Insert, tup("b", "a"))).To(Succeed())
			Expect(n.Flush()).To(Succeed())
			Expect(contentsOf(n, p)).To(Equal([]string{"<a,a>", "<a,b>", "<b,a>", "<b,b>"}))

			Expect(n.NotifyChange(edge, tuple.Delete, tup("b", "a"))).To(Succeed())
			Expect(n.Flush()).To(Succeed())
			Expect(contentsOf(n, p)).To(Equal([]string{"<a,b>"}))
		})

		It("should ignore duplicate edges", func() {
			Expect(n.NotifyChange(edge, tuple.Insert, tup("a", "b"))).To(Succeed())
			Expect(n.Flush()).To(Succeed())
			Expect(n.NotifyChange(edge, tuple.Insert, tup("a", "b"))).To(Succeed())
			Expect(n.Flush()).To(Succeed())
			Expect(n.NotifyChange(edge, tuple.Delete, tup("a", "b"))).To(Succeed())
			Expect(n.Flush()).To(Succeed())
			Expect(rec.Strings()).To(Equal([]string{"+<a,b>"}))
		})

		It("should reject parents of the wrong width", func() {
			in, err := n.AddInput("wide", 3)
			Expect(err).NotTo(HaveOccurred())
			_, err = n.AddTransitiveClosure("bad", in)
			Expect(errors.Is(err, ErrMisuse)).To(BeTrue())
		})
	})

	Context("with a recursive production", func() {
		var edge, reach NodeID

		BeforeEach(func() {
			edge, reach = addReach(n, "")
			_, err := n.AddListener(reach, rec.Listen)
			Expect(err).NotTo(HaveOccurred())
		})

		It("should form a recursive group", func() {
			rank, kind, err := n.GroupOf(reach)
			Expect(err).NotTo(HaveOccurred())
			Expect(kind).To(Equal(GroupRecursive))
			step, ok := n.Lookup("step")
			Expect(ok).To(BeTrue())
			stepRank, _, err := n.GroupOf(step)
			Expect(err).NotTo(HaveOccurred())
			Expect(stepRank).To(Equal(rank))
			edgeRank, _, err := n.GroupOf(edge)
			Expect(err).NotTo(HaveOccurred())
			Expect(edgeRank).To(BeNumerically("<", rank))

			ft, err := n.FallThrough(step)
			Expect(err).NotTo(HaveOccurred())
			Expect(ft).To(BeFalse())
		})

		It("should compute the fixed point", func() {
			Expect(n.NotifyChange(edge, tuple.Insert, tup("a", "b"))).To(Succeed())
			Expect(n.NotifyChange(edge, tuple.Insert, tup("b", "c"))).To(Succeed())
			Expect(n.Flush()).To(Succeed())
			Expect(rec.Strings()).To(Equal([]string{"+<a,b>", "+<b,c>", "+<a,c>"}))
			expectSettled(n)

			rec.Reset()
			Expect(n.NotifyChange(edge, tuple.Delete, tup("a", "b"))).To(Succeed())
			Expect(n.Flush()).To(Succeed())
			Expect(rec.Strings()).To(Equal([]string{"-<a,b>", "-<a,c>"}))
			Expect(contentsOf(n, reach)).To(Equal([]string{"<b,c>"}))
			expectSettled(n)
		})

		It("should re-derive tuples with surviving support", func() {
			for _, e := range [][]any{{"a", "b"}, {"b", "c"}, {"a", "c"}} {
				Expect(n.NotifyChange(edge, tuple.Insert, tup(e...))).To(Succeed())
			}
			Expect(n.Flush()).To(Succeed())
			Expect(contentsOf(n, reach)).To(Equal([]string{"<a,b>", "<a,c>", "<b,c>"}))

			Expect(n.NotifyChange(edge, tuple.Delete, tup("a", "c"))).To(Succeed())
			Expect(n.Flush()).To(Succeed())
			Expect(contentsOf(n, reach)).To(Equal([]string{"<a,b>", "<a,c>", "<b,c>"}))
			expectSettled(n)
		})

		It("should drop tuples supported only by themselves", func() {
			Expect(n.NotifyChange(edge, tuple.Insert, tup("a", "b"))).To(Succeed())
			Expect(n.NotifyChange(edge, tuple.Insert, tup("b", "a"))).To(Succeed())
			Expect(n.Flush()).To(Succeed())
			Expect(contentsOf(n, reach)).To(Equal([]string{"<a,a>", "<a,b>", "<b,a>", "<b,b>"}))

			Expect(n.NotifyChange(edge, tuple.Delete, tup("a", "b"))).To(Succeed())
			Expect(n.Flush()).To(Succeed())
			Expect(contentsOf(n, reach)).To(Equal([]string{"<b,a>"}))
			expectSettled(n)

			Expect(n.NotifyChange(edge, tuple.Delete, tup("b", "a"))).To(Succeed())
			Expect(n.Flush()).To(Succeed())
			Expect(contentsOf(n, reach)).To(BeEmpty())
			expectSettled(n)
		})

		It("should reach the same fixed point in any batch order", func() {
			edges := [][]any{{"a", "b"}, {"b", "c"}, {"c", "a"}, {"c", "d"}}
			for _, e := range edges {
				Expect(n.NotifyChange(edge, tuple.Insert, tup(e...))).To(Succeed())
				Expect(n.Flush()).To(Succeed())
			}

			m := newTestNetwork(false)
			medge, mreach := addReach(m, "")
			for i := len(edges) - 1; i >= 0; i-- {
				Expect(m.NotifyChange(medge, tuple.Insert, tup(edges[i]...))).To(Succeed())
			}
			Expect(m.Flush()).To(Succeed())
			Expect(contentsOf(n, reach)).To(Equal(contentsOf(m, mreach)))
			Expect(contentsOf(n, reach)).To(HaveLen(12))
		})

		It("should not let a pending insertion cancel a retraction", func() {
			batches := [][]struct {
				dir  tuple.Direction
				edge []any
			}{
				{{tuple.Insert, []any{"d", "d"}}, {tuple.Insert, []any{"d", "b"}}, {tuple.Insert, []any{"c", "b"}}},
				{{tuple.Insert, []any{"a", "a"}}, {tuple.Insert, []any{"c", "d"}}, {tuple.Delete, []any{"c", "b"}}},
				{{tuple.Delete, []any{"c", "d"}}, {tuple.Insert, []any{"b", "b"}}},
			}
			for _, b := range batches {
				for _, ch := range b {
					Expect(n.NotifyChange(edge, ch.dir, tup(ch.edge...))).To(Succeed())
				}
				Expect(n.Flush()).To(Succeed())
			}
			Expect(contentsOf(n, reach)).To(Equal([]string{"<a,a>", "<b,b>", "<d,b>", "<d,d>"}))
			expectSettled(n)
		})

		It("should only notify the net change of a drained group", func() {
			for _, e := range [][]any{{"a", "b"}, {"b", "c"}, {"a", "c"}} {
				Expect(n.NotifyChange(edge, tuple.Insert, tup(e...))).To(Succeed())
			}
			Expect(n.Flush()).To(Succeed())

			rec.Reset()
			Expect(n.NotifyChange(edge, tuple.Delete, tup("a", "c"))).To(Succeed())
			Expect(n.Flush()).To(Succeed())
			Expect(rec.Strings()).To(BeEmpty())

			Expect(n.NotifyChange(edge, tuple.Delete, tup("b", "c"))).To(Succeed())
			Expect(n.Flush()).To(Succeed())
			Expect(rec.Strings()).To(ConsistOf("-<b,c>", "-<a,c>"))
			Expect(contentsOf(n, reach)).To(Equal([]string{"<a,b>"}))
			expectSettled(n)
		})

		It("should match a rebuild after random batches of changes", func() {
			vertices := []string{"a", "b", "c", "d"}
			for seed := int64(0); seed < 50; seed++ {
				rng := rand.New(rand.NewSource(seed))
				m := newTestNetwork(false)
				medge, mreach := addReach(m, "")
				mrec := testutils.NewRecorder()
				_, err := m.AddListener(mreach, mrec.Listen)
				Expect(err).NotTo(HaveOccurred())

				present := map[[2]string]bool{}
				for round := 0; round < 8; round++ {
					size := 1 + rng.Intn(3)
					batch := map[[2]string]bool{}
					for len(batch) < size {
						batch[[2]string{vertices[rng.Intn(4)], vertices[rng.Intn(4)]}] = true
					}
					for e := range batch {
						dir := tuple.Insert
						if present[e] {
							dir = tuple.Delete
						}
						present[e] = !present[e]
						Expect(m.NotifyChange(medge, dir, tup(e[0], e[1]))).To(Succeed())
					}
					Expect(m.Flush()).To(Succeed())

					want := closureOf(present)
					Expect(contentsOf(m, mreach)).To(Equal(want), "seed %d round %d", seed, round)
					expectSettled(m)

					fresh := newTestNetwork(false)
					fedge, freach := addReach(fresh, "")
					for e, ok := range present {
						if ok {
							Expect(fresh.NotifyChange(fedge, tuple.Insert, tup(e[0], e[1]))).To(Succeed())
						}
					}
					Expect(fresh.Flush()).To(Succeed())
					Expect(contentsOf(fresh, freach)).To(Equal(want), "seed %d round %d", seed, round)
				}

				seen := map[string]bool{}
				for _, ev := range mrec.Events() {
					key := ev.Tuple.String()
					if ev.Direction == tuple.Insert {
						Expect(seen[key]).To(BeFalse(), "seed %d: duplicate %s", seed, ev)
						seen[key] = true
					} else {
						Expect(seen[key]).To(BeTrue(), "seed %d: spurious %s", seed, ev)
						delete(seen, key)
					}
				}
				visible := []string{}
				for key := range seen {
					visible = append(visible, key)
				}
				sort.Strings(visible)
				Expect(visible).To(Equal(closureOf(present)), "seed %d", seed)
			}
		})
	})

	Context("when groups are repartitioned", func() {
		build := func(n *Network, merged bool) (NodeID, NodeID, NodeID, NodeID) {
			e1, r1 := addReach(n, "1/")
			e2, r2 := addReach(n, "2/")
			if merged {
				ExpectWithOffset(1, n.Connect(r2, r1)).To(Succeed())
				ExpectWithOffset(1, n.Connect(r1, r2)).To(Succeed())
			}
			return e1, r1, e2, r2
		}

		inject := func(n *Network, id NodeID, t tuple.Tuple) {
			p := n.nodes[id].(*ProductionNode)
			ExpectWithOffset(1, p.mb.post(n, SlotLeft, tuple.Insert, t, tuple.Zero)).To(Succeed())
		}

		It("should keep pending messages across a merge", func() {
			e1, r1, e2, r2 := build(n, false)
			Expect(n.NotifyChange(e1, tuple.Insert, tup("a", "b"))).To(Succeed())
			Expect(n.NotifyChange(e2, tuple.Insert, tup("b", "c"))).To(Succeed())
			Expect(n.Flush()).To(Succeed())
			Expect(contentsOf(n, r1)).To(Equal([]string{"<a,b>"}))
			Expect(contentsOf(n, r2)).To(Equal([]string{"<b,c>"}))

			rank1, _, err := n.GroupOf(r1)
			Expect(err).NotTo(HaveOccurred())
			rank2, _, err := n.GroupOf(r2)
			Expect(err).NotTo(HaveOccurred())
			Expect(rank1).NotTo(Equal(rank2))

			inject(n, r1, tup("z", "a"))
			Expect(n.NotifyChange(e2, tuple.Insert, tup("c", "d"))).To(Succeed())
			recomputations := n.Stats().GroupRecomputations
			Expect(n.Connect(r2, r1)).To(Succeed())
			Expect(n.Connect(r1, r2)).To(Succeed())
			Expect(n.Stats().GroupRecomputations).To(BeNumerically(">", recomputations))

			rank1, kind, err := n.GroupOf(r1)
			Expect(err).NotTo(HaveOccurred())
			Expect(kind).To(Equal(GroupRecursive))
			rank2, _, err = n.GroupOf(r2)
			Expect(err).NotTo(HaveOccurred())
			Expect(rank1).To(Equal(rank2))
			var merged *GroupInfo
			for _, g := range n.Groups() {
				g := g
				if g.Rank == rank1 {
					merged = &g
				}
			}
			Expect(merged).NotTo(BeNil())
			Expect(merged.Members).To(HaveLen(6))
			Expect(merged.Enqueued).To(BeTrue())
			Expect(merged.Pending).To(BeNumerically(">", 0))

			Expect(n.Flush()).To(Succeed())
			expectSettled(n)

			m := newTestNetwork(false)
			me1, mr1, me2, mr2 := build(m, true)
			Expect(m.NotifyChange(me1, tuple.Insert, tup("a", "b"))).To(Succeed())
			Expect(m.NotifyChange(me2, tuple.Insert, tup("b", "c"))).To(Succeed())
			Expect(m.NotifyChange(me2, tuple.Insert, tup("c", "d"))).To(Succeed())
			inject(m, mr1, tup("z", "a"))
			Expect(m.Flush()).To(Succeed())

			Expect(contentsOf(n, r1)).To(Equal(contentsOf(m, mr1)))
			Expect(contentsOf(n, r2)).To(Equal(contentsOf(m, mr2)))
			Expect(contentsOf(n, r1)).To(Equal([]string{
				"<a,b>", "<a,c>", "<a,d>", "<b,c>", "<b,d>", "<c,d>", "<z,a>", "<z,b>", "<z,c>", "<z,d>",
			}))
		})

		It("should split a group when the closing link is removed", func() {
			e1, r1, _, r2 := build(n, true)
			Expect(n.NotifyChange(e1, tuple.Insert, tup("a", "b"))).To(Succeed())
			Expect(n.Flush()).To(Succeed())
			Expect(contentsOf(n, r2)).To(Equal([]string{"<a,b>"}))

			Expect(n.Disconnect(r1, r2)).To(Succeed())
			rank1, _, err := n.GroupOf(r1)
			Expect(err).NotTo(HaveOccurred())
			rank2, _, err := n.GroupOf(r2)
			Expect(err).NotTo(HaveOccurred())
			Expect(rank1).NotTo(Equal(rank2))

			Expect(n.Flush()).To(Succeed())
			Expect(contentsOf(n, r2)).To(BeEmpty())
			Expect(contentsOf(n, r1)).To(Equal([]string{"<a,b>"}))
			expectSettled(n)
		})
	})

	Context("with forbidden shapes", func() {
		It("should reject a relation evaluator inside a cycle", func() {
			_, reach := addReach(n, "")
			ident := NewRelationEvaluator("identity", func(in [][]tuple.Tuple) ([]tuple.Tuple, error) {
				return in[0], nil
			})
			rel, err := n.AddRelationEvaluator("rel", ident, 2, reach)
			Expect(err).NotTo(HaveOccurred())
			links := len(n.Links())

			err = n.Connect(rel, reach)
			Expect(errors.Is(err, ErrMisuse)).To(BeTrue())
			Expect(n.Links()).To(HaveLen(links))
			_, kind, err := n.GroupOf(rel)
			Expect(err).NotTo(HaveOccurred())
			Expect(kind).To(Equal(GroupSingleton))
		})

		It("should reject timely-incompatible nodes", func() {
			m := newTestNetwork(true)
			in, err := m.AddInput("in", 2)
			Expect(err).NotTo(HaveOccurred())
			_, err = m.AddAntiJoin("aj", in, in, tuple.MustMask(2, 0), tuple.MustMask(2, 1))
			Expect(errors.Is(err, ErrMisuse)).To(BeTrue())
			_, err = m.AddTransitiveClosure("tc", in)
			Expect(errors.Is(err, ErrMisuse)).To(BeTrue())
			_, err = m.AddAggregator("agg", in, tuple.MustMask(2, 0), Count{})
			Expect(errors.Is(err, ErrMisuse)).To(BeTrue())
			_, err = m.AddRelationEvaluator("rel", NewRelationEvaluator("id",
				func(in [][]tuple.Tuple) ([]tuple.Tuple, error) { return in[0], nil }), 2, in)
			Expect(errors.Is(err, ErrMisuse)).To(BeTrue())

			p, err := m.AddProduction("p", 2, in)
			Expect(err).NotTo(HaveOccurred())
			f, err := m.AddFilter("f", p, firstIs("a"))
			Expect(err).NotTo(HaveOccurred())
			err = m.Connect(f, p)
			Expect(errors.Is(err, ErrMisuse)).To(BeTrue())
			_, kind, err := m.GroupOf(f)
			Expect(err).NotTo(HaveOccurred())
			Expect(kind).To(Equal(GroupSingleton))
		})
	})
})

// closureOf computes the transitive closure of an edge set from scratch, rendered and sorted.
func closureOf(edges map[[2]string]bool) []string {
	reach := map[[2]string]bool{}
	for e, ok := range edges {
		if ok {
			reach[e] = true
		}
	}
	for changed := true; changed; {
		changed = false
		for r := range reach {
			for e, ok := range edges {
				if ok && r[1] == e[0] && !reach[[2]string{r[0], e[1]}] {
					reach[[2]string{r[0], e[1]}] = true
					changed = true
				}
			}
		}
	}
	ret := []string{}
	for r := range reach {
		ret = append(ret, tup(r[0], r[1]).String())
	}
	sort.Strings(ret)
	return ret
}
