package rete

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/l7mp/rete/internal/testutils"
	"github.com/l7mp/rete/pkg/memory"
	"github.com/l7mp/rete/pkg/tuple"
)

var _ = Describe("Aggregator", func() {
	var (
		n   *Network
		rec *testutils.Recorder
		in  NodeID
	)

	BeforeEach(func() {
		n = newTestNetwork(false)
		rec = testutils.NewRecorder()
		var err error
		in, err = n.AddInput("in", 2)
		Expect(err).NotTo(HaveOccurred())
	})

	aggregate := func(a Aggregator) NodeID {
		agg, err := n.AddAggregator("agg", in, tuple.MustMask(2, 0), a)
		ExpectWithOffset(1, err).NotTo(HaveOccurred())
		p, err := n.AddProduction("p", 2, agg)
		ExpectWithOffset(1, err).NotTo(HaveOccurred())
		_, err = n.AddListener(p, rec.Listen)
		ExpectWithOffset(1, err).NotTo(HaveOccurred())
		return p
	}

	insert := func(rows ...[]any) {
		for _, t := range testutils.Tuples(rows...) {
			ExpectWithOffset(1, n.NotifyChange(in, tuple.Insert, t)).To(Succeed())
		}
		ExpectWithOffset(1, n.Flush()).To(Succeed())
	}

	It("should count groups", func() {
		p := aggregate(Count{})
		insert([]any{"a", 1}, []any{"a", 2}, []any{"b", 5})
		Expect(contentsOf(n, p)).To(Equal([]string{"<a,2>", "<b,1>"}))

		rec.Reset()
		Expect(n.NotifyChange(in, tuple.Delete, tup("a", 1))).To(Succeed())
		Expect(n.Flush()).To(Succeed())
		Expect(rec.Strings()).To(Equal([]string{"-<a,2>", "+<a,1>"}))

		rec.Reset()
		Expect(n.NotifyChange(in, tuple.Delete, tup("b", 5))).To(Succeed())
		Expect(n.Flush()).To(Succeed())
		Expect(rec.Strings()).To(Equal([]string{"-<b,1>"}))
		Expect(contentsOf(n, p)).To(Equal([]string{"<a,1>"}))
	})

	It("should sum a column", func() {
		p := aggregate(Sum{Column: 1})
		insert([]any{"a", 1}, []any{"a", 2}, []any{"b", 5})
		Expect(contentsOf(n, p)).To(Equal([]string{"<a,3>", "<b,5>"}))
	})

	It("should select extremes", func() {
		p := aggregate(Max{Column: 1})
		insert([]any{"a", 1}, []any{"a", 7}, []any{"a", 3})
		Expect(contentsOf(n, p)).To(Equal([]string{"<a,7>"}))

		rec.Reset()
		Expect(n.NotifyChange(in, tuple.Insert, tup("a", 5))).To(Succeed())
		Expect(n.Flush()).To(Succeed())
		Expect(rec.Strings()).To(BeEmpty())

		v, err := Min{Column: 1}.Aggregate([]memory.Entry{
			{Tuple: tup("a", 4), Count: 1}, {Tuple: tup("a", 2), Count: 1},
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(v).To(Equal(2))
	})

	It("should fail on non-numeric sums", func() {
		aggregate(Sum{Column: 1})
		Expect(n.NotifyChange(in, tuple.Insert, tup("a", "x"))).To(Succeed())
		Expect(errors.Is(n.Flush(), ErrInconsistent)).To(BeTrue())
	})
})

var _ = Describe("RelationEvaluator", func() {
	var (
		n   *Network
		rec *testutils.Recorder
	)

	count := NewRelationEvaluator("count", func(in [][]tuple.Tuple) ([]tuple.Tuple, error) {
		return []tuple.Tuple{tuple.New(len(in[0]))}, nil
	})

	BeforeEach(func() {
		n = newTestNetwork(false)
		rec = testutils.NewRecorder()
	})

	It("should emit the difference of the recomputed relation", func() {
		in, err := n.AddInput("in", 1)
		Expect(err).NotTo(HaveOccurred())
		p, err := n.AddProduction("p", 1, in)
		Expect(err).NotTo(HaveOccurred())
		rel, err := n.AddRelationEvaluator("rel", count, 1, p)
		Expect(err).NotTo(HaveOccurred())
		out, err := n.AddProduction("out", 1, rel)
		Expect(err).NotTo(HaveOccurred())
		_, err = n.AddListener(out, rec.Listen)
		Expect(err).NotTo(HaveOccurred())

		Expect(contentsOf(n, rel)).To(Equal([]string{"<0>"}))
		recv, ok := n.Lookup("rel/input-0")
		Expect(ok).To(BeTrue())
		rank, kind, err := n.GroupOf(recv)
		Expect(err).NotTo(HaveOccurred())
		Expect(kind).To(Equal(GroupRecursive))
		relRank, relKind, err := n.GroupOf(rel)
		Expect(err).NotTo(HaveOccurred())
		Expect(relKind).To(Equal(GroupSingleton))
		Expect(relRank).To(BeNumerically(">", rank))

		Expect(n.NotifyChange(in, tuple.Insert, tup("a"))).To(Succeed())
		Expect(n.NotifyChange(in, tuple.Insert, tup("b"))).To(Succeed())
		Expect(n.Flush()).To(Succeed())
		Expect(rec.Strings()).To(Equal([]string{"+<2>"}))

		rec.Reset()
		Expect(n.NotifyChange(in, tuple.Delete, tup("a"))).To(Succeed())
		Expect(n.Flush()).To(Succeed())
		Expect(rec.Strings()).To(Equal([]string{"-<2>", "+<1>"}))
		expectSettled(n)

		info, err := n.Info(recv)
		Expect(err).NotTo(HaveOccurred())
		Expect(info.Kind).To(Equal(KindBatchingReceiver))
		Expect(info.Size).To(Equal(1))
	})

	It("should evaluate several inputs together", func() {
		a, err := n.AddInput("a", 1)
		Expect(err).NotTo(HaveOccurred())
		b, err := n.AddInput("b", 1)
		Expect(err).NotTo(HaveOccurred())
		diff := NewRelationEvaluator("difference", func(in [][]tuple.Tuple) ([]tuple.Tuple, error) {
			drop := tuple.NewSet(in[1]...)
			ret := []tuple.Tuple{}
			for _, t := range in[0] {
				if !drop.Contains(t) {
					ret = append(ret, t)
				}
			}
			return ret, nil
		})
		rel, err := n.AddRelationEvaluator("diff", diff, 1, a, b)
		Expect(err).NotTo(HaveOccurred())
		out, err := n.AddProduction("out", 1, rel)
		Expect(err).NotTo(HaveOccurred())

		Expect(n.NotifyChange(a, tuple.Insert, tup("x"))).To(Succeed())
		Expect(n.NotifyChange(a, tuple.Insert, tup("y"))).To(Succeed())
		Expect(n.NotifyChange(b, tuple.Insert, tup("y"))).To(Succeed())
		Expect(n.Flush()).To(Succeed())
		Expect(contentsOf(n, out)).To(Equal([]string{"<x>"}))

		Expect(n.NotifyChange(b, tuple.Delete, tup("y"))).To(Succeed())
		Expect(n.Flush()).To(Succeed())
		Expect(contentsOf(n, out)).To(Equal([]string{"<x>", "<y>"}))

		receivers := n.nodes[rel].(*RelationEvaluatorNode).Receivers()
		Expect(receivers).To(HaveLen(2))
		Expect(n.Dispose(out)).To(Succeed())
		Expect(n.Dispose(rel)).To(Succeed())
		for _, r := range receivers {
			_, err := n.Node(r)
			Expect(errors.Is(err, ErrUnknownNode)).To(BeTrue())
		}
		Expect(n.NotifyChange(a, tuple.Insert, tup("z"))).To(Succeed())
		Expect(n.Flush()).To(Succeed())
		expectSettled(n)
	})

	It("should refuse to dispose a receiver on its own", func() {
		in, err := n.AddInput("in", 1)
		Expect(err).NotTo(HaveOccurred())
		_, err = n.AddRelationEvaluator("rel", count, 1, in)
		Expect(err).NotTo(HaveOccurred())
		recv, ok := n.Lookup("rel/input-0")
		Expect(ok).To(BeTrue())
		Expect(errors.Is(n.Dispose(recv), ErrMisuse)).To(BeTrue())
		Expect(n.DisposeAll()).To(Succeed())
		Expect(n.Nodes()).To(BeEmpty())
	})

	It("should reject an evaluator failing on empty inputs", func() {
		in, err := n.AddInput("in", 1)
		Expect(err).NotTo(HaveOccurred())
		_, err = n.AddRelationEvaluator("rel", NewRelationEvaluator("broken",
			func([][]tuple.Tuple) ([]tuple.Tuple, error) { return nil, errors.New("no data") }), 1, in)
		Expect(errors.Is(err, ErrInconsistent)).To(BeTrue())
		_, ok := n.Lookup("rel")
		Expect(ok).To(BeFalse())
		_, ok = n.Lookup("rel/input-0")
		Expect(ok).To(BeFalse())
		Expect(n.Err()).NotTo(HaveOccurred())
	})
})
