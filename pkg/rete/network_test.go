package rete

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/l7mp/rete/internal/testutils"
	"github.com/l7mp/rete/pkg/tuple"
)

var _ = Describe("Network", func() {
	var (
		n   *Network
		rec *testutils.Recorder
	)

	BeforeEach(func() {
		n = newTestNetwork(false)
		rec = testutils.NewRecorder()
	})

	Context("with an acyclic chain", func() {
		var in, filter, proj, out NodeID

		BeforeEach(func() {
			var err error
			in, err = n.AddInput("A", 2)
			Expect(err).NotTo(HaveOccurred())
			filter, err = n.AddFilter("B", in, firstIs(1))
			Expect(err).NotTo(HaveOccurred())
			proj, err = n.AddTrimmer("C", filter, tuple.MustMask(2, 1))
			Expect(err).NotTo(HaveOccurred())
			out, err = n.AddProduction("out", 1, proj)
			Expect(err).NotTo(HaveOccurred())
			_, err = n.AddListener(out, rec.Listen)
			Expect(err).NotTo(HaveOccurred())
		})

		It("should deliver exactly one insert and one delete", func() {
			Expect(n.NotifyChange(in, tuple.Insert, tup(1, 2))).To(Succeed())
			Expect(n.Flush()).To(Succeed())
			Expect(rec.Strings()).To(Equal([]string{"+<2>"}))
			Expect(contentsOf(n, out)).To(Equal([]string{"<2>"}))
			expectSettled(n)

			rec.Reset()
			Expect(n.NotifyChange(in, tuple.Delete, tup(1, 2))).To(Succeed())
			Expect(n.Flush()).To(Succeed())
			Expect(rec.Strings()).To(Equal([]string{"-<2>"}))
			Expect(contentsOf(n, out)).To(BeEmpty())
			expectSettled(n)
		})

		It("should drop tuples rejected by the filter", func() {
			Expect(n.NotifyChange(in, tuple.Insert, tup(2, 2))).To(Succeed())
			Expect(n.Flush()).To(Succeed())
			Expect(rec.Strings()).To(BeEmpty())
			Expect(contentsOf(n, filter)).To(BeEmpty())
			Expect(contentsOf(n, in)).To(Equal([]string{"<2,2>"}))
		})

		It("should not expose duplicates", func() {
			Expect(n.NotifyChange(in, tuple.Insert, tup(1, 2))).To(Succeed())
			Expect(n.Flush()).To(Succeed())
			Expect(n.NotifyChange(in, tuple.Insert, tup(1, 2))).To(Succeed())
			Expect(n.Flush()).To(Succeed())
			Expect(rec.Strings()).To(Equal([]string{"+<2>"}))

			Expect(n.NotifyChange(in, tuple.Delete, tup(1, 2))).To(Succeed())
			Expect(n.Flush()).To(Succeed())
			Expect(rec.Strings()).To(Equal([]string{"+<2>"}))

			Expect(n.NotifyChange(in, tuple.Delete, tup(1, 2))).To(Succeed())
			Expect(n.Flush()).To(Succeed())
			Expect(rec.Strings()).To(Equal([]string{"+<2>", "-<2>"}))
		})

		It("should treat numerically equal values as the same tuple", func() {
			Expect(n.NotifyChange(in, tuple.Insert, tup(1, 2))).To(Succeed())
			Expect(n.NotifyChange(in, tuple.Insert, tup(1, 2.0))).To(Succeed())
			Expect(n.NotifyChange(in, tuple.Insert, tup(1, 3))).To(Succeed())
			Expect(n.Flush()).To(Succeed())
			Expect(rec.Strings()).To(Equal([]string{"+<2>", "+<3>"}))
			Expect(contentsOf(n, out)).To(Equal([]string{"<2>", "<3>"}))
		})

		It("should cancel opposite changes within a batch", func() {
			Expect(n.NotifyChange(in, tuple.Insert, tup(1, 2))).To(Succeed())
			Expect(n.NotifyChange(in, tuple.Delete, tup(1, 2))).To(Succeed())
			Expect(n.Flush()).To(Succeed())
			Expect(rec.Strings()).To(BeEmpty())
			Expect(n.Stats().Deliveries).To(Equal(0))
			expectSettled(n)
		})

		It("should reject deletes of absent tuples without failing", func() {
			err := n.NotifyChange(in, tuple.Delete, tup(1, 2))
			Expect(err).To(HaveOccurred())
			Expect(errors.Is(err, ErrInconsistent)).To(BeTrue())
			Expect(n.Err()).NotTo(HaveOccurred())

			Expect(n.NotifyChange(in, tuple.Insert, tup(1, 2))).To(Succeed())
			Expect(n.Flush()).To(Succeed())
			Expect(rec.Strings()).To(Equal([]string{"+<2>"}))
		})

		It("should reject malformed changes", func() {
			err := n.NotifyChange(in, tuple.Insert, tup(1))
			Expect(errors.Is(err, ErrMisuse)).To(BeTrue())
			err = n.NotifyChange(filter, tuple.Insert, tup(1, 2))
			Expect(errors.Is(err, ErrMisuse)).To(BeTrue())
			err = n.NotifyChange(NodeID(100), tuple.Insert, tup(1, 2))
			Expect(errors.Is(err, ErrUnknownNode)).To(BeTrue())
		})

		It("should set the fall-through flags", func() {
			ft, err := n.FallThrough(in)
			Expect(err).NotTo(HaveOccurred())
			Expect(ft).To(BeFalse())
			ft, err = n.FallThrough(filter)
			Expect(err).NotTo(HaveOccurred())
			Expect(ft).To(BeTrue())
			ft, err = n.FallThrough(proj)
			Expect(err).NotTo(HaveOccurred())
			Expect(ft).To(BeTrue())
			ft, err = n.FallThrough(out)
			Expect(err).NotTo(HaveOccurred())
			Expect(ft).To(BeFalse())
		})

		It("should account deliveries", func() {
			Expect(n.NotifyChange(in, tuple.Insert, tup(1, 2))).To(Succeed())
			Expect(n.Flush()).To(Succeed())

			st := n.Stats()
			Expect(st.Batches).To(Equal(1))
			Expect(st.Deliveries).To(Equal(4))
			Expect(st.FallThrough).To(Equal(2))
			Expect(st.DelayedCommands).To(Equal(3))
			Expect(n.RecentDeliveries()).To(HaveLen(4))
			Expect(n.RecentDeliveries()[0]).To(ContainSubstring("A <- INSERT <1,2>@0"))
		})

		It("should classify the groups", func() {
			rank, kind, err := n.GroupOf(in)
			Expect(err).NotTo(HaveOccurred())
			Expect(kind).To(Equal(GroupSingleton))
			outRank, outKind, err := n.GroupOf(out)
			Expect(err).NotTo(HaveOccurred())
			Expect(outKind).To(Equal(GroupRecursive))
			Expect(outRank).To(BeNumerically(">", rank))
			Expect(n.Groups()).To(HaveLen(4))
		})

		It("should describe nodes", func() {
			info, err := n.Info(proj)
			Expect(err).NotTo(HaveOccurred())
			Expect(info.Name).To(Equal("C"))
			Expect(info.Kind).To(Equal(KindTrimmer))
			Expect(info.Width).To(Equal(1))
			Expect(info.Parents).To(Equal([]string{"B"}))
			Expect(info.Children).To(Equal([]string{"out"}))
			Expect(info.Stateful).To(BeFalse())

			info, err = n.Info(in)
			Expect(err).NotTo(HaveOccurred())
			Expect(info.Stateful).To(BeTrue())
			Expect(n.Links()).To(HaveLen(3))
		})

		It("should stop notifying removed listeners", func() {
			other := testutils.NewRecorder()
			remove, err := n.AddListener(out, other.Listen)
			Expect(err).NotTo(HaveOccurred())
			Expect(n.NotifyChange(in, tuple.Insert, tup(1, 2))).To(Succeed())
			Expect(n.Flush()).To(Succeed())
			remove()
			Expect(n.NotifyChange(in, tuple.Insert, tup(1, 3))).To(Succeed())
			Expect(n.Flush()).To(Succeed())

			Expect(other.Strings()).To(Equal([]string{"+<2>"}))
			Expect(rec.Strings()).To(Equal([]string{"+<2>", "+<3>"}))

			_, err = n.AddListener(filter, other.Listen)
			Expect(errors.Is(err, ErrMisuse)).To(BeTrue())
		})

		It("should reject structural changes while delivering", func() {
			var inner error
			_, err := n.AddListener(out, func(tuple.Direction, tuple.Tuple, tuple.Timestamp) {
				_, inner = n.AddInput("late", 1)
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(n.NotifyChange(in, tuple.Insert, tup(1, 2))).To(Succeed())
			Expect(n.Flush()).To(Succeed())
			Expect(errors.Is(inner, ErrMisuse)).To(BeTrue())
			_, ok := n.Lookup("late")
			Expect(ok).To(BeFalse())
		})

		It("should initialize a node added later from current contents", func() {
			Expect(n.NotifyChange(in, tuple.Insert, tup(1, 2))).To(Succeed())
			Expect(n.NotifyChange(in, tuple.Insert, tup(3, 4))).To(Succeed())
			Expect(n.Flush()).To(Succeed())

			late := testutils.NewRecorder()
			first, err := n.AddTrimmer("first", in, tuple.MustMask(2, 0))
			Expect(err).NotTo(HaveOccurred())
			p, err := n.AddProduction("late", 1, first)
			Expect(err).NotTo(HaveOccurred())
			_, err = n.AddListener(p, late.Listen)
			Expect(err).NotTo(HaveOccurred())
			Expect(n.IsEmpty()).To(BeFalse())

			Expect(n.Flush()).To(Succeed())
			Expect(late.Strings()).To(ConsistOf("+<1>", "+<3>"))
			Expect(contentsOf(n, p)).To(Equal([]string{"<1>", "<3>"}))
			expectSettled(n)
		})

		It("should dispose nodes bottom up", func() {
			err := n.Dispose(proj)
			Expect(errors.Is(err, ErrMisuse)).To(BeTrue())

			Expect(n.Dispose(out)).To(Succeed())
			Expect(n.Dispose(proj)).To(Succeed())
			_, ok := n.Lookup("C")
			Expect(ok).To(BeFalse())
			_, err = n.Node(proj)
			Expect(errors.Is(err, ErrUnknownNode)).To(BeTrue())

			Expect(n.NotifyChange(in, tuple.Insert, tup(1, 2))).To(Succeed())
			Expect(n.Flush()).To(Succeed())
			Expect(rec.Strings()).To(BeEmpty())
			expectSettled(n)
		})

		It("should dispose the whole network", func() {
			Expect(n.NotifyChange(in, tuple.Insert, tup(1, 2))).To(Succeed())
			Expect(n.DisposeAll()).To(Succeed())
			Expect(n.Nodes()).To(BeEmpty())
			Expect(n.Groups()).To(BeEmpty())
			Expect(n.IsEmpty()).To(BeTrue())
		})
	})

	Context("with production parents", func() {
		var in1, in2, p NodeID

		BeforeEach(func() {
			var err error
			in1, err = n.AddInput("in1", 1)
			Expect(err).NotTo(HaveOccurred())
			in2, err = n.AddInput("in2", 1)
			Expect(err).NotTo(HaveOccurred())
			p, err = n.AddProduction("p", 1, in1, in2)
			Expect(err).NotTo(HaveOccurred())
			_, err = n.AddListener(p, rec.Listen)
			Expect(err).NotTo(HaveOccurred())
		})

		It("should count derivations", func() {
			Expect(n.NotifyChange(in1, tuple.Insert, tup("x"))).To(Succeed())
			Expect(n.NotifyChange(in2, tuple.Insert, tup("x"))).To(Succeed())
			Expect(n.NotifyChange(in2, tuple.Insert, tup("y"))).To(Succeed())
			Expect(n.Flush()).To(Succeed())
			Expect(rec.Strings()).To(ConsistOf("+<x>", "+<y>"))

			rec.Reset()
			Expect(n.NotifyChange(in1, tuple.Delete, tup("x"))).To(Succeed())
			Expect(n.Flush()).To(Succeed())
			Expect(rec.Strings()).To(BeEmpty())
			Expect(contentsOf(n, p)).To(Equal([]string{"<x>", "<y>"}))
		})

		It("should retract the contents of a disconnected parent", func() {
			Expect(n.NotifyChange(in1, tuple.Insert, tup("x"))).To(Succeed())
			Expect(n.NotifyChange(in2, tuple.Insert, tup("x"))).To(Succeed())
			Expect(n.NotifyChange(in2, tuple.Insert, tup("y"))).To(Succeed())
			Expect(n.Flush()).To(Succeed())
			rec.Reset()

			Expect(n.Disconnect(in2, p)).To(Succeed())
			Expect(n.Flush()).To(Succeed())
			Expect(rec.Strings()).To(Equal([]string{"-<y>"}))
			Expect(contentsOf(n, p)).To(Equal([]string{"<x>"}))
			expectSettled(n)

			err := n.Disconnect(in2, p)
			Expect(errors.Is(err, ErrMisuse)).To(BeTrue())
		})

		It("should replay the contents of a connected parent", func() {
			in3, err := n.AddInput("in3", 1)
			Expect(err).NotTo(HaveOccurred())
			Expect(n.NotifyChange(in3, tuple.Insert, tup("z"))).To(Succeed())
			Expect(n.Flush()).To(Succeed())
			Expect(rec.Strings()).To(BeEmpty())

			Expect(n.Connect(in3, p)).To(Succeed())
			Expect(n.Flush()).To(Succeed())
			Expect(rec.Strings()).To(Equal([]string{"+<z>"}))
		})

		It("should reject invalid connections", func() {
			wide, err := n.AddInput("wide", 2)
			Expect(err).NotTo(HaveOccurred())
			err = n.Connect(wide, p)
			Expect(errors.Is(err, ErrMisuse)).To(BeTrue())
			err = n.Connect(in1, in2)
			Expect(errors.Is(err, ErrMisuse)).To(BeTrue())
			_, err = n.AddInput("in1", 1)
			Expect(errors.Is(err, ErrMisuse)).To(BeTrue())
			_, err = n.AddProduction("bad", 2, in1)
			Expect(errors.Is(err, ErrMisuse)).To(BeTrue())
			_, err = n.AddTrimmer("bad", in1, tuple.MustMask(2, 0))
			Expect(errors.Is(err, ErrMisuse)).To(BeTrue())
		})
	})

	Context("with failing evaluators", func() {
		var in NodeID

		BeforeEach(func() {
			var err error
			in, err = n.AddInput("in", 1)
			Expect(err).NotTo(HaveOccurred())
		})

		It("should fail the network on an evaluator error", func() {
			_, err := n.AddEvaluator("boom", in, NewEvaluator("kaboom",
				func(tuple.Tuple) (tuple.Tuple, bool, error) {
					return tuple.Tuple{}, false, errors.New("out of cheese")
				}), 1)
			Expect(err).NotTo(HaveOccurred())

			Expect(n.NotifyChange(in, tuple.Insert, tup(1))).To(Succeed())
			err = n.Flush()
			Expect(err).To(HaveOccurred())
			Expect(errors.Is(err, ErrInconsistent)).To(BeTrue())
			Expect(err.Error()).To(ContainSubstring("out of cheese"))
			Expect(err.Error()).To(ContainSubstring("kaboom"))

			Expect(n.Err()).To(HaveOccurred())
			err = n.NotifyChange(in, tuple.Insert, tup(2))
			Expect(errors.Is(err, ErrNetworkFailed)).To(BeTrue())
			err = n.Flush()
			Expect(errors.Is(err, ErrNetworkFailed)).To(BeTrue())
		})

		It("should recover evaluator panics", func() {
			_, err := n.AddFilter("panic", in, NewPredicate("panicky",
				func(tuple.Tuple) (bool, error) { panic("whoops") }))
			Expect(err).NotTo(HaveOccurred())

			Expect(n.NotifyChange(in, tuple.Insert, tup(1))).To(Succeed())
			err = n.Flush()
			Expect(errors.Is(err, ErrInconsistent)).To(BeTrue())
			Expect(err.Error()).To(ContainSubstring("whoops"))
		})

		It("should reject results of the wrong width", func() {
			_, err := n.AddEvaluator("wide", in, NewEvaluator("wide",
				func(t tuple.Tuple) (tuple.Tuple, bool, error) { return t.Concat(t), true, nil }), 1)
			Expect(err).NotTo(HaveOccurred())

			Expect(n.NotifyChange(in, tuple.Insert, tup(1))).To(Succeed())
			Expect(errors.Is(n.Flush(), ErrInconsistent)).To(BeTrue())
		})
	})

	It("should map tuples through an evaluator", func() {
		in, err := n.AddInput("in", 1)
		Expect(err).NotTo(HaveOccurred())
		double, err := n.AddEvaluator("double", in, NewEvaluator("double",
			func(t tuple.Tuple) (tuple.Tuple, bool, error) {
				v, ok := t.Get(0).(int)
				if !ok {
					return tuple.Tuple{}, false, nil
				}
				return tuple.New(v, 2*v), true, nil
			}), 2)
		Expect(err).NotTo(HaveOccurred())
		p, err := n.AddProduction("p", 2, double)
		Expect(err).NotTo(HaveOccurred())

		Expect(n.NotifyChange(in, tuple.Insert, tup(1))).To(Succeed())
		Expect(n.NotifyChange(in, tuple.Insert, tup("x"))).To(Succeed())
		Expect(n.Flush()).To(Succeed())
		Expect(contentsOf(n, p)).To(Equal([]string{"<1,2>"}))

		Expect(n.NotifyChange(in, tuple.Delete, tup(1))).To(Succeed())
		Expect(n.Flush()).To(Succeed())
		Expect(contentsOf(n, p)).To(BeEmpty())
	})
})
