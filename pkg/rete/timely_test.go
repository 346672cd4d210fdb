package rete

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/l7mp/rete/internal/testutils"
	"github.com/l7mp/rete/pkg/tuple"
)

var _ = Describe("Timely network", func() {
	var (
		n   *Network
		rec *testutils.Recorder
	)

	BeforeEach(func() {
		n = newTestNetwork(true)
		rec = testutils.NewRecorder()
		Expect(n.IsTimely()).To(BeTrue())
	})

	It("should expose the earliest derivation", func() {
		in, err := n.AddInput("in", 1)
		Expect(err).NotTo(HaveOccurred())
		p, err := n.AddProduction("p", 1, in)
		Expect(err).NotTo(HaveOccurred())
		_, err = n.AddListener(p, rec.Listen)
		Expect(err).NotTo(HaveOccurred())

		Expect(n.NotifyChangeWithTimestamp(in, tuple.Insert, tup("x"), 5)).To(Succeed())
		Expect(n.Flush()).To(Succeed())
		Expect(rec.Strings()).To(Equal([]string{"+<x>@5"}))

		rec.Reset()
		Expect(n.NotifyChangeWithTimestamp(in, tuple.Insert, tup("x"), 3)).To(Succeed())
		Expect(n.Flush()).To(Succeed())
		Expect(rec.Strings()).To(Equal([]string{"-<x>@5", "+<x>@3"}))

		stamped := map[string]tuple.Stamped{}
		Expect(n.PullIntoWithTimestamp(p, stamped, false)).To(Succeed())
		Expect(stamped).To(HaveLen(1))
		Expect(stamped[tup("x").Key()].Timestamp).To(Equal(tuple.Timestamp(3)))

		ts, err := n.PullAsOf(p, 4)
		Expect(err).NotTo(HaveOccurred())
		Expect(testutils.Strings(ts)).To(Equal([]string{"<x>"}))
		ts, err = n.PullAsOf(p, 2)
		Expect(err).NotTo(HaveOccurred())
		Expect(ts).To(BeEmpty())

		rec.Reset()
		Expect(n.NotifyChangeWithTimestamp(in, tuple.Delete, tup("x"), 3)).To(Succeed())
		Expect(n.Flush()).To(Succeed())
		Expect(rec.Strings()).To(Equal([]string{"-<x>@3", "+<x>@5"}))

		err = n.NotifyChangeWithTimestamp(in, tuple.Delete, tup("x"), 9)
		Expect(errors.Is(err, ErrInconsistent)).To(BeTrue())
		expectSettled(n)
	})

	It("should stamp join results with the later input", func() {
		l, err := n.AddInput("L", 1)
		Expect(err).NotTo(HaveOccurred())
		r, err := n.AddInput("R", 1)
		Expect(err).NotTo(HaveOccurred())
		j, err := n.AddJoin("j", l, r, tuple.MustMask(1, 0), tuple.MustMask(1, 0))
		Expect(err).NotTo(HaveOccurred())
		p, err := n.AddProduction("p", 1, j)
		Expect(err).NotTo(HaveOccurred())
		_, err = n.AddListener(p, rec.Listen)
		Expect(err).NotTo(HaveOccurred())

		Expect(n.NotifyChangeWithTimestamp(l, tuple.Insert, tup("x"), 2)).To(Succeed())
		Expect(n.NotifyChangeWithTimestamp(r, tuple.Insert, tup("x"), 7)).To(Succeed())
		Expect(n.Flush()).To(Succeed())
		Expect(rec.Strings()).To(Equal([]string{"+<x>@7"}))

		rec.Reset()
		Expect(n.NotifyChangeWithTimestamp(r, tuple.Insert, tup("x"), 4)).To(Succeed())
		Expect(n.Flush()).To(Succeed())
		Expect(rec.Strings()).To(Equal([]string{"-<x>@7", "+<x>@4"}))

		timelines := map[string]tuple.Timeline{}
		Expect(n.PullIntoWithTimeline(p, timelines, false)).To(Succeed())
		Expect(timelines[tup("x").Key()].IsPresent(3)).To(BeFalse())
		Expect(timelines[tup("x").Key()].IsPresent(4)).To(BeTrue())
	})

	It("should ignore timestamps in a non-timely network", func() {
		m := newTestNetwork(false)
		in, err := m.AddInput("in", 1)
		Expect(err).NotTo(HaveOccurred())
		p, err := m.AddProduction("p", 1, in)
		Expect(err).NotTo(HaveOccurred())
		_, err = m.AddListener(p, rec.Listen)
		Expect(err).NotTo(HaveOccurred())

		Expect(m.NotifyChangeWithTimestamp(in, tuple.Insert, tup("x"), 5)).To(Succeed())
		Expect(m.NotifyChangeWithTimestamp(in, tuple.Insert, tup("x"), 3)).To(Succeed())
		Expect(m.Flush()).To(Succeed())
		Expect(rec.Strings()).To(Equal([]string{"+<x>"}))
		Expect(m.NotifyChangeWithTimestamp(in, tuple.Delete, tup("x"), 8)).To(Succeed())
	})
})
