package simm_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"ttadse/internal/machines"
	"ttadse/internal/simm"
)

var _ = Describe("Histogram", func() {
	DescribeTable("required bits",
		func(v int64, width int, signed bool) {
			w, s := simm.RequiredBits(v)
			Expect(w).To(Equal(width))
			Expect(s).To(Equal(signed))
		},
		Entry("zero", int64(0), 1, false),
		Entry("one", int64(1), 1, false),
		Entry("byte", int64(255), 8, false),
		Entry("minus one", int64(-1), 1, true),
		Entry("min int8", int64(-128), 8, true),
		Entry("below int8", int64(-129), 9, true),
	)

	It("should count non-negatives one bit wider when signed", func() {
		var h simm.Histogram
		h.Add(5)

		Expect(h.Covered(3, false)).To(Equal(uint64(1)))
		Expect(h.Covered(3, true)).To(Equal(uint64(0)))
		Expect(h.Covered(4, true)).To(Equal(uint64(1)))
		Expect(h.Covered(0, true)).To(Equal(uint64(0)))
	})

	It("should prefer signed on ties", func() {
		var h simm.Histogram
		h.AddN(1, 3)

		cov, signed := h.Best(2)
		Expect(signed).To(BeTrue())
		Expect(cov).To(Equal(uint64(3)))

		h.AddN(3, 1)
		cov, signed = h.Best(2)
		Expect(signed).To(BeFalse())
		Expect(cov).To(Equal(uint64(4)))
	})

	It("should merge counts", func() {
		var a, b simm.Histogram
		a.Add(1)
		b.Add(-1)
		b.Add(1000)
		a.Merge(b)
		Expect(a.Total()).To(Equal(uint64(3)))
	})
})

var _ = Describe("Allocate", func() {
	var (
		widths []int
		hists  []simm.Histogram
	)

	BeforeEach(func() {
		widths = []int{32, 32, 32, 16}
		hists = make([]simm.Histogram, len(widths))
		lits := [][]int64{
			{0, 1, 2, 3, 7, 15, 100, -1, -4, 4000},
			{12, 12, 12, -12, 70000},
			{},
			{-30000, 5, 6, 7},
		}
		for i, ls := range lits {
			for j, v := range ls {
				hists[i].AddN(v, uint64(j+1))
			}
		}
	})

	It("should give nothing for a zero budget", func() {
		for _, c := range simm.Allocate(widths, 0, hists) {
			Expect(c.Width).To(BeZero())
		}
	})

	It("should never spend more than the budget", func() {
		for b := 0; b <= 80; b++ {
			choices := simm.Allocate(widths, b, hists)
			Expect(simm.Bits(choices)).To(BeNumerically("<=", b), "budget %d", b)
			for i, c := range choices {
				Expect(c.Width).To(BeNumerically("<", widths[i]))
			}
		}
	})

	It("should never lose coverage when the budget grows", func() {
		prev := uint64(0)
		for b := 0; b <= 80; b++ {
			cov := simm.Coverage(simm.Allocate(widths, b, hists), hists)
			Expect(cov).To(BeNumerically(">=", prev), "budget %d", b)
			prev = cov
		}
	})

	It("should feed the busiest bus first", func() {
		var busy, quiet simm.Histogram
		busy.AddN(3, 100)
		quiet.AddN(3, 10)

		choices := simm.Allocate([]int{32, 32}, 3, []simm.Histogram{busy, quiet})
		Expect(choices).To(Equal([]simm.Choice{{Width: 2, Signed: false}, {Width: 0, Signed: true}}))

		choices = simm.Allocate([]int{32, 32}, 4, []simm.Histogram{busy, quiet})
		Expect(choices[1].Width).To(Equal(2))
	})

	It("should pick sign extension for negative literals", func() {
		var h simm.Histogram
		h.AddN(-3, 10)

		choices := simm.Allocate([]int{32}, 8, []simm.Histogram{h})
		Expect(choices).To(Equal([]simm.Choice{{Width: 3, Signed: true}}))
	})

	It("should write the allocation to the buses", func() {
		g, err := machines.Scalar(machines.DefaultOptions())
		Expect(err).NotTo(HaveOccurred())

		Expect(simm.Apply(g, []simm.Choice{{Width: 1}})).NotTo(Succeed())

		choices := []simm.Choice{{Width: 4, Signed: true}, {Width: 0}, {Width: 12}, {Width: 6, Signed: true}}
		Expect(simm.Apply(g, choices)).To(Succeed())

		var got []int
		for _, id := range g.Buses() {
			got = append(got, g.Bus(id).ImmWidth)
		}
		Expect(got).To(Equal([]int{4, 0, 12, 6}))
		Expect(simm.BusWidths(g)).To(Equal([]int{32, 32, 32, 32}))

		b2, _ := g.BusByName("B2")
		Expect(g.Bus(b2).SignExtends).To(BeFalse())
	})
})
