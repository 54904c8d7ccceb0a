package profile_test

import (
	"context"

	"github.com/nikandfor/errors"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"ttadse/internal/arch"
	"ttadse/internal/dsdb"
	"ttadse/internal/machines"
	"ttadse/internal/profile"
)

// fakeToolchain replays a hand-written schedule.
type fakeToolchain struct {
	program   func(g *arch.Graph) *profile.Program
	execs     []uint64
	cycles    map[string]uint64
	versions  map[string]string
	err       error
	schedules int
}

func (f *fakeToolchain) Fingerprint(ctx context.Context, w dsdb.Workload) ([]byte, error) {
	return []byte(f.versions[w.Path]), nil
}

func (f *fakeToolchain) Schedule(ctx context.Context, g *arch.Graph, w dsdb.Workload) (*profile.Program, error) {
	f.schedules++
	if f.err != nil {
		return nil, f.err
	}
	return f.program(g), nil
}

func (f *fakeToolchain) Simulate(ctx context.Context, g *arch.Graph, w dsdb.Workload, p *profile.Program) ([]uint64, uint64, error) {
	if c, ok := f.cycles[w.Path]; ok {
		return f.execs, c, nil
	}
	return f.execs, f.cycles[w.Name], nil
}

func port(g *arch.Graph, unit, name string) profile.Terminal {
	u, ok := g.UnitByName(unit)
	Expect(ok).To(BeTrue())
	p, ok := g.PortByName(u, name)
	Expect(ok).To(BeTrue())
	return profile.Terminal{Unit: u, Port: p}
}

func bus(g *arch.Graph, name string) arch.BusID {
	b, ok := g.BusByName(name)
	Expect(ok).To(BeTrue())
	return b
}

var _ = Describe("Profiler", func() {
	var (
		ctx    context.Context
		store  *dsdb.Memory
		g      *arch.Graph
		archID dsdb.RowID
		tc     *fakeToolchain
		prof   *profile.Profiler
	)

	BeforeEach(func() {
		ctx = context.Background()
		store = dsdb.NewMemory()

		var err error
		g, err = machines.Scalar(machines.DefaultOptions())
		Expect(err).NotTo(HaveOccurred())
		archID, err = store.AddArchitecture(ctx, g)
		Expect(err).NotTo(HaveOccurred())

		_, err = store.AddWorkload(ctx, dsdb.Workload{Name: "a"})
		Expect(err).NotTo(HaveOccurred())

		tc = &fakeToolchain{
			execs:  []uint64{10, 10, 5},
			cycles: map[string]uint64{"a": 100, "b": 200},
			program: func(g *arch.Graph) *profile.Program {
				lit := profile.Terminal{Unit: arch.NoUnit, Port: arch.NoPort, Immediate: true, Value: 5}
				limm := port(g, "IU", "r0")
				limm.Immediate = true
				limm.Value = 70000

				return &profile.Program{Instructions: []profile.Instruction{
					{Moves: []profile.Move{
						{Bus: bus(g, "B0"), Source: port(g, "RF", "R0"), Destination: port(g, "ALU", "in2")},
						{Bus: bus(g, "B1"), Source: lit, Destination: port(g, "ALU", "in1t")},
					}},
					{Moves: []profile.Move{
						{Bus: bus(g, "B2"), Source: port(g, "ALU", "out1"), Destination: port(g, "RF", "W0")},
					}},
					{LongImmediate: true, Moves: []profile.Move{
						{Bus: bus(g, "B3"), Source: limm, Destination: port(g, "MUL", "in1t")},
					}},
				}}
			},
		}
		prof = &profile.Profiler{Toolchain: tc, Store: store}
	})

	It("should fold moves into co-activity normalized by cycles", func() {
		st, cycles, err := prof.Profile(ctx, archID, g)
		Expect(err).NotTo(HaveOccurred())
		Expect(cycles).To(Equal(uint64(100)))

		m := st.BusActivity
		Expect(m.At(0, 0)).To(BeNumerically("~", 0.15, 1e-9), "B0 is also the long immediate carrier")
		Expect(m.At(0, 1)).To(BeNumerically("~", 0.10, 1e-9))
		Expect(m.At(1, 0)).To(Equal(m.At(0, 1)))
		Expect(m.At(0, 3)).To(BeNumerically("~", 0.05, 1e-9))
		Expect(m.At(1, 2)).To(BeZero())
		Expect(m.At(2, 2)).To(BeNumerically("~", 0.10, 1e-9))

		alu, _ := g.UnitByName("ALU")
		mul, _ := g.UnitByName("MUL")
		lsu, _ := g.UnitByName("LSU")
		Expect(st.UnitUse(alu)).To(BeNumerically("~", 0.20, 1e-9))
		Expect(st.UnitUse(mul)).To(BeNumerically("~", 0.05, 1e-9))
		Expect(st.UnitUse(lsu)).To(BeZero())
		Expect(st.UnitActivity.N).To(Equal(3), "register files, immediate and control units are not counted")

		Expect(st.Literals[1].Covered(3, false)).To(Equal(uint64(10)))
		Expect(st.Literals[3].Total()).To(Equal(uint64(5)))
		Expect(st.Literals[0].Total()).To(BeZero())
	})

	It("should normalize every workload before accumulating", func() {
		_, err := store.AddWorkload(ctx, dsdb.Workload{Name: "b"})
		Expect(err).NotTo(HaveOccurred())

		st, cycles, err := prof.Profile(ctx, archID, g)
		Expect(err).NotTo(HaveOccurred())
		Expect(cycles).To(Equal(uint64(150)))
		Expect(st.BusActivity.At(0, 1)).To(BeNumerically("~", 0.10+0.05, 1e-9))
		Expect(st.Workloads).To(HaveLen(2))
	})

	It("should record cycle counts in the store", func() {
		_, _, err := prof.Profile(ctx, archID, g)
		Expect(err).NotTo(HaveOccurred())

		counts, err := store.CycleCounts(ctx, dsdb.Configuration{ArchitectureID: archID})
		Expect(err).NotTo(HaveOccurred())
		Expect(counts).To(Equal([]uint64{100}))
	})

	It("should report schedule failures as ErrSchedule", func() {
		tc.err = errors.New("no bus to ALU.in2")

		_, _, err := prof.Profile(ctx, archID, g)
		Expect(err).To(MatchError(profile.ErrSchedule))
	})

	It("should reject a simulation that does not match the program", func() {
		tc.execs = []uint64{1}

		_, _, err := prof.Profile(ctx, archID, g)
		Expect(err).To(HaveOccurred())
		Expect(err).NotTo(MatchError(profile.ErrSchedule))
	})

	Describe("with a cache", func() {
		var cache *profile.Cache

		BeforeEach(func() {
			var err error
			cache, err = profile.OpenCache("")
			Expect(err).NotTo(HaveOccurred())
			DeferCleanup(cache.Close)

			prof.Cache = cache
		})

		It("should not reschedule an architecture seen before", func() {
			first, _, err := prof.Profile(ctx, archID, g)
			Expect(err).NotTo(HaveOccurred())
			Expect(tc.schedules).To(Equal(1))

			again, err := store.Architecture(ctx, archID)
			Expect(err).NotTo(HaveOccurred())

			second, _, err := prof.Profile(ctx, archID, again)
			Expect(err).NotTo(HaveOccurred())
			Expect(tc.schedules).To(Equal(1))
			Expect(cache.Hits).To(Equal(1))
			Expect(second.BusActivity).To(Equal(first.BusActivity))
		})

		It("should miss once the architecture changes", func() {
			_, _, err := prof.Profile(ctx, archID, g)
			Expect(err).NotTo(HaveOccurred())

			g.Bus(bus(g, "B3")).ImmWidth = 2
			_, _, err = prof.Profile(ctx, archID, g)
			Expect(err).NotTo(HaveOccurred())
			Expect(tc.schedules).To(Equal(2))
			Expect(cache.Misses).To(Equal(2))
		})

		It("should keep workloads of the same name apart", func() {
			_, err := store.AddWorkload(ctx, dsdb.Workload{Name: "a", Path: "/v2.json"})
			Expect(err).NotTo(HaveOccurred())
			tc.cycles["/v2.json"] = 999

			_, _, err = prof.Profile(ctx, archID, g)
			Expect(err).NotTo(HaveOccurred())
			Expect(tc.schedules).To(Equal(2))

			counts, err := store.CycleCounts(ctx, dsdb.Configuration{ArchitectureID: archID})
			Expect(err).NotTo(HaveOccurred())
			Expect(counts).To(ConsistOf(uint64(100), uint64(999)))
		})

		It("should miss once the workload content changes", func() {
			tc.versions = map[string]string{"": "v1"}
			_, _, err := prof.Profile(ctx, archID, g)
			Expect(err).NotTo(HaveOccurred())

			tc.versions[""] = "v2"
			_, _, err = prof.Profile(ctx, archID, g)
			Expect(err).NotTo(HaveOccurred())
			Expect(tc.schedules).To(Equal(2))
			Expect(cache.Hits).To(BeZero())
		})
	})
})
