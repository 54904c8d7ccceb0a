package dsdb_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"ttadse/internal/arch"
	"ttadse/internal/dsdb"
	"ttadse/internal/machines"
)

var _ = Describe("Memory store", func() {
	storeBehaviour(func() dsdb.Store { return dsdb.NewMemory() })
})

var _ = Describe("SQLite store", func() {
	storeBehaviour(func() dsdb.Store {
		s, err := dsdb.OpenSQLite(":memory:")
		Expect(err).NotTo(HaveOccurred())
		return s
	})
})

func storeBehaviour(open func() dsdb.Store) {
	var (
		ctx   context.Context
		store dsdb.Store
		g     *arch.Graph
	)

	BeforeEach(func() {
		ctx = context.Background()
		store = open()
		DeferCleanup(store.Close)

		var err error
		g, err = machines.Scalar(machines.DefaultOptions())
		Expect(err).NotTo(HaveOccurred())
	})

	It("should hand out increasing ids", func() {
		a1, err := store.AddArchitecture(ctx, g)
		Expect(err).NotTo(HaveOccurred())
		a2, err := store.AddArchitecture(ctx, g)
		Expect(err).NotTo(HaveOccurred())
		Expect(a2).To(BeNumerically(">", a1))

		c1, err := store.AddConfiguration(ctx, dsdb.Configuration{ArchitectureID: a1})
		Expect(err).NotTo(HaveOccurred())
		c2, err := store.AddConfiguration(ctx, dsdb.Configuration{ArchitectureID: a2, ImplementationID: 7, HasImplementation: true})
		Expect(err).NotTo(HaveOccurred())
		Expect(c2).To(BeNumerically(">", c1))

		conf, err := store.Configuration(ctx, c2)
		Expect(err).NotTo(HaveOccurred())
		Expect(conf).To(Equal(dsdb.Configuration{ArchitectureID: a2, ImplementationID: 7, HasImplementation: true}))
	})

	It("should find architectures by content", func() {
		_, err := store.FindArchitecture(ctx, g)
		Expect(err).To(MatchError(dsdb.ErrNotFound))

		a1, err := store.AddArchitecture(ctx, g)
		Expect(err).NotTo(HaveOccurred())
		_, err = store.AddArchitecture(ctx, g.Clone())
		Expect(err).NotTo(HaveOccurred())

		id, err := store.FindArchitecture(ctx, g.Clone())
		Expect(err).NotTo(HaveOccurred())
		Expect(id).To(Equal(a1))

		x := g.Clone()
		b0, _ := x.BusByName("B0")
		Expect(x.DeleteBus(b0)).To(Succeed())

		_, err = store.FindArchitecture(ctx, x)
		Expect(err).To(MatchError(dsdb.ErrNotFound))
	})

	It("should return a fresh graph on every load", func() {
		id, err := store.AddArchitecture(ctx, g)
		Expect(err).NotTo(HaveOccurred())

		x, err := store.Architecture(ctx, id)
		Expect(err).NotTo(HaveOccurred())
		Expect(arch.Equal(g, x)).To(BeTrue())

		b0, _ := x.BusByName("B0")
		Expect(x.DeleteBus(b0)).To(Succeed())

		y, err := store.Architecture(ctx, id)
		Expect(err).NotTo(HaveOccurred())
		Expect(arch.Equal(g, y)).To(BeTrue())
	})

	It("should report missing rows", func() {
		_, err := store.Configuration(ctx, 42)
		Expect(err).To(MatchError(dsdb.ErrNotFound))

		_, err = store.Architecture(ctx, 42)
		Expect(err).To(MatchError(dsdb.ErrNotFound))

		_, err = store.AddConfiguration(ctx, dsdb.Configuration{ArchitectureID: 42})
		Expect(err).To(MatchError(dsdb.ErrNotFound))
	})

	It("should keep the latest cycle count per workload", func() {
		w1, err := store.AddWorkload(ctx, dsdb.Workload{Name: "crc", Path: "crc.json"})
		Expect(err).NotTo(HaveOccurred())
		w2, err := store.AddWorkload(ctx, dsdb.Workload{Name: "fir", Path: "fir.json"})
		Expect(err).NotTo(HaveOccurred())

		a, err := store.AddArchitecture(ctx, g)
		Expect(err).NotTo(HaveOccurred())
		conf := dsdb.Configuration{ArchitectureID: a}

		counts, err := store.CycleCounts(ctx, conf)
		Expect(err).NotTo(HaveOccurred())
		Expect(counts).To(BeEmpty())

		Expect(store.AddCycleCount(ctx, w2, a, 300)).To(Succeed())
		Expect(store.AddCycleCount(ctx, w1, a, 100)).To(Succeed())
		Expect(store.AddCycleCount(ctx, w1, a, 120)).To(Succeed())

		counts, err = store.CycleCounts(ctx, conf)
		Expect(err).NotTo(HaveOccurred())
		Expect(counts).To(Equal([]uint64{120, 300}))
		Expect(dsdb.AverageCycles(counts)).To(Equal(uint64(210)))

		ws, err := store.Workloads(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(ws).To(HaveLen(2))
		Expect(ws[0]).To(Equal(dsdb.Workload{ID: w1, Name: "crc", Path: "crc.json"}))
	})

	It("should resolve a configuration into its architecture", func() {
		id, err := dsdb.AddArchitectureConfiguration(ctx, store, g)
		Expect(err).NotTo(HaveOccurred())

		_, back, err := dsdb.LoadArchitecture(ctx, store, id)
		Expect(err).NotTo(HaveOccurred())
		Expect(arch.Equal(g, back)).To(BeTrue())
	})
}
