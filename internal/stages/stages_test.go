package stages_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"ttadse/internal/arch"
	"ttadse/internal/dsdb"
	"ttadse/internal/explore"
	"ttadse/internal/machines"
	"ttadse/internal/profile"
	"ttadse/internal/stages"
	"ttadse/internal/toolchain"
)

var _ = Describe("Stages", func() {
	var (
		ctx   context.Context
		store *dsdb.Memory
		env   *explore.Env
		reg   *explore.Registry
		start dsdb.RowID
	)

	run := func(name string, conf dsdb.RowID, p explore.Params) []dsdb.RowID {
		s, err := reg.New(name)
		Expect(err).NotTo(HaveOccurred())

		ids, err := s.Run(ctx, env, conf, p)
		Expect(err).NotTo(HaveOccurred())
		Expect(ids).NotTo(BeEmpty())
		return ids
	}

	graph := func(conf dsdb.RowID) *arch.Graph {
		_, g, err := dsdb.LoadArchitecture(ctx, store, conf)
		Expect(err).NotTo(HaveOccurred())
		return g
	}

	BeforeEach(func() {
		ctx = context.Background()
		store = dsdb.NewMemory()

		ref := toolchain.NewReference()
		ref.Add("mem:addmul", &toolchain.Workload{
			Name:       "addmul",
			Iterations: 10,
			Ops: []toolchain.Op{
				{Name: "add", Literal: toolchain.Lit(5)},
				{Name: "sub", Literal: toolchain.Lit(-3)},
				{Name: "mul", Deps: []int{0, 1}},
			},
		})
		_, err := store.AddWorkload(ctx, dsdb.Workload{Name: "addmul", Path: "mem:addmul"})
		Expect(err).NotTo(HaveOccurred())

		env = &explore.Env{
			Store:    store,
			Profiler: &profile.Profiler{Toolchain: ref, Store: store},
		}

		reg = explore.NewRegistry()
		stages.Register(reg)

		g, err := machines.Scalar(machines.DefaultOptions())
		Expect(err).NotTo(HaveOccurred())
		start, err = dsdb.AddArchitectureConfiguration(ctx, store, g)
		Expect(err).NotTo(HaveOccurred())
	})

	It("should register every stage", func() {
		Expect(reg.Names()).To(ConsistOf(
			stages.PruneUnusedUnits,
			stages.VLIWConnectIC,
			stages.FUMergeMinimizer,
			stages.BusMergeMinimizer,
			stages.RFPortMergeMinimizer,
			stages.ShortImmediateOptimizer,
			stages.ImmediateGenerator,
		))
	})

	Describe("PruneUnusedUnits", func() {
		It("should drop units the workloads never touch", func() {
			ids := run(stages.PruneUnusedUnits, start, nil)
			Expect(ids).To(HaveLen(1))

			g := graph(ids[0])
			_, ok := g.UnitByName("LSU")
			Expect(ok).To(BeFalse())
			_, ok = g.UnitByName("MUL")
			Expect(ok).To(BeTrue())
			Expect(g.Validate()).To(Succeed())
		})

		It("should keep skeleton units", func() {
			ids := run(stages.PruneUnusedUnits, start, explore.Params{"skeleton": "LSU"})
			Expect(ids).To(Equal([]dsdb.RowID{start}))
		})

		Context("with a vector unit", func() {
			var vec dsdb.RowID

			BeforeEach(func() {
				ref := env.Profiler.Toolchain.(*toolchain.Reference)
				ref.Add("mem:vec", &toolchain.Workload{
					Name:       "vec",
					Iterations: 4,
					Ops: []toolchain.Op{
						{Name: "vadd"},
						{Name: "add", Deps: []int{0}},
					},
				})
				_, err := store.AddWorkload(ctx, dsdb.Workload{Name: "vec", Path: "mem:vec"})
				Expect(err).NotTo(HaveOccurred())

				o := machines.DefaultOptions()
				o.VectorUnit = true
				g, err := machines.Scalar(o)
				Expect(err).NotTo(HaveOccurred())
				vec, err = dsdb.AddArchitectureConfiguration(ctx, store, g)
				Expect(err).NotTo(HaveOccurred())
			})

			It("should keep used vector units when exploring vector code", func() {
				ids := run(stages.PruneUnusedUnits, vec, explore.Params{"mode": "vector"})

				g := graph(ids[0])
				_, ok := g.UnitByName("VALU")
				Expect(ok).To(BeTrue())
				_, ok = g.UnitByName("LSU")
				Expect(ok).To(BeFalse())
			})

			It("should prune vector units from scalar explorations", func() {
				s, err := reg.New(stages.PruneUnusedUnits)
				Expect(err).NotTo(HaveOccurred())

				_, err = s.Run(ctx, env, vec, explore.Params{"mode": "scalar"})
				Expect(err).To(MatchError(profile.ErrSchedule))
			})

			It("should reject an unknown mode", func() {
				s, err := reg.New(stages.PruneUnusedUnits)
				Expect(err).NotTo(HaveOccurred())

				_, err = s.Run(ctx, env, vec, explore.Params{"mode": "simd"})
				Expect(err).To(HaveOccurred())
			})
		})
	})

	Describe("VLIWConnectIC", func() {
		It("should rebuild the interconnect from the stage parameters", func() {
			ids := run(stages.VLIWConnectIC, start, explore.Params{
				"wipe_register_file": "true",
				"simm_width":         "12",
				"limm_bus_count":     "2",
			})
			Expect(ids).To(HaveLen(1))

			g := graph(ids[0])
			Expect(g.Validate()).To(Succeed())

			_, ok := g.UnitByName("RF_32")
			Expect(ok).To(BeTrue())
			Expect(g.Carriers()).To(HaveLen(2))
			for _, b := range g.Buses() {
				if !g.IsCarrier(b) {
					Expect(g.Bus(b).ImmWidth).To(Equal(12))
				}
			}

			sum, err := explore.Describe(ctx, store, ids[0])
			Expect(err).NotTo(HaveOccurred())
			Expect(sum.Cycles).To(BeNumerically(">", 0))
		})

		It("should keep the register file unless asked to wipe it", func() {
			ids := run(stages.VLIWConnectIC, start, explore.Params{"wipe_register_file": "false"})

			g := graph(ids[0])
			_, ok := g.UnitByName("RF")
			Expect(ok).To(BeTrue())
		})

		It("should reject a bad long immediate bus count", func() {
			s, err := reg.New(stages.VLIWConnectIC)
			Expect(err).NotTo(HaveOccurred())

			_, err = s.Run(ctx, env, start, explore.Params{"limm_bus_count": "0"})
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("RFPortMergeMinimizer", func() {
		var wide dsdb.RowID

		ports := func(conf dsdb.RowID) int {
			g := graph(conf)
			u, ok := g.UnitByName("RF_32")
			Expect(ok).To(BeTrue())
			return len(g.Unit(u).Ports)
		}

		BeforeEach(func() {
			pruned := run(stages.PruneUnusedUnits, start, nil)
			wide = run(stages.VLIWConnectIC, pruned[0], nil)[0]
		})

		It("should merge register ports one at a time down to the stop count", func() {
			ids := run(stages.RFPortMergeMinimizer, wide, nil)

			prev := ports(wide)
			for _, id := range ids {
				n := ports(id)
				Expect(n).To(Equal(prev - 1))
				Expect(graph(id).Validate()).To(Succeed())
				prev = n
			}
			Expect(prev).To(Equal(2))
		})

		It("should stop at stop_port_count", func() {
			ids := run(stages.RFPortMergeMinimizer, wide, explore.Params{"stop_port_count": "5"})
			Expect(ports(ids[len(ids)-1])).To(Equal(5))
		})

		It("should pass the input on when every merge exceeds the cycle threshold", func() {
			ids := run(stages.RFPortMergeMinimizer, wide, explore.Params{"cc_threshold": "1"})
			Expect(ids).To(Equal([]dsdb.RowID{wide}))
		})

		It("should only touch the named register files", func() {
			ids := run(stages.RFPortMergeMinimizer, wide, explore.Params{"rf_to_merge": "RF_64"})
			Expect(ids).To(Equal([]dsdb.RowID{wide}))
		})
	})

	Describe("Recovery", func() {
		names := []string{
			stages.PruneUnusedUnits,
			stages.VLIWConnectIC,
			stages.FUMergeMinimizer,
			stages.BusMergeMinimizer,
			stages.RFPortMergeMinimizer,
			stages.ShortImmediateOptimizer,
			stages.ImmediateGenerator,
		}

		It("should retry register port merging while ports remain", func() {
			g := graph(start)
			Expect(stages.Recovery().Route(ctx, g, names)).To(Equal(4))
		})

		It("should retry bus merging once register files are down to two ports", func() {
			g := graph(start)
			rf, ok := g.UnitByName("RF")
			Expect(ok).To(BeTrue())
			p, ok := g.PortByName(rf, "R1")
			Expect(ok).To(BeTrue())
			g.DeletePort(p)

			Expect(stages.Recovery().Route(ctx, g, names)).To(Equal(3))
		})

		It("should backtrack when the pipeline lacks the stage", func() {
			g := graph(start)
			Expect(stages.Recovery().Route(ctx, g, names[:3])).To(Equal(2))
		})
	})

	Describe("FUMergeMinimizer", func() {
		It("should fold down to a single plain unit", func() {
			pruned := run(stages.PruneUnusedUnits, start, nil)
			ids := run(stages.FUMergeMinimizer, pruned[0], explore.Params{"num_lsu": "1"})
			Expect(ids).To(HaveLen(1))

			g := graph(ids[0])
			Expect(g.FunctionUnits()).To(HaveLen(1))
			u := g.Unit(g.FunctionUnits()[0])
			Expect(u.HasOperation("mul")).To(BeTrue())
			Expect(u.HasOperation("add")).To(BeTrue())
		})

		It("should keep protected units", func() {
			pruned := run(stages.PruneUnusedUnits, start, nil)
			ids := run(stages.FUMergeMinimizer, pruned[0], explore.Params{"dont_merge": "MUL"})
			Expect(ids).To(Equal(pruned))
		})
	})

	Describe("BusMergeMinimizer", func() {
		It("should yield one candidate per fold with fewer buses each", func() {
			ids := run(stages.BusMergeMinimizer, start, nil)

			prev := len(graph(start).Buses())
			for _, id := range ids {
				n := len(graph(id).Buses())
				Expect(n).To(Equal(prev - 1))
				prev = n
			}

			counts, err := store.CycleCounts(ctx, dsdb.Configuration{ArchitectureID: 1})
			Expect(err).NotTo(HaveOccurred())
			Expect(counts).To(HaveLen(1))
		})

		It("should reuse stored architectures when a rerun folds the same way", func() {
			first := run(stages.BusMergeMinimizer, start, nil)
			again := run(stages.BusMergeMinimizer, start, nil)
			Expect(again).To(HaveLen(len(first)))

			for i := range first {
				Expect(again[i]).NotTo(Equal(first[i]))

				a, err := store.Configuration(ctx, first[i])
				Expect(err).NotTo(HaveOccurred())
				b, err := store.Configuration(ctx, again[i])
				Expect(err).NotTo(HaveOccurred())
				Expect(b.ArchitectureID).To(Equal(a.ArchitectureID))
			}
		})

		It("should never fold the carrier away", func() {
			ids := run(stages.BusMergeMinimizer, start, nil)
			for _, id := range ids {
				Expect(graph(id).Carriers()).To(HaveLen(1))
			}
		})
	})

	Describe("ShortImmediateOptimizer", func() {
		It("should spend the bit budget on the literals used", func() {
			ids := run(stages.ShortImmediateOptimizer, start, explore.Params{"total_bits": "4"})
			Expect(ids).To(HaveLen(1))

			g := graph(ids[0])
			sum := 0
			for _, b := range g.Buses() {
				sum += g.Bus(b).ImmWidth
			}
			Expect(sum).To(BeNumerically("<=", 4))
			Expect(sum).To(BeNumerically(">", 0))
		})

		It("should derive the budget from bits_per_bus", func() {
			ids := run(stages.ShortImmediateOptimizer, start, explore.Params{"total_bits": "100", "bits_per_bus": "1"})

			g := graph(ids[0])
			for _, b := range g.Buses() {
				Expect(g.Bus(b).ImmWidth).To(BeNumerically("<=", len(g.Buses())))
			}
		})

		It("should reject a negative budget", func() {
			s, err := reg.New(stages.ShortImmediateOptimizer)
			Expect(err).NotTo(HaveOccurred())

			_, err = s.Run(ctx, env, start, explore.Params{"total_bits": "-1"})
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("ImmediateGenerator", func() {
		It("should replace the long immediate template", func() {
			ids := run(stages.ImmediateGenerator, start, explore.Params{
				"remove_it_name": "limm",
				"add_it_name":    "limm32",
				"width":          "32",
			})

			g := graph(ids[0])
			var names []string
			for _, t := range g.Templates() {
				names = append(names, t.Name)
			}
			Expect(names).To(ConsistOf("no_limm", "limm32"))
			Expect(g.LongImmediateWidth()).To(Equal(32))
		})

		It("should reject a bad width", func() {
			s, err := reg.New(stages.ImmediateGenerator)
			Expect(err).NotTo(HaveOccurred())
			_, err = s.Run(ctx, env, start, explore.Params{"width": "0"})
			Expect(err).To(HaveOccurred())
		})
	})

	It("should explore the automatic pipeline end to end", func() {
		cfg := explore.DefaultConfig()
		cfg.ResultSize = 2

		e, err := explore.NewEngine(reg, stages.AutoPipeline(cfg), *env)
		Expect(err).NotTo(HaveOccurred())
		e.Recovery = stages.Recovery()

		res, err := e.Explore(ctx, start, cfg)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Configurations).To(HaveLen(2))

		for _, id := range res.Configurations {
			g := graph(id)
			Expect(g.Validate()).To(Succeed())
			Expect(g.FunctionUnits()).To(HaveLen(1))

			sum, err := explore.Describe(ctx, store, id)
			Expect(err).NotTo(HaveOccurred())
			Expect(sum.Cycles).To(BeNumerically(">", 0))
		}
	})
})
