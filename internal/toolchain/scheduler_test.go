package toolchain_test

import (
	"context"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"ttadse/internal/arch"
	"ttadse/internal/dsdb"
	"ttadse/internal/machines"
	"ttadse/internal/profile"
	"ttadse/internal/toolchain"
)

func machine(buses int) *arch.Graph {
	o := machines.DefaultOptions()
	o.Buses = buses
	g, err := machines.Scalar(o)
	Expect(err).NotTo(HaveOccurred())
	return g
}

func addMul(lit int64) *toolchain.Workload {
	return &toolchain.Workload{
		Name:       "addmul",
		Iterations: 10,
		Ops: []toolchain.Op{
			{Name: "add", Literal: toolchain.Lit(lit)},
			{Name: "mul", Deps: []int{0}},
		},
	}
}

var _ = Describe("Schedule", func() {
	It("should place operations as early as dependencies allow", func() {
		prog, err := toolchain.Schedule(machine(4), addMul(5))
		Expect(err).NotTo(HaveOccurred())

		// add at 0, result at 1, mul at 2, result at 5
		Expect(prog.Instructions).To(HaveLen(6))
		Expect(prog.Instructions[0].Moves).To(HaveLen(2))
		Expect(prog.Instructions[1].Moves).To(HaveLen(1))
		Expect(prog.Instructions[2].Moves).To(HaveLen(3), "mul operands and the loop jump")
		Expect(prog.Instructions[5].Moves).To(HaveLen(1))
	})

	It("should move a short literal inline", func() {
		g := machine(4)
		prog, err := toolchain.Schedule(g, addMul(5))
		Expect(err).NotTo(HaveOccurred())

		var lits []profile.Move
		for _, ins := range prog.Instructions {
			for _, m := range ins.Moves {
				if m.Source.Immediate {
					lits = append(lits, m)
				}
			}
		}
		Expect(lits).To(HaveLen(2))
		Expect(lits[0].Source.Value).To(Equal(int64(5)))
		Expect(lits[0].Source.Unit).To(Equal(arch.NoUnit))
	})

	It("should take longer with fewer buses", func() {
		wide, err := toolchain.Schedule(machine(4), addMul(5))
		Expect(err).NotTo(HaveOccurred())
		narrow, err := toolchain.Schedule(machine(1), addMul(5))
		Expect(err).NotTo(HaveOccurred())

		Expect(narrow.Instructions).To(HaveLen(8))
		Expect(len(narrow.Instructions)).To(BeNumerically(">", len(wide.Instructions)))
	})

	It("should load wide literals through the immediate unit", func() {
		g := machine(4)
		prog, err := toolchain.Schedule(g, addMul(1000))
		Expect(err).NotTo(HaveOccurred())

		Expect(prog.Instructions[0].LongImmediate).To(BeTrue())
		Expect(prog.Instructions[0].Moves).To(BeEmpty())

		iu, _ := g.UnitByName("IU")
		var found bool
		for _, m := range prog.Instructions[1].Moves {
			if m.Source.Immediate && m.Source.Unit == iu {
				Expect(m.Source.Value).To(Equal(int64(1000)))
				found = true
			}
		}
		Expect(found).To(BeTrue())
	})

	It("should fail when no unit implements an operation", func() {
		w := &toolchain.Workload{Name: "div", Ops: []toolchain.Op{{Name: "div"}}}
		_, err := toolchain.Schedule(machine(4), w)
		Expect(err).To(MatchError(profile.ErrSchedule))
	})

	It("should fail when an operand port is unreachable", func() {
		g := machine(4)
		alu, _ := g.UnitByName("ALU")
		in2, _ := g.PortByName(alu, "in2")
		g.DeleteSocket(g.Port(in2).Socket)

		_, err := toolchain.Schedule(g, addMul(5))
		Expect(err).To(MatchError(profile.ErrSchedule))
	})

	It("should reject too many operands and dependency cycles", func() {
		w := &toolchain.Workload{Name: "bad", Ops: []toolchain.Op{
			{Name: "add"},
			{Name: "add"},
			{Name: "add", Deps: []int{0, 1}, Literal: toolchain.Lit(1)},
		}}
		_, err := toolchain.Schedule(machine(4), w)
		Expect(err).To(MatchError(profile.ErrSchedule))

		w = &toolchain.Workload{Name: "loop", Ops: []toolchain.Op{
			{Name: "add", Deps: []int{1}},
			{Name: "add", Deps: []int{0}},
		}}
		_, err = toolchain.Schedule(machine(4), w)
		Expect(err).To(MatchError(profile.ErrSchedule))
	})
})

var _ = Describe("Reference", func() {
	It("should run the loop body every iteration", func() {
		ref := toolchain.NewReference()
		ref.Add("mem:addmul", addMul(5))

		g := machine(4)
		w := dsdb.Workload{ID: 1, Name: "addmul", Path: "mem:addmul"}

		prog, err := ref.Schedule(context.Background(), g, w)
		Expect(err).NotTo(HaveOccurred())

		execs, cycles, err := ref.Simulate(context.Background(), g, w, prog)
		Expect(err).NotTo(HaveOccurred())
		Expect(cycles).To(Equal(uint64(60)))
		Expect(execs).To(HaveLen(6))
		Expect(execs).To(HaveEach(uint64(10)))
	})

	It("should read workloads from JSON files", func() {
		dir, err := os.MkdirTemp("", "workload")
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(os.RemoveAll, dir)

		path := filepath.Join(dir, "w.json")
		data := `{"name": "sum", "iterations": 4, "ops": [
			{"op": "ld32", "literal": 64},
			{"op": "add", "deps": [0], "literal": -1},
			{"op": "st32", "deps": [1]}
		]}`
		Expect(os.WriteFile(path, []byte(data), 0644)).To(Succeed())

		w, err := toolchain.ReadWorkload(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(w.Ops).To(HaveLen(3))
		Expect(*w.Ops[1].Literal).To(Equal(int64(-1)))

		ref := toolchain.NewReference()
		g := machine(2)
		prog, err := ref.Schedule(context.Background(), g, dsdb.Workload{Name: "sum", Path: path})
		Expect(err).NotTo(HaveOccurred())
		Expect(prog.Instructions).NotTo(BeEmpty())
	})

	It("should reject dependencies out of range", func() {
		_, err := toolchain.ParseWorkload([]byte(`{"name": "x", "ops": [{"op": "add", "deps": [3]}]}`))
		Expect(err).To(HaveOccurred())
	})

	It("should fingerprint workloads by content", func() {
		ctx := context.Background()
		ref := toolchain.NewReference()
		ref.Add("/v1.json", addMul(5))
		ref.Add("/v2.json", addMul(7))
		ref.Add("/v3.json", addMul(5))

		v1, err := ref.Fingerprint(ctx, dsdb.Workload{Name: "addmul", Path: "/v1.json"})
		Expect(err).NotTo(HaveOccurred())
		v2, err := ref.Fingerprint(ctx, dsdb.Workload{Name: "addmul", Path: "/v2.json"})
		Expect(err).NotTo(HaveOccurred())
		v3, err := ref.Fingerprint(ctx, dsdb.Workload{Name: "addmul", Path: "/v3.json"})
		Expect(err).NotTo(HaveOccurred())

		Expect(v1).NotTo(Equal(v2))
		Expect(v1).To(Equal(v3))

		var _ profile.Fingerprinter = ref
	})
})
