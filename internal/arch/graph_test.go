package arch_test

import (
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"ttadse/internal/arch"
	"ttadse/internal/machines"
)

var _ = Describe("Graph", func() {
	var g *arch.Graph

	BeforeEach(func() {
		var err error
		g, err = machines.Scalar(machines.DefaultOptions())
		Expect(err).NotTo(HaveOccurred())
	})

	It("should build a valid machine", func() {
		Expect(g.Validate()).To(Succeed())
		Expect(g.Buses()).To(HaveLen(4))
		Expect(g.FunctionUnits()).To(HaveLen(3))
		Expect(g.Carriers()).To(HaveLen(1))
		Expect(g.LongImmediateWidth()).To(Equal(32))
	})

	It("should reject duplicate names", func() {
		_, err := g.AddBus("B0", 32, 0)
		Expect(err).To(MatchError(arch.ErrDuplicateName))

		_, err = g.AddUnit("ALU", arch.FunctionUnit)
		Expect(err).To(MatchError(arch.ErrDuplicateName))

		alu, _ := g.UnitByName("ALU")
		_, err = g.AddPort(alu, "in2", 32, true, false)
		Expect(err).To(MatchError(arch.ErrDuplicateName))

		Expect(g.AddTemplate(arch.Template{Name: "limm"})).To(MatchError(arch.ErrDuplicateName))
	})

	It("should keep socket directions fixed", func() {
		alu, _ := g.UnitByName("ALU")
		out, _ := g.PortByName(alu, "out1")
		in, _ := g.PortByName(alu, "in2")

		sock := g.Port(in).Socket
		Expect(g.Socket(sock).Direction).To(Equal(arch.Input))
		Expect(g.BindPort(out, sock)).To(MatchError(arch.ErrDirection))
	})

	Describe("DeleteUnit", func() {
		It("should remove the unit sockets and ports", func() {
			alu, _ := g.UnitByName("ALU")
			sockets := len(g.Sockets())
			ports := len(g.Unit(alu).Ports)

			Expect(g.DeleteUnit(alu)).To(Succeed())
			Expect(g.Unit(alu)).To(BeNil())
			Expect(g.Sockets()).To(HaveLen(sockets - ports))
			Expect(g.Validate()).To(Succeed())

			_, ok := g.UnitByName("ALU")
			Expect(ok).To(BeFalse())
		})

		It("should drop template slots writing to it", func() {
			iu, _ := g.UnitByName("IU")
			Expect(g.DeleteUnit(iu)).To(Succeed())
			Expect(g.Carriers()).To(BeEmpty())
		})
	})

	Describe("DeleteBus", func() {
		It("should detach every socket and drop its template slots", func() {
			b0, _ := g.BusByName("B0")
			Expect(g.DeleteBus(b0)).To(Succeed())

			for _, s := range g.Sockets() {
				Expect(g.ConnectedTo(s, b0)).To(BeFalse())
			}
			Expect(g.IsCarrier(b0)).To(BeFalse())
			Expect(g.Guards()).To(BeEmpty())
			Expect(g.Validate()).To(Succeed())
		})
	})

	Describe("Sweep", func() {
		It("should remove a bus nobody reads", func() {
			b, err := g.AddBus("extra", 32, 0)
			Expect(err).NotTo(HaveOccurred())

			rf, _ := g.UnitByName("RF")
			_, err = g.AddConnectedPort(rf, "R9", 32, false, false, b)
			Expect(err).NotTo(HaveOccurred())

			Expect(g.Sweep()).To(BeNumerically(">", 0))
			Expect(g.Bus(b)).To(BeNil())

			_, ok := g.PortByName(rf, "R9")
			Expect(ok).To(BeFalse(), "register file port left without a socket is removed")
			Expect(g.Validate()).To(Succeed())
		})

		It("should keep long immediate carriers", func() {
			b0, _ := g.BusByName("B0")
			for _, s := range g.SocketsOn(b0) {
				if g.Socket(s).Direction == arch.Input {
					g.Detach(s, g.Bus(b0).Segments[0])
				}
			}

			g.Sweep()
			Expect(g.Bus(b0)).NotTo(BeNil())
		})

		It("should remove sockets attached to nothing", func() {
			alu, _ := g.UnitByName("ALU")
			in, _ := g.PortByName(alu, "in2")
			sock := g.Port(in).Socket
			for _, seg := range append([]arch.SegmentID(nil), g.Socket(sock).Segments...) {
				g.Detach(sock, seg)
			}

			Expect(g.Sweep()).To(Equal(1))
			Expect(g.Socket(sock)).To(BeNil())
			Expect(g.Port(in).Socket).To(Equal(arch.NoSocket))
		})

		It("should be a no-op on a clean machine", func() {
			Expect(g.Sweep()).To(Equal(0))
		})
	})

	It("should drop duplicate register file sockets", func() {
		rf, _ := g.UnitByName("RF")
		before := len(g.Unit(rf).Ports)

		Expect(g.DedupeRegisterFileSockets()).To(Equal(1), "R0 and R1 touch the same buses")
		Expect(g.Unit(rf).Ports).To(HaveLen(before - 1))
	})

	Describe("Clone", func() {
		It("should not share state with the original", func() {
			c := g.Clone()
			b1, _ := c.BusByName("B1")
			Expect(c.DeleteBus(b1)).To(Succeed())
			c.Unit(0).Name = "renamed"

			Expect(g.Bus(b1)).NotTo(BeNil())
			Expect(g.Unit(0).Name).To(Equal("RF"))
			Expect(arch.Equal(g, c)).To(BeFalse())
		})

		It("should be structurally equal", func() {
			Expect(arch.Equal(g, g.Clone())).To(BeTrue())
		})
	})

	It("should render DOT", func() {
		dot := g.DOT()
		Expect(dot).To(HavePrefix("digraph TTA {"))
		Expect(dot).To(ContainSubstring("(limm)"))
		Expect(strings.Count(dot, "shape=record")).To(Equal(len(g.Units())))
	})
})
