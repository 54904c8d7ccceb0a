package machines

import (
	"fmt"
	"sort"

	"github.com/nikandfor/errors"

	"ttadse/internal/arch"
)

type VLIWOptions struct {
	// WipeRegisterFile replaces the register files (except 1-bit guard
	// files) with one file per width cluster, one port per bus.
	WipeRegisterFile bool
	ShortImmWidth    int
	// LongImmBuses is the number of socketless buses the limm template
	// spreads 32 bits over.
	LongImmBuses int
}

// registers of a generated register file; high enough to avoid spills.
const vliwRegisters = 512

// ConnectVLIW rebuilds the interconnect of a clone of g the VLIW way: every
// function unit port gets a bus of its own, results are bypassed onto every
// operand bus of the same width, and register file, immediate unit and
// control unit ports share one bus per width cluster. Widths below 32 bits
// join the 32-bit cluster.
func ConnectVLIW(g *arch.Graph, o VLIWOptions) (*arch.Graph, error) {
	if o.LongImmBuses < 0 || (o.LongImmBuses > 0 && 32%o.LongImmBuses != 0) {
		return nil, errors.New("long immediate bus count %d does not divide 32", o.LongImmBuses)
	}
	if o.ShortImmWidth < 0 {
		return nil, errors.New("negative short immediate width")
	}

	c := g.Clone()

	if o.WipeRegisterFile {
		for _, u := range c.UnitsOf(arch.RegisterFile) {
			if c.Unit(u).Width == 1 {
				continue
			}
			if err := c.DeleteUnit(u); err != nil {
				return nil, err
			}
		}
	}

	for _, s := range c.Sockets() {
		if c.Port(c.Socket(s).Port) == nil {
			c.DeleteSocket(s)
		}
	}

	cl := clusterSockets(c)

	for _, b := range c.Buses() {
		if err := c.DeleteBus(b); err != nil {
			return nil, err
		}
	}

	v := vliw{g: c}
	reads := make([][]arch.BusID, len(cl.widths))
	writes := make([][]arch.BusID, len(cl.widths))

	for i, w := range cl.widths {
		if i == 0 || len(cl.control[i]) != 0 {
			b := v.bus(w)
			v.attach(b, cl.control[i]...)
			reads[i] = append(reads[i], b)
			writes[i] = append(writes[i], b)
		}
		for _, s := range cl.reads[i] {
			b := v.bus(w)
			v.attach(b, s)
			reads[i] = append(reads[i], b)
		}
		for _, s := range cl.writes[i] {
			b := v.bus(w)
			v.attach(b, s)
			writes[i] = append(writes[i], b)
		}
	}

	if o.WipeRegisterFile {
		for i, w := range cl.widths {
			v.registerFile(w, reads[i], writes[i])
		}
	}

	v.connectRegisterFiles()

	for i := range cl.widths {
		for _, s := range cl.writes[i] {
			for _, b := range reads[i] {
				v.attach(b, s)
			}
		}
	}

	for _, iu := range c.UnitsOf(arch.ImmediateUnit) {
		for _, p := range c.Unit(iu).Ports {
			port := c.Port(p)
			if port.Input || port.Socket == arch.NoSocket {
				continue
			}
			for i, w := range cl.widths {
				if cluster(port.Width) == w {
					for _, b := range reads[i] {
						v.attach(b, port.Socket)
					}
				}
			}
		}
	}

	v.guards()

	for _, b := range c.Buses() {
		c.Bus(b).ImmWidth = o.ShortImmWidth
	}

	if ius := c.UnitsOf(arch.ImmediateUnit); len(ius) != 0 {
		c.ClearTemplates()
		if v.err == nil {
			v.err = c.AddTemplate(arch.Template{Name: "no_limm"})
		}

		limm := arch.Template{Name: "limm"}
		for i := 0; i < o.LongImmBuses; i++ {
			b := v.bus(32)
			limm.Slots = append(limm.Slots, arch.TemplateSlot{Bus: b, Width: 32 / o.LongImmBuses, Destination: ius[0]})
		}
		if v.err == nil && len(limm.Slots) != 0 {
			v.err = c.AddTemplate(limm)
		}
	}

	if v.err != nil {
		return nil, errors.Wrap(v.err, "vliw connect %v", g.Name)
	}

	c.Sweep()

	return c, nil
}

func cluster(width int) int {
	if width < 32 {
		return 32
	}
	return width
}

// sockets of one graph split by width cluster.
type clusters struct {
	widths  []int
	reads   [][]arch.SocketID // function unit operand sockets
	writes  [][]arch.SocketID // function unit result sockets
	control [][]arch.SocketID // everything else
}

func clusterSockets(g *arch.Graph) clusters {
	var cl clusters

	seen := make(map[int]bool)
	for _, s := range g.Sockets() {
		w := cluster(g.Port(g.Socket(s).Port).Width)
		if !seen[w] {
			seen[w] = true
			cl.widths = append(cl.widths, w)
		}
	}
	sort.Ints(cl.widths)

	index := make(map[int]int, len(cl.widths))
	for i, w := range cl.widths {
		index[w] = i
	}

	cl.reads = make([][]arch.SocketID, len(cl.widths))
	cl.writes = make([][]arch.SocketID, len(cl.widths))
	cl.control = make([][]arch.SocketID, len(cl.widths))

	for _, s := range g.Sockets() {
		p := g.Port(g.Socket(s).Port)
		i := index[cluster(p.Width)]
		switch {
		case g.Unit(p.Unit).Kind != arch.FunctionUnit:
			cl.control[i] = append(cl.control[i], s)
		case p.Input:
			cl.reads[i] = append(cl.reads[i], s)
		default:
			cl.writes[i] = append(cl.writes[i], s)
		}
	}

	return cl
}

// vliw keeps the first error so the rebuild reads straight.
type vliw struct {
	g   *arch.Graph
	err error
}

func (v *vliw) bus(width int) arch.BusID {
	if v.err != nil {
		return arch.NoBus
	}
	for n := 0; ; n++ {
		name := fmt.Sprintf("B%d", n)
		if _, ok := v.g.BusByName(name); ok {
			continue
		}
		id, err := v.g.AddBus(name, width, 0)
		v.err = err
		return id
	}
}

// attach connects sockets to the first segment of b.
func (v *vliw) attach(b arch.BusID, socks ...arch.SocketID) {
	if v.err != nil || b == arch.NoBus {
		return
	}
	seg := v.g.Bus(b).Segments[0]
	for _, s := range socks {
		if v.err = v.g.Attach(s, seg); v.err != nil {
			return
		}
	}
}

// registerFile adds RF_<width> with a read port on every operand bus and a
// write port on every result bus.
func (v *vliw) registerFile(width int, reads, writes []arch.BusID) {
	if v.err != nil || len(reads)+len(writes) == 0 {
		return
	}

	rf, err := v.g.AddUnit(fmt.Sprintf("RF_%d", width), arch.RegisterFile)
	if err != nil {
		v.err = err
		return
	}
	u := v.g.Unit(rf)
	u.Registers = vliwRegisters
	u.Width = width

	for i, b := range reads {
		if _, v.err = v.g.AddConnectedPort(rf, fmt.Sprintf("R%d_%d", i, width), width, false, false, b); v.err != nil {
			return
		}
	}
	for i, b := range writes {
		if _, v.err = v.g.AddConnectedPort(rf, fmt.Sprintf("W%d_%d", i, width), width, true, false, b); v.err != nil {
			return
		}
	}
}

// connectRegisterFiles makes sure every register file can copy a register
// to itself: its first read and first write port share a bus.
func (v *vliw) connectRegisterFiles() {
	g := v.g
	for _, u := range g.UnitsOf(arch.RegisterFile) {
		r, w := arch.NoPort, arch.NoPort
		for _, p := range g.Unit(u).Ports {
			port := g.Port(p)
			switch {
			case port.Socket == arch.NoSocket:
			case port.Input && w == arch.NoPort:
				w = p
			case !port.Input && r == arch.NoPort:
				r = p
			}
		}
		if r == arch.NoPort || w == arch.NoPort {
			continue
		}

		rs, ws := g.Port(r).Socket, g.Port(w).Socket
		shared := false
		for _, b := range g.Buses() {
			if g.ConnectedTo(rs, b) && g.ConnectedTo(ws, b) {
				shared = true
				break
			}
		}
		if shared {
			continue
		}

		for _, b := range g.Buses() {
			if g.Bus(b).Width == g.Port(r).Width {
				v.attach(b, rs, ws)
				break
			}
		}
	}
}

// guards puts a plain and an inverted guard on every bus for registers 0
// and 1 of the 1-bit register file, or register 0 of the first register
// file when there is none.
func (v *vliw) guards() {
	g := v.g
	rfs := g.UnitsOf(arch.RegisterFile)
	if v.err != nil || len(rfs) == 0 {
		return
	}

	rf, regs := rfs[0], []int{0}
	for _, u := range rfs {
		if g.Unit(u).Width == 1 {
			rf, regs = u, []int{0, 1}
			break
		}
	}

	for _, b := range g.Buses() {
		for _, r := range regs {
			for _, inv := range []bool{false, true} {
				if v.err = g.AddGuard(arch.Guard{Bus: b, Unit: rf, Register: r, Inverted: inv}); v.err != nil {
					return
				}
			}
		}
	}
}
