package merge

import (
	"fmt"
	"sort"

	"ttadse/internal/arch"
	"ttadse/internal/profile"
)

type units struct{}

func (units) ids(g *arch.Graph) []int {
	var out []int
	for _, u := range g.FunctionUnits() {
		out = append(out, int(u))
	}
	return out
}

func (units) name(g *arch.Graph, id int) string {
	return g.Unit(arch.UnitID(id)).Name
}

func (units) compatible(g *arch.Graph, a, b int, o Options) bool {
	x, y := g.Unit(arch.UnitID(a)), g.Unit(arch.UnitID(b))
	if o.DontMerge[x.Name] || o.DontMerge[y.Name] {
		return false
	}
	if portWidth(g, x) != portWidth(g, y) {
		return false
	}
	if x.IsLSU() != y.IsLSU() {
		return false
	}
	if x.IsLSU() {
		return x.AddressSpace == y.AddressSpace && lsuCount(g) > o.MinLSUs
	}
	return true
}

func (units) score(st *profile.Statistics, i, j int) float64 {
	if i >= st.UnitActivity.N || j >= st.UnitActivity.N {
		return 0
	}
	return st.UnitActivity.At(i, j)
}

// fold gives a every operation of b it lacks, then removes b together with
// buses that are left serving register files only.
func (units) fold(g *arch.Graph, a, b int) error {
	ida, idb := arch.UnitID(a), arch.UnitID(b)
	x, y := g.Unit(ida), g.Unit(idb)
	if x.IsLSU() != y.IsLSU() {
		return ErrIncompatible
	}
	if x.IsLSU() && x.AddressSpace != y.AddressSpace {
		return ErrIncompatible
	}

	for i := range y.Operations {
		if x.HasOperation(y.Operations[i].Name) {
			continue
		}
		if err := copyOperation(g, ida, &y.Operations[i]); err != nil {
			return err
		}
	}

	if err := g.DeleteUnit(idb); err != nil {
		return err
	}

	return removeRegisterOnlyBuses(g)
}

// copyOperation rebinds op onto unit u. Ports of u are reused where the
// kind matches and the port is free in op; otherwise a new port is made
// on the buses the original port used.
func copyOperation(g *arch.Graph, u arch.UnitID, from *arch.Operation) error {
	op := arch.Operation{
		Name:     from.Name,
		Latency:  from.Latency,
		Vector:   from.Vector,
		Pipeline: append([]arch.PipelineUse(nil), from.Pipeline...),
	}

	bindings := append([]arch.Binding(nil), from.Bindings...)
	sort.Slice(bindings, func(i, j int) bool { return bindings[i].Operand < bindings[j].Operand })

	for _, bind := range bindings {
		src := g.Port(bind.Port)
		if src == nil {
			continue
		}

		p := matchPort(g, u, src, &op)
		if p == arch.NoPort {
			var err error
			p, err = newPort(g, u, src)
			if err != nil {
				return err
			}
		} else if err := reusePort(g, p, src); err != nil {
			return err
		}

		op.Bindings = append(op.Bindings, arch.Binding{Operand: bind.Operand, Port: p})
	}

	return g.AddOperation(u, op)
}

func matchPort(g *arch.Graph, u arch.UnitID, src *arch.Port, op *arch.Operation) arch.PortID {
	for _, id := range g.Unit(u).Ports {
		p := g.Port(id)
		if op.IsBound(id) || p.Input != src.Input {
			continue
		}
		if p.Input && p.Triggering != src.Triggering {
			continue
		}
		return id
	}
	return arch.NoPort
}

// reusePort widens p when needed and makes sure it can still reach a
// register file through the buses src used.
func reusePort(g *arch.Graph, id arch.PortID, src *arch.Port) error {
	p := g.Port(id)
	if src.Width > p.Width {
		p.Width = src.Width
	}

	from := g.Socket(src.Socket)
	if from == nil {
		return nil
	}

	if p.Socket == arch.NoSocket {
		return connect(g, id, from.Segments)
	}
	if reachesRegisters(g, p.Socket) {
		return nil
	}

	for _, seg := range from.Segments {
		if !busHasRegisters(g, g.Segment(seg).Bus) {
			continue
		}
		if err := g.Attach(p.Socket, seg); err != nil {
			return err
		}
	}
	return nil
}

func newPort(g *arch.Graph, u arch.UnitID, src *arch.Port) (arch.PortID, error) {
	var name string
	for n := 1; ; n++ {
		if src.Input {
			_, plain := g.PortByName(u, fmt.Sprintf("in%d", n))
			_, trig := g.PortByName(u, fmt.Sprintf("in%dt", n))
			if plain || trig {
				continue
			}
			name = fmt.Sprintf("in%d", n)
			if src.Triggering {
				name += "t"
			}
		} else {
			name = fmt.Sprintf("out%d", n)
			if _, ok := g.PortByName(u, name); ok {
				continue
			}
		}
		break
	}

	id, err := g.AddPort(u, name, src.Width, src.Input, src.Triggering)
	if err != nil {
		return arch.NoPort, err
	}

	var segs []arch.SegmentID
	if s := g.Socket(src.Socket); s != nil {
		segs = s.Segments
	}
	if err := connect(g, id, segs); err != nil {
		return arch.NoPort, err
	}

	return id, nil
}

func connect(g *arch.Graph, port arch.PortID, segs []arch.SegmentID) error {
	sock, err := g.AddSocket(g.NewSocketName(), arch.Unbound)
	if err != nil {
		return err
	}
	if err := g.BindPort(port, sock); err != nil {
		return err
	}
	for _, seg := range segs {
		if err := g.Attach(sock, seg); err != nil {
			return err
		}
	}
	return nil
}

func reachesRegisters(g *arch.Graph, sock arch.SocketID) bool {
	for _, seg := range g.Socket(sock).Segments {
		if busHasRegisters(g, g.Segment(seg).Bus) {
			return true
		}
	}
	return false
}

func busHasRegisters(g *arch.Graph, bus arch.BusID) bool {
	for _, s := range g.SocketsOn(bus) {
		if p := g.Port(g.Socket(s).Port); p != nil && g.Unit(p.Unit).Kind == arch.RegisterFile {
			return true
		}
	}
	return false
}

// removeRegisterOnlyBuses drops buses whose every socket belongs to a
// register file. Long immediate carriers stay.
func removeRegisterOnlyBuses(g *arch.Graph) error {
	for _, b := range g.Buses() {
		if g.IsCarrier(b) {
			continue
		}
		socks := g.SocketsOn(b)
		if len(socks) == 0 {
			continue
		}
		only := true
		for _, s := range socks {
			p := g.Port(g.Socket(s).Port)
			if p == nil || g.Unit(p.Unit).Kind != arch.RegisterFile {
				only = false
				break
			}
		}
		if !only {
			continue
		}
		if err := g.DeleteBus(b); err != nil {
			return err
		}
	}
	return nil
}

func portWidth(g *arch.Graph, u *arch.Unit) int {
	w := 0
	for _, p := range u.Ports {
		if x := g.Port(p); x != nil && x.Width > w {
			w = x.Width
		}
	}
	return w
}

func lsuCount(g *arch.Graph) int {
	n := 0
	for _, u := range g.FunctionUnits() {
		if g.Unit(u).IsLSU() {
			n++
		}
	}
	return n
}
