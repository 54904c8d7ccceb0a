package arch

import (
	"github.com/nikandfor/errors"
)

// DeleteSocket detaches the socket from its segments and its port.
func (g *Graph) DeleteSocket(id SocketID) {
	s := g.Socket(id)
	if s == nil {
		return
	}
	if p := g.Port(s.Port); p != nil && p.Socket == id {
		p.Socket = NoSocket
	}
	g.sockets[id] = nil
}

// DeletePort removes a port together with its socket. Operation bindings
// to the port are dropped.
func (g *Graph) DeletePort(id PortID) {
	p := g.Port(id)
	if p == nil {
		return
	}
	if p.Socket != NoSocket {
		g.DeleteSocket(p.Socket)
	}
	if u := g.Unit(p.Unit); u != nil {
		for i, x := range u.Ports {
			if x == id {
				u.Ports = append(u.Ports[:i], u.Ports[i+1:]...)
				break
			}
		}
		for i := range u.Operations {
			op := &u.Operations[i]
			kept := op.Bindings[:0]
			for _, b := range op.Bindings {
				if b.Port != id {
					kept = append(kept, b)
				}
			}
			op.Bindings = kept
		}
	}
	g.ports[id] = nil
}

// DeleteUnit removes a unit. Sockets exposing its ports go first, then the
// ports, guards reading its registers and template slots writing to it.
func (g *Graph) DeleteUnit(id UnitID) error {
	u := g.Unit(id)
	if u == nil {
		return errors.Wrap(ErrNotFound, "unit %d", id)
	}
	for _, p := range u.Ports {
		if s := g.ports[p].Socket; s != NoSocket {
			g.DeleteSocket(s)
		}
	}
	for _, p := range u.Ports {
		g.ports[p] = nil
	}

	kept := g.guards[:0]
	for _, gd := range g.guards {
		if gd.Unit != id {
			kept = append(kept, gd)
		}
	}
	g.guards = kept

	for i := range g.templates {
		t := &g.templates[i]
		slots := t.Slots[:0]
		for _, s := range t.Slots {
			if s.Destination != id {
				slots = append(slots, s)
			}
		}
		t.Slots = slots
	}

	g.units[id] = nil
	return nil
}

// DeleteBus removes a bus and its segments, guards and template slots.
// Sockets stay, detached from the bus; Sweep removes the ones left dangling.
func (g *Graph) DeleteBus(id BusID) error {
	b := g.Bus(id)
	if b == nil {
		return errors.Wrap(ErrNotFound, "bus %d", id)
	}
	for _, seg := range b.Segments {
		for _, s := range g.Sockets() {
			g.Detach(s, seg)
		}
		g.segments[seg] = nil
	}

	kept := g.guards[:0]
	for _, gd := range g.guards {
		if gd.Bus != id {
			kept = append(kept, gd)
		}
	}
	g.guards = kept

	for i := range g.templates {
		t := &g.templates[i]
		slots := t.Slots[:0]
		for _, s := range t.Slots {
			if s.Bus != id {
				slots = append(slots, s)
			}
		}
		t.Slots = slots
	}

	g.buses[id] = nil
	return nil
}

// danglingSocket: no port, or attached to nothing.
func (g *Graph) danglingSocket(id SocketID) bool {
	s := g.sockets[id]
	return s.Port == NoPort || g.Port(s.Port) == nil || len(s.Segments) == 0
}

// danglingBus: nothing reads from it, or nothing writes to it while it
// carries no immediates either. Long-immediate carriers are kept.
func (g *Graph) danglingBus(id BusID) bool {
	if g.IsCarrier(id) {
		return false
	}
	var readers, writers int
	for _, s := range g.SocketsOn(id) {
		switch g.sockets[s].Direction {
		case Input:
			readers++
		case Output:
			writers++
		}
	}
	if readers == 0 {
		return true
	}
	return writers == 0 && g.buses[id].ImmWidth == 0
}

// Sweep removes dangling sockets and buses until nothing changes. A
// register file or immediate unit port left without a socket is removed as
// well. It returns the number of removed resources.
func (g *Graph) Sweep() int {
	removed := 0
	for {
		n := 0
		for _, s := range g.Sockets() {
			if !g.danglingSocket(s) {
				continue
			}
			port := g.sockets[s].Port
			g.DeleteSocket(s)
			if p := g.Port(port); p != nil {
				if k := g.units[p.Unit].Kind; k == RegisterFile || k == ImmediateUnit {
					g.DeletePort(port)
				}
			}
			n++
		}
		for _, b := range g.Buses() {
			if g.danglingBus(b) {
				_ = g.DeleteBus(b)
				n++
			}
		}
		if n == 0 {
			return removed
		}
		removed += n
	}
}

// DedupeRegisterFileSockets drops register file sockets (and their ports)
// that duplicate another socket of the same file: same direction, same set
// of connected buses.
func (g *Graph) DedupeRegisterFileSockets() int {
	removed := 0
	socks := g.Sockets()
	for i, a := range socks {
		sa := g.sockets[a]
		if sa == nil || sa.Port == NoPort {
			continue
		}
		pa := g.ports[sa.Port]
		if g.units[pa.Unit].Kind != RegisterFile {
			continue
		}
		for _, b := range socks[i+1:] {
			sb := g.sockets[b]
			if sb == nil || sb.Port == NoPort || sb.Direction != sa.Direction {
				continue
			}
			pb := g.ports[sb.Port]
			if pb.Unit != pa.Unit {
				continue
			}
			if !g.sameBuses(a, b) {
				continue
			}
			g.DeletePort(sb.Port)
			removed++
		}
	}
	return removed
}

func (g *Graph) sameBuses(a, b SocketID) bool {
	for _, bus := range g.Buses() {
		if g.ConnectedTo(a, bus) != g.ConnectedTo(b, bus) {
			return false
		}
	}
	return true
}

// MoveGuards retargets the guards of bus from onto bus to. Guards that
// would duplicate one already on to are dropped.
func (g *Graph) MoveGuards(from, to BusID) {
	onTo := make(map[Guard]bool)
	for _, gd := range g.guards {
		if gd.Bus == to {
			onTo[gd] = true
		}
	}

	var kept []Guard
	for _, gd := range g.guards {
		if gd.Bus == from {
			gd.Bus = to
			if onTo[gd] {
				continue
			}
			onTo[gd] = true
		}
		kept = append(kept, gd)
	}
	g.guards = kept
}
