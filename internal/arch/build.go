package arch

import (
	"github.com/nikandfor/errors"
)

// AddConnectedPort creates a port on unit, a fresh S_<n> socket bound to it
// and attaches the socket to the first segment of every given bus.
func (g *Graph) AddConnectedPort(unit UnitID, name string, width int, input, triggering bool, buses ...BusID) (PortID, error) {
	pid, err := g.AddPort(unit, name, width, input, triggering)
	if err != nil {
		return NoPort, err
	}
	sid, err := g.AddSocket(g.NewSocketName(), Unbound)
	if err != nil {
		return NoPort, err
	}
	if err := g.BindPort(pid, sid); err != nil {
		return NoPort, err
	}
	for _, b := range buses {
		bus := g.Bus(b)
		if bus == nil || len(bus.Segments) == 0 {
			return NoPort, errors.Wrap(ErrNotFound, "bus %d", b)
		}
		if err := g.Attach(sid, bus.Segments[0]); err != nil {
			return NoPort, err
		}
	}
	return pid, nil
}

// Validate checks handle consistency and per-kind name uniqueness.
func (g *Graph) Validate() error {
	names := make(map[string]bool)
	for _, id := range g.Buses() {
		b := g.buses[id]
		if names[b.Name] {
			return errors.Wrap(ErrDuplicateName, "bus %v", b.Name)
		}
		names[b.Name] = true
		for _, seg := range b.Segments {
			if s := g.Segment(seg); s == nil || s.Bus != id {
				return errors.New("bus %v: segment %d does not belong to it", b.Name, seg)
			}
		}
	}

	names = make(map[string]bool)
	for _, id := range g.Sockets() {
		s := g.sockets[id]
		if names[s.Name] {
			return errors.Wrap(ErrDuplicateName, "socket %v", s.Name)
		}
		names[s.Name] = true
		for _, seg := range s.Segments {
			if g.Segment(seg) == nil {
				return errors.Wrap(ErrNotFound, "socket %v: segment %d", s.Name, seg)
			}
		}
		if s.Port == NoPort {
			continue
		}
		p := g.Port(s.Port)
		if p == nil || p.Socket != id {
			return errors.New("socket %v: port back reference broken", s.Name)
		}
		if (p.Input && s.Direction != Input) || (!p.Input && s.Direction != Output) {
			return errors.Wrap(ErrDirection, "socket %v port %v", s.Name, p.Name)
		}
	}

	names = make(map[string]bool)
	for _, id := range g.Units() {
		u := g.units[id]
		if names[u.Name] {
			return errors.Wrap(ErrDuplicateName, "unit %v", u.Name)
		}
		names[u.Name] = true
		for _, pid := range u.Ports {
			if p := g.Port(pid); p == nil || p.Unit != id {
				return errors.New("unit %v: port %d does not belong to it", u.Name, pid)
			}
		}
		for _, op := range u.Operations {
			for _, b := range op.Bindings {
				if p := g.Port(b.Port); p == nil || p.Unit != id {
					return errors.Wrap(ErrNotFound, "operation %v.%v operand %d", u.Name, op.Name, b.Operand)
				}
			}
		}
	}

	return nil
}
