package arch

import (
	"strconv"

	"github.com/nikandfor/errors"
)

var (
	ErrDuplicateName = errors.New("duplicate resource name")
	ErrNotFound      = errors.New("resource not found")
	ErrDirection     = errors.New("socket direction mismatch")
)

// Graph is an architecture: resources in per-kind arenas cross-referenced
// by handles. A nil arena slot is a deleted resource.
type Graph struct {
	Name string

	buses     []*Bus
	segments  []*Segment
	sockets   []*Socket
	ports     []*Port
	units     []*Unit
	guards    []Guard
	templates []Template
}

func New(name string) *Graph {
	return &Graph{Name: name}
}

func (g *Graph) Bus(id BusID) *Bus {
	if id < 0 || int(id) >= len(g.buses) {
		return nil
	}
	return g.buses[id]
}

func (g *Graph) Segment(id SegmentID) *Segment {
	if id < 0 || int(id) >= len(g.segments) {
		return nil
	}
	return g.segments[id]
}

func (g *Graph) Socket(id SocketID) *Socket {
	if id < 0 || int(id) >= len(g.sockets) {
		return nil
	}
	return g.sockets[id]
}

func (g *Graph) Port(id PortID) *Port {
	if id < 0 || int(id) >= len(g.ports) {
		return nil
	}
	return g.ports[id]
}

func (g *Graph) Unit(id UnitID) *Unit {
	if id < 0 || int(id) >= len(g.units) {
		return nil
	}
	return g.units[id]
}

// Buses returns live buses in position order.
func (g *Graph) Buses() []BusID {
	ids := make([]BusID, 0, len(g.buses))
	for i, b := range g.buses {
		if b != nil {
			ids = append(ids, BusID(i))
		}
	}
	return ids
}

func (g *Graph) Sockets() []SocketID {
	ids := make([]SocketID, 0, len(g.sockets))
	for i, s := range g.sockets {
		if s != nil {
			ids = append(ids, SocketID(i))
		}
	}
	return ids
}

func (g *Graph) Units() []UnitID {
	ids := make([]UnitID, 0, len(g.units))
	for i, u := range g.units {
		if u != nil {
			ids = append(ids, UnitID(i))
		}
	}
	return ids
}

// UnitsOf returns live units of the given kind in position order.
func (g *Graph) UnitsOf(kind UnitKind) []UnitID {
	var ids []UnitID
	for i, u := range g.units {
		if u != nil && u.Kind == kind {
			ids = append(ids, UnitID(i))
		}
	}
	return ids
}

// FunctionUnits returns the plain and load/store function units. The
// control unit is not part of this list.
func (g *Graph) FunctionUnits() []UnitID {
	return g.UnitsOf(FunctionUnit)
}

func (g *Graph) Guards() []Guard {
	return g.guards
}

func (g *Graph) Templates() []Template {
	return g.templates
}

// BusPositions maps live bus handles to their ordinal.
func (g *Graph) BusPositions() map[BusID]int {
	pos := make(map[BusID]int)
	for i, id := range g.Buses() {
		pos[id] = i
	}
	return pos
}

// UnitPositions maps live function units to their ordinal among FunctionUnits.
func (g *Graph) UnitPositions() map[UnitID]int {
	pos := make(map[UnitID]int)
	for i, id := range g.FunctionUnits() {
		pos[id] = i
	}
	return pos
}

// RegisterPorts returns the ports of every register file, file by file in
// position order.
func (g *Graph) RegisterPorts() []PortID {
	var ids []PortID
	for _, u := range g.UnitsOf(RegisterFile) {
		ids = append(ids, g.units[u].Ports...)
	}
	return ids
}

func (g *Graph) RegisterPortPositions() map[PortID]int {
	pos := make(map[PortID]int)
	for i, id := range g.RegisterPorts() {
		pos[id] = i
	}
	return pos
}

func (g *Graph) BusByName(name string) (BusID, bool) {
	for i, b := range g.buses {
		if b != nil && b.Name == name {
			return BusID(i), true
		}
	}
	return NoBus, false
}

func (g *Graph) SocketByName(name string) (SocketID, bool) {
	for i, s := range g.sockets {
		if s != nil && s.Name == name {
			return SocketID(i), true
		}
	}
	return NoSocket, false
}

func (g *Graph) UnitByName(name string) (UnitID, bool) {
	for i, u := range g.units {
		if u != nil && u.Name == name {
			return UnitID(i), true
		}
	}
	return NoUnit, false
}

// PortByName looks a port up within its unit; port names are unit-local.
func (g *Graph) PortByName(unit UnitID, name string) (PortID, bool) {
	u := g.Unit(unit)
	if u == nil {
		return NoPort, false
	}
	for _, p := range u.Ports {
		if g.ports[p].Name == name {
			return p, true
		}
	}
	return NoPort, false
}

func (g *Graph) SegmentByName(bus BusID, name string) (SegmentID, bool) {
	b := g.Bus(bus)
	if b == nil {
		return NoSegment, false
	}
	for _, s := range b.Segments {
		if g.segments[s].Name == name {
			return s, true
		}
	}
	return NoSegment, false
}

// AddBus creates a bus with a single segment named "seg1".
func (g *Graph) AddBus(name string, width, immWidth int) (BusID, error) {
	if _, ok := g.BusByName(name); ok {
		return NoBus, errors.Wrap(ErrDuplicateName, "bus %v", name)
	}
	id := BusID(len(g.buses))
	g.buses = append(g.buses, &Bus{Name: name, Width: width, ImmWidth: immWidth, SignExtends: true})
	if _, err := g.AddSegment(id, "seg1"); err != nil {
		return NoBus, err
	}
	return id, nil
}

func (g *Graph) AddSegment(bus BusID, name string) (SegmentID, error) {
	b := g.Bus(bus)
	if b == nil {
		return NoSegment, errors.Wrap(ErrNotFound, "bus %d", bus)
	}
	if _, ok := g.SegmentByName(bus, name); ok {
		return NoSegment, errors.Wrap(ErrDuplicateName, "segment %v/%v", b.Name, name)
	}
	id := SegmentID(len(g.segments))
	g.segments = append(g.segments, &Segment{Name: name, Bus: bus})
	b.Segments = append(b.Segments, id)
	return id, nil
}

func (g *Graph) AddUnit(name string, kind UnitKind) (UnitID, error) {
	if _, ok := g.UnitByName(name); ok {
		return NoUnit, errors.Wrap(ErrDuplicateName, "unit %v", name)
	}
	id := UnitID(len(g.units))
	g.units = append(g.units, &Unit{Name: name, Kind: kind})
	return id, nil
}

// RenameUnit gives a unit a new, unused name.
func (g *Graph) RenameUnit(id UnitID, name string) error {
	u := g.Unit(id)
	if u == nil {
		return errors.Wrap(ErrNotFound, "unit %d", id)
	}
	if other, ok := g.UnitByName(name); ok && other != id {
		return errors.Wrap(ErrDuplicateName, "unit %v", name)
	}
	u.Name = name
	return nil
}

func (g *Graph) AddPort(unit UnitID, name string, width int, input, triggering bool) (PortID, error) {
	u := g.Unit(unit)
	if u == nil {
		return NoPort, errors.Wrap(ErrNotFound, "unit %d", unit)
	}
	if _, ok := g.PortByName(unit, name); ok {
		return NoPort, errors.Wrap(ErrDuplicateName, "port %v.%v", u.Name, name)
	}
	id := PortID(len(g.ports))
	g.ports = append(g.ports, &Port{
		Name:       name,
		Unit:       unit,
		Width:      width,
		Input:      input,
		Triggering: triggering,
		Socket:     NoSocket,
	})
	u.Ports = append(u.Ports, id)
	return id, nil
}

func (g *Graph) AddSocket(name string, dir Direction) (SocketID, error) {
	if _, ok := g.SocketByName(name); ok {
		return NoSocket, errors.Wrap(ErrDuplicateName, "socket %v", name)
	}
	id := SocketID(len(g.sockets))
	g.sockets = append(g.sockets, &Socket{Name: name, Direction: dir, Port: NoPort})
	return id, nil
}

// NewSocketName returns the first free name of the form S_<n>.
func (g *Graph) NewSocketName() string {
	for i := 0; ; i++ {
		name := "S_" + strconv.Itoa(i)
		if _, ok := g.SocketByName(name); !ok {
			return name
		}
	}
}

// BindPort connects port and socket. An unbound socket takes the direction
// implied by the port; a bound one must agree with it.
func (g *Graph) BindPort(port PortID, sock SocketID) error {
	p, s := g.Port(port), g.Socket(sock)
	if p == nil || s == nil {
		return errors.Wrap(ErrNotFound, "bind port %d socket %d", port, sock)
	}
	dir := Output
	if p.Input {
		dir = Input
	}
	if s.Direction != Unbound && s.Direction != dir {
		return errors.Wrap(ErrDirection, "socket %v is %v, port %v wants %v", s.Name, s.Direction, p.Name, dir)
	}
	if s.Port != NoPort && s.Port != port {
		if old := g.Port(s.Port); old != nil {
			old.Socket = NoSocket
		}
	}
	if p.Socket != NoSocket && p.Socket != sock {
		if old := g.Socket(p.Socket); old != nil {
			old.Port = NoPort
		}
	}
	s.Direction = dir
	s.Port = port
	p.Socket = sock
	return nil
}

// Attach connects a socket to a segment. Attaching twice is a no-op.
func (g *Graph) Attach(sock SocketID, seg SegmentID) error {
	s := g.Socket(sock)
	if s == nil || g.Segment(seg) == nil {
		return errors.Wrap(ErrNotFound, "attach socket %d segment %d", sock, seg)
	}
	if g.IsAttached(sock, seg) {
		return nil
	}
	s.Segments = append(s.Segments, seg)
	return nil
}

func (g *Graph) Detach(sock SocketID, seg SegmentID) {
	s := g.Socket(sock)
	if s == nil {
		return
	}
	for i, x := range s.Segments {
		if x == seg {
			s.Segments = append(s.Segments[:i], s.Segments[i+1:]...)
			return
		}
	}
}

func (g *Graph) IsAttached(sock SocketID, seg SegmentID) bool {
	s := g.Socket(sock)
	if s == nil {
		return false
	}
	for _, x := range s.Segments {
		if x == seg {
			return true
		}
	}
	return false
}

// ConnectedTo reports whether the socket touches any segment of bus.
func (g *Graph) ConnectedTo(sock SocketID, bus BusID) bool {
	s := g.Socket(sock)
	if s == nil {
		return false
	}
	for _, seg := range s.Segments {
		if g.segments[seg].Bus == bus {
			return true
		}
	}
	return false
}

// SocketsOn returns the live sockets attached to any segment of bus.
func (g *Graph) SocketsOn(bus BusID) []SocketID {
	var out []SocketID
	for _, id := range g.Sockets() {
		if g.ConnectedTo(id, bus) {
			out = append(out, id)
		}
	}
	return out
}

// AddOperation adds op to a function unit. Bindings must name ports of u.
func (g *Graph) AddOperation(unit UnitID, op Operation) error {
	u := g.Unit(unit)
	if u == nil {
		return errors.Wrap(ErrNotFound, "unit %d", unit)
	}
	if u.HasOperation(op.Name) {
		return errors.Wrap(ErrDuplicateName, "operation %v.%v", u.Name, op.Name)
	}
	for _, b := range op.Bindings {
		p := g.Port(b.Port)
		if p == nil || p.Unit != unit {
			return errors.Wrap(ErrNotFound, "operation %v.%v operand %d port %d", u.Name, op.Name, b.Operand, b.Port)
		}
	}
	u.Operations = append(u.Operations, op.clone())
	return nil
}

func (g *Graph) AddGuard(gd Guard) error {
	if g.Bus(gd.Bus) == nil || g.Unit(gd.Unit) == nil {
		return errors.Wrap(ErrNotFound, "guard on bus %d unit %d", gd.Bus, gd.Unit)
	}
	g.guards = append(g.guards, gd)
	return nil
}

func (g *Graph) AddTemplate(t Template) error {
	for _, x := range g.templates {
		if x.Name == t.Name {
			return errors.Wrap(ErrDuplicateName, "template %v", t.Name)
		}
	}
	for _, s := range t.Slots {
		if g.Bus(s.Bus) == nil {
			return errors.Wrap(ErrNotFound, "template %v slot bus %d", t.Name, s.Bus)
		}
	}
	t.Slots = append([]TemplateSlot(nil), t.Slots...)
	g.templates = append(g.templates, t)
	return nil
}

// RemoveTemplate deletes the named template and reports whether it existed.
func (g *Graph) RemoveTemplate(name string) bool {
	for i, t := range g.templates {
		if t.Name == name {
			g.templates = append(g.templates[:i], g.templates[i+1:]...)
			return true
		}
	}
	return false
}

func (g *Graph) ClearTemplates() {
	g.templates = nil
}

// Carriers returns the buses referenced by long-immediate template slots.
func (g *Graph) Carriers() []BusID {
	seen := make(map[BusID]bool)
	var out []BusID
	for _, t := range g.templates {
		for _, s := range t.Slots {
			if !seen[s.Bus] {
				seen[s.Bus] = true
				out = append(out, s.Bus)
			}
		}
	}
	return out
}

func (g *Graph) IsCarrier(bus BusID) bool {
	for _, t := range g.templates {
		for _, s := range t.Slots {
			if s.Bus == bus {
				return true
			}
		}
	}
	return false
}

// LongImmediateWidth returns the widest slot width of any template.
func (g *Graph) LongImmediateWidth() int {
	w := 0
	for _, t := range g.templates {
		sum := 0
		for _, s := range t.Slots {
			sum += s.Width
		}
		if sum > w {
			w = sum
		}
	}
	return w
}

// Clone returns a deep copy. Handles stay valid in the copy.
func (g *Graph) Clone() *Graph {
	c := &Graph{Name: g.Name}

	c.buses = make([]*Bus, len(g.buses))
	for i, b := range g.buses {
		if b != nil {
			x := *b
			x.Segments = append([]SegmentID(nil), b.Segments...)
			c.buses[i] = &x
		}
	}
	c.segments = make([]*Segment, len(g.segments))
	for i, s := range g.segments {
		if s != nil {
			x := *s
			c.segments[i] = &x
		}
	}
	c.sockets = make([]*Socket, len(g.sockets))
	for i, s := range g.sockets {
		if s != nil {
			x := *s
			x.Segments = append([]SegmentID(nil), s.Segments...)
			c.sockets[i] = &x
		}
	}
	c.ports = make([]*Port, len(g.ports))
	for i, p := range g.ports {
		if p != nil {
			x := *p
			c.ports[i] = &x
		}
	}
	c.units = make([]*Unit, len(g.units))
	for i, u := range g.units {
		if u != nil {
			x := *u
			x.Ports = append([]PortID(nil), u.Ports...)
			x.Operations = make([]Operation, len(u.Operations))
			for j := range u.Operations {
				x.Operations[j] = u.Operations[j].clone()
			}
			c.units[i] = &x
		}
	}
	c.guards = append([]Guard(nil), g.guards...)
	c.templates = make([]Template, len(g.templates))
	for i, t := range g.templates {
		c.templates[i] = Template{Name: t.Name, Slots: append([]TemplateSlot(nil), t.Slots...)}
	}

	return c
}
