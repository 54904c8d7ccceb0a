package arch

import (
	"encoding/json"
	"os"
	"reflect"
	"sort"
	"strings"

	"github.com/nikandfor/errors"
)

// Document is the persisted form of a Graph. Names are the only cross
// references; handles never leave the process.
type Document struct {
	Name      string         `json:"name"`
	Buses     []BusJSON      `json:"buses"`
	Sockets   []SocketJSON   `json:"sockets"`
	Units     []UnitJSON     `json:"units"`
	Guards    []GuardJSON    `json:"guards,omitempty"`
	Templates []TemplateJSON `json:"templates,omitempty"`
}

type BusJSON struct {
	Name        string   `json:"name"`
	Width       int      `json:"width"`
	ImmWidth    int      `json:"immediate_width"`
	SignExtends bool     `json:"sign_extends"`
	Segments    []string `json:"segments"`
}

type SocketJSON struct {
	Name      string `json:"name"`
	Direction string `json:"direction"`
	// Segments are written as "bus/segment".
	Segments []string `json:"segments"`
}

type UnitJSON struct {
	Name         string          `json:"name"`
	Kind         string          `json:"kind"`
	AddressSpace string          `json:"address_space,omitempty"`
	Registers    int             `json:"registers,omitempty"`
	Width        int             `json:"width,omitempty"`
	Ports        []PortJSON      `json:"ports"`
	Operations   []OperationJSON `json:"operations,omitempty"`
}

type PortJSON struct {
	Name       string `json:"name"`
	Width      int    `json:"width"`
	Input      bool   `json:"input"`
	Triggering bool   `json:"triggering,omitempty"`
	Socket     string `json:"socket,omitempty"`
}

type OperationJSON struct {
	Name     string        `json:"name"`
	Latency  int           `json:"latency"`
	Vector   bool          `json:"vector,omitempty"`
	Bindings []BindingJSON `json:"bindings"`
	Pipeline []PipelineUse `json:"pipeline,omitempty"`
}

type BindingJSON struct {
	Operand int    `json:"operand"`
	Port    string `json:"port"`
}

type GuardJSON struct {
	Bus      string `json:"bus"`
	Unit     string `json:"unit"`
	Register int    `json:"register"`
	Inverted bool   `json:"inverted,omitempty"`
}

type TemplateJSON struct {
	Name  string     `json:"name"`
	Slots []SlotJSON `json:"slots,omitempty"`
}

type SlotJSON struct {
	Bus         string `json:"bus"`
	Width       int    `json:"width"`
	Destination string `json:"destination"`
}

func directionFromString(s string) (Direction, error) {
	switch s {
	case "input":
		return Input, nil
	case "output":
		return Output, nil
	case "unbound", "":
		return Unbound, nil
	}
	return Unbound, errors.New("unknown socket direction %q", s)
}

func kindFromString(s string) (UnitKind, error) {
	switch s {
	case "function_unit":
		return FunctionUnit, nil
	case "register_file":
		return RegisterFile, nil
	case "immediate_unit":
		return ImmediateUnit, nil
	case "control_unit":
		return ControlUnit, nil
	}
	return FunctionUnit, errors.New("unknown unit kind %q", s)
}

// Document converts the live part of the graph into its persisted form.
func (g *Graph) Document() *Document {
	d := &Document{Name: g.Name}

	for _, id := range g.Buses() {
		b := g.buses[id]
		bj := BusJSON{Name: b.Name, Width: b.Width, ImmWidth: b.ImmWidth, SignExtends: b.SignExtends}
		for _, s := range b.Segments {
			bj.Segments = append(bj.Segments, g.segments[s].Name)
		}
		d.Buses = append(d.Buses, bj)
	}

	for _, id := range g.Sockets() {
		s := g.sockets[id]
		sj := SocketJSON{Name: s.Name, Direction: s.Direction.String(), Segments: []string{}}
		for _, seg := range s.Segments {
			sg := g.segments[seg]
			sj.Segments = append(sj.Segments, g.buses[sg.Bus].Name+"/"+sg.Name)
		}
		d.Sockets = append(d.Sockets, sj)
	}

	for _, id := range g.Units() {
		u := g.units[id]
		uj := UnitJSON{
			Name:         u.Name,
			Kind:         u.Kind.String(),
			AddressSpace: u.AddressSpace,
			Registers:    u.Registers,
			Width:        u.Width,
			Ports:        []PortJSON{},
		}
		for _, pid := range u.Ports {
			p := g.ports[pid]
			pj := PortJSON{Name: p.Name, Width: p.Width, Input: p.Input, Triggering: p.Triggering}
			if s := g.Socket(p.Socket); s != nil {
				pj.Socket = s.Name
			}
			uj.Ports = append(uj.Ports, pj)
		}
		for _, op := range u.Operations {
			oj := OperationJSON{Name: op.Name, Latency: op.Latency, Vector: op.Vector, Pipeline: op.Pipeline, Bindings: []BindingJSON{}}
			for _, b := range op.Bindings {
				oj.Bindings = append(oj.Bindings, BindingJSON{Operand: b.Operand, Port: g.ports[b.Port].Name})
			}
			uj.Operations = append(uj.Operations, oj)
		}
		d.Units = append(d.Units, uj)
	}

	for _, gd := range g.guards {
		d.Guards = append(d.Guards, GuardJSON{
			Bus:      g.buses[gd.Bus].Name,
			Unit:     g.units[gd.Unit].Name,
			Register: gd.Register,
			Inverted: gd.Inverted,
		})
	}

	for _, t := range g.templates {
		tj := TemplateJSON{Name: t.Name}
		for _, s := range t.Slots {
			tj.Slots = append(tj.Slots, SlotJSON{
				Bus:         g.buses[s.Bus].Name,
				Width:       s.Width,
				Destination: g.units[s.Destination].Name,
			})
		}
		d.Templates = append(d.Templates, tj)
	}

	return d
}

// FromDocument rebuilds a graph, resolving names into handles.
func FromDocument(d *Document) (*Graph, error) {
	g := New(d.Name)

	for _, bj := range d.Buses {
		id := BusID(len(g.buses))
		if _, ok := g.BusByName(bj.Name); ok {
			return nil, errors.Wrap(ErrDuplicateName, "bus %v", bj.Name)
		}
		g.buses = append(g.buses, &Bus{Name: bj.Name, Width: bj.Width, ImmWidth: bj.ImmWidth, SignExtends: bj.SignExtends})
		for _, seg := range bj.Segments {
			if _, err := g.AddSegment(id, seg); err != nil {
				return nil, err
			}
		}
	}

	for _, sj := range d.Sockets {
		dir, err := directionFromString(sj.Direction)
		if err != nil {
			return nil, errors.Wrap(err, "socket %v", sj.Name)
		}
		sid, err := g.AddSocket(sj.Name, dir)
		if err != nil {
			return nil, err
		}
		for _, ref := range sj.Segments {
			busName, segName, ok := strings.Cut(ref, "/")
			if !ok {
				return nil, errors.New("socket %v: bad segment reference %q", sj.Name, ref)
			}
			bus, ok := g.BusByName(busName)
			if !ok {
				return nil, errors.Wrap(ErrNotFound, "socket %v: bus %v", sj.Name, busName)
			}
			seg, ok := g.SegmentByName(bus, segName)
			if !ok {
				return nil, errors.Wrap(ErrNotFound, "socket %v: segment %v", sj.Name, ref)
			}
			if err := g.Attach(sid, seg); err != nil {
				return nil, err
			}
		}
	}

	for _, uj := range d.Units {
		kind, err := kindFromString(uj.Kind)
		if err != nil {
			return nil, errors.Wrap(err, "unit %v", uj.Name)
		}
		uid, err := g.AddUnit(uj.Name, kind)
		if err != nil {
			return nil, err
		}
		u := g.units[uid]
		u.AddressSpace = uj.AddressSpace
		u.Registers = uj.Registers
		u.Width = uj.Width

		for _, pj := range uj.Ports {
			pid, err := g.AddPort(uid, pj.Name, pj.Width, pj.Input, pj.Triggering)
			if err != nil {
				return nil, err
			}
			if pj.Socket == "" {
				continue
			}
			sid, ok := g.SocketByName(pj.Socket)
			if !ok {
				return nil, errors.Wrap(ErrNotFound, "port %v.%v: socket %v", uj.Name, pj.Name, pj.Socket)
			}
			if err := g.BindPort(pid, sid); err != nil {
				return nil, err
			}
		}

		for _, oj := range uj.Operations {
			op := Operation{Name: oj.Name, Latency: oj.Latency, Vector: oj.Vector, Pipeline: oj.Pipeline}
			for _, bj := range oj.Bindings {
				pid, ok := g.PortByName(uid, bj.Port)
				if !ok {
					return nil, errors.Wrap(ErrNotFound, "operation %v.%v: port %v", uj.Name, oj.Name, bj.Port)
				}
				op.Bindings = append(op.Bindings, Binding{Operand: bj.Operand, Port: pid})
			}
			if err := g.AddOperation(uid, op); err != nil {
				return nil, err
			}
		}
	}

	for _, gj := range d.Guards {
		bus, ok := g.BusByName(gj.Bus)
		if !ok {
			return nil, errors.Wrap(ErrNotFound, "guard bus %v", gj.Bus)
		}
		unit, ok := g.UnitByName(gj.Unit)
		if !ok {
			return nil, errors.Wrap(ErrNotFound, "guard unit %v", gj.Unit)
		}
		if err := g.AddGuard(Guard{Bus: bus, Unit: unit, Register: gj.Register, Inverted: gj.Inverted}); err != nil {
			return nil, err
		}
	}

	for _, tj := range d.Templates {
		t := Template{Name: tj.Name}
		for _, sj := range tj.Slots {
			bus, ok := g.BusByName(sj.Bus)
			if !ok {
				return nil, errors.Wrap(ErrNotFound, "template %v bus %v", tj.Name, sj.Bus)
			}
			dst, ok := g.UnitByName(sj.Destination)
			if !ok {
				return nil, errors.Wrap(ErrNotFound, "template %v destination %v", tj.Name, sj.Destination)
			}
			t.Slots = append(t.Slots, TemplateSlot{Bus: bus, Width: sj.Width, Destination: dst})
		}
		if err := g.AddTemplate(t); err != nil {
			return nil, err
		}
	}

	return g, nil
}

func (g *Graph) Encode() ([]byte, error) {
	data, err := json.MarshalIndent(g.Document(), "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "marshaling architecture")
	}
	return data, nil
}

func Decode(data []byte) (*Graph, error) {
	var d Document
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, errors.Wrap(err, "parsing architecture JSON")
	}
	return FromDocument(&d)
}

func ReadFile(filename string) (*Graph, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.Wrap(err, "reading architecture file")
	}
	return Decode(data)
}

func WriteFile(filename string, g *Graph) error {
	data, err := g.Encode()
	if err != nil {
		return err
	}
	return os.WriteFile(filename, data, 0644)
}

// Equal reports structural equality: same resource names, widths, flags
// and connectivity, regardless of arena layout or declaration order.
func Equal(a, b *Graph) bool {
	return reflect.DeepEqual(canonical(a.Document()), canonical(b.Document()))
}

func canonical(d *Document) *Document {
	sort.Slice(d.Buses, func(i, j int) bool { return d.Buses[i].Name < d.Buses[j].Name })
	sort.Slice(d.Sockets, func(i, j int) bool { return d.Sockets[i].Name < d.Sockets[j].Name })
	for i := range d.Sockets {
		sort.Strings(d.Sockets[i].Segments)
	}
	sort.Slice(d.Units, func(i, j int) bool { return d.Units[i].Name < d.Units[j].Name })
	for i := range d.Units {
		u := &d.Units[i]
		sort.Slice(u.Ports, func(x, y int) bool { return u.Ports[x].Name < u.Ports[y].Name })
		sort.Slice(u.Operations, func(x, y int) bool { return u.Operations[x].Name < u.Operations[y].Name })
	}
	sort.Slice(d.Guards, func(i, j int) bool {
		if d.Guards[i].Bus != d.Guards[j].Bus {
			return d.Guards[i].Bus < d.Guards[j].Bus
		}
		return d.Guards[i].Unit < d.Guards[j].Unit || d.Guards[i].Unit == d.Guards[j].Unit && d.Guards[i].Register < d.Guards[j].Register
	})
	sort.Slice(d.Templates, func(i, j int) bool { return d.Templates[i].Name < d.Templates[j].Name })
	return d
}
