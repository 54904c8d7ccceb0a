package arch

// Handles index per-kind arenas of a Graph. They stay valid for the lifetime
// of the graph (and its clones); a deleted resource leaves a tombstone.
type (
	BusID     int
	SegmentID int
	SocketID  int
	PortID    int
	UnitID    int
	GuardID   int
)

const (
	NoBus     BusID     = -1
	NoSegment SegmentID = -1
	NoSocket  SocketID  = -1
	NoPort    PortID    = -1
	NoUnit    UnitID    = -1
)

// Direction of a socket. Input moves data from the bus into a port,
// Output moves it from a port onto the bus.
type Direction int

const (
	Unbound Direction = iota
	Input
	Output
)

func (d Direction) String() string {
	switch d {
	case Input:
		return "input"
	case Output:
		return "output"
	}
	return "unbound"
}

type UnitKind int

const (
	FunctionUnit UnitKind = iota
	RegisterFile
	ImmediateUnit
	ControlUnit
)

func (k UnitKind) String() string {
	switch k {
	case RegisterFile:
		return "register_file"
	case ImmediateUnit:
		return "immediate_unit"
	case ControlUnit:
		return "control_unit"
	}
	return "function_unit"
}

// Bus is a transport wire made of one or more segments.
type Bus struct {
	Name        string
	Width       int
	ImmWidth    int
	SignExtends bool
	Segments    []SegmentID
}

type Segment struct {
	Name string
	Bus  BusID
}

// Socket attaches exactly one port to a set of bus segments.
type Socket struct {
	Name      string
	Direction Direction
	Port      PortID
	Segments  []SegmentID
}

type Port struct {
	Name       string
	Unit       UnitID
	Width      int
	Input      bool
	Triggering bool
	Socket     SocketID
}

// Binding ties an operation operand (1-based) to a unit port.
type Binding struct {
	Operand int
	Port    PortID
}

// PipelineUse marks an operand read or written in a given cycle.
type PipelineUse struct {
	Operand int
	Cycle   int
	Write   bool
}

type Operation struct {
	Name    string
	Latency int
	// Vector operations are pruned from scalar explorations.
	Vector   bool
	Bindings []Binding
	Pipeline []PipelineUse
}

// Port returns the port bound to operand, or NoPort.
func (op *Operation) Port(operand int) PortID {
	for _, b := range op.Bindings {
		if b.Operand == operand {
			return b.Port
		}
	}
	return NoPort
}

// IsBound reports whether p is already used by one of the op operands.
func (op *Operation) IsBound(p PortID) bool {
	for _, b := range op.Bindings {
		if b.Port == p {
			return true
		}
	}
	return false
}

func (op *Operation) clone() Operation {
	c := *op
	c.Bindings = append([]Binding(nil), op.Bindings...)
	c.Pipeline = append([]PipelineUse(nil), op.Pipeline...)
	return c
}

// Unit is a function unit, register file, immediate unit or control unit.
type Unit struct {
	Name         string
	Kind         UnitKind
	Ports        []PortID
	Operations   []Operation
	AddressSpace string
	Registers    int
	Width        int
}

// IsLSU reports whether the unit accesses memory.
func (u *Unit) IsLSU() bool {
	return u.Kind == FunctionUnit && u.AddressSpace != ""
}

func (u *Unit) Operation(name string) *Operation {
	for i := range u.Operations {
		if u.Operations[i].Name == name {
			return &u.Operations[i]
		}
	}
	return nil
}

func (u *Unit) HasOperation(name string) bool {
	return u.Operation(name) != nil
}

// HasVectorOperation reports whether any operation of u is a vector one.
func (u *Unit) HasVectorOperation() bool {
	for i := range u.Operations {
		if u.Operations[i].Vector {
			return true
		}
	}
	return false
}

// Guard is a predicate source sampled on a bus.
type Guard struct {
	Bus      BusID
	Unit     UnitID
	Register int
	Inverted bool
}

type TemplateSlot struct {
	Bus         BusID
	Width       int
	Destination UnitID
}

// Template is an instruction template. Templates with slots encode long
// immediates on the slot buses.
type Template struct {
	Name  string
	Slots []TemplateSlot
}
