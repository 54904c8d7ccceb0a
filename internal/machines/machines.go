// Package machines builds starting architectures for exploration runs.
package machines

import (
	"fmt"

	"github.com/nikandfor/errors"

	"ttadse/internal/arch"
)

type Options struct {
	Name      string
	Buses     int
	Width     int
	ShortImm  int // short immediate width of every bus
	ReadPorts int // register file read ports
	Registers int
	ALUs      int
	LSUs      int
	// Multiplier adds a MUL unit.
	Multiplier bool
	// VectorUnit adds a VALU unit implementing vector operations.
	VectorUnit bool
}

func DefaultOptions() Options {
	return Options{
		Name:       "scalar",
		Buses:      4,
		Width:      32,
		ShortImm:   8,
		ReadPorts:  2,
		Registers:  32,
		ALUs:       1,
		LSUs:       1,
		Multiplier: true,
	}
}

// ALUOperations are implemented by every ALU.
var ALUOperations = []string{"add", "sub", "and", "ior", "xor", "shl", "shr", "eq", "gt"}

var VectorOperations = []string{"vadd", "vsub", "vmul"}

// Scalar builds a fully connected machine: every socket touches every bus,
// bus 0 carries long immediates through the "limm" template.
func Scalar(o Options) (*arch.Graph, error) {
	if o.Buses < 1 {
		return nil, errors.New("need at least one bus")
	}
	if o.Width == 0 {
		o.Width = 32
	}

	g := arch.New(o.Name)
	b := builder{g: g}

	for i := 0; i < o.Buses; i++ {
		id, err := g.AddBus(fmt.Sprintf("B%d", i), o.Width, o.ShortImm)
		if err != nil {
			return nil, err
		}
		b.buses = append(b.buses, id)
	}

	rf := b.unit("RF", arch.RegisterFile)
	if u := g.Unit(rf); u != nil {
		u.Registers = o.Registers
		u.Width = o.Width
	}
	for i := 0; i < o.ReadPorts; i++ {
		b.port(rf, fmt.Sprintf("R%d", i), o.Width, false, false)
	}
	b.port(rf, "W0", o.Width, true, false)

	iu := b.unit("IU", arch.ImmediateUnit)
	if u := g.Unit(iu); u != nil {
		u.Registers = 1
		u.Width = o.Width
	}
	b.port(iu, "r0", o.Width, false, false)

	for i := 0; i < o.ALUs; i++ {
		name := "ALU"
		if o.ALUs > 1 {
			name = fmt.Sprintf("ALU%d", i)
		}
		u := b.unit(name, arch.FunctionUnit)
		t := b.port(u, "in1t", o.Width, true, true)
		in := b.port(u, "in2", o.Width, true, false)
		out := b.port(u, "out1", o.Width, false, false)
		for _, op := range ALUOperations {
			b.op(u, op, 1, t, in, out)
		}
	}

	if o.Multiplier {
		u := b.unit("MUL", arch.FunctionUnit)
		t := b.port(u, "in1t", o.Width, true, true)
		in := b.port(u, "in2", o.Width, true, false)
		out := b.port(u, "out1", o.Width, false, false)
		b.op(u, "mul", 3, t, in, out)
	}

	if o.VectorUnit {
		u := b.unit("VALU", arch.FunctionUnit)
		t := b.port(u, "in1t", o.Width, true, true)
		in := b.port(u, "in2", o.Width, true, false)
		out := b.port(u, "out1", o.Width, false, false)
		for _, op := range VectorOperations {
			b.op(u, op, 1, t, in, out)
		}
		b.markVector(u)
	}

	for i := 0; i < o.LSUs; i++ {
		name := "LSU"
		if o.LSUs > 1 {
			name = fmt.Sprintf("LSU%d", i)
		}
		u := b.unit(name, arch.FunctionUnit)
		if x := g.Unit(u); x != nil {
			x.AddressSpace = "data"
		}
		t := b.port(u, "in1t", o.Width, true, true)
		in := b.port(u, "in2", o.Width, true, false)
		out := b.port(u, "out1", o.Width, false, false)
		b.op(u, "ld32", 3, t, out)
		b.op(u, "st32", 1, t, in)
	}

	cu := b.unit("GCU", arch.ControlUnit)
	pc := b.port(cu, "pc", o.Width, true, true)
	b.op(cu, "jump", 1, pc)

	if b.err == nil {
		b.err = g.AddGuard(arch.Guard{Bus: b.buses[0], Unit: rf, Register: 0})
	}
	if b.err == nil {
		b.err = g.AddTemplate(arch.Template{Name: "no_limm"})
	}
	if b.err == nil {
		b.err = g.AddTemplate(arch.Template{
			Name:  "limm",
			Slots: []arch.TemplateSlot{{Bus: b.buses[0], Width: o.Width, Destination: iu}},
		})
	}
	if b.err != nil {
		return nil, errors.Wrap(b.err, "build %v", o.Name)
	}

	return g, nil
}

// builder keeps the first error so construction reads straight.
type builder struct {
	g     *arch.Graph
	buses []arch.BusID
	err   error
}

func (b *builder) unit(name string, kind arch.UnitKind) arch.UnitID {
	if b.err != nil {
		return arch.NoUnit
	}
	id, err := b.g.AddUnit(name, kind)
	b.err = err
	return id
}

func (b *builder) port(u arch.UnitID, name string, width int, input, trig bool) arch.PortID {
	if b.err != nil {
		return arch.NoPort
	}
	id, err := b.g.AddConnectedPort(u, name, width, input, trig, b.buses...)
	b.err = err
	return id
}

// op binds operands 1..n to ports in order.
func (b *builder) op(u arch.UnitID, name string, latency int, ports ...arch.PortID) {
	if b.err != nil {
		return
	}
	op := arch.Operation{Name: name, Latency: latency}
	for i, p := range ports {
		op.Bindings = append(op.Bindings, arch.Binding{Operand: i + 1, Port: p})
		use := arch.PipelineUse{Operand: i + 1}
		if !b.g.Port(p).Input {
			use.Cycle = latency - 1
			use.Write = true
		}
		op.Pipeline = append(op.Pipeline, use)
	}
	b.err = b.g.AddOperation(u, op)
}

func (b *builder) markVector(u arch.UnitID) {
	if x := b.g.Unit(u); x != nil {
		for i := range x.Operations {
			x.Operations[i].Vector = true
		}
	}
}
