package toolchain

import (
	"sort"

	"github.com/nikandfor/errors"

	"ttadse/internal/arch"
	"ttadse/internal/profile"
	"ttadse/internal/simm"
)

// slot is one instruction under construction.
type slot struct {
	moves []profile.Move
	buses map[arch.BusID]bool
	ports map[arch.PortID]bool
	units map[arch.UnitID]bool
	limm  bool
}

type scheduler struct {
	g     *arch.Graph
	slots []*slot

	rfRead   []arch.PortID
	rfWrite  []arch.PortID
	iuRead   []arch.PortID
	carriers map[arch.BusID]bool
	limmBits int
}

func newScheduler(g *arch.Graph) *scheduler {
	s := &scheduler{
		g:        g,
		carriers: make(map[arch.BusID]bool),
		limmBits: g.LongImmediateWidth(),
	}

	for _, u := range g.UnitsOf(arch.RegisterFile) {
		for _, p := range g.Unit(u).Ports {
			port := g.Port(p)
			if port.Socket == arch.NoSocket {
				continue
			}
			if port.Input {
				s.rfWrite = append(s.rfWrite, p)
			} else {
				s.rfRead = append(s.rfRead, p)
			}
		}
	}
	for _, u := range g.UnitsOf(arch.ImmediateUnit) {
		for _, p := range g.Unit(u).Ports {
			if port := g.Port(p); !port.Input && port.Socket != arch.NoSocket {
				s.iuRead = append(s.iuRead, p)
			}
		}
	}
	for _, b := range g.Carriers() {
		s.carriers[b] = true
	}

	return s
}

func (s *scheduler) at(c int) *slot {
	for len(s.slots) <= c {
		s.slots = append(s.slots, &slot{
			buses: make(map[arch.BusID]bool),
			ports: make(map[arch.PortID]bool),
			units: make(map[arch.UnitID]bool),
		})
	}
	return s.slots[c]
}

func (s *scheduler) peek(c int) *slot {
	if c < 0 || c >= len(s.slots) {
		return nil
	}
	return s.slots[c]
}

// connected reports whether the port socket touches bus.
func (s *scheduler) connected(p arch.PortID, bus arch.BusID) bool {
	port := s.g.Port(p)
	return port != nil && s.g.ConnectedTo(port.Socket, bus)
}

func (s *scheduler) program() *profile.Program {
	prog := &profile.Program{Instructions: make([]profile.Instruction, len(s.slots))}
	for i, sl := range s.slots {
		prog.Instructions[i] = profile.Instruction{Moves: sl.moves, LongImmediate: sl.limm}
	}
	return prog
}

// operand source: a register file value or a literal.
type source struct {
	literal bool
	value   int64
}

type placed struct {
	cycle int
	move  profile.Move
}

// hold keeps an operand port reserved between its write and the trigger.
type hold struct {
	cycle int
	port  arch.PortID
}

// plan is a tentative placement of one operation.
type plan struct {
	s     *scheduler
	unit  arch.UnitID
	issue int
	moves []placed
	holds []hold
	limm  int
}

func (p *plan) busFree(c int, b arch.BusID) bool {
	if sl := p.s.peek(c); sl != nil && sl.buses[b] {
		return false
	}
	if c == p.limm && p.s.carriers[b] {
		return false
	}
	for _, m := range p.moves {
		if m.cycle == c && m.move.Bus == b {
			return false
		}
	}
	return true
}

func (p *plan) portFree(c int, port arch.PortID) bool {
	if sl := p.s.peek(c); sl != nil && sl.ports[port] {
		return false
	}
	for _, m := range p.moves {
		if m.cycle == c && (m.move.Source.Port == port || m.move.Destination.Port == port) {
			return false
		}
	}
	for _, h := range p.holds {
		if h.cycle == c && h.port == port {
			return false
		}
	}
	return true
}

func (p *plan) add(c int, bus arch.BusID, src, dst profile.Terminal) {
	p.moves = append(p.moves, placed{cycle: c, move: profile.Move{Bus: bus, Source: src, Destination: dst}})
}

func (p *plan) terminal(port arch.PortID) profile.Terminal {
	return profile.Terminal{Unit: p.s.g.Port(port).Unit, Port: port}
}

// operand moves src into dst. A trigger port is written in the issue
// cycle c; other operand ports may be written as early as cycle lo and are
// held until c.
func (p *plan) operand(lo, c int, src source, dst arch.PortID) bool {
	first := c
	if !p.s.g.Port(dst).Triggering {
		first = lo
	}

	for t := c; t >= first; t-- {
		if !p.portFree(t, dst) {
			return false
		}
		if p.move(t, src, dst) {
			for h := t + 1; h <= c; h++ {
				p.holds = append(p.holds, hold{cycle: h, port: dst})
			}
			return true
		}
	}

	return false
}

// move routes one value into dst at cycle t.
func (p *plan) move(t int, src source, dst arch.PortID) bool {
	g := p.s.g

	if !src.literal {
		for _, b := range g.Buses() {
			if !p.busFree(t, b) || !p.s.connected(dst, b) {
				continue
			}
			for _, r := range p.s.rfRead {
				if p.portFree(t, r) && p.s.connected(r, b) {
					p.add(t, b, p.terminal(r), p.terminal(dst))
					return true
				}
			}
		}
		return false
	}

	for _, b := range g.Buses() {
		if p.busFree(t, b) && p.s.connected(dst, b) && fitsShort(g.Bus(b), src.value) {
			imm := profile.Terminal{Unit: arch.NoUnit, Port: arch.NoPort, Immediate: true, Value: src.value}
			p.add(t, b, imm, p.terminal(dst))
			return true
		}
	}

	return p.longImmediate(t, src.value, dst)
}

// longImmediate loads the value through an immediate unit: the template
// goes into the previous instruction and occupies the carriers there.
func (p *plan) longImmediate(c int, v int64, dst arch.PortID) bool {
	g := p.s.g

	need, _ := simm.RequiredBits(v)
	if c < 1 || p.limm >= 0 || need > p.s.limmBits {
		return false
	}
	if sl := p.s.peek(c - 1); sl != nil && sl.limm {
		return false
	}
	for b := range p.s.carriers {
		if !p.busFree(c-1, b) {
			return false
		}
	}

	for _, b := range g.Buses() {
		if !p.busFree(c, b) || !p.s.connected(dst, b) {
			continue
		}
		for _, iu := range p.s.iuRead {
			if !p.portFree(c, iu) || !p.s.connected(iu, b) {
				continue
			}
			src := p.terminal(iu)
			src.Immediate = true
			src.Value = v
			p.limm = c - 1
			p.add(c, b, src, p.terminal(dst))
			return true
		}
	}

	return false
}

// result moves an output port into a register file at cycle c.
func (p *plan) result(c int, out arch.PortID) bool {
	if !p.portFree(c, out) {
		return false
	}
	for _, b := range p.s.g.Buses() {
		if !p.busFree(c, b) || !p.s.connected(out, b) {
			continue
		}
		for _, w := range p.s.rfWrite {
			if p.portFree(c, w) && p.s.connected(w, b) {
				p.add(c, b, p.terminal(out), p.terminal(w))
				return true
			}
		}
	}
	return false
}

func (s *scheduler) commit(p *plan) {
	s.at(p.issue).units[p.unit] = true

	for _, m := range p.moves {
		sl := s.at(m.cycle)
		sl.moves = append(sl.moves, m.move)
		sl.buses[m.move.Bus] = true
		if m.move.Source.Port != arch.NoPort {
			sl.ports[m.move.Source.Port] = true
		}
		sl.ports[m.move.Destination.Port] = true
	}
	for _, h := range p.holds {
		s.at(h.cycle).ports[h.port] = true
	}

	if p.limm >= 0 {
		sl := s.at(p.limm)
		sl.limm = true
		for b := range s.carriers {
			sl.buses[b] = true
		}
	}
}

// place tries to issue op on unit at cycle c with operands available from
// cycle ready. It returns the cycle of the last result move, or c when the
// operation has no result.
func (s *scheduler) place(u arch.UnitID, op *arch.Operation, srcs []source, ready, c int) (int, bool) {
	if sl := s.peek(c); sl != nil && sl.units[u] {
		return 0, false
	}

	ins, outs := s.operands(op)

	p := &plan{s: s, unit: u, issue: c, limm: -1}
	for i, port := range ins {
		if !p.operand(ready, c, srcs[i], port) {
			return 0, false
		}
	}

	done := c
	lat := op.Latency
	if lat < 1 {
		lat = 1
	}
	for _, port := range outs {
		if !p.result(c+lat, port) {
			return 0, false
		}
		done = c + lat
	}

	s.commit(p)
	return done, true
}

// operands splits the bound ports into inputs and outputs by operand order.
func (s *scheduler) operands(op *arch.Operation) (ins, outs []arch.PortID) {
	bs := append([]arch.Binding(nil), op.Bindings...)
	sort.Slice(bs, func(i, j int) bool { return bs[i].Operand < bs[j].Operand })

	for _, b := range bs {
		if s.g.Port(b.Port).Input {
			ins = append(ins, b.Port)
		} else {
			outs = append(outs, b.Port)
		}
	}
	return ins, outs
}

// horizon is the last cycle worth trying: past it the instruction before,
// the issue cycle and every result cycle are empty, so a failure there is
// final.
func (s *scheduler) horizon(ready int) int {
	h := len(s.slots) + 1
	if ready > h {
		h = ready
	}
	return h
}

// fitsShort reports whether v fits the bus short immediate field.
func fitsShort(b *arch.Bus, v int64) bool {
	if b.ImmWidth == 0 {
		return false
	}
	w, neg := simm.RequiredBits(v)
	if b.SignExtends {
		if !neg {
			w++
		}
		return w <= b.ImmWidth
	}
	return !neg && w <= b.ImmWidth
}

// Schedule list schedules w on g in topological order. Every operation is
// placed at the earliest cycle where its operands and results can move.
func Schedule(g *arch.Graph, w *Workload) (*profile.Program, error) {
	a, err := Analyze(w)
	if err != nil {
		return nil, errors.Wrap(profile.ErrSchedule, "%v", err)
	}

	s := newScheduler(g)

	done := make([]int, len(w.Ops))
	last := 0

	for _, i := range a.TopoOrder {
		op := w.Ops[i]

		ready := 0
		for _, d := range op.Deps {
			if done[d]+1 > ready {
				ready = done[d] + 1
			}
		}

		c, fin, err := s.issue(g.FunctionUnits(), op, ready)
		if err != nil {
			return nil, errors.Wrap(err, "op %d", i)
		}

		done[i] = fin
		if c > last {
			last = c
		}
	}

	if cus := controlUnits(g); len(cus) != 0 {
		jump := Op{Name: "jump", Literal: Lit(0)}
		if _, _, err := s.issue(cus, jump, last); err != nil {
			return nil, errors.Wrap(err, "loop jump")
		}
	}

	return s.program(), nil
}

// issue finds the first cycle from ready on where one of units runs op.
func (s *scheduler) issue(units []arch.UnitID, op Op, ready int) (int, int, error) {
	type cand struct {
		unit arch.UnitID
		op   *arch.Operation
		srcs []source
	}

	var cands []cand
	for _, u := range units {
		aop := s.g.Unit(u).Operation(op.Name)
		if aop == nil {
			continue
		}

		ins, _ := s.operands(aop)
		srcs, err := sources(op, len(ins))
		if err != nil {
			return 0, 0, err
		}
		cands = append(cands, cand{unit: u, op: aop, srcs: srcs})
	}

	if len(cands) == 0 {
		return 0, 0, errors.Wrap(profile.ErrSchedule, "no unit implements %v", op.Name)
	}

	for c := ready; c <= s.horizon(ready); c++ {
		for _, x := range cands {
			if fin, ok := s.place(x.unit, x.op, x.srcs, ready, c); ok {
				return c, fin, nil
			}
		}
	}

	return 0, 0, errors.Wrap(profile.ErrSchedule, "cannot place %v", op.Name)
}

// sources lays the dependencies out over the input operands in order and
// the literal on the last one. Operands left over read a register.
func sources(op Op, inputs int) ([]source, error) {
	n := len(op.Deps)
	if op.Literal != nil {
		n++
	}
	if n > inputs {
		return nil, errors.Wrap(profile.ErrSchedule, "%v takes %d inputs, got %d", op.Name, inputs, n)
	}

	srcs := make([]source, inputs)
	if op.Literal != nil {
		srcs[inputs-1] = source{literal: true, value: *op.Literal}
	}
	return srcs, nil
}

func controlUnits(g *arch.Graph) []arch.UnitID {
	var out []arch.UnitID
	for _, u := range g.UnitsOf(arch.ControlUnit) {
		if g.Unit(u).HasOperation("jump") {
			out = append(out, u)
		}
	}
	return out
}
