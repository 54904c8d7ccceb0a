package profile

import (
	"github.com/nikandfor/errors"

	"ttadse/internal/arch"
	"ttadse/internal/dsdb"
	"ttadse/internal/simm"
)

// Matrix is a square co-activity matrix indexed by resource ordinal.
type Matrix struct {
	N int       `json:"n"`
	V []float64 `json:"v"`
}

func NewMatrix(n int) Matrix {
	return Matrix{N: n, V: make([]float64, n*n)}
}

func (m Matrix) At(i, j int) float64 { return m.V[i*m.N+j] }

// AddPair adds v to both (i, j) and (j, i), once when i == j.
func (m Matrix) AddPair(i, j int, v float64) {
	m.V[i*m.N+j] += v
	if i != j {
		m.V[j*m.N+i] += v
	}
}

// AddScaled accumulates x*scale into m.
func (m Matrix) AddScaled(x Matrix, scale float64) {
	for i := range m.V {
		m.V[i] += x.V[i] * scale
	}
}

// Statistics summarize every workload run on one architecture.
type Statistics struct {
	// Buses, Units and Ports map ordinals back to handles.
	Buses []arch.BusID
	Units []arch.UnitID
	Ports []arch.PortID

	BusActivity  Matrix
	UnitActivity Matrix
	// PortActivity covers register file ports.
	PortActivity Matrix
	Literals     []simm.Histogram

	Workloads  []dsdb.RowID
	Executions map[dsdb.RowID][]uint64
	Cycles     map[dsdb.RowID]uint64
}

func NewStatistics(g *arch.Graph) *Statistics {
	st := &Statistics{
		Buses:      g.Buses(),
		Units:      g.FunctionUnits(),
		Ports:      g.RegisterPorts(),
		Executions: make(map[dsdb.RowID][]uint64),
		Cycles:     make(map[dsdb.RowID]uint64),
	}
	st.BusActivity = NewMatrix(len(st.Buses))
	st.UnitActivity = NewMatrix(len(st.Units))
	st.PortActivity = NewMatrix(len(st.Ports))
	st.Literals = make([]simm.Histogram, len(st.Buses))
	return st
}

// BusOrdinal returns the ordinal of bus, or -1.
func (st *Statistics) BusOrdinal(bus arch.BusID) int {
	for i, b := range st.Buses {
		if b == bus {
			return i
		}
	}
	return -1
}

func (st *Statistics) PortOrdinal(p arch.PortID) int {
	for i, x := range st.Ports {
		if x == p {
			return i
		}
	}
	return -1
}

func (st *Statistics) UnitOrdinal(u arch.UnitID) int {
	for i, x := range st.Units {
		if x == u {
			return i
		}
	}
	return -1
}

// UnitUse is the diagonal: how busy a unit is per cycle, summed over
// workloads.
func (st *Statistics) UnitUse(u arch.UnitID) float64 {
	i := st.UnitOrdinal(u)
	if i < 0 {
		return 0
	}
	return st.UnitActivity.At(i, i)
}

func (st *Statistics) AverageCycles() uint64 {
	counts := make([]uint64, 0, len(st.Workloads))
	for _, w := range st.Workloads {
		counts = append(counts, st.Cycles[w])
	}
	return dsdb.AverageCycles(counts)
}

// MaxCycles is the cycle count of the slowest workload.
func (st *Statistics) MaxCycles() (m uint64) {
	for _, w := range st.Workloads {
		m = max(m, st.Cycles[w])
	}
	return m
}

// add folds one workload in, normalized by its cycle count.
func (st *Statistics) add(w dsdb.RowID, p *partial) {
	st.Workloads = append(st.Workloads, w)
	st.Executions[w] = p.Executions
	st.Cycles[w] = p.Cycles

	for i := range st.Literals {
		if i < len(p.Literals) {
			st.Literals[i].Merge(p.Literals[i])
		}
	}

	if p.Cycles == 0 {
		return
	}
	scale := 1 / float64(p.Cycles)
	st.BusActivity.AddScaled(p.Buses, scale)
	st.UnitActivity.AddScaled(p.Units, scale)
	if p.Ports.N == st.PortActivity.N {
		st.PortActivity.AddScaled(p.Ports, scale)
	}
}

// partial is the raw, unnormalized result of one workload. It is indexed
// by ordinals so it stays valid for any graph with the same encoding.
type partial struct {
	Buses      Matrix           `json:"buses"`
	Units      Matrix           `json:"units"`
	Ports      Matrix           `json:"ports"`
	Literals   []simm.Histogram `json:"literals"`
	Executions []uint64         `json:"executions"`
	Cycles     uint64           `json:"cycles"`
}

func collect(g *arch.Graph, prog *Program, execs []uint64, cycles uint64) (*partial, error) {
	if len(execs) != len(prog.Instructions) {
		return nil, errors.New("simulator returned %d counts for %d instructions", len(execs), len(prog.Instructions))
	}

	busPos := g.BusPositions()
	unitPos := g.UnitPositions()
	portPos := g.RegisterPortPositions()

	var carriers []int
	for _, b := range g.Carriers() {
		if i, ok := busPos[b]; ok {
			carriers = append(carriers, i)
		}
	}

	p := &partial{
		Buses:      NewMatrix(len(busPos)),
		Units:      NewMatrix(len(unitPos)),
		Ports:      NewMatrix(len(portPos)),
		Literals:   make([]simm.Histogram, len(busPos)),
		Executions: execs,
		Cycles:     cycles,
	}

	for n, ins := range prog.Instructions {
		e := float64(execs[n])
		buses := make([]bool, len(busPos))
		units := make([]bool, len(unitPos))
		ports := make([]bool, len(portPos))

		for _, m := range ins.Moves {
			bi, ok := busPos[m.Bus]
			if !ok {
				return nil, errors.New("instruction %d: move on unknown bus %d", n, m.Bus)
			}
			buses[bi] = true

			if m.Source.Immediate {
				p.Literals[bi].AddN(m.Source.Value, execs[n])
			}
			for _, t := range []Terminal{m.Source, m.Destination} {
				if ui, ok := unitPos[t.Unit]; ok {
					units[ui] = true
				}
				if pi, ok := portPos[t.Port]; ok {
					ports[pi] = true
				}
			}
		}
		if ins.LongImmediate {
			for _, c := range carriers {
				buses[c] = true
			}
		}

		accumulate(p.Buses, buses, e)
		accumulate(p.Units, units, e)
		accumulate(p.Ports, ports, e)
	}

	return p, nil
}

func accumulate(m Matrix, active []bool, e float64) {
	for i, a := range active {
		if !a {
			continue
		}
		for j := i; j < len(active); j++ {
			if active[j] {
				m.AddPair(i, j, e)
			}
		}
	}
}
