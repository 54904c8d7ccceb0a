// Package profile compiles and simulates workloads on a candidate
// architecture and folds the schedule into usage statistics.
package profile

import (
	"context"

	"github.com/nikandfor/errors"

	"ttadse/internal/arch"
	"ttadse/internal/dsdb"
)

// ErrSchedule means the workload cannot run on the architecture. It is
// never retried: the candidate lacks something the program needs.
var ErrSchedule = errors.New("workload does not schedule")

// Terminal is one end of a move. An immediate source carries Value,
// either inline in the instruction (Unit is NoUnit) or through an
// immediate unit.
type Terminal struct {
	Unit      arch.UnitID
	Port      arch.PortID
	Immediate bool
	Value     int64
}

type Move struct {
	Bus         arch.BusID
	Source      Terminal
	Destination Terminal
}

// Instruction is one schedule slot. LongImmediate marks slots encoded
// with a template that occupies the carrier buses.
type Instruction struct {
	Moves         []Move
	LongImmediate bool
}

type Program struct {
	Instructions []Instruction
}

// Toolchain turns a workload into a schedule for an architecture and runs
// it. Simulate returns one execution count per instruction.
type Toolchain interface {
	Schedule(ctx context.Context, g *arch.Graph, w dsdb.Workload) (*Program, error)
	Simulate(ctx context.Context, g *arch.Graph, w dsdb.Workload, p *Program) (executions []uint64, cycles uint64, err error)
}

// Fingerprinter is implemented by toolchains that can identify the content
// of a workload. The profile cache keys on it, so an edited workload file
// is scheduled again.
type Fingerprinter interface {
	Fingerprint(ctx context.Context, w dsdb.Workload) ([]byte, error)
}
