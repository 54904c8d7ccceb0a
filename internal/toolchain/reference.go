package toolchain

import (
	"context"
	"crypto/sha256"
	"encoding/json"

	"github.com/nikandfor/tlog"

	"ttadse/internal/arch"
	"ttadse/internal/dsdb"
	"ttadse/internal/profile"
)

// Reference implements profile.Toolchain for JSON workloads. Parsed
// workloads are kept by path.
type Reference struct {
	workloads map[string]*Workload
}

func NewReference() *Reference {
	return &Reference{workloads: make(map[string]*Workload)}
}

// Add registers an in-memory workload under path.
func (r *Reference) Add(path string, w *Workload) {
	r.workloads[path] = w
}

func (r *Reference) load(w dsdb.Workload) (*Workload, error) {
	if x, ok := r.workloads[w.Path]; ok {
		return x, nil
	}

	x, err := ReadWorkload(w.Path)
	if err != nil {
		return nil, err
	}

	r.workloads[w.Path] = x
	return x, nil
}

// Fingerprint hashes the parsed workload, so two files with the same name
// but different operations never share a cache entry.
func (r *Reference) Fingerprint(ctx context.Context, w dsdb.Workload) ([]byte, error) {
	x, err := r.load(w)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(x)
	if err != nil {
		return nil, err
	}

	sum := sha256.Sum256(data)
	return sum[:], nil
}

func (r *Reference) Schedule(ctx context.Context, g *arch.Graph, w dsdb.Workload) (*profile.Program, error) {
	x, err := r.load(w)
	if err != nil {
		return nil, err
	}

	prog, err := Schedule(g, x)
	if err != nil {
		return nil, err
	}

	if tr := tlog.SpanFromContext(ctx); tr.If("schedule_dump") {
		for i, ins := range prog.Instructions {
			tr.Printw("instruction", "i", i, "limm", ins.LongImmediate, "moves", len(ins.Moves))
		}
	}

	return prog, nil
}

// Simulate runs the loop body Iterations times without stalls.
func (r *Reference) Simulate(ctx context.Context, g *arch.Graph, w dsdb.Workload, p *profile.Program) ([]uint64, uint64, error) {
	x, err := r.load(w)
	if err != nil {
		return nil, 0, err
	}

	execs := make([]uint64, len(p.Instructions))
	for i := range execs {
		execs[i] = x.Iterations
	}

	return execs, uint64(len(p.Instructions)) * x.Iterations, nil
}
