package profile

import (
	"context"

	"github.com/nikandfor/errors"
	"github.com/nikandfor/tlog"

	"ttadse/internal/arch"
	"ttadse/internal/dsdb"
)

type Profiler struct {
	Toolchain Toolchain
	Store     dsdb.Store
	// Cache is optional.
	Cache *Cache
}

// Profile schedules and simulates every stored workload on g and returns
// the co-activity statistics and the average cycle count. The cycle count
// of each workload is recorded in the store under archID.
func (p *Profiler) Profile(ctx context.Context, archID dsdb.RowID, g *arch.Graph) (st *Statistics, cycles uint64, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "profile", "arch", archID, "name", g.Name)
	defer tr.Finish("err", &err)

	works, err := p.Store.Workloads(ctx)
	if err != nil {
		return nil, 0, errors.Wrap(err, "workloads")
	}

	var encoded []byte
	if p.Cache != nil {
		encoded, err = g.Encode()
		if err != nil {
			return nil, 0, err
		}
	}

	st = NewStatistics(g)

	for _, w := range works {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}

		part, err := p.workload(ctx, g, w, encoded)
		if err != nil {
			return nil, 0, errors.Wrap(err, "workload %v", w.Name)
		}

		st.add(w.ID, part)

		if err := p.Store.AddCycleCount(ctx, w.ID, archID, part.Cycles); err != nil {
			return nil, 0, err
		}

		tr.Printw("workload", "name", w.Name, "instructions", len(part.Executions), "cycles", part.Cycles)
	}

	cycles = st.AverageCycles()

	if tr.If("profile_matrix") {
		tr.Printw("bus activity", "n", st.BusActivity.N, "v", st.BusActivity.V)
		tr.Printw("unit activity", "n", st.UnitActivity.N, "v", st.UnitActivity.V)
	}

	return st, cycles, nil
}

func (p *Profiler) workload(ctx context.Context, g *arch.Graph, w dsdb.Workload, encoded []byte) (*partial, error) {
	var key []byte
	if p.Cache != nil {
		var fp []byte
		if f, ok := p.Toolchain.(Fingerprinter); ok {
			var err error
			fp, err = f.Fingerprint(ctx, w)
			if err != nil {
				return nil, errors.Wrap(err, "fingerprint")
			}
		}

		key = cacheKey(encoded, w, fp)

		part, ok, err := p.Cache.get(key)
		if err != nil {
			return nil, err
		}
		if ok {
			return part, nil
		}
	}

	prog, err := p.Toolchain.Schedule(ctx, g, w)
	if err != nil {
		if !errors.Is(err, ErrSchedule) {
			err = errors.Wrap(ErrSchedule, "%v", err)
		}
		return nil, err
	}

	execs, cycles, err := p.Toolchain.Simulate(ctx, g, w, prog)
	if err != nil {
		return nil, errors.Wrap(err, "simulate")
	}

	part, err := collect(g, prog, execs, cycles)
	if err != nil {
		return nil, err
	}

	if p.Cache != nil {
		if err := p.Cache.put(key, part); err != nil {
			return nil, err
		}
	}

	return part, nil
}
