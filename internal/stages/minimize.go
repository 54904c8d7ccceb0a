package stages

import (
	"context"
	"sort"

	"github.com/nikandfor/errors"
	"github.com/nikandfor/tlog"

	"ttadse/internal/arch"
	"ttadse/internal/dsdb"
	"ttadse/internal/explore"
	"ttadse/internal/merge"
	"ttadse/internal/profile"
)

// fuMergeMinimizer collapses load/store units first when at most one is
// wanted, then folds function units pair by pair down to one plain unit
// next to the load/store and protected ones. Nothing to fold passes the
// input configuration on.
func fuMergeMinimizer(ctx context.Context, env *explore.Env, conf dsdb.RowID, p explore.Params) (ids []dsdb.RowID, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, FUMergeMinimizer, "conf", conf)
	defer tr.Finish("err", &err)

	numLSU, err := p.Int("num_lsu", 1)
	if err != nil {
		return nil, err
	}

	o := merge.Options{DontMerge: nameSet(p.List("dont_merge")), MinLSUs: numLSU}

	c, g, err := load(ctx, env, conf)
	if err != nil {
		return nil, err
	}

	st, err := profileInput(ctx, env, c, g)
	if err != nil {
		return nil, err
	}

	if numLSU <= 1 {
		lsu, n, err := merge.MergeLoadStoreUnits(g, o)
		if err != nil {
			return nil, err
		}
		if n > 0 {
			id, next, err := commit(ctx, env, lsu)
			switch {
			case errors.Is(err, profile.ErrSchedule):
				tr.Printw("merged load/store units do not schedule", "err", err)
			case err != nil:
				return nil, err
			default:
				tr.Printw("load/store units merged", "folded", n, "conf", id)
				ids = append(ids, id)
				g, st = lsu, next
			}
		}
	}

	blocked, lsus := 0, 0
	for _, u := range g.FunctionUnits() {
		switch x := g.Unit(u); {
		case o.DontMerge[x.Name]:
			blocked++
		case x.IsLSU():
			lsus++
		}
	}
	floor := 1 + min(numLSU, lsus) + blocked

	more, err := minimize(ctx, env, g, st, merge.FunctionUnits, o, func(g *arch.Graph) bool {
		return len(g.FunctionUnits()) > floor
	})
	ids = append(ids, more...)

	if len(ids) == 0 && err == nil {
		return []dsdb.RowID{conf}, nil
	}

	return ids, err
}

func busMergeMinimizer(ctx context.Context, env *explore.Env, conf dsdb.RowID, p explore.Params) (ids []dsdb.RowID, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, BusMergeMinimizer, "conf", conf)
	defer tr.Finish("err", &err)

	o := merge.Options{DontMerge: nameSet(p.List("dont_merge"))}

	c, g, err := load(ctx, env, conf)
	if err != nil {
		return nil, err
	}

	st, err := profileInput(ctx, env, c, g)
	if err != nil {
		return nil, err
	}

	ids, err = minimize(ctx, env, g, st, merge.Buses, o, func(g *arch.Graph) bool {
		return len(g.Buses()) > 1
	})
	if len(ids) == 0 && err == nil {
		return []dsdb.RowID{conf}, nil
	}

	return ids, err
}

// rfPortMergeMinimizer merges the least co-active same-direction ports of
// register files, widest file first and one merge per file in turn. A file
// drops out once it is down to stop_port_count ports, or when a merge
// stops scheduling or pushes the slowest workload past cc_threshold.
func rfPortMergeMinimizer(ctx context.Context, env *explore.Env, conf dsdb.RowID, p explore.Params) (ids []dsdb.RowID, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, RFPortMergeMinimizer, "conf", conf)
	defer tr.Finish("err", &err)

	threshold, err := p.Uint("cc_threshold", 0)
	if err != nil {
		return nil, err
	}
	stop, err := positiveInt(p, "stop_port_count", 2)
	if err != nil {
		return nil, err
	}
	only := nameSet(p.List("rf_to_merge"))
	dont := nameSet(p.List("dont_merge"))

	c, g, err := load(ctx, env, conf)
	if err != nil {
		return nil, err
	}

	st, err := profileInput(ctx, env, c, g)
	if err != nil {
		return nil, err
	}

	var rfs []arch.UnitID
	for _, u := range g.UnitsOf(arch.RegisterFile) {
		if len(only) == 0 || only[g.Unit(u).Name] {
			rfs = append(rfs, u)
		}
	}
	sort.SliceStable(rfs, func(i, j int) bool {
		return g.Unit(rfs[i]).Width > g.Unit(rfs[j]).Width
	})

	for i := 0; len(rfs) != 0; {
		if err := ctx.Err(); err != nil {
			return ids, err
		}

		i %= len(rfs)
		rf := g.Unit(rfs[i])

		drop := func(reason string, kv ...interface{}) {
			tr.Printw(reason, append([]interface{}{"rf", rf.Name}, kv...)...)
			rfs = append(rfs[:i], rfs[i+1:]...)
		}

		if len(rf.Ports) <= stop {
			drop("register file merged", "ports", len(rf.Ports))
			continue
		}

		next, pair, ok, err := merge.Step(g, st, merge.RegisterPorts, merge.Options{DontMerge: dont, RegisterFile: rf.Name})
		if err != nil {
			return ids, err
		}
		if !ok {
			drop("no register ports to merge", "ports", len(rf.Ports))
			continue
		}

		id, nst, err := commit(ctx, env, next)
		switch {
		case errors.Is(err, profile.ErrSchedule):
			drop("port merge does not schedule", "a", pair.NameA, "b", pair.NameB, "err", err)
			continue
		case err != nil:
			return ids, err
		case threshold != 0 && nst.MaxCycles() > threshold:
			drop("port merge over cycle threshold", "a", pair.NameA, "b", pair.NameB, "cycles", nst.MaxCycles())
			continue
		}

		tr.Printw("folded", "kind", merge.RegisterPorts, "a", pair.NameA, "b", pair.NameB, "score", pair.Score, "conf", id, "cycles", nst.AverageCycles())

		ids = append(ids, id)
		g, st = next, nst
		i++
	}

	if len(ids) == 0 {
		return []dsdb.RowID{conf}, nil
	}

	return ids, nil
}

// minimize folds the least co-active pair while more reports true,
// committing every fold. A fold that no longer schedules ends the loop and
// is dropped.
func minimize(ctx context.Context, env *explore.Env, g *arch.Graph, st *profile.Statistics, k merge.Kind, o merge.Options, more func(*arch.Graph) bool) (ids []dsdb.RowID, err error) {
	tr := tlog.SpanFromContext(ctx)

	for more(g) {
		if err := ctx.Err(); err != nil {
			return ids, err
		}

		if tr.If("merge_pairs") {
			for _, p := range merge.Candidates(g, st, k, o) {
				tr.Printw("candidate", "a", p.NameA, "b", p.NameB, "score", p.Score)
			}
		}

		next, pair, ok, err := merge.Step(g, st, k, o)
		if err != nil {
			return ids, err
		}
		if !ok {
			break
		}

		id, nst, err := commit(ctx, env, next)
		if errors.Is(err, profile.ErrSchedule) {
			tr.Printw("fold does not schedule", "kind", k, "a", pair.NameA, "b", pair.NameB, "err", err)
			break
		}
		if err != nil {
			return ids, err
		}

		tr.Printw("folded", "kind", k, "a", pair.NameA, "b", pair.NameB, "score", pair.Score, "conf", id, "cycles", nst.AverageCycles())

		ids = append(ids, id)
		g, st = next, nst
	}

	return ids, nil
}
