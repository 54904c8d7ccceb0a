// Package stages holds the pipeline stages of the automatic exploration.
package stages

import (
	"context"
	"strconv"
	"strings"

	"github.com/nikandfor/errors"
	"github.com/nikandfor/tlog"

	"ttadse/internal/arch"
	"ttadse/internal/dsdb"
	"ttadse/internal/explore"
	"ttadse/internal/profile"
)

const (
	PruneUnusedUnits        = "PruneUnusedUnits"
	VLIWConnectIC           = "VLIWConnectIC"
	FUMergeMinimizer        = "FUMergeMinimizer"
	BusMergeMinimizer       = "BusMergeMinimizer"
	RFPortMergeMinimizer    = "RFPortMergeMinimizer"
	ShortImmediateOptimizer = "ShortImmediateOptimizer"
	ImmediateGenerator      = "ImmediateGenerator"
)

// Register adds every stage of this package to reg.
func Register(reg *explore.Registry) {
	reg.Register(PruneUnusedUnits, func() explore.Stage { return explore.StageFunc(pruneUnusedUnits) })
	reg.Register(VLIWConnectIC, func() explore.Stage { return explore.StageFunc(vliwConnectIC) })
	reg.Register(FUMergeMinimizer, func() explore.Stage { return explore.StageFunc(fuMergeMinimizer) })
	reg.Register(BusMergeMinimizer, func() explore.Stage { return explore.StageFunc(busMergeMinimizer) })
	reg.Register(RFPortMergeMinimizer, func() explore.Stage { return explore.StageFunc(rfPortMergeMinimizer) })
	reg.Register(ShortImmediateOptimizer, func() explore.Stage { return explore.StageFunc(shortImmediateOptimizer) })
	reg.Register(ImmediateGenerator, func() explore.Stage { return explore.StageFunc(immediateGenerator) })
}

// AutoPipeline is the default stage order with per-stage parameters taken
// from cfg.
func AutoPipeline(cfg explore.Config) []explore.PipelineStage {
	skeleton := strings.Join(cfg.Skeleton, ";")

	return []explore.PipelineStage{
		{Name: PruneUnusedUnits, Params: explore.Params{
			"skeleton": skeleton,
			"mode":     cfg.Mode,
		}},
		{Name: VLIWConnectIC, Params: explore.Params{
			"wipe_register_file": strconv.FormatBool(cfg.WipeRegisterFile),
			"simm_width":         strconv.Itoa(cfg.ShortImmWidth),
			"limm_bus_count":     strconv.Itoa(cfg.LongImmBusCount),
		}},
		{Name: FUMergeMinimizer, Params: explore.Params{
			"num_lsu":    strconv.Itoa(cfg.NumLSU),
			"dont_merge": skeleton,
		}},
		{Name: BusMergeMinimizer, Params: explore.Params{
			"dont_merge": skeleton,
		}},
		{Name: RFPortMergeMinimizer, Params: explore.Params{
			"cc_threshold": strconv.FormatUint(cfg.TargetCycles, 10),
			"dont_merge":   skeleton,
		}},
		{Name: ShortImmediateOptimizer, Params: explore.Params{
			"total_bits": strconv.Itoa(cfg.TotalBits),
		}, KeepOverBudget: true},
		{Name: ImmediateGenerator, Params: explore.Params{
			"remove_it_name": "limm",
			"add_it_name":    "limm32",
			"width":          "32",
		}},
	}
}

// Recovery retries a candidate that misses the frequency with one more bus:
// register port merging reruns on the previous bus merge candidate. Once
// every register file is down to two ports, bus merging reruns on the
// previous function unit merge candidate instead.
func Recovery() explore.RecoveryPolicy {
	return explore.RouteFunc(func(ctx context.Context, g *arch.Graph, names []string) int {
		stage := RFPortMergeMinimizer
		if registerPortsMerged(g) {
			stage = BusMergeMinimizer
		}
		return explore.RouteTo{Stage: stage}.Route(ctx, g, names)
	})
}

func registerPortsMerged(g *arch.Graph) bool {
	for _, u := range g.UnitsOf(arch.RegisterFile) {
		if len(g.Unit(u).Ports) > 2 {
			return false
		}
	}
	return true
}

func load(ctx context.Context, env *explore.Env, conf dsdb.RowID) (dsdb.Configuration, *arch.Graph, error) {
	return dsdb.LoadArchitecture(ctx, env.Store, conf)
}

// profileInput profiles the stored architecture a stage starts from.
func profileInput(ctx context.Context, env *explore.Env, c dsdb.Configuration, g *arch.Graph) (*profile.Statistics, error) {
	st, _, err := env.Profiler.Profile(ctx, c.ArchitectureID, g)
	return st, err
}

// commit stores g unless an identical architecture is stored already,
// profiles it under that architecture id and adds a configuration for it.
func commit(ctx context.Context, env *explore.Env, g *arch.Graph) (dsdb.RowID, *profile.Statistics, error) {
	aid, err := env.Store.FindArchitecture(ctx, g)
	if errors.Is(err, dsdb.ErrNotFound) {
		aid, err = env.Store.AddArchitecture(ctx, g)
	}
	if err != nil {
		return 0, nil, err
	}

	st, _, err := env.Profiler.Profile(ctx, aid, g)
	if err != nil {
		return 0, nil, err
	}

	id, err := env.Store.AddConfiguration(ctx, dsdb.Configuration{ArchitectureID: aid})
	if err != nil {
		return 0, nil, err
	}

	return id, st, nil
}

func nameSet(names []string) map[string]bool {
	m := make(map[string]bool, len(names))
	for _, n := range names {
		m[n] = true
	}
	return m
}

func pruneUnusedUnits(ctx context.Context, env *explore.Env, conf dsdb.RowID, p explore.Params) (_ []dsdb.RowID, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, PruneUnusedUnits, "conf", conf)
	defer tr.Finish("err", &err)

	c, g, err := load(ctx, env, conf)
	if err != nil {
		return nil, err
	}

	st, err := profileInput(ctx, env, c, g)
	if err != nil {
		return nil, err
	}

	mode := p.String("mode", "scalar")
	if mode != "scalar" && mode != "vector" {
		return nil, errors.New("mode %q: want scalar or vector", mode)
	}

	keep := nameSet(p.List("skeleton"))
	out := g.Clone()
	removed := 0

	for _, u := range g.FunctionUnits() {
		x := g.Unit(u)
		vector := mode == "scalar" && x.HasVectorOperation()
		if keep[x.Name] || (st.UnitUse(u) > 0 && !vector) {
			continue
		}
		if err := out.DeleteUnit(u); err != nil {
			return nil, err
		}
		tr.Printw("unit pruned", "unit", x.Name, "vector", vector)
		removed++
	}

	if removed == 0 {
		return []dsdb.RowID{conf}, nil
	}

	out.Sweep()

	id, _, err := commit(ctx, env, out)
	if err != nil {
		return nil, err
	}

	return []dsdb.RowID{id}, nil
}

func positiveInt(p explore.Params, key string, def int) (int, error) {
	w, err := p.Int(key, def)
	if err != nil {
		return 0, err
	}
	if w <= 0 {
		return 0, errors.New("%v must be positive", key)
	}
	return w, nil
}
