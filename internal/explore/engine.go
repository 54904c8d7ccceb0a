// Package explore drives a pipeline of stages over the configuration store,
// pruning against a cycle budget and backtracking when a stage comes up
// empty.
package explore

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/nikandfor/errors"
	"github.com/nikandfor/tlog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"ttadse/internal/arch"
	"ttadse/internal/dsdb"
	"ttadse/internal/oracle"
)

type Engine struct {
	Env    Env
	Oracle oracle.Oracle
	// Recovery defaults to Backtrack.
	Recovery RecoveryPolicy
	// Metrics is optional.
	Metrics *Metrics

	stages []bound
}

type bound struct {
	PipelineStage
	stage Stage
}

// Result of one exploration run.
type Result struct {
	ID             string
	Configurations []dsdb.RowID
	Backtracks     int
	Rejections     int
}

// NewEngine resolves every pipeline stage in reg.
func NewEngine(reg *Registry, pipeline []PipelineStage, env Env) (*Engine, error) {
	if len(pipeline) == 0 {
		return nil, errors.New("empty pipeline")
	}

	e := &Engine{Env: env}

	for _, ps := range pipeline {
		s, err := reg.New(ps.Name)
		if err != nil {
			return nil, err
		}
		e.stages = append(e.stages, bound{PipelineStage: ps, stage: s})
	}

	return e, nil
}

func (e *Engine) Stages() []string {
	names := make([]string, len(e.stages))
	for i, s := range e.stages {
		names[i] = s.Name
	}
	return names
}

// Explore runs the pipeline from the start configuration. Each stage gets
// the last surviving candidate of the previous one. When a stage has no
// candidate within the cycle budget the engine drops the candidate that
// led there and retries with the next one of an earlier stage. Final
// candidates are checked by the oracle; rejected ones are routed by the
// recovery policy. The run ends when cfg.ResultSize results are found,
// cfg.ResultSize candidates are rejected, or the first stage is used up.
func (e *Engine) Explore(ctx context.Context, start dsdb.RowID, cfg Config) (res Result, err error) {
	res.ID = uuid.New().String()

	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "explore", "run", res.ID, "start", start, "stages", len(e.stages))
	defer tr.Finish("err", &err)

	began := time.Now()
	tr.Printw("exploration started", "target_cc", cfg.TargetCycles, "target_f", cfg.TargetMHz, "result_size", cfg.ResultSize)

	if _, _, err := dsdb.LoadArchitecture(ctx, e.Env.Store, start); err != nil {
		if classify(err) != errLoad {
			return res, err
		}
		tr.Printw("cannot load starting configuration", "conf", start, "err", err)
		return res, nil
	}

	n := len(e.stages)
	live := make([][]dsdb.RowID, n)
	i, cur := 0, start

	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		s := e.stages[i]

		cands, err := e.run(ctx, i, cur)
		if err != nil {
			if classify(err) != errLoad {
				return res, errors.Wrap(err, "stage %v", s.Name)
			}
			tr.Printw("branch aborted", "stage", s.Name, "conf", cur, "err", err)
			cands = nil
		}

		pruned, err := e.prune(ctx, cands, cfg.TargetCycles)
		if err != nil {
			return res, err
		}
		if len(pruned) == 0 && s.KeepOverBudget {
			pruned = cands
		}
		if e.Metrics != nil {
			e.Metrics.Pruned.WithLabelValues(s.Name).Add(float64(len(cands) - len(pruned)))
		}

		if len(pruned) == 0 {
			tr.Printw("no candidate within budget", "stage", s.Name, "conf", cur, "candidates", len(cands))

			var ok bool
			if i, cur, ok = e.backtrack(live, i, &res); !ok {
				break
			}
			continue
		}

		live[i] = pruned
		cur = pruned[len(pruned)-1]

		if i < n-1 {
			i++
			continue
		}

		from, done, err := e.final(ctx, cur, cfg, &res)
		if err != nil {
			return res, err
		}
		if done {
			break
		}

		var ok bool
		if i, cur, ok = e.backtrack(live, from, &res); !ok {
			break
		}
	}

	tr.Printw("exploration finished",
		"results", len(res.Configurations), "backtracks", res.Backtracks, "rejections", res.Rejections,
		"took", time.Since(began))

	return res, nil
}

func (e *Engine) run(ctx context.Context, i int, conf dsdb.RowID) (ids []dsdb.RowID, err error) {
	s := e.stages[i]

	ctx, span := otel.Tracer("explore").Start(ctx, "explore."+s.Name,
		trace.WithAttributes(
			attribute.Int("stage", i),
			attribute.Int64("configuration", int64(conf)),
		),
	)
	defer span.End()

	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "stage", "name", s.Name, "conf", conf)
	defer tr.Finish("err", &err)

	if tr.If("explore_params") {
		for _, k := range s.Params.Keys() {
			tr.Printw("param", "key", k, "value", s.Params[k])
		}
	}

	if e.Metrics != nil {
		e.Metrics.StageRuns.WithLabelValues(s.Name).Inc()
	}

	ids, err = s.stage.Run(ctx, &e.Env, conf, s.Params)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "stage failed")
		return nil, err
	}

	span.SetAttributes(attribute.Int("candidates", len(ids)))
	tr.Printw("stage done", "candidates", len(ids))

	return ids, nil
}

// prune keeps candidates whose average cycle count is within target.
// Candidates that no longer load are dropped.
func (e *Engine) prune(ctx context.Context, ids []dsdb.RowID, target uint64) ([]dsdb.RowID, error) {
	if target == 0 {
		return ids, nil
	}

	tr := tlog.SpanFromContext(ctx)

	var out []dsdb.RowID
	for _, id := range ids {
		cc, err := e.averageCycles(ctx, id)
		if classify(err) == errLoad {
			tr.Printw("dropping candidate", "conf", id, "err", err)
			continue
		}
		if err != nil {
			return nil, err
		}
		if cc <= target {
			out = append(out, id)
		}
	}

	return out, nil
}

func (e *Engine) averageCycles(ctx context.Context, id dsdb.RowID) (uint64, error) {
	c, err := e.Env.Store.Configuration(ctx, id)
	if err != nil {
		return 0, err
	}
	counts, err := e.Env.Store.CycleCounts(ctx, c)
	if err != nil {
		return 0, err
	}
	return dsdb.AverageCycles(counts), nil
}

// final asks the oracle about cur. It returns the stage to retry from and
// whether the run is over.
func (e *Engine) final(ctx context.Context, cur dsdb.RowID, cfg Config, res *Result) (from int, done bool, err error) {
	tr := tlog.SpanFromContext(ctx)
	last := len(e.stages) - 1

	_, g, err := dsdb.LoadArchitecture(ctx, e.Env.Store, cur)
	if classify(err) == errLoad {
		tr.Printw("branch aborted", "conf", cur, "err", err)
		return last, false, nil
	}
	if err != nil {
		return 0, false, err
	}

	ok := true
	if e.Oracle != nil {
		ok, err = e.Oracle.MeetsFrequency(ctx, g, cfg.TargetMHz)
		if err != nil {
			return 0, false, errors.Wrap(err, "oracle")
		}
	}

	if ok {
		res.Configurations = append(res.Configurations, cur)
		if e.Metrics != nil {
			e.Metrics.Results.Inc()
		}

		if sum, err := Describe(ctx, e.Env.Store, cur); err == nil {
			tr.Printw("result", "conf", cur, "units", sum.Units, "buses", sum.Buses,
				"rf_ports", sum.RegisterPorts, "cycles", sum.Cycles)
		}

		return last, len(res.Configurations) >= cfg.ResultSize, nil
	}

	res.Rejections++
	if e.Metrics != nil {
		e.Metrics.Rejections.Inc()
	}

	var policy RecoveryPolicy = Backtrack{}
	if e.Recovery != nil {
		policy = e.Recovery
	}

	from = policy.Route(ctx, g, e.Stages())
	if from < 0 || from > last {
		from = last
	}

	tr.Printw("frequency failed", "conf", cur, "retry_from", e.stages[from].Name)

	return from, res.Rejections >= cfg.ResultSize, nil
}

// backtrack drops the candidate stage from was run on and resumes with the
// next one, walking further back while lists run empty. ok is false once
// the first stage's list is used up.
func (e *Engine) backtrack(live [][]dsdb.RowID, from int, res *Result) (stage int, conf dsdb.RowID, ok bool) {
	res.Backtracks++
	if e.Metrics != nil {
		e.Metrics.Backtracks.Inc()
	}

	for j := from; j > 0; j-- {
		l := live[j-1]
		if len(l) > 0 {
			l = l[:len(l)-1]
			live[j-1] = l
		}
		if len(l) > 0 {
			return j, l[len(l)-1], true
		}
	}

	return 0, 0, false
}

type errClass int

const (
	errNone errClass = iota
	// errLoad aborts the branch and counts as an empty candidate list.
	errLoad
	// errFatal ends the run: schedule failures, structural errors,
	// cancellation.
	errFatal
)

func classify(err error) errClass {
	switch {
	case err == nil:
		return errNone
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return errFatal
	case errors.Is(err, dsdb.ErrNotFound), errors.Is(err, dsdb.ErrCorrupt):
		return errLoad
	}
	return errFatal
}

// Summary describes a stored configuration.
type Summary struct {
	Configuration dsdb.RowID
	Architecture  dsdb.RowID
	Units         int
	Buses         int
	RegisterPorts int
	Registers     int
	Cycles        uint64
}

func Describe(ctx context.Context, s dsdb.Store, id dsdb.RowID) (Summary, error) {
	c, g, err := dsdb.LoadArchitecture(ctx, s, id)
	if err != nil {
		return Summary{}, err
	}

	counts, err := s.CycleCounts(ctx, c)
	if err != nil {
		return Summary{}, err
	}

	sum := Summary{
		Configuration: id,
		Architecture:  c.ArchitectureID,
		Units:         len(g.FunctionUnits()),
		Buses:         len(g.Buses()),
		Cycles:        dsdb.AverageCycles(counts),
	}
	for _, rf := range g.UnitsOf(arch.RegisterFile) {
		sum.RegisterPorts += len(g.Unit(rf).Ports)
		sum.Registers += g.Unit(rf).Registers
	}

	return sum, nil
}
