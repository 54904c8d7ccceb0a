package stages

import (
	"context"

	"github.com/nikandfor/errors"
	"github.com/nikandfor/tlog"

	"ttadse/internal/arch"
	"ttadse/internal/dsdb"
	"ttadse/internal/explore"
	"ttadse/internal/simm"
)

// shortImmediateOptimizer spends total_bits on the buses' short immediate
// fields according to the literals the workloads move. A zero budget
// keeps the bits the input already spends; bits_per_bus overrides both.
func shortImmediateOptimizer(ctx context.Context, env *explore.Env, conf dsdb.RowID, p explore.Params) (_ []dsdb.RowID, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, ShortImmediateOptimizer, "conf", conf)
	defer tr.Finish("err", &err)

	budget, err := p.Int("total_bits", 0)
	if err != nil {
		return nil, err
	}
	perBus, err := p.Int("bits_per_bus", 0)
	if err != nil {
		return nil, err
	}
	if budget < 0 || perBus < 0 {
		return nil, errors.New("negative short immediate budget")
	}

	c, g, err := load(ctx, env, conf)
	if err != nil {
		return nil, err
	}

	switch {
	case perBus > 0:
		budget = perBus * len(g.Buses())
	case budget == 0:
		for _, b := range g.Buses() {
			budget += g.Bus(b).ImmWidth
		}
	}

	st, err := profileInput(ctx, env, c, g)
	if err != nil {
		return nil, err
	}

	choices := simm.Allocate(simm.BusWidths(g), budget, st.Literals)

	if tr.If("simm_table") {
		for i, id := range g.Buses() {
			tr.Printw("short immediate", "bus", g.Bus(id).Name, "width", choices[i].Width, "signed", choices[i].Signed,
				"literals", st.Literals[i].Total())
		}
	}

	out := g.Clone()
	if err := simm.Apply(out, choices); err != nil {
		return nil, err
	}

	tr.Printw("short immediates", "bits", simm.Bits(choices), "covered", simm.Coverage(choices, st.Literals))

	id, _, err := commit(ctx, env, out)
	if err != nil {
		return nil, err
	}

	return []dsdb.RowID{id}, nil
}

// immediateGenerator swaps an instruction template for a long immediate
// template of the given width on the widest bus.
func immediateGenerator(ctx context.Context, env *explore.Env, conf dsdb.RowID, p explore.Params) (_ []dsdb.RowID, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, ImmediateGenerator, "conf", conf)
	defer tr.Finish("err", &err)

	width, err := positiveInt(p, "width", 32)
	if err != nil {
		return nil, err
	}
	remove := p.String("remove_it_name", "")
	add := p.String("add_it_name", "limm32")

	_, g, err := load(ctx, env, conf)
	if err != nil {
		return nil, err
	}

	out := g.Clone()
	if err := generateImmediate(out, remove, add, width); err != nil {
		return nil, err
	}

	tr.Printw("template", "removed", remove, "added", add, "width", width)

	id, _, err := commit(ctx, env, out)
	if err != nil {
		return nil, err
	}

	return []dsdb.RowID{id}, nil
}

func generateImmediate(g *arch.Graph, remove, add string, width int) error {
	bus := arch.NoBus
	for _, b := range g.Buses() {
		if bus == arch.NoBus || g.Bus(b).Width > g.Bus(bus).Width {
			bus = b
		}
	}
	if bus == arch.NoBus {
		return errors.New("no bus for template %v", add)
	}

	ius := g.UnitsOf(arch.ImmediateUnit)
	if len(ius) == 0 {
		return errors.New("no immediate unit for template %v", add)
	}

	if remove != "" {
		g.RemoveTemplate(remove)
	}

	return g.AddTemplate(arch.Template{
		Name:  add,
		Slots: []arch.TemplateSlot{{Bus: bus, Width: width, Destination: ius[0]}},
	})
}
