package merge

import (
	"ttadse/internal/arch"
	"ttadse/internal/profile"
)

type buses struct{}

func (buses) ids(g *arch.Graph) []int {
	var out []int
	for _, b := range g.Buses() {
		out = append(out, int(b))
	}
	return out
}

func (buses) name(g *arch.Graph, id int) string {
	return g.Bus(arch.BusID(id)).Name
}

func (buses) compatible(g *arch.Graph, a, b int, o Options) bool {
	x, y := g.Bus(arch.BusID(a)), g.Bus(arch.BusID(b))
	if x.Width != y.Width {
		return false
	}
	if o.DontMerge[x.Name] || o.DontMerge[y.Name] {
		return false
	}
	return !(g.IsCarrier(arch.BusID(a)) && g.IsCarrier(arch.BusID(b)))
}

func (buses) score(st *profile.Statistics, i, j int) float64 {
	if i >= st.BusActivity.N || j >= st.BusActivity.N {
		return 0
	}
	return st.BusActivity.At(i, j)
}

// fold moves every connection of b onto a and removes b. When b carried
// long immediates the templates are rebuilt on a.
func (buses) fold(g *arch.Graph, a, b int) error {
	ida, idb := arch.BusID(a), arch.BusID(b)
	x, y := g.Bus(ida), g.Bus(idb)

	if x.Width != y.Width {
		return ErrIncompatible
	}
	if g.IsCarrier(ida) && g.IsCarrier(idb) {
		return ErrCarrierMerge
	}

	rebuild := g.IsCarrier(idb)
	slotWidth, dst := 0, arch.NoUnit
	for _, t := range g.Templates() {
		for _, s := range t.Slots {
			if s.Bus == idb && s.Width > slotWidth {
				slotWidth, dst = s.Width, s.Destination
			}
		}
	}

	seg := x.Segments[0]
	for _, s := range g.SocketsOn(idb) {
		if err := g.Attach(s, seg); err != nil {
			return err
		}
	}

	if y.ImmWidth > x.ImmWidth {
		x.ImmWidth = y.ImmWidth
		x.SignExtends = y.SignExtends
	}

	g.MoveGuards(idb, ida)

	if err := g.DeleteBus(idb); err != nil {
		return err
	}

	if rebuild {
		g.ClearTemplates()
		if err := g.AddTemplate(arch.Template{Name: "no_limm"}); err != nil {
			return err
		}
		err := g.AddTemplate(arch.Template{
			Name:  "limm",
			Slots: []arch.TemplateSlot{{Bus: ida, Width: slotWidth, Destination: dst}},
		})
		if err != nil {
			return err
		}
	}

	g.DedupeRegisterFileSockets()

	return nil
}
