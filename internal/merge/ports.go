package merge

import (
	"ttadse/internal/arch"
	"ttadse/internal/profile"
)

// registerPorts merges two read or two write ports of one register file.
// The survivor's socket takes over every bus the other one touched.
type registerPorts struct{}

func (registerPorts) ids(g *arch.Graph) []int {
	var out []int
	for _, p := range g.RegisterPorts() {
		out = append(out, int(p))
	}
	return out
}

func (registerPorts) name(g *arch.Graph, id int) string {
	p := g.Port(arch.PortID(id))
	return g.Unit(p.Unit).Name + "." + p.Name
}

func (r registerPorts) compatible(g *arch.Graph, a, b int, o Options) bool {
	x, y := g.Port(arch.PortID(a)), g.Port(arch.PortID(b))
	if x.Unit != y.Unit || x.Input != y.Input {
		return false
	}
	rf := g.Unit(x.Unit).Name
	if o.RegisterFile != "" && rf != o.RegisterFile {
		return false
	}
	return !o.DontMerge[rf] && !o.DontMerge[r.name(g, a)] && !o.DontMerge[r.name(g, b)]
}

func (registerPorts) score(st *profile.Statistics, i, j int) float64 {
	if i >= st.PortActivity.N || j >= st.PortActivity.N {
		return 0
	}
	return st.PortActivity.At(i, j)
}

func (registerPorts) fold(g *arch.Graph, a, b int) error {
	ida, idb := arch.PortID(a), arch.PortID(b)
	x, y := g.Port(ida), g.Port(idb)
	if x.Unit != y.Unit || x.Input != y.Input {
		return ErrIncompatible
	}

	var segs []arch.SegmentID
	if from := g.Socket(y.Socket); from != nil {
		segs = append(segs, from.Segments...)
	}

	if x.Socket == arch.NoSocket {
		if err := connect(g, ida, segs); err != nil {
			return err
		}
	} else {
		for _, seg := range segs {
			if err := g.Attach(x.Socket, seg); err != nil {
				return err
			}
		}
	}

	g.DeletePort(idb)

	return nil
}
