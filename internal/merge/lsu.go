package merge

import (
	"github.com/nikandfor/errors"

	"ttadse/internal/arch"
)

// MergeLoadStoreUnits folds every load/store unit not named in
// o.DontMerge into the first one, on a clone of g. The survivor is renamed
// "LSU" when that name is free. n is the number of units folded away.
func MergeLoadStoreUnits(g *arch.Graph, o Options) (_ *arch.Graph, n int, err error) {
	var lsus []arch.UnitID
	for _, u := range g.FunctionUnits() {
		x := g.Unit(u)
		if x.IsLSU() && !o.DontMerge[x.Name] {
			lsus = append(lsus, u)
		}
	}
	if len(lsus) < 2 {
		return g, 0, nil
	}

	c := g.Clone()
	first := lsus[0]
	width := portWidth(c, c.Unit(first))

	for _, u := range lsus[1:] {
		x := c.Unit(u)
		if portWidth(c, x) != width || x.AddressSpace != c.Unit(first).AddressSpace {
			continue
		}
		if err := (units{}).fold(c, int(first), int(u)); err != nil {
			return nil, 0, errors.Wrap(err, "fold %v", g.Unit(u).Name)
		}
		n++
	}

	if c.Unit(first).Name != "LSU" {
		if _, taken := c.UnitByName("LSU"); !taken {
			if err := c.RenameUnit(first, "LSU"); err != nil {
				return nil, 0, err
			}
		}
	}

	c.Sweep()

	return c, n, nil
}
