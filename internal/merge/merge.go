// Package merge folds the least co-active pair of compatible resources.
package merge

import (
	"github.com/nikandfor/errors"

	"ttadse/internal/arch"
	"ttadse/internal/profile"
)

var (
	ErrCarrierMerge = errors.New("cannot merge two long immediate carriers")
	ErrIncompatible = errors.New("resources are not compatible")
)

type Kind int

const (
	Buses Kind = iota
	FunctionUnits
	RegisterPorts
)

func (k Kind) String() string {
	switch k {
	case FunctionUnits:
		return "function_units"
	case RegisterPorts:
		return "register_ports"
	}
	return "buses"
}

type Options struct {
	// DontMerge names resources that never take part in a fold.
	DontMerge map[string]bool
	// MinLSUs is the load/store unit floor; two LSUs pair only while more
	// than MinLSUs remain.
	MinLSUs int
	// RegisterFile limits register port merges to the named file.
	RegisterFile string
}

// Pair is a merge candidate. A and B are ordinals among the live resources
// of the kind; B is folded into A.
type Pair struct {
	A, B         int
	NameA, NameB string
	Score        float64
}

// resource is the per-kind half of the merge step.
type resource interface {
	ids(g *arch.Graph) []int
	name(g *arch.Graph, id int) string
	compatible(g *arch.Graph, a, b int, o Options) bool
	score(st *profile.Statistics, i, j int) float64
	fold(g *arch.Graph, a, b int) error
}

func resourceOf(k Kind) resource {
	switch k {
	case FunctionUnits:
		return units{}
	case RegisterPorts:
		return registerPorts{}
	}
	return buses{}
}

// Candidates lists compatible pairs in ordinal order with their
// co-activity. A nil st scores every pair zero.
func Candidates(g *arch.Graph, st *profile.Statistics, k Kind, o Options) []Pair {
	r := resourceOf(k)
	ids := r.ids(g)

	var out []Pair
	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			if !r.compatible(g, ids[i], ids[j], o) {
				continue
			}
			p := Pair{A: i, B: j, NameA: r.name(g, ids[i]), NameB: r.name(g, ids[j])}
			if st != nil {
				p.Score = r.score(st, i, j)
			}
			out = append(out, p)
		}
	}
	return out
}

// Step folds the least co-active compatible pair on a clone of g and
// sweeps what the fold left dangling. ok is false when no pair exists.
func Step(g *arch.Graph, st *profile.Statistics, k Kind, o Options) (*arch.Graph, Pair, bool, error) {
	r := resourceOf(k)
	if len(r.ids(g)) < 2 {
		return nil, Pair{}, false, nil
	}

	cands := Candidates(g, st, k, o)
	if len(cands) == 0 {
		return nil, Pair{}, false, nil
	}

	best := cands[0]
	for _, p := range cands[1:] {
		if p.Score < best.Score {
			best = p
		}
	}

	c, err := Fold(g, k, best.A, best.B)
	if err != nil {
		return nil, best, false, err
	}

	return c, best, true, nil
}

// Fold merges the resource with ordinal b into the one with ordinal a on a
// clone of g.
func Fold(g *arch.Graph, k Kind, a, b int) (*arch.Graph, error) {
	r := resourceOf(k)
	ids := r.ids(g)
	if a < 0 || b < 0 || a >= len(ids) || b >= len(ids) || a == b {
		return nil, errors.New("bad %v pair %d, %d", k, a, b)
	}

	c := g.Clone()
	if err := r.fold(c, ids[a], ids[b]); err != nil {
		return nil, errors.Wrap(err, "fold %v %v into %v", k, r.name(g, ids[b]), r.name(g, ids[a]))
	}
	c.Sweep()

	return c, nil
}
