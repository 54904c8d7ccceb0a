package simm

import (
	"github.com/nikandfor/errors"

	"ttadse/internal/arch"
)

// Choice is the short immediate field of one bus.
type Choice struct {
	Width  int
	Signed bool
}

// Allocate spends at most budget bits on the buses' short immediate
// fields. Each bus gets at most its width minus one. The greedy step gives
// the next run of bits to the bus with the best literals per bit; the
// returned allocation is the best greedy result over all budgets up to
// budget, so coverage never drops when the budget grows.
func Allocate(busWidths []int, budget int, hists []Histogram) []Choice {
	if budget < 0 {
		budget = 0
	}

	best := greedy(busWidths, 0, hists)
	bestCov := Coverage(best, hists)

	for b := 1; b <= budget; b++ {
		c := greedy(busWidths, b, hists)
		if cov := Coverage(c, hists); cov > bestCov {
			best, bestCov = c, cov
		}
	}

	return best
}

func greedy(busWidths []int, budget int, hists []Histogram) []Choice {
	widths := make([]int, len(busWidths))
	left := budget

	for left > 0 {
		bus, next := -1, 0
		var metric float64

		for i, bw := range busWidths {
			h := histogram(hists, i)
			cur, _ := h.Best(widths[i])

			for w := widths[i] + 1; w <= bw-1 && w-widths[i] <= left; w++ {
				cov, _ := h.Best(w)
				if cov <= cur {
					continue
				}
				m := float64(cov-cur) / float64(w-widths[i])
				if m > metric {
					bus, next, metric = i, w, m
				}
			}
		}

		if bus < 0 {
			break
		}

		left -= next - widths[bus]
		widths[bus] = next
	}

	out := make([]Choice, len(busWidths))
	for i, w := range widths {
		_, signed := histogram(hists, i).Best(w)
		out[i] = Choice{Width: w, Signed: signed}
	}
	return out
}

// Coverage counts the literals the allocation can encode.
func Coverage(choices []Choice, hists []Histogram) (sum uint64) {
	for i, c := range choices {
		sum += histogram(hists, i).Covered(c.Width, c.Signed)
	}
	return sum
}

// Bits is the total width spent.
func Bits(choices []Choice) (sum int) {
	for _, c := range choices {
		sum += c.Width
	}
	return sum
}

func histogram(hists []Histogram, i int) Histogram {
	if i < len(hists) {
		return hists[i]
	}
	return Histogram{}
}

// BusWidths lists the widths of the live buses in position order.
func BusWidths(g *arch.Graph) []int {
	var out []int
	for _, id := range g.Buses() {
		out = append(out, g.Bus(id).Width)
	}
	return out
}

// Apply writes the allocation to the live buses in position order.
func Apply(g *arch.Graph, choices []Choice) error {
	buses := g.Buses()
	if len(buses) != len(choices) {
		return errors.New("%d choices for %d buses", len(choices), len(buses))
	}
	for i, id := range buses {
		b := g.Bus(id)
		b.ImmWidth = choices[i].Width
		b.SignExtends = choices[i].Signed
	}
	return nil
}
