// Package simm distributes short immediate bits across buses.
package simm

import "math/bits"

// Histogram counts literals by the number of bits they need. Non-negative
// literals are counted by magnitude, negative ones including the sign bit.
type Histogram struct {
	Unsigned []uint64
	Signed   []uint64
}

// RequiredBits returns the field width a literal needs and whether it
// needs sign extension.
func RequiredBits(v int64) (int, bool) {
	if v < 0 {
		return bits.Len64(^uint64(v)) + 1, true
	}
	n := bits.Len64(uint64(v))
	if n == 0 {
		n = 1
	}
	return n, false
}

func (h *Histogram) Add(v int64) { h.AddN(v, 1) }

func (h *Histogram) AddN(v int64, n uint64) {
	w, neg := RequiredBits(v)
	if neg {
		h.Signed = grow(h.Signed, w)
		h.Signed[w] += n
	} else {
		h.Unsigned = grow(h.Unsigned, w)
		h.Unsigned[w] += n
	}
}

// Merge adds the counts of x to h.
func (h *Histogram) Merge(x Histogram) {
	for w, n := range x.Unsigned {
		h.Unsigned = grow(h.Unsigned, w)
		h.Unsigned[w] += n
	}
	for w, n := range x.Signed {
		h.Signed = grow(h.Signed, w)
		h.Signed[w] += n
	}
}

func (h Histogram) Total() uint64 {
	return cumulative(h.Unsigned, len(h.Unsigned)) + cumulative(h.Signed, len(h.Signed))
}

// Covered counts literals that fit a w bit field. A signed field holds
// negatives needing w bits and non-negatives needing w-1.
func (h Histogram) Covered(w int, signed bool) uint64 {
	if w <= 0 {
		return 0
	}
	if !signed {
		return cumulative(h.Unsigned, w)
	}
	return cumulative(h.Signed, w) + cumulative(h.Unsigned, w-1)
}

// Best picks the extension covering more literals with w bits; ties go
// to signed.
func (h Histogram) Best(w int) (uint64, bool) {
	u := h.Covered(w, false)
	s := h.Covered(w, true)
	if u > s {
		return u, false
	}
	return s, true
}

func cumulative(c []uint64, upto int) (sum uint64) {
	for w := 0; w <= upto && w < len(c); w++ {
		sum += c[w]
	}
	return sum
}

func grow(c []uint64, w int) []uint64 {
	for len(c) <= w {
		c = append(c, 0)
	}
	return c
}
