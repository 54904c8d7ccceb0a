// Package toolchain is a small reference compiler and simulator: it list
// schedules an operation DAG onto the moves of a transport triggered
// machine and counts cycles.
package toolchain

import (
	"encoding/json"
	"os"

	"github.com/nikandfor/errors"
)

// Op is one operation of the workload. Deps name the producers of its
// input operands in operand order; Literal, when set, feeds the last
// input operand.
type Op struct {
	Name    string
	Deps    []int
	Literal *int64
}

// Workload is a loop body executed Iterations times.
type Workload struct {
	Name       string
	Iterations uint64
	Ops        []Op
}

type WorkloadJSON struct {
	Name       string   `json:"name"`
	Iterations uint64   `json:"iterations"`
	Ops        []OpJSON `json:"ops"`
}

type OpJSON struct {
	Op      string `json:"op"`
	Deps    []int  `json:"deps,omitempty"`
	Literal *int64 `json:"literal,omitempty"`
}

func ReadWorkload(filename string) (*Workload, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.Wrap(err, "reading workload file")
	}
	return ParseWorkload(data)
}

func ParseWorkload(data []byte) (*Workload, error) {
	var wj WorkloadJSON
	if err := json.Unmarshal(data, &wj); err != nil {
		return nil, errors.Wrap(err, "parsing workload JSON")
	}

	w := &Workload{Name: wj.Name, Iterations: wj.Iterations}
	if w.Iterations == 0 {
		w.Iterations = 1
	}

	for i, oj := range wj.Ops {
		for _, d := range oj.Deps {
			if d < 0 || d >= len(wj.Ops) || d == i {
				return nil, errors.New("op %d (%v): bad dependency %d", i, oj.Op, d)
			}
		}
		w.Ops = append(w.Ops, Op{Name: oj.Op, Deps: oj.Deps, Literal: oj.Literal})
	}

	return w, nil
}

// Lit is a helper for building workloads in code.
func Lit(v int64) *int64 { return &v }
