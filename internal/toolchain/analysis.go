package toolchain

import "github.com/nikandfor/errors"

// Analysis holds precomputed dependency information of a workload.
type Analysis struct {
	Dependencies map[int][]int
	Dependents   map[int][]int
	TopoOrder    []int
}

func Analyze(w *Workload) (*Analysis, error) {
	a := &Analysis{
		Dependencies: make(map[int][]int),
		Dependents:   make(map[int][]int),
	}

	for i, op := range w.Ops {
		seen := make(map[int]bool)
		for _, d := range op.Deps {
			if seen[d] {
				continue
			}
			seen[d] = true
			a.Dependencies[i] = append(a.Dependencies[i], d)
			a.Dependents[d] = append(a.Dependents[d], i)
		}
	}

	a.TopoOrder = topologicalSort(len(w.Ops), a)
	if len(a.TopoOrder) != len(w.Ops) {
		return nil, errors.New("workload %v: dependency cycle", w.Name)
	}

	return a, nil
}

// topologicalSort is Kahn's algorithm; ready ops leave in index order.
func topologicalSort(n int, a *Analysis) []int {
	inDegree := make([]int, n)
	for i := 0; i < n; i++ {
		inDegree[i] = len(a.Dependencies[i])
	}

	queue := make([]int, 0)
	for i := 0; i < n; i++ {
		if inDegree[i] == 0 {
			queue = append(queue, i)
		}
	}

	order := make([]int, 0, n)
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		order = append(order, node)
		for _, dep := range a.Dependents[node] {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}
	return order
}
