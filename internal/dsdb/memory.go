package dsdb

import (
	"context"
	"sort"

	"github.com/nikandfor/errors"

	"ttadse/internal/arch"
)

// Memory keeps everything in process. Architectures are stored encoded so
// every load hands out an independent graph.
type Memory struct {
	archs  [][]byte
	hashes map[string]RowID // first architecture per encoding
	confs  []Configuration
	works  []Workload
	cycles map[RowID]map[RowID]uint64 // architecture -> workload -> cycles
}

func NewMemory() *Memory {
	return &Memory{
		hashes: make(map[string]RowID),
		cycles: make(map[RowID]map[RowID]uint64),
	}
}

func (m *Memory) Configuration(ctx context.Context, id RowID) (Configuration, error) {
	if id < 1 || int(id) > len(m.confs) {
		return Configuration{}, errors.Wrap(ErrNotFound, "configuration %d", id)
	}
	return m.confs[id-1], nil
}

func (m *Memory) Architecture(ctx context.Context, id RowID) (*arch.Graph, error) {
	if id < 1 || int(id) > len(m.archs) {
		return nil, errors.Wrap(ErrNotFound, "architecture %d", id)
	}
	g, err := arch.Decode(m.archs[id-1])
	if err != nil {
		return nil, errors.Wrap(ErrCorrupt, "architecture %d: %v", id, err)
	}
	return g, nil
}

func (m *Memory) AddArchitecture(ctx context.Context, g *arch.Graph) (RowID, error) {
	data, err := g.Encode()
	if err != nil {
		return 0, err
	}
	m.archs = append(m.archs, data)
	id := RowID(len(m.archs))
	if h := architectureHash(data); m.hashes[h] == 0 {
		m.hashes[h] = id
	}
	return id, nil
}

func (m *Memory) FindArchitecture(ctx context.Context, g *arch.Graph) (RowID, error) {
	data, err := g.Encode()
	if err != nil {
		return 0, err
	}
	if id, ok := m.hashes[architectureHash(data)]; ok {
		return id, nil
	}
	return 0, errors.Wrap(ErrNotFound, "architecture %v", g.Name)
}

func (m *Memory) AddConfiguration(ctx context.Context, c Configuration) (RowID, error) {
	if c.ArchitectureID < 1 || int(c.ArchitectureID) > len(m.archs) {
		return 0, errors.Wrap(ErrNotFound, "architecture %d", c.ArchitectureID)
	}
	m.confs = append(m.confs, c)
	return RowID(len(m.confs)), nil
}

func (m *Memory) CycleCounts(ctx context.Context, c Configuration) ([]uint64, error) {
	byWork := m.cycles[c.ArchitectureID]
	ids := make([]RowID, 0, len(byWork))
	for w := range byWork {
		ids = append(ids, w)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]uint64, 0, len(ids))
	for _, w := range ids {
		out = append(out, byWork[w])
	}
	return out, nil
}

func (m *Memory) AddCycleCount(ctx context.Context, workload, architecture RowID, cycles uint64) error {
	if workload < 1 || int(workload) > len(m.works) {
		return errors.Wrap(ErrNotFound, "workload %d", workload)
	}
	if architecture < 1 || int(architecture) > len(m.archs) {
		return errors.Wrap(ErrNotFound, "architecture %d", architecture)
	}
	byWork := m.cycles[architecture]
	if byWork == nil {
		byWork = make(map[RowID]uint64)
		m.cycles[architecture] = byWork
	}
	byWork[workload] = cycles
	return nil
}

func (m *Memory) AddWorkload(ctx context.Context, w Workload) (RowID, error) {
	w.ID = RowID(len(m.works) + 1)
	m.works = append(m.works, w)
	return w.ID, nil
}

func (m *Memory) Workloads(ctx context.Context) ([]Workload, error) {
	return append([]Workload(nil), m.works...), nil
}

func (m *Memory) Close() error { return nil }
