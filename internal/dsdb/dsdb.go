// Package dsdb is the exploration database: an append-only history of
// architectures, configurations, workloads and measured cycle counts.
package dsdb

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/nikandfor/errors"

	"ttadse/internal/arch"
)

var (
	ErrNotFound = errors.New("row not found")
	// ErrCorrupt is returned for a stored architecture that does not decode.
	ErrCorrupt = errors.New("corrupt architecture")
)

// RowID addresses a row. Ids start at 1 and are never reused.
type RowID int64

// Configuration is an architecture with an optional implementation.
type Configuration struct {
	ArchitectureID    RowID
	ImplementationID  RowID
	HasImplementation bool
}

// Workload is a benchmark program the toolchain knows how to load.
type Workload struct {
	ID   RowID
	Name string
	Path string
}

type Store interface {
	Configuration(ctx context.Context, id RowID) (Configuration, error)
	// Architecture decodes a fresh graph on every call.
	Architecture(ctx context.Context, id RowID) (*arch.Graph, error)
	AddArchitecture(ctx context.Context, g *arch.Graph) (RowID, error)
	// FindArchitecture returns the first stored architecture encoding the
	// same as g, or ErrNotFound.
	FindArchitecture(ctx context.Context, g *arch.Graph) (RowID, error)
	AddConfiguration(ctx context.Context, c Configuration) (RowID, error)

	// CycleCounts returns the latest count of every workload measured on
	// the configuration architecture, in workload order.
	CycleCounts(ctx context.Context, c Configuration) ([]uint64, error)
	AddCycleCount(ctx context.Context, workload, architecture RowID, cycles uint64) error

	AddWorkload(ctx context.Context, w Workload) (RowID, error)
	Workloads(ctx context.Context) ([]Workload, error)

	Close() error
}

func architectureHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// AddArchitectureConfiguration stores g and a configuration pointing at it.
func AddArchitectureConfiguration(ctx context.Context, s Store, g *arch.Graph) (RowID, error) {
	aid, err := s.AddArchitecture(ctx, g)
	if err != nil {
		return 0, err
	}
	return s.AddConfiguration(ctx, Configuration{ArchitectureID: aid})
}

// LoadArchitecture resolves a configuration id into its architecture.
func LoadArchitecture(ctx context.Context, s Store, conf RowID) (Configuration, *arch.Graph, error) {
	c, err := s.Configuration(ctx, conf)
	if err != nil {
		return c, nil, err
	}
	g, err := s.Architecture(ctx, c.ArchitectureID)
	if err != nil {
		return c, nil, err
	}
	return c, g, nil
}

// AverageCycles averages counts; no counts average to 0.
func AverageCycles(counts []uint64) uint64 {
	if len(counts) == 0 {
		return 0
	}
	var sum uint64
	for _, c := range counts {
		sum += c
	}
	return sum / uint64(len(counts))
}
