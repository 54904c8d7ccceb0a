package explore

import (
	"context"

	"ttadse/internal/arch"
)

// RecoveryPolicy picks the stage a candidate rejected by the oracle is
// retried from. stages are the pipeline stage names; the returned index is
// clamped to the pipeline.
type RecoveryPolicy interface {
	Route(ctx context.Context, g *arch.Graph, stages []string) int
}

// Backtrack retries the final stage with the next candidate of its
// predecessor.
type Backtrack struct{}

func (Backtrack) Route(_ context.Context, _ *arch.Graph, stages []string) int {
	return len(stages) - 1
}

// RouteTo retries from the named stage, or backtracks when the pipeline
// does not have it.
type RouteTo struct {
	Stage string
}

func (r RouteTo) Route(_ context.Context, _ *arch.Graph, stages []string) int {
	for i, s := range stages {
		if s == r.Stage {
			return i
		}
	}
	return len(stages) - 1
}

type RouteFunc func(ctx context.Context, g *arch.Graph, stages []string) int

func (f RouteFunc) Route(ctx context.Context, g *arch.Graph, stages []string) int {
	return f(ctx, g, stages)
}
