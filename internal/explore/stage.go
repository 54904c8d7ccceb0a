package explore

import (
	"context"
	"sort"

	"github.com/nikandfor/errors"

	"ttadse/internal/dsdb"
	"ttadse/internal/profile"
)

var ErrUnknownStage = errors.New("unknown stage")

// Env is what every stage works against.
type Env struct {
	Store    dsdb.Store
	Profiler *profile.Profiler
}

// Stage turns one configuration into an ordered list of new ones. The last
// candidate is the one exploration continues with.
type Stage interface {
	Run(ctx context.Context, env *Env, conf dsdb.RowID, params Params) ([]dsdb.RowID, error)
}

type StageFunc func(ctx context.Context, env *Env, conf dsdb.RowID, params Params) ([]dsdb.RowID, error)

func (f StageFunc) Run(ctx context.Context, env *Env, conf dsdb.RowID, params Params) ([]dsdb.RowID, error) {
	return f(ctx, env, conf, params)
}

type Factory func() Stage

type Registry struct {
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds or replaces a stage factory.
func (r *Registry) Register(name string, f Factory) {
	r.factories[name] = f
}

func (r *Registry) New(name string) (Stage, error) {
	f, ok := r.factories[name]
	if !ok {
		return nil, errors.Wrap(ErrUnknownStage, "%v", name)
	}
	return f(), nil
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.factories))
	for n := range r.factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// PipelineStage names a stage and its parameter table.
type PipelineStage struct {
	Name   string
	Params Params
	// KeepOverBudget passes the whole candidate list on when none of it
	// meets the cycle budget.
	KeepOverBudget bool
}
