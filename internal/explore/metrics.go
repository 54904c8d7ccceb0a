package explore

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	StageRuns  *prometheus.CounterVec
	Pruned     *prometheus.CounterVec
	Backtracks prometheus.Counter
	Rejections prometheus.Counter
	Results    prometheus.Counter
}

// NewMetrics creates the exploration counters and registers them with reg
// when it is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		StageRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ttadse",
			Name:      "stage_runs_total",
			Help:      "Pipeline stage runs.",
		}, []string{"stage"}),
		Pruned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ttadse",
			Name:      "pruned_candidates_total",
			Help:      "Candidates dropped for exceeding the cycle budget.",
		}, []string{"stage"}),
		Backtracks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ttadse",
			Name:      "backtracks_total",
			Help:      "Backtracks after an empty candidate list.",
		}),
		Rejections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ttadse",
			Name:      "oracle_rejections_total",
			Help:      "Final candidates rejected by the frequency oracle.",
		}),
		Results: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ttadse",
			Name:      "results_total",
			Help:      "Accepted configurations.",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.StageRuns, m.Pruned, m.Backtracks, m.Rejections, m.Results)
	}

	return m
}
