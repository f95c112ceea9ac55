package runner

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/invar/internal/eval"
	"github.com/roach88/invar/internal/ir"
)

// Metrics counts verdicts and evaluation errors.
type Metrics struct {
	Verdicts      *prometheus.CounterVec
	Errors        *prometheus.CounterVec
	TrialDuration prometheus.Histogram
}

// NewMetrics creates the runner metrics and registers them with registry.
func NewMetrics(registry prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		Verdicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "invar",
			Name:      "verdicts_total",
			Help:      "Invariant verdicts by status",
		}, []string{"status"}),
		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "invar",
			Name:      "evaluation_errors_total",
			Help:      "Invariant evaluation errors by error kind",
		}, []string{"kind"}),
		TrialDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "invar",
			Name:      "trial_duration_seconds",
			Help:      "Time to build one trial context and check every invariant against it",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	for _, c := range []prometheus.Collector{m.Verdicts, m.Errors, m.TrialDuration} {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// RecordVerdict counts one verdict.
func (m *Metrics) RecordVerdict(v eval.Verdict) {
	m.Verdicts.WithLabelValues(string(v.Status)).Inc()
	if v.Status == eval.StatusError {
		kind := v.Kind
		if kind == "" {
			kind = ir.ErrMalformedAST
		}
		m.Errors.WithLabelValues(string(kind)).Inc()
	}
}

// RecordTrial observes one trial's duration.
func (m *Metrics) RecordTrial(d time.Duration) {
	m.TrialDuration.Observe(d.Seconds())
}
