package fill

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/mbfit/internal/metrics"
)

type fillMetrics struct {
	subsetsComputed prometheus.Counter
	jobsComputed    prometheus.Counter
	jobsFailed      prometheus.Counter
	callSeconds     prometheus.Histogram
}

func newMetrics(reg prometheus.Registerer) (*fillMetrics, error) {
	m := &fillMetrics{
		subsetsComputed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "fill",
			Name:      "subsets_computed_total",
			Help:      "Subset energies written to the ledger.",
		}),
		jobsComputed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "fill",
			Name:      "jobs_computed_total",
			Help:      "Energy records completed by the fill runner.",
		}),
		jobsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "fill",
			Name:      "jobs_failed_total",
			Help:      "Energy records marked failed by the fill runner.",
		}),
		callSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metrics.Namespace,
			Subsystem: "fill",
			Name:      "calculation_duration_seconds",
			Help:      "Wall time of calculator calls.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
		}),
	}
	var err error
	if m.subsetsComputed, err = metrics.Register(reg, m.subsetsComputed); err != nil {
		return nil, err
	}
	if m.jobsComputed, err = metrics.Register(reg, m.jobsComputed); err != nil {
		return nil, err
	}
	if m.jobsFailed, err = metrics.Register(reg, m.jobsFailed); err != nil {
		return nil, err
	}
	if m.callSeconds, err = metrics.Register(reg, m.callSeconds); err != nil {
		return nil, err
	}
	return m, nil
}
