package action

import "github.com/prometheus/client_golang/prometheus"

// schedulerMetrics are the scheduler's prometheus gauges/counters, grounded
// on the teacher's src/metrics package use of the same client: a gauge of
// targets currently executing and a counter of targets that have finished.
type schedulerMetrics struct {
	active    prometheus.Gauge
	completed prometheus.Counter
}

func newSchedulerMetrics(reg prometheus.Registerer) *schedulerMetrics {
	m := &schedulerMetrics{
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "forge_scheduler_targets_active",
			Help: "Number of targets currently executing.",
		}),
		completed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "forge_scheduler_targets_completed_total",
			Help: "Total number of targets that have finished executing.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.active, m.completed)
	}
	return m
}
