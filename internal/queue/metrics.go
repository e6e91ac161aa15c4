package queue

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the queue's Prometheus collectors.
type Metrics struct {
	enqueued  *prometheus.CounterVec
	processed *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	recovered prometheus.Counter
}

// NewMetrics creates the collectors and registers them on reg when it is not
// nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		enqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "studio_tasks_enqueued_total",
			Help: "Tasks enqueued by type.",
		}, []string{"type"}),
		processed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "studio_tasks_processed_total",
			Help: "Tasks that reached a terminal status, by type and status.",
		}, []string{"type", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "studio_task_duration_seconds",
			Help:    "Handler run time by task type.",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"type"}),
		recovered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "studio_tasks_recovered_total",
			Help: "Running tasks force-failed at startup.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.enqueued, m.processed, m.duration, m.recovered)
	}
	return m
}
