package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

type Metrics struct {
	Registry        *prometheus.Registry
	Movements       *prometheus.CounterVec
	Failures        *prometheus.CounterVec
	Displacements   prometheus.Counter
	ExecuteDuration prometheus.Histogram
	Reconciliations *prometheus.CounterVec
	OutboxEnqueued  prometheus.Counter
}

// NewMetrics registers on a private registry so several engines can coexist.
func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		Movements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "greasetrack",
			Name:      "movements_total",
			Help:      "Movements recorded, by transfer rule.",
		}, []string{"rule"}),
		Failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "greasetrack",
			Name:      "movement_failures_total",
			Help:      "Rejected or failed movement requests, by error kind.",
		}, []string{"kind"}),
		Displacements: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "greasetrack",
			Name:      "displacements_total",
			Help:      "Tanks returned to the warehouse to free a consumer.",
		}),
		ExecuteDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "greasetrack",
			Name:      "execute_duration_seconds",
			Help:      "Movement executor latency.",
			Buckets:   prometheus.DefBuckets,
		}),
		Reconciliations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "greasetrack",
			Name:      "reconciliations_total",
			Help:      "Snapshot reconciliation warnings, by kind.",
		}, []string{"kind"}),
		OutboxEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "greasetrack",
			Name:      "outbox_enqueued_total",
			Help:      "Notifications queued for the message broker.",
		}),
	}
	m.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.Movements, m.Failures, m.Displacements, m.ExecuteDuration, m.Reconciliations, m.OutboxEnqueued,
	)
	return m
}
