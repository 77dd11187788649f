// Package metrics exports the subscription engine's counters to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	grants        *prometheus.CounterVec
	conflicts     prometheus.Counter
	cancellations *prometheus.CounterVec
	accessQueries *prometheus.CounterVec
	backend       *prometheus.GaugeVec
}

// New registers the collectors on registry. Each registry may only be used
// once.
func New(registry *prometheus.Registry) *Metrics {
	f := promauto.With(registry)
	return &Metrics{
		grants: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bookshelf_grants_total",
				Help: "Entitlement grants by channel and result",
			},
			[]string{"channel", "result"},
		),
		conflicts: f.NewCounter(
			prometheus.CounterOpts{
				Name: "bookshelf_entitlement_conflicts_total",
				Help: "Entitlement writes that lost a version compare-and-set",
			},
		),
		cancellations: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bookshelf_cancellations_total",
				Help: "Entitlement cancellations by result",
			},
			[]string{"result"},
		),
		accessQueries: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bookshelf_access_queries_total",
				Help: "Access checks by outcome",
			},
			[]string{"result"},
		),
		backend: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "bookshelf_storage_backend",
				Help: "Storage backend selected at startup (1 for the active one)",
			},
			[]string{"backend"},
		),
	}
}

func (m *Metrics) GrantRecorded(channel, result string) {
	m.grants.WithLabelValues(channel, result).Inc()
}

func (m *Metrics) ConflictRecorded() {
	m.conflicts.Inc()
}

func (m *Metrics) CancelRecorded(result string) {
	m.cancellations.WithLabelValues(result).Inc()
}

func (m *Metrics) AccessRecorded(result string) {
	m.accessQueries.WithLabelValues(result).Inc()
}

func (m *Metrics) BackendSelected(name string) {
	m.backend.WithLabelValues(name).Set(1)
}
