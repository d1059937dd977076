// Package metrics holds the daemon's Prometheus collectors, exposed on
// the local HTTP surface at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles every collector the daemon publishes.
type Metrics struct {
	Registry *prometheus.Registry

	PhaseTransitions   *prometheus.CounterVec
	TriggerDispatches  *prometheus.CounterVec
	OverlayConnections prometheus.Gauge
}

// New creates a fresh registry with all daemon collectors registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		PhaseTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "riftd_phase_transitions_total",
			Help: "Phase transitions applied by the gameflow machine.",
		}, []string{"from", "to"}),
		TriggerDispatches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "riftd_trigger_dispatches_total",
			Help: "Advice dispatches by trigger kind (post-cooldown).",
		}, []string{"kind"}),
		OverlayConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "riftd_overlay_connections",
			Help: "Attached overlay WebSocket connections.",
		}),
	}
}

// RegisterSchedulerGauges wires the scheduler's cheap observability
// reads as gauge functions.
func (m *Metrics) RegisterSchedulerGauges(pending func() float64, windowUsage func() float64) {
	m.Registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "riftd_scheduler_pending",
		Help: "Tasks waiting or in flight in the cloud API scheduler.",
	}, pending))
	m.Registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "riftd_scheduler_window_usage",
		Help: "Fraction of the sliding rate window consumed.",
	}, windowUsage))
}
