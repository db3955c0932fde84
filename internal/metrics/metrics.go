// Package metrics exports Prometheus metrics about issued commands and the
// bindings being reconciled.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hostinger/neighsync/internal/rc"
)

const namespace = "neighsync"

// Metrics holds the collectors. The zero value is not usable; use New.
type Metrics struct {
	CommandsTotal *prometheus.CounterVec
	Bindings      prometheus.Gauge
	Dumped        *prometheus.GaugeVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CommandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Dataplane commands issued, by command and result",
		}, []string{"command", "result"}),
		Bindings: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "bindings",
			Help:      "Desired neighbor bindings",
		}),
		Dumped: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dumped_neighbors",
			Help:      "Neighbors returned by the last dump, by interface and family",
		}, []string{"interface", "family"}),
	}

	reg.MustRegister(m.CommandsTotal, m.Bindings, m.Dumped)

	return m
}

// ObserveCommand counts one completed command.
func (m *Metrics) ObserveCommand(command string, code rc.Code) {
	result := "ok"
	switch {
	case code.IsFailure():
		result = "failed"
	case !code.IsOK():
		result = code.String()
	}

	m.CommandsTotal.WithLabelValues(command, result).Inc()
}
