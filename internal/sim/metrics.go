package sim

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts simulator traffic.
type Metrics struct {
	Commands    *prometheus.CounterVec
	Errors      *prometheus.CounterVec
	Connections *prometheus.GaugeVec
}

// NewMetrics creates the simulator collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "visasim_commands_total",
			Help: "Commands received by simulated instruments.",
		}, []string{"instrument", "command", "kind"}),
		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "visasim_command_errors_total",
			Help: "Commands that set an event status error bit.",
		}, []string{"instrument", "error"}),
		Connections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "visasim_connections",
			Help: "Open client connections per simulated instrument.",
		}, []string{"instrument"}),
	}
	if reg != nil {
		reg.MustRegister(m.Commands, m.Errors, m.Connections)
	}
	return m
}

func (m *Metrics) command(instrument, pattern string, query bool) {
	if m == nil {
		return
	}
	kind := "write"
	if query {
		kind = "query"
	}
	m.Commands.WithLabelValues(instrument, pattern, kind).Inc()
}

func (m *Metrics) fault(instrument, name string) {
	if m == nil {
		return
	}
	m.Errors.WithLabelValues(instrument, name).Inc()
}

func (m *Metrics) connected(instrument string, delta float64) {
	if m == nil {
		return
	}
	m.Connections.WithLabelValues(instrument).Add(delta)
}
