package relay

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the relay's Prometheus collectors.
type Metrics struct {
	RoomsCreated  prometheus.Counter
	MovesAppended prometheus.Counter
	Connections   prometheus.Gauge
	RequestErrors *prometheus.CounterVec
}

// NewMetrics builds the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RoomsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chessroom",
			Name:      "rooms_created_total",
			Help:      "Rooms created through the relay.",
		}),
		MovesAppended: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chessroom",
			Name:      "moves_appended_total",
			Help:      "Moves appended to room move logs through the relay.",
		}),
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "chessroom",
			Name:      "relay_connections",
			Help:      "Open relay WebSocket connections.",
		}),
		RequestErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chessroom",
			Name:      "relay_request_errors_total",
			Help:      "Failed relay requests by error code.",
		}, []string{"code"}),
	}
	if reg != nil {
		reg.MustRegister(m.RoomsCreated, m.MovesAppended, m.Connections, m.RequestErrors)
	}
	return m
}
