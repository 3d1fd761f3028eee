package realtime

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the realtime connection.
type Metrics struct {
	Connected     prometheus.Gauge
	ConnectsTotal prometheus.Counter
	DialErrors    prometheus.Counter
	MessagesTotal *prometheus.CounterVec
}

// NewMetrics registers and returns realtime metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ccgate_realtime_connected",
			Help: "1 while the realtime websocket is open.",
		}),
		ConnectsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ccgate_realtime_connects_total",
			Help: "Successful realtime websocket dials.",
		}),
		DialErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ccgate_realtime_dial_errors_total",
			Help: "Failed realtime websocket dials.",
		}),
		MessagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ccgate_realtime_messages_total",
			Help: "Inbound realtime messages by type.",
		}, []string{"type"}),
	}

	reg.MustRegister(m.Connected, m.ConnectsTotal, m.DialErrors, m.MessagesTotal)
	return m
}

// Hooks returns client Hooks that update the corresponding metrics.
func (m *Metrics) Hooks() Hooks {
	return Hooks{
		OnConnect: func() {
			m.ConnectsTotal.Inc()
			m.Connected.Set(1)
		},
		OnDisconnect: func() { m.Connected.Set(0) },
		OnMessage: func(msgType string) {
			if msgType == "" {
				msgType = "unknown"
			}
			m.MessagesTotal.WithLabelValues(msgType).Inc()
		},
		OnDialError: func() { m.DialErrors.Inc() },
	}
}
