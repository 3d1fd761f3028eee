package gateway

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for gateway operations.
type Metrics struct {
	SearchesTotal *prometheus.CounterVec
	ActionsTotal  *prometheus.CounterVec
}

// NewMetrics registers and returns gateway metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SearchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ccgate_searches_total",
			Help: "Filtered searches by model and result.",
		}, []string{"model", "result"}),
		ActionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ccgate_actions_total",
			Help: "Invitation and cache-clear runs by result.",
		}, []string{"action", "result"}),
	}
	reg.MustRegister(m.SearchesTotal, m.ActionsTotal)
	return m
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (m *Metrics) observeSearch(model string, err error) {
	if m == nil {
		return
	}
	m.SearchesTotal.WithLabelValues(model, result(err)).Inc()
}

func (m *Metrics) observeAction(action string, err error) {
	if m == nil {
		return
	}
	m.ActionsTotal.WithLabelValues(action, result(err)).Inc()
}
