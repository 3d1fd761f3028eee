package modelcache

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the model caches.
type Metrics struct {
	HitsTotal      *prometheus.CounterVec
	FetchesTotal   *prometheus.CounterVec
	FetchDuration  *prometheus.HistogramVec
	StaleDropTotal *prometheus.CounterVec
}

// NewMetrics registers and returns model cache metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ccgate_model_cache_hits_total",
			Help: "Lookups answered from the resident instance.",
		}, []string{"model"}),
		FetchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ccgate_model_fetches_total",
			Help: "Backend fetches by model and outcome.",
		}, []string{"model", "outcome"}),
		FetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ccgate_model_fetch_duration_seconds",
			Help:    "Duration of backend fetches in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms .. ~20s
		}, []string{"model"}),
		StaleDropTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ccgate_model_stale_responses_total",
			Help: "Responses discarded because a newer request superseded them.",
		}, []string{"model"}),
	}

	reg.MustRegister(
		m.HitsTotal,
		m.FetchesTotal,
		m.FetchDuration,
		m.StaleDropTotal,
	)

	return m
}

// Hooks returns cache Hooks that update the corresponding metrics.
func (m *Metrics) Hooks() Hooks {
	return Hooks{
		OnHit: func(model string) {
			m.HitsTotal.WithLabelValues(model).Inc()
		},
		OnFetch: func(model, outcome string, seconds float64) {
			m.FetchesTotal.WithLabelValues(model, outcome).Inc()
			m.FetchDuration.WithLabelValues(model).Observe(seconds)
		},
		OnStale: func(model string) {
			m.StaleDropTotal.WithLabelValues(model).Inc()
		},
	}
}
