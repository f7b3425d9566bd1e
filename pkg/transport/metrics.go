package transport

import "github.com/prometheus/client_golang/prometheus"

// Metrics collects counters for upstream fetches. All methods are nil-safe so
// a transport without metrics skips collection entirely.
type Metrics struct {
	requests       *prometheus.CounterVec
	retries        prometheus.Counter
	rateLimitWaits prometheus.Counter
}

// NewMetrics registers the transport counters with reg and returns them.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "upstream_requests_total",
			Help: "Upstream HTTP fetches by host and outcome.",
		}, []string{"host", "outcome"}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "upstream_retries_total",
			Help: "Fetch attempts retried after a transient failure.",
		}),
		rateLimitWaits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "upstream_rate_limit_waits_total",
			Help: "Waits imposed by an upstream 429 response.",
		}),
	}
	reg.MustRegister(m.requests, m.retries, m.rateLimitWaits)
	return m
}

func (m *Metrics) request(host, outcome string) {
	if m != nil {
		m.requests.WithLabelValues(host, outcome).Inc()
	}
}

func (m *Metrics) retry() {
	if m != nil {
		m.retries.Inc()
	}
}

func (m *Metrics) rateLimited() {
	if m != nil {
		m.rateLimitWaits.Inc()
	}
}
