package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// initHTTPMetrics initializes gateway metrics.
func (m *Manager) initHTTPMetrics(cfg Config) {
	m.httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
	m.httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   cfg.HTTPBuckets,
		},
		[]string{"method", "path"},
	)
	m.registry.MustRegister(m.httpRequests, m.httpDuration)
}

// RecordHTTPRequest records an HTTP request with method, route pattern and
// status.
func (m *Manager) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if !m.Enabled() {
		return
	}
	m.httpRequests.WithLabelValues(method, path, status).Inc()
	m.httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}
