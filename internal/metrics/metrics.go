// Package metrics provides Prometheus instrumentation for memoir.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "memoir"

// Manager owns the registry and every memoir metric. A disabled Manager
// accepts all calls and records nothing.
type Manager struct {
	registry *prometheus.Registry
	enabled  bool

	// Pipeline metrics
	preTurns         *prometheus.CounterVec
	preTurnDuration  prometheus.Histogram
	recalls          *prometheus.CounterVec
	indexSearches    prometheus.Counter
	compactions      prometheus.Counter
	summariesWritten prometheus.Counter
	stageFailures    *prometheus.CounterVec
	indexChunks      prometheus.Gauge
	cacheEntries     prometheus.Gauge
	jobRuns          *prometheus.CounterVec

	// HTTP metrics
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// Config holds metrics configuration.
type Config struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`

	PreTurnBuckets []float64 `yaml:"-" json:"-"`
	HTTPBuckets    []float64 `yaml:"-" json:"-"`
}

// DefaultConfig returns the default metrics configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:        true,
		Path:           "/metrics",
		PreTurnBuckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		HTTPBuckets:    []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Path == "" {
		c.Path = def.Path
	}
	if len(c.PreTurnBuckets) == 0 {
		c.PreTurnBuckets = def.PreTurnBuckets
	}
	if len(c.HTTPBuckets) == 0 {
		c.HTTPBuckets = def.HTTPBuckets
	}
	return c
}

// NewManager creates a metrics manager.
func NewManager(cfg Config) *Manager {
	if !cfg.Enabled {
		return &Manager{enabled: false}
	}
	cfg = cfg.withDefaults()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Manager{
		registry: registry,
		enabled:  true,
	}
	m.initMemoryMetrics(cfg)
	m.initHTTPMetrics(cfg)
	return m
}

// NoOpManager returns a disabled manager.
func NoOpManager() *Manager {
	return &Manager{enabled: false}
}

// Enabled returns whether metrics collection is enabled.
func (m *Manager) Enabled() bool {
	return m != nil && m.enabled
}

// Registry returns the underlying registry, or nil when disabled.
func (m *Manager) Registry() *prometheus.Registry {
	if !m.Enabled() {
		return nil
	}
	return m.registry
}

// Handler returns the HTTP handler for the metrics endpoint.
func (m *Manager) Handler() http.Handler {
	if !m.Enabled() {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
