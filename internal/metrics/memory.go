package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// initMemoryMetrics initializes the memory pipeline metrics.
func (m *Manager) initMemoryMetrics(cfg Config) {
	m.preTurns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pre_turn_total",
			Help:      "Total number of pre-turn calls by outcome",
		},
		[]string{"outcome"},
	)
	m.preTurnDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pre_turn_duration_seconds",
			Help:      "Pre-turn latency in seconds",
			Buckets:   cfg.PreTurnBuckets,
		},
	)
	m.recalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recall_total",
			Help:      "Total number of recalls by result",
		},
		[]string{"result"},
	)
	m.indexSearches = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "index_searches_total",
			Help:      "Total number of vector index searches",
		},
	)
	m.compactions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compactions_detected_total",
			Help:      "Total number of detected host compactions",
		},
	)
	m.summariesWritten = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "summaries_written_total",
			Help:      "Total number of hourly summaries written",
		},
	)
	m.stageFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_failures_total",
			Help:      "Total number of degraded pipeline stages",
		},
		[]string{"stage"},
	)
	m.indexChunks = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "index_chunks",
			Help:      "Number of chunks in the vector index",
		},
	)
	m.cacheEntries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "recall_cache_entries",
			Help:      "Number of cached recall results",
		},
	)
	m.jobRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_runs_total",
			Help:      "Total number of scheduled job runs by job and status",
		},
		[]string{"job", "status"},
	)

	m.registry.MustRegister(
		m.preTurns, m.preTurnDuration, m.recalls, m.indexSearches, m.compactions,
		m.summariesWritten, m.stageFailures, m.indexChunks, m.cacheEntries, m.jobRuns,
	)
}

// RecordPreTurn records one pre-turn call.
func (m *Manager) RecordPreTurn(injected bool, duration time.Duration) {
	if !m.Enabled() {
		return
	}
	outcome := "empty"
	if injected {
		outcome = "injected"
	}
	m.preTurns.WithLabelValues(outcome).Inc()
	m.preTurnDuration.Observe(duration.Seconds())
}

// RecordRecall records one recall with its result ("gated", "hit", "miss")
// and the index searches it issued.
func (m *Manager) RecordRecall(result string, searches int) {
	if !m.Enabled() {
		return
	}
	m.recalls.WithLabelValues(result).Inc()
	m.indexSearches.Add(float64(searches))
}

// RecordCompaction records a detected compaction.
func (m *Manager) RecordCompaction() {
	if !m.Enabled() {
		return
	}
	m.compactions.Inc()
}

// RecordSummaryWritten records a written hourly summary.
func (m *Manager) RecordSummaryWritten() {
	if !m.Enabled() {
		return
	}
	m.summariesWritten.Inc()
}

// RecordStageFailure records a degraded stage.
func (m *Manager) RecordStageFailure(stage string) {
	if !m.Enabled() {
		return
	}
	m.stageFailures.WithLabelValues(stage).Inc()
}

// RecordJobRun records a scheduled job run.
func (m *Manager) RecordJobRun(job string, err error) {
	if !m.Enabled() {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.jobRuns.WithLabelValues(job, status).Inc()
}

// SetIndexChunks sets the index size gauge.
func (m *Manager) SetIndexChunks(n int) {
	if !m.Enabled() {
		return
	}
	m.indexChunks.Set(float64(n))
}

// SetCacheEntries sets the recall cache gauge.
func (m *Manager) SetCacheEntries(n int) {
	if !m.Enabled() {
		return
	}
	m.cacheEntries.Set(float64(n))
}
