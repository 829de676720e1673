package gateway

import (
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Counters tracks gateway-level counters using atomic operations for
// lock-free concurrency.
type Counters struct {
	requests     atomic.Int64
	preTurns     atomic.Int64
	injections   atomic.Int64
	degraded     atomic.Int64
	errors       atomic.Int64
	totalLatency atomic.Int64 // nanoseconds
}

// RecordRequest records one served request.
func (c *Counters) RecordRequest(status int, latency time.Duration) {
	c.requests.Add(1)
	c.totalLatency.Add(int64(latency))
	if status >= http.StatusInternalServerError {
		c.errors.Add(1)
	}
}

// RecordPreTurn records a pre-turn call and whether it injected or degraded.
func (c *Counters) RecordPreTurn(injected, degraded bool) {
	c.preTurns.Add(1)
	if injected {
		c.injections.Add(1)
	}
	if degraded {
		c.degraded.Add(1)
	}
}

// Snapshot returns a point-in-time view of the counters.
func (c *Counters) Snapshot() CountersSnapshot {
	requests := c.requests.Load()
	snap := CountersSnapshot{
		Requests:   requests,
		PreTurns:   c.preTurns.Load(),
		Injections: c.injections.Load(),
		Degraded:   c.degraded.Load(),
		Errors:     c.errors.Load(),
	}
	if requests > 0 {
		snap.AvgLatency = time.Duration(c.totalLatency.Load() / requests)
	}
	return snap
}

// CountersSnapshot is a serializable point-in-time counters view.
type CountersSnapshot struct {
	Requests   int64         `json:"requests"`
	PreTurns   int64         `json:"pre_turns"`
	Injections int64         `json:"injections"`
	Degraded   int64         `json:"degraded"`
	Errors     int64         `json:"errors"`
	AvgLatency time.Duration `json:"avg_latency_ns"`
}

// instrument records every request in the counters and, when enabled, in
// Prometheus under its route pattern.
func (g *Gateway) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := time.Since(start)
		g.counters.RecordRequest(status, elapsed)

		if g.prom != nil {
			route := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			g.prom.RecordHTTPRequest(r.Method, route, strconv.Itoa(status), elapsed)
		}
	})
}
