package gateway

import (
	"net/http"
)

// handleHealth returns an http.HandlerFunc for GET /health.
// Returns 200 when every probe passes, 503 otherwise.
func (g *Gateway) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rep := g.memory.Health(r.Context())
		code := http.StatusOK
		if !rep.Healthy {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, rep)
	}
}

// handleStats returns an http.HandlerFunc for GET /stats.
func (g *Gateway) handleStats() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, g.memory.Stats(r.Context()))
	}
}
