package gateway

import (
	"net/http"
	"time"

	"github.com/flemzord/memoir/internal/core"
)

// StatusResponse is the JSON response for GET /api/status.
type StatusResponse struct {
	Uptime   time.Duration    `json:"uptime_seconds"`
	Counters CountersSnapshot `json:"counters"`
	Hook     bool             `json:"hook"`
	Metrics  bool             `json:"metrics"`
}

// handleStatus returns an http.HandlerFunc for GET /api/status.
func (g *Gateway) handleStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, StatusResponse{
			Uptime:   time.Since(g.startedAt).Truncate(time.Second),
			Counters: g.counters.Snapshot(),
			Hook:     g.hook != nil,
			Metrics:  g.prom != nil && g.prom.Enabled(),
		})
	}
}

type moduleJSON struct {
	ID        string `json:"id"`
	Namespace string `json:"namespace"`
	Name      string `json:"name"`
}

// handleModules lists all compiled modules (for /api/modules).
func (g *Gateway) handleModules() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		mods := core.GetModules()
		out := make([]moduleJSON, 0, len(mods))
		for _, m := range mods {
			out = append(out, moduleJSON{
				ID:        string(m.ID),
				Namespace: m.ID.Namespace(),
				Name:      m.ID.Name(),
			})
		}
		writeJSON(w, http.StatusOK, out)
	}
}
