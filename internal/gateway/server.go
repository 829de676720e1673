package gateway

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter constructs the chi mux with all routes wired.
func (g *Gateway) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(g.instrument)

	// Public, no auth required.
	r.Get("/health", g.handleHealth())
	r.Get("/stats", g.handleStats())
	if g.prom != nil && g.prom.Enabled() {
		r.Handle("/metrics", g.prom.Handler())
	}

	// Hook WebSocket: token auth inside the handshake, not bearer.
	if g.hook != nil {
		r.Handle("/ws/hook", g.hook)
	}

	// API endpoints, auth required. Not mounted if no auth configured.
	if g.config.Auth.IsConfigured() {
		r.Route("/api", func(r chi.Router) {
			r.Use(g.authenticate)
			r.Use(g.throttle)
			r.Get("/status", g.handleStatus())
			r.Get("/modules", g.handleModules())
			r.Post("/pre-turn", g.handlePreTurn())
			r.Post("/recall", g.handleRecall())
			r.Post("/tick", g.handleTick())
			r.Post("/rebuild", g.handleRebuild())
			r.Get("/injections", g.handleInjections())
		})
	}

	return r
}
