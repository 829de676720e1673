package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/flemzord/memoir/internal/facade"
	"github.com/flemzord/memoir/internal/security"
)

// messageRequest is the body of /api/pre-turn and /api/recall.
type messageRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
}

// handlePreTurn returns an http.HandlerFunc for POST /api/pre-turn.
func (g *Gateway) handlePreTurn() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req messageRequest
		if !g.decode(w, r, &req) {
			return
		}
		rep := g.memory.PreTurnReport(r.Context(), req.Message)
		injected := rep.Assembly != nil && !rep.Assembly.Empty()
		g.counters.RecordPreTurn(injected, rep.Degraded())
		if injected && g.audit != nil {
			g.audit.Log(security.AuditEvent{
				Type:      security.EventInjection,
				Surface:   security.SurfaceGateway,
				SessionID: rep.Compaction.Observation.SessionID,
				Remote:    r.RemoteAddr,
				Detail:    string(rep.Compaction.Reason),
				Metadata:  map[string]string{"tokens": strconv.Itoa(rep.Assembly.Tokens)},
			})
		}
		writeJSON(w, http.StatusOK, rep)
	}
}

// handleRecall returns an http.HandlerFunc for POST /api/recall.
func (g *Gateway) handleRecall() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req messageRequest
		if !g.decode(w, r, &req) {
			return
		}
		res, err := g.memory.Recall(r.Context(), req.Message)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, struct {
			Result any    `json:"result"`
			Text   string `json:"text"`
		}{res, res.Format()})
	}
}

// handleTick returns an http.HandlerFunc for POST /api/tick.
func (g *Gateway) handleTick() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, g.memory.Tick(r.Context()))
	}
}

// handleRebuild returns an http.HandlerFunc for POST /api/rebuild.
func (g *Gateway) handleRebuild() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := g.memory.RebuildIndex(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		emitEvent(g.audit, security.EventIndexRebuild, r, strconv.Itoa(stats.Chunks)+" chunks")
		writeJSON(w, http.StatusOK, stats)
	}
}

// handleInjections returns an http.HandlerFunc for GET /api/injections.
// The optional limit query parameter bounds the result.
func (g *Gateway) handleInjections() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 0
		if s := r.URL.Query().Get("limit"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n < 0 {
				writeError(w, http.StatusBadRequest, errors.New("limit must be a non-negative integer"))
				return
			}
			limit = n
		}
		injections, err := g.memory.Injections(r.Context(), limit)
		if err != nil {
			writeError(w, http.StatusServiceUnavailable, err)
			return
		}
		if injections == nil {
			injections = []facade.Injection{}
		}
		writeJSON(w, http.StatusOK, injections)
	}
}

// decode reads a bounded JSON body into v. It writes the error response and
// returns false when the body is unusable.
func (g *Gateway) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	data, err := io.ReadAll(io.LimitReader(r.Body, int64(g.config.MaxBodyBytes)+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return false
	}
	if len(data) == 0 {
		return true
	}
	limits := security.PayloadLimits{MaxBytes: g.config.MaxBodyBytes}
	if err := limits.Decode(data, v); err != nil {
		code := http.StatusBadRequest
		if errors.Is(err, security.ErrPayloadTooLarge) {
			code = http.StatusRequestEntityTooLarge
		}
		writeError(w, code, err)
		return false
	}
	return true
}

// writeJSON encodes v as JSON with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
