package health

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// HTTPHandler serves the health endpoints from a manager's latest results.
type HTTPHandler struct {
	manager *Manager
	logger  *zap.Logger
}

func NewHTTPHandler(manager *Manager, logger *zap.Logger) *HTTPHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPHandler{manager: manager, logger: logger}
}

// RegisterRoutes mounts the health endpoints on mux.
func (h *HTTPHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.handleHealth)
	mux.HandleFunc("/health/detailed", h.handleDetailed)
	mux.HandleFunc("/readiness", h.handleReadiness)
	mux.HandleFunc("/liveness", h.handleLiveness)
}

func (h *HTTPHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := h.manager.Overall()
	code := http.StatusOK
	if status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	h.writeJSON(w, code, map[string]interface{}{
		"status":    status.String(),
		"timestamp": time.Now().UTC(),
	})
}

func (h *HTTPHandler) handleDetailed(w http.ResponseWriter, r *http.Request) {
	status := h.manager.Overall()
	code := http.StatusOK
	if status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}

	checks := make(map[string]interface{})
	for name, result := range h.manager.Results() {
		checks[name] = map[string]interface{}{
			"status":      result.State,
			"error":       result.Error,
			"duration_ms": result.Duration.Milliseconds(),
			"checked_at":  result.Timestamp.UTC(),
		}
	}
	h.writeJSON(w, code, map[string]interface{}{
		"status":    status.String(),
		"checks":    checks,
		"timestamp": time.Now().UTC(),
	})
}

func (h *HTTPHandler) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if !h.manager.Ready() {
		h.writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{"ready": false})
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"ready": true})
}

// handleLiveness answers as long as the process serves requests; it
// deliberately ignores dependency state so a Redis outage doesn't get the
// pod restarted.
func (h *HTTPHandler) handleLiveness(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"alive": true})
}

func (h *HTTPHandler) writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Warn("failed to encode health response", zap.Error(err))
	}
}
