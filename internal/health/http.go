package health

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// HTTPHandler provides HTTP endpoints for health checks
type HTTPHandler struct {
	manager *Manager
	logger  *zap.Logger
}

// NewHTTPHandler creates a new HTTP handler for health checks
func NewHTTPHandler(manager *Manager, logger *zap.Logger) *HTTPHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPHandler{manager: manager, logger: logger}
}

// RegisterRoutes registers health check endpoints with an HTTP mux
func (h *HTTPHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("GET /health/ready", h.handleReadiness)
	mux.HandleFunc("GET /health/live", h.handleLiveness)
	mux.HandleFunc("GET /health/detailed", h.handleDetailedHealth)
}

func statusCode(s CheckStatus) int {
	if s == StatusHealthy || s == StatusDegraded {
		return http.StatusOK
	}
	return http.StatusServiceUnavailable
}

// handleHealth returns overall health status
func (h *HTTPHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	overall := h.manager.GetOverallHealth(r.Context())
	h.writeJSON(w, statusCode(overall.Status), map[string]interface{}{
		"status":    overall.Status.String(),
		"message":   overall.Message,
		"timestamp": overall.Timestamp.Unix(),
		"duration":  overall.Duration.String(),
		"degraded":  overall.Degraded,
		"ready":     overall.Ready,
		"live":      overall.Live,
	})
}

// handleReadiness answers readiness probes
func (h *HTTPHandler) handleReadiness(w http.ResponseWriter, r *http.Request) {
	ready := h.manager.IsReady(r.Context())
	code, message := http.StatusOK, "ready"
	if !ready {
		code, message = http.StatusServiceUnavailable, "not ready"
	}
	h.writeJSON(w, code, map[string]interface{}{
		"status":    message,
		"ready":     ready,
		"timestamp": time.Now().Unix(),
	})
}

// handleLiveness answers liveness probes without touching dependencies
func (h *HTTPHandler) handleLiveness(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "alive",
		"live":      true,
		"timestamp": time.Now().Unix(),
	})
}

// handleDetailedHealth returns per-component results. ?cached=true skips
// running the checks.
func (h *HTTPHandler) handleDetailedHealth(w http.ResponseWriter, r *http.Request) {
	var detailed DetailedHealth
	if r.URL.Query().Get("cached") == "true" {
		detailed = h.manager.CachedHealth()
	} else {
		detailed = h.manager.GetDetailedHealth(r.Context())
	}
	h.writeJSON(w, statusCode(detailed.Overall.Status), detailed)
}

func (h *HTTPHandler) writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("Failed to encode health response", zap.Error(err))
	}
}
