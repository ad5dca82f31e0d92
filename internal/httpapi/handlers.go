// Package httpapi exposes citation scanning and the citation read path over
// HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/leapgeo/citetrack/internal/cache"
	"github.com/leapgeo/citetrack/internal/circuitbreaker"
	"github.com/leapgeo/citetrack/internal/db"
	"github.com/leapgeo/citetrack/internal/platforms"
	"github.com/leapgeo/citetrack/internal/scan"
)

// maxLimit caps the ?limit= of citation listings
const maxLimit = 500

// Scanner runs a synchronous scan
type Scanner interface {
	ScanAll(ctx context.Context, req scan.ScanRequest) (*scan.Summary, error)
}

// Submitter queues an async scan
type Submitter interface {
	Submit(req scan.ScanRequest) (scan.Ack, error)
}

// RateReader is implemented by readers that can report a project's
// cached citation rate
type RateReader interface {
	CitationRate(ctx context.Context, projectID string) (float64, bool)
}

// CitationHandler serves the /api/v1 citation routes
type CitationHandler struct {
	scanner    Scanner
	dispatcher Submitter
	reader     cache.CitationReader
	registry   *platforms.Registry
	logger     *zap.Logger
}

func NewCitationHandler(scanner Scanner, dispatcher Submitter, reader cache.CitationReader, registry *platforms.Registry, logger *zap.Logger) *CitationHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CitationHandler{
		scanner:    scanner,
		dispatcher: dispatcher,
		reader:     reader,
		registry:   registry,
		logger:     logger,
	}
}

// RegisterRoutes mounts the API on mux
func (h *CitationHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/citations/scan", h.Scan)
	mux.HandleFunc("POST /api/v1/citations/scan/async", h.ScanAsync)
	mux.HandleFunc("GET /api/v1/citations/recent", h.Recent)
	mux.HandleFunc("GET /api/v1/projects/{id}/citations", h.ProjectCitations)
	mux.HandleFunc("GET /api/v1/platforms", h.Platforms)
}

func decodeScanRequest(w http.ResponseWriter, r *http.Request) (scan.ScanRequest, error) {
	var req scan.ScanRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		return req, err
	}
	return req, nil
}

// Scan handles POST /api/v1/citations/scan
func (h *CitationHandler) Scan(w http.ResponseWriter, r *http.Request) {
	req, err := decodeScanRequest(w, r)
	if err != nil {
		h.sendError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	req.Trigger = scan.TriggerManual

	summary, err := h.scanner.ScanAll(r.Context(), req)
	switch {
	case err == nil:
	case errors.Is(err, scan.ErrInvalidRequest):
		h.sendError(w, err.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, scan.ErrPersistenceUnavailable):
		h.logger.Error("Scan failed to persist",
			zap.String("project_id", req.ProjectID),
			zap.Error(err),
		)
		h.sendError(w, "Citation storage unavailable", http.StatusServiceUnavailable)
		return
	default:
		h.logger.Error("Scan failed", zap.String("project_id", req.ProjectID), zap.Error(err))
		h.sendError(w, "Scan failed", http.StatusInternalServerError)
		return
	}

	h.sendJSON(w, http.StatusOK, summary)
}

// ScanAsync handles POST /api/v1/citations/scan/async
func (h *CitationHandler) ScanAsync(w http.ResponseWriter, r *http.Request) {
	req, err := decodeScanRequest(w, r)
	if err != nil {
		h.sendError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	req.Trigger = scan.TriggerAsync

	ack, err := h.dispatcher.Submit(req)
	switch {
	case err == nil:
	case errors.Is(err, scan.ErrInvalidRequest):
		h.sendError(w, err.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, scan.ErrQueueFull), errors.Is(err, scan.ErrDispatcherClosed):
		w.Header().Set("Retry-After", "30")
		h.sendError(w, err.Error(), http.StatusServiceUnavailable)
		return
	default:
		h.sendError(w, "Failed to queue scan", http.StatusInternalServerError)
		return
	}

	h.logger.Info("Async scan accepted",
		zap.String("job_id", ack.JobID),
		zap.String("project_id", req.ProjectID),
	)
	h.sendJSON(w, http.StatusAccepted, ack)
}

// ProjectCitations handles GET /api/v1/projects/{id}/citations
func (h *CitationHandler) ProjectCitations(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("id")
	if projectID == "" {
		h.sendError(w, "Project ID required", http.StatusBadRequest)
		return
	}
	limit, ok := h.parseLimit(w, r, db.DefaultProjectLimit)
	if !ok {
		return
	}

	citations, err := h.reader.CitationsForProject(r.Context(), projectID, limit)
	if err != nil {
		h.sendReadError(w, err)
		return
	}
	body := map[string]interface{}{
		"project_id": projectID,
		"citations":  citations,
		"count":      len(citations),
	}
	if rr, ok := h.reader.(RateReader); ok {
		if rate, found := rr.CitationRate(r.Context(), projectID); found {
			body["citation_rate"] = rate
		}
	}
	h.sendJSON(w, http.StatusOK, body)
}

// Recent handles GET /api/v1/citations/recent
func (h *CitationHandler) Recent(w http.ResponseWriter, r *http.Request) {
	limit, ok := h.parseLimit(w, r, db.DefaultRecentLimit)
	if !ok {
		return
	}

	citations, err := h.reader.RecentCitations(r.Context(), limit)
	if err != nil {
		h.sendReadError(w, err)
		return
	}
	h.sendJSON(w, http.StatusOK, map[string]interface{}{
		"citations": citations,
		"count":     len(citations),
	})
}

type platformView struct {
	Key          string `json:"key"`
	Name         string `json:"name"`
	BaseURL      string `json:"base_url"`
	RequiresAuth bool   `json:"requires_auth"`
}

// Platforms handles GET /api/v1/platforms
func (h *CitationHandler) Platforms(w http.ResponseWriter, r *http.Request) {
	keys := h.registry.Keys()
	out := make([]platformView, 0, len(keys))
	for _, key := range keys {
		p, _ := h.registry.Lookup(key)
		out = append(out, platformView{
			Key:          p.Key,
			Name:         p.Name,
			BaseURL:      p.BaseURL,
			RequiresAuth: p.RequiresAuth,
		})
	}
	h.sendJSON(w, http.StatusOK, map[string]interface{}{
		"platforms": out,
		"count":     len(out),
	})
}

func (h *CitationHandler) parseLimit(w http.ResponseWriter, r *http.Request, fallback int) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		h.sendError(w, "limit must be a positive integer", http.StatusBadRequest)
		return 0, false
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	return limit, true
}

func (h *CitationHandler) sendReadError(w http.ResponseWriter, err error) {
	h.logger.Error("Citation read failed", zap.Error(err))
	if errors.Is(err, db.ErrUnavailable) || circuitbreaker.IsBreakerError(err) {
		h.sendError(w, "Citation storage unavailable", http.StatusServiceUnavailable)
		return
	}
	h.sendError(w, "Failed to load citations", http.StatusInternalServerError)
}

func (h *CitationHandler) sendJSON(w http.ResponseWriter, code int, v interface{}) {
	sendJSON(w, h.logger, code, v)
}

func sendJSON(w http.ResponseWriter, logger *zap.Logger, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Failed to encode response", zap.Error(err))
	}
}

func (h *CitationHandler) sendError(w http.ResponseWriter, message string, code int) {
	sendError(w, message, code)
}

func sendError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
