package httpapi

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/leapgeo/citetrack/internal/scheduler"
)

// JobRunner runs a scheduled job by name and remembers its last report
type JobRunner interface {
	Run(ctx context.Context, job string) (*scheduler.RunReport, error)
	LastReport(job string) (*scheduler.RunReport, bool)
}

// AdminHandler shows the last run of each scheduled job and, when
// triggering is allowed, lets operators run jobs out of band
type AdminHandler struct {
	runner   JobRunner
	allowRun bool
	timeout  time.Duration
	logger   *zap.Logger
}

func NewAdminHandler(runner JobRunner, allowRun bool, logger *zap.Logger) *AdminHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AdminHandler{runner: runner, allowRun: allowRun, timeout: 2 * time.Hour, logger: logger}
}

// RegisterRoutes mounts GET /admin/jobs/{job}/last, plus
// POST /admin/jobs/{job}/run when triggering is allowed
func (h *AdminHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /admin/jobs/{job}/last", h.LastRun)
	if h.allowRun {
		mux.HandleFunc("POST /admin/jobs/{job}/run", h.RunJob)
	}
}

func knownJob(job string) bool {
	switch job {
	case scheduler.JobDaily, scheduler.JobWeekly, scheduler.JobRates:
		return true
	}
	return false
}

// RunJob runs the job to completion and returns its report. The run is
// detached from the request so a dropped connection does not abort it.
func (h *AdminHandler) RunJob(w http.ResponseWriter, r *http.Request) {
	job := r.PathValue("job")
	if !knownJob(job) {
		sendError(w, "unknown job "+job, http.StatusNotFound)
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), h.timeout)
	defer cancel()

	h.logger.Info("Manual job run requested", zap.String("job", job))
	report, err := h.runner.Run(ctx, job)
	if err != nil {
		h.logger.Error("Manual job run failed", zap.String("job", job), zap.Error(err))
		if report == nil {
			sendError(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}
	code := http.StatusOK
	if report.Status() == "failed" {
		code = http.StatusBadGateway
	}
	sendJSON(w, h.logger, code, map[string]interface{}{
		"status": report.Status(),
		"report": report,
	})
}

// LastRun returns the report of the job's most recent finished run
func (h *AdminHandler) LastRun(w http.ResponseWriter, r *http.Request) {
	job := r.PathValue("job")
	if !knownJob(job) {
		sendError(w, "unknown job "+job, http.StatusNotFound)
		return
	}
	report, ok := h.runner.LastReport(job)
	if !ok {
		sendError(w, "job "+job+" has not run yet", http.StatusNotFound)
		return
	}
	sendJSON(w, h.logger, http.StatusOK, map[string]interface{}{
		"status": report.Status(),
		"report": report,
	})
}
