package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/leapgeo/citetrack/internal/db"
	"github.com/leapgeo/citetrack/internal/metrics"
	"github.com/leapgeo/citetrack/internal/scan"
)

// Job names
const (
	JobDaily  = "daily"
	JobWeekly = "weekly"
	JobRates  = "rates"
)

// RateWindow is the trailing window of the citation rate
const RateWindow = 30 * 24 * time.Hour

// Store is the selection and rate side of the citation database
type Store interface {
	ActiveProjects(ctx context.Context) ([]string, error)
	PromptsForProject(ctx context.Context, projectID string, priorities []string, limit int) ([]db.Prompt, error)
	CitationRates(ctx context.Context, window time.Duration) ([]db.RateStat, error)
	UpdateCitationRate(ctx context.Context, projectID string, rate float64) error
}

// Scanner runs one scan
type Scanner interface {
	ScanAll(ctx context.Context, req scan.ScanRequest) (*scan.Summary, error)
}

// RateCache receives freshly computed rates
type RateCache interface {
	SetCitationRate(ctx context.Context, projectID string, rate float64) error
}

// Selection describes which prompts a sweep scans
type Selection struct {
	Job        string
	Trigger    string
	Priorities []string
	Limit      int
}

var (
	// DailySelection takes the top 10 prompts of the two highest tiers
	DailySelection = Selection{Job: JobDaily, Trigger: scan.TriggerDaily, Priorities: []string{"P0", "P1"}, Limit: 10}
	// WeeklySelection takes up to 50 prompts of any tier
	WeeklySelection = Selection{Job: JobWeekly, Trigger: scan.TriggerWeekly, Limit: 50}
)

// Runner executes scheduled jobs
type Runner struct {
	store     Store
	scanner   Scanner
	rateCache RateCache
	policy    Policy
	logger    *zap.Logger
	now       func() time.Time

	mu   sync.Mutex
	last map[string]*RunReport
}

// RunnerOption customises a Runner
type RunnerOption func(*Runner)

// WithPolicy overrides DefaultPolicy
func WithPolicy(p Policy) RunnerOption {
	return func(r *Runner) { r.policy = p }
}

// WithRateCache publishes recomputed rates to c
func WithRateCache(c RateCache) RunnerOption {
	return func(r *Runner) { r.rateCache = c }
}

// NewRunner creates a Runner
func NewRunner(store Store, scanner Scanner, logger *zap.Logger, opts ...RunnerOption) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Runner{
		store:   store,
		scanner: scanner,
		policy:  DefaultPolicy,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
		last:    make(map[string]*RunReport),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes the named job
func (r *Runner) Run(ctx context.Context, job string) (*RunReport, error) {
	switch job {
	case JobDaily:
		return r.RunDaily(ctx)
	case JobWeekly:
		return r.RunWeekly(ctx)
	case JobRates:
		return r.RunRateRecompute(ctx)
	default:
		return nil, fmt.Errorf("unknown job %q", job)
	}
}

// LastReport returns the report of the job's most recent finished run,
// whether it was scheduled or triggered by hand.
func (r *Runner) LastReport(job string) (*RunReport, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	report, ok := r.last[job]
	return report, ok
}

// RunDaily scans the high-priority prompts of every active project
func (r *Runner) RunDaily(ctx context.Context) (*RunReport, error) {
	return r.sweep(ctx, DailySelection)
}

// RunWeekly scans the broader prompt set of every active project
func (r *Runner) RunWeekly(ctx context.Context) (*RunReport, error) {
	return r.sweep(ctx, WeeklySelection)
}

// sweep scans each selected prompt of each active project. A failing
// project or prompt is recorded and the sweep moves on. The error is
// non-nil only when the project list itself cannot be loaded.
func (r *Runner) sweep(ctx context.Context, sel Selection) (*RunReport, error) {
	report := newReport(sel.Job, r.now())
	defer r.finish(report)

	var projects []string
	load := WithRetry(ctx, r.policy, func(ctx context.Context) error {
		var err error
		projects, err = r.store.ActiveProjects(ctx)
		return err
	})
	if !load.OK() {
		report.Failed++
		return report, fmt.Errorf("load active projects: %w", load.Err)
	}
	r.logger.Info("Scheduled sweep started",
		zap.String("job", sel.Job),
		zap.Int("projects", len(projects)),
	)

	for _, projectID := range projects {
		if ctx.Err() != nil {
			break
		}
		prompts, err := r.store.PromptsForProject(ctx, projectID, sel.Priorities, sel.Limit)
		if err != nil {
			r.logger.Error("Failed to load prompts",
				zap.String("job", sel.Job),
				zap.String("project_id", projectID),
				zap.Error(err),
			)
			p := report.project(projectID)
			p.Error = err.Error()
			report.Failed++
			continue
		}
		report.project(projectID)

		for _, prompt := range prompts {
			report.addResult(r.scanPrompt(ctx, sel, projectID, prompt.Text))
		}
	}
	return report, nil
}

func (r *Runner) scanPrompt(ctx context.Context, sel Selection, projectID, prompt string) PromptResult {
	res := PromptResult{ProjectID: projectID, Prompt: prompt}

	var summary *scan.Summary
	out := WithRetry(ctx, r.policy, func(ctx context.Context) error {
		if res.Attempts > 0 {
			metrics.ScanRetries.WithLabelValues(sel.Job).Inc()
		}
		res.Attempts++
		var err error
		summary, err = r.scanner.ScanAll(ctx, scan.ScanRequest{
			Prompt:    prompt,
			ProjectID: projectID,
			Trigger:   sel.Trigger,
		})
		return err
	})
	res.Attempts = out.Attempts

	if !out.OK() {
		r.logger.Error("Scheduled scan failed",
			zap.String("job", sel.Job),
			zap.String("project_id", projectID),
			zap.Int("attempts", out.Attempts),
			zap.Error(out.Err),
		)
		res.Error = out.Err.Error()
		return res
	}
	res.TotalCitations = summary.TotalCitations
	res.CitationsSaved = summary.CitationsSaved
	return res
}

// RunRateRecompute recomputes each project's citation rate over RateWindow
// and writes it back.
func (r *Runner) RunRateRecompute(ctx context.Context) (*RunReport, error) {
	report := newReport(JobRates, r.now())
	defer r.finish(report)

	var stats []db.RateStat
	load := WithRetry(ctx, r.policy, func(ctx context.Context) error {
		var err error
		stats, err = r.store.CitationRates(ctx, RateWindow)
		return err
	})
	if !load.OK() {
		report.Failed++
		return report, fmt.Errorf("aggregate citation rates: %w", load.Err)
	}

	for _, st := range stats {
		p := report.project(st.ProjectID)
		p.CitationCount = st.CitationCount
		p.PromptCount = st.PromptCount
		p.CitationRate = round3(st.CitationRate)

		if err := r.store.UpdateCitationRate(ctx, st.ProjectID, st.CitationRate); err != nil {
			r.logger.Error("Failed to update citation rate",
				zap.String("project_id", st.ProjectID),
				zap.Error(err),
			)
			p.Error = err.Error()
			p.Failed++
			report.Failed++
			continue
		}
		p.Succeeded++
		report.Succeeded++

		if r.rateCache != nil {
			if err := r.rateCache.SetCitationRate(ctx, st.ProjectID, st.CitationRate); err != nil {
				r.logger.Warn("Failed to cache citation rate",
					zap.String("project_id", st.ProjectID),
					zap.Error(err),
				)
			}
		}
	}
	return report, nil
}

func (r *Runner) finish(report *RunReport) {
	report.FinishedAt = r.now()
	r.mu.Lock()
	r.last[report.Job] = report
	r.mu.Unlock()
	metrics.RecordScheduledRun(report.Job, report.Status(), report.FinishedAt.Sub(report.StartedAt).Seconds())
	r.logger.Info("Scheduled job finished",
		zap.String("job", report.Job),
		zap.String("status", report.Status()),
		zap.Int("projects", len(report.Projects)),
		zap.Int("prompts", report.TotalPrompts),
		zap.Int("citations", report.TotalCitations),
		zap.Int("failed", report.Failed),
	)
}
