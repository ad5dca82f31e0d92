// Package scan runs citation scans across AI platforms and hands the
// results to a persistence sink.
package scan

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/leapgeo/citetrack/internal/extract"
	"github.com/leapgeo/citetrack/internal/metrics"
	"github.com/leapgeo/citetrack/internal/platforms"
	"github.com/leapgeo/citetrack/internal/scrape"
	"github.com/leapgeo/citetrack/internal/tracing"
)

// Scraper fetches a rendered platform answer
type Scraper interface {
	Fetch(ctx context.Context, platform, targetURL, waitFor string) (*scrape.Page, error)
}

// Sink stores citation candidates and reports how many rows were written.
// A returned error means the store itself is unreachable; individual row
// failures only lower the count.
type Sink interface {
	SaveCitations(ctx context.Context, projectID string, candidates []extract.Candidate) (int, error)
}

// Orchestrator fans a scan out to platforms concurrently and persists the
// merged result. It holds no mutable state and is safe for concurrent use.
type Orchestrator struct {
	registry *platforms.Registry
	scraper  Scraper
	sink     Sink
	logger   *zap.Logger
	waitFor  string
	now      func() time.Time
}

// Option customises an Orchestrator
type Option func(*Orchestrator)

// WithWaitFor sets the wait condition passed to the scraper
func WithWaitFor(waitFor string) Option {
	return func(o *Orchestrator) { o.waitFor = waitFor }
}

// WithClock overrides the summary timestamp source
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New creates an Orchestrator
func New(registry *platforms.Registry, scraper Scraper, sink Sink, logger *zap.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &Orchestrator{
		registry: registry,
		scraper:  scraper,
		sink:     sink,
		logger:   logger,
		waitFor:  scrape.DefaultWaitFor,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// ScanPlatform scans one platform. It never fails the caller: an unknown key
// or empty page yields no candidates and a nil error, and a scrape failure
// yields no candidates along with the *scrape.Failure for reporting.
func (o *Orchestrator) ScanPlatform(ctx context.Context, key, prompt, projectID string) ([]extract.Candidate, error) {
	cfg, ok := o.registry.Lookup(key)
	if !ok {
		o.logger.Error("Unknown platform requested",
			zap.String("platform", key),
			zap.String("project_id", projectID),
		)
		return []extract.Candidate{}, nil
	}

	page, err := o.scraper.Fetch(ctx, key, cfg.SearchURL(prompt), o.waitFor)
	if err != nil {
		o.logger.Warn("Scrape failed",
			zap.String("platform", key),
			zap.String("project_id", projectID),
			zap.Error(err),
		)
		return []extract.Candidate{}, err
	}

	content := page.Content()
	if content == "" {
		o.logger.Warn("Scrape returned no content",
			zap.String("platform", key),
			zap.String("project_id", projectID),
		)
		return []extract.Candidate{}, nil
	}

	return extract.Extract(content, cfg, prompt), nil
}

type platformResult struct {
	candidates []extract.Candidate
	outcome    PlatformOutcome
}

// ScanAll scans every requested platform concurrently, waits for all of them,
// and saves the merged candidates. A platform failure only affects its own
// outcome. The only error besides ErrInvalidRequest is a wrapped
// ErrPersistenceUnavailable. Caller cancellation does not abort platform
// scans already in flight.
func (o *Orchestrator) ScanAll(ctx context.Context, req ScanRequest) (*Summary, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	trigger := req.Trigger
	if trigger == "" {
		trigger = TriggerManual
	}

	start := time.Now()
	metrics.ScansStarted.WithLabelValues(trigger).Inc()

	keys := o.resolvePlatforms(req.Platforms)

	ctx = context.WithoutCancel(ctx)
	ctx, span := tracing.StartScanSpan(ctx, req.ProjectID, len(keys))
	defer span.End()

	results := make([]platformResult, len(keys))
	var wg sync.WaitGroup
	for i, key := range keys {
		wg.Add(1)
		go func(i int, key string) {
			defer wg.Done()
			results[i] = o.runPlatform(ctx, key, req)
		}(i, key)
	}
	wg.Wait()

	summary := &Summary{
		Prompt:            req.Prompt,
		ProjectID:         req.ProjectID,
		PlatformsScanned:  len(keys),
		ResultsByPlatform: make(map[string]PlatformOutcome, len(keys)),
	}
	merged := make([]extract.Candidate, 0)
	for _, r := range results {
		summary.ResultsByPlatform[r.outcome.Platform] = r.outcome
		merged = append(merged, r.candidates...)
		metrics.RecordPlatformOutcome(r.outcome.Platform, r.outcome.Status, r.outcome.CitationsFound)
	}
	summary.TotalCitations = len(merged)

	if len(merged) > 0 {
		saved, err := o.sink.SaveCitations(ctx, req.ProjectID, merged)
		if err != nil {
			o.logger.Error("Citation persistence unavailable",
				zap.String("project_id", req.ProjectID),
				zap.Int("total_citations", summary.TotalCitations),
				zap.Error(err),
			)
			metrics.RecordScanMetrics(trigger, "persistence_unavailable", time.Since(start).Seconds())
			return nil, fmt.Errorf("%w: %w", ErrPersistenceUnavailable, err)
		}
		summary.CitationsSaved = min(saved, summary.TotalCitations)
	}
	summary.Timestamp = o.now()

	o.logger.Info("Scan completed",
		zap.String("project_id", req.ProjectID),
		zap.String("trigger", trigger),
		zap.Int("platforms", summary.PlatformsScanned),
		zap.Int("total_citations", summary.TotalCitations),
		zap.Int("citations_saved", summary.CitationsSaved),
		zap.Duration("duration", time.Since(start)),
	)
	metrics.RecordScanMetrics(trigger, "success", time.Since(start).Seconds())
	return summary, nil
}

// runPlatform converts one platform scan, panics included, into an outcome.
func (o *Orchestrator) runPlatform(ctx context.Context, key string, req ScanRequest) (res platformResult) {
	res.outcome = PlatformOutcome{Platform: key, Name: key}
	if cfg, ok := o.registry.Lookup(key); ok {
		res.outcome.Name = cfg.Name
	}

	ctx, span := tracing.StartPlatformSpan(ctx, key)
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("Platform scan panicked",
				zap.String("platform", key),
				zap.Any("panic", r),
			)
			res.candidates = nil
			res.outcome.CitationsFound = 0
			res.outcome.Status = StatusError
			res.outcome.Error = fmt.Sprintf("panic: %v", r)
		}
	}()

	candidates, err := o.ScanPlatform(ctx, key, req.Prompt, req.ProjectID)
	res.candidates = candidates
	res.outcome.CitationsFound = len(candidates)

	var failure *scrape.Failure
	switch {
	case errors.As(err, &failure):
		res.outcome.Status = StatusError
		res.outcome.Error = failure.Error()
	case err != nil:
		res.outcome.Status = StatusError
		res.outcome.Error = err.Error()
	case len(candidates) > 0:
		res.outcome.Status = StatusSuccess
	default:
		res.outcome.Status = StatusNoCitations
	}
	return res
}

// resolvePlatforms returns the requested keys in order without duplicates,
// or every registered key when none were requested.
func (o *Orchestrator) resolvePlatforms(requested []string) []string {
	if len(requested) == 0 {
		return o.registry.Keys()
	}
	seen := make(map[string]struct{}, len(requested))
	keys := make([]string, 0, len(requested))
	for _, k := range requested {
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	return keys
}
