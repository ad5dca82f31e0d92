package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Scan metrics
	ScansStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "citetrack_scans_started_total",
			Help: "Total number of scans started",
		},
		[]string{"trigger"},
	)

	ScansCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "citetrack_scans_completed_total",
			Help: "Total number of scans completed",
		},
		[]string{"trigger", "status"},
	)

	ScanDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "citetrack_scan_duration_seconds",
			Help:    "Scan duration across all requested platforms",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 30, 45, 60},
		},
		[]string{"trigger"},
	)

	// Platform metrics
	PlatformOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "citetrack_platform_outcomes_total",
			Help: "Per-platform scan outcomes",
		},
		[]string{"platform", "status"},
	)

	CitationsFound = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "citetrack_citations_found_total",
			Help: "Citation candidates extracted",
		},
		[]string{"platform"},
	)

	// Scrape metrics
	ScrapeRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "citetrack_scrape_requests_total",
			Help: "Requests sent to the scraping backend",
		},
		[]string{"platform", "status"},
	)

	ScrapeLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "citetrack_scrape_latency_seconds",
			Help:    "Scraping backend round-trip latency",
			Buckets: []float64{0.25, 0.5, 1, 2.5, 5, 10, 20, 30},
		},
		[]string{"platform"},
	)

	// Persistence metrics
	CitationsSaved = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "citetrack_citations_saved_total",
			Help: "Citation rows written",
		},
	)

	CitationRowFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "citetrack_citation_row_failures_total",
			Help: "Citation rows that failed to insert",
		},
	)

	// Dispatcher metrics
	DispatchQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "citetrack_dispatch_queue_depth",
			Help: "Async scans waiting for a worker",
		},
	)

	DispatchRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "citetrack_dispatch_rejected_total",
			Help: "Async scans rejected because the queue was full",
		},
	)

	// Scheduler metrics
	ScheduledRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "citetrack_scheduled_runs_total",
			Help: "Scheduler job runs",
		},
		[]string{"job", "status"},
	)

	ScheduledRunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "citetrack_scheduled_run_duration_seconds",
			Help:    "Scheduler job run duration",
			Buckets: []float64{1, 10, 60, 300, 900, 1800, 3600},
		},
		[]string{"job"},
	)

	ScanRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "citetrack_scan_retries_total",
			Help: "Scan attempts retried by the scheduler",
		},
		[]string{"job"},
	)

	// Cache metrics
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "citetrack_cache_lookups_total",
			Help: "Read cache lookups",
		},
		[]string{"result"},
	)

	// HTTP metrics
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "citetrack_http_requests_total",
			Help: "API requests served",
		},
		[]string{"route", "code"},
	)

	RateLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "citetrack_http_rate_limited_total",
			Help: "API requests rejected by the rate limiter",
		},
	)
)

// RecordScanMetrics records a finished scan
func RecordScanMetrics(trigger, status string, durationSeconds float64) {
	ScansCompleted.WithLabelValues(trigger, status).Inc()
	ScanDuration.WithLabelValues(trigger).Observe(durationSeconds)
}

// RecordPlatformOutcome records one platform's result within a scan
func RecordPlatformOutcome(platform, status string, found int) {
	PlatformOutcomes.WithLabelValues(platform, status).Inc()
	if found > 0 {
		CitationsFound.WithLabelValues(platform).Add(float64(found))
	}
}

// RecordScrape records one scraping backend call
func RecordScrape(platform, status string, durationSeconds float64) {
	ScrapeRequests.WithLabelValues(platform, status).Inc()
	ScrapeLatency.WithLabelValues(platform).Observe(durationSeconds)
}

// RecordScheduledRun records a finished scheduler job
func RecordScheduledRun(job, status string, durationSeconds float64) {
	ScheduledRuns.WithLabelValues(job, status).Inc()
	ScheduledRunDuration.WithLabelValues(job).Observe(durationSeconds)
}
