package scan

import (
	"errors"
	"strings"
	"time"
)

var (
	// ErrInvalidRequest is returned for a scan request missing its prompt or project
	ErrInvalidRequest = errors.New("invalid scan request")
	// ErrPersistenceUnavailable means the citation store could not be reached;
	// it is the only error that fails a whole scan.
	ErrPersistenceUnavailable = errors.New("citation persistence unavailable")
	// ErrQueueFull is returned by Dispatcher.Submit when no slot is free
	ErrQueueFull = errors.New("scan queue is full")
	// ErrDispatcherClosed is returned by Dispatcher.Submit after Close
	ErrDispatcherClosed = errors.New("scan dispatcher is closed")
)

// Outcome statuses
const (
	StatusSuccess     = "success"
	StatusNoCitations = "no_citations"
	StatusError       = "error"
)

// Triggers label where a scan came from
const (
	TriggerManual = "manual"
	TriggerAsync  = "async"
	TriggerDaily  = "daily"
	TriggerWeekly = "weekly"
)

// ScanRequest asks for one prompt to be scanned on a set of platforms. An
// empty Platforms list means every registered platform.
type ScanRequest struct {
	Prompt    string   `json:"prompt"`
	ProjectID string   `json:"project_id"`
	Platforms []string `json:"platforms,omitempty"`
	Trigger   string   `json:"-"`
}

// Validate checks the fields a scan cannot run without
func (r ScanRequest) Validate() error {
	if strings.TrimSpace(r.Prompt) == "" {
		return errors.Join(ErrInvalidRequest, errors.New("prompt is required"))
	}
	if strings.TrimSpace(r.ProjectID) == "" {
		return errors.Join(ErrInvalidRequest, errors.New("project_id is required"))
	}
	return nil
}

// PlatformOutcome is one platform's result within a scan
type PlatformOutcome struct {
	Platform       string `json:"platform"`
	Name           string `json:"name"`
	CitationsFound int    `json:"citations_found"`
	Status         string `json:"status"`
	Error          string `json:"error,omitempty"`
}

// Summary is returned by ScanAll. CitationsSaved never exceeds TotalCitations.
type Summary struct {
	Prompt            string                     `json:"prompt"`
	ProjectID         string                     `json:"project_id"`
	TotalCitations    int                        `json:"total_citations"`
	CitationsSaved    int                        `json:"citations_saved"`
	PlatformsScanned  int                        `json:"platforms_scanned"`
	ResultsByPlatform map[string]PlatformOutcome `json:"results_by_platform"`
	Timestamp         time.Time                  `json:"timestamp"`
}
