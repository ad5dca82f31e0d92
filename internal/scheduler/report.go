package scheduler

import (
	"math"
	"time"
)

// PromptResult is the outcome of one scheduled prompt scan
type PromptResult struct {
	ProjectID      string `json:"project_id"`
	Prompt         string `json:"prompt"`
	Attempts       int    `json:"attempts"`
	TotalCitations int    `json:"total_citations"`
	CitationsSaved int    `json:"citations_saved"`
	Error          string `json:"error,omitempty"`
}

// ProjectReport tallies one project's share of a run
type ProjectReport struct {
	ProjectID      string  `json:"project_id"`
	Prompts        int     `json:"prompts"`
	Succeeded      int     `json:"succeeded"`
	Failed         int     `json:"failed"`
	TotalCitations int     `json:"total_citations"`
	CitationRate   float64 `json:"citation_rate,omitempty"`
	CitationCount  int     `json:"citation_count,omitempty"`
	PromptCount    int     `json:"prompt_count,omitempty"`
	Error          string  `json:"error,omitempty"`
}

// RunReport summarises one job run
type RunReport struct {
	Job            string                    `json:"job"`
	StartedAt      time.Time                 `json:"started_at"`
	FinishedAt     time.Time                 `json:"finished_at"`
	Projects       map[string]*ProjectReport `json:"projects"`
	TotalPrompts   int                       `json:"total_prompts"`
	TotalCitations int                       `json:"total_citations"`
	Succeeded      int                       `json:"succeeded"`
	Failed         int                       `json:"failed"`
	Results        []PromptResult            `json:"results,omitempty"`
}

func newReport(job string, now time.Time) *RunReport {
	return &RunReport{Job: job, StartedAt: now, Projects: make(map[string]*ProjectReport)}
}

func (r *RunReport) project(id string) *ProjectReport {
	p, ok := r.Projects[id]
	if !ok {
		p = &ProjectReport{ProjectID: id}
		r.Projects[id] = p
	}
	return p
}

func (r *RunReport) addResult(res PromptResult) {
	r.Results = append(r.Results, res)
	p := r.project(res.ProjectID)
	p.Prompts++
	r.TotalPrompts++
	if res.Error != "" {
		p.Failed++
		r.Failed++
		return
	}
	p.Succeeded++
	r.Succeeded++
	p.TotalCitations += res.TotalCitations
	r.TotalCitations += res.TotalCitations
}

// Status is "success" when nothing failed, "partial" when some work failed,
// and "failed" when everything did.
func (r *RunReport) Status() string {
	switch {
	case r.Failed == 0:
		return "success"
	case r.Succeeded > 0:
		return "partial"
	default:
		return "failed"
	}
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
