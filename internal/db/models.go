package db

import "time"

// Citation is one persisted citations row
type Citation struct {
	ID         int64     `db:"id" json:"id"`
	ProjectID  string    `db:"project_id" json:"project_id"`
	Platform   string    `db:"platform" json:"platform"`
	Prompt     string    `db:"prompt" json:"prompt"`
	Source     string    `db:"source" json:"source"`
	Position   int       `db:"position" json:"position"`
	Snippet    string    `db:"snippet" json:"snippet"`
	DetectedAt time.Time `db:"detected_at" json:"detected_at"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// Prompt is a tracked prompt selected for scheduled scanning
type Prompt struct {
	Text     string `db:"text"`
	Priority string `db:"priority"`
	Score    int    `db:"score"`
}

// RateStat is a project's citation rate over a window. CitationRate is
// distinct citations over distinct prompts that produced a citation.
type RateStat struct {
	ProjectID     string  `db:"project_id" json:"project_id"`
	CitationCount int     `db:"citation_count" json:"citation_count"`
	PromptCount   int     `db:"prompt_count" json:"prompt_count"`
	CitationRate  float64 `db:"-" json:"citation_rate"`
}
