package db

import (
	"context"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// ActiveProjects returns the ids of every active project
func (c *Client) ActiveProjects(ctx context.Context) ([]string, error) {
	ids := make([]string, 0)
	err := c.db.Do(ctx, func(ctx context.Context) error {
		return c.sqlx.SelectContext(ctx, &ids,
			`SELECT id FROM projects WHERE status = 'active' ORDER BY id`)
	})
	if err != nil {
		return nil, fmt.Errorf("list active projects: %w", err)
	}
	return ids, nil
}

// PromptsForProject returns up to limit active prompts ranked by priority
// tier, then score descending. An empty priorities list selects every tier.
func (c *Client) PromptsForProject(ctx context.Context, projectID string, priorities []string, limit int) ([]Prompt, error) {
	query := `
		SELECT text, COALESCE(priority, '') AS priority, COALESCE(score, 0) AS score
		FROM prompts
		WHERE project_id = $1 AND status = 'active'`
	args := []interface{}{projectID}
	if len(priorities) > 0 {
		query += ` AND priority = ANY($2)`
		args = append(args, pq.Array(priorities))
	}
	query += fmt.Sprintf(` ORDER BY priority, score DESC LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	prompts := make([]Prompt, 0)
	err := c.db.Do(ctx, func(ctx context.Context) error {
		return c.sqlx.SelectContext(ctx, &prompts, query, args...)
	})
	if err != nil {
		return nil, fmt.Errorf("list prompts for project %s: %w", projectID, err)
	}
	return prompts, nil
}

// CitationRates aggregates citations detected within window for every
// active project. The rate divides distinct citations by distinct prompts
// that have a citation. Projects without citations in the window report 0
// so their stored rate decays instead of going stale.
func (c *Client) CitationRates(ctx context.Context, window time.Duration) ([]RateStat, error) {
	since := c.now().Add(-window)
	stats := make([]RateStat, 0)
	err := c.db.Do(ctx, func(ctx context.Context) error {
		return c.sqlx.SelectContext(ctx, &stats, `
			SELECT p.id AS project_id,
				COUNT(DISTINCT c.id) AS citation_count,
				COUNT(DISTINCT c.prompt) AS prompt_count
			FROM projects p
			LEFT JOIN citations c ON c.project_id = p.id AND c.detected_at >= $1
			WHERE p.status = 'active'
			GROUP BY p.id
			ORDER BY p.id`, since)
	})
	if err != nil {
		return nil, fmt.Errorf("aggregate citation rates: %w", err)
	}
	for i := range stats {
		if stats[i].PromptCount > 0 {
			stats[i].CitationRate = float64(stats[i].CitationCount) / float64(stats[i].PromptCount)
		}
	}
	return stats, nil
}

// UpdateCitationRate stores rate on the project row
func (c *Client) UpdateCitationRate(ctx context.Context, projectID string, rate float64) error {
	if _, err := c.db.ExecContext(ctx,
		`UPDATE projects SET citation_rate = $1, updated_at = NOW() WHERE id = $2`,
		rate, projectID,
	); err != nil {
		return fmt.Errorf("update citation rate for %s: %w", projectID, err)
	}
	return nil
}
