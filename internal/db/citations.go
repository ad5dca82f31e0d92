package db

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/leapgeo/citetrack/internal/extract"
	"github.com/leapgeo/citetrack/internal/metrics"
)

const (
	DefaultProjectLimit = 50
	DefaultRecentLimit  = 10
)

const insertCitation = `
	INSERT INTO citations (
		project_id, platform, prompt, source,
		position, snippet, detected_at, created_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	RETURNING id`

const selectCitationColumns = `
	SELECT id, project_id, platform,
		COALESCE(prompt, '') AS prompt,
		COALESCE(source, '') AS source,
		COALESCE(position, 0) AS position,
		COALESCE(snippet, '') AS snippet,
		detected_at, created_at
	FROM citations`

// SaveCitations writes each candidate as its own row and returns how many
// were stored. A failed row is logged and skipped. The only error returned
// wraps ErrUnavailable, when the database cannot be reached before writing.
func (c *Client) SaveCitations(ctx context.Context, projectID string, candidates []extract.Candidate) (int, error) {
	if len(candidates) == 0 {
		return 0, nil
	}
	if err := c.db.PingContext(ctx); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	// Row inserts bypass the breaker: a constraint violation says nothing
	// about database health.
	raw := c.db.DB()
	saved := 0
	for _, cand := range candidates {
		now := c.now()
		var id int64
		err := raw.QueryRowContext(ctx, insertCitation,
			projectID, cand.Platform, cand.Prompt, cand.Source,
			cand.Position, cand.Snippet, now, now,
		).Scan(&id)
		if err != nil {
			metrics.CitationRowFailures.Inc()
			c.logger.Error("Failed to save citation",
				zap.String("project_id", projectID),
				zap.String("platform", cand.Platform),
				zap.String("source", cand.Source),
				zap.Int("position", cand.Position),
				zap.Error(err),
			)
			continue
		}
		saved++
	}

	metrics.CitationsSaved.Add(float64(saved))
	c.logger.Debug("Citations saved",
		zap.String("project_id", projectID),
		zap.Int("saved", saved),
		zap.Int("total", len(candidates)),
	)
	if saved > 0 {
		c.notifySaved(projectID)
	}
	return saved, nil
}

// CitationsForProject returns a project's newest citations first. A
// non-positive limit means DefaultProjectLimit.
func (c *Client) CitationsForProject(ctx context.Context, projectID string, limit int) ([]Citation, error) {
	if limit <= 0 {
		limit = DefaultProjectLimit
	}
	out := make([]Citation, 0)
	err := c.db.Do(ctx, func(ctx context.Context) error {
		return c.sqlx.SelectContext(ctx, &out,
			selectCitationColumns+` WHERE project_id = $1 ORDER BY detected_at DESC LIMIT $2`,
			projectID, limit,
		)
	})
	if err != nil {
		return nil, fmt.Errorf("list citations for project %s: %w", projectID, err)
	}
	return out, nil
}

// RecentCitations returns the newest citations across all projects. A
// non-positive limit means DefaultRecentLimit.
func (c *Client) RecentCitations(ctx context.Context, limit int) ([]Citation, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	out := make([]Citation, 0)
	err := c.db.Do(ctx, func(ctx context.Context) error {
		return c.sqlx.SelectContext(ctx, &out,
			selectCitationColumns+` ORDER BY detected_at DESC LIMIT $1`,
			limit,
		)
	})
	if err != nil {
		return nil, fmt.Errorf("list recent citations: %w", err)
	}
	return out, nil
}
