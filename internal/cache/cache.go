// Package cache keeps read-path results in Redis.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/leapgeo/citetrack/internal/circuitbreaker"
)

const (
	keyPrefix = "citetrack"

	DefaultTTL         = time.Hour
	DefaultCitationTTL = 5 * time.Minute
	CitationRateTTL    = 30 * time.Minute

	scanBatch = 200
)

// ProjectCitationsKey caches CitationsForProject(id, limit)
func ProjectCitationsKey(projectID string, limit int) string {
	return fmt.Sprintf("%s:citations:project:%s:%d", keyPrefix, projectID, limit)
}

// RecentCitationsKey caches RecentCitations(limit)
func RecentCitationsKey(limit int) string {
	return fmt.Sprintf("%s:citations:recent:%d", keyPrefix, limit)
}

// CitationRateKey holds the last computed citation rate of a project
func CitationRateKey(projectID string) string {
	return fmt.Sprintf("%s:project:%s:citation_rate", keyPrefix, projectID)
}

// Cache is a JSON value cache over Redis
type Cache struct {
	redis  *circuitbreaker.RedisWrapper
	logger *zap.Logger
}

// New creates a Cache
func New(rw *circuitbreaker.RedisWrapper, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{redis: rw, logger: logger}
}

// GetJSON decodes key into dst. found is false on a miss.
func (c *Cache) GetJSON(ctx context.Context, key string, dst interface{}) (bool, error) {
	raw, err := c.redis.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("cache get %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("cache decode %s: %w", key, err)
	}
	return true, nil
}

// SetJSON stores v under key. A non-positive ttl means DefaultTTL.
func (c *Cache) SetJSON(ctx context.Context, key string, v interface{}, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("cache encode %s: %w", key, err)
	}
	if err := c.redis.Set(ctx, key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	return nil
}

// Delete removes keys and reports how many existed
func (c *Cache) Delete(ctx context.Context, keys ...string) (int, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	n, err := c.redis.Del(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("cache delete: %w", err)
	}
	return int(n), nil
}

// DeletePattern removes every key matching the glob pattern using SCAN
func (c *Cache) DeletePattern(ctx context.Context, pattern string) (int, error) {
	var (
		cursor  uint64
		deleted int
	)
	for {
		keys, next, err := c.redis.Scan(ctx, cursor, pattern, scanBatch).Result()
		if err != nil {
			return deleted, fmt.Errorf("cache scan %s: %w", pattern, err)
		}
		n, err := c.Delete(ctx, keys...)
		deleted += n
		if err != nil {
			return deleted, err
		}
		if next == 0 {
			return deleted, nil
		}
		cursor = next
	}
}

// InvalidateProject drops cached reads that may include projectID's citations
func (c *Cache) InvalidateProject(ctx context.Context, projectID string) (int, error) {
	n, err := c.DeletePattern(ctx, fmt.Sprintf("%s:citations:project:%s:*", keyPrefix, projectID))
	if err != nil {
		return n, err
	}
	m, err := c.DeletePattern(ctx, keyPrefix+":citations:recent:*")
	return n + m, err
}

// InvalidateOnSave is a db.Client OnSaved hook. Failures are logged only.
func (c *Cache) InvalidateOnSave(projectID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := c.InvalidateProject(ctx, projectID); err != nil {
		c.logger.Warn("Failed to invalidate citation cache",
			zap.String("project_id", projectID),
			zap.Error(err),
		)
	}
}

// SetCitationRate caches a freshly computed rate
func (c *Cache) SetCitationRate(ctx context.Context, projectID string, rate float64) error {
	v := strconv.FormatFloat(rate, 'f', -1, 64)
	if err := c.redis.Set(ctx, CitationRateKey(projectID), v, CitationRateTTL).Err(); err != nil {
		return fmt.Errorf("cache citation rate %s: %w", projectID, err)
	}
	return nil
}

// CitationRate returns the cached rate of projectID
func (c *Cache) CitationRate(ctx context.Context, projectID string) (float64, bool, error) {
	rate, err := c.redis.Get(ctx, CitationRateKey(projectID)).Float64()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("cache citation rate %s: %w", projectID, err)
	}
	return rate, true, nil
}
