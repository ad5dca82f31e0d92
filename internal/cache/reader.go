package cache

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/leapgeo/citetrack/internal/db"
	"github.com/leapgeo/citetrack/internal/metrics"
)

// CitationReader is the citation read path
type CitationReader interface {
	CitationsForProject(ctx context.Context, projectID string, limit int) ([]db.Citation, error)
	RecentCitations(ctx context.Context, limit int) ([]db.Citation, error)
}

// CachedReader serves citation reads from Redis and falls back to next.
// Cache errors never reach the caller.
type CachedReader struct {
	next   CitationReader
	cache  *Cache
	ttl    time.Duration
	logger *zap.Logger
}

// NewCachedReader wraps next. A non-positive ttl means DefaultCitationTTL.
func NewCachedReader(next CitationReader, cache *Cache, ttl time.Duration, logger *zap.Logger) *CachedReader {
	if ttl <= 0 {
		ttl = DefaultCitationTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedReader{next: next, cache: cache, ttl: ttl, logger: logger}
}

// CitationsForProject implements CitationReader
func (r *CachedReader) CitationsForProject(ctx context.Context, projectID string, limit int) ([]db.Citation, error) {
	if limit <= 0 {
		limit = db.DefaultProjectLimit
	}
	return r.readThrough(ctx, ProjectCitationsKey(projectID, limit), func() ([]db.Citation, error) {
		return r.next.CitationsForProject(ctx, projectID, limit)
	})
}

// RecentCitations implements CitationReader
func (r *CachedReader) RecentCitations(ctx context.Context, limit int) ([]db.Citation, error) {
	if limit <= 0 {
		limit = db.DefaultRecentLimit
	}
	return r.readThrough(ctx, RecentCitationsKey(limit), func() ([]db.Citation, error) {
		return r.next.RecentCitations(ctx, limit)
	})
}

// CitationRate returns the project's last recomputed rate when it is still
// cached. A cache error reads as a miss.
func (r *CachedReader) CitationRate(ctx context.Context, projectID string) (float64, bool) {
	rate, found, err := r.cache.CitationRate(ctx, projectID)
	if err != nil {
		r.logger.Warn("Citation rate cache read failed", zap.String("project_id", projectID), zap.Error(err))
		return 0, false
	}
	return rate, found
}

func (r *CachedReader) readThrough(ctx context.Context, key string, load func() ([]db.Citation, error)) ([]db.Citation, error) {
	var cached []db.Citation
	found, err := r.cache.GetJSON(ctx, key, &cached)
	switch {
	case err != nil:
		metrics.CacheLookups.WithLabelValues("error").Inc()
		r.logger.Warn("Citation cache read failed", zap.String("key", key), zap.Error(err))
	case found:
		metrics.CacheLookups.WithLabelValues("hit").Inc()
		return cached, nil
	default:
		metrics.CacheLookups.WithLabelValues("miss").Inc()
	}

	citations, err := load()
	if err != nil {
		return nil, err
	}
	if err := r.cache.SetJSON(ctx, key, citations, r.ttl); err != nil {
		r.logger.Warn("Citation cache write failed", zap.String("key", key), zap.Error(err))
	}
	return citations, nil
}
