package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/leapgeo/citetrack/internal/circuitbreaker"
	"github.com/leapgeo/citetrack/internal/db"
)

func setupCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	logger := zaptest.NewLogger(t)
	return New(circuitbreaker.NewRedisWrapper(client, "read-cache", logger), logger), mr
}

func TestCache_JSONRoundTrip(t *testing.T) {
	c, mr := setupCache(t)
	ctx := context.Background()

	var miss map[string]int
	found, err := c.GetJSON(ctx, "citetrack:k", &miss)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, c.SetJSON(ctx, "citetrack:k", map[string]int{"a": 1}, time.Minute))
	assert.Equal(t, time.Minute, mr.TTL("citetrack:k"))

	var hit map[string]int
	found, err = c.GetJSON(ctx, "citetrack:k", &hit)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, map[string]int{"a": 1}, hit)

	require.NoError(t, c.SetJSON(ctx, "citetrack:default", 1, 0))
	assert.Equal(t, DefaultTTL, mr.TTL("citetrack:default"))
}

func TestCache_DecodeError(t *testing.T) {
	c, mr := setupCache(t)
	require.NoError(t, mr.Set("citetrack:bad", "{not json"))

	var v map[string]int
	_, err := c.GetJSON(context.Background(), "citetrack:bad", &v)
	assert.Error(t, err)
}

func TestCache_DeletePatternSpansScanPages(t *testing.T) {
	c, mr := setupCache(t)
	for i := 0; i < 450; i++ {
		require.NoError(t, mr.Set(fmt.Sprintf("citetrack:citations:project:p1:%d", i), "[]"))
	}
	require.NoError(t, mr.Set("citetrack:citations:project:p2:50", "[]"))

	n, err := c.DeletePattern(context.Background(), "citetrack:citations:project:p1:*")
	require.NoError(t, err)
	assert.Equal(t, 450, n)
	assert.True(t, mr.Exists("citetrack:citations:project:p2:50"))
}

func TestCache_InvalidateProject(t *testing.T) {
	c, mr := setupCache(t)
	require.NoError(t, mr.Set(ProjectCitationsKey("sweetnight", 50), "[]"))
	require.NoError(t, mr.Set(ProjectCitationsKey("sweetnight", 10), "[]"))
	require.NoError(t, mr.Set(ProjectCitationsKey("acme", 50), "[]"))
	require.NoError(t, mr.Set(RecentCitationsKey(10), "[]"))

	c.InvalidateOnSave("sweetnight")

	assert.False(t, mr.Exists(ProjectCitationsKey("sweetnight", 50)))
	assert.False(t, mr.Exists(ProjectCitationsKey("sweetnight", 10)))
	assert.False(t, mr.Exists(RecentCitationsKey(10)))
	assert.True(t, mr.Exists(ProjectCitationsKey("acme", 50)))
}

func TestCache_CitationRate(t *testing.T) {
	c, mr := setupCache(t)
	ctx := context.Background()

	_, found, err := c.CitationRate(ctx, "sweetnight")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, c.SetCitationRate(ctx, "sweetnight", 1.75))
	rate, found, err := c.CitationRate(ctx, "sweetnight")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 1.75, rate)
	assert.Equal(t, CitationRateTTL, mr.TTL(CitationRateKey("sweetnight")))
}

type countingReader struct {
	mu     sync.Mutex
	calls  int
	rows   []db.Citation
	err    error
	limits []int
}

func (r *countingReader) CitationsForProject(ctx context.Context, projectID string, limit int) ([]db.Citation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	r.limits = append(r.limits, limit)
	return r.rows, r.err
}

func (r *countingReader) RecentCitations(ctx context.Context, limit int) ([]db.Citation, error) {
	return r.CitationsForProject(ctx, "", limit)
}

func TestCachedReader_ReadThrough(t *testing.T) {
	c, mr := setupCache(t)
	detected := time.Date(2026, 10, 15, 2, 0, 0, 0, time.UTC)
	next := &countingReader{rows: []db.Citation{{
		ID: 7, ProjectID: "sweetnight", Platform: "You.com", Prompt: "q",
		Source: "sweetnight.com", Position: 1, Snippet: "s", DetectedAt: detected, CreatedAt: detected,
	}}}
	reader := NewCachedReader(next, c, time.Minute, zaptest.NewLogger(t))
	ctx := context.Background()

	first, err := reader.CitationsForProject(ctx, "sweetnight", 0)
	require.NoError(t, err)
	second, err := reader.CitationsForProject(ctx, "sweetnight", 0)
	require.NoError(t, err)

	assert.Equal(t, 1, next.calls)
	assert.Equal(t, []int{db.DefaultProjectLimit}, next.limits)
	assert.Equal(t, first, second)
	assert.True(t, mr.Exists(ProjectCitationsKey("sweetnight", db.DefaultProjectLimit)))

	_, err = reader.RecentCitations(ctx, 0)
	require.NoError(t, err)
	assert.True(t, mr.Exists(RecentCitationsKey(db.DefaultRecentLimit)))
}

func TestCachedReader_RedisDownFallsBackToDatabase(t *testing.T) {
	c, mr := setupCache(t)
	mr.Close()

	next := &countingReader{rows: []db.Citation{{ID: 1}}}
	reader := NewCachedReader(next, c, time.Minute, zaptest.NewLogger(t))

	got, err := reader.RecentCitations(context.Background(), 5)
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Equal(t, 1, next.calls)
}

func TestCachedReader_DatabaseErrorPropagates(t *testing.T) {
	c, _ := setupCache(t)
	next := &countingReader{err: errors.New("db down")}
	reader := NewCachedReader(next, c, time.Minute, zaptest.NewLogger(t))

	_, err := reader.CitationsForProject(context.Background(), "p", 10)
	assert.EqualError(t, err, "db down")
}

func TestCachedReader_CitationRate(t *testing.T) {
	c, mr := setupCache(t)
	reader := NewCachedReader(&countingReader{}, c, time.Minute, zaptest.NewLogger(t))
	ctx := context.Background()

	_, found := reader.CitationRate(ctx, "sweetnight")
	assert.False(t, found)

	require.NoError(t, c.SetCitationRate(ctx, "sweetnight", 0.5))
	rate, found := reader.CitationRate(ctx, "sweetnight")
	assert.True(t, found)
	assert.Equal(t, 0.5, rate)

	mr.Close()
	_, found = reader.CitationRate(ctx, "sweetnight")
	assert.False(t, found)
}
