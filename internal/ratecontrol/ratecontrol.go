// Package ratecontrol paces outbound scrape requests per AI platform.
package ratecontrol

import (
	"context"
	"fmt"
	"math"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"
)

// RateLimit is a requests-per-minute budget with a burst allowance
type RateLimit struct {
	RPM   int `yaml:"rpm" mapstructure:"rpm"`
	Burst int `yaml:"burst" mapstructure:"burst"`
}

// Limits is the scrape_limits section of the config file
type Limits struct {
	DefaultRPM        int                  `yaml:"default_rpm" mapstructure:"default_rpm"`
	DefaultBurst      int                  `yaml:"default_burst" mapstructure:"default_burst"`
	PlatformOverrides map[string]RateLimit `yaml:"platform_overrides" mapstructure:"platform_overrides"`
}

type fileConfig struct {
	ScrapeLimits Limits `yaml:"scrape_limits"`
}

// LoadFile reads the scrape_limits section from a YAML file
func LoadFile(path string) (Limits, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Limits{}, fmt.Errorf("read rate limit config: %w", err)
	}
	var cfg fileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Limits{}, fmt.Errorf("parse rate limit config %s: %w", path, err)
	}
	return cfg.ScrapeLimits, nil
}

// Platforms that answer anonymously tolerate a faster pace than the ones
// behind a login wall.
var builtInPlatformLimits = map[string]RateLimit{
	"chatgpt":    {RPM: 10, Burst: 1},
	"claude":     {RPM: 10, Burst: 1},
	"gemini":     {RPM: 15, Burst: 2},
	"perplexity": {RPM: 20, Burst: 2},
	"copilot":    {RPM: 15, Burst: 2},
	"meta_ai":    {RPM: 15, Burst: 2},
	"you":        {RPM: 30, Burst: 3},
	"phind":      {RPM: 30, Burst: 3},
}

func normalize(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

// LimitFor resolves the effective limit for a platform: the configured
// override, then the built-in table, then the configured default. Zero RPM
// means unlimited.
func (l Limits) LimitFor(platform string) RateLimit {
	key := normalize(platform)
	if override, ok := l.PlatformOverrides[key]; ok {
		return withBurst(override, l.DefaultBurst)
	}
	if limit, ok := builtInPlatformLimits[key]; ok {
		return CombineLimits(limit, RateLimit{RPM: l.DefaultRPM, Burst: l.DefaultBurst})
	}
	return withBurst(RateLimit{RPM: l.DefaultRPM, Burst: l.DefaultBurst}, 0)
}

func withBurst(limit RateLimit, fallback int) RateLimit {
	if limit.Burst <= 0 {
		limit.Burst = fallback
	}
	if limit.Burst <= 0 {
		limit.Burst = 1
	}
	return limit
}

// CombineLimits keeps the stricter positive value of each field
func CombineLimits(a, b RateLimit) RateLimit {
	limit := RateLimit{
		RPM:   minPositive(a.RPM, b.RPM),
		Burst: minPositive(a.Burst, b.Burst),
	}
	if limit.Burst == 0 {
		limit.Burst = 1
	}
	return limit
}

// Interval is the steady-state spacing between requests under limit
func Interval(limit RateLimit) time.Duration {
	if limit.RPM <= 0 {
		return 0
	}
	ms := math.Ceil(60000.0 / float64(limit.RPM))
	return time.Duration(ms) * time.Millisecond
}

func minPositive(a, b int) int {
	switch {
	case a <= 0 && b <= 0:
		return 0
	case a <= 0:
		return b
	case b <= 0:
		return a
	case a < b:
		return a
	default:
		return b
	}
}

// Limiter hands out one token-bucket limiter per platform. It is safe for
// concurrent use; Reload swaps the limits without dropping waiters.
type Limiter struct {
	mu       sync.RWMutex
	limits   Limits
	limiters map[string]*rate.Limiter
}

// NewLimiter builds a Limiter over limits
func NewLimiter(limits Limits) *Limiter {
	return &Limiter{limits: limits, limiters: make(map[string]*rate.Limiter)}
}

// Wait blocks until platform may send another request or ctx ends.
func (l *Limiter) Wait(ctx context.Context, platform string) error {
	return l.get(platform).Wait(ctx)
}

// Limit returns the effective limit currently applied to platform
func (l *Limiter) Limit(platform string) RateLimit {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.limits.LimitFor(platform)
}

func (l *Limiter) get(platform string) *rate.Limiter {
	key := normalize(platform)

	l.mu.RLock()
	lim, ok := l.limiters[key]
	l.mu.RUnlock()
	if ok {
		return lim
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if lim, ok := l.limiters[key]; ok {
		return lim
	}
	lim = rate.NewLimiter(toRate(l.limits.LimitFor(key)))
	l.limiters[key] = lim
	return lim
}

// Reload applies new limits to existing and future limiters
func (l *Limiter) Reload(limits Limits) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.limits = limits
	for key, lim := range l.limiters {
		r, burst := toRate(limits.LimitFor(key))
		lim.SetLimit(r)
		lim.SetBurst(burst)
	}
}

func toRate(limit RateLimit) (rate.Limit, int) {
	if limit.RPM <= 0 {
		return rate.Inf, max(limit.Burst, 1)
	}
	return rate.Every(Interval(limit)), max(limit.Burst, 1)
}
