package health

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/leapgeo/citetrack/internal/circuitbreaker"
)

// slowThreshold marks a responsive dependency as degraded
const slowThreshold = 100 * time.Millisecond

// RedisHealthChecker checks Redis connectivity
type RedisHealthChecker struct {
	wrapper *circuitbreaker.RedisWrapper
	logger  *zap.Logger
	timeout time.Duration
}

// NewRedisHealthChecker creates a Redis health checker. Redis only backs the
// read cache and the API limiter, so its failure degrades but does not unready
// the service.
func NewRedisHealthChecker(wrapper *circuitbreaker.RedisWrapper, logger *zap.Logger) *RedisHealthChecker {
	return &RedisHealthChecker{wrapper: wrapper, logger: logger, timeout: 5 * time.Second}
}

func (r *RedisHealthChecker) Name() string           { return "redis" }
func (r *RedisHealthChecker) IsCritical() bool       { return false }
func (r *RedisHealthChecker) Timeout() time.Duration { return r.timeout }

func (r *RedisHealthChecker) Check(ctx context.Context) CheckResult {
	startTime := time.Now()
	result := CheckResult{Component: "redis", Timestamp: startTime}

	if r.wrapper.IsCircuitBreakerOpen() {
		result.Status = StatusUnhealthy
		result.Error = "circuit breaker open"
		result.Message = "Redis circuit breaker is open"
		result.Duration = time.Since(startTime)
		return result
	}

	err := r.wrapper.Client().Ping(ctx).Err()
	result.Duration = time.Since(startTime)
	if err != nil {
		result.Status = StatusUnhealthy
		result.Error = err.Error()
		result.Message = "Redis ping failed"
		result.Details = map[string]interface{}{"latency_ms": result.Duration.Milliseconds()}
		return result
	}

	if result.Duration > slowThreshold {
		result.Status = StatusDegraded
		result.Message = "Redis responding but with high latency"
	} else {
		result.Status = StatusHealthy
		result.Message = "Redis healthy"
	}
	result.Details = map[string]interface{}{
		"latency_ms":           result.Duration.Milliseconds(),
		"circuit_breaker_open": false,
	}
	return result
}

// DatabaseHealthChecker checks the citation store
type DatabaseHealthChecker struct {
	wrapper *circuitbreaker.DatabaseWrapper
	logger  *zap.Logger
	timeout time.Duration
}

// NewDatabaseHealthChecker creates a database health checker
func NewDatabaseHealthChecker(wrapper *circuitbreaker.DatabaseWrapper, logger *zap.Logger) *DatabaseHealthChecker {
	return &DatabaseHealthChecker{wrapper: wrapper, logger: logger, timeout: 5 * time.Second}
}

func (d *DatabaseHealthChecker) Name() string           { return "database" }
func (d *DatabaseHealthChecker) IsCritical() bool       { return true }
func (d *DatabaseHealthChecker) Timeout() time.Duration { return d.timeout }

func (d *DatabaseHealthChecker) Check(ctx context.Context) CheckResult {
	startTime := time.Now()
	result := CheckResult{Component: "database", Critical: true, Timestamp: startTime}

	if d.wrapper.IsOpen() {
		result.Status = StatusUnhealthy
		result.Error = "circuit breaker open"
		result.Message = "Database circuit breaker is open"
		result.Duration = time.Since(startTime)
		return result
	}

	// Probe the pool directly so health polling never feeds the breaker.
	err := d.wrapper.DB().PingContext(ctx)
	result.Duration = time.Since(startTime)
	if err != nil {
		result.Status = StatusUnhealthy
		result.Error = err.Error()
		result.Message = "Database ping failed"
		result.Details = map[string]interface{}{"latency_ms": result.Duration.Milliseconds()}
		return result
	}

	stats := d.wrapper.Stats()
	switch {
	case stats.MaxOpenConnections > 0 && stats.OpenConnections >= stats.MaxOpenConnections:
		result.Status = StatusDegraded
		result.Message = "Database connection pool exhausted"
	case result.Duration > slowThreshold:
		result.Status = StatusDegraded
		result.Message = "Database responding but with high latency"
	default:
		result.Status = StatusHealthy
		result.Message = "Database healthy"
	}
	result.Details = map[string]interface{}{
		"latency_ms":           result.Duration.Milliseconds(),
		"open_connections":     stats.OpenConnections,
		"max_open_connections": stats.MaxOpenConnections,
		"idle_connections":     stats.Idle,
		"in_use_connections":   stats.InUse,
		"circuit_breaker_open": false,
	}
	return result
}

// PlatformBreakers exposes the per-platform breakers of the scraper
type PlatformBreakers interface {
	OpenPlatforms() []string
}

// ScraperHealthChecker reports the per-platform scrape breakers. It never
// issues a scrape itself. Some open platforms degrade the service; every
// platform open makes the scraper unhealthy.
type ScraperHealthChecker struct {
	breakers  PlatformBreakers
	endpoint  string
	platforms int
	logger    *zap.Logger
	timeout   time.Duration
}

// NewScraperHealthChecker creates a scraping backend checker for a catalog
// of platforms entries
func NewScraperHealthChecker(breakers PlatformBreakers, endpoint string, platforms int, logger *zap.Logger) *ScraperHealthChecker {
	return &ScraperHealthChecker{breakers: breakers, endpoint: endpoint, platforms: platforms, logger: logger, timeout: time.Second}
}

func (s *ScraperHealthChecker) Name() string           { return "scraper" }
func (s *ScraperHealthChecker) IsCritical() bool       { return false }
func (s *ScraperHealthChecker) Timeout() time.Duration { return s.timeout }

func (s *ScraperHealthChecker) Check(ctx context.Context) CheckResult {
	open := s.breakers.OpenPlatforms()
	result := CheckResult{
		Component: "scraper",
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"endpoint":       s.endpoint,
			"open_platforms": open,
		},
	}
	switch {
	case len(open) == 0:
		result.Status = StatusHealthy
		result.Message = "Scraping backend accepting requests"
	case s.platforms > 0 && len(open) >= s.platforms:
		result.Status = StatusUnhealthy
		result.Error = "circuit breaker open for every platform"
		result.Message = "Scraping backend rejected by every platform breaker"
	default:
		result.Status = StatusDegraded
		result.Message = fmt.Sprintf("Circuit breaker open for %d of %d platforms", len(open), s.platforms)
	}
	return result
}

// BreakerHealthChecker degrades the service while any circuit breaker is open
type BreakerHealthChecker struct {
	openBreakers func() []string
}

// NewBreakerHealthChecker reports the breakers listed by openBreakers,
// usually circuitbreaker.GlobalMetricsCollector.OpenBreakers.
func NewBreakerHealthChecker(openBreakers func() []string) *BreakerHealthChecker {
	return &BreakerHealthChecker{openBreakers: openBreakers}
}

func (b *BreakerHealthChecker) Name() string           { return "circuit_breakers" }
func (b *BreakerHealthChecker) IsCritical() bool       { return false }
func (b *BreakerHealthChecker) Timeout() time.Duration { return time.Second }

func (b *BreakerHealthChecker) Check(ctx context.Context) CheckResult {
	open := b.openBreakers()
	sort.Strings(open)
	result := CheckResult{
		Component: "circuit_breakers",
		Timestamp: time.Now(),
		Details:   map[string]interface{}{"open": open},
	}
	if len(open) > 0 {
		result.Status = StatusDegraded
		result.Message = fmt.Sprintf("%d circuit breaker(s) open", len(open))
		return result
	}
	result.Status = StatusHealthy
	result.Message = "All circuit breakers closed"
	return result
}

// CustomHealthChecker allows for custom health check logic
type CustomHealthChecker struct {
	name     string
	critical bool
	timeout  time.Duration
	checkFn  func(ctx context.Context) CheckResult
}

// NewCustomHealthChecker creates a custom health checker
func NewCustomHealthChecker(name string, critical bool, timeout time.Duration, checkFn func(ctx context.Context) CheckResult) *CustomHealthChecker {
	return &CustomHealthChecker{name: name, critical: critical, timeout: timeout, checkFn: checkFn}
}

func (c *CustomHealthChecker) Name() string           { return c.name }
func (c *CustomHealthChecker) IsCritical() bool       { return c.critical }
func (c *CustomHealthChecker) Timeout() time.Duration { return c.timeout }

func (c *CustomHealthChecker) Check(ctx context.Context) CheckResult {
	return c.checkFn(ctx)
}
