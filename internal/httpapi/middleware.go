package httpapi

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/leapgeo/citetrack/internal/circuitbreaker"
	"github.com/leapgeo/citetrack/internal/metrics"
)

// RateLimiter is a per-client fixed-window limiter backed by Redis. When
// Redis cannot answer, requests are let through.
type RateLimiter struct {
	redis    *circuitbreaker.RedisWrapper
	logger   *zap.Logger
	requests int
	window   time.Duration
	now      func() time.Time
}

// NewRateLimiter allows requests per window for each client
func NewRateLimiter(rw *circuitbreaker.RedisWrapper, requests int, window time.Duration, logger *zap.Logger) *RateLimiter {
	if requests <= 0 {
		requests = 60
	}
	if window <= 0 {
		window = time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RateLimiter{redis: rw, logger: logger, requests: requests, window: window, now: time.Now}
}

// Middleware returns the HTTP middleware function
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client := clientID(r)
		allowed, remaining, resetAt := rl.check(r.Context(), client)

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.requests))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))

		if !allowed {
			metrics.RateLimited.Inc()
			rl.logger.Warn("Rate limit exceeded",
				zap.String("client", client),
				zap.String("path", r.URL.Path),
			)
			retry := int(resetAt.Sub(rl.now()).Seconds())
			if retry < 1 {
				retry = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retry))
			sendError(w, "Rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) check(ctx context.Context, client string) (allowed bool, remaining int, resetAt time.Time) {
	window := rl.now().Truncate(rl.window)
	resetAt = window.Add(rl.window)
	key := fmt.Sprintf("citetrack:ratelimit:%s:%d", client, window.Unix())

	var incr *redis.IntCmd
	_, err := rl.redis.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, rl.window+time.Second)
		return nil
	})
	if err != nil || incr == nil {
		rl.logger.Error("Rate limit check failed", zap.Error(err))
		return true, rl.requests, resetAt
	}

	count := int(incr.Val())
	remaining = rl.requests - count
	if remaining < 0 {
		remaining = 0
	}
	return count <= rl.requests, remaining, resetAt
}

// clientID prefers an API key, then the rightmost forwarded address, then
// the peer address.
func clientID(r *http.Request) string {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return "key:" + key
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		parts := strings.Split(fwd, ",")
		if ip := strings.TrimSpace(parts[len(parts)-1]); ip != "" {
			return "ip:" + ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// Logging records each request's outcome in the log and in metrics
func Logging(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			route := r.Pattern
			if route == "" {
				route = "unmatched"
			}
			metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
			logger.Info("HTTP request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", rec.status),
				zap.Duration("duration", time.Since(start)),
				zap.String("remote_addr", r.RemoteAddr),
			)
		})
	}
}

// Chain applies middleware so the first one listed runs first
func Chain(h http.Handler, mw ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mw) - 1; i >= 0; i-- {
		h = mw[i](h)
	}
	return h
}
