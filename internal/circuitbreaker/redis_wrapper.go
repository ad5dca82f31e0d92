package circuitbreaker

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisWrapper guards a go-redis client with a breaker. redis.Nil is a
// cache miss, not an outage.
type RedisWrapper struct {
	client *redis.Client
	guard  guard
	logger *zap.Logger
}

// NewRedisWrapper wraps client. service labels the metrics, e.g. "read-cache".
func NewRedisWrapper(client *redis.Client, service string, logger *zap.Logger) *RedisWrapper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisWrapper{
		client: client,
		guard:  newGuard("redis", service, RedisSettings(), classifyRedis, logger),
		logger: logger,
	}
}

func classifyRedis(err error) Verdict {
	if errors.Is(err, redis.Nil) {
		return VerdictSuccess
	}
	return DefaultClassifier(err)
}

// Ping checks connectivity
func (rw *RedisWrapper) Ping(ctx context.Context) *redis.StatusCmd {
	var cmd *redis.StatusCmd
	err := rw.guard.run(ctx, func() error {
		cmd = rw.client.Ping(ctx)
		return cmd.Err()
	})
	if cmd == nil {
		return redis.NewStatusResult("", err)
	}
	return cmd
}

// Get reads key
func (rw *RedisWrapper) Get(ctx context.Context, key string) *redis.StringCmd {
	var cmd *redis.StringCmd
	err := rw.guard.run(ctx, func() error {
		cmd = rw.client.Get(ctx, key)
		return cmd.Err()
	})
	if cmd == nil {
		return redis.NewStringResult("", err)
	}
	return cmd
}

// Set writes key with a TTL
func (rw *RedisWrapper) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) *redis.StatusCmd {
	var cmd *redis.StatusCmd
	err := rw.guard.run(ctx, func() error {
		cmd = rw.client.Set(ctx, key, value, ttl)
		return cmd.Err()
	})
	if cmd == nil {
		return redis.NewStatusResult("", err)
	}
	return cmd
}

// Del removes keys
func (rw *RedisWrapper) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	var cmd *redis.IntCmd
	err := rw.guard.run(ctx, func() error {
		cmd = rw.client.Del(ctx, keys...)
		return cmd.Err()
	})
	if cmd == nil {
		return redis.NewIntResult(0, err)
	}
	return cmd
}

// Scan iterates keys matching pattern one page at a time
func (rw *RedisWrapper) Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd {
	var cmd *redis.ScanCmd
	err := rw.guard.run(ctx, func() error {
		cmd = rw.client.Scan(ctx, cursor, match, count)
		return cmd.Err()
	})
	if cmd == nil {
		return redis.NewScanCmdResult(nil, 0, err)
	}
	return cmd
}

// Pipelined runs fn in a pipeline through the breaker
func (rw *RedisWrapper) Pipelined(ctx context.Context, fn func(redis.Pipeliner) error) ([]redis.Cmder, error) {
	var cmds []redis.Cmder
	err := rw.guard.run(ctx, func() error {
		var pErr error
		cmds, pErr = rw.client.Pipelined(ctx, fn)
		return pErr
	})
	return cmds, err
}

// IsCircuitBreakerOpen reports whether calls are currently rejected
func (rw *RedisWrapper) IsCircuitBreakerOpen() bool {
	return rw.guard.cb.State() == StateOpen
}

// Client returns the unguarded client
func (rw *RedisWrapper) Client() *redis.Client {
	return rw.client
}

// Close closes the client
func (rw *RedisWrapper) Close() error {
	return rw.client.Close()
}
