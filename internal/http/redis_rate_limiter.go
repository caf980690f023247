package httpx

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// fixedWindowScript counts a hit and starts the window expiry on the first
// one, returning {count, ttl in ms} in a single round trip.
var fixedWindowScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return {count, redis.call("PTTL", KEYS[1])}
`)

// RedisLimiterOptions configures a limiter shared by every API replica.
type RedisLimiterOptions struct {
	Addr     string
	Password string
	DB       int
	// Prefix namespaces counter keys. Defaults to "todolist:ratelimit:".
	Prefix string
	// Timeout bounds each Allow call. Defaults to 250ms.
	Timeout time.Duration
}

type redisRateLimiter struct {
	client  *redis.Client
	logger  *slog.Logger
	prefix  string
	timeout time.Duration

	// failures counts fail-open decisions since the last success; only the
	// first of a run is logged.
	failures atomic.Int64
}

// NewRedisRateLimiter connects to Redis and returns a limiter backed by it.
func NewRedisRateLimiter(ctx context.Context, opts RedisLimiterOptions, logger *slog.Logger) (RateLimiter, error) {
	if strings.TrimSpace(opts.Addr) == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	client := redis.NewClient(&redis.Options{Addr: opts.Addr, Password: opts.Password, DB: opts.DB})
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", opts.Addr, err)
	}
	rl := &redisRateLimiter{
		client:  client,
		logger:  logger,
		prefix:  opts.Prefix,
		timeout: opts.Timeout,
	}
	if rl.prefix == "" {
		rl.prefix = "todolist:ratelimit:"
	}
	if rl.timeout <= 0 {
		rl.timeout = 250 * time.Millisecond
	}
	return rl, nil
}

// Allow fails open: when Redis cannot answer the request is let through.
func (rl *redisRateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) rateDecision {
	if limit <= 0 {
		return rateDecision{allowed: true}
	}
	if window <= 0 {
		window = time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, rl.timeout)
	defer cancel()

	res, err := fixedWindowScript.Run(ctx, rl.client, []string{rl.prefix + key}, window.Milliseconds()).Int64Slice()
	if err == nil && len(res) != 2 {
		err = fmt.Errorf("unexpected script reply of %d values", len(res))
	}
	if err != nil {
		if rl.failures.Add(1) == 1 {
			rl.logger.Error("redis rate limiter unavailable, allowing requests", "error", err)
		}
		return rateDecision{allowed: true}
	}
	if rl.failures.Swap(0) > 0 {
		rl.logger.Info("redis rate limiter recovered")
	}

	count := int(res[0])
	ttl := time.Duration(res[1]) * time.Millisecond
	if ttl <= 0 {
		ttl = window
	}
	return rateDecision{
		allowed: count <= limit,
		count:   count,
		resetAt: time.Now().Add(ttl),
	}
}

// Ping reports whether Redis is reachable.
func (rl *redisRateLimiter) Ping(ctx context.Context) error {
	return rl.client.Ping(ctx).Err()
}

func (rl *redisRateLimiter) Close() {
	if rl.client != nil {
		_ = rl.client.Close()
	}
}
