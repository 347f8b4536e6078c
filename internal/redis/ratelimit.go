package redisclient

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// SlidingWindowLimiter allows at most limit requests per key in any trailing window.
// State lives in a Redis sorted set so every api-server instance shares it.
type SlidingWindowLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
	prefix string
}

func NewSlidingWindowLimiter(client *redis.Client, limit int, window time.Duration, prefix string) *SlidingWindowLimiter {
	if limit <= 0 {
		limit = 60
	}
	if window <= 0 {
		window = time.Minute
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "rl"
	}
	return &SlidingWindowLimiter{client: client, limit: limit, window: window, prefix: prefix}
}

// KEYS[1] = zset key, ARGV = now_ms, window_ms, limit, member
var slidingWindowScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
redis.call("ZREMRANGEBYSCORE", KEYS[1], 0, now - window)
local count = redis.call("ZCARD", KEYS[1])
if count >= limit then
  return 0
end
redis.call("ZADD", KEYS[1], now, ARGV[4])
redis.call("PEXPIRE", KEYS[1], window)
return 1
`)

// Allow records a hit for key and reports whether it is within the limit.
func (l *SlidingWindowLimiter) Allow(ctx context.Context, key string) (bool, error) {
	now := time.Now().UnixMilli()
	res, err := slidingWindowScript.Run(ctx, l.client,
		[]string{l.prefix + ":" + key},
		now, l.window.Milliseconds(), l.limit, uuid.NewString(),
	).Int64()
	if err != nil {
		return false, fmt.Errorf("rate limit script: %w", err)
	}
	return res == 1, nil
}
