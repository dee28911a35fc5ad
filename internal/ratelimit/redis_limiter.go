package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// KeyPrefix namespaces limiter keys in Redis.
const KeyPrefix = "divar:ratelimit:"

// slidingWindow trims the log, admits the hit when there is room and
// returns {allowed, remaining, reset_ms}. Scores are epoch milliseconds.
var slidingWindow = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
local allowed = 0
if count < limit then
	redis.call('ZADD', key, now, ARGV[4])
	count = count + 1
	allowed = 1
end
redis.call('PEXPIRE', key, window * 2)

local reset = now + window
local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
if oldest[2] then
	reset = tonumber(oldest[2]) + window
end
return {allowed, limit - count, reset}
`)

// RedisLimiter shares the hit log of every key across bot replicas.
type RedisLimiter struct {
	client redis.UniversalClient
	log    *slog.Logger
}

var _ Limiter = (*RedisLimiter)(nil)

func NewRedisLimiter(client redis.UniversalClient, log *slog.Logger) *RedisLimiter {
	if log == nil {
		log = slog.Default()
	}
	return &RedisLimiter{client: client, log: log}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string, q Quota) (*Result, error) {
	if l.client == nil {
		return nil, errors.New("ratelimit: redis client is not configured")
	}
	now := time.Now()
	if q.Limit <= 0 {
		return decide(denyAll(now, q))
	}

	reply, err := slidingWindow.Run(ctx, l.client, []string{KeyPrefix + key},
		now.UnixMilli(), q.Window.Milliseconds(), q.Limit, uuid.NewString()).Int64Slice()
	if err != nil {
		l.log.Error("sliding window script failed", slog.String("key", key), slog.Any("error", err))
		return nil, fmt.Errorf("ratelimit: %s: %w", key, err)
	}
	if len(reply) != 3 {
		return nil, fmt.Errorf("ratelimit: %s: unexpected script reply %v", key, reply)
	}

	return decide(&Result{
		Allowed:   reply[0] == 1,
		Remaining: int(reply[1]),
		ResetAt:   time.UnixMilli(reply[2]),
	})
}
