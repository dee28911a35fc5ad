package ratelimit

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cleaner trims hit logs older than maxAge from Redis and the in-memory
// limiter, deleting keys left empty. Either backend may be nil.
type Cleaner struct {
	client   redis.UniversalClient
	memory   *MemoryLimiter
	log      *slog.Logger
	interval time.Duration
	maxAge   time.Duration
}

func NewCleaner(client redis.UniversalClient, memory *MemoryLimiter, log *slog.Logger, interval, maxAge time.Duration) *Cleaner {
	if log == nil {
		log = slog.Default()
	}
	return &Cleaner{client: client, memory: memory, log: log, interval: interval, maxAge: maxAge}
}

// Run sweeps every interval until ctx is done.
func (c *Cleaner) Run(ctx context.Context) {
	if c.interval <= 0 || (c.client == nil && c.memory == nil) {
		return
	}

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Sweep(ctx)
		}
	}
}

// Sweep runs one cleanup pass over both backends.
func (c *Cleaner) Sweep(ctx context.Context) {
	local := 0
	if c.memory != nil {
		local = c.memory.Cleanup(c.maxAge)
	}
	shared := 0
	if c.client != nil {
		shared = c.sweepRedis(ctx)
	}
	if local+shared > 0 {
		c.log.Info("idle rate limit keys removed", slog.Int("memory", local), slog.Int("redis", shared))
	}
}

func (c *Cleaner) sweepRedis(ctx context.Context) int {
	// Scores are epoch milliseconds; "(" makes the bound exclusive.
	bound := "(" + strconv.FormatInt(time.Now().Add(-c.maxAge).UnixMilli(), 10)

	removed := 0
	iter := c.client.Scan(ctx, 0, KeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()

		var left *redis.IntCmd
		_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.ZRemRangeByScore(ctx, key, "-inf", bound)
			left = pipe.ZCard(ctx, key)
			return nil
		})
		if err != nil {
			c.log.Warn("rate limit key not trimmed", slog.String("key", key), slog.Any("error", err))
			continue
		}
		if left.Val() > 0 {
			continue
		}
		if err := c.client.Del(ctx, key).Err(); err != nil {
			c.log.Warn("empty rate limit key not deleted", slog.String("key", key), slog.Any("error", err))
			continue
		}
		removed++
	}
	if err := iter.Err(); err != nil {
		c.log.Error("rate limit scan failed", slog.Any("error", err))
	}
	return removed
}
