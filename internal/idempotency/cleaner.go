package idempotency

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const sweepBatch = 200

// Cleaner drops update records that have no expiry or one beyond maxTTL,
// which happens when a write raced a restart or the TTL setting shrank.
type Cleaner struct {
	client   redis.UniversalClient
	log      *slog.Logger
	interval time.Duration
	maxTTL   time.Duration
}

func NewCleaner(client redis.UniversalClient, log *slog.Logger, interval, maxTTL time.Duration) *Cleaner {
	if log == nil {
		log = slog.Default()
	}
	return &Cleaner{client: client, log: log, interval: interval, maxTTL: maxTTL}
}

// Run sweeps every interval until ctx is done.
func (c *Cleaner) Run(ctx context.Context) {
	if c == nil || c.client == nil || c.interval <= 0 {
		return
	}

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := c.Sweep(ctx); removed > 0 {
				c.log.Info("stale update records removed", slog.Int("count", removed))
			}
		}
	}
}

// Sweep scans the record namespace once and returns how many keys it deleted.
func (c *Cleaner) Sweep(ctx context.Context) int {
	iter := c.client.Scan(ctx, 0, keyPrefix+"*", sweepBatch).Iterator()

	var batch []string
	removed := 0
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == sweepBatch {
			removed += c.prune(ctx, batch)
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		c.log.Error("update record scan failed", slog.Any("error", err))
	}
	return removed + c.prune(ctx, batch)
}

func (c *Cleaner) prune(ctx context.Context, keys []string) int {
	if len(keys) == 0 {
		return 0
	}

	pipe := c.client.Pipeline()
	ttls := make([]*redis.DurationCmd, len(keys))
	for i, key := range keys {
		ttls[i] = pipe.TTL(ctx, key)
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		c.log.Warn("update record ttl lookup failed", slog.Any("error", err))
	}

	var stale []string
	for i, cmd := range ttls {
		ttl, err := cmd.Result()
		if err != nil {
			continue
		}
		// -1 is no expiry; -2 means the key vanished after the scan.
		if ttl == -1 || ttl > c.maxTTL {
			stale = append(stale, keys[i])
		}
	}
	if len(stale) == 0 {
		return 0
	}

	n, err := c.client.Del(ctx, stale...).Result()
	if err != nil {
		c.log.Warn("stale update records not deleted", slog.Any("error", err))
		return 0
	}
	return int(n)
}
