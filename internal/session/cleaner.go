package session

import (
	"context"
	"log/slog"
	"time"
)

// Cleaner purges wizard sessions idle for longer than ttl, every interval.
type Cleaner struct {
	storage  Storage
	log      *slog.Logger
	ttl      time.Duration
	interval time.Duration
}

func NewCleaner(storage Storage, log *slog.Logger, ttl, interval time.Duration) *Cleaner {
	if log == nil {
		log = slog.Default()
	}
	return &Cleaner{storage: storage, log: log, ttl: ttl, interval: interval}
}

// Run blocks until ctx is done.
func (c *Cleaner) Run(ctx context.Context) {
	if c == nil || c.storage == nil || c.interval <= 0 {
		return
	}

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			c.Purge(ctx, now)
		}
	}
}

// Purge drops the sessions last touched before now minus ttl.
func (c *Cleaner) Purge(ctx context.Context, now time.Time) int {
	removed, err := c.storage.Purge(ctx, now.Add(-c.ttl))
	switch {
	case err != nil:
		c.log.Error("session purge failed", slog.Any("error", err))
	case removed > 0:
		c.log.Info("abandoned wizard sessions purged", slog.Int("count", removed))
	}
	return removed
}
