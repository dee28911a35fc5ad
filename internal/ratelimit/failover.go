package ratelimit

import (
	"context"
	"errors"
	"log/slog"

	"github.com/Proton-105/divar-watch-bot/pkg/metrics"
)

// FailoverLimiter asks the shared backend first. When it errors the hit is
// judged by the local backend under a halved quota, so a Redis outage
// tightens the limit rather than lifting it.
type FailoverLimiter struct {
	shared Limiter
	local  Limiter
	log    *slog.Logger
}

func NewFailoverLimiter(shared, local Limiter, log *slog.Logger) *FailoverLimiter {
	if log == nil {
		log = slog.Default()
	}
	return &FailoverLimiter{shared: shared, local: local, log: log}
}

func (f *FailoverLimiter) Allow(ctx context.Context, key string, q Quota) (*Result, error) {
	res, err := f.shared.Allow(ctx, key, q)
	if err == nil || errors.Is(err, ErrLimitExceeded) {
		metrics.RecordRateLimit("redis", res != nil && res.Allowed)
		return res, err
	}

	metrics.RecordRateLimitBackendError("redis")
	f.log.Warn("shared limiter unavailable, judging locally", slog.String("key", key), slog.Any("error", err))

	res, err = f.local.Allow(ctx, key, q.Halved())
	if err != nil && !errors.Is(err, ErrLimitExceeded) {
		return nil, err
	}
	metrics.RecordRateLimit("memory", res.Allowed)
	return res, err
}
