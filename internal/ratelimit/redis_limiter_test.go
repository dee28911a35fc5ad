package ratelimit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Proton-105/divar-watch-bot/pkg/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestLimiters_AdmitUpToLimit(t *testing.T) {
	backends := map[string]Limiter{
		"memory": NewMemoryLimiter(),
		"redis":  NewRedisLimiter(newTestRedis(t), testLogger()),
	}
	quota := Quota{Limit: 2, Window: time.Minute}

	for name, limiter := range backends {
		limiter := limiter
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for i := 0; i < 2; i++ {
				res, err := limiter.Allow(ctx, UserKey(1), quota)
				require.NoError(t, err)
				assert.True(t, res.Allowed)
				assert.Equal(t, 1-i, res.Remaining)
			}

			res, err := limiter.Allow(ctx, UserKey(1), quota)
			assert.ErrorIs(t, err, ErrLimitExceeded)
			require.NotNil(t, res)
			assert.False(t, res.Allowed)
			assert.Zero(t, res.Remaining)

			res, err = limiter.Allow(ctx, UserKey(2), quota)
			require.NoError(t, err)
			assert.True(t, res.Allowed)
		})
	}
}

func TestLimiters_ZeroLimitRejects(t *testing.T) {
	_, err := NewMemoryLimiter().Allow(context.Background(), "k", Quota{Window: time.Second})
	assert.ErrorIs(t, err, ErrLimitExceeded)

	_, err = NewRedisLimiter(newTestRedis(t), testLogger()).Allow(context.Background(), "k", Quota{Window: time.Second})
	assert.ErrorIs(t, err, ErrLimitExceeded)
}

func TestRedisLimiter_WindowSlides(t *testing.T) {
	limiter := NewRedisLimiter(newTestRedis(t), testLogger())
	ctx := context.Background()
	quota := Quota{Limit: 2, Window: time.Second}

	for i := 0; i < 2; i++ {
		_, err := limiter.Allow(ctx, "slide", quota)
		require.NoError(t, err)
	}
	_, err := limiter.Allow(ctx, "slide", quota)
	require.ErrorIs(t, err, ErrLimitExceeded)

	time.Sleep(1100 * time.Millisecond)

	res, err := limiter.Allow(ctx, "slide", quota)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestMemoryLimiter_ResetFollowsOldestHit(t *testing.T) {
	m := NewMemoryLimiter()
	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := start
	m.now = func() time.Time { return clock }
	quota := Quota{Limit: 1, Window: 10 * time.Second}

	_, err := m.Allow(context.Background(), "k", quota)
	require.NoError(t, err)

	clock = start.Add(4 * time.Second)
	res, err := m.Allow(context.Background(), "k", quota)
	require.ErrorIs(t, err, ErrLimitExceeded)
	assert.Equal(t, start.Add(10*time.Second), res.ResetAt)
	assert.Equal(t, 6, res.RetryAfter(clock))

	clock = start.Add(11 * time.Second)
	_, err = m.Allow(context.Background(), "k", quota)
	assert.NoError(t, err)
}

type brokenLimiter struct{}

func (brokenLimiter) Allow(context.Context, string, Quota) (*Result, error) {
	return nil, errors.New("redis unavailable")
}

func TestFailoverLimiter_HalvesQuotaLocally(t *testing.T) {
	limiter := NewFailoverLimiter(brokenLimiter{}, NewMemoryLimiter(), testLogger())
	ctx := context.Background()
	quota := Quota{Limit: 4, Window: time.Minute}

	for i := 0; i < 2; i++ {
		res, err := limiter.Allow(ctx, UserKey(1), quota)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
	}

	res, err := limiter.Allow(ctx, UserKey(1), quota)
	assert.ErrorIs(t, err, ErrLimitExceeded)
	require.NotNil(t, res)
	assert.False(t, res.Allowed)
}

func TestFailoverLimiter_PassesSharedRejection(t *testing.T) {
	limiter := NewFailoverLimiter(NewRedisLimiter(newTestRedis(t), testLogger()), NewMemoryLimiter(), testLogger())
	ctx := context.Background()
	quota := Quota{Limit: 1, Window: time.Minute}

	_, err := limiter.Allow(ctx, UserKey(2), quota)
	require.NoError(t, err)
	_, err = limiter.Allow(ctx, UserKey(2), quota)
	assert.ErrorIs(t, err, ErrLimitExceeded)
}

func TestCleaner_DropsIdleKeys(t *testing.T) {
	client := newTestRedis(t)
	ctx := context.Background()

	old := float64(time.Now().Add(-time.Hour).UnixMilli())
	require.NoError(t, client.ZAdd(ctx, KeyPrefix+"user:old", redis.Z{Score: old, Member: "a"}).Err())

	_, err := NewRedisLimiter(client, testLogger()).Allow(ctx, "user:fresh", Quota{Limit: 5, Window: time.Minute})
	require.NoError(t, err)

	memory := NewMemoryLimiter()
	_, err = memory.Allow(ctx, "user:mem", Quota{Limit: 5, Window: time.Minute})
	require.NoError(t, err)
	memory.hits["user:idle"] = []time.Time{time.Now().Add(-time.Hour)}

	NewCleaner(client, memory, testLogger(), time.Minute, 5*time.Minute).Sweep(ctx)

	exists, err := client.Exists(ctx, KeyPrefix+"user:old", KeyPrefix+"user:fresh").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), exists)
	assert.Equal(t, 1, memory.Keys())
}

func TestRules(t *testing.T) {
	rules, err := NewRules(config.RateLimitConfig{
		PerUser:   config.RateLimitRule{Limit: 10, Window: "30s"},
		Whitelist: []int64{42},
	})
	require.NoError(t, err)
	assert.Equal(t, Quota{Limit: 10, Window: 30 * time.Second}, rules.PerUser())
	assert.True(t, rules.Exempt(42))
	assert.False(t, rules.Exempt(7))

	_, err = NewRules(config.RateLimitConfig{PerUser: config.RateLimitRule{Limit: 1}})
	assert.Error(t, err)
	_, err = NewRules(config.RateLimitConfig{PerUser: config.RateLimitRule{Limit: 1, Window: "-1s"}})
	assert.Error(t, err)
}

func TestQuota_Halved(t *testing.T) {
	assert.Equal(t, 2, Quota{Limit: 4}.Halved().Limit)
	assert.Equal(t, 1, Quota{Limit: 1}.Halved().Limit)
}
