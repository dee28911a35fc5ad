package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	sessionKeyPrefix  = "session:"
	sessionScanBatch  = 100
	sessionKeyPattern = sessionKeyPrefix + "*"
)

// RedisStorage stores sessions as JSON documents with a TTL.
type RedisStorage struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisStorage creates a Redis-backed session storage.
func NewRedisStorage(client redis.UniversalClient, ttl time.Duration) *RedisStorage {
	return &RedisStorage{client: client, ttl: ttl}
}

func sessionKey(userID int64) string {
	return sessionKeyPrefix + strconv.FormatInt(userID, 10)
}

// Get loads the session of userID.
func (r *RedisStorage) Get(ctx context.Context, userID int64) (*Session, error) {
	raw, err := r.client.Get(ctx, sessionKey(userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get session from redis: %w", err)
	}

	var s Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return &s, nil
}

// Save writes the session and refreshes its TTL.
func (r *RedisStorage) Save(ctx context.Context, s *Session) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := r.client.Set(ctx, sessionKey(s.UserID), payload, r.ttl).Err(); err != nil {
		return fmt.Errorf("set session to redis: %w", err)
	}
	return nil
}

// Delete removes the session of userID.
func (r *RedisStorage) Delete(ctx context.Context, userID int64) error {
	if err := r.client.Del(ctx, sessionKey(userID)).Err(); err != nil {
		return fmt.Errorf("delete session from redis: %w", err)
	}
	return nil
}

// Purge scans session keys and drops the stale ones, including keys written without a TTL.
func (r *RedisStorage) Purge(ctx context.Context, cutoff time.Time) (int, error) {
	var (
		cursor  uint64
		removed int
	)
	for {
		keys, next, err := r.client.Scan(ctx, cursor, sessionKeyPattern, sessionScanBatch).Result()
		if err != nil {
			return removed, fmt.Errorf("scan sessions: %w", err)
		}

		for _, key := range keys {
			userID, err := strconv.ParseInt(strings.TrimPrefix(key, sessionKeyPrefix), 10, 64)
			if err != nil {
				continue
			}
			s, err := r.Get(ctx, userID)
			if err != nil {
				continue
			}
			if s.UpdatedAt.Before(cutoff) {
				if err := r.Delete(ctx, userID); err != nil {
					return removed, err
				}
				removed++
			}
		}

		if ctx.Err() != nil || next == 0 {
			return removed, ctx.Err()
		}
		cursor = next
	}
}
