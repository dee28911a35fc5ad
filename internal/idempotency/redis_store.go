package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
)

const keyPrefix = "divar:update:"

// Record is the remembered outcome of a handled update.
type Record struct {
	Status    string          `json:"status"`
	Response  json.RawMessage `json:"response,omitempty"`
	HandledAt time.Time       `json:"handled_at"`
}

// Store keeps outcomes and the per-key claim.
type Store interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Load(ctx context.Context, key string) (*Record, error)
	Save(ctx context.Context, key string, rec *Record, ttl time.Duration) error
	Release(ctx context.Context, key string) error
}

// RedisStore keeps each record as one JSON string and the claim as a
// sibling key, both under the divar:update: prefix.
type RedisStore struct {
	client redis.UniversalClient
	log    *slog.Logger
}

func NewRedisStore(client redis.UniversalClient, log *slog.Logger) *RedisStore {
	if log == nil {
		log = slog.Default()
	}
	return &RedisStore{client: client, log: log}
}

func (s *RedisStore) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, claimKey(key), StatusProcessing, ttl).Result()
	if err != nil {
		s.log.Error("update claim failed", slog.String("key", key), slog.Any("error", err))
		return false, err
	}
	return ok, nil
}

func (s *RedisStore) Load(ctx context.Context, key string) (*Record, error) {
	raw, err := s.client.Get(ctx, recordKey(key)).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, nil
	case err != nil:
		s.log.Error("update record read failed", slog.String("key", key), slog.Any("error", err))
		return nil, err
	}

	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode record %s: %w", key, err)
	}
	return &rec, nil
}

func (s *RedisStore) Save(ctx context.Context, key string, rec *Record, ttl time.Duration) error {
	if rec == nil {
		return nil
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record %s: %w", key, err)
	}
	if err := s.client.Set(ctx, recordKey(key), raw, ttl).Err(); err != nil {
		s.log.Error("update record write failed", slog.String("key", key), slog.Any("error", err))
		return err
	}
	return nil
}

func (s *RedisStore) Release(ctx context.Context, key string) error {
	return s.client.Del(ctx, claimKey(key)).Err()
}

func recordKey(key string) string { return keyPrefix + key }

func claimKey(key string) string { return keyPrefix + key + ":claim" }
