// Package usercache keeps the profile of recently active chat users in
// Redis hashes so language lookups on every update skip the database.
package usercache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/Proton-105/divar-watch-bot/internal/domain"
)

const keyPrefix = "divar:user:"

// Cache is safe to use as a nil pointer, in which case every call is a miss.
type Cache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func NewCache(client redis.UniversalClient, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Cache{client: client, ttl: ttl}
}

// Get returns nil without error on a miss.
func (c *Cache) Get(ctx context.Context, userID int64) (*domain.User, error) {
	if c.disabled() {
		return nil, nil
	}

	fields, err := c.client.HGetAll(ctx, key(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("usercache: read %d: %w", userID, err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return decode(userID, fields)
}

// Set writes the profile and restarts its TTL.
func (c *Cache) Set(ctx context.Context, u *domain.User) error {
	if c.disabled() || u == nil {
		return nil
	}

	k := key(u.TelegramID)
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, k)
		pipe.HSet(ctx, k, encode(u))
		pipe.Expire(ctx, k, c.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("usercache: write %d: %w", u.TelegramID, err)
	}
	return nil
}

func (c *Cache) Invalidate(ctx context.Context, userID int64) error {
	if c.disabled() {
		return nil
	}
	if err := c.client.Del(ctx, key(userID)).Err(); err != nil {
		return fmt.Errorf("usercache: drop %d: %w", userID, err)
	}
	return nil
}

func (c *Cache) disabled() bool {
	return c == nil || c.client == nil
}

func key(userID int64) string {
	return keyPrefix + strconv.FormatInt(userID, 10)
}

func encode(u *domain.User) map[string]any {
	return map[string]any{
		"first_name":  u.FirstName,
		"last_name":   u.LastName,
		"username":    u.Username,
		"lang":        u.LanguageCode,
		"last_active": u.LastActiveAt.UnixMilli(),
		"created":     u.CreatedAt.UnixMilli(),
	}
}

func decode(userID int64, f map[string]string) (*domain.User, error) {
	u := &domain.User{
		TelegramID:   userID,
		FirstName:    f["first_name"],
		LastName:     f["last_name"],
		Username:     f["username"],
		LanguageCode: f["lang"],
	}

	for name, dst := range map[string]*time.Time{"last_active": &u.LastActiveAt, "created": &u.CreatedAt} {
		raw, ok := f[name]
		if !ok {
			continue
		}
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("usercache: %d field %s: %w", userID, name, err)
		}
		if ms > 0 {
			*dst = time.UnixMilli(ms).UTC()
		}
	}
	return u, nil
}
