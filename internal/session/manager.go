package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	userLockKeyPattern = "user:lock:%d"
	lockTTL            = 5 * time.Second
)

// releaseLock deletes the lock only while it still holds our token.
var releaseLock = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Manager serialises session updates per user.
type Manager interface {
	Get(ctx context.Context, userID int64) (*Session, error)
	// Put replaces the session of s.UserID.
	Put(ctx context.Context, s *Session) error
	// Update loads the session, applies fn to a copy and saves the copy when fn succeeds.
	Update(ctx context.Context, userID int64, fn func(s *Session) error) (*Session, error)
	// Clear removes the session. Clearing a missing session is not an error.
	Clear(ctx context.Context, userID int64) error
}

type manager struct {
	storage     Storage
	log         *slog.Logger
	redisClient redis.UniversalClient
	local       sync.Map
	now         func() time.Time
}

// NewManager creates a Manager. When redisClient is nil an in-process lock is used instead of SETNX.
func NewManager(storage Storage, log *slog.Logger, redisClient redis.UniversalClient) Manager {
	if log == nil {
		log = slog.Default()
	}

	return &manager{
		storage:     storage,
		log:         log,
		redisClient: redisClient,
		now:         time.Now,
	}
}

func (m *manager) Get(ctx context.Context, userID int64) (*Session, error) {
	return m.storage.Get(ctx, userID)
}

func (m *manager) Put(ctx context.Context, s *Session) error {
	unlock, err := m.lock(ctx, s.UserID)
	if err != nil {
		return err
	}
	defer unlock()

	s.UpdatedAt = m.now()
	return m.storage.Save(ctx, s)
}

func (m *manager) Update(ctx context.Context, userID int64, fn func(s *Session) error) (*Session, error) {
	unlock, err := m.lock(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	current, err := m.storage.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	next := current.Clone()
	if err := fn(next); err != nil {
		return current, err
	}

	next.UpdatedAt = m.now()
	if err := m.storage.Save(ctx, next); err != nil {
		return current, err
	}
	return next, nil
}

func (m *manager) Clear(ctx context.Context, userID int64) error {
	unlock, err := m.lock(ctx, userID)
	if err != nil {
		return err
	}
	defer unlock()

	if err := m.storage.Delete(ctx, userID); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	return nil
}

func (m *manager) lock(ctx context.Context, userID int64) (func(), error) {
	if m.redisClient == nil {
		v, _ := m.local.LoadOrStore(userID, &sync.Mutex{})
		mu := v.(*sync.Mutex)
		if !mu.TryLock() {
			m.log.Warn("user session lock already held", "user_id", userID)
			return nil, ErrLocked
		}
		return mu.Unlock, nil
	}

	key := fmt.Sprintf(userLockKeyPattern, userID)
	token := uuid.NewString()
	acquired, err := m.redisClient.SetNX(ctx, key, token, lockTTL).Result()
	if err != nil {
		m.log.Error("failed to acquire user session lock", "user_id", userID, "error", err)
		return nil, err
	}

	if !acquired {
		m.log.Warn("user session lock already held", "user_id", userID)
		return nil, ErrLocked
	}

	return func() {
		released, err := releaseLock.Run(context.WithoutCancel(ctx), m.redisClient, []string{key}, token).Int()
		if err != nil {
			m.log.Error("failed to release user session lock", "user_id", userID, "error", err)
			return
		}
		if released == 0 {
			m.log.Warn("user session lock expired before release", "user_id", userID)
		}
	}, nil
}
