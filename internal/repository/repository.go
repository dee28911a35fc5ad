// Package repository implements SQL persistence for users and subscriptions.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/Proton-105/divar-watch-bot/internal/domain"
)

// ErrNotFound indicates that the requested row does not exist.
var ErrNotFound = errors.New("record not found")

// ErrUndecodable indicates a stored row whose JSON columns cannot be decoded.
var ErrUndecodable = errors.New("undecodable row")

// SubscriptionRepository persists subscriptions and their seen records.
type SubscriptionRepository interface {
	ListAll(ctx context.Context) ([]*domain.Subscription, error)
	Get(ctx context.Context, id int64) (*domain.Subscription, error)
	Create(ctx context.Context, sub *domain.Subscription) (int64, error)
	UpdateSeen(ctx context.Context, id int64, seen []string) error
	Delete(ctx context.Context, id int64) error
	ListForUser(ctx context.Context, userID int64) ([]*domain.Subscription, error)
}

// UserRepository defines persistence operations for users.
type UserRepository interface {
	FindByID(ctx context.Context, telegramID int64) (*domain.User, error)
	Upsert(ctx context.Context, user *domain.User) error
	UpdateLastActiveAt(ctx context.Context, telegramID int64, at time.Time) error
}
