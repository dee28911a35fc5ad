// Package user keeps Telegram user profiles in sync with the database.
package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/divar-watch-bot/internal/domain"
	"github.com/Proton-105/divar-watch-bot/internal/repository"
	"github.com/Proton-105/divar-watch-bot/internal/usercache"
)

// Service provides business operations over users.
type Service struct {
	repo  repository.UserRepository
	cache *usercache.Cache
	log   *slog.Logger
	now   func() time.Time
}

// NewService constructs a new Service instance. cache may be nil.
func NewService(repo repository.UserRepository, cache *usercache.Cache, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{repo: repo, cache: cache, log: log, now: time.Now}
}

// Register upserts the Telegram profile of the sender.
func (s *Service) Register(ctx context.Context, telegramUser *telebot.User) (*domain.User, error) {
	if telegramUser == nil {
		return nil, errors.New("telegram user is nil")
	}

	now := s.now().UTC()
	u := &domain.User{
		TelegramID:   telegramUser.ID,
		FirstName:    telegramUser.FirstName,
		LastName:     telegramUser.LastName,
		Username:     telegramUser.Username,
		LanguageCode: telegramUser.LanguageCode,
		LastActiveAt: now,
		CreatedAt:    now,
	}

	if cached, err := s.cache.Get(ctx, u.TelegramID); err == nil && sameProfile(cached, u) {
		return cached, nil
	}

	if err := s.repo.Upsert(ctx, u); err != nil {
		s.logError("register", u.TelegramID, err)
		return nil, fmt.Errorf("register user: %w", err)
	}
	if err := s.cache.Set(ctx, u); err != nil {
		s.logError("register.cache", u.TelegramID, err)
	}

	return u, nil
}

// Language returns the user's two-letter language code, or "" when unknown.
func (s *Service) Language(ctx context.Context, userID int64) string {
	u, err := s.cache.Get(ctx, userID)
	if err != nil || u == nil {
		u, err = s.repo.FindByID(ctx, userID)
		if err != nil {
			if !errors.Is(err, repository.ErrNotFound) {
				s.logError("language", userID, err)
			}
			return ""
		}
		_ = s.cache.Set(ctx, u)
	}

	lang, _, _ := strings.Cut(strings.ToLower(u.LanguageCode), "-")
	return lang
}

// UpdateLastActive refreshes the last_active_at field for the user.
func (s *Service) UpdateLastActive(ctx context.Context, userID int64) error {
	if err := s.repo.UpdateLastActiveAt(ctx, userID, s.now().UTC()); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		s.logError("update_last_active", userID, err)
		return err
	}

	return nil
}

func sameProfile(a, b *domain.User) bool {
	return a != nil && b != nil &&
		a.FirstName == b.FirstName &&
		a.LastName == b.LastName &&
		a.Username == b.Username &&
		a.LanguageCode == b.LanguageCode
}

func (s *Service) logError(operation string, telegramID int64, err error) {
	if s == nil || s.log == nil || err == nil {
		return
	}

	s.log.Error("user service operation failed",
		slog.String("operation", operation),
		slog.Int64("telegram_id", telegramID),
		slog.Any("error", err),
	)
}
