package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Proton-105/divar-watch-bot/internal/database"
	"github.com/Proton-105/divar-watch-bot/internal/domain"
)

type userRepository struct {
	db      *sql.DB
	dialect database.Dialect
	log     *slog.Logger
}

// NewUserRepository creates a new SQL-backed user repository.
func NewUserRepository(db *sql.DB, dialect database.Dialect, log *slog.Logger) UserRepository {
	if log == nil {
		log = slog.Default()
	}

	return &userRepository{
		db:      db,
		dialect: dialect,
		log:     log,
	}
}

// FindByID retrieves a user from the database by their Telegram identifier.
func (r *userRepository) FindByID(ctx context.Context, telegramID int64) (*domain.User, error) {
	query := r.dialect.Rebind(`
		SELECT telegram_id, first_name, last_name, username, language_code, last_active_at, created_at
		FROM users
		WHERE telegram_id = ?
	`)

	var user domain.User
	if err := r.db.QueryRowContext(ctx, query, telegramID).Scan(
		&user.TelegramID,
		&user.FirstName,
		&user.LastName,
		&user.Username,
		&user.LanguageCode,
		&user.LastActiveAt,
		&user.CreatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}

		r.log.Error("failed to fetch user by telegram id", slog.Int64("telegram_id", telegramID), slog.Any("error", err))
		return nil, fmt.Errorf("select user by telegram id: %w", err)
	}

	return &user, nil
}

// Upsert inserts the user or refreshes the profile fields of an existing row.
func (r *userRepository) Upsert(ctx context.Context, user *domain.User) error {
	query := r.dialect.Rebind(`
		INSERT INTO users (telegram_id, first_name, last_name, username, language_code, last_active_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (telegram_id) DO UPDATE SET
			first_name = excluded.first_name,
			last_name = excluded.last_name,
			username = excluded.username,
			language_code = excluded.language_code,
			last_active_at = excluded.last_active_at
	`)

	if _, err := r.db.ExecContext(
		ctx,
		query,
		user.TelegramID,
		user.FirstName,
		user.LastName,
		user.Username,
		user.LanguageCode,
		user.LastActiveAt,
		user.CreatedAt,
	); err != nil {
		r.log.Error("failed to upsert user", slog.Int64("telegram_id", user.TelegramID), slog.Any("error", err))
		return fmt.Errorf("upsert user: %w", err)
	}

	return nil
}

// UpdateLastActiveAt refreshes the activity timestamp of a user.
func (r *userRepository) UpdateLastActiveAt(ctx context.Context, telegramID int64, at time.Time) error {
	query := r.dialect.Rebind(`UPDATE users SET last_active_at = ? WHERE telegram_id = ?`)

	res, err := r.db.ExecContext(ctx, query, at, telegramID)
	if err != nil {
		return fmt.Errorf("update last active: %w", err)
	}
	return expectOneRow(res)
}
