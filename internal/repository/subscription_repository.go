package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Proton-105/divar-watch-bot/internal/database"
	"github.com/Proton-105/divar-watch-bot/internal/domain"
)

const subscriptionColumns = `id, user_id, title, category, location, sub_region, criteria, seen, created_at`

type subscriptionRepository struct {
	db      *sql.DB
	dialect database.Dialect
	log     *slog.Logger
}

// NewSubscriptionRepository creates a SQL-backed subscription repository.
func NewSubscriptionRepository(db *sql.DB, dialect database.Dialect, log *slog.Logger) SubscriptionRepository {
	if log == nil {
		log = slog.Default()
	}

	return &subscriptionRepository{
		db:      db,
		dialect: dialect,
		log:     log,
	}
}

func (r *subscriptionRepository) ListAll(ctx context.Context) ([]*domain.Subscription, error) {
	return r.list(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions ORDER BY id`)
}

func (r *subscriptionRepository) ListForUser(ctx context.Context, userID int64) ([]*domain.Subscription, error) {
	return r.list(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE user_id = ? ORDER BY id`, userID)
}

func (r *subscriptionRepository) Get(ctx context.Context, id int64) (*domain.Subscription, error) {
	query := r.dialect.Rebind(`SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE id = ?`)

	sub, err := scanSubscription(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		r.log.Error("failed to fetch subscription", slog.Int64("subscription_id", id), slog.Any("error", err))
		return nil, fmt.Errorf("select subscription: %w", err)
	}
	return sub, nil
}

func (r *subscriptionRepository) Create(ctx context.Context, sub *domain.Subscription) (int64, error) {
	criteria, err := json.Marshal(sub.Criteria)
	if err != nil {
		return 0, fmt.Errorf("marshal criteria: %w", err)
	}
	seen, err := marshalSeen(sub.Seen)
	if err != nil {
		return 0, err
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now().UTC()
	}

	query := r.dialect.Rebind(`
		INSERT INTO subscriptions (user_id, title, category, location, sub_region, criteria, seen, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`)

	var id int64
	if err := r.db.QueryRowContext(ctx, query,
		sub.UserID,
		sub.Title,
		sub.Category,
		sub.Location,
		sub.SubRegion,
		string(criteria),
		seen,
		sub.CreatedAt,
	).Scan(&id); err != nil {
		r.log.Error("failed to create subscription", slog.Int64("user_id", sub.UserID), slog.Any("error", err))
		return 0, fmt.Errorf("insert subscription: %w", err)
	}

	sub.ID = id
	return id, nil
}

func (r *subscriptionRepository) UpdateSeen(ctx context.Context, id int64, seen []string) error {
	payload, err := marshalSeen(seen)
	if err != nil {
		return err
	}

	query := r.dialect.Rebind(`UPDATE subscriptions SET seen = ? WHERE id = ?`)
	res, err := r.db.ExecContext(ctx, query, payload, id)
	if err != nil {
		return fmt.Errorf("update seen: %w", err)
	}
	return expectOneRow(res)
}

func (r *subscriptionRepository) Delete(ctx context.Context, id int64) error {
	query := r.dialect.Rebind(`DELETE FROM subscriptions WHERE id = ?`)
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete subscription: %w", err)
	}
	return expectOneRow(res)
}

func (r *subscriptionRepository) list(ctx context.Context, query string, args ...any) ([]*domain.Subscription, error) {
	rows, err := r.db.QueryContext(ctx, r.dialect.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("select subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []*domain.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if errors.Is(err, ErrUndecodable) {
			r.log.Error("skipping undecodable subscription", slog.Any("error", err))
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subscriptions: %w", err)
	}
	return subs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubscription(row rowScanner) (*domain.Subscription, error) {
	var (
		sub      domain.Subscription
		criteria []byte
		seen     []byte
	)
	if err := row.Scan(
		&sub.ID,
		&sub.UserID,
		&sub.Title,
		&sub.Category,
		&sub.Location,
		&sub.SubRegion,
		&criteria,
		&seen,
		&sub.CreatedAt,
	); err != nil {
		return nil, err
	}

	sub.Criteria = domain.Criteria{}
	if len(criteria) > 0 {
		if err := json.Unmarshal(criteria, &sub.Criteria); err != nil {
			return nil, fmt.Errorf("%w: criteria of subscription %d: %v", ErrUndecodable, sub.ID, err)
		}
	}
	if len(seen) > 0 {
		if err := json.Unmarshal(seen, &sub.Seen); err != nil {
			return nil, fmt.Errorf("%w: seen of subscription %d: %v", ErrUndecodable, sub.ID, err)
		}
	}
	return &sub, nil
}

func marshalSeen(seen []string) (string, error) {
	if seen == nil {
		seen = []string{}
	}
	payload, err := json.Marshal(seen)
	if err != nil {
		return "", fmt.Errorf("marshal seen: %w", err)
	}
	return string(payload), nil
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
