package middleware

import (
	"context"
	"errors"
	"log/slog"
	"time"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/divar-watch-bot/internal/bot/handlers"
	"github.com/Proton-105/divar-watch-bot/internal/idempotency"
)

const (
	// IdempotencyTTL is how long a handled update key is remembered.
	IdempotencyTTL = 24 * time.Hour
	// idempotencyWait bounds how long a duplicate waits for the first delivery to finish.
	idempotencyWait = 10 * time.Second
)

// Idempotency ensures handlers execute at most once per Telegram update key.
// Telegram redelivers callbacks and webhook updates; duplicates are dropped.
func Idempotency(manager idempotency.Manager, log *slog.Logger) handlers.Middleware {
	if manager == nil {
		return func(next handlers.Handler) handlers.Handler {
			return next
		}
	}
	if log == nil {
		log = slog.Default()
	}

	return func(next handlers.Handler) handlers.Handler {
		if next == nil {
			return nil
		}

		return func(c telebot.Context) error {
			key := idempotency.UpdateKey(c)
			if key == "" {
				return next(c)
			}

			ctx, cancel := context.WithTimeout(context.Background(), idempotencyWait)
			defer cancel()

			var handlerErr error
			result, err := manager.Execute(ctx, key, IdempotencyTTL, func(context.Context) (interface{}, error) {
				handlerErr = next(c)
				return nil, handlerErr
			})
			if handlerErr != nil {
				return handlerErr
			}
			if err != nil {
				if errors.Is(err, idempotency.ErrRequestInProgress) || errors.Is(err, context.DeadlineExceeded) {
					log.Debug("duplicate update dropped", slog.String("key", key))
					return nil
				}

				log.Warn("idempotency store failed, update handled once", slog.String("key", key), slog.Any("error", err))
				return nil
			}

			if result != nil && result.FromCache {
				log.Debug("update already handled", slog.String("key", key))
			}

			return nil
		}
	}
}
