package bot

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/divar-watch-bot/internal/bot/handlers"
	"github.com/Proton-105/divar-watch-bot/internal/domain"
	errors "github.com/Proton-105/divar-watch-bot/internal/errors"
	"github.com/Proton-105/divar-watch-bot/pkg/logger"
)

const lastActiveTimeout = 5 * time.Second

// Registrar upserts the profile of the user behind an update.
type Registrar interface {
	Register(ctx context.Context, u *telebot.User) (*domain.User, error)
}

// ActivityTracker records when a user was last seen.
type ActivityTracker interface {
	UpdateLastActive(ctx context.Context, userID int64) error
}

// RecoveryMiddleware turns a handler panic into a reported error and an
// apology to the user. The update is treated as handled.
func RecoveryMiddleware(log *slog.Logger, errHandler *errors.Handler) handlers.Middleware {
	if log == nil {
		log = slog.Default()
	}

	return func(next handlers.Handler) handlers.Handler {
		return func(c telebot.Context) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				log.Error("handler panicked", slog.Any("panic", r), slog.String("stack", string(debug.Stack())))
				apologize(c, errHandler, fmt.Errorf("panic recovered: %v", r), log)
				err = nil
			}()
			return next(c)
		}
	}
}

// ErrorHandlingMiddleware answers a failed update with the message the
// error handler picks and swallows the error. Without a handler errors
// pass through.
func ErrorHandlingMiddleware(errHandler *errors.Handler) handlers.Middleware {
	return func(next handlers.Handler) handlers.Handler {
		return func(c telebot.Context) error {
			err := next(c)
			if err == nil || errHandler == nil {
				return err
			}
			apologize(c, errHandler, err, nil)
			return nil
		}
	}
}

func apologize(c telebot.Context, errHandler *errors.Handler, err error, log *slog.Logger) {
	if errHandler == nil || c == nil {
		return
	}
	msg, _ := errHandler.Handle(handlers.Context(c), err)
	if msg == "" {
		return
	}
	if sendErr := c.Send(msg); sendErr != nil && log != nil {
		log.Warn("error reply not delivered", slog.Any("error", sendErr))
	}
}

// LoggingMiddleware gives the update a correlation id, reusing one an
// earlier middleware set, and logs the outcome with its duration.
func LoggingMiddleware(log *slog.Logger) handlers.Middleware {
	if log == nil {
		log = slog.Default()
	}

	return func(next handlers.Handler) handlers.Handler {
		return func(c telebot.Context) error {
			if c == nil {
				return next(c)
			}

			id, _ := c.Get(handlers.CorrelationKey).(string)
			if id == "" {
				id = uuid.NewString()
				c.Set(handlers.CorrelationKey, id)
			}
			updateLog := logger.FromContext(logger.WithCorrelationID(context.Background(), id), log).
				With(slog.Int64("user_id", senderID(c)), slog.String("action", updateAction(c)))

			started := time.Now()
			updateLog.Debug("update received")
			err := next(c)
			updateLog.Info("update handled", slog.Duration("duration", time.Since(started)), slog.Any("error", err))
			return err
		}
	}
}

// AuthMiddleware registers the sender before the handler runs.
func AuthMiddleware(users Registrar, log *slog.Logger) handlers.Middleware {
	if log == nil {
		log = slog.Default()
	}

	return func(next handlers.Handler) handlers.Handler {
		return func(c telebot.Context) error {
			if users == nil || c == nil || c.Sender() == nil {
				return next(c)
			}
			if _, err := users.Register(handlers.Context(c), c.Sender()); err != nil {
				log.Error("user registration failed", slog.Int64("user_id", c.Sender().ID), slog.Any("error", err))
				return errors.NewDatabaseError(err)
			}
			return next(c)
		}
	}
}

// LastActiveMiddleware stamps the sender's activity in the background.
func LastActiveMiddleware(tracker ActivityTracker) handlers.Middleware {
	return func(next handlers.Handler) handlers.Handler {
		return func(c telebot.Context) error {
			if id := senderID(c); tracker != nil && id != 0 {
				go func() {
					ctx, cancel := context.WithTimeout(context.Background(), lastActiveTimeout)
					defer cancel()
					_ = tracker.UpdateLastActive(ctx, id)
				}()
			}
			return next(c)
		}
	}
}

func senderID(c telebot.Context) int64 {
	if c == nil || c.Sender() == nil {
		return 0
	}
	return c.Sender().ID
}

// updateAction is the callback payload or message text of the update.
func updateAction(c telebot.Context) string {
	if cb := c.Callback(); cb != nil {
		return cb.Data
	}
	return c.Text()
}
