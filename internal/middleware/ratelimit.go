package middleware

import (
	"context"
	"errors"
	"log/slog"
	"time"

	telebot "gopkg.in/telebot.v3"

	apperrors "github.com/Proton-105/divar-watch-bot/internal/errors"
	"github.com/Proton-105/divar-watch-bot/internal/ratelimit"
	"github.com/Proton-105/divar-watch-bot/pkg/metrics"
)

// RateLimitMiddleware enforces per-user rate limits for incoming Telegram updates.
type RateLimitMiddleware struct {
	limiter ratelimit.Limiter
	rules   *ratelimit.Rules
	log     *slog.Logger
}

// NewRateLimitMiddleware constructs a rate-limit middleware component.
func NewRateLimitMiddleware(limiter ratelimit.Limiter, rules *ratelimit.Rules, log *slog.Logger) *RateLimitMiddleware {
	if log == nil {
		log = slog.Default()
	}

	return &RateLimitMiddleware{
		limiter: limiter,
		rules:   rules,
		log:     log,
	}
}

// Handle throttles each sender under the per-user quota. Rejected
// callbacks get a toast, rejected messages a reply. Whitelisted users and
// updates without a sender pass, as do updates the limiter cannot judge.
func (m *RateLimitMiddleware) Handle(next telebot.HandlerFunc) telebot.HandlerFunc {
	return func(c telebot.Context) error {
		sender := c.Sender()
		if m.limiter == nil || m.rules == nil || sender == nil || m.rules.Exempt(sender.ID) {
			return next(c)
		}

		res, err := m.limiter.Allow(context.Background(), ratelimit.UserKey(sender.ID), m.rules.PerUser())
		if err == nil {
			return next(c)
		}
		if !errors.Is(err, ratelimit.ErrLimitExceeded) {
			m.log.Warn("rate limiter error", slog.Int64("user_id", sender.ID), slog.Any("error", err))
			return next(c)
		}

		retryAfter := res.RetryAfter(time.Now())
		m.log.Warn("rate limit exceeded", slog.Int64("user_id", sender.ID), slog.Int("retry_after", retryAfter))
		metrics.RecordError(string(apperrors.CodeRateLimit), "ratelimit")

		msg := apperrors.NewRateLimitError(retryAfter).UserMessage
		if c.Callback() != nil {
			return c.Respond(&telebot.CallbackResponse{Text: msg})
		}
		return c.Send(msg)
	}
}
