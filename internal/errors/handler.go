package errors

import (
	"context"
	"log/slog"

	"github.com/getsentry/sentry-go"

	"github.com/Proton-105/divar-watch-bot/pkg/logger"
)

// Handler turns errors into a log line, an optional Sentry event and the
// text shown to the chat user.
type Handler struct {
	log    *slog.Logger
	sentry bool
}

func NewHandler(log *slog.Logger, sentryEnabled bool) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{log: log, sentry: sentryEnabled}
}

// Handle returns the user-facing message for err and whether retrying the
// action may help. High and critical errors, and errors outside the
// taxonomy, are forwarded to Sentry when it is enabled.
func (h *Handler) Handle(ctx context.Context, err error) (string, bool) {
	if err == nil {
		return "", false
	}
	if ctx == nil {
		ctx = context.Background()
	}

	appErr, known := As(err)
	if !known {
		h.log.LogAttrs(ctx, slog.LevelError, "unclassified error",
			h.annotate(ctx, slog.String("error", err.Error()))...)
		h.capture(err, nil)
		return defaultUserMessage, false
	}

	attrs := []slog.Attr{
		slog.String("code", appErr.Code),
		slog.String("message", appErr.Message),
		slog.String("severity", string(appErr.Severity)),
		slog.Bool("retryable", appErr.Retryable),
	}
	if cause := appErr.Unwrap(); cause != nil {
		attrs = append(attrs, slog.String("cause", cause.Error()))
	}
	h.log.LogAttrs(ctx, levelFor(appErr.Severity), "application error", h.annotate(ctx, attrs...)...)

	if appErr.Severity == SeverityHigh || appErr.Severity == SeverityCritical {
		h.capture(err, appErr)
	}

	msg := appErr.UserMessage
	if msg == "" {
		msg = defaultUserMessage
	}
	return msg, appErr.Retryable
}

// Report logs and forwards a background error that has no user to answer.
func (h *Handler) Report(ctx context.Context, msg string, err error, attrs ...slog.Attr) {
	if err == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	attrs = append(attrs, slog.Any("error", err))
	h.log.LogAttrs(ctx, slog.LevelError, msg, h.annotate(ctx, attrs...)...)

	appErr, _ := As(err)
	h.capture(err, appErr)
}

func (h *Handler) capture(err error, appErr *AppError) {
	if !h.sentry {
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		if appErr != nil {
			scope.SetTag("code", appErr.Code)
			scope.SetTag("severity", string(appErr.Severity))
		}
		sentry.CaptureException(err)
	})
}

func (h *Handler) annotate(ctx context.Context, attrs ...slog.Attr) []slog.Attr {
	if id := logger.CorrelationIDFromContext(ctx); id != "" {
		attrs = append(attrs, slog.String("correlation_id", id))
	}
	return attrs
}

func levelFor(severity Severity) slog.Level {
	switch severity {
	case SeverityLow:
		return slog.LevelInfo
	case SeverityMedium:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}
