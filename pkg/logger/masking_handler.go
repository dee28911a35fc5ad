package logger

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
)

const redacted = "***"

// Attribute keys whose values are never logged.
var secretKeys = map[string]struct{}{
	"token":         {},
	"bot_token":     {},
	"password":      {},
	"secret":        {},
	"dsn":           {},
	"sentry_dsn":    {},
	"authorization": {},
}

var (
	// Telegram bot tokens leak through webhook URLs and telebot errors.
	botTokenPattern = regexp.MustCompile(`\d{6,}:[A-Za-z0-9_-]{30,}`)
	// Seller phone numbers appear in listing descriptions.
	mobilePattern = regexp.MustCompile(`09\d{9}`)
)

// MaskingHandler redacts secret attributes and scrubs bot tokens and
// mobile numbers out of string values, including those inside groups.
type MaskingHandler struct {
	next slog.Handler
}

func NewMaskingHandler(next slog.Handler) *MaskingHandler {
	return &MaskingHandler{next: next}
}

func (h *MaskingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *MaskingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &MaskingHandler{next: h.next.WithAttrs(scrubAll(attrs))}
}

func (h *MaskingHandler) WithGroup(name string) slog.Handler {
	return &MaskingHandler{next: h.next.WithGroup(name)}
}

func (h *MaskingHandler) Handle(ctx context.Context, r slog.Record) error {
	attrs := make([]slog.Attr, 0, r.NumAttrs())
	r.Attrs(func(a slog.Attr) bool {
		attrs = append(attrs, a)
		return true
	})

	out := slog.NewRecord(r.Time, r.Level, scrubText(r.Message), r.PC)
	out.AddAttrs(scrubAll(attrs)...)
	return h.next.Handle(ctx, out)
}

func scrubAll(attrs []slog.Attr) []slog.Attr {
	out := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		out[i] = scrub(a)
	}
	return out
}

func scrub(a slog.Attr) slog.Attr {
	if _, secret := secretKeys[strings.ToLower(a.Key)]; secret {
		return slog.String(a.Key, redacted)
	}

	v := a.Value.Resolve()
	switch v.Kind() {
	case slog.KindGroup:
		return slog.Attr{Key: a.Key, Value: slog.GroupValue(scrubAll(v.Group())...)}
	case slog.KindString:
		return slog.String(a.Key, scrubText(v.String()))
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			return slog.String(a.Key, scrubText(err.Error()))
		}
	}
	return slog.Attr{Key: a.Key, Value: v}
}

func scrubText(s string) string {
	s = botTokenPattern.ReplaceAllString(s, redacted)
	return mobilePattern.ReplaceAllString(s, "09*********")
}
