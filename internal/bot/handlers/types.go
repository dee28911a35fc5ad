// Package handlers implements the Telegram update handlers of the bot.
package handlers

import (
	"context"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/divar-watch-bot/internal/bot/command"
	"github.com/Proton-105/divar-watch-bot/pkg/logger"
)

// Handler processes bot commands.
type Handler func(c telebot.Context) error

// CommandHandler processes a decoded inline button press.
type CommandHandler func(c telebot.Context, cmd command.Command) error

// Middleware wraps handlers with additional behavior.
type Middleware func(Handler) Handler

// CorrelationKey is the telebot context slot holding the update's correlation id.
const CorrelationKey = "correlation_id"

// Context derives a request context from the update, carrying its correlation id.
func Context(c telebot.Context) context.Context {
	ctx := context.Background()
	if c == nil {
		return ctx
	}
	if id, ok := c.Get(CorrelationKey).(string); ok && id != "" {
		return logger.WithCorrelationID(ctx, id)
	}
	return ctx
}
