package middleware

import (
	"strings"
	"time"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/divar-watch-bot/internal/bot/command"
	"github.com/Proton-105/divar-watch-bot/internal/bot/handlers"
	"github.com/Proton-105/divar-watch-bot/pkg/metrics"
)

// Metrics records the duration and outcome of every routed update.
func Metrics(next handlers.Handler) handlers.Handler {
	return func(c telebot.Context) error {
		started := time.Now()
		err := next(c)

		status := "ok"
		if err != nil {
			status = "error"
		}
		metrics.RecordCommand(extractCommandName(c), status, time.Since(started))
		return err
	}
}

// extractCommandName is the bounded label of an update: "cb_<unique>" for
// callbacks, the slash command itself, or "text" for anything typed.
func extractCommandName(c telebot.Context) string {
	if c == nil {
		return "unknown"
	}

	if cb := c.Callback(); cb != nil && cb.Data != "" {
		if cmd, err := command.Decode(cb.Data); err == nil {
			return "cb_" + cmd.Unique()
		}
		return "callback_unknown"
	}

	switch text := strings.TrimSpace(c.Text()); {
	case text == "":
		return "unknown"
	case text[0] == '/':
		return commandName(text)
	default:
		return "text"
	}
}

func commandName(text string) string {
	name, _, _ := strings.Cut(text, " ")
	name, _, _ = strings.Cut(name, "@")
	return name
}
