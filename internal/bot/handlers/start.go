package handlers

import (
	"log/slog"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/divar-watch-bot/internal/bot/keyboard"
)

// Start greets the user and shows the main menu. A wizard left in progress is dropped.
func (h *Handlers) Start(c telebot.Context) error {
	id, ok := userID(c)
	if !ok {
		h.log.Warn("start handler invoked without sender")
		return nil
	}

	if err := h.flow.Cancel(Context(c), id); err != nil {
		h.log.Warn("failed to reset flow on start", slog.Int64("user_id", id), slog.Any("error", err))
	}

	t := h.translator(c)
	return c.Send(t.T("welcome"), keyboard.MainMenu(t))
}

// Help explains how subscriptions work.
func (h *Handlers) Help(c telebot.Context) error {
	t := h.translator(c)
	return c.Send(t.T("help"), keyboard.MainMenu(t))
}

// Fallback handles free text. An active wizard re-prompts its pending step;
// otherwise the main menu is shown again.
func (h *Handlers) Fallback(c telebot.Context) error {
	id, ok := userID(c)
	if !ok {
		return nil
	}

	ctx := Context(c)
	_, step, err := h.flow.Current(ctx, id)
	if err == nil && step != nil {
		return h.prompter.PromptStep(ctx, id, step)
	}

	return h.prompter.MainMenu(ctx, id)
}
