package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/divar-watch-bot/internal/bot/command"
	"github.com/Proton-105/divar-watch-bot/internal/bot/menu"
	"github.com/Proton-105/divar-watch-bot/internal/catalog"
	apperrors "github.com/Proton-105/divar-watch-bot/internal/errors"
	"github.com/Proton-105/divar-watch-bot/internal/flow"
	"github.com/Proton-105/divar-watch-bot/internal/i18n"
	"github.com/Proton-105/divar-watch-bot/internal/session"
	"github.com/Proton-105/divar-watch-bot/internal/subscription"
)

// Languages resolves a user's preferred language.
type Languages interface {
	Language(ctx context.Context, userID int64) string
}

// Prompter sends standalone prompts outside of a callback edit.
type Prompter interface {
	PromptStep(ctx context.Context, userID int64, step *catalog.Step) error
	MainMenu(ctx context.Context, userID int64) error
}

// Handlers groups the update handlers of the bot.
type Handlers struct {
	flow     *flow.Engine
	subs     *subscription.Service
	menus    *menu.Builder
	prompter Prompter
	texts    *i18n.Manager
	langs    Languages
	log      *slog.Logger
}

// New wires the handler set. langs may be nil.
func New(
	engine *flow.Engine,
	subs *subscription.Service,
	menus *menu.Builder,
	prompter Prompter,
	texts *i18n.Manager,
	langs Languages,
	log *slog.Logger,
) *Handlers {
	if log == nil {
		log = slog.Default()
	}

	return &Handlers{
		flow:     engine,
		subs:     subs,
		menus:    menus,
		prompter: prompter,
		texts:    texts,
		langs:    langs,
		log:      log,
	}
}

// OnCommand dispatches a decoded button press to its handler.
func (h *Handlers) OnCommand(c telebot.Context, cmd command.Command) error {
	switch cmd := cmd.(type) {
	case command.NewSubscription:
		return h.NewSubscription(c)
	case command.PickCategory:
		return h.pickCategory(c, cmd)
	case command.PickCity:
		return h.pickCity(c, cmd)
	case command.PickDistrict:
		return h.pickDistrict(c, cmd)
	case command.AnswerStep:
		return h.answerStep(c, cmd)
	case command.ShowSubscription:
		return h.showSubscription(c, cmd)
	case command.DeleteSubscription:
		return h.deleteSubscription(c, cmd)
	case command.ListPage:
		return h.listPage(c, cmd)
	case command.Cancel:
		return h.Cancel(c)
	default:
		return fmt.Errorf("%w: %T", command.ErrUnknownCommand, cmd)
	}
}

// Expired answers callback data that no longer decodes.
func (h *Handlers) Expired(c telebot.Context) error {
	return h.reply(c, h.translator(c).T("flow.expired"), nil)
}

func (h *Handlers) translator(c telebot.Context) i18n.Translator {
	lang := ""
	if sender := c.Sender(); sender != nil {
		if h.langs != nil {
			lang = h.langs.Language(Context(c), sender.ID)
		}
		if lang == "" {
			lang, _, _ = strings.Cut(sender.LanguageCode, "-")
		}
	}
	return h.texts.Translator(lang)
}

// reply edits the pressed message for callbacks and sends a new one otherwise.
func (h *Handlers) reply(c telebot.Context, text string, markup *telebot.ReplyMarkup) error {
	opts := []interface{}{&telebot.SendOptions{DisableWebPagePreview: true}}
	if markup != nil {
		opts = append(opts, markup)
	}

	if c.Callback() != nil && c.Callback().Message != nil {
		err := c.Edit(text, opts...)
		if err == nil || errors.Is(err, telebot.ErrSameMessageContent) {
			return nil
		}
		h.log.Debug("edit failed, sending a new message", slog.Any("error", err))
	}
	return c.Send(text, opts...)
}

func userID(c telebot.Context) (int64, bool) {
	if c == nil || c.Sender() == nil {
		return 0, false
	}
	return c.Sender().ID, true
}

// flowFailure turns wizard errors into a user reply or an application error.
func (h *Handlers) flowFailure(c telebot.Context, err error) error {
	t := h.translator(c)

	switch {
	case errors.Is(err, session.ErrLocked):
		return c.Send(t.T("flow.busy"))
	case errors.Is(err, flow.ErrNoSession), errors.Is(err, flow.ErrStepOutOfOrder):
		return h.reply(c, t.T("flow.expired"), nil)
	case errors.Is(err, flow.ErrInvalidOption),
		errors.Is(err, catalog.ErrUnknownCategory),
		errors.Is(err, catalog.ErrUnknownLocation),
		errors.Is(err, catalog.ErrUnknownField):
		return apperrors.NewValidationError("flow answer rejected", err)
	default:
		return err
	}
}
