package handlers

import (
	"errors"
	"fmt"
	"strings"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/divar-watch-bot/internal/bot/command"
	"github.com/Proton-105/divar-watch-bot/internal/bot/keyboard"
	"github.com/Proton-105/divar-watch-bot/internal/i18n"
	"github.com/Proton-105/divar-watch-bot/internal/repository"
	"github.com/Proton-105/divar-watch-bot/internal/subscription"
)

// MySubscriptions lists the user's subscriptions from the reply keyboard.
func (h *Handlers) MySubscriptions(c telebot.Context) error {
	return h.listPage(c, command.ListPage{Page: 1})
}

func (h *Handlers) listPage(c telebot.Context, cmd command.ListPage) error {
	id, ok := userID(c)
	if !ok {
		return nil
	}

	subs, err := h.subs.List(Context(c), id)
	if err != nil {
		return err
	}

	t := h.translator(c)
	if len(subs) == 0 {
		if c.Callback() != nil {
			return h.reply(c, t.T("subscriptions.empty"), nil)
		}
		return c.Send(t.T("subscriptions.empty"), keyboard.MainMenu(t))
	}

	markup, err := h.menus.SubscriptionList(t, subs, cmd.Page)
	if err != nil {
		return fmt.Errorf("subscription list keyboard: %w", err)
	}
	return h.reply(c, t.T("subscriptions.list_title"), markup)
}

func (h *Handlers) showSubscription(c telebot.Context, cmd command.ShowSubscription) error {
	id, ok := userID(c)
	if !ok {
		return nil
	}

	t := h.translator(c)
	sub, err := h.subs.Get(Context(c), id, cmd.ID)
	if err != nil {
		if isMissing(err) {
			return h.reply(c, t.T("subscriptions.not_found"), nil)
		}
		return err
	}

	markup, err := h.menus.SubscriptionActions(t, sub.ID)
	if err != nil {
		return fmt.Errorf("subscription actions keyboard: %w", err)
	}
	return h.reply(c, RenderSummary(t, h.subs.Summarize(sub)), markup)
}

func (h *Handlers) deleteSubscription(c telebot.Context, cmd command.DeleteSubscription) error {
	id, ok := userID(c)
	if !ok {
		return nil
	}

	t := h.translator(c)
	if err := h.subs.Delete(Context(c), id, cmd.ID); err != nil {
		if isMissing(err) {
			return h.reply(c, t.T("subscriptions.delete_failed"), nil)
		}
		return err
	}
	return h.reply(c, t.T("subscriptions.deleted"), nil)
}

// RenderSummary renders a subscription summary as message text.
func RenderSummary(t i18n.Translator, sum subscription.Summary) string {
	filters := t.T("subscriptions.summary_none")
	if len(sum.Filters) > 0 {
		parts := make([]string, 0, len(sum.Filters))
		for _, f := range sum.Filters {
			parts = append(parts, f.Label+": "+f.Value)
		}
		filters = strings.Join(parts, t.T("subscriptions.filter_separator"))
	}

	lines := []string{
		i18n.Format(t, "subscriptions.summary_title", map[string]string{"Title": sum.Title}),
		i18n.Format(t, "subscriptions.summary_category", map[string]string{"Category": sum.Category}),
		i18n.Format(t, "subscriptions.summary_location", map[string]string{"Location": sum.Location}),
		i18n.Format(t, "subscriptions.summary_filters", map[string]string{"Filters": filters}),
	}
	return strings.Join(lines, "\n")
}

func isMissing(err error) bool {
	return errors.Is(err, repository.ErrNotFound) || errors.Is(err, subscription.ErrNotOwner)
}
