package handlers

import (
	"fmt"
	"log/slog"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/divar-watch-bot/internal/bot/command"
	"github.com/Proton-105/divar-watch-bot/internal/bot/keyboard"
	"github.com/Proton-105/divar-watch-bot/internal/catalog"
	apperrors "github.com/Proton-105/divar-watch-bot/internal/errors"
	"github.com/Proton-105/divar-watch-bot/internal/flow"
	"github.com/Proton-105/divar-watch-bot/internal/i18n"
)

// NewSubscription opens the category picker. From the reply keyboard it hides
// the main menu first; from a button it edits the pressed message.
func (h *Handlers) NewSubscription(c telebot.Context) error {
	t := h.translator(c)

	markup, err := h.menus.Categories()
	if err != nil {
		return fmt.Errorf("categories keyboard: %w", err)
	}

	if c.Callback() != nil {
		return h.reply(c, t.T("flow.choose_category"), markup)
	}

	if err := c.Send(t.T("flow.choose_category"), keyboard.RemoveReply()); err != nil {
		return err
	}
	return c.Send(t.T("flow.categories"), markup)
}

// Cancel abandons the wizard and returns to the main menu.
func (h *Handlers) Cancel(c telebot.Context) error {
	id, ok := userID(c)
	if !ok {
		return nil
	}

	if err := h.flow.Cancel(Context(c), id); err != nil {
		return h.flowFailure(c, err)
	}

	t := h.translator(c)
	if c.Callback() != nil {
		if err := h.reply(c, t.T("flow.cancelled"), nil); err != nil {
			return err
		}
		return c.Send(t.T("flow.continue"), keyboard.MainMenu(t))
	}
	return c.Send(t.T("flow.cancelled"), keyboard.MainMenu(t))
}

func (h *Handlers) pickCategory(c telebot.Context, cmd command.PickCategory) error {
	id, ok := userID(c)
	if !ok {
		return nil
	}

	if _, err := h.flow.Start(Context(c), id, cmd.Category); err != nil {
		return h.flowFailure(c, err)
	}

	t := h.translator(c)
	markup, err := h.menus.Cities(t)
	if err != nil {
		return fmt.Errorf("cities keyboard: %w", err)
	}
	return h.reply(c, t.T("flow.choose_city"), markup)
}

func (h *Handlers) pickCity(c telebot.Context, cmd command.PickCity) error {
	id, ok := userID(c)
	if !ok {
		return nil
	}

	_, loc, err := h.flow.PickCity(Context(c), id, cmd.City)
	if err != nil {
		return h.flowFailure(c, err)
	}

	t := h.translator(c)
	markup, err := h.menus.Districts(t, loc)
	if err != nil {
		return fmt.Errorf("districts keyboard: %w", err)
	}
	return h.reply(c, t.T("flow.choose_district"), markup)
}

func (h *Handlers) pickDistrict(c telebot.Context, cmd command.PickDistrict) error {
	id, ok := userID(c)
	if !ok {
		return nil
	}
	ctx := Context(c)

	s, _, err := h.flow.Current(ctx, id)
	if err != nil {
		return h.flowFailure(c, err)
	}
	if s.Location == "" {
		return h.flowFailure(c, flow.ErrStepOutOfOrder)
	}

	district := ""
	if !cmd.WholeCity {
		loc, err := h.flow.Catalog().Location(s.Location)
		if err != nil {
			return h.flowFailure(c, err)
		}
		if cmd.Index >= len(loc.Districts) {
			return h.flowFailure(c, fmt.Errorf("%w: district #%d of %s", catalog.ErrUnknownLocation, cmd.Index, loc.Slug))
		}
		district = loc.Districts[cmd.Index]
	}

	out, err := h.flow.AdvanceLocation(ctx, id, s.Location, district)
	if err != nil {
		return h.flowFailure(c, err)
	}
	return h.advance(c, out)
}

func (h *Handlers) answerStep(c telebot.Context, cmd command.AnswerStep) error {
	id, ok := userID(c)
	if !ok {
		return nil
	}

	out, err := h.flow.AnswerStep(Context(c), id, cmd.StepID, cmd.Value)
	if err != nil {
		return h.flowFailure(c, err)
	}
	return h.advance(c, out)
}

// advance shows the next step or stores the finished subscription.
func (h *Handlers) advance(c telebot.Context, out flow.Outcome) error {
	t := h.translator(c)

	if out.Next != nil {
		return h.promptStep(c, t, out.Next)
	}
	if out.Finished == nil {
		return apperrors.NewStateError("flow outcome is empty", nil)
	}

	sub, err := h.subs.Create(Context(c), out.Finished)
	if err != nil {
		return err
	}

	h.log.Info("flow finished",
		slog.Int64("user_id", sub.UserID),
		slog.Int64("subscription_id", sub.ID),
	)
	return h.reply(c, t.T("flow.created"), nil)
}

func (h *Handlers) promptStep(c telebot.Context, t i18n.Translator, step *catalog.Step) error {
	markup, err := h.menus.Step(t, step)
	if err != nil {
		return fmt.Errorf("step %s keyboard: %w", step.ID, err)
	}
	return h.reply(c, step.Prompt, markup)
}
