// Package menu builds the inline keyboards of the wizard and the subscription
// management screens.
package menu

import (
	"log/slog"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/divar-watch-bot/internal/bot/command"
	"github.com/Proton-105/divar-watch-bot/internal/bot/keyboard"
	"github.com/Proton-105/divar-watch-bot/internal/catalog"
	"github.com/Proton-105/divar-watch-bot/internal/domain"
	"github.com/Proton-105/divar-watch-bot/internal/i18n"
)

const (
	// ButtonsPerRow is the grid width of option keyboards.
	ButtonsPerRow = 3
	// SubscriptionsPerPage bounds the "my subscriptions" list.
	SubscriptionsPerPage = 8
)

// Builder creates inline keyboards for catalog-driven screens.
type Builder struct {
	catalog *catalog.Catalog
	log     *slog.Logger
}

// NewBuilder returns a new Builder instance.
func NewBuilder(cat *catalog.Catalog, log *slog.Logger) *Builder {
	if log == nil {
		log = slog.Default()
	}
	return &Builder{catalog: cat, log: log}
}

// Categories lists every catalog category.
func (b *Builder) Categories() (*telebot.ReplyMarkup, error) {
	defs := b.catalog.Categories()
	buttons := make([]keyboard.InlineButton, 0, len(defs))
	for _, def := range defs {
		buttons = append(buttons, command.Button(def.Title, command.PickCategory{Category: def.ID}))
	}
	return keyboard.NewInlineKeyboard().AddGrid(ButtonsPerRow, buttons...).Build()
}

// Cities lists every catalog city.
func (b *Builder) Cities(t i18n.Translator) (*telebot.ReplyMarkup, error) {
	locs := b.catalog.Locations()
	buttons := make([]keyboard.InlineButton, 0, len(locs))
	for _, loc := range locs {
		text := i18n.Format(t, "flow.city_button", map[string]string{"City": loc.Title})
		buttons = append(buttons, command.Button(text, command.PickCity{City: loc.Slug}))
	}
	return keyboard.NewInlineKeyboard().AddGrid(ButtonsPerRow, buttons...).Build()
}

// Districts lists the city's districts plus a whole-city skip button.
func (b *Builder) Districts(t i18n.Translator, loc *catalog.Location) (*telebot.ReplyMarkup, error) {
	buttons := make([]keyboard.InlineButton, 0, len(loc.Districts))
	for i, d := range loc.Districts {
		buttons = append(buttons, command.Button(d, command.PickDistrict{Index: i}))
	}

	return keyboard.NewInlineKeyboard().
		AddGrid(ButtonsPerRow, buttons...).
		AddRow(command.Button(t.T("flow.skip_district"), command.PickDistrict{WholeCity: true})).
		Build()
}

// Step lists the options of an attribute step.
func (b *Builder) Step(t i18n.Translator, step *catalog.Step) (*telebot.ReplyMarkup, error) {
	buttons := make([]keyboard.InlineButton, 0, len(step.Options))
	for _, opt := range step.Options {
		buttons = append(buttons, command.Button(opt.Label, command.AnswerStep{StepID: step.ID, Value: opt.Value}))
	}

	return keyboard.NewInlineKeyboard().
		AddGrid(ButtonsPerRow, buttons...).
		AddRow(command.Button(t.T("flow.cancel_button"), command.Cancel{})).
		Build()
}

// SubscriptionList renders one page of subscriptions followed by pagination and a
// "new subscription" button.
func (b *Builder) SubscriptionList(t i18n.Translator, subs []*domain.Subscription, page int) (*telebot.ReplyMarkup, error) {
	p := keyboard.Paginate(len(subs), SubscriptionsPerPage, page)

	kb := keyboard.NewInlineKeyboard()
	for _, sub := range subs[p.Start:p.End] {
		text := i18n.Format(t, "subscriptions.item_button", map[string]string{"Title": sub.Title})
		kb.AddRow(command.Button(text, command.ShowSubscription{ID: sub.ID}))
	}
	if p.Pages > 1 {
		kb.AddRow(p.Buttons(t, command.UniqueList)...)
	}
	kb.AddRow(command.Button(t.T("subscriptions.new_button"), command.NewSubscription{}))

	return kb.Build()
}

// SubscriptionActions renders the actions under a subscription summary.
func (b *Builder) SubscriptionActions(t i18n.Translator, id int64) (*telebot.ReplyMarkup, error) {
	return keyboard.NewInlineKeyboard().
		AddRow(command.Button(t.T("subscriptions.delete_button"), command.DeleteSubscription{ID: id})).
		AddRow(command.Button(t.T("subscriptions.back_button"), command.ListPage{Page: 1})).
		Build()
}

// ItemLink renders the external link button of a dispatched item.
func (b *Builder) ItemLink(t i18n.Translator, url string) (*telebot.ReplyMarkup, error) {
	if url == "" {
		return nil, nil
	}
	return keyboard.NewInlineKeyboard().
		AddRow(keyboard.InlineButton{Text: t.T("item.view_button"), URL: url}).
		Build()
}
