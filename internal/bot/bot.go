// Package bot wires the Telegram transport to the update handlers.
package bot

import (
	"fmt"
	"log/slog"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/divar-watch-bot/internal/bot/command"
	"github.com/Proton-105/divar-watch-bot/internal/bot/handlers"
	"github.com/Proton-105/divar-watch-bot/internal/bot/keyboard"
	errors "github.com/Proton-105/divar-watch-bot/internal/errors"
	"github.com/Proton-105/divar-watch-bot/internal/i18n"
	"github.com/Proton-105/divar-watch-bot/internal/idempotency"
	"github.com/Proton-105/divar-watch-bot/internal/middleware"
	"github.com/Proton-105/divar-watch-bot/pkg/config"
)

const (
	CommandStart  = "/start"
	CommandHelp   = "/help"
	CommandCancel = "/cancel"
	CommandNew    = "/new"
	CommandList   = "/subscriptions"
)

var callbackUniques = []string{
	command.UniqueNew,
	command.UniqueCategory,
	command.UniqueCity,
	command.UniqueDistrict,
	command.UniqueStep,
	command.UniqueShow,
	command.UniqueDelete,
	command.UniqueList,
	command.UniqueCancel,
}

// User is the slice of the user service the transport needs.
type User interface {
	Registrar
	ActivityTracker
}

// Deps are the collaborators of the bot transport. Optional fields may be nil.
type Deps struct {
	Handlers    *handlers.Handlers
	Texts       *i18n.Manager
	Users       User
	Idempotency idempotency.Manager
	RateLimit   *middleware.RateLimitMiddleware
	Errors      *errors.Handler
}

// Bot wraps telebot.Bot with the update router.
type Bot struct {
	telebot *telebot.Bot
	router  *Router
	log     *slog.Logger
}

// NewTelebot builds the Telegram client with the poller selected by cfg.Mode.
func NewTelebot(cfg config.BotConfig, log *slog.Logger) (*telebot.Bot, error) {
	if log == nil {
		log = slog.Default()
	}

	settings := telebot.Settings{
		Token: cfg.Token,
		OnError: func(err error, c telebot.Context) {
			log.Error("telebot error", slog.Any("error", err))
		},
	}

	if cfg.Mode == "webhook" {
		settings.Poller = &telebot.Webhook{
			Listen:   cfg.Listen,
			Endpoint: &telebot.WebhookEndpoint{PublicURL: cfg.PublicURL},
		}
	} else {
		settings.Poller = &telebot.LongPoller{
			Timeout: cfg.Timeout,
		}
	}

	tb, err := telebot.NewBot(settings)
	if err != nil {
		return nil, fmt.Errorf("initialize telebot: %w", err)
	}

	return tb, nil
}

// New registers the handlers in deps on tb.
func New(tb *telebot.Bot, deps Deps, log *slog.Logger) (*Bot, error) {
	if tb == nil {
		return nil, fmt.Errorf("telebot is nil")
	}
	if deps.Handlers == nil || deps.Texts == nil {
		return nil, fmt.Errorf("handlers and texts are required")
	}
	if log == nil {
		log = slog.Default()
	}
	if deps.Errors == nil {
		deps.Errors = errors.NewHandler(log, false)
	}

	b := &Bot{
		telebot: tb,
		router:  NewRouter(log),
		log:     log,
	}

	SetupRouter(b.router, deps, log)

	if deps.RateLimit != nil {
		b.telebot.Use(deps.RateLimit.Handle)
	}

	b.telebot.Handle(telebot.OnText, b.router.Route)
	b.telebot.Handle(telebot.OnCallback, b.router.Route)

	return b, nil
}

// SetupRouter installs the middleware chain and every route on r.
func SetupRouter(r *Router, deps Deps, log *slog.Logger) {
	h := deps.Handlers

	r.Use(RecoveryMiddleware(log, deps.Errors))
	r.Use(middleware.Idempotency(deps.Idempotency, log))
	r.Use(ErrorHandlingMiddleware(deps.Errors))
	r.Use(LoggingMiddleware(log))
	if deps.Users != nil {
		r.Use(AuthMiddleware(deps.Users, log))
		r.Use(LastActiveMiddleware(deps.Users))
	}
	r.Use(middleware.Metrics)

	r.RegisterCommand(CommandStart, h.Start)
	r.RegisterCommand(CommandHelp, h.Help)
	r.RegisterCommand(CommandCancel, h.Cancel)
	r.RegisterCommand(CommandNew, h.NewSubscription)
	r.RegisterCommand(CommandList, h.MySubscriptions)

	menu := map[string]handlers.Handler{
		keyboard.KeyNewSubscription: h.NewSubscription,
		keyboard.KeyMySubscriptions: h.MySubscriptions,
		keyboard.KeyHelp:            h.Help,
	}
	for _, lang := range deps.Texts.Languages() {
		for label, key := range keyboard.MainMenuLabels(deps.Texts.Translator(lang)) {
			r.RegisterText(label, menu[key])
		}
	}

	for _, unique := range callbackUniques {
		r.RegisterCallback(unique, h.OnCommand)
	}

	r.SetInvalid(h.Expired)
	r.SetDefault(h.Fallback)
}

// Start runs the telegram bot event loop.
func (b *Bot) Start() {
	if me := b.telebot.Me; me != nil {
		b.log.Info("starting telegram bot", slog.String("username", me.Username))
	}
	b.telebot.Start()
}

// Stop gracefully stops the telegram bot.
func (b *Bot) Stop() {
	b.log.Info("stopping telegram bot...")
	b.telebot.Stop()
}

// Telebot exposes the underlying telebot.Bot instance for integrations such as health checks.
func (b *Bot) Telebot() *telebot.Bot {
	return b.telebot
}
