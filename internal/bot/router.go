package bot

import (
	"log/slog"
	"slices"
	"strings"
	"sync"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/divar-watch-bot/internal/bot/command"
	"github.com/Proton-105/divar-watch-bot/internal/bot/handlers"
)

// Router dispatches slash commands, reply keyboard texts and decoded
// callbacks. Messages try the command table first, then exact texts, then
// the default handler. Callbacks are answered before dispatch so the
// client stops its spinner even when the handler is slow.
type Router struct {
	mu          sync.RWMutex
	commands    map[string]handlers.Handler
	texts       map[string]handlers.Handler
	callbacks   map[string]handlers.CommandHandler
	fallback    handlers.Handler
	invalid     handlers.Handler
	middlewares []handlers.Middleware
	log         *slog.Logger
}

func NewRouter(log *slog.Logger) *Router {
	if log == nil {
		log = slog.Default()
	}
	return &Router{
		commands:  make(map[string]handlers.Handler),
		texts:     make(map[string]handlers.Handler),
		callbacks: make(map[string]handlers.CommandHandler),
		log:       log,
	}
}

// RegisterCommand binds a slash command such as "/start".
func (r *Router) RegisterCommand(cmd string, h handlers.Handler) {
	r.mu.Lock()
	r.commands[cmd] = h
	r.mu.Unlock()
}

// RegisterText binds an exact message text, e.g. a reply keyboard label.
// Blank texts are ignored.
func (r *Router) RegisterText(text string, h handlers.Handler) {
	if text = strings.TrimSpace(text); text == "" {
		return
	}
	r.mu.Lock()
	r.texts[text] = h
	r.mu.Unlock()
}

// RegisterCallback binds the unique prefix of an inline button command.
func (r *Router) RegisterCallback(unique string, h handlers.CommandHandler) {
	r.mu.Lock()
	r.callbacks[unique] = h
	r.mu.Unlock()
}

// Use appends mw; the first registered middleware runs outermost.
func (r *Router) Use(mw handlers.Middleware) {
	r.mu.Lock()
	r.middlewares = append(r.middlewares, mw)
	r.mu.Unlock()
}

// SetDefault handles messages nothing else matched.
func (r *Router) SetDefault(h handlers.Handler) {
	r.mu.Lock()
	r.fallback = h
	r.mu.Unlock()
}

// SetInvalid handles callback data that does not decode.
func (r *Router) SetInvalid(h handlers.Handler) {
	r.mu.Lock()
	r.invalid = h
	r.mu.Unlock()
}

// Route runs the matching handler for the update through the middleware chain.
func (r *Router) Route(c telebot.Context) error {
	if c == nil {
		return nil
	}

	var h handlers.Handler
	if cb := c.Callback(); cb != nil {
		if err := c.Respond(); err != nil {
			r.log.Debug("callback not answered", slog.Any("error", err))
		}
		h = r.callbackHandler(cb.Data)
	} else {
		h = r.messageHandler(strings.TrimSpace(c.Text()))
	}
	if h == nil {
		return nil
	}

	r.mu.RLock()
	chain := slices.Clone(r.middlewares)
	r.mu.RUnlock()

	for i := len(chain) - 1; i >= 0; i-- {
		h = chain[i](h)
	}
	return h(c)
}

func (r *Router) callbackHandler(data string) handlers.Handler {
	cmd, err := command.Decode(data)

	r.mu.RLock()
	defer r.mu.RUnlock()

	if err != nil {
		r.log.Info("undecodable callback", slog.String("data", data), slog.Any("error", err))
		return r.invalid
	}
	h, ok := r.callbacks[cmd.Unique()]
	if !ok {
		r.log.Info("unhandled callback", slog.String("unique", cmd.Unique()))
		return nil
	}
	return func(c telebot.Context) error { return h(c, cmd) }
}

func (r *Router) messageHandler(text string) handlers.Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if strings.HasPrefix(text, "/") {
		if h, ok := r.commands[commandName(text)]; ok {
			return h
		}
	}
	if h, ok := r.texts[text]; ok {
		return h
	}
	return r.fallback
}

// commandName strips arguments and a "@botname" suffix from a slash command.
func commandName(text string) string {
	name, _, _ := strings.Cut(text, " ")
	name, _, _ = strings.Cut(name, "@")
	return name
}
