// Package notify renders items and wizard prompts for Telegram and delivers them.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/divar-watch-bot/internal/bot/keyboard"
	"github.com/Proton-105/divar-watch-bot/internal/bot/menu"
	"github.com/Proton-105/divar-watch-bot/internal/catalog"
	"github.com/Proton-105/divar-watch-bot/internal/domain"
	"github.com/Proton-105/divar-watch-bot/internal/i18n"
)

const (
	// MaxAlbumSize is the number of photos sent per item.
	MaxAlbumSize = 9
	// captionLimit is Telegram's media caption limit in characters.
	captionLimit = 1024
)

// Sender is the subset of *telebot.Bot the sink needs.
type Sender interface {
	Send(to telebot.Recipient, what interface{}, opts ...interface{}) (*telebot.Message, error)
	SendAlbum(to telebot.Recipient, a telebot.Album, opts ...interface{}) ([]telebot.Message, error)
}

// Languages resolves the preferred language of a user.
type Languages interface {
	Language(ctx context.Context, userID int64) string
}

// Sink delivers items and prompts to Telegram users.
type Sink struct {
	sender Sender
	menus  *menu.Builder
	texts  *i18n.Manager
	langs  Languages
	log    *slog.Logger
	now    func() time.Time
}

// NewSink creates a sink. langs may be nil, in which case the default language is used.
func NewSink(sender Sender, menus *menu.Builder, texts *i18n.Manager, langs Languages, log *slog.Logger) *Sink {
	if log == nil {
		log = slog.Default()
	}

	return &Sink{
		sender: sender,
		menus:  menus,
		texts:  texts,
		langs:  langs,
		log:    log.With(slog.String("component", "notify")),
		now:    time.Now,
	}
}

func (s *Sink) translator(ctx context.Context, userID int64) i18n.Translator {
	lang := ""
	if s.langs != nil {
		lang = s.langs.Language(ctx, userID)
	}
	return s.texts.Translator(lang)
}

// Present sends one item: an album with the caption on the first photo followed
// by the link button, or a text message when the item has no photos or the album
// is rejected.
func (s *Sink) Present(ctx context.Context, userID int64, item domain.Item) error {
	t := s.translator(ctx, userID)
	to := telebot.ChatID(userID)
	caption := Caption(t, item, s.now())

	link, err := s.menus.ItemLink(t, item.URL)
	if err != nil {
		return fmt.Errorf("item %s: link button: %w", item.ID, err)
	}

	images := nonEmpty(item.Images)
	if len(images) == 0 {
		return s.sendText(to, caption, link)
	}
	if len(images) > MaxAlbumSize {
		images = images[:MaxAlbumSize]
	}

	album := make(telebot.Album, 0, len(images))
	for i, u := range images {
		photo := &telebot.Photo{File: telebot.FromURL(u)}
		if i == 0 {
			photo.Caption = caption
		}
		album = append(album, photo)
	}

	if _, err := s.sender.SendAlbum(to, album); err != nil {
		s.log.Debug("album rejected, sending text",
			slog.Int64("user_id", userID),
			slog.String("item_id", item.ID),
			slog.Any("error", err),
		)
		return s.sendText(to, caption, link)
	}

	if link != nil {
		if _, err := s.sender.Send(to, t.T("item.links"), link); err != nil {
			return fmt.Errorf("item %s: send link: %w", item.ID, err)
		}
	}
	return nil
}

func (s *Sink) sendText(to telebot.Recipient, text string, markup *telebot.ReplyMarkup) error {
	opts := []interface{}{&telebot.SendOptions{DisableWebPagePreview: true}}
	if markup != nil {
		opts = append(opts, markup)
	}
	if _, err := s.sender.Send(to, text, opts...); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

// PromptStep sends the step's prompt with its options.
func (s *Sink) PromptStep(ctx context.Context, userID int64, step *catalog.Step) error {
	t := s.translator(ctx, userID)
	markup, err := s.menus.Step(t, step)
	if err != nil {
		return fmt.Errorf("step %s keyboard: %w", step.ID, err)
	}
	if _, err := s.sender.Send(telebot.ChatID(userID), step.Prompt, markup); err != nil {
		return fmt.Errorf("send step %s: %w", step.ID, err)
	}
	return nil
}

// NothingFound tells the user the initial search came back empty.
func (s *Sink) NothingFound(ctx context.Context, userID int64) error {
	t := s.translator(ctx, userID)
	_, err := s.sender.Send(telebot.ChatID(userID), t.T("item.nothing_found"))
	return err
}

// MainMenu shows the reply main menu with the "carry on" text.
func (s *Sink) MainMenu(ctx context.Context, userID int64) error {
	t := s.translator(ctx, userID)
	_, err := s.sender.Send(telebot.ChatID(userID), t.T("flow.continue"), keyboard.MainMenu(t))
	return err
}

// Caption renders the item text shown with the first photo.
func Caption(t i18n.Translator, item domain.Item, now time.Time) string {
	title := strings.TrimSpace(item.Title)
	if title == "" {
		title = t.T("item.untitled")
	}

	var b strings.Builder
	b.WriteString("📝 " + title + "\n")

	if item.Location != "" || item.SubRegion != "" {
		loc := item.Location
		switch {
		case loc == "":
			loc = item.SubRegion
		case item.SubRegion != "":
			loc += " - " + item.SubRegion
		}
		b.WriteString("📍 " + loc + "\n")
	}
	b.WriteString("⏰ " + HumanizeAge(t, item.PublishedAt, now) + "\n")
	if item.Price != "" {
		b.WriteString("💰 " + item.Price + "\n")
	}

	tail := ""
	if item.Phone != "" {
		tail = "\n📞 " + item.Phone + "\n"
	}

	if desc := strings.TrimSpace(item.Description); desc != "" {
		room := captionLimit - runeLen(b.String()) - runeLen(tail) - 2
		b.WriteString("\n" + truncate(desc, room) + "\n")
	}
	b.WriteString(tail)

	return b.String()
}

// HumanizeAge renders how long ago published was, in the coarsest whole unit.
func HumanizeAge(t i18n.Translator, published, now time.Time) string {
	if published.IsZero() {
		return t.T("age.unknown")
	}

	secs := int64(now.Sub(published) / time.Second)
	if secs < 0 {
		secs = 0
	}

	key, n := "age.seconds", secs
	switch {
	case secs >= 86400:
		key, n = "age.days", secs/86400
	case secs >= 3600:
		key, n = "age.hours", secs/3600
	case secs >= 60:
		key, n = "age.minutes", secs/60
	}
	return i18n.Format(t, key, map[string]string{"N": strconv.FormatInt(n, 10)})
}

func nonEmpty(urls []string) []string {
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		if strings.TrimSpace(u) != "" {
			out = append(out, u)
		}
	}
	return out
}

func runeLen(s string) int {
	return len([]rune(s))
}

func truncate(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	if limit == 1 {
		return "…"
	}
	return string(r[:limit-1]) + "…"
}
