package keyboard

import (
	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/divar-watch-bot/internal/i18n"
)

// Main menu translation keys. Handlers match incoming texts against them.
const (
	KeyNewSubscription = "main_menu.new_subscription"
	KeyMySubscriptions = "main_menu.my_subscriptions"
	KeyHelp            = "main_menu.help"
)

var mainMenuLayout = [][]string{
	{KeyNewSubscription, KeyMySubscriptions},
	{KeyHelp},
}

// MainMenu is the persistent reply keyboard shown outside the wizard.
func MainMenu(t i18n.Translator) *telebot.ReplyMarkup {
	markup := &telebot.ReplyMarkup{ResizeKeyboard: true}

	rows := make([]telebot.Row, 0, len(mainMenuLayout))
	for _, keys := range mainMenuLayout {
		row := make(telebot.Row, 0, len(keys))
		for _, key := range keys {
			label := key
			if t != nil {
				label = t.T(key)
			}
			row = append(row, markup.Text(label))
		}
		rows = append(rows, row)
	}
	markup.Reply(rows...)
	return markup
}

// MainMenuLabels maps the label of every main menu button in t back to its key.
func MainMenuLabels(t i18n.Translator) map[string]string {
	labels := make(map[string]string)
	for _, keys := range mainMenuLayout {
		for _, key := range keys {
			labels[t.T(key)] = key
		}
	}
	return labels
}

// RemoveReply hides the reply keyboard.
func RemoveReply() *telebot.ReplyMarkup {
	return &telebot.ReplyMarkup{RemoveKeyboard: true}
}
