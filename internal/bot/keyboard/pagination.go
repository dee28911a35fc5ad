package keyboard

import (
	"strconv"

	"github.com/Proton-105/divar-watch-bot/internal/i18n"
)

// Page is one window over a list of Total entries.
type Page struct {
	Number int
	Pages  int
	Start  int
	End    int
}

// Paginate splits total entries perPage at a time and returns the page
// with the given number, clamped into range. An empty list has one page.
func Paginate(total, perPage, number int) Page {
	perPage = max(perPage, 1)
	pages := max((total+perPage-1)/perPage, 1)
	number = min(max(number, 1), pages)

	start := (number - 1) * perPage
	return Page{
		Number: number,
		Pages:  pages,
		Start:  start,
		End:    min(start+perPage, total),
	}
}

func (p Page) HasPrev() bool { return p.Number > 1 }

func (p Page) HasNext() bool { return p.Number < p.Pages }

// Buttons renders the prev / current / next row. Each button carries the
// target page number as payload of the unique callback.
func (p Page) Buttons(t i18n.Translator, unique string) []InlineButton {
	button := func(text string, number int) InlineButton {
		return InlineButton{Text: text, Unique: unique, Data: strconv.Itoa(number)}
	}

	row := make([]InlineButton, 0, 3)
	if p.HasPrev() {
		row = append(row, button(t.T("pagination.pagination_prev"), p.Number-1))
	}
	row = append(row, button(i18n.Format(t, "pagination.pagination_page", map[string]string{
		"Page":  strconv.Itoa(p.Number),
		"Total": strconv.Itoa(p.Pages),
	}), p.Number))
	if p.HasNext() {
		row = append(row, button(t.T("pagination.pagination_next"), p.Number+1))
	}
	return row
}
