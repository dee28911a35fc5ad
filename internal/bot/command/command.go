// Package command is the typed form of inline button callback data. Callback
// strings are decoded once at the transport boundary and never re-parsed.
package command

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/Proton-105/divar-watch-bot/internal/bot/keyboard"
)

// Callback uniques. Each variant owns exactly one.
const (
	UniqueNew      = "new"
	UniqueCategory = "cat"
	UniqueCity     = "city"
	UniqueDistrict = "dist"
	UniqueStep     = "flt"
	UniqueShow     = "show"
	UniqueDelete   = "del"
	UniqueList     = "list"
	UniqueCancel   = "cancel"
)

const (
	wholeCity     = "*"
	stepSeparator = "|"
)

// ErrUnknownCommand is returned for callback data no variant claims.
var ErrUnknownCommand = errors.New("unknown callback command")

// Command is one decoded button press.
type Command interface {
	Unique() string
	payload() string
}

// NewSubscription starts the wizard.
type NewSubscription struct{}

// PickCategory selects the wizard category.
type PickCategory struct{ Category string }

// PickCity selects the city.
type PickCity struct{ City string }

// PickDistrict selects a district by its position in the city's list;
// WholeCity skips the district.
type PickDistrict struct {
	Index     int
	WholeCity bool
}

// AnswerStep answers an attribute step with an option value.
type AnswerStep struct {
	StepID string
	Value  string
}

// ShowSubscription opens a subscription summary.
type ShowSubscription struct{ ID int64 }

// DeleteSubscription deletes a subscription.
type DeleteSubscription struct{ ID int64 }

// ListPage shows one page of the user's subscriptions.
type ListPage struct{ Page int }

// Cancel abandons the wizard.
type Cancel struct{}

func (NewSubscription) Unique() string  { return UniqueNew }
func (NewSubscription) payload() string { return "" }

func (c PickCategory) Unique() string  { return UniqueCategory }
func (c PickCategory) payload() string { return c.Category }

func (c PickCity) Unique() string  { return UniqueCity }
func (c PickCity) payload() string { return c.City }

func (c PickDistrict) Unique() string { return UniqueDistrict }
func (c PickDistrict) payload() string {
	if c.WholeCity {
		return wholeCity
	}
	return strconv.Itoa(c.Index)
}

func (c AnswerStep) Unique() string  { return UniqueStep }
func (c AnswerStep) payload() string { return c.StepID + stepSeparator + c.Value }

func (c ShowSubscription) Unique() string  { return UniqueShow }
func (c ShowSubscription) payload() string { return strconv.FormatInt(c.ID, 10) }

func (c DeleteSubscription) Unique() string  { return UniqueDelete }
func (c DeleteSubscription) payload() string { return strconv.FormatInt(c.ID, 10) }

func (c ListPage) Unique() string  { return UniqueList }
func (c ListPage) payload() string { return strconv.Itoa(c.Page) }

func (Cancel) Unique() string  { return UniqueCancel }
func (Cancel) payload() string { return "" }

// Encode renders cmd as callback data within Telegram's 64-byte limit.
func Encode(cmd Command) (string, error) {
	if cmd == nil {
		return "", errors.New("encode nil command")
	}
	return keyboard.EncodeCallback(cmd.Unique(), cmd.payload())
}

// Button builds an inline button definition that carries cmd.
func Button(text string, cmd Command) keyboard.InlineButton {
	return keyboard.InlineButton{Text: text, Unique: cmd.Unique(), Data: cmd.payload()}
}

// Decode parses callback data into its command variant.
func Decode(data string) (Command, error) {
	unique, payload, err := keyboard.DecodeCallback(data)
	if err != nil {
		return nil, err
	}

	switch unique {
	case UniqueNew:
		return NewSubscription{}, nil
	case UniqueCancel:
		return Cancel{}, nil
	case UniqueCategory:
		if payload == "" {
			return nil, fmt.Errorf("%w: empty category", ErrUnknownCommand)
		}
		return PickCategory{Category: payload}, nil
	case UniqueCity:
		if payload == "" {
			return nil, fmt.Errorf("%w: empty city", ErrUnknownCommand)
		}
		return PickCity{City: payload}, nil
	case UniqueDistrict:
		if payload == wholeCity {
			return PickDistrict{WholeCity: true}, nil
		}
		idx, err := strconv.Atoi(payload)
		if err != nil || idx < 0 {
			return nil, fmt.Errorf("%w: district %q", ErrUnknownCommand, payload)
		}
		return PickDistrict{Index: idx}, nil
	case UniqueStep:
		stepID, value, ok := strings.Cut(payload, stepSeparator)
		if !ok || stepID == "" || value == "" {
			return nil, fmt.Errorf("%w: step answer %q", ErrUnknownCommand, payload)
		}
		return AnswerStep{StepID: stepID, Value: value}, nil
	case UniqueShow, UniqueDelete:
		id, err := strconv.ParseInt(payload, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("%w: subscription id %q", ErrUnknownCommand, payload)
		}
		if unique == UniqueShow {
			return ShowSubscription{ID: id}, nil
		}
		return DeleteSubscription{ID: id}, nil
	case UniqueList:
		page, err := strconv.Atoi(payload)
		if err != nil || page < 1 {
			return nil, fmt.Errorf("%w: page %q", ErrUnknownCommand, payload)
		}
		return ListPage{Page: page}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, unique)
	}
}
