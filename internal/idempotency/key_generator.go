package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	telebot "gopkg.in/telebot.v3"
)

// GenerateKey hashes the pipe-joined parts into a 64 character hex key.
func GenerateKey(parts ...any) string {
	var b strings.Builder
	for i, part := range parts {
		if i > 0 {
			b.WriteByte('|')
		}
		fmt.Fprint(&b, part)
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// UpdateKey identifies the update behind c. Callback queries are keyed by
// their query id, falling back to the pressed message and payload; plain
// messages by chat and message id. Updates without either return "".
func UpdateKey(c telebot.Context) string {
	if c == nil {
		return ""
	}

	if cb := c.Callback(); cb != nil {
		switch {
		case cb.ID != "":
			return GenerateKey("callback", cb.ID)
		case cb.Message != nil:
			return GenerateKey("callback-message", chatID(cb.Message), cb.Message.ID, cb.Data)
		}
	}

	if msg := c.Message(); msg != nil && msg.ID != 0 {
		return GenerateKey("message", chatID(msg), msg.ID)
	}
	return ""
}

func chatID(msg *telebot.Message) int64 {
	if msg.Chat == nil {
		return 0
	}
	return msg.Chat.ID
}
