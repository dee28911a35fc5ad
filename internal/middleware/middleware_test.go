package middleware

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/divar-watch-bot/internal/idempotency"
	"github.com/Proton-105/divar-watch-bot/internal/ratelimit"
	"github.com/Proton-105/divar-watch-bot/pkg/config"
)

// stubContext implements the parts of telebot.Context the middlewares touch.
type stubContext struct {
	telebot.Context
	sender   *telebot.User
	callback *telebot.Callback
	message  *telebot.Message
	sent     []string
	answered []string
}

func (c *stubContext) Sender() *telebot.User       { return c.sender }
func (c *stubContext) Callback() *telebot.Callback { return c.callback }
func (c *stubContext) Message() *telebot.Message   { return c.message }
func (c *stubContext) Text() string {
	if c.message == nil {
		return ""
	}
	return c.message.Text
}

func (c *stubContext) Send(what interface{}, _ ...interface{}) error {
	c.sent = append(c.sent, what.(string))
	return nil
}

func (c *stubContext) Respond(resp ...*telebot.CallbackResponse) error {
	for _, r := range resp {
		c.answered = append(c.answered, r.Text)
	}
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func callbackContext(id string) *stubContext {
	return &stubContext{
		sender:   &telebot.User{ID: 7},
		callback: &telebot.Callback{ID: id, Data: "\flist:1"},
	}
}

func TestIdempotency_DropsDuplicateCallbacks(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	manager := idempotency.NewManager(idempotency.NewRedisStore(client, testLogger()), testLogger())
	calls := 0
	h := Idempotency(manager, testLogger())(func(telebot.Context) error {
		calls++
		return nil
	})

	require.NoError(t, h(callbackContext("cb-1")))
	require.NoError(t, h(callbackContext("cb-1")))
	require.NoError(t, h(callbackContext("cb-2")))

	assert.Equal(t, 2, calls)
}

func TestIdempotency_NilManagerPassesThrough(t *testing.T) {
	calls := 0
	h := Idempotency(nil, nil)(func(telebot.Context) error {
		calls++
		return nil
	})

	require.NoError(t, h(callbackContext("cb-1")))
	require.NoError(t, h(callbackContext("cb-1")))
	assert.Equal(t, 2, calls)
}

func TestExtractCommandName(t *testing.T) {
	tests := []struct {
		name string
		ctx  *stubContext
		want string
	}{
		{"callback", callbackContext("x"), "cb_list"},
		{"bad callback", &stubContext{callback: &telebot.Callback{Data: "zzz"}}, "callback_unknown"},
		{"slash command", &stubContext{message: &telebot.Message{Text: "/start ref"}}, "/start"},
		{"free text", &stubContext{message: &telebot.Message{Text: "سلام"}}, "text"},
		{"empty", &stubContext{}, "unknown"},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, extractCommandName(tc.ctx))
		})
	}
}

func TestRateLimit_RejectsOverLimit(t *testing.T) {
	rules, err := ratelimit.NewRules(config.RateLimitConfig{
		PerUser:   config.RateLimitRule{Limit: 2, Window: "1m"},
		Whitelist: []int64{99},
	})
	require.NoError(t, err)
	mw := NewRateLimitMiddleware(ratelimit.NewMemoryLimiter(), rules, testLogger())

	calls := 0
	h := mw.Handle(func(telebot.Context) error {
		calls++
		return nil
	})

	msgCtx := &stubContext{sender: &telebot.User{ID: 7}, message: &telebot.Message{Text: "hi"}}
	for i := 0; i < 3; i++ {
		require.NoError(t, h(msgCtx))
	}
	assert.Equal(t, 2, calls)
	require.Len(t, msgCtx.sent, 1)

	cb := callbackContext("cb")
	require.NoError(t, h(cb))
	assert.Len(t, cb.answered, 1)
	assert.Equal(t, 2, calls)

	for i := 0; i < 5; i++ {
		require.NoError(t, h(&stubContext{sender: &telebot.User{ID: 99}}))
	}
	assert.Equal(t, 7, calls)
}

func TestHTTPLogging_KeepsStatus(t *testing.T) {
	h := New(testLogger())(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
