package handlers

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/divar-watch-bot/internal/bot/command"
	"github.com/Proton-105/divar-watch-bot/internal/bot/menu"
	"github.com/Proton-105/divar-watch-bot/internal/catalog"
	"github.com/Proton-105/divar-watch-bot/internal/database"
	"github.com/Proton-105/divar-watch-bot/internal/domain"
	apperrors "github.com/Proton-105/divar-watch-bot/internal/errors"
	"github.com/Proton-105/divar-watch-bot/internal/flow"
	"github.com/Proton-105/divar-watch-bot/internal/i18n"
	"github.com/Proton-105/divar-watch-bot/internal/repository"
	"github.com/Proton-105/divar-watch-bot/internal/session"
	"github.com/Proton-105/divar-watch-bot/internal/subscription"
)

type stubContext struct {
	telebot.Context
	sender   *telebot.User
	callback *telebot.Callback
	message  *telebot.Message
	store    map[string]interface{}
	sent     []string
	edited   []string
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

func (c *stubContext) Get(key string) interface{} { return c.store[key] }
func (c *stubContext) Set(key string, v interface{}) {
	if c.store == nil {
		c.store = make(map[string]interface{})
	}
	c.store[key] = v
}

func (c *stubContext) Send(what interface{}, _ ...interface{}) error {
	c.sent = append(c.sent, what.(string))
	return nil
}

func (c *stubContext) Edit(what interface{}, _ ...interface{}) error {
	c.edited = append(c.edited, what.(string))
	return nil
}

func (c *stubContext) Respond(...*telebot.CallbackResponse) error { return nil }

func (c *stubContext) last() string {
	if n := len(c.edited); n > 0 {
		return c.edited[n-1]
	}
	if n := len(c.sent); n > 0 {
		return c.sent[n-1]
	}
	return ""
}

type recordingPrompter struct {
	mu      sync.Mutex
	prompts []string
	menus   int
}

func (p *recordingPrompter) PromptStep(_ context.Context, _ int64, step *catalog.Step) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prompts = append(p.prompts, step.ID)
	return nil
}

func (p *recordingPrompter) MainMenu(context.Context, int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.menus++
	return nil
}

type recordingScheduler struct {
	ids []int64
}

func (s *recordingScheduler) ScheduleInitialResults(_ context.Context, id int64) error {
	s.ids = append(s.ids, id)
	return nil
}

type fixture struct {
	handlers  *Handlers
	engine    *flow.Engine
	subs      *subscription.Service
	prompter  *recordingPrompter
	scheduler *recordingScheduler
	t         i18n.Translator
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openDB(t *testing.T) (*sql.DB, database.Dialect) {
	t.Helper()

	ctx := context.Background()
	db, dialect, err := database.Open(ctx, database.Config{
		Driver: string(database.DialectSQLite),
		DSN:    filepath.Join(t.TempDir(), "bot.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, database.NewMigrator(db, dialect, testLogger()).Apply(ctx))
	return db, dialect
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	cat, err := catalog.Default()
	require.NoError(t, err)
	texts, err := i18n.Load("fa")
	require.NoError(t, err)

	db, dialect := openDB(t)
	repo := repository.NewSubscriptionRepository(db, dialect, testLogger())

	engine := flow.NewEngine(cat, session.NewManager(session.NewMemoryStorage(), testLogger(), nil), testLogger())
	scheduler := &recordingScheduler{}
	subs := subscription.NewService(repo, cat, scheduler, testLogger())
	prompter := &recordingPrompter{}

	return &fixture{
		handlers:  New(engine, subs, menu.NewBuilder(cat, testLogger()), prompter, texts, nil, testLogger()),
		engine:    engine,
		subs:      subs,
		prompter:  prompter,
		scheduler: scheduler,
		t:         texts.Translator("fa"),
	}
}

func callback(userID int64) *stubContext {
	return &stubContext{
		sender:   &telebot.User{ID: userID, LanguageCode: "fa"},
		callback: &telebot.Callback{ID: "cb", Message: &telebot.Message{ID: 1}},
	}
}

func message(userID int64, text string) *stubContext {
	return &stubContext{
		sender:  &telebot.User{ID: userID, LanguageCode: "fa"},
		message: &telebot.Message{Text: text},
	}
}

func TestWizard_CreatesSubscription(t *testing.T) {
	f := newFixture(t)
	const user = int64(7)

	c := callback(user)
	require.NoError(t, f.handlers.OnCommand(c, command.PickCategory{Category: "car"}))
	assert.Equal(t, f.t.T("flow.choose_city"), c.last())

	c = callback(user)
	require.NoError(t, f.handlers.OnCommand(c, command.PickCity{City: "tehran"}))
	assert.Equal(t, f.t.T("flow.choose_district"), c.last())

	c = callback(user)
	require.NoError(t, f.handlers.OnCommand(c, command.PickDistrict{Index: 1}))
	assert.Equal(t, "کارکرد رو انتخاب کن:", c.last())

	answers := []command.AnswerStep{
		{StepID: "mileage", Value: "0-50000"},
		{StepID: "year", Value: "2006-2011"},
		{StepID: "price", Value: "0-300000000"},
	}
	for _, answer := range answers {
		c = callback(user)
		require.NoError(t, f.handlers.OnCommand(c, answer))
	}
	assert.Equal(t, f.t.T("flow.created"), c.last())

	subs, err := f.subs.List(context.Background(), user)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "🚗 خودرو | تهران", subs[0].Title)
	assert.Equal(t, "ری", subs[0].SubRegion)
	assert.Equal(t, domain.IntValue(50000), subs[0].Criteria["mileage_max"])
	assert.Equal(t, []int64{subs[0].ID}, f.scheduler.ids)

	_, _, err = f.engine.Current(context.Background(), user)
	assert.ErrorIs(t, err, flow.ErrNoSession)
}

func TestWizard_WholeCitySkipsDistrict(t *testing.T) {
	f := newFixture(t)
	const user = int64(8)

	require.NoError(t, f.handlers.OnCommand(callback(user), command.PickCategory{Category: "car"}))
	require.NoError(t, f.handlers.OnCommand(callback(user), command.PickCity{City: "mashhad"}))
	require.NoError(t, f.handlers.OnCommand(callback(user), command.PickDistrict{WholeCity: true}))

	s, step, err := f.engine.Current(context.Background(), user)
	require.NoError(t, err)
	require.NotNil(t, step)
	assert.Equal(t, "mileage", step.ID)
	assert.Empty(t, s.SubRegion)
}

func TestWizard_StaleButtonsReportExpiry(t *testing.T) {
	f := newFixture(t)

	c := callback(9)
	require.NoError(t, f.handlers.OnCommand(c, command.AnswerStep{StepID: "mileage", Value: "0-50000"}))
	assert.Equal(t, f.t.T("flow.expired"), c.last())

	c = callback(9)
	require.NoError(t, f.handlers.OnCommand(c, command.PickDistrict{Index: 0}))
	assert.Equal(t, f.t.T("flow.expired"), c.last())
}

func TestWizard_RejectsUnknownOption(t *testing.T) {
	f := newFixture(t)
	const user = int64(10)

	require.NoError(t, f.handlers.OnCommand(callback(user), command.PickCategory{Category: "car"}))
	require.NoError(t, f.handlers.OnCommand(callback(user), command.PickCity{City: "tehran"}))
	require.NoError(t, f.handlers.OnCommand(callback(user), command.PickDistrict{WholeCity: true}))

	err := f.handlers.OnCommand(callback(user), command.AnswerStep{StepID: "mileage", Value: "1-2"})
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.CodeValidation, appErr.Code)

	_, step, err := f.engine.Current(context.Background(), user)
	require.NoError(t, err)
	assert.Equal(t, "mileage", step.ID)
}

func TestWizard_DistrictOutOfRange(t *testing.T) {
	f := newFixture(t)
	const user = int64(11)

	require.NoError(t, f.handlers.OnCommand(callback(user), command.PickCategory{Category: "car"}))
	require.NoError(t, f.handlers.OnCommand(callback(user), command.PickCity{City: "tehran"}))

	err := f.handlers.OnCommand(callback(user), command.PickDistrict{Index: 99})
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.ErrorIs(t, err, catalog.ErrUnknownLocation)
}

func TestCancel_DropsWizard(t *testing.T) {
	f := newFixture(t)
	const user = int64(12)

	require.NoError(t, f.handlers.OnCommand(callback(user), command.PickCategory{Category: "car"}))

	c := message(user, "/cancel")
	require.NoError(t, f.handlers.Cancel(c))
	assert.Equal(t, []string{f.t.T("flow.cancelled")}, c.sent)

	_, _, err := f.engine.Current(context.Background(), user)
	assert.ErrorIs(t, err, flow.ErrNoSession)
}

func TestStart_ResetsWizardAndGreets(t *testing.T) {
	f := newFixture(t)
	const user = int64(13)

	require.NoError(t, f.handlers.OnCommand(callback(user), command.PickCategory{Category: "car"}))

	c := message(user, "/start")
	require.NoError(t, f.handlers.Start(c))
	assert.Equal(t, []string{f.t.T("welcome")}, c.sent)

	_, _, err := f.engine.Current(context.Background(), user)
	assert.ErrorIs(t, err, flow.ErrNoSession)
}

func TestNewSubscription_FromReplyKeyboard(t *testing.T) {
	f := newFixture(t)

	c := message(14, f.t.T("main_menu.new_subscription"))
	require.NoError(t, f.handlers.NewSubscription(c))
	assert.Equal(t, []string{f.t.T("flow.choose_category"), f.t.T("flow.categories")}, c.sent)
}

func TestFallback(t *testing.T) {
	f := newFixture(t)
	const user = int64(15)

	require.NoError(t, f.handlers.Fallback(message(user, "hello")))
	assert.Equal(t, 1, f.prompter.menus)

	require.NoError(t, f.handlers.OnCommand(callback(user), command.PickCategory{Category: "car"}))
	require.NoError(t, f.handlers.OnCommand(callback(user), command.PickCity{City: "tehran"}))
	require.NoError(t, f.handlers.OnCommand(callback(user), command.PickDistrict{WholeCity: true}))

	require.NoError(t, f.handlers.Fallback(message(user, "hello")))
	assert.Equal(t, []string{"mileage"}, f.prompter.prompts)
}

func TestSubscriptions_ListShowDelete(t *testing.T) {
	f := newFixture(t)
	const owner, other = int64(20), int64(21)
	ctx := context.Background()

	c := message(owner, f.t.T("main_menu.my_subscriptions"))
	require.NoError(t, f.handlers.MySubscriptions(c))
	assert.Equal(t, []string{f.t.T("subscriptions.empty")}, c.sent)

	sub, err := f.subs.Create(ctx, &flow.Finished{
		UserID:   owner,
		Category: "car",
		Location: "tehran",
		Criteria: domain.Criteria{"price_min": domain.IntValue(0), "price_max": domain.IntValue(300000000)},
	})
	require.NoError(t, err)

	c = message(owner, f.t.T("main_menu.my_subscriptions"))
	require.NoError(t, f.handlers.MySubscriptions(c))
	assert.Equal(t, f.t.T("subscriptions.list_title"), c.last())

	c = callback(owner)
	require.NoError(t, f.handlers.OnCommand(c, command.ShowSubscription{ID: sub.ID}))
	assert.Contains(t, c.last(), "🚗 خودرو | تهران")

	c = callback(other)
	require.NoError(t, f.handlers.OnCommand(c, command.ShowSubscription{ID: sub.ID}))
	assert.Equal(t, f.t.T("subscriptions.not_found"), c.last())

	c = callback(other)
	require.NoError(t, f.handlers.OnCommand(c, command.DeleteSubscription{ID: sub.ID}))
	assert.Equal(t, f.t.T("subscriptions.delete_failed"), c.last())

	c = callback(owner)
	require.NoError(t, f.handlers.OnCommand(c, command.DeleteSubscription{ID: sub.ID}))
	assert.Equal(t, f.t.T("subscriptions.deleted"), c.last())

	subs, err := f.subs.List(ctx, owner)
	require.NoError(t, err)
	assert.Empty(t, subs)
}

func TestRenderSummary_NoFilters(t *testing.T) {
	texts, err := i18n.Load("fa")
	require.NoError(t, err)
	tr := texts.Translator("fa")

	out := RenderSummary(tr, subscription.Summary{Title: "t", Category: "c", Location: "l"})
	assert.Contains(t, out, tr.T("subscriptions.summary_none"))
}
