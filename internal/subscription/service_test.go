package subscription

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Proton-105/divar-watch-bot/internal/catalog"
	"github.com/Proton-105/divar-watch-bot/internal/domain"
	apperrors "github.com/Proton-105/divar-watch-bot/internal/errors"
	"github.com/Proton-105/divar-watch-bot/internal/flow"
	"github.com/Proton-105/divar-watch-bot/internal/repository"
)

type mockScheduler struct {
	mock.Mock
}

func (m *mockScheduler) ScheduleInitialResults(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

type memoryRepo struct {
	mu     sync.Mutex
	subs   map[int64]*domain.Subscription
	nextID int64
	fail   error
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{subs: make(map[int64]*domain.Subscription)}
}

func (r *memoryRepo) ListAll(context.Context) ([]*domain.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Subscription
	for _, s := range r.subs {
		out = append(out, s)
	}
	return out, nil
}

func (r *memoryRepo) Get(_ context.Context, id int64) (*domain.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.subs[id]; ok {
		cp := *s
		return &cp, nil
	}
	return nil, repository.ErrNotFound
}

func (r *memoryRepo) Create(_ context.Context, sub *domain.Subscription) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return 0, r.fail
	}
	r.nextID++
	cp := *sub
	cp.ID = r.nextID
	r.subs[cp.ID] = &cp
	return cp.ID, nil
}

func (r *memoryRepo) UpdateSeen(context.Context, int64, []string) error { return nil }

func (r *memoryRepo) Delete(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.subs[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.subs, id)
	return nil
}

func (r *memoryRepo) ListForUser(_ context.Context, userID int64) ([]*domain.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Subscription
	for _, s := range r.subs {
		if s.UserID == userID {
			out = append(out, s)
		}
	}
	return out, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService(t *testing.T, sched InitialResultsScheduler) (*Service, *memoryRepo) {
	t.Helper()
	cat, err := catalog.Default()
	require.NoError(t, err)

	repo := newMemoryRepo()
	svc := NewService(repo, cat, sched, testLogger())
	svc.now = func() time.Time { return time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC) }
	return svc, repo
}

func carRun(userID int64) *flow.Finished {
	return &flow.Finished{
		UserID:    userID,
		Category:  "car",
		Location:  "tehran",
		SubRegion: "ری",
		Criteria: domain.Criteria{
			"mileage_min": domain.IntValue(50000),
			"mileage_max": domain.IntValue(100000),
			"year_min":    domain.IntValue(2016),
			"year_max":    domain.IntValue(2021),
		},
	}
}

func TestCreate_PersistsAndSchedules(t *testing.T) {
	sched := &mockScheduler{}
	sched.On("ScheduleInitialResults", mock.Anything, int64(1)).Return(nil).Once()

	svc, repo := newTestService(t, sched)

	sub, err := svc.Create(context.Background(), carRun(7))
	require.NoError(t, err)

	assert.Equal(t, int64(1), sub.ID)
	assert.Equal(t, "🚗 خودرو | تهران", sub.Title)
	assert.Equal(t, "ری", sub.SubRegion)
	assert.Empty(t, sub.Seen)

	stored, err := repo.Get(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(7), stored.UserID)
	assert.Equal(t, domain.IntValue(50000), stored.Criteria["mileage_min"])

	sched.AssertExpectations(t)
}

func TestCreate_SchedulerFailureIsNotFatal(t *testing.T) {
	sched := &mockScheduler{}
	sched.On("ScheduleInitialResults", mock.Anything, mock.Anything).Return(errors.New("queue down"))

	svc, _ := newTestService(t, sched)

	sub, err := svc.Create(context.Background(), carRun(7))
	require.NoError(t, err)
	assert.NotZero(t, sub.ID)
}

func TestCreate_Rejects(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(f *flow.Finished)
		is     error
	}{
		{name: "unknown category", mutate: func(f *flow.Finished) { f.Category = "boats" }, is: catalog.ErrUnknownCategory},
		{name: "unknown city", mutate: func(f *flow.Finished) { f.Location = "paris" }, is: catalog.ErrUnknownLocation},
		{name: "district of another city", mutate: func(f *flow.Finished) { f.SubRegion = "طرقبه" }, is: catalog.ErrUnknownLocation},
		{name: "foreign field", mutate: func(f *flow.Finished) { f.Criteria["rooms"] = domain.StringValue("2") }, is: catalog.ErrUnknownField},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			svc, repo := newTestService(t, nil)

			run := carRun(1)
			tc.mutate(run)

			_, err := svc.Create(context.Background(), run)
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.is)

			var appErr *apperrors.AppError
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, apperrors.CodeValidation, appErr.Code)
			assert.Empty(t, repo.subs)
		})
	}
}

func TestCreate_DatabaseFailure(t *testing.T) {
	svc, repo := newTestService(t, nil)
	repo.fail = errors.New("disk full")

	_, err := svc.Create(context.Background(), carRun(1))

	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.CodeDatabase, appErr.Code)
}

func TestGetAndDelete_AreOwnerScoped(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	sub, err := svc.Create(ctx, carRun(1))
	require.NoError(t, err)

	_, err = svc.Get(ctx, 2, sub.ID)
	assert.ErrorIs(t, err, ErrNotOwner)
	assert.ErrorIs(t, svc.Delete(ctx, 2, sub.ID), ErrNotOwner)

	got, err := svc.Get(ctx, 1, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, sub.Title, got.Title)

	require.NoError(t, svc.Delete(ctx, 1, sub.ID))
	assert.ErrorIs(t, svc.Delete(ctx, 1, sub.ID), repository.ErrNotFound)

	list, err := svc.List(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestSummarize(t *testing.T) {
	svc, _ := newTestService(t, nil)

	sub, err := svc.Create(context.Background(), carRun(1))
	require.NoError(t, err)

	sum := svc.Summarize(sub)

	assert.Equal(t, "🚗 خودرو", sum.Category)
	assert.Equal(t, "تهران / ری", sum.Location)
	assert.Equal(t, []Filter{
		{Label: "کارکرد", Value: "۵۰-۱۰۰هزار"},
		{Label: "سال تولید", Value: "۱۳۹۵-۱۴۰۰"},
	}, sum.Filters)
}

func TestSummarize_UnknownCategory(t *testing.T) {
	svc, _ := newTestService(t, nil)

	sum := svc.Summarize(&domain.Subscription{Title: "old", Category: "boats", Location: "tehran"})

	assert.Equal(t, "boats", sum.Category)
	assert.Equal(t, "تهران", sum.Location)
	assert.Empty(t, sum.Filters)
}
