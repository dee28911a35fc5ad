package watcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Proton-105/divar-watch-bot/internal/catalog"
	"github.com/Proton-105/divar-watch-bot/internal/domain"
	apperrors "github.com/Proton-105/divar-watch-bot/internal/errors"
	"github.com/Proton-105/divar-watch-bot/internal/repository"
	"github.com/Proton-105/divar-watch-bot/internal/search"
)

var errProviderDown = apperrors.NewExternalAPIError("test", errors.New("connection refused"))

type memoryRepo struct {
	mu     sync.Mutex
	subs   map[int64]*domain.Subscription
	nextID int64
	writes int
	// afterList runs once the ListAll snapshot is taken.
	afterList func()
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{subs: make(map[int64]*domain.Subscription)}
}

func (r *memoryRepo) clone(s *domain.Subscription) *domain.Subscription {
	out := *s
	out.Criteria = s.Criteria.Clone()
	out.Seen = append([]string(nil), s.Seen...)
	return &out
}

func (r *memoryRepo) ListAll(context.Context) ([]*domain.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*domain.Subscription, 0, len(r.subs))
	for _, s := range r.subs {
		out = append(out, r.clone(s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if r.afterList != nil {
		r.mu.Unlock()
		r.afterList()
		r.mu.Lock()
	}
	return out, nil
}

func (r *memoryRepo) Get(_ context.Context, id int64) (*domain.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.subs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return r.clone(s), nil
}

func (r *memoryRepo) Create(_ context.Context, sub *domain.Subscription) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	sub.ID = r.nextID
	r.subs[sub.ID] = r.clone(sub)
	return sub.ID, nil
}

func (r *memoryRepo) UpdateSeen(_ context.Context, id int64, seen []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.subs[id]
	if !ok {
		return repository.ErrNotFound
	}
	s.Seen = append([]string(nil), seen...)
	r.writes++
	return nil
}

func (r *memoryRepo) Delete(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.subs, id)
	return nil
}

func (r *memoryRepo) ListForUser(ctx context.Context, userID int64) ([]*domain.Subscription, error) {
	all, _ := r.ListAll(ctx)
	var out []*domain.Subscription
	for _, s := range all {
		if s.UserID == userID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *memoryRepo) seen(id int64) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.subs[id].Seen...)
}

// fakeProvider answers per location so each subscription can be scripted.
type fakeProvider struct {
	mu       sync.Mutex
	results  map[string][]domain.Item
	failures map[string]error
	hang     map[string]bool
	details  map[string]search.Details
	limits   []int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		results:  make(map[string][]domain.Item),
		failures: make(map[string]error),
		hang:     make(map[string]bool),
		details:  make(map[string]search.Details),
	}
}

func (p *fakeProvider) set(location string, ids ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	items := make([]domain.Item, 0, len(ids))
	for _, id := range ids {
		items = append(items, domain.Item{ID: id, Title: "item " + id, URL: "https://divar.ir/v/" + id, Images: []string{"a", "b"}})
	}
	p.results[location] = items
}

func (p *fakeProvider) Search(ctx context.Context, q search.Query, limit int) ([]domain.Item, error) {
	p.mu.Lock()
	p.limits = append(p.limits, limit)
	hang := p.hang[q.Location]
	err := p.failures[q.Location]
	items := append([]domain.Item(nil), p.results[q.Location]...)
	p.mu.Unlock()

	if hang {
		time.Sleep(time.Second)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (p *fakeProvider) FetchDetails(_ context.Context, id string) (search.Details, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	d, ok := p.details[id]
	if !ok {
		return search.Details{}, errors.New("no details")
	}
	return d, nil
}

type sent struct {
	userID int64
	item   domain.Item
}

type fakeNotifier struct {
	mu      sync.Mutex
	sent    []sent
	empty   []int64
	menus   []int64
	failIDs map[string]bool
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{failIDs: make(map[string]bool)}
}

func (n *fakeNotifier) Present(_ context.Context, userID int64, item domain.Item) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.failIDs[item.ID] {
		return fmt.Errorf("telegram: chat not found")
	}
	n.sent = append(n.sent, sent{userID: userID, item: item})
	return nil
}

func (n *fakeNotifier) NothingFound(_ context.Context, userID int64) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.empty = append(n.empty, userID)
	return nil
}

func (n *fakeNotifier) MainMenu(_ context.Context, userID int64) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.menus = append(n.menus, userID)
	return nil
}

func (n *fakeNotifier) ids(userID int64) []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []string
	for _, s := range n.sent {
		if s.userID == userID {
			out = append(out, s.item.ID)
		}
	}
	return out
}

func (n *fakeNotifier) reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = nil
}

type fixture struct {
	repo     *memoryRepo
	provider *fakeProvider
	notifier *fakeNotifier
	engine   *Engine
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	cat, err := catalog.Default()
	require.NoError(t, err)

	f := &fixture{
		repo:     newMemoryRepo(),
		provider: newFakeProvider(),
		notifier: newFakeNotifier(),
	}
	f.engine = NewEngine(f.repo, cat, f.provider, f.notifier, cfg, testLogger())
	return f
}

func (f *fixture) subscribe(t *testing.T, userID int64, location string, seen ...string) int64 {
	t.Helper()
	id, err := f.repo.Create(context.Background(), &domain.Subscription{
		UserID:   userID,
		Title:    "test",
		Category: "car",
		Location: location,
		Criteria: domain.Criteria{"price_min": domain.IntValue(0), "price_max": domain.IntValue(300000000)},
		Seen:     seen,
	})
	require.NoError(t, err)
	return id
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestMergeSeen(t *testing.T) {
	many := make([]string, 0, 45)
	for i := 0; i < 45; i++ {
		many = append(many, fmt.Sprintf("old%d", i))
	}

	testCases := []struct {
		name   string
		newIDs []string
		seen   []string
		want   []string
	}{
		{name: "prepends newest first", newIDs: []string{"d", "e"}, seen: []string{"a", "b", "c"}, want: []string{"d", "e", "a", "b", "c"}},
		{name: "drops repeats by first occurrence", newIDs: []string{"d", "a"}, seen: []string{"a", "b", "c"}, want: []string{"d", "a", "b", "c"}},
		{name: "no new ids keeps seen", newIDs: nil, seen: []string{"a", "b"}, want: []string{"a", "b"}},
		{name: "empty ids are dropped", newIDs: []string{"", "x"}, seen: nil, want: []string{"x"}},
		{name: "truncates to capacity", newIDs: []string{"n"}, seen: many, want: append([]string{"n"}, many[:39]...)},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			got := MergeSeen(tc.newIDs, tc.seen, domain.SeenCapacity)
			assert.Equal(t, tc.want, got)
			assert.LessOrEqual(t, len(got), domain.SeenCapacity)
		})
	}
}

func TestNewItems_PreservesProviderOrder(t *testing.T) {
	items := []domain.Item{{ID: "c"}, {ID: "a"}, {ID: ""}, {ID: "d"}, {ID: "c"}, {ID: "b"}}

	got := itemIDs(NewItems(items, []string{"a", "b"}))
	assert.Equal(t, []string{"c", "d"}, got)
}

func TestRunSweep_IsIdempotentWithoutNewResults(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	id := f.subscribe(t, 1, "tehran", "a", "b", "c")
	f.provider.set("tehran", "a", "b")

	f.engine.RunSweep(ctx)
	f.engine.RunSweep(ctx)

	assert.Equal(t, []string{"a", "b", "c"}, f.repo.seen(id))
	assert.Empty(t, f.notifier.ids(1))
	assert.Zero(t, f.repo.writes)
}

func TestRunSweep_ProviderFailureIsIsolated(t *testing.T) {
	f := newFixture(t, Config{Workers: 2})
	ctx := context.Background()

	x := f.subscribe(t, 1, "tehran", "old")
	y := f.subscribe(t, 2, "mashhad")
	z := f.subscribe(t, 3, "shiraz", "s1")

	f.provider.failures["tehran"] = errProviderDown
	f.provider.set("mashhad", "m1", "m2")
	f.provider.set("shiraz", "s2", "s1")

	stats := f.engine.RunSweep(ctx)

	assert.Equal(t, 3, stats.Subscriptions)
	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, 2, stats.Updated)
	assert.Equal(t, []string{"old"}, f.repo.seen(x))
	assert.Equal(t, []string{"m1", "m2"}, f.repo.seen(y))
	assert.Equal(t, []string{"s2", "s1"}, f.repo.seen(z))
	assert.Equal(t, []string{"m1", "m2"}, f.notifier.ids(2))
	assert.Equal(t, []string{"s2"}, f.notifier.ids(3))
}

func TestRunSweep_HungProviderTimesOut(t *testing.T) {
	f := newFixture(t, Config{SubscriptionTimeout: 50 * time.Millisecond})
	ctx := context.Background()

	hung := f.subscribe(t, 1, "tehran")
	ok := f.subscribe(t, 2, "karaj")
	f.provider.hang["tehran"] = true
	f.provider.set("karaj", "k1")

	started := time.Now()
	stats := f.engine.RunSweep(ctx)

	assert.Less(t, time.Since(started), 900*time.Millisecond)
	assert.Equal(t, 1, stats.Skipped)
	assert.Empty(t, f.repo.seen(hung))
	assert.Equal(t, []string{"k1"}, f.repo.seen(ok))
}

func TestRunSweep_DispatchFailureDoesNotBlockOthers(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	id := f.subscribe(t, 1, "tehran")
	f.provider.set("tehran", "p1", "p2", "p3")
	f.notifier.failIDs["p2"] = true

	stats := f.engine.RunSweep(ctx)

	assert.Equal(t, 2, stats.Dispatched)
	assert.Equal(t, []string{"p1", "p3"}, f.notifier.ids(1))
	assert.Equal(t, []string{"p1", "p2", "p3"}, f.repo.seen(id))
}

func TestRunSweep_UsesSweepLimit(t *testing.T) {
	f := newFixture(t, Config{})
	f.subscribe(t, 1, "tehran")
	f.provider.set("tehran", "a")

	f.engine.RunSweep(context.Background())

	assert.Equal(t, []int{DefaultSweepLimit}, f.provider.limits)
}

func TestInitialResultsThenSweep(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	id := f.subscribe(t, 1, "tehran")
	f.provider.set("tehran", "p1", "p2", "p3")

	require.NoError(t, f.engine.SendInitialResults(ctx, id))
	assert.Equal(t, []string{"p1", "p2", "p3"}, f.notifier.ids(1))
	assert.Equal(t, []string{"p1", "p2", "p3"}, f.repo.seen(id))
	assert.Equal(t, []int{DefaultInitialLimit}, f.provider.limits)
	assert.Equal(t, []int64{1}, f.notifier.menus)

	f.notifier.reset()
	f.provider.set("tehran", "p2", "p3", "p4")
	f.engine.RunSweep(ctx)

	assert.Equal(t, []string{"p4"}, f.notifier.ids(1))
	assert.Equal(t, []string{"p4", "p1", "p2", "p3"}, f.repo.seen(id))
}

func TestRunSweep_StaleSnapshotAfterInitialResults(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	id := f.subscribe(t, 1, "tehran")
	f.provider.set("tehran", "p1", "p2", "p3")
	f.repo.afterList = func() {
		f.repo.afterList = nil
		assert.NoError(t, f.engine.SendInitialResults(ctx, id))
	}

	f.engine.RunSweep(ctx)

	assert.Equal(t, []string{"p1", "p2", "p3"}, f.notifier.ids(1))
	assert.Equal(t, []string{"p1", "p2", "p3"}, f.repo.seen(id))
}

func TestSendInitialResults_SkipsItemsAlreadySwept(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	id := f.subscribe(t, 1, "tehran")
	f.provider.set("tehran", "p1", "p2")
	f.engine.RunSweep(ctx)
	require.Equal(t, []string{"p1", "p2"}, f.notifier.ids(1))

	f.notifier.reset()
	f.provider.set("tehran", "p3", "p1", "p2")
	require.NoError(t, f.engine.SendInitialResults(ctx, id))

	assert.Equal(t, []string{"p3"}, f.notifier.ids(1))
	assert.Equal(t, []string{"p3", "p1", "p2"}, f.repo.seen(id))
	assert.Empty(t, f.notifier.empty)
}

func TestSendInitialResults_NothingFound(t *testing.T) {
	f := newFixture(t, Config{})
	id := f.subscribe(t, 5, "tehran")

	require.NoError(t, f.engine.SendInitialResults(context.Background(), id))
	assert.Equal(t, []int64{5}, f.notifier.empty)
	assert.Equal(t, []int64{5}, f.notifier.menus)
	assert.Empty(t, f.repo.seen(id))
}

func TestSendInitialResults_DeletedSubscription(t *testing.T) {
	f := newFixture(t, Config{})
	assert.NoError(t, f.engine.SendInitialResults(context.Background(), 404))
	assert.Empty(t, f.notifier.menus)
}

func TestDispatch_EnrichesSparseGalleries(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	items := []domain.Item{
		{ID: "one", URL: "https://divar.ir/v/one", Images: []string{"cover"}},
		{ID: "broken", URL: "https://divar.ir/v/broken"},
		{ID: "full", URL: "https://divar.ir/v/full", Images: []string{"x", "y"}},
	}
	f.provider.details["one"] = search.Details{Images: []string{"g1", "g2", "g3"}}
	f.provider.details["full"] = search.Details{Images: []string{"never"}}

	assert.Equal(t, 3, f.engine.dispatch(ctx, 1, items))

	f.notifier.mu.Lock()
	defer f.notifier.mu.Unlock()
	assert.Equal(t, []string{"g1", "g2", "g3"}, f.notifier.sent[0].item.Images)
	assert.Empty(t, f.notifier.sent[1].item.Images)
	assert.Equal(t, []string{"x", "y"}, f.notifier.sent[2].item.Images)
}

func TestRun_StopsAfterCancel(t *testing.T) {
	f := newFixture(t, Config{Interval: 10 * time.Millisecond})
	id := f.subscribe(t, 1, "tehran")
	f.provider.set("tehran", "a")

	ctx, cancel := context.WithCancel(context.Background())
	go f.engine.Run(ctx)

	require.Eventually(t, func() bool { return len(f.repo.seen(id)) == 1 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-f.engine.Done():
	case <-time.After(time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestSetInterval(t *testing.T) {
	f := newFixture(t, Config{})
	assert.Equal(t, DefaultInterval, f.engine.Interval())

	f.engine.SetInterval(time.Minute)
	assert.Equal(t, time.Minute, f.engine.Interval())

	f.engine.SetInterval(0)
	assert.Equal(t, time.Minute, f.engine.Interval())
}
