// Package watcher periodically re-runs every subscription's search and
// dispatches the items its owner has not seen yet.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Proton-105/divar-watch-bot/internal/catalog"
	"github.com/Proton-105/divar-watch-bot/internal/domain"
	apperrors "github.com/Proton-105/divar-watch-bot/internal/errors"
	"github.com/Proton-105/divar-watch-bot/internal/repository"
	"github.com/Proton-105/divar-watch-bot/internal/search"
	"github.com/Proton-105/divar-watch-bot/pkg/metrics"
)

const (
	DefaultInterval            = 90 * time.Second
	DefaultWorkers             = 4
	DefaultSweepLimit          = 8
	DefaultInitialLimit        = 12
	DefaultSubscriptionTimeout = 30 * time.Second
)

// ErrProviderTimeout is reported when a subscription's search exceeds its time budget.
var ErrProviderTimeout = errors.New("provider call timed out")

// Notifier delivers items to subscribers.
type Notifier interface {
	Present(ctx context.Context, userID int64, item domain.Item) error
	NothingFound(ctx context.Context, userID int64) error
	MainMenu(ctx context.Context, userID int64) error
}

// Config tunes the sweep loop.
type Config struct {
	Interval            time.Duration `mapstructure:"interval"`
	Workers             int           `mapstructure:"workers"`
	SweepLimit          int           `mapstructure:"sweep_limit"`
	InitialLimit        int           `mapstructure:"initial_limit"`
	SubscriptionTimeout time.Duration `mapstructure:"subscription_timeout"`
	SeenCapacity        int           `mapstructure:"seen_capacity"`
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.SweepLimit <= 0 {
		c.SweepLimit = DefaultSweepLimit
	}
	if c.InitialLimit <= 0 {
		c.InitialLimit = DefaultInitialLimit
	}
	if c.SubscriptionTimeout <= 0 {
		c.SubscriptionTimeout = DefaultSubscriptionTimeout
	}
	if c.SeenCapacity <= 0 {
		c.SeenCapacity = domain.SeenCapacity
	}
	return c
}

// Engine runs sweeps over all subscriptions.
type Engine struct {
	subs     repository.SubscriptionRepository
	catalog  *catalog.Catalog
	provider search.Provider
	notifier Notifier
	breaker  *apperrors.CircuitBreaker
	errs     *apperrors.Handler
	log      *slog.Logger

	cfg      Config
	interval atomic.Int64
	sweepMu  sync.Mutex
	subLocks sync.Map
	done     chan struct{}
}

// Option customises an Engine.
type Option func(*Engine)

// WithCircuitBreaker guards provider calls with cb.
func WithCircuitBreaker(cb *apperrors.CircuitBreaker) Option {
	return func(e *Engine) { e.breaker = cb }
}

// WithErrorHandler forwards unexpected failures to h.
func WithErrorHandler(h *apperrors.Handler) Option {
	return func(e *Engine) { e.errs = h }
}

// NewEngine creates a change detection engine.
func NewEngine(
	subs repository.SubscriptionRepository,
	cat *catalog.Catalog,
	provider search.Provider,
	notifier Notifier,
	cfg Config,
	log *slog.Logger,
	opts ...Option,
) *Engine {
	if log == nil {
		log = slog.Default()
	}

	e := &Engine{
		subs:     subs,
		catalog:  cat,
		provider: provider,
		notifier: notifier,
		log:      log.With(slog.String("component", "watcher")),
		cfg:      cfg.withDefaults(),
		done:     make(chan struct{}),
	}
	e.interval.Store(int64(e.cfg.Interval))

	for _, opt := range opts {
		opt(e)
	}
	if e.breaker == nil {
		e.breaker = apperrors.NewCircuitBreaker(apperrors.BreakerSettings{})
	}
	if e.errs == nil {
		e.errs = apperrors.NewHandler(e.log, false)
	}

	return e
}

// Interval returns the current pause between sweeps.
func (e *Engine) Interval() time.Duration {
	return time.Duration(e.interval.Load())
}

// SetInterval changes the pause between sweeps; it applies from the next pause on.
func (e *Engine) SetInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	if old := e.Interval(); old != d {
		e.interval.Store(int64(d))
		e.log.Info("sweep interval changed", slog.Duration("from", old), slog.Duration("to", d))
	}
}

// Done is closed once Run has returned.
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

// Run sweeps, sleeps for the interval and repeats until ctx is cancelled.
// A sweep in progress when ctx is cancelled runs to completion.
func (e *Engine) Run(ctx context.Context) {
	defer close(e.done)

	e.log.Info("watcher started", slog.Duration("interval", e.Interval()))

	for {
		e.guardedSweep(ctx)

		timer := time.NewTimer(e.Interval())
		select {
		case <-ctx.Done():
			timer.Stop()
			e.log.Info("watcher stopped", slog.Any("reason", ctx.Err()))
			return
		case <-timer.C:
		}
	}
}

func (e *Engine) guardedSweep(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			e.errs.Report(ctx, "sweep panicked", fmt.Errorf("panic: %v", r))
		}
	}()

	e.RunSweep(context.WithoutCancel(ctx))
}

// isProviderFailure reports whether err came from the provider side.
func isProviderFailure(err error) bool {
	return errors.Is(err, ErrProviderTimeout) ||
		errors.Is(err, apperrors.ErrCircuitOpen) || errors.Is(err, apperrors.ErrTooManyProbes) ||
		apperrors.HasCode(err, apperrors.CodeExternal)
}

// search runs one provider call under the breaker and the per-subscription timeout.
func (e *Engine) search(ctx context.Context, q search.Query, limit int) ([]domain.Item, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.SubscriptionTimeout)
	defer cancel()

	type result struct {
		items []domain.Item
		err   error
	}
	resCh := make(chan result, 1)

	go func() {
		var items []domain.Item
		err := e.breaker.Call(func() error {
			var callErr error
			items, callErr = e.provider.Search(ctx, q, limit)
			return callErr
		})
		resCh <- result{items: items, err: err}
	}()

	select {
	case res := <-resCh:
		if res.err != nil && ctx.Err() != nil {
			metrics.RecordProviderCall("search", "timeout")
			return nil, ErrProviderTimeout
		}
		metrics.RecordProviderCall("search", callStatus(res.err))
		return res.items, res.err
	case <-ctx.Done():
		metrics.RecordProviderCall("search", "timeout")
		return nil, ErrProviderTimeout
	}
}

func callStatus(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, apperrors.ErrCircuitOpen), errors.Is(err, apperrors.ErrTooManyProbes):
		return "rejected"
	default:
		return "error"
	}
}
