package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/samber/lo"
	"github.com/sourcegraph/conc/pool"

	"github.com/Proton-105/divar-watch-bot/internal/domain"
	apperrors "github.com/Proton-105/divar-watch-bot/internal/errors"
	"github.com/Proton-105/divar-watch-bot/internal/repository"
	"github.com/Proton-105/divar-watch-bot/internal/search"
	"github.com/Proton-105/divar-watch-bot/pkg/metrics"
)

// SweepStats summarises one sweep.
type SweepStats struct {
	Subscriptions int
	Updated       int
	Skipped       int
	Dispatched    int
	Failed        int
}

type sweepCounters struct {
	updated    atomic.Int64
	skipped    atomic.Int64
	dispatched atomic.Int64
	failed     atomic.Int64
}

// RunSweep processes a snapshot of all subscriptions. Subscriptions are
// independent: a failure of one never stops the others.
func (e *Engine) RunSweep(ctx context.Context) SweepStats {
	e.sweepMu.Lock()
	defer e.sweepMu.Unlock()

	started := time.Now()

	subs, err := e.subs.ListAll(ctx)
	if err != nil {
		e.errs.Report(ctx, "sweep: list subscriptions", apperrors.NewDatabaseError(err))
		metrics.RecordSweep("error", time.Since(started))
		return SweepStats{}
	}
	metrics.SetSubscriptions(len(subs))

	var counters sweepCounters
	p := pool.New().WithMaxGoroutines(e.cfg.Workers)
	for _, sub := range subs {
		sub := sub
		p.Go(func() {
			e.processSafely(ctx, sub, &counters)
		})
	}
	p.Wait()

	stats := SweepStats{
		Subscriptions: len(subs),
		Updated:       int(counters.updated.Load()),
		Skipped:       int(counters.skipped.Load()),
		Dispatched:    int(counters.dispatched.Load()),
		Failed:        int(counters.failed.Load()),
	}

	metrics.RecordSweep("ok", time.Since(started))
	e.log.Info("sweep finished",
		slog.Int("subscriptions", stats.Subscriptions),
		slog.Int("updated", stats.Updated),
		slog.Int("skipped", stats.Skipped),
		slog.Int("dispatched", stats.Dispatched),
		slog.Int("failed", stats.Failed),
		slog.Duration("duration", time.Since(started)),
	)

	return stats
}

func (e *Engine) processSafely(ctx context.Context, sub *domain.Subscription, counters *sweepCounters) {
	defer func() {
		if r := recover(); r != nil {
			counters.failed.Add(1)
			e.errs.Report(ctx, "sweep: subscription panicked", fmt.Errorf("panic: %v", r),
				slog.Int64("subscription_id", sub.ID))
		}
	}()

	if err := e.processSubscription(ctx, sub, counters); err != nil {
		if isProviderFailure(err) {
			counters.skipped.Add(1)
			metrics.RecordSubscriptionSkipped(skipReason(err))
			e.log.Warn("subscription skipped for this sweep",
				slog.Int64("subscription_id", sub.ID),
				slog.Any("error", err),
			)
			return
		}

		counters.failed.Add(1)
		e.errs.Report(ctx, "sweep: subscription failed", err, slog.Int64("subscription_id", sub.ID))
	}
}

func (e *Engine) processSubscription(ctx context.Context, sub *domain.Subscription, counters *sweepCounters) error {
	unlock := e.lockSubscription(sub.ID)
	defer unlock()

	// An empty snapshot seen set may predate the initial dispatch.
	if len(sub.Seen) == 0 {
		fresh, err := e.subs.Get(ctx, sub.ID)
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		if err != nil {
			return apperrors.NewDatabaseError(err)
		}
		sub = fresh
	}

	def, err := e.catalog.Definition(sub.Category)
	if err != nil {
		return fmt.Errorf("subscription %d: %w", sub.ID, err)
	}

	items, err := e.search(ctx, search.Translate(def, sub), e.cfg.SweepLimit)
	if err != nil {
		return err
	}

	fresh := NewItems(items, sub.Seen)
	if len(fresh) == 0 {
		return nil
	}

	counters.dispatched.Add(int64(e.dispatch(ctx, sub.UserID, fresh)))

	seen := MergeSeen(itemIDs(fresh), sub.Seen, e.cfg.SeenCapacity)
	if err := e.saveSeen(ctx, sub.ID, seen); err != nil {
		return err
	}
	counters.updated.Add(1)
	return nil
}

// SendInitialResults dispatches the full first page of a new subscription,
// records it as seen and returns the user to the main menu.
func (e *Engine) SendInitialResults(ctx context.Context, subscriptionID int64) error {
	unlock := e.lockSubscription(subscriptionID)
	defer unlock()

	sub, err := e.subs.Get(ctx, subscriptionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			e.log.Info("initial results skipped, subscription is gone", slog.Int64("subscription_id", subscriptionID))
			return nil
		}
		return apperrors.NewDatabaseError(err)
	}

	defer func() {
		if err := e.notifier.MainMenu(ctx, sub.UserID); err != nil {
			e.log.Warn("failed to show main menu", slog.Int64("user_id", sub.UserID), slog.Any("error", err))
		}
	}()

	def, err := e.catalog.Definition(sub.Category)
	if err != nil {
		return fmt.Errorf("subscription %d: %w", sub.ID, err)
	}

	items, err := e.search(ctx, search.Translate(def, sub), e.cfg.InitialLimit)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		if err := e.notifier.NothingFound(ctx, sub.UserID); err != nil {
			e.log.Warn("failed to send empty result notice", slog.Int64("user_id", sub.UserID), slog.Any("error", err))
		}
		return nil
	}

	// A sweep may already have delivered part of the page.
	items = NewItems(items, sub.Seen)
	if len(items) == 0 {
		return nil
	}

	e.dispatch(ctx, sub.UserID, items)

	return e.saveSeen(ctx, sub.ID, MergeSeen(itemIDs(items), sub.Seen, e.cfg.SeenCapacity))
}

// lockSubscription serialises the sweep step and the initial dispatch of one subscription.
func (e *Engine) lockSubscription(id int64) func() {
	v, _ := e.subLocks.LoadOrStore(id, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// dispatch delivers items in order and returns how many were delivered.
func (e *Engine) dispatch(ctx context.Context, userID int64, items []domain.Item) int {
	delivered := 0
	for _, item := range items {
		item = e.enrich(ctx, item)
		if err := e.notifier.Present(ctx, userID, item); err != nil {
			metrics.RecordDispatch("error")
			e.log.Warn("item dispatch failed",
				slog.Int64("user_id", userID),
				slog.String("item_id", item.ID),
				slog.Any("error", err),
			)
			continue
		}
		metrics.RecordDispatch("ok")
		delivered++
	}
	return delivered
}

// enrich fetches the full gallery for items that carry fewer than two images.
// Failures leave the item as it was.
func (e *Engine) enrich(ctx context.Context, item domain.Item) domain.Item {
	if len(item.Images) >= 2 || item.URL == "" || item.ID == "" {
		return item
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.SubscriptionTimeout)
	defer cancel()

	details, err := e.provider.FetchDetails(ctx, item.ID)
	metrics.RecordProviderCall("details", callStatus(err))
	if err != nil {
		e.log.Debug("detail fetch failed", slog.String("item_id", item.ID), slog.Any("error", err))
		return item
	}
	if len(details.Images) > 0 {
		item.Images = details.Images
	}
	return item
}

func (e *Engine) saveSeen(ctx context.Context, id int64, seen []string) error {
	err := apperrors.WithRetry(ctx, func() error {
		if err := e.subs.UpdateSeen(ctx, id, seen); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return err
			}
			return apperrors.NewDatabaseError(err)
		}
		return nil
	})
	if errors.Is(err, repository.ErrNotFound) {
		metrics.RecordSeenWrite("deleted")
		e.log.Debug("subscription deleted during sweep", slog.Int64("subscription_id", id))
		return nil
	}
	metrics.RecordSeenWrite(callStatus(err))
	return err
}

// NewItems keeps the results whose ids are not in seen, in provider order.
func NewItems(items []domain.Item, seen []string) []domain.Item {
	seenSet := lo.Associate(seen, func(id string) (string, struct{}) { return id, struct{}{} })

	fresh := lo.Filter(items, func(it domain.Item, _ int) bool {
		if it.ID == "" {
			return false
		}
		_, dup := seenSet[it.ID]
		return !dup
	})
	return lo.UniqBy(fresh, func(it domain.Item) string { return it.ID })
}

// MergeSeen prepends newIDs to seen, drops repeated ids keeping the first
// occurrence and truncates the result to capacity.
func MergeSeen(newIDs, seen []string, capacity int) []string {
	merged := make([]string, 0, len(newIDs)+len(seen))
	merged = append(merged, newIDs...)
	merged = append(merged, seen...)

	merged = lo.Uniq(lo.Compact(merged))
	if len(merged) > capacity {
		merged = merged[:capacity]
	}
	return merged
}

func itemIDs(items []domain.Item) []string {
	return lo.Map(items, func(it domain.Item, _ int) string { return it.ID })
}

func skipReason(err error) string {
	switch {
	case errors.Is(err, ErrProviderTimeout):
		return "timeout"
	case errors.Is(err, apperrors.ErrCircuitOpen), errors.Is(err, apperrors.ErrTooManyProbes):
		return "circuit_open"
	default:
		return "provider_error"
	}
}
