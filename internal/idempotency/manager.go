// Package idempotency makes redelivered Telegram updates run their handler
// once. The first delivery claims the key and records the outcome; copies
// arriving later either replay that outcome or wait for the claim holder.
package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

const (
	defaultClaimTTL  = 2 * time.Minute
	defaultPollEvery = 100 * time.Millisecond
)

// ErrRequestInProgress is returned when another delivery holds the claim and
// the caller's context carries no deadline to wait under.
var ErrRequestInProgress = errors.New("update is being handled by another delivery")

// Operation is the guarded unit of work.
type Operation func(ctx context.Context) (any, error)

// Result is what Execute hands back to the caller.
type Result struct {
	Response  any
	FromCache bool
}

// Manager runs operations at most once per key.
type Manager interface {
	Execute(ctx context.Context, key string, ttl time.Duration, fn Operation) (*Result, error)
}

// Guard is the Store-backed Manager.
type Guard struct {
	store     Store
	log       *slog.Logger
	claimTTL  time.Duration
	pollEvery time.Duration
}

func NewManager(store Store, log *slog.Logger) *Guard {
	if log == nil {
		log = slog.Default()
	}
	return &Guard{
		store:     store,
		log:       log.With(slog.String("component", "idempotency")),
		claimTTL:  defaultClaimTTL,
		pollEvery: defaultPollEvery,
	}
}

// Execute replays a completed outcome for key, or claims key and runs fn.
// A failed fn leaves nothing behind, so the next delivery runs it again.
func (g *Guard) Execute(ctx context.Context, key string, ttl time.Duration, fn Operation) (*Result, error) {
	if fn == nil {
		return nil, errors.New("idempotency: nil operation")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var ticker *time.Ticker
	for {
		if res, ok, err := g.replay(ctx, key); err != nil || ok {
			return res, err
		}

		claimed, err := g.store.Claim(ctx, key, g.claimTTL)
		if err != nil {
			return nil, fmt.Errorf("idempotency: claim %s: %w", key, err)
		}
		if claimed {
			return g.run(ctx, key, ttl, fn)
		}

		if _, bounded := ctx.Deadline(); !bounded {
			return nil, ErrRequestInProgress
		}
		if ticker == nil {
			ticker = time.NewTicker(g.pollEvery)
			defer ticker.Stop()
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (g *Guard) replay(ctx context.Context, key string) (*Result, bool, error) {
	rec, err := g.store.Load(ctx, key)
	if err != nil {
		return nil, false, fmt.Errorf("idempotency: load %s: %w", key, err)
	}
	if rec == nil || rec.Status != StatusCompleted {
		return nil, false, nil
	}

	var response any
	if len(rec.Response) > 0 {
		if err := json.Unmarshal(rec.Response, &response); err != nil {
			return nil, false, fmt.Errorf("idempotency: decode %s: %w", key, err)
		}
	}
	return &Result{Response: response, FromCache: true}, true, nil
}

func (g *Guard) run(ctx context.Context, key string, ttl time.Duration, fn Operation) (*Result, error) {
	defer func() {
		if err := g.store.Release(context.WithoutCancel(ctx), key); err != nil {
			g.log.Warn("claim not released", slog.String("key", key), slog.Any("error", err))
		}
	}()

	response, err := fn(ctx)
	if err != nil {
		return nil, err
	}

	encoded, err := json.Marshal(response)
	if err != nil {
		return nil, fmt.Errorf("idempotency: encode %s: %w", key, err)
	}
	rec := &Record{Status: StatusCompleted, Response: encoded, HandledAt: time.Now().UTC()}
	if err := g.store.Save(ctx, key, rec, ttl); err != nil {
		return nil, fmt.Errorf("idempotency: save %s: %w", key, err)
	}

	return &Result{Response: response}, nil
}
