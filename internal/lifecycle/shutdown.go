// Package lifecycle coordinates probes and graceful shutdown of the process.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sourcegraph/conc"
)

// Shutdown runs shutdown hooks in two stages. Hooks of a stage run
// concurrently; final hooks start only after every regular hook returned.
type Shutdown struct {
	mu    sync.Mutex
	hooks []Hook
	final []Hook
	log   *slog.Logger
}

// NewShutdown constructs a new Shutdown coordinator.
func NewShutdown(log *slog.Logger) *Shutdown {
	if log == nil {
		log = slog.Default()
	}

	return &Shutdown{log: log}
}

// Register adds a hook that stops a producer of work, such as the bot poller or a worker.
func (s *Shutdown) Register(name string, fn func(context.Context) error) {
	if fn == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, Hook{Name: name, Fn: fn})
}

// RegisterFinal adds a hook that releases a shared resource, such as the database.
func (s *Shutdown) RegisterFinal(name string, fn func(context.Context) error) {
	if fn == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.final = append(s.final, Hook{Name: name, Fn: fn})
}

// Execute runs all registered hooks and waits for completion.
func (s *Shutdown) Execute(ctx context.Context) error {
	s.mu.Lock()
	hooks := append([]Hook(nil), s.hooks...)
	final := append([]Hook(nil), s.final...)
	s.mu.Unlock()

	start := time.Now()
	s.log.Info("shutdown sequence started", slog.Int("hook_count", len(hooks)+len(final)))

	err := errors.Join(s.runStage(ctx, hooks), s.runStage(ctx, final))

	s.log.Info("shutdown sequence finished", slog.Duration("elapsed", time.Since(start)))
	return err
}

func (s *Shutdown) runStage(ctx context.Context, hooks []Hook) error {
	var (
		wg   conc.WaitGroup
		mu   sync.Mutex
		errs []error
	)

	for _, hook := range hooks {
		h := hook
		wg.Go(func() {
			s.log.Info("running shutdown hook", slog.String("hook", h.Name))

			if err := h.Fn(ctx); err != nil {
				s.log.Error("shutdown hook failed", slog.String("hook", h.Name), slog.Any("error", err))
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", h.Name, err))
				mu.Unlock()
				return
			}

			s.log.Info("shutdown hook completed", slog.String("hook", h.Name))
		})
	}

	wg.Wait()
	return errors.Join(errs...)
}
