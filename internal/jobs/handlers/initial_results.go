package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/Proton-105/divar-watch-bot/internal/jobs"
)

// InitialResultsHandler runs queued initial dispatches.
type InitialResultsHandler struct {
	runner jobs.InitialResultsRunner
	log    *slog.Logger
}

func NewInitialResultsHandler(runner jobs.InitialResultsRunner, log *slog.Logger) *InitialResultsHandler {
	if log == nil {
		log = slog.Default()
	}
	return &InitialResultsHandler{runner: runner, log: log}
}

func (h *InitialResultsHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	payload, err := jobs.ParseInitialResultsPayload(t)
	if err != nil {
		h.log.ErrorContext(ctx, "initial results: bad payload", slog.String("task_type", t.Type()), slog.Any("error", err))
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}

	start := time.Now()
	if err := h.runner.SendInitialResults(ctx, payload.SubscriptionID); err != nil {
		return fmt.Errorf("initial results for subscription %d: %w", payload.SubscriptionID, err)
	}

	h.log.InfoContext(ctx, "initial results: dispatched",
		slog.Int64("subscription_id", payload.SubscriptionID),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}
