package jobs

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
)

// Manager describes the minimal queue operations needed by the application.
type Manager interface {
	Enqueue(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

type manager struct {
	client *asynq.Client
	log    *slog.Logger
}

// NewManager builds a Manager backed by an asynq client.
func NewManager(redisOpt asynq.RedisConnOpt, log *slog.Logger) Manager {
	client := asynq.NewClient(redisOpt)

	return &manager{
		client: client,
		log:    log,
	}
}

func (m *manager) Enqueue(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	return m.client.EnqueueContext(ctx, task, opts...)
}

func (m *manager) Close() error {
	return m.client.Close()
}

// InitialResultsRunner performs the initial dispatch of a subscription.
type InitialResultsRunner interface {
	SendInitialResults(ctx context.Context, subscriptionID int64) error
}

// QueueScheduler enqueues initial dispatches on the job queue.
type QueueScheduler struct {
	manager Manager
	log     *slog.Logger
}

// NewQueueScheduler creates a scheduler backed by the job queue.
func NewQueueScheduler(manager Manager, log *slog.Logger) *QueueScheduler {
	if log == nil {
		log = slog.Default()
	}
	return &QueueScheduler{manager: manager, log: log}
}

// ScheduleInitialResults enqueues the initial dispatch of subscriptionID.
func (s *QueueScheduler) ScheduleInitialResults(ctx context.Context, subscriptionID int64) error {
	task, err := NewInitialResultsTask(subscriptionID)
	if err != nil {
		return err
	}

	info, err := s.manager.Enqueue(ctx, task)
	if err != nil {
		return fmt.Errorf("enqueue initial results: %w", err)
	}

	s.log.Debug("initial results enqueued",
		slog.Int64("subscription_id", subscriptionID),
		slog.String("task_id", info.ID),
		slog.String("queue", info.Queue),
	)
	return nil
}

// InlineScheduler runs initial dispatches in a goroutine of the current process.
// It serves deployments without a job queue.
type InlineScheduler struct {
	runner InitialResultsRunner
	log    *slog.Logger
}

// NewInlineScheduler creates an in-process scheduler.
func NewInlineScheduler(runner InitialResultsRunner, log *slog.Logger) *InlineScheduler {
	if log == nil {
		log = slog.Default()
	}
	return &InlineScheduler{runner: runner, log: log}
}

// ScheduleInitialResults starts the dispatch and returns immediately.
func (s *InlineScheduler) ScheduleInitialResults(ctx context.Context, subscriptionID int64) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), InitialResultsTimeout)

	go func() {
		defer cancel()
		if err := s.runner.SendInitialResults(ctx, subscriptionID); err != nil {
			s.log.Warn("initial results failed",
				slog.Int64("subscription_id", subscriptionID),
				slog.Any("error", err),
			)
		}
	}()

	return nil
}
