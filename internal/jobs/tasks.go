package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const (
	TaskTypeInitialResults = "subscription:initial_results"
)

const (
	QueueCritical = "critical"
	QueueDefault  = "default"
	QueueLow      = "low"
)

// InitialResultsTimeout bounds one initial dispatch, album uploads included.
const InitialResultsTimeout = 2 * time.Minute

type InitialResultsPayload struct {
	SubscriptionID int64 `json:"subscription_id"`
}

// NewInitialResultsTask builds the one-shot dispatch task of a new subscription.
// It is never retried: a retry after a partial dispatch would resend items.
func NewInitialResultsTask(subscriptionID int64) (*asynq.Task, error) {
	if subscriptionID <= 0 {
		return nil, fmt.Errorf("initial results task: invalid subscription id %d", subscriptionID)
	}

	payload, err := json.Marshal(InitialResultsPayload{SubscriptionID: subscriptionID})
	if err != nil {
		return nil, err
	}

	return asynq.NewTask(
		TaskTypeInitialResults,
		payload,
		asynq.Queue(QueueCritical),
		asynq.MaxRetry(0),
		asynq.Timeout(InitialResultsTimeout),
	), nil
}

// ParseInitialResultsPayload decodes the payload of an initial results task.
func ParseInitialResultsPayload(t *asynq.Task) (InitialResultsPayload, error) {
	var payload InitialResultsPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return payload, fmt.Errorf("decode %s payload: %w", t.Type(), err)
	}
	if payload.SubscriptionID <= 0 {
		return payload, fmt.Errorf("decode %s payload: missing subscription id", t.Type())
	}
	return payload, nil
}
