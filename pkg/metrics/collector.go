package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Proton-105/divar-watch-bot/internal/domain"
	"github.com/Proton-105/divar-watch-bot/internal/flow"
)

var (
	botCommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_commands_total",
			Help: "Total number of bot commands received labeled by command and status",
		},
		[]string{"command", "status"},
	)
	commandDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "command_duration_seconds",
			Help:    "Duration of bot commands in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"command"},
	)
	flowTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flow_transitions_total",
			Help: "Total number of wizard phase transitions",
		},
		[]string{"from", "to"},
	)
	errorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "errors_total",
			Help: "Total number of errors split by type and severity",
		},
		[]string{"type", "severity"},
	)
	sweepsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "watcher_sweeps_total",
			Help: "Total number of sweeps labeled by outcome",
		},
		[]string{"status"},
	)
	sweepDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "watcher_sweep_duration_seconds",
			Help:    "Duration of a full sweep in seconds",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)
	subscriptionsSkippedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "watcher_subscriptions_skipped_total",
			Help: "Subscriptions skipped for a sweep because the provider failed",
		},
		[]string{"reason"},
	)
	dispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "watcher_items_dispatched_total",
			Help: "Items handed to the notification sink labeled by outcome",
		},
		[]string{"status"},
	)
	providerCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provider_calls_total",
			Help: "Listing provider calls labeled by operation and outcome",
		},
		[]string{"operation", "status"},
	)
	seenWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "watcher_seen_writes_total",
			Help: "Seen-set writes labeled by outcome",
		},
		[]string{"status"},
	)
	rateLimitChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ratelimit_checks_total",
			Help: "Rate limit decisions labeled by backend and result",
		},
		[]string{"backend", "result"},
	)
	rateLimitBackendErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ratelimit_backend_errors_total",
			Help: "Rate limit backend failures that forced a local decision",
		},
		[]string{"backend"},
	)
	subscriptions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "subscriptions",
			Help: "Number of stored subscriptions seen by the last sweep",
		},
	)
	subscriptionsByCategory = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "subscriptions_by_category",
			Help: "Number of stored subscriptions per category",
		},
		[]string{"category"},
	)
	breakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_open",
			Help: "1 while the named circuit breaker is not closed",
		},
		[]string{"name"},
	)
)

func init() {
	flow.RegisterPhaseRecorder(RecordFlowTransition)
}

// RecordCommand increments command counters and records duration.
func RecordCommand(command, status string, duration time.Duration) {
	if command == "" {
		command = "unknown"
	}
	if status == "" {
		status = "unknown"
	}

	botCommandsTotal.WithLabelValues(command, status).Inc()
	commandDurationSeconds.WithLabelValues(command).Observe(duration.Seconds())
}

// RecordFlowTransition tracks wizard phase changes.
func RecordFlowTransition(from, to string) {
	if from == "" {
		from = "none"
	}
	if to == "" {
		to = "unknown"
	}

	flowTransitionsTotal.WithLabelValues(from, to).Inc()
}

// RecordError increments error counters with metadata.
func RecordError(errType, severity string) {
	if errType == "" {
		errType = "unknown"
	}
	if severity == "" {
		severity = "unknown"
	}

	errorsTotal.WithLabelValues(errType, severity).Inc()
}

func RecordSweep(status string, duration time.Duration) {
	sweepsTotal.WithLabelValues(status).Inc()
	sweepDurationSeconds.Observe(duration.Seconds())
}

func RecordSubscriptionSkipped(reason string) {
	subscriptionsSkippedTotal.WithLabelValues(reason).Inc()
}

func RecordDispatch(status string) {
	dispatchTotal.WithLabelValues(status).Inc()
}

func RecordProviderCall(operation, status string) {
	providerCallsTotal.WithLabelValues(operation, status).Inc()
}

func RecordSeenWrite(status string) {
	seenWritesTotal.WithLabelValues(status).Inc()
}

// RecordRateLimit counts one limiter decision.
func RecordRateLimit(backend string, allowed bool) {
	result := "rejected"
	if allowed {
		result = "allowed"
	}
	rateLimitChecksTotal.WithLabelValues(backend, result).Inc()
}

func RecordRateLimitBackendError(backend string) {
	rateLimitBackendErrorsTotal.WithLabelValues(backend).Inc()
}

func SetSubscriptions(count int) {
	subscriptions.Set(float64(count))
}

// SetBreakerOpen flags whether the named breaker currently rejects calls.
func SetBreakerOpen(name string, open bool) {
	v := 0.0
	if open {
		v = 1
	}
	breakerState.WithLabelValues(name).Set(v)
}

// SubscriptionLister is the read side the collector polls.
type SubscriptionLister interface {
	ListAll(ctx context.Context) ([]*domain.Subscription, error)
}

// SubscriptionCollector periodically counts subscriptions per category.
type SubscriptionCollector struct {
	subs     SubscriptionLister
	interval time.Duration
}

// NewSubscriptionCollector builds a collector bound to the provided repository.
func NewSubscriptionCollector(subs SubscriptionLister, interval time.Duration) *SubscriptionCollector {
	if interval <= 0 {
		interval = time.Minute
	}
	return &SubscriptionCollector{subs: subs, interval: interval}
}

// Run polls the repository until ctx is cancelled.
func (c *SubscriptionCollector) Run(ctx context.Context) {
	if c == nil || c.subs == nil {
		return
	}

	for {
		_ = c.collect(ctx)

		select {
		case <-ctx.Done():
			return
		case <-time.After(c.interval):
		}
	}
}

func (c *SubscriptionCollector) collect(ctx context.Context) error {
	subs, err := c.subs.ListAll(ctx)
	if err != nil {
		return err
	}

	counts := make(map[string]int)
	for _, sub := range subs {
		counts[sub.Category]++
	}

	subscriptionsByCategory.Reset()
	for category, count := range counts {
		subscriptionsByCategory.WithLabelValues(category).Set(float64(count))
	}
	SetSubscriptions(len(subs))

	return nil
}
