package redis

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	goredis "github.com/redis/go-redis/v9"
)

var (
	commandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "redis_commands_total",
		Help: "Redis commands labeled by command name and outcome",
	}, []string{"command", "status"})

	commandSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "redis_command_duration_seconds",
		Help:    "Redis command latency",
		Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"command"})

	dialFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "redis_dial_failures_total",
		Help: "Failed attempts to open a Redis connection",
	})
)

// MetricsHook instruments every command and pipeline. A redis.Nil reply
// counts as "miss", not as an error.
type MetricsHook struct{}

var _ goredis.Hook = MetricsHook{}

func (MetricsHook) DialHook(next goredis.DialHook) goredis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		conn, err := next(ctx, network, addr)
		if err != nil {
			dialFailuresTotal.Inc()
		}
		return conn, err
	}
}

func (MetricsHook) ProcessHook(next goredis.ProcessHook) goredis.ProcessHook {
	return func(ctx context.Context, cmd goredis.Cmder) error {
		var err error
		defer observe(strings.ToLower(cmd.Name()), time.Now(), func() error { return err })
		err = next(ctx, cmd)
		return err
	}
}

func (MetricsHook) ProcessPipelineHook(next goredis.ProcessPipelineHook) goredis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []goredis.Cmder) error {
		var err error
		defer observe("pipeline", time.Now(), func() error { return err })
		err = next(ctx, cmds)
		return err
	}
}

func observe(command string, started time.Time, result func() error) {
	commandSeconds.WithLabelValues(command).Observe(time.Since(started).Seconds())

	status := "ok"
	switch err := result(); {
	case errors.Is(err, goredis.Nil):
		status = "miss"
	case err != nil:
		status = "error"
	}
	commandsTotal.WithLabelValues(command, status).Inc()
}
