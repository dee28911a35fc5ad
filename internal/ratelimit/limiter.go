// Package ratelimit throttles chat updates per Telegram user with a sliding
// window log, kept in Redis when it is configured and in process memory
// otherwise.
package ratelimit

import (
	"context"
	"errors"
	"strconv"
	"time"
)

// ErrLimitExceeded accompanies a Result whose Allowed is false.
var ErrLimitExceeded = errors.New("ratelimit: too many updates")

// Quota is how many updates a key may send per window.
type Quota struct {
	Limit  int
	Window time.Duration
}

// Halved is the stricter quota used while the shared backend is unreachable.
func (q Quota) Halved() Quota {
	limit := q.Limit / 2
	if limit < 1 {
		limit = 1
	}
	return Quota{Limit: limit, Window: q.Window}
}

type Result struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// RetryAfter is the whole number of seconds until ResetAt, at least one.
func (r *Result) RetryAfter(now time.Time) int {
	if r == nil {
		return 1
	}
	secs := int(r.ResetAt.Sub(now).Round(time.Second) / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}

// Limiter admits or rejects one hit for key. A rejection returns the
// Result together with ErrLimitExceeded; any other error means the
// backend could not decide.
type Limiter interface {
	Allow(ctx context.Context, key string, q Quota) (*Result, error)
}

// UserKey is the limiter key of a Telegram user.
func UserKey(userID int64) string {
	return "user:" + strconv.FormatInt(userID, 10)
}

func decide(res *Result) (*Result, error) {
	if !res.Allowed {
		return res, ErrLimitExceeded
	}
	return res, nil
}

func denyAll(now time.Time, q Quota) *Result {
	return &Result{ResetAt: now.Add(q.Window)}
}
