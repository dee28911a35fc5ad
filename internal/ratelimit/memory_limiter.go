package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryLimiter keeps the hit log of every key in process. It serves as
// the only backend without Redis and as the failover when Redis errors.
type MemoryLimiter struct {
	mu   sync.Mutex
	hits map[string][]time.Time
	now  func() time.Time
}

func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{
		hits: make(map[string][]time.Time),
		now:  time.Now,
	}
}

func (m *MemoryLimiter) Allow(_ context.Context, key string, q Quota) (*Result, error) {
	now := m.now()
	if q.Limit <= 0 {
		return decide(denyAll(now, q))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	log := trimBefore(m.hits[key], now.Add(-q.Window))
	res := &Result{}
	if len(log) < q.Limit {
		log = append(log, now)
		res.Allowed = true
	}
	m.hits[key] = log

	res.Remaining = q.Limit - len(log)
	res.ResetAt = log[0].Add(q.Window)
	return decide(res)
}

// Cleanup forgets keys whose latest hit is older than maxAge and reports
// how many were dropped.
func (m *MemoryLimiter) Cleanup(maxAge time.Duration) int {
	if maxAge <= 0 {
		return 0
	}
	cutoff := m.now().Add(-maxAge)

	m.mu.Lock()
	defer m.mu.Unlock()

	dropped := 0
	for key, log := range m.hits {
		if len(log) == 0 || log[len(log)-1].Before(cutoff) {
			delete(m.hits, key)
			dropped++
		}
	}
	return dropped
}

// Keys reports how many keys currently hold a hit log.
func (m *MemoryLimiter) Keys() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.hits)
}

// trimBefore drops the leading hits older than start, reusing the backing array.
func trimBefore(log []time.Time, start time.Time) []time.Time {
	i := 0
	for i < len(log) && log[i].Before(start) {
		i++
	}
	if i == 0 {
		return log
	}
	return append(log[:0], log[i:]...)
}
