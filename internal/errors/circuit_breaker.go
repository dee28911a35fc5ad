package errors

import (
	"errors"
	"sync"
	"time"
)

// Breaker defaults, used for zero BreakerSettings fields.
const (
	ErrorThreshold      = 0.5
	MinRequests         = 10
	TimeoutDuration     = 30 * time.Second
	HalfOpenMaxRequests = 3
)

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

var (
	// ErrCircuitOpen is returned without calling through while the breaker is open.
	ErrCircuitOpen = errors.New("circuit breaker is open")
	// ErrTooManyProbes is returned while the half-open probe budget is in use.
	ErrTooManyProbes = errors.New("circuit breaker is probing")
)

// BreakerSettings tunes a CircuitBreaker.
type BreakerSettings struct {
	// ErrorThreshold is the failure ratio that opens a closed breaker.
	ErrorThreshold float64
	// MinRequests is the sample size needed before the ratio is judged.
	MinRequests int
	// OpenTimeout is how long the breaker stays open before probing.
	OpenTimeout time.Duration
	// HalfOpenMaxRequests probes must all succeed to close the breaker.
	HalfOpenMaxRequests int
	// OnStateChange runs with the breaker lock held and must not call back into it.
	OnStateChange func(from, to State)
}

func (s BreakerSettings) withDefaults() BreakerSettings {
	if s.ErrorThreshold <= 0 {
		s.ErrorThreshold = ErrorThreshold
	}
	if s.MinRequests <= 0 {
		s.MinRequests = MinRequests
	}
	if s.OpenTimeout <= 0 {
		s.OpenTimeout = TimeoutDuration
	}
	if s.HalfOpenMaxRequests <= 0 {
		s.HalfOpenMaxRequests = HalfOpenMaxRequests
	}
	return s
}

// counts is the outcome tally of the current state; a transition resets it.
type counts struct {
	total    int
	failures int
	inFlight int
}

// CircuitBreaker guards calls to the listing provider. A closed breaker
// opens when the failure ratio over at least MinRequests calls reaches
// ErrorThreshold; after OpenTimeout it lets HalfOpenMaxRequests probes
// through and closes once they all succeed, reopening on any failure.
type CircuitBreaker struct {
	mu       sync.Mutex
	cfg      BreakerSettings
	state    State
	counts   counts
	openedAt time.Time
	now      func() time.Time
}

func NewCircuitBreaker(settings BreakerSettings) *CircuitBreaker {
	return &CircuitBreaker{cfg: settings.withDefaults(), now: time.Now}
}

// Call runs fn unless the breaker rejects it, and records the outcome.
func (cb *CircuitBreaker) Call(fn func() error) error {
	if fn == nil {
		return nil
	}
	if err := cb.admit(); err != nil {
		return err
	}

	err := fn()
	cb.record(err == nil)
	return err
}

func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		if cb.now().Sub(cb.openedAt) < cb.cfg.OpenTimeout {
			return ErrCircuitOpen
		}
		cb.moveTo(StateHalfOpen)
	}
	if cb.state == StateHalfOpen && cb.counts.total+cb.counts.inFlight >= cb.cfg.HalfOpenMaxRequests {
		return ErrTooManyProbes
	}
	cb.counts.inFlight++
	return nil
}

func (cb *CircuitBreaker) record(ok bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.counts.inFlight--
	cb.counts.total++
	if !ok {
		cb.counts.failures++
	}

	switch cb.state {
	case StateHalfOpen:
		if !ok {
			cb.moveTo(StateOpen)
		} else if cb.counts.total >= cb.cfg.HalfOpenMaxRequests {
			cb.moveTo(StateClosed)
		}
	case StateClosed:
		if cb.counts.total >= cb.cfg.MinRequests &&
			float64(cb.counts.failures)/float64(cb.counts.total) >= cb.cfg.ErrorThreshold {
			cb.moveTo(StateOpen)
		}
	}
}

func (cb *CircuitBreaker) moveTo(to State) {
	from := cb.state
	inFlight := cb.counts.inFlight
	cb.state = to
	cb.counts = counts{inFlight: inFlight}
	if to == StateOpen {
		cb.openedAt = cb.now()
	}
	if from != to && cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(from, to)
	}
}
