// Package breaker stops calling a failing dependency until it has had time to recover.
package breaker

import (
	"errors"
	"sync"
	"time"

	"github.com/23skdu/quiver/internal/metrics"
)

// State represents the current state of the circuit breaker
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// ErrOpenState is returned when the breaker rejects a call.
var ErrOpenState = errors.New("circuit breaker is open")

// Settings configures the CircuitBreaker
type Settings struct {
	Name          string
	MaxRequests   uint32        // Max requests in Half-Open state
	Interval      time.Duration // Cyclic period of the closed state to clear counts
	Timeout       time.Duration // Time to wait before switching from Open to Half-Open
	ReadyToTrip   func(counts Counts) bool
	OnStateChange func(name string, from State, to State)
}

// Counts holds the numbers of requests and their results
type Counts struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

func (c *Counts) onSuccess() {
	c.TotalSuccesses++
	c.ConsecutiveSuccesses++
	c.ConsecutiveFailures = 0
}

func (c *Counts) onFailure() {
	c.TotalFailures++
	c.ConsecutiveFailures++
	c.ConsecutiveSuccesses = 0
}

// CircuitBreaker is a closed/open/half-open state machine guarding one dependency.
type CircuitBreaker struct {
	name          string
	maxRequests   uint32
	interval      time.Duration
	timeout       time.Duration
	readyToTrip   func(counts Counts) bool
	onStateChange func(name string, from State, to State)

	mu     sync.Mutex
	state  State
	counts Counts
	expiry time.Time
	now    func() time.Time
}

// NewCircuitBreaker creates a closed CircuitBreaker. By default it trips after five
// consecutive failures and probes again after a minute.
func NewCircuitBreaker(st Settings) *CircuitBreaker {
	cb := &CircuitBreaker{
		name:          st.Name,
		maxRequests:   st.MaxRequests,
		interval:      st.Interval,
		timeout:       st.Timeout,
		readyToTrip:   st.ReadyToTrip,
		onStateChange: st.OnStateChange,
		now:           time.Now,
	}
	if cb.maxRequests == 0 {
		cb.maxRequests = 1
	}
	if cb.timeout == 0 {
		cb.timeout = 60 * time.Second
	}
	if cb.readyToTrip == nil {
		cb.readyToTrip = func(counts Counts) bool {
			return counts.ConsecutiveFailures >= 5
		}
	}
	cb.reset(cb.now())
	metrics.BreakerState.WithLabelValues(cb.name).Set(float64(StateClosed))
	return cb
}

// Name returns the name of the CircuitBreaker
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// State returns the current state of the CircuitBreaker
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.current(cb.now())
}

// Counts returns a snapshot of the counters for the current generation.
func (cb *CircuitBreaker) Counts() Counts {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.counts
}

func (cb *CircuitBreaker) current(now time.Time) State {
	switch cb.state {
	case StateClosed:
		if !cb.expiry.IsZero() && cb.expiry.Before(now) {
			cb.reset(now)
		}
	case StateOpen:
		if cb.expiry.Before(now) {
			cb.transition(StateHalfOpen, now)
		}
	}
	return cb.state
}

func (cb *CircuitBreaker) transition(to State, now time.Time) {
	if cb.state == to {
		return
	}
	from := cb.state
	cb.state = to
	cb.reset(now)
	metrics.BreakerState.WithLabelValues(cb.name).Set(float64(to))
	if cb.onStateChange != nil {
		cb.onStateChange(cb.name, from, to)
	}
}

// reset starts a new counting generation.
func (cb *CircuitBreaker) reset(now time.Time) {
	cb.counts = Counts{}
	switch {
	case cb.state == StateOpen:
		cb.expiry = now.Add(cb.timeout)
	case cb.state == StateClosed && cb.interval > 0:
		cb.expiry = now.Add(cb.interval)
	default:
		cb.expiry = time.Time{}
	}
}

// Allow reports whether a call would currently be admitted.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.admit(cb.now())
}

func (cb *CircuitBreaker) admit(now time.Time) bool {
	switch cb.current(now) {
	case StateOpen:
		return false
	case StateHalfOpen:
		return cb.counts.Requests < cb.maxRequests
	default:
		return true
	}
}

// Do runs fn if the breaker admits it and records the outcome. A rejected call returns
// ErrOpenState without running fn. Errors for which ignore returns true are passed
// through without counting as failures.
func (cb *CircuitBreaker) Do(fn func() error, ignore ...func(error) bool) error {
	cb.mu.Lock()
	if !cb.admit(cb.now()) {
		cb.mu.Unlock()
		return ErrOpenState
	}
	cb.counts.Requests++
	cb.mu.Unlock()

	err := fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()
	if err != nil && !ignored(err, ignore) {
		cb.counts.onFailure()
		switch cb.state {
		case StateClosed:
			if cb.readyToTrip(cb.counts) {
				cb.transition(StateOpen, cb.now())
			}
		case StateHalfOpen:
			cb.transition(StateOpen, cb.now())
		}
		return err
	}
	cb.counts.onSuccess()
	if cb.state == StateHalfOpen {
		cb.transition(StateClosed, cb.now())
	}
	return err
}

func ignored(err error, preds []func(error) bool) bool {
	for _, p := range preds {
		if p(err) {
			return true
		}
	}
	return false
}
