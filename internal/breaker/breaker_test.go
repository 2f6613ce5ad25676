package breaker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(st Settings) (*CircuitBreaker, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	cb := NewCircuitBreaker(st)
	cb.now = clock.now
	cb.reset(clock.now())
	return cb, clock
}

func fail() error    { return assert.AnError }
func succeed() error { return nil }

func TestCircuitBreaker_StateTransitions(t *testing.T) {
	var changes []string
	cb, clock := newTestBreaker(Settings{
		Name:        "test",
		ReadyToTrip: func(counts Counts) bool { return counts.ConsecutiveFailures >= 2 },
		Timeout:     100 * time.Millisecond,
		OnStateChange: func(_ string, from, to State) {
			changes = append(changes, from.String()+"->"+to.String())
		},
	})

	assert.Equal(t, StateClosed, cb.State())
	assert.True(t, cb.Allow())

	assert.ErrorIs(t, cb.Do(fail), assert.AnError)
	assert.Equal(t, StateClosed, cb.State())

	assert.ErrorIs(t, cb.Do(fail), assert.AnError)
	assert.Equal(t, StateOpen, cb.State())
	assert.False(t, cb.Allow())

	ran := false
	assert.ErrorIs(t, cb.Do(func() error { ran = true; return nil }), ErrOpenState)
	assert.False(t, ran)

	clock.advance(150 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, cb.State())
	assert.True(t, cb.Allow())

	assert.NoError(t, cb.Do(succeed))
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, []string{"closed->open", "open->half_open", "half_open->closed"}, changes)
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb, clock := newTestBreaker(Settings{
		Name:        "test",
		ReadyToTrip: func(Counts) bool { return true },
		Timeout:     10 * time.Millisecond,
	})
	_ = cb.Do(fail)
	clock.advance(20 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, cb.State())

	_ = cb.Do(fail)
	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreaker_HalfOpenMaxRequests(t *testing.T) {
	cb, clock := newTestBreaker(Settings{
		Name:        "test",
		MaxRequests: 1,
		ReadyToTrip: func(Counts) bool { return true },
		Timeout:     10 * time.Millisecond,
	})
	_ = cb.Do(fail)
	clock.advance(20 * time.Millisecond)
	assert.True(t, cb.Allow())

	cb.mu.Lock()
	cb.counts.Requests = 1
	cb.mu.Unlock()
	assert.False(t, cb.Allow())
}

func TestCircuitBreaker_IgnoredErrorsDoNotTrip(t *testing.T) {
	notFound := errors.New("not found")
	cb, _ := newTestBreaker(Settings{
		Name:        "test",
		ReadyToTrip: func(c Counts) bool { return c.ConsecutiveFailures >= 1 },
	})
	isNotFound := func(err error) bool { return errors.Is(err, notFound) }

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, cb.Do(func() error { return notFound }, isNotFound), notFound)
	}
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, uint32(3), cb.Counts().TotalSuccesses)
}

func TestCircuitBreaker_IntervalClearsCounts(t *testing.T) {
	cb, clock := newTestBreaker(Settings{
		Name:     "test",
		Interval: time.Second,
	})
	_ = cb.Do(fail)
	assert.Equal(t, uint32(1), cb.Counts().TotalFailures)

	clock.advance(2 * time.Second)
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, Counts{}, cb.Counts())
}
