// Package resilience retries transient failures with exponential backoff.
package resilience

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"net"
	"strings"
	"syscall"
	"time"

	"github.com/23skdu/quiver/internal/metrics"
)

// RetryPolicy controls how often and how patiently an operation is retried.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       bool
	// Retryable decides whether an error is worth another attempt.
	Retryable func(error) bool
	OnRetry   func(attempt int, err error)
}

// DefaultRetryPolicy suits object-store calls.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   1.5,
		Jitter:       true,
		Retryable:    IsTransient,
	}
}

var transientMessages = []string{
	"connection refused",
	"connection reset",
	"timeout",
	"temporary failure",
	"service unavailable",
	"slowdown",
	"resource temporarily unavailable",
	"network is unreachable",
	"connection timed out",
}

// IsTransient reports whether err looks like a network hiccup rather than a real failure.
// Context cancellation is never transient.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, m := range transientMessages {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// Do runs fn until it succeeds, fails with a non-retryable error, exhausts the policy,
// or ctx ends. It returns fn's last error.
func Do(ctx context.Context, op string, policy *RetryPolicy, fn func() error) error {
	if policy == nil {
		policy = DefaultRetryPolicy()
	}
	attempts := max(policy.MaxAttempts, 1)

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			metrics.RetryAttemptsTotal.WithLabelValues(op).Inc()
			if policy.OnRetry != nil {
				policy.OnRetry(attempt, err)
			}
			t := time.NewTimer(policy.delay(attempt))
			select {
			case <-ctx.Done():
				t.Stop()
				return errors.Join(err, ctx.Err())
			case <-t.C:
			}
		}
		if err = fn(); err == nil {
			return nil
		}
		if policy.Retryable != nil && !policy.Retryable(err) {
			return err
		}
	}
	return err
}

func (p *RetryPolicy) delay(attempt int) time.Duration {
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(p.InitialDelay) * math.Pow(mult, float64(attempt-1))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	if p.Jitter {
		d *= 0.8 + 0.4*rand.Float64()
	}
	return time.Duration(d)
}
