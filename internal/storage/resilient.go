package storage

import (
	"context"
	"io"
	"time"

	"github.com/23skdu/quiver/internal/breaker"
	"github.com/23skdu/quiver/internal/resilience"
)

// ResilientBackend retries transient failures of another backend and stops calling it
// while it keeps failing. Missing snapshots are neither retried nor counted as failures.
type ResilientBackend struct {
	inner   Backend
	retry   *resilience.RetryPolicy
	breaker *breaker.CircuitBreaker
}

// NewResilientBackend wraps inner. A nil policy uses resilience.DefaultRetryPolicy.
func NewResilientBackend(inner Backend, name string, policy *resilience.RetryPolicy) *ResilientBackend {
	if policy == nil {
		policy = resilience.DefaultRetryPolicy()
	}
	p := *policy
	p.Retryable = func(err error) bool {
		return !IsNotFoundError(err) && (policy.Retryable == nil || policy.Retryable(err))
	}
	return &ResilientBackend{
		inner: inner,
		retry: &p,
		breaker: breaker.NewCircuitBreaker(breaker.Settings{
			Name:    name,
			Timeout: 30 * time.Second,
		}),
	}
}

// Breaker exposes the circuit breaker guarding the backend.
func (b *ResilientBackend) Breaker() *breaker.CircuitBreaker { return b.breaker }

func (b *ResilientBackend) do(ctx context.Context, op string, fn func() error) error {
	return b.breaker.Do(func() error {
		return resilience.Do(ctx, "storage."+op, b.retry, fn)
	}, IsNotFoundError)
}

func (b *ResilientBackend) Put(ctx context.Context, name string, data []byte) error {
	return b.do(ctx, "put", func() error { return b.inner.Put(ctx, name, data) })
}

func (b *ResilientBackend) Get(ctx context.Context, name string) (io.ReadCloser, error) {
	var rc io.ReadCloser
	err := b.do(ctx, "get", func() error {
		var err error
		rc, err = b.inner.Get(ctx, name)
		return err
	})
	return rc, err
}

func (b *ResilientBackend) List(ctx context.Context) ([]string, error) {
	var names []string
	err := b.do(ctx, "list", func() error {
		var err error
		names, err = b.inner.List(ctx)
		return err
	})
	return names, err
}

func (b *ResilientBackend) Delete(ctx context.Context, name string) error {
	return b.do(ctx, "delete", func() error { return b.inner.Delete(ctx, name) })
}
