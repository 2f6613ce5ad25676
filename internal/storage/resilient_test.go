package storage

import (
	"context"
	"errors"
	"io"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/quiver/internal/breaker"
	"github.com/23skdu/quiver/internal/resilience"
)

// flakyBackend fails the first n calls of every operation with err.
type flakyBackend struct {
	*FileBackend
	failures int
	err      error
	calls    int
}

func (f *flakyBackend) fail() error {
	f.calls++
	if f.calls <= f.failures {
		return f.err
	}
	return nil
}

func (f *flakyBackend) Put(ctx context.Context, name string, data []byte) error {
	if err := f.fail(); err != nil {
		return err
	}
	return f.FileBackend.Put(ctx, name, data)
}

func (f *flakyBackend) Get(ctx context.Context, name string) (io.ReadCloser, error) {
	if err := f.fail(); err != nil {
		return nil, err
	}
	return f.FileBackend.Get(ctx, name)
}

func quickPolicy() *resilience.RetryPolicy {
	return &resilience.RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     time.Millisecond,
		Multiplier:   1,
		Retryable:    resilience.IsTransient,
	}
}

func TestResilientBackendRetriesTransientFailures(t *testing.T) {
	fb, err := NewFileBackend(t.TempDir())
	require.NoError(t, err)
	flaky := &flakyBackend{FileBackend: fb, failures: 2, err: syscall.ECONNRESET}
	b := NewResilientBackend(flaky, "flaky", quickPolicy())

	require.NoError(t, b.Put(context.Background(), "idx", []byte("data")))
	assert.Equal(t, 3, flaky.calls)
	assert.Equal(t, breaker.StateClosed, b.Breaker().State())
}

func TestResilientBackendDoesNotRetryNotFound(t *testing.T) {
	fb, err := NewFileBackend(t.TempDir())
	require.NoError(t, err)
	flaky := &flakyBackend{FileBackend: fb}
	b := NewResilientBackend(flaky, "missing", quickPolicy())

	for i := 0; i < 10; i++ {
		_, err = b.Get(context.Background(), "nope")
		assert.True(t, IsNotFoundError(err))
	}
	assert.Equal(t, 10, flaky.calls)
	assert.Equal(t, breaker.StateClosed, b.Breaker().State())
}

func TestResilientBackendTripsAfterRepeatedFailures(t *testing.T) {
	fb, err := NewFileBackend(t.TempDir())
	require.NoError(t, err)
	flaky := &flakyBackend{FileBackend: fb, failures: 1000, err: errors.New("access denied")}
	b := NewResilientBackend(flaky, "broken", quickPolicy())

	for i := 0; i < 5; i++ {
		assert.Error(t, b.Put(context.Background(), "idx", nil))
	}
	assert.Equal(t, breaker.StateOpen, b.Breaker().State())
	assert.ErrorIs(t, b.Put(context.Background(), "idx", nil), breaker.ErrOpenState)
	assert.Equal(t, 5, flaky.calls)
}
