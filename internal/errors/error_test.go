package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStructuredError_Error(t *testing.T) {
	// Test error without cause
	err := New(ErrorTypeNotBuilt, "search", "index has not been built")
	expected := "[not_built] search: index has not been built"
	assert.Equal(t, expected, err.Error())

	// Test error with cause
	cause := errors.New("disk full")
	err = Wrap(cause, ErrorTypeIOFailure, "serialize", "failed to write")
	assert.Contains(t, err.Error(), "[io_failure] serialize: failed to write")
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, cause, err.Unwrap())
}

func TestStructuredError_WithContext(t *testing.T) {
	err := New(ErrorTypeInvalidParameters, "build", "bad params")
	err = err.WithContext("rank", 2).WithContext("kind", "ivf_pq")

	assert.Equal(t, 2, err.Context["rank"])
	assert.Equal(t, "ivf_pq", err.Context["kind"])
}

func TestSentinelMatching(t *testing.T) {
	err := NewNotBuilt("size")
	assert.True(t, errors.Is(err, ErrNotBuilt))
	assert.False(t, errors.Is(err, ErrIOFailure))

	wrapped := fmt.Errorf("outer: %w", NewInvalidParameters("search", "n_probes %d > n_lists %d", 8, 4))
	assert.True(t, errors.Is(wrapped, ErrInvalidParameters))
	assert.Equal(t, ErrorTypeInvalidParameters, TypeOf(wrapped))
	assert.Contains(t, wrapped.Error(), "n_probes 8 > n_lists 4")
}

func TestDistributedWrapKeepsCause(t *testing.T) {
	inner := NewUnsupported("extend", "graph index cannot be extended")
	err := WrapDistributed(inner, "mg.extend", "rank 1 failed")

	assert.True(t, IsType(err, ErrorTypeDistributedInconsistency))
	assert.True(t, errors.Is(err, ErrDistributedInconsistency))
	// the participant's own error kind is still reachable
	assert.True(t, errors.Is(err, ErrUnsupportedOperation))
	assert.True(t, IsType(err, ErrorTypeUnsupportedOperation))
	assert.Equal(t, ErrorTypeDistributedInconsistency, TypeOf(err))
	assert.False(t, IsType(err, ErrorTypeIOFailure))
	assert.False(t, IsType(err, ""))
	assert.False(t, IsType(errors.New("plain"), ErrorTypeIOFailure))
}

func TestErrorWrapping(t *testing.T) {
	originalErr := errors.New("original error")

	wrapped := WrapIOFailure(originalErr, "load", "open failed")
	assert.Equal(t, ErrorTypeIOFailure, wrapped.Type)
	assert.Equal(t, "load", wrapped.Operation)
	assert.Equal(t, originalErr, wrapped.Unwrap())

	// Test that Wrap returns nil for nil error
	assert.Nil(t, Wrap(nil, ErrorTypeIOFailure, "op", "msg"))
	assert.Equal(t, ErrorType(""), TypeOf(originalErr))
}
