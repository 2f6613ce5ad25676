// Package resources provides the execution context every backend call runs against:
// a device identity plus its execution stream.
package resources

import (
	"errors"
	"fmt"
)

// ErrStreamClosed is returned when work is submitted after Close.
var ErrStreamClosed = errors.New("resources: stream closed")

// Handle is an opaque, externally owned execution context for one device.
// A Handle is not safe for concurrent use by multiple callers that each expect
// to observe only their own errors from Synchronize.
type Handle struct {
	deviceID int
	stream   *Stream
}

// Option configures a Handle.
type Option func(*options)

type options struct {
	queueDepth int
}

// WithQueueDepth bounds the number of tasks that may be queued before Enqueue blocks.
func WithQueueDepth(n int) Option {
	return func(o *options) { o.queueDepth = n }
}

// New creates a handle bound to deviceID with its own stream.
func New(deviceID int, opts ...Option) *Handle {
	o := options{queueDepth: 64}
	for _, opt := range opts {
		opt(&o)
	}
	return &Handle{deviceID: deviceID, stream: newStream(deviceID, o.queueDepth)}
}

// DeviceID returns the device this handle is bound to.
func (h *Handle) DeviceID() int {
	return h.deviceID
}

// Stream returns the handle's execution stream.
func (h *Handle) Stream() *Stream {
	return h.stream
}

// Synchronize waits for the handle's stream to drain.
func (h *Handle) Synchronize() error {
	return h.stream.Synchronize()
}

// Run enqueues fn on the stream and blocks until the stream drains.
// This is the synchronization point used by every public index operation.
func (h *Handle) Run(fn func() error) error {
	if err := h.stream.Enqueue(fn); err != nil {
		return err
	}
	return h.stream.Synchronize()
}

// Close drains and stops the stream.
func (h *Handle) Close() error {
	h.stream.close()
	return nil
}

func (h *Handle) String() string {
	return fmt.Sprintf("device:%d", h.deviceID)
}
