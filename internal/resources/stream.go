package resources

import (
	"strconv"
	"sync"
	"time"

	"github.com/23skdu/quiver/internal/metrics"
)

// Stream executes submitted work in FIFO order on a dedicated goroutine,
// the way work is queued on a device execution stream.
// The first failing task poisons the stream until the next Synchronize.
type Stream struct {
	device string
	tasks  chan func() error

	mu      sync.Mutex
	pending sync.WaitGroup
	err     error
	closed  bool
	done    chan struct{}
}

func newStream(deviceID, depth int) *Stream {
	if depth <= 0 {
		depth = 64
	}
	s := &Stream{
		device: strconv.Itoa(deviceID),
		tasks:  make(chan func() error, depth),
		done:   make(chan struct{}),
	}
	go s.loop()
	return s
}

func (s *Stream) loop() {
	defer close(s.done)
	for task := range s.tasks {
		s.mu.Lock()
		failed := s.err != nil
		s.mu.Unlock()

		if failed {
			// work queued behind a failure is skipped, as on a faulted device stream
			metrics.StreamTasksTotal.WithLabelValues(s.device, "skipped").Inc()
			s.pending.Done()
			continue
		}

		if err := task(); err != nil {
			s.mu.Lock()
			s.err = err
			s.mu.Unlock()
			metrics.StreamTasksTotal.WithLabelValues(s.device, "error").Inc()
		} else {
			metrics.StreamTasksTotal.WithLabelValues(s.device, "ok").Inc()
		}
		s.pending.Done()
	}
}

// Enqueue schedules fn and returns immediately.
func (s *Stream) Enqueue(fn func() error) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrStreamClosed
	}
	s.pending.Add(1)
	s.mu.Unlock()
	s.tasks <- fn
	return nil
}

// Synchronize blocks until every enqueued task has run and returns the first task error.
// The error is cleared so the stream can be reused.
func (s *Stream) Synchronize() error {
	start := time.Now()
	s.pending.Wait()
	metrics.StreamSyncDuration.Observe(time.Since(start).Seconds())

	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.err
	s.err = nil
	return err
}

func (s *Stream) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	s.pending.Wait()
	close(s.tasks)
	<-s.done
}
