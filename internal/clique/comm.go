package clique

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/23skdu/quiver/internal/resources"
)

const mailboxDepth = 4

// session is the shared state of one Run.
type session struct {
	ctx       context.Context
	barrier   *barrier
	slots     []any
	mailboxes [][]chan any // [src][dst]
}

func newSession(ctx context.Context, n int) *session {
	s := &session{
		ctx:       ctx,
		barrier:   newBarrier(n),
		slots:     make([]any, n),
		mailboxes: make([][]chan any, n),
	}
	for src := range s.mailboxes {
		s.mailboxes[src] = make([]chan any, n)
		for dst := range s.mailboxes[src] {
			s.mailboxes[src][dst] = make(chan any, mailboxDepth)
		}
	}
	return s
}

func (s *session) abort() {
	s.barrier.abort(ErrAborted)
}

// Comm is one participant's view of a running collective operation.
type Comm struct {
	clique  *Clique
	session *session
	rank    int
	logger  zerolog.Logger
}

// Rank returns this participant's rank.
func (c *Comm) Rank() int { return c.rank }

// Size returns the number of participants.
func (c *Comm) Size() int { return len(c.clique.participants) }

// Root returns the root rank.
func (c *Comm) Root() int { return c.clique.root }

// IsRoot reports whether this participant is the root.
func (c *Comm) IsRoot() bool { return c.rank == c.clique.root }

// Handle returns this participant's resource handle.
func (c *Comm) Handle() *resources.Handle { return c.clique.participants[c.rank].Handle }

// Logger returns a logger tagged with rank and operation.
func (c *Comm) Logger() zerolog.Logger { return c.logger }

// Barrier blocks until every participant reaches it.
// It returns ErrAborted if another participant failed.
func (c *Comm) Barrier() error {
	return c.session.barrier.wait()
}

// Broadcast distributes the root's value to every participant. Non-root values are ignored.
func Broadcast[T any](c *Comm, v T) (T, error) {
	var zero T
	if c.IsRoot() {
		c.session.slots[c.Root()] = v
	}
	if err := c.Barrier(); err != nil {
		return zero, err
	}
	out, ok := c.session.slots[c.Root()].(T)
	if !ok {
		return zero, fmt.Errorf("broadcast: root sent %T", c.session.slots[c.Root()])
	}
	// nobody may overwrite the slot until every participant has read it
	if err := c.Barrier(); err != nil {
		return zero, err
	}
	return out, nil
}

// Gather collects every participant's value at the root, in rank order.
// Non-root participants receive nil.
func Gather[T any](c *Comm, v T) ([]T, error) {
	c.session.slots[c.rank] = v
	if err := c.Barrier(); err != nil {
		return nil, err
	}
	var out []T
	if c.IsRoot() {
		out = make([]T, c.Size())
		for i, raw := range c.session.slots {
			val, ok := raw.(T)
			if !ok {
				return nil, fmt.Errorf("gather: rank %d sent %T", i, raw)
			}
			out[i] = val
		}
	}
	if err := c.Barrier(); err != nil {
		return nil, err
	}
	return out, nil
}

// Scatter hands values[i] from the root to rank i. Only the root's values are read and
// they must have one entry per participant.
func Scatter[T any](c *Comm, values []T) (T, error) {
	var zero T
	if c.IsRoot() {
		if len(values) != c.Size() {
			// fail here so the others are released by the abort
			return zero, fmt.Errorf("scatter: %d values for %d participants", len(values), c.Size())
		}
		for i, v := range values {
			c.session.slots[i] = v
		}
	}
	if err := c.Barrier(); err != nil {
		return zero, err
	}
	out, ok := c.session.slots[c.rank].(T)
	if !ok {
		return zero, fmt.Errorf("scatter: rank %d received %T", c.rank, c.session.slots[c.rank])
	}
	if err := c.Barrier(); err != nil {
		return zero, err
	}
	return out, nil
}

// Send delivers v to participant dst. It blocks only while dst's mailbox from this
// participant is full.
func Send[T any](c *Comm, dst int, v T) error {
	if dst < 0 || dst >= c.Size() {
		return fmt.Errorf("send: rank %d outside clique of %d", dst, c.Size())
	}
	select {
	case c.session.mailboxes[c.rank][dst] <- v:
		return nil
	case <-c.session.ctx.Done():
		return ErrAborted
	}
}

// Recv waits for the next value sent by src.
func Recv[T any](c *Comm, src int) (T, error) {
	var zero T
	if src < 0 || src >= c.Size() {
		return zero, fmt.Errorf("recv: rank %d outside clique of %d", src, c.Size())
	}
	select {
	case raw := <-c.session.mailboxes[src][c.rank]:
		v, ok := raw.(T)
		if !ok {
			return zero, fmt.Errorf("recv: rank %d sent %T", src, raw)
		}
		return v, nil
	case <-c.session.ctx.Done():
		return zero, ErrAborted
	}
}
