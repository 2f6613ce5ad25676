// Package clique coordinates a fixed set of device participants through collective
// operations. The root rank is chosen once at construction.
package clique

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	qerrors "github.com/23skdu/quiver/internal/errors"
	"github.com/23skdu/quiver/internal/logging"
	"github.com/23skdu/quiver/internal/metrics"
	"github.com/23skdu/quiver/internal/resources"
)

// ErrAborted is returned from a collective step when another participant failed.
var ErrAborted = errors.New("clique: collective aborted by another participant")

// Config describes the participants.
type Config struct {
	// DeviceIDs lists one device per participant; rank i uses DeviceIDs[i].
	DeviceIDs []int
	// RootRank is the coordinating participant.
	RootRank int
	// QueueDepth bounds each participant's stream queue.
	QueueDepth int
}

// Participant is one device with its own execution stream.
type Participant struct {
	Rank   int
	Handle *resources.Handle
}

// Clique owns its participants' handles.
type Clique struct {
	id           uuid.UUID
	root         int
	participants []*Participant
	logger       zerolog.Logger

	// one collective operation at a time
	mu sync.Mutex
}

// New creates a clique with one participant per device.
//
//nolint:gocritic // Logger passed by value for constructor simplicity
func New(cfg Config, logger zerolog.Logger) (*Clique, error) {
	if len(cfg.DeviceIDs) == 0 {
		return nil, qerrors.NewInvalidParameters("clique.New", "at least one device is required")
	}
	if cfg.RootRank < 0 || cfg.RootRank >= len(cfg.DeviceIDs) {
		return nil, qerrors.NewInvalidParameters("clique.New", "root rank %d outside [0, %d)", cfg.RootRank, len(cfg.DeviceIDs))
	}
	seen := make(map[int]bool, len(cfg.DeviceIDs))
	var opts []resources.Option
	if cfg.QueueDepth > 0 {
		opts = append(opts, resources.WithQueueDepth(cfg.QueueDepth))
	}

	c := &Clique{
		id:           uuid.New(),
		root:         cfg.RootRank,
		participants: make([]*Participant, len(cfg.DeviceIDs)),
	}
	for rank, dev := range cfg.DeviceIDs {
		if seen[dev] {
			return nil, qerrors.NewInvalidParameters("clique.New", "device %d listed twice", dev)
		}
		seen[dev] = true
		c.participants[rank] = &Participant{Rank: rank, Handle: resources.New(dev, opts...)}
	}
	c.logger = logging.WithComponent(logger, "clique").With().Str("clique", c.id.String()).Logger()
	c.logger.Info().Int("participants", len(c.participants)).Int("root", c.root).Msg("clique formed")
	return c, nil
}

// ID returns the clique's unique id.
func (c *Clique) ID() uuid.UUID { return c.id }

// Size returns the number of participants.
func (c *Clique) Size() int { return len(c.participants) }

// Root returns the root rank.
func (c *Clique) Root() int { return c.root }

// Participant returns the participant at rank.
func (c *Clique) Participant(rank int) *Participant { return c.participants[rank] }

// Close releases every participant's stream.
func (c *Clique) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range c.participants {
		_ = p.Handle.Close()
	}
	return nil
}

// Run executes fn on every participant concurrently and returns once all have finished.
// A failing participant breaks every pending and future collective step of this run,
// so the others return ErrAborted instead of waiting forever. The error reported is the
// failing participant's, wrapped as a distributed inconsistency naming its rank.
func (c *Clique) Run(op string, fn func(comm *Comm) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	start := time.Now()
	n := len(c.participants)
	g, ctx := errgroup.WithContext(context.Background())
	s := newSession(ctx, n)
	errs := make([]error, n)

	for rank := range c.participants {
		comm := &Comm{
			clique:  c,
			session: s,
			rank:    rank,
			logger:  c.logger.With().Int("rank", rank).Str("op", op).Logger(),
		}
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("participant panicked: %v", r)
				}
				if err != nil {
					errs[comm.rank] = err
					s.abort()
				}
			}()
			return fn(comm)
		})
	}
	_ = g.Wait()

	status := "ok"
	defer func() {
		metrics.CollectiveOpsTotal.WithLabelValues(op, status).Inc()
		metrics.CollectiveDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}()

	rank, cause := firstFailure(errs)
	if cause == nil {
		return nil
	}
	status = "error"
	c.logger.Error().Err(cause).Int("rank", rank).Str("op", op).Msg("collective operation failed")
	return qerrors.WrapDistributed(cause, "clique."+op, fmt.Sprintf("participant %d failed", rank)).
		WithContext("rank", rank).
		WithContext("clique", c.id.String())
}

// firstFailure prefers an originating error over the aborts it caused.
func firstFailure(errs []error) (int, error) {
	fallback := -1
	for rank, err := range errs {
		if err == nil {
			continue
		}
		if !errors.Is(err, ErrAborted) {
			return rank, err
		}
		if fallback < 0 {
			fallback = rank
		}
	}
	if fallback >= 0 {
		return fallback, errs[fallback]
	}
	return -1, nil
}
