package clique

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	qerrors "github.com/23skdu/quiver/internal/errors"
)

func newClique(t *testing.T, n, root int) *Clique {
	t.Helper()
	ids := make([]int, n)
	for i := range ids {
		ids[i] = i
	}
	c, err := New(Config{DeviceIDs: ids, RootRank: root}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestNewValidates(t *testing.T) {
	_, err := New(Config{}, zerolog.Nop())
	assert.ErrorIs(t, err, qerrors.ErrInvalidParameters)
	_, err = New(Config{DeviceIDs: []int{0, 1}, RootRank: 2}, zerolog.Nop())
	assert.ErrorIs(t, err, qerrors.ErrInvalidParameters)
	_, err = New(Config{DeviceIDs: []int{3, 3}}, zerolog.Nop())
	assert.ErrorIs(t, err, qerrors.ErrInvalidParameters)
}

func TestRootIsFixed(t *testing.T) {
	c := newClique(t, 3, 1)
	assert.Equal(t, 1, c.Root())
	assert.Equal(t, 3, c.Size())
	assert.NotEqual(t, c.ID().String(), newClique(t, 3, 1).ID().String())

	var roots atomic.Int32
	require.NoError(t, c.Run("ranks", func(comm *Comm) error {
		if comm.IsRoot() {
			roots.Add(1)
			assert.Equal(t, 1, comm.Rank())
		}
		assert.Equal(t, comm.Rank(), comm.Handle().DeviceID())
		return nil
	}))
	assert.Equal(t, int32(1), roots.Load())
}

func TestBroadcastGatherScatter(t *testing.T) {
	c := newClique(t, 4, 2)

	got := make([][]int, 4)
	require.NoError(t, c.Run("collectives", func(comm *Comm) error {
		v, err := Broadcast(comm, comm.Rank()*100)
		if err != nil {
			return err
		}
		if v != 200 {
			return errors.New("broadcast did not deliver the root value")
		}

		all, err := Gather(comm, comm.Rank()+1)
		if err != nil {
			return err
		}
		if comm.IsRoot() {
			got[comm.Rank()] = all
		} else if all != nil {
			return errors.New("non-root received gathered values")
		}

		var parts []string
		if comm.IsRoot() {
			parts = []string{"a", "b", "c", "d"}
		}
		part, err := Scatter(comm, parts)
		if err != nil {
			return err
		}
		if part != string(rune('a'+comm.Rank())) {
			return errors.New("scatter delivered the wrong part")
		}
		return nil
	}))
	assert.Equal(t, []int{1, 2, 3, 4}, got[2])
}

func TestSendRecvRing(t *testing.T) {
	c := newClique(t, 5, 0)
	received := make([]int, 5)
	require.NoError(t, c.Run("ring", func(comm *Comm) error {
		next := (comm.Rank() + 1) % comm.Size()
		prev := (comm.Rank() + comm.Size() - 1) % comm.Size()
		if err := Send(comm, next, comm.Rank()); err != nil {
			return err
		}
		v, err := Recv[int](comm, prev)
		received[comm.Rank()] = v
		return err
	}))
	assert.Equal(t, []int{4, 0, 1, 2, 3}, received)
}

func TestFailureBreaksBarrier(t *testing.T) {
	c := newClique(t, 4, 0)
	boom := errors.New("device lost")

	done := make(chan error, 1)
	go func() {
		done <- c.Run("build", func(comm *Comm) error {
			if comm.Rank() == 3 {
				return boom
			}
			// would wait forever without the abort
			if err := comm.Barrier(); err != nil {
				return err
			}
			_, err := Recv[int](comm, 3)
			return err
		})
	}()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.ErrorIs(t, err, qerrors.ErrDistributedInconsistency)
		assert.ErrorIs(t, err, boom)
		var se *qerrors.StructuredError
		require.True(t, errors.As(err, &se))
		assert.Equal(t, 3, se.Context["rank"])
	case <-time.After(5 * time.Second):
		t.Fatal("collective deadlocked after a participant failure")
	}

	// the clique stays usable
	require.NoError(t, c.Run("after", func(comm *Comm) error { return comm.Barrier() }))
}

func TestPanicIsReported(t *testing.T) {
	c := newClique(t, 2, 0)
	err := c.Run("panic", func(comm *Comm) error {
		if comm.Rank() == 1 {
			panic("kaboom")
		}
		return comm.Barrier()
	})
	assert.True(t, qerrors.IsType(err, qerrors.ErrorTypeDistributedInconsistency))
}

func TestScatterWrongLengthAborts(t *testing.T) {
	c := newClique(t, 3, 0)
	err := c.Run("scatter", func(comm *Comm) error {
		_, err := Scatter(comm, []int{1})
		return err
	})
	assert.ErrorIs(t, err, qerrors.ErrDistributedInconsistency)
}

func TestBarrierReuse(t *testing.T) {
	b := newBarrier(3)
	var passed atomic.Int32
	done := make(chan struct{})
	for i := 0; i < 3; i++ {
		go func() {
			for round := 0; round < 100; round++ {
				if b.wait() == nil {
					passed.Add(1)
				}
			}
			done <- struct{}{}
		}()
	}
	for i := 0; i < 3; i++ {
		<-done
	}
	assert.Equal(t, int32(300), passed.Load())
}
