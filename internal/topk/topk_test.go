package topk

import (
	"math/rand"
	"slices"
	"testing"

	"github.com/23skdu/quiver/internal/core"
	"github.com/stretchr/testify/assert"
)

func TestSelectorKeepsSmallest(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	all := make([]core.Neighbor, 200)
	for i := range all {
		all[i] = core.Neighbor{ID: int64(i), Distance: float32(rng.Intn(50))}
	}

	s := New(10)
	for _, n := range all {
		s.Push(n)
	}
	assert.True(t, s.Full())

	want := slices.Clone(all)
	slices.SortFunc(want, compare)
	assert.Equal(t, want[:10], s.Sorted())
}

func TestSelectorTieBreaksOnID(t *testing.T) {
	s := New(2)
	s.Push(core.Neighbor{ID: 9, Distance: 1})
	s.Push(core.Neighbor{ID: 3, Distance: 1})
	s.Push(core.Neighbor{ID: 5, Distance: 1})
	assert.Equal(t, []core.Neighbor{{ID: 3, Distance: 1}, {ID: 5, Distance: 1}}, s.Sorted())

	w, ok := s.Worst()
	assert.True(t, ok)
	assert.Equal(t, int64(5), w.ID)
}

func TestSelectorZeroAndUnderfilled(t *testing.T) {
	s := New(0)
	assert.False(t, s.Push(core.Neighbor{ID: 1}))
	assert.Empty(t, s.Sorted())
	_, ok := s.Worst()
	assert.False(t, ok)

	s.Reset(5)
	s.Push(core.Neighbor{ID: 1, Distance: 3})
	s.Push(core.Neighbor{ID: 2, Distance: 1})
	assert.False(t, s.Full())
	assert.Equal(t, 2, s.Len())
	assert.Equal(t, int64(2), s.Sorted()[0].ID)
}
