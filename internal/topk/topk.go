// Package topk keeps the k nearest neighbors seen so far.
package topk

import (
	"slices"

	"github.com/23skdu/quiver/internal/core"
)

// Selector is a fixed-capacity max-heap over core.Neighbor ordered by (distance, id).
// The root is the current worst kept neighbor, so a candidate is admitted only if it beats it.
type Selector struct {
	items []core.Neighbor
	k     int
}

// New creates a selector keeping at most k neighbors.
func New(k int) *Selector {
	if k < 0 {
		k = 0
	}
	return &Selector{items: make([]core.Neighbor, 0, k), k: k}
}

// Reset empties the selector and changes its capacity.
func (s *Selector) Reset(k int) {
	if k < 0 {
		k = 0
	}
	s.k = k
	s.items = s.items[:0]
}

// Len returns the number of kept neighbors.
func (s *Selector) Len() int {
	return len(s.items)
}

// Full reports whether k neighbors are held.
func (s *Selector) Full() bool {
	return len(s.items) >= s.k
}

// Worst returns the largest kept neighbor.
func (s *Selector) Worst() (core.Neighbor, bool) {
	if len(s.items) == 0 {
		return core.Neighbor{}, false
	}
	return s.items[0], true
}

// Push offers a candidate and reports whether it was kept.
func (s *Selector) Push(n core.Neighbor) bool {
	if s.k == 0 {
		return false
	}
	if len(s.items) < s.k {
		s.items = append(s.items, n)
		s.up(len(s.items) - 1)
		return true
	}
	if !n.Less(s.items[0]) {
		return false
	}
	s.items[0] = n
	s.down(0)
	return true
}

// Sorted returns the kept neighbors ascending by (distance, id). The selector is left intact.
func (s *Selector) Sorted() []core.Neighbor {
	out := slices.Clone(s.items)
	slices.SortFunc(out, compare)
	return out
}

func compare(a, b core.Neighbor) int {
	switch {
	case a.Less(b):
		return -1
	case b.Less(a):
		return 1
	default:
		return 0
	}
}

// greater is the heap order: parent must not be less than its children.
func greater(a, b core.Neighbor) bool {
	return b.Less(a)
}

func (s *Selector) up(i int) {
	for i > 0 {
		parent := (i - 1) / 2
		if !greater(s.items[i], s.items[parent]) {
			break
		}
		s.items[i], s.items[parent] = s.items[parent], s.items[i]
		i = parent
	}
}

func (s *Selector) down(i int) {
	n := len(s.items)
	for {
		largest := i
		l, r := 2*i+1, 2*i+2
		if l < n && greater(s.items[l], s.items[largest]) {
			largest = l
		}
		if r < n && greater(s.items[r], s.items[largest]) {
			largest = r
		}
		if largest == i {
			return
		}
		s.items[i], s.items[largest] = s.items[largest], s.items[i]
		i = largest
	}
}
