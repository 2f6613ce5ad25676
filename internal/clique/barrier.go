package clique

import "sync"

// barrier is a reusable rendezvous for n parties that can be broken. Once broken every
// current and future wait returns the break error instead of blocking.
type barrier struct {
	mu     sync.Mutex
	cond   *sync.Cond
	n      int
	count  int
	gen    uint64
	broken error
}

func newBarrier(n int) *barrier {
	b := &barrier{n: n}
	b.cond = sync.NewCond(&b.mu)
	return b
}

func (b *barrier) wait() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.broken != nil {
		return b.broken
	}
	gen := b.gen
	b.count++
	if b.count == b.n {
		b.count = 0
		b.gen++
		b.cond.Broadcast()
		return nil
	}
	for gen == b.gen && b.broken == nil {
		b.cond.Wait()
	}
	if gen != b.gen {
		// released before the break
		return nil
	}
	return b.broken
}

func (b *barrier) abort(err error) {
	b.mu.Lock()
	if b.broken == nil {
		b.broken = err
	}
	b.mu.Unlock()
	b.cond.Broadcast()
}
