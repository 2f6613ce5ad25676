package resources

import (
	"runtime"

	"golang.org/x/sync/errgroup"
)

// minBlock is the smallest row block handed to a worker.
const minBlock = 16

// Launch splits rows [0,n) into contiguous blocks and runs fn on each block concurrently,
// the host-side stand-in for a kernel launch. It returns the first block error.
// Each row is processed by exactly one invocation, so per-row output is independent of scheduling.
func (h *Handle) Launch(n int, fn func(lo, hi int) error) error {
	if n <= 0 {
		return nil
	}
	workers := runtime.GOMAXPROCS(0)
	block := (n + workers - 1) / workers
	if block < minBlock {
		block = minBlock
	}
	if block >= n {
		return fn(0, n)
	}

	var g errgroup.Group
	g.SetLimit(workers)
	for lo := 0; lo < n; lo += block {
		lo, hi := lo, min(lo+block, n)
		g.Go(func() error { return fn(lo, hi) })
	}
	return g.Wait()
}
