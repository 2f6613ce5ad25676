package pool

import (
	"bytes"
	"sync"

	"github.com/23skdu/quiver/internal/metrics"
)

// maxPooledBytes caps the capacity of buffers returned to the pool so one
// large snapshot does not pin its memory for the life of the process.
const maxPooledBytes = 64 << 20

// BytePool pools bytes.Buffer instances used while encoding snapshots.
type BytePool struct {
	name string
	pool sync.Pool
}

// NewBytePool creates a new buffer pool. name labels its metrics.
func NewBytePool(name string) *BytePool {
	return &BytePool{
		name: name,
		pool: sync.Pool{
			New: func() any {
				return new(bytes.Buffer)
			},
		},
	}
}

// Get retrieves a buffer from the pool.
// The buffer is guaranteed to be empty (Reset called).
func (p *BytePool) Get() *bytes.Buffer {
	metrics.BufferPoolOpsTotal.WithLabelValues(p.name, "get").Inc()
	return p.pool.Get().(*bytes.Buffer)
}

// Put returns a buffer to the pool after resetting it. Oversized buffers are dropped.
func (p *BytePool) Put(buf *bytes.Buffer) {
	if buf == nil {
		return
	}
	if buf.Cap() > maxPooledBytes {
		metrics.BufferPoolOpsTotal.WithLabelValues(p.name, "drop").Inc()
		return
	}
	metrics.BufferPoolOpsTotal.WithLabelValues(p.name, "put").Inc()
	buf.Reset()
	p.pool.Put(buf)
}
