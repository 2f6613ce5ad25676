package pool

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBytePoolReturnsEmptyBuffers(t *testing.T) {
	p := NewBytePool("test")
	buf := p.Get()
	require.NotNil(t, buf)
	buf.WriteString("snapshot bytes")
	p.Put(buf)

	for i := 0; i < 4; i++ {
		got := p.Get()
		assert.Zero(t, got.Len())
		p.Put(got)
	}
}

func TestBytePoolDropsOversizedBuffers(t *testing.T) {
	p := NewBytePool("test")
	big := bytes.NewBuffer(make([]byte, 0, maxPooledBytes+1))
	assert.NotPanics(t, func() { p.Put(big) })
	assert.NotPanics(t, func() { p.Put(nil) })
}

func BenchmarkBytePool(b *testing.B) {
	p := NewBytePool("bench")
	payload := bytes.Repeat([]byte{1}, 4096)
	for i := 0; i < b.N; i++ {
		buf := p.Get()
		buf.Write(payload)
		p.Put(buf)
	}
}
