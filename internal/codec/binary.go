// Package codec holds the little-endian stream helpers shared by every backend's
// serializer and the self-describing envelope that wraps a serialized index.
package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// MaxSliceLen bounds any length prefix read from a stream so corrupted input
// cannot trigger an unbounded allocation.
const MaxSliceLen = 1 << 31

// ErrCorrupt is returned when a length prefix or marker is out of range.
var ErrCorrupt = errors.New("codec: corrupt stream")

// Writer is a sticky-error little-endian writer; after the first failure every call is a no-op.
type Writer struct {
	w   io.Writer
	n   int64
	err error
	buf [8]byte
}

// NewWriter wraps w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

func (w *Writer) write(p []byte) {
	if w.err != nil {
		return
	}
	n, err := w.w.Write(p)
	w.n += int64(n)
	w.err = err
}

// Raw writes p with no length prefix.
func (w *Writer) Raw(p []byte) {
	w.write(p)
}

// U8 writes one byte.
func (w *Writer) U8(v uint8) {
	w.buf[0] = v
	w.write(w.buf[:1])
}

// U32 writes a uint32.
func (w *Writer) U32(v uint32) {
	binary.LittleEndian.PutUint32(w.buf[:4], v)
	w.write(w.buf[:4])
}

// U64 writes a uint64.
func (w *Writer) U64(v uint64) {
	binary.LittleEndian.PutUint64(w.buf[:8], v)
	w.write(w.buf[:8])
}

// I64 writes an int64.
func (w *Writer) I64(v int64) {
	w.U64(uint64(v))
}

// F32 writes a float32.
func (w *Writer) F32(v float32) {
	w.U32(math.Float32bits(v))
}

// F64 writes a float64.
func (w *Writer) F64(v float64) {
	w.U64(math.Float64bits(v))
}

// String writes a length-prefixed string.
func (w *Writer) String(s string) {
	w.U32(uint32(len(s)))
	w.write([]byte(s))
}

// Bytes writes a length-prefixed byte slice.
func (w *Writer) Bytes(b []byte) {
	w.U64(uint64(len(b)))
	w.write(b)
}

// F32s writes a length-prefixed float32 slice.
func (w *Writer) F32s(v []float32) {
	w.U64(uint64(len(v)))
	if w.err != nil || len(v) == 0 {
		return
	}
	out := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(f))
	}
	w.write(out)
}

// I64s writes a length-prefixed int64 slice.
func (w *Writer) I64s(v []int64) {
	w.U64(uint64(len(v)))
	if w.err != nil || len(v) == 0 {
		return
	}
	out := make([]byte, 8*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint64(out[i*8:], uint64(x))
	}
	w.write(out)
}

// Err returns the first write error.
func (w *Writer) Err() error {
	return w.err
}

// Len returns the number of bytes written so far.
func (w *Writer) Len() int64 {
	return w.n
}

// Reader is the sticky-error counterpart to Writer.
type Reader struct {
	r   io.Reader
	err error
	buf [8]byte
}

// NewReader wraps r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

func (r *Reader) read(p []byte) bool {
	if r.err != nil {
		return false
	}
	if _, err := io.ReadFull(r.r, p); err != nil {
		r.err = err
		return false
	}
	return true
}

func (r *Reader) length(elemSize int) int {
	n := r.U64()
	if r.err != nil {
		return 0
	}
	if n > MaxSliceLen/uint64(elemSize) {
		r.err = fmt.Errorf("%w: length %d", ErrCorrupt, n)
		return 0
	}
	return int(n)
}

// Raw reads exactly n bytes.
func (r *Reader) Raw(n uint64) []byte {
	if r.err != nil {
		return nil
	}
	if n > MaxSliceLen {
		r.err = fmt.Errorf("%w: length %d", ErrCorrupt, n)
		return nil
	}
	b := make([]byte, n)
	if !r.read(b) {
		return nil
	}
	return b
}

// U8 reads one byte.
func (r *Reader) U8() uint8 {
	if !r.read(r.buf[:1]) {
		return 0
	}
	return r.buf[0]
}

// U32 reads a uint32.
func (r *Reader) U32() uint32 {
	if !r.read(r.buf[:4]) {
		return 0
	}
	return binary.LittleEndian.Uint32(r.buf[:4])
}

// U64 reads a uint64.
func (r *Reader) U64() uint64 {
	if !r.read(r.buf[:8]) {
		return 0
	}
	return binary.LittleEndian.Uint64(r.buf[:8])
}

// I64 reads an int64.
func (r *Reader) I64() int64 {
	return int64(r.U64())
}

// F32 reads a float32.
func (r *Reader) F32() float32 {
	return math.Float32frombits(r.U32())
}

// F64 reads a float64.
func (r *Reader) F64() float64 {
	return math.Float64frombits(r.U64())
}

// String reads a length-prefixed string.
func (r *Reader) String() string {
	n := r.U32()
	if r.err != nil {
		return ""
	}
	if n > 1<<20 {
		r.err = fmt.Errorf("%w: string length %d", ErrCorrupt, n)
		return ""
	}
	b := make([]byte, n)
	r.read(b)
	return string(b)
}

// Bytes reads a length-prefixed byte slice.
func (r *Reader) Bytes() []byte {
	n := r.length(1)
	if r.err != nil {
		return nil
	}
	b := make([]byte, n)
	r.read(b)
	return b
}

// F32s reads a length-prefixed float32 slice.
func (r *Reader) F32s() []float32 {
	n := r.length(4)
	if r.err != nil || n == 0 {
		return nil
	}
	raw := make([]byte, 4*n)
	if !r.read(raw) {
		return nil
	}
	out := make([]float32, n)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return out
}

// I64s reads a length-prefixed int64 slice.
func (r *Reader) I64s() []int64 {
	n := r.length(8)
	if r.err != nil || n == 0 {
		return nil
	}
	raw := make([]byte, 8*n)
	if !r.read(raw) {
		return nil
	}
	out := make([]int64, n)
	for i := range out {
		out[i] = int64(binary.LittleEndian.Uint64(raw[i*8:]))
	}
	return out
}

// Fail records err if no earlier error is set. Decoders use it for semantic validation.
func (r *Reader) Fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

// Err returns the first read error.
func (r *Reader) Err() error {
	return r.err
}
