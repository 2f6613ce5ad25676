package codec

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/23skdu/quiver/internal/core"
)

// Magic opens every serialized index.
var Magic = [4]byte{'Q', 'V', 'R', 'I'}

// Version is the current envelope version.
const Version uint32 = 1

// Compression selects how the envelope payload is stored.
type Compression uint8

const (
	CompressionNone Compression = iota
	CompressionZstd
	CompressionLZ4
	CompressionSnappy
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionZstd:
		return "zstd"
	case CompressionLZ4:
		return "lz4"
	case CompressionSnappy:
		return "snappy"
	default:
		return fmt.Sprintf("compression(%d)", uint8(c))
	}
}

// ParseCompression maps a config string to a Compression.
func ParseCompression(s string) (Compression, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return CompressionNone, nil
	case "zstd":
		return CompressionZstd, nil
	case "lz4":
		return CompressionLZ4, nil
	case "snappy":
		return CompressionSnappy, nil
	default:
		return CompressionNone, fmt.Errorf("unknown compression %q", s)
	}
}

// Header describes an envelope. RawLen and Checksum refer to the uncompressed payload.
type Header struct {
	Version     uint32
	Kind        core.Kind
	Compression Compression
	RawLen      uint64
	StoredLen   uint64
	Checksum    uint64
}

var (
	zstdEncOnce sync.Once
	zstdEnc     *zstd.Encoder
	zstdDecOnce sync.Once
	zstdDec     *zstd.Decoder
)

func zstdEncoder() *zstd.Encoder {
	zstdEncOnce.Do(func() {
		zstdEnc, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	})
	return zstdEnc
}

func zstdDecoder() *zstd.Decoder {
	zstdDecOnce.Do(func() {
		zstdDec, _ = zstd.NewReader(nil)
	})
	return zstdDec
}

func compress(c Compression, raw []byte) ([]byte, error) {
	switch c {
	case CompressionNone:
		return raw, nil
	case CompressionZstd:
		return zstdEncoder().EncodeAll(raw, nil), nil
	case CompressionLZ4:
		var buf bytes.Buffer
		zw := lz4.NewWriter(&buf)
		if _, err := zw.Write(raw); err != nil {
			return nil, err
		}
		if err := zw.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case CompressionSnappy:
		return snappy.Encode(nil, raw), nil
	default:
		return nil, fmt.Errorf("unknown compression %d", c)
	}
}

func decompress(c Compression, stored []byte, rawLen uint64) ([]byte, error) {
	switch c {
	case CompressionNone:
		return stored, nil
	case CompressionZstd:
		return zstdDecoder().DecodeAll(stored, make([]byte, 0, rawLen))
	case CompressionLZ4:
		out := make([]byte, rawLen)
		if _, err := io.ReadFull(lz4.NewReader(bytes.NewReader(stored)), out); err != nil {
			return nil, err
		}
		return out, nil
	case CompressionSnappy:
		return snappy.Decode(nil, stored)
	default:
		return nil, fmt.Errorf("%w: unknown compression %d", ErrCorrupt, c)
	}
}

// WriteEnvelope writes header + (optionally compressed) payload.
func WriteEnvelope(w io.Writer, kind core.Kind, c Compression, raw []byte) (int64, error) {
	stored, err := compress(c, raw)
	if err != nil {
		return 0, err
	}
	bw := NewWriter(w)
	bw.write(Magic[:])
	bw.U32(Version)
	bw.U8(uint8(kind))
	bw.U8(uint8(c))
	bw.U64(uint64(len(raw)))
	bw.U64(xxhash.Sum64(raw))
	bw.Bytes(stored)
	return bw.Len(), bw.Err()
}

// ReadHeader reads and validates the fixed part of an envelope without the payload.
func ReadHeader(r *Reader) (Header, error) {
	var magic [4]byte
	r.read(magic[:])
	if r.Err() != nil {
		return Header{}, r.Err()
	}
	if magic != Magic {
		return Header{}, fmt.Errorf("%w: bad magic %q", ErrCorrupt, magic[:])
	}
	h := Header{
		Version:     r.U32(),
		Kind:        core.Kind(r.U8()),
		Compression: Compression(r.U8()),
		RawLen:      r.U64(),
		Checksum:    r.U64(),
	}
	if r.Err() != nil {
		return Header{}, r.Err()
	}
	if h.Version != Version {
		return Header{}, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, h.Version)
	}
	if !h.Kind.Valid() {
		return Header{}, fmt.Errorf("%w: unknown index kind %d", ErrCorrupt, h.Kind)
	}
	if h.RawLen > MaxSliceLen {
		return Header{}, fmt.Errorf("%w: payload length %d", ErrCorrupt, h.RawLen)
	}
	return h, nil
}

// ReadEnvelope reads an envelope written by WriteEnvelope and returns the verified raw payload.
func ReadEnvelope(rd io.Reader) (Header, []byte, error) {
	r := NewReader(rd)
	h, err := ReadHeader(r)
	if err != nil {
		return h, nil, err
	}
	stored := r.Bytes()
	if r.Err() != nil {
		return h, nil, r.Err()
	}
	h.StoredLen = uint64(len(stored))
	raw, err := decompress(h.Compression, stored, h.RawLen)
	if err != nil {
		return h, nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if uint64(len(raw)) != h.RawLen {
		return h, nil, fmt.Errorf("%w: payload length %d, header says %d", ErrCorrupt, len(raw), h.RawLen)
	}
	if xxhash.Sum64(raw) != h.Checksum {
		return h, nil, fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
	}
	return h, raw, nil
}
