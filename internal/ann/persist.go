package ann

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"os"
	"time"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/23skdu/quiver/internal/codec"
	"github.com/23skdu/quiver/internal/core"
	qerrors "github.com/23skdu/quiver/internal/errors"
	"github.com/23skdu/quiver/internal/metrics"
	"github.com/23skdu/quiver/internal/resources"
)

// Serialize writes a self-describing envelope: kind, dims, the identifier set and the
// backend body, checksummed and optionally compressed.
func (idx *Index) Serialize(res *resources.Handle, w io.Writer) (err error) {
	const op = "ann.Serialize"
	defer idx.observe("serialize", time.Now(), &err)

	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.impl == nil {
		return qerrors.NewNotBuilt(op)
	}

	var raw bytes.Buffer
	if err := res.Run(func() error {
		return idx.encode(res, &raw)
	}); err != nil {
		return qerrors.WrapIOFailure(err, op, "encode index")
	}

	n, err := codec.WriteEnvelope(w, idx.kind, idx.compression, raw.Bytes())
	if err != nil {
		return qerrors.WrapIOFailure(err, op, "write envelope")
	}
	metrics.SerializedBytesTotal.WithLabelValues("out").Add(float64(n))
	idx.logger.Debug().Int64("bytes", n).Str("compression", idx.compression.String()).Msg("index serialized")
	return nil
}

func (idx *Index) encode(res *resources.Handle, w *bytes.Buffer) error {
	var ids bytes.Buffer
	if _, err := idx.ids.WriteTo(&ids); err != nil {
		return err
	}
	bw := codec.NewWriter(w)
	bw.U32(uint32(idx.dims))
	bw.Bytes(ids.Bytes())
	if err := bw.Err(); err != nil {
		return err
	}
	return idx.impl.serialize(res, w)
}

// Deserialize replaces the facade's state with the index read from r.
// The stream must hold an index of the facade's kind and dimensionality.
func (idx *Index) Deserialize(res *resources.Handle, r io.Reader) (err error) {
	const op = "ann.Deserialize"
	defer idx.observe("deserialize", time.Now(), &err)

	h, raw, err := codec.ReadEnvelope(r)
	if err != nil {
		return qerrors.WrapIOFailure(err, op, "read envelope")
	}
	if h.Kind != idx.kind {
		return qerrors.NewInvalidParameters(op, "stream holds a %s index, facade is %s", h.Kind, idx.kind)
	}
	metrics.SerializedBytesTotal.WithLabelValues("in").Add(float64(h.StoredLen))

	idx.mu.Lock()
	defer idx.mu.Unlock()

	var (
		dims int
		ids  *roaring64.Bitmap
		impl backend
	)
	if err := res.Run(func() error {
		var derr error
		dims, ids, impl, derr = decode(res, h.Kind, raw)
		return derr
	}); err != nil {
		return qerrors.WrapIOFailure(err, op, "decode index")
	}
	if dims != idx.dims {
		return qerrors.NewInvalidParameters(op, "stream holds %d-dimensional vectors, facade is %d", dims, idx.dims)
	}
	idx.impl = impl
	idx.ids = ids
	metrics.IndexVectors.WithLabelValues(idx.kind.String()).Set(float64(impl.size()))
	return nil
}

func decode(res *resources.Handle, kind core.Kind, raw []byte) (int, *roaring64.Bitmap, backend, error) {
	body := bytes.NewReader(raw)
	br := codec.NewReader(body)
	dims := int(br.U32())
	idBytes := br.Bytes()
	if err := br.Err(); err != nil {
		return 0, nil, nil, err
	}
	ids := roaring64.New()
	if _, err := ids.ReadFrom(bytes.NewReader(idBytes)); err != nil {
		return 0, nil, nil, err
	}
	impl, err := deserializeBackend(res, kind, body)
	if err != nil {
		return 0, nil, nil, err
	}
	if ids.GetCardinality() != uint64(impl.size()) {
		return 0, nil, nil, errors.New("identifier set does not match index size")
	}
	return dims, ids, impl, nil
}

// Load reads an index of any kind, constructing the facade from the stream's kind tag.
func Load(res *resources.Handle, r io.Reader, opts ...Option) (*Index, error) {
	const op = "ann.Load"
	h, raw, err := codec.ReadEnvelope(r)
	if err != nil {
		return nil, qerrors.WrapIOFailure(err, op, "read envelope")
	}
	var (
		dims int
		ids  *roaring64.Bitmap
		impl backend
	)
	if err := res.Run(func() error {
		var derr error
		dims, ids, impl, derr = decode(res, h.Kind, raw)
		return derr
	}); err != nil {
		return nil, qerrors.WrapIOFailure(err, op, "decode index")
	}
	idx, err := newIndex(h.Kind, dims, opts...)
	if err != nil {
		return nil, err
	}
	idx.impl = impl
	idx.ids = ids
	idx.compression = h.Compression
	metrics.SerializedBytesTotal.WithLabelValues("in").Add(float64(h.StoredLen))
	return idx, nil
}

// SaveFile serializes the index to path, replacing any existing file.
func (idx *Index) SaveFile(res *resources.Handle, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return qerrors.WrapIOFailure(err, "ann.SaveFile", "create file").WithContext("path", path)
	}
	bw := bufio.NewWriter(f)
	if err := idx.Serialize(res, bw); err != nil {
		_ = f.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		_ = f.Close()
		return qerrors.WrapIOFailure(err, "ann.SaveFile", "flush").WithContext("path", path)
	}
	if err := f.Close(); err != nil {
		return qerrors.WrapIOFailure(err, "ann.SaveFile", "close").WithContext("path", path)
	}
	return nil
}

// LoadFile reads an index of any kind from path.
func LoadFile(res *resources.Handle, path string, opts ...Option) (*Index, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, qerrors.WrapIOFailure(err, "ann.LoadFile", "open file").WithContext("path", path)
	}
	defer f.Close()
	return Load(res, bufio.NewReader(f), opts...)
}
