package mg

import (
	"bytes"
	"fmt"
	"io"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/23skdu/quiver/internal/ann"
	"github.com/23skdu/quiver/internal/clique"
	"github.com/23skdu/quiver/internal/codec"
	"github.com/23skdu/quiver/internal/core"
	qerrors "github.com/23skdu/quiver/internal/errors"
)

// snapshotMagic opens a distributed snapshot.
var snapshotMagic = [4]byte{'Q', 'V', 'R', 'M'}

const snapshotVersion uint32 = 1

// snapshotHeader precedes the shard blobs. Each blob is a complete facade envelope.
type snapshotHeader struct {
	Mode  DistributionMode
	Merge MergeMode
	Kind  core.Kind
	State State
	Dims  int
	Lens  []uint64
}

func writeSnapshot(w io.Writer, h snapshotHeader, blobs [][]byte) error {
	bw := codec.NewWriter(w)
	bw.Raw(snapshotMagic[:])
	bw.U32(snapshotVersion)
	bw.U8(uint8(h.Mode))
	bw.U8(uint8(h.Merge))
	bw.U8(uint8(h.Kind))
	bw.U8(uint8(h.State))
	bw.U32(uint32(h.Dims))
	bw.U32(uint32(len(blobs)))
	for _, b := range blobs {
		bw.U64(uint64(len(b)))
	}
	for _, b := range blobs {
		bw.Raw(b)
	}
	return bw.Err()
}

func readSnapshot(r io.Reader) (snapshotHeader, [][]byte, error) {
	br := codec.NewReader(r)
	var magic [4]byte
	copy(magic[:], br.Raw(4))
	version := br.U32()
	h := snapshotHeader{
		Mode:  DistributionMode(br.U8()),
		Merge: MergeMode(br.U8()),
		Kind:  core.Kind(br.U8()),
		State: State(br.U8()),
		Dims:  int(br.U32()),
	}
	count := br.U32()
	if err := br.Err(); err != nil {
		return h, nil, err
	}
	if magic != snapshotMagic {
		return h, nil, fmt.Errorf("%w: bad snapshot magic %q", codec.ErrCorrupt, magic[:])
	}
	if version != snapshotVersion {
		return h, nil, fmt.Errorf("%w: unsupported snapshot version %d", codec.ErrCorrupt, version)
	}
	if !h.Merge.Valid() {
		return h, nil, fmt.Errorf("%w: unknown merge mode %d", codec.ErrCorrupt, uint8(h.Merge))
	}
	if count == 0 || count > 1<<16 {
		return h, nil, fmt.Errorf("%w: shard count %d", codec.ErrCorrupt, count)
	}
	h.Lens = make([]uint64, count)
	for i := range h.Lens {
		h.Lens[i] = br.U64()
	}
	blobs := make([][]byte, count)
	for i, n := range h.Lens {
		blobs[i] = br.Raw(n)
	}
	if err := br.Err(); err != nil {
		return h, nil, err
	}
	return h, blobs, nil
}

// Save writes the index to w. Every participant first meets at a barrier, then the root
// gathers the serialized shards and alone writes the stream: a header naming the layout
// followed by one facade envelope per shard. A replicated index writes a single copy.
func (idx *Index) Save(w io.Writer) error {
	const op = "mg.Save"
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.state == Unformed {
		return qerrors.NewNotBuilt(op)
	}

	return idx.clique.Run("save", func(comm *clique.Comm) error {
		if err := comm.Barrier(); err != nil {
			return err
		}
		var blob []byte
		if idx.opts.Mode == Sharded || comm.IsRoot() {
			var buf bytes.Buffer
			if err := idx.shards[comm.Rank()].Serialize(comm.Handle(), &buf); err != nil {
				return err
			}
			blob = buf.Bytes()
		}
		blobs, err := clique.Gather(comm, blob)
		if err != nil || !comm.IsRoot() {
			return err
		}
		if idx.opts.Mode == Replicated {
			blobs = blobs[comm.Rank() : comm.Rank()+1]
		}
		h := snapshotHeader{
			Mode:  idx.opts.Mode,
			Merge: idx.opts.Merge,
			Kind:  idx.kind,
			State: idx.state,
			Dims:  idx.dims,
		}
		if err := writeSnapshot(w, h, blobs); err != nil {
			return qerrors.WrapIOFailure(err, op, "write snapshot")
		}
		logger := comm.Logger()
		logger.Info().Int("shards", len(blobs)).Msg("distributed index saved")
		return nil
	})
}

// Load replaces the index with the snapshot in r. The root reads the stream and hands
// each participant its shard; every participant rebuilds its facade from the blob.
// The snapshot's layout must match this index: same kind, dimensionality and
// distribution mode, and for sharded snapshots one shard per participant. The merge mode
// recorded in the snapshot replaces the configured one.
func (idx *Index) Load(r io.Reader) error {
	const op = "mg.Load"
	idx.mu.Lock()
	defer idx.mu.Unlock()

	n := idx.clique.Size()
	loaded := make([]*ann.Index, n)
	var state State
	var mergeMode MergeMode

	err := idx.clique.Run("load", func(comm *clique.Comm) error {
		if err := comm.Barrier(); err != nil {
			return err
		}
		var blobs [][]byte
		if comm.IsRoot() {
			h, b, err := readSnapshot(r)
			if err != nil {
				return qerrors.WrapIOFailure(err, op, "read snapshot")
			}
			if err := idx.checkSnapshot(op, h, n); err != nil {
				return err
			}
			state = h.State
			mergeMode = h.Merge
			blobs = b
			if h.Mode == Replicated {
				blobs = make([][]byte, n)
				for i := range blobs {
					blobs[i] = b[0]
				}
			}
		}
		blob, err := clique.Scatter(comm, blobs)
		if err != nil {
			return err
		}
		local, err := ann.Load(comm.Handle(), bytes.NewReader(blob), idx.facadeOpts()...)
		if err != nil {
			return err
		}
		if local.Kind() != idx.kind || local.Dims() != idx.dims {
			return qerrors.NewInvalidParameters(op, "shard %d holds a %d-dimensional %s index", comm.Rank(), local.Dims(), local.Kind())
		}
		loaded[comm.Rank()] = local
		return comm.Barrier()
	})
	if err != nil {
		return err
	}

	ids := roaring64.New()
	for _, s := range loaded {
		ids.Or(s.IDs())
	}
	idx.shards = loaded
	idx.ids = ids
	idx.state = state
	idx.opts.Merge = mergeMode
	idx.recordShardRows()
	idx.logger.Info().Int("participants", n).Uint64("size", ids.GetCardinality()).Msg("distributed index loaded")
	return nil
}

func (idx *Index) checkSnapshot(op string, h snapshotHeader, participants int) error {
	switch {
	case h.Kind != idx.kind:
		return qerrors.NewInvalidParameters(op, "snapshot holds a %s index, expected %s", h.Kind, idx.kind)
	case h.Dims != idx.dims:
		return qerrors.NewInvalidParameters(op, "snapshot holds %d-dimensional vectors, expected %d", h.Dims, idx.dims)
	case h.Mode != idx.opts.Mode:
		return qerrors.NewInvalidParameters(op, "snapshot is %s, index is %s", h.Mode, idx.opts.Mode)
	case h.State == Unformed:
		return qerrors.Newf(qerrors.ErrorTypeDistributedInconsistency, op, "snapshot of an unformed index")
	case h.Mode == Sharded && len(h.Lens) != participants:
		return qerrors.Newf(qerrors.ErrorTypeDistributedInconsistency, op,
			"snapshot has %d shards, clique has %d participants", len(h.Lens), participants)
	}
	return nil
}
