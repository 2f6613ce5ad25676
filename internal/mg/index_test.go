package mg

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/quiver/internal/ann"
	"github.com/23skdu/quiver/internal/clique"
	"github.com/23skdu/quiver/internal/codec"
	"github.com/23skdu/quiver/internal/core"
	qerrors "github.com/23skdu/quiver/internal/errors"
	"github.com/23skdu/quiver/internal/graph"
	"github.com/23skdu/quiver/internal/ivfflat"
	"github.com/23skdu/quiver/internal/resources"
)

func randomMatrix(rows, dims int, seed int64) core.Matrix {
	rng := rand.New(rand.NewSource(seed))
	m := core.NewMatrix(rows, dims)
	for i := range m.Data {
		m.Data[i] = rng.Float32()*2 - 1
	}
	return m
}

func newClique(t *testing.T, n int) *clique.Clique {
	t.Helper()
	ids := make([]int, n)
	for i := range ids {
		ids[i] = i
	}
	c, err := clique.New(clique.Config{DeviceIDs: ids}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func flatParams() ivfflat.IndexParams {
	p := ivfflat.DefaultIndexParams()
	p.NLists = 10
	p.Seed = 11
	return p
}

func singleDevice(t *testing.T, data, queries core.Matrix, params ann.IndexParams, search ann.SearchParams, k int) [][]core.Neighbor {
	t.Helper()
	res := resources.New(0)
	defer res.Close()
	idx, err := ann.New(params, data.Dims)
	require.NoError(t, err)
	require.NoError(t, idx.Build(res, params, data))
	out, err := idx.Search(res, search, queries, k)
	require.NoError(t, err)
	return out
}

func TestShardedSearchMatchesSingleDevice(t *testing.T) {
	data := randomMatrix(1000, 4, 1)
	queries := randomMatrix(20, 4, 2)
	exhaustive := ivfflat.SearchParams{NProbes: 10}
	want := singleDevice(t, data, queries, flatParams(), exhaustive, 10)

	for _, mode := range []MergeMode{MergeGlobalDistance, MergeTree, MergeDeduplicate} {
		t.Run(mode.String(), func(t *testing.T) {
			idx, err := New(newClique(t, 4), flatParams(), 4, Options{Merge: mode, Logger: zerolog.Nop()})
			require.NoError(t, err)
			assert.Equal(t, Unformed, idx.State())
			require.NoError(t, idx.Build(flatParams(), data))
			assert.Equal(t, Built, idx.State())

			got, err := idx.Search(exhaustive, queries, 10)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}

func TestTreeMergeOddCliqueAndRoot(t *testing.T) {
	data := randomMatrix(500, 4, 3)
	queries := randomMatrix(7, 4, 4)
	search := ivfflat.SearchParams{NProbes: 10}
	want := singleDevice(t, data, queries, flatParams(), search, 5)

	c, err := clique.New(clique.Config{DeviceIDs: []int{4, 5, 6}, RootRank: 1}, zerolog.Nop())
	require.NoError(t, err)
	defer c.Close()

	idx, err := New(c, flatParams(), 4, Options{Merge: MergeTree})
	require.NoError(t, err)
	require.NoError(t, idx.Build(flatParams(), data))
	got, err := idx.Search(search, queries, 5)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestReplicatedSearchMatchesSingleDevice(t *testing.T) {
	data := randomMatrix(400, 4, 5)
	queries := randomMatrix(9, 4, 6)
	search := ivfflat.SearchParams{NProbes: 3}
	want := singleDevice(t, data, queries, flatParams(), search, 8)

	idx, err := New(newClique(t, 4), flatParams(), 4, Options{Mode: Replicated})
	require.NoError(t, err)
	require.NoError(t, idx.Build(flatParams(), data))
	size, err := idx.Size()
	require.NoError(t, err)
	assert.Equal(t, int64(400), size)

	got, err := idx.Search(search, queries, 8)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	// fewer queries than participants
	got, err = idx.Search(search, queries.Slice(0, 2), 8)
	require.NoError(t, err)
	assert.Equal(t, want[:2], got)
}

func TestFailedBuildLeavesIndexUnformed(t *testing.T) {
	idx, err := New(newClique(t, 4), flatParams(), 4, Options{})
	require.NoError(t, err)

	// shards get 250, 250, 250 and 253 rows; only the last can train 251 lists
	p := flatParams()
	p.NLists = 251
	err = idx.Build(p, randomMatrix(1003, 4, 7))
	require.Error(t, err)
	assert.ErrorIs(t, err, qerrors.ErrDistributedInconsistency)
	assert.Equal(t, Unformed, idx.State())
	_, err = idx.Size()
	assert.ErrorIs(t, err, qerrors.ErrNotBuilt)

	// a failed rebuild keeps the earlier build
	require.NoError(t, idx.Build(flatParams(), randomMatrix(200, 4, 8)))
	assert.Error(t, idx.Build(p, randomMatrix(1003, 4, 7)))
	assert.Equal(t, Built, idx.State())
	size, err := idx.Size()
	require.NoError(t, err)
	assert.Equal(t, int64(200), size)
}

func TestExtend(t *testing.T) {
	data := randomMatrix(400, 4, 9)
	idx, err := New(newClique(t, 3), flatParams(), 4, Options{})
	require.NoError(t, err)
	assert.ErrorIs(t, idx.Extend(randomMatrix(5, 4, 10), nil), qerrors.ErrNotBuilt)

	require.NoError(t, idx.Build(flatParams(), data))
	extra := randomMatrix(50, 4, 10)
	require.NoError(t, idx.Extend(extra, nil))
	assert.Equal(t, Extended, idx.State())
	size, err := idx.Size()
	require.NoError(t, err)
	assert.Equal(t, int64(450), size)

	// an appended vector is found under its continued id
	got, err := idx.Search(ivfflat.SearchParams{NProbes: 10}, extra.Slice(49, 50), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(449), got[0][0].ID)

	// fewer rows than participants
	require.NoError(t, idx.Extend(randomMatrix(2, 4, 11), []int64{1000, 1001}))
	assert.ErrorIs(t, idx.Extend(randomMatrix(1, 4, 12), []int64{1000}), qerrors.ErrInvalidParameters)
	size, err = idx.Size()
	require.NoError(t, err)
	assert.Equal(t, int64(452), size)
}

func TestGraphExtendUnsupported(t *testing.T) {
	p := graph.DefaultIndexParams()
	idx, err := New(newClique(t, 2), p, 4, Options{})
	require.NoError(t, err)
	require.NoError(t, idx.Build(p, randomMatrix(100, 4, 13)))
	assert.ErrorIs(t, idx.Extend(randomMatrix(2, 4, 14), nil), qerrors.ErrUnsupportedOperation)
}

func TestSearchValidation(t *testing.T) {
	idx, err := New(newClique(t, 2), flatParams(), 4, Options{})
	require.NoError(t, err)
	_, err = idx.Search(ivfflat.SearchParams{NProbes: 1}, randomMatrix(1, 4, 1), 1)
	assert.ErrorIs(t, err, qerrors.ErrNotBuilt)

	require.NoError(t, idx.Build(flatParams(), randomMatrix(100, 4, 1)))
	_, err = idx.Search(graph.SearchParams{}, randomMatrix(1, 4, 1), 1)
	assert.ErrorIs(t, err, qerrors.ErrInvalidParameters)
	_, err = idx.Search(ivfflat.SearchParams{NProbes: 11}, randomMatrix(1, 4, 1), 1)
	assert.ErrorIs(t, err, qerrors.ErrInvalidParameters)
	// rejected before any participant runs
	assert.NotErrorIs(t, err, qerrors.ErrDistributedInconsistency)
	assert.Equal(t, qerrors.ErrorTypeInvalidParameters, qerrors.TypeOf(err))
}

func TestProbesExceedingListsRejectedBeforeCollective(t *testing.T) {
	params := ivfflat.DefaultIndexParams()
	params.NLists = 1
	for _, mode := range []DistributionMode{Sharded, Replicated} {
		t.Run(mode.String(), func(t *testing.T) {
			idx, err := New(newClique(t, 2), params, 4, Options{Mode: mode})
			require.NoError(t, err)
			require.NoError(t, idx.Build(params, randomMatrix(40, 4, 23)))

			_, err = idx.SearchWithMerge(ivfflat.SearchParams{NProbes: 2}, MergeTree, randomMatrix(3, 4, 24), 5)
			assert.True(t, qerrors.IsType(err, qerrors.ErrorTypeInvalidParameters))
			assert.False(t, qerrors.IsType(err, qerrors.ErrorTypeDistributedInconsistency))
		})
	}
}

func TestNewValidation(t *testing.T) {
	c := newClique(t, 1)
	_, err := New(nil, flatParams(), 4, Options{})
	assert.ErrorIs(t, err, qerrors.ErrInvalidParameters)
	_, err = New(c, flatParams(), 4, Options{Merge: MergeMode(7)})
	assert.ErrorIs(t, err, qerrors.ErrInvalidParameters)
	_, err = New(c, flatParams(), 4, Options{Mode: DistributionMode(7)})
	assert.ErrorIs(t, err, qerrors.ErrInvalidParameters)

	idx, err := New(newClique(t, 4), flatParams(), 4, Options{})
	require.NoError(t, err)
	assert.ErrorIs(t, idx.Build(flatParams(), randomMatrix(3, 4, 1)), qerrors.ErrInvalidParameters)
}

func TestSaveLoadReproducesSearch(t *testing.T) {
	data := randomMatrix(600, 4, 15)
	queries := randomMatrix(6, 4, 16)
	search := ivfflat.SearchParams{NProbes: 4}

	for _, mode := range []DistributionMode{Sharded, Replicated} {
		t.Run(mode.String(), func(t *testing.T) {
			src, err := New(newClique(t, 3), flatParams(), 4, Options{Mode: mode, Compression: codec.CompressionZstd})
			require.NoError(t, err)
			require.NoError(t, src.Build(flatParams(), data))
			want, err := src.Search(search, queries, 5)
			require.NoError(t, err)

			var buf bytes.Buffer
			require.NoError(t, src.Save(&buf))

			dst, err := New(newClique(t, 3), flatParams(), 4, Options{Mode: mode})
			require.NoError(t, err)
			require.NoError(t, dst.Load(&buf))
			assert.Equal(t, Built, dst.State())
			size, err := dst.Size()
			require.NoError(t, err)
			assert.Equal(t, int64(600), size)

			got, err := dst.Search(search, queries, 5)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}

func TestLoadShardCountMismatch(t *testing.T) {
	src, err := New(newClique(t, 4), flatParams(), 4, Options{})
	require.NoError(t, err)
	require.NoError(t, src.Build(flatParams(), randomMatrix(400, 4, 17)))
	var buf bytes.Buffer
	require.NoError(t, src.Save(&buf))

	dst, err := New(newClique(t, 2), flatParams(), 4, Options{})
	require.NoError(t, err)
	err = dst.Load(&buf)
	assert.True(t, qerrors.IsType(err, qerrors.ErrorTypeDistributedInconsistency))
	assert.Equal(t, Unformed, dst.State())
}

func TestSaveUnformed(t *testing.T) {
	idx, err := New(newClique(t, 2), flatParams(), 4, Options{})
	require.NoError(t, err)
	assert.ErrorIs(t, idx.Save(&bytes.Buffer{}), qerrors.ErrNotBuilt)
}

func TestLoadCorruptSnapshot(t *testing.T) {
	idx, err := New(newClique(t, 2), flatParams(), 4, Options{})
	require.NoError(t, err)
	err = idx.Load(bytes.NewReader([]byte("not a snapshot at all")))
	assert.ErrorIs(t, err, qerrors.ErrIOFailure)
}

func TestSearchWithMergeOverridesConfiguredMode(t *testing.T) {
	data := randomMatrix(400, 4, 21)
	queries := randomMatrix(5, 4, 22)
	search := ivfflat.SearchParams{NProbes: 10}
	want := singleDevice(t, data, queries, flatParams(), search, 8)

	idx, err := New(newClique(t, 2), flatParams(), 4, Options{Merge: MergeDeduplicate})
	require.NoError(t, err)
	require.NoError(t, idx.Build(flatParams(), data))

	got, err := idx.SearchWithMerge(search, MergeTree, queries, 8)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, MergeDeduplicate, idx.MergeMode())

	require.NoError(t, idx.SetMergeMode(MergeGlobalDistance))
	assert.Equal(t, MergeGlobalDistance, idx.MergeMode())
	assert.True(t, qerrors.IsType(idx.SetMergeMode(MergeMode(9)), qerrors.ErrorTypeInvalidParameters))

	_, err = idx.SearchWithMerge(search, MergeMode(9), queries, 8)
	assert.True(t, qerrors.IsType(err, qerrors.ErrorTypeInvalidParameters))
}

func TestShardedSearchKLargerThanSize(t *testing.T) {
	params := ivfflat.DefaultIndexParams()
	params.NLists = 2
	params.Seed = 5
	idx, err := New(newClique(t, 3), params, 4, Options{})
	require.NoError(t, err)
	require.NoError(t, idx.Build(params, randomMatrix(12, 4, 9)))

	out, err := idx.Search(ivfflat.SearchParams{NProbes: 2}, randomMatrix(2, 4, 10), 50)
	require.NoError(t, err)
	require.Len(t, out, 2)
	for _, row := range out {
		assert.Len(t, row, 12)
		seen := map[int64]bool{}
		for i, n := range row {
			assert.False(t, seen[n.ID], "duplicate id %d", n.ID)
			seen[n.ID] = true
			if i > 0 {
				assert.LessOrEqual(t, row[i-1].Distance, n.Distance)
			}
		}
	}
}

func TestLoadRestoresMergeMode(t *testing.T) {
	src, err := New(newClique(t, 2), flatParams(), 4, Options{Merge: MergeDeduplicate})
	require.NoError(t, err)
	require.NoError(t, src.Build(flatParams(), randomMatrix(200, 4, 21)))
	var buf bytes.Buffer
	require.NoError(t, src.Save(&buf))

	dst, err := New(newClique(t, 2), flatParams(), 4, Options{Merge: MergeTree})
	require.NoError(t, err)
	require.NoError(t, dst.Load(&buf))
	assert.Equal(t, MergeDeduplicate, dst.MergeMode())
}

func TestLoadRejectsUnknownMergeMode(t *testing.T) {
	src, err := New(newClique(t, 2), flatParams(), 4, Options{})
	require.NoError(t, err)
	require.NoError(t, src.Build(flatParams(), randomMatrix(200, 4, 22)))
	var buf bytes.Buffer
	require.NoError(t, src.Save(&buf))

	raw := buf.Bytes()
	raw[9] = 0x7f // merge mode byte follows magic, version and distribution mode
	dst, err := New(newClique(t, 2), flatParams(), 4, Options{})
	require.NoError(t, err)
	err = dst.Load(bytes.NewReader(raw))
	assert.ErrorIs(t, err, qerrors.ErrIOFailure)
	assert.Equal(t, Unformed, dst.State())
}
