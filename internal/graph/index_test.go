package graph

import (
	"bytes"
	"math/rand"
	"sort"
	"sync"
	"testing"

	"github.com/23skdu/quiver/internal/core"
	qerrors "github.com/23skdu/quiver/internal/errors"
	"github.com/23skdu/quiver/internal/resources"
	"github.com/23skdu/quiver/internal/simd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomMatrix(rows, dims int, seed int64) core.Matrix {
	rng := rand.New(rand.NewSource(seed))
	m := core.NewMatrix(rows, dims)
	for i := range m.Data {
		m.Data[i] = rng.Float32()*2 - 1
	}
	return m
}

func exactIDs(data core.Matrix, query []float32, k int, metric core.DistanceMetric) []int64 {
	dist := simd.ForMetric(metric)
	all := make([]core.Neighbor, data.Rows)
	for i := range all {
		all[i] = core.Neighbor{ID: int64(i), Distance: dist(query, data.Row(i))}
	}
	sort.Slice(all, func(a, b int) bool { return all[a].Less(all[b]) })
	ids := make([]int64, k)
	for i := range ids {
		ids[i] = all[i].ID
	}
	return ids
}

func testParams() IndexParams {
	p := DefaultIndexParams()
	p.Seed = 3
	return p
}

func TestBuildAndSearchWideCandidateListIsExact(t *testing.T) {
	res := resources.New(0)
	defer res.Close()

	data := randomMatrix(200, 4, 1)
	idx, err := Build(res, testParams(), data, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(200), idx.Size())

	queries := randomMatrix(5, 4, 2)
	got, err := idx.Search(res, SearchParams{ItopkSize: 256}, queries, 10)
	require.NoError(t, err)
	for q := range got {
		require.Len(t, got[q], 10)
		ids := make([]int64, len(got[q]))
		for i, n := range got[q] {
			ids[i] = n.ID
		}
		assert.Equal(t, exactIDs(data, queries.Row(q), 10, core.MetricEuclidean), ids)
	}
}

func TestSearchReportsMetricDistances(t *testing.T) {
	res := resources.New(0)
	defer res.Close()

	p := testParams()
	p.Metric = core.MetricDotProduct
	data := randomMatrix(50, 3, 4)
	idx, err := Build(res, p, data, nil)
	require.NoError(t, err)

	got, err := idx.Search(res, SearchParams{ItopkSize: 64}, data.Slice(0, 1), 5)
	require.NoError(t, err)
	for _, n := range got[0] {
		assert.InDelta(t, simd.NegativeDotProduct(data.Row(0), data.Row(int(n.ID))), n.Distance, 1e-6)
	}
}

func TestExplicitIDs(t *testing.T) {
	res := resources.New(0)
	defer res.Close()

	data := randomMatrix(20, 2, 5)
	ids := make([]int64, 20)
	for i := range ids {
		ids[i] = int64(500 + i)
	}
	idx, err := Build(res, testParams(), data, ids)
	require.NoError(t, err)

	got, err := idx.Search(res, SearchParams{ItopkSize: 32}, data.Slice(7, 8), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(507), got[0][0].ID)
}

func TestKLargerThanSize(t *testing.T) {
	res := resources.New(0)
	defer res.Close()

	idx, err := Build(res, testParams(), randomMatrix(6, 2, 6), nil)
	require.NoError(t, err)
	got, err := idx.Search(res, SearchParams{}, randomMatrix(1, 2, 7), 20)
	require.NoError(t, err)
	assert.Len(t, got[0], 6)
}

func TestValidate(t *testing.T) {
	p := testParams()
	p.GraphDegree = 1
	assert.ErrorIs(t, p.Validate(), qerrors.ErrInvalidParameters)
	p = testParams()
	p.LevelFactor = 0
	assert.ErrorIs(t, p.Validate(), qerrors.ErrInvalidParameters)
	assert.ErrorIs(t, SearchParams{ItopkSize: -1}.Validate(), qerrors.ErrInvalidParameters)
}

func TestSerializeRoundTrip(t *testing.T) {
	res := resources.New(0)
	defer res.Close()

	for _, metric := range []core.DistanceMetric{core.MetricEuclidean, core.MetricCosine, core.MetricDotProduct} {
		p := testParams()
		p.Metric = metric
		data := randomMatrix(150, 4, 8)
		idx, err := Build(res, p, data, nil)
		require.NoError(t, err)

		var buf bytes.Buffer
		require.NoError(t, idx.Serialize(res, &buf))
		loaded, err := Deserialize(res, &buf)
		require.NoError(t, err)
		assert.Equal(t, idx.Size(), loaded.Size())
		assert.Equal(t, metric, loaded.Metric())
		assert.Equal(t, idx.Degree(), loaded.Degree())

		queries := randomMatrix(3, 4, 9)
		want, err := idx.Search(res, SearchParams{ItopkSize: 256}, queries, 5)
		require.NoError(t, err)
		got, err := loaded.Search(res, SearchParams{ItopkSize: 256}, queries, 5)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestConcurrentSearchesWithDifferentWidths(t *testing.T) {
	res := resources.New(0)
	defer res.Close()
	data := randomMatrix(300, 4, 7)
	idx, err := Build(res, testParams(), data, nil)
	require.NoError(t, err)
	queries := randomMatrix(8, 4, 8)

	widths := []int{10, 32, 64, 256}
	want := make([][][]core.Neighbor, len(widths))
	for i, w := range widths {
		want[i], err = idx.Search(res, SearchParams{ItopkSize: w}, queries, 5)
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	got := make([][][][]core.Neighbor, len(widths))
	errs := make([]error, len(widths))
	for i, w := range widths {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h := resources.New(i + 1)
			defer h.Close()
			for range 20 {
				out, err := idx.Search(h, SearchParams{ItopkSize: w}, queries, 5)
				if err != nil {
					errs[i] = err
					return
				}
				got[i] = append(got[i], out)
			}
		}()
	}
	wg.Wait()

	for i := range widths {
		require.NoError(t, errs[i])
		for _, out := range got[i] {
			assert.Equal(t, want[i], out, "width %d", widths[i])
		}
	}
}
