package ivf

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/23skdu/quiver/internal/codec"
	"github.com/23skdu/quiver/internal/core"
	"github.com/23skdu/quiver/internal/topk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func grid(rows, dims int) core.Matrix {
	rng := rand.New(rand.NewSource(17))
	m := core.NewMatrix(rows, dims)
	for i := range m.Data {
		m.Data[i] = rng.Float32()
	}
	return m
}

func TestTrainAndAssign(t *testing.T) {
	data := grid(300, 4)
	c, _, err := Train(data, TrainConfig{NLists: 8, Iters: 10, TrainsetFraction: 0.5, Metric: core.MetricEuclidean, Seed: 1})
	require.NoError(t, err)
	assert.Len(t, c.Centroids, 8*4)

	// a centroid is assigned to itself
	for i := 0; i < c.NLists; i++ {
		assert.Equal(t, i, c.Assign(c.Centroid(i)))
	}
}

func TestTrainRejectsTooManyLists(t *testing.T) {
	_, _, err := Train(grid(5, 2), TrainConfig{NLists: 6, Seed: 1})
	assert.Error(t, err)
	_, _, err = Train(grid(5, 2), TrainConfig{NLists: 0})
	assert.Error(t, err)
}

func TestProbeOrder(t *testing.T) {
	c := New(3, 1, []float32{0, 10, 5}, core.MetricEuclidean)
	sel := topk.New(0)
	assert.Equal(t, []int{1, 2}, c.Probe([]float32{9}, 2, sel))
	assert.Equal(t, []int{0, 2, 1}, c.Probe([]float32{0}, 3, sel))
}

func TestCoarseRoundTrip(t *testing.T) {
	c := New(2, 2, []float32{1, 2, 3, 4}, core.MetricCosine)
	var buf bytes.Buffer
	w := codec.NewWriter(&buf)
	c.WriteTo(w)
	require.NoError(t, w.Err())

	got, err := Read(codec.NewReader(&buf))
	require.NoError(t, err)
	assert.Equal(t, c.Centroids, got.Centroids)
	assert.Equal(t, core.MetricCosine, got.Metric())
}
