package cluster

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

// twoBlobs builds a matrix with two tight, well-separated groups of points.
func twoBlobs() *mat.Dense {
	data := []float64{
		0.0, 0.0,
		0.1, 0.0,
		0.0, 0.1,
		-0.1, 0.0,
		10.0, 10.0,
		10.1, 10.0,
		10.0, 10.1,
		9.9, 10.0,
	}
	return mat.NewDense(8, 2, data)
}

func TestFitPredictSeparatesBlobs(t *testing.T) {
	x := twoBlobs()

	labels, inertia, err := NewKMeans(2, DefaultConfig()).FitPredict(x)
	require.NoError(t, err)
	require.Len(t, labels, 8)

	for _, l := range labels {
		assert.GreaterOrEqual(t, l, 0)
		assert.Less(t, l, 2)
	}

	// All points in the same blob get the same label; the blobs differ.
	for i := 1; i < 4; i++ {
		assert.Equal(t, labels[0], labels[i])
	}
	for i := 5; i < 8; i++ {
		assert.Equal(t, labels[4], labels[i])
	}
	assert.NotEqual(t, labels[0], labels[4])

	assert.Less(t, inertia, 1.0)
}

func TestFitPredictDeterministic(t *testing.T) {
	x := twoBlobs()

	first, _, err := NewKMeans(2, DefaultConfig()).FitPredict(x)
	require.NoError(t, err)
	second, _, err := NewKMeans(2, DefaultConfig()).FitPredict(x)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestFitPredictTooFewRows(t *testing.T) {
	x := mat.NewDense(2, 1, []float64{1, 2})

	_, _, err := NewKMeans(5, DefaultConfig()).FitPredict(x)
	assert.Error(t, err)
}

func TestFitPredictEmptyMatrix(t *testing.T) {
	x := &mat.Dense{}

	_, _, err := NewKMeans(2, DefaultConfig()).FitPredict(x)
	assert.ErrorIs(t, err, ErrNoRows)
}

func TestFitPredictSingleCluster(t *testing.T) {
	x := mat.NewDense(3, 1, []float64{1, 2, 3})

	labels, _, err := NewKMeans(1, DefaultConfig()).FitPredict(x)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 0, 0}, labels)
}

func TestSelectClusterCountFindsTwoBlobs(t *testing.T) {
	pipeline := NewPipeline(DefaultConfig())

	k := pipeline.selectClusterCount(twoBlobs())
	assert.Equal(t, 2, k)
}

func TestSelectClusterCountTinyDataset(t *testing.T) {
	pipeline := NewPipeline(DefaultConfig())

	x := mat.NewDense(2, 1, []float64{0, 1})
	assert.Equal(t, 2, pipeline.selectClusterCount(x))

	x = mat.NewDense(1, 1, []float64{0})
	assert.Equal(t, 1, pipeline.selectClusterCount(x))
}

func TestMeanSilhouette(t *testing.T) {
	x := twoBlobs()
	labels := []int{0, 0, 0, 0, 1, 1, 1, 1}

	good := meanSilhouette(x, labels, 2)
	assert.Greater(t, good, 0.9)

	mixed := []int{0, 1, 0, 1, 0, 1, 0, 1}
	assert.Less(t, meanSilhouette(x, mixed, 2), good)
}
