package cluster

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

var ErrNoRows = errors.New("feature matrix has no rows")

// KMeans partitions rows of a feature matrix into k clusters using k-means++
// initialization and Lloyd iterations, keeping the lowest-inertia run across
// restarts.
type KMeans struct {
	K             int
	MaxIterations int
	NumRestarts   int

	rng *rand.Rand
}

func NewKMeans(k int, cfg Config) *KMeans {
	return &KMeans{
		K:             k,
		MaxIterations: cfg.MaxIterations,
		NumRestarts:   cfg.NumRestarts,
		rng:           rand.New(rand.NewSource(cfg.Seed)),
	}
}

const convergenceTol = 1e-6

// FitPredict assigns every row of x to a cluster in [0, K) and returns the
// labels along with the inertia (sum of squared distances to centroids) of
// the best run.
func (km *KMeans) FitPredict(x *mat.Dense) ([]int, float64, error) {
	rows, _ := x.Dims()
	if rows == 0 {
		return nil, 0, ErrNoRows
	}
	if km.K < 1 {
		return nil, 0, fmt.Errorf("invalid number of clusters %d", km.K)
	}
	if rows < km.K {
		return nil, 0, fmt.Errorf("cannot form %d clusters from %d rows", km.K, rows)
	}

	bestInertia := math.Inf(1)
	var bestLabels []int

	restarts := km.NumRestarts
	if restarts < 1 {
		restarts = 1
	}

	for run := 0; run < restarts; run++ {
		labels, inertia := km.fitOnce(x)
		if inertia < bestInertia {
			bestInertia = inertia
			bestLabels = labels
		}
	}

	return bestLabels, bestInertia, nil
}

func (km *KMeans) fitOnce(x *mat.Dense) ([]int, float64) {
	rows, cols := x.Dims()

	centroids := km.seedCentroids(x)
	labels := make([]int, rows)
	for i := range labels {
		labels[i] = -1
	}

	var inertia float64
	for iter := 0; iter < km.MaxIterations; iter++ {
		inertia = 0
		changed := false
		for i := 0; i < rows; i++ {
			best, dist := nearestCentroid(x.RawRowView(i), centroids)
			if best != labels[i] {
				labels[i] = best
				changed = true
			}
			inertia += dist
		}

		if !changed && iter > 0 {
			break
		}

		counts := make([]int, km.K)
		next := mat.NewDense(km.K, cols, nil)
		for i := 0; i < rows; i++ {
			counts[labels[i]]++
			row := next.RawRowView(labels[i])
			floats.Add(row, x.RawRowView(i))
		}

		shift := 0.0
		for c := 0; c < km.K; c++ {
			row := next.RawRowView(c)
			if counts[c] == 0 {
				// Re-seed an empty cluster with the point farthest from its
				// centroid, keeping K clusters populated.
				copy(row, x.RawRowView(km.farthestPoint(x, centroids, labels)))
			} else {
				floats.Scale(1/float64(counts[c]), row)
			}
			shift += floats.Distance(row, centroids.RawRowView(c), 2)
		}
		centroids = next

		if shift < convergenceTol {
			break
		}
	}

	// Final assignment against the last centroids.
	inertia = 0
	for i := 0; i < rows; i++ {
		best, dist := nearestCentroid(x.RawRowView(i), centroids)
		labels[i] = best
		inertia += dist
	}

	return labels, inertia
}

// seedCentroids implements k-means++: the first centroid is a random row,
// each subsequent one is drawn with probability proportional to its squared
// distance from the nearest existing centroid.
func (km *KMeans) seedCentroids(x *mat.Dense) *mat.Dense {
	rows, cols := x.Dims()

	centroids := mat.NewDense(km.K, cols, nil)
	centroids.SetRow(0, x.RawRowView(km.rng.Intn(rows)))

	dists := make([]float64, rows)
	for c := 1; c < km.K; c++ {
		total := 0.0
		for i := 0; i < rows; i++ {
			minDist := math.Inf(1)
			for j := 0; j < c; j++ {
				d := squaredDistance(x.RawRowView(i), centroids.RawRowView(j))
				if d < minDist {
					minDist = d
				}
			}
			dists[i] = minDist
			total += minDist
		}

		if total == 0 {
			// All points coincide with existing centroids; any row works.
			centroids.SetRow(c, x.RawRowView(km.rng.Intn(rows)))
			continue
		}

		target := km.rng.Float64() * total
		cumulative := 0.0
		chosen := rows - 1
		for i, d := range dists {
			cumulative += d
			if cumulative >= target {
				chosen = i
				break
			}
		}
		centroids.SetRow(c, x.RawRowView(chosen))
	}

	return centroids
}

func (km *KMeans) farthestPoint(x *mat.Dense, centroids *mat.Dense, labels []int) int {
	rows, _ := x.Dims()
	farthest, maxDist := 0, -1.0
	for i := 0; i < rows; i++ {
		d := squaredDistance(x.RawRowView(i), centroids.RawRowView(labels[i]))
		if d > maxDist {
			maxDist = d
			farthest = i
		}
	}
	return farthest
}

func nearestCentroid(point []float64, centroids *mat.Dense) (int, float64) {
	k, _ := centroids.Dims()
	best, bestDist := 0, math.Inf(1)
	for c := 0; c < k; c++ {
		d := squaredDistance(point, centroids.RawRowView(c))
		if d < bestDist {
			bestDist = d
			best = c
		}
	}
	return best, bestDist
}

func squaredDistance(a, b []float64) float64 {
	var sum float64
	for i := range a {
		diff := a[i] - b[i]
		sum += diff * diff
	}
	return sum
}

// meanSilhouette computes the mean silhouette coefficient of a labeling.
// Points in singleton clusters contribute zero.
func meanSilhouette(x *mat.Dense, labels []int, k int) float64 {
	rows, _ := x.Dims()
	if rows == 0 || k < 2 {
		return 0
	}

	counts := make([]int, k)
	for _, l := range labels {
		counts[l]++
	}

	total := 0.0
	sums := make([]float64, k)
	for i := 0; i < rows; i++ {
		for c := range sums {
			sums[c] = 0
		}
		for j := 0; j < rows; j++ {
			if i == j {
				continue
			}
			sums[labels[j]] += floats.Distance(x.RawRowView(i), x.RawRowView(j), 2)
		}

		own := labels[i]
		if counts[own] <= 1 {
			continue
		}

		a := sums[own] / float64(counts[own]-1)
		b := math.Inf(1)
		for c := 0; c < k; c++ {
			if c == own || counts[c] == 0 {
				continue
			}
			if mean := sums[c] / float64(counts[c]); mean < b {
				b = mean
			}
		}

		if denom := math.Max(a, b); denom > 0 {
			total += (b - a) / denom
		}
	}

	return total / float64(rows)
}
