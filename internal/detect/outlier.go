package detect

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
)

// OutlierModel scores a feature matrix; higher scores mean more anomalous.
// Implementations must be deterministic for identical input.
type OutlierModel interface {
	Name() string
	MinSamples() int
	Score(features [][]float64) ([]float64, error)
}

const isolationSeed = 42

// IsolationModel estimates anomaly scores from the average depth at which
// random axis-aligned partitions isolate a sample. Shallow isolation means
// the sample sits far from the bulk of the data.
type IsolationModel struct {
	trees int
}

// NewIsolationModel creates an isolation-partitioning detector with the
// given ensemble size.
func NewIsolationModel(trees int) *IsolationModel {
	if trees <= 0 {
		trees = 64
	}
	return &IsolationModel{trees: trees}
}

func (m *IsolationModel) Name() string { return "isolation_partition" }

func (m *IsolationModel) MinSamples() int { return 2 }

func (m *IsolationModel) Score(features [][]float64) ([]float64, error) {
	n := len(features)
	if n < m.MinSamples() {
		return nil, fmt.Errorf("isolation model needs >= %d samples, got %d", m.MinSamples(), n)
	}

	rng := rand.New(rand.NewSource(isolationSeed))
	heightLimit := int(math.Ceil(math.Log2(float64(n)))) + 1

	depths := make([]float64, n)
	indices := make([]int, n)
	for t := 0; t < m.trees; t++ {
		for i := range indices {
			indices[i] = i
		}
		partition(features, indices, 0, heightLimit, rng, depths)
	}

	scores := make([]float64, n)
	norm := avgPathLength(n)
	for i := range scores {
		avgDepth := depths[i] / float64(m.trees)
		scores[i] = math.Exp2(-avgDepth / norm)
	}
	return scores, nil
}

// partition recursively splits the index set on a random feature value and
// accumulates terminal depths. Nodes whose samples are identical on every
// feature cannot be split and terminate with the unsplit-size adjustment.
func partition(features [][]float64, indices []int, depth, limit int, rng *rand.Rand, depths []float64) {
	if len(indices) == 1 {
		depths[indices[0]] += float64(depth)
		return
	}
	if depth >= limit {
		adjust := float64(depth) + avgPathLength(len(indices))
		for _, idx := range indices {
			depths[idx] += adjust
		}
		return
	}

	splittable := splittableFeatures(features, indices)
	if len(splittable) == 0 {
		adjust := float64(depth) + avgPathLength(len(indices))
		for _, idx := range indices {
			depths[idx] += adjust
		}
		return
	}

	feat := splittable[rng.Intn(len(splittable))]
	lo, hi := featureRange(features, indices, feat)
	cut := lo + rng.Float64()*(hi-lo)

	left := make([]int, 0, len(indices))
	right := make([]int, 0, len(indices))
	for _, idx := range indices {
		if features[idx][feat] < cut {
			left = append(left, idx)
		} else {
			right = append(right, idx)
		}
	}
	// A degenerate cut keeps everything on one side; terminate to avoid
	// unbounded recursion.
	if len(left) == 0 || len(right) == 0 {
		adjust := float64(depth) + avgPathLength(len(indices))
		for _, idx := range indices {
			depths[idx] += adjust
		}
		return
	}
	partition(features, left, depth+1, limit, rng, depths)
	partition(features, right, depth+1, limit, rng, depths)
}

func splittableFeatures(features [][]float64, indices []int) []int {
	if len(indices) == 0 {
		return nil
	}
	dims := len(features[indices[0]])
	out := make([]int, 0, dims)
	for f := 0; f < dims; f++ {
		lo, hi := featureRange(features, indices, f)
		if hi > lo {
			out = append(out, f)
		}
	}
	return out
}

func featureRange(features [][]float64, indices []int, feat int) (float64, float64) {
	lo := features[indices[0]][feat]
	hi := lo
	for _, idx := range indices[1:] {
		v := features[idx][feat]
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi
}

// avgPathLength is the expected unsuccessful-search depth of a binary search
// tree over n items, the standard isolation normaliser.
func avgPathLength(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	}
	const euler = 0.5772156649
	fn := float64(n)
	return 2*(math.Log(fn-1)+euler) - 2*(fn-1)/fn
}

// KNNModel scores each sample by the mean Euclidean distance to its k
// nearest neighbours. Isolated samples accumulate large distances.
type KNNModel struct {
	neighbors  int
	minSamples int
}

// NewKNNModel creates a k-nearest-neighbour distance detector.
func NewKNNModel(neighbors, minSamples int) *KNNModel {
	if neighbors <= 0 {
		neighbors = 5
	}
	if minSamples <= 0 {
		minSamples = 5
	}
	return &KNNModel{neighbors: neighbors, minSamples: minSamples}
}

func (m *KNNModel) Name() string { return "knn_distance" }

func (m *KNNModel) MinSamples() int { return m.minSamples }

func (m *KNNModel) Score(features [][]float64) ([]float64, error) {
	n := len(features)
	if n < m.minSamples {
		return nil, fmt.Errorf("knn model needs >= %d samples, got %d", m.minSamples, n)
	}

	k := m.neighbors
	if k > n-1 {
		k = n - 1
	}

	scores := make([]float64, n)
	dists := make([]float64, 0, n-1)
	for i := 0; i < n; i++ {
		dists = dists[:0]
		for j := 0; j < n; j++ {
			if i == j {
				continue
			}
			dists = append(dists, euclidean(features[i], features[j]))
		}
		sort.Float64s(dists)
		sum := 0.0
		for _, d := range dists[:k] {
			sum += d
		}
		scores[i] = sum / float64(k)
	}
	return scores, nil
}

func euclidean(a, b []float64) float64 {
	sum := 0.0
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}
