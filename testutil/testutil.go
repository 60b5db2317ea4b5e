package testutil

import (
	"math"
	"math/rand"
	"sort"
	"sync"

	"github.com/hupe1980/vecgraph/distance"
)

// SearchResult represents a search result.
type SearchResult struct {
	ID       uint64
	Distance float32
}

// RNG struct encapsulates the random number generator and seed.
// It is thread-safe.
type RNG struct {
	rand *rand.Rand
	seed int64
	mu   sync.Mutex
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)),
		seed: seed,
	}
}

// Seed returns the initial seed.
func (r *RNG) Seed() int64 {
	return r.seed
}

// Intn returns a non-negative pseudo-random number in [0,n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// FillUniform fills dst with random values in range [0, 1).
func (r *RNG) FillUniform(dst []float32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range dst {
		dst[i] = r.rand.Float32()
	}
}

// UniformVectors generates random vectors with values in range [0, 1).
// Uses a single backing array for efficiency.
func (r *RNG) UniformVectors(num int, dimensions int) [][]float32 {
	return r.generate(num, dimensions, func(rnd *rand.Rand) float32 {
		return rnd.Float32()
	})
}

// UniformRangeVectors generates random vectors with values in range [-1, 1).
func (r *RNG) UniformRangeVectors(num int, dimensions int) [][]float32 {
	return r.generate(num, dimensions, func(rnd *rand.Rand) float32 {
		return rnd.Float32()*2 - 1
	})
}

// GaussianVectors generates random vectors with values from a standard normal distribution.
func (r *RNG) GaussianVectors(num int, dimensions int) [][]float32 {
	return r.generate(num, dimensions, func(rnd *rand.Rand) float32 {
		return float32(rnd.NormFloat64())
	})
}

// UnitVectors generates L2-normalized random vectors (on the hypersphere).
func (r *RNG) UnitVectors(num int, dimensions int) [][]float32 {
	vectors := r.GaussianVectors(num, dimensions)
	for _, vec := range vectors {
		norm := distance.Norm(vec)
		if norm == 0 {
			vec[0], norm = 1, 1
		}
		for j := range vec {
			vec[j] /= norm
		}
	}
	return vectors
}

// ClusteredVectors generates vectors clustered around random unit centroids.
func (r *RNG) ClusteredVectors(num, dim, clusters int, spread float32) [][]float32 {
	centroids := r.UnitVectors(clusters, dim)

	r.mu.Lock()
	defer r.mu.Unlock()

	data := make([]float32, num*dim)
	vectors := make([][]float32, num)

	for i := range num {
		centroid := centroids[i%clusters]
		vec := data[i*dim : (i+1)*dim]
		for j := range dim {
			vec[j] = centroid[j] + float32(r.rand.NormFloat64())*spread
		}
		vectors[i] = vec
	}

	return vectors
}

func (r *RNG) generate(num, dimensions int, next func(*rand.Rand) float32) [][]float32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	data := make([]float32, num*dimensions)
	vectors := make([][]float32, num)

	for i := range num {
		vec := data[i*dimensions : (i+1)*dimensions]
		for j := range vec {
			vec[j] = next(r.rand)
		}
		vectors[i] = vec
	}

	return vectors
}

// ComputeRecall computes recall@k by comparing approximate results against ground truth.
func ComputeRecall(groundTruth, approximate []SearchResult) float64 {
	if len(groundTruth) == 0 || len(approximate) == 0 {
		if len(groundTruth) == 0 && len(approximate) == 0 {
			return 1.0
		}
		return 0.0
	}

	k := min(len(approximate), len(groundTruth))

	truthSet := make(map[uint64]struct{}, k)
	for i := range k {
		truthSet[groundTruth[i].ID] = struct{}{}
	}

	hits := 0
	for _, r := range approximate[:k] {
		if _, ok := truthSet[r.ID]; ok {
			hits++
		}
	}

	return float64(hits) / float64(k)
}

// MeanRecall averages ComputeRecall over a batch.
func MeanRecall(groundTruth, approximate [][]SearchResult) float64 {
	if len(groundTruth) == 0 {
		return 1.0
	}

	var sum float64
	for i := range groundTruth {
		sum += ComputeRecall(groundTruth[i], approximate[i])
	}

	return sum / float64(len(groundTruth))
}

// BruteForceSearch performs exact search for ground truth under metric.
// Ties are ordered by ascending id. admit may be nil.
func BruteForceSearch(metric distance.Metric, vectors [][]float32, query []float32, k int, admit func(id uint64) bool) []SearchResult {
	qNorm := distance.Norm(query)

	results := make([]SearchResult, 0, len(vectors))
	for i, v := range vectors {
		if admit != nil && !admit(uint64(i)) {
			continue
		}
		results = append(results, SearchResult{ID: uint64(i), Distance: metric.Score(query, v, qNorm, distance.Norm(v))})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Distance != results[j].Distance {
			return results[i].Distance < results[j].Distance
		}
		return results[i].ID < results[j].ID
	})

	if len(results) > k {
		results = results[:k]
	}

	return results
}

// RangeGroundTruth returns the ids of all vectors scoring within radius of query.
func RangeGroundTruth(metric distance.Metric, vectors [][]float32, query []float32, radius float32) map[uint64]float32 {
	qNorm := distance.Norm(query)
	out := make(map[uint64]float32)

	for i, v := range vectors {
		if d := metric.Score(query, v, qNorm, distance.Norm(v)); d <= radius && !math.IsNaN(float64(d)) {
			out[uint64(i)] = d
		}
	}

	return out
}
