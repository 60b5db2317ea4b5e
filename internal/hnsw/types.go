package hnsw

import (
	"errors"
	"fmt"

	"github.com/hupe1980/vecgraph/distance"
)

var (
	ErrZeroVector   = errors.New("zero vector has no direction under the cosine metric")
	ErrNonFinite    = errors.New("vector contains NaN or Inf")
	ErrCorruptGraph = errors.New("corrupt graph layout")
)

// ErrInvalidOption reports an out-of-range construction or search parameter.
type ErrInvalidOption struct {
	Name   string
	Reason string
}

func (e *ErrInvalidOption) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Name, e.Reason)
}

// ErrDimensionMismatch reports a vector whose length differs from the graph dimension.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// Options configures graph construction.
type Options struct {
	// Dimension is the vector dimensionality.
	Dimension int

	// Metric is the scoring metric.
	Metric distance.Metric

	// M is the max connections per node on upper layers.
	M int

	// EfConstruction is the beam width used while linking.
	EfConstruction int

	// Alpha relaxes the diversity rule when > 1. It is ignored for IP,
	// whose scores are not scale-invariant.
	Alpha float32

	// RandomSeed seeds level assignment. Nil draws a seed from the clock.
	RandomSeed *int64
}

// Validate checks the options.
func (o Options) Validate() error {
	switch {
	case o.Dimension <= 0:
		return &ErrInvalidOption{Name: "dim", Reason: fmt.Sprintf("must be positive, got %d", o.Dimension)}
	case !o.Metric.Valid():
		return &ErrInvalidOption{Name: "metric_type", Reason: fmt.Sprintf("unsupported metric %v", o.Metric)}
	case o.M <= 0:
		return &ErrInvalidOption{Name: "M", Reason: fmt.Sprintf("must be positive, got %d", o.M)}
	case o.M > maxM:
		return &ErrInvalidOption{Name: "M", Reason: fmt.Sprintf("must be at most %d, got %d", maxM, o.M)}
	case o.EfConstruction < 1:
		return &ErrInvalidOption{Name: "ef_construction", Reason: fmt.Sprintf("must be at least 1, got %d", o.EfConstruction)}
	case o.Alpha < 1:
		return &ErrInvalidOption{Name: "alpha", Reason: fmt.Sprintf("must be at least 1, got %g", o.Alpha)}
	}
	return nil
}

// Neighbor is a directed edge with the cached score between its endpoints.
type Neighbor struct {
	ID   uint32
	Dist float32
}

// SearchResult is a single scored hit.
type SearchResult struct {
	ID       uint32
	Distance float32
}

// Filter decides which node ids may appear in results.
// Filtered-out nodes are still traversed.
type Filter interface {
	Matches(id uint32) bool
}

// Bitmap is a Filter that can enumerate its admitted ids.
// Small bitmaps are scored directly instead of traversing the graph.
type Bitmap interface {
	Filter
	Cardinality() uint64
	ForEach(fn func(id uint32) bool)
}

// LevelStats describes one layer of the graph.
type LevelStats struct {
	Level          int
	Nodes          int
	Connections    int
	AvgConnections float64
}

// Stats describes the graph shape.
type Stats struct {
	Nodes      int
	EntryPoint uint32
	MaxLevel   int
	Seed       uint64
	Levels     []LevelStats
}
