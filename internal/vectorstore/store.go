package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/hupe1980/vecgraph/distance"
)

var (
	// ErrWrongDimension is returned when a vector doesn't match the store dimension.
	ErrWrongDimension = errors.New("wrong vector dimension")

	// ErrIDOutOfRange is returned when an id does not address a stored vector.
	ErrIDOutOfRange = errors.New("id out of range")
)

// DimensionError reports a vector whose length differs from the store dimension.
type DimensionError struct {
	Expected int
	Actual   int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("%v: expected %d, got %d", ErrWrongDimension, e.Expected, e.Actual)
}

func (e *DimensionError) Unwrap() error { return ErrWrongDimension }

// RangeError reports a lookup of an id that is not stored.
type RangeError struct {
	ID    uint64
	Count uint64
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("%v: id %d, count %d", ErrIDOutOfRange, e.ID, e.Count)
}

func (e *RangeError) Unwrap() error { return ErrIDOutOfRange }

// MemoryAcquirer reserves memory before the store grows.
type MemoryAcquirer interface {
	AcquireMemory(ctx context.Context, amount int64) error
	ReleaseMemory(amount int64)
}

// Store is a dense columnar vector store.
type Store struct {
	dim   int
	data  []float32
	norms []float32 // nil unless created WithNorms

	acquirer MemoryAcquirer
	reserved int64
}

// Option configures a Store.
type Option func(*Store)

// WithNorms caches the L2 norm of every appended vector.
func WithNorms() Option {
	return func(s *Store) {
		s.norms = make([]float32, 0)
	}
}

// WithMemoryAcquirer accounts every capacity growth against acquirer.
func WithMemoryAcquirer(acquirer MemoryAcquirer) Option {
	return func(s *Store) {
		s.acquirer = acquirer
	}
}

// New creates an empty store for vectors of the given dimension.
func New(dim int, optFns ...Option) (*Store, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("vectorstore: invalid dimension %d", dim)
	}

	s := &Store{dim: dim}
	for _, fn := range optFns {
		fn(s)
	}

	return s, nil
}

// FromData wraps an existing contiguous payload. The slice is owned by the
// store afterwards. Norms are recomputed when withNorms is set.
func FromData(dim int, data []float32, withNorms bool) (*Store, error) {
	if dim <= 0 || len(data)%dim != 0 {
		return nil, fmt.Errorf("vectorstore: payload of %d floats does not fit dimension %d", len(data), dim)
	}

	s := &Store{dim: dim, data: data}
	if withNorms {
		n := len(data) / dim
		s.norms = make([]float32, n)
		for i := range n {
			s.norms[i] = distance.Norm(data[i*dim : (i+1)*dim])
		}
	}

	return s, nil
}

// Reserve grows the capacity to hold n vectors in total.
func (s *Store) Reserve(ctx context.Context, n int) error {
	need := n * s.dim
	if need <= cap(s.data) {
		return nil
	}

	if s.acquirer != nil {
		bytes := int64(need-cap(s.data)) * 4
		if err := s.acquirer.AcquireMemory(ctx, bytes); err != nil {
			return err
		}
		s.reserved += bytes
	}

	s.data = slices.Grow(s.data, need-len(s.data))
	if s.norms != nil {
		s.norms = slices.Grow(s.norms, n-len(s.norms))
	}

	return nil
}

// Append copies v into the store and returns its id.
func (s *Store) Append(ctx context.Context, v []float32) (uint32, error) {
	if len(v) != s.dim {
		return 0, &DimensionError{Expected: s.dim, Actual: len(v)}
	}

	count := s.Count()
	if len(s.data)+s.dim > cap(s.data) {
		if err := s.Reserve(ctx, max(2*count, count+1, 64)); err != nil {
			return 0, err
		}
	}

	s.data = append(s.data, v...)
	if s.norms != nil {
		s.norms = append(s.norms, distance.Norm(v))
	}

	return uint32(count), nil
}

// Dimension returns the vector dimensionality.
func (s *Store) Dimension() int {
	return s.dim
}

// Count returns the number of stored vectors.
func (s *Store) Count() int {
	return len(s.data) / s.dim
}

// Bytes returns the payload size in bytes.
func (s *Store) Bytes() int64 {
	return int64(len(s.data)) * 4
}

// Vector returns the stored vector without bounds checks beyond the slice's own.
// The returned slice aliases internal memory; do not modify.
func (s *Store) Vector(id uint32) []float32 {
	start := int(id) * s.dim
	return s.data[start : start+s.dim : start+s.dim]
}

// Norm returns the cached L2 norm of id, or computes it when norms are not cached.
func (s *Store) Norm(id uint32) float32 {
	if s.norms != nil {
		return s.norms[id]
	}
	return distance.Norm(s.Vector(id))
}

// Get returns the vector at id. The returned slice aliases internal memory; do not modify.
func (s *Store) Get(id uint64) ([]float32, error) {
	count := uint64(s.Count())
	if id >= count {
		return nil, &RangeError{ID: id, Count: count}
	}
	return s.Vector(uint32(id)), nil
}

// GetMany returns copies of the vectors at ids, in order. It fails without
// partial output when any id is out of range.
func (s *Store) GetMany(ids []uint64) ([][]float32, error) {
	count := uint64(s.Count())
	for _, id := range ids {
		if id >= count {
			return nil, &RangeError{ID: id, Count: count}
		}
	}

	buf := make([]float32, len(ids)*s.dim)
	out := make([][]float32, len(ids))
	for i, id := range ids {
		dst := buf[i*s.dim : (i+1)*s.dim : (i+1)*s.dim]
		copy(dst, s.Vector(uint32(id)))
		out[i] = dst
	}

	return out, nil
}

// Score computes the metric score between the stored vector id and q.
// qNorm is only read by metrics that need it.
func (s *Store) Score(m distance.Metric, id uint32, q []float32, qNorm float32) float32 {
	if m.NeedsNorm() {
		return m.Score(q, s.Vector(id), qNorm, s.Norm(id))
	}
	return m.Score(q, s.Vector(id), 0, 0)
}

// Pair computes the metric score between two stored vectors.
func (s *Store) Pair(m distance.Metric, a, b uint32) float32 {
	if m.NeedsNorm() {
		return m.Score(s.Vector(a), s.Vector(b), s.Norm(a), s.Norm(b))
	}
	return m.Score(s.Vector(a), s.Vector(b), 0, 0)
}

// RawData returns the underlying contiguous float32 slice.
// The returned slice aliases internal memory; do not modify.
func (s *Store) RawData() []float32 {
	return s.data
}

// Release returns reserved memory to the acquirer and drops the payload.
func (s *Store) Release() {
	if s.acquirer != nil && s.reserved > 0 {
		s.acquirer.ReleaseMemory(s.reserved)
		s.reserved = 0
	}
	s.data = nil
	if s.norms != nil {
		s.norms = s.norms[:0:0]
	}
}
