package vecgraph

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/vecgraph/distance"
	"github.com/hupe1980/vecgraph/internal/hnsw"
	"github.com/hupe1980/vecgraph/internal/persistence"
	"github.com/hupe1980/vecgraph/internal/vectorstore"
	"github.com/hupe1980/vecgraph/resource"
)

var (
	// ErrInvalidParameter is returned for out-of-range parameters and unusable vectors.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrNotBuilt is returned by read operations on an index that was neither built nor loaded.
	ErrNotBuilt = errors.New("index is not built")

	// ErrAlreadyBuilt is returned by Build or Deserialize on an index that is not empty.
	ErrAlreadyBuilt = errors.New("index is already built")

	// ErrClosed is returned by operations on an index after Close.
	ErrClosed = errors.New("index is closed")

	// ErrCorruptData is returned when persisted bytes are malformed, truncated or fail their checksum.
	ErrCorruptData = errors.New("corrupt index data")

	// ErrIOFailure is matched by every *ErrIO.
	ErrIOFailure = errors.New("io failure")
)

// ErrDimensionMismatch indicates a vector or query whose length differs from the index dimension.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
	cause    error
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

func (e *ErrDimensionMismatch) Unwrap() error { return e.cause }

// ErrIDOutOfRange indicates a lookup of an id that was never inserted.
type ErrIDOutOfRange struct {
	ID    uint64
	Count uint64
	cause error
}

func (e *ErrIDOutOfRange) Error() string {
	return fmt.Sprintf("id %d out of range [0, %d)", e.ID, e.Count)
}

func (e *ErrIDOutOfRange) Unwrap() error { return e.cause }

// ErrParamMismatch indicates that the parameters supplied to Deserialize
// disagree with the ones stored in the file.
type ErrParamMismatch struct {
	Param    string
	Expected string
	Actual   string
}

func (e *ErrParamMismatch) Error() string {
	return fmt.Sprintf("parameter mismatch: %s expected %s, file has %s", e.Param, e.Expected, e.Actual)
}

// ErrIO wraps a storage failure with the operation and path involved.
type ErrIO struct {
	Op   string
	Path string
	Err  error
}

func (e *ErrIO) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *ErrIO) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrIOFailure) hold for every *ErrIO.
func (e *ErrIO) Is(target error) bool { return target == ErrIOFailure }

func invalidParam(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidParameter, fmt.Sprintf(format, args...))
}

// translateError maps errors of the internal packages onto the public taxonomy.
func translateError(err error) error {
	if err == nil {
		return nil
	}

	var dm *hnsw.ErrDimensionMismatch
	if errors.As(err, &dm) {
		return &ErrDimensionMismatch{Expected: dm.Expected, Actual: dm.Actual, cause: err}
	}
	var vdm *vectorstore.DimensionError
	if errors.As(err, &vdm) {
		return &ErrDimensionMismatch{Expected: vdm.Expected, Actual: vdm.Actual, cause: err}
	}

	var oor *vectorstore.RangeError
	if errors.As(err, &oor) {
		return &ErrIDOutOfRange{ID: oor.ID, Count: oor.Count, cause: err}
	}

	var opt *hnsw.ErrInvalidOption
	if errors.As(err, &opt) {
		return fmt.Errorf("%w: %w", ErrInvalidParameter, err)
	}

	switch {
	case errors.Is(err, hnsw.ErrZeroVector),
		errors.Is(err, hnsw.ErrNonFinite),
		errors.Is(err, distance.ErrUnknownMetric),
		errors.Is(err, persistence.ErrUnknownEncoding):
		return fmt.Errorf("%w: %w", ErrInvalidParameter, err)
	case errors.Is(err, persistence.ErrCorrupt),
		errors.Is(err, hnsw.ErrCorruptGraph):
		return fmt.Errorf("%w: %w", ErrCorruptData, err)
	}

	return err
}

// ioError wraps err as *ErrIO unless it already belongs to the public
// taxonomy or is a context error.
func ioError(op, path string, err error) error {
	if err == nil {
		return nil
	}

	err = translateError(err)

	var pm *ErrParamMismatch
	switch {
	case errors.Is(err, ErrCorruptData),
		errors.Is(err, ErrInvalidParameter),
		errors.Is(err, ErrIOFailure),
		errors.Is(err, ErrNotBuilt),
		errors.Is(err, ErrAlreadyBuilt),
		errors.Is(err, ErrClosed),
		errors.Is(err, resource.ErrMemoryLimit),
		errors.As(err, &pm),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return err
	}

	return &ErrIO{Op: op, Path: path, Err: err}
}
