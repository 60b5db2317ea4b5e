package distance

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrUnknownMetric is returned by ParseMetric for names outside the metric set.
var ErrUnknownMetric = errors.New("unknown metric")

// Dot calculates the dot product of two vectors.
// Assumes vectors are the same length (caller's responsibility).
// The accumulation order is fixed so results are reproducible across runs.
func Dot(a, b []float32) float32 {
	var s0, s1, s2, s3 float32

	n := len(a)
	i := 0

	for ; i+4 <= n; i += 4 {
		s0 += a[i] * b[i]
		s1 += a[i+1] * b[i+1]
		s2 += a[i+2] * b[i+2]
		s3 += a[i+3] * b[i+3]
	}

	for ; i < n; i++ {
		s0 += a[i] * b[i]
	}

	return (s0 + s1) + (s2 + s3)
}

// SquaredL2 calculates the squared L2 (Euclidean) distance between two vectors.
// Assumes vectors are the same length (caller's responsibility).
func SquaredL2(a, b []float32) float32 {
	var s0, s1, s2, s3 float32

	n := len(a)
	i := 0

	for ; i+4 <= n; i += 4 {
		d0 := a[i] - b[i]
		d1 := a[i+1] - b[i+1]
		d2 := a[i+2] - b[i+2]
		d3 := a[i+3] - b[i+3]
		s0 += d0 * d0
		s1 += d1 * d1
		s2 += d2 * d2
		s3 += d3 * d3
	}

	for ; i < n; i++ {
		d := a[i] - b[i]
		s0 += d * d
	}

	return (s0 + s1) + (s2 + s3)
}

// Norm returns the L2 norm of v.
func Norm(v []float32) float32 {
	return float32(math.Sqrt(float64(Dot(v, v))))
}

// Finite reports whether every component of v is neither NaN nor infinite.
func Finite(v []float32) bool {
	for _, x := range v {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}

// Metric represents the distance metric used for vector comparison.
type Metric uint8

const (
	// L2 scores by squared Euclidean distance.
	L2 Metric = iota + 1
	// IP scores by the negated inner product.
	IP
	// Cosine scores by 1 - cos(a, b).
	Cosine
)

// ParseMetric maps a metric name ("L2", "IP", "COSINE") to a Metric.
// Matching is case-insensitive.
func ParseMetric(name string) (Metric, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "L2":
		return L2, nil
	case "IP":
		return IP, nil
	case "COSINE":
		return Cosine, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownMetric, name)
	}
}

// Valid reports whether m is one of the supported metrics.
func (m Metric) Valid() bool {
	return m >= L2 && m <= Cosine
}

func (m Metric) String() string {
	switch m {
	case L2:
		return "L2"
	case IP:
		return "IP"
	case Cosine:
		return "COSINE"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(m))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (m Metric) MarshalText() ([]byte, error) {
	if !m.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownMetric, uint8(m))
	}
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Metric) UnmarshalText(text []byte) error {
	parsed, err := ParseMetric(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// NeedsNorm reports whether Score reads the norm arguments.
func (m Metric) NeedsNorm() bool {
	return m == Cosine
}

// Score returns the dissimilarity of a and b under m; lower is better.
// normA and normB are only consulted by Cosine and must be non-zero there.
func (m Metric) Score(a, b []float32, normA, normB float32) float32 {
	switch m {
	case L2:
		return SquaredL2(a, b)
	case IP:
		return -Dot(a, b)
	case Cosine:
		return 1 - Dot(a, b)/(normA*normB)
	default:
		panic(fmt.Sprintf("distance: score with invalid metric %d", uint8(m)))
	}
}

// Within reports whether score satisfies a range query with the given radius.
// All metrics share the lower-is-better convention, so the test is score <= radius.
func Within(score, radius float32) bool {
	return score <= radius
}
