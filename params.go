package vecgraph

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/hupe1980/vecgraph/distance"
)

// Metric is the scoring function of an index. Lower scores are better for
// every metric.
type Metric = distance.Metric

const (
	L2     = distance.L2
	IP     = distance.IP
	Cosine = distance.Cosine
)

const (
	DefaultM              = 16
	DefaultEfConstruction = 100
	DefaultEfSearch       = 100
	DefaultK              = 10
	DefaultRadius         = float32(1.0)
	DefaultAlpha          = float32(1.0)
)

// BuildParams configures graph construction.
// Zero values of Metric, M, EfConstruction and Alpha select the defaults.
type BuildParams struct {
	// Dim is the vector dimensionality. Required.
	Dim int `yaml:"dim"`

	// Metric defaults to L2.
	Metric Metric `yaml:"metric_type"`

	// M bounds the degree of upper layers; layer 0 allows 2*M.
	M int `yaml:"M"`

	EfConstruction int `yaml:"ef_construction"`

	// Alpha relaxes the neighbor diversity rule when greater than 1.
	Alpha float32 `yaml:"alpha"`

	// Seed makes level assignment reproducible. Nil seeds from the clock.
	Seed *int64 `yaml:"seed"`
}

// withDefaults fills unset optional fields.
func (p BuildParams) withDefaults() BuildParams {
	if p.Metric == 0 {
		p.Metric = L2
	}
	if p.M == 0 {
		p.M = DefaultM
	}
	if p.EfConstruction == 0 {
		p.EfConstruction = DefaultEfConstruction
	}
	if p.Alpha == 0 {
		p.Alpha = DefaultAlpha
	}
	return p
}

// Validate checks p after defaults are applied.
func (p BuildParams) Validate() error {
	p = p.withDefaults()

	switch {
	case p.Dim <= 0:
		return invalidParam("dim must be positive, got %d", p.Dim)
	case !p.Metric.Valid():
		return invalidParam("unsupported metric_type %v", p.Metric)
	case p.M <= 0:
		return invalidParam("M must be positive, got %d", p.M)
	case p.EfConstruction < 1:
		return invalidParam("ef_construction must be at least 1, got %d", p.EfConstruction)
	case p.Alpha < 1 || math.IsInf(float64(p.Alpha), 0) || p.Alpha != p.Alpha:
		return invalidParam("alpha must be a finite value >= 1, got %g", p.Alpha)
	}

	return nil
}

// SearchParams configures k-nearest-neighbor queries. A zero EfSearch
// selects the default; K has no default.
type SearchParams struct {
	K int `yaml:"k"`

	// EfSearch is the beam width; it must be at least K.
	// Zero selects max(DefaultEfSearch, K).
	EfSearch int `yaml:"ef_search"`
}

func (p SearchParams) withDefaults() SearchParams {
	if p.EfSearch == 0 {
		p.EfSearch = max(DefaultEfSearch, p.K)
	}
	return p
}

// Validate checks p after defaults are applied.
func (p SearchParams) Validate() error {
	p = p.withDefaults()

	switch {
	case p.K < 1:
		return invalidParam("k must be at least 1, got %d", p.K)
	case p.EfSearch < p.K:
		return invalidParam("ef_search (%d) must be at least k (%d)", p.EfSearch, p.K)
	}

	return nil
}

// RangeParams configures radius queries.
type RangeParams struct {
	// Radius is the inclusive score bound under the index metric
	// (squared distance for L2, negated dot product for IP).
	Radius float32 `yaml:"radius"`

	// EfSearch is the beam width. Zero selects DefaultEfSearch.
	EfSearch int `yaml:"ef_search"`
}

func (p RangeParams) withDefaults() RangeParams {
	if p.EfSearch == 0 {
		p.EfSearch = DefaultEfSearch
	}
	return p
}

// Validate checks p after defaults are applied.
func (p RangeParams) Validate() error {
	p = p.withDefaults()

	switch {
	case p.EfSearch < 1:
		return invalidParam("ef_search must be at least 1, got %d", p.EfSearch)
	case math.IsNaN(float64(p.Radius)):
		return invalidParam("radius must not be NaN")
	}

	return nil
}

// ParseBuildParams reads build parameters from a knowhere-style config map.
// Recognized keys: dim, metric_type, M (or max_connections), ef_construction
// (or efConstruction), alpha and seed. Missing keys select the defaults;
// present keys must hold valid values, so "M": 0 is an error.
func ParseBuildParams(m map[string]any) (BuildParams, error) {
	var (
		p   BuildParams
		err error
	)

	if p.Dim, err = intParam(m, "dim"); err != nil {
		return BuildParams{}, err
	}

	if v, ok := m["metric_type"]; ok {
		s, isString := v.(string)
		if !isString {
			return BuildParams{}, invalidParam("metric_type must be a string, got %T", v)
		}
		if p.Metric, err = distance.ParseMetric(s); err != nil {
			return BuildParams{}, translateError(err)
		}
	}

	if p.M, err = positiveIntParam(m, "M", "max_connections"); err != nil {
		return BuildParams{}, err
	}
	if p.EfConstruction, err = positiveIntParam(m, "ef_construction", "efConstruction"); err != nil {
		return BuildParams{}, err
	}

	alpha, err := floatParam(m, "alpha")
	if err != nil {
		return BuildParams{}, err
	}
	if _, ok := lookup(m, "alpha"); ok && (alpha < 1 || math.IsNaN(alpha)) {
		return BuildParams{}, invalidParam("alpha must be a finite value >= 1, got %g", alpha)
	}
	p.Alpha = float32(alpha)

	if _, ok := lookup(m, "seed"); ok {
		seed, err := intParam(m, "seed")
		if err != nil {
			return BuildParams{}, err
		}
		s := int64(seed)
		p.Seed = &s
	}

	p = p.withDefaults()

	return p, p.Validate()
}

// ParseSearchParams reads k and ef_search (or ef) from a config map.
// A missing k selects DefaultK.
func ParseSearchParams(m map[string]any) (SearchParams, error) {
	k, err := intParam(m, "k", "topk")
	if err != nil {
		return SearchParams{}, err
	}
	if _, ok := lookup(m, "k", "topk"); !ok {
		k = DefaultK
	}

	ef, err := positiveIntParam(m, "ef_search", "ef")
	if err != nil {
		return SearchParams{}, err
	}

	p := SearchParams{K: k, EfSearch: ef}.withDefaults()

	return p, p.Validate()
}

// ParseRangeParams reads radius and ef_search (or ef) from a config map.
// A missing radius selects DefaultRadius.
func ParseRangeParams(m map[string]any) (RangeParams, error) {
	radius := float64(DefaultRadius)
	if _, ok := lookup(m, "radius"); ok {
		r, err := floatParam(m, "radius")
		if err != nil {
			return RangeParams{}, err
		}
		radius = r
	}

	ef, err := positiveIntParam(m, "ef_search", "ef")
	if err != nil {
		return RangeParams{}, err
	}

	p := RangeParams{Radius: float32(radius), EfSearch: ef}.withDefaults()

	return p, p.Validate()
}

func lookup(m map[string]any, keys ...string) (any, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			return v, true
		}
	}
	return nil, false
}

// intParam returns the first present key as an int, or 0 if none is present.
// Whole-valued floats are accepted since JSON decoding produces float64.
func intParam(m map[string]any, keys ...string) (int, error) {
	v, ok := lookup(m, keys...)
	if !ok {
		return 0, nil
	}

	switch x := v.(type) {
	case int:
		return x, nil
	case int32:
		return int(x), nil
	case int64:
		return int(x), nil
	case uint32:
		return int(x), nil
	case uint64:
		if x > math.MaxInt64 {
			return 0, invalidParam("%s out of range: %d", keys[0], x)
		}
		return int(x), nil
	case float32:
		return wholeFloat(keys[0], float64(x))
	case float64:
		return wholeFloat(keys[0], x)
	case json.Number:
		n, err := x.Int64()
		if err != nil {
			return 0, invalidParam("%s must be an integer, got %q", keys[0], x.String())
		}
		return int(n), nil
	case string:
		n, err := strconv.Atoi(x)
		if err != nil {
			return 0, invalidParam("%s must be an integer, got %q", keys[0], x)
		}
		return n, nil
	default:
		return 0, invalidParam("%s must be an integer, got %T", keys[0], v)
	}
}

// positiveIntParam is intParam for keys that must be positive when present.
func positiveIntParam(m map[string]any, keys ...string) (int, error) {
	n, err := intParam(m, keys...)
	if err != nil {
		return 0, err
	}
	if _, ok := lookup(m, keys...); ok && n <= 0 {
		return 0, invalidParam("%s must be positive, got %d", keys[0], n)
	}
	return n, nil
}

func wholeFloat(key string, f float64) (int, error) {
	if f != math.Trunc(f) || math.Abs(f) > 1<<53 {
		return 0, invalidParam("%s must be an integer, got %v", key, f)
	}
	return int(f), nil
}

// floatParam returns the first present key as a float64, or 0 if none is present.
func floatParam(m map[string]any, keys ...string) (float64, error) {
	v, ok := lookup(m, keys...)
	if !ok {
		return 0, nil
	}

	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return 0, invalidParam("%s must be a number, got %q", keys[0], x.String())
		}
		return f, nil
	case string:
		f, err := strconv.ParseFloat(x, 64)
		if err != nil {
			return 0, invalidParam("%s must be a number, got %q", keys[0], x)
		}
		return f, nil
	default:
		return 0, invalidParam("%s must be a number, got %T", keys[0], v)
	}
}

func (p BuildParams) String() string {
	return fmt.Sprintf("dim=%d metric_type=%v M=%d ef_construction=%d alpha=%g",
		p.Dim, p.Metric, p.M, p.EfConstruction, p.Alpha)
}
