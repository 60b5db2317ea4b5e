package vecgraph

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/hupe1980/vecgraph/distance"
	"github.com/hupe1980/vecgraph/internal/hnsw"
	"github.com/hupe1980/vecgraph/internal/vectorstore"
)

// IndexType is the type name reported by Type.
const IndexType = "JVECTOR"

type state uint32

const (
	stateEmpty state = iota
	stateBuilding
	stateReady
	stateClosed
)

func (s state) String() string {
	switch s {
	case stateEmpty:
		return "empty"
	case stateBuilding:
		return "building"
	case stateReady:
		return "ready"
	case stateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", uint32(s))
	}
}

// Index is a write-once graph index over float32 vectors.
//
// An Index starts empty and becomes ready exactly once, through Build or one
// of the load methods. A ready index is immutable: Search, RangeSearch,
// GetVectorByIds and the serialization methods may be called concurrently
// without external locking.
type Index struct {
	opts options

	// state guards the fields below. They are written only while the state
	// is stateBuilding and published by the transition to stateReady.
	state    atomic.Uint32
	params   BuildParams
	graph    *hnsw.HNSW
	reserved int64
}

// New creates an empty index.
func New(optFns ...Option) *Index {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.resources != nil && opts.workers == 1 {
		opts.workers = opts.resources.MaxWorkers()
	}

	return &Index{opts: opts}
}

func (idx *Index) loadState() state {
	return state(idx.state.Load())
}

// begin moves an empty index into the building state.
func (idx *Index) begin() error {
	if idx.state.CompareAndSwap(uint32(stateEmpty), uint32(stateBuilding)) {
		return nil
	}
	if idx.loadState() == stateClosed {
		return ErrClosed
	}
	return ErrAlreadyBuilt
}

// checkEmpty reports the state error begin would return, without a transition.
func (idx *Index) checkEmpty() error {
	switch idx.loadState() {
	case stateEmpty:
		return nil
	case stateClosed:
		return ErrClosed
	default:
		return ErrAlreadyBuilt
	}
}

// finish publishes g, or reverts to empty when err is set.
func (idx *Index) finish(g *hnsw.HNSW, params BuildParams, reserved int64, err error) {
	if err != nil {
		idx.params = BuildParams{}
		idx.graph = nil
		idx.reserved = 0
		idx.state.Store(uint32(stateEmpty))
		return
	}

	seed := int64(g.Seed())
	params.Seed = &seed

	idx.params = params
	idx.graph = g
	idx.reserved = reserved
	idx.state.Store(uint32(stateReady))
}

// ready returns the graph of a ready index.
func (idx *Index) ready() (*hnsw.HNSW, error) {
	switch idx.loadState() {
	case stateReady:
		return idx.graph, nil
	case stateClosed:
		return nil, ErrClosed
	default:
		return nil, ErrNotBuilt
	}
}

func (idx *Index) hnswOptions(p BuildParams) hnsw.Options {
	return hnsw.Options{
		Dimension:      p.Dim,
		Metric:         p.Metric,
		M:              p.M,
		EfConstruction: p.EfConstruction,
		Alpha:          p.Alpha,
		RandomSeed:     p.Seed,
	}
}

// Build inserts vectors in order; vector i receives id i.
//
// Every vector is validated before the graph is touched. On any error,
// including cancellation of ctx, the index returns to the empty state.
func (idx *Index) Build(ctx context.Context, vectors [][]float32, params BuildParams) (err error) {
	start := time.Now()
	defer func() {
		idx.opts.metricsCollector.RecordBuild(len(vectors), time.Since(start), err)
	}()

	if err := idx.begin(); err != nil {
		return err
	}

	var g *hnsw.HNSW
	params = params.withDefaults()
	defer func() {
		if err != nil && g != nil {
			g.Vectors().Release()
		}
		idx.finish(g, params, 0, err)
	}()

	if err := params.Validate(); err != nil {
		return err
	}

	if err := checkVectors(vectors, params.Dim, params.Metric); err != nil {
		return err
	}

	storeOpts := []vectorstore.Option{}
	if params.Metric.NeedsNorm() {
		storeOpts = append(storeOpts, vectorstore.WithNorms())
	}
	if idx.opts.resources != nil {
		storeOpts = append(storeOpts, vectorstore.WithMemoryAcquirer(idx.opts.resources))
	}

	store, err := vectorstore.New(params.Dim, storeOpts...)
	if err != nil {
		return translateError(err)
	}

	g, err = hnsw.New(idx.hnswOptions(params), store)
	if err != nil {
		return translateError(err)
	}

	log := idx.opts.logger.WithOp("build").WithDimension(params.Dim)
	log.Info("building index",
		"vectors", len(vectors),
		"metric", params.Metric.String(),
		"M", params.M,
		"ef_construction", params.EfConstruction,
		"seed", g.Seed(),
	)

	if err := g.Build(ctx, vectors); err != nil {
		log.Error("build failed", "error", err)
		return translateError(err)
	}

	_, maxLevel, _ := g.EntryPoint()
	log.Info("index built",
		"vectors", g.Len(),
		"max_level", maxLevel,
		"duration", time.Since(start),
	)

	return nil
}

// checkVectors validates a batch before any state changes.
func checkVectors(vectors [][]float32, dim int, metric distance.Metric) error {
	for i, v := range vectors {
		if err := checkVector(v, dim, metric); err != nil {
			return fmt.Errorf("vector %d: %w", i, err)
		}
	}
	return nil
}

func checkVector(v []float32, dim int, metric distance.Metric) error {
	if len(v) != dim {
		return &ErrDimensionMismatch{Expected: dim, Actual: len(v)}
	}
	if !distance.Finite(v) {
		return invalidParam("vector contains NaN or Inf")
	}
	if metric.NeedsNorm() && distance.Norm(v) == 0 {
		return invalidParam("zero vector under the %v metric", metric)
	}
	return nil
}

// Close releases the memory accounted to the resource controller.
// It must not be called concurrently with other operations. Further calls
// return ErrClosed.
func (idx *Index) Close() error {
	for {
		s := idx.loadState()
		switch s {
		case stateClosed:
			return nil
		case stateBuilding:
			return fmt.Errorf("%w: cannot close while building", ErrAlreadyBuilt)
		}

		if idx.state.CompareAndSwap(uint32(s), uint32(stateClosed)) {
			break
		}
	}

	if idx.graph != nil {
		idx.graph.Vectors().Release()
	}
	if idx.reserved > 0 {
		idx.opts.resources.ReleaseMemory(idx.reserved)
		idx.reserved = 0
	}
	idx.graph = nil

	return nil
}

// Params returns the build parameters of a ready index. Seed holds the
// seed that was actually used for level assignment.
func (idx *Index) Params() (BuildParams, error) {
	if _, err := idx.ready(); err != nil {
		return BuildParams{}, err
	}
	return idx.params, nil
}

// Type returns IndexType.
func (idx *Index) Type() string {
	return IndexType
}

// Size returns the number of stored vectors, or 0 if the index is not ready.
// Callers can estimate vector memory as Size()*Dim()*4 bytes.
func (idx *Index) Size() int {
	g, err := idx.ready()
	if err != nil {
		return 0
	}
	return g.Len()
}

// Count is an alias of Size.
func (idx *Index) Count() int {
	return idx.Size()
}

// Dim returns the vector dimensionality, or 0 if the index is not ready.
func (idx *Index) Dim() int {
	if _, err := idx.ready(); err != nil {
		return 0
	}
	return idx.params.Dim
}

// Metric returns the metric of a ready index.
func (idx *Index) Metric() Metric {
	if _, err := idx.ready(); err != nil {
		return 0
	}
	return idx.params.Metric
}

// MemoryUsage estimates the bytes held by vectors and graph edges.
func (idx *Index) MemoryUsage() int64 {
	g, err := idx.ready()
	if err != nil {
		return 0
	}
	return g.MemoryUsage()
}

// GetVectorByIds returns copies of the stored vectors in the order of ids.
// It fails without partial results if any id is out of range.
func (idx *Index) GetVectorByIds(ids []uint64) ([][]float32, error) {
	g, err := idx.ready()
	if err != nil {
		return nil, err
	}

	vecs, err := g.Vectors().GetMany(ids)
	if err != nil {
		return nil, translateError(err)
	}

	return vecs, nil
}

// LevelStats describes one graph layer.
type LevelStats struct {
	Level     int
	Nodes     int
	Edges     int
	AvgDegree float64
}

// Stats describes a ready index.
type Stats struct {
	Type           string
	Count          int
	Dim            int
	Metric         Metric
	M              int
	EfConstruction int
	Seed           uint64
	EntryPoint     uint64
	MaxLevel       int
	MemoryBytes    int64
	Levels         []LevelStats
}

// Stats returns per-layer node and edge counts.
func (idx *Index) Stats() (Stats, error) {
	g, err := idx.ready()
	if err != nil {
		return Stats{}, err
	}

	gs := g.Stats()
	st := Stats{
		Type:           IndexType,
		Count:          gs.Nodes,
		Dim:            idx.params.Dim,
		Metric:         idx.params.Metric,
		M:              idx.params.M,
		EfConstruction: idx.params.EfConstruction,
		Seed:           gs.Seed,
		EntryPoint:     uint64(gs.EntryPoint),
		MaxLevel:       gs.MaxLevel,
		MemoryBytes:    g.MemoryUsage(),
		Levels:         make([]LevelStats, len(gs.Levels)),
	}

	for i, l := range gs.Levels {
		st.Levels[i] = LevelStats{
			Level:     l.Level,
			Nodes:     l.Nodes,
			Edges:     l.Connections,
			AvgDegree: l.AvgConnections,
		}
	}

	return st, nil
}
