package hnsw

import (
	"context"
	"math"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/hupe1980/vecgraph/distance"
	"github.com/hupe1980/vecgraph/internal/searcher"
	"github.com/hupe1980/vecgraph/internal/vectorstore"
)

const (
	// mmax0Multiplier sets the layer 0 degree bound relative to M.
	mmax0Multiplier = 2

	// maxM keeps 2*M representable in persisted degree counts and bounds memory.
	maxM = 1 << 15

	// maxLevelCap bounds the drawn level so it fits the persisted uint8.
	maxLevelCap = 63

	// cancelCheckInterval is the number of inserts between context checks.
	cancelCheckInterval = 256
)

type node struct {
	level       int
	connections [][]Neighbor // one list per layer 0..level
}

// buildScratch holds buffers reused by the single writer.
type buildScratch struct {
	candidates []searcher.Item
	selected   []searcher.Item
	pruned     []searcher.Item
	prune      []searcher.Item
}

// HNSW is a multi-layer proximity graph over the vectors of a vectorstore.Store.
type HNSW struct {
	opts    Options
	metric  distance.Metric
	alpha   float32
	vectors *vectorstore.Store

	nodes      []node
	entryPoint uint32
	maxLevel   int

	maxConnectionsPerLayer int
	maxConnectionsLayer0   int
	layerMultiplier        float64

	seed    uint64
	rng     *rand.Rand
	scratch buildScratch
}

// New creates an empty graph that stores its vectors in vectors.
func New(opts Options, vectors *vectorstore.Store) (*HNSW, error) {
	if opts.Alpha == 0 {
		opts.Alpha = 1
	}

	if err := opts.Validate(); err != nil {
		return nil, err
	}

	if vectors.Dimension() != opts.Dimension {
		return nil, &ErrDimensionMismatch{Expected: opts.Dimension, Actual: vectors.Dimension()}
	}

	var seed uint64
	if opts.RandomSeed != nil {
		seed = uint64(*opts.RandomSeed)
	} else {
		seed = uint64(time.Now().UnixNano())
	}

	alpha := opts.Alpha
	if opts.Metric == distance.IP {
		alpha = 1
	}

	return &HNSW{
		opts:                   opts,
		metric:                 opts.Metric,
		alpha:                  alpha,
		vectors:                vectors,
		maxConnectionsPerLayer: opts.M,
		maxConnectionsLayer0:   mmax0Multiplier * opts.M,
		layerMultiplier:        1 / math.Log(float64(max(opts.M, 2))),
		seed:                   seed,
		rng:                    rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}, nil
}

// Options returns the construction options.
func (h *HNSW) Options() Options {
	return h.opts
}

// Seed returns the seed used for level assignment.
func (h *HNSW) Seed() uint64 {
	return h.seed
}

// Len returns the number of nodes.
func (h *HNSW) Len() int {
	return len(h.nodes)
}

// Dimension returns the vector dimensionality.
func (h *HNSW) Dimension() int {
	return h.opts.Dimension
}

// Metric returns the scoring metric.
func (h *HNSW) Metric() distance.Metric {
	return h.metric
}

// Vectors returns the backing store.
func (h *HNSW) Vectors() *vectorstore.Store {
	return h.vectors
}

// EntryPoint returns the entry node and the top level. ok is false for an empty graph.
func (h *HNSW) EntryPoint() (id uint32, level int, ok bool) {
	if len(h.nodes) == 0 {
		return 0, 0, false
	}
	return h.entryPoint, h.maxLevel, true
}

// Level returns the top layer of id.
func (h *HNSW) Level(id uint32) int {
	return h.nodes[id].level
}

// Connections returns the neighbors of id on layer. The slice aliases graph memory.
func (h *HNSW) Connections(id uint32, layer int) []Neighbor {
	n := &h.nodes[id]
	if layer > n.level {
		return nil
	}
	return n.connections[layer]
}

// MaxConnections returns the degree bound of layer.
func (h *HNSW) MaxConnections(layer int) int {
	if layer == 0 {
		return h.maxConnectionsLayer0
	}
	return h.maxConnectionsPerLayer
}

// Build validates every vector, inserts them in order and repairs layer 0
// connectivity. Vectors receive ids 0..len(vectors)-1.
func (h *HNSW) Build(ctx context.Context, vectors [][]float32) error {
	for _, v := range vectors {
		if err := h.checkVector(v); err != nil {
			return err
		}
	}

	if err := h.vectors.Reserve(ctx, h.vectors.Count()+len(vectors)); err != nil {
		return err
	}

	h.nodes = slices.Grow(h.nodes, len(vectors))

	for i, v := range vectors {
		if i%cancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}

		if _, err := h.Insert(ctx, v); err != nil {
			return err
		}
	}

	_, err := h.RepairConnectivity(ctx)

	return err
}

// Insert appends v to the store and links it into the graph.
func (h *HNSW) Insert(ctx context.Context, v []float32) (uint32, error) {
	if err := h.checkVector(v); err != nil {
		return 0, err
	}

	id, err := h.vectors.Append(ctx, v)
	if err != nil {
		return 0, err
	}

	level := h.randomLevel()
	h.nodes = append(h.nodes, node{
		level:       level,
		connections: make([][]Neighbor, level+1),
	})

	if len(h.nodes) == 1 {
		h.entryPoint = id
		h.maxLevel = level
		return id, nil
	}

	h.insertNode(id, level)

	if level > h.maxLevel {
		h.entryPoint = id
		h.maxLevel = level
	}

	return id, nil
}

func (h *HNSW) checkVector(v []float32) error {
	if len(v) != h.opts.Dimension {
		return &ErrDimensionMismatch{Expected: h.opts.Dimension, Actual: len(v)}
	}
	if !distance.Finite(v) {
		return ErrNonFinite
	}
	if h.metric.NeedsNorm() && distance.Norm(v) == 0 {
		return ErrZeroVector
	}
	return nil
}

// randomLevel draws floor(-ln(1-U) * mL) with U uniform in [0, 1).
func (h *HNSW) randomLevel() int {
	u := h.rng.Float64()
	level := int(math.Floor(-math.Log(1-u) * h.layerMultiplier))
	return min(level, maxLevelCap)
}

// insertNode performs the graph traversal and linking.
func (h *HNSW) insertNode(id uint32, level int) {
	s := searcher.Get()
	defer searcher.Put(s)

	s.Visited.EnsureCapacity(len(h.nodes))

	ls := layerSearch{query: h.vectors.Vector(id), norm: h.vectors.Norm(id)}

	currID := h.entryPoint
	currDist := h.score(&ls, currID)

	// 1. Greedy search from the top layer down to level+1.
	for l := h.maxLevel; l > level; l-- {
		currID, currDist = h.greedyStep(&ls, currID, currDist, l)
	}

	// 2. Search and link from min(level, maxLevel) down to 0.
	for l := min(level, h.maxLevel); l >= 0; l-- {
		h.searchLayer(s, &ls, currID, currDist, l, h.opts.EfConstruction)

		h.scratch.candidates = append(h.scratch.candidates[:0], s.DrainSorted()...)
		candidates := h.scratch.candidates

		if len(candidates) > 0 {
			currID = candidates[0].ID
			currDist = candidates[0].Dist
		}

		maxConns := h.MaxConnections(l)
		neighbors := h.selectNeighbors(candidates, maxConns)

		conns := make([]Neighbor, len(neighbors), maxConns)
		for i, n := range neighbors {
			conns[i] = Neighbor{ID: n.ID, Dist: n.Dist}
		}
		h.nodes[id].connections[l] = conns

		for _, n := range conns {
			h.addConnection(n.ID, id, l, n.Dist)
		}
	}
}

// greedyStep walks layer l from currID towards the query until no neighbor improves.
func (h *HNSW) greedyStep(ls *layerSearch, currID uint32, currDist float32, l int) (uint32, float32) {
	changed := true
	for changed {
		changed = false
		for _, next := range h.nodes[currID].connections[l] {
			nextDist := h.score(ls, next.ID)
			if searcher.Better(searcher.Item{ID: next.ID, Dist: nextDist}, searcher.Item{ID: currID, Dist: currDist}) {
				currID = next.ID
				currDist = nextDist
				changed = true
			}
		}
	}
	return currID, currDist
}

// selectNeighbors picks up to m diverse neighbors from candidates sorted best first.
// A candidate is kept only if it is closer to the base than to every neighbor
// already kept (scaled by alpha). Remaining slots are filled with the best
// rejected candidates.
func (h *HNSW) selectNeighbors(candidates []searcher.Item, m int) []searcher.Item {
	if len(candidates) <= m {
		return append(h.scratch.selected[:0], candidates...)
	}

	result := h.scratch.selected[:0]
	pruned := h.scratch.pruned[:0]

	for _, cand := range candidates {
		if len(result) >= m {
			break
		}

		good := true
		for _, r := range result {
			if h.alpha*h.vectors.Pair(h.metric, cand.ID, r.ID) < cand.Dist {
				good = false
				break
			}
		}

		if good {
			result = append(result, cand)
		} else {
			pruned = append(pruned, cand)
		}
	}

	// Fill up with the closest rejected candidates.
	for _, cand := range pruned {
		if len(result) >= m {
			break
		}
		result = append(result, cand)
	}

	h.scratch.selected = result
	h.scratch.pruned = pruned

	return result
}

// addConnection links source -> target on level, pruning source's list when full.
func (h *HNSW) addConnection(source, target uint32, level int, dist float32) {
	if source == target {
		return
	}

	conns := h.nodes[source].connections[level]
	for _, c := range conns {
		if c.ID == target {
			return
		}
	}

	maxM := h.MaxConnections(level)
	if len(conns) < maxM {
		h.nodes[source].connections[level] = append(conns, Neighbor{ID: target, Dist: dist})
		return
	}

	// Prune with cached distances.
	buf := h.scratch.prune[:0]
	for _, c := range conns {
		buf = append(buf, searcher.Item{ID: c.ID, Dist: c.Dist})
	}
	buf = append(buf, searcher.Item{ID: target, Dist: dist})
	slices.SortFunc(buf, compareItems)
	h.scratch.prune = buf

	neighbors := h.selectNeighbors(buf, maxM)

	conns = conns[:0]
	for _, n := range neighbors {
		conns = append(conns, Neighbor{ID: n.ID, Dist: n.Dist})
	}
	h.nodes[source].connections[level] = conns
}

func compareItems(a, b searcher.Item) int {
	switch {
	case searcher.Better(a, b):
		return -1
	case searcher.Better(b, a):
		return 1
	default:
		return 0
	}
}

// MemoryUsage estimates the bytes held by vectors and edges.
func (h *HNSW) MemoryUsage() int64 {
	size := h.vectors.Bytes()
	for i := range h.nodes {
		size += 32
		for _, conns := range h.nodes[i].connections {
			size += 24 + int64(cap(conns))*8
		}
	}
	return size
}
